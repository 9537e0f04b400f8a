package cfa

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// DefaultTargetChunkBytes is the chunk size optimised chunking aims for
const DefaultTargetChunkBytes = 128 << 20

// ChunkRequest asks for partitions of a given size along one dimension, or
// for a size derived from a target chunk byte size when Optimised is set
type ChunkRequest struct {
	Size      int
	Optimised bool
}

func (c ChunkRequest) String() string {
	if c.Optimised {
		return "optimised"
	}
	return strconv.Itoa(c.Size)
}

// ParseChunkRequest reads "optimised" (or "auto") or a positive integer
func ParseChunkRequest(s string) (ChunkRequest, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "optimised", "optimized", "auto":
		return ChunkRequest{Optimised: true}, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return ChunkRequest{}, fmt.Errorf("%w: chunk size %q", ErrChunkGeometry, s)
	}
	if n <= 0 {
		return ChunkRequest{}, fmt.Errorf("%w: chunk size %d must be positive", ErrChunkGeometry, n)
	}
	return ChunkRequest{Size: n}, nil
}

// ParseChunks reads a dimension name to request map, eg. from a config file
// or command line flags
func ParseChunks(raw map[string]string) (map[string]ChunkRequest, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	out := make(map[string]ChunkRequest, len(raw))
	for dim, s := range raw {
		c, err := ParseChunkRequest(s)
		if err != nil {
			return nil, fmt.Errorf("dimension %q: %w", dim, err)
		}
		out[dim] = c
	}
	return out, nil
}

// validateChunks checks every request names a dimension and is usable,
// returning the requests indexed by dimension
func validateChunks(dims []string, chunks map[string]ChunkRequest) ([]*ChunkRequest, error) {
	byDim := make([]*ChunkRequest, len(dims))
	index := make(map[string]int, len(dims))
	for d, name := range dims {
		index[name] = d
	}
	for name, c := range chunks {
		d, ok := index[name]
		if !ok {
			return nil, fmt.Errorf("%w: no dimension %q, have %v", ErrChunkGeometry, name, dims)
		}
		if !c.Optimised && c.Size <= 0 {
			return nil, fmt.Errorf("%w: chunk size %d along %q must be positive", ErrChunkGeometry, c.Size, name)
		}
		c := c
		byDim[d] = &c
	}
	return byDim, nil
}

// chunkSizes derives the partition sizes along one dimension from its
// fragment sizes. Fragments larger than c are cut into c-sized pieces plus a
// remainder. Runs of whole fragments that fit in c together are merged.
func chunkSizes(frags []int, c int) []int {
	total := 0
	for _, f := range frags {
		total += f
	}
	if c >= total {
		return []int{total}
	}

	var out []int
	acc := 0
	for _, f := range frags {
		if f > c {
			if acc > 0 {
				out = append(out, acc)
				acc = 0
			}
			for ; f > c; f -= c {
				out = append(out, c)
			}
			if f > 0 {
				out = append(out, f)
			}
			continue
		}
		if acc+f > c {
			out = append(out, acc)
			acc = 0
		}
		acc += f
	}
	if acc > 0 {
		out = append(out, acc)
	}
	return out
}

// optimisedSizes picks chunk sizes for the optimised dimensions so chunks
// hold about target bytes. fixed is the number of elements each chunk spans
// across the other dimensions. The chunk count along each optimised
// dimension is rounded to a power of two.
func optimisedSizes(shape []int, optimised []int, fixed int, itemsize int, target int64) map[int]int {
	out := make(map[int]int, len(optimised))
	if len(optimised) == 0 {
		return out
	}
	if itemsize <= 0 {
		itemsize = 8
	}
	if target <= 0 {
		target = DefaultTargetChunkBytes
	}
	volume := float64(itemsize) * float64(max(fixed, 1))
	for _, d := range optimised {
		volume *= float64(shape[d])
	}
	n := math.Pow(volume/float64(target), 1/float64(len(optimised)))
	p := 0.0
	if n > 1 {
		p = math.Round(math.Log2(n))
	}
	for _, d := range optimised {
		size := int(math.Round(float64(shape[d]) / math.Pow(2, p)))
		out[d] = max(size, 1)
	}
	return out
}

// regular reports whether every chunk but the last has the same size and the
// last isn't larger
func regular(sizes []int) bool {
	for i := 1; i < len(sizes); i++ {
		if sizes[i] != sizes[0] && (i != len(sizes)-1 || sizes[i] > sizes[0]) {
			return false
		}
	}
	return true
}
