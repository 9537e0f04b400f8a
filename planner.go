package cfa

import (
	"fmt"
)

// Planner turns a fragment map into partitions
type Planner struct {
	// Units of the aggregated variable
	Units  string
	Opener Opener
	Locks  *LockSet
	// Reducer is attached to every partition when set
	Reducer Reducer
	// Dtype and TargetChunkBytes size optimised chunks
	Dtype            Dtype
	TargetChunkBytes int64
}

// Plan is a partition space over an aggregated array
type Plan struct {
	Dims  []string
	Shape []int
	// Chunks lists the partition sizes along each dimension
	Chunks [][]int
	// Space is the number of partitions along each dimension
	Space []int
	// Partitions in row-major order over Space
	Partitions []*PlannedPartition
	// Uneven names the dimensions whose requested chunk size doesn't divide
	// the fragments evenly
	Uneven []string
}

// PlannedPartition is one block of the partition space, built from one or
// more fragment windows
type PlannedPartition struct {
	Position Index
	// Extent of the block in the aggregated array
	Extent        Extent
	Contributions []Contribution
}

// Contribution is a fragment window and where it goes in its block
type Contribution struct {
	Partition *Partition
	Origin    []int
}

// Shape of the block
func (pp *PlannedPartition) Shape() []int { return pp.Extent.Shape() }

// At returns the planned partition at a position in partition space
func (pl *Plan) At(pos Index) (*PlannedPartition, bool) {
	if len(pos) != len(pl.Space) {
		return nil, false
	}
	for d, p := range pos {
		if p < 0 || p >= pl.Space[d] {
			return nil, false
		}
	}
	return pl.Partitions[offset(pos, pl.Space)], true
}

// Plan lays partitions over m. With no chunk requests every fragment becomes
// exactly one partition; otherwise each requested dimension is re-chunked and
// partitions may cut fragments or span several of them. Bad requests fail
// with ErrChunkGeometry before anything is built.
func (p *Planner) Plan(m *FragmentMap, chunks map[string]ChunkRequest) (*Plan, error) {
	requests, err := validateChunks(m.Dims(), chunks)
	if err != nil {
		return nil, err
	}

	plan := &Plan{
		Dims:   m.Dims(),
		Shape:  m.Shape(),
		Chunks: make([][]int, len(m.Shape())),
		Space:  make([]int, len(m.Shape())),
	}
	if err := p.chunkDims(m, requests, plan); err != nil {
		return nil, err
	}

	bases := make(map[*Fragment]*Partition, m.Len())
	base := func(f *Fragment) *Partition {
		if b, ok := bases[f]; ok {
			return b
		}
		b := NewPartition(f, p.Units, p.Opener, p.Locks)
		if p.Reducer != nil {
			b = b.WithReducer(p.Reducer)
		}
		bases[f] = b
		return b
	}

	pstarts := make([][]int, len(plan.Chunks))
	for d, cs := range plan.Chunks {
		pstarts[d] = cumulative(cs)
	}

	for _, pos := range positions(plan.Space) {
		pp := &PlannedPartition{Position: pos, Extent: make(Extent, len(pos))}
		first := make(Index, len(pos))
		count := make([]int, len(pos))
		for d, i := range pos {
			lo, hi := pstarts[d][i], pstarts[d][i+1]
			pp.Extent[d] = Span(lo, hi)
			// floor search for the first and last fragment intersecting [lo, hi)
			first[d] = m.locate(d, lo)
			count[d] = m.locate(d, hi-1) - first[d] + 1
		}

		for _, rel := range positions(count) {
			fpos := make(Index, len(rel))
			for d := range rel {
				fpos[d] = first[d] + rel[d]
			}
			f, ok := m.At(fpos)
			if !ok {
				return nil, fmt.Errorf("%w: partition %s maps to missing fragment %s", ErrShapeMismatch, pos, fpos)
			}

			local := make(Extent, len(pos))
			origin := make([]int, len(pos))
			for d := range pos {
				fg := f.GlobalExtent[d]
				lo := max(pp.Extent[d].Start, fg.Start)
				hi := min(pp.Extent[d].Stop, fg.Stop)
				local[d] = Span(lo-fg.Start, hi-fg.Start)
				origin[d] = lo - pp.Extent[d].Start
			}

			part, err := base(f).WithExtent(local)
			if err != nil {
				return nil, fmt.Errorf("partition %s: %w", pos, err)
			}
			pp.Contributions = append(pp.Contributions, Contribution{Partition: part, Origin: origin})
		}
		plan.Partitions = append(plan.Partitions, pp)
	}
	return plan, nil
}

// chunkDims fills in the chunk sizes of every dimension
func (p *Planner) chunkDims(m *FragmentMap, requests []*ChunkRequest, plan *Plan) error {
	shape := m.Shape()

	var optimised []int
	for d, r := range requests {
		switch {
		case r == nil:
			plan.Chunks[d] = append([]int(nil), m.Sizes()[d]...)
		case r.Optimised:
			optimised = append(optimised, d)
		default:
			plan.Chunks[d] = chunkSizes(m.Sizes()[d], r.Size)
			if !regular(plan.Chunks[d]) || shape[d]%min(r.Size, shape[d]) != 0 {
				plan.Uneven = append(plan.Uneven, m.Dims()[d])
				logf("chunk size %d doesn't evenly divide the fragments along %q, partitions are %v", r.Size, m.Dims()[d], plan.Chunks[d])
			}
		}
	}

	if len(optimised) > 0 {
		fixed := 1
		for _, cs := range plan.Chunks {
			if cs != nil {
				fixed *= maxInt(cs)
			}
		}
		for d, size := range optimisedSizes(shape, optimised, fixed, p.Dtype.ByteSize, p.TargetChunkBytes) {
			plan.Chunks[d] = chunkSizes(m.Sizes()[d], size)
		}
	}

	for d, cs := range plan.Chunks {
		plan.Space[d] = len(cs)
		if total := cumulative(cs)[len(cs)]; total != shape[d] {
			return fmt.Errorf("%w: chunks along %q cover %d of %d elements", ErrChunkGeometry, m.Dims()[d], total, shape[d])
		}
	}
	return nil
}

func maxInt(xs []int) int {
	m := 0
	for _, x := range xs {
		m = max(m, x)
	}
	return m
}
