package cfa

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
)

// ZarrFormat is the fragment format tag of zarr v2 arrays
const ZarrFormat = "zarr"

// ZarrSource reads fragments stored as zarr v2 arrays. The fragment address
// is the path of the array inside the store; a leading "/" is ignored so
// group-style addresses like "/group/tas" work.
type ZarrSource struct {
	store Store
}

var _ Source = (*ZarrSource)(nil)

// NewZarrSource reads arrays out of store
func NewZarrSource(store Store) *ZarrSource {
	return &ZarrSource{store: store}
}

// ZarrDriver opens a located resource as a zarr store
func ZarrDriver(ctx context.Context, r Resource) (Source, error) {
	store, err := r.Store(ctx)
	if err != nil {
		return nil, err
	}
	// probe for root metadata so guessing doesn't claim arbitrary files
	for _, key := range []MetaType{MTGroup, MTArray} {
		rc, err := store.Get(ctx, string(key))
		if err == nil {
			rc.Close()
			return NewZarrSource(store), nil
		}
		if !errors.Is(err, ErrNotfound) {
			return nil, err
		}
	}
	return nil, fmt.Errorf("%w: %s is not a zarr store", ErrUnsupported, r.Location())
}

func arrayPath(address string) Path {
	p, _ := NewPath(strings.Trim(address, "/"))
	return p
}

func (s *ZarrSource) meta(ctx context.Context, address string) (*ArrayMeta, Attributes, error) {
	p := arrayPath(address)
	rc, err := s.store.Get(ctx, p.Join(string(MTArray)).String())
	if err != nil {
		if errors.Is(err, ErrNotfound) {
			return nil, nil, fmt.Errorf("%w: zarr array %q", ErrAddressNotFound, address)
		}
		return nil, nil, err
	}
	defer rc.Close()

	meta := &ArrayMeta{}
	dec := json.NewDecoder(rc)
	dec.UseNumber()
	if err := dec.Decode(meta); err != nil {
		return nil, nil, fmt.Errorf("reading %q metadata: %w", address, err)
	}
	if err := meta.Validate(); err != nil {
		return nil, nil, fmt.Errorf("array %q: %w", address, err)
	}

	attrs := Attributes{}
	if rc, err := s.store.Get(ctx, p.Join(string(MTAttributes)).String()); err == nil {
		defer rc.Close()
		if err := json.NewDecoder(rc).Decode(&attrs); err != nil {
			return nil, nil, fmt.Errorf("reading %q attributes: %w", address, err)
		}
	}
	return meta, attrs, nil
}

func (s *ZarrSource) Stat(ctx context.Context, address string) (VarInfo, error) {
	meta, attrs, err := s.meta(ctx, address)
	if err != nil {
		return VarInfo{}, err
	}
	return VarInfo{
		Shape: meta.Shape,
		Dims:  attrs.Dimensions(),
		Units: attrs.Units(),
		Dtype: meta.Dtype,
	}, nil
}

func (s *ZarrSource) Read(ctx context.Context, address string, ext Extent) (*Array, error) {
	meta, attrs, err := s.meta(ctx, address)
	if err != nil {
		return nil, err
	}
	if ext, err = checkWindow(ext, meta.Shape); err != nil {
		return nil, err
	}
	fill, err := meta.Fill()
	if err != nil {
		return nil, err
	}

	// read the dense bounding box of the window chunk by chunk, then take
	// the strided selection out of it
	box, boxExt := boundingBox(ext)
	block := Filled(box.Shape(), fill)
	if block.Size() > 0 {
		first := make([]int, len(box))
		count := make([]int, len(box))
		for d, b := range box {
			first[d] = b.Start / meta.Chunks[d]
			count[d] = (b.Stop-1)/meta.Chunks[d] - first[d] + 1
		}
		for _, rel := range positions(count) {
			ix := make(Index, len(rel))
			for d := range rel {
				ix[d] = first[d] + rel[d]
			}
			if err := s.readChunk(ctx, address, meta, ix, box, block); err != nil {
				return nil, err
			}
		}
	}

	out, err := block.Window(boxExt)
	if err != nil {
		return nil, err
	}
	out.Units = attrs.Units()
	return out, nil
}

// readChunk copies the part of chunk ix overlapping box into block
func (s *ZarrSource) readChunk(ctx context.Context, address string, meta *ArrayMeta, ix Index, box Extent, block *Array) error {
	key := arrayPath(address).Join(meta.ChunkKey(ix)).String()
	rc, err := s.store.Get(ctx, key)
	if errors.Is(err, ErrNotfound) {
		// uninitialized chunk, block already holds the fill value
		return nil
	} else if err != nil {
		return err
	}
	defer rc.Close()

	r, err := meta.Compressor.Decompressor(rc)
	if err != nil {
		return fmt.Errorf("%s chunk %s: %w", s.store.Type(), key, err)
	}
	if r != rc {
		defer r.Close()
	}
	vals, err := meta.Dtype.Decode(r, product(meta.Chunks))
	if err != nil {
		return fmt.Errorf("%s chunk %s: %w", s.store.Type(), key, err)
	}
	chunk := &Array{Shape: meta.Chunks, Values: vals}

	// overlap of the chunk with the box, in chunk and box coordinates
	within := make(Extent, len(ix))
	origin := make([]int, len(ix))
	for d, c := range ix {
		cStart := c * meta.Chunks[d]
		lo := max(cStart, box[d].Start)
		hi := min(cStart+meta.Chunks[d], box[d].Stop, meta.Shape[d])
		within[d] = Span(lo-cStart, hi-cStart)
		origin[d] = lo - box[d].Start
	}
	part, err := chunk.Window(within)
	if err != nil {
		return err
	}
	return block.Place(part, origin)
}

func (s *ZarrSource) Close() error {
	if c, ok := s.store.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// checkWindow resolves ext against shape and fails if any selected element
// lies outside it
func checkWindow(ext Extent, shape []int) (Extent, error) {
	if len(ext) != len(shape) {
		return nil, fmt.Errorf("%w: %d-d window on %d-d data", ErrExtentOutOfRange, len(ext), len(shape))
	}
	resolved, err := ext.Resolve(shape)
	if err != nil {
		return nil, err
	}
	for d, s := range resolved {
		if s.Len() > 0 && s.Start+(s.Len()-1)*s.Step >= shape[d] {
			return nil, fmt.Errorf("%w: window %s on shape %v", ErrExtentOutOfRange, ext, shape)
		}
	}
	return resolved, nil
}

// boundingBox is the dense unit-stride box holding every element selected by
// a resolved extent, and the extent relative to that box
func boundingBox(ext Extent) (box Extent, rel Extent) {
	box = make(Extent, len(ext))
	rel = make(Extent, len(ext))
	for d, s := range ext {
		n := s.Len()
		if n == 0 {
			box[d] = Span(s.Start, s.Start)
			rel[d] = Span(0, 0)
			continue
		}
		last := s.Start + (n-1)*s.Step
		box[d] = Span(s.Start, last+1)
		rel[d] = Strided(0, last+1-s.Start, s.Step)
	}
	return box, rel
}

type Path []string

// NewPath splits a "/"-separated store path, dropping empty elements so
// leading, trailing and repeated separators are normalized away
func NewPath(posix string) (Path, error) {
	posix = strings.ReplaceAll(posix, "\\", "/")
	var p Path
	for _, el := range strings.Split(posix, "/") {
		if el != "" {
			p = append(p, el)
		}
	}
	return p, nil
}

func (p Path) String() string {
	return strings.Join(p, "/")
}

func (p Path) Shift() (head string, ch Path) {
	switch len(p) {
	case 0:
		return "", nil
	case 1:
		return p[0], nil
	default:
		return p[0], p[1:]
	}
}

// Join returns a new path, never sharing memory with p
func (p Path) Join(elems ...string) Path {
	out := make(Path, 0, len(p)+len(elems))
	out = append(out, p...)
	return append(out, elems...)
}
