package cfa

import (
	"fmt"

	"github.com/RoaringBitmap/roaring"
)

// verifyTiling checks that the fragments of m cover the aggregated shape with
// no gaps and no overlaps. Fragment space is a cartesian grid, so checking
// the ranges along each dimension and that every fragment sits on the grid
// covers the whole array.
func verifyTiling(m *FragmentMap) error {
	for d, n := range m.shape {
		covered := roaring.New()
		for i, size := range m.sizes[d] {
			start := m.Starts(d)[i]
			if start+size > n {
				return fmt.Errorf("%w: fragment %d along %q ends at %d past size %d", ErrShapeMismatch, i, m.dims[d], start+size, n)
			}
			r := roaring.New()
			r.AddRange(uint64(start), uint64(start+size))
			if covered.Intersects(r) {
				return fmt.Errorf("%w: fragment %d along %q overlaps its neighbours", ErrShapeMismatch, i, m.dims[d])
			}
			covered.Or(r)
		}
		if got := covered.GetCardinality(); got != uint64(n) {
			return fmt.Errorf("%w: fragments cover %d of %d elements along %q", ErrShapeMismatch, got, n, m.dims[d])
		}
	}

	for _, f := range m.frags {
		for d, p := range f.Position {
			starts := m.Starts(d)
			want := Span(starts[p], starts[p+1])
			if g := f.GlobalExtent[d]; g.Start != want.Start || g.Stop != want.Stop || g.Len() != f.Shape[d] {
				return fmt.Errorf("%w: fragment %s has global extent %s along %q, grid says %s", ErrShapeMismatch, f.Position, g, m.dims[d], want)
			}
		}
	}
	return nil
}
