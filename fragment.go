package cfa

import (
	"fmt"
	"sort"
)

// Fragment describes one independently stored piece of an aggregated array
type Fragment struct {
	// Position in fragment space
	Position Index
	// Shape of the fragment in array elements
	Shape []int
	// GlobalExtent places the fragment inside the aggregated array
	GlobalExtent Extent
	// Extent is the window to read from the stored data, normally all of it
	Extent Extent
	// Location lists the places the fragment's data can be read from, in
	// declaration order. Empty for constant fragments.
	Location []string
	// Address of the data within the source, eg. a variable name that may be
	// prefixed with a "/"-delimited group path
	Address string
	// Format of the source, eg. "nc" or "zarr". Empty means guess.
	Format string
	// FillValue is set when the fragment is a constant rather than stored data
	FillValue *float64
}

// Constant reports whether the fragment holds a single value and needs no I/O
func (f *Fragment) Constant() bool {
	return f.FillValue != nil
}

// FragmentFormatFull is the format of constant fragments
const FragmentFormatFull = "full"

// FragmentVar is a fragment array variable: either a single scalar broadcast
// to every fragment, or one entry per fragment in row-major fragment order
// with Shape equal to the fragment space
type FragmentVar[T any] struct {
	Shape  []int
	Values []T
}

// Scalar builds a FragmentVar that broadcasts v to all fragments
func Scalar[T any](v T) FragmentVar[T] {
	return FragmentVar[T]{Values: []T{v}}
}

// Varying builds an array-valued FragmentVar
func Varying[T any](shape []int, values []T) FragmentVar[T] {
	return FragmentVar[T]{Shape: shape, Values: values}
}

// Defined reports whether the variable holds any value at all
func (v FragmentVar[T]) Defined() bool {
	return len(v.Values) > 0
}

func (v FragmentVar[T]) broadcast(space []int, term string) ([]T, error) {
	n := product(space)
	if len(v.Values) == 1 && product(v.Shape) <= 1 {
		out := make([]T, n)
		for i := range out {
			out[i] = v.Values[0]
		}
		return out, nil
	}
	if len(v.Shape) != len(space) {
		return nil, fmt.Errorf("%w: %s variable has shape %v, fragment space is %v", ErrConvention, term, v.Shape, space)
	}
	for i := range space {
		if v.Shape[i] != space[i] {
			return nil, fmt.Errorf("%w: %s variable has shape %v, fragment space is %v", ErrConvention, term, v.Shape, space)
		}
	}
	if len(v.Values) != n {
		return nil, fmt.Errorf("%w: %s variable holds %d values for %d fragments", ErrConvention, term, len(v.Values), n)
	}
	return v.Values, nil
}

// ShapeTable is the padded two-dimensional fragment size table: one row per
// array dimension listing the sizes of the fragments along it, padded to the
// largest fragment count. Entries flagged in Mask, and non-positive entries,
// are padding.
type ShapeTable struct {
	Rows [][]int
	Mask [][]bool
}

// Sizes strips the padding, returning the valid fragment sizes per dimension
func (st ShapeTable) Sizes() ([][]int, error) {
	sizes := make([][]int, len(st.Rows))
	for d, row := range st.Rows {
		for i, s := range row {
			if st.masked(d, i) || s <= 0 {
				continue
			}
			sizes[d] = append(sizes[d], s)
		}
		if len(sizes[d]) == 0 {
			return nil, fmt.Errorf("%w: no fragment sizes for dimension %d", ErrConvention, d)
		}
	}
	return sizes, nil
}

func (st ShapeTable) masked(d, i int) bool {
	return d < len(st.Mask) && i < len(st.Mask[d]) && st.Mask[d][i]
}

// FragmentArrays is the decoded content of an aggregated variable's fragment
// array variables
type FragmentArrays struct {
	Shape ShapeTable
	// Location holds one or more candidate locations per fragment. Empty
	// strings pad fragments with fewer versions.
	Location FragmentVar[[]string]
	Address  FragmentVar[string]
	Format   FragmentVar[string]
	// Value makes every fragment a constant; Location and Address are then
	// ignored
	Value FragmentVar[float64]
	// Substitutions rewrite every location in order
	Substitutions []Substitution
}

// FragmentMap indexes the fragments of one aggregated variable by their
// position in fragment space
type FragmentMap struct {
	dims  []string
	shape []int
	sizes [][]int
	space []int
	frags []*Fragment
}

// Decode builds the fragment map of an aggregated array of the given shape
// from its fragment array variables. dims names each dimension; nil means
// "dim0", "dim1", ...
func Decode(shape []int, dims []string, a FragmentArrays) (*FragmentMap, error) {
	sizes, err := a.Shape.Sizes()
	if err != nil {
		return nil, err
	}
	if len(sizes) != len(shape) {
		return nil, fmt.Errorf("%w: fragment sizes cover %d dimensions, array has %d", ErrShapeMismatch, len(sizes), len(shape))
	}
	if dims, err = dimNames(dims, len(shape)); err != nil {
		return nil, err
	}

	space := make([]int, len(sizes))
	starts := make([][]int, len(sizes))
	for d, fs := range sizes {
		space[d] = len(fs)
		starts[d] = cumulative(fs)
		if total := starts[d][len(fs)]; total != shape[d] {
			return nil, fmt.Errorf("%w: fragments along %q sum to %d, dimension size is %d", ErrShapeMismatch, dims[d], total, shape[d])
		}
	}

	n := product(space)
	var (
		locations [][]string
		addresses []string
		formats   []string
		values    []float64
	)
	if a.Value.Defined() {
		if values, err = a.Value.broadcast(space, "value"); err != nil {
			return nil, err
		}
	} else {
		if !a.Location.Defined() || !a.Address.Defined() {
			return nil, fmt.Errorf("%w: fragments need location and address variables", ErrConvention)
		}
		if locations, err = a.Location.broadcast(space, "location"); err != nil {
			return nil, err
		}
		if addresses, err = a.Address.broadcast(space, "address"); err != nil {
			return nil, err
		}
		if a.Format.Defined() {
			if formats, err = a.Format.broadcast(space, "format"); err != nil {
				return nil, err
			}
		}
	}

	m := &FragmentMap{
		dims:  dims,
		shape: append([]int(nil), shape...),
		sizes: sizes,
		space: space,
		frags: make([]*Fragment, 0, n),
	}
	for i, pos := range positions(space) {
		f := &Fragment{
			Position:     pos,
			Shape:        make([]int, len(pos)),
			GlobalExtent: make(Extent, len(pos)),
		}
		for d, p := range pos {
			f.Shape[d] = sizes[d][p]
			f.GlobalExtent[d] = Span(starts[d][p], starts[d][p+1])
		}
		f.Extent = FullExtent(f.Shape)

		if values != nil {
			v := values[i]
			f.FillValue = &v
			f.Format = FragmentFormatFull
		} else {
			for _, loc := range locations[i] {
				if loc == "" {
					continue
				}
				f.Location = append(f.Location, Substitute(loc, a.Substitutions))
			}
			if len(f.Location) == 0 {
				return nil, fmt.Errorf("%w: fragment %s has no location", ErrConvention, pos)
			}
			f.Address = addresses[i]
			if formats != nil {
				f.Format = formats[i]
			}
		}
		m.frags = append(m.frags, f)
	}

	if err := verifyTiling(m); err != nil {
		return nil, err
	}
	return m, nil
}

// NewFragmentMap rebuilds a map from previously decoded fragments, eg. ones
// read back from a catalog. The fragments must tile shape.
func NewFragmentMap(shape []int, dims []string, frags []*Fragment) (*FragmentMap, error) {
	dims, err := dimNames(dims, len(shape))
	if err != nil {
		return nil, err
	}
	space := make([]int, len(shape))
	for _, f := range frags {
		if len(f.Position) != len(shape) || len(f.Shape) != len(shape) || len(f.GlobalExtent) != len(shape) {
			return nil, fmt.Errorf("%w: fragment %s has rank %d, array has %d", ErrShapeMismatch, f.Position, len(f.Position), len(shape))
		}
		for d, p := range f.Position {
			if p+1 > space[d] {
				space[d] = p + 1
			}
		}
	}
	if product(space) != len(frags) {
		return nil, fmt.Errorf("%w: %d fragments for a %v fragment space", ErrShapeMismatch, len(frags), space)
	}

	sorted := make([]*Fragment, len(frags))
	for _, f := range frags {
		off := offset(f.Position, space)
		if sorted[off] != nil {
			return nil, fmt.Errorf("%w: duplicate fragment %s", ErrShapeMismatch, f.Position)
		}
		if f.Extent == nil {
			f.Extent = FullExtent(f.Shape)
		}
		sorted[off] = f
	}

	// sizes are read off the fragments lying on each axis of fragment space
	sizes := make([][]int, len(shape))
	for d := range shape {
		sizes[d] = make([]int, space[d])
		axis := make(Index, len(shape))
		for i := 0; i < space[d]; i++ {
			axis[d] = i
			sizes[d][i] = sorted[offset(axis, space)].Shape[d]
		}
	}

	m := &FragmentMap{dims: dims, shape: append([]int(nil), shape...), sizes: sizes, space: space, frags: sorted}
	if err := verifyTiling(m); err != nil {
		return nil, err
	}
	return m, nil
}

func dimNames(dims []string, ndim int) ([]string, error) {
	if dims == nil {
		dims = make([]string, ndim)
		for i := range dims {
			dims[i] = fmt.Sprintf("dim%d", i)
		}
		return dims, nil
	}
	if len(dims) != ndim {
		return nil, fmt.Errorf("%w: %d dimension names for %d dimensions", ErrShapeMismatch, len(dims), ndim)
	}
	return append([]string(nil), dims...), nil
}

// Dims names the dimensions of the aggregated array
func (m *FragmentMap) Dims() []string { return m.dims }

// Shape of the aggregated array
func (m *FragmentMap) Shape() []int { return m.shape }

// Space is the number of fragments along each dimension
func (m *FragmentMap) Space() []int { return m.space }

// Sizes lists the fragment sizes along each dimension
func (m *FragmentMap) Sizes() [][]int { return m.sizes }

// Len is the number of fragments
func (m *FragmentMap) Len() int { return len(m.frags) }

// Fragmented reports whether dimension dim is split into more than one
// fragment
func (m *FragmentMap) Fragmented(dim int) bool {
	return m.space[dim] > 1
}

// At returns the fragment at a position in fragment space
func (m *FragmentMap) At(pos Index) (*Fragment, bool) {
	if len(pos) != len(m.space) {
		return nil, false
	}
	for d, p := range pos {
		if p < 0 || p >= m.space[d] {
			return nil, false
		}
	}
	return m.frags[offset(pos, m.space)], true
}

// Fragments lists every fragment in row-major fragment order
func (m *FragmentMap) Fragments() []*Fragment {
	return m.frags
}

// Starts returns the global start of each fragment along dim, followed by
// the dimension size
func (m *FragmentMap) Starts(dim int) []int {
	return cumulative(m.sizes[dim])
}

// locate finds the fragment index along dim holding global element i: the
// last fragment whose start is not past i. A boundary belongs to the
// fragment that starts there.
func (m *FragmentMap) locate(dim, i int) int {
	starts := m.Starts(dim)
	n := len(m.sizes[dim])
	j := sort.Search(n, func(k int) bool { return starts[k] > i })
	if j == 0 {
		return 0
	}
	return j - 1
}
