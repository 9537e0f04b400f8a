package netcdf

import (
	"context"
	"errors"
	"fmt"
	"math"

	cfa "github.com/qri-io/cfa-go"
)

// Format is the fragment format tag of netCDF files
const Format = "nc"

// Source reads fragment variables out of a netCDF file
type Source struct {
	root Group
}

var _ cfa.Source = (*Source)(nil)

// NewSource reads variables of root. Closing the source closes root.
func NewSource(root Group) *Source {
	return &Source{root: root}
}

// Driver opens a located resource as a netCDF file
func Driver(ctx context.Context, r cfa.Resource) (cfa.Source, error) {
	f, err := r.File(ctx)
	if err != nil {
		return nil, err
	}
	g, err := New(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("%w: %s is not netCDF: %w", cfa.ErrUnsupported, r.Location(), err)
	}
	return NewSource(g), nil
}

// Register adds the netCDF driver to a locator, also under the "netCDF" and
// "nc4" format names
func Register(l *cfa.Locator) {
	for _, name := range []string{Format, "netCDF", "nc4"} {
		l.Register(name, Driver)
	}
}

func (s *Source) variable(address string) (Var, func(), error) {
	g, name, release, err := resolve(s.root, address)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %s: %w", cfa.ErrAddressNotFound, address, err)
	}
	v, err := g.Variable(name)
	if err != nil {
		release()
		if errors.Is(err, ErrNotFound) {
			return nil, nil, fmt.Errorf("%w: %s", cfa.ErrAddressNotFound, address)
		}
		return nil, nil, err
	}
	return v, release, nil
}

func (s *Source) Stat(ctx context.Context, address string) (cfa.VarInfo, error) {
	v, release, err := s.variable(address)
	if err != nil {
		return cfa.VarInfo{}, err
	}
	defer release()
	return varInfo(v)
}

func varInfo(v Var) (cfa.VarInfo, error) {
	dt, err := cfa.ParseCDLType(v.Type())
	if err != nil {
		return cfa.VarInfo{}, err
	}
	units, _ := v.Attributes()[cfa.AttrUnits].(string)
	return cfa.VarInfo{
		Shape: append([]int(nil), v.Shape()...),
		Dims:  v.Dims(),
		Units: units,
		Dtype: dt,
	}, nil
}

func (s *Source) Read(ctx context.Context, address string, ext cfa.Extent) (*cfa.Array, error) {
	v, release, err := s.variable(address)
	if err != nil {
		return nil, err
	}
	defer release()

	info, err := varInfo(v)
	if err != nil {
		return nil, err
	}
	shape := info.Shape
	ext, err = ext.Resolve(shape)
	if err != nil {
		return nil, err
	}
	for d, sl := range ext {
		if sl.Len() > 0 && sl.Start+(sl.Len()-1)*sl.Step >= shape[d] {
			return nil, fmt.Errorf("%w: window %s on shape %v", cfa.ErrExtentOutOfRange, ext, shape)
		}
	}
	if ext.Size() == 0 {
		out := cfa.NewArray(ext.Shape())
		out.Units = info.Units
		return out, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// only the rows of the first dimension the window touches are read
	begin, end := 0, 1
	rows := ext
	blockShape := []int{}
	if len(shape) > 0 {
		first := ext[0]
		begin, end = first.Start, first.Start+(first.Len()-1)*first.Step+1
		rows = append(cfa.Extent{cfa.Strided(0, end-begin, first.Step)}, ext[1:]...)
		blockShape = append([]int{end - begin}, shape[1:]...)
	}
	data, err := v.Slice(begin, end)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", address, err)
	}
	raw, got := cfa.Flatten(data)
	if len(raw) != product(blockShape) || (len(blockShape) > 0 && !sameShape(got, blockShape)) {
		return nil, fmt.Errorf("reading %s: got %d values shaped %v for rows %d:%d of %v", address, len(raw), got, begin, end, shape)
	}

	unpack := newUnpacker(v.Attributes())
	block := &cfa.Array{Shape: blockShape, Values: make([]float64, len(raw))}
	for i, r := range raw {
		f, ok := cfa.ToFloat(r)
		if !ok {
			return nil, fmt.Errorf("%w: %s holds %T values", cfa.ErrUnsupported, address, r)
		}
		block.Values[i] = unpack(f)
	}

	out, err := block.Window(rows)
	if err != nil {
		return nil, err
	}
	out.Units = info.Units
	return out, nil
}

// newUnpacker masks fill and missing values to NaN, then applies
// scale_factor and add_offset
func newUnpacker(attrs map[string]interface{}) func(float64) float64 {
	var missing []float64
	for _, key := range []string{cfa.AttrFillValue, cfa.AttrMissingValue} {
		if f, ok := cfa.ToFloat(attrs[key]); ok {
			missing = append(missing, f)
		}
	}
	scale, offset := 1.0, 0.0
	if f, ok := cfa.ToFloat(attrs["scale_factor"]); ok {
		scale = f
	}
	if f, ok := cfa.ToFloat(attrs["add_offset"]); ok {
		offset = f
	}
	return func(v float64) float64 {
		for _, m := range missing {
			if v == m {
				return math.NaN()
			}
		}
		return v*scale + offset
	}
}

func (s *Source) Close() error {
	s.root.Close()
	return nil
}

func product(shape []int) int {
	n := 1
	for _, s := range shape {
		n *= s
	}
	return n
}

func sameShape(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
