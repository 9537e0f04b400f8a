package netcdf

import (
	"errors"
	"fmt"

	cfa "github.com/qri-io/cfa-go"
)

// Aggregation reads the header of a CFA-netCDF file: global attributes,
// aggregation variables and their fragment array variables
type Aggregation struct {
	root Group
}

var (
	_ cfa.MetadataSource = (*Aggregation)(nil)
	_ cfa.Container      = (*Aggregation)(nil)
)

// NewAggregation reads aggregation metadata from root. Closing the
// aggregation closes root.
func NewAggregation(root Group) *Aggregation {
	return &Aggregation{root: root}
}

// OpenAggregation opens the CFA-netCDF file at path
func OpenAggregation(path string) (*Aggregation, error) {
	g, err := Open(path)
	if err != nil {
		return nil, err
	}
	return NewAggregation(g), nil
}

func (a *Aggregation) Conventions() string {
	c, _ := a.root.Attributes()["Conventions"].(string)
	return c
}

func (a *Aggregation) Attributes() map[string]interface{} { return a.root.Attributes() }

func (a *Aggregation) Variables() []string { return a.root.Variables() }

func (a *Aggregation) Variable(name string) (*cfa.VariableMeta, error) {
	return cfa.DecodeVariable(a.Conventions(), a, name)
}

func (a *Aggregation) Dimension(name string) (int, bool) {
	return a.root.Dimension(name)
}

// lookup finds a variable, wrapping lookup failures in cfa.ErrConvention
// since fragment array variables are named by the aggregation's attributes
func (a *Aggregation) lookup(name string) (Var, func(), error) {
	g, vn, release, err := resolve(a.root, name)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: variable %q: %w", cfa.ErrConvention, name, err)
	}
	v, err := g.Variable(vn)
	if err != nil {
		release()
		if errors.Is(err, ErrNotFound) {
			return nil, nil, fmt.Errorf("%w: no variable %q", cfa.ErrConvention, name)
		}
		return nil, nil, err
	}
	return v, release, nil
}

func (a *Aggregation) Describe(name string) (*cfa.RawVariable, error) {
	v, release, err := a.lookup(name)
	if err != nil {
		return nil, err
	}
	defer release()

	dt, err := cfa.ParseCDLType(v.Type())
	if err != nil {
		// char and string variables hold fragment locations, not data
		dt = cfa.Dtype{}
	}
	return &cfa.RawVariable{
		Name:       name,
		Dims:       v.Dims(),
		Shape:      append([]int(nil), v.Shape()...),
		Dtype:      dt,
		Attributes: v.Attributes(),
	}, nil
}

// Values reads a whole variable. Character arrays come back as strings, so
// the returned shape drops their string length dimension.
func (a *Aggregation) Values(name string) ([]interface{}, []int, error) {
	v, release, err := a.lookup(name)
	if err != nil {
		return nil, nil, err
	}
	defer release()

	shape := v.Shape()
	end := 1
	if len(shape) > 0 {
		end = shape[0]
	}
	data, err := v.Slice(0, end)
	if err != nil {
		return nil, nil, fmt.Errorf("reading %q: %w", name, err)
	}
	vals, got := cfa.Flatten(data)
	if len(shape) == 0 {
		got = []int{}
	}
	return vals, got, nil
}

func (a *Aggregation) Close() error {
	a.root.Close()
	return nil
}
