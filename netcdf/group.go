// Package netcdf reads CFA-netCDF aggregation files and netCDF fragments
// with the pure Go reader from github.com/batchatco/go-native-netcdf.
package netcdf

import (
	"errors"
	"fmt"

	"github.com/batchatco/go-native-netcdf/netcdf"
	"github.com/batchatco/go-native-netcdf/netcdf/api"
	cfa "github.com/qri-io/cfa-go"
)

// ErrNotFound is returned by Group lookups that find nothing
var ErrNotFound = errors.New("not found")

// Group is the part of a netCDF group this package reads
type Group interface {
	Attributes() map[string]interface{}
	Variables() []string
	Variable(name string) (Var, error)
	// Group opens a child group by name
	Group(name string) (Group, error)
	// Dimension is the length of a named dimension visible from the group
	Dimension(name string) (int, bool)
	Close()
}

// Var is a netCDF variable
type Var interface {
	Dims() []string
	Shape() []int
	// Type is the CDL type name, eg. "double"
	Type() string
	Attributes() map[string]interface{}
	// Slice reads rows [begin, end) of the first dimension as nested slices.
	// Scalars read with Slice(0, 1).
	Slice(begin, end int) (interface{}, error)
}

// Open reads the netCDF file at path
func Open(path string) (Group, error) {
	g, err := netcdf.Open(path)
	if err != nil {
		return nil, err
	}
	return Wrap(g), nil
}

// New reads netCDF data from an open file
func New(f api.ReadSeekerCloser) (Group, error) {
	g, err := netcdf.New(f)
	if err != nil {
		return nil, err
	}
	return Wrap(g), nil
}

// Wrap adapts a go-native-netcdf group
func Wrap(g api.Group) Group {
	return &apiGroup{g: g}
}

type apiGroup struct {
	g api.Group
}

// dimensioner is implemented by classic netCDF groups
type dimensioner interface {
	GetDimension(name string) (uint64, bool)
}

func attrMap(am api.AttributeMap) map[string]interface{} {
	out := map[string]interface{}{}
	if am == nil {
		return out
	}
	for _, k := range am.Keys() {
		if v, ok := am.Get(k); ok {
			out[k] = v
		}
	}
	return out
}

func (a *apiGroup) Attributes() map[string]interface{} { return attrMap(a.g.Attributes()) }

func (a *apiGroup) Variables() []string { return a.g.ListVariables() }

func (a *apiGroup) Variable(name string) (Var, error) {
	vg, err := a.g.GetVarGetter(name)
	if err != nil {
		return nil, fmt.Errorf("%w: variable %q: %w", ErrNotFound, name, err)
	}
	v := &apiVar{vg: vg}
	if v.shape, err = a.shapeOf(vg); err != nil {
		return nil, fmt.Errorf("variable %q: %w", name, err)
	}
	return v, nil
}

func (a *apiGroup) shapeOf(vg api.VarGetter) ([]int, error) {
	dims := vg.Dimensions()
	shape := make([]int, len(dims))
	if len(dims) == 0 {
		return shape, nil
	}
	// the first dimension may be unlimited, its length is the record count
	shape[0] = int(vg.Len())
	if d, ok := a.g.(dimensioner); ok {
		complete := true
		for i := 1; i < len(dims); i++ {
			n, ok := d.GetDimension(dims[i])
			if !ok {
				complete = false
				break
			}
			shape[i] = int(n)
		}
		if complete {
			return shape, nil
		}
	}
	if shape[0] == 0 {
		return shape, nil
	}
	// otherwise read one record and measure it
	rec, err := vg.GetSlice(0, 1)
	if err != nil {
		return nil, err
	}
	_, recShape := cfa.Flatten(rec)
	for i := 1; i < len(dims) && i < len(recShape); i++ {
		shape[i] = recShape[i]
	}
	return shape, nil
}

func (a *apiGroup) Group(name string) (Group, error) {
	g, err := a.g.GetGroup(name)
	if err != nil {
		return nil, fmt.Errorf("%w: group %q: %w", ErrNotFound, name, err)
	}
	return &apiGroup{g: g}, nil
}

func (a *apiGroup) Dimension(name string) (int, bool) {
	if d, ok := a.g.(dimensioner); ok {
		n, ok := d.GetDimension(name)
		return int(n), ok
	}
	// groups without a dimension table still know the dimensions their
	// variables use
	for _, vn := range a.g.ListVariables() {
		v, err := a.Variable(vn)
		if err != nil {
			continue
		}
		for i, d := range v.Dims() {
			if d == name {
				return v.Shape()[i], true
			}
		}
	}
	return 0, false
}

func (a *apiGroup) Close() { a.g.Close() }

type apiVar struct {
	vg    api.VarGetter
	shape []int
}

func (v *apiVar) Dims() []string                     { return v.vg.Dimensions() }
func (v *apiVar) Shape() []int                       { return v.shape }
func (v *apiVar) Type() string                       { return v.vg.Type() }
func (v *apiVar) Attributes() map[string]interface{} { return attrMap(v.vg.Attributes()) }

func (v *apiVar) Slice(begin, end int) (interface{}, error) {
	return v.vg.GetSlice(int64(begin), int64(end))
}

// resolve walks a "/"-delimited address to the group holding the variable.
// release closes the child groups opened on the way.
func resolve(root Group, address string) (g Group, name string, release func(), err error) {
	p, err := cfa.NewPath(address)
	if err != nil {
		return nil, "", nil, err
	}
	var opened []Group
	release = func() {
		for i := len(opened) - 1; i >= 0; i-- {
			opened[i].Close()
		}
	}
	g = root
	for len(p) > 1 {
		var head string
		head, p = p.Shift()
		child, err := g.Group(head)
		if err != nil {
			release()
			return nil, "", nil, err
		}
		opened = append(opened, child)
		g = child
	}
	if len(p) == 1 {
		name = p[0]
	}
	return g, name, release, nil
}
