package cfa

import (
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"strings"
)

// RawVariable is a variable of a metadata container before any aggregation
// decoding
type RawVariable struct {
	Name       string
	Dims       []string
	Shape      []int
	Dtype      Dtype
	Attributes map[string]interface{}
}

// Container is the raw content of a dataset description: a netCDF header, a
// JSON document and so on
type Container interface {
	Describe(name string) (*RawVariable, error)
	// Values returns the data of a variable flattened in row-major order,
	// with its shape
	Values(name string) ([]interface{}, []int, error)
	// Dimension returns the size of a named dimension
	Dimension(name string) (int, bool)
}

// Attribute names of aggregation variables
const (
	AttrAggregatedDimensions = "aggregated_dimensions"
	AttrAggregatedData       = "aggregated_data"
	AttrSubstitutions        = "substitutions"
	AttrUnits                = "units"
	AttrFillValue            = "_FillValue"
	AttrMissingValue         = "missing_value"
)

// DecodeVariable describes variable name of c. Variables carrying an
// aggregated_dimensions attribute are decoded as aggregation variables
// following the naming scheme selected by conventions.
func DecodeVariable(conventions string, c Container, name string) (*VariableMeta, error) {
	rv, err := c.Describe(name)
	if err != nil {
		return nil, err
	}
	meta := &VariableMeta{
		Name:       name,
		Shape:      rv.Shape,
		Dims:       rv.Dims,
		Dtype:      rv.Dtype,
		Attributes: rv.Attributes,
	}
	meta.Units, _ = rv.Attributes[AttrUnits].(string)

	aggDims, ok := rv.Attributes[AttrAggregatedDimensions]
	if !ok {
		return meta, nil
	}
	dimList, ok := aggDims.(string)
	if !ok {
		return nil, fmt.Errorf("%w: %q has a non-string %s attribute", ErrConvention, name, AttrAggregatedDimensions)
	}
	meta.Dims = strings.Fields(dimList)
	meta.Shape = make([]int, len(meta.Dims))
	for i, d := range meta.Dims {
		n, ok := c.Dimension(d)
		if !ok {
			return nil, fmt.Errorf("%w: %q aggregates over unknown dimension %q", ErrConvention, name, d)
		}
		meta.Shape[i] = n
	}

	data, _ := rv.Attributes[AttrAggregatedData].(string)
	if data == "" {
		return nil, fmt.Errorf("%w: aggregation variable %q has no %s attribute", ErrConvention, name, AttrAggregatedData)
	}
	terms, err := ParseTerms(data)
	if err != nil {
		return nil, err
	}
	_, ft, err := ResolveConvention(conventions, terms)
	if err != nil {
		return nil, fmt.Errorf("variable %q: %w", name, err)
	}
	arrays, err := decodeFragmentArrays(c, ft, len(meta.Shape))
	if err != nil {
		return nil, fmt.Errorf("variable %q: %w", name, err)
	}
	meta.Fragments = arrays
	return meta, nil
}

func decodeFragmentArrays(c Container, ft FragmentTerms, ndim int) (*FragmentArrays, error) {
	st, err := decodeShapeTable(c, ft.Shape, ndim)
	if err != nil {
		return nil, err
	}
	sizes, err := st.Sizes()
	if err != nil {
		return nil, err
	}
	space := make([]int, len(sizes))
	for d, s := range sizes {
		space[d] = len(s)
	}

	a := &FragmentArrays{Shape: st}
	if ft.Value != "" {
		vals, shape, err := values(c, ft.Value)
		if err != nil {
			return nil, err
		}
		fs := make([]float64, len(vals))
		for i, v := range vals {
			f, ok := ToFloat(v)
			if !ok {
				return nil, fmt.Errorf("%w: non-numeric fragment value %v", ErrConvention, v)
			}
			fs[i] = f
		}
		a.Value = fragmentVar(shape, fs)
		return a, nil
	}

	if a.Location, err = decodeLocations(c, ft.Location, space); err != nil {
		return nil, err
	}
	if rv, err := c.Describe(ft.Location); err == nil {
		if s, ok := rv.Attributes[AttrSubstitutions].(string); ok {
			if a.Substitutions, err = ParseSubstitutions(s); err != nil {
				return nil, err
			}
		}
	}
	if ft.Address != "" {
		if a.Address, err = decodeStrings(c, ft.Address, space); err != nil {
			return nil, err
		}
	}
	if ft.Format != "" {
		if a.Format, err = decodeStrings(c, ft.Format, space); err != nil {
			return nil, err
		}
	}
	return a, nil
}

// values reads a fragment variable, failing when its data is ragged
func values(c Container, name string) ([]interface{}, []int, error) {
	vals, shape, err := c.Values(name)
	if err != nil {
		return nil, nil, err
	}
	if len(vals) != product(shape) {
		return nil, nil, fmt.Errorf("%w: variable %q holds %d values for shape %v", ErrConvention, name, len(vals), shape)
	}
	return vals, shape, nil
}

// decodeShapeTable reads the fragment size table. Entries equal to the
// variable's fill or missing value are padding.
func decodeShapeTable(c Container, name string, ndim int) (ShapeTable, error) {
	vals, shape, err := values(c, name)
	if err != nil {
		return ShapeTable{}, err
	}
	rv, err := c.Describe(name)
	if err != nil {
		return ShapeTable{}, err
	}
	var fills []float64
	for _, key := range []string{AttrFillValue, AttrMissingValue} {
		if f, ok := ToFloat(rv.Attributes[key]); ok {
			fills = append(fills, f)
		}
	}

	var rows, cols int
	switch len(shape) {
	case 1:
		// one fragment along every dimension
		rows, cols = shape[0], 1
	case 2:
		rows, cols = shape[0], shape[1]
	default:
		return ShapeTable{}, fmt.Errorf("%w: fragment shape variable %q has rank %d", ErrConvention, name, len(shape))
	}
	if rows != ndim {
		return ShapeTable{}, fmt.Errorf("%w: fragment shape variable %q has %d rows for %d dimensions", ErrShapeMismatch, name, rows, ndim)
	}

	st := ShapeTable{Rows: make([][]int, rows), Mask: make([][]bool, rows)}
	for r := 0; r < rows; r++ {
		st.Rows[r] = make([]int, cols)
		st.Mask[r] = make([]bool, cols)
		for k := 0; k < cols; k++ {
			v := vals[r*cols+k]
			f, ok := ToFloat(v)
			if !ok || math.IsNaN(f) {
				st.Mask[r][k] = true
				continue
			}
			for _, fill := range fills {
				if f == fill {
					st.Mask[r][k] = true
				}
			}
			st.Rows[r][k] = int(f)
		}
	}
	return st, nil
}

// decodeLocations reads the location variable. A trailing dimension beyond
// fragment space holds alternative versions of each location.
func decodeLocations(c Container, name string, space []int) (FragmentVar[[]string], error) {
	vals, shape, err := values(c, name)
	if err != nil {
		return FragmentVar[[]string]{}, err
	}
	versions := 1
	if len(shape) == len(space)+1 {
		versions = shape[len(shape)-1]
		shape = shape[:len(shape)-1]
	}
	if versions == 0 {
		return FragmentVar[[]string]{}, fmt.Errorf("%w: location variable %q has no versions", ErrConvention, name)
	}
	locs := make([][]string, 0, len(vals)/versions)
	for i := 0; i < len(vals); i += versions {
		row := make([]string, 0, versions)
		for _, v := range vals[i : i+versions] {
			s, _ := toString(v)
			row = append(row, strings.TrimSpace(s))
		}
		locs = append(locs, row)
	}
	return fragmentVar(shape, locs), nil
}

// decodeStrings reads an address or format variable, taking the first
// version when the variable has a trailing version dimension
func decodeStrings(c Container, name string, space []int) (FragmentVar[string], error) {
	vals, shape, err := values(c, name)
	if err != nil {
		return FragmentVar[string]{}, err
	}
	stride := 1
	if len(shape) == len(space)+1 {
		stride = shape[len(shape)-1]
		shape = shape[:len(shape)-1]
	}
	out := make([]string, 0, len(vals))
	for i := 0; i < len(vals); i += max(stride, 1) {
		s, ok := toString(vals[i])
		if !ok {
			return FragmentVar[string]{}, fmt.Errorf("%w: variable %q holds non-string %v", ErrConvention, name, vals[i])
		}
		out = append(out, strings.TrimSpace(s))
	}
	return fragmentVar(shape, out), nil
}

func fragmentVar[T any](shape []int, vals []T) FragmentVar[T] {
	if len(vals) == 1 && product(shape) <= 1 {
		return Scalar(vals[0])
	}
	return Varying(shape, vals)
}

// Flatten turns a scalar or nested slice into row-major values and a shape
func Flatten(v interface{}) ([]interface{}, []int) {
	rv := reflect.ValueOf(v)
	if !rv.IsValid() {
		return nil, nil
	}
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return []interface{}{v}, []int{}
	}
	var shape []int
	for cur := rv; cur.Kind() == reflect.Slice || cur.Kind() == reflect.Array; {
		shape = append(shape, cur.Len())
		if cur.Len() == 0 {
			break
		}
		cur = reflect.ValueOf(cur.Index(0).Interface())
	}
	out := make([]interface{}, 0, product(shape))
	var walk func(reflect.Value, int)
	walk = func(cur reflect.Value, depth int) {
		if depth == len(shape) {
			out = append(out, cur.Interface())
			return
		}
		cur = reflect.ValueOf(cur.Interface())
		if cur.Kind() != reflect.Slice && cur.Kind() != reflect.Array {
			out = append(out, cur.Interface())
			return
		}
		for i := 0; i < cur.Len(); i++ {
			walk(cur.Index(i), depth+1)
		}
	}
	walk(rv, 0)
	return out, shape
}

// ToFloat widens any Go numeric value, or a one element slice of one, to
// float64
func ToFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	// single element attribute arrays
	if vals, shape := Flatten(v); len(shape) == 1 && len(vals) == 1 {
		return ToFloat(vals[0])
	}
	return 0, false
}

func toString(v interface{}) (string, bool) {
	switch s := v.(type) {
	case string:
		return s, true
	case []byte:
		return strings.TrimRight(string(s), "\x00"), true
	case nil:
		return "", true
	}
	return "", false
}
