package cfa

import (
	"fmt"
	"os"
	"sort"

	"github.com/ohler55/ojg/jp"
	"github.com/ohler55/ojg/oj"
)

// JSONSource reads a dataset description from JSON, a lightweight stand-in
// for a CFA-netCDF header:
//
//	{
//	  "attributes": {"Conventions": "CF-1.12"},
//	  "dimensions": {"time": 20, "lat": 180, "lon": 360},
//	  "variables": {
//	    "tas": {"dtype": "<f8", "attributes": {"units": "K",
//	      "aggregated_dimensions": "time lat lon",
//	      "aggregated_data": "shape: fs location: fl address: fa"}},
//	    "fs": {"dims": ["i", "j"], "data": [[10, 10], [180, -1], [360, -1]]},
//	    ...
//	  }
//	}
//
// The description may sit anywhere in a larger document, selected by a
// JSONPath expression.
type JSONSource struct {
	attrs map[string]interface{}
	dims  map[string]int
	vars  map[string]map[string]interface{}
}

var (
	_ MetadataSource = (*JSONSource)(nil)
	_ Container      = (*JSONSource)(nil)
)

// LoadJSONSource reads a description file
func LoadJSONSource(filename, root string) (*JSONSource, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, err
	}
	return NewJSONSource(data, root)
}

// NewJSONSource parses a description. root is a JSONPath selecting it, ""
// meaning the whole document.
func NewJSONSource(data []byte, root string) (*JSONSource, error) {
	doc, err := oj.Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parsing description: %w", err)
	}
	if root != "" && root != "$" {
		x, err := jp.ParseString(root)
		if err != nil {
			return nil, fmt.Errorf("invalid jsonpath '%s': %w", root, err)
		}
		results := x.Get(doc)
		if len(results) == 0 {
			return nil, fmt.Errorf("%w: jsonpath '%s' selects nothing", ErrConvention, root)
		}
		doc = results[0]
	}

	obj, ok := doc.(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("%w: description is not an object", ErrConvention)
	}
	s := &JSONSource{
		attrs: map[string]interface{}{},
		dims:  map[string]int{},
		vars:  map[string]map[string]interface{}{},
	}
	if a, ok := obj["attributes"].(map[string]interface{}); ok {
		s.attrs = a
	}
	if d, ok := obj["dimensions"].(map[string]interface{}); ok {
		for name, v := range d {
			n, ok := ToFloat(v)
			if !ok || n < 0 {
				return nil, fmt.Errorf("%w: dimension %q has size %v", ErrConvention, name, v)
			}
			s.dims[name] = int(n)
		}
	}
	if vs, ok := obj["variables"].(map[string]interface{}); ok {
		for name, v := range vs {
			vm, ok := v.(map[string]interface{})
			if !ok {
				return nil, fmt.Errorf("%w: variable %q is not an object", ErrConvention, name)
			}
			s.vars[name] = vm
		}
	}
	return s, nil
}

func (s *JSONSource) Conventions() string {
	c, _ := s.attrs["Conventions"].(string)
	return c
}

func (s *JSONSource) Attributes() map[string]interface{} { return s.attrs }

func (s *JSONSource) Variables() []string {
	names := make([]string, 0, len(s.vars))
	for name := range s.vars {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (s *JSONSource) Variable(name string) (*VariableMeta, error) {
	return DecodeVariable(s.Conventions(), s, name)
}

func (s *JSONSource) Dimension(name string) (int, bool) {
	n, ok := s.dims[name]
	return n, ok
}

func (s *JSONSource) Describe(name string) (*RawVariable, error) {
	v, ok := s.vars[name]
	if !ok {
		return nil, fmt.Errorf("%w: no variable %q", ErrConvention, name)
	}
	rv := &RawVariable{Name: name, Dtype: Float64, Attributes: map[string]interface{}{}}
	if a, ok := v["attributes"].(map[string]interface{}); ok {
		rv.Attributes = a
	}
	if dt, ok := v["dtype"].(string); ok {
		var err error
		if rv.Dtype, err = ParseDtype(dt); err != nil {
			if rv.Dtype, err = ParseCDLType(dt); err != nil {
				return nil, fmt.Errorf("variable %q: %w", name, err)
			}
		}
	}
	if dims, ok := v["dims"].([]interface{}); ok {
		for _, d := range dims {
			ds, _ := d.(string)
			rv.Dims = append(rv.Dims, ds)
		}
	}
	if data, ok := v["data"]; ok {
		_, rv.Shape = Flatten(data)
	} else {
		for _, d := range rv.Dims {
			rv.Shape = append(rv.Shape, s.dims[d])
		}
	}
	return rv, nil
}

func (s *JSONSource) Values(name string) ([]interface{}, []int, error) {
	v, ok := s.vars[name]
	if !ok {
		return nil, nil, fmt.Errorf("%w: no variable %q", ErrConvention, name)
	}
	data, ok := v["data"]
	if !ok {
		return nil, nil, fmt.Errorf("%w: variable %q has no data", ErrConvention, name)
	}
	vals, shape := Flatten(data)
	return vals, shape, nil
}

func (s *JSONSource) Close() error { return nil }
