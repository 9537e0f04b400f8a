package cfa

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"
)

type MetaType string

const (
	// MTAttributes stores userland metadata keyed by array name
	MTAttributes MetaType = ".zattrs"
	// MTArray is the key for storing metadata on an array store
	MTArray MetaType = ".zarray"
	// MTGroup is the key for storing group definitions on an array store
	MTGroup MetaType = ".zgroup"
)

// Attributes are the user attributes of a zarr array. Arrays written by
// xarray carry "units" and "_ARRAY_DIMENSIONS" here.
type Attributes map[string]interface{}

// Units returns the "units" attribute, if set
func (a Attributes) Units() string {
	s, _ := a["units"].(string)
	return s
}

// Dimensions returns the xarray "_ARRAY_DIMENSIONS" attribute, if set
func (a Attributes) Dimensions() []string {
	raw, ok := a["_ARRAY_DIMENSIONS"].([]interface{})
	if !ok {
		return nil
	}
	dims := make([]string, 0, len(raw))
	for _, d := range raw {
		if s, ok := d.(string); ok {
			dims = append(dims, s)
		}
	}
	return dims
}

// ArrayMeta is the metadata stored under the ".zarray" key of a zarr v2
// array, which is how zarr fragments describe themselves.
type ArrayMeta struct {
	// An integer defining the version of the storage specification to which
	// the array store adheres.
	ZarrFormat int `json:"zarr_format"`
	// A list of integers defining the length of each dimension of the array.
	Shape []int `json:"shape"`
	// A list of integers defining the length of each dimension of a chunk of the
	// array. Note that all chunks within a Zarr array have the same shape.
	Chunks []int `json:"chunks"`
	// A string defining a valid data type for the array. Structured types
	// can't be aggregated and are rejected.
	Dtype Dtype `json:"dtype"`
	// A JSON object identifying the primary compression codec and providing
	// configuration parameters, or null if no compressor is to be used.
	Compressor CompressionMeta `json:"compressor"`
	// A scalar value providing the default value to use for uninitialized
	// portions of the array, or null if no fill_value is to be used.
	FillValue interface{} `json:"fill_value"`
	// Either “C” or “F”, defining the layout of bytes within each chunk of the
	// array. Only “C” (row-major) is read.
	Order string `json:"order"`
	// A list of JSON objects providing codec configurations, or null if no
	// filters are to be applied. Filters are not supported.
	Filters []Filter `json:"filters"`

	// If present, either the string "." or "/" definining the separator placed
	// between the dimensions of a chunk. If the value is not set, then the
	// default MUST be assumed to be ".", leading to chunk keys of the form “0.0”.
	DimensionSeparator string `json:"dimension_separator"`
}

type Filter struct {
	ID     string `json:"id"`
	Delta  string `json:"delta"`
	Dtype  string `json:"dtype"`
	AsType string `json:"astype"`
}

const (
	// Not a Number
	FillValueNaN = "NaN"
	// Infinity
	FillValueInfinity = "Infinity"
	// -Infinity
	FillValueNegativeInfinity = "-Infinity"
)

// Validate checks the metadata describes an array this package can read
func (a *ArrayMeta) Validate() error {
	if a.ZarrFormat != 2 {
		return fmt.Errorf("%w: zarr format %d", ErrUnsupported, a.ZarrFormat)
	}
	if len(a.Chunks) != len(a.Shape) {
		return fmt.Errorf("zarr array has %d-d shape and %d-d chunks", len(a.Shape), len(a.Chunks))
	}
	for _, c := range a.Chunks {
		if c <= 0 {
			return fmt.Errorf("zarr array has non-positive chunk size %v", a.Chunks)
		}
	}
	if a.Order != "" && a.Order != "C" {
		return fmt.Errorf("%w: zarr order %q", ErrUnsupported, a.Order)
	}
	if len(a.Filters) > 0 {
		return fmt.Errorf("%w: zarr filters", ErrUnsupported)
	}
	return a.Compressor.Validate()
}

// Separator is the chunk key separator in effect
func (a *ArrayMeta) Separator() string {
	if a.DimensionSeparator == "" {
		return "."
	}
	return a.DimensionSeparator
}

// ChunkKey is the store key of a chunk, relative to the array
func (a *ArrayMeta) ChunkKey(ix Index) string {
	parts := make([]string, len(ix))
	for i, v := range ix {
		parts[i] = fmt.Sprint(v)
	}
	if len(parts) == 0 {
		return "0"
	}
	return strings.Join(parts, a.Separator())
}

// Fill is the fill value as a float64. A null fill value reads as NaN, so
// uninitialized chunks surface as missing data.
func (a *ArrayMeta) Fill() (float64, error) {
	switch v := a.FillValue.(type) {
	case nil:
		return math.NaN(), nil
	case float64:
		return v, nil
	case json.Number:
		return v.Float64()
	case bool:
		if v {
			return 1, nil
		}
		return 0, nil
	case string:
		switch v {
		case FillValueNaN:
			return math.NaN(), nil
		case FillValueInfinity:
			return math.Inf(1), nil
		case FillValueNegativeInfinity:
			return math.Inf(-1), nil
		}
	}
	return 0, fmt.Errorf("%w: zarr fill value %v", ErrUnsupported, a.FillValue)
}
