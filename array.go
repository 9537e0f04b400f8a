package cfa

import (
	"fmt"
	"math"
)

// Array is a materialized block of values in row-major order. Values are
// widened to float64 whatever the stored dtype; missing values are NaN.
type Array struct {
	Shape  []int
	Values []float64
	// Units of the values as reported by the source, if any
	Units string
}

// NewArray allocates a zeroed array of the given shape
func NewArray(shape []int) *Array {
	return &Array{
		Shape:  append([]int(nil), shape...),
		Values: make([]float64, product(shape)),
	}
}

// Filled is an array of the given shape holding v everywhere
func Filled(shape []int, v float64) *Array {
	a := NewArray(shape)
	for i := range a.Values {
		a.Values[i] = v
	}
	return a
}

// Size is the number of elements
func (a *Array) Size() int {
	return len(a.Values)
}

func (a *Array) strides() []int {
	st := make([]int, len(a.Shape))
	acc := 1
	for i := len(a.Shape) - 1; i >= 0; i-- {
		st[i] = acc
		acc *= a.Shape[i]
	}
	return st
}

// At returns the element at the given coordinate
func (a *Array) At(ix ...int) float64 {
	st := a.strides()
	off := 0
	for i, v := range ix {
		off += v * st[i]
	}
	return a.Values[off]
}

// Window copies out the elements selected by ext. ext must be resolved and
// lie inside the array.
func (a *Array) Window(ext Extent) (*Array, error) {
	if len(ext) != len(a.Shape) {
		return nil, fmt.Errorf("%w: %d-d window on %d-d array", ErrExtentOutOfRange, len(ext), len(a.Shape))
	}
	for i, s := range ext {
		if s.Len() > 0 && (s.Start >= a.Shape[i] || s.Start+(s.Len()-1)*max(s.Step, 1) >= a.Shape[i]) {
			return nil, fmt.Errorf("%w: window %s on shape %v", ErrExtentOutOfRange, ext, a.Shape)
		}
	}

	out := NewArray(ext.Shape())
	out.Units = a.Units
	if out.Size() == 0 {
		return out, nil
	}
	st := a.strides()
	for i, ix := range positions(out.Shape) {
		off := 0
		for d, v := range ix {
			off += (ext[d].Start + v*max(ext[d].Step, 1)) * st[d]
		}
		out.Values[i] = a.Values[off]
	}
	return out, nil
}

// Place copies src into a at the block starting at origin
func (a *Array) Place(src *Array, origin []int) error {
	if len(origin) != len(a.Shape) || len(src.Shape) != len(a.Shape) {
		return fmt.Errorf("%w: placing %d-d block at %v in %d-d array", ErrIndex, len(src.Shape), origin, len(a.Shape))
	}
	for d := range origin {
		if origin[d] < 0 || origin[d]+src.Shape[d] > a.Shape[d] {
			return fmt.Errorf("%w: block %v at %v exceeds %v", ErrIndex, src.Shape, origin, a.Shape)
		}
	}
	st := a.strides()
	for i, ix := range positions(src.Shape) {
		off := 0
		for d, v := range ix {
			off += (origin[d] + v) * st[d]
		}
		a.Values[off] = src.Values[i]
	}
	return nil
}

// Reshape returns a with a new shape holding the same number of elements
func (a *Array) Reshape(shape []int) (*Array, error) {
	if product(shape) != len(a.Values) {
		return nil, fmt.Errorf("%w: cannot reshape %v to %v", ErrIndex, a.Shape, shape)
	}
	return &Array{Shape: append([]int(nil), shape...), Values: a.Values, Units: a.Units}, nil
}

// Equal reports whether two arrays have identical shape and bit-identical
// values
func (a *Array) Equal(b *Array) bool {
	if len(a.Shape) != len(b.Shape) || len(a.Values) != len(b.Values) {
		return false
	}
	for i := range a.Shape {
		if a.Shape[i] != b.Shape[i] {
			return false
		}
	}
	for i := range a.Values {
		if math.Float64bits(a.Values[i]) != math.Float64bits(b.Values[i]) {
			return false
		}
	}
	return true
}
