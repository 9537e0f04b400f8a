package cfa

import (
	"context"
	"fmt"
	"math"
	"sort"
)

// Reducer computes reductions where the data lives, eg. on a storage server
// with compute attached. Partitions holding a Reducer try it first and read
// the data themselves when it fails.
type Reducer interface {
	Mean(ctx context.Context, p *Partition, axes []int, skipMissing bool) (*Partial, error)
}

// Partial is the unnormalized state of a mean: per output cell, the number
// of values seen and their sum. Reduced axes have length 1 in Shape.
type Partial struct {
	Shape []int
	Count []int
	Sum   []float64
}

// NewPartial is an empty partial over shape
func NewPartial(shape []int) *Partial {
	n := product(shape)
	return &Partial{
		Shape: append([]int(nil), shape...),
		Count: make([]int, n),
		Sum:   make([]float64, n),
	}
}

// Mean divides the sums by the counts. Cells that saw no values are NaN.
func (pt *Partial) Mean() *Array {
	a := NewArray(pt.Shape)
	for i := range a.Values {
		if pt.Count[i] == 0 {
			a.Values[i] = math.NaN()
			continue
		}
		a.Values[i] = pt.Sum[i] / float64(pt.Count[i])
	}
	return a
}

// AddAt accumulates src into the block of pt starting at origin
func (pt *Partial) AddAt(src *Partial, origin []int) error {
	if len(origin) != len(pt.Shape) || len(src.Shape) != len(pt.Shape) {
		return fmt.Errorf("%w: adding %d-d partial at %v to %d-d partial", ErrIndex, len(src.Shape), origin, len(pt.Shape))
	}
	for d := range origin {
		if origin[d] < 0 || origin[d]+src.Shape[d] > pt.Shape[d] {
			return fmt.Errorf("%w: partial %v at %v exceeds %v", ErrIndex, src.Shape, origin, pt.Shape)
		}
	}
	for i, ix := range positions(src.Shape) {
		off := 0
		for d, v := range ix {
			off = off*pt.Shape[d] + origin[d] + v
		}
		pt.Count[off] += src.Count[i]
		pt.Sum[off] += src.Sum[i]
	}
	return nil
}

// CombinePartials adds partials covering the same output cells
func CombinePartials(parts ...*Partial) (*Partial, error) {
	if len(parts) == 0 {
		return nil, fmt.Errorf("%w: no partials to combine", ErrIndex)
	}
	out := NewPartial(parts[0].Shape)
	origin := make([]int, len(out.Shape))
	for _, pt := range parts {
		if err := out.AddAt(pt, origin); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// reducedShape is shape with the reduced axes collapsed to 1
func reducedShape(shape []int, axes []int) []int {
	out := append([]int(nil), shape...)
	for _, ax := range axes {
		out[ax] = 1
	}
	return out
}

// normalizeAxes validates axes against rank. nil means every axis.
func normalizeAxes(axes []int, rank int) ([]int, error) {
	if axes == nil {
		all := make([]int, rank)
		for i := range all {
			all[i] = i
		}
		return all, nil
	}
	seen := map[int]bool{}
	out := make([]int, 0, len(axes))
	for _, ax := range axes {
		if ax < 0 || ax >= rank || seen[ax] {
			return nil, fmt.Errorf("%w: bad reduction axes %v for rank %d", ErrIndex, axes, rank)
		}
		seen[ax] = true
		out = append(out, ax)
	}
	sort.Ints(out)
	return out, nil
}

// Mean reduces the partition over axes, nil meaning all of them. A Reducer
// is tried first; any failure there falls back to materializing the data
// locally, which is logged and counted but never returned.
func (p *Partition) Mean(ctx context.Context, axes []int, skipMissing bool) (*Partial, error) {
	axes, err := normalizeAxes(axes, len(p.extent))
	if err != nil {
		return nil, err
	}
	if p.reducer != nil && !p.frag.Constant() {
		pt, err := p.reducer.Mean(ctx, p, axes, skipMissing)
		if err == nil && fits(pt, reducedShape(p.Shape(), axes)) {
			return pt, nil
		}
		if err == nil {
			err = fmt.Errorf("reducer returned a partial that doesn't fit %v", reducedShape(p.Shape(), axes))
		}
		activeFallbacks.Inc()
		logf("partition %s: active mean failed, reading locally: %v", p.frag.Position, err)
	}

	a, err := p.Materialize(ctx)
	if err != nil {
		return nil, err
	}
	return partialMean(a, axes, skipMissing), nil
}

func partialMean(a *Array, axes []int, skipMissing bool) *Partial {
	pt := NewPartial(reducedShape(a.Shape, axes))
	for i, ix := range positions(a.Shape) {
		v := a.Values[i]
		if skipMissing && math.IsNaN(v) {
			continue
		}
		off := 0
		for d, x := range ix {
			if pt.Shape[d] == 1 {
				x = 0
			}
			off = off*pt.Shape[d] + x
		}
		pt.Count[off]++
		pt.Sum[off] += v
	}
	return pt
}

// fits reports whether pt is a well formed partial of the given shape
func fits(pt *Partial, shape []int) bool {
	if pt == nil || !sameShape(pt.Shape, shape) {
		return false
	}
	n := product(shape)
	return len(pt.Count) == n && len(pt.Sum) == n
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
