package cfa

import (
	"fmt"
	"strings"
)

// Unbounded is the Stop of a Slice that runs to the end of its dimension
const Unbounded = -1

// Slice selects the half-open range [Start, Stop) with stride Step along one
// dimension. A zero Step reads as one, and a Stop of Unbounded reads as the
// length of the dimension the slice is applied to. Negative indexing is not
// supported.
type Slice struct {
	Start int
	Stop  int
	Step  int
}

// Span is the unit-stride slice [start, stop)
func Span(start, stop int) Slice {
	return Slice{Start: start, Stop: stop, Step: 1}
}

// Strided is the slice [start, stop) taking every step-th element
func Strided(start, stop, step int) Slice {
	return Slice{Start: start, Stop: stop, Step: step}
}

// All selects a whole dimension
func All() Slice {
	return Slice{Stop: Unbounded, Step: 1}
}

// Resolve fills in the defaults of s against a dimension of length n
func (s Slice) Resolve(n int) (Slice, error) {
	if s.Step == 0 {
		s.Step = 1
	}
	if s.Stop == Unbounded {
		s.Stop = n
	}
	if s.Start < 0 || s.Stop < 0 || s.Step < 0 {
		return s, fmt.Errorf("%w: negative bounds in %s are not supported", ErrIndex, s)
	}
	if s.Stop < s.Start {
		s.Stop = s.Start
	}
	return s, nil
}

// Len is the number of elements a bounded slice selects
func (s Slice) Len() int {
	step := s.Step
	if step == 0 {
		step = 1
	}
	if s.Stop <= s.Start {
		return 0
	}
	return (s.Stop - s.Start + step - 1) / step
}

func (s Slice) String() string {
	stop := "" // open ended
	if s.Stop != Unbounded {
		stop = fmt.Sprint(s.Stop)
	}
	if s.Step == 0 || s.Step == 1 {
		return fmt.Sprintf("%d:%s", s.Start, stop)
	}
	return fmt.Sprintf("%d:%s:%d", s.Start, stop, s.Step)
}

// Combine composes two successive selections on one dimension of length n
// into one equivalent selection. prev is the selection already applied, next
// is interpreted relative to the elements prev selects. next may only narrow
// prev; asking for more elements than prev holds is an ErrIndex.
func Combine(prev, next Slice, n int) (Slice, error) {
	prev, err := prev.Resolve(n)
	if err != nil {
		return prev, err
	}
	size := prev.Len()
	if next, err = next.Resolve(size); err != nil {
		return next, err
	}
	if next.Stop > size {
		return next, fmt.Errorf("%w: chain broken, selection %s exceeds the %d elements of %s", ErrIndex, next, size, prev)
	}

	out := Slice{
		Start: prev.Start + prev.Step*next.Start,
		Step:  prev.Step * next.Step,
		Stop:  prev.Start + prev.Step*next.Stop,
	}
	// every selected element sits below prev.Stop, so trimming the overshoot
	// left by a coarse stride keeps the selection identical
	if out.Stop > prev.Stop {
		out.Stop = prev.Stop
	}
	if out.Stop < out.Start {
		out.Stop = out.Start
	}
	return out, nil
}

// Extent is one Slice per dimension
type Extent []Slice

// FullExtent selects every element of an array with the given shape
func FullExtent(shape []int) Extent {
	e := make(Extent, len(shape))
	for i, n := range shape {
		e[i] = Span(0, n)
	}
	return e
}

// Shape is the number of elements selected along each dimension
func (e Extent) Shape() []int {
	shape := make([]int, len(e))
	for i, s := range e {
		shape[i] = s.Len()
	}
	return shape
}

// Size is the total number of elements selected
func (e Extent) Size() int {
	return product(e.Shape())
}

// Copy returns an Extent that shares no memory with e
func (e Extent) Copy() Extent {
	if e == nil {
		return nil
	}
	c := make(Extent, len(e))
	copy(c, e)
	return c
}

// Resolve fills in the defaults of every slice against shape
func (e Extent) Resolve(shape []int) (Extent, error) {
	if len(e) != len(shape) {
		return nil, fmt.Errorf("%w: %d-d extent for %d-d shape", ErrIndex, len(e), len(shape))
	}
	out := make(Extent, len(e))
	for i, s := range e {
		r, err := s.Resolve(shape[i])
		if err != nil {
			return nil, err
		}
		out[i] = r
	}
	return out, nil
}

func (e Extent) String() string {
	parts := make([]string, len(e))
	for i, s := range e {
		parts[i] = s.String()
	}
	return "[" + strings.Join(parts, ", ") + "]"
}

// CombineExtent composes a selection with an accumulated extent dimension by
// dimension. shape is the length of each dimension the extent applies to. A
// selection of a different rank breaks the chain: dimensions can't be dropped
// or added lazily.
func CombineExtent(extent Extent, sel []Slice, shape []int) (Extent, error) {
	if len(sel) != len(extent) || len(shape) != len(extent) {
		return nil, fmt.Errorf("%w: chain broken, %d-d selection on %d-d extent", ErrIndex, len(sel), len(extent))
	}
	out := make(Extent, len(extent))
	for dim := range extent {
		s, err := Combine(extent[dim], sel[dim], shape[dim])
		if err != nil {
			return nil, fmt.Errorf("dimension %d: %w", dim, err)
		}
		out[dim] = s
	}
	return out, nil
}

// Index is a coordinate in fragment space or partition space, counting
// fragments or partitions rather than elements
type Index []int

func (ix Index) String() string {
	parts := make([]string, len(ix))
	for i, v := range ix {
		parts[i] = fmt.Sprint(v)
	}
	return strings.Join(parts, ".")
}

// positions enumerates every coordinate of a grid in row-major order, last
// dimension fastest
func positions(space []int) []Index {
	total := product(space)
	if total == 0 {
		return nil
	}
	if len(space) == 0 {
		return []Index{{}}
	}
	out := make([]Index, 0, total)
	cur := make(Index, len(space))
	for {
		out = append(out, append(Index(nil), cur...))
		dim := len(space) - 1
		for ; dim >= 0; dim-- {
			cur[dim]++
			if cur[dim] < space[dim] {
				break
			}
			cur[dim] = 0
		}
		if dim < 0 {
			return out
		}
	}
}

// offset is the row-major flat offset of ix in a grid of the given space
func offset(ix Index, space []int) int {
	off := 0
	for i, v := range ix {
		off = off*space[i] + v
	}
	return off
}

// cumulative returns the running sum of sizes with a leading zero, so
// element i is where entry i starts and the last element is the total
func cumulative(sizes []int) []int {
	out := make([]int, len(sizes)+1)
	for i, s := range sizes {
		out[i+1] = out[i] + s
	}
	return out
}

func product(shape []int) int {
	n := 1
	for _, s := range shape {
		n *= s
	}
	return n
}
