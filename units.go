package cfa

import (
	"fmt"
	"strings"
)

// linearUnit is value_in_base = value*scale + offset
type linearUnit struct {
	base   string
	scale  float64
	offset float64
}

var units = map[string]linearUnit{}

func defineUnit(u linearUnit, names ...string) {
	for _, n := range names {
		units[n] = u
	}
}

func init() {
	defineUnit(linearUnit{"K", 1, 0}, "K", "kelvin", "degK", "degree_K", "degrees_K")
	defineUnit(linearUnit{"K", 1, 273.15}, "degC", "C", "celsius", "degree_C", "degrees_C", "deg_C", "degree_Celsius", "degrees_Celsius")
	defineUnit(linearUnit{"K", 5.0 / 9.0, 273.15 - 32*5.0/9.0}, "degF", "F", "fahrenheit", "degree_F", "degrees_F")

	defineUnit(linearUnit{"m", 1, 0}, "m", "meter", "metre", "meters", "metres")
	defineUnit(linearUnit{"m", 1e3, 0}, "km", "kilometer", "kilometre")
	defineUnit(linearUnit{"m", 1e-2, 0}, "cm")
	defineUnit(linearUnit{"m", 1e-3, 0}, "mm")

	defineUnit(linearUnit{"Pa", 1, 0}, "Pa", "pascal")
	defineUnit(linearUnit{"Pa", 1e2, 0}, "hPa", "mbar", "millibar")
	defineUnit(linearUnit{"Pa", 1e3, 0}, "kPa")
	defineUnit(linearUnit{"Pa", 1e5, 0}, "bar")

	defineUnit(linearUnit{"s", 1, 0}, "s", "sec", "second", "seconds")
	defineUnit(linearUnit{"s", 60, 0}, "min", "minute", "minutes")
	defineUnit(linearUnit{"s", 3600, 0}, "h", "hr", "hour", "hours")
	defineUnit(linearUnit{"s", 86400, 0}, "d", "day", "days")

	defineUnit(linearUnit{"kg", 1, 0}, "kg", "kilogram")
	defineUnit(linearUnit{"kg", 1e-3, 0}, "g", "gram")

	defineUnit(linearUnit{"1", 1, 0}, "1")
	defineUnit(linearUnit{"1", 1e-2, 0}, "%", "percent")
}

// ConformUnits converts the values of a in place from units from to units
// to. Equal or unset units are left alone. Anything this package can't
// relate is an ErrUnits.
func ConformUnits(a *Array, from, to string) error {
	from, to = strings.TrimSpace(from), strings.TrimSpace(to)
	if from == "" || to == "" || from == to {
		return nil
	}
	f, ok := units[from]
	if !ok {
		return fmt.Errorf("%w: unknown unit %q", ErrUnits, from)
	}
	t, ok := units[to]
	if !ok {
		return fmt.Errorf("%w: unknown unit %q", ErrUnits, to)
	}
	if f.base != t.base {
		return fmt.Errorf("%w: %q and %q measure different quantities", ErrUnits, from, to)
	}

	// compose from->base with base->to into one affine map
	scale := f.scale / t.scale
	offset := (f.offset - t.offset) / t.scale
	for i, v := range a.Values {
		a.Values[i] = v*scale + offset
	}
	a.Units = to
	return nil
}
