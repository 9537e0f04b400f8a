package cfa

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// PostProcess adjusts freshly read values. from is the units reported by the
// fragment source, to the units of the aggregated variable.
type PostProcess func(a *Array, from, to string) error

// Partition is a lazy handle on a window of one fragment. It never changes
// after construction: Slice and WithExtent return new partitions, so handles
// can be shared freely between goroutines.
type Partition struct {
	frag   *Fragment
	extent Extent
	global Extent
	units  string

	opener  Opener
	locks   *LockSet
	reducer Reducer
	post    PostProcess
}

// NewPartition is a handle on all of fragment f. units are the units of the
// aggregated variable; values are conformed to them on materialization.
func NewPartition(f *Fragment, units string, opener Opener, locks *LockSet) *Partition {
	ext := f.Extent
	if ext == nil {
		ext = FullExtent(f.Shape)
	}
	p := &Partition{
		frag:   f,
		units:  units,
		opener: opener,
		locks:  locks,
		post:   ConformUnits,
	}
	p.extent, p.global = ext.Copy(), translate(ext, f.GlobalExtent)
	return p
}

func (p *Partition) clone() *Partition {
	c := *p
	c.extent = p.extent.Copy()
	c.global = p.global.Copy()
	return &c
}

// translate maps an extent within a fragment to the aggregated array
func translate(ext, fragGlobal Extent) Extent {
	out := make(Extent, len(ext))
	for d, s := range ext {
		origin := fragGlobal[d].Start
		out[d] = Strided(origin+s.Start, origin+s.Stop, max(s.Step, 1))
	}
	return out
}

// WithExtent returns a handle on the same fragment reading ext instead,
// given relative to the whole fragment
func (p *Partition) WithExtent(ext Extent) (*Partition, error) {
	resolved, err := ext.Resolve(p.frag.Shape)
	if err != nil {
		return nil, err
	}
	for d, s := range resolved {
		if s.Len() > 0 && s.Start+(s.Len()-1)*s.Step >= p.frag.Shape[d] {
			return nil, fmt.Errorf("%w: extent %s outside fragment %s of shape %v", ErrIndex, ext, p.frag.Position, p.frag.Shape)
		}
	}
	c := p.clone()
	c.extent, c.global = resolved, translate(resolved, p.frag.GlobalExtent)
	return c, nil
}

// WithReducer returns a handle that tries r before reading data locally for
// reductions
func (p *Partition) WithReducer(r Reducer) *Partition {
	c := p.clone()
	c.reducer = r
	return c
}

// WithPostProcess replaces the unit conformance applied after reading. A nil
// fn leaves values as read.
func (p *Partition) WithPostProcess(fn PostProcess) *Partition {
	c := p.clone()
	c.post = fn
	return c
}

// Slice composes sel with the accumulated extent. Nothing is read. sel is
// relative to the current view and must have one Slice per dimension.
func (p *Partition) Slice(sel ...Slice) (*Partition, error) {
	ext, err := CombineExtent(p.extent, sel, p.frag.Shape)
	if err != nil {
		return nil, fmt.Errorf("partition %s: %w", p.frag.Position, err)
	}
	global, err := CombineExtent(p.global, sel, stops(p.global))
	if err != nil {
		return nil, fmt.Errorf("partition %s: %w", p.frag.Position, err)
	}
	c := p.clone()
	c.extent, c.global = ext, global
	return c, nil
}

func stops(e Extent) []int {
	out := make([]int, len(e))
	for i, s := range e {
		out[i] = s.Stop
	}
	return out
}

// Position of the fragment in fragment space
func (p *Partition) Position() Index { return p.frag.Position }

// Fragment is the descriptor the partition reads
func (p *Partition) Fragment() *Fragment { return p.frag }

// Shape of the data Materialize returns
func (p *Partition) Shape() []int { return p.extent.Shape() }

// Extent is the window read from the fragment data
func (p *Partition) Extent() Extent { return p.extent.Copy() }

// GlobalExtent places the window in the aggregated array
func (p *Partition) GlobalExtent() Extent { return p.global.Copy() }

// Units of the aggregated variable
func (p *Partition) Units() string { return p.units }

func (p *Partition) String() string {
	return fmt.Sprintf("partition %s %s of %s", p.frag.Position, p.extent, strings.Join(p.frag.Location, "|"))
}

func (p *Partition) lock() sync.Locker {
	if p.frag.Constant() {
		return noLock{}
	}
	if p.locks == nil {
		return &sync.Mutex{}
	}
	return p.locks.Lock(p.frag.Location)
}

type noLock struct{}

func (noLock) Lock()   {}
func (noLock) Unlock() {}

// Materialize reads the partition's window. Reading twice gives identical
// results.
func (p *Partition) Materialize(ctx context.Context) (*Array, error) {
	return p.materialize(ctx, p.lock())
}

// materialize holds lock while the source is open
func (p *Partition) materialize(ctx context.Context, lock sync.Locker) (a *Array, err error) {
	format := p.frag.Format
	if format == "" {
		format = "guess"
	}
	timer := prometheus.NewTimer(partitionReadSeconds.WithLabelValues(format))
	ctx, span := tracer.Start(ctx, "cfa.Partition.Materialize", trace.WithAttributes(
		attribute.String("cfa.position", p.frag.Position.String()),
		attribute.String("cfa.extent", p.extent.String()),
		attribute.String("cfa.format", format),
	))
	defer func() {
		timer.ObserveDuration()
		outcome := "ok"
		if err != nil {
			outcome = "error"
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			err = fmt.Errorf("partition %s: %w", p.frag.Position, err)
		}
		partitionReads.WithLabelValues(format, outcome).Inc()
		span.End()
	}()

	if p.frag.Constant() {
		a = Filled(p.Shape(), *p.frag.FillValue)
		a.Units = p.units
		return a, nil
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	lock.Lock()
	a, from, err := p.read(ctx)
	lock.Unlock()
	if err != nil {
		return nil, err
	}

	if p.post != nil {
		if err := p.post(a, from, p.units); err != nil {
			return nil, err
		}
	}
	if a.Units == "" {
		a.Units = p.units
	}
	return a, nil
}

// read tries the fragment's locations in order, returning the values and
// the units the source reported
func (p *Partition) read(ctx context.Context) (*Array, string, error) {
	if p.opener == nil {
		return nil, "", fmt.Errorf("%w: no opener configured", ErrSourceNotFound)
	}
	candidates := OrderLocations(p.frag.Location)
	var errs []error
	for _, loc := range candidates {
		src, err := p.opener.Open(ctx, loc, p.frag.Format)
		if err != nil {
			if p.frag.Format != "" && errors.Is(err, ErrUnsupported) {
				return nil, "", err
			}
			logf("partition %s: can't open %s: %v", p.frag.Position, loc, err)
			errs = append(errs, err)
			if ctx.Err() != nil {
				break
			}
			continue
		}
		a, units, err := p.readSource(ctx, src)
		if cerr := src.Close(); err == nil && cerr != nil {
			err = cerr
		}
		if err != nil {
			return nil, "", fmt.Errorf("%s: %w", loc, err)
		}
		return a, units, nil
	}
	return nil, "", fmt.Errorf("%w: tried %s: %w", ErrSourceNotFound, strings.Join(candidates, ", "), errors.Join(errs...))
}

func (p *Partition) readSource(ctx context.Context, src Source) (*Array, string, error) {
	info, err := src.Stat(ctx, p.frag.Address)
	if err != nil {
		return nil, "", err
	}
	ext, err := sourceExtent(p.extent, p.frag.Shape, info.Shape)
	if err != nil {
		return nil, "", err
	}
	if err := ctx.Err(); err != nil {
		return nil, "", err
	}
	a, err := src.Read(ctx, p.frag.Address, ext)
	if err != nil {
		return nil, "", err
	}
	// put back any size-1 dimensions the source didn't store
	if a, err = a.Reshape(p.Shape()); err != nil {
		return nil, "", err
	}
	units := a.Units
	if units == "" {
		units = info.Units
	}
	return a, units, nil
}

// sourceExtent fits the partition's window to the shape of the stored
// variable. Fragments may omit size-1 dimensions of the aggregated array;
// those are dropped from the window, leftmost first.
func sourceExtent(ext Extent, fragShape, stored []int) (Extent, error) {
	if drop := len(ext) - len(stored); drop > 0 {
		trimmed := make(Extent, 0, len(stored))
		for d, s := range ext {
			if drop > 0 && fragShape[d] == 1 {
				drop--
				continue
			}
			trimmed = append(trimmed, s)
		}
		ext = trimmed
	}
	if len(ext) != len(stored) {
		return nil, fmt.Errorf("%w: %d-d window for stored shape %v", ErrExtentOutOfRange, len(ext), stored)
	}
	for d, s := range ext {
		if s.Len() > 0 && s.Start+(s.Len()-1)*max(s.Step, 1) >= stored[d] {
			return nil, fmt.Errorf("%w: window %s for stored shape %v", ErrExtentOutOfRange, ext, stored)
		}
	}
	return ext, nil
}
