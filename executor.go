package cfa

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"
)

// Executor runs task graphs on a bounded pool of goroutines. The first
// failing task cancels the rest of that call.
type Executor struct {
	// Concurrency caps the tasks in flight, no limit when <= 0
	Concurrency int
}

func (e *Executor) group(ctx context.Context) (*errgroup.Group, context.Context) {
	eg, ctx := errgroup.WithContext(ctx)
	if e != nil && e.Concurrency > 0 {
		eg.SetLimit(e.Concurrency)
	}
	return eg, ctx
}

// Compute materializes the whole variable
func (e *Executor) Compute(ctx context.Context, g *Graph) (*Array, error) {
	out := NewArray(g.Shape)
	out.Units = g.Units
	var mu sync.Mutex

	eg, ctx := e.group(ctx)
	for _, key := range g.Keys() {
		t := g.Tasks[key]
		eg.Go(func() error {
			block, err := g.Run(ctx, t)
			if err != nil {
				return err
			}
			origin := make([]int, len(t.Extent))
			for d, s := range t.Extent {
				origin[d] = s.Start
			}
			mu.Lock()
			defer mu.Unlock()
			return out.Place(block, origin)
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// Mean reduces the variable over axes, nil meaning all of them. Each
// partition computes a partial, using its Reducer when it has one.
func (e *Executor) Mean(ctx context.Context, g *Graph, axes []int, skipMissing bool) (*Partial, error) {
	axes, err := normalizeAxes(axes, len(g.Shape))
	if err != nil {
		return nil, err
	}
	total := NewPartial(reducedShape(g.Shape, axes))
	reduced := make([]bool, len(g.Shape))
	for _, ax := range axes {
		reduced[ax] = true
	}
	var mu sync.Mutex

	eg, ctx := e.group(ctx)
	for _, key := range g.Keys() {
		t := g.Tasks[key]
		for _, gt := range t.Getters {
			eg.Go(func() error {
				p, ok := g.Objects[gt.Key]
				if !ok {
					return fmt.Errorf("task %s: no partition %s", t.Key, gt.Key)
				}
				q, err := p.Slice(gt.Selection...)
				if err != nil {
					return err
				}
				pt, err := q.Mean(ctx, axes, skipMissing)
				if err != nil {
					return err
				}
				origin := make([]int, len(t.Extent))
				for d, s := range t.Extent {
					if !reduced[d] {
						origin[d] = s.Start + gt.Origin[d]
					}
				}
				mu.Lock()
				defer mu.Unlock()
				return total.AddAt(pt, origin)
			})
		}
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	return total, nil
}
