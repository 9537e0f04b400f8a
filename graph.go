package cfa

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// graphNamespace seeds the name-based UUIDs used as partition keys
var graphNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("https://github.com/qri-io/cfa-go/graph"))

// Getter materializes the selection sel of partition p while holding lock.
// asarray asks for a dense in-memory Array; every getter in this package
// produces one.
type Getter func(ctx context.Context, p *Partition, sel Extent, asarray bool, lock sync.Locker) (*Array, error)

// DefaultGetter slices p by sel and reads it under lock
func DefaultGetter(ctx context.Context, p *Partition, sel Extent, asarray bool, lock sync.Locker) (*Array, error) {
	q, err := p.Slice(sel...)
	if err != nil {
		return nil, err
	}
	if lock == nil {
		return q.Materialize(ctx)
	}
	return q.materialize(ctx, lock)
}

// GetterTask reads one partition object into part of a block
type GetterTask struct {
	Getter Getter
	// Key of the partition in Graph.Objects
	Key string
	// Selection is relative to the partition
	Selection Extent
	Asarray   bool
	Lock      sync.Locker
	// Origin places the result inside the task's block
	Origin []int
}

// Task computes one block of the partition space
type Task struct {
	Key      string
	Position Index
	// Extent of the block in the aggregated array
	Extent  Extent
	Getters []GetterTask
}

// Graph is the lazy computation of one aggregated variable, handed to an
// execution engine
type Graph struct {
	Name   string
	Shape  []int
	Dtype  Dtype
	Units  string
	Chunks [][]int
	// Objects holds every partition by key
	Objects map[string]*Partition
	// Tasks holds one task per block, keyed by TaskKey
	Tasks map[string]*Task
}

// TaskKey is the key of the block at pos of variable name
func TaskKey(name string, pos Index) string {
	parts := make([]string, 0, len(pos)+1)
	parts = append(parts, name)
	for _, p := range pos {
		parts = append(parts, fmt.Sprint(p))
	}
	return strings.Join(parts, ",")
}

// PartitionKey is a deterministic key for a partition of variable name:
// equal descriptions give equal keys across runs
func PartitionKey(name string, p *Partition) string {
	f := p.Fragment()
	desc := fmt.Sprintf("%s|%s|%s|%s|%s|%s", name, f.Position, p.Extent(), strings.Join(f.Location, ","), f.Address, f.Format)
	return "partition-" + uuid.NewSHA1(graphNamespace, []byte(desc)).String()
}

// NewGraph assembles the task graph of a plan
func NewGraph(name string, dtype Dtype, units string, plan *Plan) *Graph {
	g := &Graph{
		Name:    name,
		Shape:   append([]int(nil), plan.Shape...),
		Dtype:   dtype,
		Units:   units,
		Chunks:  plan.Chunks,
		Objects: map[string]*Partition{},
		Tasks:   make(map[string]*Task, len(plan.Partitions)),
	}
	for _, pp := range plan.Partitions {
		t := &Task{
			Key:      TaskKey(name, pp.Position),
			Position: pp.Position,
			Extent:   pp.Extent.Copy(),
		}
		for _, c := range pp.Contributions {
			key := PartitionKey(name, c.Partition)
			g.Objects[key] = c.Partition
			t.Getters = append(t.Getters, GetterTask{
				Getter:    DefaultGetter,
				Key:       key,
				Selection: allSlices(len(pp.Position)),
				Asarray:   true,
				Lock:      c.Partition.lock(),
				Origin:    c.Origin,
			})
		}
		g.Tasks[t.Key] = t
	}
	return g
}

func allSlices(rank int) Extent {
	e := make(Extent, rank)
	for i := range e {
		e[i] = All()
	}
	return e
}

// Keys lists the task keys in row-major block order
func (g *Graph) Keys() []string {
	tasks := make([]*Task, 0, len(g.Tasks))
	for _, t := range g.Tasks {
		tasks = append(tasks, t)
	}
	sort.Slice(tasks, func(i, j int) bool {
		a, b := tasks[i].Position, tasks[j].Position
		for d := range a {
			if a[d] != b[d] {
				return a[d] < b[d]
			}
		}
		return false
	})
	keys := make([]string, len(tasks))
	for i, t := range tasks {
		keys[i] = t.Key
	}
	return keys
}

// Run computes the block of task t
func (g *Graph) Run(ctx context.Context, t *Task) (*Array, error) {
	block := Filled(t.Extent.Shape(), 0)
	block.Units = g.Units
	for _, gt := range t.Getters {
		p, ok := g.Objects[gt.Key]
		if !ok {
			return nil, fmt.Errorf("task %s: no partition %s", t.Key, gt.Key)
		}
		get := gt.Getter
		if get == nil {
			get = DefaultGetter
		}
		a, err := get(ctx, p, gt.Selection, gt.Asarray, gt.Lock)
		if err != nil {
			return nil, err
		}
		if err := block.Place(a, gt.Origin); err != nil {
			return nil, fmt.Errorf("task %s: %w", t.Key, err)
		}
	}
	return block, nil
}
