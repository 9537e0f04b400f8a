package cfa

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func smallGraph(t *testing.T, chunks map[string]ChunkRequest, opener Opener) *Graph {
	t.Helper()
	plan, err := (&Planner{Units: "degC", Opener: opener, Locks: NewLockSet()}).Plan(smallMap(t), chunks)
	require.NoError(t, err)
	return NewGraph("tas", Float64, "degC", plan)
}

func TestGraphKeys(t *testing.T) {
	g := smallGraph(t, map[string]ChunkRequest{"time": {Size: 1}}, smallOpener())
	assert.Equal(t, []string{"tas,0,0", "tas,1,0", "tas,2,0", "tas,3,0"}, g.Keys())
	assert.Len(t, g.Objects, 4)

	again := smallGraph(t, map[string]ChunkRequest{"time": {Size: 1}}, smallOpener())
	for key, task := range g.Tasks {
		other, ok := again.Tasks[key]
		require.True(t, ok)
		require.Len(t, task.Getters, 1)
		assert.Equal(t, task.Getters[0].Key, other.Getters[0].Key, "partition keys are deterministic")
	}

	whole := smallGraph(t, map[string]ChunkRequest{"time": {Size: 4}}, smallOpener())
	require.Len(t, whole.Tasks, 1)
	task := whole.Tasks[TaskKey("tas", Index{0, 0})]
	require.NotNil(t, task)
	require.Len(t, task.Getters, 2)
	assert.NotEqual(t, task.Getters[0].Key, task.Getters[1].Key)
	assert.Equal(t, []int{2, 0}, task.Getters[1].Origin)
}

func TestExecutorCompute(t *testing.T) {
	ctx := context.Background()
	for _, chunks := range []map[string]ChunkRequest{
		nil,
		{"time": {Size: 1}},
		{"time": {Size: 3}, "lon": {Size: 2}},
		{"time": {Size: 4}},
	} {
		g := smallGraph(t, chunks, smallOpener())
		a, err := (&Executor{Concurrency: 2}).Compute(ctx, g)
		require.NoError(t, err, "chunks %v", chunks)
		require.Equal(t, []int{4, 3}, a.Shape)
		assert.Equal(t, "degC", a.Units)
		for i := 0; i < 12; i++ {
			assert.InDelta(t, float64(i), a.Values[i], 1e-9, "chunks %v element %d", chunks, i)
		}
	}
}

func TestExecutorComputeFails(t *testing.T) {
	opener := smallOpener()
	delete(opener.sources, "b.nc")
	g := smallGraph(t, nil, opener)

	_, err := (&Executor{}).Compute(context.Background(), g)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrSourceNotFound))
}

func TestGraphCustomGetter(t *testing.T) {
	g := smallGraph(t, nil, smallOpener())
	var mu sync.Mutex
	calls := 0
	for _, task := range g.Tasks {
		for i := range task.Getters {
			task.Getters[i].Getter = func(ctx context.Context, p *Partition, sel Extent, asarray bool, lock sync.Locker) (*Array, error) {
				mu.Lock()
				calls++
				mu.Unlock()
				assert.True(t, asarray)
				return Filled(p.Shape(), 7), nil
			}
		}
	}
	a, err := (&Executor{}).Compute(context.Background(), g)
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
	for _, v := range a.Values {
		assert.Equal(t, 7.0, v)
	}
}

func TestExecutorMean(t *testing.T) {
	ctx := context.Background()
	g := smallGraph(t, map[string]ChunkRequest{"time": {Size: 3}}, smallOpener())
	e := &Executor{Concurrency: 3}

	pt, err := e.Mean(ctx, g, nil, false)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 1}, pt.Shape)
	assert.Equal(t, []int{12}, pt.Count)
	assert.InDelta(t, 5.5, pt.Mean().Values[0], 1e-9)

	// mean over time leaves one value per longitude
	pt, err = e.Mean(ctx, g, []int{0}, false)
	require.NoError(t, err)
	mean := pt.Mean()
	assert.Equal(t, []int{1, 3}, mean.Shape)
	for lon, want := range []float64{4.5, 5.5, 6.5} {
		assert.InDelta(t, want, mean.Values[lon], 1e-9)
	}

	_, err = e.Mean(ctx, g, []int{2}, false)
	assert.True(t, errors.Is(err, ErrIndex))
}

// failingReducer fails every other call
type failingReducer struct {
	mu    sync.Mutex
	calls int
}

func (r *failingReducer) Mean(ctx context.Context, p *Partition, axes []int, skipMissing bool) (*Partial, error) {
	r.mu.Lock()
	r.calls++
	n := r.calls
	r.mu.Unlock()
	if n%2 == 0 {
		return nil, fmt.Errorf("storage compute unavailable")
	}
	a, err := p.Materialize(ctx)
	if err != nil {
		return nil, err
	}
	return partialMean(a, axes, skipMissing), nil
}

// wrongShapeReducer answers with a partial that doesn't fit
type wrongShapeReducer struct{}

func (wrongShapeReducer) Mean(context.Context, *Partition, []int, bool) (*Partial, error) {
	return NewPartial([]int{7}), nil
}

// hollowReducer answers with the right shape but no counts or sums
type hollowReducer struct{}

func (hollowReducer) Mean(_ context.Context, p *Partition, axes []int, _ bool) (*Partial, error) {
	return &Partial{Shape: reducedShape(p.Shape(), axes)}, nil
}

func TestActiveMeanFallback(t *testing.T) {
	ctx := context.Background()
	m := smallMap(t)
	for _, r := range []Reducer{&failingReducer{}, wrongShapeReducer{}, hollowReducer{}} {
		plan, err := (&Planner{Units: "degC", Opener: smallOpener(), Reducer: r}).Plan(m, nil)
		require.NoError(t, err)
		g := NewGraph("tas", Float64, "degC", plan)

		pt, err := (&Executor{}).Mean(ctx, g, nil, true)
		require.NoError(t, err, "reducer failures never surface")
		assert.InDelta(t, 5.5, pt.Mean().Values[0], 1e-9)
	}
}

func TestPartitionMeanRejectsHollowPartial(t *testing.T) {
	f, _ := smallMap(t).At(Index{0, 0})
	p := NewPartition(f, "degC", smallOpener(), nil).WithReducer(hollowReducer{})
	pt, err := p.Mean(context.Background(), []int{0}, false)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 3}, pt.Shape)
	assert.Len(t, pt.Count, 3)
	assert.Len(t, pt.Sum, 3)

	combined, err := CombinePartials(pt)
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float64{1.5, 2.5, 3.5}, combined.Mean().Values, 1e-9)
}

func TestPartialMean(t *testing.T) {
	a := &Array{Shape: []int{2, 2}, Values: []float64{1, math.NaN(), 3, 5}}

	pt := partialMean(a, []int{0, 1}, true)
	assert.Equal(t, []int{3}, pt.Count)
	assert.InDelta(t, 3.0, pt.Mean().Values[0], 1e-9)

	pt = partialMean(a, []int{0}, true)
	assert.Equal(t, []int{2, 1}, pt.Count)
	assert.Equal(t, []float64{2, 5}, pt.Mean().Values)

	pt = partialMean(a, []int{0, 1}, false)
	assert.True(t, math.IsNaN(pt.Mean().Values[0]))

	empty := NewPartial([]int{1})
	assert.True(t, math.IsNaN(empty.Mean().Values[0]))
}

func TestCombinePartials(t *testing.T) {
	a := &Partial{Shape: []int{2}, Count: []int{1, 2}, Sum: []float64{4, 6}}
	b := &Partial{Shape: []int{2}, Count: []int{3, 0}, Sum: []float64{8, 0}}

	pt, err := CombinePartials(a, b)
	require.NoError(t, err)
	assert.Equal(t, []int{4, 2}, pt.Count)
	assert.Equal(t, []float64{3, 3}, pt.Mean().Values)

	_, err = CombinePartials()
	assert.True(t, errors.Is(err, ErrIndex))
	_, err = CombinePartials(a, NewPartial([]int{3}))
	assert.True(t, errors.Is(err, ErrIndex))
}
