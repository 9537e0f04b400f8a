package cfa

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeVar is a stored variable whose values are computed from their index
type fakeVar struct {
	shape []int
	units string
	value func(ix Index) float64
}

type fakeSource struct {
	vars   map[string]fakeVar
	closed bool
}

func (s *fakeSource) Stat(_ context.Context, address string) (VarInfo, error) {
	v, ok := s.vars[address]
	if !ok {
		return VarInfo{}, fmt.Errorf("%w: %s", ErrAddressNotFound, address)
	}
	return VarInfo{Shape: v.shape, Units: v.units, Dtype: Float64}, nil
}

func (s *fakeSource) Read(_ context.Context, address string, ext Extent) (*Array, error) {
	v, ok := s.vars[address]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrAddressNotFound, address)
	}
	ext, err := checkWindow(ext, v.shape)
	if err != nil {
		return nil, err
	}
	out := NewArray(ext.Shape())
	for i, rel := range positions(out.Shape) {
		ix := make(Index, len(rel))
		for d, r := range rel {
			ix[d] = ext[d].Start + r*ext[d].Step
		}
		out.Values[i] = v.value(ix)
	}
	out.Units = v.units
	return out, nil
}

func (s *fakeSource) Close() error {
	s.closed = true
	return nil
}

// fakeOpener serves sources by location and records every attempt
type fakeOpener struct {
	mu      sync.Mutex
	sources map[string]*fakeSource
	// fail makes Open return this error for the location
	fail     map[string]error
	attempts []string
}

func (o *fakeOpener) Open(_ context.Context, location, format string) (Source, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.attempts = append(o.attempts, location)
	if err, ok := o.fail[location]; ok {
		return nil, err
	}
	s, ok := o.sources[location]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotfound, location)
	}
	return s, nil
}

func (o *fakeOpener) Attempts() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]string(nil), o.attempts...)
}

// kelvinSource holds a (rows, 3) variable "tas" in K whose values count up
// from start degC
func kelvinSource(rows int, start float64) *fakeSource {
	return &fakeSource{vars: map[string]fakeVar{
		"tas": {
			shape: []int{rows, 3},
			units: "K",
			value: func(ix Index) float64 { return 273.15 + start + float64(ix[0]*3+ix[1]) },
		},
	}}
}

// smallMap is a (4, 3) variable split into two fragments along time
func smallMap(t *testing.T) *FragmentMap {
	t.Helper()
	m, err := Decode([]int{4, 3}, []string{"time", "lon"}, FragmentArrays{
		Shape:    ShapeTable{Rows: [][]int{{2, 2}, {3, -1}}},
		Location: Varying([]int{2, 1}, [][]string{{"a.nc"}, {"b.nc"}}),
		Address:  Scalar("tas"),
	})
	require.NoError(t, err)
	return m
}

func smallOpener() *fakeOpener {
	return &fakeOpener{sources: map[string]*fakeSource{
		"a.nc": kelvinSource(2, 0),
		"b.nc": kelvinSource(2, 6),
	}}
}

func TestPartitionChunkTranslation(t *testing.T) {
	m, err := Decode([]int{20, 180, 360}, []string{"time", "lat", "lon"}, twoFragmentArrays())
	require.NoError(t, err)

	plan, err := (&Planner{}).Plan(m, map[string]ChunkRequest{"time": {Size: 4}})
	require.NoError(t, err)
	assert.Equal(t, []int{4, 4, 2, 4, 4, 2}, plan.Chunks[0])
	assert.Equal(t, []int{6, 1, 1}, plan.Space)

	sum := 0
	for _, c := range plan.Chunks[0] {
		sum += c
	}
	assert.Equal(t, 20, sum)

	// partitions [14,18) and [18,20) both come from fragment 1
	for pos, want := range map[int]Slice{4: Span(4, 8), 5: Span(8, 10)} {
		pp, ok := plan.At(Index{pos, 0, 0})
		require.True(t, ok)
		require.Len(t, pp.Contributions, 1)
		part := pp.Contributions[0].Partition
		assert.Equal(t, Index{1, 0, 0}, part.Position())
		assert.Equal(t, want, part.Extent()[0])
		assert.Equal(t, pp.Extent[0], part.GlobalExtent()[0])
	}

	// a window of [16,20) is local [6,10) of fragment 1
	f, _ := m.At(Index{1, 0, 0})
	p, err := NewPartition(f, "K", nil, nil).WithExtent(Extent{Span(6, 10), All(), All()})
	require.NoError(t, err)
	assert.Equal(t, Strided(16, 20, 1), p.GlobalExtent()[0])

	_, err = NewPartition(f, "K", nil, nil).WithExtent(Extent{Span(6, 11), All(), All()})
	assert.True(t, errors.Is(err, ErrIndex))
}

func TestPartitionSliceChain(t *testing.T) {
	m, err := Decode([]int{20, 180, 360}, []string{"time", "lat", "lon"}, twoFragmentArrays())
	require.NoError(t, err)
	f, _ := m.At(Index{0, 0, 0})
	p := NewPartition(f, "K", nil, nil)

	q, err := p.Slice(Span(0, 3), All(), All())
	require.NoError(t, err)
	q, err = q.Slice(Span(0, 1), All(), All())
	require.NoError(t, err)
	assert.Equal(t, []int{1, 180, 360}, q.Shape())
	assert.Equal(t, Span(0, 1), q.Extent()[0])
	assert.Equal(t, 0, q.GlobalExtent()[0].Start)
	assert.Equal(t, 1, q.GlobalExtent()[0].Len())

	// slicing never touches the original handle
	assert.Equal(t, []int{10, 180, 360}, p.Shape())

	strided, err := p.Slice(Strided(1, 10, 2), Span(10, 20), All())
	require.NoError(t, err)
	strided, err = strided.Slice(Strided(0, 5, 2), All(), All())
	require.NoError(t, err)
	assert.Equal(t, []int{3, 10, 360}, strided.Shape())

	_, err = q.Slice(Span(0, 2), All(), All())
	assert.True(t, errors.Is(err, ErrIndex), "chain broken past the accumulated extent")
	_, err = q.Slice(All(), All())
	assert.True(t, errors.Is(err, ErrIndex), "rank can't change")
}

func TestPartitionMaterialize(t *testing.T) {
	ctx := context.Background()
	m := smallMap(t)
	opener := smallOpener()
	locks := NewLockSet()

	f, _ := m.At(Index{1, 0})
	p := NewPartition(f, "degC", opener, locks)
	a, err := p.Materialize(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int{2, 3}, a.Shape)
	assert.Equal(t, "degC", a.Units)
	for i, want := range []float64{6, 7, 8, 9, 10, 11} {
		assert.InDelta(t, want, a.Values[i], 1e-9)
	}

	again, err := p.Materialize(ctx)
	require.NoError(t, err)
	assert.True(t, a.Equal(again), "materializing twice gives identical values")
	assert.True(t, opener.sources["b.nc"].closed)
	assert.Equal(t, 1, locks.Len())

	q, err := p.Slice(Span(1, 2), Strided(0, 3, 2))
	require.NoError(t, err)
	a, err = q.Materialize(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2}, a.Shape)
	assert.InDelta(t, 9.0, a.Values[0], 1e-9)
	assert.InDelta(t, 11.0, a.Values[1], 1e-9)

	raw, err := p.WithPostProcess(nil).Materialize(ctx)
	require.NoError(t, err)
	assert.Equal(t, "K", raw.Units)
	assert.InDelta(t, 279.15, raw.Values[0], 1e-9)
}

func TestPartitionConcurrentMaterialize(t *testing.T) {
	ctx := context.Background()
	m := smallMap(t)
	opener := smallOpener()
	locks := NewLockSet()

	var wg sync.WaitGroup
	results := make([]*Array, 8)
	errs := make([]error, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			f, _ := m.At(Index{i % 2, 0})
			results[i], errs[i] = NewPartition(f, "degC", opener, locks).Materialize(ctx)
		}(i)
	}
	wg.Wait()
	for i := range results {
		require.NoError(t, errs[i])
		assert.True(t, results[i].Equal(results[i%2]))
	}
	assert.Equal(t, 2, locks.Len())
}

func TestPartitionConstant(t *testing.T) {
	m, err := Decode([]int{4, 3}, nil, FragmentArrays{
		Shape: ShapeTable{Rows: [][]int{{2, 2}, {3, -1}}},
		Value: Varying([]int{2, 1}, []float64{1.5, -4}),
	})
	require.NoError(t, err)

	f, _ := m.At(Index{1, 0})
	p, err := NewPartition(f, "K", nil, nil).Slice(Span(0, 1), All())
	require.NoError(t, err)
	a, err := p.Materialize(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []int{1, 3}, a.Shape)
	assert.Equal(t, []float64{-4, -4, -4}, a.Values)
	assert.Equal(t, "K", a.Units)
}

func TestPartitionSourceNotFound(t *testing.T) {
	m := smallMap(t)
	f, _ := m.At(Index{0, 0})
	opener := &fakeOpener{}

	_, err := NewPartition(f, "degC", opener, nil).Materialize(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrSourceNotFound))
	assert.Contains(t, err.Error(), "partition 0.0")

	_, err = NewPartition(f, "degC", nil, nil).Materialize(context.Background())
	assert.True(t, errors.Is(err, ErrSourceNotFound), "no opener")
}

func TestPartitionLocationFallback(t *testing.T) {
	f := &Fragment{
		Position:     Index{0},
		Shape:        []int{3},
		GlobalExtent: Extent{Span(0, 3)},
		Location:     []string{"/archive/a.nc", "https://example.org/a.nc", "a.nc"},
		Address:      "x",
	}
	src := &fakeSource{vars: map[string]fakeVar{
		"x": {shape: []int{3}, value: func(ix Index) float64 { return float64(ix[0]) }},
	}}
	opener := &fakeOpener{sources: map[string]*fakeSource{"https://example.org/a.nc": src}}

	a, err := NewPartition(f, "", opener, nil).Materialize(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []float64{0, 1, 2}, a.Values)
	assert.Equal(t, []string{"a.nc", "https://example.org/a.nc"}, opener.Attempts(), "relative, then remote, then absolute")
}

func TestPartitionDeclaredFormatUnsupported(t *testing.T) {
	f := &Fragment{
		Position:     Index{0},
		Shape:        []int{3},
		GlobalExtent: Extent{Span(0, 3)},
		Location:     []string{"a.grib", "b.grib"},
		Address:      "x",
		Format:       "grib",
	}
	opener := &fakeOpener{fail: map[string]error{
		"a.grib": fmt.Errorf("%w: fragment format %q", ErrUnsupported, "grib"),
	}}
	_, err := NewPartition(f, "", opener, nil).Materialize(context.Background())
	assert.True(t, errors.Is(err, ErrUnsupported))
	assert.Equal(t, []string{"a.grib"}, opener.Attempts(), "an unreadable declared format is fatal")
}

func TestPartitionDroppedDimensions(t *testing.T) {
	// the aggregation has a leading size-1 time dimension the file doesn't
	// store
	f := &Fragment{
		Position:     Index{0, 0},
		Shape:        []int{1, 4},
		GlobalExtent: Extent{Span(0, 1), Span(0, 4)},
		Location:     []string{"a.nc"},
		Address:      "x",
	}
	src := &fakeSource{vars: map[string]fakeVar{
		"x": {shape: []int{4}, value: func(ix Index) float64 { return float64(10 * ix[0]) }},
	}}
	opener := &fakeOpener{sources: map[string]*fakeSource{"a.nc": src}}

	p, err := NewPartition(f, "", opener, nil).Slice(All(), Span(1, 3))
	require.NoError(t, err)
	a, err := p.Materialize(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2}, a.Shape)
	assert.Equal(t, []float64{10, 20}, a.Values)

	ext, err := sourceExtent(Extent{Span(0, 1), Span(0, 4)}, []int{1, 4}, []int{3})
	assert.Nil(t, ext)
	assert.True(t, errors.Is(err, ErrExtentOutOfRange))
}

func TestPartitionErrors(t *testing.T) {
	ctx := context.Background()
	m := smallMap(t)
	f, _ := m.At(Index{0, 0})

	opener := smallOpener()
	_, err := NewPartition(f, "m", opener, nil).Materialize(ctx)
	assert.True(t, errors.Is(err, ErrUnits))

	g := *f
	g.Address = "pr"
	_, err = NewPartition(&g, "degC", opener, nil).Materialize(ctx)
	assert.True(t, errors.Is(err, ErrAddressNotFound))

	// the stored variable is smaller than the fragment claims
	opener.sources["a.nc"] = kelvinSource(1, 0)
	_, err = NewPartition(f, "degC", opener, nil).Materialize(ctx)
	assert.True(t, errors.Is(err, ErrExtentOutOfRange))

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	_, err = NewPartition(f, "degC", smallOpener(), nil).Materialize(cancelled)
	assert.True(t, errors.Is(err, context.Canceled))
}
