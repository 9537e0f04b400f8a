package cfa

import (
	"bytes"
	"errors"
	"log"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func singleFragmentMap(t *testing.T, shape []int) *FragmentMap {
	t.Helper()
	rows := make([][]int, len(shape))
	for d, n := range shape {
		rows[d] = []int{n}
	}
	m, err := Decode(shape, nil, FragmentArrays{
		Shape:    ShapeTable{Rows: rows},
		Location: Scalar([]string{"a.nc"}),
		Address:  Scalar("x"),
	})
	require.NoError(t, err)
	return m
}

func TestChunkSizes(t *testing.T) {
	cases := []struct {
		frags []int
		c     int
		want  []int
	}{
		{[]int{10, 10}, 4, []int{4, 4, 2, 4, 4, 2}},
		{[]int{10, 10}, 5, []int{5, 5, 5, 5}},
		{[]int{10, 10}, 20, []int{20}},
		{[]int{10, 10}, 100, []int{20}},
		{[]int{3, 3, 3}, 6, []int{6, 3}},
		{[]int{2, 2, 2, 2}, 4, []int{4, 4}},
		{[]int{2, 7}, 3, []int{2, 3, 3, 1}},
		{[]int{5}, 5, []int{5}},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, chunkSizes(c.frags, c.c), "fragments %v chunk %d", c.frags, c.c)
	}
}

func TestParseChunkRequest(t *testing.T) {
	c, err := ParseChunkRequest("optimised")
	require.NoError(t, err)
	assert.True(t, c.Optimised)
	c, err = ParseChunkRequest(" Auto ")
	require.NoError(t, err)
	assert.True(t, c.Optimised)
	c, err = ParseChunkRequest("12")
	require.NoError(t, err)
	assert.Equal(t, ChunkRequest{Size: 12}, c)
	assert.Equal(t, "12", c.String())

	for _, bad := range []string{"0", "-3", "big", ""} {
		_, err := ParseChunkRequest(bad)
		assert.True(t, errors.Is(err, ErrChunkGeometry), bad)
	}

	_, err = ParseChunks(map[string]string{"time": "4", "lat": "nope"})
	assert.True(t, errors.Is(err, ErrChunkGeometry))
}

func TestPlanFragmentPerPartition(t *testing.T) {
	m, err := Decode([]int{20, 180, 360}, []string{"time", "lat", "lon"}, twoFragmentArrays())
	require.NoError(t, err)

	plan, err := (&Planner{Units: "K"}).Plan(m, nil)
	require.NoError(t, err)
	assert.Equal(t, m.Sizes(), plan.Chunks)
	assert.Equal(t, m.Space(), plan.Space)
	assert.Empty(t, plan.Uneven)
	require.Len(t, plan.Partitions, m.Len())

	for _, pp := range plan.Partitions {
		require.Len(t, pp.Contributions, 1)
		c := pp.Contributions[0]
		f, _ := m.At(pp.Position)
		assert.Equal(t, f, c.Partition.Fragment())
		assert.Equal(t, f.Extent, c.Partition.Extent())
		assert.Equal(t, []int{0, 0, 0}, c.Origin)
		assert.Equal(t, f.Shape, pp.Shape())
		assert.Equal(t, "K", c.Partition.Units())
	}
}

func TestPlanSpanningFragments(t *testing.T) {
	m, err := Decode([]int{20, 3}, []string{"time", "lon"}, FragmentArrays{
		Shape:    ShapeTable{Rows: [][]int{{5, 5, 5, 5}, {3, -1, -1, -1}}},
		Location: Varying([]int{4, 1}, [][]string{{"a.nc"}, {"b.nc"}, {"c.nc"}, {"d.nc"}}),
		Address:  Scalar("tas"),
	})
	require.NoError(t, err)

	plan, err := (&Planner{}).Plan(m, map[string]ChunkRequest{"time": {Size: 10}})
	require.NoError(t, err)
	assert.Equal(t, [][]int{{10, 10}, {3}}, plan.Chunks)
	assert.Empty(t, plan.Uneven)

	pp, ok := plan.At(Index{1, 0})
	require.True(t, ok)
	assert.Equal(t, Extent{Span(10, 20), Span(0, 3)}, pp.Extent)
	require.Len(t, pp.Contributions, 2)
	assert.Equal(t, Index{2, 0}, pp.Contributions[0].Partition.Position())
	assert.Equal(t, []int{0, 0}, pp.Contributions[0].Origin)
	assert.Equal(t, Index{3, 0}, pp.Contributions[1].Partition.Position())
	assert.Equal(t, []int{5, 0}, pp.Contributions[1].Origin)

	plan, err = (&Planner{}).Plan(m, map[string]ChunkRequest{"time": {Size: 64}})
	require.NoError(t, err)
	assert.Equal(t, []int{1, 1}, plan.Space, "a chunk larger than the dimension gives one partition")
	assert.Len(t, plan.Partitions[0].Contributions, 4)
}

func TestPlanUneven(t *testing.T) {
	var buf bytes.Buffer
	old := Logger
	SetLogger(log.New(&buf, "", 0))
	defer SetLogger(old)

	m, err := Decode([]int{20, 180, 360}, []string{"time", "lat", "lon"}, twoFragmentArrays())
	require.NoError(t, err)

	plan, err := (&Planner{}).Plan(m, map[string]ChunkRequest{"time": {Size: 3}})
	require.NoError(t, err)
	assert.Equal(t, []int{3, 3, 3, 1, 3, 3, 3, 1}, plan.Chunks[0])
	assert.Equal(t, []string{"time"}, plan.Uneven)
	assert.Contains(t, buf.String(), `"time"`)

	plan, err = (&Planner{}).Plan(m, map[string]ChunkRequest{"time": {Size: 5}, "lon": {Size: 90}})
	require.NoError(t, err)
	assert.Empty(t, plan.Uneven)
	assert.Equal(t, []int{4, 1, 4}, plan.Space)
}

func TestPlanChunkGeometryErrors(t *testing.T) {
	m := singleFragmentMap(t, []int{8, 8})

	_, err := (&Planner{}).Plan(m, map[string]ChunkRequest{"depth": {Size: 2}})
	assert.True(t, errors.Is(err, ErrChunkGeometry))

	_, err = (&Planner{}).Plan(m, map[string]ChunkRequest{"dim0": {Size: 0}})
	assert.True(t, errors.Is(err, ErrChunkGeometry))

	_, err = (&Planner{}).Plan(m, map[string]ChunkRequest{"dim0": {Size: -2}})
	assert.True(t, errors.Is(err, ErrChunkGeometry))
}

func TestPlanOptimised(t *testing.T) {
	m := singleFragmentMap(t, []int{1024, 1024})

	// 8MiB of float64 into 2MiB chunks is 4 chunks, 2 along each dimension
	planner := &Planner{Dtype: Float64, TargetChunkBytes: 2 << 20}
	plan, err := planner.Plan(m, map[string]ChunkRequest{
		"dim0": {Optimised: true},
		"dim1": {Optimised: true},
	})
	require.NoError(t, err)
	assert.Equal(t, [][]int{{512, 512}, {512, 512}}, plan.Chunks)
	assert.Len(t, plan.Partitions, 4)

	// a fixed dimension counts towards the chunk volume
	plan, err = planner.Plan(m, map[string]ChunkRequest{
		"dim0": {Size: 512},
		"dim1": {Optimised: true},
	})
	require.NoError(t, err)
	assert.Equal(t, []int{512, 512}, plan.Chunks[1])

	// small arrays stay whole
	plan, err = (&Planner{Dtype: Float64}).Plan(m, map[string]ChunkRequest{"dim0": {Optimised: true}})
	require.NoError(t, err)
	assert.Equal(t, []int{1024}, plan.Chunks[0])
}
