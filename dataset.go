package cfa

import (
	"context"
	"fmt"
	"sort"

	lru "github.com/hashicorp/golang-lru/v2"
)

// MetadataSource is a decoded view of a dataset's global and variable
// metadata, eg. the header of a CFA-netCDF file
type MetadataSource interface {
	// Conventions is the global Conventions attribute
	Conventions() string
	Attributes() map[string]interface{}
	Variables() []string
	Variable(name string) (*VariableMeta, error)
	Close() error
}

// VariableMeta describes one variable of a dataset
type VariableMeta struct {
	Name       string
	Shape      []int
	Dims       []string
	Dtype      Dtype
	Units      string
	Attributes map[string]interface{}
	// Fragments is set for aggregation variables
	Fragments *FragmentArrays
}

// Aggregated reports whether the variable is an aggregation variable
func (v *VariableMeta) Aggregated() bool {
	return v.Fragments != nil
}

// Dataset opens aggregation variables of a metadata source. Decoded fragment
// maps are cached until Close.
type Dataset struct {
	src    MetadataSource
	opener Opener
	opts   Options
	chunks map[string]ChunkRequest
	locks  *LockSet
	maps   *lru.Cache[string, *FragmentMap]
}

// Open wraps src. opener reads fragment data, usually a *Locator.
func Open(src MetadataSource, opener Opener, opts Options) (*Dataset, error) {
	chunks, err := ParseChunks(opts.Chunks)
	if err != nil {
		return nil, err
	}
	size := opts.CacheSize
	if size <= 0 {
		size = DefaultOptions().CacheSize
	}
	maps, err := lru.New[string, *FragmentMap](size)
	if err != nil {
		return nil, err
	}
	return &Dataset{
		src:    src,
		opener: opener,
		opts:   opts,
		chunks: chunks,
		locks:  NewLockSet(),
		maps:   maps,
	}, nil
}

// Conventions of the underlying source
func (ds *Dataset) Conventions() string { return ds.src.Conventions() }

// Variables lists the aggregation variables, sorted
func (ds *Dataset) Variables() ([]string, error) {
	var names []string
	for _, name := range ds.src.Variables() {
		v, err := ds.src.Variable(name)
		if err != nil {
			return nil, err
		}
		if v.Aggregated() {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names, nil
}

// Locks is the lock set shared by every partition of the dataset
func (ds *Dataset) Locks() *LockSet { return ds.locks }

// FragmentMap decodes the fragments of an aggregation variable
func (ds *Dataset) FragmentMap(name string) (*FragmentMap, *VariableMeta, error) {
	meta, err := ds.src.Variable(name)
	if err != nil {
		return nil, nil, err
	}
	if !ds.opts.DecodeCFA || !meta.Aggregated() {
		return nil, meta, fmt.Errorf("%w: %q is not decoded as an aggregation variable", ErrUnsupported, name)
	}
	if m, ok := ds.maps.Get(name); ok {
		return m, meta, nil
	}

	arrays := *meta.Fragments
	arrays.Substitutions = mergeSubstitutions(arrays.Substitutions, ds.opts.Substitutions)
	m, err := Decode(meta.Shape, meta.Dims, arrays)
	if err != nil {
		return nil, meta, fmt.Errorf("variable %q: %w", name, err)
	}
	ds.maps.Add(name, m)
	return m, meta, nil
}

// Variable is a planned aggregation variable ready for execution
type Variable struct {
	Name  string
	Shape []int
	Dims  []string
	Dtype Dtype
	Units string
	Map   *FragmentMap
	Plan  *Plan
	Graph *Graph
}

// Variable decodes and plans an aggregation variable. Nothing is read from
// the fragments.
func (ds *Dataset) Variable(name string) (*Variable, error) {
	m, meta, err := ds.FragmentMap(name)
	if err != nil {
		return nil, err
	}
	planner := &Planner{
		Units:            meta.Units,
		Opener:           ds.opener,
		Locks:            ds.locks,
		Dtype:            meta.Dtype,
		TargetChunkBytes: ds.opts.TargetChunkBytes,
	}
	if ds.opts.UseActive {
		planner.Reducer = ds.opts.Reducer
	}
	plan, err := planner.Plan(m, ds.chunks)
	if err != nil {
		return nil, fmt.Errorf("variable %q: %w", name, err)
	}
	return &Variable{
		Name:  name,
		Shape: m.Shape(),
		Dims:  m.Dims(),
		Dtype: meta.Dtype,
		Units: meta.Units,
		Map:   m,
		Plan:  plan,
		Graph: NewGraph(name, meta.Dtype, meta.Units, plan),
	}, nil
}

// Executor returns an executor sized by the dataset options
func (ds *Dataset) Executor() *Executor {
	return &Executor{Concurrency: ds.opts.Concurrency}
}

// Read computes a whole aggregation variable
func (ds *Dataset) Read(ctx context.Context, name string) (*Array, error) {
	v, err := ds.Variable(name)
	if err != nil {
		return nil, err
	}
	return ds.Executor().Compute(ctx, v.Graph)
}

// Close drops decoded metadata and closes the source
func (ds *Dataset) Close() error {
	ds.maps.Purge()
	return ds.src.Close()
}
