package cfa

import (
	"fmt"
	"os"

	"github.com/hashicorp/hcl/v2/hclsimple"
)

// Options control how a dataset's aggregation variables are decoded and
// partitioned
type Options struct {
	// Substitutions override or extend those declared by the dataset
	Substitutions []Substitution
	// Chunks maps dimension names to "optimised" or a chunk size. Empty means
	// one partition per fragment.
	Chunks map[string]string
	// DecodeCFA turns aggregation decoding on
	DecodeCFA bool
	// UseActive attaches Reducer to every partition
	UseActive bool
	Reducer   Reducer
	// Concurrency bounds the partitions read at once
	Concurrency int
	// TargetChunkBytes sizes optimised chunks
	TargetChunkBytes int64
	// CacheSize is the number of decoded fragment maps a dataset keeps
	CacheSize int
}

// DefaultOptions decode aggregations with one partition per fragment
func DefaultOptions() Options {
	return Options{
		DecodeCFA:        true,
		Concurrency:      4,
		TargetChunkBytes: DefaultTargetChunkBytes,
		CacheSize:        64,
	}
}

// optionsFile is the HCL layout of an options file:
//
//	decode_cfa  = true
//	concurrency = 8
//	chunks = {
//	  time = 4
//	  lat  = "optimised"
//	}
//	substitution {
//	  find    = "$${base}"
//	  replace = "/data/"
//	}
type optionsFile struct {
	Substitutions    []Substitution    `hcl:"substitution,block"`
	Chunks           map[string]string `hcl:"chunks,optional"`
	DecodeCFA        *bool             `hcl:"decode_cfa,optional"`
	UseActive        *bool             `hcl:"use_active,optional"`
	Concurrency      *int              `hcl:"concurrency,optional"`
	TargetChunkBytes *int64            `hcl:"target_chunk_bytes,optional"`
	CacheSize        *int              `hcl:"cache_size,optional"`
}

// LoadOptions reads options from an HCL file, starting from DefaultOptions
func LoadOptions(filename string) (Options, error) {
	src, err := os.ReadFile(filename)
	if err != nil {
		return Options{}, err
	}
	return ParseOptions(filename, src)
}

// ParseOptions decodes HCL options. filename only labels diagnostics and
// must end in ".hcl".
func ParseOptions(filename string, src []byte) (Options, error) {
	var f optionsFile
	if err := hclsimple.Decode(filename, src, nil, &f); err != nil {
		return Options{}, err
	}

	opts := DefaultOptions()
	if len(f.Substitutions) > 0 {
		opts.Substitutions = f.Substitutions
	}
	if len(f.Chunks) > 0 {
		opts.Chunks = f.Chunks
	}
	if f.DecodeCFA != nil {
		opts.DecodeCFA = *f.DecodeCFA
	}
	if f.UseActive != nil {
		opts.UseActive = *f.UseActive
	}
	if f.Concurrency != nil {
		opts.Concurrency = *f.Concurrency
	}
	if f.TargetChunkBytes != nil {
		opts.TargetChunkBytes = *f.TargetChunkBytes
	}
	if f.CacheSize != nil {
		opts.CacheSize = *f.CacheSize
	}
	if _, err := ParseChunks(opts.Chunks); err != nil {
		return Options{}, fmt.Errorf("%s: %w", filename, err)
	}
	return opts, nil
}

// mergeSubstitutions applies overrides on top of declared substitutions:
// an override with the same Find replaces the declared one, new ones are
// appended
func mergeSubstitutions(declared, overrides []Substitution) []Substitution {
	out := append([]Substitution(nil), declared...)
	for _, o := range overrides {
		replaced := false
		for i := range out {
			if out[i].Find == o.Find {
				out[i] = o
				replaced = true
			}
		}
		if !replaced {
			out = append(out, o)
		}
	}
	return out
}
