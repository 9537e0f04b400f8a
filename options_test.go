package cfa

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const optionsHCL = `
decode_cfa         = true
use_active         = true
concurrency        = 8
target_chunk_bytes = 1048576

chunks = {
  time = 4
  lat  = "optimised"
}

substitution {
  find    = "$${base}"
  replace = "/data/"
}

substitution {
  find    = "$${remote}"
  replace = "https://example.org/archive/"
}
`

func TestParseOptions(t *testing.T) {
	opts, err := ParseOptions("options.hcl", []byte(optionsHCL))
	require.NoError(t, err)

	assert.True(t, opts.DecodeCFA)
	assert.True(t, opts.UseActive)
	assert.Equal(t, 8, opts.Concurrency)
	assert.Equal(t, int64(1<<20), opts.TargetChunkBytes)
	assert.Equal(t, DefaultOptions().CacheSize, opts.CacheSize)
	assert.Equal(t, map[string]string{"time": "4", "lat": "optimised"}, opts.Chunks)
	assert.Equal(t, []Substitution{
		{Find: "${base}", Replace: "/data/"},
		{Find: "${remote}", Replace: "https://example.org/archive/"},
	}, opts.Substitutions)
}

func TestParseOptionsDefaults(t *testing.T) {
	opts, err := ParseOptions("empty.hcl", []byte("decode_cfa = false\n"))
	require.NoError(t, err)
	want := DefaultOptions()
	want.DecodeCFA = false
	assert.Equal(t, want, opts)
}

func TestParseOptionsErrors(t *testing.T) {
	_, err := ParseOptions("bad.hcl", []byte("chunks = { time = 0 }\n"))
	assert.True(t, errors.Is(err, ErrChunkGeometry))

	_, err = ParseOptions("bad.hcl", []byte("concurrency = \"lots\"\n"))
	assert.Error(t, err)

	_, err = ParseOptions("bad.hcl", []byte("substitution {\n  find = \"x\"\n}\n"))
	assert.Error(t, err, "substitutions need a replacement")
}

func TestLoadOptions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cfa.hcl")
	require.NoError(t, os.WriteFile(path, []byte(optionsHCL), 0o644))
	opts, err := LoadOptions(path)
	require.NoError(t, err)
	assert.Len(t, opts.Substitutions, 2)

	_, err = LoadOptions(filepath.Join(t.TempDir(), "missing.hcl"))
	assert.True(t, errors.Is(err, os.ErrNotExist))
}

func TestMergeSubstitutions(t *testing.T) {
	declared := []Substitution{{"${base}", "/old/"}, {"${scratch}", "/tmp/"}}
	merged := mergeSubstitutions(declared, []Substitution{{"${base}", "/new/"}, {"${remote}", "s3://b/"}})
	assert.Equal(t, []Substitution{{"${base}", "/new/"}, {"${scratch}", "/tmp/"}, {"${remote}", "s3://b/"}}, merged)
	assert.Equal(t, "/old/", declared[0].Replace, "declared substitutions are left alone")
}
