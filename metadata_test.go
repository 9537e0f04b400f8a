package cfa

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"math"
	"testing"
)

// https://zarr.readthedocs.io/en/stable/spec/v2.html#metadata
const specExample = `{
  "chunks": [
    1000,
    1000
  ],
	"compressor": {
			"id": "blosc",
			"cname": "lz4",
			"clevel": 5,
			"shuffle": 1
	},
	"dtype": "<f8",
	"fill_value": "NaN",
	"filters": [
			{"id": "delta", "dtype": "<f8", "astype": "<f4"}
	],
	"order": "C",
	"shape": [
			10000,
			10000
	],
	"zarr_format": 2
}`

func TestMetadataSerialization(t *testing.T) {
	m := &ArrayMeta{}
	if err := json.Unmarshal([]byte(specExample), m); err != nil {
		t.Fatal(err)
	}
	if m.Dtype != Float64 {
		t.Errorf("dtype mismatch. expected: %s, got: %s", Float64, m.Dtype)
	}
	if m.Compressor.ID != "blosc" || m.Compressor.Cname != "lz4" {
		t.Errorf("compressor mismatch. got: %#v", m.Compressor)
	}
	if f, err := m.Fill(); err != nil || !math.IsNaN(f) {
		t.Errorf("expected NaN fill, got: %v %v", f, err)
	}
	if err := m.Validate(); !errors.Is(err, ErrUnsupported) {
		t.Errorf("filters should be unsupported, got: %v", err)
	}

	m.Filters = nil
	if err := m.Validate(); !errors.Is(err, ErrUnsupported) {
		t.Errorf("blosc should be unsupported, got: %v", err)
	}
	m.Compressor = CompressionMeta{ID: "zstd", Clevel: 3}
	if err := m.Validate(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	m.Order = "F"
	if err := m.Validate(); !errors.Is(err, ErrUnsupported) {
		t.Errorf("fortran order should be unsupported, got: %v", err)
	}
}

func TestChunkKey(t *testing.T) {
	m := &ArrayMeta{}
	if got := m.ChunkKey(Index{1, 0, 3}); got != "1.0.3" {
		t.Errorf("key mismatch. expected: %q, got: %q", "1.0.3", got)
	}
	m.DimensionSeparator = "/"
	if got := m.ChunkKey(Index{1, 0, 3}); got != "1/0/3" {
		t.Errorf("key mismatch. expected: %q, got: %q", "1/0/3", got)
	}
	if got := m.ChunkKey(Index{}); got != "0" {
		t.Errorf("scalar key mismatch. expected: %q, got: %q", "0", got)
	}
}

func TestFillValues(t *testing.T) {
	cases := []struct {
		in   interface{}
		want float64
	}{
		{nil, math.NaN()},
		{json.Number("2.5"), 2.5},
		{float64(-1), -1},
		{true, 1},
		{FillValueInfinity, math.Inf(1)},
		{FillValueNegativeInfinity, math.Inf(-1)},
	}
	for _, c := range cases {
		got, err := (&ArrayMeta{FillValue: c.in}).Fill()
		if err != nil {
			t.Fatal(err)
		}
		if got != c.want && !(math.IsNaN(got) && math.IsNaN(c.want)) {
			t.Errorf("fill %v mismatch. expected: %v, got: %v", c.in, c.want, got)
		}
	}
	if _, err := (&ArrayMeta{FillValue: "bogus"}).Fill(); !errors.Is(err, ErrUnsupported) {
		t.Errorf("expected ErrUnsupported, got: %v", err)
	}
}

func TestDtype(t *testing.T) {
	good := map[string]string{
		"<f8":    "float64",
		">i2":    "int16",
		"|u1":    "uint8",
		"|b1":    "bool8",
		"&lt;f4": "float32",
	}
	for in, human := range good {
		dt, err := ParseDtype(in)
		if err != nil {
			t.Errorf("parsing %q: %v", in, err)
			continue
		}
		if dt.Human() != human {
			t.Errorf("%q mismatch. expected: %s, got: %s", in, human, dt.Human())
		}
	}
	for _, in := range []string{"f8", "<c16", "<V10", "<f3", "?f8"} {
		if _, err := ParseDtype(in); err == nil {
			t.Errorf("expected %q to fail", in)
		}
	}

	dt, err := ParseCDLType("short")
	if err != nil {
		t.Fatal(err)
	}
	if dt.ByteSize != 2 || dt.BasicType != BTInteger {
		t.Errorf("short mismatch. got: %s", dt)
	}
	if _, err := ParseCDLType("string"); !errors.Is(err, ErrUnsupported) {
		t.Errorf("expected ErrUnsupported, got: %v", err)
	}
}

func TestDtypeDecode(t *testing.T) {
	var buf bytes.Buffer
	for _, v := range []int16{-2, 7, 300} {
		binary.Write(&buf, binary.BigEndian, v)
	}
	dt, _ := ParseDtype(">i2")
	vals, err := dt.Decode(&buf, 3)
	if err != nil {
		t.Fatal(err)
	}
	for i, want := range []float64{-2, 7, 300} {
		if vals[i] != want {
			t.Errorf("value %d mismatch. expected: %v, got: %v", i, want, vals[i])
		}
	}

	if _, err := dt.Decode(bytes.NewReader([]byte{1}), 1); err == nil {
		t.Error("expected a short read to fail")
	}
}
