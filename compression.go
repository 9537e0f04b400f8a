package cfa

import (
	"fmt"
	"io"

	"github.com/qri-io/dataset/compression"
)

// CompressionMeta is the compressor section of zarr array metadata. A null
// compressor decodes to the zero value and leaves chunks untouched.
type CompressionMeta struct {
	ID      string `json:"id"`
	Cname   string `json:"cname,omitempty"`
	Clevel  int    `json:"clevel,omitempty"`
	Shuffle int    `json:"shuffle,omitempty"`
}

// numcodecs ids with a stream decoder available
var codecs = map[string]string{
	"gzip": "gzip",
	"zstd": "zst",
}

// Validate fails for compressors without a stream decoder
func (m CompressionMeta) Validate() error {
	if m.ID == "" {
		return nil
	}
	if _, ok := codecs[m.ID]; !ok {
		return fmt.Errorf("%w: zarr compressor %q", ErrUnsupported, m.ID)
	}
	return nil
}

// Decompressor wraps a chunk reader
func (m CompressionMeta) Decompressor(r io.ReadCloser) (io.ReadCloser, error) {
	if m.ID == "" {
		return r, nil
	}
	format, ok := codecs[m.ID]
	if !ok {
		return nil, fmt.Errorf("%w: zarr compressor %q", ErrUnsupported, m.ID)
	}
	return compression.Decompressor(format, r)
}
