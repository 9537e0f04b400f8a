package cfa

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"sync"

	billy "github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/util"
	"gocloud.dev/blob"
	"gocloud.dev/gcerrors"
)

const (
	MemoryStoreType = "MemoryStore"
	LocalStoreType  = "LocalStore"
	BlobStoreType   = "BlobStore"
	filePermBits    = 0o644
)

var ErrNotfound = errors.New("not found")

// Store is a key/value view of the place a fragment lives. Keys are
// "/"-separated paths relative to the store root.
type Store interface {
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	Put(ctx context.Context, key string, val io.Reader) error
	Type() string
}

type MemoryStore struct {
	lk   sync.Mutex
	data map[string][]byte
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		data: map[string][]byte{},
	}
}

func (s *MemoryStore) Type() string { return MemoryStoreType }

func (s *MemoryStore) Get(_ context.Context, key string) (io.ReadCloser, error) {
	s.lk.Lock()
	defer s.lk.Unlock()
	d, ok := s.data[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotfound, key)
	}
	return io.NopCloser(bytes.NewReader(d)), nil
}

func (s *MemoryStore) Put(_ context.Context, key string, val io.Reader) error {
	d, err := io.ReadAll(val)
	if err != nil {
		return err
	}

	s.lk.Lock()
	defer s.lk.Unlock()
	s.data[key] = d
	return nil
}

// LocalStore reads keys as files below a directory of a billy filesystem
type LocalStore struct {
	fs   billy.Filesystem
	base string
}

var _ Store = (*LocalStore)(nil)

func NewLocalStore(fs billy.Filesystem, base string) *LocalStore {
	return &LocalStore{fs: fs, base: base}
}

func (s *LocalStore) Type() string { return LocalStoreType }

func (s *LocalStore) Get(_ context.Context, key string) (io.ReadCloser, error) {
	f, err := s.fs.Open(s.fs.Join(s.base, key))
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotfound, key)
	}
	return f, err
}

func (s *LocalStore) Put(_ context.Context, key string, val io.Reader) error {
	d, err := io.ReadAll(val)
	if err != nil {
		return err
	}
	p := s.fs.Join(s.base, key)
	if err := s.fs.MkdirAll(path.Dir(p), 0o755); err != nil {
		return err
	}
	return util.WriteFile(s.fs, p, d, filePermBits)
}

// BlobStore reads keys as objects below a prefix of a cloud bucket
type BlobStore struct {
	bucket *blob.Bucket
	prefix string
}

var _ Store = (*BlobStore)(nil)

func NewBlobStore(bucket *blob.Bucket, prefix string) *BlobStore {
	return &BlobStore{bucket: bucket, prefix: prefix}
}

func (s *BlobStore) Type() string { return BlobStoreType }

func (s *BlobStore) key(k string) string {
	if s.prefix == "" {
		return k
	}
	return path.Join(s.prefix, k)
}

func (s *BlobStore) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	r, err := s.bucket.NewReader(ctx, s.key(key), nil)
	if err != nil {
		if gcerrors.Code(err) == gcerrors.NotFound {
			return nil, fmt.Errorf("%w: %s", ErrNotfound, key)
		}
		return nil, err
	}
	return r, nil
}

func (s *BlobStore) Put(ctx context.Context, key string, val io.Reader) error {
	w, err := s.bucket.NewWriter(ctx, s.key(key), nil)
	if err != nil {
		return err
	}
	if _, err := io.Copy(w, val); err != nil {
		w.Close()
		return err
	}
	return w.Close()
}
