package cfa

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	billy "github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/osfs"
	"gocloud.dev/blob"
	"gocloud.dev/gcerrors"
)

// VarInfo describes a variable held by a Source
type VarInfo struct {
	Shape []int
	Dims  []string
	Units string
	Dtype Dtype
}

// Source is an opened fragment file or store
type Source interface {
	// Stat describes the variable at address, failing with ErrAddressNotFound
	Stat(ctx context.Context, address string) (VarInfo, error)
	// Read copies the window ext of the variable at address
	Read(ctx context.Context, address string, ext Extent) (*Array, error)
	Close() error
}

// Opener opens fragment sources by location. An empty format asks the
// opener to work it out.
type Opener interface {
	Open(ctx context.Context, location, format string) (Source, error)
}

// File is a whole-file view of a located resource
type File interface {
	io.Reader
	io.ReaderAt
	io.Seeker
	io.Closer
}

// Resource is a location that has been found. Drivers choose the view they
// need: single-file formats read File, directory formats like zarr read
// Store.
type Resource interface {
	Location() string
	File(ctx context.Context) (File, error)
	Store(ctx context.Context) (Store, error)
}

// FormatOpener turns a located resource into a Source
type FormatOpener func(ctx context.Context, r Resource) (Source, error)

// Locator is the default Opener. Local paths resolve on a billy filesystem,
// http(s) URLs are fetched with GET, and every other URL scheme is opened as
// a gocloud bucket.
type Locator struct {
	// FS holds local files. Relative locations resolve against Base.
	FS   billy.Filesystem
	Base string
	// OpenBucket opens the bucket part of a remote URL, blob.OpenBucket by
	// default
	OpenBucket func(ctx context.Context, urlstr string) (*blob.Bucket, error)
	// Client fetches http(s) locations, http.DefaultClient by default
	Client *http.Client

	order   []string
	formats map[string]FormatOpener
}

var _ Opener = (*Locator)(nil)

// NewLocator builds a Locator over the local filesystem with the zarr
// driver registered. An empty base is the working directory.
func NewLocator(base string) *Locator {
	if base == "" {
		base, _ = os.Getwd()
	}
	l := &Locator{FS: osfs.New("/"), Base: base}
	l.Register(ZarrFormat, ZarrDriver)
	return l
}

// Register adds a format driver. Drivers are tried in registration order
// when the format of a fragment isn't declared.
func (l *Locator) Register(format string, open FormatOpener) {
	if l.formats == nil {
		l.formats = map[string]FormatOpener{}
	}
	if _, ok := l.formats[format]; !ok {
		l.order = append(l.order, format)
	}
	l.formats[format] = open
}

// Formats lists registered formats in registration order
func (l *Locator) Formats() []string {
	return append([]string(nil), l.order...)
}

func (l *Locator) Open(ctx context.Context, location, format string) (Source, error) {
	r, err := l.resolve(ctx, location)
	if err != nil {
		return nil, err
	}

	if format != "" {
		open, ok := l.formats[format]
		if !ok {
			r.Close()
			return nil, fmt.Errorf("%w: fragment format %q", ErrUnsupported, format)
		}
		src, err := open(ctx, r)
		if err != nil {
			r.Close()
			return nil, err
		}
		return &closingSource{Source: src, res: r}, nil
	}

	var errs []error
	for _, f := range l.order {
		src, err := l.formats[f](ctx, r)
		if err == nil {
			return &closingSource{Source: src, res: r}, nil
		}
		errs = append(errs, fmt.Errorf("%s: %w", f, err))
	}
	r.Close()
	return nil, fmt.Errorf("%w: no driver reads %s: %w", ErrUnsupported, location, errors.Join(errs...))
}

type resource interface {
	Resource
	Close() error
}

// closingSource releases the resource a source was opened on
type closingSource struct {
	Source
	res resource
}

func (s *closingSource) Close() error {
	return errors.Join(s.Source.Close(), s.res.Close())
}

// resolve finds location, failing with ErrNotfound when nothing is there
func (l *Locator) resolve(ctx context.Context, location string) (resource, error) {
	kind, loc := classifyLocation(location)
	switch kind {
	case locationRemote:
		u, err := url.Parse(loc)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrNotfound, loc, err)
		}
		if u.Scheme == "http" || u.Scheme == "https" {
			return l.httpResource(ctx, u)
		}
		return l.blobResource(ctx, u)
	case locationRelative:
		base := l.Base
		if base == "" {
			base, _ = os.Getwd()
		}
		loc = path.Join(filepath.ToSlash(base), loc)
	}

	fs := l.FS
	if fs == nil {
		fs = osfs.New("/")
	}
	if _, err := fs.Stat(loc); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotfound, loc)
		}
		return nil, err
	}
	return &localResource{fs: fs, path: loc}, nil
}

type localResource struct {
	fs   billy.Filesystem
	path string
}

func (r *localResource) Location() string { return r.path }

func (r *localResource) File(context.Context) (File, error) {
	info, err := r.fs.Stat(r.path)
	if err != nil {
		return nil, err
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%s is a directory", r.path)
	}
	return r.fs.Open(r.path)
}

func (r *localResource) Store(context.Context) (Store, error) {
	return NewLocalStore(r.fs, r.path), nil
}

func (r *localResource) Close() error { return nil }

type blobResource struct {
	location string
	bucket   *blob.Bucket
	key      string
}

func (l *Locator) blobResource(ctx context.Context, u *url.URL) (resource, error) {
	open := l.OpenBucket
	if open == nil {
		open = blob.OpenBucket
	}
	key := strings.TrimPrefix(u.Path, "/")
	bu := *u
	bu.Path = ""
	bucket, err := open(ctx, bu.String())
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrNotfound, u, err)
	}

	// a key is either an object or a prefix holding objects
	r := &blobResource{location: u.String(), bucket: bucket, key: key}
	if ok, err := bucket.Exists(ctx, key); err == nil && ok {
		return r, nil
	}
	iter := bucket.List(&blob.ListOptions{Prefix: strings.TrimSuffix(key, "/") + "/"})
	if _, err := iter.Next(ctx); err == nil {
		return r, nil
	}
	bucket.Close()
	return nil, fmt.Errorf("%w: %s", ErrNotfound, u)
}

func (r *blobResource) Location() string { return r.location }

func (r *blobResource) File(ctx context.Context) (File, error) {
	data, err := r.bucket.ReadAll(ctx, r.key)
	if err != nil {
		if gcerrors.Code(err) == gcerrors.NotFound {
			return nil, fmt.Errorf("%w: %s", ErrNotfound, r.location)
		}
		return nil, err
	}
	return memFile{bytes.NewReader(data)}, nil
}

func (r *blobResource) Store(context.Context) (Store, error) {
	return NewBlobStore(r.bucket, r.key), nil
}

func (r *blobResource) Close() error { return r.bucket.Close() }

type httpResource struct {
	client *http.Client
	url    *url.URL
}

func (l *Locator) httpResource(ctx context.Context, u *url.URL) (resource, error) {
	client := l.Client
	if client == nil {
		client = http.DefaultClient
	}
	r := &httpResource{client: client, url: u}
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, u.String(), nil)
	if err != nil {
		return nil, err
	}
	res, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrNotfound, u, err)
	}
	res.Body.Close()
	// servers holding zarr stores may 404 the bare prefix; the driver probes
	// for metadata keys itself
	if res.StatusCode >= 500 {
		return nil, fmt.Errorf("%w: %s: %s", ErrNotfound, u, res.Status)
	}
	return r, nil
}

func (r *httpResource) Location() string { return r.url.String() }

func (r *httpResource) get(ctx context.Context, u string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	res, err := r.client.Do(req)
	if err != nil {
		return nil, err
	}
	if res.StatusCode == http.StatusNotFound {
		res.Body.Close()
		return nil, fmt.Errorf("%w: %s", ErrNotfound, u)
	}
	if res.StatusCode != http.StatusOK {
		res.Body.Close()
		return nil, fmt.Errorf("GET %s: %s", u, res.Status)
	}
	return res.Body, nil
}

func (r *httpResource) File(ctx context.Context) (File, error) {
	body, err := r.get(ctx, r.url.String())
	if err != nil {
		return nil, err
	}
	defer body.Close()
	data, err := io.ReadAll(body)
	if err != nil {
		return nil, err
	}
	return memFile{bytes.NewReader(data)}, nil
}

func (r *httpResource) Store(context.Context) (Store, error) {
	return &httpStore{res: r}, nil
}

func (r *httpResource) Close() error { return nil }

// httpStore is a read-only Store of keys below a URL
type httpStore struct {
	res *httpResource
}

func (s *httpStore) Type() string { return "HTTPStore" }

func (s *httpStore) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	return s.res.get(ctx, strings.TrimSuffix(s.res.url.String(), "/")+"/"+key)
}

func (s *httpStore) Put(context.Context, string, io.Reader) error {
	return fmt.Errorf("%w: writing over http", ErrUnsupported)
}

type memFile struct {
	*bytes.Reader
}

func (memFile) Close() error { return nil }

type locationKind int

const (
	locationRelative locationKind = iota
	locationRemote
	locationAbsolute
)

// classifyLocation sorts a location into relative path, remote URL or
// absolute local path. file:// URLs are local and come back as plain paths.
func classifyLocation(loc string) (locationKind, string) {
	if i := strings.Index(loc, "://"); i > 0 {
		if strings.EqualFold(loc[:i], "file") {
			loc = loc[i+len("://"):]
			if !strings.HasPrefix(loc, "/") {
				return locationRelative, loc
			}
			return locationAbsolute, loc
		}
		return locationRemote, loc
	}
	if path.IsAbs(loc) || filepath.IsAbs(loc) {
		return locationAbsolute, loc
	}
	return locationRelative, loc
}

// OrderLocations returns the candidate locations of a fragment in the order
// they are tried: relative paths, then remote URLs, then absolute local
// paths, keeping declaration order within each group
func OrderLocations(locs []string) []string {
	out := make([]string, 0, len(locs))
	for _, want := range []locationKind{locationRelative, locationRemote, locationAbsolute} {
		for _, loc := range locs {
			if k, _ := classifyLocation(loc); k == want {
				out = append(out, loc)
			}
		}
	}
	return out
}
