// Copyright (c) 2026 The XGo Authors (xgo.dev). All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package cache stores downloaded source archives in a flat directory that
// any number of processes may share.
//
// Every entry is a file named by its key. Readers hold a shared flock on the
// file for as long as they use it. A reader that finds the entry missing or
// stale drops its shared lock, takes an exclusive one, checks the entry again
// and only then downloads:
//
//	open -> RLock -> valid? -- yes -----------------------------> return
//	                   | no                                        ^
//	                   v                                           |
//	               Unlock -> Lock -> valid? -- yes --> RLock ------+
//	                                    | no             ^
//	                                    v                |
//	                          truncate, download, verify-+
//
// At most one process downloads a given entry at a time and a reader never
// sees a half-written file.
package cache

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/goplus/crossdeps/internal/digest"
	"github.com/goplus/crossdeps/internal/lockedfile"
	"github.com/goplus/crossdeps/internal/logfields"
	"github.com/goplus/crossdeps/internal/metrics"
)

// ErrDigestMismatch reports a freshly downloaded entry whose content does not
// match the expected digest. It is never retried.
var ErrDigestMismatch = errors.New("digest mismatch")

// Source names remote content and the cache entry that holds it.
type Source struct {
	URL    string
	Key    string
	Digest digest.Digest
}

// Downloader streams the content behind a URL into w.
type Downloader interface {
	Download(ctx context.Context, rawURL string, w io.Writer) error
}

// Cache is a directory of verified downloads.
type Cache struct {
	dir         string
	downloaders map[string]Downloader
	metrics     metrics.Recorder
	logger      *slog.Logger
}

// Option configures a Cache.
type Option func(*Cache)

// WithDownloader registers d for URLs with the given scheme, replacing any
// previous downloader for it.
func WithDownloader(scheme string, d Downloader) Option {
	return func(c *Cache) {
		c.downloaders[scheme] = d
	}
}

// WithMetrics reports cache hits and downloads to r.
func WithMetrics(r metrics.Recorder) Option {
	return func(c *Cache) {
		c.metrics = metrics.OrNoop(r)
	}
}

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(c *Cache) {
		c.logger = l
	}
}

// New returns a Cache rooted at dir, creating dir if it does not exist.
// http, https, file and ftp URLs are supported out of the box.
func New(dir string, opts ...Option) (*Cache, error) {
	dir, err := filepath.Abs(dir)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("cache dir: %w", err)
	}
	fi, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("cache dir: %w", err)
	}
	if !fi.IsDir() {
		return nil, fmt.Errorf("cache dir %s is not a directory", dir)
	}
	httpd := NewHTTPDownloader(nil)
	c := &Cache{
		dir: dir,
		downloaders: map[string]Downloader{
			"http":  httpd,
			"https": httpd,
			"file":  FileDownloader{},
			"ftp":   CurlDownloader{},
		},
		metrics: metrics.NoopRecorder{},
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Dir returns the cache directory.
func (c *Cache) Dir() string {
	return c.dir
}

// Path returns the file that holds the entry for key.
func (c *Cache) Path(key string) string {
	return filepath.Join(c.dir, key)
}

// Entry is a verified cache entry. It holds a shared lock until Close, so the
// content cannot be replaced while it is being read.
type Entry struct {
	*lockedfile.File
	Key        string
	Downloaded bool // content was fetched by this call
}

// Close releases the shared lock and closes the file.
func (e *Entry) Close() error {
	e.File.Unlock()
	return e.File.Close()
}

// Fetch returns the entry for src, downloading it first if it is missing or
// does not match src.Digest. The returned entry is positioned at offset 0.
func (c *Cache) Fetch(ctx context.Context, src Source) (*Entry, error) {
	if err := validKey(src.Key); err != nil {
		return nil, err
	}
	if src.Digest.IsZero() {
		return nil, fmt.Errorf("fetch %s: no digest", src.Key)
	}
	log := c.logger.With(logfields.Key(src.Key))

	f, err := lockedfile.OpenFile(c.Path(src.Key), os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, err
	}
	e, err := c.fetch(ctx, f, src, log)
	if err != nil {
		f.Unlock()
		f.Close()
		c.metrics.IncCacheResult(metrics.CacheFailed)
		return nil, fmt.Errorf("fetch %s: %w", src.Key, err)
	}
	if e.Downloaded {
		c.metrics.IncCacheResult(metrics.CacheDownload)
	} else {
		c.metrics.IncCacheResult(metrics.CacheHit)
		log.Debug("cache hit")
	}
	return e, nil
}

func (c *Cache) fetch(ctx context.Context, f *lockedfile.File, src Source, log *slog.Logger) (*Entry, error) {
	if err := f.RLock(); err != nil {
		return nil, err
	}
	ok, err := valid(f, src.Digest)
	if err != nil {
		return nil, err
	}
	downloaded := false
	if !ok {
		// flock cannot upgrade in place. Drop the shared lock, wait for
		// exclusive access and look again: another process may have
		// repopulated the entry while we waited.
		if err := f.Unlock(); err != nil {
			return nil, err
		}
		if err := f.Lock(); err != nil {
			return nil, err
		}
		ok, err = valid(f, src.Digest)
		if err != nil {
			return nil, err
		}
		if !ok {
			log.Info("downloading", logfields.URL(src.URL))
			if err := c.download(ctx, f, src); err != nil {
				return nil, err
			}
			downloaded = true
		}
		if err := f.RLock(); err != nil {
			return nil, err
		}
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}
	return &Entry{File: f, Key: src.Key, Downloaded: downloaded}, nil
}

// download replaces the content of f, which must be locked exclusively.
func (c *Cache) download(ctx context.Context, f *lockedfile.File, src Source) error {
	u, err := url.Parse(src.URL)
	if err != nil {
		return err
	}
	d, ok := c.downloaders[u.Scheme]
	if !ok {
		return fmt.Errorf("no downloader for %q URLs", u.Scheme)
	}
	if err := f.Truncate(0); err != nil {
		return err
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return err
	}
	if err := d.Download(ctx, src.URL, f); err != nil {
		return fmt.Errorf("download %s: %w", src.URL, err)
	}
	if err := f.Sync(); err != nil {
		return err
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return err
	}
	sum, err := src.Digest.Sum(f)
	if err != nil {
		return err
	}
	if sum != src.Digest.Hex {
		return fmt.Errorf("%w: got %s:%s, want %s", ErrDigestMismatch, src.Digest.Algo, sum, src.Digest)
	}
	return nil
}

// valid reports whether f is non-empty and matches d.
func valid(f *lockedfile.File, d digest.Digest) (bool, error) {
	fi, err := f.Stat()
	if err != nil {
		return false, err
	}
	if fi.Size() == 0 {
		return false, nil
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return false, err
	}
	return d.Verify(f)
}

// validKey rejects keys that are not plain file names.
func validKey(key string) error {
	if key == "" || key == "." || key == ".." ||
		strings.ContainsAny(key, `/\`) || strings.HasPrefix(key, ".") {
		return fmt.Errorf("invalid cache key %q", key)
	}
	return nil
}
