// Package storage defines a backend-agnostic object storage interface.
// The registry's primary data path never uses it directly — blockstore
// and blobstore own the repo root on the local filesystem, since atomic
// rename is central to install correctness. Backend exists for the
// secondary paths that do want a swappable object store: the optional
// off-site block Mirror and a future bulk-export/import path.
package storage

import (
	"context"
	"errors"
	"io"
)

// ErrNotFound reports a missing object.
var ErrNotFound = errors.New("storage: object not found")

// ErrInvalidPath reports a path that fails backend validation (escapes
// the storage root, contains traversal segments, or is too long).
var ErrInvalidPath = errors.New("storage: invalid path")

// Backend is the minimal object-storage contract every driver
// implements. Paths are always backend-relative, forward-slash
// separated keys, never absolute filesystem paths.
type Backend interface {
	Put(ctx context.Context, path string, r io.Reader, size int64) error
	Get(ctx context.Context, path string) (io.ReadCloser, int64, error)
	Delete(ctx context.Context, path string) error
	Exists(ctx context.Context, path string) (bool, error)
	Stat(ctx context.Context, path string) (size int64, modTime string, err error)
	List(ctx context.Context, prefix string) ([]string, error)
	GetUsage(ctx context.Context, prefix string) (totalSize int64, objectCount int64, err error)
	Name() string
	Close() error
}
