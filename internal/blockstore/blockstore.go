// Package blockstore implements deduplicated, content-addressed storage of
// fixed-size byte blocks on a local filesystem.
package blockstore

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/kcsanjeeb/dedup-registry/internal/middleware"
)

// Index is the interface BlockStore needs from its "already present" fast
// path. A mutex-guarded in-memory set satisfies it; so does a Redis-backed
// implementation (see internal/rediscache) for multi-instance deployments
// sharing one repo root. The filesystem is always the authoritative
// answer — Index is purely an optimization and is safe to populate
// stale.
type Index interface {
	Has(fp string) bool
	Note(fp string)
}

// memIndex is the default Index: a mutex-guarded set, populated by
// enumerating the blocks directory at startup and updated on every
// installation.
type memIndex struct {
	mu  sync.RWMutex
	set map[string]struct{}
}

func newMemIndex() *memIndex {
	return &memIndex{set: make(map[string]struct{})}
}

func (m *memIndex) Has(fp string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.set[fp]
	return ok
}

func (m *memIndex) Note(fp string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.set[fp] = struct{}{}
}

// ErrMissing is returned by Open when the requested block file does not
// exist.
var ErrMissing = fmt.Errorf("blockstore: block missing")

// bytesReceived and bytesWritten feed middleware.DedupRatio: every byte
// handed to Put counts as received; only bytes that land in a newly
// installed block count as written. Process-lifetime totals, so the
// ratio improves as dedup hits accumulate.
var (
	bytesReceived int64
	bytesWritten  int64
)

func noteDedupRatio() {
	received := atomic.LoadInt64(&bytesReceived)
	if received == 0 {
		return
	}
	written := atomic.LoadInt64(&bytesWritten)
	middleware.DedupRatio.Set(float64(written) / float64(received))
}

// Store is a deduplicated, content-addressed block store rooted at a
// single "blocks" directory. Block identity is the lowercase hex SHA-1 of
// its bytes; SHA-1 is used only as a non-adversarial dedup key, not as a
// security boundary — the authenticated identity of the blob the blocks
// compose lives one level up, at the SHA-256 blob digest.
type Store struct {
	dir   string
	index Index
}

// Open constructs a Store rooted at dir, creating it if necessary, and
// populates its Index by enumerating any blocks already present (so a
// restarted process recovers its dedup fast path without a cold cache).
// Passing a nil index installs the default in-memory set.
func Open(dir string, index Index) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("blockstore: create dir: %w", err)
	}
	if index == nil {
		index = newMemIndex()
	}
	s := &Store{dir: dir, index: index}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("blockstore: read dir: %w", err)
	}
	known := 0
	for _, e := range entries {
		if e.IsDir() || strings.Contains(e.Name(), ".tmp-") {
			continue
		}
		s.index.Note(e.Name())
		known++
	}
	middleware.BlocksKnown.Set(float64(known))
	return s, nil
}

func (s *Store) path(fp string) string {
	return filepath.Join(s.dir, fp)
}

// Fingerprint returns the block identity for data: lowercase hex SHA-1.
func Fingerprint(data []byte) string {
	sum := sha1.Sum(data)
	return hex.EncodeToString(sum[:])
}

// Put computes fp = SHA1(data) and, unless a block with that fingerprint
// is already known, writes data to a temp file in the same directory and
// atomically renames it into place. Concurrent Puts of identical bytes
// are safe without any per-fp lock: same-directory rename is atomic on
// POSIX filesystems, so the loser's rename simply overwrites an
// indistinguishable file.
func (s *Store) Put(data []byte) (string, error) {
	fp := Fingerprint(data)
	atomic.AddInt64(&bytesReceived, int64(len(data)))
	defer noteDedupRatio()

	if s.index.Has(fp) {
		return fp, nil
	}
	if _, err := os.Stat(s.path(fp)); err == nil {
		s.index.Note(fp)
		return fp, nil
	}

	tmp, err := os.CreateTemp(s.dir, fp+".tmp-*")
	if err != nil {
		return "", fmt.Errorf("blockstore: create temp: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return "", fmt.Errorf("blockstore: write temp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return "", fmt.Errorf("blockstore: close temp: %w", err)
	}
	if err := os.Rename(tmpName, s.path(fp)); err != nil {
		os.Remove(tmpName)
		return "", fmt.Errorf("blockstore: install block: %w", err)
	}

	atomic.AddInt64(&bytesWritten, int64(len(data)))
	middleware.BlocksKnown.Inc()
	s.index.Note(fp)
	return fp, nil
}

// Has reports whether fp is a known block: an Index lookup with a
// filesystem fallback.
func (s *Store) Has(fp string) bool {
	if s.index.Has(fp) {
		return true
	}
	if _, err := os.Stat(s.path(fp)); err == nil {
		s.index.Note(fp)
		return true
	}
	return false
}

// StatOnDisk reports whether fp exists in the filesystem, bypassing the
// in-memory Index entirely. Scrub uses this rather than Has: the whole
// point of a scrub is to detect blocks the index still believes present
// but that have been deleted out from under it.
func (s *Store) StatOnDisk(fp string) bool {
	_, err := os.Stat(s.path(fp))
	return err == nil
}

// Size returns the on-disk size of block fp, failing with ErrMissing if
// absent.
func (s *Store) Size(fp string) (int64, error) {
	info, err := os.Stat(s.path(fp))
	if err != nil {
		if os.IsNotExist(err) {
			return 0, ErrMissing
		}
		return 0, err
	}
	return info.Size(), nil
}

// Open returns a reader over block fp, failing with ErrMissing if absent.
func (s *Store) Open(fp string) (io.ReadCloser, error) {
	f, err := os.Open(s.path(fp))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrMissing
		}
		return nil, err
	}
	return f, nil
}

// IterKnown lazily enumerates the blocks directory, yielding each
// fingerprint to fn. It is restartable (each call re-lists the directory)
// and finite.
func (s *Store) IterKnown(fn func(fp string) error) error {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return fmt.Errorf("blockstore: read dir: %w", err)
	}
	for _, e := range entries {
		if e.IsDir() || strings.Contains(e.Name(), ".tmp-") {
			continue
		}
		if err := fn(e.Name()); err != nil {
			return err
		}
	}
	return nil
}

// Mirror is an optional asynchronous replication target for newly
// installed blocks. Since blocks are immutable and permanent (no GC is in
// scope), a fire-and-forget replica needs no invalidation logic. A failed
// replica copy is not retried (PutMirrored skips blocks already present
// locally); it has no correctness impact on the primary store.
type Mirror interface {
	ReplicateBlock(fp string, data []byte)
}

// PutMirrored behaves like Put but additionally hands newly installed
// blocks to m for asynchronous replication. Blocks already known locally
// are not re-replicated.
func (s *Store) PutMirrored(data []byte, m Mirror) (string, error) {
	fp := Fingerprint(data)
	known := s.Has(fp)
	fp, err := s.Put(data)
	if err != nil {
		return "", err
	}
	if !known && m != nil {
		m.ReplicateBlock(fp, data)
	}
	return fp, nil
}
