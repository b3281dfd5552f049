// Package blobstore maps SHA-256 blob digests onto block recipes over a
// blockstore.Store, verifying digests on write and reconstructing
// byte-identical streams on read.
package blobstore

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/kcsanjeeb/dedup-registry/internal/apperror"
	"github.com/kcsanjeeb/dedup-registry/internal/blockstore"
)

const digestPrefix = "sha256:"

// Recipe is the on-disk representation of a layer blob's block sequence.
type Recipe struct {
	Chunks []string `json:"chunks"`
}

// Store persists blob entries under a "layers" directory, one
// subdirectory per blob id (the digest's hex suffix), each holding either
// a whole-file `config`, or a `data` + `recipe.json` pair.
type Store struct {
	dir       string
	blocks    *blockstore.Store
	blockSize int
	mirror    blockstore.Mirror
	// keepData preserves the full `data` sidecar alongside recipe.json
	// for legacy direct-read compatibility (see DESIGN.md Open Question 1).
	// Defaults to true, matching original_source's store_blob.
	keepData bool
}

// Option configures a Store at construction.
type Option func(*Store)

// WithMirror registers an asynchronous block-replication target.
func WithMirror(m blockstore.Mirror) Option {
	return func(s *Store) { s.mirror = m }
}

// WithoutDataSidecar omits the `data` compatibility file, relying solely
// on recipe.json plus streaming reconstruction (the spec's Open Question
// 1 alternative — all read paths must then exercise the streaming branch).
func WithoutDataSidecar() Option {
	return func(s *Store) { s.keepData = false }
}

// Open constructs a Store rooted at dir (the "layers" directory), backed
// by blocks for block-level deduplication.
func Open(dir string, blocks *blockstore.Store, blockSize int, opts ...Option) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("blobstore: create dir: %w", err)
	}
	if blockSize <= 0 {
		blockSize = 4096
	}
	s := &Store{dir: dir, blocks: blocks, blockSize: blockSize, keepData: true}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// ParseDigest validates digest has the shape "sha256:<64-lowercase-hex>"
// and returns the bare hex blob id.
func ParseDigest(digest string) (string, error) {
	if !strings.HasPrefix(digest, digestPrefix) {
		return "", apperror.MalformedDigest(fmt.Sprintf("unsupported digest algorithm: %q", digest))
	}
	hexPart := digest[len(digestPrefix):]
	if len(hexPart) != 64 {
		return "", apperror.MalformedDigest(fmt.Sprintf("digest %q has wrong length", digest))
	}
	for _, c := range hexPart {
		if !((c >= '0' && c <= '9') || (c >= 'a' && c <= 'f')) {
			return "", apperror.MalformedDigest(fmt.Sprintf("digest %q is not lowercase hex", digest))
		}
	}
	return hexPart, nil
}

// CalculateDigest computes "sha256:<hex>" for content.
func CalculateDigest(content []byte) string {
	sum := sha256.Sum256(content)
	return digestPrefix + hex.EncodeToString(sum[:])
}

func (s *Store) blobDir(blobID string) string {
	return filepath.Join(s.dir, blobID)
}

// Store verifies content against expectedDigest, then chunks and installs
// it. It is idempotent: a blob id whose directory already exists is left
// untouched and expectedDigest is returned without rewriting anything —
// the directory's contents are, by invariant, byte-identical to what a
// second write would produce.
func (s *Store) Store(content []byte, expectedDigest string) (string, error) {
	blobID, err := ParseDigest(expectedDigest)
	if err != nil {
		return "", err
	}

	actual := CalculateDigest(content)
	if actual != expectedDigest {
		return "", apperror.DigestMismatch(expectedDigest, actual)
	}

	dir := s.blobDir(blobID)

	// mkdir is the serialization point for the race between two uploads
	// of the same content: the loser observes ErrExist and returns
	// successfully without re-writing anything.
	if err := os.Mkdir(dir, 0o755); err != nil {
		if os.IsExist(err) {
			return expectedDigest, nil
		}
		return "", fmt.Errorf("blobstore: create blob dir: %w", err)
	}

	recipe := Recipe{Chunks: make([]string, 0, (len(content)+s.blockSize-1)/s.blockSize)}
	for off := 0; off < len(content); off += s.blockSize {
		end := off + s.blockSize
		if end > len(content) {
			end = len(content)
		}
		window := content[off:end]
		var fp string
		var putErr error
		if s.mirror != nil {
			fp, putErr = s.blocks.PutMirrored(window, s.mirror)
		} else {
			fp, putErr = s.blocks.Put(window)
		}
		if putErr != nil {
			return "", fmt.Errorf("blobstore: install block: %w", putErr)
		}
		recipe.Chunks = append(recipe.Chunks, fp)
	}

	recipeBytes, err := json.Marshal(recipe)
	if err != nil {
		return "", fmt.Errorf("blobstore: marshal recipe: %w", err)
	}
	if err := writeAtomic(filepath.Join(dir, "recipe.json"), recipeBytes); err != nil {
		return "", fmt.Errorf("blobstore: write recipe: %w", err)
	}

	if s.keepData {
		if err := writeAtomic(filepath.Join(dir, "data"), content); err != nil {
			return "", fmt.Errorf("blobstore: write data: %w", err)
		}
	}

	for _, fp := range recipe.Chunks {
		if !s.blocks.Has(fp) {
			return "", apperror.Internal(fmt.Errorf("post-condition failed: block %s missing after install", fp))
		}
	}

	return expectedDigest, nil
}

func writeAtomic(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// Exists reports whether a blob entry exists in any of its forms.
func (s *Store) Exists(digest string) bool {
	blobID, err := ParseDigest(digest)
	if err != nil {
		return false
	}
	dir := s.blobDir(blobID)
	for _, name := range []string{"config", "data", "recipe.json"} {
		if _, err := os.Stat(filepath.Join(dir, name)); err == nil {
			return true
		}
	}
	// A blob that happens to coincide with a standalone block (the
	// original's dual lookup path) also counts as present.
	return s.blocks.Has(blobID)
}

// PutConfig stores a whole, unchunked config blob after verifying its
// digest.
func (s *Store) PutConfig(content []byte, expectedDigest string) (string, error) {
	blobID, err := ParseDigest(expectedDigest)
	if err != nil {
		return "", err
	}
	actual := CalculateDigest(content)
	if actual != expectedDigest {
		return "", apperror.DigestMismatch(expectedDigest, actual)
	}

	dir := s.blobDir(blobID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("blobstore: create blob dir: %w", err)
	}
	if err := writeAtomic(filepath.Join(dir, "config"), content); err != nil {
		return "", fmt.Errorf("blobstore: write config: %w", err)
	}
	return expectedDigest, nil
}

// Open returns the reconstructed size and a stream of digest's content.
// Whole-file forms (`config`, `data`) are opened directly; the
// recipe.json form is served by a lazy reader that opens each
// constituent block in turn, never materializing the whole blob in
// memory.
func (s *Store) Open(digest string) (int64, io.ReadCloser, error) {
	blobID, err := ParseDigest(digest)
	if err != nil {
		return 0, nil, err
	}
	dir := s.blobDir(blobID)

	if f, size, err := openWhole(filepath.Join(dir, "config")); err == nil {
		return size, f, nil
	}
	if f, size, err := openWhole(filepath.Join(dir, "data")); err == nil {
		return size, f, nil
	}

	recipeBytes, err := os.ReadFile(filepath.Join(dir, "recipe.json"))
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil, apperror.BlobUnknown(digest)
		}
		return 0, nil, fmt.Errorf("blobstore: read recipe: %w", err)
	}
	var recipe Recipe
	if err := json.Unmarshal(recipeBytes, &recipe); err != nil {
		return 0, nil, apperror.BlobCorrupt(digest, "")
	}

	var size int64
	for _, fp := range recipe.Chunks {
		n, err := s.blocks.Size(fp)
		if err != nil {
			return 0, nil, apperror.BlobCorrupt(digest, fp)
		}
		size += n
	}

	return size, &recipeReader{blocks: s.blocks, fps: recipe.Chunks, digest: digest}, nil
}

func openWhole(path string) (*os.File, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, 0, err
	}
	return f, info.Size(), nil
}

// recipeReader streams a recipe's blocks in order, opening each lazily so
// the reconstructed blob is never fully materialized in memory.
type recipeReader struct {
	blocks *blockstore.Store
	fps    []string
	digest string
	cur    io.ReadCloser
	idx    int
}

func (r *recipeReader) Read(p []byte) (int, error) {
	for {
		if r.cur == nil {
			if r.idx >= len(r.fps) {
				return 0, io.EOF
			}
			cur, err := r.blocks.Open(r.fps[r.idx])
			if err != nil {
				return 0, apperror.BlobCorrupt(r.digest, r.fps[r.idx])
			}
			r.cur = cur
			r.idx++
		}
		n, err := r.cur.Read(p)
		if err == io.EOF {
			r.cur.Close()
			r.cur = nil
			if n > 0 {
				return n, nil
			}
			continue
		}
		return n, err
	}
}

func (r *recipeReader) Close() error {
	if r.cur != nil {
		return r.cur.Close()
	}
	return nil
}

// Reader reads the entirety of an io.Reader into memory, used by callers
// that must have the full content before computing its digest (the
// blob-store write path, which needs both the digest and the chunked
// windows over the same bytes).
func Reader(r io.Reader) ([]byte, error) {
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, r); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
