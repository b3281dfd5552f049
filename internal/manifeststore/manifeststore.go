// Package manifeststore persists manifests by repository name, tag, and
// digest, and validates referential integrity against a blobstore.Store
// before ever accepting one.
package manifeststore

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/kcsanjeeb/dedup-registry/internal/apperror"
	"github.com/kcsanjeeb/dedup-registry/internal/blobstore"
)

// Supported manifest media types.
const (
	MediaTypeDockerManifestV2 = "application/vnd.docker.distribution.manifest.v2+json"
	MediaTypeOCIManifestV1    = "application/vnd.oci.image.manifest.v1+json"
)

func supportedContentType(ct string) bool {
	return ct == MediaTypeDockerManifestV2 || ct == MediaTypeOCIManifestV1
}

// manifestShape is the minimal structural contract the spec requires:
// schemaVersion, a config descriptor, and a layers array, each descriptor
// carrying a digest.
type manifestShape struct {
	SchemaVersion int `json:"schemaVersion"`
	Config        struct {
		Digest string `json:"digest"`
	} `json:"config"`
	Layers []struct {
		Digest string `json:"digest"`
	} `json:"layers"`
}

// Notifier is an optional observer of manifest writes/deletes, used to
// keep a durable catalog index (see internal/catalog) in sync without
// manifeststore depending on it directly.
type Notifier interface {
	NoteTag(repo, tag, digest string)
	NoteTagDeleted(repo, tag string)
}

// Store persists manifests under a "manifests" directory, one
// subdirectory per repository, one file per tag or digest reference.
type Store struct {
	dir      string
	blobs    *blobstore.Store
	notifier Notifier

	mu       sync.RWMutex
	tagIndex map[string]map[string]struct{} // repo -> known tag names (fs remains authoritative)
}

// Option configures a Store at construction.
type Option func(*Store)

// WithNotifier registers a catalog-synchronization observer.
func WithNotifier(n Notifier) Option {
	return func(s *Store) { s.notifier = n }
}

// Open constructs a Store rooted at dir (the "manifests" directory).
func Open(dir string, blobs *blobstore.Store, opts ...Option) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("manifeststore: create dir: %w", err)
	}
	s := &Store{dir: dir, blobs: blobs, tagIndex: make(map[string]map[string]struct{})}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func isDigestReference(ref string) bool {
	return strings.HasPrefix(ref, "sha256:")
}

func (s *Store) repoDir(repo string) string {
	return filepath.Join(s.dir, repo)
}

func (s *Store) refPath(repo, reference string) string {
	return filepath.Join(s.repoDir(repo), sanitizeRef(reference))
}

// sanitizeRef keeps the colon in "sha256:<hex>" digest references (valid
// on POSIX filesystems) while preventing path traversal via a tag name.
func sanitizeRef(ref string) string {
	return strings.ReplaceAll(ref, "/", "_")
}

func (s *Store) noteTag(repo, tag string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tagIndex[repo] == nil {
		s.tagIndex[repo] = make(map[string]struct{})
	}
	s.tagIndex[repo][tag] = struct{}{}
}

func (s *Store) forgetTag(repo, tag string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tagIndex[repo] != nil {
		delete(s.tagIndex[repo], tag)
	}
}

// Put validates contentType and structure, checks every referenced blob
// exists, then writes bytes to both the reference path and the computed
// digest path.
func (s *Store) Put(repo, reference, contentType string, content []byte) (string, error) {
	if !supportedContentType(contentType) {
		return "", apperror.UnsupportedManifestContentType(contentType)
	}

	var shape manifestShape
	if err := json.Unmarshal(content, &shape); err != nil {
		return "", apperror.ManifestStructureInvalid("manifest is not valid JSON")
	}
	if shape.SchemaVersion == 0 {
		return "", apperror.ManifestStructureInvalid("manifest missing schemaVersion")
	}
	if shape.Config.Digest == "" {
		return "", apperror.ManifestStructureInvalid("manifest missing config.digest")
	}

	if !s.blobs.Exists(shape.Config.Digest) {
		return "", apperror.BlobUnknown(shape.Config.Digest)
	}
	for _, layer := range shape.Layers {
		if layer.Digest == "" {
			return "", apperror.ManifestStructureInvalid("layer missing digest")
		}
		if !s.blobs.Exists(layer.Digest) {
			return "", apperror.BlobUnknown(layer.Digest)
		}
	}

	digest := blobstore.CalculateDigest(content)

	if err := os.MkdirAll(s.repoDir(repo), 0o755); err != nil {
		return "", fmt.Errorf("manifeststore: create repo dir: %w", err)
	}

	if err := s.writeManifest(repo, reference, contentType, content); err != nil {
		return "", err
	}
	if reference != digest {
		if err := s.writeManifest(repo, digest, contentType, content); err != nil {
			return "", err
		}
	}

	if !isDigestReference(reference) {
		s.noteTag(repo, reference)
		if s.notifier != nil {
			s.notifier.NoteTag(repo, reference, digest)
		}
	}

	return digest, nil
}

func (s *Store) writeManifest(repo, reference, contentType string, content []byte) error {
	path := s.refPath(repo, reference)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, content, 0o644); err != nil {
		return fmt.Errorf("manifeststore: write tmp: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("manifeststore: rename into place: %w", err)
	}
	if err := os.WriteFile(path+".type", []byte(contentType), 0o644); err != nil {
		return fmt.Errorf("manifeststore: write content-type sidecar: %w", err)
	}
	return nil
}

// Get reads repo's manifest at reference, recomputing its digest from
// the stored bytes on every call (manifests are never cached).
func (s *Store) Get(repo, reference string) (contentType, digest string, content []byte, err error) {
	path := s.refPath(repo, reference)
	content, err = os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", "", nil, apperror.ManifestUnknown(repo, reference)
		}
		return "", "", nil, fmt.Errorf("manifeststore: read manifest: %w", err)
	}

	ctBytes, err := os.ReadFile(path + ".type")
	if err != nil {
		contentType = MediaTypeDockerManifestV2
	} else {
		contentType = string(ctBytes)
	}

	digest = blobstore.CalculateDigest(content)
	return contentType, digest, content, nil
}

// Delete removes repo's manifest at reference. When reference is a tag,
// only the tag mapping is removed — the content remains reachable by
// digest, matching the spec's no-GC stance on underlying blocks/blobs.
func (s *Store) Delete(repo, reference string) error {
	path := s.refPath(repo, reference)
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return apperror.ManifestUnknown(repo, reference)
		}
		return fmt.Errorf("manifeststore: stat manifest: %w", err)
	}

	if err := os.Remove(path); err != nil {
		return fmt.Errorf("manifeststore: remove manifest: %w", err)
	}
	os.Remove(path + ".type")

	if !isDigestReference(reference) {
		s.forgetTag(repo, reference)
		if s.notifier != nil {
			s.notifier.NoteTagDeleted(repo, reference)
		}
	}
	return nil
}

// ListTags returns every tag known for repo, merging the in-memory index
// with a filesystem scan (so a restarted process with a cold index still
// reports correctly) and filtering out digest-named files.
func (s *Store) ListTags(repo string) ([]string, error) {
	seen := make(map[string]struct{})

	s.mu.RLock()
	for tag := range s.tagIndex[repo] {
		seen[tag] = struct{}{}
	}
	s.mu.RUnlock()

	entries, err := os.ReadDir(s.repoDir(repo))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, apperror.ManifestUnknown(repo, "")
		}
		return nil, fmt.Errorf("manifeststore: read repo dir: %w", err)
	}
	for _, e := range entries {
		name := e.Name()
		if strings.HasSuffix(name, ".tmp") || strings.HasSuffix(name, ".type") {
			continue
		}
		if isDigestReference(name) {
			continue
		}
		seen[name] = struct{}{}
	}

	tags := make([]string, 0, len(seen))
	for tag := range seen {
		tags = append(tags, tag)
	}
	sort.Strings(tags)
	return tags, nil
}

// Catalog lists every known repository name: the top-level directories
// under the manifests root. Unpaginated by design (see DESIGN.md) — the
// spec excludes building pagination, not returning the full set.
func (s *Store) Catalog() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("manifeststore: read manifests dir: %w", err)
	}
	repos := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			repos = append(repos, e.Name())
		}
	}
	sort.Strings(repos)
	return repos, nil
}
