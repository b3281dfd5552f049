// Package uploadsession implements the resumable, chunked blob-upload
// state machine: initiate, append (repeatable), finalize-with-digest, or
// abort.
package uploadsession

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/kcsanjeeb/dedup-registry/internal/apperror"
	"github.com/kcsanjeeb/dedup-registry/internal/blobstore"
	"github.com/kcsanjeeb/dedup-registry/internal/middleware"
)

// Manager tracks upload sessions as single append-only files under a
// directory. A session is identified by the server-issued UUID that
// names its file; a client-supplied id the server never issued cannot
// resolve to a file and is rejected as BlobUploadUnknown.
type Manager struct {
	dir string
}

// Open constructs a Manager rooted at dir (the "uploads" directory).
func Open(dir string) (*Manager, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("uploadsession: create dir: %w", err)
	}
	return &Manager{dir: dir}, nil
}

func (m *Manager) path(id string) string {
	return filepath.Join(m.dir, id)
}

// Initiate opens a new session and returns its id.
func (m *Manager) Initiate() (string, error) {
	id := uuid.New().String()
	f, err := os.Create(m.path(id))
	if err != nil {
		return "", fmt.Errorf("uploadsession: create session file: %w", err)
	}
	if err := f.Close(); err != nil {
		return "", err
	}
	middleware.UploadSessionsInFlight.Inc()
	return id, nil
}

// Append writes data to the end of session id's staging file and returns
// the new total length. An empty append is rejected: it carries no
// information and the spec treats it as client error, not a no-op.
func (m *Manager) Append(id string, data []byte) (int64, error) {
	if len(data) == 0 {
		return 0, apperror.EmptyAppend()
	}

	f, err := os.OpenFile(m.path(id), os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, apperror.UnknownUploadSession(id)
		}
		return 0, fmt.Errorf("uploadsession: open session file: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(data); err != nil {
		return 0, fmt.Errorf("uploadsession: append: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		return 0, fmt.Errorf("uploadsession: stat: %w", err)
	}
	return info.Size(), nil
}

// Status returns the current staged length of session id.
func (m *Manager) Status(id string) (int64, error) {
	info, err := os.Stat(m.path(id))
	if err != nil {
		if os.IsNotExist(err) {
			return 0, apperror.UnknownUploadSession(id)
		}
		return 0, fmt.Errorf("uploadsession: stat: %w", err)
	}
	return info.Size(), nil
}

// Abort discards session id's staged bytes.
func (m *Manager) Abort(id string) error {
	if err := os.Remove(m.path(id)); err != nil {
		if os.IsNotExist(err) {
			return apperror.UnknownUploadSession(id)
		}
		return fmt.Errorf("uploadsession: remove session file: %w", err)
	}
	middleware.UploadSessionsInFlight.Dec()
	return nil
}

// Finalize completes session id against expectedDigest, handing the
// verified content to blobs.Store. If inline is non-empty it is treated
// as the full blob content (the monolithic single-PUT shortcut); the
// staged session file is otherwise renamed into the source position.
//
// On success both the temp file and the session file are removed. On a
// digest mismatch the session file is left in place so the client may
// retry, and DigestInvalid is surfaced. Any other failure unwinds fully.
func (m *Manager) Finalize(id, expectedDigest string, inline []byte, blobs *blobstore.Store) (string, error) {
	sessionPath := m.path(id)
	tmpPath := sessionPath + ".tmp"

	renamed := false
	if len(inline) > 0 {
		if _, err := os.Stat(sessionPath); err != nil {
			if os.IsNotExist(err) {
				return "", apperror.UnknownUploadSession(id)
			}
			return "", fmt.Errorf("uploadsession: stat session file: %w", err)
		}
		if err := os.WriteFile(tmpPath, inline, 0o644); err != nil {
			return "", fmt.Errorf("uploadsession: write inline tmp: %w", err)
		}
	} else {
		if err := os.Rename(sessionPath, tmpPath); err != nil {
			if os.IsNotExist(err) {
				return "", apperror.UnknownUploadSession(id)
			}
			return "", fmt.Errorf("uploadsession: stage tmp: %w", err)
		}
		renamed = true
	}

	content, err := os.ReadFile(tmpPath)
	if err != nil {
		os.Remove(tmpPath)
		os.Remove(sessionPath)
		middleware.UploadSessionsInFlight.Dec()
		return "", apperror.Internal(fmt.Errorf("uploadsession: read staged content: %w", err))
	}

	digest, storeErr := blobs.Store(content, expectedDigest)
	if storeErr == nil {
		os.Remove(tmpPath)
		os.Remove(sessionPath)
		middleware.UploadSessionsInFlight.Dec()
		return digest, nil
	}

	if appErr, ok := apperror.As(storeErr); ok && appErr.Kind != apperror.KindInternal {
		// A client-correctable failure (bad digest shape, mismatch):
		// leave the session resumable and open.
		os.Remove(tmpPath)
		if renamed {
			os.WriteFile(sessionPath, content, 0o644)
		}
		return "", storeErr
	}

	// An unexpected failure: unwind completely, nothing left to resume.
	os.Remove(tmpPath)
	os.Remove(sessionPath)
	middleware.UploadSessionsInFlight.Dec()
	return "", apperror.Internal(storeErr)
}
