// Package driver provides storage.Backend implementations: a local
// filesystem driver for single-node deployments and a MinIO driver for
// S3-compatible object storage.
package driver

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/kcsanjeeb/dedup-registry/internal/storage"
)

// LocalStorage roots a storage.Backend at a directory on the local
// filesystem.
type LocalStorage struct {
	basePath string
}

// NewLocalStorage creates (if needed) basePath and returns a Backend
// rooted there.
func NewLocalStorage(basePath string) (*LocalStorage, error) {
	absPath, err := filepath.Abs(basePath)
	if err != nil {
		return nil, fmt.Errorf("local: resolve path: %w", err)
	}

	if err := os.MkdirAll(absPath, 0o755); err != nil {
		return nil, fmt.Errorf("local: create root: %w", err)
	}
	if err := os.Chmod(absPath, 0o755); err != nil {
		log.Printf(`{"timestamp":"%s","level":"warn","module":"storage","driver":"local","operation":"chmod_root","path":"%s","error":"%v"}`,
			time.Now().Format(time.RFC3339), absPath, err)
	}

	return &LocalStorage{basePath: absPath}, nil
}

// validatePath rejects absolute paths and any ".." segment, then
// confirms the resolved path stays under basePath.
func (s *LocalStorage) validatePath(path string) error {
	if len(path) > 0 && (path[0] == '/' || (len(path) >= 2 && path[1] == ':')) {
		return storage.ErrInvalidPath
	}
	if strings.Contains(path, "..") {
		return storage.ErrInvalidPath
	}

	full := filepath.Clean(filepath.Join(s.basePath, filepath.Clean(path)))
	rel, err := filepath.Rel(s.basePath, full)
	if err != nil || strings.HasPrefix(rel, "..") {
		return storage.ErrInvalidPath
	}
	return nil
}

func (s *LocalStorage) fullPath(path string) string {
	return filepath.Join(s.basePath, path)
}

func (s *LocalStorage) Put(_ context.Context, path string, r io.Reader, _ int64) error {
	if err := s.validatePath(path); err != nil {
		return err
	}
	full := s.fullPath(path)

	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return fmt.Errorf("local: create directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(full), filepath.Base(full)+".tmp-*")
	if err != nil {
		return fmt.Errorf("local: create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := io.Copy(tmp, r); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("local: write: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("local: close: %w", err)
	}
	if err := os.Rename(tmpName, full); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("local: rename into place: %w", err)
	}
	return nil
}

func (s *LocalStorage) Get(_ context.Context, path string) (io.ReadCloser, int64, error) {
	if err := s.validatePath(path); err != nil {
		return nil, 0, err
	}
	f, err := os.Open(s.fullPath(path))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, 0, storage.ErrNotFound
		}
		return nil, 0, fmt.Errorf("local: open: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, 0, fmt.Errorf("local: stat: %w", err)
	}
	return f, info.Size(), nil
}

func (s *LocalStorage) Delete(_ context.Context, path string) error {
	if err := s.validatePath(path); err != nil {
		return err
	}
	if err := os.Remove(s.fullPath(path)); err != nil {
		if os.IsNotExist(err) {
			return storage.ErrNotFound
		}
		return fmt.Errorf("local: delete: %w", err)
	}
	return nil
}

func (s *LocalStorage) Exists(_ context.Context, path string) (bool, error) {
	if err := s.validatePath(path); err != nil {
		return false, err
	}
	_, err := os.Stat(s.fullPath(path))
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("local: stat: %w", err)
	}
	return true, nil
}

func (s *LocalStorage) Stat(_ context.Context, path string) (int64, string, error) {
	if err := s.validatePath(path); err != nil {
		return 0, "", err
	}
	info, err := os.Stat(s.fullPath(path))
	if err != nil {
		if os.IsNotExist(err) {
			return 0, "", storage.ErrNotFound
		}
		return 0, "", fmt.Errorf("local: stat: %w", err)
	}
	return info.Size(), info.ModTime().Format(time.RFC3339), nil
}

func (s *LocalStorage) List(_ context.Context, prefix string) ([]string, error) {
	if err := s.validatePath(prefix); err != nil {
		return nil, err
	}
	dir := s.fullPath(prefix)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("local: list: %w", err)
	}
	keys := make([]string, 0, len(entries))
	for _, e := range entries {
		keys = append(keys, filepath.Join(prefix, e.Name()))
	}
	return keys, nil
}

func (s *LocalStorage) GetUsage(_ context.Context, prefix string) (int64, int64, error) {
	if err := s.validatePath(prefix); err != nil {
		return 0, 0, err
	}
	root := s.fullPath(prefix)
	var totalSize, count int64
	err := filepath.Walk(root, func(_ string, info os.FileInfo, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if !info.IsDir() {
			totalSize += info.Size()
			count++
		}
		return nil
	})
	if err != nil {
		return 0, 0, fmt.Errorf("local: usage walk: %w", err)
	}
	return totalSize, count, nil
}

func (s *LocalStorage) Name() string { return "local" }

func (s *LocalStorage) Close() error { return nil }
