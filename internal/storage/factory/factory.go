// Package factory selects a storage.Backend implementation by name.
package factory

import (
	"fmt"

	"github.com/kcsanjeeb/dedup-registry/internal/config"
	"github.com/kcsanjeeb/dedup-registry/internal/storage"
	"github.com/kcsanjeeb/dedup-registry/internal/storage/driver"
)

// New builds the Backend named by cfg.Type ("local" or "minio").
func New(cfg config.StorageConfig) (storage.Backend, error) {
	switch cfg.Type {
	case "", "local":
		return driver.NewLocalStorage(cfg.Local.RepoRoot)
	case "minio":
		return driver.NewMinIOStorage(cfg.MinIO)
	default:
		return nil, fmt.Errorf("factory: unsupported storage type %q", cfg.Type)
	}
}
