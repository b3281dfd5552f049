// Package config loads and exposes the registry's configuration: a YAML
// file, if present, with environment-variable overrides applied last.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the application's full configuration tree.
type Config struct {
	App       AppConfig       `yaml:"app"`
	Storage   StorageConfig   `yaml:"storage"`
	Cache     CacheConfig     `yaml:"cache"`
	Catalog   CatalogConfig   `yaml:"catalog"`
	Mirror    MirrorConfig    `yaml:"mirror"`
	Logging   LoggingConfig   `yaml:"logging"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
}

// AppConfig holds process-level basics.
type AppConfig struct {
	Name string `yaml:"name"`
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
	Env  string `yaml:"env"`
}

// StorageConfig configures storage. Local.RepoRoot roots the block, blob,
// upload and manifest stores; Type and MinIO select the storage.Backend
// that factory.New builds, which those stores do not use.
type StorageConfig struct {
	Type      string `yaml:"type"` // "local" | "minio"
	BlockSize int    `yaml:"block_size"`
	Local     struct {
		RepoRoot string `yaml:"repo_root"`
	} `yaml:"local"`
	MinIO MinIOConfig `yaml:"minio"`
}

// MinIOConfig names an S3-compatible endpoint, used both as the `minio`
// storage backend and as the target of an optional block Mirror.
type MinIOConfig struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Bucket    string `yaml:"bucket"`
	UseSSL    bool   `yaml:"use_ssl"`
}

// CacheConfig configures the optional Redis-backed shared BlockIndex and
// the distributed rate limiter.
type CacheConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

func (c CacheConfig) Addr() string { return fmt.Sprintf("%s:%d", c.Host, c.Port) }

// CatalogConfig configures the optional Postgres-backed repository/tag
// index.
type CatalogConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Name     string `yaml:"name"`
	SSLMode  string `yaml:"sslmode"`
}

func (c CatalogConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.Username, c.Password, c.Name, c.SSLMode)
}

// MirrorConfig configures asynchronous off-site block replication.
type MirrorConfig struct {
	Enabled bool        `yaml:"enabled"`
	MinIO   MinIOConfig `yaml:"minio"`
}

// LoggingConfig controls the structured-log emitter.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// RateLimitConfig bounds upload-session traffic per client.
type RateLimitConfig struct {
	Enabled           bool `yaml:"enabled"`
	RequestsPerSecond int  `yaml:"requests_per_second"`
	Burst             int  `yaml:"burst"`
}

func defaults() *Config {
	c := &Config{}
	c.App.Name = "dedup-registry"
	c.App.Host = "0.0.0.0"
	c.App.Port = 5000
	c.App.Env = "production"
	c.Storage.Type = "local"
	c.Storage.BlockSize = 4096
	c.Storage.Local.RepoRoot = "./data"
	c.Logging.Level = "info"
	c.Logging.Format = "json"
	c.RateLimit.Enabled = false
	c.RateLimit.RequestsPerSecond = 20
	c.RateLimit.Burst = 40
	return c
}

// Load reads path (if non-empty and present) into a Config seeded with
// defaults, then applies environment-variable overrides. A missing or
// empty path yields a working zero-value-equivalent configuration.
func Load(path string) (*Config, error) {
	cfg := defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("config: read %s: %w", path, err)
			}
		} else if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	applyEnvOverrides(cfg)
	return cfg, nil
}

// applyEnvOverrides applies the highest-precedence configuration layer.
func applyEnvOverrides(c *Config) {
	if v := os.Getenv("APP_HOST"); v != "" {
		c.App.Host = v
	}
	if v := os.Getenv("APP_PORT"); v != "" {
		var p int
		if _, err := fmt.Sscanf(v, "%d", &p); err == nil {
			c.App.Port = p
		}
	}
	if v := os.Getenv("STORAGE_TYPE"); v != "" {
		c.Storage.Type = v
	}
	if v := os.Getenv("STORAGE_REPO_ROOT"); v != "" {
		c.Storage.Local.RepoRoot = v
	}
	if v := os.Getenv("STORAGE_BLOCK_SIZE"); v != "" {
		var b int
		if _, err := fmt.Sscanf(v, "%d", &b); err == nil && b > 0 {
			c.Storage.BlockSize = b
		}
	}
	if v := os.Getenv("STORAGE_MINIO_ENDPOINT"); v != "" {
		c.Storage.MinIO.Endpoint = v
	}
	if v := os.Getenv("STORAGE_MINIO_ACCESS_KEY"); v != "" {
		c.Storage.MinIO.AccessKey = v
	}
	if v := os.Getenv("STORAGE_MINIO_SECRET_KEY"); v != "" {
		c.Storage.MinIO.SecretKey = v
	}
	if v := os.Getenv("STORAGE_MINIO_BUCKET"); v != "" {
		c.Storage.MinIO.Bucket = v
	}
	if v := os.Getenv("CACHE_ENABLED"); v != "" {
		c.Cache.Enabled = v == "true" || v == "1"
	}
	if v := os.Getenv("CACHE_HOST"); v != "" {
		c.Cache.Host = v
	}
	if v := os.Getenv("CACHE_PORT"); v != "" {
		var p int
		if _, err := fmt.Sscanf(v, "%d", &p); err == nil {
			c.Cache.Port = p
		}
	}
	if v := os.Getenv("CATALOG_ENABLED"); v != "" {
		c.Catalog.Enabled = v == "true" || v == "1"
	}
	if v := os.Getenv("CATALOG_HOST"); v != "" {
		c.Catalog.Host = v
	}
	if v := os.Getenv("CATALOG_DSN_PASSWORD"); v != "" {
		c.Catalog.Password = v
	}
	if v := os.Getenv("MIRROR_ENABLED"); v != "" {
		c.Mirror.Enabled = v == "true" || v == "1"
	}
	if v := os.Getenv("LOGGING_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("RATE_LIMIT_ENABLED"); v != "" {
		c.RateLimit.Enabled = v == "true" || v == "1"
	}
}

// BlockSize returns the configured block size, always a positive default.
func (c *Config) BlockSize() int {
	if c.Storage.BlockSize <= 0 {
		return 4096
	}
	return c.Storage.BlockSize
}

// Addr returns the host:port the HTTP server should bind.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.App.Host, c.App.Port)
}
