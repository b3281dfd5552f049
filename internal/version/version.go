// Package version exposes the running build's version string, read
// once from .version/version.json under the process's working
// directory, with a safe fallback for local/dev builds.
package version

import (
	"encoding/json"
	"log"
	"os"
	"path/filepath"
	"sync"
)

// Info is the subset of release metadata the registry reports.
type Info struct {
	Version   string `json:"version"`
	Commit    string `json:"commit,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
}

const fallbackVersion = "v0.0.0-dev"

var (
	info Info
	once sync.Once
)

func load() {
	wd, err := os.Getwd()
	if err != nil {
		info.Version = fallbackVersion
		return
	}

	data, err := os.ReadFile(filepath.Join(wd, ".version", "version.json"))
	if err != nil {
		info.Version = fallbackVersion
		return
	}

	if err := json.Unmarshal(data, &info); err != nil {
		log.Printf(`{"level":"warn","module":"version","msg":"parse version.json: %v"}`, err)
		info.Version = fallbackVersion
		return
	}
	if info.Version == "" {
		info.Version = fallbackVersion
	}
}

// Get returns the process's version info, reading it exactly once.
func Get() Info {
	once.Do(load)
	return info
}

// String returns the bare version string.
func String() string {
	return Get().Version
}
