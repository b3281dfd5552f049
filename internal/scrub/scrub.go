// Package scrub implements an on-demand integrity check: every recipe's
// referenced blocks must be present in the block store. It never mutates
// anything it walks.
package scrub

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/kcsanjeeb/dedup-registry/internal/blobstore"
	"github.com/kcsanjeeb/dedup-registry/internal/blockstore"
)

// Defect describes one integrity violation found during a scrub.
type Defect struct {
	BlobID string
	FP     string
}

func (d Defect) String() string {
	return fmt.Sprintf("blob %s references missing block %s", d.BlobID, d.FP)
}

// Scrubber walks a layers directory and cross-checks every recipe
// against a block store.
type Scrubber struct {
	layersDir string
	blocks    *blockstore.Store
}

// New constructs a Scrubber over layersDir (the BlobStore's root) and
// blocks (the BlockStore to verify against).
func New(layersDir string, blocks *blockstore.Store) *Scrubber {
	return &Scrubber{layersDir: layersDir, blocks: blocks}
}

// Verify walks every layers/*/recipe.json, parses it, and checks that
// every referenced fingerprint has a block file on disk
// (BlockStore.StatOnDisk, which bypasses the Index). It returns
// ok=true with no defects iff the store is fully consistent.
func (s *Scrubber) Verify() (bool, []Defect, error) {
	var defects []Defect

	entries, err := os.ReadDir(s.layersDir)
	if err != nil {
		if os.IsNotExist(err) {
			return true, nil, nil
		}
		return false, nil, fmt.Errorf("scrub: read layers dir: %w", err)
	}

	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		blobID := e.Name()
		recipePath := filepath.Join(s.layersDir, blobID, "recipe.json")

		data, err := os.ReadFile(recipePath)
		if err != nil {
			if os.IsNotExist(err) {
				continue // config-only or data-only blob entry: nothing to cross-check
			}
			return false, nil, fmt.Errorf("scrub: read recipe %s: %w", recipePath, err)
		}

		var recipe blobstore.Recipe
		if err := json.Unmarshal(data, &recipe); err != nil {
			return false, nil, fmt.Errorf("scrub: parse recipe %s: %w", recipePath, err)
		}

		for _, fp := range recipe.Chunks {
			if !s.blocks.StatOnDisk(fp) {
				defects = append(defects, Defect{BlobID: blobID, FP: fp})
			}
		}
	}

	return len(defects) == 0, defects, nil
}
