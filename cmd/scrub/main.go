// Package main is a CLI entrypoint for the on-demand integrity check:
// every recipe's referenced blocks are confirmed present on disk.
package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"github.com/kcsanjeeb/dedup-registry/internal/blockstore"
	"github.com/kcsanjeeb/dedup-registry/internal/config"
	"github.com/kcsanjeeb/dedup-registry/internal/scrub"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config.yaml")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "scrub: load config: %v\n", err)
		os.Exit(2)
	}

	blocks, err := blockstore.Open(filepath.Join(cfg.Storage.Local.RepoRoot, "blocks"), nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "scrub: open blockstore: %v\n", err)
		os.Exit(2)
	}

	s := scrub.New(filepath.Join(cfg.Storage.Local.RepoRoot, "layers"), blocks)
	ok, defects, err := s.Verify()
	if err != nil {
		fmt.Fprintf(os.Stderr, "scrub: verify: %v\n", err)
		os.Exit(2)
	}

	for _, d := range defects {
		fmt.Println(d.String())
	}

	if !ok {
		fmt.Printf("scrub: %d defect(s) found\n", len(defects))
		os.Exit(1)
	}
	fmt.Println("scrub: clean")
}
