// Package main is the registry's HTTP server entrypoint.
package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"github.com/kcsanjeeb/dedup-registry/internal/blobstore"
	"github.com/kcsanjeeb/dedup-registry/internal/blockstore"
	"github.com/kcsanjeeb/dedup-registry/internal/catalog"
	"github.com/kcsanjeeb/dedup-registry/internal/config"
	"github.com/kcsanjeeb/dedup-registry/internal/manifeststore"
	"github.com/kcsanjeeb/dedup-registry/internal/middleware"
	"github.com/kcsanjeeb/dedup-registry/internal/rediscache"
	"github.com/kcsanjeeb/dedup-registry/internal/registryapi"
	storagemirror "github.com/kcsanjeeb/dedup-registry/internal/storage"
	"github.com/kcsanjeeb/dedup-registry/internal/storage/driver"
	"github.com/kcsanjeeb/dedup-registry/internal/uploadsession"
	"github.com/kcsanjeeb/dedup-registry/internal/version"
)

func main() {
	log.SetFlags(0)
	gin.SetMode(gin.ReleaseMode)

	configPath := flag.String("config", "config.yaml", "path to config.yaml")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf(`{"level":"fatal","msg":"load config: %v"}`, err)
	}

	var index blockstore.Index
	if cfg.Cache.Enabled {
		redisIdx, err := rediscache.New(cfg.Cache)
		if err != nil {
			log.Fatalf(`{"level":"fatal","msg":"connect redis: %v"}`, err)
		}
		defer redisIdx.Close()
		index = redisIdx
	}

	blocks, err := blockstore.Open(filepath.Join(cfg.Storage.Local.RepoRoot, "blocks"), index)
	if err != nil {
		log.Fatalf(`{"level":"fatal","msg":"open blockstore: %v"}`, err)
	}

	var blobOpts []blobstore.Option
	if cfg.Mirror.Enabled {
		mirrorBackend, err := driver.NewMinIOStorage(cfg.Mirror.MinIO)
		if err != nil {
			log.Fatalf(`{"level":"fatal","msg":"open mirror backend: %v"}`, err)
		}
		blobOpts = append(blobOpts, blobstore.WithMirror(storagemirror.NewBlockMirror(mirrorBackend)))
	}

	blobs, err := blobstore.Open(filepath.Join(cfg.Storage.Local.RepoRoot, "layers"), blocks, cfg.BlockSize(), blobOpts...)
	if err != nil {
		log.Fatalf(`{"level":"fatal","msg":"open blobstore: %v"}`, err)
	}

	uploads, err := uploadsession.Open(filepath.Join(cfg.Storage.Local.RepoRoot, "uploads"))
	if err != nil {
		log.Fatalf(`{"level":"fatal","msg":"open upload sessions: %v"}`, err)
	}

	var manifestOpts []manifeststore.Option
	if cfg.Catalog.Enabled {
		catalogIdx, err := catalog.Open(cfg.Catalog)
		if err != nil {
			log.Fatalf(`{"level":"fatal","msg":"open catalog: %v"}`, err)
		}
		manifestOpts = append(manifestOpts, manifeststore.WithNotifier(catalogIdx))
	}

	manifests, err := manifeststore.Open(filepath.Join(cfg.Storage.Local.RepoRoot, "manifests"), blobs, manifestOpts...)
	if err != nil {
		log.Fatalf(`{"level":"fatal","msg":"open manifest store: %v"}`, err)
	}

	server := registryapi.New(blobs, uploads, manifests)
	if cfg.RateLimit.Enabled {
		var limiter middleware.Limiter
		if cfg.Cache.Enabled {
			// Share the limit across instances via the same Redis used
			// for the block index.
			limiter = middleware.NewRedisLimiter(redis.NewClient(&redis.Options{
				Addr:     cfg.Cache.Addr(),
				Password: cfg.Cache.Password,
				DB:       cfg.Cache.DB,
			}))
		}
		server = server.WithRateLimit(cfg.RateLimit, limiter)
	}

	srv := &http.Server{
		Addr:    cfg.Addr(),
		Handler: server.Router(),
	}

	serverErr := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	log.Printf(`{"level":"info","msg":"registry listening","addr":"%s","repo_root":"%s","version":"%s"}`,
		cfg.Addr(), cfg.Storage.Local.RepoRoot, version.String())

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErr:
		log.Fatalf(`{"level":"fatal","msg":"server error: %v"}`, err)
	case <-quit:
	}

	log.Printf(`{"level":"info","msg":"shutting down"}`)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Printf(`{"level":"warn","msg":"graceful shutdown failed, forcing close: %v"}`, err)
		srv.Close()
	}
}
