// Package rediscache backs the block store's Index with a Redis set,
// for deployments where several registry processes share one repo root
// over a network filesystem. A Redis-set membership check amortizes the
// stat() storm a purely in-process index would otherwise force on every
// Put. The filesystem remains authoritative: a miss here always falls
// through to blockstore.Store's own filesystem check.
package rediscache

import (
	"context"
	"log"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/kcsanjeeb/dedup-registry/internal/config"
)

const blockSetKey = "dedup-registry:blocks"

// Client wraps a go-redis client and satisfies blockstore.Index.
type Client struct {
	rdb *redis.Client
	ctx context.Context
}

// New connects to Redis per cfg and verifies the connection with a
// bounded-timeout ping.
func New(cfg config.CacheConfig) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr(),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, err
	}

	return &Client{rdb: rdb, ctx: context.Background()}, nil
}

// Has reports whether fp is a member of the shared block set.
func (c *Client) Has(fp string) bool {
	ok, err := c.rdb.SIsMember(c.ctx, blockSetKey, fp).Result()
	if err != nil {
		logWarn("has", fp, err)
		return false
	}
	return ok
}

// Note adds fp to the shared block set.
func (c *Client) Note(fp string) {
	if err := c.rdb.SAdd(c.ctx, blockSetKey, fp).Err(); err != nil {
		logWarn("note", fp, err)
	}
}

// Close releases the underlying connection pool.
func (c *Client) Close() error {
	return c.rdb.Close()
}

func logWarn(op, fp string, err error) {
	log.Printf(`{"timestamp":"%s","level":"warn","module":"rediscache","operation":"%s","fp":"%s","error":"%v"}`,
		time.Now().Format(time.RFC3339), op, fp, err)
}
