package middleware

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"

	"github.com/kcsanjeeb/dedup-registry/internal/apperror"
	"github.com/kcsanjeeb/dedup-registry/internal/config"
)

// Limiter bounds a client's request rate.
type Limiter interface {
	Allow(ctx context.Context, key string, limit, burst int) (remaining int, ok bool)
}

// MemoryLimiter is a per-process token-bucket limiter, one bucket per
// key. Fine for a single instance; RedisLimiter is used instead when
// several registry processes must share one limit.
type MemoryLimiter struct {
	mu     sync.Mutex
	limits map[string]*rate.Limiter
}

func NewMemoryLimiter() *MemoryLimiter {
	return &MemoryLimiter{limits: make(map[string]*rate.Limiter)}
}

func (m *MemoryLimiter) getLimiter(key string, limit rate.Limit, burst int) *rate.Limiter {
	m.mu.Lock()
	defer m.mu.Unlock()
	if l, ok := m.limits[key]; ok {
		return l
	}
	l := rate.NewLimiter(limit, burst)
	m.limits[key] = l
	return l
}

func (m *MemoryLimiter) Allow(_ context.Context, key string, limit, burst int) (int, bool) {
	l := m.getLimiter(key, rate.Limit(limit), burst)
	ok := l.Allow()
	if ok {
		return burst, true
	}
	return 0, false
}

// RedisLimiter implements a sliding-window limiter shared across
// instances via a Lua script: a sorted set per key, scored by request
// timestamp, trimmed to the current window on every call.
type RedisLimiter struct {
	client *redis.Client
	script *redis.Script
}

func NewRedisLimiter(client *redis.Client) *RedisLimiter {
	return &RedisLimiter{
		client: client,
		script: redis.NewScript(`
			local key = KEYS[1]
			local limit = tonumber(ARGV[1])
			local window_ms = tonumber(ARGV[2])
			local now = tonumber(ARGV[3])

			redis.call('ZREMRANGEBYSCORE', key, 0, now - window_ms)
			local count = redis.call('ZCARD', key)

			if count < limit then
				redis.call('ZADD', key, now, now .. '-' .. math.random())
				redis.call('PEXPIRE', key, window_ms)
			end

			return {limit - count, count}
		`),
	}
}

func (r *RedisLimiter) Allow(ctx context.Context, key string, limit, burst int) (int, bool) {
	result, err := r.script.Run(ctx, r.client, []string{key}, limit, time.Second.Milliseconds(), time.Now().UnixMilli()).Slice()
	if err != nil {
		// Fail open: a Redis outage must not take the registry down.
		return burst, true
	}
	remaining := int(result[0].(int64))
	count := result[1].(int64)
	return remaining, count < int64(limit)
}

// RateLimit guards the upload-session endpoints per client IP. It is a
// no-op when rate limiting is disabled in configuration.
func RateLimit(cfg config.RateLimitConfig, limiter Limiter) gin.HandlerFunc {
	if !cfg.Enabled {
		return func(c *gin.Context) { c.Next() }
	}
	if limiter == nil {
		limiter = NewMemoryLimiter()
	}

	return func(c *gin.Context) {
		key := "ratelimit:" + c.ClientIP()
		remaining, ok := limiter.Allow(c, key, cfg.RequestsPerSecond, cfg.Burst)

		c.Header("X-RateLimit-Limit", strconv.Itoa(cfg.RequestsPerSecond))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(remaining))

		if !ok {
			c.Header("Retry-After", "1")
			c.JSON(429, apperror.Envelope{Errors: []apperror.EnvelopeEntry{{
				Code:    "TOOMANYREQUESTS",
				Message: "rate limit exceeded",
			}}})
			c.Abort()
			return
		}
		c.Next()
	}
}
