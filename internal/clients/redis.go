package clients

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker"

	"github.com/Anshuman-git-code/two-tier-app-eks-deployment/internal/bootstrap"
	"github.com/Anshuman-git-code/two-tier-app-eks-deployment/internal/config"
)

const redisProbeName = "redis"

// redisCmdable is the subset of the go-redis client used by the cache.
// Declared as an interface so tests can inject a fake without a live server.
type redisCmdable interface {
	Ping(ctx context.Context) *redis.StatusCmd
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// RedisCache is an optional read-through cache in front of the message list.
// Every method degrades gracefully: a cache failure is logged and treated as
// a miss, never surfaced to the request path.
type RedisCache struct {
	ttl    time.Duration
	cb     *gobreaker.CircuitBreaker
	client redisCmdable
}

// NewRedisCache builds the cache from config. The go-redis client connects
// lazily on first use.
func NewRedisCache(cfg config.CacheConfig, cb *gobreaker.CircuitBreaker) *RedisCache {
	return &RedisCache{
		ttl: cfg.TTL,
		cb:  cb,
		client: redis.NewClient(&redis.Options{
			Addr:     cfg.Addr,
			Password: cfg.Password,
			DB:       cfg.DB,
		}),
	}
}

// Get returns the cached payload for key and whether it was present.
func (c *RedisCache) Get(ctx context.Context, key string) (string, bool) {
	val, err := c.client.Get(ctx, key).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			slog.Warn("cache get failed", "key", key, "err", err)
		}
		return "", false
	}
	return val, true
}

// Set stores payload under key with the configured TTL.
func (c *RedisCache) Set(ctx context.Context, key, payload string) {
	if err := c.client.Set(ctx, key, payload, c.ttl).Err(); err != nil {
		slog.Warn("cache set failed", "key", key, "err", err)
	}
}

// Invalidate removes key, typically after a write made the cached value stale.
func (c *RedisCache) Invalidate(ctx context.Context, key string) {
	if err := c.client.Del(ctx, key).Err(); err != nil {
		slog.Warn("cache invalidate failed", "key", key, "err", err)
	}
}

// Probe sends a PING and validates the PONG response for the deep-health
// surface. Wrapped in the circuit breaker; after three consecutive failures
// the breaker opens and subsequent probes return "circuit open" immediately.
func (c *RedisCache) Probe(ctx context.Context) bootstrap.ProbeResult {
	start := time.Now()

	_, err := c.cb.Execute(func() (any, error) {
		val, err := c.client.Ping(ctx).Result()
		if err != nil {
			return nil, err
		}
		if val != "PONG" {
			return nil, errors.New("unexpected PING response: " + val)
		}
		return nil, nil
	})

	latency := time.Since(start).Milliseconds()

	if err != nil {
		errMsg := err.Error()
		if errors.Is(err, gobreaker.ErrOpenState) {
			errMsg = "circuit open"
		}
		return bootstrap.ProbeResult{Name: redisProbeName, OK: false, LatencyMs: latency, Error: errMsg}
	}
	return bootstrap.ProbeResult{Name: redisProbeName, OK: true, LatencyMs: latency}
}
