// Package cache is the Redis read-through cache in front of external data
// sources. Each source class carries its own TTL: market ticks go stale in
// a minute, developer activity is good for an hour. Cache trouble is never
// allowed to break a read; a failing Redis degrades to loader calls.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/chimera-analytics/chimera/pkg/errdefs"
	"github.com/chimera-analytics/chimera/pkg/observability"
)

// Cache wraps an established Redis client with JSON serialization and
// per-entry TTLs.
type Cache struct {
	client *redis.Client
	o11y   observability.Observability
}

// New wires a cache onto an established Redis client.
func New(client *redis.Client, o11y observability.Observability) *Cache {
	return &Cache{client: client, o11y: o11y}
}

// Get loads a cached value into dest. The boolean reports whether the key
// was present.
func (c *Cache) Get(ctx context.Context, key string, dest any) (bool, error) {
	data, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		requestsTotal.WithLabelValues(namespace(key), "miss").Inc()
		return false, nil
	}
	if err != nil {
		return false, cacheErr("cache get", key, err)
	}
	if err := json.Unmarshal(data, dest); err != nil {
		return false, errdefs.NewDataProcessing("cached value is not valid JSON").
			WithDetail("key", key).
			WithCause(err)
	}
	requestsTotal.WithLabelValues(namespace(key), "hit").Inc()
	return true, nil
}

// Set stores a value under key. A zero ttl stores without expiry.
func (c *Cache) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return errdefs.NewDataProcessing("encode cache value").
			WithDetail("key", key).
			WithCause(err)
	}
	if err := c.client.Set(ctx, key, data, ttl).Err(); err != nil {
		return cacheErr("cache set", key, err)
	}
	return nil
}

// Delete removes a key. The boolean reports whether it existed.
func (c *Cache) Delete(ctx context.Context, key string) (bool, error) {
	n, err := c.client.Del(ctx, key).Result()
	if err != nil {
		return false, cacheErr("cache delete", key, err)
	}
	return n > 0, nil
}

// InvalidatePattern deletes every key matching a glob pattern, e.g.
// "market:binance:*", and returns how many were removed.
func (c *Cache) InvalidatePattern(ctx context.Context, pattern string) (int, error) {
	var deleted int
	iter := c.client.Scan(ctx, 0, pattern, 0).Iterator()
	for iter.Next(ctx) {
		n, err := c.client.Del(ctx, iter.Val()).Result()
		if err != nil {
			return deleted, cacheErr("cache invalidate", pattern, err)
		}
		deleted += int(n)
	}
	if err := iter.Err(); err != nil {
		return deleted, cacheErr("cache invalidate", pattern, err)
	}
	if deleted > 0 {
		c.o11y.Logger().Debug(ctx, "cache keys invalidated",
			observability.String("pattern", pattern),
			observability.Int("deleted", deleted),
		)
	}
	return deleted, nil
}

// GetOrLoad returns the cached value for key, or runs loader and caches
// its result for ttl. A broken cache degrades to calling the loader: only
// loader errors are returned.
func GetOrLoad[T any](ctx context.Context, c *Cache, key string, ttl time.Duration, loader func(context.Context) (T, error)) (T, error) {
	var cached T
	hit, err := c.Get(ctx, key, &cached)
	if err != nil {
		c.o11y.Logger().Warn(ctx, "cache read failed, falling through to loader",
			observability.String("key", key),
			observability.Error(err),
		)
	}
	if hit {
		return cached, nil
	}

	value, err := loader(ctx)
	if err != nil {
		var zero T
		return zero, err
	}
	if err := c.Set(ctx, key, value, ttl); err != nil {
		c.o11y.Logger().Warn(ctx, "cache write failed",
			observability.String("key", key),
			observability.Error(err),
		)
	}
	return value, nil
}

// namespace is the first key segment, used as the metric label so
// cardinality stays bounded by source class.
func namespace(key string) string {
	ns, _, ok := strings.Cut(key, ":")
	if !ok {
		return "other"
	}
	return ns
}

func cacheErr(action, key string, err error) error {
	return errdefs.NewSystem(action + " failed").
		WithCode(errdefs.CodeCacheError).
		WithDetail("key", key).
		WithCause(err)
}
