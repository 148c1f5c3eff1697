package memory

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/redis/go-redis/v9"
)

// ContextCache stores rendered prompt context per user.
// Implementations are best-effort: failures behave like misses.
type ContextCache interface {
	Get(ctx context.Context, userID string) (string, bool)
	Set(ctx context.Context, userID, value string)
	Delete(ctx context.Context, userID string)
	Clear(ctx context.Context)
}

// NewContextCache builds the backend named by cfg.CacheBackend.
// The redis backend needs a client; without one it falls back to the in-process cache.
func NewContextCache(cfg Config, client *redis.Client) ContextCache {
	cfg = cfg.withDefaults()
	if cfg.CacheBackend == CacheBackendRedis && client != nil {
		return NewRedisCache(client, cfg.CacheSize, cfg.CacheTTL)
	}
	return NewLRUCache(cfg.CacheSize, cfg.CacheTTL)
}

// LRUCache is a process-local cache bounded by size and TTL.
// Expired entries are dropped on read; a Set at capacity evicts the least recently used entry.
type LRUCache struct {
	lru *expirable.LRU[string, string]
}

func NewLRUCache(size int, ttl time.Duration) *LRUCache {
	return &LRUCache{lru: expirable.NewLRU[string, string](size, nil, ttl)}
}

func (c *LRUCache) Get(_ context.Context, userID string) (string, bool) {
	return c.lru.Get(userID)
}

func (c *LRUCache) Set(_ context.Context, userID, value string) {
	c.lru.Add(userID, value)
}

func (c *LRUCache) Delete(_ context.Context, userID string) {
	c.lru.Remove(userID)
}

func (c *LRUCache) Clear(_ context.Context) {
	c.lru.Purge()
}

// Len returns the number of live entries.
func (c *LRUCache) Len() int {
	return c.lru.Len()
}

const (
	redisCachePrefix = "ctx:v:"
	redisCacheLRUKey = "ctx:lru"
)

// RedisCache shares rendered context across instances. Values live under
// ctx:v:<user> with a TTL; the ctx:lru sorted set tracks last access for eviction.
type RedisCache struct {
	client *redis.Client
	size   int
	ttl    time.Duration
	now    func() time.Time
}

func NewRedisCache(client *redis.Client, size int, ttl time.Duration) *RedisCache {
	return &RedisCache{client: client, size: size, ttl: ttl, now: time.Now}
}

func cacheKey(userID string) string {
	return redisCachePrefix + userID
}

func (c *RedisCache) Get(ctx context.Context, userID string) (string, bool) {
	val, err := c.client.Get(ctx, cacheKey(userID)).Result()
	if errors.Is(err, redis.Nil) {
		// Expired or never set; drop any stale access record.
		c.client.ZRem(ctx, redisCacheLRUKey, userID)
		return "", false
	}
	if err != nil {
		slog.Warn("memory: context cache read failed", "error", err, "user_id", userID)
		return "", false
	}

	if err := c.client.ZAdd(ctx, redisCacheLRUKey, redis.Z{Score: c.score(), Member: userID}).Err(); err != nil {
		slog.Warn("memory: context cache touch failed", "error", err, "user_id", userID)
	}
	return val, true
}

func (c *RedisCache) Set(ctx context.Context, userID, value string) {
	if err := c.evictIfFull(ctx, userID); err != nil {
		slog.Warn("memory: context cache eviction failed", "error", err)
	}

	pipe := c.client.TxPipeline()
	pipe.Set(ctx, cacheKey(userID), value, c.ttl)
	pipe.ZAdd(ctx, redisCacheLRUKey, redis.Z{Score: c.score(), Member: userID})
	if _, err := pipe.Exec(ctx); err != nil {
		slog.Warn("memory: context cache write failed", "error", err, "user_id", userID)
	}
}

func (c *RedisCache) evictIfFull(ctx context.Context, userID string) error {
	if _, err := c.client.ZScore(ctx, redisCacheLRUKey, userID).Result(); err == nil {
		return nil // overwriting an existing entry does not grow the set
	} else if !errors.Is(err, redis.Nil) {
		return err
	}

	n, err := c.client.ZCard(ctx, redisCacheLRUKey).Result()
	if err != nil {
		return err
	}
	for ; n >= int64(c.size); n-- {
		popped, err := c.client.ZPopMin(ctx, redisCacheLRUKey, 1).Result()
		if err != nil {
			return err
		}
		if len(popped) == 0 {
			return nil
		}
		if member, ok := popped[0].Member.(string); ok {
			if err := c.client.Del(ctx, cacheKey(member)).Err(); err != nil {
				return err
			}
		}
	}
	return nil
}

func (c *RedisCache) Delete(ctx context.Context, userID string) {
	pipe := c.client.TxPipeline()
	pipe.Del(ctx, cacheKey(userID))
	pipe.ZRem(ctx, redisCacheLRUKey, userID)
	if _, err := pipe.Exec(ctx); err != nil {
		slog.Warn("memory: context cache delete failed", "error", err, "user_id", userID)
	}
}

func (c *RedisCache) Clear(ctx context.Context) {
	members, err := c.client.ZRange(ctx, redisCacheLRUKey, 0, -1).Result()
	if err != nil {
		slog.Warn("memory: context cache clear failed", "error", err)
		return
	}
	keys := make([]string, 0, len(members)+1)
	for _, m := range members {
		keys = append(keys, cacheKey(m))
	}
	keys = append(keys, redisCacheLRUKey)
	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		slog.Warn("memory: context cache clear failed", "error", err)
	}
}

func (c *RedisCache) score() float64 {
	return float64(c.now().UnixMicro())
}
