package extract

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// Cache stores extracted content by candidate id so re-polled items skip
// page fetches.
type Cache interface {
	Get(ctx context.Context, key string) (string, bool)
	Set(ctx context.Context, key, content string)
}

// NopCache never hits.
type NopCache struct{}

func (NopCache) Get(context.Context, string) (string, bool) { return "", false }
func (NopCache) Set(context.Context, string, string)        {}

const cacheKeyPrefix = "newsdesk:content:"

// RedisCache keeps extracted content in Redis with a TTL.
type RedisCache struct {
	rdb *redis.Client
	ttl time.Duration
	log *slog.Logger
}

// NewRedisCache connects to addr and verifies the server answers.
func NewRedisCache(addr string, ttl time.Duration, log *slog.Logger) (*RedisCache, error) {
	if log == nil {
		log = slog.Default()
	}
	rdb := redis.NewClient(&redis.Options{Addr: addr})

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping %s: %w", addr, err)
	}
	return &RedisCache{rdb: rdb, ttl: ttl, log: log}, nil
}

func (c *RedisCache) Get(ctx context.Context, key string) (string, bool) {
	val, err := c.rdb.Get(ctx, cacheKeyPrefix+key).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.log.Debug("content cache get failed", "key", key, "err", err)
		}
		return "", false
	}
	return val, true
}

func (c *RedisCache) Set(ctx context.Context, key, content string) {
	if err := c.rdb.Set(ctx, cacheKeyPrefix+key, content, c.ttl).Err(); err != nil {
		c.log.Debug("content cache set failed", "key", key, "err", err)
	}
}

// Close releases the Redis connection pool.
func (c *RedisCache) Close() error {
	return c.rdb.Close()
}
