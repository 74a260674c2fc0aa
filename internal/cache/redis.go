package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/meshcontrol/traffic-manager/internal/config"
	"github.com/meshcontrol/traffic-manager/internal/observability"
)

// negativeSentinel marks a key as known-absent. It is stored as the
// value so a plain GET distinguishes "no active route" from "not cached".
const negativeSentinel = "__NOT_FOUND__"

// RedisCache implements Cache over a go-redis client.
type RedisCache struct {
	client      *redis.Client
	logger      observability.Logger
	positiveTTL time.Duration
	negativeTTL time.Duration
}

// NewRedisCache builds the client and pings it once. A failed ping is
// logged but not fatal: the resolver treats cache errors as misses, so
// the service can start while Redis is down.
func NewRedisCache(cfg config.RedisConfig, positiveTTL, negativeTTL time.Duration, logger observability.Logger) *RedisCache {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr(),
		DB:           cfg.DB,
		DialTimeout:  cfg.SocketTimeout,
		ReadTimeout:  cfg.SocketTimeout,
		WriteTimeout: cfg.SocketTimeout,
		PoolSize:     cfg.PoolMax,
	})

	ctx, cancel := context.WithTimeout(context.Background(), cfg.SocketTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		logger.Warn("redis unavailable at startup", map[string]interface{}{
			"addr":  cfg.Addr(),
			"error": err.Error(),
		})
	}

	return &RedisCache{
		client:      client,
		logger:      logger,
		positiveTTL: positiveTTL,
		negativeTTL: negativeTTL,
	}
}

// NewRedisCacheWithClient wraps an existing client. Used by tests.
func NewRedisCacheWithClient(client *redis.Client, positiveTTL, negativeTTL time.Duration, logger observability.Logger) *RedisCache {
	return &RedisCache{
		client:      client,
		logger:      logger,
		positiveTTL: positiveTTL,
		negativeTTL: negativeTTL,
	}
}

// Get reads key, mapping redis.Nil to a miss and the sentinel value to a
// negative hit.
func (c *RedisCache) Get(ctx context.Context, key string) (Lookup, error) {
	val, err := c.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return Lookup{Status: Miss}, nil
	}
	if err != nil {
		return Lookup{}, fmt.Errorf("cache get %s: %w", key, err)
	}
	if val == negativeSentinel {
		return Lookup{Status: NegativeHit}, nil
	}
	return Lookup{Status: Hit, URL: val}, nil
}

// Set stores url under key with the positive TTL.
func (c *RedisCache) Set(ctx context.Context, key, url string) error {
	if err := c.client.Set(ctx, key, url, c.positiveTTL).Err(); err != nil {
		return fmt.Errorf("cache set %s: %w", key, err)
	}
	return nil
}

// SetNegative stores the known-absent marker under key with the negative
// TTL, which is kept short so newly created routes become visible quickly.
func (c *RedisCache) SetNegative(ctx context.Context, key string) error {
	if err := c.client.Set(ctx, key, negativeSentinel, c.negativeTTL).Err(); err != nil {
		return fmt.Errorf("cache set negative %s: %w", key, err)
	}
	return nil
}

// Delete removes key.
func (c *RedisCache) Delete(ctx context.Context, key string) error {
	if err := c.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("cache delete %s: %w", key, err)
	}
	return nil
}

// Ping checks connectivity.
func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close releases the client.
func (c *RedisCache) Close() error {
	return c.client.Close()
}
