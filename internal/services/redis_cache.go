package services

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/huangang/taskhub/internal/config"
	"github.com/huangang/taskhub/pkg/logger"
)

const lookupKeyPrefix = "taskhub:lookup:"

// RedisLookupCache is the shared tier of LookupCache.
type RedisLookupCache struct {
	redis *redis.Client
	ttl   time.Duration
}

// NewRedisLookupCache connects to Redis and verifies the connection.
func NewRedisLookupCache(cfg *config.RedisConfig, ttl time.Duration) (*RedisLookupCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := client.Ping(context.Background()).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return NewRedisLookupCacheFromClient(client, ttl), nil
}

// NewRedisLookupCacheFromClient wraps an existing client, mainly for tests.
func NewRedisLookupCacheFromClient(client *redis.Client, ttl time.Duration) *RedisLookupCache {
	return &RedisLookupCache{redis: client, ttl: ttl}
}

func (c *RedisLookupCache) Get(ctx context.Context, key string) (uint, bool) {
	id, err := c.redis.Get(ctx, lookupKeyPrefix+key).Uint64()
	if err != nil {
		if err != redis.Nil {
			logger.Debug().Err(err).Str("key", key).Msg("[RedisLookupCache] get failed")
		}
		return 0, false
	}
	return uint(id), true
}

func (c *RedisLookupCache) Set(ctx context.Context, key string, id uint) {
	if err := c.redis.Set(ctx, lookupKeyPrefix+key, uint64(id), c.ttl).Err(); err != nil {
		logger.Debug().Err(err).Str("key", key).Msg("[RedisLookupCache] set failed")
	}
}

// Purge deletes every lookup key written by any replica.
func (c *RedisLookupCache) Purge(ctx context.Context) error {
	iter := c.redis.Scan(ctx, 0, lookupKeyPrefix+"*", 100).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return err
	}
	if len(keys) == 0 {
		return nil
	}
	return c.redis.Del(ctx, keys...).Err()
}

func (c *RedisLookupCache) Close() error {
	return c.redis.Close()
}
