package match

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Cache stores compatibility results between requests.
type Cache interface {
	Get(ctx context.Context, key string) (Result, bool, error)
	Set(ctx context.Context, key string, res Result) error
}

// CacheKey is directional: a scoring b may differ from b scoring a.
func CacheKey(a, b Profile) string {
	return fmt.Sprintf("compat:%d:%d:%d:%d", a.UserID, b.UserID, a.Version, b.Version)
}

// RedisCache keeps results in Redis with a fixed TTL.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisCache(client *redis.Client, ttl time.Duration) *RedisCache {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &RedisCache{client: client, ttl: ttl}
}

func (c *RedisCache) Get(ctx context.Context, key string) (Result, bool, error) {
	val, err := c.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return Result{}, false, nil
	}
	if err != nil {
		return Result{}, false, fmt.Errorf("redis get: %w", err)
	}

	var res Result
	if err := json.Unmarshal([]byte(val), &res); err != nil {
		return Result{}, false, fmt.Errorf("decode cached result: %w", err)
	}
	return res, true, nil
}

func (c *RedisCache) Set(ctx context.Context, key string, res Result) error {
	payload, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("encode result: %w", err)
	}
	if err := c.client.Set(ctx, key, payload, c.ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}
