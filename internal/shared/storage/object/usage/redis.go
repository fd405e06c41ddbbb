package usage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// adjustScript adds ARGV[1] to KEYS[1] only when the key exists, floors the
// result at zero and keeps the TTL. Returns -1 when the key is absent.
var adjustScript = redis.NewScript(`
local v = redis.call('GET', KEYS[1])
if not v then
	return -1
end
local n = tonumber(v) + tonumber(ARGV[1])
if n < 0 then
	n = 0
end
redis.call('SET', KEYS[1], n, 'KEEPTTL')
return n
`)

// RedisCache is a Cache backed by Redis.
type RedisCache struct {
	client redis.UniversalClient
}

// NewRedisCache wraps an existing client.
func NewRedisCache(client redis.UniversalClient) *RedisCache {
	return &RedisCache{client: client}
}

// NewRedisCacheFromURL connects using a redis:// URL.
func NewRedisCacheFromURL(ctx context.Context, url string) (*RedisCache, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return NewRedisCache(client), nil
}

// Get returns a cached value.
func (c *RedisCache) Get(ctx context.Context, key string) (int64, bool, error) {
	v, err := c.client.Get(ctx, key).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return v, true, nil
}

// Set stores value with ttl.
func (c *RedisCache) Set(ctx context.Context, key string, value int64, ttl time.Duration) error {
	return c.client.Set(ctx, key, value, ttl).Err()
}

// Adjust applies delta atomically when the key exists.
func (c *RedisCache) Adjust(ctx context.Context, key string, delta int64) (bool, error) {
	n, err := adjustScript.Run(ctx, c.client, []string{key}, delta).Int64()
	if err != nil {
		return false, err
	}
	return n >= 0, nil
}

// Forget deletes the key.
func (c *RedisCache) Forget(ctx context.Context, key string) error {
	return c.client.Del(ctx, key).Err()
}

// Close releases the client.
func (c *RedisCache) Close() error {
	return c.client.Close()
}

var _ Cache = (*RedisCache)(nil)
