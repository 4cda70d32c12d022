package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// RedisBackend stores entries in Redis with native key expiry.
type RedisBackend struct {
	client *redis.Client
}

// NewRedisBackend wraps an existing client.
func NewRedisBackend(client *redis.Client) *RedisBackend {
	return &RedisBackend{client: client}
}

// DialRedis parses a redis:// URL and pings the server. The client is
// returned even when the ping fails so callers can keep running degraded.
func DialRedis(ctx context.Context, url string) (*RedisBackend, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	b := NewRedisBackend(redis.NewClient(opts))
	if err := b.client.Ping(ctx).Err(); err != nil {
		return b, fmt.Errorf("redis ping: %w", err)
	}
	return b, nil
}

func (r *RedisBackend) Get(ctx context.Context, key string) ([]byte, bool, error) {
	val, err := r.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return val, true, nil
}

func (r *RedisBackend) Set(ctx context.Context, key string, val []byte, ttl time.Duration) error {
	return r.client.Set(ctx, key, val, ttl).Err()
}

// Close releases the connection pool.
func (r *RedisBackend) Close() error { return r.client.Close() }
