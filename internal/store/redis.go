package store

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore handles Redis operations: send-path rate limiting counters.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore creates a new Redis store.
func NewRedisStore(ctx context.Context, redisURL string) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}

	client := redis.NewClient(opts)

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}

	return &RedisStore{client: client}, nil
}

// Close closes the Redis connection.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// Ping checks the Redis connection.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Client exposes the underlying client for middleware.
func (s *RedisStore) Client() *redis.Client {
	return s.client
}

// rateLimitKey returns the key for a user's send counter.
func rateLimitKey(userID string) string {
	return fmt.Sprintf("ratelimit:send:%s", userID)
}

// CheckRateLimit reports whether the user is still under the send limit.
func (s *RedisStore) CheckRateLimit(ctx context.Context, userID string, limit int) (bool, error) {
	count, err := s.client.Get(ctx, rateLimitKey(userID)).Int()
	if err != nil && err != redis.Nil {
		return false, err
	}
	return count < limit, nil
}

// IncrementRateLimit bumps the user's send counter within the window.
func (s *RedisStore) IncrementRateLimit(ctx context.Context, userID string, window time.Duration) error {
	key := rateLimitKey(userID)

	pipe := s.client.Pipeline()
	pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, window)
	_, err := pipe.Exec(ctx)
	return err
}
