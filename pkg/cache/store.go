package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	// ErrCacheMiss indicates the requested key was not found in the store.
	ErrCacheMiss = errors.New("cache miss")

	// ErrInvalidEntry indicates the cache entry is invalid or corrupted.
	ErrInvalidEntry = errors.New("invalid cache entry")
)

// Store is a TTL key-value store. Individual key operations are atomic;
// there is no transactional guarantee across keys. Admin operations
// (Flush, DeleteByPattern) act on raw keys and bypass manager policy.
type Store interface {
	// Get returns the raw bytes for key, or ErrCacheMiss.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores value under key for the given TTL. A non-positive TTL is
	// not stored.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes a single key.
	Delete(ctx context.Context, key string) error

	// DeleteByPattern removes all keys matching a glob-style pattern
	// (e.g. "defillama:*") and returns how many were removed.
	DeleteByPattern(ctx context.Context, pattern string) (int, error)

	// Flush removes all keys.
	Flush(ctx context.Context) error
}

// RedisStore is the Redis-backed Store. Expiry is handled natively by
// Redis TTLs.
type RedisStore struct {
	redis *redis.Client
}

// NewRedisStore creates a Redis-backed store.
func NewRedisStore(redisClient *redis.Client) *RedisStore {
	if redisClient == nil {
		panic("redis client cannot be nil")
	}
	return &RedisStore{redis: redisClient}
}

// Get retrieves raw bytes by key.
func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := s.redis.Get(ctx, key).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, ErrCacheMiss
		}
		storeErrors.WithLabelValues("get").Inc()
		return nil, fmt.Errorf("redis get: %w", err)
	}
	return data, nil
}

// Set stores value under key with the given TTL.
func (s *RedisStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	if err := s.redis.Set(ctx, key, value, ttl).Err(); err != nil {
		storeErrors.WithLabelValues("set").Inc()
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

// Delete removes a single key.
func (s *RedisStore) Delete(ctx context.Context, key string) error {
	if err := s.redis.Del(ctx, key).Err(); err != nil {
		storeErrors.WithLabelValues("delete").Inc()
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

// DeleteByPattern scans for keys matching pattern and removes them.
func (s *RedisStore) DeleteByPattern(ctx context.Context, pattern string) (int, error) {
	var deleted int

	iter := s.redis.Scan(ctx, 0, pattern, 100).Iterator()
	for iter.Next(ctx) {
		if err := s.redis.Del(ctx, iter.Val()).Err(); err != nil {
			storeErrors.WithLabelValues("delete").Inc()
			return deleted, fmt.Errorf("redis del %q: %w", iter.Val(), err)
		}
		deleted++
	}
	if err := iter.Err(); err != nil {
		storeErrors.WithLabelValues("scan").Inc()
		return deleted, fmt.Errorf("redis scan: %w", err)
	}

	return deleted, nil
}

// Flush removes all keys in the current database.
func (s *RedisStore) Flush(ctx context.Context) error {
	if err := s.redis.FlushDB(ctx).Err(); err != nil {
		storeErrors.WithLabelValues("flush").Inc()
		return fmt.Errorf("redis flushdb: %w", err)
	}
	return nil
}
