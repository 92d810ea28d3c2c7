package cache

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisConfig holds Redis connection configuration.
type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

// RedisStore implements Store on top of a Redis server. Every key is
// prefixed with "<namespace>:" so that stores built for different logical
// domains can share one Redis database without colliding.
type RedisStore struct {
	client    *redis.Client
	namespace string
}

// NewRedisStore connects to Redis and returns a namespaced store.
func NewRedisStore(cfg RedisConfig, namespace string) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     10,
		MinIdleConns: 3,
		MaxRetries:   3,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return NewRedisStoreWithClient(client, namespace), nil
}

// NewRedisStoreWithClient wraps an existing Redis client. Useful for tests
// and for sharing one client across namespaced stores.
func NewRedisStoreWithClient(client *redis.Client, namespace string) *RedisStore {
	return &RedisStore{client: client, namespace: namespace}
}

func (s *RedisStore) key(k string) string {
	if s.namespace == "" {
		return k
	}
	return s.namespace + ":" + k
}

func (s *RedisStore) stripNamespace(k string) string {
	if s.namespace == "" {
		return k
	}
	return strings.TrimPrefix(k, s.namespace+":")
}

// Get returns the value for key, reporting a miss for absent keys.
func (s *RedisStore) Get(ctx context.Context, key string) (string, bool, error) {
	val, err := s.client.Get(ctx, s.key(key)).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to get cache key %s: %w", key, err)
	}
	return val, true, nil
}

// Set stores value under key with the given TTL.
func (s *RedisStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if ttl < 0 {
		ttl = 0
	}
	if err := s.client.Set(ctx, s.key(key), value, ttl).Err(); err != nil {
		return fmt.Errorf("failed to set cache key %s: %w", key, err)
	}
	return nil
}

// Delete removes the given keys.
func (s *RedisStore) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = s.key(k)
	}
	if err := s.client.Del(ctx, full...).Err(); err != nil {
		return fmt.Errorf("failed to delete cache keys: %w", err)
	}
	return nil
}

// Scan streams matching keys in pages of ScanPageSize using SCAN cursors.
// Keys handed to fn have the namespace prefix stripped.
func (s *RedisStore) Scan(ctx context.Context, pattern string, fn func(keys []string) error) error {
	var cursor uint64
	for {
		keys, next, err := s.client.Scan(ctx, cursor, s.key(pattern), ScanPageSize).Result()
		if err != nil {
			return fmt.Errorf("failed to scan cache keys for pattern %s: %w", pattern, err)
		}
		if len(keys) > 0 {
			page := make([]string, len(keys))
			for i, k := range keys {
				page[i] = s.stripNamespace(k)
			}
			if err := fn(page); err != nil {
				return err
			}
		}
		cursor = next
		if cursor == 0 {
			return nil
		}
	}
}

// PipelineDelete removes keys in batches of at most PipelineBatchSize.
func (s *RedisStore) PipelineDelete(ctx context.Context, keys []string) error {
	for start := 0; start < len(keys); start += PipelineBatchSize {
		end := min(start+PipelineBatchSize, len(keys))
		pipe := s.client.Pipeline()
		for _, k := range keys[start:end] {
			pipe.Del(ctx, s.key(k))
		}
		if _, err := pipe.Exec(ctx); err != nil {
			return fmt.Errorf("failed to pipeline-delete cache keys: %w", err)
		}
	}
	return nil
}

// SetIfAbsent uses SET NX EX as a single atomic operation.
func (s *RedisStore) SetIfAbsent(ctx context.Context, key, marker string, ttl time.Duration) (bool, error) {
	ok, err := s.client.SetNX(ctx, s.key(key), marker, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to set-if-absent cache key %s: %w", key, err)
	}
	return ok, nil
}

// Increment uses INCR, which is atomic and preserves any existing TTL.
func (s *RedisStore) Increment(ctx context.Context, key string) (int64, error) {
	n, err := s.client.Incr(ctx, s.key(key)).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to increment cache key %s: %w", key, err)
	}
	return n, nil
}

// Expire sets the TTL of an existing key.
func (s *RedisStore) Expire(ctx context.Context, key string, ttl time.Duration) error {
	if err := s.client.Expire(ctx, s.key(key), ttl).Err(); err != nil {
		return fmt.Errorf("failed to expire cache key %s: %w", key, err)
	}
	return nil
}

// TTL returns the remaining TTL of key. Redis reports -2 for a missing key
// and -1 for a key without expiry; both map to "no TTL available".
func (s *RedisStore) TTL(ctx context.Context, key string) (time.Duration, bool, error) {
	d, err := s.client.TTL(ctx, s.key(key)).Result()
	if err != nil {
		return 0, false, fmt.Errorf("failed to read TTL of cache key %s: %w", key, err)
	}
	if d < 0 {
		return 0, false, nil
	}
	return d, true, nil
}

// Close closes the underlying Redis client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

var _ Store = (*RedisStore)(nil)
