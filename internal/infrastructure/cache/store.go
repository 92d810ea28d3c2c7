package cache

import (
	"context"
	"time"
)

// ScanPageSize is the page size used for cursor-paginated key scans.
// Scans never materialize an unbounded key listing in one round trip.
const ScanPageSize = 100

// PipelineBatchSize is the maximum number of keys deleted per pipeline
// round trip during bulk invalidation.
const PipelineBatchSize = 100

// Store is the key-value cache contract shared by the caching gateway, the
// distributed lock and the rate limiter. All keys are implicitly namespaced
// by the store at construction time; callers never see the namespace prefix.
//
// Store implementations report errors honestly. Degrading on failure (treating
// errors as cache misses) is a policy of the caller: the integration cache
// gateway logs and degrades, while the lock and the rate limiter fail closed
// because they depend on the store's atomicity guarantees.
type Store interface {
	// Get returns the value for key. The second return value is false on a
	// cache miss (key absent or expired).
	Get(ctx context.Context, key string) (string, bool, error)

	// Set stores value under key with the given TTL. A zero or negative TTL
	// stores the value without expiry.
	Set(ctx context.Context, key, value string, ttl time.Duration) error

	// Delete removes the given keys. Deleting a non-existent key is a no-op.
	Delete(ctx context.Context, keys ...string) error

	// Scan streams all keys matching the glob pattern in bounded pages,
	// invoking fn once per page. Returning an error from fn stops the scan.
	Scan(ctx context.Context, pattern string, fn func(keys []string) error) error

	// PipelineDelete removes the given keys in batches of at most
	// PipelineBatchSize per round trip.
	PipelineDelete(ctx context.Context, keys []string) error

	// SetIfAbsent atomically stores marker under key with the given TTL if
	// and only if the key does not exist. Returns true when this caller
	// created the key.
	SetIfAbsent(ctx context.Context, key, marker string, ttl time.Duration) (bool, error)

	// Increment atomically increments the integer value stored at key,
	// creating it as 1 when absent. An existing TTL is preserved. Returns an
	// error when the stored value is not an integer.
	Increment(ctx context.Context, key string) (int64, error)

	// Expire sets the TTL of an existing key.
	Expire(ctx context.Context, key string, ttl time.Duration) error

	// TTL returns the remaining TTL of key. The second return value is false
	// when the key does not exist or carries no expiry.
	TTL(ctx context.Context, key string) (time.Duration, bool, error)

	// Close releases any resources held by the store.
	Close() error
}
