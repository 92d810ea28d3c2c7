package cache

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

const lockKeyPrefix = "lock:"

// DistributedLock provides advisory mutual exclusion across processes, built
// on the store's atomic set-if-absent. There is no fencing token: a holder
// that outlives its TTL can overlap with the next holder, so guarded work
// must tolerate double execution. The TTL guarantees eventual release even
// when a holder crashes before calling Release.
//
// Reserved for serializing per-tenant batch jobs; never used on the request
// read path.
type DistributedLock struct {
	store  Store
	logger *zap.Logger
}

// NewDistributedLock creates a lock manager over the given store.
func NewDistributedLock(store Store, logger *zap.Logger) *DistributedLock {
	return &DistributedLock{store: store, logger: logger}
}

// Acquire attempts to take the lock for key with the given TTL. It returns
// true only for the caller that created the underlying entry. A false return
// is a normal outcome (another holder owns the work), not an error. Store
// failures are returned as errors: locking fails closed.
func (l *DistributedLock) Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	acquired, err := l.store.SetIfAbsent(ctx, lockKeyPrefix+key, "1", ttl)
	if err != nil {
		return false, fmt.Errorf("failed to acquire lock %s: %w", key, err)
	}
	if acquired {
		l.logger.Debug("lock acquired", zap.String("key", key), zap.Duration("ttl", ttl))
	}
	return acquired, nil
}

// Release frees the lock for key. The delete is unconditional: the lock is
// advisory and a release after TTL expiry may remove a successor's entry, so
// holders should release promptly and keep guarded work idempotent.
func (l *DistributedLock) Release(ctx context.Context, key string) error {
	if err := l.store.Delete(ctx, lockKeyPrefix+key); err != nil {
		return fmt.Errorf("failed to release lock %s: %w", key, err)
	}
	l.logger.Debug("lock released", zap.String("key", key))
	return nil
}
