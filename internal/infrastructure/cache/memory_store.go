package cache

import (
	"context"
	"fmt"
	"path"
	"sort"
	"strconv"
	"sync"
	"time"
)

// MemoryStore is an in-memory Store implementation for tests and single-node
// development. It honors TTLs lazily, on access.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	now     func() time.Time
}

type memoryEntry struct {
	value     string
	expiresAt time.Time // zero means no expiry
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]memoryEntry),
		now:     time.Now,
	}
}

func (e memoryEntry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && !now.Before(e.expiresAt)
}

// live returns the entry for key, evicting it first if it has expired.
// Callers must hold the mutex.
func (s *MemoryStore) live(key string) (memoryEntry, bool) {
	e, ok := s.entries[key]
	if !ok {
		return memoryEntry{}, false
	}
	if e.expired(s.now()) {
		delete(s.entries, key)
		return memoryEntry{}, false
	}
	return e, true
}

// Get returns the value for key, reporting a miss for absent or expired keys.
func (s *MemoryStore) Get(ctx context.Context, key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.live(key)
	if !ok {
		return "", false, nil
	}
	return e.value, true, nil
}

// Set stores value under key with the given TTL.
func (s *MemoryStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var expiresAt time.Time
	if ttl > 0 {
		expiresAt = s.now().Add(ttl)
	}
	s.entries[key] = memoryEntry{value: value, expiresAt: expiresAt}
	return nil
}

// Delete removes the given keys.
func (s *MemoryStore) Delete(ctx context.Context, keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, k := range keys {
		delete(s.entries, k)
	}
	return nil
}

// Scan streams matching keys in pages of ScanPageSize, sorted for
// deterministic iteration.
func (s *MemoryStore) Scan(ctx context.Context, pattern string, fn func(keys []string) error) error {
	s.mu.Lock()
	now := s.now()
	var matched []string
	for k, e := range s.entries {
		if e.expired(now) {
			continue
		}
		if ok, err := path.Match(pattern, k); err == nil && ok {
			matched = append(matched, k)
		}
	}
	s.mu.Unlock()

	sort.Strings(matched)
	for start := 0; start < len(matched); start += ScanPageSize {
		end := min(start+ScanPageSize, len(matched))
		if err := fn(matched[start:end]); err != nil {
			return err
		}
	}
	return nil
}

// PipelineDelete removes keys in batches. Batching is moot in memory but the
// contract is kept identical to the Redis store.
func (s *MemoryStore) PipelineDelete(ctx context.Context, keys []string) error {
	return s.Delete(ctx, keys...)
}

// SetIfAbsent stores marker under key if the key does not exist.
func (s *MemoryStore) SetIfAbsent(ctx context.Context, key, marker string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.live(key); ok {
		return false, nil
	}
	var expiresAt time.Time
	if ttl > 0 {
		expiresAt = s.now().Add(ttl)
	}
	s.entries[key] = memoryEntry{value: marker, expiresAt: expiresAt}
	return true, nil
}

// Increment increments the integer stored at key, creating it as 1 when
// absent and preserving any existing expiry.
func (s *MemoryStore) Increment(ctx context.Context, key string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.live(key)
	if !ok {
		s.entries[key] = memoryEntry{value: "1"}
		return 1, nil
	}
	n, err := strconv.ParseInt(e.value, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("value at key %s is not an integer", key)
	}
	n++
	e.value = strconv.FormatInt(n, 10)
	s.entries[key] = e
	return n, nil
}

// Expire sets the TTL of an existing key.
func (s *MemoryStore) Expire(ctx context.Context, key string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.live(key)
	if !ok {
		return nil
	}
	e.expiresAt = s.now().Add(ttl)
	s.entries[key] = e
	return nil
}

// TTL returns the remaining TTL of key.
func (s *MemoryStore) TTL(ctx context.Context, key string) (time.Duration, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.live(key)
	if !ok || e.expiresAt.IsZero() {
		return 0, false, nil
	}
	return e.expiresAt.Sub(s.now()), true, nil
}

// Close is a no-op for the in-memory store.
func (s *MemoryStore) Close() error {
	return nil
}

var _ Store = (*MemoryStore)(nil)
