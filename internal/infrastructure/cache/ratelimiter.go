package cache

import (
	"context"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"
)

const rateKeyPrefix = "ratelimit:"

// RateLimiterConfig holds fixed-window rate limiter settings.
type RateLimiterConfig struct {
	// Limit is the maximum number of requests allowed per window.
	Limit int
	// Window is the fixed window length. The window is never extended once
	// created, which bounds the maximum delay until a client's counter
	// resets under sustained traffic.
	Window time.Duration
}

// DefaultRateLimiterConfig returns the default limits: 60 requests per 300s.
func DefaultRateLimiterConfig() RateLimiterConfig {
	return RateLimiterConfig{Limit: 60, Window: 300 * time.Second}
}

// RateLimitResult reports the outcome of a rate limit check.
type RateLimitResult struct {
	Allowed bool
	// Remaining is the number of requests left in the current window.
	Remaining int
	// RetryAfter is the time until the window resets. Only meaningful when
	// the request was rejected.
	RetryAfter time.Duration
}

// RetryAfterSeconds returns RetryAfter rounded up to whole seconds, the unit
// reported to clients.
func (r RateLimitResult) RetryAfterSeconds() int {
	return int(math.Ceil(r.RetryAfter.Seconds()))
}

// RateLimiter is a fixed-window request governor with counters shared across
// processes through the store. Correctness relies on the store's atomic
// set-if-absent and TTL-preserving increment; on any store failure the
// limiter fails closed rather than silently allowing unbounded traffic.
type RateLimiter struct {
	store  Store
	cfg    RateLimiterConfig
	logger *zap.Logger
}

// NewRateLimiter creates a rate limiter over the given store. Zero config
// fields fall back to the defaults.
func NewRateLimiter(store Store, cfg RateLimiterConfig, logger *zap.Logger) *RateLimiter {
	def := DefaultRateLimiterConfig()
	if cfg.Limit <= 0 {
		cfg.Limit = def.Limit
	}
	if cfg.Window <= 0 {
		cfg.Window = def.Window
	}
	return &RateLimiter{store: store, cfg: cfg, logger: logger}
}

// Allow records one request for the given client identity and reports whether
// it fits within the current window. The first request of a window creates
// the counter with a fresh TTL; subsequent requests increment it under the
// already-remaining TTL so the window never slides.
func (r *RateLimiter) Allow(ctx context.Context, identity string) (RateLimitResult, error) {
	key := rateKeyPrefix + identity

	created, err := r.store.SetIfAbsent(ctx, key, "1", r.cfg.Window)
	if err != nil {
		return RateLimitResult{}, fmt.Errorf("failed to start rate window for %s: %w", identity, err)
	}
	if created {
		return RateLimitResult{Allowed: true, Remaining: r.cfg.Limit - 1}, nil
	}

	// An unparsable counter surfaces here as an increment error and rejects
	// the request rather than silently allowing unbounded traffic.
	count, err := r.store.Increment(ctx, key)
	if err != nil {
		return RateLimitResult{}, fmt.Errorf("failed to count request for %s: %w", identity, err)
	}

	remainingTTL, hasTTL, err := r.store.TTL(ctx, key)
	if err != nil {
		return RateLimitResult{}, fmt.Errorf("failed to read rate window for %s: %w", identity, err)
	}
	if !hasTTL {
		// The window expired between the set-if-absent and the increment,
		// leaving a counter without expiry. Start a fresh window around it.
		remainingTTL = r.cfg.Window
		if err := r.store.Expire(ctx, key, r.cfg.Window); err != nil {
			return RateLimitResult{}, fmt.Errorf("failed to reset rate window for %s: %w", identity, err)
		}
	}

	if count > int64(r.cfg.Limit) {
		r.logger.Warn("rate limit exceeded",
			zap.String("identity", identity),
			zap.Int64("count", count),
			zap.Int("limit", r.cfg.Limit),
			zap.Duration("retry_after", remainingTTL))
		return RateLimitResult{Allowed: false, Remaining: 0, RetryAfter: remainingTTL}, nil
	}
	return RateLimitResult{Allowed: true, Remaining: r.cfg.Limit - int(count)}, nil
}
