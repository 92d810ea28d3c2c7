// Package flow orchestrates fragment matching and merging behind a short
// per-tenant result cache.
package flow

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/medagenda/backend/internal/domain/flow"
	"github.com/medagenda/backend/internal/domain/integration"
	"github.com/medagenda/backend/internal/infrastructure/cache"
	"github.com/medagenda/backend/internal/infrastructure/telemetry"
	"go.uber.org/zap"
)

// flowMatchSegment is the key segment all cached match results live under,
// so invalidation can target them without touching the tenant's other
// entries.
const flowMatchSegment = "flow-match"

// DefaultMatchTTL keeps merged results hot across the rapid-fire requests
// of a single conversation turn while staying short enough that a missed
// invalidation heals on its own.
const DefaultMatchTTL = 180 * time.Second

// Service matches a tenant's stored action fragments against request
// context, merges them per action kind, and caches the merged outcome.
type Service struct {
	repo     flow.FragmentRepository
	store    cache.Store
	matchTTL time.Duration
	logger   *zap.Logger
	metrics  *telemetry.CacheMetrics
	now      func() time.Time
}

// NewService creates the flow service. matchTTL <= 0 selects
// DefaultMatchTTL; metrics may be nil.
func NewService(repo flow.FragmentRepository, store cache.Store, matchTTL time.Duration, logger *zap.Logger, metrics *telemetry.CacheMetrics) *Service {
	if matchTTL <= 0 {
		matchTTL = DefaultMatchTTL
	}
	return &Service{
		repo:     repo,
		store:    store,
		matchTTL: matchTTL,
		logger:   logger,
		metrics:  metrics,
		now:      time.Now,
	}
}

// reducedContext is the canonical, order-insensitive projection of a
// FilterContext used for cache key derivation. Only fields that influence
// the match outcome participate, and list fields are sorted so logically
// identical requests share an entry.
type reducedContext struct {
	Steps     []string              `json:"steps,omitempty"`
	Triggers  []string              `json:"triggers,omitempty"`
	Entities  map[string][]string   `json:"entities,omitempty"`
	Age       *int                  `json:"age,omitempty"`
	Sex       string                `json:"sex,omitempty"`
	CPF       string                `json:"cpf,omitempty"`
	Overrides []flow.ActionFragment `json:"overrides,omitempty"`
}

func reduce(fctx *flow.FilterContext) reducedContext {
	reduced := reducedContext{
		Steps:     sortedCopy(fctx.Steps),
		Triggers:  sortedCopy(fctx.Triggers),
		Age:       fctx.PatientAge,
		Sex:       fctx.PatientSex,
		CPF:       fctx.PatientCPF,
		Overrides: fctx.Overrides,
	}
	if len(fctx.Entities) > 0 {
		reduced.Entities = make(map[string][]string, len(fctx.Entities))
		for kind, ids := range fctx.Entities {
			reduced.Entities[kind] = sortedCopy(ids)
		}
	}
	return reduced
}

func sortedCopy(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	out := make([]string, len(values))
	copy(out, values)
	sort.Strings(out)
	return out
}

func (s *Service) matchKey(tenant integration.Tenant, fctx *flow.FilterContext) (string, error) {
	suffix, err := cache.BuildCustomKey(flowMatchSegment, reduce(fctx))
	if err != nil {
		return "", err
	}
	return tenant.CacheKeyPrefix() + ":" + flowMatchSegment + ":" + suffix, nil
}

// MatchActions returns the merged policy fragments for the request context:
// at most one fragment per action kind for merged kinds, all matches for
// pass-through kinds. Results are cached; ad-hoc overrides participate in
// both matching and the cache key. Satisfies integration.RulesHandler.
func (s *Service) MatchActions(ctx context.Context, tenant integration.Tenant, fctx *flow.FilterContext) ([]flow.ActionFragment, error) {
	key, err := s.matchKey(tenant, fctx)
	if err != nil {
		// Key derivation failing means the context has an unencodable
		// override payload. Matching can still proceed uncached.
		s.logger.Warn("failed to derive flow match cache key, bypassing cache",
			zap.String("tenant_id", tenant.ID.String()), zap.Error(err))
		return s.resolve(ctx, fctx)
	}

	if cached, ok := s.readCached(ctx, key); ok {
		return cached, nil
	}

	merged, err := s.resolve(ctx, fctx)
	if err != nil {
		return nil, err
	}
	s.writeCached(ctx, key, merged)
	return merged, nil
}

func (s *Service) resolve(ctx context.Context, fctx *flow.FilterContext) ([]flow.ActionFragment, error) {
	stored, err := s.repo.FindActive(ctx, fctx.TenantID, fctx.Steps, fctx.Triggers)
	if err != nil {
		return nil, fmt.Errorf("failed to load action fragments: %w", err)
	}

	candidates := make([]flow.ActionFragment, 0, len(stored)+len(fctx.Overrides))
	candidates = append(candidates, stored...)
	candidates = append(candidates, fctx.Overrides...)

	matched := flow.MatchFragments(candidates, fctx, s.now())
	merged, err := flow.Merge(matched)
	if err != nil {
		return nil, fmt.Errorf("failed to merge action fragments: %w", err)
	}
	return merged, nil
}

func (s *Service) readCached(ctx context.Context, key string) ([]flow.ActionFragment, bool) {
	raw, found, err := s.store.Get(ctx, key)
	if err != nil {
		s.logger.Warn("flow match cache read failed, degrading to miss",
			zap.String("key", key), zap.Error(err))
		s.metrics.RecordMiss(ctx, flowMatchSegment)
		return nil, false
	}
	if !found {
		s.metrics.RecordMiss(ctx, flowMatchSegment)
		return nil, false
	}
	var merged []flow.ActionFragment
	if err := json.Unmarshal([]byte(raw), &merged); err != nil {
		s.logger.Warn("malformed flow match cache entry, treating as miss",
			zap.String("key", key), zap.Error(err))
		s.metrics.RecordMiss(ctx, flowMatchSegment)
		return nil, false
	}
	s.metrics.RecordHit(ctx, flowMatchSegment)
	return merged, true
}

func (s *Service) writeCached(ctx context.Context, key string, merged []flow.ActionFragment) {
	raw, err := json.Marshal(merged)
	if err != nil {
		s.logger.Warn("failed to encode flow match result", zap.String("key", key), zap.Error(err))
		return
	}
	if err := s.store.Set(ctx, key, string(raw), s.matchTTL); err != nil {
		s.logger.Warn("flow match cache write failed, continuing without cache",
			zap.String("key", key), zap.Error(err))
	}
}

// CreateFragment persists a new fragment and invalidates the tenant's cached
// match results.
func (s *Service) CreateFragment(ctx context.Context, tenant integration.Tenant, fragment *flow.ActionFragment) error {
	if err := s.repo.Create(ctx, fragment); err != nil {
		return fmt.Errorf("failed to create action fragment: %w", err)
	}
	return s.ClearTenantCache(ctx, tenant)
}

// DeleteFragment soft-deletes a tenant's fragment and invalidates the
// tenant's cached match results.
func (s *Service) DeleteFragment(ctx context.Context, tenant integration.Tenant, id uuid.UUID) error {
	if err := s.repo.SoftDelete(ctx, tenant.ID, id); err != nil {
		return fmt.Errorf("failed to delete action fragment: %w", err)
	}
	return s.ClearTenantCache(ctx, tenant)
}

// ClearTenantCache drops every cached match result of the tenant, in bounded
// batches. The error is surfaced because a failed invalidation means stale
// policy may keep applying until the TTL runs out.
func (s *Service) ClearTenantCache(ctx context.Context, tenant integration.Tenant) error {
	pattern := tenant.CacheKeyPrefix() + ":" + flowMatchSegment + ":*"
	removed := 0
	err := s.store.Scan(ctx, pattern, func(keys []string) error {
		if err := s.store.PipelineDelete(ctx, keys); err != nil {
			return err
		}
		removed += len(keys)
		return nil
	})
	if err != nil {
		s.logger.Error("flow match cache invalidation failed",
			zap.String("tenant_id", tenant.ID.String()), zap.Int("removed", removed), zap.Error(err))
		return fmt.Errorf("failed to clear flow match cache: %w", err)
	}
	s.metrics.RecordInvalidation(ctx, flowMatchSegment, removed)
	s.logger.Info("flow match cache cleared",
		zap.String("tenant_id", tenant.ID.String()), zap.Int("removed", removed))
	return nil
}
