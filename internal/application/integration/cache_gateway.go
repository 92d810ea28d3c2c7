// Package integration hosts the tenant-scoped caching facade shared by every
// ERP adapter.
package integration

import (
	"context"
	"encoding/json"
	"sort"
	"time"

	"github.com/medagenda/backend/internal/domain/integration"
	"github.com/medagenda/backend/internal/domain/scheduling"
	"github.com/medagenda/backend/internal/infrastructure/cache"
	"github.com/medagenda/backend/internal/infrastructure/telemetry"
	"go.uber.org/zap"
)

// TTLConfig holds the per-resource cache TTLs. Zero fields fall back to the
// defaults below.
type TTLConfig struct {
	Patient          time.Duration
	PatientSchedules time.Duration
	EntityList       time.Duration
	ProcessedEntity  time.Duration
	ScheduleQuote    time.Duration
	PatientToken     time.Duration
	TenantToken      time.Duration
	SearchResult     time.Duration
}

// MaxSearchResultTTL caps the conversation-scoped search-result cache.
// Available-slot listings go stale fast, and a short bound also limits how
// long a misrouted conversation id could serve wrong results.
const MaxSearchResultTTL = 120 * time.Second

// DefaultTTLConfig returns the default per-resource TTLs.
func DefaultTTLConfig() TTLConfig {
	return TTLConfig{
		Patient:          12 * time.Hour,
		PatientSchedules: 10 * time.Minute,
		EntityList:       1 * time.Hour,
		ProcessedEntity:  1 * time.Hour,
		ScheduleQuote:    30 * time.Minute,
		PatientToken:     50 * time.Minute,
		TenantToken:      50 * time.Minute,
		SearchResult:     MaxSearchResultTTL,
	}
}

func (c TTLConfig) withDefaults() TTLConfig {
	def := DefaultTTLConfig()
	pick := func(v, d time.Duration) time.Duration {
		if v <= 0 {
			return d
		}
		return v
	}
	return TTLConfig{
		Patient:          pick(c.Patient, def.Patient),
		PatientSchedules: pick(c.PatientSchedules, def.PatientSchedules),
		EntityList:       pick(c.EntityList, def.EntityList),
		ProcessedEntity:  pick(c.ProcessedEntity, def.ProcessedEntity),
		ScheduleQuote:    pick(c.ScheduleQuote, def.ScheduleQuote),
		PatientToken:     pick(c.PatientToken, def.PatientToken),
		TenantToken:      pick(c.TenantToken, def.TenantToken),
		SearchResult:     min(pick(c.SearchResult, def.SearchResult), MaxSearchResultTTL),
	}
}

// CacheGateway is the tenant-scoped cache facade. Every key it derives is
// rooted at the tenant's prefix ({tenantType}[-{env}]:{tenantId}), so tenants
// and environments can never read each other's entries and a whole tenant can
// be invalidated with one prefix scan.
//
// Cached values are never the system of record. Accordingly every method
// degrades on store failure: reads log and report a miss, writes and removes
// log and carry on. The caller's primary operation is never failed by the
// cache.
type CacheGateway struct {
	store   cache.Store
	ttl     TTLConfig
	logger  *zap.Logger
	metrics *telemetry.CacheMetrics
}

// NewCacheGateway creates the facade. metrics may be nil.
func NewCacheGateway(store cache.Store, ttl TTLConfig, logger *zap.Logger, metrics *telemetry.CacheMetrics) *CacheGateway {
	return &CacheGateway{
		store:   store,
		ttl:     ttl.withDefaults(),
		logger:  logger,
		metrics: metrics,
	}
}

// getJSON reads and decodes one entry, degrading any failure to a miss. A
// malformed entry is also a miss: the value will simply be recomputed.
func (g *CacheGateway) getJSON(ctx context.Context, resource, key string, dst any) bool {
	raw, found, err := g.store.Get(ctx, key)
	if err != nil {
		g.logger.Warn("cache read failed, degrading to miss",
			zap.String("resource", resource), zap.String("key", key), zap.Error(err))
		g.metrics.RecordMiss(ctx, resource)
		return false
	}
	if !found {
		g.metrics.RecordMiss(ctx, resource)
		return false
	}
	if err := json.Unmarshal([]byte(raw), dst); err != nil {
		g.logger.Warn("malformed cache entry, treating as miss",
			zap.String("resource", resource), zap.String("key", key), zap.Error(err))
		g.metrics.RecordMiss(ctx, resource)
		return false
	}
	g.metrics.RecordHit(ctx, resource)
	return true
}

// setJSON encodes and writes one entry, best effort.
func (g *CacheGateway) setJSON(ctx context.Context, resource, key string, value any, ttl time.Duration) {
	raw, err := json.Marshal(value)
	if err != nil {
		g.logger.Warn("failed to encode cache entry",
			zap.String("resource", resource), zap.String("key", key), zap.Error(err))
		return
	}
	if err := g.store.Set(ctx, key, string(raw), ttl); err != nil {
		g.logger.Warn("cache write failed, continuing without cache",
			zap.String("resource", resource), zap.String("key", key), zap.Error(err))
	}
}

// remove deletes one entry, best effort. Removing a missing key is a no-op.
func (g *CacheGateway) remove(ctx context.Context, resource, key string) {
	if err := g.store.Delete(ctx, key); err != nil {
		g.logger.Warn("cache delete failed",
			zap.String("resource", resource), zap.String("key", key), zap.Error(err))
	}
}

// patientKey keys a patient record by code or CPF. When a birth date is also
// known it salts the key, disambiguating the duplicate records many ERPs hold
// under one identifier.
func patientKey(tenant integration.Tenant, identifier string, birthDate *time.Time) string {
	key := tenant.CacheKeyPrefix() + ":patient:" + identifier
	if birthDate != nil {
		key += ":" + birthDate.Format("2006-01-02")
	}
	return key
}

// GetPatient retrieves a cached patient record.
func (g *CacheGateway) GetPatient(ctx context.Context, tenant integration.Tenant, identifier string, birthDate *time.Time) (scheduling.Patient, bool) {
	var patient scheduling.Patient
	ok := g.getJSON(ctx, "patient", patientKey(tenant, identifier, birthDate), &patient)
	return patient, ok
}

// SetPatient caches a patient record.
func (g *CacheGateway) SetPatient(ctx context.Context, tenant integration.Tenant, identifier string, birthDate *time.Time, patient scheduling.Patient) {
	g.setJSON(ctx, "patient", patientKey(tenant, identifier, birthDate), patient, g.ttl.Patient)
}

// RemovePatient drops a cached patient record.
func (g *CacheGateway) RemovePatient(ctx context.Context, tenant integration.Tenant, identifier string, birthDate *time.Time) {
	g.remove(ctx, "patient", patientKey(tenant, identifier, birthDate))
}

func patientSchedulesKey(tenant integration.Tenant, patientCode string) string {
	return tenant.CacheKeyPrefix() + ":patient-schedules:" + patientCode
}

// GetPatientSchedules retrieves a patient's cached schedule view.
func (g *CacheGateway) GetPatientSchedules(ctx context.Context, tenant integration.Tenant, patientCode string) (scheduling.PatientSchedules, bool) {
	var schedules scheduling.PatientSchedules
	ok := g.getJSON(ctx, "patient-schedules", patientSchedulesKey(tenant, patientCode), &schedules)
	return schedules, ok
}

// SetPatientSchedules caches a patient's schedule view.
func (g *CacheGateway) SetPatientSchedules(ctx context.Context, tenant integration.Tenant, patientCode string, schedules scheduling.PatientSchedules) {
	g.setJSON(ctx, "patient-schedules", patientSchedulesKey(tenant, patientCode), schedules, g.ttl.PatientSchedules)
}

// RemovePatientSchedules drops a patient's cached schedule view.
func (g *CacheGateway) RemovePatientSchedules(ctx context.Context, tenant integration.Tenant, patientCode string) {
	g.remove(ctx, "patient-schedules", patientSchedulesKey(tenant, patientCode))
}

// entityListKey hashes the normalized filter so logically identical listings
// share one entry regardless of filter field order.
func (g *CacheGateway) entityListKey(tenant integration.Tenant, entityKind string, filter any) (string, bool) {
	suffix, err := cache.BuildCustomKey(entityKind, filter)
	if err != nil {
		g.logger.Warn("failed to derive entity-list cache key",
			zap.String("entity_kind", entityKind), zap.Error(err))
		return "", false
	}
	return tenant.CacheKeyPrefix() + ":entities:" + suffix, true
}

// GetEntityList retrieves a cached external entity listing (doctors, units,
// specialties, insurances) for the given normalized filter. The payload stays
// raw JSON: its shape belongs to the ERP adapter.
func (g *CacheGateway) GetEntityList(ctx context.Context, tenant integration.Tenant, entityKind string, filter any) (json.RawMessage, bool) {
	key, ok := g.entityListKey(tenant, entityKind, filter)
	if !ok {
		return nil, false
	}
	var entities json.RawMessage
	if !g.getJSON(ctx, "entity-list", key, &entities) {
		return nil, false
	}
	return entities, true
}

// SetEntityList caches an external entity listing.
func (g *CacheGateway) SetEntityList(ctx context.Context, tenant integration.Tenant, entityKind string, filter any, entities json.RawMessage) {
	key, ok := g.entityListKey(tenant, entityKind, filter)
	if !ok {
		return
	}
	g.setJSON(ctx, "entity-list", key, entities, g.ttl.EntityList)
}

// processedEntityKey hashes the sorted code list, so the same set of codes in
// any order shares one entry.
func (g *CacheGateway) processedEntityKey(tenant integration.Tenant, entityKind string, codes []string) (string, bool) {
	sorted := make([]string, len(codes))
	copy(sorted, codes)
	sort.Strings(sorted)
	suffix, err := cache.BuildCustomKey(entityKind, sorted)
	if err != nil {
		g.logger.Warn("failed to derive processed-entity cache key",
			zap.String("entity_kind", entityKind), zap.Error(err))
		return "", false
	}
	return tenant.CacheKeyPrefix() + ":processed:" + suffix, true
}

// GetProcessedEntities retrieves the cached post-processed form of a set of
// external entities, keyed by kind and the sorted code list.
func (g *CacheGateway) GetProcessedEntities(ctx context.Context, tenant integration.Tenant, entityKind string, codes []string) (json.RawMessage, bool) {
	key, ok := g.processedEntityKey(tenant, entityKind, codes)
	if !ok {
		return nil, false
	}
	var processed json.RawMessage
	if !g.getJSON(ctx, "processed-entity", key, &processed) {
		return nil, false
	}
	return processed, true
}

// SetProcessedEntities caches the post-processed form of a set of entities.
func (g *CacheGateway) SetProcessedEntities(ctx context.Context, tenant integration.Tenant, entityKind string, codes []string, processed json.RawMessage) {
	key, ok := g.processedEntityKey(tenant, entityKind, codes)
	if !ok {
		return
	}
	g.setJSON(ctx, "processed-entity", key, processed, g.ttl.ProcessedEntity)
}

func (g *CacheGateway) quoteKey(tenant integration.Tenant, filter any) (string, bool) {
	suffix, err := cache.BuildCustomKey("quote", filter)
	if err != nil {
		g.logger.Warn("failed to derive quote cache key", zap.Error(err))
		return "", false
	}
	return tenant.CacheKeyPrefix() + ":" + suffix, true
}

// GetScheduleQuote retrieves a cached price quote for a schedulable
// procedure.
func (g *CacheGateway) GetScheduleQuote(ctx context.Context, tenant integration.Tenant, filter any) (scheduling.ValueQuote, bool) {
	key, ok := g.quoteKey(tenant, filter)
	if !ok {
		return scheduling.ValueQuote{}, false
	}
	var quote scheduling.ValueQuote
	found := g.getJSON(ctx, "schedule-quote", key, &quote)
	return quote, found
}

// SetScheduleQuote caches a price quote.
func (g *CacheGateway) SetScheduleQuote(ctx context.Context, tenant integration.Tenant, filter any, quote scheduling.ValueQuote) {
	key, ok := g.quoteKey(tenant, filter)
	if !ok {
		return
	}
	g.setJSON(ctx, "schedule-quote", key, quote, g.ttl.ScheduleQuote)
}

func patientTokenKey(tenant integration.Tenant, patientCode string) string {
	return tenant.CacheKeyPrefix() + ":token:patient:" + patientCode
}

func tenantTokenKey(tenant integration.Tenant) string {
	return tenant.CacheKeyPrefix() + ":token:tenant"
}

// GetPatientToken retrieves a cached ERP access token for a patient session.
func (g *CacheGateway) GetPatientToken(ctx context.Context, tenant integration.Tenant, patientCode string) (string, bool) {
	var token string
	ok := g.getJSON(ctx, "patient-token", patientTokenKey(tenant, patientCode), &token)
	return token, ok
}

// SetPatientToken caches an ERP access token for a patient session.
func (g *CacheGateway) SetPatientToken(ctx context.Context, tenant integration.Tenant, patientCode, token string) {
	g.setJSON(ctx, "patient-token", patientTokenKey(tenant, patientCode), token, g.ttl.PatientToken)
}

// RemovePatientToken drops a cached patient access token.
func (g *CacheGateway) RemovePatientToken(ctx context.Context, tenant integration.Tenant, patientCode string) {
	g.remove(ctx, "patient-token", patientTokenKey(tenant, patientCode))
}

// GetTenantToken retrieves the tenant's cached ERP access token.
func (g *CacheGateway) GetTenantToken(ctx context.Context, tenant integration.Tenant) (string, bool) {
	var token string
	ok := g.getJSON(ctx, "tenant-token", tenantTokenKey(tenant), &token)
	return token, ok
}

// SetTenantToken caches the tenant's ERP access token.
func (g *CacheGateway) SetTenantToken(ctx context.Context, tenant integration.Tenant, token string) {
	g.setJSON(ctx, "tenant-token", tenantTokenKey(tenant), token, g.ttl.TenantToken)
}

// RemoveTenantToken drops the tenant's cached access token.
func (g *CacheGateway) RemoveTenantToken(ctx context.Context, tenant integration.Tenant) {
	g.remove(ctx, "tenant-token", tenantTokenKey(tenant))
}

// searchResultKey includes the conversation id so concurrent conversations
// about different patients can never serve each other's slot listings.
func (g *CacheGateway) searchResultKey(tenant integration.Tenant, conversationID string, filter any) (string, bool) {
	suffix, err := cache.BuildCustomKey("search", filter)
	if err != nil {
		g.logger.Warn("failed to derive search-result cache key",
			zap.String("conversation_id", conversationID), zap.Error(err))
		return "", false
	}
	return tenant.CacheKeyPrefix() + ":conversation:" + conversationID + ":" + suffix, true
}

// GetSearchResult retrieves a conversation's cached available-slot listing.
func (g *CacheGateway) GetSearchResult(ctx context.Context, tenant integration.Tenant, conversationID string, filter any) ([]scheduling.CandidateSlot, bool) {
	key, ok := g.searchResultKey(tenant, conversationID, filter)
	if !ok {
		return nil, false
	}
	var slots []scheduling.CandidateSlot
	if !g.getJSON(ctx, "search-result", key, &slots) {
		return nil, false
	}
	return slots, true
}

// SetSearchResult caches a conversation's available-slot listing.
func (g *CacheGateway) SetSearchResult(ctx context.Context, tenant integration.Tenant, conversationID string, filter any, slots []scheduling.CandidateSlot) {
	key, ok := g.searchResultKey(tenant, conversationID, filter)
	if !ok {
		return
	}
	g.setJSON(ctx, "search-result", key, slots, g.ttl.SearchResult)
}

// RemoveSearchResult drops a conversation's cached slot listing.
func (g *CacheGateway) RemoveSearchResult(ctx context.Context, tenant integration.Tenant, conversationID string, filter any) {
	key, ok := g.searchResultKey(tenant, conversationID, filter)
	if !ok {
		return
	}
	g.remove(ctx, "search-result", key)
}

// ClearTenant bulk-deletes every cache entry under the tenant's key prefix,
// in bounded batches. Coarse by design: dependency tracking between rules and
// derived entries is not worth the complexity, so mutations invalidate the
// whole tenant. Unlike plain reads and writes this returns an error, because
// callers invalidate to preserve correctness and must know when stale entries
// may survive.
func (g *CacheGateway) ClearTenant(ctx context.Context, tenant integration.Tenant) error {
	return g.clearPrefix(ctx, "tenant", tenant.CacheKeyPrefix()+":*")
}

// ClearTenantResource bulk-deletes the tenant's entries for one logical
// resource segment, e.g. "flow-match".
func (g *CacheGateway) ClearTenantResource(ctx context.Context, tenant integration.Tenant, resource string) error {
	return g.clearPrefix(ctx, resource, tenant.CacheKeyPrefix()+":"+resource+":*")
}

func (g *CacheGateway) clearPrefix(ctx context.Context, resource, pattern string) error {
	removed := 0
	err := g.store.Scan(ctx, pattern, func(keys []string) error {
		if err := g.store.PipelineDelete(ctx, keys); err != nil {
			return err
		}
		removed += len(keys)
		return nil
	})
	if err != nil {
		g.logger.Error("bulk cache invalidation failed",
			zap.String("pattern", pattern), zap.Int("removed", removed), zap.Error(err))
		return err
	}
	g.metrics.RecordInvalidation(ctx, resource, removed)
	g.logger.Info("bulk cache invalidation",
		zap.String("pattern", pattern), zap.Int("removed", removed))
	return nil
}
