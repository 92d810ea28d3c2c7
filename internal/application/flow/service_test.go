package flow_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	appflow "github.com/medagenda/backend/internal/application/flow"
	"github.com/medagenda/backend/internal/domain/flow"
	"github.com/medagenda/backend/internal/domain/integration"
	"github.com/medagenda/backend/internal/infrastructure/cache"
)

// stubRepository serves fragments from memory and counts FindActive calls so
// tests can tell cache hits from recomputation.
type stubRepository struct {
	fragments []flow.ActionFragment
	findCalls int
	findErr   error
	created   []flow.ActionFragment
	deleted   []uuid.UUID
}

func (r *stubRepository) FindActive(_ context.Context, tenantID uuid.UUID, _, _ []string) ([]flow.ActionFragment, error) {
	r.findCalls++
	if r.findErr != nil {
		return nil, r.findErr
	}
	var out []flow.ActionFragment
	for _, f := range r.fragments {
		if f.TenantID == tenantID {
			out = append(out, f)
		}
	}
	return out, nil
}

func (r *stubRepository) Create(_ context.Context, fragment *flow.ActionFragment) error {
	r.created = append(r.created, *fragment)
	r.fragments = append(r.fragments, *fragment)
	return nil
}

func (r *stubRepository) SoftDelete(_ context.Context, _, id uuid.UUID) error {
	r.deleted = append(r.deleted, id)
	return nil
}

func bookingFragment(tenantID uuid.UUID, priority int, payload string) flow.ActionFragment {
	return flow.ActionFragment{
		ID:         uuid.New(),
		TenantID:   tenantID,
		ActionKind: flow.ActionKindBookingRules,
		Payload:    json.RawMessage(payload),
		Priority:   priority,
	}
}

func newService(repo *stubRepository) (*appflow.Service, *cache.MemoryStore) {
	store := cache.NewMemoryStore()
	return appflow.NewService(repo, store, 0, zap.NewNop(), nil), store
}

func TestService_MatchActionsMergesAndCaches(t *testing.T) {
	tenant := integration.Tenant{ID: uuid.New(), Type: integration.TenantTypeClinic, Environment: integration.EnvironmentProduction}
	repo := &stubRepository{fragments: []flow.ActionFragment{
		bookingFragment(tenant.ID, 10, `{"maxDaysAhead":30}`),
		bookingFragment(tenant.ID, 5, `{"maxDaysAhead":90,"minHoursNotice":24}`),
	}}
	service, _ := newService(repo)
	ctx := context.Background()
	fctx := &flow.FilterContext{TenantID: tenant.ID, Steps: []string{"search"}}

	merged, err := service.MatchActions(ctx, tenant, fctx)
	require.NoError(t, err)
	require.Len(t, merged, 1)

	rules, err := flow.DecodeBookingRules(merged[0].Payload)
	require.NoError(t, err)
	require.NotNil(t, rules.MaxDaysAhead)
	assert.Equal(t, 30, *rules.MaxDaysAhead)
	require.NotNil(t, rules.MinHoursNotice)
	assert.Equal(t, 24, *rules.MinHoursNotice)

	// Second identical request is served from cache.
	again, err := service.MatchActions(ctx, tenant, fctx)
	require.NoError(t, err)
	assert.Equal(t, merged, again)
	assert.Equal(t, 1, repo.findCalls)
}

func TestService_MatchActionsEquivalentContextsShareEntry(t *testing.T) {
	tenant := integration.Tenant{ID: uuid.New(), Type: integration.TenantTypeClinic, Environment: integration.EnvironmentProduction}
	repo := &stubRepository{fragments: []flow.ActionFragment{
		bookingFragment(tenant.ID, 1, `{"maxDaysAhead":15}`),
	}}
	service, _ := newService(repo)
	ctx := context.Background()

	_, err := service.MatchActions(ctx, tenant, &flow.FilterContext{
		TenantID: tenant.ID,
		Entities: map[string][]string{"doctor": {"d2", "d1"}},
	})
	require.NoError(t, err)

	// Same entity set in a different order hits the same cache entry.
	_, err = service.MatchActions(ctx, tenant, &flow.FilterContext{
		TenantID: tenant.ID,
		Entities: map[string][]string{"doctor": {"d1", "d2"}},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, repo.findCalls)

	// A different entity set does not.
	_, err = service.MatchActions(ctx, tenant, &flow.FilterContext{
		TenantID: tenant.ID,
		Entities: map[string][]string{"doctor": {"d3"}},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, repo.findCalls)
}

func TestService_MatchActionsOverridesParticipate(t *testing.T) {
	tenant := integration.Tenant{ID: uuid.New(), Type: integration.TenantTypeClinic, Environment: integration.EnvironmentProduction}
	repo := &stubRepository{fragments: []flow.ActionFragment{
		bookingFragment(tenant.ID, 1, `{"maxDaysAhead":60}`),
	}}
	service, _ := newService(repo)
	ctx := context.Background()

	base := &flow.FilterContext{TenantID: tenant.ID}
	merged, err := service.MatchActions(ctx, tenant, base)
	require.NoError(t, err)
	rules, err := flow.DecodeBookingRules(merged[0].Payload)
	require.NoError(t, err)
	assert.Equal(t, 60, *rules.MaxDaysAhead)

	// An ad-hoc override outranks the stored fragment and keys its own cache
	// entry instead of reusing the base one.
	withOverride := &flow.FilterContext{
		TenantID:  tenant.ID,
		Overrides: []flow.ActionFragment{bookingFragment(tenant.ID, 100, `{"maxDaysAhead":7}`)},
	}
	merged, err = service.MatchActions(ctx, tenant, withOverride)
	require.NoError(t, err)
	rules, err = flow.DecodeBookingRules(merged[0].Payload)
	require.NoError(t, err)
	assert.Equal(t, 7, *rules.MaxDaysAhead)
}

func TestService_MatchActionsNoMatchesIsEmptyNotError(t *testing.T) {
	tenant := integration.Tenant{ID: uuid.New(), Type: integration.TenantTypeClinic, Environment: integration.EnvironmentProduction}
	service, _ := newService(&stubRepository{})

	merged, err := service.MatchActions(context.Background(), tenant, &flow.FilterContext{TenantID: tenant.ID})
	require.NoError(t, err)
	assert.Empty(t, merged)
}

func TestService_MatchActionsRepositoryErrorSurfaces(t *testing.T) {
	tenant := integration.Tenant{ID: uuid.New(), Type: integration.TenantTypeClinic, Environment: integration.EnvironmentProduction}
	service, _ := newService(&stubRepository{findErr: errors.New("db gone")})

	_, err := service.MatchActions(context.Background(), tenant, &flow.FilterContext{TenantID: tenant.ID})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "db gone")
}

func TestService_CreateFragmentInvalidatesCache(t *testing.T) {
	tenant := integration.Tenant{ID: uuid.New(), Type: integration.TenantTypeClinic, Environment: integration.EnvironmentProduction}
	repo := &stubRepository{fragments: []flow.ActionFragment{
		bookingFragment(tenant.ID, 1, `{"maxDaysAhead":60}`),
	}}
	service, _ := newService(repo)
	ctx := context.Background()
	fctx := &flow.FilterContext{TenantID: tenant.ID}

	_, err := service.MatchActions(ctx, tenant, fctx)
	require.NoError(t, err)
	assert.Equal(t, 1, repo.findCalls)

	created := bookingFragment(tenant.ID, 50, `{"maxDaysAhead":10}`)
	require.NoError(t, service.CreateFragment(ctx, tenant, &created))

	merged, err := service.MatchActions(ctx, tenant, fctx)
	require.NoError(t, err)
	assert.Equal(t, 2, repo.findCalls, "mutation must drop the cached result")

	rules, err := flow.DecodeBookingRules(merged[0].Payload)
	require.NoError(t, err)
	assert.Equal(t, 10, *rules.MaxDaysAhead)
}

func TestService_ClearTenantCacheLeavesOtherTenants(t *testing.T) {
	tenantA := integration.Tenant{ID: uuid.New(), Type: integration.TenantTypeClinic, Environment: integration.EnvironmentProduction}
	tenantB := integration.Tenant{ID: uuid.New(), Type: integration.TenantTypeClinic, Environment: integration.EnvironmentProduction}
	repo := &stubRepository{fragments: []flow.ActionFragment{
		bookingFragment(tenantA.ID, 1, `{"maxDaysAhead":30}`),
		bookingFragment(tenantB.ID, 1, `{"maxDaysAhead":45}`),
	}}
	service, _ := newService(repo)
	ctx := context.Background()

	_, err := service.MatchActions(ctx, tenantA, &flow.FilterContext{TenantID: tenantA.ID})
	require.NoError(t, err)
	_, err = service.MatchActions(ctx, tenantB, &flow.FilterContext{TenantID: tenantB.ID})
	require.NoError(t, err)
	require.Equal(t, 2, repo.findCalls)

	require.NoError(t, service.ClearTenantCache(ctx, tenantA))

	_, err = service.MatchActions(ctx, tenantA, &flow.FilterContext{TenantID: tenantA.ID})
	require.NoError(t, err)
	assert.Equal(t, 3, repo.findCalls)

	_, err = service.MatchActions(ctx, tenantB, &flow.FilterContext{TenantID: tenantB.ID})
	require.NoError(t, err)
	assert.Equal(t, 3, repo.findCalls, "other tenant's entry must survive")
}

// brokenReadStore fails reads but lets writes through, mimicking a Redis
// replica flapping mid-request.
type brokenReadStore struct {
	cache.Store
}

func (brokenReadStore) Get(context.Context, string) (string, bool, error) {
	return "", false, errors.New("read timeout")
}

func TestService_CacheReadFailureDegradesToRecompute(t *testing.T) {
	tenant := integration.Tenant{ID: uuid.New(), Type: integration.TenantTypeClinic, Environment: integration.EnvironmentProduction}
	repo := &stubRepository{fragments: []flow.ActionFragment{
		bookingFragment(tenant.ID, 1, `{"maxDaysAhead":30}`),
	}}
	store := brokenReadStore{Store: cache.NewMemoryStore()}
	service := appflow.NewService(repo, store, time.Minute, zap.NewNop(), nil)

	merged, err := service.MatchActions(context.Background(), tenant, &flow.FilterContext{TenantID: tenant.ID})
	require.NoError(t, err)
	require.Len(t, merged, 1)
	assert.Equal(t, 1, repo.findCalls)
}
