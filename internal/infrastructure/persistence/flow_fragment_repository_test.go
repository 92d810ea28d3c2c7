package persistence

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/medagenda/backend/internal/domain/flow"
	"github.com/medagenda/backend/internal/domain/shared"
	"github.com/medagenda/backend/internal/infrastructure/persistence/models"
)

// setupFragmentTestDB creates an in-memory SQLite database for testing
func setupFragmentTestDB(t *testing.T) *gorm.DB {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)

	require.NoError(t, db.AutoMigrate(&models.ActionFragmentModel{}))
	return db
}

func newFragment(tenantID uuid.UUID, step, trigger string) *flow.ActionFragment {
	return &flow.ActionFragment{
		TenantID:   tenantID,
		Step:       step,
		Trigger:    trigger,
		ActionKind: flow.ActionKindBookingRules,
		Payload:    json.RawMessage(`{"maxDaysAhead":30}`),
		Priority:   1,
	}
}

func TestGormFragmentRepository_CreateAndFindActive(t *testing.T) {
	repo := NewGormFragmentRepository(setupFragmentTestDB(t))
	ctx := context.Background()
	tenantID := uuid.New()

	fragment := newFragment(tenantID, "search", "")
	fragment.EntityFilters = map[string][]string{"doctor": {"d1", "d2"}}
	fragment.CPFAllowList = []string{"111.222.333-44"}
	require.NoError(t, repo.Create(ctx, fragment))
	assert.NotEqual(t, uuid.Nil, fragment.ID)
	assert.False(t, fragment.CreatedAt.IsZero())

	found, err := repo.FindActive(ctx, tenantID, nil, nil)
	require.NoError(t, err)
	require.Len(t, found, 1)

	got := found[0]
	assert.Equal(t, fragment.ID, got.ID)
	assert.Equal(t, "search", got.Step)
	assert.Equal(t, map[string][]string{"doctor": {"d1", "d2"}}, got.EntityFilters)
	assert.Equal(t, []string{"111.222.333-44"}, got.CPFAllowList)
	assert.Equal(t, flow.ActionKindBookingRules, got.ActionKind)
	assert.JSONEq(t, `{"maxDaysAhead":30}`, string(got.Payload))
}

func TestGormFragmentRepository_FindActiveScopesByTenant(t *testing.T) {
	repo := NewGormFragmentRepository(setupFragmentTestDB(t))
	ctx := context.Background()
	tenantA := uuid.New()
	tenantB := uuid.New()

	require.NoError(t, repo.Create(ctx, newFragment(tenantA, "", "")))
	require.NoError(t, repo.Create(ctx, newFragment(tenantB, "", "")))

	found, err := repo.FindActive(ctx, tenantA, nil, nil)
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, tenantA, found[0].TenantID)
}

func TestGormFragmentRepository_FindActiveFiltersStepAndTrigger(t *testing.T) {
	repo := NewGormFragmentRepository(setupFragmentTestDB(t))
	ctx := context.Background()
	tenantID := uuid.New()

	anyStep := newFragment(tenantID, "", "")
	searchStep := newFragment(tenantID, "search", "")
	confirmStep := newFragment(tenantID, "confirm", "")
	bookingTrigger := newFragment(tenantID, "", "booking-created")
	for _, f := range []*flow.ActionFragment{anyStep, searchStep, confirmStep, bookingTrigger} {
		require.NoError(t, repo.Create(ctx, f))
	}

	found, err := repo.FindActive(ctx, tenantID, []string{"search"}, []string{"reschedule"})
	require.NoError(t, err)

	ids := make([]uuid.UUID, 0, len(found))
	for _, f := range found {
		ids = append(ids, f.ID)
	}
	// Empty-step and empty-trigger fragments always qualify; the confirm step
	// and the booking-created trigger do not.
	assert.Contains(t, ids, anyStep.ID)
	assert.Contains(t, ids, searchStep.ID)
	assert.NotContains(t, ids, confirmStep.ID)
	assert.NotContains(t, ids, bookingTrigger.ID)
}

func TestGormFragmentRepository_FindActiveInsertionOrder(t *testing.T) {
	repo := NewGormFragmentRepository(setupFragmentTestDB(t))
	ctx := context.Background()
	tenantID := uuid.New()

	base := time.Now().Add(-time.Hour).Truncate(time.Second)
	for i := 0; i < 3; i++ {
		f := newFragment(tenantID, "", "")
		f.CreatedAt = base.Add(time.Duration(i) * time.Minute)
		f.UpdatedAt = f.CreatedAt
		f.Priority = 3 - i
		require.NoError(t, repo.Create(ctx, f))
	}

	found, err := repo.FindActive(ctx, tenantID, nil, nil)
	require.NoError(t, err)
	require.Len(t, found, 3)
	assert.Equal(t, 3, found[0].Priority)
	assert.Equal(t, 2, found[1].Priority)
	assert.Equal(t, 1, found[2].Priority)
}

func TestGormFragmentRepository_SoftDelete(t *testing.T) {
	db := setupFragmentTestDB(t)
	repo := NewGormFragmentRepository(db)
	ctx := context.Background()
	tenantID := uuid.New()

	fragment := newFragment(tenantID, "", "")
	require.NoError(t, repo.Create(ctx, fragment))

	require.NoError(t, repo.SoftDelete(ctx, tenantID, fragment.ID))

	found, err := repo.FindActive(ctx, tenantID, nil, nil)
	require.NoError(t, err)
	assert.Empty(t, found)

	// The row survives for the audit trail.
	var count int64
	require.NoError(t, db.Unscoped().Model(&models.ActionFragmentModel{}).Where("id = ?", fragment.ID).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestGormFragmentRepository_SoftDeleteWrongTenant(t *testing.T) {
	repo := NewGormFragmentRepository(setupFragmentTestDB(t))
	ctx := context.Background()
	tenantID := uuid.New()

	fragment := newFragment(tenantID, "", "")
	require.NoError(t, repo.Create(ctx, fragment))

	err := repo.SoftDelete(ctx, uuid.New(), fragment.ID)
	assert.ErrorIs(t, err, shared.ErrNotFound)

	// The fragment is untouched.
	found, err := repo.FindActive(ctx, tenantID, nil, nil)
	require.NoError(t, err)
	assert.Len(t, found, 1)
}

func TestGormFragmentRepository_SoftDeleteMissing(t *testing.T) {
	repo := NewGormFragmentRepository(setupFragmentTestDB(t))

	err := repo.SoftDelete(context.Background(), uuid.New(), uuid.New())
	assert.ErrorIs(t, err, shared.ErrNotFound)
}
