package persistence

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/medagenda/backend/internal/domain/flow"
	"github.com/medagenda/backend/internal/domain/shared"
	"github.com/medagenda/backend/internal/infrastructure/persistence/models"
	"gorm.io/gorm"
)

// GormFragmentRepository implements flow.FragmentRepository using GORM
type GormFragmentRepository struct {
	db *gorm.DB
}

// NewGormFragmentRepository creates a new GormFragmentRepository
func NewGormFragmentRepository(db *gorm.DB) *GormFragmentRepository {
	return &GormFragmentRepository{db: db}
}

// WithTx returns a new repository instance with the given transaction
func (r *GormFragmentRepository) WithTx(tx *gorm.DB) *GormFragmentRepository {
	return &GormFragmentRepository{db: tx}
}

// FindActive returns the tenant's non-deleted fragments in insertion order.
// Fragments with an empty step or trigger always qualify; an empty steps or
// triggers argument leaves that dimension unconstrained. The matcher applies
// the remaining per-request criteria, the query only narrows the candidate
// set.
func (r *GormFragmentRepository) FindActive(ctx context.Context, tenantID uuid.UUID, steps, triggers []string) ([]flow.ActionFragment, error) {
	query := r.db.WithContext(ctx).
		Model(&models.ActionFragmentModel{}).
		Where("tenant_id = ?", tenantID)

	if len(steps) > 0 {
		query = query.Where("step = '' OR step IN ?", steps)
	}
	if len(triggers) > 0 {
		query = query.Where("flow_trigger = '' OR flow_trigger IN ?", triggers)
	}

	var rows []models.ActionFragmentModel
	if err := query.Order("created_at ASC").Find(&rows).Error; err != nil {
		return nil, err
	}

	fragments := make([]flow.ActionFragment, 0, len(rows))
	for i := range rows {
		fragments = append(fragments, rows[i].ToDomain())
	}
	return fragments, nil
}

// Create persists a new fragment, assigning an ID and timestamps when the
// caller left them unset.
func (r *GormFragmentRepository) Create(ctx context.Context, fragment *flow.ActionFragment) error {
	if fragment.ID == uuid.Nil {
		fragment.ID = uuid.New()
	}
	now := time.Now()
	if fragment.CreatedAt.IsZero() {
		fragment.CreatedAt = now
	}
	if fragment.UpdatedAt.IsZero() {
		fragment.UpdatedAt = now
	}

	model := models.ActionFragmentModelFromDomain(fragment)
	return r.db.WithContext(ctx).Create(model).Error
}

// SoftDelete marks a tenant's fragment as deleted. Deleting a fragment of
// another tenant, or one already deleted, returns shared.ErrNotFound.
func (r *GormFragmentRepository) SoftDelete(ctx context.Context, tenantID, id uuid.UUID) error {
	result := r.db.WithContext(ctx).
		Where("tenant_id = ?", tenantID).
		Delete(&models.ActionFragmentModel{}, "id = ?", id)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return shared.ErrNotFound.WithMessage("Action fragment not found")
	}
	return nil
}
