package flow

import (
	"context"

	"github.com/google/uuid"
)

// FragmentRepository is the persistence contract for flow action fragments.
// The matcher consumes it read-only; the admin surface writes through it.
type FragmentRepository interface {
	// FindActive returns all non-deleted fragments of the tenant whose step
	// and trigger fall within the given sets (fragments with an empty step or
	// trigger are always included), in insertion order.
	FindActive(ctx context.Context, tenantID uuid.UUID, steps, triggers []string) ([]ActionFragment, error)

	// Create persists a new fragment.
	Create(ctx context.Context, fragment *ActionFragment) error

	// SoftDelete marks a tenant's fragment as deleted. The row is retained
	// for the audit trail and excluded from FindActive.
	SoftDelete(ctx context.Context, tenantID, id uuid.UUID) error
}
