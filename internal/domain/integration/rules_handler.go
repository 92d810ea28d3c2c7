package integration

import (
	"context"

	"github.com/medagenda/backend/internal/domain/flow"
)

// RulesHandler resolves the effective policy fragments for a request. Most
// tenant types share the default flow-matching implementation; types whose
// scheduling system carries its own policy semantics register a handler.
type RulesHandler interface {
	MatchActions(ctx context.Context, tenant Tenant, fctx *flow.FilterContext) ([]flow.ActionFragment, error)
}

// RulesHandlerRegistry maps tenant types to their rules handler. Handlers
// are registered once during startup wiring; lookups afterwards are
// read-only, so the registry needs no locking.
type RulesHandlerRegistry struct {
	handlers map[TenantType]RulesHandler
	fallback RulesHandler
}

// NewRulesHandlerRegistry creates a registry that resolves unregistered
// tenant types to the fallback handler.
func NewRulesHandlerRegistry(fallback RulesHandler) *RulesHandlerRegistry {
	return &RulesHandlerRegistry{
		handlers: make(map[TenantType]RulesHandler),
		fallback: fallback,
	}
}

// Register binds a handler to a tenant type, replacing any previous binding.
func (r *RulesHandlerRegistry) Register(tenantType TenantType, handler RulesHandler) {
	r.handlers[tenantType] = handler
}

// Resolve returns the handler for the tenant type, or the fallback.
func (r *RulesHandlerRegistry) Resolve(tenantType TenantType) RulesHandler {
	if h, ok := r.handlers[tenantType]; ok {
		return h
	}
	return r.fallback
}
