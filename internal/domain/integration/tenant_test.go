package integration_test

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/medagenda/backend/internal/domain/flow"
	"github.com/medagenda/backend/internal/domain/integration"
	"github.com/stretchr/testify/assert"
)

func TestTenant_CacheKeyPrefix(t *testing.T) {
	id := uuid.MustParse("2f5b0f4e-9c1a-4a7e-8d62-0e3b5a1c9d10")

	tests := []struct {
		name   string
		tenant integration.Tenant
		want   string
	}{
		{
			name:   "production has no environment suffix",
			tenant: integration.Tenant{ID: id, Type: integration.TenantTypeClinic, Environment: "production"},
			want:   "clinic:" + id.String(),
		},
		{
			name:   "empty environment treated as production",
			tenant: integration.Tenant{ID: id, Type: integration.TenantTypeClinic},
			want:   "clinic:" + id.String(),
		},
		{
			name:   "staging tenant is suffixed",
			tenant: integration.Tenant{ID: id, Type: integration.TenantTypeHospital, Environment: "staging"},
			want:   "hospital-staging:" + id.String(),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.tenant.CacheKeyPrefix())
		})
	}
}

type stubRulesHandler struct {
	name string
}

func (s *stubRulesHandler) MatchActions(ctx context.Context, tenant integration.Tenant, fctx *flow.FilterContext) ([]flow.ActionFragment, error) {
	return nil, nil
}

func TestRulesHandlerRegistry_Resolve(t *testing.T) {
	fallback := &stubRulesHandler{name: "fallback"}
	hospital := &stubRulesHandler{name: "hospital"}

	registry := integration.NewRulesHandlerRegistry(fallback)
	registry.Register(integration.TenantTypeHospital, hospital)

	assert.Same(t, hospital, registry.Resolve(integration.TenantTypeHospital))
	assert.Same(t, fallback, registry.Resolve(integration.TenantTypeClinic))
	assert.Same(t, fallback, registry.Resolve(integration.TenantType("unknown")))
}
