package handler

import (
	"github.com/gin-gonic/gin"

	appintegration "github.com/medagenda/backend/internal/application/integration"
	"github.com/medagenda/backend/internal/interfaces/http/dto"
)

// cacheResources are the resource segments a scoped invalidation accepts.
var cacheResources = map[string]bool{
	"patient":           true,
	"patient-schedules": true,
	"entities":          true,
	"processed":         true,
	"quote":             true,
	"token":             true,
	"conversation":      true,
	"flow-match":        true,
}

// CacheHandler exposes tenant cache invalidation. Unlike the read/write
// paths, invalidation failures surface as errors so the caller knows stale
// data may remain.
type CacheHandler struct {
	BaseHandler
	gateway *appintegration.CacheGateway
}

// NewCacheHandler creates a new CacheHandler
func NewCacheHandler(gateway *appintegration.CacheGateway) *CacheHandler {
	return &CacheHandler{gateway: gateway}
}

// ClearTenant drops every cached entry of the tenant.
func (h *CacheHandler) ClearTenant(c *gin.Context) {
	tenant, ok := h.requireTenant(c)
	if !ok {
		return
	}

	if err := h.gateway.ClearTenant(c.Request.Context(), tenant); err != nil {
		h.ErrorWithCode(c, dto.ErrCodeInternal, "Cache invalidation failed")
		return
	}

	h.NoContent(c)
}

// ClearResource drops the tenant's cached entries of one resource.
func (h *CacheHandler) ClearResource(c *gin.Context) {
	tenant, ok := h.requireTenant(c)
	if !ok {
		return
	}

	resource := c.Param("resource")
	if !cacheResources[resource] {
		h.BadRequest(c, "Unknown cache resource")
		return
	}

	if err := h.gateway.ClearTenantResource(c.Request.Context(), tenant, resource); err != nil {
		h.ErrorWithCode(c, dto.ErrCodeInternal, "Cache invalidation failed")
		return
	}

	h.NoContent(c)
}
