package handler

import (
	"encoding/json"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	appflow "github.com/medagenda/backend/internal/application/flow"
	domainflow "github.com/medagenda/backend/internal/domain/flow"
	"github.com/medagenda/backend/internal/interfaces/http/dto"
)

// FlowHandler exposes tenant policy fragments: matching the effective rules
// for a conversation context and managing the stored fragments.
type FlowHandler struct {
	BaseHandler
	service *appflow.Service
}

// NewFlowHandler creates a new FlowHandler
func NewFlowHandler(service *appflow.Service) *FlowHandler {
	return &FlowHandler{service: service}
}

// Match resolves the merged policy actions for a conversation context.
func (h *FlowHandler) Match(c *gin.Context) {
	tenant, ok := h.requireTenant(c)
	if !ok {
		return
	}

	var req dto.FlowMatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.BadRequest(c, "Invalid request body: "+err.Error())
		return
	}

	fctx, err := req.ToFilterContext(tenant.ID, time.Now())
	if err != nil {
		h.BadRequest(c, "Invalid patient birth date")
		return
	}

	merged, err := h.service.MatchActions(c.Request.Context(), tenant, fctx)
	if err != nil {
		h.HandleError(c, err)
		return
	}

	h.Success(c, dto.NewFlowMatchResponse(merged))
}

// CreateFragment stores a new policy fragment for the tenant.
func (h *FlowHandler) CreateFragment(c *gin.Context) {
	tenant, ok := h.requireTenant(c)
	if !ok {
		return
	}

	var req dto.CreateFragmentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.BadRequest(c, "Invalid request body: "+err.Error())
		return
	}
	if req.AgeMin != nil && req.AgeMax != nil && *req.AgeMin > *req.AgeMax {
		h.BadRequest(c, "ageMin cannot exceed ageMax")
		return
	}
	if domainflow.ActionKind(req.ActionKind) == domainflow.ActionKindBookingRules && len(req.Payload) > 0 {
		if _, err := domainflow.DecodeBookingRules(req.Payload); err != nil {
			h.BadRequest(c, "Invalid booking rules payload")
			return
		}
	}

	fragment := req.ToDomain(tenant.ID)
	if err := h.service.CreateFragment(c.Request.Context(), tenant, &fragment); err != nil {
		h.HandleError(c, err)
		return
	}

	h.Created(c, dto.NewFragmentResponse(fragment))
}

// DeleteFragment soft-deletes a stored fragment.
func (h *FlowHandler) DeleteFragment(c *gin.Context) {
	tenant, ok := h.requireTenant(c)
	if !ok {
		return
	}

	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		h.BadRequest(c, "Invalid fragment ID")
		return
	}

	if err := h.service.DeleteFragment(c.Request.Context(), tenant, id); err != nil {
		h.HandleError(c, err)
		return
	}

	h.NoContent(c)
}

// ClearMatchCache drops the tenant's cached match results.
func (h *FlowHandler) ClearMatchCache(c *gin.Context) {
	tenant, ok := h.requireTenant(c)
	if !ok {
		return
	}

	if err := h.service.ClearTenantCache(c.Request.Context(), tenant); err != nil {
		h.HandleError(c, err)
		return
	}

	h.Success(c, json.RawMessage(`{"cleared":true}`))
}
