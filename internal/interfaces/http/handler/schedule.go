package handler

import (
	"errors"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	appintegration "github.com/medagenda/backend/internal/application/integration"
	appscheduling "github.com/medagenda/backend/internal/application/scheduling"
	appsync "github.com/medagenda/backend/internal/application/sync"
	"github.com/medagenda/backend/internal/interfaces/http/dto"
)

// ScheduleHandler exposes the available-slot search and the cached patient
// schedule views.
type ScheduleHandler struct {
	BaseHandler
	search    *appscheduling.SearchService
	gateway   *appintegration.CacheGateway
	refresher appscheduling.ScheduleRefresher
	logger    *zap.Logger
}

// NewScheduleHandler creates a new ScheduleHandler
func NewScheduleHandler(search *appscheduling.SearchService, gateway *appintegration.CacheGateway, refresher appscheduling.ScheduleRefresher, logger *zap.Logger) *ScheduleHandler {
	return &ScheduleHandler{search: search, gateway: gateway, refresher: refresher, logger: logger}
}

// Search returns the bookable slots matching the request filter, with the
// tenant's booking policy and same-day exclusion applied.
func (h *ScheduleHandler) Search(c *gin.Context) {
	tenant, ok := h.requireTenant(c)
	if !ok {
		return
	}

	var req dto.ScheduleSearchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.BadRequest(c, "Invalid request body: "+err.Error())
		return
	}

	search := appscheduling.SearchRequest{
		ConversationID: req.ConversationID,
		PatientCode:    req.PatientCode,
		Filter:         req.Filter.ToDomain(),
	}
	if req.Patient != nil {
		search.PatientCPF = req.Patient.CPF
		search.PatientSex = req.Patient.Sex
		age, err := req.Patient.ResolveAge(time.Now())
		if err != nil {
			h.BadRequest(c, "Invalid patient birth date")
			return
		}
		search.PatientAge = age
	}
	for _, o := range req.Overrides {
		search.Overrides = append(search.Overrides, o.ToDomain())
	}

	slots, err := h.search.Search(c.Request.Context(), tenant, search)
	if err != nil {
		h.HandleError(c, err)
		return
	}

	h.Success(c, dto.NewScheduleSearchResponse(slots))
}

// PatientAppointments returns the cached schedule view for a patient,
// refreshing it from the ERP on a miss.
func (h *ScheduleHandler) PatientAppointments(c *gin.Context) {
	tenant, ok := h.requireTenant(c)
	if !ok {
		return
	}

	code := c.Param("code")
	if code == "" {
		h.BadRequest(c, "Patient code is required")
		return
	}

	ctx := c.Request.Context()
	schedules, found := h.gateway.GetPatientSchedules(ctx, tenant, code)
	if !found {
		if err := h.refresher.RefreshPatientSchedules(ctx, tenant, code); err != nil {
			h.logger.Warn("patient schedule refresh failed",
				zap.String("tenant_id", tenant.ID.String()),
				zap.String("patient_code", code),
				zap.Error(err))
			h.NotFound(c, "No schedule information for patient")
			return
		}
		schedules, found = h.gateway.GetPatientSchedules(ctx, tenant, code)
		if !found {
			h.NotFound(c, "No schedule information for patient")
			return
		}
	}

	h.Success(c, dto.NewPatientSchedulesResponse(schedules))
}

// SyncHandler triggers the per-tenant schedule sync.
type SyncHandler struct {
	BaseHandler
	service *appsync.Service
}

// NewSyncHandler creates a new SyncHandler
func NewSyncHandler(service *appsync.Service) *SyncHandler {
	return &SyncHandler{service: service}
}

// Run refreshes every patient schedule of the tenant. Only one sync per
// tenant runs at a time; a concurrent request gets a 409.
func (h *SyncHandler) Run(c *gin.Context) {
	tenant, ok := h.requireTenant(c)
	if !ok {
		return
	}

	result, err := h.service.Run(c.Request.Context(), tenant)
	if err != nil {
		if errors.Is(err, appsync.ErrSyncInProgress) {
			h.ErrorWithCode(c, dto.ErrCodeSyncInProgress, "A sync for this tenant is already running")
			return
		}
		h.HandleError(c, err)
		return
	}

	h.Success(c, dto.SyncResponse{Patients: result.Patients, Took: result.Took.Round(time.Millisecond).String()})
}
