// Package scheduling orchestrates candidate-slot filtering around the
// patient-schedule cache.
package scheduling

import (
	"context"
	"time"

	appintegration "github.com/medagenda/backend/internal/application/integration"
	"github.com/medagenda/backend/internal/domain/integration"
	"github.com/medagenda/backend/internal/domain/scheduling"
	"go.uber.org/zap"
)

// ScheduleRefresher fetches a patient's current appointments from the
// tenant's ERP and writes them through the cache. The ERP adapter supplies
// the implementation.
type ScheduleRefresher interface {
	RefreshPatientSchedules(ctx context.Context, tenant integration.Tenant, patientCode string) error
}

// ScheduleRefresherFunc adapts a function to the ScheduleRefresher
// interface.
type ScheduleRefresherFunc func(ctx context.Context, tenant integration.Tenant, patientCode string) error

func (f ScheduleRefresherFunc) RefreshPatientSchedules(ctx context.Context, tenant integration.Tenant, patientCode string) error {
	return f(ctx, tenant, patientCode)
}

// ExclusionService applies a tenant's same-day exclusion policy to candidate
// slots, sourcing the patient's existing appointments from the cache.
type ExclusionService struct {
	gateway   *appintegration.CacheGateway
	refresher ScheduleRefresher
	logger    *zap.Logger
	now       func() time.Time
}

// NewExclusionService creates the service.
func NewExclusionService(gateway *appintegration.CacheGateway, refresher ScheduleRefresher, logger *zap.Logger) *ExclusionService {
	return &ExclusionService{
		gateway:   gateway,
		refresher: refresher,
		logger:    logger,
		now:       time.Now,
	}
}

// FilterCandidates removes candidate slots that conflict with the patient's
// upcoming appointments under the given exclusion policy.
//
// On a schedule-cache miss the refresher runs once and the cache is read
// once more. There is never a second refresh: if the schedules still cannot
// be obtained the candidates are returned unfiltered, because withholding
// bookable slots over a transient ERP failure is worse than occasionally
// offering a conflicting one the booking step will reject anyway.
func (s *ExclusionService) FilterCandidates(ctx context.Context, tenant integration.Tenant, patientCode string, cfg scheduling.ExclusionConfig, candidates []scheduling.CandidateSlot) []scheduling.CandidateSlot {
	if !cfg.Enabled() || len(candidates) == 0 {
		return candidates
	}

	schedules, ok := s.gateway.GetPatientSchedules(ctx, tenant, patientCode)
	if !ok {
		if err := s.refresher.RefreshPatientSchedules(ctx, tenant, patientCode); err != nil {
			s.logger.Warn("patient schedule refresh failed, returning candidates unfiltered",
				zap.String("tenant_id", tenant.ID.String()),
				zap.String("patient_code", patientCode),
				zap.Error(err))
			return candidates
		}
		schedules, ok = s.gateway.GetPatientSchedules(ctx, tenant, patientCode)
		if !ok {
			s.logger.Warn("patient schedules unavailable after refresh, returning candidates unfiltered",
				zap.String("tenant_id", tenant.ID.String()),
				zap.String("patient_code", patientCode))
			return candidates
		}
	}

	return scheduling.FilterCandidates(cfg, schedules.Appointments, candidates, s.now())
}
