// Package sync runs the per-tenant bulk refresh of cached patient schedules.
package sync

import (
	"context"
	"errors"
	"fmt"
	"time"

	appintegration "github.com/medagenda/backend/internal/application/integration"
	"github.com/medagenda/backend/internal/domain/integration"
	"github.com/medagenda/backend/internal/domain/scheduling"
	"github.com/medagenda/backend/internal/infrastructure/cache"
	"go.uber.org/zap"
)

// ErrSyncInProgress is returned when another process already holds the
// tenant's sync lock.
var ErrSyncInProgress = errors.New("sync already in progress for tenant")

// DefaultLockTTL bounds how long a crashed sync run can block the next one.
const DefaultLockTTL = 10 * time.Minute

// AppointmentFetcher pulls every active patient's appointments from the
// tenant's ERP. The ERP adapter supplies the implementation; results are
// keyed by patient code.
type AppointmentFetcher interface {
	FetchAppointments(ctx context.Context, tenant integration.Tenant) (map[string][]scheduling.Appointment, error)
}

// AppointmentFetcherFunc adapts a function to the AppointmentFetcher
// interface.
type AppointmentFetcherFunc func(ctx context.Context, tenant integration.Tenant) (map[string][]scheduling.Appointment, error)

func (f AppointmentFetcherFunc) FetchAppointments(ctx context.Context, tenant integration.Tenant) (map[string][]scheduling.Appointment, error) {
	return f(ctx, tenant)
}

// Result summarizes one sync run.
type Result struct {
	Patients int           `json:"patients"`
	Took     time.Duration `json:"took"`
}

// Service refreshes a tenant's cached patient-schedule entries in bulk. Runs
// are serialized per tenant with a distributed lock so overlapping triggers
// (cron plus a manual kickoff) do not hammer the ERP twice.
type Service struct {
	gateway *appintegration.CacheGateway
	lock    *cache.DistributedLock
	fetcher AppointmentFetcher
	lockTTL time.Duration
	logger  *zap.Logger
	now     func() time.Time
}

// NewService creates the sync service. lockTTL <= 0 selects DefaultLockTTL.
func NewService(gateway *appintegration.CacheGateway, lock *cache.DistributedLock, fetcher AppointmentFetcher, lockTTL time.Duration, logger *zap.Logger) *Service {
	if lockTTL <= 0 {
		lockTTL = DefaultLockTTL
	}
	return &Service{
		gateway: gateway,
		lock:    lock,
		fetcher: fetcher,
		lockTTL: lockTTL,
		logger:  logger,
		now:     time.Now,
	}
}

func lockKey(tenant integration.Tenant) string {
	return "sync:" + tenant.CacheKeyPrefix()
}

// Run performs one bulk refresh for the tenant. A concurrent run for the
// same tenant returns ErrSyncInProgress; different tenants sync freely in
// parallel.
func (s *Service) Run(ctx context.Context, tenant integration.Tenant) (Result, error) {
	acquired, err := s.lock.Acquire(ctx, lockKey(tenant), s.lockTTL)
	if err != nil {
		return Result{}, fmt.Errorf("failed to acquire sync lock: %w", err)
	}
	if !acquired {
		return Result{}, ErrSyncInProgress
	}
	defer func() {
		if err := s.lock.Release(ctx, lockKey(tenant)); err != nil {
			s.logger.Warn("failed to release sync lock",
				zap.String("tenant_id", tenant.ID.String()), zap.Error(err))
		}
	}()

	started := s.now()
	byPatient, err := s.fetcher.FetchAppointments(ctx, tenant)
	if err != nil {
		return Result{}, fmt.Errorf("failed to fetch appointments: %w", err)
	}

	for code, appointments := range byPatient {
		schedules := scheduling.BuildPatientSchedules(code, appointments, s.now())
		s.gateway.SetPatientSchedules(ctx, tenant, code, schedules)
	}

	result := Result{Patients: len(byPatient), Took: s.now().Sub(started)}
	s.logger.Info("tenant sync completed",
		zap.String("tenant_id", tenant.ID.String()),
		zap.Int("patients", result.Patients),
		zap.Duration("took", result.Took))
	return result, nil
}
