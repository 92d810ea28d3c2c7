package scheduling

import (
	"context"
	"fmt"
	"time"

	appintegration "github.com/medagenda/backend/internal/application/integration"
	"github.com/medagenda/backend/internal/domain/flow"
	"github.com/medagenda/backend/internal/domain/integration"
	"github.com/medagenda/backend/internal/domain/scheduling"
	"go.uber.org/zap"
)

// SlotSource fetches available slots from a tenant's ERP. Each tenant type's
// adapter registers its own implementation.
type SlotSource interface {
	FetchSlots(ctx context.Context, tenant integration.Tenant, filter scheduling.SearchFilter) ([]scheduling.CandidateSlot, error)
}

// SlotSourceFunc adapts a function to the SlotSource interface.
type SlotSourceFunc func(ctx context.Context, tenant integration.Tenant, filter scheduling.SearchFilter) ([]scheduling.CandidateSlot, error)

func (f SlotSourceFunc) FetchSlots(ctx context.Context, tenant integration.Tenant, filter scheduling.SearchFilter) ([]scheduling.CandidateSlot, error) {
	return f(ctx, tenant, filter)
}

// SearchRequest is one available-slot search on behalf of a patient in a
// conversation.
type SearchRequest struct {
	ConversationID string
	PatientCode    string
	PatientCPF     string
	PatientSex     string
	PatientAge     *int
	Filter         scheduling.SearchFilter
	// Overrides are ad-hoc policy fragments the caller injects for this
	// request only.
	Overrides []flow.ActionFragment
}

// SearchService runs the available-slot search pipeline: conversation-scoped
// result cache, ERP fetch, tenant booking policy, same-day exclusion.
type SearchService struct {
	gateway   *appintegration.CacheGateway
	rules     *integration.RulesHandlerRegistry
	exclusion *ExclusionService
	source    SlotSource
	logger    *zap.Logger
	now       func() time.Time
}

// NewSearchService creates the service.
func NewSearchService(gateway *appintegration.CacheGateway, rules *integration.RulesHandlerRegistry, exclusion *ExclusionService, source SlotSource, logger *zap.Logger) *SearchService {
	return &SearchService{
		gateway:   gateway,
		rules:     rules,
		exclusion: exclusion,
		source:    source,
		logger:    logger,
		now:       time.Now,
	}
}

// Search returns the bookable slots for the request. Results are cached per
// conversation and filter; the tenant's booking rules and exclusion policy
// are applied after the fetch, so a cached entry is already policy-filtered.
func (s *SearchService) Search(ctx context.Context, tenant integration.Tenant, req SearchRequest) ([]scheduling.CandidateSlot, error) {
	if req.ConversationID != "" {
		if slots, ok := s.gateway.GetSearchResult(ctx, tenant, req.ConversationID, req.Filter); ok {
			return slots, nil
		}
	}

	rules, err := s.bookingRules(ctx, tenant, req)
	if err != nil {
		return nil, err
	}

	slots, err := s.source.FetchSlots(ctx, tenant, req.Filter)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch slots: %w", err)
	}

	now := s.now()
	slots = applyWindow(slots, rules, now)

	if req.PatientCode != "" {
		slots = s.exclusion.FilterCandidates(ctx, tenant, req.PatientCode, exclusionConfig(rules), slots)
	}

	if rules.MaxResultsPerSearch != nil && len(slots) > *rules.MaxResultsPerSearch {
		slots = slots[:*rules.MaxResultsPerSearch]
	}

	if req.ConversationID != "" {
		s.gateway.SetSearchResult(ctx, tenant, req.ConversationID, req.Filter, slots)
	}
	return slots, nil
}

// bookingRules resolves the merged booking policy for the request context.
func (s *SearchService) bookingRules(ctx context.Context, tenant integration.Tenant, req SearchRequest) (flow.BookingRules, error) {
	fctx := &flow.FilterContext{
		TenantID:   tenant.ID,
		Steps:      []string{"search"},
		Entities:   req.Filter.EntityFilters(),
		PatientAge: req.PatientAge,
		PatientSex: req.PatientSex,
		PatientCPF: req.PatientCPF,
		Overrides:  req.Overrides,
	}

	merged, err := s.rules.Resolve(tenant.Type).MatchActions(ctx, tenant, fctx)
	if err != nil {
		return flow.BookingRules{}, fmt.Errorf("failed to resolve booking rules: %w", err)
	}

	for _, fragment := range merged {
		if fragment.ActionKind == flow.ActionKindBookingRules {
			return flow.DecodeBookingRules(fragment.Payload)
		}
	}
	return flow.BookingRules{}, nil
}

// applyWindow enforces the lead-time and horizon limits of the booking
// policy.
func applyWindow(slots []scheduling.CandidateSlot, rules flow.BookingRules, now time.Time) []scheduling.CandidateSlot {
	if rules.MaxDaysAhead == nil && rules.MinHoursNotice == nil {
		return slots
	}

	notBefore := now
	if rules.MinHoursNotice != nil {
		notBefore = now.Add(time.Duration(*rules.MinHoursNotice) * time.Hour)
	}

	var notAfter time.Time
	if rules.MaxDaysAhead != nil {
		notAfter = now.AddDate(0, 0, *rules.MaxDaysAhead)
	}

	kept := make([]scheduling.CandidateSlot, 0, len(slots))
	for _, slot := range slots {
		if slot.Start.Before(notBefore) {
			continue
		}
		if !notAfter.IsZero() && slot.Start.After(notAfter) {
			continue
		}
		kept = append(kept, slot)
	}
	return kept
}

func exclusionConfig(rules flow.BookingRules) scheduling.ExclusionConfig {
	cfg := scheduling.ExclusionConfig{}
	if rules.DoNotAllowSameDayScheduling != nil {
		cfg.DoNotAllowSameDayScheduling = *rules.DoNotAllowSameDayScheduling
	}
	if rules.DoNotAllowSameDayAndDoctorScheduling != nil {
		cfg.DoNotAllowSameDayAndDoctorScheduling = *rules.DoNotAllowSameDayAndDoctorScheduling
	}
	if rules.DoNotAllowSameHourScheduling != nil {
		cfg.DoNotAllowSameHourScheduling = *rules.DoNotAllowSameHourScheduling
	}
	if rules.MinutesAfterAppointmentCanSchedule != nil {
		cfg.MinutesAfterAppointmentCanSchedule = *rules.MinutesAfterAppointmentCanSchedule
	}
	return cfg
}
