package flow

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ActionKind identifies what a flow action fragment configures.
type ActionKind string

const (
	// ActionKindBookingRules fragments configure scheduling policy and are
	// merged field-by-field across all matched fragments.
	ActionKindBookingRules ActionKind = "booking_rules"
	// ActionKindConfirmationRules fragments configure confirmation messaging.
	// Only the single highest-priority match applies; confirmation copy must
	// never be a composite of unrelated fragments.
	ActionKindConfirmationRules ActionKind = "confirmation_rules"
	// ActionKindInstruction fragments carry free-form guidance for the
	// conversational agent and pass through unmerged.
	ActionKindInstruction ActionKind = "instruction"
)

// ActionFragment is a tenant-authored policy rule scoped to specific
// scheduling entities and patient conditions. Fragments are soft-deleted,
// never hard-deleted, to preserve the audit trail.
type ActionFragment struct {
	ID       uuid.UUID
	TenantID uuid.UUID

	// EntityFilters maps an entity kind (doctor, specialty, unit, insurance)
	// to the set of external ids the fragment applies to. An absent kind or
	// an empty id set places no constraint on that kind.
	EntityFilters map[string][]string

	// Step and Trigger scope the fragment to a point in the conversation
	// flow. Empty values match any step or trigger.
	Step    string
	Trigger string

	// Patient criteria. Nil/empty values match any patient.
	AgeMin       *int
	AgeMax       *int
	Sex          string
	CPFAllowList []string

	// Active date window. Nil bounds are open-ended.
	ActiveFrom  *time.Time
	ActiveUntil *time.Time

	ActionKind ActionKind
	// Payload is the action-kind-specific configuration. Booking rule
	// payloads decode into BookingRules.
	Payload json.RawMessage

	// Priority orders fragments during merging, highest first. Fragments
	// created without a priority carry 0.
	Priority int

	CreatedAt time.Time
	UpdatedAt time.Time
}

// BookingRules is the resolved scheduling policy carried by booking-rule
// fragments. Every field is a pointer so that "absent" and an explicit
// false/0 are distinguishable at the type level: a higher-priority fragment
// that sets a field to false must win over a lower-priority fragment that
// sets it to true.
type BookingRules struct {
	// MaxDaysAhead limits how far into the future slots may be offered.
	MaxDaysAhead *int `json:"maxDaysAhead,omitempty"`
	// MinHoursNotice is the minimum lead time before a slot may be booked.
	MinHoursNotice *int `json:"minHoursNotice,omitempty"`
	// MaxResultsPerSearch caps the number of candidate slots returned.
	MaxResultsPerSearch *int `json:"maxResultsPerSearch,omitempty"`
	// ShowPriceInSearch controls whether quote values accompany slots.
	ShowPriceInSearch *bool `json:"showPriceInSearch,omitempty"`
	// AllowReschedule controls whether existing appointments may be moved.
	AllowReschedule *bool `json:"allowReschedule,omitempty"`

	// Same-day exclusion policy applied by the exclusion engine.
	DoNotAllowSameDayScheduling          *bool `json:"doNotAllowSameDayScheduling,omitempty"`
	DoNotAllowSameDayAndDoctorScheduling *bool `json:"doNotAllowSameDayAndDoctorScheduling,omitempty"`
	DoNotAllowSameHourScheduling         *bool `json:"doNotAllowSameHourScheduling,omitempty"`
	MinutesAfterAppointmentCanSchedule   *int  `json:"minutesAfterAppointmentCanSchedule,omitempty"`
}

// DecodeBookingRules parses a booking-rules payload.
func DecodeBookingRules(payload json.RawMessage) (BookingRules, error) {
	var rules BookingRules
	if len(payload) == 0 {
		return rules, nil
	}
	if err := json.Unmarshal(payload, &rules); err != nil {
		return BookingRules{}, fmt.Errorf("failed to decode booking rules payload: %w", err)
	}
	return rules, nil
}

// FilterContext is the request-side context a fragment is matched against.
type FilterContext struct {
	TenantID uuid.UUID

	// Steps and Triggers are the conversation points the request covers. A
	// fragment matches when its own step/trigger is empty or contained here.
	Steps    []string
	Triggers []string

	// Entities maps an entity kind to the external ids the request concerns.
	Entities map[string][]string

	// Patient attributes. PatientAge is in whole years; birth dates are
	// reduced to age before matching and key derivation so requests made on
	// different days of the same year still share cache entries.
	PatientAge *int
	PatientSex string
	PatientCPF string

	// Overrides are ad-hoc fragments supplied by the caller, matched and
	// merged together with the tenant's stored fragments.
	Overrides []ActionFragment
}
