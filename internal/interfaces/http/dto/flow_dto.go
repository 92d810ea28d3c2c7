package dto

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/medagenda/backend/internal/domain/flow"
)

// FragmentOverride is an ad-hoc policy fragment supplied inline with a match
// request. It participates in matching and merging for that request only.
type FragmentOverride struct {
	EntityFilters map[string][]string `json:"entityFilters,omitempty"`
	Step          string              `json:"step,omitempty"`
	Trigger       string              `json:"trigger,omitempty"`
	AgeMin        *int                `json:"ageMin,omitempty"`
	AgeMax        *int                `json:"ageMax,omitempty"`
	Sex           string              `json:"sex,omitempty"`
	CPFAllowList  []string            `json:"cpfAllowList,omitempty"`
	ActionKind    string              `json:"actionKind" binding:"required,oneof=booking_rules confirmation_rules instruction"`
	Payload       json.RawMessage     `json:"payload,omitempty"`
	Priority      int                 `json:"priority,omitempty"`
}

// ToDomain converts the override to a domain fragment.
func (o FragmentOverride) ToDomain() flow.ActionFragment {
	return flow.ActionFragment{
		EntityFilters: o.EntityFilters,
		Step:          o.Step,
		Trigger:       o.Trigger,
		AgeMin:        o.AgeMin,
		AgeMax:        o.AgeMax,
		Sex:           o.Sex,
		CPFAllowList:  o.CPFAllowList,
		ActionKind:    flow.ActionKind(o.ActionKind),
		Payload:       o.Payload,
		Priority:      o.Priority,
	}
}

// MatchPatient carries the patient attributes a match request filters on.
// BirthDate, when present, is reduced to an age in whole years.
type MatchPatient struct {
	Age       *int    `json:"age,omitempty"`
	BirthDate *string `json:"birthDate,omitempty" binding:"omitempty,datetime=2006-01-02"`
	Sex       string  `json:"sex,omitempty"`
	CPF       string  `json:"cpf,omitempty"`
}

// FlowMatchRequest asks for the effective policy fragments at a point in the
// conversation.
type FlowMatchRequest struct {
	Steps     []string            `json:"steps,omitempty"`
	Triggers  []string            `json:"triggers,omitempty"`
	Entities  map[string][]string `json:"entities,omitempty"`
	Patient   *MatchPatient       `json:"patient,omitempty"`
	Overrides []FragmentOverride  `json:"overrides,omitempty"`
}

// ResolveAge returns the patient age in whole years, deriving it from the
// birth date when no explicit age was given.
func (p MatchPatient) ResolveAge(now time.Time) (*int, error) {
	if p.Age != nil {
		return p.Age, nil
	}
	if p.BirthDate == nil {
		return nil, nil
	}
	birth, err := time.Parse("2006-01-02", *p.BirthDate)
	if err != nil {
		return nil, err
	}
	age := ageInYears(birth, now)
	return &age, nil
}

// ToFilterContext converts the request to the domain matching context,
// resolving birth date to age against now.
func (r FlowMatchRequest) ToFilterContext(tenantID uuid.UUID, now time.Time) (*flow.FilterContext, error) {
	fctx := &flow.FilterContext{
		TenantID: tenantID,
		Steps:    r.Steps,
		Triggers: r.Triggers,
		Entities: r.Entities,
	}
	if r.Patient != nil {
		fctx.PatientSex = r.Patient.Sex
		fctx.PatientCPF = r.Patient.CPF
		age, err := r.Patient.ResolveAge(now)
		if err != nil {
			return nil, err
		}
		fctx.PatientAge = age
	}
	for _, o := range r.Overrides {
		fctx.Overrides = append(fctx.Overrides, o.ToDomain())
	}
	return fctx, nil
}

func ageInYears(birth, now time.Time) int {
	age := now.Year() - birth.Year()
	if now.Month() < birth.Month() || (now.Month() == birth.Month() && now.Day() < birth.Day()) {
		age--
	}
	if age < 0 {
		age = 0
	}
	return age
}

// MatchedFragmentResponse is one merged action in a match response.
type MatchedFragmentResponse struct {
	ID         string          `json:"id,omitempty"`
	ActionKind string          `json:"actionKind"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	Priority   int             `json:"priority"`
}

// FlowMatchResponse carries the merged actions for a match request.
type FlowMatchResponse struct {
	Actions []MatchedFragmentResponse `json:"actions"`
}

// NewFlowMatchResponse converts merged domain fragments to the wire shape.
func NewFlowMatchResponse(fragments []flow.ActionFragment) FlowMatchResponse {
	resp := FlowMatchResponse{Actions: make([]MatchedFragmentResponse, 0, len(fragments))}
	for _, f := range fragments {
		action := MatchedFragmentResponse{
			ActionKind: string(f.ActionKind),
			Payload:    f.Payload,
			Priority:   f.Priority,
		}
		if f.ID != uuid.Nil {
			action.ID = f.ID.String()
		}
		resp.Actions = append(resp.Actions, action)
	}
	return resp
}

// CreateFragmentRequest creates a stored policy fragment for the tenant.
type CreateFragmentRequest struct {
	EntityFilters map[string][]string `json:"entityFilters,omitempty"`
	Step          string              `json:"step,omitempty"`
	Trigger       string              `json:"trigger,omitempty"`
	AgeMin        *int                `json:"ageMin,omitempty" binding:"omitempty,min=0"`
	AgeMax        *int                `json:"ageMax,omitempty" binding:"omitempty,min=0"`
	Sex           string              `json:"sex,omitempty"`
	CPFAllowList  []string            `json:"cpfAllowList,omitempty"`
	ActiveFrom    *time.Time          `json:"activeFrom,omitempty"`
	ActiveUntil   *time.Time          `json:"activeUntil,omitempty"`
	ActionKind    string              `json:"actionKind" binding:"required,oneof=booking_rules confirmation_rules instruction"`
	Payload       json.RawMessage     `json:"payload,omitempty"`
	Priority      int                 `json:"priority,omitempty"`
}

// ToDomain converts the request to a domain fragment scoped to the tenant.
func (r CreateFragmentRequest) ToDomain(tenantID uuid.UUID) flow.ActionFragment {
	return flow.ActionFragment{
		TenantID:      tenantID,
		EntityFilters: r.EntityFilters,
		Step:          r.Step,
		Trigger:       r.Trigger,
		AgeMin:        r.AgeMin,
		AgeMax:        r.AgeMax,
		Sex:           r.Sex,
		CPFAllowList:  r.CPFAllowList,
		ActiveFrom:    r.ActiveFrom,
		ActiveUntil:   r.ActiveUntil,
		ActionKind:    flow.ActionKind(r.ActionKind),
		Payload:       r.Payload,
		Priority:      r.Priority,
	}
}

// FragmentResponse is the wire shape of a stored fragment.
type FragmentResponse struct {
	ID            string              `json:"id"`
	EntityFilters map[string][]string `json:"entityFilters,omitempty"`
	Step          string              `json:"step,omitempty"`
	Trigger       string              `json:"trigger,omitempty"`
	AgeMin        *int                `json:"ageMin,omitempty"`
	AgeMax        *int                `json:"ageMax,omitempty"`
	Sex           string              `json:"sex,omitempty"`
	CPFAllowList  []string            `json:"cpfAllowList,omitempty"`
	ActiveFrom    *time.Time          `json:"activeFrom,omitempty"`
	ActiveUntil   *time.Time          `json:"activeUntil,omitempty"`
	ActionKind    string              `json:"actionKind"`
	Payload       json.RawMessage     `json:"payload,omitempty"`
	Priority      int                 `json:"priority"`
	CreatedAt     time.Time           `json:"createdAt"`
}

// NewFragmentResponse converts a domain fragment to the wire shape.
func NewFragmentResponse(f flow.ActionFragment) FragmentResponse {
	return FragmentResponse{
		ID:            f.ID.String(),
		EntityFilters: f.EntityFilters,
		Step:          f.Step,
		Trigger:       f.Trigger,
		AgeMin:        f.AgeMin,
		AgeMax:        f.AgeMax,
		Sex:           f.Sex,
		CPFAllowList:  f.CPFAllowList,
		ActiveFrom:    f.ActiveFrom,
		ActiveUntil:   f.ActiveUntil,
		ActionKind:    string(f.ActionKind),
		Payload:       f.Payload,
		Priority:      f.Priority,
		CreatedAt:     f.CreatedAt,
	}
}
