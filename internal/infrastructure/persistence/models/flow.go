package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/medagenda/backend/internal/domain/flow"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var flowModelLogger = zap.L().Named("flow.models")

// ActionFragmentModel is the persistence model for flow action fragments.
// Fragments are soft-deleted so the audit trail of which policy applied when
// stays reconstructible.
type ActionFragmentModel struct {
	ID       uuid.UUID `gorm:"type:uuid;primary_key"`
	TenantID uuid.UUID `gorm:"type:uuid;not null;index"`

	EntityFiltersJSON string `gorm:"column:entity_filters;type:jsonb;default:'{}'"`

	Step string `gorm:"type:varchar(100);not null;default:'';index"`
	// Column is flow_trigger because "trigger" is reserved in Postgres.
	Trigger string `gorm:"column:flow_trigger;type:varchar(100);not null;default:'';index"`

	AgeMin           *int   `gorm:"type:smallint"`
	AgeMax           *int   `gorm:"type:smallint"`
	Sex              string `gorm:"type:varchar(10);not null;default:''"`
	CPFAllowListJSON string `gorm:"column:cpf_allow_list;type:jsonb;default:'[]'"`
	ActiveFrom       *time.Time
	ActiveUntil      *time.Time

	ActionKind string `gorm:"type:varchar(50);not null;index"`
	Payload    string `gorm:"type:jsonb;default:'{}'"`
	Priority   int    `gorm:"not null;default:0"`

	CreatedAt time.Time      `gorm:"not null"`
	UpdatedAt time.Time      `gorm:"not null"`
	DeletedAt gorm.DeletedAt `gorm:"index"`
}

// TableName returns the table name for GORM
func (ActionFragmentModel) TableName() string {
	return "flow_action_fragments"
}

// ToDomain converts the persistence model to a domain ActionFragment.
func (m *ActionFragmentModel) ToDomain() flow.ActionFragment {
	fragment := flow.ActionFragment{
		ID:          m.ID,
		TenantID:    m.TenantID,
		Step:        m.Step,
		Trigger:     m.Trigger,
		AgeMin:      m.AgeMin,
		AgeMax:      m.AgeMax,
		Sex:         m.Sex,
		ActiveFrom:  m.ActiveFrom,
		ActiveUntil: m.ActiveUntil,
		ActionKind:  flow.ActionKind(m.ActionKind),
		Priority:    m.Priority,
		CreatedAt:   m.CreatedAt,
		UpdatedAt:   m.UpdatedAt,
	}

	if m.Payload != "" {
		fragment.Payload = json.RawMessage(m.Payload)
	}

	if m.EntityFiltersJSON != "" && m.EntityFiltersJSON != "{}" {
		var filters map[string][]string
		if err := json.Unmarshal([]byte(m.EntityFiltersJSON), &filters); err != nil {
			flowModelLogger.Warn("failed to parse entity_filters JSON",
				zap.String("fragment_id", m.ID.String()),
				zap.Error(err))
		} else {
			fragment.EntityFilters = filters
		}
	}

	if m.CPFAllowListJSON != "" && m.CPFAllowListJSON != "[]" {
		var allowList []string
		if err := json.Unmarshal([]byte(m.CPFAllowListJSON), &allowList); err != nil {
			flowModelLogger.Warn("failed to parse cpf_allow_list JSON",
				zap.String("fragment_id", m.ID.String()),
				zap.Error(err))
		} else {
			fragment.CPFAllowList = allowList
		}
	}

	return fragment
}

// ActionFragmentModelFromDomain converts a domain ActionFragment to its
// persistence model.
func ActionFragmentModelFromDomain(fragment *flow.ActionFragment) *ActionFragmentModel {
	model := &ActionFragmentModel{
		ID:          fragment.ID,
		TenantID:    fragment.TenantID,
		Step:        fragment.Step,
		Trigger:     fragment.Trigger,
		AgeMin:      fragment.AgeMin,
		AgeMax:      fragment.AgeMax,
		Sex:         fragment.Sex,
		ActiveFrom:  fragment.ActiveFrom,
		ActiveUntil: fragment.ActiveUntil,
		ActionKind:  string(fragment.ActionKind),
		Priority:    fragment.Priority,
		CreatedAt:   fragment.CreatedAt,
		UpdatedAt:   fragment.UpdatedAt,
	}

	if len(fragment.Payload) > 0 {
		model.Payload = string(fragment.Payload)
	} else {
		model.Payload = "{}"
	}

	if len(fragment.EntityFilters) > 0 {
		if raw, err := json.Marshal(fragment.EntityFilters); err == nil {
			model.EntityFiltersJSON = string(raw)
		}
	} else {
		model.EntityFiltersJSON = "{}"
	}

	if len(fragment.CPFAllowList) > 0 {
		if raw, err := json.Marshal(fragment.CPFAllowList); err == nil {
			model.CPFAllowListJSON = string(raw)
		}
	} else {
		model.CPFAllowListJSON = "[]"
	}

	return model
}
