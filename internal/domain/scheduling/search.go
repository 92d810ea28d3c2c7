package scheduling

import "time"

// SearchFilter narrows an available-slot search. Zero-value fields leave the
// dimension unconstrained.
type SearchFilter struct {
	SpecialtyIDs []string   `json:"specialtyIds,omitempty"`
	DoctorIDs    []string   `json:"doctorIds,omitempty"`
	UnitIDs      []string   `json:"unitIds,omitempty"`
	InsuranceID  string     `json:"insuranceId,omitempty"`
	ProcedureID  string     `json:"procedureId,omitempty"`
	From         *time.Time `json:"from,omitempty"`
	To           *time.Time `json:"to,omitempty"`
}

// EntityFilters expresses the filter as entity-kind to external-id lists, the
// shape flow fragments constrain on.
func (f SearchFilter) EntityFilters() map[string][]string {
	entities := make(map[string][]string)
	if len(f.SpecialtyIDs) > 0 {
		entities["specialty"] = f.SpecialtyIDs
	}
	if len(f.DoctorIDs) > 0 {
		entities["doctor"] = f.DoctorIDs
	}
	if len(f.UnitIDs) > 0 {
		entities["unit"] = f.UnitIDs
	}
	if f.InsuranceID != "" {
		entities["insurance"] = []string{f.InsuranceID}
	}
	if f.ProcedureID != "" {
		entities["procedure"] = []string{f.ProcedureID}
	}
	return entities
}
