package dto

import (
	"time"

	"github.com/medagenda/backend/internal/domain/scheduling"
)

// ScheduleSearchRequest asks for bookable slots on behalf of a patient in a
// conversation. ConversationID scopes the result cache; requests without one
// bypass it.
type ScheduleSearchRequest struct {
	ConversationID string             `json:"conversationId,omitempty"`
	PatientCode    string             `json:"patientCode,omitempty"`
	Patient        *MatchPatient      `json:"patient,omitempty"`
	Filter         SearchFilterDTO    `json:"filter"`
	Overrides      []FragmentOverride `json:"overrides,omitempty"`
}

// SearchFilterDTO narrows a slot search. Empty fields are unconstrained.
type SearchFilterDTO struct {
	SpecialtyIDs []string   `json:"specialtyIds,omitempty"`
	DoctorIDs    []string   `json:"doctorIds,omitempty"`
	UnitIDs      []string   `json:"unitIds,omitempty"`
	InsuranceID  string     `json:"insuranceId,omitempty"`
	ProcedureID  string     `json:"procedureId,omitempty"`
	From         *time.Time `json:"from,omitempty"`
	To           *time.Time `json:"to,omitempty"`
}

// ToDomain converts the filter to its domain counterpart.
func (f SearchFilterDTO) ToDomain() scheduling.SearchFilter {
	return scheduling.SearchFilter{
		SpecialtyIDs: f.SpecialtyIDs,
		DoctorIDs:    f.DoctorIDs,
		UnitIDs:      f.UnitIDs,
		InsuranceID:  f.InsuranceID,
		ProcedureID:  f.ProcedureID,
		From:         f.From,
		To:           f.To,
	}
}

// SlotResponse is one bookable slot in a search response.
type SlotResponse struct {
	ScheduleID string    `json:"scheduleId,omitempty"`
	Start      time.Time `json:"start"`
	End        time.Time `json:"end,omitempty"`
	DoctorID   string    `json:"doctorId,omitempty"`
	DoctorName string    `json:"doctorName,omitempty"`
	UnitID     string    `json:"unitId,omitempty"`
}

// ScheduleSearchResponse carries the filtered slots for a search.
type ScheduleSearchResponse struct {
	Slots []SlotResponse `json:"slots"`
}

// NewScheduleSearchResponse converts candidate slots to the wire shape.
func NewScheduleSearchResponse(slots []scheduling.CandidateSlot) ScheduleSearchResponse {
	resp := ScheduleSearchResponse{Slots: make([]SlotResponse, 0, len(slots))}
	for _, s := range slots {
		resp.Slots = append(resp.Slots, SlotResponse{
			ScheduleID: s.ScheduleID,
			Start:      s.Start,
			End:        s.End,
			DoctorID:   s.DoctorID,
			DoctorName: s.DoctorName,
			UnitID:     s.UnitID,
		})
	}
	return resp
}

// AppointmentResponse is one existing booking in a patient schedule view.
type AppointmentResponse struct {
	ExternalID string    `json:"externalId"`
	Start      time.Time `json:"start"`
	DoctorID   string    `json:"doctorId,omitempty"`
	DoctorName string    `json:"doctorName,omitempty"`
	UnitID     string    `json:"unitId,omitempty"`
	Status     string    `json:"status,omitempty"`
}

// PatientSchedulesResponse is the cached schedule view of one patient.
type PatientSchedulesResponse struct {
	PatientCode     string                `json:"patientCode"`
	Appointments    []AppointmentResponse `json:"appointments"`
	NextAppointment *AppointmentResponse  `json:"nextAppointment,omitempty"`
	LastAppointment *AppointmentResponse  `json:"lastAppointment,omitempty"`
}

// NewPatientSchedulesResponse converts the domain view to the wire shape.
func NewPatientSchedulesResponse(schedules scheduling.PatientSchedules) PatientSchedulesResponse {
	resp := PatientSchedulesResponse{
		PatientCode:  schedules.PatientCode,
		Appointments: make([]AppointmentResponse, 0, len(schedules.Appointments)),
	}
	for _, a := range schedules.Appointments {
		resp.Appointments = append(resp.Appointments, newAppointmentResponse(a))
	}
	if schedules.NextAppointment != nil {
		next := newAppointmentResponse(*schedules.NextAppointment)
		resp.NextAppointment = &next
	}
	if schedules.LastAppointment != nil {
		last := newAppointmentResponse(*schedules.LastAppointment)
		resp.LastAppointment = &last
	}
	return resp
}

func newAppointmentResponse(a scheduling.Appointment) AppointmentResponse {
	return AppointmentResponse{
		ExternalID: a.ExternalID,
		Start:      a.Start,
		DoctorID:   a.DoctorID,
		DoctorName: a.DoctorName,
		UnitID:     a.UnitID,
		Status:     a.Status,
	}
}

// SyncResponse reports the outcome of a tenant schedule sync.
type SyncResponse struct {
	Patients int    `json:"patients"`
	Took     string `json:"took"`
}
