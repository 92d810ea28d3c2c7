package scheduling

import (
	"sort"
	"time"
)

// Appointment is an existing booking in the patient's schedule, as reported
// by the tenant's ERP. Only the fields the exclusion rules need are modeled.
type Appointment struct {
	ExternalID string    `json:"externalId"`
	Start      time.Time `json:"start"`
	DoctorID   string    `json:"doctorId,omitempty"`
	DoctorName string    `json:"doctorName,omitempty"`
	UnitID     string    `json:"unitId,omitempty"`
	Status     string    `json:"status,omitempty"`
}

// CandidateSlot is an open slot an ERP adapter is about to offer.
type CandidateSlot struct {
	ScheduleID string    `json:"scheduleId,omitempty"`
	Start      time.Time `json:"start"`
	End        time.Time `json:"end,omitempty"`
	DoctorID   string    `json:"doctorId,omitempty"`
	DoctorName string    `json:"doctorName,omitempty"`
	UnitID     string    `json:"unitId,omitempty"`
}

// PatientSchedules is the cached view of a patient's bookings: the full list
// plus a precomputed next/last appointment summary so the conversational
// agent never re-derives them.
type PatientSchedules struct {
	PatientCode     string        `json:"patientCode"`
	Appointments    []Appointment `json:"appointments"`
	NextAppointment *Appointment  `json:"nextAppointment,omitempty"`
	LastAppointment *Appointment  `json:"lastAppointment,omitempty"`
}

// BuildPatientSchedules assembles the cached view, computing the summary
// relative to now: next is the earliest appointment at or after now, last is
// the latest one before now.
func BuildPatientSchedules(patientCode string, appointments []Appointment, now time.Time) PatientSchedules {
	sorted := make([]Appointment, len(appointments))
	copy(sorted, appointments)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Start.Before(sorted[j].Start) })

	schedules := PatientSchedules{PatientCode: patientCode, Appointments: sorted}
	for i := range sorted {
		if sorted[i].Start.Before(now) {
			schedules.LastAppointment = &sorted[i]
		} else if schedules.NextAppointment == nil {
			schedules.NextAppointment = &sorted[i]
		}
	}
	return schedules
}

// Upcoming returns the appointments starting at or after now.
func (p PatientSchedules) Upcoming(now time.Time) []Appointment {
	var upcoming []Appointment
	for _, a := range p.Appointments {
		if !a.Start.Before(now) {
			upcoming = append(upcoming, a)
		}
	}
	return upcoming
}
