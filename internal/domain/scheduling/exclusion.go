package scheduling

import "time"

// ExclusionConfig is a tenant's same-day exclusion policy: which slot
// combinations may not be offered to a patient who already has bookings.
type ExclusionConfig struct {
	DoNotAllowSameDayScheduling          bool `json:"doNotAllowSameDayScheduling"`
	DoNotAllowSameDayAndDoctorScheduling bool `json:"doNotAllowSameDayAndDoctorScheduling"`
	DoNotAllowSameHourScheduling         bool `json:"doNotAllowSameHourScheduling"`
	// MinutesAfterAppointmentCanSchedule is the minimum gap, in minutes,
	// between an existing appointment's start and a candidate's start under
	// the same-hour rule.
	MinutesAfterAppointmentCanSchedule int `json:"minutesAfterAppointmentCanSchedule"`
}

// Enabled reports whether any exclusion flag is set. With no flags the
// engine passes candidates through untouched.
func (c ExclusionConfig) Enabled() bool {
	return c.DoNotAllowSameDayScheduling ||
		c.DoNotAllowSameDayAndDoctorScheduling ||
		c.DoNotAllowSameHourScheduling
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}

// FilterCandidates removes the candidate slots the exclusion policy forbids,
// given the patient's existing appointments. Only appointments at or after
// now are considered. Per existing appointment sharing a calendar day with a
// candidate:
//
//   - same-day: the whole day's candidates are dropped;
//   - same-hour: candidates starting less than
//     MinutesAfterAppointmentCanSchedule minutes after the appointment's
//     start are dropped;
//   - same-day-and-doctor: only candidates whose doctor is known and differs
//     from the appointment's doctor survive; when either doctor is unknown
//     the day's candidates are dropped entirely.
//
// Days whose candidates are all removed simply vanish from the result.
func FilterCandidates(cfg ExclusionConfig, existing []Appointment, candidates []CandidateSlot, now time.Time) []CandidateSlot {
	if !cfg.Enabled() || len(existing) == 0 || len(candidates) == 0 {
		return candidates
	}

	var upcoming []Appointment
	for _, a := range existing {
		if !a.Start.Before(now) {
			upcoming = append(upcoming, a)
		}
	}

	kept := make([]CandidateSlot, 0, len(candidates))
	for _, slot := range candidates {
		if allowed(cfg, upcoming, slot) {
			kept = append(kept, slot)
		}
	}
	return kept
}

func allowed(cfg ExclusionConfig, upcoming []Appointment, slot CandidateSlot) bool {
	for _, appt := range upcoming {
		if !sameDay(appt.Start, slot.Start) {
			continue
		}
		if cfg.DoNotAllowSameDayScheduling {
			return false
		}
		if cfg.DoNotAllowSameHourScheduling && withinGap(appt.Start, slot.Start, cfg.MinutesAfterAppointmentCanSchedule) {
			return false
		}
		if cfg.DoNotAllowSameDayAndDoctorScheduling {
			if appt.DoctorID == "" || slot.DoctorID == "" {
				return false
			}
			if appt.DoctorID == slot.DoctorID {
				return false
			}
		}
	}
	return true
}

// withinGap reports whether the slot starts less than gapMinutes after the
// appointment's start. Slots strictly before the appointment are unaffected
// by the same-hour rule.
func withinGap(appointmentStart, slotStart time.Time, gapMinutes int) bool {
	if slotStart.Before(appointmentStart) {
		return false
	}
	return slotStart.Sub(appointmentStart) < time.Duration(gapMinutes)*time.Minute
}
