package flow

import (
	"encoding/json"
	"fmt"
	"sort"
)

// Merge collapses matched fragments into at most one effective policy per
// action kind. Booking rules merge field-by-field, confirmation rules take
// the single highest-priority fragment wholesale, and any other kind passes
// through unmodified in match order. An empty input yields an empty result;
// zero matches is not an error.
func Merge(fragments []ActionFragment) ([]ActionFragment, error) {
	if len(fragments) == 0 {
		return nil, nil
	}

	grouped := make(map[ActionKind][]ActionFragment)
	var kindOrder []ActionKind
	for _, f := range fragments {
		if _, seen := grouped[f.ActionKind]; !seen {
			kindOrder = append(kindOrder, f.ActionKind)
		}
		grouped[f.ActionKind] = append(grouped[f.ActionKind], f)
	}

	var merged []ActionFragment
	for _, kind := range kindOrder {
		group := grouped[kind]
		switch kind {
		case ActionKindBookingRules:
			frag, err := mergeBookingRules(group)
			if err != nil {
				return nil, err
			}
			merged = append(merged, frag)
		case ActionKindConfirmationRules:
			merged = append(merged, highestPriority(group))
		default:
			merged = append(merged, group...)
		}
	}
	return merged, nil
}

// byPriorityDesc sorts fragments by priority descending. The sort is stable
// so fragments with equal priority keep their original match order.
func byPriorityDesc(fragments []ActionFragment) []ActionFragment {
	sorted := make([]ActionFragment, len(fragments))
	copy(sorted, fragments)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Priority > sorted[j].Priority
	})
	return sorted
}

func highestPriority(fragments []ActionFragment) ActionFragment {
	return byPriorityDesc(fragments)[0]
}

// mergeBookingRules walks fragments in priority order and, for each policy
// field, takes the first fragment that defines it. Definedness is a non-nil
// pointer, so an explicit false or 0 from a higher-priority fragment is
// respected and never overwritten by a lower-priority fragment's absence of
// the field.
func mergeBookingRules(fragments []ActionFragment) (ActionFragment, error) {
	sorted := byPriorityDesc(fragments)

	var result BookingRules
	for _, f := range sorted {
		rules, err := DecodeBookingRules(f.Payload)
		if err != nil {
			return ActionFragment{}, fmt.Errorf("fragment %s: %w", f.ID, err)
		}
		fillMissing(&result, rules)
	}

	payload, err := json.Marshal(result)
	if err != nil {
		return ActionFragment{}, fmt.Errorf("failed to encode merged booking rules: %w", err)
	}

	merged := sorted[0]
	merged.Payload = payload
	return merged, nil
}

// fillMissing copies every field src defines into dst fields that are still
// undefined.
func fillMissing(dst *BookingRules, src BookingRules) {
	if dst.MaxDaysAhead == nil {
		dst.MaxDaysAhead = src.MaxDaysAhead
	}
	if dst.MinHoursNotice == nil {
		dst.MinHoursNotice = src.MinHoursNotice
	}
	if dst.MaxResultsPerSearch == nil {
		dst.MaxResultsPerSearch = src.MaxResultsPerSearch
	}
	if dst.ShowPriceInSearch == nil {
		dst.ShowPriceInSearch = src.ShowPriceInSearch
	}
	if dst.AllowReschedule == nil {
		dst.AllowReschedule = src.AllowReschedule
	}
	if dst.DoNotAllowSameDayScheduling == nil {
		dst.DoNotAllowSameDayScheduling = src.DoNotAllowSameDayScheduling
	}
	if dst.DoNotAllowSameDayAndDoctorScheduling == nil {
		dst.DoNotAllowSameDayAndDoctorScheduling = src.DoNotAllowSameDayAndDoctorScheduling
	}
	if dst.DoNotAllowSameHourScheduling == nil {
		dst.DoNotAllowSameHourScheduling = src.DoNotAllowSameHourScheduling
	}
	if dst.MinutesAfterAppointmentCanSchedule == nil {
		dst.MinutesAfterAppointmentCanSchedule = src.MinutesAfterAppointmentCanSchedule
	}
}
