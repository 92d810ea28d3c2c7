package flow

import (
	"slices"
	"strings"
	"time"
)

// Matches reports whether the fragment applies to the given context at the
// given instant. Criteria are conjunctive across dimensions; an empty
// criterion on a dimension matches any value for that dimension.
func (f *ActionFragment) Matches(fctx *FilterContext, now time.Time) bool {
	if fctx == nil {
		return false
	}
	return f.matchesStep(fctx.Steps) &&
		f.matchesTrigger(fctx.Triggers) &&
		f.matchesEntities(fctx.Entities) &&
		f.matchesAge(fctx.PatientAge) &&
		f.matchesSex(fctx.PatientSex) &&
		f.matchesCPF(fctx.PatientCPF) &&
		f.matchesActiveWindow(now)
}

func (f *ActionFragment) matchesStep(steps []string) bool {
	return f.Step == "" || slices.Contains(steps, f.Step)
}

func (f *ActionFragment) matchesTrigger(triggers []string) bool {
	return f.Trigger == "" || slices.Contains(triggers, f.Trigger)
}

// matchesEntities requires, for every kind the fragment constrains, at least
// one of the context's ids for that kind to be in the fragment's set. A kind
// the context does not carry cannot satisfy a constraint on it.
func (f *ActionFragment) matchesEntities(entities map[string][]string) bool {
	for kind, allowed := range f.EntityFilters {
		if len(allowed) == 0 {
			continue
		}
		overlap := false
		for _, id := range entities[kind] {
			if slices.Contains(allowed, id) {
				overlap = true
				break
			}
		}
		if !overlap {
			return false
		}
	}
	return true
}

func (f *ActionFragment) matchesAge(age *int) bool {
	if f.AgeMin == nil && f.AgeMax == nil {
		return true
	}
	// An age-constrained fragment cannot match an unknown age.
	if age == nil {
		return false
	}
	if f.AgeMin != nil && *age < *f.AgeMin {
		return false
	}
	if f.AgeMax != nil && *age > *f.AgeMax {
		return false
	}
	return true
}

func (f *ActionFragment) matchesSex(sex string) bool {
	return f.Sex == "" || strings.EqualFold(f.Sex, sex)
}

func (f *ActionFragment) matchesCPF(cpf string) bool {
	return len(f.CPFAllowList) == 0 || slices.Contains(f.CPFAllowList, cpf)
}

func (f *ActionFragment) matchesActiveWindow(now time.Time) bool {
	if f.ActiveFrom != nil && now.Before(*f.ActiveFrom) {
		return false
	}
	if f.ActiveUntil != nil && now.After(*f.ActiveUntil) {
		return false
	}
	return true
}

// MatchFragments filters fragments down to those applicable to the context,
// preserving the input order. The input order is significant: it breaks
// priority ties during merging.
func MatchFragments(fragments []ActionFragment, fctx *FilterContext, now time.Time) []ActionFragment {
	var matched []ActionFragment
	for _, f := range fragments {
		if f.Matches(fctx, now) {
			matched = append(matched, f)
		}
	}
	return matched
}
