package scheduling

import (
	"time"

	"github.com/shopspring/decimal"
)

// Patient is the normalized view of a patient record held by a tenant's ERP.
// External systems frequently hold duplicate records per person, so lookups
// are keyed by code or CPF, optionally disambiguated by birth date.
type Patient struct {
	Code      string     `json:"code"`
	CPF       string     `json:"cpf,omitempty"`
	Name      string     `json:"name,omitempty"`
	Sex       string     `json:"sex,omitempty"`
	BirthDate *time.Time `json:"birthDate,omitempty"`
	Phone     string     `json:"phone,omitempty"`
	Email     string     `json:"email,omitempty"`
}

// AgeInYears returns the patient's age in whole years at the given instant,
// or nil when the birth date is unknown. Matching and cache keys use age, not
// the raw birth date, so requests made on different days still coincide.
func (p Patient) AgeInYears(now time.Time) *int {
	if p.BirthDate == nil {
		return nil
	}
	age := now.Year() - p.BirthDate.Year()
	anniversary := p.BirthDate.AddDate(age, 0, 0)
	if anniversary.After(now) {
		age--
	}
	if age < 0 {
		return nil
	}
	return &age
}

// ValueQuote is a price quote for a schedulable procedure, as returned by the
// tenant's ERP.
type ValueQuote struct {
	ProcedureID string          `json:"procedureId,omitempty"`
	Amount      decimal.Decimal `json:"amount"`
	Currency    string          `json:"currency,omitempty"`
}
