/*
Package generic provides the shared vocabulary of the payroll engine.

PURPOSE:
  This package contains the domain-agnostic building blocks used by the
  salary, attendance and payroll packages: typed identifiers, currency
  arithmetic, pay periods, the error taxonomy and the collaborator
  interfaces the services depend on.

KEY CONCEPTS IN THIS FILE (types.go):
  - Identifiers: TenantID, EmployeeID, ApplicantID (type-safe strings)
  - Owner: exactly one of employee or applicant owns a salary snapshot
  - Money: decimal.Decimal amounts with currency-precision rounding

DESIGN PRINCIPLES:
  1. Precision: amounts are decimal.Decimal, never float64
  2. Type Safety: distinct ID types prevent mixing employees and applicants
  3. Determinism: one rounding rule (RoundCurrency) used everywhere

SEE ALSO:
  - period.go: YYYY-MM pay periods
  - errors.go: Validation / resolution / integrity errors
  - store.go: Collaborator interfaces (employee directory, clock)
*/
package generic

import (
	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type TenantID string
type EmployeeID string
type ApplicantID string

// Owner identifies who a salary snapshot belongs to. Exactly one of the two
// fields is set; the reference is a lookup key, not an ownership relation.
type Owner struct {
	EmployeeID  EmployeeID  `json:"employee_id,omitempty"`
	ApplicantID ApplicantID `json:"applicant_id,omitempty"`
}

func EmployeeOwner(id EmployeeID) Owner   { return Owner{EmployeeID: id} }
func ApplicantOwner(id ApplicantID) Owner { return Owner{ApplicantID: id} }

// Validate checks that exactly one owner reference is set.
func (o Owner) Validate() error {
	switch {
	case o.EmployeeID == "" && o.ApplicantID == "":
		return Invalid("owner", "employee or applicant id is required")
	case o.EmployeeID != "" && o.ApplicantID != "":
		return Invalid("owner", "only one of employee or applicant id may be set")
	}
	return nil
}

func (o Owner) IsEmployee() bool { return o.EmployeeID != "" }

func (o Owner) String() string {
	if o.IsEmployee() {
		return "employee:" + string(o.EmployeeID)
	}
	return "applicant:" + string(o.ApplicantID)
}

// =============================================================================
// MONEY - Currency amounts
// =============================================================================

// CurrencyPlaces is the precision every resolved amount is rounded to.
const CurrencyPlaces = 2

var (
	MonthsPerYear = decimal.NewFromInt(12)
	Half          = decimal.NewFromFloat(0.5)
)

// RoundCurrency rounds to 2 decimal places, half away from zero
// (12.345 -> 12.35, -12.345 -> -12.35).
func RoundCurrency(d decimal.Decimal) decimal.Decimal {
	return d.Round(CurrencyPlaces)
}

// Sum adds all values. An empty slice sums to zero.
func Sum(values ...decimal.Decimal) decimal.Decimal {
	total := decimal.Zero
	for _, v := range values {
		total = total.Add(v)
	}
	return total
}

// MustParseDecimal parses s or returns zero. Intended for constants and tests.
func MustParseDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}
