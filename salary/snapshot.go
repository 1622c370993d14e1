package salary

import (
	"encoding/json"
	"slices"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/payroll-engine/generic"
)

// =============================================================================
// SNAPSHOT - Immutable resolved salary
// =============================================================================

// Component is one resolved line of a snapshot. Amount is annual.
type Component struct {
	Name    string          `json:"name"`
	Code    string          `json:"code"`
	Formula string          `json:"formula"`
	Amount  decimal.Decimal `json:"amount"`
}

// Breakdown is a resolved template without an owner.
type Breakdown struct {
	CTC        decimal.Decimal `json:"ctc"`
	Earnings   []Component     `json:"earnings"`
	Benefits   []Component     `json:"benefits"`
	Deductions []Component     `json:"deductions"`
}

func (b Breakdown) TotalEarnings() decimal.Decimal   { return sumAmounts(b.Earnings) }
func (b Breakdown) TotalBenefits() decimal.Decimal   { return sumAmounts(b.Benefits) }
func (b Breakdown) TotalDeductions() decimal.Decimal { return sumAmounts(b.Deductions) }

// TotalCost is earnings plus employer benefits, which must match the CTC.
func (b Breakdown) TotalCost() decimal.Decimal {
	return generic.RoundCurrency(b.TotalEarnings().Add(b.TotalBenefits()))
}

func sumAmounts(cs []Component) decimal.Decimal {
	total := decimal.Zero
	for _, c := range cs {
		total = total.Add(c.Amount)
	}
	return total
}

// Snapshot is one employee's or applicant's salary as of an effective date.
// It has no mutating methods: a salary change is a new snapshot with a later
// effective date. Accessors return copies.
type Snapshot struct {
	id            string
	tenantID      generic.TenantID
	owner         generic.Owner
	templateID    string
	breakdown     Breakdown
	effectiveDate time.Time
	createdAt     time.Time
}

func (s *Snapshot) ID() string                 { return s.id }
func (s *Snapshot) TenantID() generic.TenantID { return s.tenantID }
func (s *Snapshot) Owner() generic.Owner       { return s.owner }
func (s *Snapshot) TemplateID() string         { return s.templateID }
func (s *Snapshot) CTC() decimal.Decimal       { return s.breakdown.CTC }
func (s *Snapshot) EffectiveDate() time.Time   { return s.effectiveDate }
func (s *Snapshot) CreatedAt() time.Time       { return s.createdAt }
func (s *Snapshot) Earnings() []Component      { return slices.Clone(s.breakdown.Earnings) }
func (s *Snapshot) Benefits() []Component      { return slices.Clone(s.breakdown.Benefits) }
func (s *Snapshot) Deductions() []Component    { return slices.Clone(s.breakdown.Deductions) }

// Breakdown returns a copy of the resolved components.
func (s *Snapshot) Breakdown() Breakdown {
	return Breakdown{
		CTC:        s.breakdown.CTC,
		Earnings:   s.Earnings(),
		Benefits:   s.Benefits(),
		Deductions: s.Deductions(),
	}
}

// EffectiveOn reports whether the snapshot is in force at asOf.
func (s *Snapshot) EffectiveOn(asOf time.Time) bool {
	return !s.effectiveDate.After(asOf)
}

type snapshotJSON struct {
	ID            string           `json:"id"`
	TenantID      generic.TenantID `json:"tenant_id"`
	EmployeeID    string           `json:"employee_id,omitempty"`
	ApplicantID   string           `json:"applicant_id,omitempty"`
	TemplateID    string           `json:"template_id,omitempty"`
	CTC           decimal.Decimal  `json:"ctc"`
	Earnings      []Component      `json:"earnings"`
	Deductions    []Component      `json:"deductions"`
	Benefits      []Component      `json:"benefits"`
	EffectiveDate time.Time        `json:"effective_date"`
	CreatedAt     time.Time        `json:"created_at"`
}

func (s *Snapshot) MarshalJSON() ([]byte, error) {
	return json.Marshal(snapshotJSON{
		ID:            s.id,
		TenantID:      s.tenantID,
		EmployeeID:    string(s.owner.EmployeeID),
		ApplicantID:   string(s.owner.ApplicantID),
		TemplateID:    s.templateID,
		CTC:           s.breakdown.CTC,
		Earnings:      nonNil(s.breakdown.Earnings),
		Deductions:    nonNil(s.breakdown.Deductions),
		Benefits:      nonNil(s.breakdown.Benefits),
		EffectiveDate: s.effectiveDate,
		CreatedAt:     s.createdAt,
	})
}

// UnmarshalJSON restores a stored snapshot. Only stores and transports should
// call it; it is not a way to edit a snapshot.
func (s *Snapshot) UnmarshalJSON(b []byte) error {
	var j snapshotJSON
	if err := json.Unmarshal(b, &j); err != nil {
		return err
	}
	*s = Snapshot{
		id:         j.ID,
		tenantID:   j.TenantID,
		owner:      generic.Owner{EmployeeID: generic.EmployeeID(j.EmployeeID), ApplicantID: generic.ApplicantID(j.ApplicantID)},
		templateID: j.TemplateID,
		breakdown: Breakdown{
			CTC:        j.CTC,
			Earnings:   j.Earnings,
			Benefits:   j.Benefits,
			Deductions: j.Deductions,
		},
		effectiveDate: j.EffectiveDate,
		createdAt:     j.CreatedAt,
	}
	return nil
}

func nonNil(cs []Component) []Component {
	if cs == nil {
		return []Component{}
	}
	return cs
}
