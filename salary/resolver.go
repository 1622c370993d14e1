/*
resolver.go - Template + CTC -> salary snapshot

PURPOSE:
  Turns a salary template's formulas into concrete annual amounts for one
  target CTC, validates that they add up, and produces an immutable Snapshot.
  Resolution is pure: nothing is persisted here (see service.go for that),
  so previews never need a create-then-delete workaround.

ALGORITHM:
  1. Validate request (CTC > 0, exactly one owner) and template
  2. Build one formula table from all three lists plus the CTC literal
  3. Evaluate every code once, in list order (earnings, employer deductions,
     employee deductions); the evaluator may resolve a later code first when
     an earlier one depends on it
  4. Round each amount to 2 places, half away from zero
  5. Integrity gate: |earnings + benefits - CTC| must be <= 10

INTEGRITY:
  The gate is a hard failure, never a warning. It catches templates whose
  formulas do not actually exhaust the CTC (a missing balancing component,
  a wrong percentage).
*/
package salary

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/warp/payroll-engine/formula"
	"github.com/warp/payroll-engine/generic"
)

// IntegrityTolerance is the largest accepted absolute difference, in currency
// units, between the resolved total cost and the target CTC.
var IntegrityTolerance = decimal.NewFromInt(10)

// Request describes one salary assignment.
type Request struct {
	ID            string // generated when empty
	TenantID      generic.TenantID
	Owner         generic.Owner
	AnnualCTC     decimal.Decimal
	EffectiveDate time.Time
	CreatedAt     time.Time // defaults to EffectiveDate
}

// IntegrityError reports components that do not add up to the CTC.
type IntegrityError struct {
	Total      decimal.Decimal
	CTC        decimal.Decimal
	Difference decimal.Decimal
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("salary integrity error: components total %s but target CTC is %s (difference %s exceeds %s)",
		e.Total.StringFixed(2), e.CTC.StringFixed(2), e.Difference.StringFixed(2), IntegrityTolerance)
}

func (e *IntegrityError) Unwrap() error { return generic.ErrIntegrity }

// Preview resolves a template for a CTC without an owner. Use it for
// "what would this look like" screens.
func Preview(t *Template, annualCTC decimal.Decimal) (Breakdown, error) {
	if !annualCTC.IsPositive() {
		return Breakdown{}, generic.Invalid("ctc", "annual CTC must be a positive number")
	}
	if err := t.Validate(); err != nil {
		return Breakdown{}, err
	}

	table, err := t.FormulaTable(annualCTC)
	if err != nil {
		return Breakdown{}, err
	}
	engine := formula.New(table)
	ctx := formula.Context{CTCVariable: annualCTC.InexactFloat64()}

	b := Breakdown{CTC: annualCTC}
	for _, d := range t.definitions() {
		value, err := engine.Evaluate(d.Code, ctx)
		if err != nil {
			return Breakdown{}, &generic.ResolutionError{Component: d.Code, Err: err}
		}
		src, _ := engine.Formula(d.Code)
		c := Component{
			Name:    d.Name,
			Code:    d.Code,
			Formula: src,
			Amount:  generic.RoundCurrency(decimal.NewFromFloat(value)),
		}
		switch d.Kind {
		case KindEarning:
			b.Earnings = append(b.Earnings, c)
		case KindBenefit:
			b.Benefits = append(b.Benefits, c)
		case KindDeduction:
			b.Deductions = append(b.Deductions, c)
		}
	}

	if err := CheckIntegrity(b); err != nil {
		return Breakdown{}, err
	}
	return b, nil
}

// CheckIntegrity enforces earnings + benefits == CTC within IntegrityTolerance.
func CheckIntegrity(b Breakdown) error {
	total := b.TotalCost()
	diff := total.Sub(b.CTC).Abs()
	if diff.GreaterThan(IntegrityTolerance) {
		return &IntegrityError{Total: total, CTC: b.CTC, Difference: diff}
	}
	return nil
}

// Resolve produces a new immutable Snapshot for req. It does not persist.
func Resolve(t *Template, req Request) (*Snapshot, error) {
	if req.TenantID == "" {
		return nil, generic.Invalid("tenant", "tenant id is required")
	}
	if err := req.Owner.Validate(); err != nil {
		return nil, err
	}
	if req.EffectiveDate.IsZero() {
		return nil, generic.Invalid("effective_date", "effective date is required")
	}

	b, err := Preview(t, req.AnnualCTC)
	if err != nil {
		return nil, err
	}

	id := req.ID
	if id == "" {
		id = uuid.NewString()
	}
	createdAt := req.CreatedAt
	if createdAt.IsZero() {
		createdAt = req.EffectiveDate
	}
	return &Snapshot{
		id:            id,
		tenantID:      req.TenantID,
		owner:         req.Owner,
		templateID:    t.ID,
		breakdown:     b,
		effectiveDate: req.EffectiveDate,
		createdAt:     createdAt,
	}, nil
}
