// Package salary resolves salary templates into immutable salary snapshots.
package salary

import (
	"fmt"
	"regexp"
	"slices"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/warp/payroll-engine/generic"
)

// CTCVariable is the reserved variable every template formula may reference.
const CTCVariable = "CTC"

// Kind is the list a component belongs to.
type Kind string

const (
	KindEarning   Kind = "earning"
	KindBenefit   Kind = "benefit"   // employer deduction: employer cost, part of CTC
	KindDeduction Kind = "deduction" // employee deduction: withheld from pay
)

// ComponentDefinition is one line of a template. The amount comes from, in
// order of precedence: Formula, AnnualAmount, MonthlyAmount*12.
type ComponentDefinition struct {
	Name          string           `json:"name"`
	Code          string           `json:"code,omitempty"`
	Formula       string           `json:"formula,omitempty"`
	AnnualAmount  *decimal.Decimal `json:"annualAmount,omitempty"`
	MonthlyAmount *decimal.Decimal `json:"monthlyAmount,omitempty"`
}

// Template is a named, versioned salary structure of a tenant.
type Template struct {
	ID                 string                `json:"id"`
	TenantID           generic.TenantID      `json:"tenantId"`
	Name               string                `json:"name"`
	Version            int                   `json:"version"`
	Earnings           []ComponentDefinition `json:"earnings"`
	EmployerDeductions []ComponentDefinition `json:"employerDeductions"`
	EmployeeDeductions []ComponentDefinition `json:"employeeDeductions"`
}

// Clone copies the component lists so the copy can be stored or handed out.
func (t *Template) Clone() *Template {
	c := *t
	c.Earnings = slices.Clone(t.Earnings)
	c.EmployerDeductions = slices.Clone(t.EmployerDeductions)
	c.EmployeeDeductions = slices.Clone(t.EmployeeDeductions)
	return &c
}

var whitespace = regexp.MustCompile(`\s+`)

// DeriveCode turns a display name into a component code: "House Rent
// Allowance" -> "HOUSE_RENT_ALLOWANCE". Leading and trailing space is dropped.
func DeriveCode(name string) string {
	return whitespace.ReplaceAllString(strings.ToUpper(strings.TrimSpace(name)), "_")
}

// ResolvedCode is the explicit code if set, else the code derived from Name.
func (c ComponentDefinition) ResolvedCode() string {
	if code := strings.TrimSpace(c.Code); code != "" {
		return code
	}
	return DeriveCode(c.Name)
}

// Expression is the formula the evaluator runs for this component. Flat
// amounts become numeric literals.
func (c ComponentDefinition) Expression() (string, error) {
	switch {
	case strings.TrimSpace(c.Formula) != "":
		return strings.TrimSpace(c.Formula), nil
	case c.AnnualAmount != nil:
		return c.AnnualAmount.String(), nil
	case c.MonthlyAmount != nil:
		return c.MonthlyAmount.Mul(generic.MonthsPerYear).String(), nil
	default:
		return "", fmt.Errorf("component %q has no formula or amount", c.Name)
	}
}

type definition struct {
	ComponentDefinition
	Kind Kind
	Code string
}

// definitions flattens the three lists in evaluation order: earnings,
// employer deductions, employee deductions.
func (t *Template) definitions() []definition {
	defs := make([]definition, 0, len(t.Earnings)+len(t.EmployerDeductions)+len(t.EmployeeDeductions))
	add := func(kind Kind, list []ComponentDefinition) {
		for _, c := range list {
			defs = append(defs, definition{ComponentDefinition: c, Kind: kind, Code: c.ResolvedCode()})
		}
	}
	add(KindEarning, t.Earnings)
	add(KindBenefit, t.EmployerDeductions)
	add(KindDeduction, t.EmployeeDeductions)
	return defs
}

// Validate checks that codes are unique across all three lists and not
// reserved, and that every component has an amount. Codes that are not plain
// identifiers, e.g. "MEDICAL_ALLOWANCE_(FIXED)", are referenced from other
// formulas in brackets: [MEDICAL_ALLOWANCE_(FIXED)].
func (t *Template) Validate() error {
	if t == nil {
		return generic.Invalid("template", "template is required")
	}
	if len(t.Earnings) == 0 {
		return generic.Invalid("template", "at least one earning is required")
	}
	seen := make(map[string]Kind)
	for _, d := range t.definitions() {
		switch {
		case d.Code == "":
			return generic.Invalid("template", fmt.Sprintf("%s component without name or code", d.Kind))
		case d.Code == CTCVariable:
			return generic.Invalid("template", fmt.Sprintf("component code %q is reserved", d.Code))
		}
		if prev, dup := seen[d.Code]; dup {
			return generic.Invalid("template", fmt.Sprintf("component code %q used by both %s and %s", d.Code, prev, d.Kind))
		}
		seen[d.Code] = d.Kind
		if _, err := d.Expression(); err != nil {
			return generic.Invalid("template", err.Error())
		}
	}
	return nil
}

// FormulaTable maps every component code to its expression, plus the CTC
// literal.
func (t *Template) FormulaTable(ctc decimal.Decimal) (map[string]string, error) {
	table := map[string]string{CTCVariable: ctc.String()}
	for _, d := range t.definitions() {
		expr, err := d.Expression()
		if err != nil {
			return nil, generic.Invalid("template", err.Error())
		}
		table[d.Code] = expr
	}
	return table, nil
}
