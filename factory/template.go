/*
Package factory converts salary template documents into salary.Template.

PURPOSE:
  Templates are authored by HR, not developers. The factory accepts them as
  JSON (the API body) or YAML (seed files), applies defaults, validates
  them, and produces salary.Template values.

DOCUMENT SCHEMA (JSON):
  {
    "id": "tpl-standard",
    "name": "Standard",
    "version": 1,
    "earnings": [
      {"name": "Basic", "formula": "CTC * 0.5"},
      {"name": "HRA", "formula": "BASIC * 0.4"},
      {"name": "Special Allowance", "code": "SPECIAL", "formula": "CTC - BASIC - HRA - PF_EMPLOYER"}
    ],
    "employerDeductions": [
      {"name": "PF Employer", "formula": "Math.min(BASIC, 15000 * 12) * 0.12"}
    ],
    "employeeDeductions": [
      {"name": "Professional Tax", "monthlyAmount": 200}
    ]
  }

  YAML uses the same fields in snake_case (employer_deductions,
  annual_amount, ...). Amounts may be numbers or strings.

DEFAULTS:
  - id:      random UUID
  - version: 1
  - code:    derived from name (salary.DeriveCode)

SEE ALSO:
  - salary/template.go: Template type and validation
  - factory/seed.go: Seed file loading
*/
package factory

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/warp/payroll-engine/generic"
	"github.com/warp/payroll-engine/salary"
)

// =============================================================================
// DOCUMENT TYPES
// =============================================================================

// TemplateDocument is the serialized form of a salary template.
type TemplateDocument struct {
	ID                 string              `json:"id,omitempty" yaml:"id,omitempty"`
	TenantID           string              `json:"tenantId,omitempty" yaml:"tenant_id,omitempty"`
	Name               string              `json:"name" yaml:"name"`
	Version            int                 `json:"version,omitempty" yaml:"version,omitempty"`
	Earnings           []ComponentDocument `json:"earnings" yaml:"earnings"`
	EmployerDeductions []ComponentDocument `json:"employerDeductions,omitempty" yaml:"employer_deductions,omitempty"`
	EmployeeDeductions []ComponentDocument `json:"employeeDeductions,omitempty" yaml:"employee_deductions,omitempty"`
}

type ComponentDocument struct {
	Name          string  `json:"name" yaml:"name"`
	Code          string  `json:"code,omitempty" yaml:"code,omitempty"`
	Formula       string  `json:"formula,omitempty" yaml:"formula,omitempty"`
	AnnualAmount  *Amount `json:"annualAmount,omitempty" yaml:"annual_amount,omitempty"`
	MonthlyAmount *Amount `json:"monthlyAmount,omitempty" yaml:"monthly_amount,omitempty"`
}

// Amount is a decimal that decodes from a JSON or YAML number or string.
type Amount struct {
	decimal.Decimal
}

func (a *Amount) UnmarshalYAML(node *yaml.Node) error {
	d, err := decimal.NewFromString(strings.TrimSpace(node.Value))
	if err != nil {
		return fmt.Errorf("line %d: %q is not an amount", node.Line, node.Value)
	}
	a.Decimal = d
	return nil
}

func (a Amount) MarshalYAML() (any, error) {
	return a.String(), nil
}

// =============================================================================
// TEMPLATE FACTORY
// =============================================================================

// TemplateFactory converts documents to templates for one tenant.
type TemplateFactory struct {
	TenantID generic.TenantID
}

func NewTemplateFactory(tenantID generic.TenantID) *TemplateFactory {
	return &TemplateFactory{TenantID: tenantID}
}

// ParseTemplate parses a JSON document.
func (f *TemplateFactory) ParseTemplate(jsonStr string) (*salary.Template, error) {
	var doc TemplateDocument
	if err := json.Unmarshal([]byte(jsonStr), &doc); err != nil {
		return nil, generic.Invalid("template", fmt.Sprintf("failed to parse template JSON: %v", err))
	}
	return f.FromDocument(doc)
}

// ParseTemplateYAML parses a YAML document.
func (f *TemplateFactory) ParseTemplateYAML(yamlStr string) (*salary.Template, error) {
	var doc TemplateDocument
	if err := yaml.Unmarshal([]byte(yamlStr), &doc); err != nil {
		return nil, generic.Invalid("template", fmt.Sprintf("failed to parse template YAML: %v", err))
	}
	return f.FromDocument(doc)
}

// FromDocument applies defaults and validates. A tenant in the document must
// match the factory's tenant.
func (f *TemplateFactory) FromDocument(doc TemplateDocument) (*salary.Template, error) {
	if doc.TenantID != "" && f.TenantID != "" && generic.TenantID(doc.TenantID) != f.TenantID {
		return nil, generic.Invalid("template", fmt.Sprintf("document belongs to tenant %q", doc.TenantID))
	}
	if strings.TrimSpace(doc.Name) == "" {
		return nil, generic.Invalid("template", "name is required")
	}

	t := &salary.Template{
		ID:                 doc.ID,
		TenantID:           f.TenantID,
		Name:               strings.TrimSpace(doc.Name),
		Version:            doc.Version,
		Earnings:           components(doc.Earnings),
		EmployerDeductions: components(doc.EmployerDeductions),
		EmployeeDeductions: components(doc.EmployeeDeductions),
	}
	if t.TenantID == "" {
		t.TenantID = generic.TenantID(doc.TenantID)
	}
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.Version == 0 {
		t.Version = 1
	}

	if err := t.Validate(); err != nil {
		return nil, err
	}
	return t, nil
}

// ToDocument converts a template back to its document form.
func (f *TemplateFactory) ToDocument(t *salary.Template) TemplateDocument {
	return TemplateDocument{
		ID:                 t.ID,
		TenantID:           string(t.TenantID),
		Name:               t.Name,
		Version:            t.Version,
		Earnings:           documents(t.Earnings),
		EmployerDeductions: documents(t.EmployerDeductions),
		EmployeeDeductions: documents(t.EmployeeDeductions),
	}
}

// =============================================================================
// CONVERSION HELPERS
// =============================================================================

func components(docs []ComponentDocument) []salary.ComponentDefinition {
	out := make([]salary.ComponentDefinition, 0, len(docs))
	for _, d := range docs {
		c := salary.ComponentDefinition{
			Name:    strings.TrimSpace(d.Name),
			Code:    strings.TrimSpace(d.Code),
			Formula: strings.TrimSpace(d.Formula),
		}
		if d.AnnualAmount != nil {
			v := d.AnnualAmount.Decimal
			c.AnnualAmount = &v
		}
		if d.MonthlyAmount != nil {
			v := d.MonthlyAmount.Decimal
			c.MonthlyAmount = &v
		}
		out = append(out, c)
	}
	return out
}

func documents(defs []salary.ComponentDefinition) []ComponentDocument {
	out := make([]ComponentDocument, 0, len(defs))
	for _, c := range defs {
		d := ComponentDocument{Name: c.Name, Code: c.Code, Formula: c.Formula}
		if c.AnnualAmount != nil {
			d.AnnualAmount = &Amount{*c.AnnualAmount}
		}
		if c.MonthlyAmount != nil {
			d.MonthlyAmount = &Amount{*c.MonthlyAmount}
		}
		out = append(out, d)
	}
	return out
}

// =============================================================================
// PRESET TEMPLATES
// =============================================================================

// StandardTemplateJSON is a CTC-exhausting structure: Basic is half the CTC,
// HRA 40% of Basic, PF capped at a 15000 monthly wage, and a special
// allowance balancing the rest.
func StandardTemplateJSON(id, name string) string {
	return fmt.Sprintf(`{
  "id": %q,
  "name": %q,
  "version": 1,
  "earnings": [
    {"name": "Basic", "formula": "CTC * 0.5"},
    {"name": "HRA", "formula": "BASIC * 0.4"},
    {"name": "Special Allowance", "code": "SPECIAL", "formula": "CTC - BASIC - HRA - PF_EMPLOYER"}
  ],
  "employerDeductions": [
    {"name": "PF Employer", "formula": "min(BASIC, 15000 * 12) * 0.12"}
  ],
  "employeeDeductions": [
    {"name": "PF Employee", "formula": "min(BASIC, 15000 * 12) * 0.12"},
    {"name": "Professional Tax", "code": "PT", "monthlyAmount": 200}
  ]
}`, id, name)
}

// FlatTemplateJSON has no statutory deductions: Basic plus an allowance.
func FlatTemplateJSON(id, name string, basicShare float64) string {
	return fmt.Sprintf(`{
  "id": %q,
  "name": %q,
  "version": 1,
  "earnings": [
    {"name": "Basic", "formula": "CTC * %g"},
    {"name": "Allowance", "formula": "CTC - BASIC"}
  ]
}`, id, name, basicShare)
}
