package factory

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/warp/payroll-engine/generic"
	"github.com/warp/payroll-engine/salary"
)

// Seed is the content of a seed file: templates and employees loaded at
// startup.
//
//	employees:
//	  - tenant_id: acme
//	    id: e-100
//	    name: Asha Rao
//	    hire_date: 2023-04-01
//	templates:
//	  - tenant_id: acme
//	    id: tpl-standard
//	    name: Standard
//	    earnings:
//	      - {name: Basic, formula: CTC * 0.5}
type Seed struct {
	Employees []EmployeeDocument `yaml:"employees"`
	Templates []TemplateDocument `yaml:"templates"`
}

type EmployeeDocument struct {
	TenantID string `yaml:"tenant_id"`
	ID       string `yaml:"id"`
	Name     string `yaml:"name"`
	Email    string `yaml:"email,omitempty"`
	Status   string `yaml:"status,omitempty"` // default active
	HireDate string `yaml:"hire_date,omitempty"`
}

// LoadSeedFile reads and parses a YAML seed file.
func LoadSeedFile(path string) (*Seed, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read seed file: %w", err)
	}
	return ParseSeed(b)
}

func ParseSeed(b []byte) (*Seed, error) {
	var s Seed
	if err := yaml.Unmarshal(b, &s); err != nil {
		return nil, fmt.Errorf("failed to parse seed file: %w", err)
	}
	return &s, nil
}

// SeedResult counts what Apply wrote.
type SeedResult struct {
	Employees int
	Templates int
	Existing  int // templates already present
}

// Apply writes the seed. Templates that already exist are left alone, so
// applying the same seed on every start is safe.
func (s *Seed) Apply(ctx context.Context, employees generic.EmployeeStore, templates salary.TemplateStore) (SeedResult, error) {
	var res SeedResult

	for _, ed := range s.Employees {
		e, err := ed.employee()
		if err != nil {
			return res, err
		}
		if err := employees.SaveEmployee(ctx, e); err != nil {
			return res, fmt.Errorf("seed employee %s: %w", e.ID, err)
		}
		res.Employees++
	}

	for _, td := range s.Templates {
		if td.TenantID == "" {
			return res, generic.Invalid("template", fmt.Sprintf("seed template %q has no tenant_id", td.Name))
		}
		t, err := NewTemplateFactory(generic.TenantID(td.TenantID)).FromDocument(td)
		if err != nil {
			return res, fmt.Errorf("seed template %q: %w", td.Name, err)
		}
		err = templates.CreateTemplate(ctx, t)
		if errors.Is(err, generic.ErrConflict) {
			res.Existing++
			continue
		}
		if err != nil {
			return res, fmt.Errorf("seed template %q: %w", td.Name, err)
		}
		res.Templates++
	}
	return res, nil
}

func (d EmployeeDocument) employee() (generic.Employee, error) {
	e := generic.Employee{
		ID:       generic.EmployeeID(d.ID),
		TenantID: generic.TenantID(d.TenantID),
		Name:     d.Name,
		Email:    d.Email,
		Status:   generic.EmployeeStatus(d.Status),
	}
	if e.Status == "" {
		e.Status = generic.EmployeeActive
	}
	if d.HireDate != "" {
		hire, err := time.Parse(time.DateOnly, d.HireDate)
		if err != nil {
			return e, generic.Invalid("hire_date", fmt.Sprintf("employee %s: %v", d.ID, err))
		}
		e.HireDate = hire
	}
	return e, e.Validate()
}
