package factory_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/payroll-engine/factory"
	"github.com/warp/payroll-engine/generic"
	"github.com/warp/payroll-engine/salary"
	"github.com/warp/payroll-engine/store/memory"
)

const tenant generic.TenantID = "acme"

func TestParseTemplate_StandardPreset(t *testing.T) {
	f := factory.NewTemplateFactory(tenant)

	tmpl, err := f.ParseTemplate(factory.StandardTemplateJSON("tpl-std", "Standard"))
	require.NoError(t, err)

	assert.Equal(t, "tpl-std", tmpl.ID)
	assert.Equal(t, tenant, tmpl.TenantID)
	assert.Equal(t, 1, tmpl.Version)
	require.Len(t, tmpl.Earnings, 3)
	assert.Equal(t, "SPECIAL", tmpl.Earnings[2].ResolvedCode())
	require.Len(t, tmpl.EmployeeDeductions, 2)
	require.NotNil(t, tmpl.EmployeeDeductions[1].MonthlyAmount)
	assert.Equal(t, "200", tmpl.EmployeeDeductions[1].MonthlyAmount.String())

	// The preset exhausts the CTC
	b, err := salary.Preview(tmpl, decimal.NewFromInt(1200000))
	require.NoError(t, err)
	assert.True(t, b.TotalCost().Equal(decimal.NewFromInt(1200000)), b.TotalCost().String())
}

func TestParseTemplate_Defaults(t *testing.T) {
	f := factory.NewTemplateFactory(tenant)

	tmpl, err := f.ParseTemplate(`{"name": " Flat ", "earnings": [{"name": "Basic", "formula": "CTC"}]}`)
	require.NoError(t, err)

	assert.NotEmpty(t, tmpl.ID, "id is generated")
	assert.Equal(t, "Flat", tmpl.Name)
	assert.Equal(t, 1, tmpl.Version)
}

func TestParseTemplate_Rejects(t *testing.T) {
	f := factory.NewTemplateFactory(tenant)

	tests := []struct {
		name string
		json string
	}{
		{"malformed", `{"name": `},
		{"no name", `{"earnings": [{"name": "Basic", "formula": "CTC"}]}`},
		{"no earnings", `{"name": "Empty", "earnings": []}`},
		{"other tenant", `{"tenantId": "globex", "name": "X", "earnings": [{"name": "Basic", "formula": "CTC"}]}`},
		{"duplicate code", `{"name": "X", "earnings": [{"name": "Basic", "formula": "CTC"}, {"name": "basic", "formula": "0"}]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.ParseTemplate(tt.json)
			assert.ErrorIs(t, err, generic.ErrValidation)
		})
	}
}

func TestParseTemplateYAML(t *testing.T) {
	f := factory.NewTemplateFactory(tenant)

	tmpl, err := f.ParseTemplateYAML(`
name: Consultant
version: 3
earnings:
  - name: Retainer
    formula: CTC - INSURANCE
employer_deductions:
  - name: Insurance
    annual_amount: "12000.50"
employee_deductions:
  - name: TDS
    code: TDS
    monthly_amount: 1000
`)
	require.NoError(t, err)

	assert.Equal(t, 3, tmpl.Version)
	require.Len(t, tmpl.EmployerDeductions, 1)
	assert.Equal(t, "12000.5", tmpl.EmployerDeductions[0].AnnualAmount.String())
	assert.Equal(t, "1000", tmpl.EmployeeDeductions[0].MonthlyAmount.String())

	_, err = f.ParseTemplateYAML("name: X\nearnings:\n  - name: A\n    annual_amount: lots\n")
	assert.ErrorIs(t, err, generic.ErrValidation)
}

func TestToDocument_RoundTrip(t *testing.T) {
	f := factory.NewTemplateFactory(tenant)
	tmpl, err := f.ParseTemplate(factory.StandardTemplateJSON("tpl-std", "Standard"))
	require.NoError(t, err)

	again, err := f.FromDocument(f.ToDocument(tmpl))
	require.NoError(t, err)
	assert.Equal(t, tmpl, again)
}

const seedYAML = `
employees:
  - tenant_id: acme
    id: e-1
    name: Asha Rao
    hire_date: 2023-04-01
  - tenant_id: acme
    id: e-2
    name: Ben Ode
    status: inactive
templates:
  - tenant_id: acme
    id: tpl-flat
    name: Flat
    earnings:
      - {name: Basic, formula: CTC * 0.6}
      - {name: Allowance, formula: CTC - BASIC}
`

func TestSeed_ApplyIsRepeatable(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "seed.yaml")
	require.NoError(t, os.WriteFile(path, []byte(seedYAML), 0o600))

	seed, err := factory.LoadSeedFile(path)
	require.NoError(t, err)
	store := memory.New()

	// WHEN: applied twice
	res, err := seed.Apply(ctx, store, store)
	require.NoError(t, err)
	assert.Equal(t, factory.SeedResult{Employees: 2, Templates: 1}, res)

	res, err = seed.Apply(ctx, store, store)
	require.NoError(t, err)
	assert.Equal(t, factory.SeedResult{Employees: 2, Existing: 1}, res)

	// THEN: one template, one active employee
	templates, err := store.ListTemplates(ctx, tenant)
	require.NoError(t, err)
	assert.Len(t, templates, 1)

	active, err := store.ActiveEmployees(ctx, tenant)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, 2023, active[0].HireDate.Year())
}

func TestSeed_Rejects(t *testing.T) {
	ctx := context.Background()

	seed, err := factory.ParseSeed([]byte("employees:\n  - {tenant_id: acme, id: e-1, hire_date: yesterday}\n"))
	require.NoError(t, err)
	_, err = seed.Apply(ctx, memory.New(), memory.New())
	assert.ErrorIs(t, err, generic.ErrValidation)

	seed, err = factory.ParseSeed([]byte("templates:\n  - {name: X, earnings: [{name: A, formula: CTC}]}\n"))
	require.NoError(t, err)
	_, err = seed.Apply(ctx, memory.New(), memory.New())
	assert.ErrorIs(t, err, generic.ErrValidation)

	_, err = factory.LoadSeedFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
