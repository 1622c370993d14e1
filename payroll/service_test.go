package payroll_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/payroll-engine/attendance"
	"github.com/warp/payroll-engine/generic"
	"github.com/warp/payroll-engine/payroll"
	"github.com/warp/payroll-engine/salary"
	"github.com/warp/payroll-engine/store/memory"
)

const tenant generic.TenantID = "acme"

var (
	jan = generic.MustParsePeriod("2024-01")
	feb = generic.MustParsePeriod("2024-02")
)

type fixture struct {
	store      *memory.Store
	salaries   *salary.Service
	attendance *attendance.Service
	payroll    *payroll.Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := memory.New()
	f := &fixture{
		store:      store,
		salaries:   salary.NewService(store, nil),
		attendance: attendance.NewService(store, store, store, nil),
		payroll:    payroll.NewService(store, store, store, store, nil),
	}
	f.attendance.Locks = f.payroll
	clock := generic.FixedClock{At: time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)}
	f.salaries.Clock, f.attendance.Clock, f.payroll.Clock = clock, clock, clock
	return f
}

func (f *fixture) employee(t *testing.T, id generic.EmployeeID) {
	t.Helper()
	require.NoError(t, f.store.SaveEmployee(context.Background(), generic.Employee{
		ID: id, TenantID: tenant, Name: string(id), Status: generic.EmployeeActive,
	}))
}

func (f *fixture) assign(t *testing.T, id generic.EmployeeID, ctc int64, effective time.Time) {
	t.Helper()
	tmpl := &salary.Template{
		ID:   "tpl",
		Name: "Flat",
		Earnings: []salary.ComponentDefinition{
			{Name: "Basic", Formula: "CTC * 0.6"},
			{Name: "Allowance", Formula: "CTC - BASIC"},
		},
		EmployeeDeductions: []salary.ComponentDefinition{
			{Name: "Tax", Formula: "BASIC * 0.1"},
		},
	}
	_, err := f.salaries.Assign(context.Background(), tmpl, salary.Request{
		TenantID:      tenant,
		Owner:         generic.EmployeeOwner(id),
		AnnualCTC:     decimal.NewFromInt(ctc),
		EffectiveDate: effective,
	})
	require.NoError(t, err)
}

func (f *fixture) attend(t *testing.T, id generic.EmployeeID, period generic.Period, present int) {
	t.Helper()
	var records []attendance.DailyRecord
	for d := 1; d <= present; d++ {
		records = append(records, attendance.DailyRecord{
			EmployeeID: id,
			Date:       time.Date(period.Year, period.Month, d, 0, 0, 0, 0, time.UTC),
			Status:     attendance.StatusPresent,
		})
	}
	require.NoError(t, f.store.UpsertDailyRecords(context.Background(), tenant, records))
}

func TestRun_EndToEnd(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	// GIVEN: e1 fully attended, e2 without salary, e3 without frozen attendance
	f.employee(t, "e1")
	f.employee(t, "e2")
	f.employee(t, "e3")
	f.assign(t, "e1", 1200000, time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC))
	f.assign(t, "e3", 1200000, time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC))
	f.attend(t, "e1", jan, 31)
	f.attend(t, "e2", jan, 31)
	_, err := f.attendance.FreezeEmployee(ctx, tenant, "e1", jan)
	require.NoError(t, err)
	_, err = f.attendance.FreezeEmployee(ctx, tenant, "e2", jan)
	require.NoError(t, err)

	// WHEN
	out, err := f.payroll.Run(ctx, tenant, jan)

	// THEN
	require.NoError(t, err)
	assert.Empty(t, out.Failed)
	assert.ElementsMatch(t, []payroll.SkippedEmployee{
		{EmployeeID: "e2", Reason: payroll.SkipNoSalary},
		{EmployeeID: "e3", Reason: payroll.SkipNoAttendance},
	}, out.Skipped)

	items := out.Run.Items()
	require.Len(t, items, 1)
	assert.Equal(t, "100000.00", items[0].GrossEarnings.StringFixed(2))
	assert.Equal(t, "6000.00", items[0].TotalDeductions.StringFixed(2))
	assert.Equal(t, "94000.00", items[0].NetPay.StringFixed(2))

	latest, err := f.payroll.Latest(ctx, tenant, jan)
	require.NoError(t, err)
	assert.Equal(t, out.Run.ID(), latest.ID())
}

func TestRun_UsesSalaryEffectiveByPeriodEnd(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.employee(t, "e1")

	// GIVEN: a raise effective on the last day of January and one in February
	f.assign(t, "e1", 1200000, time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC))
	f.assign(t, "e1", 2400000, time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC))
	f.assign(t, "e1", 3600000, time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC))
	f.attend(t, "e1", jan, 31)
	_, err := f.attendance.Freeze(ctx, tenant, jan)
	require.NoError(t, err)

	// WHEN
	out, err := f.payroll.Run(ctx, tenant, jan)

	// THEN: the January 31 snapshot is used
	require.NoError(t, err)
	assert.Equal(t, "200000.00", out.Run.Items()[0].GrossEarnings.StringFixed(2))
}

func TestRun_RerunPolicy(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.employee(t, "e1")
	f.assign(t, "e1", 1200000, time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC))
	f.attend(t, "e1", jan, 31)
	_, err := f.attendance.Freeze(ctx, tenant, jan)
	require.NoError(t, err)

	first, err := f.payroll.Run(ctx, tenant, jan)
	require.NoError(t, err)

	// WHEN: rerun under the default policy
	_, err = f.payroll.Run(ctx, tenant, jan)

	// THEN: rejected as a conflict
	assert.ErrorIs(t, err, payroll.ErrRunLocked)
	assert.True(t, generic.IsConflict(err))

	// WHEN: rerun with new_version
	f.payroll.Policy = payroll.RerunNewVersion
	second, err := f.payroll.Run(ctx, tenant, jan)

	// THEN: version 2, version 1 untouched
	require.NoError(t, err)
	assert.Equal(t, 2, second.Run.Version())
	latest, err := f.payroll.Latest(ctx, tenant, jan)
	require.NoError(t, err)
	assert.Equal(t, second.Run.ID(), latest.ID())
	runs, err := f.store.ListPayrollRuns(ctx, tenant)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, first.Run.ID(), runs[1].ID())
}

func TestRun_LocksAttendance(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.employee(t, "e1")
	f.assign(t, "e1", 1200000, time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC))
	f.attend(t, "e1", jan, 31)
	_, err := f.attendance.Freeze(ctx, tenant, jan)
	require.NoError(t, err)

	_, err = f.payroll.Run(ctx, tenant, jan)
	require.NoError(t, err)

	// WHEN: attendance is frozen again after payroll ran
	_, err = f.attendance.Freeze(ctx, tenant, jan)

	// THEN
	assert.ErrorIs(t, err, generic.ErrPeriodLocked)
}

func TestRun_NobodyEligible(t *testing.T) {
	f := newFixture(t)
	f.employee(t, "e1")

	out, err := f.payroll.Run(context.Background(), tenant, jan)

	assert.ErrorIs(t, err, generic.ErrValidation)
	require.Len(t, out.Skipped, 1)
	assert.Equal(t, payroll.SkipNoSalary, out.Skipped[0].Reason)
}

func TestPayslips(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.employee(t, "e1")
	f.employee(t, "e2")
	f.assign(t, "e1", 1200000, time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC))
	f.assign(t, "e2", 600000, time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC))
	for _, p := range []generic.Period{jan, feb} {
		f.attend(t, "e1", p, p.TotalDays())
		f.attend(t, "e2", p, p.TotalDays())
		_, err := f.attendance.Freeze(ctx, tenant, p)
		require.NoError(t, err)
		_, err = f.payroll.Run(ctx, tenant, p)
		require.NoError(t, err)
	}

	// WHEN
	slip, err := f.payroll.Payslip(ctx, tenant, "e2", feb)

	// THEN
	require.NoError(t, err)
	assert.Equal(t, feb, slip.Period)
	assert.Equal(t, generic.EmployeeID("e2"), slip.EmployeeID)
	assert.Equal(t, "50000.00", slip.GrossEarnings.StringFixed(2))

	slips, err := f.payroll.Payslips(ctx, tenant, "e1")
	require.NoError(t, err)
	require.Len(t, slips, 2)
	assert.Equal(t, feb, slips[0].Period, "newest first")
	assert.Equal(t, jan, slips[1].Period)

	_, err = f.payroll.Payslip(ctx, tenant, "nobody", feb)
	assert.ErrorIs(t, err, generic.ErrNotFound)
	_, err = f.payroll.Payslip(ctx, tenant, "e1", generic.MustParsePeriod("2023-12"))
	assert.ErrorIs(t, err, generic.ErrNotFound)
}

func TestParseRerunPolicy(t *testing.T) {
	p, err := payroll.ParseRerunPolicy("")
	require.NoError(t, err)
	assert.Equal(t, payroll.RerunReject, p)

	p, err = payroll.ParseRerunPolicy(" NEW_VERSION ")
	require.NoError(t, err)
	assert.Equal(t, payroll.RerunNewVersion, p)

	_, err = payroll.ParseRerunPolicy("overwrite")
	assert.ErrorIs(t, err, generic.ErrValidation)
}
