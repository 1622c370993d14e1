package payroll

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/payroll-engine/attendance"
	"github.com/warp/payroll-engine/generic"
	"github.com/warp/payroll-engine/salary"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

const testTenant generic.TenantID = "acme"

var jan = generic.MustParsePeriod("2024-01")

func standardTemplate() *salary.Template {
	return &salary.Template{
		ID:   "tpl-standard",
		Name: "Standard",
		Earnings: []salary.ComponentDefinition{
			{Name: "Basic", Formula: "CTC * 0.5"},
			{Name: "HRA", Formula: "BASIC * 0.4"},
			{Name: "Special Allowance", Code: "SPECIAL", Formula: "CTC - BASIC - HRA - PF_EMPLOYER"},
		},
		EmployerDeductions: []salary.ComponentDefinition{
			{Name: "PF Employer", Formula: "Math.min(BASIC, 15000 * 12) * 0.12"},
		},
		EmployeeDeductions: []salary.ComponentDefinition{
			{Name: "PF Employee", Formula: "min(BASIC, 15000 * 12) * 0.12"},
		},
	}
}

func salarySnapshot(t *testing.T, employee generic.EmployeeID, ctc int64) *salary.Snapshot {
	t.Helper()
	snap, err := salary.Resolve(standardTemplate(), salary.Request{
		ID:            "sal-" + string(employee),
		TenantID:      testTenant,
		Owner:         generic.EmployeeOwner(employee),
		AnnualCTC:     decimal.NewFromInt(ctc),
		EffectiveDate: time.Date(2023, 4, 1, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	return snap
}

type counts struct{ present, halfDays, absent, leave, holidays, weeklyOffs int }

func attendanceSnapshot(t *testing.T, employee generic.EmployeeID, period generic.Period, c counts) *attendance.Snapshot {
	t.Helper()
	var records []attendance.DailyRecord
	d := 1
	add := func(status attendance.Status, n int) {
		for i := 0; i < n; i++ {
			records = append(records, attendance.DailyRecord{
				EmployeeID: employee,
				Date:       time.Date(period.Year, period.Month, d, 0, 0, 0, 0, time.UTC),
				Status:     status,
			})
			d++
		}
	}
	add(attendance.StatusPresent, c.present)
	add(attendance.StatusHalfDay, c.halfDays)
	add(attendance.StatusAbsent, c.absent)
	add(attendance.StatusLeave, c.leave)
	add(attendance.StatusHoliday, c.holidays)
	add(attendance.StatusWeeklyOff, c.weeklyOffs)

	agg, err := attendance.Aggregate(attendance.AggregateInput{
		ID:         "att-" + string(employee),
		TenantID:   testTenant,
		EmployeeID: employee,
		Period:     period,
		Records:    records,
		FrozenAt:   time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	return agg.Snapshot
}

// twentySixOfThirtyOne is 20 present + 2 leave + 2 holidays + 2 weekly offs in January.
var twentySixOfThirtyOne = counts{present: 20, absent: 5, leave: 2, holidays: 2, weeklyOffs: 2}

func monthly(lines []ProratedLine) map[string]string {
	out := make(map[string]string, len(lines))
	for _, l := range lines {
		out[l.Code] = l.Monthly.StringFixed(2)
	}
	return out
}

func runInput(items ...Item) RunInput {
	return RunInput{
		RunID:     "run-1",
		TenantID:  testTenant,
		Period:    jan,
		Items:     items,
		CreatedAt: time.Date(2024, 2, 2, 12, 0, 0, 0, time.UTC),
	}
}

// =============================================================================
// PRORATION
// =============================================================================

func TestResolve_ProratesEveryLine(t *testing.T) {
	// GIVEN: CTC 600000 and 26 paid days of 31
	item := Item{
		EmployeeID: "e1",
		Salary:     salarySnapshot(t, "e1", 600000),
		Attendance: attendanceSnapshot(t, "e1", jan, twentySixOfThirtyOne),
	}

	// WHEN
	out, err := Resolve(runInput(item))

	// THEN
	require.NoError(t, err)
	require.Empty(t, out.Failed)
	items := out.Run.Items()
	require.Len(t, items, 1)
	ri := items[0]

	assert.Equal(t, map[string]string{
		"BASIC":   "20967.74",
		"HRA":     "8387.10",
		"SPECIAL": "11070.97",
	}, monthly(ri.Details.Earnings))
	assert.Equal(t, map[string]string{"PF_EMPLOYEE": "1509.68"}, monthly(ri.Details.Deductions))
	assert.Equal(t, map[string]string{"PF_EMPLOYER": "1509.68"}, monthly(ri.Details.Benefits))

	assert.Equal(t, "40425.81", ri.GrossEarnings.StringFixed(2))
	assert.Equal(t, "1509.68", ri.TotalDeductions.StringFixed(2))
	assert.Equal(t, "38916.13", ri.NetPay.StringFixed(2))

	assert.Equal(t, 31, ri.Details.Attendance.TotalDays)
	assert.True(t, ri.Details.Attendance.PaidDays.Equal(decimal.NewFromInt(26)))
	assert.Equal(t, "0.8387", ri.Details.Attendance.Factor.String())

	assert.Equal(t, "300000.00", ri.Details.Earnings[0].Annual.StringFixed(2), "annual base is kept")
	assert.Equal(t, "sal-e1", ri.SalarySnapshotID)
	assert.Equal(t, "att-e1", ri.AttendanceSnapshotID)
	assert.True(t, out.Run.Locked())
	assert.Equal(t, 1, out.Run.Version())
}

func TestResolve_FullMonthPaysTwelfth(t *testing.T) {
	item := Item{
		EmployeeID: "e1",
		Salary:     salarySnapshot(t, "e1", 600000),
		Attendance: attendanceSnapshot(t, "e1", jan, counts{present: 23, weeklyOffs: 8}),
	}

	out, err := Resolve(runInput(item))

	require.NoError(t, err)
	ri := out.Run.Items()[0]
	assert.Equal(t, "25000.00", monthly(ri.Details.Earnings)["BASIC"])
	assert.Equal(t, "1.0000", ri.Details.Attendance.Factor.StringFixed(4))
}

func TestResolve_HalfDaysCountHalf(t *testing.T) {
	// GIVEN: 30 full present days and one half day in January
	item := Item{
		EmployeeID: "e1",
		Salary:     salarySnapshot(t, "e1", 600000),
		Attendance: attendanceSnapshot(t, "e1", jan, counts{present: 30, halfDays: 1}),
	}

	out, err := Resolve(runInput(item))

	// THEN: 30.5 / 31 of a month; 300000 * 30.5 / 372 = 24596.774...
	require.NoError(t, err)
	ri := out.Run.Items()[0]
	assert.Equal(t, "30.5", ri.Details.Attendance.PaidDays.String())
	assert.Equal(t, "24596.77", monthly(ri.Details.Earnings)["BASIC"])
}

func TestResolve_NetIsGrossMinusDeductions(t *testing.T) {
	var items []Item
	for i, c := range []counts{
		{present: 31},
		{present: 1},
		{halfDays: 3, absent: 28},
		{present: 10, leave: 5, holidays: 1, weeklyOffs: 4, absent: 11},
	} {
		id := generic.EmployeeID(string(rune('a' + i)))
		items = append(items, Item{
			EmployeeID: id,
			Salary:     salarySnapshot(t, id, int64(450000+i*123457)),
			Attendance: attendanceSnapshot(t, id, jan, c),
		})
	}

	out, err := Resolve(runInput(items...))

	require.NoError(t, err)
	for _, ri := range out.Run.Items() {
		assert.True(t, ri.NetPay.Equal(ri.GrossEarnings.Sub(ri.TotalDeductions)), "employee %s", ri.EmployeeID)
		assert.True(t, ri.GrossEarnings.Equal(generic.Sum(linesMonthly(ri.Details.Earnings)...)))
	}
}

func linesMonthly(lines []ProratedLine) []decimal.Decimal {
	out := make([]decimal.Decimal, len(lines))
	for i, l := range lines {
		out[i] = l.Monthly
	}
	return out
}

func TestResolve_IsDeterministic(t *testing.T) {
	item := Item{
		EmployeeID: "e1",
		Salary:     salarySnapshot(t, "e1", 987654),
		Attendance: attendanceSnapshot(t, "e1", jan, twentySixOfThirtyOne),
	}

	first, err := Resolve(runInput(item))
	require.NoError(t, err)
	second, err := Resolve(runInput(item))
	require.NoError(t, err)

	a, err := json.Marshal(first.Run)
	require.NoError(t, err)
	b, err := json.Marshal(second.Run)
	require.NoError(t, err)
	assert.Equal(t, string(a), string(b))
}

// =============================================================================
// FAILURES
// =============================================================================

func TestResolve_ItemFailuresAreIsolated(t *testing.T) {
	feb := generic.MustParsePeriod("2024-02")
	good := Item{EmployeeID: "ok", Salary: salarySnapshot(t, "ok", 600000), Attendance: attendanceSnapshot(t, "ok", jan, twentySixOfThirtyOne)}

	tests := []struct {
		name string
		item Item
		want error
	}{
		{"no salary", Item{EmployeeID: "x", Attendance: attendanceSnapshot(t, "x", jan, counts{})}, ErrMissingSnapshot},
		{"no attendance", Item{EmployeeID: "x", Salary: salarySnapshot(t, "x", 600000)}, ErrMissingSnapshot},
		{"wrong period", Item{EmployeeID: "x", Salary: salarySnapshot(t, "x", 600000), Attendance: attendanceSnapshot(t, "x", feb, counts{})}, ErrSnapshotMismatch},
		{"wrong employee", Item{EmployeeID: "x", Salary: salarySnapshot(t, "y", 600000), Attendance: attendanceSnapshot(t, "x", jan, counts{})}, ErrSnapshotMismatch},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := Resolve(runInput(good, tt.item))

			require.NoError(t, err)
			require.Len(t, out.Run.Items(), 1)
			require.Len(t, out.Failed, 1)
			assert.Equal(t, generic.EmployeeID("x"), out.Failed[0].EmployeeID)
			assert.ErrorIs(t, out.Failed[0].Err, tt.want)
			assert.ErrorIs(t, out.Failed[0].Err, generic.ErrResolution)
		})
	}
}

func TestItemFailure_MarshalJSON(t *testing.T) {
	f := ItemFailure{EmployeeID: "x\x1f", Err: errors.New("tab\there\x01")}

	b, err := json.Marshal([]ItemFailure{f})

	require.NoError(t, err)
	require.True(t, json.Valid(b), string(b))
	assert.JSONEq(t, `[{"employee_id":"x\u001f","error":"tab\there\u0001"}]`, string(b))
}

func TestResolve_ZeroTotalDaysFailsItem(t *testing.T) {
	// GIVEN: a stored snapshot that somehow carries zero total days
	var att attendance.Snapshot
	require.NoError(t, json.Unmarshal([]byte(`{"id":"att-z","tenant_id":"acme","employee_id":"z","period":"2024-01","total_days":0,"present_days":"0"}`), &att))
	item := Item{EmployeeID: "z", Salary: salarySnapshot(t, "z", 600000), Attendance: &att}

	// WHEN
	out, err := Resolve(runInput(item))

	// THEN: no NaN, a resolution error naming the employee
	require.Error(t, err)
	assert.ErrorIs(t, err, generic.ErrResolution)
	assert.ErrorIs(t, err, ErrZeroTotalDays)
	require.Len(t, out.Failed, 1)
	assert.Equal(t, generic.EmployeeID("z"), out.Failed[0].EmployeeID)
}

func TestResolve_OverCountedDaysAreClamped(t *testing.T) {
	// GIVEN: a snapshot reporting more paid days than the month has
	var att attendance.Snapshot
	require.NoError(t, json.Unmarshal([]byte(`{"id":"att-o","tenant_id":"acme","employee_id":"o","period":"2024-01","total_days":31,"present_days":"40"}`), &att))
	item := Item{EmployeeID: "o", Salary: salarySnapshot(t, "o", 600000), Attendance: &att}

	out, err := Resolve(runInput(item))

	require.NoError(t, err)
	ri := out.Run.Items()[0]
	assert.Equal(t, "31", ri.Details.Attendance.PaidDays.String())
	assert.Equal(t, "25000.00", monthly(ri.Details.Earnings)["BASIC"])
}

func TestResolve_Validation(t *testing.T) {
	tests := []struct {
		name string
		in   RunInput
	}{
		{"empty items", RunInput{TenantID: testTenant, Period: jan}},
		{"missing tenant", RunInput{Period: jan, Items: []Item{{}}}},
		{"missing period", RunInput{TenantID: testTenant, Items: []Item{{}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Resolve(tt.in)
			assert.ErrorIs(t, err, generic.ErrValidation)
		})
	}
}

func TestRunSnapshot_ItemsAreCopies(t *testing.T) {
	item := Item{EmployeeID: "e1", Salary: salarySnapshot(t, "e1", 600000), Attendance: attendanceSnapshot(t, "e1", jan, twentySixOfThirtyOne)}
	out, err := Resolve(runInput(item))
	require.NoError(t, err)

	items := out.Run.Items()
	items[0].NetPay = decimal.Zero
	items[0].Details.Earnings[0].Monthly = decimal.Zero

	again, ok := out.Run.Item("e1")
	require.True(t, ok)
	assert.Equal(t, "38916.13", again.NetPay.StringFixed(2))
	assert.Equal(t, "20967.74", again.Details.Earnings[0].Monthly.StringFixed(2))
}

func TestRunSnapshot_JSONRoundTrip(t *testing.T) {
	item := Item{EmployeeID: "e1", Salary: salarySnapshot(t, "e1", 600000), Attendance: attendanceSnapshot(t, "e1", jan, twentySixOfThirtyOne)}
	out, err := Resolve(runInput(item))
	require.NoError(t, err)

	b, err := json.Marshal(out.Run)
	require.NoError(t, err)
	assert.Contains(t, string(b), `"locked":true`)
	assert.Contains(t, string(b), `"period":"2024-01"`)

	var back RunSnapshot
	require.NoError(t, json.Unmarshal(b, &back))
	assert.Equal(t, "run-1", back.ID())
	assert.True(t, back.Locked())
	ri, ok := back.Item("e1")
	require.True(t, ok)
	assert.Equal(t, "38916.13", ri.NetPay.StringFixed(2))
}
