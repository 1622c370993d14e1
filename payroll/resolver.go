/*
Package payroll prorates salary snapshots against frozen attendance.

PURPOSE:
  A payroll run pairs every employee's current salary snapshot with their
  attendance snapshot for the period and produces one locked RunSnapshot.

ALGORITHM (per item):
  paidDays  = present + leave + holidays + weeklyOffs   (half days already 0.5 in present)
  paidDays  = min(paidDays, totalDays)
  monthly   = round(annual * paidDays / (12 * totalDays), 2)

  Every earning, deduction and benefit line is prorated independently and
  keeps its annual base. Then:

  gross      = round(sum(earnings), 2)
  deductions = round(sum(deductions), 2)
  net        = gross - deductions

  Benefits are employer cost: reported, but never part of gross or net.

FAILURE MODEL:
  An item that cannot be prorated (missing snapshot, wrong employee or
  period, zero total days) fails alone and is reported in RunOutput.Failed.
  The call itself fails on invalid input or when no item succeeds.

DETERMINISM:
  Resolve is pure. With RunID and CreatedAt supplied, identical input yields
  byte-identical JSON.
*/
package payroll

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/warp/payroll-engine/attendance"
	"github.com/warp/payroll-engine/generic"
	"github.com/warp/payroll-engine/salary"
)

var (
	ErrMissingSnapshot  = errors.New("missing snapshot")
	ErrSnapshotMismatch = errors.New("snapshot does not belong to this item")
	ErrZeroTotalDays    = errors.New("attendance has zero total days")

	// ErrRunLocked is returned when a run already exists for the period and
	// the rerun policy rejects a new one.
	ErrRunLocked = fmt.Errorf("%w: payroll already run", generic.ErrPeriodLocked)
)

// FactorPlaces is the display precision of Proration.Factor.
const FactorPlaces = 4

// Item pairs one employee with the snapshots to prorate.
type Item struct {
	EmployeeID generic.EmployeeID
	Salary     *salary.Snapshot
	Attendance *attendance.Snapshot
}

type RunInput struct {
	RunID     string // generated when empty
	TenantID  generic.TenantID
	Period    generic.Period
	Version   int // defaults to 1
	Items     []Item
	CreatedAt time.Time
}

// ItemFailure is one employee whose item could not be resolved.
type ItemFailure struct {
	EmployeeID generic.EmployeeID
	Err        error
}

func (f ItemFailure) MarshalJSON() ([]byte, error) {
	msg := ""
	if f.Err != nil {
		msg = f.Err.Error()
	}
	return json.Marshal(struct {
		EmployeeID generic.EmployeeID `json:"employee_id"`
		Error      string             `json:"error"`
	}{f.EmployeeID, msg})
}

// SkippedEmployee is an active employee left out of the run before
// resolution, e.g. because no attendance was frozen for them.
type SkippedEmployee struct {
	EmployeeID generic.EmployeeID `json:"employee_id"`
	Reason     string             `json:"reason"`
}

const (
	SkipNoSalary     = "no salary snapshot effective in period"
	SkipNoAttendance = "no attendance snapshot for period"
)

type RunOutput struct {
	Run     *RunSnapshot      `json:"run"`
	Failed  []ItemFailure     `json:"failed"`
	Skipped []SkippedEmployee `json:"skipped"`
}

// Resolve builds a locked run from already fetched snapshots. It does not
// persist.
func Resolve(in RunInput) (RunOutput, error) {
	if in.TenantID == "" {
		return RunOutput{}, generic.Invalid("tenant", "tenant id is required")
	}
	if in.Period.IsZero() {
		return RunOutput{}, &generic.ValidationError{Field: "period", Message: "period is required", Err: generic.ErrInvalidPeriod}
	}
	if len(in.Items) == 0 {
		return RunOutput{}, generic.Invalid("items", "at least one item is required")
	}
	if in.Version < 0 {
		return RunOutput{}, generic.Invalid("version", "version must be positive")
	}

	var (
		out   RunOutput
		items []RunItem
		errs  []error
	)
	for _, item := range in.Items {
		ri, err := ResolveItem(in.TenantID, in.Period, item)
		if err != nil {
			out.Failed = append(out.Failed, ItemFailure{EmployeeID: itemEmployee(item), Err: err})
			errs = append(errs, err)
			continue
		}
		items = append(items, ri)
	}
	if len(items) == 0 {
		return out, fmt.Errorf("%w: every item of payroll %s failed: %w", generic.ErrResolution, in.Period, errors.Join(errs...))
	}

	run := &RunSnapshot{
		id:        in.RunID,
		tenantID:  in.TenantID,
		period:    in.Period,
		version:   in.Version,
		items:     items,
		locked:    true,
		createdAt: in.CreatedAt,
	}
	if run.id == "" {
		run.id = uuid.NewString()
	}
	if run.version == 0 {
		run.version = 1
	}
	out.Run = run
	return out, nil
}

// ResolveItem prorates a single employee.
func ResolveItem(tenantID generic.TenantID, period generic.Period, item Item) (RunItem, error) {
	employeeID := itemEmployee(item)
	fail := func(err error) (RunItem, error) {
		return RunItem{}, &generic.ResolutionError{EmployeeID: employeeID, Err: err}
	}

	switch {
	case item.Salary == nil:
		return fail(fmt.Errorf("salary: %w", ErrMissingSnapshot))
	case item.Attendance == nil:
		return fail(fmt.Errorf("attendance: %w", ErrMissingSnapshot))
	case item.Salary.TenantID() != tenantID || item.Attendance.TenantID() != tenantID:
		return fail(fmt.Errorf("tenant: %w", ErrSnapshotMismatch))
	case item.Salary.Owner().EmployeeID != employeeID:
		return fail(fmt.Errorf("salary owner %s: %w", item.Salary.Owner(), ErrSnapshotMismatch))
	case item.Attendance.EmployeeID() != employeeID:
		return fail(fmt.Errorf("attendance employee %s: %w", item.Attendance.EmployeeID(), ErrSnapshotMismatch))
	case item.Attendance.Period() != period:
		return fail(fmt.Errorf("attendance period %s: %w", item.Attendance.Period(), ErrSnapshotMismatch))
	case item.Attendance.TotalDays() <= 0:
		return fail(ErrZeroTotalDays)
	}

	total := decimal.NewFromInt(int64(item.Attendance.TotalDays()))
	paid := decimal.Min(item.Attendance.PaidDays(), total)
	p := prorator{paid: paid, denominator: generic.MonthsPerYear.Mul(total)}

	ri := RunItem{
		EmployeeID:           employeeID,
		SalarySnapshotID:     item.Salary.ID(),
		AttendanceSnapshotID: item.Attendance.ID(),
		Details: ItemDetails{
			Earnings:   p.lines(item.Salary.Earnings()),
			Deductions: p.lines(item.Salary.Deductions()),
			Benefits:   p.lines(item.Salary.Benefits()),
			Attendance: Proration{
				TotalDays: item.Attendance.TotalDays(),
				PaidDays:  paid,
				Factor:    paid.DivRound(total, FactorPlaces),
			},
		},
	}
	ri.GrossEarnings = generic.RoundCurrency(sumMonthly(ri.Details.Earnings))
	ri.TotalDeductions = generic.RoundCurrency(sumMonthly(ri.Details.Deductions))
	ri.NetPay = generic.RoundCurrency(ri.GrossEarnings.Sub(ri.TotalDeductions))
	return ri, nil
}

type prorator struct {
	paid        decimal.Decimal
	denominator decimal.Decimal // 12 * totalDays
}

// monthly computes round(annual * paid / (12 * total), 2).
func (p prorator) monthly(annual decimal.Decimal) decimal.Decimal {
	return generic.RoundCurrency(annual.Mul(p.paid).Div(p.denominator))
}

func (p prorator) lines(components []salary.Component) []ProratedLine {
	out := make([]ProratedLine, 0, len(components))
	for _, c := range components {
		out = append(out, ProratedLine{
			Name:    c.Name,
			Code:    c.Code,
			Formula: c.Formula,
			Annual:  c.Amount,
			Monthly: p.monthly(c.Amount),
		})
	}
	return out
}

func sumMonthly(lines []ProratedLine) decimal.Decimal {
	total := decimal.Zero
	for _, l := range lines {
		total = total.Add(l.Monthly)
	}
	return total
}

func itemEmployee(item Item) generic.EmployeeID {
	switch {
	case item.EmployeeID != "":
		return item.EmployeeID
	case item.Attendance != nil:
		return item.Attendance.EmployeeID()
	case item.Salary != nil:
		return item.Salary.Owner().EmployeeID
	}
	return ""
}
