package payroll

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/warp/payroll-engine/attendance"
	"github.com/warp/payroll-engine/generic"
	"github.com/warp/payroll-engine/salary"
)

// =============================================================================
// RERUN POLICY
// =============================================================================

// RerunPolicy decides what happens when payroll is run again for a period
// that already has a locked run.
type RerunPolicy string

const (
	// RerunReject refuses the second run with ErrRunLocked.
	RerunReject RerunPolicy = "reject"
	// RerunNewVersion stores the rerun as version n+1; earlier runs stay.
	RerunNewVersion RerunPolicy = "new_version"
)

// ParseRerunPolicy accepts "" as RerunReject.
func ParseRerunPolicy(s string) (RerunPolicy, error) {
	switch p := RerunPolicy(strings.ToLower(strings.TrimSpace(s))); p {
	case "", RerunReject:
		return RerunReject, nil
	case RerunNewVersion:
		return p, nil
	}
	return "", generic.Invalid("rerun_policy", fmt.Sprintf("unknown policy %q", s))
}

// =============================================================================
// COLLABORATORS
// =============================================================================

// Store persists payroll runs. Runs are unique per (tenant, period, version);
// a second insert with the same key returns generic.ErrConflict.
type Store interface {
	CreatePayrollRun(ctx context.Context, run *RunSnapshot) error

	// LatestPayrollRun returns the highest version for the period, or
	// generic.ErrNotFound.
	LatestPayrollRun(ctx context.Context, tenantID generic.TenantID, period generic.Period) (*RunSnapshot, error)

	// ListPayrollRuns returns every run of the tenant, newest period first and
	// highest version first within a period.
	ListPayrollRuns(ctx context.Context, tenantID generic.TenantID) ([]*RunSnapshot, error)
}

type SalaryLookup interface {
	LatestSalarySnapshot(ctx context.Context, tenantID generic.TenantID, owner generic.Owner, asOf time.Time) (*salary.Snapshot, error)
}

type AttendanceLookup interface {
	GetAttendanceSnapshot(ctx context.Context, tenantID generic.TenantID, employeeID generic.EmployeeID, period generic.Period) (*attendance.Snapshot, error)
}

// Payslip is one employee's item of a run, with the run it came from.
type Payslip struct {
	RunID   string         `json:"run_id"`
	Period  generic.Period `json:"period"`
	Version int            `json:"version"`
	RunItem
}

// =============================================================================
// SERVICE
// =============================================================================

type Service struct {
	Store      Store
	Salaries   SalaryLookup
	Attendance AttendanceLookup
	Directory  generic.EmployeeDirectory
	Policy     RerunPolicy
	Clock      generic.Clock
	Logger     *zap.Logger
}

func NewService(store Store, salaries SalaryLookup, att AttendanceLookup, directory generic.EmployeeDirectory, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		Store:      store,
		Salaries:   salaries,
		Attendance: att,
		Directory:  directory,
		Policy:     RerunReject,
		Clock:      generic.SystemClock{},
		Logger:     logger,
	}
}

// Run resolves and stores payroll for every active employee of the tenant.
//
// Employees without a salary snapshot effective by the end of the period, or
// without frozen attendance, are listed in RunOutput.Skipped. When nobody is
// left the call fails with a validation error and the skipped list is still
// returned.
func (s *Service) Run(ctx context.Context, tenantID generic.TenantID, period generic.Period) (RunOutput, error) {
	if tenantID == "" {
		return RunOutput{}, generic.Invalid("tenant", "tenant id is required")
	}
	if period.IsZero() {
		return RunOutput{}, &generic.ValidationError{Field: "period", Message: "period is required", Err: generic.ErrInvalidPeriod}
	}

	version, err := s.nextVersion(ctx, tenantID, period)
	if err != nil {
		return RunOutput{}, err
	}

	employees, err := s.Directory.ActiveEmployees(ctx, tenantID)
	if err != nil {
		return RunOutput{}, fmt.Errorf("list active employees: %w", err)
	}

	var (
		items   []Item
		skipped []SkippedEmployee
		failed  []ItemFailure
	)
	asOf := period.EndOfDay()
	for _, e := range employees {
		sal, err := s.Salaries.LatestSalarySnapshot(ctx, tenantID, generic.EmployeeOwner(e.ID), asOf)
		if generic.IsNotFound(err) {
			skipped = append(skipped, SkippedEmployee{EmployeeID: e.ID, Reason: SkipNoSalary})
			continue
		}
		if err != nil {
			failed = append(failed, ItemFailure{EmployeeID: e.ID, Err: fmt.Errorf("load salary snapshot: %w", err)})
			continue
		}
		att, err := s.Attendance.GetAttendanceSnapshot(ctx, tenantID, e.ID, period)
		if generic.IsNotFound(err) {
			skipped = append(skipped, SkippedEmployee{EmployeeID: e.ID, Reason: SkipNoAttendance})
			continue
		}
		if err != nil {
			failed = append(failed, ItemFailure{EmployeeID: e.ID, Err: fmt.Errorf("load attendance snapshot: %w", err)})
			continue
		}
		items = append(items, Item{EmployeeID: e.ID, Salary: sal, Attendance: att})
	}

	if len(items) == 0 {
		out := RunOutput{Failed: failed, Skipped: skipped}
		return out, generic.Invalid("items", fmt.Sprintf("no employee of %s has both salary and attendance for %s", tenantID, period))
	}

	out, err := Resolve(RunInput{
		TenantID:  tenantID,
		Period:    period,
		Version:   version,
		Items:     items,
		CreatedAt: s.Clock.Now(),
	})
	out.Failed = append(failed, out.Failed...)
	out.Skipped = skipped
	if err != nil {
		s.Logger.Warn("payroll run failed",
			zap.String("tenant", string(tenantID)),
			zap.String("period", period.String()),
			zap.Error(err))
		return out, err
	}

	if err := s.Store.CreatePayrollRun(ctx, out.Run); err != nil {
		return out, fmt.Errorf("store payroll run: %w", err)
	}

	for _, f := range out.Failed {
		s.Logger.Warn("payroll item failed",
			zap.String("tenant", string(tenantID)),
			zap.String("period", period.String()),
			zap.String("employee", string(f.EmployeeID)),
			zap.Error(f.Err))
	}
	gross, deductions, net := out.Run.Totals()
	s.Logger.Info("payroll run created",
		zap.String("run", out.Run.ID()),
		zap.String("tenant", string(tenantID)),
		zap.String("period", period.String()),
		zap.Int("version", out.Run.Version()),
		zap.Int("items", len(out.Run.items)),
		zap.Int("failed", len(out.Failed)),
		zap.Int("skipped", len(out.Skipped)),
		zap.String("gross", gross.StringFixed(2)),
		zap.String("deductions", deductions.StringFixed(2)),
		zap.String("net", net.StringFixed(2)))
	return out, nil
}

func (s *Service) nextVersion(ctx context.Context, tenantID generic.TenantID, period generic.Period) (int, error) {
	latest, err := s.Store.LatestPayrollRun(ctx, tenantID, period)
	if generic.IsNotFound(err) {
		return 1, nil
	}
	if err != nil {
		return 0, fmt.Errorf("load latest payroll run: %w", err)
	}
	if s.Policy == RerunNewVersion {
		return latest.Version() + 1, nil
	}
	return 0, fmt.Errorf("payroll %s version %d: %w", period, latest.Version(), ErrRunLocked)
}

// Latest returns the highest version run of the period.
func (s *Service) Latest(ctx context.Context, tenantID generic.TenantID, period generic.Period) (*RunSnapshot, error) {
	return s.Store.LatestPayrollRun(ctx, tenantID, period)
}

// IsPeriodLocked reports whether a locked run exists for the period. It makes
// the service usable as an attendance.LockChecker.
func (s *Service) IsPeriodLocked(ctx context.Context, tenantID generic.TenantID, period generic.Period) (bool, error) {
	run, err := s.Store.LatestPayrollRun(ctx, tenantID, period)
	if generic.IsNotFound(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return run.Locked(), nil
}

// Payslip returns one employee's item from the latest run of the period.
func (s *Service) Payslip(ctx context.Context, tenantID generic.TenantID, employeeID generic.EmployeeID, period generic.Period) (Payslip, error) {
	run, err := s.Store.LatestPayrollRun(ctx, tenantID, period)
	if err != nil {
		return Payslip{}, err
	}
	item, ok := run.Item(employeeID)
	if !ok {
		return Payslip{}, fmt.Errorf("payslip for %s in %s: %w", employeeID, period, generic.ErrNotFound)
	}
	return Payslip{RunID: run.ID(), Period: run.Period(), Version: run.Version(), RunItem: item}, nil
}

// Payslips returns the employee's payslip from the latest run of every
// period, newest period first.
func (s *Service) Payslips(ctx context.Context, tenantID generic.TenantID, employeeID generic.EmployeeID) ([]Payslip, error) {
	runs, err := s.Store.ListPayrollRuns(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	latest := make(map[generic.Period]*RunSnapshot)
	for _, r := range runs {
		if cur, ok := latest[r.Period()]; !ok || r.Version() > cur.Version() {
			latest[r.Period()] = r
		}
	}

	var out []Payslip
	for _, r := range latest {
		if item, ok := r.Item(employeeID); ok {
			out = append(out, Payslip{RunID: r.ID(), Period: r.Period(), Version: r.Version(), RunItem: item})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Period.Start().After(out[j].Period.Start())
	})
	return out, nil
}
