/*
service.go - Freezing a period for every active employee

PURPOSE:
  Freeze reads each active employee's daily records for a period, aggregates
  them and upserts the resulting snapshot. Employees are independent: a
  failure for one is reported in FreezeResult.Failed and never aborts the
  others.

CONCURRENCY:
  Employees are processed by a bounded worker group (Workers, default 4).
  The store serializes writers on (tenant, employee, period), so two
  concurrent freezes of the same period leave exactly one snapshot per
  employee.

LOCKING:
  Once a payroll run exists for the period the attendance it used must not
  change. Freeze and FreezeEmployee return generic.ErrPeriodLocked then.
*/
package attendance

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/warp/payroll-engine/generic"
)

// DefaultWorkers bounds the number of employees frozen in parallel.
const DefaultWorkers = 4

// Store persists attendance snapshots.
type Store interface {
	// UpsertAttendanceSnapshot replaces the snapshot for the same
	// (tenant, employee, period), or inserts it.
	UpsertAttendanceSnapshot(ctx context.Context, s *Snapshot) error

	// GetAttendanceSnapshot returns generic.ErrNotFound when nothing is frozen.
	GetAttendanceSnapshot(ctx context.Context, tenantID generic.TenantID, employeeID generic.EmployeeID, period generic.Period) (*Snapshot, error)
}

// RecordSource supplies raw daily attendance.
type RecordSource interface {
	DailyRecords(ctx context.Context, tenantID generic.TenantID, employeeID generic.EmployeeID, period generic.Period) ([]DailyRecord, error)
}

// RecordStore accepts daily records. A record for a date that already has one
// replaces it.
type RecordStore interface {
	RecordSource
	UpsertDailyRecords(ctx context.Context, tenantID generic.TenantID, records []DailyRecord) error
}

// LockChecker reports whether payroll has already been run for a period.
type LockChecker interface {
	IsPeriodLocked(ctx context.Context, tenantID generic.TenantID, period generic.Period) (bool, error)
}

// EmployeeFailure is one employee that could not be frozen.
type EmployeeFailure struct {
	EmployeeID generic.EmployeeID `json:"employee_id"`
	Err        error              `json:"-"`
}

func (f EmployeeFailure) MarshalJSON() ([]byte, error) {
	msg := ""
	if f.Err != nil {
		msg = f.Err.Error()
	}
	return json.Marshal(struct {
		EmployeeID generic.EmployeeID `json:"employee_id"`
		Error      string             `json:"error"`
	}{f.EmployeeID, msg})
}

// FreezeResult summarizes a period freeze.
type FreezeResult struct {
	Period  generic.Period                         `json:"period"`
	Frozen  []*Snapshot                            `json:"frozen"`
	Failed  []EmployeeFailure                      `json:"failed"`
	Ignored map[generic.EmployeeID][]IgnoredRecord `json:"ignored,omitempty"`
}

type Service struct {
	Store     Store
	Records   RecordSource
	Directory generic.EmployeeDirectory
	Locks     LockChecker // optional
	Workers   int
	Clock     generic.Clock
	Logger    *zap.Logger
}

func NewService(store Store, records RecordSource, directory generic.EmployeeDirectory, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		Store:     store,
		Records:   records,
		Directory: directory,
		Workers:   DefaultWorkers,
		Clock:     generic.SystemClock{},
		Logger:    logger,
	}
}

// Freeze aggregates and stores a snapshot for every active employee of the
// tenant. The returned error covers the whole operation (invalid input, locked
// period, directory failure); per-employee errors are in the result.
func (s *Service) Freeze(ctx context.Context, tenantID generic.TenantID, period generic.Period) (*FreezeResult, error) {
	if tenantID == "" {
		return nil, generic.Invalid("tenant", "tenant id is required")
	}
	if err := s.checkUnlocked(ctx, tenantID, period); err != nil {
		return nil, err
	}

	employees, err := s.Directory.ActiveEmployees(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("list active employees: %w", err)
	}

	frozenAt := s.Clock.Now()
	aggs := make([]Aggregation, len(employees))
	errs := make([]error, len(employees))

	var g errgroup.Group
	g.SetLimit(s.workers())
	for i, e := range employees {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				errs[i] = err
				return nil
			}
			aggs[i], errs[i] = s.freezeOne(ctx, tenantID, e.ID, period, frozenAt)
			return nil
		})
	}
	_ = g.Wait()

	res := &FreezeResult{Period: period}
	for i, e := range employees {
		if errs[i] != nil {
			s.Logger.Warn("attendance freeze failed",
				zap.String("tenant", string(tenantID)),
				zap.String("employee", string(e.ID)),
				zap.String("period", period.String()),
				zap.Error(errs[i]))
			res.Failed = append(res.Failed, EmployeeFailure{EmployeeID: e.ID, Err: errs[i]})
			continue
		}
		res.Frozen = append(res.Frozen, aggs[i].Snapshot)
		if len(aggs[i].Ignored) > 0 {
			if res.Ignored == nil {
				res.Ignored = make(map[generic.EmployeeID][]IgnoredRecord)
			}
			res.Ignored[e.ID] = aggs[i].Ignored
		}
	}

	s.Logger.Info("attendance frozen",
		zap.String("tenant", string(tenantID)),
		zap.String("period", period.String()),
		zap.Int("frozen", len(res.Frozen)),
		zap.Int("failed", len(res.Failed)))
	return res, nil
}

// FreezeEmployee freezes a single employee's period.
func (s *Service) FreezeEmployee(ctx context.Context, tenantID generic.TenantID, employeeID generic.EmployeeID, period generic.Period) (Aggregation, error) {
	if err := s.checkUnlocked(ctx, tenantID, period); err != nil {
		return Aggregation{}, err
	}
	return s.freezeOne(ctx, tenantID, employeeID, period, s.Clock.Now())
}

// Snapshot returns the frozen attendance of one employee.
func (s *Service) Snapshot(ctx context.Context, tenantID generic.TenantID, employeeID generic.EmployeeID, period generic.Period) (*Snapshot, error) {
	return s.Store.GetAttendanceSnapshot(ctx, tenantID, employeeID, period)
}

func (s *Service) freezeOne(ctx context.Context, tenantID generic.TenantID, employeeID generic.EmployeeID, period generic.Period, frozenAt time.Time) (Aggregation, error) {
	records, err := s.Records.DailyRecords(ctx, tenantID, employeeID, period)
	if err != nil {
		return Aggregation{}, fmt.Errorf("load daily records: %w", err)
	}
	agg, err := Aggregate(AggregateInput{
		TenantID:   tenantID,
		EmployeeID: employeeID,
		Period:     period,
		Records:    records,
		FrozenAt:   frozenAt,
	})
	if err != nil {
		return Aggregation{}, err
	}
	if err := s.Store.UpsertAttendanceSnapshot(ctx, agg.Snapshot); err != nil {
		return Aggregation{}, fmt.Errorf("store attendance snapshot: %w", err)
	}
	return agg, nil
}

func (s *Service) checkUnlocked(ctx context.Context, tenantID generic.TenantID, period generic.Period) error {
	if period.IsZero() {
		return &generic.ValidationError{Field: "period", Message: "period is required", Err: generic.ErrInvalidPeriod}
	}
	if s.Locks == nil {
		return nil
	}
	locked, err := s.Locks.IsPeriodLocked(ctx, tenantID, period)
	if err != nil {
		return fmt.Errorf("check period lock: %w", err)
	}
	if locked {
		return fmt.Errorf("freeze %s: %w", period, generic.ErrPeriodLocked)
	}
	return nil
}

func (s *Service) workers() int {
	if s.Workers < 1 {
		return 1
	}
	return s.Workers
}
