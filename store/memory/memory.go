// Package memory provides an in-memory implementation of every store the
// engine uses. It backs the service and API tests.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/warp/payroll-engine/attendance"
	"github.com/warp/payroll-engine/generic"
	"github.com/warp/payroll-engine/payroll"
	"github.com/warp/payroll-engine/salary"
)

// =============================================================================
// MEMORY STORE
// =============================================================================

type Store struct {
	mu          sync.RWMutex
	employees   map[employeeKey]generic.Employee
	templates   map[generic.TenantID][]*salary.Template
	records     map[employeeKey]map[time.Time]attendance.DailyRecord
	salaries    map[salaryKey][]*salary.Snapshot // sorted by effective date
	attendances map[attendanceKey]*attendance.Snapshot
	runs        map[generic.TenantID][]*payroll.RunSnapshot
}

type employeeKey struct {
	TenantID   generic.TenantID
	EmployeeID generic.EmployeeID
}

type salaryKey struct {
	TenantID generic.TenantID
	Owner    generic.Owner
}

type attendanceKey struct {
	TenantID   generic.TenantID
	EmployeeID generic.EmployeeID
	Period     generic.Period
}

func New() *Store {
	return &Store{
		employees:   make(map[employeeKey]generic.Employee),
		templates:   make(map[generic.TenantID][]*salary.Template),
		records:     make(map[employeeKey]map[time.Time]attendance.DailyRecord),
		salaries:    make(map[salaryKey][]*salary.Snapshot),
		attendances: make(map[attendanceKey]*attendance.Snapshot),
		runs:        make(map[generic.TenantID][]*payroll.RunSnapshot),
	}
}

// =============================================================================
// EMPLOYEES
// =============================================================================

func (s *Store) SaveEmployee(_ context.Context, e generic.Employee) error {
	if err := e.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.employees[employeeKey{e.TenantID, e.ID}] = e
	return nil
}

func (s *Store) GetEmployee(_ context.Context, tenantID generic.TenantID, id generic.EmployeeID) (generic.Employee, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.employees[employeeKey{tenantID, id}]
	if !ok {
		return generic.Employee{}, fmt.Errorf("employee %s: %w", id, generic.ErrNotFound)
	}
	return e, nil
}

func (s *Store) ListEmployees(_ context.Context, tenantID generic.TenantID) ([]generic.Employee, error) {
	return s.employeesWhere(tenantID, func(generic.Employee) bool { return true }), nil
}

func (s *Store) ActiveEmployees(_ context.Context, tenantID generic.TenantID) ([]generic.Employee, error) {
	return s.employeesWhere(tenantID, func(e generic.Employee) bool { return e.Status == generic.EmployeeActive }), nil
}

func (s *Store) employeesWhere(tenantID generic.TenantID, keep func(generic.Employee) bool) []generic.Employee {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []generic.Employee
	for k, e := range s.employees {
		if k.TenantID == tenantID && keep(e) {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// =============================================================================
// TEMPLATES
// =============================================================================

func (s *Store) CreateTemplate(_ context.Context, t *salary.Template) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.templates[t.TenantID] {
		if existing.ID == t.ID || (existing.Name == t.Name && existing.Version == t.Version) {
			return fmt.Errorf("template %s v%d: %w", t.Name, t.Version, generic.ErrConflict)
		}
	}
	s.templates[t.TenantID] = append(s.templates[t.TenantID], t.Clone())
	return nil
}

func (s *Store) GetTemplate(_ context.Context, tenantID generic.TenantID, id string) (*salary.Template, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, t := range s.templates[tenantID] {
		if t.ID == id {
			return t.Clone(), nil
		}
	}
	return nil, fmt.Errorf("template %s: %w", id, generic.ErrNotFound)
}

func (s *Store) ListTemplates(_ context.Context, tenantID generic.TenantID) ([]*salary.Template, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*salary.Template, 0, len(s.templates[tenantID]))
	for _, t := range s.templates[tenantID] {
		out = append(out, t.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].Version < out[j].Version
	})
	return out, nil
}

// =============================================================================
// DAILY ATTENDANCE
// =============================================================================

func (s *Store) UpsertDailyRecords(_ context.Context, tenantID generic.TenantID, records []attendance.DailyRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range records {
		k := employeeKey{tenantID, r.EmployeeID}
		if s.records[k] == nil {
			s.records[k] = make(map[time.Time]attendance.DailyRecord)
		}
		r.Date = generic.DateOnly(r.Date)
		s.records[k][r.Date] = r
	}
	return nil
}

func (s *Store) DailyRecords(_ context.Context, tenantID generic.TenantID, employeeID generic.EmployeeID, period generic.Period) ([]attendance.DailyRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []attendance.DailyRecord
	for date, r := range s.records[employeeKey{tenantID, employeeID}] {
		if period.Contains(date) {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out, nil
}

// =============================================================================
// SALARY SNAPSHOTS - append-only, kept sorted by effective date
// =============================================================================

func (s *Store) CreateSalarySnapshot(_ context.Context, snap *salary.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := salaryKey{snap.TenantID(), snap.Owner()}
	snaps := s.salaries[k]
	for _, existing := range snaps {
		if existing.ID() == snap.ID() {
			return fmt.Errorf("salary snapshot %s: %w", snap.ID(), generic.ErrConflict)
		}
	}

	// Later effective dates, then later creation, go to the end.
	i := sort.Search(len(snaps), func(i int) bool {
		if snaps[i].EffectiveDate().Equal(snap.EffectiveDate()) {
			return snaps[i].CreatedAt().After(snap.CreatedAt())
		}
		return snaps[i].EffectiveDate().After(snap.EffectiveDate())
	})
	snaps = append(snaps, nil)
	copy(snaps[i+1:], snaps[i:])
	snaps[i] = snap
	s.salaries[k] = snaps
	return nil
}

func (s *Store) LatestSalarySnapshot(_ context.Context, tenantID generic.TenantID, owner generic.Owner, asOf time.Time) (*salary.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snaps := s.salaries[salaryKey{tenantID, owner}]
	for i := len(snaps) - 1; i >= 0; i-- {
		if snaps[i].EffectiveOn(asOf) {
			return snaps[i], nil
		}
	}
	return nil, fmt.Errorf("salary of %s as of %s: %w", owner, asOf.Format(time.DateOnly), generic.ErrNotFound)
}

func (s *Store) ListSalarySnapshots(_ context.Context, tenantID generic.TenantID, owner generic.Owner) ([]*salary.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snaps := s.salaries[salaryKey{tenantID, owner}]
	out := make([]*salary.Snapshot, 0, len(snaps))
	for i := len(snaps) - 1; i >= 0; i-- {
		out = append(out, snaps[i])
	}
	return out, nil
}

// =============================================================================
// ATTENDANCE SNAPSHOTS - one per (tenant, employee, period)
// =============================================================================

func (s *Store) UpsertAttendanceSnapshot(_ context.Context, snap *attendance.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attendances[attendanceKey{snap.TenantID(), snap.EmployeeID(), snap.Period()}] = snap
	return nil
}

func (s *Store) GetAttendanceSnapshot(_ context.Context, tenantID generic.TenantID, employeeID generic.EmployeeID, period generic.Period) (*attendance.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap, ok := s.attendances[attendanceKey{tenantID, employeeID, period}]
	if !ok {
		return nil, fmt.Errorf("attendance of %s for %s: %w", employeeID, period, generic.ErrNotFound)
	}
	return snap, nil
}

// =============================================================================
// PAYROLL RUNS - unique per (tenant, period, version)
// =============================================================================

func (s *Store) CreatePayrollRun(_ context.Context, run *payroll.RunSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.runs[run.TenantID()] {
		if existing.Period() == run.Period() && existing.Version() == run.Version() {
			return fmt.Errorf("payroll %s version %d: %w", run.Period(), run.Version(), generic.ErrConflict)
		}
	}
	s.runs[run.TenantID()] = append(s.runs[run.TenantID()], run)
	return nil
}

func (s *Store) LatestPayrollRun(_ context.Context, tenantID generic.TenantID, period generic.Period) (*payroll.RunSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var latest *payroll.RunSnapshot
	for _, r := range s.runs[tenantID] {
		if r.Period() == period && (latest == nil || r.Version() > latest.Version()) {
			latest = r
		}
	}
	if latest == nil {
		return nil, fmt.Errorf("payroll %s: %w", period, generic.ErrNotFound)
	}
	return latest, nil
}

func (s *Store) ListPayrollRuns(_ context.Context, tenantID generic.TenantID) ([]*payroll.RunSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := append([]*payroll.RunSnapshot(nil), s.runs[tenantID]...)
	sort.Slice(out, func(i, j int) bool {
		if out[i].Period() != out[j].Period() {
			return out[i].Period().Start().After(out[j].Period().Start())
		}
		return out[i].Version() > out[j].Version()
	})
	return out, nil
}
