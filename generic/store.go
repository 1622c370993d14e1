/*
store.go - Collaborator interfaces shared by the domain services

PURPOSE:
  The resolvers themselves are pure. The services around them read and
  write through small interfaces so the same code runs against SQLite in
  production and an in-memory store in tests.

KEY INTERFACES:
  EmployeeDirectory: Which employees of a tenant are active
  EmployeeStore:     Directory plus writes, used by the HTTP API
  Clock:             Current time (injected for deterministic tests)

  Snapshot persistence interfaces live with their snapshot types:
  salary.Store, attendance.Store, payroll.Store.

UNIQUENESS:
  Concurrent writers are serialized by the store, not by the services:
  - Attendance snapshots are unique per (tenant, employee, period)
  - Payroll runs are unique per (tenant, period, version)

IMPLEMENTATIONS:
  - store/sqlite/sqlite.go: Production SQLite
  - store/memory/memory.go: In-memory for testing

SEE ALSO:
  - salary/service.go, attendance/service.go, payroll/service.go
*/
package generic

import (
	"context"
	"time"
)

// =============================================================================
// EMPLOYEES
// =============================================================================

type EmployeeStatus string

const (
	EmployeeActive   EmployeeStatus = "active"
	EmployeeInactive EmployeeStatus = "inactive"
)

// Employee is the directory record the engine needs. Everything else about a
// person (documents, bank details) belongs to other collaborators.
type Employee struct {
	ID       EmployeeID     `json:"id"`
	TenantID TenantID       `json:"tenant_id"`
	Name     string         `json:"name"`
	Email    string         `json:"email,omitempty"`
	Status   EmployeeStatus `json:"status"`
	HireDate time.Time      `json:"hire_date,omitempty"`
}

// EmployeeDirectory lists the employees payroll operations iterate over.
type EmployeeDirectory interface {
	// ActiveEmployees returns active employees of the tenant ordered by ID.
	ActiveEmployees(ctx context.Context, tenantID TenantID) ([]Employee, error)
}

// EmployeeStore is the writable directory behind the HTTP API.
type EmployeeStore interface {
	EmployeeDirectory

	// SaveEmployee inserts or replaces by (tenant, id).
	SaveEmployee(ctx context.Context, e Employee) error
	GetEmployee(ctx context.Context, tenantID TenantID, id EmployeeID) (Employee, error)
	ListEmployees(ctx context.Context, tenantID TenantID) ([]Employee, error)
}

// Validate checks the fields every stored employee needs.
func (e Employee) Validate() error {
	switch {
	case e.TenantID == "":
		return Invalid("tenant", "tenant id is required")
	case e.ID == "":
		return Invalid("employee", "employee id is required")
	case e.Status != EmployeeActive && e.Status != EmployeeInactive:
		return Invalid("status", "status must be active or inactive")
	}
	return nil
}

// =============================================================================
// CLOCK
// =============================================================================

type Clock interface {
	Now() time.Time
}

type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now().UTC() }

// FixedClock always returns the same instant. Use in tests.
type FixedClock struct{ At time.Time }

func (c FixedClock) Now() time.Time { return c.At }

// DateOnly truncates t to midnight UTC of its calendar date.
func DateOnly(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
