/*
Package sqlite provides a SQLite-backed implementation of the storage interfaces.

PURPOSE:
  Implements every persistence interface of the engine with SQLite. In
  production the same patterns apply to PostgreSQL with minor dialect
  differences.

INTERFACES IMPLEMENTED:
  generic.EmployeeStore:   Employee directory
  salary.TemplateStore:    Versioned salary templates
  salary.Store:            Salary snapshots (append-only)
  attendance.RecordStore:  Daily attendance records
  attendance.Store:        Attendance snapshots (upsert per period)
  payroll.Store:           Payroll runs (insert-only, versioned)

KEY TABLES:
  employees:            (tenant, id) primary key, status drives payroll
  salary_templates:     template body as JSON, unique (tenant, name, version)
  attendance_records:   one row per (tenant, employee, date)
  salary_snapshots:     snapshot body as JSON, indexed by owner + effective date
  attendance_snapshots: snapshot body as JSON, unique (tenant, employee, period)
  payroll_runs:         run body as JSON, unique (tenant, period, version)

CONCURRENCY:
  The unique indexes serialize concurrent writers: two payroll runs racing
  for the same (tenant, period, version) leave exactly one row and the loser
  gets generic.ErrConflict. A sync.RWMutex additionally serializes access
  from this process.

TIMESTAMPS:
  Stored as fixed-width UTC text (timeLayout) so string comparison in SQL
  orders them correctly.

USAGE:
  store, err := sqlite.New("./data/payroll.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

MIGRATION:
  Schema is auto-migrated on New(). For production, use a proper
  migration tool (golang-migrate, goose) with versioned migrations.

SEE ALSO:
  - store/memory/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/warp/payroll-engine/attendance"
	"github.com/warp/payroll-engine/generic"
	"github.com/warp/payroll-engine/payroll"
	"github.com/warp/payroll-engine/salary"
)

const timeLayout = "2006-01-02T15:04:05.000000000Z"

// Store implements all storage interfaces using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if dbPath == ":memory:" {
		// every connection to :memory: is a separate database
		db.SetMaxOpenConns(1)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS employees (
		tenant_id TEXT NOT NULL,
		id TEXT NOT NULL,
		name TEXT NOT NULL,
		email TEXT,
		status TEXT NOT NULL DEFAULT 'active',
		hire_date TEXT,
		created_at TEXT NOT NULL,
		PRIMARY KEY (tenant_id, id)
	);

	CREATE INDEX IF NOT EXISTS idx_employees_tenant_status
		ON employees(tenant_id, status);

	-- Templates are versioned documents; a new version is a new row
	CREATE TABLE IF NOT EXISTS salary_templates (
		id TEXT PRIMARY KEY,
		tenant_id TEXT NOT NULL,
		name TEXT NOT NULL,
		version INTEGER NOT NULL DEFAULT 1,
		body_json TEXT NOT NULL,
		created_at TEXT NOT NULL,
		UNIQUE(tenant_id, name, version)
	);

	CREATE TABLE IF NOT EXISTS attendance_records (
		tenant_id TEXT NOT NULL,
		employee_id TEXT NOT NULL,
		date TEXT NOT NULL,
		status TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		PRIMARY KEY (tenant_id, employee_id, date)
	);

	-- Salary snapshots are append-only: no UPDATE, no DELETE
	CREATE TABLE IF NOT EXISTS salary_snapshots (
		id TEXT PRIMARY KEY,
		tenant_id TEXT NOT NULL,
		owner_kind TEXT NOT NULL,
		owner_id TEXT NOT NULL,
		effective_date TEXT NOT NULL,
		created_at TEXT NOT NULL,
		body_json TEXT NOT NULL
	);

	-- Hot path: "current salary as of" lookups
	CREATE INDEX IF NOT EXISTS idx_salary_snapshots_owner_effective
		ON salary_snapshots(tenant_id, owner_kind, owner_id, effective_date DESC, created_at DESC);

	CREATE TABLE IF NOT EXISTS attendance_snapshots (
		id TEXT PRIMARY KEY,
		tenant_id TEXT NOT NULL,
		employee_id TEXT NOT NULL,
		period TEXT NOT NULL,
		frozen_at TEXT NOT NULL,
		body_json TEXT NOT NULL,
		UNIQUE(tenant_id, employee_id, period)
	);

	-- One row per run version; concurrent runs for the same version collide here
	CREATE TABLE IF NOT EXISTS payroll_runs (
		id TEXT PRIMARY KEY,
		tenant_id TEXT NOT NULL,
		period TEXT NOT NULL,
		version INTEGER NOT NULL,
		locked BOOLEAN NOT NULL DEFAULT TRUE,
		created_at TEXT NOT NULL,
		body_json TEXT NOT NULL,
		UNIQUE(tenant_id, period, version)
	);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// EMPLOYEES (generic.EmployeeStore)
// =============================================================================

// SaveEmployee inserts or replaces an employee.
func (s *Store) SaveEmployee(ctx context.Context, e generic.Employee) error {
	if err := e.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT INTO employees (tenant_id, id, name, email, status, hire_date, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(tenant_id, id) DO UPDATE SET
			name = excluded.name,
			email = excluded.email,
			status = excluded.status,
			hire_date = excluded.hire_date
	`

	_, err := s.db.ExecContext(ctx, query,
		e.TenantID, e.ID, e.Name, nullString(e.Email), e.Status,
		nullTime(e.HireDate),
		formatTime(time.Now()),
	)
	if err != nil {
		return fmt.Errorf("failed to save employee: %w", err)
	}
	return nil
}

func (s *Store) GetEmployee(ctx context.Context, tenantID generic.TenantID, id generic.EmployeeID) (generic.Employee, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	emps, err := s.queryEmployees(ctx,
		"SELECT tenant_id, id, name, email, status, hire_date FROM employees WHERE tenant_id = ? AND id = ?",
		tenantID, id)
	if err != nil {
		return generic.Employee{}, err
	}
	if len(emps) == 0 {
		return generic.Employee{}, fmt.Errorf("employee %s: %w", id, generic.ErrNotFound)
	}
	return emps[0], nil
}

func (s *Store) ListEmployees(ctx context.Context, tenantID generic.TenantID) ([]generic.Employee, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.queryEmployees(ctx,
		"SELECT tenant_id, id, name, email, status, hire_date FROM employees WHERE tenant_id = ? ORDER BY id",
		tenantID)
}

// ActiveEmployees implements generic.EmployeeDirectory.
func (s *Store) ActiveEmployees(ctx context.Context, tenantID generic.TenantID) ([]generic.Employee, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.queryEmployees(ctx,
		"SELECT tenant_id, id, name, email, status, hire_date FROM employees WHERE tenant_id = ? AND status = ? ORDER BY id",
		tenantID, generic.EmployeeActive)
}

func (s *Store) queryEmployees(ctx context.Context, query string, args ...any) ([]generic.Employee, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query employees: %w", err)
	}
	defer rows.Close()

	var employees []generic.Employee
	for rows.Next() {
		var e generic.Employee
		var email, hireDate sql.NullString
		if err := rows.Scan(&e.TenantID, &e.ID, &e.Name, &email, &e.Status, &hireDate); err != nil {
			return nil, err
		}
		e.Email = email.String
		if hireDate.Valid {
			e.HireDate, _ = time.Parse(timeLayout, hireDate.String)
		}
		employees = append(employees, e)
	}
	return employees, rows.Err()
}

// =============================================================================
// SALARY TEMPLATES (salary.TemplateStore)
// =============================================================================

func (s *Store) CreateTemplate(ctx context.Context, t *salary.Template) error {
	body, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("failed to encode template: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO salary_templates (id, tenant_id, name, version, body_json, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		t.ID, t.TenantID, t.Name, t.Version, string(body), formatTime(time.Now()),
	)
	if isUniqueConstraintError(err) {
		return fmt.Errorf("template %s v%d: %w", t.Name, t.Version, generic.ErrConflict)
	}
	if err != nil {
		return fmt.Errorf("failed to create template: %w", err)
	}
	return nil
}

func (s *Store) GetTemplate(ctx context.Context, tenantID generic.TenantID, id string) (*salary.Template, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var body string
	err := s.db.QueryRowContext(ctx,
		"SELECT body_json FROM salary_templates WHERE tenant_id = ? AND id = ?",
		tenantID, id,
	).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("template %s: %w", id, generic.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}

	var t salary.Template
	if err := json.Unmarshal([]byte(body), &t); err != nil {
		return nil, fmt.Errorf("failed to decode template %s: %w", id, err)
	}
	return &t, nil
}

func (s *Store) ListTemplates(ctx context.Context, tenantID generic.TenantID) ([]*salary.Template, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		"SELECT body_json FROM salary_templates WHERE tenant_id = ? ORDER BY name, version",
		tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to query templates: %w", err)
	}
	defer rows.Close()

	templates := []*salary.Template{}
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, err
		}
		var t salary.Template
		if err := json.Unmarshal([]byte(body), &t); err != nil {
			return nil, fmt.Errorf("failed to decode template: %w", err)
		}
		templates = append(templates, &t)
	}
	return templates, rows.Err()
}

// =============================================================================
// DAILY ATTENDANCE (attendance.RecordStore)
// =============================================================================

// UpsertDailyRecords stores records atomically; a record for an existing
// date replaces it.
func (s *Store) UpsertDailyRecords(ctx context.Context, tenantID generic.TenantID, records []attendance.DailyRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := formatTime(time.Now())
	for _, r := range records {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO attendance_records (tenant_id, employee_id, date, status, updated_at)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(tenant_id, employee_id, date) DO UPDATE SET
				status = excluded.status,
				updated_at = excluded.updated_at`,
			tenantID, r.EmployeeID, r.Date.Format(time.DateOnly), r.Status, now,
		)
		if err != nil {
			return fmt.Errorf("failed to upsert attendance record: %w", err)
		}
	}
	return tx.Commit()
}

// DailyRecords implements attendance.RecordSource.
func (s *Store) DailyRecords(ctx context.Context, tenantID generic.TenantID, employeeID generic.EmployeeID, period generic.Period) ([]attendance.DailyRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT employee_id, date, status FROM attendance_records
		WHERE tenant_id = ? AND employee_id = ? AND date >= ? AND date <= ?
		ORDER BY date`,
		tenantID, employeeID,
		period.Start().Format(time.DateOnly), period.End().Format(time.DateOnly),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query attendance records: %w", err)
	}
	defer rows.Close()

	var records []attendance.DailyRecord
	for rows.Next() {
		var r attendance.DailyRecord
		var date string
		if err := rows.Scan(&r.EmployeeID, &date, &r.Status); err != nil {
			return nil, err
		}
		r.Date, _ = time.Parse(time.DateOnly, date)
		records = append(records, r)
	}
	return records, rows.Err()
}

// =============================================================================
// SALARY SNAPSHOTS (salary.Store) - append-only
// =============================================================================

func (s *Store) CreateSalarySnapshot(ctx context.Context, snap *salary.Snapshot) error {
	body, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to encode salary snapshot: %w", err)
	}
	kind, ownerID := ownerColumns(snap.Owner())

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO salary_snapshots (id, tenant_id, owner_kind, owner_id, effective_date, created_at, body_json)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		snap.ID(), snap.TenantID(), kind, ownerID,
		formatTime(snap.EffectiveDate()), formatTime(snap.CreatedAt()), string(body),
	)
	if isUniqueConstraintError(err) {
		return fmt.Errorf("salary snapshot %s: %w", snap.ID(), generic.ErrConflict)
	}
	if err != nil {
		return fmt.Errorf("failed to create salary snapshot: %w", err)
	}
	return nil
}

func (s *Store) LatestSalarySnapshot(ctx context.Context, tenantID generic.TenantID, owner generic.Owner, asOf time.Time) (*salary.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	kind, ownerID := ownerColumns(owner)
	snaps, err := s.querySalarySnapshots(ctx, `
		SELECT body_json FROM salary_snapshots
		WHERE tenant_id = ? AND owner_kind = ? AND owner_id = ? AND effective_date <= ?
		ORDER BY effective_date DESC, created_at DESC
		LIMIT 1`,
		tenantID, kind, ownerID, formatTime(asOf))
	if err != nil {
		return nil, err
	}
	if len(snaps) == 0 {
		return nil, fmt.Errorf("salary of %s as of %s: %w", owner, asOf.Format(time.DateOnly), generic.ErrNotFound)
	}
	return snaps[0], nil
}

func (s *Store) ListSalarySnapshots(ctx context.Context, tenantID generic.TenantID, owner generic.Owner) ([]*salary.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	kind, ownerID := ownerColumns(owner)
	return s.querySalarySnapshots(ctx, `
		SELECT body_json FROM salary_snapshots
		WHERE tenant_id = ? AND owner_kind = ? AND owner_id = ?
		ORDER BY effective_date DESC, created_at DESC`,
		tenantID, kind, ownerID)
}

func (s *Store) querySalarySnapshots(ctx context.Context, query string, args ...any) ([]*salary.Snapshot, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query salary snapshots: %w", err)
	}
	defer rows.Close()

	snaps := []*salary.Snapshot{}
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, err
		}
		var snap salary.Snapshot
		if err := json.Unmarshal([]byte(body), &snap); err != nil {
			return nil, fmt.Errorf("failed to decode salary snapshot: %w", err)
		}
		snaps = append(snaps, &snap)
	}
	return snaps, rows.Err()
}

func ownerColumns(o generic.Owner) (kind, id string) {
	if o.IsEmployee() {
		return "employee", string(o.EmployeeID)
	}
	return "applicant", string(o.ApplicantID)
}

// =============================================================================
// ATTENDANCE SNAPSHOTS (attendance.Store) - upsert per period
// =============================================================================

func (s *Store) UpsertAttendanceSnapshot(ctx context.Context, snap *attendance.Snapshot) error {
	body, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to encode attendance snapshot: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO attendance_snapshots (id, tenant_id, employee_id, period, frozen_at, body_json)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(tenant_id, employee_id, period) DO UPDATE SET
			id = excluded.id,
			frozen_at = excluded.frozen_at,
			body_json = excluded.body_json`,
		snap.ID(), snap.TenantID(), snap.EmployeeID(), snap.Period().String(),
		formatTime(snap.FrozenAt()), string(body),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert attendance snapshot: %w", err)
	}
	return nil
}

func (s *Store) GetAttendanceSnapshot(ctx context.Context, tenantID generic.TenantID, employeeID generic.EmployeeID, period generic.Period) (*attendance.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var body string
	err := s.db.QueryRowContext(ctx,
		"SELECT body_json FROM attendance_snapshots WHERE tenant_id = ? AND employee_id = ? AND period = ?",
		tenantID, employeeID, period.String(),
	).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("attendance of %s for %s: %w", employeeID, period, generic.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}

	var snap attendance.Snapshot
	if err := json.Unmarshal([]byte(body), &snap); err != nil {
		return nil, fmt.Errorf("failed to decode attendance snapshot: %w", err)
	}
	return &snap, nil
}

// =============================================================================
// PAYROLL RUNS (payroll.Store) - insert-only, unique per version
// =============================================================================

func (s *Store) CreatePayrollRun(ctx context.Context, run *payroll.RunSnapshot) error {
	body, err := json.Marshal(run)
	if err != nil {
		return fmt.Errorf("failed to encode payroll run: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO payroll_runs (id, tenant_id, period, version, locked, created_at, body_json)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		run.ID(), run.TenantID(), run.Period().String(), run.Version(), run.Locked(),
		formatTime(run.CreatedAt()), string(body),
	)
	if isUniqueConstraintError(err) {
		return fmt.Errorf("payroll %s version %d: %w", run.Period(), run.Version(), generic.ErrConflict)
	}
	if err != nil {
		return fmt.Errorf("failed to create payroll run: %w", err)
	}
	return nil
}

func (s *Store) LatestPayrollRun(ctx context.Context, tenantID generic.TenantID, period generic.Period) (*payroll.RunSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	runs, err := s.queryPayrollRuns(ctx, `
		SELECT body_json FROM payroll_runs
		WHERE tenant_id = ? AND period = ?
		ORDER BY version DESC
		LIMIT 1`,
		tenantID, period.String())
	if err != nil {
		return nil, err
	}
	if len(runs) == 0 {
		return nil, fmt.Errorf("payroll %s: %w", period, generic.ErrNotFound)
	}
	return runs[0], nil
}

func (s *Store) ListPayrollRuns(ctx context.Context, tenantID generic.TenantID) ([]*payroll.RunSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.queryPayrollRuns(ctx, `
		SELECT body_json FROM payroll_runs
		WHERE tenant_id = ?
		ORDER BY period DESC, version DESC`,
		tenantID)
}

func (s *Store) queryPayrollRuns(ctx context.Context, query string, args ...any) ([]*payroll.RunSnapshot, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query payroll runs: %w", err)
	}
	defer rows.Close()

	runs := []*payroll.RunSnapshot{}
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, err
		}
		var run payroll.RunSnapshot
		if err := json.Unmarshal([]byte(body), &run); err != nil {
			return nil, fmt.Errorf("failed to decode payroll run: %w", err)
		}
		runs = append(runs, &run)
	}
	return runs, rows.Err()
}

// =============================================================================
// UTILITIES
// =============================================================================

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullTime(t time.Time) sql.NullString {
	if t.IsZero() {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(t), Valid: true}
}

func isUniqueConstraintError(err error) bool {
	var se sqlite3.Error
	if errors.As(err, &se) {
		return se.ExtendedCode == sqlite3.ErrConstraintUnique || se.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}
