package attendance

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/payroll-engine/generic"
)

// Snapshot is one employee's frozen attendance for one period. Re-freezing
// the period replaces it as a whole; it is never edited field by field.
type Snapshot struct {
	id          string
	tenantID    generic.TenantID
	employeeID  generic.EmployeeID
	period      generic.Period
	totalDays   int
	presentDays decimal.Decimal
	absentDays  int
	leaveDays   int
	holidays    int
	weeklyOffs  int
	halfDays    int
	frozenAt    time.Time
}

func (s *Snapshot) ID() string                     { return s.id }
func (s *Snapshot) TenantID() generic.TenantID     { return s.tenantID }
func (s *Snapshot) EmployeeID() generic.EmployeeID { return s.employeeID }
func (s *Snapshot) Period() generic.Period         { return s.period }
func (s *Snapshot) TotalDays() int                 { return s.totalDays }
func (s *Snapshot) PresentDays() decimal.Decimal   { return s.presentDays }
func (s *Snapshot) AbsentDays() int                { return s.absentDays }
func (s *Snapshot) LeaveDays() int                 { return s.leaveDays }
func (s *Snapshot) Holidays() int                  { return s.holidays }
func (s *Snapshot) WeeklyOffs() int                { return s.weeklyOffs }
func (s *Snapshot) HalfDays() int                  { return s.halfDays }
func (s *Snapshot) FrozenAt() time.Time            { return s.frozenAt }

// PaidDays is present + leave + holidays + weekly offs. Half days are already
// part of present.
func (s *Snapshot) PaidDays() decimal.Decimal {
	return s.presentDays.Add(decimal.NewFromInt(int64(s.leaveDays + s.holidays + s.weeklyOffs)))
}

// CountedDays is every day with a record: paid days plus absences.
func (s *Snapshot) CountedDays() decimal.Decimal {
	return s.PaidDays().Add(decimal.NewFromInt(int64(s.absentDays)))
}

type snapshotJSON struct {
	ID          string             `json:"id"`
	TenantID    generic.TenantID   `json:"tenant_id"`
	EmployeeID  generic.EmployeeID `json:"employee_id"`
	Period      generic.Period     `json:"period"`
	TotalDays   int                `json:"total_days"`
	PresentDays decimal.Decimal    `json:"present_days"`
	AbsentDays  int                `json:"absent_days"`
	LeaveDays   int                `json:"leave_days"`
	Holidays    int                `json:"holidays"`
	WeeklyOffs  int                `json:"weekly_offs"`
	HalfDays    int                `json:"half_days"`
	FrozenAt    time.Time          `json:"frozen_at"`
}

func (s *Snapshot) MarshalJSON() ([]byte, error) {
	return json.Marshal(snapshotJSON{
		ID:          s.id,
		TenantID:    s.tenantID,
		EmployeeID:  s.employeeID,
		Period:      s.period,
		TotalDays:   s.totalDays,
		PresentDays: s.presentDays,
		AbsentDays:  s.absentDays,
		LeaveDays:   s.leaveDays,
		Holidays:    s.holidays,
		WeeklyOffs:  s.weeklyOffs,
		HalfDays:    s.halfDays,
		FrozenAt:    s.frozenAt,
	})
}

// UnmarshalJSON restores a stored snapshot.
func (s *Snapshot) UnmarshalJSON(b []byte) error {
	var j snapshotJSON
	if err := json.Unmarshal(b, &j); err != nil {
		return err
	}
	*s = Snapshot{
		id:          j.ID,
		tenantID:    j.TenantID,
		employeeID:  j.EmployeeID,
		period:      j.Period,
		totalDays:   j.TotalDays,
		presentDays: j.PresentDays,
		absentDays:  j.AbsentDays,
		leaveDays:   j.LeaveDays,
		holidays:    j.Holidays,
		weeklyOffs:  j.WeeklyOffs,
		halfDays:    j.HalfDays,
		frozenAt:    j.FrozenAt,
	}
	return nil
}
