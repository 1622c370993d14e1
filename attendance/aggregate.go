/*
Package attendance reduces daily attendance into frozen per-period snapshots.

PURPOSE:
  Payroll never reads daily attendance directly. Once a month is over, the
  daily records of each employee are frozen into one Snapshot with six
  counters, and payroll prorates against that snapshot.

COUNTERS:
  present     +1 per present day, +0.5 per half day
  absent      +1
  leave       +1
  holiday     +1
  weekly_off  +1
  half_day    +1 (tracked separately; already folded into present)

  Total days always comes from the calendar, never from the number of
  records, so a month with gaps still reports 28/29/30/31.

PERMISSIVE INPUT:
  Records with an unknown status, a date outside the period, or a different
  employee are skipped. They are returned in Aggregation.Ignored instead of
  disappearing silently. Two records for the same date: the later one in the
  input wins, so counters can never exceed total days.
*/
package attendance

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/warp/payroll-engine/generic"
)

// Status is the day type of a daily record.
type Status string

const (
	StatusPresent   Status = "present"
	StatusAbsent    Status = "absent"
	StatusLeave     Status = "leave"
	StatusHoliday   Status = "holiday"
	StatusWeeklyOff Status = "weekly_off"
	StatusHalfDay   Status = "half_day"
)

func (s Status) Valid() bool {
	switch s {
	case StatusPresent, StatusAbsent, StatusLeave, StatusHoliday, StatusWeeklyOff, StatusHalfDay:
		return true
	}
	return false
}

// DailyRecord is one employee's attendance on one date.
type DailyRecord struct {
	EmployeeID generic.EmployeeID `json:"employee_id"`
	Date       time.Time          `json:"date"`
	Status     Status             `json:"status"`
}

// IgnoredRecord is a daily record that did not contribute to the counters.
type IgnoredRecord struct {
	Record DailyRecord `json:"record"`
	Reason string      `json:"reason"`
}

const (
	ReasonUnknownStatus  = "unknown status"
	ReasonOutsidePeriod  = "outside period"
	ReasonOtherEmployee  = "different employee"
	ReasonSupersededDate = "superseded by a later record for the same date"
)

// AggregateInput is everything needed to freeze one employee's month.
type AggregateInput struct {
	ID         string // generated when empty
	TenantID   generic.TenantID
	EmployeeID generic.EmployeeID
	Period     generic.Period
	Records    []DailyRecord
	FrozenAt   time.Time
}

// Aggregation is the frozen snapshot plus the records it skipped.
type Aggregation struct {
	Snapshot *Snapshot
	Ignored  []IgnoredRecord
}

// Aggregate reduces daily records into a Snapshot. It does not persist.
func Aggregate(in AggregateInput) (Aggregation, error) {
	if in.TenantID == "" {
		return Aggregation{}, generic.Invalid("tenant", "tenant id is required")
	}
	if in.EmployeeID == "" {
		return Aggregation{}, generic.Invalid("employee", "employee id is required")
	}
	if in.Period.IsZero() {
		return Aggregation{}, &generic.ValidationError{Field: "period", Message: "period is required", Err: generic.ErrInvalidPeriod}
	}

	var ignored []IgnoredRecord
	byDate := make(map[time.Time]int) // date -> index into kept
	var kept []DailyRecord

	for _, r := range in.Records {
		switch {
		case r.EmployeeID != "" && r.EmployeeID != in.EmployeeID:
			ignored = append(ignored, IgnoredRecord{Record: r, Reason: ReasonOtherEmployee})
			continue
		case !in.Period.Contains(r.Date):
			ignored = append(ignored, IgnoredRecord{Record: r, Reason: ReasonOutsidePeriod})
			continue
		case !r.Status.Valid():
			ignored = append(ignored, IgnoredRecord{Record: r, Reason: ReasonUnknownStatus})
			continue
		}

		day := generic.DateOnly(r.Date)
		if i, dup := byDate[day]; dup {
			ignored = append(ignored, IgnoredRecord{Record: kept[i], Reason: ReasonSupersededDate})
			kept[i] = r
			continue
		}
		byDate[day] = len(kept)
		kept = append(kept, r)
	}

	s := &Snapshot{
		id:          in.ID,
		tenantID:    in.TenantID,
		employeeID:  in.EmployeeID,
		period:      in.Period,
		totalDays:   in.Period.TotalDays(),
		presentDays: decimal.Zero,
		frozenAt:    in.FrozenAt,
	}
	if s.id == "" {
		s.id = uuid.NewString()
	}

	for _, r := range kept {
		switch r.Status {
		case StatusPresent:
			s.presentDays = s.presentDays.Add(decimal.NewFromInt(1))
		case StatusAbsent:
			s.absentDays++
		case StatusLeave:
			s.leaveDays++
		case StatusHoliday:
			s.holidays++
		case StatusWeeklyOff:
			s.weeklyOffs++
		case StatusHalfDay:
			s.presentDays = s.presentDays.Add(generic.Half)
			s.halfDays++
		}
	}

	if counted := s.CountedDays(); counted.GreaterThan(decimal.NewFromInt(int64(s.totalDays))) {
		// unreachable with one record per date; guards future status types
		return Aggregation{}, fmt.Errorf("attendance for %s in %s counts %s days of %d", in.EmployeeID, in.Period, counted, s.totalDays)
	}
	return Aggregation{Snapshot: s, Ignored: ignored}, nil
}
