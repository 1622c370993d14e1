package generic

import (
	"fmt"
	"regexp"
	"strconv"
	"time"
)

// =============================================================================
// PERIOD - A payroll month
// =============================================================================

var periodPattern = regexp.MustCompile(`^\d{4}-\d{2}$`)

// Period is a calendar month identified as "YYYY-MM". Attendance is frozen
// and payroll is run once per period.
type Period struct {
	Year  int
	Month time.Month
}

// ParsePeriod validates and parses a "YYYY-MM" string.
func ParsePeriod(s string) (Period, error) {
	if !periodPattern.MatchString(s) {
		return Period{}, &ValidationError{Field: "period", Message: fmt.Sprintf("%q must match YYYY-MM", s), Err: ErrInvalidPeriod}
	}
	year, _ := strconv.Atoi(s[:4])
	month, _ := strconv.Atoi(s[5:])
	if month < 1 || month > 12 {
		return Period{}, &ValidationError{Field: "period", Message: fmt.Sprintf("%q has month out of range", s), Err: ErrInvalidPeriod}
	}
	return Period{Year: year, Month: time.Month(month)}, nil
}

// MustParsePeriod parses s or panics. Use in tests.
func MustParsePeriod(s string) Period {
	p, err := ParsePeriod(s)
	if err != nil {
		panic(err)
	}
	return p
}

// PeriodOf returns the period containing t.
func PeriodOf(t time.Time) Period {
	return Period{Year: t.Year(), Month: t.Month()}
}

func (p Period) IsZero() bool { return p.Year == 0 && p.Month == 0 }

func (p Period) String() string {
	return fmt.Sprintf("%04d-%02d", p.Year, int(p.Month))
}

// Start is midnight UTC on the first day of the month.
func (p Period) Start() time.Time {
	return time.Date(p.Year, p.Month, 1, 0, 0, 0, 0, time.UTC)
}

// End is midnight UTC on the last day of the month.
func (p Period) End() time.Time {
	return p.Start().AddDate(0, 1, -1)
}

// EndOfDay is the last instant of the month, used for "effective on or
// before the period end" lookups.
func (p Period) EndOfDay() time.Time {
	return p.Start().AddDate(0, 1, 0).Add(-time.Nanosecond)
}

// TotalDays is the number of calendar days in the month.
func (p Period) TotalDays() int {
	return p.End().Day()
}

// Contains reports whether the calendar date of t falls inside the month.
func (p Period) Contains(t time.Time) bool {
	return t.Year() == p.Year && t.Month() == p.Month
}

func (p Period) Next() Period     { return PeriodOf(p.Start().AddDate(0, 1, 0)) }
func (p Period) Previous() Period { return PeriodOf(p.Start().AddDate(0, -1, 0)) }

func (p Period) MarshalText() ([]byte, error) { return []byte(p.String()), nil }

func (p *Period) UnmarshalText(b []byte) error {
	parsed, err := ParsePeriod(string(b))
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}
