package generic_test

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/payroll-engine/generic"
)

func TestParsePeriod(t *testing.T) {
	p, err := generic.ParsePeriod("2024-02")
	require.NoError(t, err)
	assert.Equal(t, generic.Period{Year: 2024, Month: time.February}, p)
	assert.Equal(t, "2024-02", p.String())

	for _, bad := range []string{"", "2024-2", "2024-13", "2024-00", "24-01", "2024/01", "2024-01-01"} {
		_, err := generic.ParsePeriod(bad)
		assert.ErrorIs(t, err, generic.ErrInvalidPeriod, bad)
		assert.ErrorIs(t, err, generic.ErrValidation, bad)
	}
}

func TestPeriod_Calendar(t *testing.T) {
	tests := []struct {
		period string
		days   int
	}{
		{"2024-01", 31},
		{"2024-02", 29},
		{"2023-02", 28},
		{"2100-02", 28},
		{"2000-02", 29},
		{"2024-04", 30},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.days, generic.MustParsePeriod(tt.period).TotalDays(), tt.period)
	}

	jan := generic.MustParsePeriod("2024-01")
	assert.Equal(t, time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC), jan.End())
	assert.Equal(t, time.Date(2024, 1, 31, 23, 59, 59, 999999999, time.UTC), jan.EndOfDay())
	assert.True(t, jan.Contains(time.Date(2024, 1, 31, 23, 0, 0, 0, time.UTC)))
	assert.False(t, jan.Contains(time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)))

	assert.Equal(t, "2023-12", jan.Previous().String())
	assert.Equal(t, "2024-02", jan.Next().String())
	assert.Equal(t, "2025-01", generic.MustParsePeriod("2024-12").Next().String())
}

func TestPeriod_JSON(t *testing.T) {
	type doc struct {
		Period generic.Period `json:"period"`
	}
	b, err := json.Marshal(doc{generic.MustParsePeriod("2024-03")})
	require.NoError(t, err)
	assert.JSONEq(t, `{"period":"2024-03"}`, string(b))

	var d doc
	require.NoError(t, json.Unmarshal(b, &d))
	assert.Equal(t, time.March, d.Period.Month)

	assert.Error(t, json.Unmarshal([]byte(`{"period":"March"}`), &d))
}

func TestRoundCurrency_HalfAwayFromZero(t *testing.T) {
	tests := map[string]string{
		"12.345":     "12.35",
		"-12.345":    "-12.35",
		"12.344":     "12.34",
		"0.005":      "0.01",
		"20967.7419": "20967.74",
	}
	for in, want := range tests {
		assert.Equal(t, want, generic.RoundCurrency(generic.MustParseDecimal(in)).StringFixed(2), in)
	}
}

func TestOwner_Validate(t *testing.T) {
	assert.NoError(t, generic.EmployeeOwner("e1").Validate())
	assert.NoError(t, generic.ApplicantOwner("a1").Validate())
	assert.ErrorIs(t, generic.Owner{}.Validate(), generic.ErrValidation)
	assert.ErrorIs(t, generic.Owner{EmployeeID: "e1", ApplicantID: "a1"}.Validate(), generic.ErrValidation)

	assert.Equal(t, "employee:e1", generic.EmployeeOwner("e1").String())
	assert.Equal(t, "applicant:a1", generic.ApplicantOwner("a1").String())
}

func TestEmployee_Validate(t *testing.T) {
	ok := generic.Employee{ID: "e1", TenantID: "acme", Status: generic.EmployeeActive}
	assert.NoError(t, ok.Validate())

	noTenant := ok
	noTenant.TenantID = ""
	assert.ErrorIs(t, noTenant.Validate(), generic.ErrValidation)

	badStatus := ok
	badStatus.Status = "on_leave"
	assert.ErrorIs(t, badStatus.Validate(), generic.ErrValidation)
}

func TestErrorClassification(t *testing.T) {
	cause := errors.New("division by zero")
	resErr := fmt.Errorf("payroll: %w", &generic.ResolutionError{EmployeeID: "e1", Component: "BASIC", Err: cause})

	assert.ErrorIs(t, resErr, generic.ErrResolution)
	assert.ErrorIs(t, resErr, cause)
	assert.True(t, generic.IsClientError(resErr))
	assert.Contains(t, resErr.Error(), "employee e1 component BASIC")

	var re *generic.ResolutionError
	require.ErrorAs(t, resErr, &re)
	assert.Equal(t, generic.EmployeeID("e1"), re.EmployeeID)

	locked := fmt.Errorf("freeze: %w", generic.ErrPeriodLocked)
	assert.True(t, generic.IsConflict(locked))
	assert.False(t, generic.IsClientError(locked))

	assert.True(t, generic.IsNotFound(fmt.Errorf("x: %w", generic.ErrNotFound)))
	assert.True(t, generic.IsClientError(generic.Invalid("ctc", "must be positive")))
}
