/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. Snapshots and runs
  marshal themselves; DTOs here cover request bodies and the few responses
  that are not domain types.

NAMING CONVENTION:
  - *Request: Request body types from clients
  - *DTO: Response types returned to clients

VALIDATION:
  Request bodies carry go-playground/validator tags and are checked by
  decodeAndValidate before reaching a service. Domain rules (template
  integrity, owner exclusivity, period locks) stay in the services.

SEE ALSO:
  - handlers.go: Uses these types
  - factory/template.go: TemplateDocument, the template request body
*/
package api

import (
	"reflect"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/warp/payroll-engine/attendance"
	"github.com/warp/payroll-engine/generic"
	"github.com/warp/payroll-engine/salary"
)

// =============================================================================
// EMPLOYEES
// =============================================================================

// EmployeeDTO represents an employee in API responses.
type EmployeeDTO struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Email    string `json:"email,omitempty"`
	Status   string `json:"status"`
	HireDate string `json:"hire_date,omitempty"`
}

// SaveEmployeeRequest creates or replaces an employee.
type SaveEmployeeRequest struct {
	ID       string `json:"id" validate:"required,max=64"`
	Name     string `json:"name" validate:"required"`
	Email    string `json:"email" validate:"omitempty,email"`
	Status   string `json:"status" validate:"omitempty,oneof=active inactive"`
	HireDate string `json:"hire_date" validate:"omitempty,datetime=2006-01-02"`
}

func toEmployeeDTO(e generic.Employee) EmployeeDTO {
	dto := EmployeeDTO{ID: string(e.ID), Name: e.Name, Email: e.Email, Status: string(e.Status)}
	if !e.HireDate.IsZero() {
		dto.HireDate = e.HireDate.Format(time.DateOnly)
	}
	return dto
}

// =============================================================================
// SALARY
// =============================================================================

// PreviewRequest asks for a breakdown without persisting it.
type PreviewRequest struct {
	AnnualCTC decimal.Decimal `json:"annual_ctc" validate:"gt=0"`
}

// AssignSalaryRequest assigns a template at a CTC. EffectiveDate defaults to
// today.
type AssignSalaryRequest struct {
	TemplateID    string          `json:"template_id" validate:"required"`
	AnnualCTC     decimal.Decimal `json:"annual_ctc" validate:"gt=0"`
	EffectiveDate string          `json:"effective_date" validate:"omitempty,datetime=2006-01-02"`
}

// BreakdownDTO is a salary preview with its totals.
type BreakdownDTO struct {
	salary.Breakdown
	TotalEarnings   decimal.Decimal `json:"total_earnings"`
	TotalBenefits   decimal.Decimal `json:"total_benefits"`
	TotalDeductions decimal.Decimal `json:"total_deductions"`
}

func toBreakdownDTO(b salary.Breakdown) BreakdownDTO {
	return BreakdownDTO{
		Breakdown:       b,
		TotalEarnings:   b.TotalEarnings(),
		TotalBenefits:   b.TotalBenefits(),
		TotalDeductions: b.TotalDeductions(),
	}
}

// =============================================================================
// ATTENDANCE
// =============================================================================

// DailyRecordRequest is one day of one employee's attendance.
type DailyRecordRequest struct {
	Date   string `json:"date" validate:"required,datetime=2006-01-02"`
	Status string `json:"status" validate:"required,oneof=present absent leave holiday weekly_off half_day"`
}

// RecordAttendanceRequest upserts daily records for an employee.
type RecordAttendanceRequest struct {
	Records []DailyRecordRequest `json:"records" validate:"required,min=1,dive"`
}

func (r RecordAttendanceRequest) toRecords(employeeID generic.EmployeeID) []attendance.DailyRecord {
	out := make([]attendance.DailyRecord, 0, len(r.Records))
	for _, rec := range r.Records {
		// Already validated by the datetime tag
		date, _ := time.Parse(time.DateOnly, rec.Date)
		out = append(out, attendance.DailyRecord{EmployeeID: employeeID, Date: date, Status: attendance.Status(rec.Status)})
	}
	return out
}

// =============================================================================
// COMMON
// =============================================================================

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error   string            `json:"error"`
	Details string            `json:"details,omitempty"`
	Fields  map[string]string `json:"fields,omitempty"`
}

// newValidator returns a validator that compares decimals numerically.
func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterCustomTypeFunc(func(field reflect.Value) any {
		if d, ok := field.Interface().(decimal.Decimal); ok {
			f, _ := d.Float64()
			return f
		}
		return nil
	}, decimal.Decimal{})
	return v
}
