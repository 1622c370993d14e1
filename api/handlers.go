/*
handlers.go - HTTP API handlers for the payroll engine

PURPOSE:
  Exposes salary assignment, attendance freezing and payroll runs via REST.
  Handles HTTP request/response, JSON serialization, and delegates to the
  salary, attendance and payroll services.

ENDPOINTS (all under /api, all require the X-Tenant-ID header):
  Employees:
    GET    /employees                         List employees
    POST   /employees                         Create or replace employee
    GET    /employees/{id}                    Get employee

  Templates:
    GET    /templates                         List templates
    POST   /templates                         Create template from JSON
    GET    /templates/{id}                    Get template
    POST   /templates/{id}/preview            Resolve at a CTC, store nothing

  Salary:
    POST   /employees/{id}/salary             Assign template at a CTC
    GET    /employees/{id}/salary?as_of=      Salary in force (default today)
    GET    /employees/{id}/salary/history     Every snapshot, latest first
    POST   /applicants/{id}/salary            Offer salary to an applicant
    GET    /applicants/{id}/salary            Applicant's current offer

  Attendance:
    PUT    /employees/{id}/attendance         Upsert daily records
    GET    /employees/{id}/attendance/{period} Frozen snapshot
    POST   /periods/{period}/attendance/freeze Freeze every active employee

  Payroll:
    POST   /periods/{period}/payroll          Run payroll
    GET    /periods/{period}/payroll          Latest run of the period
    GET    /employees/{id}/payslips           Payslips, newest period first
    GET    /employees/{id}/payslips/{period}  One payslip

ERROR HANDLING:
  Errors are returned as JSON with a status derived from the error category:
  - 400: Validation errors, invalid input
  - 404: Resource not found
  - 409: Conflict (duplicate template, locked period)
  - 422: Resolution and integrity errors
  - 500: Internal errors

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/warp/payroll-engine/attendance"
	"github.com/warp/payroll-engine/factory"
	"github.com/warp/payroll-engine/generic"
	"github.com/warp/payroll-engine/payroll"
	"github.com/warp/payroll-engine/salary"
)

// maxBodyBytes bounds request bodies; a month of records for one employee
// is far below it.
const maxBodyBytes = 1 << 20

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Employees  generic.EmployeeStore
	Templates  salary.TemplateStore
	Records    attendance.RecordStore
	Salary     *salary.Service
	Attendance *attendance.Service
	Payroll    *payroll.Service
	Clock      generic.Clock
	Logger     *zap.Logger

	validate *validator.Validate
}

// Deps are the collaborators of a Handler.
type Deps struct {
	Employees  generic.EmployeeStore
	Templates  salary.TemplateStore
	Records    attendance.RecordStore
	Salary     *salary.Service
	Attendance *attendance.Service
	Payroll    *payroll.Service
	Logger     *zap.Logger
}

func NewHandler(d Deps) *Handler {
	logger := d.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		Employees:  d.Employees,
		Templates:  d.Templates,
		Records:    d.Records,
		Salary:     d.Salary,
		Attendance: d.Attendance,
		Payroll:    d.Payroll,
		Clock:      generic.SystemClock{},
		Logger:     logger,
		validate:   newValidator(),
	}
}

// =============================================================================
// EMPLOYEE HANDLERS
// =============================================================================

func (h *Handler) ListEmployees(w http.ResponseWriter, r *http.Request) {
	employees, err := h.Employees.ListEmployees(r.Context(), tenantFrom(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	dtos := make([]EmployeeDTO, len(employees))
	for i, e := range employees {
		dtos[i] = toEmployeeDTO(e)
	}
	writeJSON(w, http.StatusOK, dtos)
}

func (h *Handler) GetEmployee(w http.ResponseWriter, r *http.Request) {
	emp, err := h.Employees.GetEmployee(r.Context(), tenantFrom(r), generic.EmployeeID(chi.URLParam(r, "id")))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toEmployeeDTO(emp))
}

// SaveEmployee creates or replaces an employee.
func (h *Handler) SaveEmployee(w http.ResponseWriter, r *http.Request) {
	var req SaveEmployeeRequest
	if !h.decodeAndValidate(w, r, &req) {
		return
	}

	emp := generic.Employee{
		ID:       generic.EmployeeID(req.ID),
		TenantID: tenantFrom(r),
		Name:     req.Name,
		Email:    req.Email,
		Status:   generic.EmployeeStatus(req.Status),
	}
	if emp.Status == "" {
		emp.Status = generic.EmployeeActive
	}
	if req.HireDate != "" {
		emp.HireDate, _ = time.Parse(time.DateOnly, req.HireDate)
	}

	if err := h.Employees.SaveEmployee(r.Context(), emp); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toEmployeeDTO(emp))
}

// =============================================================================
// TEMPLATE HANDLERS
// =============================================================================

func (h *Handler) ListTemplates(w http.ResponseWriter, r *http.Request) {
	templates, err := h.Templates.ListTemplates(r.Context(), tenantFrom(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, templates)
}

// CreateTemplate parses a template document (see factory/template.go) and
// stores it. The same name and version twice is a conflict.
func (h *Handler) CreateTemplate(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		h.writeError(w, r, generic.Invalid("body", err.Error()))
		return
	}

	tmpl, err := factory.NewTemplateFactory(tenantFrom(r)).ParseTemplate(string(body))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := h.Templates.CreateTemplate(r.Context(), tmpl); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, tmpl)
}

func (h *Handler) GetTemplate(w http.ResponseWriter, r *http.Request) {
	tmpl, err := h.Templates.GetTemplate(r.Context(), tenantFrom(r), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, tmpl)
}

func (h *Handler) PreviewTemplate(w http.ResponseWriter, r *http.Request) {
	var req PreviewRequest
	if !h.decodeAndValidate(w, r, &req) {
		return
	}
	tmpl, err := h.Templates.GetTemplate(r.Context(), tenantFrom(r), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	b, err := h.Salary.Preview(tmpl, req.AnnualCTC)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toBreakdownDTO(b))
}

// =============================================================================
// SALARY HANDLERS
// =============================================================================

func (h *Handler) AssignEmployeeSalary(w http.ResponseWriter, r *http.Request) {
	id := generic.EmployeeID(chi.URLParam(r, "id"))
	if _, err := h.Employees.GetEmployee(r.Context(), tenantFrom(r), id); err != nil {
		h.writeError(w, r, err)
		return
	}
	h.assignSalary(w, r, generic.EmployeeOwner(id))
}

func (h *Handler) AssignApplicantSalary(w http.ResponseWriter, r *http.Request) {
	h.assignSalary(w, r, generic.ApplicantOwner(generic.ApplicantID(chi.URLParam(r, "id"))))
}

func (h *Handler) assignSalary(w http.ResponseWriter, r *http.Request, owner generic.Owner) {
	var req AssignSalaryRequest
	if !h.decodeAndValidate(w, r, &req) {
		return
	}
	tmpl, err := h.Templates.GetTemplate(r.Context(), tenantFrom(r), req.TemplateID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	sreq := salary.Request{
		TenantID:  tenantFrom(r),
		Owner:     owner,
		AnnualCTC: req.AnnualCTC,
	}
	if req.EffectiveDate != "" {
		sreq.EffectiveDate, _ = time.Parse(time.DateOnly, req.EffectiveDate)
	}

	snap, err := h.Salary.Assign(r.Context(), tmpl, sreq)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, snap)
}

func (h *Handler) CurrentEmployeeSalary(w http.ResponseWriter, r *http.Request) {
	h.currentSalary(w, r, generic.EmployeeOwner(generic.EmployeeID(chi.URLParam(r, "id"))))
}

func (h *Handler) CurrentApplicantSalary(w http.ResponseWriter, r *http.Request) {
	h.currentSalary(w, r, generic.ApplicantOwner(generic.ApplicantID(chi.URLParam(r, "id"))))
}

func (h *Handler) currentSalary(w http.ResponseWriter, r *http.Request, owner generic.Owner) {
	asOf := h.Clock.Now()
	if s := r.URL.Query().Get("as_of"); s != "" {
		d, err := time.Parse(time.DateOnly, s)
		if err != nil {
			h.writeError(w, r, generic.Invalid("as_of", "use YYYY-MM-DD"))
			return
		}
		// The whole day counts
		asOf = d.Add(24*time.Hour - time.Nanosecond)
	}

	snap, err := h.Salary.Current(r.Context(), tenantFrom(r), owner, asOf)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (h *Handler) SalaryHistory(w http.ResponseWriter, r *http.Request) {
	owner := generic.EmployeeOwner(generic.EmployeeID(chi.URLParam(r, "id")))
	history, err := h.Salary.History(r.Context(), tenantFrom(r), owner)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if history == nil {
		history = []*salary.Snapshot{}
	}
	writeJSON(w, http.StatusOK, history)
}

// =============================================================================
// ATTENDANCE HANDLERS
// =============================================================================

// RecordAttendance upserts daily records. Records of a locked period are
// refused: they could no longer reach a payslip.
func (h *Handler) RecordAttendance(w http.ResponseWriter, r *http.Request) {
	var req RecordAttendanceRequest
	if !h.decodeAndValidate(w, r, &req) {
		return
	}
	tenantID := tenantFrom(r)
	id := generic.EmployeeID(chi.URLParam(r, "id"))
	if _, err := h.Employees.GetEmployee(r.Context(), tenantID, id); err != nil {
		h.writeError(w, r, err)
		return
	}

	records := req.toRecords(id)
	checked := make(map[generic.Period]bool)
	for _, rec := range records {
		p := generic.PeriodOf(rec.Date)
		if checked[p] {
			continue
		}
		checked[p] = true
		locked, err := h.Payroll.IsPeriodLocked(r.Context(), tenantID, p)
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		if locked {
			h.writeError(w, r, fmt.Errorf("record attendance for %s: %w", p, generic.ErrPeriodLocked))
			return
		}
	}

	if err := h.Records.UpsertDailyRecords(r.Context(), tenantID, records); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"recorded": len(records)})
}

func (h *Handler) GetAttendance(w http.ResponseWriter, r *http.Request) {
	period, ok := h.periodParam(w, r)
	if !ok {
		return
	}
	snap, err := h.Attendance.Snapshot(r.Context(), tenantFrom(r), generic.EmployeeID(chi.URLParam(r, "id")), period)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// FreezeAttendance freezes every active employee. Per-employee failures do
// not fail the request; they are listed in the result.
func (h *Handler) FreezeAttendance(w http.ResponseWriter, r *http.Request) {
	period, ok := h.periodParam(w, r)
	if !ok {
		return
	}
	res, err := h.Attendance.Freeze(r.Context(), tenantFrom(r), period)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// =============================================================================
// PAYROLL HANDLERS
// =============================================================================

func (h *Handler) RunPayroll(w http.ResponseWriter, r *http.Request) {
	period, ok := h.periodParam(w, r)
	if !ok {
		return
	}
	out, err := h.Payroll.Run(r.Context(), tenantFrom(r), period)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, out)
}

func (h *Handler) GetPayroll(w http.ResponseWriter, r *http.Request) {
	period, ok := h.periodParam(w, r)
	if !ok {
		return
	}
	run, err := h.Payroll.Latest(r.Context(), tenantFrom(r), period)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

func (h *Handler) GetPayslip(w http.ResponseWriter, r *http.Request) {
	period, ok := h.periodParam(w, r)
	if !ok {
		return
	}
	slip, err := h.Payroll.Payslip(r.Context(), tenantFrom(r), generic.EmployeeID(chi.URLParam(r, "id")), period)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, slip)
}

func (h *Handler) ListPayslips(w http.ResponseWriter, r *http.Request) {
	slips, err := h.Payroll.Payslips(r.Context(), tenantFrom(r), generic.EmployeeID(chi.URLParam(r, "id")))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if slips == nil {
		slips = []payroll.Payslip{}
	}
	writeJSON(w, http.StatusOK, slips)
}

// =============================================================================
// HELPERS
// =============================================================================

func (h *Handler) periodParam(w http.ResponseWriter, r *http.Request) (generic.Period, bool) {
	p, err := generic.ParsePeriod(chi.URLParam(r, "period"))
	if err != nil {
		h.writeError(w, r, err)
		return generic.Period{}, false
	}
	return p, true
}

// decodeAndValidate decodes the JSON body into dst and runs the validator.
// On failure the response is already written.
func (h *Handler) decodeAndValidate(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "Invalid request body", Details: err.Error()})
		return false
	}

	err := h.validate.Struct(dst)
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		fields := make(map[string]string, len(verrs))
		for _, fe := range verrs {
			fields[fe.Namespace()] = fe.Tag()
		}
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "Validation failed", Fields: fields})
		return false
	}
	if err != nil {
		h.writeError(w, r, err)
		return false
	}
	return true
}

// statusFor maps error categories to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, generic.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, generic.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, generic.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, generic.ErrResolution), errors.Is(err, generic.ErrIntegrity):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		h.Logger.Error("request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err))
		writeJSON(w, status, ErrorResponse{Error: http.StatusText(status)})
		return
	}
	writeJSON(w, status, ErrorResponse{Error: http.StatusText(status), Details: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
