/*
handlers_test.go - HTTP tests for the API

Drives the router end to end against the in-memory store: employees,
templates, salary assignment, attendance freeze, payroll run and payslips,
plus the error-to-status mapping.
*/
package api_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/payroll-engine/api"
	"github.com/warp/payroll-engine/attendance"
	"github.com/warp/payroll-engine/factory"
	"github.com/warp/payroll-engine/generic"
	"github.com/warp/payroll-engine/payroll"
	"github.com/warp/payroll-engine/salary"
	"github.com/warp/payroll-engine/store/memory"
)

const tenant = "acme"

var now = time.Date(2024, 2, 5, 9, 0, 0, 0, time.UTC)

type testServer struct {
	t      *testing.T
	router http.Handler
}

func newServer(t *testing.T) *testServer {
	t.Helper()
	store := memory.New()
	clock := generic.FixedClock{At: now}

	salaries := salary.NewService(store, nil)
	salaries.Clock = clock
	pay := payroll.NewService(store, store, store, store, nil)
	pay.Clock = clock
	att := attendance.NewService(store, store, store, nil)
	att.Clock = clock
	att.Locks = pay

	h := api.NewHandler(api.Deps{
		Employees:  store,
		Templates:  store,
		Records:    store,
		Salary:     salaries,
		Attendance: att,
		Payroll:    pay,
	})
	h.Clock = clock
	return &testServer{t: t, router: api.NewRouter(h, api.RouterOptions{AllowedOrigins: []string{"*"}})}
}

func (s *testServer) do(method, path string, body any) *httptest.ResponseRecorder {
	s.t.Helper()
	var buf bytes.Buffer
	switch b := body.(type) {
	case nil:
	case string:
		buf.WriteString(b)
	default:
		require.NoError(s.t, json.NewEncoder(&buf).Encode(b))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(api.TenantHeader, tenant)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func (s *testServer) mustDo(status int, method, path string, body any) *httptest.ResponseRecorder {
	s.t.Helper()
	rec := s.do(method, path, body)
	require.Equal(s.t, status, rec.Code, rec.Body.String())
	return rec
}

func TestPayrollFlow(t *testing.T) {
	s := newServer(t)

	// GIVEN: an employee with the standard template at 600000 from January
	s.mustDo(http.StatusCreated, "POST", "/api/employees", map[string]string{"id": "e1", "name": "Asha Rao", "hire_date": "2023-04-01"})
	s.mustDo(http.StatusCreated, "POST", "/api/templates", factory.StandardTemplateJSON("tpl-std", "Standard"))
	s.mustDo(http.StatusCreated, "POST", "/api/employees/e1/salary", map[string]string{
		"template_id": "tpl-std", "annual_ctc": "600000", "effective_date": "2024-01-01",
	})

	// AND: 26 present days and 5 absences in January
	var records []map[string]string
	for d := 1; d <= 31; d++ {
		status := "present"
		if d > 26 {
			status = "absent"
		}
		records = append(records, map[string]string{"date": time.Date(2024, 1, d, 0, 0, 0, 0, time.UTC).Format(time.DateOnly), "status": status})
	}
	s.mustDo(http.StatusOK, "PUT", "/api/employees/e1/attendance", map[string]any{"records": records})

	// WHEN: attendance is frozen and payroll runs
	freeze := decode[map[string]json.RawMessage](t, s.mustDo(http.StatusOK, "POST", "/api/periods/2024-01/attendance/freeze", nil))
	assert.Contains(t, string(freeze["frozen"]), `"present_days":"26"`)

	out := decode[struct {
		Run     *payroll.RunSnapshot      `json:"run"`
		Skipped []payroll.SkippedEmployee `json:"skipped"`
	}](t, s.mustDo(http.StatusCreated, "POST", "/api/periods/2024-01/payroll", nil))

	// THEN: the payslip carries the prorated figures
	require.NotNil(t, out.Run)
	assert.Equal(t, 1, out.Run.Version())
	assert.Empty(t, out.Skipped)

	slip := decode[payroll.Payslip](t, s.mustDo(http.StatusOK, "GET", "/api/employees/e1/payslips/2024-01", nil))
	assert.Equal(t, out.Run.ID(), slip.RunID)
	assert.Equal(t, "0.8387", slip.Details.Attendance.Factor.String())
	assert.True(t, slip.NetPay.Equal(slip.GrossEarnings.Sub(slip.TotalDeductions)))

	slips := decode[[]payroll.Payslip](t, s.mustDo(http.StatusOK, "GET", "/api/employees/e1/payslips", nil))
	assert.Len(t, slips, 1)

	// AND: January is now locked
	s.mustDo(http.StatusConflict, "POST", "/api/periods/2024-01/payroll", nil)
	s.mustDo(http.StatusConflict, "POST", "/api/periods/2024-01/attendance/freeze", nil)
	s.mustDo(http.StatusConflict, "PUT", "/api/employees/e1/attendance", map[string]any{
		"records": []map[string]string{{"date": "2024-01-31", "status": "present"}},
	})

	run := decode[*payroll.RunSnapshot](t, s.mustDo(http.StatusOK, "GET", "/api/periods/2024-01/payroll", nil))
	assert.Equal(t, out.Run.ID(), run.ID())
}

func TestSalaryEndpoints(t *testing.T) {
	s := newServer(t)
	s.mustDo(http.StatusCreated, "POST", "/api/employees", map[string]string{"id": "e1", "name": "Asha"})
	s.mustDo(http.StatusCreated, "POST", "/api/templates", factory.FlatTemplateJSON("flat", "Flat", 0.6))

	// Preview stores nothing
	preview := decode[map[string]json.RawMessage](t, s.mustDo(http.StatusOK, "POST", "/api/templates/flat/preview", map[string]any{"annual_ctc": 100000}))
	assert.JSONEq(t, `"100000"`, string(preview["total_earnings"]))
	s.mustDo(http.StatusNotFound, "GET", "/api/employees/e1/salary", nil)

	// Two assignments, current depends on as_of
	s.mustDo(http.StatusCreated, "POST", "/api/employees/e1/salary", map[string]string{"template_id": "flat", "annual_ctc": "100000", "effective_date": "2024-01-01"})
	s.mustDo(http.StatusCreated, "POST", "/api/employees/e1/salary", map[string]string{"template_id": "flat", "annual_ctc": "120000", "effective_date": "2024-03-01"})

	cur := decode[*salary.Snapshot](t, s.mustDo(http.StatusOK, "GET", "/api/employees/e1/salary", nil))
	assert.Equal(t, "100000", cur.CTC().String())
	cur = decode[*salary.Snapshot](t, s.mustDo(http.StatusOK, "GET", "/api/employees/e1/salary?as_of=2024-03-01", nil))
	assert.Equal(t, "120000", cur.CTC().String())

	history := decode[[]*salary.Snapshot](t, s.mustDo(http.StatusOK, "GET", "/api/employees/e1/salary/history", nil))
	assert.Len(t, history, 2)

	// Applicants hold offers without being employees
	s.mustDo(http.StatusCreated, "POST", "/api/applicants/a1/salary", map[string]string{"template_id": "flat", "annual_ctc": "90000"})
	offer := decode[*salary.Snapshot](t, s.mustDo(http.StatusOK, "GET", "/api/applicants/a1/salary", nil))
	assert.Equal(t, generic.ApplicantID("a1"), offer.Owner().ApplicantID)
	assert.Equal(t, time.Date(2024, 2, 5, 0, 0, 0, 0, time.UTC), offer.EffectiveDate())
}

func TestErrorStatuses(t *testing.T) {
	s := newServer(t)
	s.mustDo(http.StatusCreated, "POST", "/api/employees", map[string]string{"id": "e1", "name": "Asha"})
	s.mustDo(http.StatusCreated, "POST", "/api/templates", factory.FlatTemplateJSON("flat", "Flat", 0.6))

	// A template that leaves CTC unallocated
	s.mustDo(http.StatusCreated, "POST", "/api/templates", `{"id": "short", "name": "Short", "earnings": [{"name": "Basic", "formula": "CTC * 0.5"}]}`)
	// A template referencing an unknown code
	s.mustDo(http.StatusCreated, "POST", "/api/templates", `{"id": "broken", "name": "Broken", "earnings": [{"name": "Basic", "formula": "CTC - BONUS"}]}`)

	tests := []struct {
		name   string
		method string
		path   string
		body   any
		status int
	}{
		{"bad period", "POST", "/api/periods/2024-13/payroll", nil, http.StatusBadRequest},
		{"unknown employee", "GET", "/api/employees/nobody", nil, http.StatusNotFound},
		{"unknown template", "GET", "/api/templates/nope", nil, http.StatusNotFound},
		{"duplicate template", "POST", "/api/templates", factory.FlatTemplateJSON("flat-2", "Flat", 0.5), http.StatusConflict},
		{"invalid template", "POST", "/api/templates", `{"name": "Empty", "earnings": []}`, http.StatusBadRequest},
		{"malformed body", "POST", "/api/employees", `{"id": `, http.StatusBadRequest},
		{"unknown field", "POST", "/api/employees", `{"id": "x", "name": "X", "salary": 1}`, http.StatusBadRequest},
		{"bad email", "POST", "/api/employees", map[string]string{"id": "x", "name": "X", "email": "nope"}, http.StatusBadRequest},
		{"zero ctc", "POST", "/api/employees/e1/salary", map[string]string{"template_id": "flat", "annual_ctc": "0"}, http.StatusBadRequest},
		{"salary for unknown employee", "POST", "/api/employees/ghost/salary", map[string]string{"template_id": "flat", "annual_ctc": "1"}, http.StatusNotFound},
		{"integrity failure", "POST", "/api/employees/e1/salary", map[string]string{"template_id": "short", "annual_ctc": "100000"}, http.StatusUnprocessableEntity},
		{"resolution failure", "POST", "/api/templates/broken/preview", map[string]string{"annual_ctc": "100000"}, http.StatusUnprocessableEntity},
		{"bad status", "PUT", "/api/employees/e1/attendance", map[string]any{"records": []map[string]string{{"date": "2024-01-02", "status": "sick"}}}, http.StatusBadRequest},
		{"nobody eligible", "POST", "/api/periods/2024-01/payroll", nil, http.StatusBadRequest},
		{"no frozen attendance", "GET", "/api/employees/e1/attendance/2024-01", nil, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := s.do(tt.method, tt.path, tt.body)
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
			errResp := decode[api.ErrorResponse](t, rec)
			assert.NotEmpty(t, errResp.Error)
		})
	}
}

func TestValidationErrorListsFields(t *testing.T) {
	s := newServer(t)

	rec := s.mustDo(http.StatusBadRequest, "POST", "/api/employees", map[string]string{"name": "X", "hire_date": "01/02/2024"})
	resp := decode[api.ErrorResponse](t, rec)

	assert.Equal(t, "required", resp.Fields["SaveEmployeeRequest.ID"])
	assert.Equal(t, "datetime", resp.Fields["SaveEmployeeRequest.HireDate"])
}

func TestTenantHeaderRequired(t *testing.T) {
	s := newServer(t)

	req := httptest.NewRequest("GET", "/api/employees", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// Tenants do not see each other's data
	s.mustDo(http.StatusCreated, "POST", "/api/employees", map[string]string{"id": "e1", "name": "Asha"})
	req = httptest.NewRequest("GET", "/api/employees/e1", nil)
	req.Header.Set(api.TenantHeader, "globex")
	rec = httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	// Health needs no tenant
	rec = httptest.NewRecorder()
	s.router.ServeHTTP(rec, httptest.NewRequest("GET", "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}
