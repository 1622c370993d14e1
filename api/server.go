/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. RequestLog: One structured log line per request (zap)
  3. Recoverer:  Panic recovery (500 instead of crash)
  4. CORS:       Cross-origin requests for frontend
  5. Tenant:     X-Tenant-ID header, required on /api

SECURITY NOTE:
  The tenant header is trusted as sent. Authentication belongs in front of
  this service.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/warp/payroll-engine/generic"
)

// TenantHeader carries the tenant of every /api request.
const TenantHeader = "X-Tenant-ID"

type tenantKey struct{}

// RouterOptions tune the middleware stack.
type RouterOptions struct {
	AllowedOrigins []string
}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, opts RouterOptions) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(RequestLog(h.Logger))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   opts.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", TenantHeader},
		AllowCredentials: true,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api", func(r chi.Router) {
		r.Use(Tenant)

		r.Route("/employees", func(r chi.Router) {
			r.Get("/", h.ListEmployees)
			r.Post("/", h.SaveEmployee)
			r.Get("/{id}", h.GetEmployee)

			r.Post("/{id}/salary", h.AssignEmployeeSalary)
			r.Get("/{id}/salary", h.CurrentEmployeeSalary)
			r.Get("/{id}/salary/history", h.SalaryHistory)

			r.Put("/{id}/attendance", h.RecordAttendance)
			r.Get("/{id}/attendance/{period}", h.GetAttendance)

			r.Get("/{id}/payslips", h.ListPayslips)
			r.Get("/{id}/payslips/{period}", h.GetPayslip)
		})

		r.Route("/applicants/{id}/salary", func(r chi.Router) {
			r.Post("/", h.AssignApplicantSalary)
			r.Get("/", h.CurrentApplicantSalary)
		})

		r.Route("/templates", func(r chi.Router) {
			r.Get("/", h.ListTemplates)
			r.Post("/", h.CreateTemplate)
			r.Get("/{id}", h.GetTemplate)
			r.Post("/{id}/preview", h.PreviewTemplate)
		})

		r.Route("/periods/{period}", func(r chi.Router) {
			r.Post("/attendance/freeze", h.FreezeAttendance)
			r.Post("/payroll", h.RunPayroll)
			r.Get("/payroll", h.GetPayroll)
		})
	})

	return r
}

// Tenant rejects requests without a tenant header and stores the tenant in
// the request context.
func Tenant(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tenant := strings.TrimSpace(r.Header.Get(TenantHeader))
		if tenant == "" {
			writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "Missing " + TenantHeader + " header"})
			return
		}
		ctx := context.WithValue(r.Context(), tenantKey{}, generic.TenantID(tenant))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func tenantFrom(r *http.Request) generic.TenantID {
	t, _ := r.Context().Value(tenantKey{}).(generic.TenantID)
	return t
}

// RequestLog logs each request once it completes, at a level chosen by the
// response status.
func RequestLog(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			fields := []zap.Field{
				zap.Int("status", ww.Status()),
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.String("request_id", middleware.GetReqID(r.Context())),
				zap.Int("bytes", ww.BytesWritten()),
				zap.Duration("latency", time.Since(start)),
			}
			switch status := ww.Status(); {
			case status >= 500:
				logger.Error("request failed", fields...)
			case status >= 400:
				logger.Warn("client error", fields...)
			default:
				logger.Info("request completed", fields...)
			}
		})
	}
}
