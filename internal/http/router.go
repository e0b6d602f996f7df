// Package httpapi assembles the public HTTP surface: middleware chain, role
// gates and the domain handlers.
package httpapi

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	attendancehandler "presence/internal/attendance/handler"
	identityhandler "presence/internal/identity/handler"
	jwttoken "presence/internal/jwt_token"
	"presence/internal/platform/metrics"
	reconcilehandler "presence/internal/reconcile/handler"
	"presence/pkg/platform/httputil"
	authmw "presence/pkg/platform/middleware/auth"
	"presence/pkg/platform/middleware/metadata"
	"presence/pkg/platform/middleware/request"
	"presence/pkg/platform/middleware/requesttime"
)

// Deps carries everything the router mounts.
type Deps struct {
	Logger     *slog.Logger
	Metrics    *metrics.Metrics
	Validator  authmw.JWTValidator
	Identity   *identityhandler.Handler
	Attendance *attendancehandler.Handler
	Reconcile  *reconcilehandler.Handler
	// MetricsHandler serves /metrics. Nil hides the endpoint.
	MetricsHandler http.Handler
}

// NewRouter wires the middleware chain and mounts kiosk routes behind the
// kiosk or admin role and admin routes behind the admin role.
func NewRouter(d Deps) http.Handler {
	logger := d.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	r := chi.NewRouter()
	r.Use(request.Recovery(logger))
	r.Use(request.RequestID)
	r.Use(request.Logger(logger))
	r.Use(requesttime.Middleware)
	r.Use(metadata.ClientMetadata)
	r.Use(d.Metrics.Middleware)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if d.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", d.MetricsHandler)
	}

	r.Group(func(r chi.Router) {
		r.Use(authmw.RequireRole(d.Validator, logger, jwttoken.RoleKiosk, jwttoken.RoleAdmin))
		if d.Identity != nil {
			d.Identity.RegisterKioskRoutes(r)
		}
		if d.Attendance != nil {
			d.Attendance.Register(r)
		}
	})

	r.Group(func(r chi.Router) {
		r.Use(authmw.RequireRole(d.Validator, logger, jwttoken.RoleAdmin))
		if d.Identity != nil {
			d.Identity.RegisterAdminRoutes(r)
		}
		if d.Reconcile != nil {
			d.Reconcile.Register(r)
		}
	})

	return r
}
