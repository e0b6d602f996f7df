// Package handler exposes on-demand reconciliation runs to administrators.
package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"presence/internal/reconcile"
	id "presence/pkg/domain"
	"presence/pkg/platform/httputil"
	"presence/pkg/requestcontext"
)

// Engine runs the reconciliation routines.
type Engine interface {
	FindAndPurgeGhostBindings(ctx context.Context, mode reconcile.Mode) (*reconcile.GhostReport, error)
	FindAndResolveDuplicateOpenSessions(ctx context.Context, day id.DayKey, mode reconcile.Mode) (*reconcile.DuplicateReport, error)
}

type Handler struct {
	engine   Engine
	location *time.Location
	logger   *slog.Logger
}

// New builds the handler. loc is the attendance time zone used when a request
// names no day.
func New(engine Engine, loc *time.Location, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if loc == nil {
		loc = time.UTC
	}
	return &Handler{engine: engine, location: loc, logger: logger}
}

// Register mounts the admin reconciliation routes.
func (h *Handler) Register(r chi.Router) {
	r.Post("/admin/reconcile/ghosts", h.HandleGhosts)
	r.Post("/admin/reconcile/sessions", h.HandleSessions)
}

// HandleGhosts runs a ghost binding scan. ?mode=enforce deletes; the default
// is audit.
func (h *Handler) HandleGhosts(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	mode, err := reconcile.ParseMode(r.URL.Query().Get("mode"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	report, err := h.engine.FindAndPurgeGhostBindings(ctx, mode)
	if err != nil {
		h.logger.ErrorContext(ctx, "ghost binding reconciliation failed",
			"request_id", requestcontext.RequestID(ctx),
			"actor", requestcontext.Actor(ctx),
			"mode", mode,
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}
	h.logger.InfoContext(ctx, "ghost binding reconciliation requested",
		"request_id", requestcontext.RequestID(ctx),
		"actor", requestcontext.Actor(ctx),
		"mode", mode,
		"ghost_bindings", report.GhostBindingCount(),
		"deleted", report.Deleted,
	)
	httputil.WriteJSON(w, http.StatusOK, report)
}

// HandleSessions resolves duplicate open sessions of ?day= (today when
// omitted).
func (h *Handler) HandleSessions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	mode, err := reconcile.ParseMode(r.URL.Query().Get("mode"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	day := id.DayKeyFor(requestcontext.Now(ctx), h.location)
	if raw := r.URL.Query().Get("day"); raw != "" {
		if day, err = id.ParseDayKey(raw); err != nil {
			httputil.WriteError(w, err)
			return
		}
	}

	report, err := h.engine.FindAndResolveDuplicateOpenSessions(ctx, day, mode)
	if err != nil {
		h.logger.ErrorContext(ctx, "duplicate session reconciliation failed",
			"request_id", requestcontext.RequestID(ctx),
			"actor", requestcontext.Actor(ctx),
			"day", day,
			"mode", mode,
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}
	h.logger.InfoContext(ctx, "duplicate session reconciliation requested",
		"request_id", requestcontext.RequestID(ctx),
		"actor", requestcontext.Actor(ctx),
		"day", day,
		"mode", mode,
		"deleted", report.Deleted,
	)
	httputil.WriteJSON(w, http.StatusOK, report)
}
