package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"presence/internal/identity/models"
	id "presence/pkg/domain"
	dErrors "presence/pkg/domain-errors"
	"presence/pkg/platform/httputil"
	"presence/pkg/requestcontext"
)

// Service defines the identity binding operations exposed over HTTP.
type Service interface {
	Register(ctx context.Context, employeeID id.EmployeeID, sample models.Sample) (id.BindingID, error)
	Verify(ctx context.Context, sample models.Sample, employeeID id.EmployeeID) (*models.VerifyResult, error)
	Reset(ctx context.Context, employeeID id.EmployeeID) (int, error)
}

// Handler serves identity binding endpoints.
type Handler struct {
	service Service
	logger  *slog.Logger
}

func New(service Service, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Handler{service: service, logger: logger}
}

// RegisterKioskRoutes mounts the routes kiosks may call.
func (h *Handler) RegisterKioskRoutes(r chi.Router) {
	r.Post("/identity/bindings", h.HandleRegister)
	r.Post("/identity/verify", h.HandleVerify)
}

// RegisterAdminRoutes mounts the routes reserved for administrators.
func (h *Handler) RegisterAdminRoutes(r chi.Router) {
	r.Delete("/identity/bindings/{employeeID}", h.HandleReset)
}

// sampleRequest carries a biometric sample; []byte fields travel as base64.
type sampleRequest struct {
	EmployeeID string `json:"employee_id"`
	Sample     []byte `json:"sample"`
}

type registerResponse struct {
	EmployeeID string `json:"employee_id"`
	BindingID  string `json:"binding_id"`
}

type verifyResponse struct {
	Matched    bool    `json:"matched"`
	Confidence float64 `json:"confidence"`
	BindingID  string  `json:"binding_id,omitempty"`
}

type resetResponse struct {
	EmployeeID string `json:"employee_id"`
	Removed    int    `json:"removed"`
}

func (h *Handler) HandleRegister(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	employeeID, sample, ok := h.decodeSample(w, r)
	if !ok {
		return
	}

	bindingID, err := h.service.Register(ctx, employeeID, sample)
	if err != nil {
		h.logFailure(ctx, "identity registration failed", employeeID, err)
		httputil.WriteError(w, err)
		return
	}

	httputil.WriteJSON(w, http.StatusCreated, registerResponse{
		EmployeeID: employeeID.String(),
		BindingID:  bindingID.String(),
	})
}

func (h *Handler) HandleVerify(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	employeeID, sample, ok := h.decodeSample(w, r)
	if !ok {
		return
	}

	result, err := h.service.Verify(ctx, sample, employeeID)
	if err != nil {
		h.logFailure(ctx, "identity verification failed", employeeID, err)
		httputil.WriteError(w, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, verifyResponse{
		Matched:    result.Matched,
		Confidence: result.Confidence,
		BindingID:  result.BindingID.String(),
	})
}

func (h *Handler) HandleReset(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	employeeID, err := id.ParseEmployeeID(chi.URLParam(r, "employeeID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	removed, err := h.service.Reset(ctx, employeeID)
	if err != nil {
		h.logFailure(ctx, "identity reset failed", employeeID, err)
		httputil.WriteError(w, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, resetResponse{
		EmployeeID: employeeID.String(),
		Removed:    removed,
	})
}

func (h *Handler) decodeSample(w http.ResponseWriter, r *http.Request) (id.EmployeeID, models.Sample, bool) {
	var req sampleRequest
	if err := httputil.DecodeJSON(w, r, &req); err != nil {
		h.logger.WarnContext(r.Context(), "invalid identity request",
			"request_id", requestcontext.RequestID(r.Context()),
			"error", err,
		)
		httputil.WriteError(w, err)
		return "", nil, false
	}
	employeeID, err := id.ParseEmployeeID(req.EmployeeID)
	if err != nil {
		httputil.WriteError(w, err)
		return "", nil, false
	}
	if len(req.Sample) == 0 {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "biometric sample required"))
		return "", nil, false
	}
	return employeeID, models.Sample(req.Sample), true
}

func (h *Handler) logFailure(ctx context.Context, msg string, employeeID id.EmployeeID, err error) {
	level := slog.LevelWarn
	if code := dErrors.CodeOf(err); code == dErrors.CodeInternal || code == dErrors.CodeExternalService {
		level = slog.LevelError
	}
	h.logger.Log(ctx, level, msg,
		"request_id", requestcontext.RequestID(ctx),
		"actor", requestcontext.Actor(ctx),
		"employee_id", employeeID,
		"error", err,
	)
}
