package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"presence/internal/attendance/models"
	idmodels "presence/internal/identity/models"
	id "presence/pkg/domain"
	dErrors "presence/pkg/domain-errors"
	"presence/pkg/platform/httputil"
	"presence/pkg/requestcontext"
)

// Service defines the attendance operations exposed over HTTP.
type Service interface {
	CheckIn(ctx context.Context, req models.CheckInRequest) (*models.Session, error)
	CheckOut(ctx context.Context, req models.CheckOutRequest) (*models.Session, error)
	GetStatus(ctx context.Context, employeeID id.EmployeeID) (*models.Status, error)
}

// Handler serves kiosk attendance endpoints.
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

// Register mounts the attendance routes.
func (h *Handler) Register(r chi.Router) {
	r.Post("/attendance/check-in", h.HandleCheckIn)
	r.Post("/attendance/check-out", h.HandleCheckOut)
	r.Get("/attendance/status/{employeeID}", h.HandleStatus)
}

type attendanceRequest struct {
	EmployeeID string           `json:"employee_id"`
	Sample     []byte           `json:"sample"`
	Location   *models.Location `json:"location,omitempty"`
}

type sessionResponse struct {
	SessionID           string           `json:"session_id"`
	EmployeeID          string           `json:"employee_id"`
	Day                 string           `json:"day"`
	CheckInTime         time.Time        `json:"check_in_time"`
	CheckOutTime        *time.Time       `json:"check_out_time,omitempty"`
	WorkDurationSeconds *int64           `json:"work_duration_seconds,omitempty"`
	Late                bool             `json:"late"`
	Device              string           `json:"device,omitempty"`
	CheckInLocation     *models.Location `json:"check_in_location,omitempty"`
	CheckOutLocation    *models.Location `json:"check_out_location,omitempty"`
}

func toSessionResponse(s *models.Session) sessionResponse {
	resp := sessionResponse{
		SessionID:        s.ID.String(),
		EmployeeID:       s.EmployeeID.String(),
		Day:              s.DayKey.String(),
		CheckInTime:      s.CheckInTime,
		CheckOutTime:     s.CheckOutTime,
		Late:             s.Late,
		Device:           s.Device,
		CheckInLocation:  s.CheckInLocation,
		CheckOutLocation: s.CheckOutLocation,
	}
	if d, ok := s.WorkDuration(); ok {
		secs := int64(d / time.Second)
		resp.WorkDurationSeconds = &secs
	}
	return resp
}

type statusResponse struct {
	EmployeeID          string     `json:"employee_id"`
	Day                 string     `json:"day"`
	IsCheckedIn         bool       `json:"is_checked_in"`
	SessionID           string     `json:"session_id,omitempty"`
	CheckInTime         *time.Time `json:"check_in_time,omitempty"`
	CheckOutTime        *time.Time `json:"check_out_time,omitempty"`
	WorkDurationSeconds *int64     `json:"work_duration_seconds,omitempty"`
	Late                bool       `json:"late"`
}

func (h *Handler) HandleCheckIn(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	req, ok := h.decode(w, r)
	if !ok {
		return
	}

	session, err := h.service.CheckIn(ctx, models.CheckInRequest{
		EmployeeID: id.EmployeeID(req.EmployeeID),
		Sample:     idmodels.Sample(req.Sample),
		Location:   req.Location,
		UserAgent:  requestcontext.UserAgent(ctx),
	})
	if err != nil {
		h.logFailure(ctx, "check-in failed", req.EmployeeID, err)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, toSessionResponse(session))
}

func (h *Handler) HandleCheckOut(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	req, ok := h.decode(w, r)
	if !ok {
		return
	}

	session, err := h.service.CheckOut(ctx, models.CheckOutRequest{
		EmployeeID: id.EmployeeID(req.EmployeeID),
		Sample:     idmodels.Sample(req.Sample),
		Location:   req.Location,
	})
	if err != nil {
		h.logFailure(ctx, "check-out failed", req.EmployeeID, err)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toSessionResponse(session))
}

func (h *Handler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	employeeID, err := id.ParseEmployeeID(chi.URLParam(r, "employeeID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	status, err := h.service.GetStatus(ctx, employeeID)
	if err != nil {
		h.logFailure(ctx, "status lookup failed", employeeID.String(), err)
		httputil.WriteError(w, err)
		return
	}

	resp := statusResponse{
		EmployeeID:   status.EmployeeID.String(),
		Day:          status.DayKey.String(),
		IsCheckedIn:  status.IsCheckedIn,
		CheckInTime:  status.CheckInTime,
		CheckOutTime: status.CheckOutTime,
		Late:         status.Late,
	}
	if status.SessionID != nil {
		resp.SessionID = status.SessionID.String()
	}
	if status.WorkDuration != nil {
		secs := int64(*status.WorkDuration / time.Second)
		resp.WorkDurationSeconds = &secs
	}
	httputil.WriteJSON(w, http.StatusOK, resp)
}

// decode parses the body and validates the employee ID; the service checks
// the sample and location.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request) (*attendanceRequest, bool) {
	var req attendanceRequest
	if err := httputil.DecodeJSON(w, r, &req); err != nil {
		h.logger.WarnContext(r.Context(), "invalid attendance request",
			"request_id", requestcontext.RequestID(r.Context()),
			"error", err,
		)
		httputil.WriteError(w, err)
		return nil, false
	}
	employeeID, err := id.ParseEmployeeID(req.EmployeeID)
	if err != nil {
		httputil.WriteError(w, err)
		return nil, false
	}
	req.EmployeeID = employeeID.String()
	return &req, true
}

func (h *Handler) logFailure(ctx context.Context, msg, employeeID string, err error) {
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
