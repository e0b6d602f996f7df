// Package service implements the attendance session lifecycle: check-in,
// check-out and today's status for an employee.
package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"presence/internal/attendance/device"
	"presence/internal/attendance/metrics"
	"presence/internal/attendance/models"
	idmodels "presence/internal/identity/models"
	id "presence/pkg/domain"
	dErrors "presence/pkg/domain-errors"
	audit "presence/pkg/platform/audit"
	"presence/pkg/platform/sentinel"
	"presence/pkg/requestcontext"
)

// Policy decides which calendar day a timestamp belongs to and when a
// check-in counts as late.
type Policy struct {
	Location   *time.Location
	ShiftStart time.Duration // offset from local midnight
	LateGrace  time.Duration
}

// DefaultPolicy is a 09:00 UTC shift start with 15 minutes of grace.
func DefaultPolicy() Policy {
	return Policy{Location: time.UTC, ShiftStart: 9 * time.Hour, LateGrace: 15 * time.Minute}
}

// DayKey returns the attendance day of t.
func (p Policy) DayKey(t time.Time) id.DayKey {
	return id.DayKeyFor(t, p.Location)
}

// IsLate reports whether a check-in at t is after shift start plus grace on
// its own day in Location.
func (p Policy) IsLate(t time.Time) bool {
	local := t.In(p.Location)
	midnight := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, p.Location)
	deadline := midnight.Add(p.ShiftStart + p.LateGrace)
	return local.After(deadline)
}

// Service manages attendance sessions.
type Service struct {
	directory Directory
	verifier  Verifier
	sessions  SessionStore
	auditor   AuditPublisher
	policy    Policy
	logger    *slog.Logger
	metrics   *metrics.Metrics
	tracer    trace.Tracer
}

// Option configures the Service.
type Option func(*Service)

func WithPolicy(p Policy) Option {
	return func(s *Service) {
		if p.Location == nil {
			p.Location = time.UTC
		}
		s.policy = p
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

func WithAuditPublisher(p AuditPublisher) Option {
	return func(s *Service) { s.auditor = p }
}

func New(directory Directory, verifier Verifier, sessions SessionStore, opts ...Option) *Service {
	s := &Service{
		directory: directory,
		verifier:  verifier,
		sessions:  sessions,
		policy:    DefaultPolicy(),
		logger:    slog.New(slog.DiscardHandler),
		tracer:    otel.Tracer("presence/attendance"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CheckIn verifies the employee's face and opens today's session. A second
// check-in while a session is open fails with CodeDuplicateSession.
func (s *Service) CheckIn(ctx context.Context, req models.CheckInRequest) (session *models.Session, err error) {
	ctx, span := s.tracer.Start(ctx, "attendance.CheckIn", trace.WithAttributes(
		attribute.String("employee.id", req.EmployeeID.String()),
	))
	defer func() { endSpan(span, err) }()

	if err := validate(req.EmployeeID, req.Sample, req.Location); err != nil {
		return nil, err
	}
	if err := s.requireActive(ctx, req.EmployeeID); err != nil {
		s.metrics.IncrementCheckIn("rejected")
		return nil, err
	}
	if err := s.verify(ctx, req.Sample, req.EmployeeID, "check_in"); err != nil {
		s.metrics.IncrementCheckIn(outcomeOf(err))
		return nil, err
	}

	now := requestcontext.Now(ctx)
	session = &models.Session{
		ID:                 id.NewSessionID(),
		EmployeeID:         req.EmployeeID,
		DayKey:             s.policy.DayKey(now),
		CheckInTime:        now,
		CheckInLocation:    req.Location,
		VerificationMethod: models.VerificationFace,
		Late:               s.policy.IsLate(now),
		Device:             device.ParseUserAgent(req.UserAgent),
	}
	span.SetAttributes(attribute.String("attendance.day", session.DayKey.String()))

	if err := s.sessions.PutIfAbsent(ctx, session); err != nil {
		if errors.Is(err, sentinel.ErrConflict) {
			s.metrics.IncrementCheckIn("duplicate")
			s.emit(ctx, audit.Event{
				Action:     string(audit.EventDuplicateCheckIn),
				EmployeeID: req.EmployeeID,
				Decision:   "rejected",
				Reason:     "open session exists for " + session.DayKey.String(),
			})
			return nil, dErrors.New(dErrors.CodeDuplicateSession, "already checked in")
		}
		s.metrics.IncrementCheckIn("error")
		return nil, dErrors.WrapDependency(err, "failed to save session")
	}

	s.metrics.IncrementCheckIn("checked_in")
	if session.Late {
		s.metrics.IncrementLate()
	}
	s.logger.InfoContext(ctx, "employee checked in",
		"employee_id", session.EmployeeID,
		"session_id", session.ID,
		"day", session.DayKey,
		"late", session.Late,
	)
	s.emit(ctx, audit.Event{
		Action:     string(audit.EventCheckedIn),
		EmployeeID: session.EmployeeID,
		Subject:    session.ID.String(),
		Decision:   lateDecision(session.Late),
	})
	return session, nil
}

// CheckOut verifies the employee's face and closes today's open session. When
// legacy data holds several open sessions the latest check-in is closed.
func (s *Service) CheckOut(ctx context.Context, req models.CheckOutRequest) (session *models.Session, err error) {
	ctx, span := s.tracer.Start(ctx, "attendance.CheckOut", trace.WithAttributes(
		attribute.String("employee.id", req.EmployeeID.String()),
	))
	defer func() { endSpan(span, err) }()

	if err := validate(req.EmployeeID, req.Sample, req.Location); err != nil {
		return nil, err
	}

	now := requestcontext.Now(ctx)
	day := s.policy.DayKey(now)
	sessions, err := s.sessions.QueryByEmployeeAndDay(ctx, req.EmployeeID, day)
	if err != nil {
		s.metrics.IncrementCheckOut("error")
		return nil, dErrors.WrapDependency(err, "failed to load sessions")
	}
	open := models.LatestOpen(sessions)
	if open == nil {
		s.metrics.IncrementCheckOut("no_open_session")
		return nil, dErrors.New(dErrors.CodeNoOpenSession, "no open session for today")
	}

	if err := s.verify(ctx, req.Sample, open.EmployeeID, "check_out"); err != nil {
		s.metrics.IncrementCheckOut(outcomeOf(err))
		return nil, err
	}

	if err := open.Close(now, req.Location); err != nil {
		s.metrics.IncrementCheckOut("error")
		return nil, err
	}
	if err := s.sessions.UpdateIfOpen(ctx, open); err != nil {
		if errors.Is(err, sentinel.ErrConflict) || errors.Is(err, sentinel.ErrNotFound) {
			s.metrics.IncrementCheckOut("no_open_session")
			return nil, dErrors.New(dErrors.CodeNoOpenSession, "session was closed by another request")
		}
		s.metrics.IncrementCheckOut("error")
		return nil, dErrors.WrapDependency(err, "failed to save session")
	}

	worked, _ := open.WorkDuration()
	s.metrics.IncrementCheckOut("checked_out")
	s.metrics.ObserveWorkDuration(worked)
	s.logger.InfoContext(ctx, "employee checked out",
		"employee_id", open.EmployeeID,
		"session_id", open.ID,
		"work_duration", worked,
	)
	s.emit(ctx, audit.Event{
		Action:     string(audit.EventCheckedOut),
		EmployeeID: open.EmployeeID,
		Subject:    open.ID.String(),
	})
	return open, nil
}

// GetStatus summarizes the employee's latest session today.
func (s *Service) GetStatus(ctx context.Context, employeeID id.EmployeeID) (*models.Status, error) {
	if employeeID.IsNil() {
		return nil, dErrors.New(dErrors.CodeBadRequest, "employee ID required")
	}
	if _, err := s.directory.GetEmployee(ctx, employeeID); err != nil {
		return nil, directoryError(err)
	}
	day := s.policy.DayKey(requestcontext.Now(ctx))
	sessions, err := s.sessions.QueryByEmployeeAndDay(ctx, employeeID, day)
	if err != nil {
		return nil, dErrors.WrapDependency(err, "failed to load sessions")
	}
	return models.StatusOf(employeeID, day, models.Latest(sessions)), nil
}

func (s *Service) requireActive(ctx context.Context, employeeID id.EmployeeID) error {
	employee, err := s.directory.GetEmployee(ctx, employeeID)
	if err != nil {
		return directoryError(err)
	}
	if !employee.IsActive() {
		return dErrors.New(dErrors.CodeForbidden, "employee is not active")
	}
	return nil
}

// verify promotes a negative match to CodeVerificationFailed. Errors from the
// verifier keep their code.
func (s *Service) verify(ctx context.Context, sample idmodels.Sample, employeeID id.EmployeeID, step string) error {
	result, err := s.verifier.Verify(ctx, sample, employeeID)
	if err != nil {
		if dErrors.CodeOf(err) == dErrors.CodeInternal {
			return dErrors.Wrap(err, dErrors.CodeInternal, "verification failed unexpectedly")
		}
		return err
	}
	if !result.Matched {
		s.logger.WarnContext(ctx, "face verification rejected",
			"employee_id", employeeID,
			"step", step,
			"confidence", result.Confidence,
		)
		s.emit(ctx, audit.Event{
			Action:     string(audit.EventVerificationRejected),
			EmployeeID: employeeID,
			Decision:   "rejected",
			Reason:     step,
		})
		return dErrors.New(dErrors.CodeVerificationFailed, "face not recognized")
	}
	return nil
}

func (s *Service) emit(ctx context.Context, event audit.Event) {
	if s.auditor == nil {
		return
	}
	event.RequestID = requestcontext.RequestID(ctx)
	event.ActorID = requestcontext.Actor(ctx)
	event.Timestamp = requestcontext.Now(ctx)
	if err := s.auditor.Emit(ctx, event); err != nil {
		s.logger.ErrorContext(ctx, "failed to emit audit event",
			"action", event.Action,
			"employee_id", event.EmployeeID,
			"error", err,
		)
	}
}

func validate(employeeID id.EmployeeID, sample idmodels.Sample, loc *models.Location) error {
	if employeeID.IsNil() {
		return dErrors.New(dErrors.CodeBadRequest, "employee ID required")
	}
	if sample.IsEmpty() {
		return dErrors.New(dErrors.CodeBadRequest, "biometric sample required")
	}
	if len(sample) > idmodels.MaxSampleBytes {
		return dErrors.New(dErrors.CodeBadRequest, "biometric sample too large")
	}
	return loc.Validate()
}

func directoryError(err error) error {
	if errors.Is(err, sentinel.ErrNotFound) {
		return dErrors.New(dErrors.CodeNotFound, "employee not found")
	}
	return dErrors.WrapDependency(err, "directory lookup failed")
}

func outcomeOf(err error) string {
	switch dErrors.CodeOf(err) {
	case dErrors.CodeVerificationFailed:
		return "verification_failed"
	case dErrors.CodeNotFound, dErrors.CodeForbidden:
		return "rejected"
	default:
		return "error"
	}
}

func lateDecision(late bool) string {
	if late {
		return "late"
	}
	return "on_time"
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, string(dErrors.CodeOf(err)))
	}
	span.End()
}
