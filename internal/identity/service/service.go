// Package service implements identity binding: registering an employee's
// biometric template with the identity index, verifying a sample 1:1 against
// the employee's binding, and resetting every binding an employee owns.
//
// The index and the directory are independent stores. The directory keeps a
// mirror of the binding ID; the index is the source of truth and is scanned
// whenever the mirror is empty or stale.
package service

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"presence/internal/identity/index"
	"presence/internal/identity/metrics"
	"presence/internal/identity/models"
	id "presence/pkg/domain"
	dErrors "presence/pkg/domain-errors"
	audit "presence/pkg/platform/audit"
	"presence/pkg/platform/sentinel"
	"presence/pkg/requestcontext"
)

// DefaultMinConfidence is the lowest index confidence accepted as a match.
const DefaultMinConfidence = 0.8

// Service owns all writes to the identity index.
type Service struct {
	directory     Directory
	index         Index
	purger        *index.Purger
	auditor       AuditPublisher
	logger        *slog.Logger
	metrics       *metrics.Metrics
	tracer        trace.Tracer
	minConfidence float64
}

// Option configures the Service.
type Option func(*Service)

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

// WithPurger sets the batch purger used by Reset. Defaults to a purger over
// the same index.
func WithPurger(p *index.Purger) Option {
	return func(s *Service) {
		if p != nil {
			s.purger = p
		}
	}
}

func WithMinConfidence(c float64) Option {
	return func(s *Service) {
		if c >= 0 && c <= 1 {
			s.minConfidence = c
		}
	}
}

func New(directory Directory, idx Index, opts ...Option) *Service {
	s := &Service{
		directory:     directory,
		index:         idx,
		logger:        slog.New(slog.DiscardHandler),
		tracer:        otel.Tracer("presence/identity"),
		minConfidence: DefaultMinConfidence,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.purger == nil {
		s.purger = index.NewPurger(idx, index.WithPurgeLogger(s.logger))
	}
	return s
}

// Register enrolls sample for an active employee that owns no binding yet.
func (s *Service) Register(ctx context.Context, employeeID id.EmployeeID, sample models.Sample) (bindingID id.BindingID, err error) {
	ctx, span := s.tracer.Start(ctx, "identity.Register", trace.WithAttributes(
		attribute.String("employee.id", employeeID.String()),
	))
	defer func() { endSpan(span, err) }()

	if err := validate(employeeID, sample); err != nil {
		return "", err
	}

	employee, err := s.directory.GetEmployee(ctx, employeeID)
	if err != nil {
		return "", s.directoryError(err, "employee not found")
	}
	if !employee.IsActive() {
		s.metrics.IncrementRegister("forbidden")
		return "", dErrors.New(dErrors.CodeForbidden, "employee is not active")
	}
	if employee.HasBinding() {
		s.metrics.IncrementRegister("already_registered")
		return "", dErrors.New(dErrors.CodeAlreadyRegistered, "identity already registered")
	}

	existing, err := s.bindingsOf(ctx, employeeID)
	if err != nil {
		return "", err
	}
	if len(existing) > 0 {
		s.logger.WarnContext(ctx, "index holds bindings not mirrored in directory",
			"employee_id", employeeID,
			"bindings", len(existing),
		)
		s.metrics.IncrementRegister("already_registered")
		return "", dErrors.New(dErrors.CodeAlreadyRegistered, "identity already registered")
	}

	start := time.Now()
	bindingID, err = s.index.Enroll(ctx, sample, employeeID)
	s.metrics.ObserveIndexLatency("enroll", time.Since(start))
	if err != nil {
		s.metrics.IncrementRegister("error")
		return "", indexError(err)
	}

	if err := s.directory.SetIdentityBindingIfEmpty(ctx, employeeID, bindingID); err != nil {
		s.compensate(ctx, employeeID, bindingID)
		if errors.Is(err, sentinel.ErrConflict) {
			s.metrics.IncrementRegister("already_registered")
			return "", dErrors.New(dErrors.CodeAlreadyRegistered, "identity already registered")
		}
		s.metrics.IncrementRegister("error")
		return "", s.directoryError(err, "employee not found")
	}

	s.metrics.IncrementRegister("registered")
	s.logger.InfoContext(ctx, "identity registered",
		"employee_id", employeeID,
		"binding_id", bindingID,
	)
	s.emit(ctx, audit.Event{
		Action:     string(audit.EventIdentityRegistered),
		EmployeeID: employeeID,
		Subject:    bindingID.String(),
	})
	return bindingID, nil
}

// compensate deletes a fresh enrollment that lost the race for the directory
// mirror, so the index does not keep a duplicate.
func (s *Service) compensate(ctx context.Context, employeeID id.EmployeeID, bindingID id.BindingID) {
	if _, err := s.index.BatchDelete(ctx, []id.BindingID{bindingID}); err != nil {
		s.logger.ErrorContext(ctx, "failed to delete orphaned enrollment; reset will remove it",
			"employee_id", employeeID,
			"binding_id", bindingID,
			"error", err,
		)
		return
	}
	s.emit(ctx, audit.Event{
		Action:     string(audit.EventIdentityCompensated),
		EmployeeID: employeeID,
		Subject:    bindingID.String(),
		Reason:     "concurrent registration",
	})
}

// Verify compares sample against the employee's mirrored binding. A non-match
// on a live mirror is returned as is; only an empty or stale mirror falls back
// to an index scan. Employees with no binding at all get CodeNotFound.
func (s *Service) Verify(ctx context.Context, sample models.Sample, employeeID id.EmployeeID) (result *models.VerifyResult, err error) {
	ctx, span := s.tracer.Start(ctx, "identity.Verify", trace.WithAttributes(
		attribute.String("employee.id", employeeID.String()),
	))
	defer func() {
		if result != nil {
			span.SetAttributes(attribute.Bool("identity.matched", result.Matched))
		}
		endSpan(span, err)
	}()

	if err := validate(employeeID, sample); err != nil {
		return nil, err
	}
	employee, err := s.directory.GetEmployee(ctx, employeeID)
	if err != nil {
		return nil, s.directoryError(err, "employee not found")
	}

	// A live mirrored binding settles the check without touching the rest of
	// the index; only an empty or stale mirror falls back to a scan.
	if employee.HasBinding() {
		m, err := s.verifyOne(ctx, sample, employee.IdentityBindingID)
		switch {
		case err == nil:
			if s.accept(m) {
				s.metrics.IncrementVerify("matched")
				return &models.VerifyResult{Matched: true, Confidence: m.Confidence, BindingID: employee.IdentityBindingID}, nil
			}
			s.metrics.IncrementVerify("not_matched")
			return &models.VerifyResult{Confidence: m.Confidence, BindingID: employee.IdentityBindingID}, nil
		case errors.Is(err, sentinel.ErrNotFound):
			s.logger.WarnContext(ctx, "mirrored binding missing from index, scanning",
				"employee_id", employeeID,
				"binding_id", employee.IdentityBindingID,
			)
		default:
			s.metrics.IncrementVerify("error")
			return nil, indexError(err)
		}
	}

	best := &models.VerifyResult{}
	tried := 0
	candidates, err := s.bindingsOf(ctx, employeeID)
	if err != nil {
		s.metrics.IncrementVerify("error")
		return nil, err
	}
	for _, bindingID := range candidates {
		if bindingID == employee.IdentityBindingID {
			continue
		}
		m, err := s.verifyOne(ctx, sample, bindingID)
		if errors.Is(err, sentinel.ErrNotFound) {
			continue
		}
		if err != nil {
			s.metrics.IncrementVerify("error")
			return nil, indexError(err)
		}
		tried++
		if s.accept(m) {
			s.metrics.IncrementVerify("matched")
			return &models.VerifyResult{Matched: true, Confidence: m.Confidence, BindingID: bindingID}, nil
		}
		if m.Confidence > best.Confidence || best.BindingID.IsNil() {
			best = &models.VerifyResult{Confidence: m.Confidence, BindingID: bindingID}
		}
	}

	if tried == 0 {
		s.metrics.IncrementVerify("no_binding")
		return nil, dErrors.New(dErrors.CodeNotFound, "no identity binding registered")
	}
	s.metrics.IncrementVerify("not_matched")
	return best, nil
}

func (s *Service) verifyOne(ctx context.Context, sample models.Sample, bindingID id.BindingID) (models.Match, error) {
	start := time.Now()
	m, err := s.index.Verify1to1(ctx, sample, bindingID)
	s.metrics.ObserveIndexLatency("verify", time.Since(start))
	return m, err
}

func (s *Service) accept(m models.Match) bool {
	return m.Matched && m.Confidence >= s.minConfidence
}

// Reset removes every binding owned by employeeID, including duplicates, and
// clears the directory mirror. Resetting an employee with no bindings returns
// 0. The employee need not exist in the directory, so bindings of removed
// employees can be cleared too.
func (s *Service) Reset(ctx context.Context, employeeID id.EmployeeID) (removed int, err error) {
	ctx, span := s.tracer.Start(ctx, "identity.Reset", trace.WithAttributes(
		attribute.String("employee.id", employeeID.String()),
	))
	defer func() {
		span.SetAttributes(attribute.Int("identity.removed", removed))
		endSpan(span, err)
	}()

	if employeeID.IsNil() {
		return 0, dErrors.New(dErrors.CodeBadRequest, "employee ID required")
	}

	bindings, err := s.bindingsOf(ctx, employeeID)
	if err != nil {
		return 0, err
	}

	result := s.purger.Purge(ctx, bindings)
	removed = result.Deleted
	s.metrics.AddBindingsRemoved(removed)
	if failed := result.FailedBatches(); len(failed) > 0 {
		s.logger.ErrorContext(ctx, "identity reset incomplete",
			"employee_id", employeeID,
			"removed", removed,
			"failed", result.Failed,
		)
		return removed, dErrors.Wrap(failed[0].Err, dErrors.CodeExternalService, "identity index unavailable, try again")
	}

	if err := s.directory.ClearIdentityBinding(ctx, employeeID); err != nil && !errors.Is(err, sentinel.ErrNotFound) {
		return removed, dErrors.WrapDependency(err, "failed to clear identity binding")
	}

	s.logger.InfoContext(ctx, "identity reset",
		"employee_id", employeeID,
		"removed", removed,
	)
	if removed > 0 {
		s.emit(ctx, audit.Event{
			Action:     string(audit.EventIdentityReset),
			EmployeeID: employeeID,
			Decision:   "removed",
			Reason:     "identity reset",
			Subject:    joinIDs(bindings),
		})
	}
	return removed, nil
}

// BindingsOf lists every binding whose externalId is employeeID.
func (s *Service) BindingsOf(ctx context.Context, employeeID id.EmployeeID) ([]id.BindingID, error) {
	return s.bindingsOf(ctx, employeeID)
}

func (s *Service) bindingsOf(ctx context.Context, employeeID id.EmployeeID) ([]id.BindingID, error) {
	start := time.Now()
	bindings, err := index.BindingsOf(ctx, s.index, employeeID)
	s.metrics.ObserveIndexLatency("scan", time.Since(start))
	if err != nil {
		return nil, indexError(err)
	}
	return bindings, nil
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

func (s *Service) directoryError(err error, notFoundMsg string) error {
	if errors.Is(err, sentinel.ErrNotFound) {
		return dErrors.New(dErrors.CodeNotFound, notFoundMsg)
	}
	return dErrors.WrapDependency(err, "directory lookup failed")
}

func validate(employeeID id.EmployeeID, sample models.Sample) error {
	if employeeID.IsNil() {
		return dErrors.New(dErrors.CodeBadRequest, "employee ID required")
	}
	if sample.IsEmpty() {
		return dErrors.New(dErrors.CodeBadRequest, "biometric sample required")
	}
	if len(sample) > models.MaxSampleBytes {
		return dErrors.New(dErrors.CodeBadRequest, "biometric sample too large")
	}
	return nil
}

// indexError maps identity index failures to CodeExternalService. Only
// ErrConflict on enroll has its own meaning.
func indexError(err error) error {
	var de *dErrors.Error
	if errors.As(err, &de) {
		return err
	}
	if errors.Is(err, sentinel.ErrConflict) {
		return dErrors.Wrap(err, dErrors.CodeAlreadyRegistered, "identity already registered")
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return dErrors.Wrap(err, dErrors.CodeExternalService, "identity index timed out, try again")
	}
	return dErrors.Wrap(err, dErrors.CodeExternalService, "system unavailable, try again")
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, string(dErrors.CodeOf(err)))
	}
	span.End()
}

func joinIDs(ids []id.BindingID) string {
	parts := make([]string, len(ids))
	for i, b := range ids {
		parts[i] = b.String()
	}
	return strings.Join(parts, ",")
}
