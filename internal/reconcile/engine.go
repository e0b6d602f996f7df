// Package reconcile repairs drift between the identity index, the employee
// directory and the attendance session store.
//
// Two routines exist:
//   - ghost bindings: index entries whose externalId is not an active
//     employee are deleted in bounded batches
//   - duplicate open sessions: when an employee has several open sessions on
//     one day, the latest check-in is kept and the rest are deleted
//
// Both run in audit mode (report only) or enforce mode, and are safe to rerun.
package reconcile

import (
	"cmp"
	"context"
	"errors"
	"log/slog"
	"slices"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"presence/internal/attendance/models"
	"presence/internal/identity/index"
	"presence/internal/reconcile/metrics"
	id "presence/pkg/domain"
	dErrors "presence/pkg/domain-errors"
	audit "presence/pkg/platform/audit"
	"presence/pkg/platform/sentinel"
	"presence/pkg/requestcontext"
)

const (
	routineGhosts   = "ghosts"
	routineSessions = "sessions"
)

// Engine runs reconciliation routines.
type Engine struct {
	index     Index
	directory Directory
	sessions  SessionStore
	purger    *index.Purger
	auditor   AuditPublisher
	logger    *slog.Logger
	metrics   *metrics.Metrics
	tracer    trace.Tracer
}

// Option configures the Engine.
type Option func(*Engine)

func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

func WithAuditPublisher(p AuditPublisher) Option {
	return func(e *Engine) { e.auditor = p }
}

// WithPurger sets the batch purger used in enforce mode.
func WithPurger(p *index.Purger) Option {
	return func(e *Engine) {
		if p != nil {
			e.purger = p
		}
	}
}

func New(idx Index, directory Directory, sessions SessionStore, opts ...Option) *Engine {
	e := &Engine{
		index:     idx,
		directory: directory,
		sessions:  sessions,
		logger:    slog.New(slog.DiscardHandler),
		tracer:    otel.Tracer("presence/reconcile"),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.purger == nil {
		e.purger = index.NewPurger(idx, index.WithPurgeLogger(e.logger))
	}
	return e
}

// FindAndPurgeGhostBindings scans the whole index, groups bindings by
// externalId and reports every group that is not an active employee. In
// enforce mode the ghost bindings are deleted and the mirrors of still
// existing (inactive) employees are cleared.
//
// Nothing is deleted when the directory knows neither an active employee nor
// any ghost while the index is non-empty, and entries with an empty or malformed externalId are
// reported as conflicts.
func (e *Engine) FindAndPurgeGhostBindings(ctx context.Context, mode Mode) (report *GhostReport, err error) {
	ctx, span := e.tracer.Start(ctx, "reconcile.FindAndPurgeGhostBindings", trace.WithAttributes(
		attribute.String("reconcile.mode", mode.String()),
	))
	defer func() {
		if report != nil {
			span.SetAttributes(
				attribute.Int("reconcile.ghost_bindings", report.GhostBindingCount()),
				attribute.Int("reconcile.deleted", report.Deleted),
			)
		}
		e.finishRun(span, routineGhosts, mode, err, report != nil && report.FailedBatches() > 0)
	}()

	if mode != ModeAudit && mode != ModeEnforce {
		return nil, dErrors.New(dErrors.CodeBadRequest, "mode must be audit or enforce")
	}
	report = &GhostReport{Mode: mode, StartedAt: requestcontext.Now(ctx)}

	groups := make(map[string][]id.BindingID)
	for entry, err := range index.Scan(ctx, e.index) {
		if err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeExternalService, "identity index scan failed")
		}
		report.ScannedBindings++
		groups[entry.ExternalID] = append(groups[entry.ExternalID], entry.BindingID)
	}

	active, err := e.directory.ListActiveEmployeeIDs(ctx)
	if err != nil {
		return nil, dErrors.WrapDependency(err, "failed to list active employees")
	}
	report.ActiveEmployees = len(active)
	activeSet := make(map[id.EmployeeID]struct{}, len(active))
	for _, employeeID := range active {
		activeSet[employeeID] = struct{}{}
	}

	var ghostIDs []id.EmployeeID
	for externalID, bindings := range groups {
		employeeID, perr := id.ParseEmployeeID(externalID)
		if perr != nil || employeeID.String() != externalID {
			report.Conflicts = append(report.Conflicts, Conflict{
				Subject:    "externalId " + quote(externalID),
				BindingIDs: sortedBindings(bindings),
				Reason:     "binding has an empty or malformed externalId",
			})
			continue
		}
		if _, ok := activeSet[employeeID]; ok {
			continue
		}
		ghostIDs = append(ghostIDs, employeeID)
		report.Ghosts = append(report.Ghosts, Ghost{
			ExternalID:     employeeID,
			BindingIDs:     sortedBindings(bindings),
			EmployeeStatus: "removed",
		})
	}
	slices.SortFunc(report.Ghosts, func(a, b Ghost) int { return cmp.Compare(a.ExternalID, b.ExternalID) })
	slices.SortFunc(report.Conflicts, func(a, b Conflict) int { return cmp.Compare(a.Subject, b.Subject) })

	existing, err := e.directory.ListEmployees(ctx, ghostIDs)
	if err != nil {
		return nil, dErrors.WrapDependency(err, "failed to look up ghost employees")
	}
	// No active employees and none of the ghosts known to the directory reads
	// as an empty or unreachable directory, not as a population to purge.
	if len(active) == 0 && len(existing) == 0 && report.ScannedBindings > 0 {
		report.Ghosts = nil
		report.Conflicts = []Conflict{{
			Subject: "directory",
			Reason:  "directory returned no employees while the identity index is not empty",
		}}
		e.logger.ErrorContext(ctx, "ghost scan aborted: empty directory",
			"scanned_bindings", report.ScannedBindings,
		)
		e.reportConflicts(ctx, routineGhosts, report.Conflicts)
		report.FinishedAt = requestcontext.Now(ctx)
		return report, nil
	}

	stillListed := make(map[id.EmployeeID]bool, len(existing))
	for _, employee := range existing {
		stillListed[employee.ID] = employee.HasBinding()
	}
	for i := range report.Ghosts {
		if _, ok := stillListed[report.Ghosts[i].ExternalID]; ok {
			report.Ghosts[i].EmployeeStatus = "inactive"
		}
	}

	e.metrics.SetGhostBindings(report.GhostBindingCount())
	e.reportConflicts(ctx, routineGhosts, report.Conflicts)

	if mode == ModeAudit {
		e.logger.InfoContext(ctx, "ghost bindings found",
			"mode", mode,
			"ghost_employees", len(report.Ghosts),
			"ghost_bindings", report.GhostBindingCount(),
			"conflicts", len(report.Conflicts),
		)
		for _, g := range report.Ghosts {
			e.emit(ctx, audit.Event{
				Action:     string(audit.EventGhostBindingsReported),
				EmployeeID: g.ExternalID,
				Subject:    joinBindings(g.BindingIDs),
				Decision:   "reported",
				Reason:     "employee " + g.EmployeeStatus,
			})
		}
		report.FinishedAt = requestcontext.Now(ctx)
		return report, nil
	}

	var all []id.BindingID
	for _, g := range report.Ghosts {
		all = append(all, g.BindingIDs...)
	}
	result := e.purger.Purge(ctx, all)
	report.Deleted = result.Deleted
	report.Batches = result.Batches
	e.metrics.AddDeleted("binding", result.Deleted)
	e.metrics.AddFailedBatches(len(result.FailedBatches()))

	failed := make(map[id.BindingID]struct{})
	for _, b := range result.FailedBatches() {
		for _, bindingID := range b.BindingIDs {
			failed[bindingID] = struct{}{}
		}
	}

	for i := range report.Ghosts {
		g := &report.Ghosts[i]
		g.Purged = !slices.ContainsFunc(g.BindingIDs, func(b id.BindingID) bool {
			_, bad := failed[b]
			return bad
		})
		if !g.Purged {
			e.logger.WarnContext(ctx, "ghost bindings not fully purged",
				"external_id", g.ExternalID,
				"bindings", len(g.BindingIDs),
			)
			continue
		}
		if hasMirror, ok := stillListed[g.ExternalID]; ok && hasMirror {
			if err := e.directory.ClearIdentityBinding(ctx, g.ExternalID); err != nil && !errors.Is(err, sentinel.ErrNotFound) {
				e.logger.ErrorContext(ctx, "failed to clear mirrored binding",
					"employee_id", g.ExternalID,
					"error", err,
				)
			} else {
				g.MirrorCleared = true
			}
		}
		e.logger.InfoContext(ctx, "ghost bindings purged",
			"external_id", g.ExternalID,
			"binding_ids", joinBindings(g.BindingIDs),
			"employee_status", g.EmployeeStatus,
		)
		e.emit(ctx, audit.Event{
			Action:     string(audit.EventGhostBindingsPurged),
			EmployeeID: g.ExternalID,
			Subject:    joinBindings(g.BindingIDs),
			Decision:   "deleted",
			Reason:     "employee " + g.EmployeeStatus,
		})
	}

	report.FinishedAt = requestcontext.Now(ctx)
	return report, nil
}

// FindAndResolveDuplicateOpenSessions keeps the latest open session of each
// employee on day and, in enforce mode, deletes the others. An exact tie on
// the latest check-in time is reported as a conflict and left untouched.
func (e *Engine) FindAndResolveDuplicateOpenSessions(ctx context.Context, day id.DayKey, mode Mode) (report *DuplicateReport, err error) {
	ctx, span := e.tracer.Start(ctx, "reconcile.FindAndResolveDuplicateOpenSessions", trace.WithAttributes(
		attribute.String("reconcile.mode", mode.String()),
		attribute.String("reconcile.day", day.String()),
	))
	defer func() {
		if report != nil {
			span.SetAttributes(attribute.Int("reconcile.deleted", report.Deleted))
		}
		e.finishRun(span, routineSessions, mode, err, report != nil && report.Failed > 0)
	}()

	if mode != ModeAudit && mode != ModeEnforce {
		return nil, dErrors.New(dErrors.CodeBadRequest, "mode must be audit or enforce")
	}
	if _, err := id.ParseDayKey(day.String()); err != nil {
		return nil, err
	}
	report = &DuplicateReport{Mode: mode, Day: day, StartedAt: requestcontext.Now(ctx)}

	open, err := e.sessions.ListOpenByDay(ctx, day)
	if err != nil {
		return nil, dErrors.WrapDependency(err, "failed to list open sessions")
	}
	report.OpenSessions = len(open)

	byEmployee := make(map[id.EmployeeID][]*models.Session)
	for _, session := range open {
		byEmployee[session.EmployeeID] = append(byEmployee[session.EmployeeID], session)
	}
	employees := make([]id.EmployeeID, 0, len(byEmployee))
	for employeeID, sessions := range byEmployee {
		if len(sessions) > 1 {
			employees = append(employees, employeeID)
		}
	}
	slices.Sort(employees)

	for _, employeeID := range employees {
		sessions := byEmployee[employeeID]
		slices.SortStableFunc(sessions, func(a, b *models.Session) int {
			return a.CheckInTime.Compare(b.CheckInTime)
		})
		latest := sessions[len(sessions)-1]
		if sessions[len(sessions)-2].CheckInTime.Equal(latest.CheckInTime) {
			report.Conflicts = append(report.Conflicts, Conflict{
				Subject:    "employee " + employeeID.String(),
				SessionIDs: sessionIDs(sessions),
				Reason:     "several open sessions share the latest check-in time",
			})
			continue
		}

		resolution := Resolution{
			EmployeeID:  employeeID,
			Kept:        latest.ID,
			KeptCheckIn: latest.CheckInTime,
		}
		for _, stale := range sessions[:len(sessions)-1] {
			if mode == ModeAudit {
				resolution.Removed = append(resolution.Removed, stale.ID)
				continue
			}
			err := e.sessions.DeleteIfOpen(ctx, stale.ID)
			switch {
			case err == nil:
				resolution.Removed = append(resolution.Removed, stale.ID)
				report.Deleted++
			case errors.Is(err, sentinel.ErrNotFound), errors.Is(err, sentinel.ErrConflict):
				resolution.Skipped = append(resolution.Skipped, stale.ID)
			default:
				resolution.Failed = append(resolution.Failed, stale.ID)
				report.Failed++
				e.logger.ErrorContext(ctx, "failed to delete duplicate open session",
					"employee_id", employeeID,
					"session_id", stale.ID,
					"error", err,
				)
			}
		}
		report.Resolutions = append(report.Resolutions, resolution)

		action, decision := audit.EventDuplicateSessionsReported, "reported"
		if mode == ModeEnforce {
			action, decision = audit.EventDuplicateSessionsResolved, "deleted"
		}
		e.logger.InfoContext(ctx, "duplicate open sessions",
			"mode", mode,
			"employee_id", employeeID,
			"day", day,
			"kept", latest.ID,
			"removed", len(resolution.Removed),
			"skipped", len(resolution.Skipped),
			"failed", len(resolution.Failed),
		)
		e.emit(ctx, audit.Event{
			Action:     string(action),
			EmployeeID: employeeID,
			Subject:    joinSessions(resolution.Removed),
			Decision:   decision,
			Reason:     "kept latest check-in " + latest.ID.String(),
		})
	}

	e.metrics.AddDeleted("session", report.Deleted)
	e.reportConflicts(ctx, routineSessions, report.Conflicts)
	report.FinishedAt = requestcontext.Now(ctx)
	return report, nil
}

func (e *Engine) reportConflicts(ctx context.Context, routine string, conflicts []Conflict) {
	e.metrics.AddConflicts(routine, len(conflicts))
	for _, c := range conflicts {
		e.logger.WarnContext(ctx, "reconciliation conflict needs manual review",
			"routine", routine,
			"subject", c.Subject,
			"reason", c.Reason,
		)
		e.emit(ctx, audit.Event{
			Action:   string(audit.EventReconciliationConflict),
			Subject:  c.Subject,
			Decision: "manual_review",
			Reason:   c.Reason,
		})
	}
}

func (e *Engine) finishRun(span trace.Span, routine string, mode Mode, err error, partial bool) {
	outcome := "ok"
	switch {
	case err != nil:
		outcome = "error"
		span.RecordError(err)
		span.SetStatus(codes.Error, string(dErrors.CodeOf(err)))
	case partial:
		outcome = "partial"
	}
	e.metrics.IncrementRun(routine, mode.String(), outcome)
	span.End()
}

func (e *Engine) emit(ctx context.Context, event audit.Event) {
	if e.auditor == nil {
		return
	}
	event.RequestID = requestcontext.RequestID(ctx)
	event.ActorID = requestcontext.Actor(ctx)
	event.Timestamp = requestcontext.Now(ctx)
	if err := e.auditor.Emit(ctx, event); err != nil {
		e.logger.ErrorContext(ctx, "failed to emit audit event",
			"action", event.Action,
			"error", err,
		)
	}
}

func sortedBindings(ids []id.BindingID) []id.BindingID {
	out := slices.Clone(ids)
	slices.Sort(out)
	return out
}

func sessionIDs(sessions []*models.Session) []id.SessionID {
	out := make([]id.SessionID, len(sessions))
	for i, s := range sessions {
		out[i] = s.ID
	}
	return out
}

func joinBindings(ids []id.BindingID) string {
	parts := make([]string, len(ids))
	for i, b := range ids {
		parts[i] = b.String()
	}
	return strings.Join(parts, ",")
}

func joinSessions(ids []id.SessionID) string {
	parts := make([]string, len(ids))
	for i, s := range ids {
		parts[i] = s.String()
	}
	return strings.Join(parts, ",")
}

func quote(s string) string {
	return "\"" + s + "\""
}
