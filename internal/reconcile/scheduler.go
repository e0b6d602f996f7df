package reconcile

import (
	"context"
	"log/slog"
	"time"

	id "presence/pkg/domain"
	"presence/pkg/requestcontext"
)

// SchedulerActor is the actor recorded on audit events of scheduled runs.
const SchedulerActor = "scheduler"

// Scheduler runs both routines on an interval and on demand. Each pass scans
// ghost bindings and resolves duplicate open sessions for today and
// yesterday, so a pass shortly after midnight still covers the previous day.
type Scheduler struct {
	engine   *Engine
	interval time.Duration
	mode     Mode
	location *time.Location
	logger   *slog.Logger
	now      func() time.Time
	trigger  chan struct{}
}

type SchedulerOption func(*Scheduler)

func WithSchedulerLogger(logger *slog.Logger) SchedulerOption {
	return func(s *Scheduler) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithLocation sets the time zone used to derive day keys.
func WithLocation(loc *time.Location) SchedulerOption {
	return func(s *Scheduler) {
		if loc != nil {
			s.location = loc
		}
	}
}

func WithClock(now func() time.Time) SchedulerOption {
	return func(s *Scheduler) {
		if now != nil {
			s.now = now
		}
	}
}

func NewScheduler(engine *Engine, interval time.Duration, mode Mode, opts ...SchedulerOption) *Scheduler {
	s := &Scheduler{
		engine:   engine,
		interval: interval,
		mode:     mode,
		location: time.UTC,
		logger:   slog.New(slog.DiscardHandler),
		now:      time.Now,
		trigger:  make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Trigger requests a pass. Requests made while one is pending are merged.
func (s *Scheduler) Trigger() {
	select {
	case s.trigger <- struct{}{}:
	default:
	}
}

// Run executes passes until ctx is cancelled. A failing pass is logged and
// does not stop the loop.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.RunOnce(ctx)
		case <-s.trigger:
			s.RunOnce(ctx)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// RunOnce executes one pass with a single consistent "now".
func (s *Scheduler) RunOnce(ctx context.Context) {
	now := s.now()
	ctx = requestcontext.WithTime(ctx, now)
	ctx = requestcontext.WithActor(ctx, SchedulerActor, SchedulerActor)

	if report, err := s.engine.FindAndPurgeGhostBindings(ctx, s.mode); err != nil {
		s.logger.ErrorContext(ctx, "scheduled ghost binding scan failed", "error", err)
	} else {
		s.logger.InfoContext(ctx, "scheduled ghost binding scan finished",
			"mode", s.mode,
			"ghost_bindings", report.GhostBindingCount(),
			"deleted", report.Deleted,
			"conflicts", len(report.Conflicts),
		)
	}

	today := id.DayKeyFor(now, s.location)
	for _, day := range []id.DayKey{today.Previous(), today} {
		report, err := s.engine.FindAndResolveDuplicateOpenSessions(ctx, day, s.mode)
		if err != nil {
			s.logger.ErrorContext(ctx, "scheduled duplicate session scan failed", "day", day, "error", err)
			continue
		}
		s.logger.InfoContext(ctx, "scheduled duplicate session scan finished",
			"mode", s.mode,
			"day", day,
			"resolutions", len(report.Resolutions),
			"deleted", report.Deleted,
			"conflicts", len(report.Conflicts),
		)
	}
}
