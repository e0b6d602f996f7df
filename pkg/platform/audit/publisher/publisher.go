// Package publisher fronts an audit.Store. Synchronous by default; with
// WithAsyncBuffer events are queued and persisted by a background goroutine
// that drains on Close.
package publisher

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	id "presence/pkg/domain"
	audit "presence/pkg/platform/audit"
)

var (
	// ErrBufferFull is returned by Emit in async mode when the queue is full.
	ErrBufferFull = errors.New("audit buffer full")
	// ErrClosed is returned by Emit in async mode after Close.
	ErrClosed = errors.New("audit publisher closed")
)

// Publisher captures structured audit events.
type Publisher struct {
	store  audit.Store
	logger *slog.Logger
	now    func() time.Time

	async  bool
	buffer chan audit.Event
	wg     sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

// Option configures the Publisher.
type Option func(*Publisher)

// WithAsyncBuffer enables async mode with a queue of size n.
func WithAsyncBuffer(n int) Option {
	return func(p *Publisher) {
		if n > 0 {
			p.async = true
			p.buffer = make(chan audit.Event, n)
		}
	}
}

// WithLogger sets the logger used for async persistence failures.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Publisher) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithClock injects the timestamp source.
func WithClock(now func() time.Time) Option {
	return func(p *Publisher) {
		if now != nil {
			p.now = now
		}
	}
}

func NewPublisher(store audit.Store, opts ...Option) *Publisher {
	p := &Publisher{
		store:  store,
		logger: slog.New(slog.DiscardHandler),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.async {
		p.wg.Add(1)
		go p.run()
	}
	return p
}

// Emit stamps the event (timestamp, category) and persists or queues it.
func (p *Publisher) Emit(ctx context.Context, event audit.Event) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = p.now()
	}
	if event.Category == "" {
		event.Category = audit.AuditEvent(event.Action).Category()
	}
	if !p.async {
		return p.store.Append(ctx, event)
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrClosed
	}
	select {
	case p.buffer <- event:
		return nil
	default:
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	p.logger.WarnContext(ctx, "audit buffer full, dropping event",
		"action", event.Action,
		"employee_id", event.EmployeeID,
	)
	return ErrBufferFull
}

// List returns events for one employee when the store supports reads.
func (p *Publisher) List(ctx context.Context, employeeID id.EmployeeID) ([]audit.Event, error) {
	reader, ok := p.store.(audit.Reader)
	if !ok {
		return nil, errors.New("audit store does not support listing")
	}
	return reader.ListByEmployee(ctx, employeeID)
}

// Close stops accepting async events and waits for the queue to drain.
func (p *Publisher) Close() {
	if !p.async {
		return
	}
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.buffer)
	}
	p.mu.Unlock()
	p.wg.Wait()
}

func (p *Publisher) run() {
	defer p.wg.Done()
	for event := range p.buffer {
		if err := p.store.Append(context.Background(), event); err != nil {
			p.logger.Error("failed to persist audit event",
				"action", event.Action,
				"employee_id", event.EmployeeID,
				"error", err,
			)
		}
	}
}
