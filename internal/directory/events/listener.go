// Package events consumes employee change events published by the directory
// owner and asks the reconciliation scheduler for a run when an employee
// leaves the active population.
package events

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/twmb/franz-go/pkg/kgo"

	id "presence/pkg/domain"
)

// Event types that invalidate identity bindings.
const (
	TypeEmployeeDeactivated = "employee_deactivated"
	TypeEmployeeRemoved     = "employee_removed"
)

// Message is the directory change event payload.
type Message struct {
	Type       string        `json:"type"`
	EmployeeID id.EmployeeID `json:"employee_id"`
}

// Poller is the subset of *kgo.Client used by the listener.
type Poller interface {
	PollFetches(ctx context.Context) kgo.Fetches
}

// Trigger requests a reconciliation run. Implementations coalesce requests.
type Trigger interface {
	Trigger()
}

// Listener consumes directory events until its context ends.
type Listener struct {
	poller  Poller
	trigger Trigger
	logger  *slog.Logger
}

func NewListener(poller Poller, trigger Trigger, logger *slog.Logger) *Listener {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Listener{poller: poller, trigger: trigger, logger: logger}
}

// Run polls until ctx is cancelled or the client is closed. Malformed records
// are logged and skipped.
func (l *Listener) Run(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return nil
		}
		fetches := l.poller.PollFetches(ctx)
		if fetches.IsClientClosed() || ctx.Err() != nil {
			return nil
		}
		fetches.EachError(func(topic string, partition int32, err error) {
			l.logger.WarnContext(ctx, "directory event fetch failed",
				"topic", topic,
				"partition", partition,
				"error", err,
			)
		})

		triggered := false
		fetches.EachRecord(func(record *kgo.Record) {
			if l.handle(ctx, record) {
				triggered = true
			}
		})
		if triggered {
			l.trigger.Trigger()
		}
	}
}

func (l *Listener) handle(ctx context.Context, record *kgo.Record) bool {
	var msg Message
	if err := json.Unmarshal(record.Value, &msg); err != nil {
		l.logger.WarnContext(ctx, "skipping malformed directory event",
			"topic", record.Topic,
			"offset", record.Offset,
			"error", err,
		)
		return false
	}
	switch msg.Type {
	case TypeEmployeeDeactivated, TypeEmployeeRemoved:
		l.logger.InfoContext(ctx, "employee left active population, scheduling reconciliation",
			"employee_id", msg.EmployeeID,
			"event_type", msg.Type,
		)
		return true
	default:
		return false
	}
}
