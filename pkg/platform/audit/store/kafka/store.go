// Package kafka publishes audit events to a Kafka topic. Records are keyed by
// employee ID so one employee's trail stays ordered within a partition.
package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/twmb/franz-go/pkg/kerr"
	"github.com/twmb/franz-go/pkg/kgo"

	audit "presence/pkg/platform/audit"
)

// Producer is the subset of *kgo.Client used here.
type Producer interface {
	ProduceSync(ctx context.Context, rs ...*kgo.Record) kgo.ProduceResults
}

// Store is a write-only audit sink.
type Store struct {
	producer   Producer
	topic      string
	maxRetries uint64
	backoff    func() backoff.BackOff
}

// Option configures the Store.
type Option func(*Store)

// WithMaxRetries bounds retries of retriable produce errors.
func WithMaxRetries(n uint64) Option {
	return func(s *Store) { s.maxRetries = n }
}

// WithBackOff overrides the retry schedule (tests use a zero backoff).
func WithBackOff(newBackOff func() backoff.BackOff) Option {
	return func(s *Store) {
		if newBackOff != nil {
			s.backoff = newBackOff
		}
	}
}

func New(producer Producer, topic string, opts ...Option) *Store {
	s := &Store{
		producer:   producer,
		topic:      topic,
		maxRetries: 3,
		backoff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 100 * time.Millisecond
			b.MaxElapsedTime = 10 * time.Second
			return b
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type message struct {
	Category   string    `json:"category"`
	Timestamp  time.Time `json:"timestamp"`
	Action     string    `json:"action"`
	EmployeeID string    `json:"employee_id,omitempty"`
	Subject    string    `json:"subject,omitempty"`
	Decision   string    `json:"decision,omitempty"`
	Reason     string    `json:"reason,omitempty"`
	RequestID  string    `json:"request_id,omitempty"`
	ActorID    string    `json:"actor_id,omitempty"`
}

// Append produces the event synchronously, retrying retriable broker errors.
func (s *Store) Append(ctx context.Context, event audit.Event) error {
	category := event.Category
	if category == "" {
		category = audit.AuditEvent(event.Action).Category()
	}
	value, err := json.Marshal(message{
		Category:   string(category),
		Timestamp:  event.Timestamp,
		Action:     event.Action,
		EmployeeID: event.EmployeeID.String(),
		Subject:    event.Subject,
		Decision:   event.Decision,
		Reason:     event.Reason,
		RequestID:  event.RequestID,
		ActorID:    event.ActorID,
	})
	if err != nil {
		return fmt.Errorf("marshal audit event: %w", err)
	}
	record := &kgo.Record{
		Topic: s.topic,
		Key:   []byte(event.EmployeeID.String()),
		Value: value,
		Headers: []kgo.RecordHeader{
			{Key: "category", Value: []byte(category)},
		},
	}

	op := func() error {
		err := s.producer.ProduceSync(ctx, record).FirstErr()
		if err == nil {
			return nil
		}
		if !kerr.IsRetriable(err) {
			return backoff.Permanent(err)
		}
		return err
	}
	b := backoff.WithContext(backoff.WithMaxRetries(s.backoff(), s.maxRetries), ctx)
	if err := backoff.Retry(op, b); err != nil {
		var ke *kerr.Error
		if errors.As(err, &ke) {
			return fmt.Errorf("produce audit event: kafka %s: %w", ke.Message, err)
		}
		return fmt.Errorf("produce audit event: %w", err)
	}
	return nil
}
