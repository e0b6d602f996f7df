//go:build integration

package kafka_test

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twmb/franz-go/pkg/kgo"

	"presence/internal/directory/events"
	"presence/internal/platform/config"
	platformkafka "presence/internal/platform/kafka"
	audit "presence/pkg/platform/audit"
	auditkafka "presence/pkg/platform/audit/store/kafka"
	"presence/pkg/testutil/containers"
)

type countingTrigger struct{ n atomic.Int32 }

func (c *countingTrigger) Trigger() { c.n.Add(1) }

func TestKafka_AuditAndDirectoryEvents(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	broker := containers.GetManager().GetRedpanda(t)
	cfg := config.Kafka{
		Brokers:        append([]string{" "}, broker.Brokers...),
		AuditTopic:     "it.presence.audit",
		DirectoryTopic: "it.directory.employees",
		ConsumerGroup:  "it-presence",
	}
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	producer, err := platformkafka.NewProducer(cfg)
	require.NoError(t, err)
	defer producer.Close()
	require.NoError(t, platformkafka.EnsureTopics(ctx, producer, 1, 1, cfg.AuditTopic, cfg.DirectoryTopic))
	require.NoError(t, platformkafka.EnsureTopics(ctx, producer, 1, 1, cfg.AuditTopic), "existing topics are not an error")

	t.Run("audit events are keyed by employee", func(t *testing.T) {
		store := auditkafka.New(producer, cfg.AuditTopic)
		require.NoError(t, store.Append(ctx, audit.Event{
			Action:     string(audit.EventIdentityReset),
			EmployeeID: "SRM004",
			Subject:    "b-1,b-2",
		}))

		reader, err := kgo.NewClient(
			kgo.SeedBrokers(broker.Brokers...),
			kgo.ConsumeTopics(cfg.AuditTopic),
			kgo.ConsumeResetOffset(kgo.NewOffset().AtStart()),
		)
		require.NoError(t, err)
		defer reader.Close()

		fetches := reader.PollFetches(ctx)
		require.NoError(t, fetches.Err())
		records := fetches.Records()
		require.NotEmpty(t, records)
		assert.Equal(t, "SRM004", string(records[0].Key))

		var body map[string]any
		require.NoError(t, json.Unmarshal(records[0].Value, &body))
		assert.Equal(t, "compliance", body["category"])
	})

	t.Run("directory removals trigger reconciliation", func(t *testing.T) {
		value, err := json.Marshal(events.Message{Type: events.TypeEmployeeRemoved, EmployeeID: "SRM004"})
		require.NoError(t, err)
		require.NoError(t, producer.ProduceSync(ctx, &kgo.Record{Topic: cfg.DirectoryTopic, Value: value}).FirstErr())

		consumer, err := platformkafka.NewConsumer(cfg)
		require.NoError(t, err)
		defer consumer.Close()

		trigger := &countingTrigger{}
		listenCtx, stop := context.WithCancel(ctx)
		done := make(chan error, 1)
		go func() { done <- events.NewListener(consumer, trigger, nil).Run(listenCtx) }()

		require.Eventually(t, func() bool { return trigger.n.Load() >= 1 }, 30*time.Second, 100*time.Millisecond)
		stop()
		require.NoError(t, <-done)
	})
}
