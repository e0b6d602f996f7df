package events

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twmb/franz-go/pkg/kgo"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type chanPoller struct {
	batches chan kgo.Fetches
}

func (p *chanPoller) PollFetches(ctx context.Context) kgo.Fetches {
	select {
	case <-ctx.Done():
		return nil
	case f := <-p.batches:
		return f
	}
}

type countingTrigger struct{ n atomic.Int32 }

func (c *countingTrigger) Trigger() { c.n.Add(1) }

func fetchOf(t *testing.T, values ...any) kgo.Fetches {
	t.Helper()
	var records []*kgo.Record
	for i, v := range values {
		var raw []byte
		switch v := v.(type) {
		case string:
			raw = []byte(v)
		default:
			b, err := json.Marshal(v)
			require.NoError(t, err)
			raw = b
		}
		records = append(records, &kgo.Record{Topic: "directory.employees", Offset: int64(i), Value: raw})
	}
	return kgo.Fetches{{Topics: []kgo.FetchTopic{{
		Topic:      "directory.employees",
		Partitions: []kgo.FetchPartition{{Partition: 0, Records: records}},
	}}}}
}

func TestListener_TriggersOncePerBatchWithRemovals(t *testing.T) {
	poller := &chanPoller{batches: make(chan kgo.Fetches)}
	trigger := &countingTrigger{}
	listener := NewListener(poller, trigger, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- listener.Run(ctx) }()

	poller.batches <- fetchOf(t,
		Message{Type: TypeEmployeeDeactivated, EmployeeID: "SRM004"},
		Message{Type: TypeEmployeeRemoved, EmployeeID: "SRM005"},
	)
	poller.batches <- fetchOf(t,
		Message{Type: "employee_created", EmployeeID: "SRM006"},
		"{not json",
	)
	poller.batches <- fetchOf(t, Message{Type: TypeEmployeeRemoved, EmployeeID: "SRM007"})

	require.Eventually(t, func() bool { return trigger.n.Load() == 2 }, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("listener did not stop after cancel")
	}
	assert.Equal(t, int32(2), trigger.n.Load())
}
