package publisher

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	id "presence/pkg/domain"
	audit "presence/pkg/platform/audit"
	"presence/pkg/platform/audit/store/memory"
)

func TestPublisher_SyncMode(t *testing.T) {
	store := memory.NewInMemoryStore()
	pub := NewPublisher(store)
	defer pub.Close()

	employeeID := id.EmployeeID("SRM001")
	err := pub.Emit(context.Background(), audit.Event{
		EmployeeID: employeeID,
		Action:     string(audit.EventCheckedIn),
	})
	require.NoError(t, err)

	events, err := pub.List(context.Background(), employeeID)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, string(audit.EventCheckedIn), events[0].Action)
	assert.Equal(t, audit.CategoryOperations, events[0].Category, "category derived from action")
}

func TestPublisher_KeepsExplicitCategory(t *testing.T) {
	store := memory.NewInMemoryStore()
	pub := NewPublisher(store)

	err := pub.Emit(context.Background(), audit.Event{
		Category:   audit.CategorySecurity,
		EmployeeID: "SRM001",
		Action:     string(audit.EventCheckedIn),
	})
	require.NoError(t, err)

	events, err := store.ListByEmployee(context.Background(), "SRM001")
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, audit.CategorySecurity, events[0].Category)
}

func TestPublisher_AsyncDrainsOnClose(t *testing.T) {
	store := memory.NewInMemoryStore()
	pub := NewPublisher(store, WithAsyncBuffer(100))

	employeeID := id.EmployeeID("SRM002")
	for range 10 {
		err := pub.Emit(context.Background(), audit.Event{
			EmployeeID: employeeID,
			Action:     string(audit.EventIdentityReset),
		})
		require.NoError(t, err)
	}

	pub.Close()

	events, err := store.ListByEmployee(context.Background(), employeeID)
	require.NoError(t, err)
	assert.Len(t, events, 10, "all events should be drained on close")
	for _, e := range events {
		assert.Equal(t, audit.CategoryCompliance, e.Category)
	}
}

func TestPublisher_EmitAfterCloseFails(t *testing.T) {
	pub := NewPublisher(memory.NewInMemoryStore(), WithAsyncBuffer(1))
	pub.Close()
	pub.Close()

	err := pub.Emit(context.Background(), audit.Event{Action: string(audit.EventCheckedIn)})
	assert.ErrorIs(t, err, ErrClosed)
}

func TestPublisher_BufferFull_DropsEvent(t *testing.T) {
	store := memory.NewInMemoryStore()
	pub := NewPublisher(store, WithAsyncBuffer(1))

	var wg sync.WaitGroup
	var mu sync.Mutex
	accepted := 0
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := pub.Emit(context.Background(), audit.Event{
				EmployeeID: "SRM003",
				Action:     string(audit.EventCheckedOut),
			})
			if err == nil {
				mu.Lock()
				accepted++
				mu.Unlock()
				return
			}
			assert.True(t, errors.Is(err, ErrBufferFull))
		}()
	}
	wg.Wait()
	pub.Close()

	events, err := store.ListByEmployee(context.Background(), "SRM003")
	require.NoError(t, err)
	assert.Len(t, events, accepted, "every accepted event is persisted")
}

func TestPublisher_SetsTimestamp(t *testing.T) {
	fixed := time.Date(2026, 10, 18, 9, 0, 0, 0, time.UTC)
	store := memory.NewInMemoryStore()
	pub := NewPublisher(store, WithClock(func() time.Time { return fixed }))

	require.NoError(t, pub.Emit(context.Background(), audit.Event{
		EmployeeID: "SRM001",
		Action:     string(audit.EventCheckedIn),
	}))

	events, err := pub.List(context.Background(), "SRM001")
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, fixed, events[0].Timestamp)
}

func TestPublisher_PreservesExistingTimestamp(t *testing.T) {
	store := memory.NewInMemoryStore()
	pub := NewPublisher(store)

	customTime := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, pub.Emit(context.Background(), audit.Event{
		EmployeeID: "SRM001",
		Action:     string(audit.EventCheckedIn),
		Timestamp:  customTime,
	}))

	events, err := pub.List(context.Background(), "SRM001")
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, customTime, events[0].Timestamp)
}

type appendOnly struct{ audit.Store }

func TestPublisher_ListRequiresReader(t *testing.T) {
	pub := NewPublisher(appendOnly{memory.NewInMemoryStore()})
	_, err := pub.List(context.Background(), "SRM001")
	assert.Error(t, err)
}
