package reconcile

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"presence/internal/attendance/models"
	"presence/internal/attendance/store"
	dirmodels "presence/internal/directory/models"
	dirstore "presence/internal/directory/store"
	"presence/internal/identity/index"
	idmodels "presence/internal/identity/models"
	id "presence/pkg/domain"
	audit "presence/pkg/platform/audit"
	"presence/pkg/platform/audit/publisher"
	auditmemory "presence/pkg/platform/audit/store/memory"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type schedulerFixture struct {
	directory *dirstore.InMemory
	index     *index.InMemory
	sessions  *store.InMemory
	auditLog  *auditmemory.InMemoryStore
	engine    *Engine
}

func newSchedulerFixture(t *testing.T) *schedulerFixture {
	t.Helper()
	ctx := context.Background()
	f := &schedulerFixture{
		directory: dirstore.NewInMemory(),
		index:     index.NewInMemory(),
		sessions:  store.NewInMemory(),
		auditLog:  auditmemory.NewInMemoryStore(),
	}
	f.engine = New(f.index, f.directory, f.sessions,
		WithAuditPublisher(publisher.NewPublisher(f.auditLog)),
	)
	require.NoError(t, f.directory.Upsert(ctx, dirmodels.Employee{ID: "SRM001", Status: dirmodels.StatusActive}))
	f.index.Seed(idmodels.Sample("x"),
		idmodels.Entry{BindingID: "b-1", ExternalID: "SRM001"},
		idmodels.Entry{BindingID: "b-ghost", ExternalID: "GONE7"},
	)
	return f
}

func TestScheduler_RunOnceCoversTodayAndYesterday(t *testing.T) {
	f := newSchedulerFixture(t)
	ctx := context.Background()
	jakarta := time.FixedZone("WIB", 7*60*60)
	// 00:30 on the 18th in UTC+7.
	now := time.Date(2026, 10, 17, 17, 30, 0, 0, time.UTC)

	yesterday := time.Date(2026, 10, 17, 9, 0, 0, 0, jakarta)
	var kept id.SessionID
	for i, checkIn := range []time.Time{yesterday, yesterday.Add(5 * time.Minute)} {
		session := &models.Session{
			ID:          id.NewSessionID(),
			EmployeeID:  "SRM001",
			DayKey:      "2026-10-17",
			CheckInTime: checkIn,
		}
		if i == 1 {
			kept = session.ID
		}
		require.NoError(t, f.sessions.Import(ctx, session))
	}

	scheduler := NewScheduler(f.engine, time.Hour, ModeEnforce,
		WithLocation(jakarta),
		WithClock(func() time.Time { return now }),
	)
	scheduler.RunOnce(ctx)

	assert.Equal(t, 1, f.index.Len())
	open, err := f.sessions.ListOpenByDay(ctx, "2026-10-17")
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, kept, open[0].ID)

	purged := f.auditLog.ListByAction(audit.EventGhostBindingsPurged)
	require.Len(t, purged, 1)
	assert.Equal(t, SchedulerActor, purged[0].ActorID)
	assert.Equal(t, now, purged[0].Timestamp)
}

func TestScheduler_TriggerRunsAPassAndStopsOnCancel(t *testing.T) {
	f := newSchedulerFixture(t)
	scheduler := NewScheduler(f.engine, time.Hour, ModeEnforce)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- scheduler.Run(ctx) }()

	scheduler.Trigger()
	scheduler.Trigger()
	require.Eventually(t, func() bool { return f.index.Len() == 1 }, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.True(t, errors.Is(err, context.Canceled))
	case <-time.After(time.Second):
		t.Fatal("scheduler did not stop")
	}
}

func TestScheduler_TriggerNeverBlocks(t *testing.T) {
	scheduler := NewScheduler(nil, time.Hour, ModeAudit)
	for range 10 {
		scheduler.Trigger()
	}
	assert.Len(t, scheduler.trigger, 1)
}

func TestScheduler_AuditModeLeavesDataInPlace(t *testing.T) {
	f := newSchedulerFixture(t)
	scheduler := NewScheduler(f.engine, time.Hour, ModeAudit)
	scheduler.RunOnce(context.Background())

	assert.Equal(t, 2, f.index.Len())
	assert.Len(t, f.auditLog.ListByAction(audit.EventGhostBindingsReported), 1)
}
