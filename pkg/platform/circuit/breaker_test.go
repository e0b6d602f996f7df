package circuit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time          { return c.now }
func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newIndexBreaker(clock *fakeClock, opts ...Option) *Breaker {
	base := []Option{
		WithFailureThreshold(3),
		WithSuccessThreshold(2),
		WithCooldown(10 * time.Second),
		WithClock(clock.Now),
	}
	return New("identity-index", append(base, opts...)...)
}

func TestBreaker_OpensOnConsecutiveFailures(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 10, 18, 9, 0, 0, 0, time.UTC)}
	b := newIndexBreaker(clock)
	require.Equal(t, StateClosed, b.State())
	require.Equal(t, "identity-index", b.Name())

	for i := range 2 {
		fallback, change := b.RecordFailure()
		assert.False(t, fallback, "failure %d", i+1)
		assert.False(t, change.Opened)
	}

	fallback, change := b.RecordFailure()
	assert.True(t, fallback)
	assert.True(t, change.Opened)
	assert.True(t, b.IsOpen())

	fallback, change = b.RecordFailure()
	assert.True(t, fallback)
	assert.False(t, change.Opened, "already open")
}

func TestBreaker_IntermittentFailuresStayClosed(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 10, 18, 9, 0, 0, 0, time.UTC)}
	b := newIndexBreaker(clock)

	// fail, fail, ok, fail, fail never reaches three in a row
	b.RecordFailure()
	b.RecordFailure()
	b.RecordSuccess()
	b.RecordFailure()
	b.RecordFailure()
	assert.False(t, b.IsOpen())
}

func TestBreaker_TrialCallsAfterCooldown(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 10, 18, 9, 0, 0, 0, time.UTC)}
	b := newIndexBreaker(clock, WithFailureThreshold(1))

	assert.True(t, b.Allow())
	b.RecordFailure()
	assert.False(t, b.Allow(), "rejects during cooldown")

	clock.Advance(10 * time.Second)
	assert.True(t, b.Allow(), "trial call once cooldown elapsed")

	b.RecordFailure()
	assert.False(t, b.Allow(), "failed trial call restarts the cooldown")

	clock.Advance(10 * time.Second)
	primary, change := b.RecordSuccess()
	assert.False(t, primary)
	assert.False(t, change.Closed)

	// A failure between trial calls restarts the success count.
	b.RecordFailure()
	clock.Advance(10 * time.Second)
	b.RecordSuccess()
	assert.True(t, b.IsOpen())

	primary, change = b.RecordSuccess()
	assert.True(t, primary)
	assert.True(t, change.Closed)
	assert.False(t, b.IsOpen())
	assert.True(t, b.Allow())
}

func TestBreaker_Reset(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 10, 18, 9, 0, 0, 0, time.UTC)}
	b := newIndexBreaker(clock, WithFailureThreshold(1))

	b.RecordFailure()
	require.True(t, b.IsOpen())

	b.Reset()
	assert.Equal(t, StateClosed, b.State())
	assert.True(t, b.Allow())
}
