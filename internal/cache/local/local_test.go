package local

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/premarket/internal/domain"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func TestRateLimiterBurstThenRefill(t *testing.T) {
	clk := &fakeClock{t: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)}
	l := NewRateLimiter()
	l.now = clk.now
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		ok, err := l.Allow(ctx, "a", 3, time.Minute)
		require.NoError(t, err)
		assert.True(t, ok, "request %d", i)
	}
	ok, _ := l.Allow(ctx, "a", 3, time.Minute)
	assert.False(t, ok)

	ok, _ = l.Allow(ctx, "b", 3, time.Minute)
	assert.True(t, ok, "keys are independent")

	clk.advance(20 * time.Second)
	ok, _ = l.Allow(ctx, "a", 3, time.Minute)
	assert.True(t, ok)
}

func TestRateLimiterSweepsIdleKeys(t *testing.T) {
	clk := &fakeClock{t: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)}
	l := NewRateLimiter()
	l.now = clk.now
	ctx := context.Background()

	_, _ = l.Allow(ctx, "a", 1, time.Minute)
	clk.advance(idleTTL + time.Second)
	_, _ = l.Allow(ctx, "b", 1, time.Minute)
	assert.NotContains(t, l.buckets, "a")
	assert.Contains(t, l.buckets, "b")
}

func TestRateLimiterRejectsZeroLimit(t *testing.T) {
	ok, err := NewRateLimiter().Allow(context.Background(), "a", 0, time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestLockManager(t *testing.T) {
	clk := &fakeClock{t: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)}
	lm := NewLockManager()
	lm.now = clk.now
	ctx := context.Background()

	unlock, err := lm.Acquire(ctx, "keeper:sweep", time.Minute)
	require.NoError(t, err)

	_, err = lm.Acquire(ctx, "keeper:sweep", time.Minute)
	assert.ErrorIs(t, err, domain.ErrLockHeld)

	unlock()
	unlock()
	unlock2, err := lm.Acquire(ctx, "keeper:sweep", time.Minute)
	require.NoError(t, err)

	clk.advance(2 * time.Minute)
	unlock3, err := lm.Acquire(ctx, "keeper:sweep", time.Minute)
	require.NoError(t, err, "expired lease can be taken over")

	unlock2()
	_, err = lm.Acquire(ctx, "keeper:sweep", time.Minute)
	assert.ErrorIs(t, err, domain.ErrLockHeld, "stale unlock must not release the new holder")
	unlock3()
}
