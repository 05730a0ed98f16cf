package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestGovernor(start time.Time) (*Governor, *time.Time) {
	now := start
	g := &Governor{
		windows: make(map[string]*window),
		now:     func() time.Time { return now },
		stop:    make(chan struct{}),
	}
	return g, &now
}

func TestTryAcquireConsumesSlots(t *testing.T) {
	g, _ := newTestGovernor(time.Unix(1000, 0))

	for i := 0; i < 3; i++ {
		res := g.TryAcquire("gmail", time.Minute, 3)
		assert.True(t, res.Allowed)
		assert.Equal(t, 2-i, res.Remaining)
	}

	res := g.TryAcquire("gmail", time.Minute, 3)
	assert.False(t, res.Allowed)
	assert.Equal(t, 0, res.Remaining)
	assert.Equal(t, time.Unix(1060, 0), res.ResetAt)
}

func TestTryAcquireWindowReset(t *testing.T) {
	g, now := newTestGovernor(time.Unix(1000, 0))

	g.TryAcquire("embed", time.Minute, 1)
	assert.False(t, g.TryAcquire("embed", time.Minute, 1).Allowed)

	*now = now.Add(61 * time.Second)
	res := g.TryAcquire("embed", time.Minute, 1)
	require.True(t, res.Allowed)
	assert.Equal(t, now.Add(time.Minute), res.ResetAt)
}

func TestTryAcquireKeysIndependent(t *testing.T) {
	g, _ := newTestGovernor(time.Unix(1000, 0))

	assert.True(t, g.TryAcquire("gmail", time.Minute, 1).Allowed)
	assert.False(t, g.TryAcquire("gmail", time.Minute, 1).Allowed)
	assert.True(t, g.TryAcquire("embed", time.Minute, 1).Allowed)
}

func TestWaitReturnsOnCancel(t *testing.T) {
	g := NewGovernor()
	defer g.Stop()

	require.NoError(t, g.Wait(context.Background(), "k", time.Hour, 1))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := g.Wait(ctx, "k", time.Hour, 1)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
