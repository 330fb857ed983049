package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/ethpandaops/kpt/internal/testutil"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const leaderKey = "kpt:scheduler:leader"

// settle waits for one renewal round
func settle() {
	time.Sleep(renewInterval + 500*time.Millisecond)
}

func newElector(t *testing.T, mr *miniredis.Miniredis) LeaderElector {
	t.Helper()

	return NewLeaderElector(testLogger(), &redis.Options{Addr: mr.Addr()}, leaderKey)
}

func waitSignal(t *testing.T, ch <-chan struct{}, what string) {
	t.Helper()

	select {
	case <-ch:
	case <-time.After(renewInterval + time.Second):
		t.Fatalf("no %s signal", what)
	}
}

func TestElectionSingleInstance(t *testing.T) {
	mr, _ := testutil.NewMiniredisClient(t)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	e := newElector(t, mr)
	require.NoError(t, e.Start(ctx))

	waitSignal(t, e.Promoted(), "promotion")
	assert.True(t, e.IsLeader())

	owner, err := mr.Get(leaderKey)
	require.NoError(t, err)
	assert.NotEmpty(t, owner)
	assert.True(t, mr.TTL(leaderKey) > 0, "the lease carries a TTL")

	require.NoError(t, e.Stop())
	assert.False(t, e.IsLeader())
	assert.False(t, mr.Exists(leaderKey), "stopping the leader releases the lease")
}

func TestElectionOneLeader(t *testing.T) {
	mr, _ := testutil.NewMiniredisClient(t)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	first, second := newElector(t, mr), newElector(t, mr)
	require.NoError(t, first.Start(ctx))
	require.NoError(t, second.Start(ctx))

	defer first.Stop()
	defer second.Stop()

	settle()

	require.NotEqual(t, first.IsLeader(), second.IsLeader(), "exactly one instance leads")

	leader, follower := first, second
	if second.IsLeader() {
		leader, follower = second, first
	}

	require.NoError(t, leader.Stop())

	// the lease is released on stop, so the follower takes over on its next renewal
	waitSignal(t, follower.Promoted(), "promotion")
	assert.True(t, follower.IsLeader())
}

func TestElectionDemotedWhenLeaseIsLost(t *testing.T) {
	mr, _ := testutil.NewMiniredisClient(t)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	e := newElector(t, mr)
	require.NoError(t, e.Start(ctx))
	defer e.Stop()

	waitSignal(t, e.Promoted(), "promotion")

	require.NoError(t, mr.Set(leaderKey, "another-instance"))

	waitSignal(t, e.Demoted(), "demotion")
	assert.False(t, e.IsLeader())

	require.NoError(t, e.Stop())

	owner, err := mr.Get(leaderKey)
	require.NoError(t, err)
	assert.Equal(t, "another-instance", owner, "a demoted instance leaves the other lease alone")
}

func TestElectionStopIsIdempotent(t *testing.T) {
	mr, _ := testutil.NewMiniredisClient(t)

	e := newElector(t, mr)
	require.NoError(t, e.Start(context.Background()))

	require.NoError(t, e.Stop())
	require.NoError(t, e.Stop())
}

func TestWaitForLeadership(t *testing.T) {
	mr, _ := testutil.NewMiniredisClient(t)

	t.Run("returns once promoted", func(t *testing.T) {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		e := newElector(t, mr)
		require.NoError(t, e.Start(ctx))
		defer e.Stop()

		require.NoError(t, e.WaitForLeadership(ctx))
		assert.True(t, e.IsLeader())

		// the promotion signal is handed back for the scheduler loop
		waitSignal(t, e.Promoted(), "promotion")
	})

	t.Run("fails when stopped", func(t *testing.T) {
		mr.FlushAll()
		require.NoError(t, mr.Set(leaderKey, "another-instance"))

		e := newElector(t, mr)
		require.NoError(t, e.Start(context.Background()))

		done := make(chan error, 1)
		go func() { done <- e.WaitForLeadership(context.Background()) }()

		require.NoError(t, e.Stop())

		select {
		case err := <-done:
			require.ErrorIs(t, err, ErrElectorStopped)
		case <-time.After(time.Second):
			t.Fatal("WaitForLeadership did not return after Stop")
		}
	})

	t.Run("fails when the context ends", func(t *testing.T) {
		mr.FlushAll()
		require.NoError(t, mr.Set(leaderKey, "another-instance"))

		e := newElector(t, mr)
		require.NoError(t, e.Start(context.Background()))
		defer e.Stop()

		ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
		defer cancel()

		require.ErrorIs(t, e.WaitForLeadership(ctx), context.DeadlineExceeded)
	})
}
