// ABOUTME: Tests for the reaper state machine, sweep recovery, and delayed removals.
// ABOUTME: Uses short real intervals with assert.Eventually.

package reaper

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const tick = 10 * time.Millisecond

func TestReaper_StartStop(t *testing.T) {
	var sweeps atomic.Int32
	r := New(tick, func(context.Context) (int, error) {
		sweeps.Add(1)
		return 0, nil
	}, nil)

	assert.Equal(t, Idle, r.State())
	require.True(t, r.Start(context.Background()))
	assert.False(t, r.Start(context.Background()), "second Start must be a no-op")

	assert.Eventually(t, func() bool { return sweeps.Load() >= 3 }, time.Second, tick)

	r.Stop()
	assert.Equal(t, Idle, r.State())

	after := sweeps.Load()
	time.Sleep(5 * tick)
	assert.Equal(t, after, sweeps.Load(), "no sweeps after Stop")

	// Can be re-armed
	require.True(t, r.Start(context.Background()))
	r.Stop()
}

func TestReaper_StopWithoutStart(t *testing.T) {
	r := New(tick, func(context.Context) (int, error) { return 0, nil }, nil)
	r.Stop()
	assert.Equal(t, Idle, r.State())
}

func TestReaper_ContextCancelEndsLoop(t *testing.T) {
	var sweeps atomic.Int32
	r := New(tick, func(context.Context) (int, error) {
		sweeps.Add(1)
		return 0, nil
	}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	require.True(t, r.Start(ctx))
	assert.Eventually(t, func() bool { return sweeps.Load() >= 1 }, time.Second, tick)

	cancel()
	assert.Eventually(t, func() bool { return r.State() == Idle }, time.Second, tick)
	after := sweeps.Load()
	time.Sleep(5 * tick)
	assert.Equal(t, after, sweeps.Load())

	// Re-armable after the context ends
	require.True(t, r.Start(context.Background()))
	r.Stop()
}

func TestReaper_FiringState(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once

	r := New(tick, func(context.Context) (int, error) {
		once.Do(func() {
			close(entered)
			<-release
		})
		return 0, nil
	}, nil)

	require.True(t, r.Start(context.Background()))
	<-entered
	assert.Equal(t, Firing, r.State())
	assert.False(t, r.Start(context.Background()))

	close(release)
	assert.Eventually(t, func() bool { return r.State() == Armed }, time.Second, tick)
	r.Stop()
}

func TestReaper_SweepFailuresDoNotStopTicker(t *testing.T) {
	var calls atomic.Int32
	r := New(tick, func(context.Context) (int, error) {
		switch calls.Add(1) {
		case 1:
			panic("sweep exploded")
		case 2:
			return 0, errors.New("transient failure")
		default:
			return 1, nil
		}
	}, nil)

	require.True(t, r.Start(context.Background()))
	defer r.Stop()

	assert.Eventually(t, func() bool { return calls.Load() >= 4 }, time.Second, tick)
	assert.NotEqual(t, Idle, r.State())
}

func TestReaper_StateHook(t *testing.T) {
	var mu sync.Mutex
	var seen []State

	r := New(tick, func(context.Context) (int, error) { return 0, nil }, nil,
		WithStateHook(func(s State) {
			mu.Lock()
			seen = append(seen, s)
			mu.Unlock()
		}))

	r.Start(context.Background())
	r.Start(context.Background())
	r.Stop()
	r.Stop()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []State{Armed, Idle}, seen)
}

func TestReaper_RemoveAfter(t *testing.T) {
	removed := make(chan string, 4)
	r := New(time.Hour, func(context.Context) (int, error) { return 0, nil },
		func(_ context.Context, id string) bool {
			removed <- id
			return true
		})

	r.RemoveAfter("agent_1", tick)
	assert.Equal(t, 1, r.Pending())

	select {
	case id := <-removed:
		assert.Equal(t, "agent_1", id)
	case <-time.After(time.Second):
		t.Fatal("delayed removal never ran")
	}
	assert.Eventually(t, func() bool { return r.Pending() == 0 }, time.Second, tick)
}

func TestReaper_RemoveAfterReplaces(t *testing.T) {
	var calls atomic.Int32
	r := New(time.Hour, func(context.Context) (int, error) { return 0, nil },
		func(context.Context, string) bool {
			calls.Add(1)
			return true
		})

	r.RemoveAfter("agent_1", time.Hour)
	r.RemoveAfter("agent_1", tick)
	assert.Equal(t, 1, r.Pending())

	assert.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, tick)
	time.Sleep(5 * tick)
	assert.Equal(t, int32(1), calls.Load())
}

func TestReaper_StopCancelsPending(t *testing.T) {
	var calls atomic.Int32
	r := New(time.Hour, func(context.Context) (int, error) { return 0, nil },
		func(context.Context, string) bool {
			calls.Add(1)
			return true
		})

	r.RemoveAfter("a", 5*tick)
	r.RemoveAfter("b", 5*tick)
	require.Equal(t, 2, r.Pending())

	r.Stop()
	assert.Equal(t, 0, r.Pending())

	time.Sleep(10 * tick)
	assert.Equal(t, int32(0), calls.Load())
}

func TestReaper_RemovalPanicRecovered(t *testing.T) {
	done := make(chan struct{})
	r := New(time.Hour, func(context.Context) (int, error) { return 0, nil },
		func(context.Context, string) bool {
			defer close(done)
			panic("remove exploded")
		})

	r.RemoveAfter("boom", tick)
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("removal never ran")
	}
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "idle", Idle.String())
	assert.Equal(t, "armed", Armed.String())
	assert.Equal(t, "firing", Firing.String())
	assert.Equal(t, "state(7)", State(7).String())
}

func TestNew_DefaultInterval(t *testing.T) {
	r := New(0, func(context.Context) (int, error) { return 0, nil }, nil)
	assert.Equal(t, DefaultInterval, r.Interval())
}
