package weakref

import (
	"errors"
	"runtime"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"

	"github.com/ajitpratap0/framepool/pkg/testutil"
)

type widget struct {
	samples [64]float64
	next    *widget
}

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	m := NewManager(time.Hour, WithLogger(zaptest.NewLogger(t)))
	t.Cleanup(m.Dispose)
	return m
}

func TestTrackAndSweepCollected(t *testing.T) {
	m := newTestManager(t)

	var cleaned atomic.Int32
	live := &widget{}
	func() {
		gone := &widget{}
		Track(m, gone, func() error {
			cleaned.Add(1)
			return nil
		})
	}()
	keep := Track(m, live, nil)

	testutil.AssertEventually(t, func() bool {
		runtime.GC()
		m.Sweep()
		return cleaned.Load() == 1
	}, 5*time.Second, "collected target should be swept")

	stats := m.Stats()
	assert.Equal(t, 1, stats.Total)
	assert.Equal(t, 1, stats.Active)
	assert.Zero(t, stats.Callbacks)
	assert.True(t, keep.Alive())
	runtime.KeepAlive(live)
}

func TestObserveWithOwnerLiveness(t *testing.T) {
	m := newTestManager(t)

	var refs atomic.Int32
	refs.Store(1)
	var cleaned atomic.Int32
	h := m.Observe(func() bool { return refs.Load() > 0 }, func() error {
		cleaned.Add(1)
		return nil
	})

	assert.Zero(t, m.Sweep())
	assert.Equal(t, Stats{Total: 1, Active: 1, Callbacks: 1}, m.Stats())

	refs.Store(0)
	assert.Equal(t, Stats{Total: 1, Inactive: 1, Callbacks: 1}, m.Stats())
	assert.Equal(t, 1, m.Sweep())
	assert.Equal(t, int32(1), cleaned.Load())
	assert.Equal(t, Stats{Swept: 1}, m.Stats())
	assert.False(t, m.Remove(h))
}

func TestRemoveRunsCleanupOnce(t *testing.T) {
	m := newTestManager(t)

	var cleaned atomic.Int32
	h := m.Observe(func() bool { return true }, func() error {
		cleaned.Add(1)
		return nil
	})

	assert.True(t, m.Remove(h))
	assert.False(t, m.Remove(h))
	assert.Equal(t, int32(1), cleaned.Load())
	assert.Equal(t, Stats{}, m.Stats())
}

func TestDisposeRunsEveryCleanup(t *testing.T) {
	core, logs := observer.New(zap.ErrorLevel)
	m := NewManager(time.Hour, WithLogger(zap.New(core)))

	var ran atomic.Int32
	alive := func() bool { return true }
	m.Observe(alive, func() error {
		ran.Add(1)
		return errors.New("widget already detached")
	})
	m.Observe(alive, func() error {
		ran.Add(1)
		panic("boom")
	})
	m.Observe(alive, func() error {
		ran.Add(1)
		return nil
	})
	m.Observe(alive, nil)

	m.Dispose()
	assert.Equal(t, int32(3), ran.Load())
	assert.Equal(t, 2, logs.FilterMessage("weak reference cleanup failed").Len())
	assert.Equal(t, Stats{}, m.Stats())

	// Idempotent, and later handles are not tracked.
	m.Dispose()
	m.Observe(alive, func() error {
		ran.Add(1)
		return nil
	})
	assert.Equal(t, Stats{}, m.Stats())
	assert.Equal(t, int32(3), ran.Load())
}

func TestBackgroundSweep(t *testing.T) {
	m := NewManager(10*time.Millisecond, WithLogger(zaptest.NewLogger(t)))
	defer m.Dispose()

	var alive atomic.Bool
	alive.Store(true)
	var cleaned atomic.Bool
	m.Observe(alive.Load, func() error {
		cleaned.Store(true)
		return nil
	})

	alive.Store(false)
	testutil.AssertEventually(t, cleaned.Load, time.Second, "background sweep should run cleanup")
	require.Zero(t, m.Stats().Total)
}

func TestLivenessCheckMayCallBackIntoManager(t *testing.T) {
	m := newTestManager(t)

	var (
		released atomic.Bool
		depth    atomic.Int32
		seen     Stats
	)
	m.Observe(func() bool {
		// Stats evaluates this check again; only the outer call re-enters
		if depth.Add(1) == 1 {
			seen = m.Stats()
		}
		depth.Add(-1)
		return !released.Load()
	}, nil)

	done := make(chan int, 1)
	go func() {
		released.Store(true)
		done <- m.Sweep()
	}()

	select {
	case n := <-done:
		assert.Equal(t, 1, n)
	case <-time.After(2 * time.Second):
		t.Fatal("sweep blocked on a liveness check calling Stats")
	}
	assert.Equal(t, 1, seen.Total)
	assert.Zero(t, m.Stats().Total)
}

func TestSweepWaitsForEarlierCleanups(t *testing.T) {
	m := newTestManager(t)

	var alive, finished atomic.Bool
	alive.Store(true)
	started := make(chan struct{})
	m.Observe(alive.Load, func() error {
		close(started)
		time.Sleep(50 * time.Millisecond)
		finished.Store(true)
		return nil
	})

	alive.Store(false)
	go m.Sweep()
	<-started

	assert.Zero(t, m.Sweep())
	assert.True(t, finished.Load(), "cleanup of the earlier sweep should have run")
	assert.Equal(t, uint64(1), m.Stats().Swept)
}
