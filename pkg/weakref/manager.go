// Package weakref tracks objects without keeping them alive and runs a
// cleanup callback once each one is gone. Liveness comes either from a weak
// pointer (Track) or from an owner-supplied function such as a reference count
// or epoch check (Observe). The manager only learns about collection after
// the fact; it never participates in it.
package weakref

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"
	"weak"

	"go.uber.org/zap"

	fperrors "github.com/ajitpratap0/framepool/pkg/errors"
	"github.com/ajitpratap0/framepool/pkg/logger"
)

// DefaultSweepInterval is used when NewManager is given a non-positive interval.
const DefaultSweepInterval = 5 * time.Second

// CleanupFunc runs once when a tracked target is removed or collected.
type CleanupFunc func() error

// Handle identifies one tracked target.
type Handle struct {
	id    uint64
	alive func() bool
}

// ID returns the handle's sequence number.
func (h *Handle) ID() uint64 {
	return h.id
}

// Alive reports whether the target is still reachable.
func (h *Handle) Alive() bool {
	return h.alive()
}

// Stats counts tracked handles. Swept is cumulative over the manager's life.
type Stats struct {
	Total     int    `json:"total"`
	Active    int    `json:"active"`
	Inactive  int    `json:"inactive"`
	Callbacks int    `json:"callbacks"`
	Swept     uint64 `json:"swept"`
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the manager's logger.
func WithLogger(l *zap.Logger) Option {
	return func(m *Manager) {
		m.logger = l
	}
}

// Manager tracks handles and sweeps collected targets on a fixed interval.
// A handle is present in the cleanup table only while it is tracked.
type Manager struct {
	logger   *zap.Logger
	interval time.Duration
	sweepMu  sync.Mutex

	mu       sync.Mutex
	nextID   uint64
	handles  map[*Handle]struct{}
	cleanups map[*Handle]CleanupFunc
	disposed bool
	swept    atomic.Uint64

	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

// NewManager creates a manager and starts its sweep goroutine.
func NewManager(interval time.Duration, opts ...Option) *Manager {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}

	m := &Manager{
		interval: interval,
		handles:  make(map[*Handle]struct{}),
		cleanups: make(map[*Handle]CleanupFunc),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = logger.OrNamed(m.logger, "weakref")

	go m.sweepLoop()
	return m
}

// Track observes target through a weak pointer. The cleanup must not
// capture target, otherwise the target can never be collected.
func Track[T any](m *Manager, target *T, cleanup CleanupFunc) *Handle {
	wp := weak.Make(target)
	return m.Observe(func() bool { return wp.Value() != nil }, cleanup)
}

// Observe tracks a target whose liveness is reported by alive. The check
// runs without the manager's lock held. After Dispose the returned handle
// is not tracked.
func (m *Manager) Observe(alive func() bool, cleanup CleanupFunc) *Handle {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextID++
	h := &Handle{id: m.nextID, alive: alive}
	if m.disposed {
		m.logger.Warn("observe after dispose, handle is not tracked", zap.Uint64("handle", h.id))
		return h
	}

	m.handles[h] = struct{}{}
	if cleanup != nil {
		m.cleanups[h] = cleanup
	}
	return h
}

// Remove untracks h and runs its cleanup. It reports whether h was tracked.
func (m *Manager) Remove(h *Handle) bool {
	m.mu.Lock()
	cleanup, ok := m.untrack(h)
	m.mu.Unlock()

	if ok && cleanup != nil {
		m.runCleanup(h, cleanup)
	}
	return ok
}

// untrack must be called with m.mu held.
func (m *Manager) untrack(h *Handle) (CleanupFunc, bool) {
	if _, ok := m.handles[h]; !ok {
		return nil, false
	}
	cleanup := m.cleanups[h]
	delete(m.handles, h)
	delete(m.cleanups, h)
	return cleanup, true
}

// snapshot returns the tracked handles. Liveness checks are owner code and
// run outside m.mu so they may call back into the manager.
func (m *Manager) snapshot() ([]*Handle, int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	handles := make([]*Handle, 0, len(m.handles))
	for h := range m.handles {
		handles = append(handles, h)
	}
	return handles, len(m.cleanups)
}

// Sweep removes every handle whose target is gone, runs their cleanups and
// returns how many were removed. Sweeps are serialized: when Sweep returns,
// every cleanup of an earlier sweep has run. A cleanup must not call Sweep.
func (m *Manager) Sweep() int {
	type pending struct {
		h       *Handle
		cleanup CleanupFunc
	}

	m.sweepMu.Lock()
	defer m.sweepMu.Unlock()

	handles, _ := m.snapshot()
	var gone []*Handle
	for _, h := range handles {
		if !h.alive() {
			gone = append(gone, h)
		}
	}
	if len(gone) == 0 {
		return 0
	}

	m.mu.Lock()
	dead := make([]pending, 0, len(gone))
	for _, h := range gone {
		// Remove or Dispose may have taken it meanwhile
		if cleanup, ok := m.untrack(h); ok {
			dead = append(dead, pending{h, cleanup})
		}
	}
	m.mu.Unlock()
	m.swept.Add(uint64(len(dead)))

	for _, d := range dead {
		if d.cleanup != nil {
			m.runCleanup(d.h, d.cleanup)
		}
	}

	if len(dead) > 0 {
		m.logger.Debug("swept collected references", zap.Int("count", len(dead)))
	}
	return len(dead)
}

// Stats returns handle counts.
func (m *Manager) Stats() Stats {
	handles, callbacks := m.snapshot()

	s := Stats{Total: len(handles), Callbacks: callbacks, Swept: m.swept.Load()}
	for _, h := range handles {
		if h.alive() {
			s.Active++
		}
	}
	s.Inactive = s.Total - s.Active
	return s
}

// Dispose stops the sweep and runs every remaining cleanup. A failing or
// panicking cleanup is logged and does not prevent the others from running.
// Dispose is idempotent.
func (m *Manager) Dispose() {
	m.stopOnce.Do(func() {
		close(m.stop)
	})
	<-m.done

	m.mu.Lock()
	if m.disposed {
		m.mu.Unlock()
		return
	}
	m.disposed = true
	cleanups := m.cleanups
	m.handles = make(map[*Handle]struct{})
	m.cleanups = make(map[*Handle]CleanupFunc)
	m.mu.Unlock()

	for h, cleanup := range cleanups {
		m.runCleanup(h, cleanup)
	}
	m.logger.Debug("weak reference manager disposed", zap.Int("cleanups", len(cleanups)))
}

func (m *Manager) runCleanup(h *Handle, cleanup CleanupFunc) {
	defer func() {
		if r := recover(); r != nil {
			err := fperrors.New(fperrors.ErrorTypeCleanup, fmt.Sprintf("cleanup panicked: %v", r)).
				WithDetail("handle", h.id)
			m.logger.Error("weak reference cleanup failed", err.Fields()...)
		}
	}()

	if err := cleanup(); err != nil {
		wrapped := fperrors.Wrap(err, fperrors.ErrorTypeCleanup, "cleanup returned an error").
			WithDetail("handle", h.id)
		m.logger.Error("weak reference cleanup failed", wrapped.Fields()...)
	}
}

func (m *Manager) sweepLoop() {
	defer close(m.done)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.Sweep()
		case <-m.stop:
			return
		}
	}
}
