// Package memory owns framepool's pools and turns their statistics and the
// host heap telemetry into leak and pressure diagnostics.
//
// A Manager registers named object pools, owns one BufferPool and one weak
// reference manager, samples telemetry on a fixed interval, and exposes
// relief actions (clearing buffers, forcing a collection). The Monitor adds
// a bounded snapshot history with growth-rate based leak analysis.
package memory

import (
	"fmt"
	"maps"
	"runtime"
	"slices"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ajitpratap0/framepool/pkg/config"
	fperrors "github.com/ajitpratap0/framepool/pkg/errors"
	"github.com/ajitpratap0/framepool/pkg/logger"
	"github.com/ajitpratap0/framepool/pkg/metrics"
	"github.com/ajitpratap0/framepool/pkg/pool"
	"github.com/ajitpratap0/framepool/pkg/telemetry"
	"github.com/ajitpratap0/framepool/pkg/weakref"
)

// MemoryStats is a point-in-time view of heap telemetry and every pool.
type MemoryStats struct {
	TotalAllocated uint64                `json:"total_allocated"`
	TotalUsed      uint64                `json:"total_used"`
	TotalFree      uint64                `json:"total_free"`
	GCCount        uint32                `json:"gc_count"`
	GCTime         time.Duration         `json:"gc_time"`
	MemoryPressure float64               `json:"memory_pressure"`
	PoolStats      map[string]pool.Stats `json:"pool_stats"`
	SampledAt      time.Time             `json:"sampled_at"`
}

// LeakReport lists potential leaks with one recommendation per flag.
type LeakReport struct {
	PotentialLeaks  []string `json:"potential_leaks"`
	Recommendations []string `json:"recommendations"`
}

// HasLeaks reports whether any flag was raised.
func (r LeakReport) HasLeaks() bool {
	return len(r.PotentialLeaks) > 0
}

func (r *LeakReport) add(leak, recommendation string) {
	r.PotentialLeaks = append(r.PotentialLeaks, leak)
	r.Recommendations = append(r.Recommendations, recommendation)
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the manager's logger. Pools created through the manager
// inherit it.
func WithLogger(l *zap.Logger) Option {
	return func(m *Manager) {
		m.logger = l
	}
}

// WithSource sets the telemetry source. Defaults to the Go runtime.
func WithSource(s telemetry.Source) Option {
	return func(m *Manager) {
		m.source = s
	}
}

// WithCollector sets the forced-collection primitive. A nil collector
// selects the synthetic allocation-pressure fallback.
func WithCollector(fn func()) Option {
	return func(m *Manager) {
		m.collector = fn
		m.collectorSet = true
	}
}

// WithRecorder reports pool events, relief actions and leak flags.
func WithRecorder(r *metrics.Recorder) Option {
	return func(m *Manager) {
		m.recorder = r
	}
}

// Manager registers pools and aggregates their statistics with heap
// telemetry. It is safe for concurrent use.
type Manager struct {
	cfg          config.MemoryConfig
	logger       *zap.Logger
	source       telemetry.Source
	collector    func()
	collectorSet bool
	recorder     *metrics.Recorder

	buffers *pool.BufferPool
	weak    *weakref.Manager

	mu         sync.RWMutex
	pools      map[string]pool.Managed
	stats      MemoryStats
	gcBaseline uint32
	disposed   bool

	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

// New creates a manager and starts its telemetry sampler. Zero fields of
// cfg take their defaults.
func New(cfg config.MemoryConfig, opts ...Option) *Manager {
	cfg = withDefaults(cfg)

	m := &Manager{
		cfg:   cfg,
		pools: make(map[string]pool.Managed),
		stop:  make(chan struct{}),
		done:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}

	m.logger = logger.OrNamed(m.logger, "memory")
	if m.source == nil {
		m.source = telemetry.NewRuntimeSource(m.logger)
	}
	if !m.collectorSet {
		m.collector = telemetry.ForceCollect
	}

	m.buffers = pool.NewBufferPool(m.poolOptions()...)
	m.weak = weakref.NewManager(cfg.WeakSweepInterval, weakref.WithLogger(m.logger.Named("weakref")))
	m.gcBaseline = m.source.GC().Count
	m.stats.PoolStats = map[string]pool.Stats{}

	go m.sampleLoop()

	m.logger.Debug("memory manager started",
		zap.Duration("sample_interval", cfg.SampleInterval),
		zap.Float64("pressure_threshold", cfg.PressureThreshold))
	return m
}

func withDefaults(cfg config.MemoryConfig) config.MemoryConfig {
	d := config.DefaultMemoryConfig()
	if cfg.SampleInterval <= 0 {
		cfg.SampleInterval = d.SampleInterval
	}
	if cfg.WeakSweepInterval <= 0 {
		cfg.WeakSweepInterval = d.WeakSweepInterval
	}
	if cfg.LowHitRate == 0 {
		cfg.LowHitRate = d.LowHitRate
	}
	if cfg.ExcessFreeRatio == 0 {
		cfg.ExcessFreeRatio = d.ExcessFreeRatio
	}
	if cfg.PressureThreshold == 0 {
		cfg.PressureThreshold = d.PressureThreshold
	}
	if cfg.GCCountThreshold == 0 {
		cfg.GCCountThreshold = d.GCCountThreshold
	}
	if cfg.SyntheticGCBatch == 0 {
		cfg.SyntheticGCBatch = d.SyntheticGCBatch
	}
	return cfg
}

func (m *Manager) poolOptions() []pool.Option {
	opts := []pool.Option{pool.WithLogger(m.logger.Named("pool"))}
	if m.recorder != nil {
		opts = append(opts, pool.WithObserver(m.recorder))
	}
	return opts
}

// Config returns the effective configuration.
func (m *Manager) Config() config.MemoryConfig {
	return m.cfg
}

// CreateObjectPool creates a pool and registers it under name, replacing
// any previous registration.
func CreateObjectPool[T comparable](m *Manager, name string, cfg pool.Config[T]) (*pool.ObjectPool[T], error) {
	p, err := pool.NewObjectPool(name, cfg, m.poolOptions()...)
	if err != nil {
		return nil, err
	}
	if err := m.Register(name, p); err != nil {
		return nil, err
	}
	return p, nil
}

// GetObjectPool returns the pool registered under name, or nil when there
// is none or it holds another record type.
func GetObjectPool[T comparable](m *Manager, name string) *pool.ObjectPool[T] {
	p, _ := m.Pool(name).(*pool.ObjectPool[T])
	return p
}

// Register adds an existing pool to the registry.
func (m *Manager) Register(name string, p pool.Managed) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.disposed {
		return fperrors.New(fperrors.ErrorTypeMisuse, "memory manager disposed").WithDetail("pool", name)
	}
	if _, exists := m.pools[name]; exists {
		m.logger.Warn("replacing registered pool", zap.String("pool", name))
	}
	m.pools[name] = p
	return nil
}

// Pool returns the pool registered under name, or nil.
func (m *Manager) Pool(name string) pool.Managed {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.pools[name]
}

// Remove clears and unregisters a pool. It reports whether one existed.
func (m *Manager) Remove(name string) bool {
	m.mu.Lock()
	p, ok := m.pools[name]
	delete(m.pools, name)
	m.mu.Unlock()

	if ok {
		p.Clear()
	}
	return ok
}

// PoolNames returns the registered pool names in order.
func (m *Manager) PoolNames() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Sorted(maps.Keys(m.pools))
}

// BufferPool returns the manager's buffer pool.
func (m *Manager) BufferPool() *pool.BufferPool {
	return m.buffers
}

// WeakRefs returns the manager's weak reference manager.
func (m *Manager) WeakRefs() *weakref.Manager {
	return m.weak
}

// PoolStats returns current statistics of every registered pool plus one
// "buffer-<size>" entry per buffer size class.
func (m *Manager) PoolStats() map[string]pool.Stats {
	m.mu.RLock()
	pools := maps.Clone(m.pools)
	m.mu.RUnlock()

	bufferStats := m.buffers.GetAllStats()
	out := make(map[string]pool.Stats, len(pools)+len(bufferStats))
	for name, p := range pools {
		out[name] = p.Stats()
	}
	for size, s := range bufferStats {
		out[pool.ClassName(size)] = s
	}
	return out
}

// HeapSample returns a fresh heap reading.
func (m *Manager) HeapSample() telemetry.HeapSample {
	return m.source.Heap()
}

// Refresh samples telemetry and every pool into a new snapshot and
// returns it. Unavailable telemetry leaves heap fields and pressure at zero.
func (m *Manager) Refresh() MemoryStats {
	heap := m.source.Heap()
	gc := m.source.GC()

	stats := MemoryStats{
		PoolStats: m.PoolStats(),
		GCTime:    gc.LastPause,
		SampledAt: time.Now(),
	}
	if heap.Available {
		stats.TotalAllocated = heap.Total
		stats.TotalUsed = heap.Used
		if heap.Total > heap.Used {
			stats.TotalFree = heap.Total - heap.Used
		}
		stats.MemoryPressure = heap.Pressure()
	}

	m.mu.Lock()
	if gc.Count >= m.gcBaseline {
		stats.GCCount = gc.Count - m.gcBaseline
	} else {
		// the source was reset underneath us
		m.gcBaseline = 0
		stats.GCCount = gc.Count
	}
	m.stats = stats
	m.mu.Unlock()

	return cloneStats(stats)
}

// GetMemoryStats returns the last sampled snapshot.
func (m *Manager) GetMemoryStats() MemoryStats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return cloneStats(m.stats)
}

func cloneStats(s MemoryStats) MemoryStats {
	s.PoolStats = maps.Clone(s.PoolStats)
	return s
}

// CheckMemoryLeaks refreshes the snapshot and flags, independently: pools
// with a low hit rate, pools holding far more free than used records, high
// memory pressure, and frequent collections.
func (m *Manager) CheckMemoryLeaks() LeakReport {
	stats := m.Refresh()
	var report LeakReport

	for _, name := range slices.Sorted(maps.Keys(stats.PoolStats)) {
		s := stats.PoolStats[name]

		if s.Acquires() > 0 && s.HitRate < m.cfg.LowHitRate {
			report.add(
				fmt.Sprintf("Pool '%s' has low hit rate: %.1f%%", name, s.HitRate*100),
				fmt.Sprintf("Consider increasing the initial size of pool '%s'", name))
			m.recorder.LeakFlag(metrics.LeakLowHitRate)
		}

		if s.Used > 0 && float64(s.Free) > m.cfg.ExcessFreeRatio*float64(s.Used) {
			report.add(
				fmt.Sprintf("Pool '%s' has excessive free objects: %d free, %d in use", name, s.Free, s.Used),
				fmt.Sprintf("Consider raising the shrink threshold of pool '%s'", name))
			m.recorder.LeakFlag(metrics.LeakExcessFree)
		}
	}

	if stats.MemoryPressure > m.cfg.PressureThreshold {
		report.add(
			fmt.Sprintf("High memory pressure: %.1f%%", stats.MemoryPressure*100),
			"Consider relieving memory pressure by clearing buffers and forcing a collection")
		m.recorder.LeakFlag(metrics.LeakHighPressure)
	}

	if stats.GCCount > m.cfg.GCCountThreshold {
		report.add(
			fmt.Sprintf("Frequent GC activity: %d collections", stats.GCCount),
			"Consider pooling frequently allocated objects")
		m.recorder.LeakFlag(metrics.LeakFrequentGC)
	}

	return report
}

// ForceGC requests a collection through the configured primitive, or
// allocates and drops a batch of throwaway slices when there is none.
// Neither guarantees memory is returned.
func (m *Manager) ForceGC() {
	timer := metrics.NewTimer("forced_gc")
	if m.collector != nil {
		m.collector()
	} else {
		m.syntheticPressure()
	}
	d := timer.Stop()

	m.recorder.ForcedGC(d)
	m.logger.Debug("forced collection", zap.Duration("duration", d), zap.Bool("synthetic", m.collector == nil))
}

func (m *Manager) syntheticPressure() {
	batch := make([][]float64, 0, m.cfg.SyntheticGCBatch)
	for i := 0; i < m.cfg.SyntheticGCBatch; i++ {
		batch = append(batch, make([]float64, 1000))
	}
	runtime.KeepAlive(batch)
}

// RelieveMemoryPressure clears the buffer pool and forces a collection.
func (m *Manager) RelieveMemoryPressure() {
	m.buffers.Clear()
	m.ForceGC()
	m.recorder.Relief()
	m.logger.Info("memory pressure relieved")
}

// Optimize runs the leak check and relieves pressure when it exceeds the
// configured threshold.
func (m *Manager) Optimize() LeakReport {
	report := m.CheckMemoryLeaks()
	if !report.HasLeaks() {
		return report
	}

	m.logger.Warn("memory optimization needed",
		zap.Strings("potential_leaks", report.PotentialLeaks),
		zap.Strings("recommendations", report.Recommendations))

	if m.GetMemoryStats().MemoryPressure > m.cfg.PressureThreshold {
		m.RelieveMemoryPressure()
	}
	return report
}

// Dispose stops the sampler, clears and drops every pool, clears the
// buffer pool and disposes the weak reference manager. It is idempotent.
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
	pools := m.pools
	m.pools = make(map[string]pool.Managed)
	m.mu.Unlock()

	for _, p := range pools {
		p.Clear()
	}
	m.buffers.Clear()
	m.weak.Dispose()

	m.logger.Debug("memory manager disposed", zap.Int("pools", len(pools)))
}

func (m *Manager) sampleLoop() {
	defer close(m.done)

	ticker := time.NewTicker(m.cfg.SampleInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.Refresh()
		case <-m.stop:
			return
		}
	}
}
