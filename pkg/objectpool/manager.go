// Package objectpool hands out pooled frame records and releases them,
// cascading through the frame → group → dataset hierarchy.
//
// A Manager registers one pool per record type in a memory.Manager. When a
// pool is missing, acquires fall back to fresh non-pooled records and
// releases become no-ops, both with a warning, so callers never need to
// check whether the pools were initialized.
package objectpool

import (
	"slices"
	"sync"

	"go.uber.org/zap"

	"github.com/ajitpratap0/framepool/pkg/config"
	fperrors "github.com/ajitpratap0/framepool/pkg/errors"
	"github.com/ajitpratap0/framepool/pkg/logger"
	"github.com/ajitpratap0/framepool/pkg/memory"
	"github.com/ajitpratap0/framepool/pkg/models"
	"github.com/ajitpratap0/framepool/pkg/pool"
)

// Registered pool names.
const (
	PoolDataPoints         = "data-points"
	PoolDatasets           = "datasets"
	PoolGroups             = "groups"
	PoolRawFrames          = "raw-frames"
	PoolProcessedFrames    = "processed-frames"
	PoolCommunicationStats = "communication-stats"
	PoolPerformanceMetrics = "performance-metrics"
)

// MemoryUsage estimates the memory held by the record pools.
type MemoryUsage struct {
	TotalPools   int                   `json:"total_pools"`
	TotalObjects int                   `json:"total_objects"`
	TotalMemory  int64                 `json:"total_memory"`
	PoolDetails  map[string]pool.Stats `json:"pool_details"`
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the manager's logger.
func WithLogger(l *zap.Logger) Option {
	return func(m *Manager) {
		m.logger = l
	}
}

// Manager owns the typed record pools.
type Manager struct {
	mem        *memory.Manager
	ownsMemory bool
	cfg        config.PoolsConfig
	logger     *zap.Logger

	mu          sync.RWMutex
	names       []string
	initialized bool
}

// New creates an uninitialized manager over mem. A nil mem creates a
// memory manager with default settings that Destroy disposes.
func New(mem *memory.Manager, cfg config.PoolsConfig, opts ...Option) *Manager {
	m := &Manager{
		mem: mem,
		cfg: cfg,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = logger.OrNamed(m.logger, "objectpool")

	if m.mem == nil {
		m.mem = memory.New(config.DefaultMemoryConfig(), memory.WithLogger(m.logger.Named("memory")))
		m.ownsMemory = true
	}
	return m
}

var (
	globalMu sync.Mutex
	global   *Manager
)

// Global returns the process-wide manager, creating and initializing it
// with defaults on first use and after Destroy.
func Global() *Manager {
	globalMu.Lock()
	defer globalMu.Unlock()

	if global == nil {
		global = New(nil, config.DefaultPoolsConfig())
		if err := global.Initialize(); err != nil {
			global.logger.Error("failed to initialize global object pools", fperrors.Fields(err)...)
		}
	}
	return global
}

// Memory returns the underlying memory manager.
func (m *Manager) Memory() *memory.Manager {
	return m.mem
}

// Initialize registers every record pool. Calling it again is a no-op.
func (m *Manager) Initialize() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.initialized {
		return nil
	}
	if err := m.cfg.Validate(); err != nil {
		return fperrors.Wrap(err, fperrors.ErrorTypeValidation, "invalid pool configuration")
	}

	c := m.cfg
	steps := []func() error{
		register(m, PoolDataPoints, c.DataPoints, func() *models.DataPoint { return &models.DataPoint{} }),
		register(m, PoolDatasets, c.Datasets, func() *models.Dataset { return &models.Dataset{Widget: models.WidgetPlot} }),
		register(m, PoolGroups, c.Groups, func() *models.Group { return &models.Group{Widget: models.WidgetPlot} }),
		register(m, PoolRawFrames, c.RawFrames, func() *models.RawFrame { return &models.RawFrame{} }),
		register(m, PoolProcessedFrames, c.ProcessedFrames, func() *models.ProcessedFrame { return &models.ProcessedFrame{} }),
		register(m, PoolCommunicationStats, c.Stats, func() *models.CommunicationStats { return &models.CommunicationStats{} }),
		register(m, PoolPerformanceMetrics, c.Stats, func() *models.PerformanceMetrics { return &models.PerformanceMetrics{} }),
	}

	m.names = m.names[:0]
	for _, step := range steps {
		if err := step(); err != nil {
			return err
		}
	}

	m.initialized = true
	m.logger.Info("object pools initialized", zap.Strings("pools", m.names))
	return nil
}

func register[T any](m *Manager, name string, size config.PoolSize, newFn func() *T) func() error {
	return func() error {
		_, err := memory.CreateObjectPool(m.mem, name, pool.Config[*T]{
			InitialSize:     size.InitialSize,
			MaxSize:         size.MaxSize,
			GrowthFactor:    size.GrowthFactor,
			ShrinkThreshold: size.ShrinkThreshold,
			New:             newFn,
		})
		if err != nil {
			return fperrors.Wrap(err, fperrors.ErrorTypeInternal, "failed to create object pool").
				WithDetail("pool", name)
		}
		m.names = append(m.names, name)
		return nil
	}
}

// Initialized reports whether Initialize has run since the last Destroy.
func (m *Manager) Initialized() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.initialized
}

func acquire[T any](m *Manager, name string, fresh func() *T) (*T, error) {
	p := memory.GetObjectPool[*T](m.mem, name)
	if p == nil {
		m.logger.Warn("object pool not found, allocating unpooled record", zap.String("pool", name))
		return fresh(), nil
	}
	return p.Acquire()
}

func release[T any](m *Manager, name string, item *T) {
	if item == nil {
		return
	}
	p := memory.GetObjectPool[*T](m.mem, name)
	if p == nil {
		m.logger.Warn("object pool not found, release ignored", zap.String("pool", name))
		return
	}
	p.Release(item)
}

// AcquireDataPoint returns a zeroed data point.
func (m *Manager) AcquireDataPoint() (*models.DataPoint, error) {
	return acquire(m, PoolDataPoints, func() *models.DataPoint { return &models.DataPoint{} })
}

// ReleaseDataPoint returns p to its pool.
func (m *Manager) ReleaseDataPoint(p *models.DataPoint) {
	release(m, PoolDataPoints, p)
}

// ReleaseDataPoints returns every point to its pool.
func (m *Manager) ReleaseDataPoints(points []*models.DataPoint) {
	for _, p := range points {
		m.ReleaseDataPoint(p)
	}
}

// AcquireDataset returns an empty dataset rendered as a plot.
func (m *Manager) AcquireDataset() (*models.Dataset, error) {
	return acquire(m, PoolDatasets, func() *models.Dataset { return &models.Dataset{Widget: models.WidgetPlot} })
}

// ReleaseDataset returns d to its pool.
func (m *Manager) ReleaseDataset(d *models.Dataset) {
	release(m, PoolDatasets, d)
}

// ReleaseDatasets returns every dataset to its pool.
func (m *Manager) ReleaseDatasets(datasets []*models.Dataset) {
	for _, d := range datasets {
		m.ReleaseDataset(d)
	}
}

// AcquireGroup returns an empty group.
func (m *Manager) AcquireGroup() (*models.Group, error) {
	return acquire(m, PoolGroups, func() *models.Group { return &models.Group{Widget: models.WidgetPlot} })
}

// ReleaseGroup releases the group's datasets, empties its list and returns
// the group to its pool.
func (m *Manager) ReleaseGroup(g *models.Group) {
	if g == nil {
		return
	}
	m.ReleaseDatasets(g.Datasets)
	clear(g.Datasets)
	g.Datasets = g.Datasets[:0]
	release(m, PoolGroups, g)
}

// ReleaseGroups releases every group with its datasets.
func (m *Manager) ReleaseGroups(groups []*models.Group) {
	for _, g := range groups {
		m.ReleaseGroup(g)
	}
}

// AcquireRawFrame returns an empty raw frame.
func (m *Manager) AcquireRawFrame() (*models.RawFrame, error) {
	return acquire(m, PoolRawFrames, func() *models.RawFrame { return &models.RawFrame{} })
}

// AcquireRawFrameBuffer returns a raw frame whose n-byte payload is drawn
// from the buffer pool. ReleaseRawFrame returns both.
func (m *Manager) AcquireRawFrameBuffer(n int) (*models.RawFrame, error) {
	frame, err := m.AcquireRawFrame()
	if err != nil {
		return nil, err
	}
	buf, err := m.mem.BufferPool().Acquire(n)
	if err != nil {
		m.ReleaseRawFrame(frame)
		return nil, err
	}
	frame.Data = buf
	frame.PooledPayload = true
	return frame, nil
}

// ReleaseRawFrame returns a pooled payload to the buffer pool and the frame
// to its pool.
func (m *Manager) ReleaseRawFrame(f *models.RawFrame) {
	if f == nil {
		return
	}
	if f.PooledPayload {
		if f.Data != nil {
			m.mem.BufferPool().Release(f.Data)
		}
		f.Data = nil
		f.PooledPayload = false
	}
	release(m, PoolRawFrames, f)
}

// AcquireProcessedFrame returns an empty processed frame.
func (m *Manager) AcquireProcessedFrame() (*models.ProcessedFrame, error) {
	return acquire(m, PoolProcessedFrames, func() *models.ProcessedFrame { return &models.ProcessedFrame{} })
}

// ReleaseProcessedFrame releases the frame's groups with their datasets,
// empties its list and returns the frame to its pool.
func (m *Manager) ReleaseProcessedFrame(f *models.ProcessedFrame) {
	if f == nil {
		return
	}
	m.ReleaseGroups(f.Groups)
	clear(f.Groups)
	f.Groups = f.Groups[:0]
	release(m, PoolProcessedFrames, f)
}

// ReleaseProcessedFrames releases every frame with its hierarchy.
func (m *Manager) ReleaseProcessedFrames(frames []*models.ProcessedFrame) {
	for _, f := range frames {
		m.ReleaseProcessedFrame(f)
	}
}

// AcquireCommunicationStats returns a zeroed stats record.
func (m *Manager) AcquireCommunicationStats() (*models.CommunicationStats, error) {
	return acquire(m, PoolCommunicationStats, func() *models.CommunicationStats { return &models.CommunicationStats{} })
}

// ReleaseCommunicationStats returns s to its pool.
func (m *Manager) ReleaseCommunicationStats(s *models.CommunicationStats) {
	release(m, PoolCommunicationStats, s)
}

// AcquirePerformanceMetrics returns a zeroed metrics record.
func (m *Manager) AcquirePerformanceMetrics() (*models.PerformanceMetrics, error) {
	return acquire(m, PoolPerformanceMetrics, func() *models.PerformanceMetrics { return &models.PerformanceMetrics{} })
}

// ReleasePerformanceMetrics returns p to its pool.
func (m *Manager) ReleasePerformanceMetrics(p *models.PerformanceMetrics) {
	release(m, PoolPerformanceMetrics, p)
}

// PoolNames returns the names of the registered record pools.
func (m *Manager) PoolNames() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Clone(m.names)
}

// GetAllPoolStats returns the statistics of every registered record pool
// still present in the memory manager.
func (m *Manager) GetAllPoolStats() map[string]pool.Stats {
	stats := make(map[string]pool.Stats)
	for _, name := range m.PoolNames() {
		if p := m.mem.Pool(name); p != nil {
			stats[name] = p.Stats()
		}
	}
	return stats
}

// GetMemoryUsage estimates the pools' footprint at a fixed size per
// record.
func (m *Manager) GetMemoryUsage() MemoryUsage {
	stats := m.GetAllPoolStats()
	usage := MemoryUsage{
		TotalPools:  len(stats),
		PoolDetails: stats,
	}
	for _, s := range stats {
		usage.TotalObjects += s.Size
	}
	usage.TotalMemory = int64(usage.TotalObjects) * int64(m.cfg.BytesPerObject)
	return usage
}

// OptimizePools logs pools that miss too often or hold far more free than
// used records.
func (m *Manager) OptimizePools() {
	stats := m.GetAllPoolStats()
	for _, name := range m.PoolNames() {
		s, ok := stats[name]
		if !ok {
			continue
		}
		if s.Acquires() > 0 && s.HitRate < 0.5 {
			m.logger.Warn("pool hit rate low",
				zap.String("pool", name),
				zap.Float64("hit_rate", s.HitRate))
		}
		if s.Used > 0 && s.Free > 2*s.Used {
			m.logger.Info("pool holds excess free records",
				zap.String("pool", name),
				zap.Int("free", s.Free),
				zap.Int("used", s.Used))
		}
	}
}

// Optimize logs pool findings and optimizes the memory manager.
func (m *Manager) Optimize() memory.LeakReport {
	m.OptimizePools()
	return m.mem.Optimize()
}

// Clear empties every record pool.
func (m *Manager) Clear() {
	for _, name := range m.PoolNames() {
		if p := m.mem.Pool(name); p != nil {
			p.Clear()
		}
	}
	m.logger.Debug("object pools cleared")
}

// Destroy clears and unregisters every record pool. A memory manager
// created by New is disposed. Destroying the global manager makes the next
// Global call build a new one.
func (m *Manager) Destroy() {
	m.mu.Lock()
	names := m.names
	m.names = nil
	m.initialized = false
	m.mu.Unlock()

	for _, name := range names {
		m.mem.Remove(name)
	}
	if m.ownsMemory {
		m.mem.Dispose()
	}

	globalMu.Lock()
	if global == m {
		global = nil
	}
	globalMu.Unlock()

	m.logger.Debug("object pool manager destroyed", zap.Int("pools", len(names)))
}
