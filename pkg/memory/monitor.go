package memory

import (
	"fmt"
	"io"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/eapache/queue"
	gojson "github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/ajitpratap0/framepool/pkg/config"
	"github.com/ajitpratap0/framepool/pkg/metrics"
	"github.com/ajitpratap0/framepool/pkg/pool"
)

const (
	bytesPerMB = 1 << 20

	// growthWindow is the number of snapshots the growth rate is measured over
	growthWindow = 5
	// analysisWindow is the number of snapshots leak analysis looks at
	analysisWindow = 10
	// minLeakCheckSnapshots is the history needed before a periodic check
	minLeakCheckSnapshots = 5
)

// PressureLevel grades heap usage and growth.
type PressureLevel string

const (
	PressureLow      PressureLevel = "low"
	PressureMedium   PressureLevel = "medium"
	PressureHigh     PressureLevel = "high"
	PressureCritical PressureLevel = "critical"
)

// HeapTrend describes the heap over the analysis window.
type HeapTrend string

const (
	TrendStable    HeapTrend = "stable"
	TrendGrowing   HeapTrend = "growing"
	TrendDeclining HeapTrend = "declining"
)

// Direction is the heap change over a time window.
type Direction string

const (
	DirectionUp     Direction = "up"
	DirectionDown   Direction = "down"
	DirectionStable Direction = "stable"
)

// Snapshot is one sample of the heap and every pool.
type Snapshot struct {
	Timestamp     time.Time             `json:"timestamp"`
	HeapUsed      uint64                `json:"heap_used"`
	HeapTotal     uint64                `json:"heap_total"`
	HeapLimit     uint64                `json:"heap_limit"`
	PoolStats     map[string]pool.Stats `json:"pool_stats"`
	CustomMetrics map[string]float64    `json:"custom_metrics,omitempty"`
}

// HeapPercent returns used/limit as a percentage, or 0 without a limit.
func (s Snapshot) HeapPercent() float64 {
	if s.HeapLimit == 0 {
		return 0
	}
	return float64(s.HeapUsed) / float64(s.HeapLimit) * 100
}

// PoolAnalysis groups pools by the problem they show.
type PoolAnalysis struct {
	SuspiciousPools    []string `json:"suspicious_pools"`
	LowEfficiencyPools []string `json:"low_efficiency_pools"`
	OverAllocatedPools []string `json:"over_allocated_pools"`
}

// LeakAnalysis is the result of one leak analysis pass.
type LeakAnalysis struct {
	Timestamp         time.Time    `json:"timestamp"`
	LeakSuspected     bool         `json:"leak_suspected"`
	GrowthRateMB      float64      `json:"growth_rate_mb"`
	ConsecutiveGrowth int          `json:"consecutive_growth"`
	Trend             HeapTrend    `json:"trend"`
	Recommendations   []string     `json:"recommendations"`
	CriticalIssues    []string     `json:"critical_issues"`
	Pools             PoolAnalysis `json:"pools"`
}

// TrendReport holds the heap series of a time window.
type TrendReport struct {
	Timestamps []time.Time `json:"timestamps"`
	HeapUsed   []uint64    `json:"heap_used"`
	HeapTotal  []uint64    `json:"heap_total"`
	Direction  Direction   `json:"direction"`
}

// CurrentStats summarizes the latest snapshot.
type CurrentStats struct {
	CurrentMemoryMB float64 `json:"current_memory_mb"`
	GrowthRateMB    float64 `json:"growth_rate_mb"`
	PoolEfficiency  float64 `json:"pool_efficiency"`
	LeakRisk        string  `json:"leak_risk"`
}

// MonitorStatus reports whether the monitor runs and what it has seen.
type MonitorStatus struct {
	Running       bool                     `json:"running"`
	SnapshotCount int                      `json:"snapshot_count"`
	LastSnapshot  time.Time                `json:"last_snapshot"`
	LastLeakCheck time.Time                `json:"last_leak_check"`
	Level         PressureLevel            `json:"level"`
	Thresholds    config.MonitorThresholds `json:"thresholds"`
}

// MonitorOption configures a Monitor.
type MonitorOption func(*Monitor)

// WithMonitorLogger sets the monitor's logger.
func WithMonitorLogger(l *zap.Logger) MonitorOption {
	return func(mon *Monitor) {
		mon.logger = l
	}
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) MonitorOption {
	return func(mon *Monitor) {
		mon.now = now
	}
}

// Monitor keeps a bounded history of snapshots, grades memory pressure on
// every snapshot and periodically looks for leaks in the history.
type Monitor struct {
	mgr    *Manager
	cfg    config.MonitorConfig
	logger *zap.Logger
	now    func() time.Time

	mu            sync.Mutex
	history       *queue.Queue
	custom        map[string]float64
	thresholds    config.MonitorThresholds
	consecutive   int
	level         PressureLevel
	lastLeakCheck time.Time

	onSnapshot []func(Snapshot)
	onLeak     []func(LeakAnalysis)
	onPressure []func(PressureLevel)
	onRelief   []func()

	running bool
	stop    chan struct{}
	done    chan struct{}
}

// NewMonitor creates a stopped monitor over mgr.
func NewMonitor(mgr *Manager, cfg config.MonitorConfig, opts ...MonitorOption) *Monitor {
	d := config.DefaultMonitorConfig()
	if cfg.SnapshotInterval <= 0 {
		cfg.SnapshotInterval = d.SnapshotInterval
	}
	if cfg.LeakCheckInterval <= 0 {
		cfg.LeakCheckInterval = d.LeakCheckInterval
	}
	if cfg.MaxHistory < 2 {
		cfg.MaxHistory = d.MaxHistory
	}
	if cfg.Thresholds == (config.MonitorThresholds{}) {
		cfg.Thresholds = d.Thresholds
	}

	mon := &Monitor{
		mgr:        mgr,
		cfg:        cfg,
		now:        time.Now,
		history:    queue.New(),
		custom:     make(map[string]float64),
		thresholds: cfg.Thresholds,
		level:      PressureLow,
	}
	for _, opt := range opts {
		opt(mon)
	}
	if mon.logger == nil {
		mon.logger = mgr.logger.Named("monitor")
	}
	return mon
}

// OnSnapshot registers fn to run after every snapshot.
func (mon *Monitor) OnSnapshot(fn func(Snapshot)) {
	mon.mu.Lock()
	mon.onSnapshot = append(mon.onSnapshot, fn)
	mon.mu.Unlock()
}

// OnLeak registers fn to run when a periodic check suspects a leak.
func (mon *Monitor) OnLeak(fn func(LeakAnalysis)) {
	mon.mu.Lock()
	mon.onLeak = append(mon.onLeak, fn)
	mon.mu.Unlock()
}

// OnPressure registers fn to run when a snapshot grades above low.
func (mon *Monitor) OnPressure(fn func(PressureLevel)) {
	mon.mu.Lock()
	mon.onPressure = append(mon.onPressure, fn)
	mon.mu.Unlock()
}

// OnRelief registers fn to run whenever the monitor optimizes memory.
// The typed pool façade hooks its own Optimize here.
func (mon *Monitor) OnRelief(fn func()) {
	mon.mu.Lock()
	mon.onRelief = append(mon.onRelief, fn)
	mon.mu.Unlock()
}

// Start takes a baseline snapshot and starts the snapshot and leak check
// tickers. Starting a running monitor logs a warning.
func (mon *Monitor) Start() {
	mon.mu.Lock()
	if mon.running {
		mon.mu.Unlock()
		mon.logger.Warn("memory monitor already running")
		return
	}
	mon.running = true
	mon.stop = make(chan struct{})
	mon.done = make(chan struct{})
	stop, done := mon.stop, mon.done
	mon.mu.Unlock()

	mon.logger.Info("memory monitor started",
		zap.Duration("snapshot_interval", mon.cfg.SnapshotInterval),
		zap.Duration("leak_check_interval", mon.cfg.LeakCheckInterval))

	mon.Collect()
	go mon.run(stop, done)
}

// Stop halts the tickers and waits for them to exit.
func (mon *Monitor) Stop() {
	mon.mu.Lock()
	if !mon.running {
		mon.mu.Unlock()
		return
	}
	mon.running = false
	stop, done := mon.stop, mon.done
	mon.mu.Unlock()

	close(stop)
	<-done
	mon.logger.Info("memory monitor stopped")
}

func (mon *Monitor) run(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	snapshots := time.NewTicker(mon.cfg.SnapshotInterval)
	defer snapshots.Stop()
	leaks := time.NewTicker(mon.cfg.LeakCheckInterval)
	defer leaks.Stop()

	for {
		select {
		case <-snapshots.C:
			mon.Collect()
		case <-leaks.C:
			mon.CheckLeaks()
		case <-stop:
			return
		}
	}
}

// Collect takes a snapshot, appends it to the history and grades pressure.
// High or critical pressure optimizes the memory manager and runs the
// relief hooks.
func (mon *Monitor) Collect() Snapshot {
	heap := mon.mgr.HeapSample()
	snap := Snapshot{
		Timestamp: mon.now(),
		PoolStats: mon.mgr.PoolStats(),
	}
	if heap.Available {
		snap.HeapUsed = heap.Used
		snap.HeapTotal = heap.Total
		snap.HeapLimit = heap.Limit
	}

	mon.mu.Lock()
	if len(mon.custom) > 0 {
		snap.CustomMetrics = maps.Clone(mon.custom)
	}
	mon.history.Add(snap)
	for mon.history.Length() > mon.cfg.MaxHistory {
		mon.history.Remove()
	}
	level := mon.gradeLocked(snap)
	mon.level = level
	onSnapshot := slices.Clone(mon.onSnapshot)
	onPressure := slices.Clone(mon.onPressure)
	mon.mu.Unlock()

	for _, fn := range onSnapshot {
		fn(snap)
	}

	if level == PressureLow {
		return snap
	}
	for _, fn := range onPressure {
		fn(level)
	}
	if level == PressureHigh || level == PressureCritical {
		mon.logger.Warn("memory pressure",
			zap.String("level", string(level)),
			zap.Float64("heap_percent", snap.HeapPercent()))
		mon.mgr.Optimize()
		mon.relieve()
	}
	return snap
}

func (mon *Monitor) gradeLocked(snap Snapshot) PressureLevel {
	percent := snap.HeapPercent()
	growth := mon.growthRateLocked()
	t := mon.thresholds

	switch {
	case percent > 90 || growth > t.MaxGrowthRateMB*2:
		return PressureCritical
	case percent > t.MaxHeapUsagePercent || growth > t.MaxGrowthRateMB:
		return PressureHigh
	case percent > 70 || growth > t.MaxGrowthRateMB*0.5:
		return PressureMedium
	default:
		return PressureLow
	}
}

func (mon *Monitor) relieve() {
	mon.mu.Lock()
	hooks := slices.Clone(mon.onRelief)
	mon.mu.Unlock()

	for _, fn := range hooks {
		fn()
	}
}

// recentLocked returns up to n of the newest snapshots, oldest first.
func (mon *Monitor) recentLocked(n int) []Snapshot {
	length := mon.history.Length()
	n = min(n, length)
	out := make([]Snapshot, 0, n)
	for i := length - n; i < length; i++ {
		out = append(out, mon.history.Get(i).(Snapshot))
	}
	return out
}

// GrowthRate returns the heap growth in MB per minute over the newest
// snapshots.
func (mon *Monitor) GrowthRate() float64 {
	mon.mu.Lock()
	defer mon.mu.Unlock()
	return mon.growthRateLocked()
}

func (mon *Monitor) growthRateLocked() float64 {
	recent := mon.recentLocked(growthWindow)
	if len(recent) < 2 {
		return 0
	}
	oldest, newest := recent[0], recent[len(recent)-1]

	minutes := newest.Timestamp.Sub(oldest.Timestamp).Minutes()
	if minutes <= 0 {
		return 0
	}
	diffMB := (float64(newest.HeapUsed) - float64(oldest.HeapUsed)) / bytesPerMB
	return diffMB / minutes
}

// AnalyzeLeaks inspects the newest snapshots for sustained heap growth and
// the pools for low efficiency, over-allocation and suspicious size.
func (mon *Monitor) AnalyzeLeaks() LeakAnalysis {
	mon.mu.Lock()
	defer mon.mu.Unlock()
	return mon.analyzeLocked()
}

func (mon *Monitor) analyzeLocked() LeakAnalysis {
	recent := mon.recentLocked(analysisWindow)
	growth := mon.growthRateLocked()
	t := mon.thresholds

	consecutive := 0
	for i := 1; i < len(recent); i++ {
		if recent[i].HeapUsed > recent[i-1].HeapUsed {
			consecutive++
		} else {
			consecutive = 0
		}
	}
	mon.consecutive = consecutive

	trend := TrendStable
	if consecutive >= 3 {
		trend = TrendGrowing
	} else if consecutive == 0 && len(recent) > 2 {
		if recent[len(recent)-1].HeapUsed < recent[len(recent)-3].HeapUsed {
			trend = TrendDeclining
		}
	}

	var latest map[string]pool.Stats
	if len(recent) > 0 {
		latest = recent[len(recent)-1].PoolStats
	} else {
		latest = mon.mgr.PoolStats()
	}

	analysis := LeakAnalysis{
		Timestamp:         mon.now(),
		GrowthRateMB:      growth,
		ConsecutiveGrowth: consecutive,
		Trend:             trend,
		Pools:             analyzePools(latest, t),
	}

	if growth > t.MaxGrowthRateMB {
		analysis.CriticalIssues = append(analysis.CriticalIssues,
			fmt.Sprintf("Heap growth rate too high: %.2f MB/min", growth))
		analysis.Recommendations = append(analysis.Recommendations,
			"Check for records that are acquired but never released")
	}
	if consecutive >= t.MaxConsecutiveGrowth {
		analysis.CriticalIssues = append(analysis.CriticalIssues,
			fmt.Sprintf("Too many consecutive growth periods: %d", consecutive))
		analysis.Recommendations = append(analysis.Recommendations,
			"Force a collection and check pool utilization")
	}
	if len(analysis.Pools.SuspiciousPools) > 0 {
		analysis.CriticalIssues = append(analysis.CriticalIssues,
			fmt.Sprintf("Pools suspected of leaking: %s", strings.Join(analysis.Pools.SuspiciousPools, ", ")))
		analysis.Recommendations = append(analysis.Recommendations,
			"Check the release paths of the suspected pools")
	}

	analysis.LeakSuspected = len(analysis.CriticalIssues) > 0 ||
		(growth > t.MaxGrowthRateMB && consecutive >= 3)
	return analysis
}

func analyzePools(stats map[string]pool.Stats, t config.MonitorThresholds) PoolAnalysis {
	var out PoolAnalysis
	for _, name := range slices.Sorted(maps.Keys(stats)) {
		s := stats[name]

		if s.Acquires() > 0 && s.HitRate < t.PoolHitRate {
			out.LowEfficiencyPools = append(out.LowEfficiencyPools, name)
		}
		utilization := s.Utilization()
		if s.Size > 10 && utilization < 1-t.PoolUtilization {
			out.OverAllocatedPools = append(out.OverAllocatedPools, name)
		}
		if s.Size > 1000 && utilization < 0.1 {
			out.SuspiciousPools = append(out.SuspiciousPools, name)
		}
	}
	return out
}

// CheckLeaks runs the periodic leak check. It skips until the history
// holds enough snapshots and reports whether the analysis ran.
func (mon *Monitor) CheckLeaks() (LeakAnalysis, bool) {
	mon.mu.Lock()
	if mon.history.Length() < minLeakCheckSnapshots {
		count := mon.history.Length()
		mon.mu.Unlock()
		mon.logger.Debug("not enough snapshots for leak check", zap.Int("snapshots", count))
		return LeakAnalysis{}, false
	}
	analysis := mon.analyzeLocked()
	mon.lastLeakCheck = mon.now()
	t := mon.thresholds
	hooks := slices.Clone(mon.onLeak)
	mon.mu.Unlock()

	if !analysis.LeakSuspected {
		return analysis, true
	}

	mon.logger.Warn("possible memory leak",
		zap.Float64("growth_rate_mb", analysis.GrowthRateMB),
		zap.Int("consecutive_growth", analysis.ConsecutiveGrowth),
		zap.Strings("critical_issues", analysis.CriticalIssues))
	if analysis.GrowthRateMB > t.MaxGrowthRateMB || analysis.ConsecutiveGrowth >= t.MaxConsecutiveGrowth {
		mon.mgr.recorder.LeakFlag(metrics.LeakHeapGrowth)
	}
	for range analysis.Pools.SuspiciousPools {
		mon.mgr.recorder.LeakFlag(metrics.LeakSuspiciousUse)
	}
	for _, fn := range hooks {
		fn(analysis)
	}
	return analysis, true
}

// Trend returns the heap series of snapshots newer than window and whether
// the heap moved more than 5% across it.
func (mon *Monitor) Trend(window time.Duration) TrendReport {
	mon.mu.Lock()
	defer mon.mu.Unlock()

	cutoff := mon.now().Add(-window)
	report := TrendReport{Direction: DirectionStable}
	var first, last Snapshot
	for _, snap := range mon.recentLocked(mon.history.Length()) {
		if snap.Timestamp.Before(cutoff) {
			continue
		}
		if len(report.Timestamps) == 0 {
			first = snap
		}
		last = snap
		report.Timestamps = append(report.Timestamps, snap.Timestamp)
		report.HeapUsed = append(report.HeapUsed, snap.HeapUsed)
		report.HeapTotal = append(report.HeapTotal, snap.HeapTotal)
	}

	if len(report.Timestamps) < 2 || first.HeapUsed == 0 {
		return report
	}
	change := (float64(last.HeapUsed) - float64(first.HeapUsed)) / float64(first.HeapUsed) * 100
	switch {
	case change > 5:
		report.Direction = DirectionUp
	case change < -5:
		report.Direction = DirectionDown
	}
	return report
}

// CurrentStats summarizes the newest snapshot and grades leak risk.
func (mon *Monitor) CurrentStats() CurrentStats {
	mon.mu.Lock()
	defer mon.mu.Unlock()

	var stats CurrentStats
	recent := mon.recentLocked(1)
	if len(recent) == 0 {
		stats.LeakRisk = "low"
		return stats
	}
	latest := recent[0]
	stats.CurrentMemoryMB = float64(latest.HeapUsed) / bytesPerMB
	stats.GrowthRateMB = mon.growthRateLocked()

	if len(latest.PoolStats) > 0 {
		var total float64
		for _, s := range latest.PoolStats {
			total += s.HitRate
		}
		stats.PoolEfficiency = total / float64(len(latest.PoolStats))
	}

	t := mon.thresholds
	switch {
	case stats.GrowthRateMB > t.MaxGrowthRateMB:
		stats.LeakRisk = "high"
	case mon.consecutive >= 3 || stats.GrowthRateMB > t.MaxGrowthRateMB*0.5:
		stats.LeakRisk = "medium"
	default:
		stats.LeakRisk = "low"
	}
	return stats
}

// AddCustomMetric attaches a named value to every following snapshot.
func (mon *Monitor) AddCustomMetric(name string, value float64) {
	mon.mu.Lock()
	mon.custom[name] = value
	mon.mu.Unlock()
}

// RemoveCustomMetric stops attaching name.
func (mon *Monitor) RemoveCustomMetric(name string) {
	mon.mu.Lock()
	delete(mon.custom, name)
	mon.mu.Unlock()
}

// SetThresholds replaces the thresholds. Zero fields keep their value.
func (mon *Monitor) SetThresholds(t config.MonitorThresholds) {
	mon.mu.Lock()
	defer mon.mu.Unlock()

	if t.MaxHeapUsagePercent > 0 {
		mon.thresholds.MaxHeapUsagePercent = t.MaxHeapUsagePercent
	}
	if t.MaxGrowthRateMB > 0 {
		mon.thresholds.MaxGrowthRateMB = t.MaxGrowthRateMB
	}
	if t.MaxConsecutiveGrowth > 0 {
		mon.thresholds.MaxConsecutiveGrowth = t.MaxConsecutiveGrowth
	}
	if t.PoolHitRate > 0 {
		mon.thresholds.PoolHitRate = t.PoolHitRate
	}
	if t.PoolUtilization > 0 {
		mon.thresholds.PoolUtilization = t.PoolUtilization
	}
}

// Status reports the monitor's state.
func (mon *Monitor) Status() MonitorStatus {
	mon.mu.Lock()
	defer mon.mu.Unlock()

	status := MonitorStatus{
		Running:       mon.running,
		SnapshotCount: mon.history.Length(),
		LastLeakCheck: mon.lastLeakCheck,
		Level:         mon.level,
		Thresholds:    mon.thresholds,
	}
	if recent := mon.recentLocked(1); len(recent) == 1 {
		status.LastSnapshot = recent[0].Timestamp
	}
	return status
}

// ForceOptimization optimizes the manager, runs the relief hooks, forces
// a collection and resets the growth counter.
func (mon *Monitor) ForceOptimization() {
	mon.logger.Info("forcing memory optimization")

	mon.mgr.Optimize()
	mon.relieve()
	mon.mgr.ForceGC()

	mon.mu.Lock()
	mon.consecutive = 0
	mon.mu.Unlock()
}

// Snapshots returns the history, oldest first.
func (mon *Monitor) Snapshots() []Snapshot {
	mon.mu.Lock()
	defer mon.mu.Unlock()
	return mon.recentLocked(mon.history.Length())
}

// ExportJSON writes the history as a JSON array.
func (mon *Monitor) ExportJSON(w io.Writer) error {
	enc := gojson.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(mon.Snapshots())
}
