package memory

import (
	"bytes"
	"sync/atomic"
	"testing"
	"time"

	gojson "github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/framepool/pkg/config"
	"github.com/ajitpratap0/framepool/pkg/pool"
	"github.com/ajitpratap0/framepool/pkg/telemetry"
	"github.com/ajitpratap0/framepool/pkg/testutil"
)

const mb = 1 << 20

type monitorFixture struct {
	mgr         *Manager
	mon         *Monitor
	source      *telemetry.Static
	clock       *testutil.FakeClock
	collections atomic.Int32
	reliefs     atomic.Int32
	levels      []PressureLevel
}

func newMonitorFixture(t *testing.T, cfg config.MonitorConfig) *monitorFixture {
	t.Helper()
	f := &monitorFixture{
		source: testutil.HeapSource(0.1),
		clock:  testutil.NewFakeClock(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)),
	}
	f.mgr = newTestManager(t, f.source, WithCollector(func() { f.collections.Add(1) }))
	f.mon = NewMonitor(f.mgr, cfg,
		WithMonitorLogger(testutil.TestLogger(t)),
		WithClock(f.clock.Now))
	f.mon.OnRelief(func() { f.reliefs.Add(1) })
	f.mon.OnPressure(func(l PressureLevel) { f.levels = append(f.levels, l) })
	return f
}

// series collects one snapshot per step with the heap at the given sizes.
func (f *monitorFixture) series(step time.Duration, usedMB ...float64) {
	for i, used := range usedMB {
		if i > 0 {
			f.clock.Advance(step)
		}
		f.source.SetUsed(uint64(used * mb))
		f.mon.Collect()
	}
}

func TestMonitorGrowthRate(t *testing.T) {
	f := newMonitorFixture(t, config.DefaultMonitorConfig())

	assert.Zero(t, f.mon.GrowthRate())

	// older snapshots fall out of the growth window
	f.series(time.Minute, 500, 100, 105, 110, 115, 120)
	assert.InDelta(t, 5.0, f.mon.GrowthRate(), 1e-9)
	assert.Empty(t, f.levels)
	assert.Zero(t, f.reliefs.Load())
}

func TestMonitorSustainedGrowthIsALeak(t *testing.T) {
	f := newMonitorFixture(t, config.DefaultMonitorConfig())

	var leaks []LeakAnalysis
	f.mon.OnLeak(func(a LeakAnalysis) { leaks = append(leaks, a) })

	used := make([]float64, 10)
	for i := range used {
		used[i] = 100 + float64(i)*30
	}
	f.series(time.Minute, used...)

	analysis, ran := f.mon.CheckLeaks()
	require.True(t, ran)
	assert.True(t, analysis.LeakSuspected)
	assert.Equal(t, 9, analysis.ConsecutiveGrowth)
	assert.Equal(t, TrendGrowing, analysis.Trend)
	assert.InDelta(t, 30.0, analysis.GrowthRateMB, 1e-9)
	assert.Len(t, analysis.CriticalIssues, 2)
	assert.Len(t, analysis.Recommendations, 2)
	require.Len(t, leaks, 1)

	// growth above twice the tolerated rate is critical and triggers relief
	assert.Contains(t, f.levels, PressureCritical)
	assert.Positive(t, f.reliefs.Load())
	assert.Equal(t, "high", f.mon.CurrentStats().LeakRisk)
	assert.Equal(t, f.clock.Now(), f.mon.Status().LastLeakCheck)
}

func TestMonitorCheckLeaksNeedsHistory(t *testing.T) {
	f := newMonitorFixture(t, config.DefaultMonitorConfig())
	f.series(time.Minute, 100, 200, 300, 400)

	_, ran := f.mon.CheckLeaks()
	assert.False(t, ran)
	assert.True(t, f.mon.Status().LastLeakCheck.IsZero())
}

func TestMonitorDecliningTrend(t *testing.T) {
	f := newMonitorFixture(t, config.DefaultMonitorConfig())
	f.series(time.Minute, 200, 190, 180, 170, 160)

	analysis := f.mon.AnalyzeLeaks()
	assert.Equal(t, TrendDeclining, analysis.Trend)
	assert.False(t, analysis.LeakSuspected)
	assert.Negative(t, analysis.GrowthRateMB)
	assert.Equal(t, "low", f.mon.CurrentStats().LeakRisk)
}

func TestMonitorTrend(t *testing.T) {
	tests := []struct {
		name   string
		usedMB []float64
		window time.Duration
		want   Direction
		points int
	}{
		{"up", []float64{100, 100, 100, 100, 120}, time.Hour, DirectionUp, 5},
		{"down", []float64{100, 100, 100, 100, 80}, time.Hour, DirectionDown, 5},
		{"within five percent", []float64{100, 102, 104}, time.Hour, DirectionStable, 3},
		{"window excludes older snapshots", []float64{50, 50, 100, 100}, time.Minute, DirectionStable, 2},
		{"single snapshot", []float64{100}, time.Hour, DirectionStable, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newMonitorFixture(t, config.DefaultMonitorConfig())
			f.series(time.Minute, tt.usedMB...)

			report := f.mon.Trend(tt.window)
			assert.Equal(t, tt.want, report.Direction)
			assert.Len(t, report.Timestamps, tt.points)
			assert.Len(t, report.HeapUsed, tt.points)
		})
	}
}

func TestMonitorPressureLevels(t *testing.T) {
	tests := []struct {
		pressure float64
		want     []PressureLevel
		relief   bool
	}{
		{0.5, nil, false},
		{0.75, []PressureLevel{PressureMedium}, false},
		{0.88, []PressureLevel{PressureHigh}, true},
		{0.95, []PressureLevel{PressureCritical}, true},
	}

	for _, tt := range tests {
		f := newMonitorFixture(t, config.DefaultMonitorConfig())
		f.source.SetUsed(uint64(tt.pressure * (1 << 30)))
		f.mon.Collect()

		assert.Equal(t, tt.want, f.levels, "pressure %.2f", tt.pressure)
		assert.Equal(t, tt.relief, f.reliefs.Load() > 0, "pressure %.2f", tt.pressure)
		// the manager relieves itself above its own 0.8 threshold
		assert.Equal(t, tt.pressure > 0.8, f.collections.Load() > 0, "pressure %.2f", tt.pressure)
	}
}

func TestAnalyzePools(t *testing.T) {
	thresholds := config.DefaultMonitorConfig().Thresholds
	stats := map[string]pool.Stats{
		"idle":       {Size: 10, Free: 10},
		"cold":       {Size: 3, Used: 3, Misses: 3},
		"oversized":  {Size: 50, Used: 5, Free: 45, Hits: 10, HitRate: 1},
		"runaway":    {Size: 1500, Used: 100, Free: 1400, Hits: 100, HitRate: 1},
		"healthy":    {Size: 20, Used: 18, Free: 2, Hits: 90, Misses: 10, HitRate: 0.9},
		"unacquired": {Size: 0},
	}

	got := analyzePools(stats, thresholds)
	assert.Equal(t, []string{"cold"}, got.LowEfficiencyPools)
	assert.Equal(t, []string{"oversized", "runaway"}, got.OverAllocatedPools)
	assert.Equal(t, []string{"runaway"}, got.SuspiciousPools)
}

func TestMonitorSuspiciousPoolIsALeak(t *testing.T) {
	f := newMonitorFixture(t, config.DefaultMonitorConfig())
	_, err := CreateObjectPool(f.mgr, "runaway", sampleConfig(1500, 2000))
	require.NoError(t, err)

	f.series(time.Minute, 100, 100, 100, 100, 100)
	analysis, ran := f.mon.CheckLeaks()
	require.True(t, ran)
	assert.True(t, analysis.LeakSuspected)
	assert.Equal(t, []string{"runaway"}, analysis.Pools.SuspiciousPools)
	assert.Contains(t, analysis.CriticalIssues[0], "runaway")
}

func TestMonitorBoundedHistory(t *testing.T) {
	cfg := config.DefaultMonitorConfig()
	cfg.MaxHistory = 3
	f := newMonitorFixture(t, cfg)

	start := f.clock.Now()
	f.series(time.Minute, 1, 2, 3, 4, 5)

	snaps := f.mon.Snapshots()
	require.Len(t, snaps, 3)
	assert.Equal(t, start.Add(2*time.Minute), snaps[0].Timestamp)
	assert.Equal(t, uint64(5*mb), snaps[2].HeapUsed)
	assert.Equal(t, 3, f.mon.Status().SnapshotCount)
	assert.Equal(t, f.clock.Now(), f.mon.Status().LastSnapshot)
}

func TestMonitorCustomMetrics(t *testing.T) {
	f := newMonitorFixture(t, config.DefaultMonitorConfig())

	f.mon.AddCustomMetric("frames_per_second", 60)
	snap := f.mon.Collect()
	assert.Equal(t, 60.0, snap.CustomMetrics["frames_per_second"])

	f.mon.RemoveCustomMetric("frames_per_second")
	assert.Nil(t, f.mon.Collect().CustomMetrics)
}

func TestMonitorSetThresholdsKeepsZeroFields(t *testing.T) {
	f := newMonitorFixture(t, config.DefaultMonitorConfig())

	f.mon.SetThresholds(config.MonitorThresholds{MaxGrowthRateMB: 50})
	got := f.mon.Status().Thresholds
	assert.Equal(t, 50.0, got.MaxGrowthRateMB)
	assert.Equal(t, 85.0, got.MaxHeapUsagePercent)
	assert.Equal(t, 5, got.MaxConsecutiveGrowth)

	// 20 MB/min is now below the medium grade
	f.series(time.Minute, 100, 120, 140)
	assert.Empty(t, f.levels)
}

func TestMonitorForceOptimization(t *testing.T) {
	f := newMonitorFixture(t, config.DefaultMonitorConfig())

	f.mon.ForceOptimization()
	assert.Equal(t, int32(1), f.reliefs.Load())
	assert.Equal(t, int32(1), f.collections.Load())
}

func TestMonitorExportJSON(t *testing.T) {
	f := newMonitorFixture(t, config.DefaultMonitorConfig())
	f.series(time.Second, 10, 20)

	var buf bytes.Buffer
	require.NoError(t, f.mon.ExportJSON(&buf))

	var snaps []Snapshot
	require.NoError(t, gojson.Unmarshal(buf.Bytes(), &snaps))
	require.Len(t, snaps, 2)
	assert.Equal(t, uint64(20*mb), snaps[1].HeapUsed)
	assert.Contains(t, snaps[0].PoolStats, pool.ClassName(64))
}

func TestMonitorStartStop(t *testing.T) {
	mgr := newTestManager(t, testutil.HeapSource(0.1))
	cfg := config.DefaultMonitorConfig()
	cfg.SnapshotInterval = 10 * time.Millisecond
	cfg.LeakCheckInterval = 20 * time.Millisecond
	mon := NewMonitor(mgr, cfg, WithMonitorLogger(testutil.TestLogger(t)))

	var snapshots atomic.Int32
	mon.OnSnapshot(func(Snapshot) { snapshots.Add(1) })

	mon.Start()
	mon.Start()
	assert.True(t, mon.Status().Running)

	testutil.AssertEventually(t, func() bool {
		return snapshots.Load() >= 3 && !mon.Status().LastLeakCheck.IsZero()
	}, 2*time.Second, "monitor should snapshot and check for leaks")

	mon.Stop()
	mon.Stop()
	assert.False(t, mon.Status().Running)

	count := mon.Status().SnapshotCount
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, count, mon.Status().SnapshotCount)
}
