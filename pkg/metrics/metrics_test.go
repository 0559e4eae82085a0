package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/framepool/pkg/pool"
	"github.com/ajitpratap0/framepool/pkg/telemetry"
)

type fakeSource struct {
	stats map[string]pool.Stats
	heap  telemetry.HeapSample
}

func (f fakeSource) PoolStats() map[string]pool.Stats { return f.stats }
func (f fakeSource) HeapSample() telemetry.HeapSample { return f.heap }

func gather(t *testing.T, reg *prometheus.Registry) map[string]*dto.MetricFamily {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	out := make(map[string]*dto.MetricFamily, len(families))
	for _, mf := range families {
		out[mf.GetName()] = mf
	}
	return out
}

func valueFor(mf *dto.MetricFamily, labels map[string]string) (float64, bool) {
	for _, m := range mf.GetMetric() {
		matched := 0
		for _, lp := range m.GetLabel() {
			if labels[lp.GetName()] == lp.GetValue() {
				matched++
			}
		}
		if matched != len(labels) {
			continue
		}
		switch {
		case m.GetCounter() != nil:
			return m.GetCounter().GetValue(), true
		case m.GetGauge() != nil:
			return m.GetGauge().GetValue(), true
		}
	}
	return 0, false
}

func TestPoolCollectorExportsPerPoolSeries(t *testing.T) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(NewPoolCollector("framepool", fakeSource{
		stats: map[string]pool.Stats{
			"datasets":    {Size: 10, Used: 4, Free: 6, Hits: 30, Misses: 10, HitRate: 0.75},
			"buffer-1024": {Size: 2, Used: 2, Misses: 2},
		},
		heap: telemetry.HeapSample{Used: 900, Total: 1000, Limit: 1000, Available: true},
	}))

	families := gather(t, reg)

	v, ok := valueFor(families["framepool_pool_used"], map[string]string{"pool": "datasets"})
	require.True(t, ok)
	assert.Equal(t, 4.0, v)

	v, ok = valueFor(families["framepool_pool_hit_rate"], map[string]string{"pool": "datasets"})
	require.True(t, ok)
	assert.Equal(t, 0.75, v)

	v, ok = valueFor(families["framepool_pool_misses_total"], map[string]string{"pool": "buffer-1024"})
	require.True(t, ok)
	assert.Equal(t, 2.0, v)

	v, ok = valueFor(families["framepool_heap_pressure_ratio"], nil)
	require.True(t, ok)
	assert.InDelta(t, 0.9, v, 1e-9)

	assert.Len(t, families["framepool_pool_size"].GetMetric(), 2)
}

func TestRecorderCountsPoolEvents(t *testing.T) {
	reg := prometheus.NewRegistry()
	rec := NewRecorder(reg, "framepool")

	p, err := pool.NewObjectPool("points", pool.Config[*int]{
		MaxSize:         1,
		ShrinkThreshold: 0.5,
		New:             func() *int { return new(int) },
	}, pool.WithObserver(rec))
	require.NoError(t, err)

	item, err := p.Acquire()
	require.NoError(t, err)
	_, err = p.Acquire()
	require.Error(t, err)
	p.Release(item)
	p.Release(item)

	rec.Relief()
	rec.ForcedGC(2 * time.Millisecond)
	rec.LeakFlag(LeakLowHitRate)
	rec.LeakFlag(LeakLowHitRate)
	rec.FrameDone("ok")
	rec.ObserveFrame(time.Millisecond)

	families := gather(t, reg)

	v, _ := valueFor(families["framepool_pool_acquires_total"], map[string]string{"pool": "points", "result": "miss"})
	assert.Equal(t, 1.0, v)
	v, _ = valueFor(families["framepool_pool_exhausted_total"], map[string]string{"pool": "points"})
	assert.Equal(t, 1.0, v)
	v, _ = valueFor(families["framepool_pool_releases_total"], map[string]string{"pool": "points", "outcome": "recycled"})
	assert.Equal(t, 1.0, v)
	v, _ = valueFor(families["framepool_pool_misuse_total"], map[string]string{"pool": "points"})
	assert.Equal(t, 1.0, v)
	v, _ = valueFor(families["framepool_memory_leak_flags_total"], map[string]string{"kind": LeakLowHitRate})
	assert.Equal(t, 2.0, v)
	v, _ = valueFor(families["framepool_memory_relief_total"], nil)
	assert.Equal(t, 1.0, v)
	assert.Equal(t, uint64(1), families["framepool_frame_latency_seconds"].GetMetric()[0].GetHistogram().GetSampleCount())
}

func TestNilRecorderIsNoop(t *testing.T) {
	var rec *Recorder
	assert.NotPanics(t, func() {
		rec.Acquired("p", true)
		rec.Released("p", false)
		rec.Exhausted("p")
		rec.Misuse("p")
		rec.Relief()
		rec.ForcedGC(time.Millisecond)
		rec.LeakFlag(LeakFrequentGC)
		rec.FrameDone("ok")
		rec.ObserveFrame(time.Millisecond)
	})
	assert.Nil(t, rec.ThroughputGauge())
}

func TestLatencyTrackerPercentiles(t *testing.T) {
	l := NewLatencyTracker(4)
	for _, d := range []time.Duration{5, 1, 4, 2, 3} {
		l.Record(d * time.Millisecond)
	}

	// the oldest sample (5ms) was evicted
	assert.Equal(t, 4, l.Count())
	assert.Equal(t, time.Millisecond, l.GetPercentile(0))
	assert.Equal(t, 4*time.Millisecond, l.GetPercentile(100))
	assert.Equal(t, 3*time.Millisecond, l.GetPercentile(50))
	assert.Zero(t, NewLatencyTracker(0).GetPercentile(99))
}

func TestThroughputTracker(t *testing.T) {
	gauge := prometheus.NewGauge(prometheus.GaugeOpts{Name: "fps"})
	tr := NewThroughputTracker(gauge)
	tr.Increment(100)
	time.Sleep(10 * time.Millisecond)

	fps := tr.GetAndReset()
	assert.Greater(t, fps, 0.0)

	m := &dto.Metric{}
	require.NoError(t, gauge.Write(m))
	assert.Equal(t, fps, m.GetGauge().GetValue())
}
