package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/ajitpratap0/framepool/pkg/pool"
)

// Leak flag kinds reported by the memory manager.
const (
	LeakLowHitRate    = "low_hit_rate"
	LeakExcessFree    = "excess_free"
	LeakHighPressure  = "high_pressure"
	LeakFrequentGC    = "frequent_gc"
	LeakHeapGrowth    = "heap_growth"
	LeakSuspiciousUse = "suspicious_pool"
)

// Recorder counts pool events and relief actions. A nil *Recorder is a
// valid no-op recorder.
type Recorder struct {
	acquires   *prometheus.CounterVec
	releases   *prometheus.CounterVec
	exhausted  *prometheus.CounterVec
	misuse     *prometheus.CounterVec
	relief     prometheus.Counter
	forcedGC   prometheus.Counter
	gcDuration prometheus.Histogram
	leakFlags  *prometheus.CounterVec
	frames     *prometheus.CounterVec
	latency    prometheus.Histogram
	throughput prometheus.Gauge
}

var _ pool.Observer = (*Recorder)(nil)

// NewRecorder registers the recorder's metrics on reg.
func NewRecorder(reg prometheus.Registerer, namespace string) *Recorder {
	f := promauto.With(reg)

	return &Recorder{
		acquires: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pool_acquires_total",
			Help:      "Pool acquires by result (hit or miss)",
		}, []string{"pool", "result"}),
		releases: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pool_releases_total",
			Help:      "Pool releases by outcome (recycled or destroyed)",
		}, []string{"pool", "outcome"}),
		exhausted: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pool_exhausted_total",
			Help:      "Acquires rejected because the pool was at capacity",
		}, []string{"pool"}),
		misuse: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pool_misuse_total",
			Help:      "Releases of records the pool did not hold",
		}, []string{"pool"}),
		relief: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "memory_relief_total",
			Help:      "Memory pressure relief actions",
		}),
		forcedGC: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "memory_forced_gc_total",
			Help:      "Forced collections requested",
		}),
		gcDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "memory_forced_gc_duration_seconds",
			Help:      "Duration of forced collections",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 8),
		}),
		leakFlags: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "memory_leak_flags_total",
			Help:      "Potential leak flags raised by kind",
		}, []string{"kind"}),
		frames: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_total",
			Help:      "Frames handled by status",
		}, []string{"status"}),
		latency: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "frame_latency_seconds",
			Help:      "Frame acquire-to-release latency",
			Buckets: []float64{
				1e-6, // 1μs
				1e-5, // 10μs
				1e-4, // 100μs
				1e-3, // 1ms
				1e-2, // 10ms
				1e-1, // 100ms
			},
		}),
		throughput: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "frames_per_second",
			Help:      "Current frame throughput",
		}),
	}
}

// Acquired implements pool.Observer.
func (r *Recorder) Acquired(name string, hit bool) {
	if r == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	r.acquires.WithLabelValues(name, result).Inc()
}

// Released implements pool.Observer.
func (r *Recorder) Released(name string, recycled bool) {
	if r == nil {
		return
	}
	outcome := "destroyed"
	if recycled {
		outcome = "recycled"
	}
	r.releases.WithLabelValues(name, outcome).Inc()
}

// Exhausted implements pool.Observer.
func (r *Recorder) Exhausted(name string) {
	if r == nil {
		return
	}
	r.exhausted.WithLabelValues(name).Inc()
}

// Misuse implements pool.Observer.
func (r *Recorder) Misuse(name string) {
	if r == nil {
		return
	}
	r.misuse.WithLabelValues(name).Inc()
}

// Relief counts a pressure relief action.
func (r *Recorder) Relief() {
	if r == nil {
		return
	}
	r.relief.Inc()
}

// ForcedGC counts a forced collection and its duration.
func (r *Recorder) ForcedGC(d time.Duration) {
	if r == nil {
		return
	}
	r.forcedGC.Inc()
	r.gcDuration.Observe(d.Seconds())
}

// LeakFlag counts a potential leak flag of the given kind.
func (r *Recorder) LeakFlag(kind string) {
	if r == nil {
		return
	}
	r.leakFlags.WithLabelValues(kind).Inc()
}

// FrameDone counts a frame with the given status ("ok", "dropped").
func (r *Recorder) FrameDone(status string) {
	if r == nil {
		return
	}
	r.frames.WithLabelValues(status).Inc()
}

// ObserveFrame records a frame's latency.
func (r *Recorder) ObserveFrame(d time.Duration) {
	if r == nil {
		return
	}
	r.latency.Observe(d.Seconds())
}

// ThroughputGauge returns the frames-per-second gauge for a ThroughputTracker.
func (r *Recorder) ThroughputGauge() prometheus.Gauge {
	if r == nil {
		return nil
	}
	return r.throughput
}
