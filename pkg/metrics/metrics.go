// Package metrics exports framepool pool and heap statistics to Prometheus
// and tracks frame throughput and latency.
//
// # Overview
//
// The metrics package provides:
//   - PoolCollector: a pull collector over live pool and heap statistics
//   - Recorder: counters for pool events, relief actions and leak flags
//   - Throughput and latency tracking utilities
//
// # Basic Usage
//
//	reg := prometheus.NewRegistry()
//	rec := metrics.NewRecorder(reg, "framepool")
//	reg.MustRegister(metrics.NewPoolCollector("framepool", manager))
//
//	// Pools report acquire/release events through the recorder
//	p, _ := pool.NewObjectPool("points", cfg, pool.WithObserver(rec))
//
//	// Track frame latency
//	timer := metrics.NewTimer("frame")
//	process(frame)
//	rec.ObserveFrame(timer.Stop())
//
// # Metric Types
//
// Counter: acquires, releases, exhaustion, misuse, relief and leak flags
// Gauge: pool occupancy, hit rate, heap bytes and memory pressure
// Histogram: frame processing latency
//
// # Performance Considerations
//
// Pool gauges are computed at scrape time from the pools' own counters, so
// the acquire path only touches pre-resolved counters.
package metrics

import (
	"slices"
	"sync"
	"time"

	"github.com/eapache/queue"
	"github.com/prometheus/client_golang/prometheus"
)

// Timer provides a simple timing mechanism for measuring operation durations.
// It captures the start time on creation and calculates elapsed time on stop.
type Timer struct {
	start time.Time
	name  string
}

// NewTimer creates a new timer and starts timing immediately.
// The name parameter is for identification in logs or metrics.
func NewTimer(name string) *Timer {
	return &Timer{
		start: time.Now(),
		name:  name,
	}
}

// Name returns the timer's name.
func (t *Timer) Name() string {
	return t.name
}

// Stop returns the elapsed duration since creation. The timer can be
// stopped multiple times.
func (t *Timer) Stop() time.Duration {
	return time.Since(t.start)
}

// ThroughputTracker tracks frames per second over time windows.
// Thread-safe for concurrent use.
type ThroughputTracker struct {
	mu        sync.Mutex
	count     int64     // Frames since last reset
	lastReset time.Time // Time of last reset
	gauge     prometheus.Gauge
}

// NewThroughputTracker creates a tracker that publishes to gauge when set.
func NewThroughputTracker(gauge prometheus.Gauge) *ThroughputTracker {
	return &ThroughputTracker{
		lastReset: time.Now(),
		gauge:     gauge,
	}
}

// Increment adds n to the frame count. Safe for concurrent use.
func (t *ThroughputTracker) Increment(n int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.count += n
}

// GetAndReset calculates the current throughput (frames/second),
// updates the gauge, resets the counter, and returns the throughput.
func (t *ThroughputTracker) GetAndReset() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	elapsed := time.Since(t.lastReset).Seconds()
	if elapsed == 0 {
		return 0
	}

	throughput := float64(t.count) / elapsed

	t.count = 0
	t.lastReset = time.Now()

	if t.gauge != nil {
		t.gauge.Set(throughput)
	}

	return throughput
}

// LatencyTracker keeps the most recent frame latencies for percentile
// reports. Old samples fall off the front of a ring queue.
type LatencyTracker struct {
	mu      sync.Mutex
	values  *queue.Queue
	maxSize int
}

// NewLatencyTracker creates a tracker retaining up to maxSize samples.
func NewLatencyTracker(maxSize int) *LatencyTracker {
	if maxSize <= 0 {
		maxSize = 1024
	}
	return &LatencyTracker{
		values:  queue.New(),
		maxSize: maxSize,
	}
}

// Record records a latency value
func (l *LatencyTracker) Record(d time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.values.Length() >= l.maxSize {
		l.values.Remove()
	}
	l.values.Add(d)
}

// Count returns the number of retained samples.
func (l *LatencyTracker) Count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.values.Length()
}

// GetPercentile returns the percentile value (0-100)
func (l *LatencyTracker) GetPercentile(p float64) time.Duration {
	l.mu.Lock()
	sorted := make([]time.Duration, l.values.Length())
	for i := range sorted {
		sorted[i] = l.values.Get(i).(time.Duration)
	}
	l.mu.Unlock()

	if len(sorted) == 0 {
		return 0
	}
	slices.Sort(sorted)

	index := min(int(float64(len(sorted))*p/100), len(sorted)-1)
	return sorted[max(index, 0)]
}
