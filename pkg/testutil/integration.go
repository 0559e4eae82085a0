package testutil

import (
	"fmt"
	"runtime"
	"testing"
	"time"
)

// IntegrationTest marks a test as an integration test
func IntegrationTest(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}
}

// PerformanceTest checks throughput and allocation targets of a frame run.
type PerformanceTest struct {
	t         *testing.T
	name      string
	threshold struct {
		minThroughput float64 // frames/sec
		maxMemory     int64   // bytes
	}
}

// NewPerformanceTest creates a new performance test
func NewPerformanceTest(t *testing.T, name string) *PerformanceTest {
	return &PerformanceTest{
		t:    t,
		name: name,
	}
}

// WithThroughputTarget sets minimum throughput requirement
func (p *PerformanceTest) WithThroughputTarget(framesPerSec float64) *PerformanceTest {
	p.threshold.minThroughput = framesPerSec
	return p
}

// WithMemoryTarget sets the maximum heap growth over the run
func (p *PerformanceTest) WithMemoryTarget(maxBytes int64) *PerformanceTest {
	p.threshold.maxMemory = maxBytes
	return p
}

// Run executes fn and checks the configured targets.
func (p *PerformanceTest) Run(fn func() (frames int64, duration time.Duration)) {
	p.t.Helper()

	initialMem := CaptureMemoryProfile()
	frames, duration := fn()
	finalMem := CaptureMemoryProfile()

	if frames == 0 || duration <= 0 {
		p.t.Errorf("Performance test %s processed no frames", p.name)
		return
	}

	throughput := float64(frames) / duration.Seconds()
	memoryUsed := int64(finalMem.HeapAlloc) - int64(initialMem.HeapAlloc)

	p.t.Logf("Performance Test: %s", p.name)
	p.t.Logf("  Frames: %d", frames)
	p.t.Logf("  Duration: %v", duration)
	p.t.Logf("  Throughput: %.0f frames/sec", throughput)
	p.t.Logf("  Heap Growth: %s", formatBytes(memoryUsed))
	p.t.Logf("  Mallocs: %d", finalMem.Mallocs-initialMem.Mallocs)

	if p.threshold.minThroughput > 0 && throughput < p.threshold.minThroughput {
		p.t.Errorf("Throughput %.0f frames/sec below target %.0f frames/sec",
			throughput, p.threshold.minThroughput)
	}

	if p.threshold.maxMemory > 0 && memoryUsed > p.threshold.maxMemory {
		p.t.Errorf("Heap growth %s exceeds target %s",
			formatBytes(memoryUsed), formatBytes(p.threshold.maxMemory))
	}
}

// MemoryProfile captures memory statistics
type MemoryProfile struct {
	HeapAlloc uint64
	HeapSys   uint64
	Mallocs   uint64
	Frees     uint64
	NumGC     uint32
}

// CaptureMemoryProfile captures current memory profile
func CaptureMemoryProfile() *MemoryProfile {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	return &MemoryProfile{
		HeapAlloc: m.HeapAlloc,
		HeapSys:   m.HeapSys,
		Mallocs:   m.Mallocs,
		Frees:     m.Frees,
		NumGC:     m.NumGC,
	}
}

// formatBytes formats bytes into human-readable string
func formatBytes(bytes int64) string {
	sign := ""
	if bytes < 0 {
		sign = "-"
		bytes = -bytes
	}
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%s%d B", sign, bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%s%.1f %cB", sign, float64(bytes)/float64(div), "KMGTPE"[exp])
}
