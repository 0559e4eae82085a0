// Package telemetry reads host heap and collector counters for the memory
// manager. Callers depend on the Source interface so tests can inject
// synthetic readings.
package telemetry

import (
	"math"
	"runtime"
	"runtime/debug"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/mem"
	"go.uber.org/zap"

	fperrors "github.com/ajitpratap0/framepool/pkg/errors"
	"github.com/ajitpratap0/framepool/pkg/logger"
)

// HeapSample is a point-in-time heap reading in bytes.
type HeapSample struct {
	Total     uint64
	Used      uint64
	Limit     uint64
	Available bool
}

// Pressure returns Used/Limit, or 0 when the limit is unknown.
func (h HeapSample) Pressure() float64 {
	if !h.Available || h.Limit == 0 {
		return 0
	}
	return float64(h.Used) / float64(h.Limit)
}

// UsagePercent returns Used/Total as a percentage, or 0 when unknown.
func (h HeapSample) UsagePercent() float64 {
	if !h.Available || h.Total == 0 {
		return 0
	}
	return float64(h.Used) / float64(h.Total) * 100
}

// GCSample reports collector activity.
type GCSample struct {
	Count     uint32
	LastPause time.Duration
}

// Source supplies heap and collector telemetry.
type Source interface {
	Heap() HeapSample
	GC() GCSample
}

// RuntimeSource reads the Go runtime. The heap limit is the soft memory
// limit when one is configured, otherwise total system memory.
type RuntimeSource struct {
	logger *zap.Logger

	once     sync.Once
	sysTotal uint64
}

// NewRuntimeSource creates a Source backed by runtime.MemStats.
func NewRuntimeSource(l *zap.Logger) *RuntimeSource {
	return &RuntimeSource{logger: logger.OrNamed(l, "telemetry")}
}

// Heap implements Source.
func (s *RuntimeSource) Heap() HeapSample {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)

	return HeapSample{
		Total:     ms.HeapSys,
		Used:      ms.HeapAlloc,
		Limit:     s.limit(),
		Available: true,
	}
}

// GC implements Source.
func (s *RuntimeSource) GC() GCSample {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)

	sample := GCSample{Count: ms.NumGC}
	if ms.NumGC > 0 {
		sample.LastPause = time.Duration(ms.PauseNs[(ms.NumGC+255)%256])
	}
	return sample
}

func (s *RuntimeSource) limit() uint64 {
	// A negative input reads the limit without changing it.
	if soft := debug.SetMemoryLimit(-1); soft > 0 && soft != math.MaxInt64 {
		return uint64(soft)
	}

	s.once.Do(func() {
		vm, err := mem.VirtualMemory()
		if err != nil {
			s.logger.Warn("system memory unavailable, pressure will read as zero",
				fperrors.Fields(fperrors.Wrap(err, fperrors.ErrorTypeTelemetry, "virtual memory query failed"))...)
			return
		}
		s.sysTotal = vm.Total
	})
	return s.sysTotal
}

// ForceCollect runs two collection cycles and returns freed memory to the OS.
func ForceCollect() {
	runtime.GC()
	runtime.GC()
	debug.FreeOSMemory()
}

// Static is a fixed Source for tests and simulations.
type Static struct {
	mu   sync.RWMutex
	heap HeapSample
	gc   GCSample
}

// NewStatic returns a Static source reporting used of limit bytes.
func NewStatic(used, total, limit uint64) *Static {
	return &Static{heap: HeapSample{Total: total, Used: used, Limit: limit, Available: true}}
}

// Unavailable returns a Static source that reports no telemetry.
func Unavailable() *Static {
	return &Static{}
}

// Heap implements Source.
func (s *Static) Heap() HeapSample {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.heap
}

// GC implements Source.
func (s *Static) GC() GCSample {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.gc
}

// SetHeap replaces the heap reading.
func (s *Static) SetHeap(h HeapSample) {
	s.mu.Lock()
	s.heap = h
	s.mu.Unlock()
}

// SetUsed replaces the used byte count only.
func (s *Static) SetUsed(used uint64) {
	s.mu.Lock()
	s.heap.Used = used
	s.mu.Unlock()
}

// SetGC replaces the collector reading.
func (s *Static) SetGC(g GCSample) {
	s.mu.Lock()
	s.gc = g
	s.mu.Unlock()
}
