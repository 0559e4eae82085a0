// Package framepool provides the memory-reuse layer for applications that
// decode high-frequency sensor frames into short-lived records.
//
// A frame stream allocates the same record shapes over and over: data points,
// datasets, groups, raw and processed frames. framepool keeps those records in
// bounded pools, serves byte buffers from power-of-two size classes, and
// watches pool and heap statistics so that pressure and leaks surface early.
//
// # Architecture
//
// The layer is built from four pieces:
//
// 1. Object pools (pkg/pool): a bounded, thread-safe pool per record type
// that resets records on release, grows in steps and shrinks when idle.
//
// 2. Buffer pool (pkg/pool): byte buffers grouped by size class from 64 bytes
// up to 64 KiB, with larger classes created on demand.
//
// 3. Memory manager (pkg/memory): a registry of named pools plus the buffer
// pool and weak references, with periodic statistics, leak heuristics,
// forced collection and pressure relief. The Monitor keeps a snapshot
// history and grades heap growth.
//
// 4. Object pool manager (pkg/objectpool): typed acquire and release calls
// for every frame record, with cascading release of frame hierarchies.
//
// # Quick Start
//
//	import (
//	    "github.com/ajitpratap0/framepool/pkg/config"
//	    "github.com/ajitpratap0/framepool/pkg/memory"
//	    "github.com/ajitpratap0/framepool/pkg/objectpool"
//	)
//
//	mem := memory.New(config.DefaultMemoryConfig())
//	defer mem.Dispose()
//
//	pools := objectpool.New(mem, config.DefaultPoolsConfig())
//	if err := pools.Initialize(); err != nil {
//	    return err
//	}
//
//	frame, err := pools.AcquireProcessedFrame()
//	if err != nil {
//	    return err // pool exhausted
//	}
//	defer pools.ReleaseProcessedFrame(frame) // releases groups and datasets too
//
// # Key Packages
//
//	pkg/pool        - Generic object pool and size-class buffer pool
//	pkg/weakref     - Weak references with cleanup callbacks
//	pkg/memory      - Memory manager, leak heuristics and monitor
//	pkg/objectpool  - Typed pools for frame records
//	pkg/models      - Frame record types
//	pkg/telemetry   - Heap telemetry sources
//	pkg/metrics     - Prometheus collectors and latency tracking
//	pkg/config      - Configuration loading
//	pkg/errors      - Structured error handling
//	pkg/logger      - Structured logging
//
// # Configuration
//
// Configuration is loaded from YAML with FRAMEPOOL_ environment overrides:
//
//	memory:
//	  sample_interval: 1s
//	  pressure_threshold: 0.8
//	pools:
//	  datasets:
//	    initial_size: 200
//	    max_size: 5000
//
// # Development
//
//	framepool config init framepool.yaml
//	framepool simulate --frames 10000 --rate 60 --metrics --monitor
//	go test ./...
package framepool
