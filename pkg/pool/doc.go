// Package pool provides bounded, statistics-tracking object pooling for
// framepool. It is the reuse layer beneath the memory manager and the typed
// record façade.
//
// The package provides:
//   - Generic type-safe object pooling with ObjectPool[T]
//   - Byte buffer pooling with power-of-two size classes
//   - Hit/miss statistics and shrink-on-release for monitoring
//
// Example usage:
//
//	points, err := pool.NewObjectPool("points", pool.Config[*Point]{
//	    InitialSize:     16,
//	    MaxSize:         256,
//	    ShrinkThreshold: 0.3,
//	    New:             func() *Point { return &Point{} },
//	})
//	p, err := points.Acquire()
//	if err != nil {
//	    return err // pool at capacity
//	}
//	defer points.Release(p)
//
// # Architecture
//
// The pool package uses Go generics to provide type-safe pooling for any
// comparable record type, usually a pointer. Unlike sync.Pool, an
// ObjectPool tracks every record it hands out, so it can enforce a ceiling,
// reject foreign or double releases, and report exact occupancy.
//
// Core Types:
//
//   - ObjectPool[T]: bounded pool with free/in-use partitioning
//   - BufferPool: byte slices from power-of-two size classes
//   - Managed: type-erased view used by the memory manager's registry
//   - Observer: event hook used by the metrics recorder
//
// Lifecycle of a Record
//
//	Acquire  free stack non-empty  -> pop (hit)
//	         in-use < MaxSize      -> New() (miss)
//	         otherwise             -> exhausted error
//	Release  untracked             -> warning, no-op
//	         tracked               -> reset, then recycle or destroy
//
// A released record is destroyed instead of recycled when used/(used+free),
// measured after the release, is below ShrinkThreshold. An otherwise empty
// pool always recycles.
//
// # Reset Dispatch
//
// The reset strategy is chosen once per pool: Config.Reset when set, then
// the Resetter interface, then zero-filling for pointers to numeric slices
// (*[]byte, *[]float64, ...) and clearing for *map[string]any. Any other
// type is recycled untouched.
//
// # Buffer Size Classes
//
// BufferPool starts with classes of 64B, 256B, 1KB, 4KB, 16KB and 64KB.
// A request is served by the smallest class that fits; larger requests
// create a new class at the next power of two. A request smaller than its
// class gets a sub-view with len == cap == n, so appends never spill into
// the rest of the slab.
//
//	buf, err := buffers.Acquire(100) // 256B class, len(buf) == 100
//	if err != nil {
//		return err
//	}
//	defer buffers.Release(buf)
//
// # Best Practices
//
// DO:
//   - Release every record exactly once
//   - Treat an exhausted error as back-pressure
//   - Implement Reset on pointer records
//
// DON'T:
//   - Retain a record after releasing it
//   - Share a record between goroutines without synchronization
//   - Release a re-sliced buffer that no longer starts at index 0
package pool
