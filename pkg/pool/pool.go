package pool

import (
	"fmt"
	"sync"

	"go.uber.org/zap"

	fperrors "github.com/ajitpratap0/framepool/pkg/errors"
	"github.com/ajitpratap0/framepool/pkg/logger"
)

// DefaultGrowthFactor is used when Config.GrowthFactor is left at zero.
const DefaultGrowthFactor = 1.5

// Config configures an ObjectPool.
type Config[T any] struct {
	// InitialSize records are constructed up front into the free set
	InitialSize int
	// MaxSize caps the number of records in use at once
	MaxSize int
	// GrowthFactor is informational and reported to sizing heuristics
	GrowthFactor float64
	// ShrinkThreshold destroys a released record when used/(used+free)
	// falls below it
	ShrinkThreshold float64
	// New constructs a record
	New func() T
	// Destroy is called for records discarded instead of recycled
	Destroy func(T)
	// Reset overrides the default reset dispatch
	Reset func(T)
}

// Validate checks the configuration.
func (c Config[T]) Validate() error {
	switch {
	case c.New == nil:
		return fperrors.New(fperrors.ErrorTypeValidation, "pool constructor is required")
	case c.MaxSize <= 0:
		return fperrors.New(fperrors.ErrorTypeValidation, "max size must be positive").
			WithDetail("max_size", c.MaxSize)
	case c.InitialSize < 0:
		return fperrors.New(fperrors.ErrorTypeValidation, "initial size cannot be negative").
			WithDetail("initial_size", c.InitialSize)
	case c.InitialSize > c.MaxSize:
		return fperrors.New(fperrors.ErrorTypeValidation, "initial size exceeds max size").
			WithDetail("initial_size", c.InitialSize).
			WithDetail("max_size", c.MaxSize)
	case c.ShrinkThreshold <= 0 || c.ShrinkThreshold > 1:
		return fperrors.New(fperrors.ErrorTypeValidation, "shrink threshold must be within (0,1]").
			WithDetail("shrink_threshold", c.ShrinkThreshold)
	case c.GrowthFactor != 0 && c.GrowthFactor < 1:
		return fperrors.New(fperrors.ErrorTypeValidation, "growth factor must be at least 1").
			WithDetail("growth_factor", c.GrowthFactor)
	}
	return nil
}

// Stats represents pool statistics for monitoring and optimization.
type Stats struct {
	// Size is Used + Free
	Size int `json:"size"`
	// Used is the number of records currently checked out
	Used int `json:"used"`
	// Free is the number of records available for reuse
	Free int `json:"free"`
	// Hits counts acquires served from the free set
	Hits uint64 `json:"hits"`
	// Misses counts acquires served by construction
	Misses uint64 `json:"misses"`
	// HitRate is Hits/(Hits+Misses), 0 before the first acquire
	HitRate float64 `json:"hit_rate"`
	// Destroyed counts records discarded by shrinking
	Destroyed uint64 `json:"destroyed"`
}

// Acquires returns Hits + Misses.
func (s Stats) Acquires() uint64 {
	return s.Hits + s.Misses
}

// Utilization returns Used/Size, or 0 for an empty pool.
func (s Stats) Utilization() float64 {
	if s.Size == 0 {
		return 0
	}
	return float64(s.Used) / float64(s.Size)
}

func hitRate(hits, misses uint64) float64 {
	if hits+misses == 0 {
		return 0
	}
	return float64(hits) / float64(hits+misses)
}

// Managed is the type-erased view of a pool used by registries.
type Managed interface {
	Name() string
	Stats() Stats
	Clear()
}

// ObjectPool is a bounded pool of homogeneous, resettable records.
// Records are partitioned into a free stack and an in-use identity set;
// at most MaxSize records are in use at once. When T is an interface type,
// Config.New must return hashable dynamic values (pointers, not slices or
// maps). It is safe for concurrent
// use, but a record must only be held by one caller between Acquire and
// Release.
type ObjectPool[T comparable] struct {
	name     string
	cfg      Config[T]
	reset    func(T)
	logger   *zap.Logger
	observer Observer

	mu        sync.Mutex
	free      []T
	inUse     map[T]struct{}
	hits      uint64
	misses    uint64
	destroyed uint64
}

// NewObjectPool creates a pool and pre-allocates InitialSize records.
func NewObjectPool[T comparable](name string, cfg Config[T], opts ...Option) (*ObjectPool[T], error) {
	if err := cfg.Validate(); err != nil {
		return nil, fperrors.Wrap(err, fperrors.ErrorTypeValidation, "invalid pool configuration").
			WithDetail("pool", name)
	}
	if cfg.GrowthFactor == 0 {
		cfg.GrowthFactor = DefaultGrowthFactor
	}

	o := applyOptions(opts)
	p := &ObjectPool[T]{
		name:     name,
		cfg:      cfg,
		reset:    resolveReset(cfg.Reset),
		logger:   o.logger.With(zap.String("pool", name)),
		observer: o.observer,
		free:     make([]T, 0, cfg.InitialSize),
		inUse:    make(map[T]struct{}, cfg.InitialSize),
	}

	var zero T
	if any(zero) == nil {
		// Interface-typed records are hashed by dynamic value.
		first := cfg.New()
		if !hashable(first) {
			return nil, fperrors.New(fperrors.ErrorTypeValidation, "pool records must be hashable").
				WithDetail("pool", name).
				WithDetail("record_type", fmt.Sprintf("%T", first))
		}
		if cfg.InitialSize > 0 {
			p.free = append(p.free, first)
		} else if cfg.Destroy != nil {
			cfg.Destroy(first)
		}
	}

	for len(p.free) < cfg.InitialSize {
		p.free = append(p.free, cfg.New())
	}

	return p, nil
}

// hashable reports whether v can key the in-use set.
func hashable[T comparable](v T) (ok bool) {
	defer func() {
		if recover() != nil {
			ok = false
		}
	}()
	_ = map[T]struct{}{v: {}}
	return true
}

// Name returns the registered pool name.
func (p *ObjectPool[T]) Name() string {
	return p.name
}

// Config returns the pool configuration with defaults applied.
func (p *ObjectPool[T]) Config() Config[T] {
	return p.cfg
}

// Acquire hands out a record, reusing a free one when possible.
// It fails with an exhausted error once MaxSize records are in use.
func (p *ObjectPool[T]) Acquire() (T, error) {
	p.mu.Lock()

	if n := len(p.free); n > 0 {
		item := p.free[n-1]
		var zero T
		p.free[n-1] = zero
		p.free = p.free[:n-1]
		p.inUse[item] = struct{}{}
		p.hits++
		p.mu.Unlock()

		p.observer.Acquired(p.name, true)
		return item, nil
	}

	if used := len(p.inUse); used >= p.cfg.MaxSize {
		p.mu.Unlock()

		p.logger.Debug("pool exhausted", zap.Int("used", used), zap.Int("max_size", p.cfg.MaxSize))
		p.observer.Exhausted(p.name)
		var zero T
		return zero, fperrors.Exhausted(p.name, p.cfg.MaxSize)
	}

	item := p.cfg.New()
	p.inUse[item] = struct{}{}
	p.misses++
	p.mu.Unlock()

	p.observer.Acquired(p.name, false)
	return item, nil
}

// Release resets a record and returns it to the free set, or destroys it
// when utilization after the release drops below ShrinkThreshold.
// Releasing a record the pool does not hold is logged and ignored.
func (p *ObjectPool[T]) Release(item T) {
	p.mu.Lock()

	if _, ok := p.inUse[item]; !ok {
		p.mu.Unlock()

		p.logger.Warn("release of untracked object ignored")
		p.observer.Misuse(p.name)
		return
	}

	delete(p.inUse, item)
	p.reset(item)

	used := len(p.inUse)
	total := used + len(p.free)
	destroy := total > 0 && float64(used)/float64(total) < p.cfg.ShrinkThreshold
	if destroy {
		p.destroyed++
	} else {
		p.free = append(p.free, item)
	}
	p.mu.Unlock()

	if destroy && p.cfg.Destroy != nil {
		p.cfg.Destroy(item)
	}
	p.observer.Released(p.name, !destroy)
}

// Stats returns a snapshot of the pool counters.
func (p *ObjectPool[T]) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()

	used, free := len(p.inUse), len(p.free)
	return Stats{
		Size:      used + free,
		Used:      used,
		Free:      free,
		Hits:      p.hits,
		Misses:    p.misses,
		HitRate:   hitRate(p.hits, p.misses),
		Destroyed: p.destroyed,
	}
}

// Clear forgets every in-use record, destroys every free record and zeroes
// the counters. Records still held by callers become untracked.
func (p *ObjectPool[T]) Clear() {
	p.mu.Lock()
	free := p.free
	p.free = nil
	clear(p.inUse)
	p.hits, p.misses, p.destroyed = 0, 0, 0
	p.mu.Unlock()

	if p.cfg.Destroy != nil {
		for _, item := range free {
			p.cfg.Destroy(item)
		}
	}
}

// IsExhausted reports whether err came from a pool at capacity.
func IsExhausted(err error) bool {
	return fperrors.IsExhausted(err)
}

// Option configures pools.
type Option func(*options)

type options struct {
	logger   *zap.Logger
	observer Observer
}

// WithLogger sets the logger used for misuse and exhaustion diagnostics.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

// WithObserver reports pool events to o, typically a metrics recorder.
func WithObserver(o Observer) Option {
	return func(opts *options) {
		opts.observer = o
	}
}

func applyOptions(opts []Option) options {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	o.logger = logger.OrNamed(o.logger, "pool")
	if o.observer == nil {
		o.observer = NopObserver{}
	}
	return o
}

// Observer receives pool events. Implementations must be safe for
// concurrent use and must not call back into the pool.
type Observer interface {
	Acquired(pool string, hit bool)
	Released(pool string, recycled bool)
	Exhausted(pool string)
	Misuse(pool string)
}

// NopObserver discards every event.
type NopObserver struct{}

func (NopObserver) Acquired(string, bool) {}
func (NopObserver) Released(string, bool) {}
func (NopObserver) Exhausted(string)      {}
func (NopObserver) Misuse(string)         {}
