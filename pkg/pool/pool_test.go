package pool

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"

	fperrors "github.com/ajitpratap0/framepool/pkg/errors"
)

type record struct {
	Values []int
	Tags   map[string]string
	Name   string
}

func (r *record) Reset() {
	r.Values = r.Values[:0]
	clear(r.Tags)
	r.Name = ""
}

func newRecord() *record {
	return &record{Tags: make(map[string]string)}
}

type countingObserver struct {
	mu        sync.Mutex
	hits      int
	misses    int
	recycled  int
	destroyed int
	exhausted int
	misuse    int
}

func (o *countingObserver) Acquired(_ string, hit bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if hit {
		o.hits++
	} else {
		o.misses++
	}
}

func (o *countingObserver) Released(_ string, recycled bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if recycled {
		o.recycled++
	} else {
		o.destroyed++
	}
}

func (o *countingObserver) Exhausted(string) {
	o.mu.Lock()
	o.exhausted++
	o.mu.Unlock()
}

func (o *countingObserver) Misuse(string) {
	o.mu.Lock()
	o.misuse++
	o.mu.Unlock()
}

func newTestPool(t *testing.T, cfg Config[*record], opts ...Option) *ObjectPool[*record] {
	t.Helper()
	if cfg.New == nil {
		cfg.New = newRecord
	}
	opts = append([]Option{WithLogger(zaptest.NewLogger(t))}, opts...)
	p, err := NewObjectPool("records", cfg, opts...)
	require.NoError(t, err)
	return p
}

func assertStatsInvariant(t *testing.T, s Stats, maxSize int) {
	t.Helper()
	assert.Equal(t, s.Used+s.Free, s.Size)
	assert.LessOrEqual(t, s.Used, maxSize)
	assert.GreaterOrEqual(t, s.HitRate, 0.0)
	assert.LessOrEqual(t, s.HitRate, 1.0)
}

func TestConfigValidate(t *testing.T) {
	base := Config[*record]{MaxSize: 10, ShrinkThreshold: 0.5, New: newRecord}
	require.NoError(t, base.Validate())

	tests := []struct {
		name   string
		mutate func(*Config[*record])
	}{
		{"missing constructor", func(c *Config[*record]) { c.New = nil }},
		{"zero max", func(c *Config[*record]) { c.MaxSize = 0 }},
		{"negative initial", func(c *Config[*record]) { c.InitialSize = -1 }},
		{"initial above max", func(c *Config[*record]) { c.InitialSize = 11 }},
		{"zero shrink", func(c *Config[*record]) { c.ShrinkThreshold = 0 }},
		{"shrink above one", func(c *Config[*record]) { c.ShrinkThreshold = 1.1 }},
		{"growth below one", func(c *Config[*record]) { c.GrowthFactor = 0.5 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base
			tt.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.True(t, fperrors.IsType(err, fperrors.ErrorTypeValidation))
		})
	}
}

func TestNewObjectPoolPreallocates(t *testing.T) {
	p := newTestPool(t, Config[*record]{InitialSize: 5, MaxSize: 20, ShrinkThreshold: 0.3})

	s := p.Stats()
	assert.Equal(t, 5, s.Size)
	assert.Equal(t, 5, s.Free)
	assert.Zero(t, s.Misses)
	assert.Zero(t, s.HitRate)
	assert.Equal(t, DefaultGrowthFactor, p.Config().GrowthFactor)
	assert.Equal(t, "records", p.Name())
}

func TestAcquireUpToMaxThenExhausted(t *testing.T) {
	obs := &countingObserver{}
	p := newTestPool(t, Config[*record]{MaxSize: 8, ShrinkThreshold: 0.5}, WithObserver(obs))

	for i := 0; i < 8; i++ {
		_, err := p.Acquire()
		require.NoError(t, err, "acquire %d", i)
		assertStatsInvariant(t, p.Stats(), 8)
	}

	item, err := p.Acquire()
	require.Error(t, err)
	assert.Nil(t, item)
	assert.True(t, IsExhausted(err))
	assert.Equal(t, 1, obs.exhausted)
	assert.Equal(t, 8, obs.misses)
	assert.Equal(t, 8, p.Stats().Used)
}

func TestReleaseResetsRecord(t *testing.T) {
	p := newTestPool(t, Config[*record]{MaxSize: 4, ShrinkThreshold: 0.1})

	r, err := p.Acquire()
	require.NoError(t, err)
	r.Values = append(r.Values, 1, 2, 3)
	r.Tags["unit"] = "m/s"
	r.Name = "speed"
	p.Release(r)

	again, err := p.Acquire()
	require.NoError(t, err)
	assert.Same(t, r, again)
	assert.Empty(t, again.Values)
	assert.Empty(t, again.Tags)
	assert.Empty(t, again.Name)
	assert.Equal(t, uint64(1), p.Stats().Hits)
}

func TestRoundTripKeepsCounts(t *testing.T) {
	p := newTestPool(t, Config[*record]{InitialSize: 1, MaxSize: 10, ShrinkThreshold: 0.3})

	held := make([]*record, 0, 4)
	for i := 0; i < 4; i++ {
		r, err := p.Acquire()
		require.NoError(t, err)
		held = append(held, r)
	}
	before := p.Stats()

	r, err := p.Acquire()
	require.NoError(t, err)
	p.Release(r)

	after := p.Stats()
	assert.Equal(t, before.Used, after.Used)
	assert.Equal(t, before.Free+1, after.Free)
	assertStatsInvariant(t, after, 10)

	// An empty pool always recycles: there is nothing to measure against.
	empty := newTestPool(t, Config[*record]{MaxSize: 2, ShrinkThreshold: 1})
	e, err := empty.Acquire()
	require.NoError(t, err)
	empty.Release(e)
	assert.Equal(t, Stats{Size: 1, Free: 1, Misses: 1}, empty.Stats())

	for _, h := range held {
		p.Release(h)
	}
}

func TestShrinkScenario(t *testing.T) {
	var destroyed atomic.Int32
	p := newTestPool(t, Config[*record]{
		InitialSize:     5,
		MaxSize:         20,
		ShrinkThreshold: 0.3,
		Destroy:         func(*record) { destroyed.Add(1) },
	})

	held := make([]*record, 0, 6)
	for i := 0; i < 5; i++ {
		r, err := p.Acquire()
		require.NoError(t, err)
		held = append(held, r)
	}
	s := p.Stats()
	assert.Equal(t, uint64(5), s.Hits)
	assert.Equal(t, 5, s.Used)
	assert.Equal(t, 0, s.Free)

	r, err := p.Acquire()
	require.NoError(t, err)
	held = append(held, r)
	s = p.Stats()
	assert.Equal(t, uint64(1), s.Misses)
	assert.Equal(t, 6, s.Used)

	for _, h := range held {
		p.Release(h)
		assertStatsInvariant(t, p.Stats(), 20)
	}

	// Releases 1-4 leave utilization at or above 0.3; the last two fall
	// below it (1/5 and 0/4) and are destroyed.
	s = p.Stats()
	assert.Equal(t, int32(2), destroyed.Load())
	assert.Equal(t, uint64(2), s.Destroyed)
	assert.Equal(t, 0, s.Used)
	assert.Equal(t, 4, s.Free)
	assert.Equal(t, s.Free, s.Size)
}

func TestReleaseUntrackedIsIgnored(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	obs := &countingObserver{}
	p, err := NewObjectPool("records", Config[*record]{MaxSize: 4, ShrinkThreshold: 0.5, New: newRecord},
		WithLogger(zap.New(core)), WithObserver(obs))
	require.NoError(t, err)

	p.Release(newRecord())

	r, err := p.Acquire()
	require.NoError(t, err)
	p.Release(r)
	p.Release(r) // double release

	assert.Equal(t, 2, obs.misuse)
	assert.Equal(t, 2, logs.FilterMessage("release of untracked object ignored").Len())
	assertStatsInvariant(t, p.Stats(), 4)
	assert.Equal(t, 1, p.Stats().Size)
}

func TestClear(t *testing.T) {
	var destroyed atomic.Int32
	p := newTestPool(t, Config[*record]{
		InitialSize:     3,
		MaxSize:         10,
		ShrinkThreshold: 0.5,
		Destroy:         func(*record) { destroyed.Add(1) },
	})

	held, err := p.Acquire()
	require.NoError(t, err)

	p.Clear()
	assert.Equal(t, Stats{}, p.Stats())
	assert.Equal(t, int32(2), destroyed.Load())

	// The record held across Clear is no longer tracked.
	p.Release(held)
	assert.Equal(t, Stats{}, p.Stats())
}

func TestConcurrentAcquireRelease(t *testing.T) {
	const maxSize = 32
	p := newTestPool(t, Config[*record]{InitialSize: 8, MaxSize: maxSize, ShrinkThreshold: 0.2})

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 500; i++ {
				r, err := p.Acquire()
				if err != nil {
					continue
				}
				r.Name = "x"
				p.Release(r)
			}
		}()
	}
	wg.Wait()

	s := p.Stats()
	assert.Zero(t, s.Used)
	assertStatsInvariant(t, s, maxSize)
}

func TestInterfacePoolRejectsUnhashableRecords(t *testing.T) {
	_, err := NewObjectPool("slices", Config[any]{
		MaxSize:         4,
		ShrinkThreshold: 0.5,
		New:             func() any { return []int{1} },
	}, WithLogger(zaptest.NewLogger(t)))
	require.Error(t, err)
	assert.True(t, fperrors.IsType(err, fperrors.ErrorTypeValidation))
	assert.Contains(t, err.Error(), "pool records must be hashable")
}

func TestInterfacePoolWithPointerRecords(t *testing.T) {
	var built, destroyed int
	cfg := Config[Resetter]{
		MaxSize:         4,
		ShrinkThreshold: 0.5,
		New: func() Resetter {
			built++
			return newRecord()
		},
		Destroy: func(Resetter) { destroyed++ },
	}

	p, err := NewObjectPool("resetters", cfg, WithLogger(zaptest.NewLogger(t)))
	require.NoError(t, err)
	// the hashability check record is not kept without preallocation
	assert.Equal(t, 1, built)
	assert.Equal(t, 1, destroyed)
	assert.Zero(t, p.Stats().Size)

	cfg.InitialSize = 2
	built, destroyed = 0, 0
	p, err = NewObjectPool("resetters", cfg, WithLogger(zaptest.NewLogger(t)))
	require.NoError(t, err)
	assert.Equal(t, 2, built)
	assert.Zero(t, destroyed)
	assert.Equal(t, 2, p.Stats().Free)

	item, err := p.Acquire()
	require.NoError(t, err)
	item.(*record).Name = "x"
	p.Release(item)
	assert.Empty(t, item.(*record).Name)
}
