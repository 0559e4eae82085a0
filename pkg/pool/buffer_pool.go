package pool

import (
	"fmt"
	"math/bits"
	"slices"
	"sync"

	"go.uber.org/zap"

	fperrors "github.com/ajitpratap0/framepool/pkg/errors"
)

// MinSizeClass is the smallest buffer class in bytes.
const MinSizeClass = 64

// MaxSizeClass is the largest class a request may round up to.
const MaxSizeClass = 1 << 30

// DefaultSizeClasses are created eagerly by NewBufferPool.
var DefaultSizeClasses = []int{64, 256, 1024, 4096, 16384, 65536}

// classConfig sizes every size-class pool. Lazily created classes skip
// pre-allocation so a single large request does not allocate ten slabs.
func classConfig(size int, eager bool) Config[*[]byte] {
	cfg := Config[*[]byte]{
		InitialSize:     10,
		MaxSize:         100,
		GrowthFactor:    1.5,
		ShrinkThreshold: 0.3,
		New: func() *[]byte {
			b := make([]byte, size)
			return &b
		},
	}
	if !eager {
		cfg.InitialSize = 0
	}
	return cfg
}

// ClassName returns the pool name used for a size class, e.g. "buffer-1024".
func ClassName(size int) string {
	return fmt.Sprintf("buffer-%d", size)
}

// NextPowerOfTwo returns the smallest power of two >= n (1 for n <= 1),
// or 0 when that power does not fit in an int.
func NextPowerOfTwo(n int) int {
	if n <= 1 {
		return 1
	}
	shift := bits.Len(uint(n - 1))
	if shift >= bits.UintSize-1 {
		return 0
	}
	return 1 << shift
}

type slab struct {
	buf *[]byte
	sub bool
}

// BufferPool hands out byte slices from power-of-two size classes.
// A request smaller than its class receives a zero-offset sub-view with
// len == cap == n; the pool remembers which slab every outstanding view was
// carved from so Release can return the right one.
type BufferPool struct {
	opts   []Option
	logger *zap.Logger

	mu      sync.Mutex
	classes map[int]*ObjectPool[*[]byte]
	sizes   []int
	views   map[*byte]slab
}

// NewBufferPool creates a buffer pool seeded with DefaultSizeClasses.
func NewBufferPool(opts ...Option) *BufferPool {
	o := applyOptions(opts)
	b := &BufferPool{
		opts:    opts,
		logger:  o.logger.Named("buffers"),
		classes: make(map[int]*ObjectPool[*[]byte], len(DefaultSizeClasses)),
		views:   make(map[*byte]slab),
	}

	for _, size := range DefaultSizeClasses {
		b.addClass(size, true)
	}

	return b
}

// addClass must be called with b.mu held or before b is shared.
func (b *BufferPool) addClass(size int, eager bool) *ObjectPool[*[]byte] {
	// The class config is always valid.
	p, _ := NewObjectPool(ClassName(size), classConfig(size, eager), b.opts...)
	b.classes[size] = p
	i, _ := slices.BinarySearch(b.sizes, size)
	b.sizes = slices.Insert(b.sizes, i, size)
	return p
}

// classFor returns the smallest class >= n, creating one when none fits.
func (b *BufferPool) classFor(n int) (int, *ObjectPool[*[]byte]) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if i, _ := slices.BinarySearch(b.sizes, n); i < len(b.sizes) {
		size := b.sizes[i]
		return size, b.classes[size]
	}

	size := max(NextPowerOfTwo(n), MinSizeClass)
	b.logger.Debug("creating size class", zap.Int("size", size), zap.Int("requested", n))
	return size, b.addClass(size, false)
}

// Acquire returns a slice of exactly n bytes backed by a pooled slab.
// Contents are zeroed. It fails when n < 1, when n exceeds MaxSizeClass
// or when the class is exhausted.
func (b *BufferPool) Acquire(n int) ([]byte, error) {
	if n < 1 {
		return nil, fperrors.New(fperrors.ErrorTypeValidation, "buffer length must be positive").
			WithDetail("size", n)
	}
	if n > MaxSizeClass {
		return nil, fperrors.New(fperrors.ErrorTypeValidation, "buffer length exceeds largest size class").
			WithDetail("size", n).
			WithDetail("max_size", MaxSizeClass)
	}

	size, class := b.classFor(n)
	ptr, err := class.Acquire()
	if err != nil {
		return nil, fperrors.Wrap(err, fperrors.ErrorTypeExhausted, "buffer class exhausted").
			WithDetail("size", size).
			WithDetail("requested", n)
	}

	backing := *ptr
	view := backing
	if n != size {
		view = backing[:n:n]
	}

	b.mu.Lock()
	b.views[&view[0]] = slab{buf: ptr, sub: n != size}
	b.mu.Unlock()

	return view, nil
}

// Release returns a slice obtained from Acquire. Slices this pool never
// issued, or that were already released, are logged and dropped.
func (b *BufferPool) Release(view []byte) {
	if cap(view) == 0 {
		b.logger.Warn("release of empty buffer ignored")
		return
	}
	key := &view[:1][0]

	b.mu.Lock()
	s, tracked := b.views[key]
	if tracked {
		delete(b.views, key)
	}
	var (
		class *ObjectPool[*[]byte]
		ok    bool
		ptr   *[]byte
	)
	if tracked {
		ptr = s.buf
		class, ok = b.classes[len(*ptr)]
	} else {
		ptr = &view
		class, ok = b.classes[len(view)]
	}
	b.mu.Unlock()

	if !ok {
		b.logger.Warn("no size class for released buffer", zap.Int("size", len(*ptr)))
		return
	}
	// An untracked pointer is rejected by the class pool as misuse.
	class.Release(ptr)
}

// GetAllStats returns statistics per size class.
func (b *BufferPool) GetAllStats() map[int]Stats {
	b.mu.Lock()
	classes := make(map[int]*ObjectPool[*[]byte], len(b.classes))
	for size, p := range b.classes {
		classes[size] = p
	}
	b.mu.Unlock()

	out := make(map[int]Stats, len(classes))
	for size, p := range classes {
		out[size] = p.Stats()
	}
	return out
}

// Classes returns the size classes in ascending order.
func (b *BufferPool) Classes() []int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return slices.Clone(b.sizes)
}

// Outstanding returns the number of views issued and not yet released.
func (b *BufferPool) Outstanding() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.views)
}

// Clear clears every size class and forgets outstanding views.
// Size classes themselves are kept.
func (b *BufferPool) Clear() {
	b.mu.Lock()
	classes := make([]*ObjectPool[*[]byte], 0, len(b.classes))
	for _, p := range b.classes {
		classes = append(classes, p)
	}
	clear(b.views)
	b.mu.Unlock()

	for _, p := range classes {
		p.Clear()
	}
}
