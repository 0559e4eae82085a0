package pool

// Resetter is implemented by records that know how to return to a neutral
// state. Records are reset on release, before being recycled or destroyed.
type Resetter interface {
	Reset()
}

// resolveReset picks the reset strategy for T once, at pool construction:
// an explicit function, the Resetter interface, zero-filling pointed-to
// numeric buffers, clearing a pointed-to map, or nothing.
func resolveReset[T any](custom func(T)) func(T) {
	if custom != nil {
		return custom
	}

	var zero T
	switch any(zero).(type) {
	case Resetter:
		return func(v T) {
			if r, ok := any(v).(Resetter); ok {
				r.Reset()
			}
		}
	case *[]byte:
		return func(v T) { zeroFill(any(v).(*[]byte)) }
	case *[]int8:
		return func(v T) { zeroFill(any(v).(*[]int8)) }
	case *[]int16:
		return func(v T) { zeroFill(any(v).(*[]int16)) }
	case *[]uint16:
		return func(v T) { zeroFill(any(v).(*[]uint16)) }
	case *[]int32:
		return func(v T) { zeroFill(any(v).(*[]int32)) }
	case *[]uint32:
		return func(v T) { zeroFill(any(v).(*[]uint32)) }
	case *[]float32:
		return func(v T) { zeroFill(any(v).(*[]float32)) }
	case *[]float64:
		return func(v T) { zeroFill(any(v).(*[]float64)) }
	case *map[string]any:
		return func(v T) {
			if m := any(v).(*map[string]any); m != nil {
				clear(*m)
			}
		}
	case nil:
		// T is an interface type; dispatch on the dynamic value.
		return func(v T) {
			if r, ok := any(v).(Resetter); ok {
				r.Reset()
			}
		}
	}

	return func(T) {}
}

// zeroFill clears a buffer in place; its length never changes.
func zeroFill[E any](p *[]E) {
	if p != nil {
		clear(*p)
	}
}
