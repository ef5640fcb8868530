// Package buffer provides the bounded history rings behind capture tails
// and the log replay window. A ring remembers the newest N entries and
// silently forgets the rest, so a long-lived session never grows its
// history without bound.
package buffer

// Ring keeps the last N values written to it. The zero value is unusable;
// construct with NewRing. Callers serialize access themselves.
type Ring[T any] struct {
	slots []T
	next  int
	full  bool
}

// NewRing allocates a ring holding at most size entries. A non-positive
// size is treated as capacity one.
func NewRing[T any](size int) *Ring[T] {
	if size < 1 {
		size = 1
	}
	return &Ring[T]{slots: make([]T, size)}
}

// Add writes entry, evicting the oldest value once the ring is full.
func (r *Ring[T]) Add(entry T) {
	if r == nil || len(r.slots) == 0 {
		return
	}
	r.slots[r.next] = entry
	r.next++
	if r.next == len(r.slots) {
		r.next = 0
		r.full = true
	}
}

func (r *Ring[T]) Len() int {
	if r == nil {
		return 0
	}
	if r.full {
		return len(r.slots)
	}
	return r.next
}

// List copies the retained entries out, oldest first.
func (r *Ring[T]) List() []T {
	length := r.Len()
	if length == 0 {
		return nil
	}
	out := make([]T, 0, length)
	if r.full {
		out = append(out, r.slots[r.next:]...)
	}
	out = append(out, r.slots[:r.next]...)
	return out
}
