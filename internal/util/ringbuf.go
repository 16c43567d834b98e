package util

import "sync"

// RingBuffer is a bounded, ordered buffer. When full, Push drops the oldest
// element. All methods are safe for concurrent use.
type RingBuffer[T any] struct {
	mu    sync.RWMutex
	buf   []T
	head  int
	count int
}

// NewRingBuffer creates a ring buffer holding at most capacity elements; a
// capacity below 1 holds one.
func NewRingBuffer[T any](capacity int) *RingBuffer[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &RingBuffer[T]{buf: make([]T, capacity)}
}

// Push appends an item and reports whether an older one was dropped.
func (r *RingBuffer[T]) Push(item T) (dropped bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.buf[(r.head+r.count)%len(r.buf)] = item
	if r.count == len(r.buf) {
		r.head = (r.head + 1) % len(r.buf)
		return true
	}
	r.count++
	return false
}

// Replace empties the buffer and fills it with items, keeping the newest
// when there are more than fit.
func (r *RingBuffer[T]) Replace(items []T) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var zero T
	for i := range r.buf {
		r.buf[i] = zero
	}
	if len(items) > len(r.buf) {
		items = items[len(items)-len(r.buf):]
	}
	r.head = 0
	r.count = copy(r.buf, items)
}

// Update calls fn on every element in order, oldest first, and stores what
// it returns. It returns how many elements fn changed.
func (r *RingBuffer[T]) Update(fn func(T) (T, bool)) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for i := 0; i < r.count; i++ {
		idx := (r.head + i) % len(r.buf)
		if v, changed := fn(r.buf[idx]); changed {
			r.buf[idx] = v
			n++
		}
	}
	return n
}

// Snapshot returns a copy of all elements in order (oldest first).
func (r *RingBuffer[T]) Snapshot() []T {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]T, r.count)
	for i := 0; i < r.count; i++ {
		out[i] = r.buf[(r.head+i)%len(r.buf)]
	}
	return out
}

// Len returns the number of elements stored.
func (r *RingBuffer[T]) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.count
}

func (r *RingBuffer[T]) Cap() int { return len(r.buf) }
