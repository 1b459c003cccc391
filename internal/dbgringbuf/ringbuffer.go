package dbgringbuf

import (
	"sync"
	"time"
)

// RingBuffer is a fixed-size collection of recent items.
type RingBuffer[T any] struct {
	mtx sync.Mutex
	buf []T // fully allocated at construction
	cur int // index for next write
	len int // count of actual values
}

// NewRingBuffer returns an empty ring buffer of items, pre-allocated with the
// given capacity.
func NewRingBuffer[T any](cap int) *RingBuffer[T] {
	if cap < 0 {
		cap = 0
	}
	return &RingBuffer[T]{
		buf: make([]T, cap),
	}
}

// Add the value to the ring buffer. If the ring buffer was full and an item was
// overwritten by this add, return that item and true, otherwise return a zero
// value item and false.
func (rb *RingBuffer[T]) Add(val T) (dropped T, ok bool) {
	rb.mtx.Lock()
	defer rb.mtx.Unlock()

	if len(rb.buf) <= 0 {
		return val, true
	}

	if rb.len >= len(rb.buf) {
		dropped, ok = rb.buf[rb.cur], true
	}

	rb.buf[rb.cur] = val

	if rb.len < len(rb.buf) {
		rb.len += 1
	}

	rb.cur += 1
	if rb.cur >= len(rb.buf) {
		rb.cur -= len(rb.buf)
	}

	return dropped, ok
}

// Snapshot returns a copy of the values in the ring buffer, oldest first.
func (rb *RingBuffer[T]) Snapshot() []T {
	rb.mtx.Lock()
	defer rb.mtx.Unlock()

	vals := make([]T, rb.len)
	for i := 0; i < rb.len; i++ {
		cur := rb.cur - rb.len + i
		if cur < 0 {
			cur += len(rb.buf)
		}
		vals[i] = rb.buf[cur]
	}
	return vals
}

//
//
//

// RingBuffers collects individual ring buffers by string key. Each buffer
// remembers when it was last written, so idle buffers can be pruned.
type RingBuffers[T any] struct {
	mtx  sync.Mutex
	cap  int
	bufs map[string]*keyedBuffer[T]
}

type keyedBuffer[T any] struct {
	rb      *RingBuffer[T]
	touched time.Time
}

// NewRingBuffers returns an empty set of ring buffers, each of which will have
// a maximum capacity of the given cap.
func NewRingBuffers[T any](cap int) *RingBuffers[T] {
	return &RingBuffers[T]{
		cap:  cap,
		bufs: map[string]*keyedBuffer[T]{},
	}
}

// Add the value to the ring buffer for key, creating it if necessary.
func (rbs *RingBuffers[T]) Add(key string, val T, now time.Time) {
	rbs.mtx.Lock()
	kb, ok := rbs.bufs[key]
	if !ok {
		kb = &keyedBuffer[T]{rb: NewRingBuffer[T](rbs.cap)}
		rbs.bufs[key] = kb
	}
	kb.touched = now
	rbs.mtx.Unlock()

	kb.rb.Add(val)
}

// Get returns the ring buffer for key, and the last time it was written.
func (rbs *RingBuffers[T]) Get(key string) (*RingBuffer[T], time.Time, bool) {
	rbs.mtx.Lock()
	defer rbs.mtx.Unlock()

	kb, ok := rbs.bufs[key]
	if !ok {
		return nil, time.Time{}, false
	}
	return kb.rb, kb.touched, true
}

// Delete the ring buffer for key.
func (rbs *RingBuffers[T]) Delete(key string) {
	rbs.mtx.Lock()
	defer rbs.mtx.Unlock()

	delete(rbs.bufs, key)
}

// Prune deletes every ring buffer last written before the cutoff, and returns
// how many were deleted.
func (rbs *RingBuffers[T]) Prune(cutoff time.Time) int {
	rbs.mtx.Lock()
	defer rbs.mtx.Unlock()

	var n int
	for key, kb := range rbs.bufs {
		if kb.touched.Before(cutoff) {
			delete(rbs.bufs, key)
			n++
		}
	}
	return n
}

// Len returns the number of ring buffers in the set.
func (rbs *RingBuffers[T]) Len() int {
	rbs.mtx.Lock()
	defer rbs.mtx.Unlock()

	return len(rbs.bufs)
}
