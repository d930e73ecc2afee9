// File: pool/ring.go
// Author: momentics <momentics@gmail.com>
//
// Bounded ring buffer backing the frame free list.
// Enqueue/Dequeue use atomic cursors so a single producer and a single
// consumer may run on different goroutines; the event loop uses it from
// one goroutine only.

package pool

import (
	"sync/atomic"
)

// RingBuffer is a fixed-capacity ring buffer (power-of-two size).
type RingBuffer[T any] struct {
	data []T
	mask uint64
	head uint64
	_    [56]byte
	tail uint64
}

// NewRingBuffer allocates a ring buffer with size (must be power of two).
func NewRingBuffer[T any](size uint64) *RingBuffer[T] {
	if size == 0 || (size&(size-1)) != 0 {
		panic("ring buffer size must be power of two")
	}
	return &RingBuffer[T]{
		data: make([]T, size),
		mask: size - 1,
	}
}

// Enqueue adds an item; returns false if full.
func (r *RingBuffer[T]) Enqueue(val T) bool {
	head := atomic.LoadUint64(&r.head)
	tail := atomic.LoadUint64(&r.tail)
	if tail-head == uint64(len(r.data)) {
		return false
	}
	r.data[tail&r.mask] = val
	atomic.StoreUint64(&r.tail, tail+1)
	return true
}

// Dequeue removes and returns (item, ok); ok==false if empty.
// The vacated slot is zeroed so the ring does not pin released memory.
func (r *RingBuffer[T]) Dequeue() (res T, ok bool) {
	head := atomic.LoadUint64(&r.head)
	tail := atomic.LoadUint64(&r.tail)
	if head == tail {
		return res, false
	}
	idx := head & r.mask
	res = r.data[idx]
	var zero T
	r.data[idx] = zero
	atomic.StoreUint64(&r.head, head+1)
	return res, true
}

// Len returns number of items in the buffer.
func (r *RingBuffer[T]) Len() int {
	return int(atomic.LoadUint64(&r.tail) - atomic.LoadUint64(&r.head))
}

// Cap returns logical buffer capacity.
func (r *RingBuffer[T]) Cap() int {
	return len(r.data)
}

// nextPow2 rounds n up to a power of two (minimum 1).
func nextPow2(n int) uint64 {
	v := uint64(1)
	for v < uint64(n) {
		v <<= 1
	}
	return v
}
