// File: pool/framepool.go
// Author: momentics <momentics@gmail.com>
//
// Bounded free list of byte buffers used to serialize outbound messages.

package pool

// Defaults for the pub/sub frame pool.
const (
	DefaultFramePoolCapacity = 64
	DefaultFrameBufferSize   = 256

	// maxRetainFactor bounds retained buffers to this multiple of bufSize.
	maxRetainFactor = 16
)

// FramePool hands out cleared byte buffers and keeps at most Cap() of them.
// Buffers returned while the pool is full are dropped.
type FramePool struct {
	free    *RingBuffer[[]byte]
	bufSize int
	misses  uint64
	drops   uint64
}

// NewFramePool creates a pool holding up to capacity buffers (rounded up to a
// power of two) whose fresh allocations are pre-sized to bufSize bytes.
func NewFramePool(capacity, bufSize int) *FramePool {
	if capacity <= 0 {
		capacity = DefaultFramePoolCapacity
	}
	if bufSize <= 0 {
		bufSize = DefaultFrameBufferSize
	}
	return &FramePool{
		free:    NewRingBuffer[[]byte](nextPow2(capacity)),
		bufSize: bufSize,
	}
}

// Get returns an empty buffer, reusing a pooled one when available.
func (p *FramePool) Get() []byte {
	if b, ok := p.free.Dequeue(); ok {
		return b
	}
	p.misses++
	return make([]byte, 0, p.bufSize)
}

// Put clears b and keeps it for reuse unless the pool is full or b grew
// past maxRetainFactor times the buffer size.
func (p *FramePool) Put(b []byte) {
	if cap(b) == 0 {
		return
	}
	if cap(b) > maxRetainFactor*p.bufSize {
		p.drops++
		return
	}
	if !p.free.Enqueue(b[:0]) {
		p.drops++
	}
}

// Len returns the number of idle buffers.
func (p *FramePool) Len() int { return p.free.Len() }

// Cap returns the maximum number of idle buffers.
func (p *FramePool) Cap() int { return p.free.Cap() }

// Stats returns allocation misses and dropped returns.
func (p *FramePool) Stats() (misses, drops uint64) { return p.misses, p.drops }
