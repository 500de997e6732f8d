package event

import "sync/atomic"

// cacheLine is the typical x86-64 cache line size used for padding.
const cacheLine = 64

// Ring is a lock-free SPSC ring buffer of Events. The engine is the
// only producer, one observer goroutine the only consumer. Size is a
// power of two for fast bitwise modulo.
type Ring struct {
	buf  []Event
	mask uint64

	// Separate cache lines to prevent false sharing between producer
	// and consumer.
	_pad0 [cacheLine]byte
	head  atomic.Uint64 // written by producer
	_pad1 [cacheLine]byte
	tail  atomic.Uint64 // written by consumer
	_pad2 [cacheLine]byte

	dropped atomic.Uint64
}

// NewRing creates a ring buffer. capacity is rounded up to the next
// power of two; minimum is 2.
func NewRing(capacity int) *Ring {
	n := nextPow2(capacity)
	if n < 2 {
		n = 2
	}
	return &Ring{
		buf:  make([]Event, n),
		mask: uint64(n - 1),
	}
}

// Push appends an event. Returns false when the ring is full; the
// event is dropped and counted, never blocked on.
func (r *Ring) Push(e Event) bool {
	head := r.head.Load()
	tail := r.tail.Load()

	if head-tail >= uint64(len(r.buf)) {
		r.dropped.Add(1)
		return false
	}

	r.buf[head&r.mask] = e
	r.head.Store(head + 1)
	return true
}

// Pop retrieves the next event. Returns false when empty. Non-blocking.
func (r *Ring) Pop() (Event, bool) {
	tail := r.tail.Load()
	head := r.head.Load()

	if tail >= head {
		return Event{}, false
	}

	e := r.buf[tail&r.mask]
	r.tail.Store(tail + 1)
	return e, true
}

// Len returns the current number of buffered events.
func (r *Ring) Len() int {
	return int(r.head.Load() - r.tail.Load())
}

// Cap returns the ring capacity.
func (r *Ring) Cap() int {
	return len(r.buf)
}

// Dropped returns the total events lost to a full ring.
func (r *Ring) Dropped() uint64 {
	return r.dropped.Load()
}

// nextPow2 returns the smallest power of 2 >= n.
func nextPow2(n int) int {
	if n <= 0 {
		return 1
	}
	n--
	n |= n >> 1
	n |= n >> 2
	n |= n >> 4
	n |= n >> 8
	n |= n >> 16
	n |= n >> 32
	return n + 1
}
