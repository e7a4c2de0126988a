// Package ringbuf implements a bounded single-producer/single-consumer
// ring channel. It is wait-free on both sides in the absence of
// contention: no CAS loops, just an acquire/release handshake per slot.
// No example in the retrieved corpus supplies a lock-free ring; this is
// built directly on sync/atomic because the concern here is the memory
// model itself, which no higher-level library abstracts without
// reintroducing the mutex this type exists to avoid.
package ringbuf

import "sync/atomic"

// cacheLinePad is sized to push the producer and consumer indices onto
// distinct cache lines so that reading one does not pull the other's
// line into the core and falsely contend with a concurrent writer.
type cacheLinePad [64 - 8]byte

// slot holds one element of the ring plus the sequence number that
// arbitrates ownership between producer and consumer.
type slot[T any] struct {
	seq     atomic.Uint64
	storage T
}

// Ring is a bounded SPSC channel of capacity N, which must be a power of
// two (New panics otherwise). Exactly one goroutine may call TryPush; exactly
// one goroutine may call TryPop. Using it from more than one producer or
// consumer goroutine is undefined.
type Ring[T any] struct {
	mask  uint64
	slots []slot[T]

	_ cacheLinePad
	// head/tail tracked by the producer and consumer of the underlying
	// absolute sequence number, NOT an index into slots (that is
	// `sequence & mask`). This lets the slot re-arm for the next lap by
	// storing `h+N` rather than wrapping arithmetic on every pop.
	producerSeq atomic.Uint64
	_           cacheLinePad
	consumerSeq atomic.Uint64
	_           cacheLinePad
}

// New creates a Ring of capacity capacity, which must be a power of two.
// A non-power-of-two capacity is a programmer error and panics rather
// than silently rounding, so misconfiguration fails at construction time
// instead of producing subtly wrong wraparound behavior.
func New[T any](capacity int) *Ring[T] {
	if capacity <= 0 || capacity&(capacity-1) != 0 {
		panic("ringbuf: capacity must be a power of two")
	}
	r := &Ring[T]{
		mask:  uint64(capacity - 1),
		slots: make([]slot[T], capacity),
	}
	for i := range r.slots {
		r.slots[i].seq.Store(uint64(i))
	}
	return r
}

// Capacity returns the ring's fixed capacity.
func (r *Ring[T]) Capacity() int { return len(r.slots) }

// TryPush attempts to enqueue value. It returns false immediately if the
// ring is full; callers must not block on a false return (drop and log
// is the expected response, per the engine's back-pressure policy).
func (r *Ring[T]) TryPush(value T) bool {
	t := r.producerSeq.Load()
	s := &r.slots[t&r.mask]
	if s.seq.Load() != t {
		return false
	}
	s.storage = value
	s.seq.Store(t + 1)
	r.producerSeq.Store(t + 1)
	return true
}

// TryPop attempts to dequeue the next value in FIFO order. ok is false
// immediately if the ring is empty.
func (r *Ring[T]) TryPop() (value T, ok bool) {
	h := r.consumerSeq.Load()
	s := &r.slots[h&r.mask]
	if s.seq.Load() != h+1 {
		return value, false
	}
	value = s.storage
	var zero T
	s.storage = zero
	s.seq.Store(h + uint64(len(r.slots)))
	r.consumerSeq.Store(h + 1)
	return value, true
}

// SizeApprox returns an advisory count of queued elements. The value may
// be stale under concurrent mutation and must never be used for
// correctness decisions — only for metrics/logging.
func (r *Ring[T]) SizeApprox() int {
	p := r.producerSeq.Load()
	c := r.consumerSeq.Load()
	if p < c {
		return 0
	}
	return int(p - c)
}
