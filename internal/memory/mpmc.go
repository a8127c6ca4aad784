package memory

import (
	"runtime"
	"sync/atomic"
)

// mpmcQueue is a bounded multi-producer multi-consumer lock-free ring
// buffer based on Dmitry Vyukov's algorithm: each slot carries its own
// sequence number so producers and consumers can race on distinct slots
// without a single shared head/tail lock.
type mpmcQueue[T any] struct {
	_pad0   [64]byte
	mask    uint64
	_pad1   [64]byte
	enqueue uint64
	_pad2   [64]byte
	dequeue uint64
	_pad3   [64]byte
	cells   []mpmcCell[T]
}

type mpmcCell[T any] struct {
	seq  uint64
	_pad [56]byte
	val  T
}

// newMPMCQueue creates a queue with room for at least capacity elements,
// rounded up to the next power of two.
func newMPMCQueue[T any](capacity uint64) *mpmcQueue[T] {
	if capacity < 2 {
		capacity = 2
	}
	capPow2 := uint64(1)
	for capPow2 < capacity {
		capPow2 <<= 1
	}
	q := &mpmcQueue[T]{
		mask:  capPow2 - 1,
		cells: make([]mpmcCell[T], capPow2),
	}
	for i := range q.cells {
		q.cells[i].seq = uint64(i)
	}
	return q
}

// Enqueue pushes v, returning false if the queue is full.
func (q *mpmcQueue[T]) Enqueue(v T) bool {
	for {
		pos := atomic.LoadUint64(&q.enqueue)
		c := &q.cells[pos&q.mask]
		seq := atomic.LoadUint64(&c.seq)
		dif := int64(seq) - int64(pos)
		switch {
		case dif == 0:
			if atomic.CompareAndSwapUint64(&q.enqueue, pos, pos+1) {
				c.val = v
				atomic.StoreUint64(&c.seq, pos+1)
				return true
			}
		case dif < 0:
			return false
		default:
			runtime.Gosched()
		}
	}
}

// Dequeue pops into out, returning false if the queue is empty.
func (q *mpmcQueue[T]) Dequeue(out *T) bool {
	for {
		pos := atomic.LoadUint64(&q.dequeue)
		c := &q.cells[pos&q.mask]
		seq := atomic.LoadUint64(&c.seq)
		dif := int64(seq) - int64(pos+1)
		switch {
		case dif == 0:
			if atomic.CompareAndSwapUint64(&q.dequeue, pos, pos+1) {
				*out = c.val
				var zero T
				c.val = zero
				atomic.StoreUint64(&c.seq, pos+q.mask+1)
				return true
			}
		case dif < 0:
			return false
		default:
			runtime.Gosched()
		}
	}
}

// Len is an approximate count; it can race with concurrent producers and
// consumers and is intended only for telemetry and tests.
func (q *mpmcQueue[T]) Len() int {
	enq := atomic.LoadUint64(&q.enqueue)
	deq := atomic.LoadUint64(&q.dequeue)
	if enq < deq {
		return 0
	}
	return int(enq - deq)
}

// Cap is the queue's fixed capacity.
func (q *mpmcQueue[T]) Cap() int {
	return int(q.mask + 1)
}
