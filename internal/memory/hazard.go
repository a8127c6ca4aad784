package memory

import (
	"sync/atomic"
	"unsafe"
)

// hazardSlot is a single publication slot. Protected holds the address a
// holder is about to dereference; Active flips from 0 to 1 by CAS when a
// slot is claimed and is stored back to 0 on release. The trailing padding keeps neighboring
// slots off the same cache line, matching the slot layout described for
// the domain.
type hazardSlot struct {
	protected unsafe.Pointer
	active    uint32
	_pad      [52]byte
}

type retiredNode struct {
	addr unsafe.Pointer
	free func()
}

// HazardDomain owns a fixed array of cache-line-aligned slots and a
// global retirement queue. It protects the lock-free pool's free list
// (and anything else that hands out raw pointers) from use-after-free
// during concurrent reclamation.
type HazardDomain struct {
	cfg             HazardConfig
	slots           []hazardSlot
	scanCursor      uint64
	globalRetire    *mpmcQueue[retiredNode]
	retireThreshold int
}

const slotsPerOwner = 8

// NewHazardDomain constructs a domain sized for maxThreads concurrent
// owners (maxThreads*8 slots). WithRetirement sets the flag reported by
// RetirementEnabled; it does not change how Protect publishes.
func NewHazardDomain(maxThreads int, opts ...HazardOption) *HazardDomain {
	if maxThreads <= 0 {
		maxThreads = DefaultMaxThreads
	}
	cfg := HazardConfig{MaxThreads: maxThreads}
	for _, opt := range opts {
		opt(&cfg)
	}
	n := cfg.MaxThreads * slotsPerOwner
	return &HazardDomain{
		cfg:             cfg,
		slots:           make([]hazardSlot, n),
		globalRetire:    newMPMCQueue[retiredNode](1024),
		retireThreshold: 256,
	}
}

// RetirementEnabled reports the WithRetirement setting the domain was
// constructed with.
func (d *HazardDomain) RetirementEnabled() bool { return d.cfg.RetirementEnabled }

// HazardHandle is a claimed slot plus the owner's local retirement list.
// It is not safe to share a handle across goroutines; acquire one per
// concurrent operation that needs hazard protection.
type HazardHandle struct {
	domain *HazardDomain
	slot   int
	local  []retiredNode
}

// Acquire claims a free slot, scanning from a rotating cursor so repeated
// callers fan out across the slot array instead of contending on slot 0.
// It returns ErrPoolExhausted if every slot is claimed.
func (d *HazardDomain) Acquire() (*HazardHandle, error) {
	n := len(d.slots)
	start := int(atomic.AddUint64(&d.scanCursor, 1)-1) % n
	for i := 0; i < n; i++ {
		idx := (start + i) % n
		if atomic.CompareAndSwapUint32(&d.slots[idx].active, 0, 1) {
			return &HazardHandle{domain: d, slot: idx}, nil
		}
	}
	return nil, ErrPoolExhausted{}
}

// Protect publishes addr into the handle's slot with an atomic store.
// sync/atomic operations are sequentially consistent under the Go memory
// model, so a subsequent load of the source pointer observes any
// concurrent retire. No separate fence is issued, and the store is the
// same whether or not the domain has retirement enabled.
func (d *HazardDomain) Protect(h *HazardHandle, addr unsafe.Pointer) {
	atomic.StorePointer(&d.slots[h.slot].protected, addr)
}

// ProtectAtomic implements the classic hazard-pointer read protocol:
// load the source, publish, re-load, and loop until the value is stable.
func (d *HazardDomain) ProtectAtomic(h *HazardHandle, src *unsafe.Pointer) unsafe.Pointer {
	for {
		addr := atomic.LoadPointer(src)
		d.Protect(h, addr)
		again := atomic.LoadPointer(src)
		if again == addr {
			return addr
		}
	}
}

// Clear unpublishes the handle's protected address.
func (d *HazardDomain) Clear(h *HazardHandle) {
	atomic.StorePointer(&d.slots[h.slot].protected, nil)
}

// Release clears the handle's slot and returns it to the free pool. Any
// retirement records still local to the handle are flushed to the global
// queue first so they are not lost.
func (d *HazardDomain) Release(h *HazardHandle) {
	d.Clear(h)
	d.flushLocal(h)
	atomic.StoreUint32(&d.slots[h.slot].active, 0)
}

// Retire hands addr to the domain for deferred reclamation via free. It
// is queued on the handle's local list first; once the list reaches half
// the global threshold it migrates to the domain-wide queue and
// TryReclaim runs.
func (d *HazardDomain) Retire(h *HazardHandle, addr unsafe.Pointer, free func()) {
	h.local = append(h.local, retiredNode{addr: addr, free: free})
	if len(h.local) >= d.retireThreshold/2 {
		d.flushLocal(h)
		d.TryReclaim()
	}
}

func (d *HazardDomain) flushLocal(h *HazardHandle) {
	for _, r := range h.local {
		if !d.globalRetire.Enqueue(r) {
			// Global queue momentarily full: run the deallocator inline
			// rather than drop the retirement record.
			r.free()
		}
	}
	h.local = h.local[:0]
}

// TryReclaim snapshots every currently-protected address, then drains the
// global retirement queue: items shadowed by a hazard are re-queued,
// everything else is freed. Worst case is O(retired + hazards); forward
// progress is guaranteed whenever no hazard shadows the retired item.
func (d *HazardDomain) TryReclaim() {
	active := d.snapshotActive()

	pending := d.globalRetire.Len()
	if pending == 0 {
		return
	}

	var requeue []retiredNode
	var item retiredNode
	for i := 0; i < pending; i++ {
		if !d.globalRetire.Dequeue(&item) {
			break
		}
		if active[item.addr] {
			requeue = append(requeue, item)
			continue
		}
		item.free()
	}
	for _, r := range requeue {
		if !d.globalRetire.Enqueue(r) {
			r.free()
		}
	}
}

func (d *HazardDomain) snapshotActive() map[unsafe.Pointer]bool {
	active := make(map[unsafe.Pointer]bool, len(d.slots))
	for i := range d.slots {
		if atomic.LoadUint32(&d.slots[i].active) == 0 {
			continue
		}
		if p := atomic.LoadPointer(&d.slots[i].protected); p != nil {
			active[p] = true
		}
	}
	return active
}
