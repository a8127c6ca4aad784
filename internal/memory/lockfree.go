package memory

import (
	"sync"
	"sync/atomic"
	"unsafe"

	"github.com/vectorlane/memcore/internal/memlog"
)

// chunkRecord is one entry in a LockFreePool's free list: an address with
// a fixed size and a generation tag that increments every time the
// address is re-issued.
type chunkRecord struct {
	addr       unsafe.Pointer
	size       uintptr
	generation uint64
}

// LockFreePool is a fixed-stride chunk recycler built on an MPMC
// lock-free queue. Chunks are OS-allocated on demand up to MaxChunks and
// never returned to the OS until the pool is torn down.
type LockFreePool struct {
	cfg    PoolConfig
	free   *mpmcQueue[chunkRecord]
	count  int64
	hazard *HazardDomain
	stats  *Stats

	mu   sync.Mutex
	live map[unsafe.Pointer]*uint64 // addr -> pointer to its generation counter
}

// NewLockFreePool constructs a pool pre-filled with cfg.InitialChunks
// chunks of cfg.ChunkSize bytes. Its hazard domain is constructed with
// retirement disabled: steady-state recycling never retires. Only Close
// retires, and it does so through a separate retirement-enabled domain
// of its own.
func NewLockFreePool(cfg PoolConfig) (*LockFreePool, error) {
	if cfg.ChunkSize == 0 {
		return nil, ErrInvalidLayout{Reason: "chunk_size must be non-zero"}
	}
	if !isPowerOfTwo(cfg.ChunkSize) && cfg.ChunkSize < 64 {
		return nil, ErrInvalidLayout{Reason: "chunk_size must be a power of two or at least the cache line size"}
	}
	if cfg.MaxChunks <= 0 {
		cfg.MaxChunks = DefaultMaxChunksFast
	}
	if cfg.Alignment == 0 {
		cfg.Alignment = DefaultAlignment
	}

	p := &LockFreePool{
		cfg:    cfg,
		free:   newMPMCQueue[chunkRecord](uint64(cfg.MaxChunks)),
		hazard: NewHazardDomain(DefaultMaxThreads, WithRetirement(false)),
		stats:  NewStats(),
		live:   make(map[unsafe.Pointer]*uint64),
	}
	for i := 0; i < cfg.InitialChunks && i < cfg.MaxChunks; i++ {
		rec := p.newChunk()
		if !p.free.Enqueue(rec) {
			break
		}
	}
	return p, nil
}

func (p *LockFreePool) newChunk() chunkRecord {
	atomic.AddInt64(&p.count, 1)
	buf := make([]byte, p.cfg.ChunkSize)
	addr := unsafe.Pointer(&buf[0])
	gen := new(uint64)
	p.registerLive(addr, gen)
	return chunkRecord{addr: addr, size: p.cfg.ChunkSize, generation: atomic.LoadUint64(gen)}
}

// Stats returns the pool's telemetry instance.
func (p *LockFreePool) Stats() *Stats { return p.stats }

// AllocateChunk pops a free chunk (growing the pool if the free list is
// empty), publishes the chunk's address into a hazard slot of the pool's
// domain, and releases that slot again before returning ownership to the
// caller. The publication is the same atomic store whether or not the
// domain has retirement enabled.
func (p *LockFreePool) AllocateChunk(layout Layout) (Region, error) {
	if layout.Size > p.cfg.ChunkSize {
		p.stats.RecordFailedAllocation()
		return Region{}, ErrSizeExceeded{Size: layout.Size, Max: p.cfg.ChunkSize}
	}
	if layout.Align > p.cfg.Alignment {
		p.stats.RecordFailedAllocation()
		return Region{}, ErrAlignmentNotSupported{Required: layout.Align, Supported: p.cfg.Alignment}
	}

	start := startTimer()

	var rec chunkRecord
	if !p.free.Dequeue(&rec) {
		if grown, ok := p.grow(); ok {
			rec = grown
		} else {
			p.stats.RecordFailedAllocation()
			return Region{}, ErrPoolExhausted{}
		}
	}

	h, err := p.hazard.Acquire()
	if err == nil {
		p.hazard.Protect(h, rec.addr)
		p.hazard.Release(h)
	}

	p.stats.RecordAllocation(rec.size, elapsedNanos(start))
	return Region{Ptr: rec.addr, Size: rec.size, Align: p.cfg.Alignment}, nil
}

func (p *LockFreePool) grow() (chunkRecord, bool) {
	for {
		n := atomic.LoadInt64(&p.count)
		if n >= int64(p.cfg.MaxChunks) {
			return chunkRecord{}, false
		}
		if atomic.CompareAndSwapInt64(&p.count, n, n+1) {
			buf := make([]byte, p.cfg.ChunkSize)
			addr := unsafe.Pointer(&buf[0])
			gen := new(uint64)
			p.registerLive(addr, gen)

			switch total := n + 1; {
			case memlog.Milestone(10000, uint64(total), "lock-free pool grew", "chunks", total):
			case memlog.Milestone(1000, uint64(total), "lock-free pool grew", "chunks", total):
			}
			return chunkRecord{addr: addr, size: p.cfg.ChunkSize, generation: atomic.LoadUint64(gen)}, true
		}
	}
}

// Deallocate returns a chunk to the free list, incrementing its
// generation so the next issue of this address is observably distinct.
func (p *LockFreePool) Deallocate(region Region, layout Layout) {
	p.stats.RecordDeallocation(region.Size)
	gen := p.generationFor(region.Ptr)
	next := atomic.AddUint64(gen, 1)
	p.free.Enqueue(chunkRecord{addr: region.Ptr, size: region.Size, generation: next})
}

// Close drains every free chunk and frees it. Unlike steady-state
// recycling this path does retire: it acquires a hazard, protects the
// address, retires it through the domain, and only considers the chunk
// gone once TryReclaim ran with no shadowing protector.
func (p *LockFreePool) Close() {
	retiring := NewHazardDomain(1, WithRetirement(true))
	h, _ := retiring.Acquire()

	var rec chunkRecord
	for p.free.Dequeue(&rec) {
		addr := rec.addr
		retiring.Protect(h, addr)
		retiring.Retire(h, addr, func() { p.forgetLive(addr) })
	}
	// Releasing the handle clears its protection and flushes its local
	// retirement list, so the final TryReclaim sees every retired chunk.
	retiring.Release(h)
	retiring.TryReclaim()
}

func (p *LockFreePool) registerLive(addr unsafe.Pointer, gen *uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.live[addr] = gen
}

func (p *LockFreePool) forgetLive(addr unsafe.Pointer) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.live, addr)
}

func (p *LockFreePool) generationFor(addr unsafe.Pointer) *uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.live[addr]
}

// Allocate satisfies the Allocator contract; it is AllocateChunk under
// the uniform name every backend shares.
func (p *LockFreePool) Allocate(layout Layout) (Region, error) {
	return p.AllocateChunk(layout)
}

// AllocateZeroed is Allocate with the returned bytes explicitly zeroed.
func (p *LockFreePool) AllocateZeroed(layout Layout) (Region, error) {
	region, err := p.AllocateChunk(layout)
	if err != nil {
		return region, err
	}
	zeroRegion(region)
	return region, nil
}

// Reallocate allocates a new chunk sized for newLayout, copies the
// overlapping prefix from region, and returns the old chunk to the free
// list. newLayout.Size still has to fit within the pool's fixed chunk
// size, exactly as any other Allocate call.
func (p *LockFreePool) Reallocate(region Region, oldLayout, newLayout Layout) (Region, error) {
	newRegion, err := p.AllocateChunk(newLayout)
	if err != nil {
		return Region{}, err
	}
	copyMin(newRegion.Ptr, region.Ptr, newRegion.Size, oldLayout.Size)
	p.Deallocate(region, oldLayout)
	return newRegion, nil
}

// SupportsAlignment reports whether align fits the pool's configured
// alignment.
func (p *LockFreePool) SupportsAlignment(align uintptr) bool {
	return isPowerOfTwo(align) && align <= p.cfg.Alignment
}

// MaxAlignment is the pool's configured alignment ceiling.
func (p *LockFreePool) MaxAlignment() uintptr { return p.cfg.Alignment }

// AvailableMemory is the free list's current depth in bytes.
func (p *LockFreePool) AvailableMemory() uintptr {
	return uintptr(p.free.Len()) * p.cfg.ChunkSize
}

// TotalMemory is the pool's configured capacity in bytes.
func (p *LockFreePool) TotalMemory() uintptr {
	return uintptr(p.cfg.MaxChunks) * p.cfg.ChunkSize
}
