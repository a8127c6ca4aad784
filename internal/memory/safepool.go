package memory

import (
	"sync"
	"sync/atomic"
	"unsafe"

	"github.com/vectorlane/memcore/internal/memlog"
)

// Handle is the safe pool's region: a mutex-guarded buffer that exposes
// read/write access to exactly one holder at a time. Unlike Region, a
// Handle never leaks a raw pointer.
type Handle struct {
	buf *guardedBuffer
}

// Bytes returns the handle's underlying buffer. The caller holds
// exclusive access until the handle is released back to the pool.
func (h Handle) Bytes() []byte { return h.buf.data }

type guardedBuffer struct {
	mu   sync.Mutex
	data []byte
}

// SafePool is a pool of owned byte buffers. Its Acquire/Release API
// exposes no raw pointers; its Allocator methods return a Region whose
// Ptr is the buffer's backing array. It grows up to MaxChunks and
// recycles buffers through an MPMC free queue.
type SafePool struct {
	cfg   SafePoolConfig
	free  *mpmcQueue[*guardedBuffer]
	count int64 // total buffers constructed, including in-flight
	stats *Stats

	// issuedMu/issued track which guardedBuffer backs a given address so
	// the Allocator-contract adapter methods (Allocate/Deallocate) can
	// round-trip a Region back to its Handle without exposing the
	// mapping to callers that only ever use Acquire/Release.
	issuedMu sync.Mutex
	issued   map[unsafe.Pointer]*guardedBuffer
}

// NewSafePool constructs a pool pre-filled with cfg.InitialChunks
// zero-initialized buffers. It fails with ErrInvalidLayout if
// cfg.ChunkSize is zero.
func NewSafePool(cfg SafePoolConfig) (*SafePool, error) {
	if cfg.ChunkSize == 0 {
		return nil, ErrInvalidLayout{Reason: "chunk_size must be non-zero"}
	}
	if cfg.MaxChunks <= 0 {
		cfg.MaxChunks = DefaultMaxChunksSafe
	}
	p := &SafePool{
		cfg:    cfg,
		free:   newMPMCQueue[*guardedBuffer](uint64(cfg.MaxChunks)),
		stats:  NewStats(),
		issued: make(map[unsafe.Pointer]*guardedBuffer),
	}
	for i := 0; i < cfg.InitialChunks && i < cfg.MaxChunks; i++ {
		buf := p.newBuffer()
		if !p.free.Enqueue(buf) {
			break
		}
	}
	return p, nil
}

func (p *SafePool) newBuffer() *guardedBuffer {
	atomic.AddInt64(&p.count, 1)
	return &guardedBuffer{data: make([]byte, p.cfg.ChunkSize)}
}

// Stats returns the pool's telemetry instance.
func (p *SafePool) Stats() *Stats { return p.stats }

// Acquire pops a buffer from the free queue, growing the pool if empty
// and under MaxChunks. It fails with ErrPoolExhausted once MaxChunks
// buffers have been constructed.
func (p *SafePool) Acquire() (Handle, error) {
	start := startTimer()
	var buf *guardedBuffer
	if p.free.Dequeue(&buf) {
		p.stats.RecordAllocation(uintptr(p.cfg.ChunkSize), elapsedNanos(start))
		return Handle{buf: buf}, nil
	}

	for {
		n := atomic.LoadInt64(&p.count)
		if n >= int64(p.cfg.MaxChunks) {
			p.stats.RecordFailedAllocation()
			return Handle{}, ErrPoolExhausted{}
		}
		if atomic.CompareAndSwapInt64(&p.count, n, n+1) {
			buf = &guardedBuffer{data: make([]byte, p.cfg.ChunkSize)}
			p.stats.RecordAllocation(uintptr(p.cfg.ChunkSize), elapsedNanos(start))

			if total := n + 1; total == 1000 || total == 5000 || total == 10000 {
				memlog.Debug("safe pool milestone", "chunks", total)
			}
			return Handle{buf: buf}, nil
		}
	}
}

// Release returns h to the pool, optionally zeroing it first per
// ZeroOnDealloc.
func (p *SafePool) Release(h Handle) {
	h.buf.mu.Lock()
	if p.cfg.ZeroOnDealloc {
		for i := range h.buf.data {
			h.buf.data[i] = 0
		}
	}
	h.buf.mu.Unlock()

	p.stats.RecordDeallocation(uintptr(p.cfg.ChunkSize))
	p.free.Enqueue(h.buf)
}

// Lock acquires exclusive access to h's bytes for the duration of fn.
func (h Handle) Lock(fn func(data []byte)) {
	h.buf.mu.Lock()
	defer h.buf.mu.Unlock()
	fn(h.buf.data)
}

// Allocate satisfies the Allocator contract by wrapping Acquire: the
// returned Region's pointer is the guarded buffer's backing array,
// tracked internally so Deallocate can find its way back to the Handle
// without handing that mapping to ordinary Acquire/Release callers.
func (p *SafePool) Allocate(layout Layout) (Region, error) {
	if layout.Size > p.cfg.ChunkSize {
		p.stats.RecordFailedAllocation()
		return Region{}, ErrSizeExceeded{Size: layout.Size, Max: p.cfg.ChunkSize}
	}
	if layout.Align > DefaultAlignment {
		p.stats.RecordFailedAllocation()
		return Region{}, ErrAlignmentNotSupported{Required: layout.Align, Supported: DefaultAlignment}
	}
	h, err := p.Acquire()
	if err != nil {
		return Region{}, err
	}
	ptr := unsafe.Pointer(&h.buf.data[0])
	p.issuedMu.Lock()
	p.issued[ptr] = h.buf
	p.issuedMu.Unlock()
	return Region{Ptr: ptr, Size: p.cfg.ChunkSize, Align: DefaultAlignment}, nil
}

// AllocateZeroed returns a zeroed buffer. Fresh buffers are zero by
// construction and, with ZeroOnDealloc, recycled ones are zeroed on
// release; without ZeroOnDealloc the buffer is zeroed here explicitly.
func (p *SafePool) AllocateZeroed(layout Layout) (Region, error) {
	region, err := p.Allocate(layout)
	if err != nil {
		return region, err
	}
	if !p.cfg.ZeroOnDealloc {
		zeroRegion(region)
	}
	return region, nil
}

// Deallocate looks the region back up to its Handle and releases it.
func (p *SafePool) Deallocate(region Region, layout Layout) {
	p.issuedMu.Lock()
	buf, ok := p.issued[region.Ptr]
	if ok {
		delete(p.issued, region.Ptr)
	}
	p.issuedMu.Unlock()
	if !ok {
		return
	}
	p.Release(Handle{buf: buf})
}

// Reallocate is unsupported: the safe pool only ever hands out
// fixed-size buffers.
func (p *SafePool) Reallocate(region Region, oldLayout, newLayout Layout) (Region, error) {
	return Region{}, ErrUnsupportedOperation{Reason: "safe pool does not support reallocation"}
}

// SupportsAlignment reports whether align fits the default cache-line
// ceiling; the safe pool never hands out raw aligned pointers beyond it.
func (p *SafePool) SupportsAlignment(align uintptr) bool {
	return isPowerOfTwo(align) && align <= DefaultAlignment
}

// MaxAlignment is always the cache-line default for the safe pool.
func (p *SafePool) MaxAlignment() uintptr { return DefaultAlignment }

// AvailableMemory is the free list's current depth in bytes.
func (p *SafePool) AvailableMemory() uintptr {
	return uintptr(p.free.Len()) * p.cfg.ChunkSize
}

// TotalMemory is the pool's configured capacity in bytes.
func (p *SafePool) TotalMemory() uintptr {
	return uintptr(p.cfg.MaxChunks) * p.cfg.ChunkSize
}
