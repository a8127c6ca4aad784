package memory

import (
	"sync/atomic"
	"unsafe"
)

// sizeClass is one doubling step of the slab allocator's size sequence,
// each owning an independent, fully pre-allocated free list.
type sizeClass struct {
	size uintptr
	free *mpmcQueue[unsafe.Pointer]
}

// SlabAllocator serves fixed size classes from lock-free free lists
// filled entirely at construction. It never calls the operating system
// allocator again afterward, which is what makes it safe to use on a
// latency-critical path with a bounded worst case.
type SlabAllocator struct {
	cfg     SlabConfig
	classes []sizeClass
	stats   *Stats
}

// NewSlabAllocator builds the size-class sequence (doubling from
// cfg.MinObjectSize to cfg.MaxObjectSize) and pre-allocates
// cfg.PreallocateSlabs blocks onto each class's free list.
func NewSlabAllocator(cfg SlabConfig) (*SlabAllocator, error) {
	if cfg.MinObjectSize == 0 || cfg.MaxObjectSize == 0 {
		return nil, ErrInvalidLayout{Reason: "min/max object size must be non-zero"}
	}
	if !isPowerOfTwo(cfg.MinObjectSize) || !isPowerOfTwo(cfg.MaxObjectSize) {
		return nil, ErrInvalidLayout{Reason: "min/max object size must be powers of two"}
	}
	if cfg.MinObjectSize > cfg.MaxObjectSize {
		return nil, ErrInvalidLayout{Reason: "min_object_size exceeds max_object_size"}
	}
	if cfg.ObjectsPerSlab <= 0 {
		cfg.ObjectsPerSlab = DefaultObjectsPerSlab
	}
	if cfg.PreallocateSlabs <= 0 {
		cfg.PreallocateSlabs = DefaultPreallocSlabs
	}

	var classes []sizeClass
	for size := cfg.MinObjectSize; size <= cfg.MaxObjectSize; size *= 2 {
		entries := cfg.PreallocateSlabs
		q := newMPMCQueue[unsafe.Pointer](uint64(entries))
		for i := 0; i < entries; i++ {
			buf := make([]byte, size)
			q.Enqueue(unsafe.Pointer(&buf[0]))
		}
		classes = append(classes, sizeClass{size: size, free: q})
	}

	return &SlabAllocator{cfg: cfg, classes: classes, stats: NewStats()}, nil
}

// Stats returns the allocator's telemetry instance.
func (s *SlabAllocator) Stats() *Stats { return s.stats }

// classFor returns the index of the smallest class at least as large as
// size, or -1 if size exceeds every class. Both allocate and deallocate
// use this same rule, so a block is always returned to the class it was
// drawn from even though no original-size bookkeeping is kept per block.
func (s *SlabAllocator) classFor(size uintptr) int {
	for i, c := range s.classes {
		if size <= c.size {
			return i
		}
	}
	return -1
}

// Allocate pops a block from the smallest class that fits size. It fails
// with ErrSizeExceeded if size exceeds the largest class, or
// ErrPoolExhausted if that class's free list is empty.
func (s *SlabAllocator) Allocate(layout Layout) (Region, error) {
	start := startTimer()
	idx := s.classFor(layout.Size)
	if idx < 0 {
		s.stats.RecordFailedAllocation()
		return Region{}, ErrSizeExceeded{Size: layout.Size, Max: s.classes[len(s.classes)-1].size}
	}
	if layout.Align > DefaultMaxAlignment {
		s.stats.RecordFailedAllocation()
		return Region{}, ErrAlignmentNotSupported{Required: layout.Align, Supported: DefaultMaxAlignment}
	}

	var ptr unsafe.Pointer
	if !s.classes[idx].free.Dequeue(&ptr) {
		s.stats.RecordFailedAllocation()
		return Region{}, ErrPoolExhausted{}
	}

	class := s.classes[idx].size
	s.stats.RecordAllocation(class, elapsedNanos(start))
	return Region{Ptr: ptr, Size: class, Align: DefaultMaxAlignment}, nil
}

// AllocateZeroed is Allocate with the block's bytes explicitly zeroed
// before it is handed to the caller.
func (s *SlabAllocator) AllocateZeroed(layout Layout) (Region, error) {
	region, err := s.Allocate(layout)
	if err != nil {
		return region, err
	}
	zeroRegion(region)
	return region, nil
}

// Deallocate returns a block to the class selected by the same "first
// class >= requested size" rule used at allocation time.
func (s *SlabAllocator) Deallocate(region Region, layout Layout) {
	idx := s.classFor(layout.Size)
	if idx < 0 {
		return
	}
	s.stats.RecordDeallocation(s.classes[idx].size)
	s.classes[idx].free.Enqueue(region.Ptr)
}

// Reallocate draws a block from the class that fits newLayout, copies the
// overlapping prefix from region, and returns the old block to the class
// selected by oldLayout. The slab never grows a block in place; a
// cross-class move is simply a new allocation plus a copy.
func (s *SlabAllocator) Reallocate(region Region, oldLayout, newLayout Layout) (Region, error) {
	newRegion, err := s.Allocate(newLayout)
	if err != nil {
		return Region{}, err
	}
	copyMin(newRegion.Ptr, region.Ptr, newRegion.Size, oldLayout.Size)
	s.Deallocate(region, oldLayout)
	return newRegion, nil
}

// SupportsAlignment reports whether align is within the allocator's
// single supported alignment ceiling.
func (s *SlabAllocator) SupportsAlignment(align uintptr) bool {
	return isPowerOfTwo(align) && align <= DefaultMaxAlignment
}

// MaxAlignment is always the cache-line default for the slab allocator.
func (s *SlabAllocator) MaxAlignment() uintptr { return DefaultMaxAlignment }

// AvailableMemory sums the free bytes remaining across every class.
func (s *SlabAllocator) AvailableMemory() uintptr {
	var total uintptr
	for _, c := range s.classes {
		total += uintptr(c.free.Len()) * c.size
	}
	return total
}

// TotalMemory sums the fixed capacity of every class, free or in use.
func (s *SlabAllocator) TotalMemory() uintptr {
	var total uintptr
	for _, c := range s.classes {
		total += uintptr(s.cfg.PreallocateSlabs) * c.size
	}
	return total
}

// classCounts reports, per class, how many entries currently sit on its
// free list. Tests use this to verify the slab never drifts from its
// pre-allocated count.
func (s *SlabAllocator) classCounts() []int {
	counts := make([]int, len(s.classes))
	for i, c := range s.classes {
		counts[i] = c.free.Len()
	}
	return counts
}

func zeroRegion(region Region) {
	b := unsafe.Slice((*byte)(region.Ptr), region.Size)
	for i := range b {
		b[i] = 0
	}
}
