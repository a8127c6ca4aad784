package memory

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"unsafe"
)

func TestLockFreePoolSizeExceeded(t *testing.T) {
	p, err := NewLockFreePool(PoolConfig{ChunkSize: 4096, InitialChunks: 1, MaxChunks: 1, Alignment: 64})
	if err != nil {
		t.Fatalf("NewLockFreePool: %v", err)
	}
	_, err = p.AllocateChunk(Layout{Size: 8192, Align: 64})
	var target ErrSizeExceeded
	if !errors.As(err, &target) {
		t.Fatalf("error = %v, want ErrSizeExceeded", err)
	}
	if target.Max != 4096 {
		t.Fatalf("max = %d, want 4096", target.Max)
	}
}

func TestLockFreePoolAlignmentNotSupported(t *testing.T) {
	p, err := NewLockFreePool(DefaultPoolConfig())
	if err != nil {
		t.Fatalf("NewLockFreePool: %v", err)
	}
	_, err = p.AllocateChunk(Layout{Size: 64, Align: 128})
	var target ErrAlignmentNotSupported
	if !errors.As(err, &target) {
		t.Fatalf("error = %v, want ErrAlignmentNotSupported", err)
	}
}

func TestLockFreePoolConcurrentCycles(t *testing.T) {
	const goroutines = 16
	const perGoroutine = 2000

	p, err := NewLockFreePool(PoolConfig{ChunkSize: 4096, InitialChunks: 8, MaxChunks: 64, Alignment: 64})
	if err != nil {
		t.Fatalf("NewLockFreePool: %v", err)
	}

	var wg sync.WaitGroup
	wg.Add(goroutines)
	for i := 0; i < goroutines; i++ {
		go func() {
			defer wg.Done()
			for j := 0; j < perGoroutine; j++ {
				region, err := p.AllocateChunk(Layout{Size: 4096, Align: 64})
				if err != nil {
					t.Errorf("AllocateChunk: %v", err)
					return
				}
				b := (*byte)(region.Ptr)
				*b = byte(j)
				if *b != byte(j) {
					t.Errorf("use-after-free or corruption detected")
					return
				}
				p.Deallocate(region, Layout{Size: 4096, Align: 64})
			}
		}()
	}
	wg.Wait()

	snap := p.Stats().Snapshot()
	if snap.CurrentAllocated != 0 {
		t.Fatalf("live bytes = %d, want 0", snap.CurrentAllocated)
	}
	if snap.TotalAllocations != uint64(goroutines*perGoroutine) {
		t.Fatalf("total allocations = %d, want %d", snap.TotalAllocations, goroutines*perGoroutine)
	}
}

func TestLockFreePoolGenerationIncreases(t *testing.T) {
	p, err := NewLockFreePool(PoolConfig{ChunkSize: 4096, InitialChunks: 1, MaxChunks: 1, Alignment: 64})
	if err != nil {
		t.Fatalf("NewLockFreePool: %v", err)
	}
	region, err := p.AllocateChunk(Layout{Size: 64, Align: 64})
	if err != nil {
		t.Fatalf("AllocateChunk: %v", err)
	}
	gen1 := atomic.LoadUint64(p.generationFor(region.Ptr))
	p.Deallocate(region, Layout{Size: 64, Align: 64})

	region2, err := p.AllocateChunk(Layout{Size: 64, Align: 64})
	if err != nil {
		t.Fatalf("AllocateChunk 2: %v", err)
	}
	gen2 := atomic.LoadUint64(p.generationFor(region2.Ptr))
	if gen2 <= gen1 {
		t.Fatalf("generation did not increase: %d -> %d", gen1, gen2)
	}
}

func TestLockFreePoolReallocatePreservesBytes(t *testing.T) {
	p, err := NewLockFreePool(PoolConfig{ChunkSize: 4096, InitialChunks: 2, MaxChunks: 2, Alignment: 64})
	if err != nil {
		t.Fatalf("NewLockFreePool: %v", err)
	}
	oldLayout := Layout{Size: 32, Align: 64}
	region, err := p.AllocateChunk(oldLayout)
	if err != nil {
		t.Fatalf("AllocateChunk: %v", err)
	}
	src := unsafe.Slice((*byte)(region.Ptr), oldLayout.Size)
	for i := range src {
		src[i] = byte(i + 1)
	}

	newLayout := Layout{Size: 128, Align: 64}
	newRegion, err := p.Reallocate(region, oldLayout, newLayout)
	if err != nil {
		t.Fatalf("Reallocate: %v", err)
	}
	dst := unsafe.Slice((*byte)(newRegion.Ptr), oldLayout.Size)
	for i := range dst {
		if dst[i] != byte(i+1) {
			t.Fatalf("byte %d = %d, want %d", i, dst[i], i+1)
		}
	}
}

func TestLockFreePoolCloseFreesAll(t *testing.T) {
	p, err := NewLockFreePool(PoolConfig{ChunkSize: 4096, InitialChunks: 4, MaxChunks: 4, Alignment: 64})
	if err != nil {
		t.Fatalf("NewLockFreePool: %v", err)
	}
	p.Close()
	if len(p.live) != 0 {
		t.Fatalf("live registry has %d entries after Close, want 0", len(p.live))
	}
}
