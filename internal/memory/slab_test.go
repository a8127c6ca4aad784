package memory

import (
	"errors"
	"testing"
	"unsafe"
)

func TestSlabAllocatorScenarioS2(t *testing.T) {
	s, err := NewSlabAllocator(SlabConfig{
		MinObjectSize:    64,
		MaxObjectSize:    512,
		ObjectsPerSlab:   8,
		PreallocateSlabs: 2,
	})
	if err != nil {
		t.Fatalf("NewSlabAllocator: %v", err)
	}
	wantSizes := []uintptr{64, 128, 256, 512}
	if len(s.classes) != len(wantSizes) {
		t.Fatalf("got %d classes, want %d", len(s.classes), len(wantSizes))
	}
	for i, c := range s.classes {
		if c.size != wantSizes[i] {
			t.Fatalf("class %d size = %d, want %d", i, c.size, wantSizes[i])
		}
	}

	region, err := s.Allocate(Layout{Size: 100, Align: 64})
	if err != nil {
		t.Fatalf("Allocate(100): %v", err)
	}
	if region.Size != 128 {
		t.Fatalf("allocate(100) resolved to class size %d, want 128", region.Size)
	}

	_, err = s.Allocate(Layout{Size: 1024, Align: 64})
	var target ErrSizeExceeded
	if !errors.As(err, &target) {
		t.Fatalf("error = %v, want ErrSizeExceeded", err)
	}
	if target.Size != 1024 || target.Max != 512 {
		t.Fatalf("ErrSizeExceeded = %+v, want {1024 512}", target)
	}
}

func TestSlabAllocatorClassCountsStable(t *testing.T) {
	s, err := NewSlabAllocator(SlabConfig{
		MinObjectSize:    64,
		MaxObjectSize:    256,
		ObjectsPerSlab:   4,
		PreallocateSlabs: 4,
	})
	if err != nil {
		t.Fatalf("NewSlabAllocator: %v", err)
	}
	initial := s.classCounts()

	var held []Region
	for i := 0; i < 4; i++ {
		r, err := s.Allocate(Layout{Size: 64, Align: 64})
		if err != nil {
			t.Fatalf("Allocate: %v", err)
		}
		held = append(held, r)
	}
	for _, r := range held {
		s.Deallocate(r, Layout{Size: 64, Align: 64})
	}

	final := s.classCounts()
	for i := range initial {
		if initial[i] != final[i] {
			t.Fatalf("class %d count drifted: %d -> %d", i, initial[i], final[i])
		}
	}
}

func TestSlabAllocatorNeverCallsOSAfterConstruction(t *testing.T) {
	s, err := NewSlabAllocator(DefaultSlabConfig())
	if err != nil {
		t.Fatalf("NewSlabAllocator: %v", err)
	}
	totalBefore := s.TotalMemory()
	for i := 0; i < 100; i++ {
		r, err := s.Allocate(Layout{Size: 64, Align: 64})
		if err != nil {
			t.Fatalf("Allocate: %v", err)
		}
		s.Deallocate(r, Layout{Size: 64, Align: 64})
	}
	if s.TotalMemory() != totalBefore {
		t.Fatalf("total capacity changed: %d -> %d", totalBefore, s.TotalMemory())
	}
}

func TestSlabAllocatorReallocatePreservesBytes(t *testing.T) {
	s, err := NewSlabAllocator(SlabConfig{
		MinObjectSize:    64,
		MaxObjectSize:    512,
		ObjectsPerSlab:   4,
		PreallocateSlabs: 4,
	})
	if err != nil {
		t.Fatalf("NewSlabAllocator: %v", err)
	}
	oldLayout := Layout{Size: 64, Align: 64}
	region, err := s.Allocate(oldLayout)
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	src := unsafe.Slice((*byte)(region.Ptr), oldLayout.Size)
	for i := range src {
		src[i] = byte(i + 1)
	}

	newLayout := Layout{Size: 256, Align: 64}
	newRegion, err := s.Reallocate(region, oldLayout, newLayout)
	if err != nil {
		t.Fatalf("Reallocate: %v", err)
	}
	if newRegion.Size != 256 {
		t.Fatalf("reallocated region size = %d, want 256", newRegion.Size)
	}
	dst := unsafe.Slice((*byte)(newRegion.Ptr), oldLayout.Size)
	for i := range dst {
		if dst[i] != byte(i+1) {
			t.Fatalf("byte %d = %d, want %d", i, dst[i], i+1)
		}
	}
}

func TestSlabAllocatorZeroed(t *testing.T) {
	s, err := NewSlabAllocator(DefaultSlabConfig())
	if err != nil {
		t.Fatalf("NewSlabAllocator: %v", err)
	}
	r, err := s.AllocateZeroed(Layout{Size: 64, Align: 64})
	if err != nil {
		t.Fatalf("AllocateZeroed: %v", err)
	}
	b := unsafe.Slice((*byte)(r.Ptr), r.Size)
	for i, v := range b {
		if v != 0 {
			t.Fatalf("byte %d = %d, want 0", i, v)
		}
	}
}
