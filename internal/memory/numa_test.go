package memory

import (
	"errors"
	"testing"
	"unsafe"
)

func TestNumaAllocatorInterleaveParity(t *testing.T) {
	n, err := NewNumaAllocator(NumaConfig{ChunkSize: 4096, Alignment: 64, Policy: NumaInterleave})
	if err != nil {
		t.Fatalf("NewNumaAllocator: %v", err)
	}
	if n.NodeCount() < 2 {
		t.Skip("synthetic topology expected to have at least 2 nodes")
	}

	const total = 1000
	for i := 0; i < total; i++ {
		if _, err := n.Allocate(Layout{Size: 64, Align: 64}); err != nil {
			t.Fatalf("Allocate %d: %v", i, err)
		}
	}

	snap := n.GetStatsSnapshot()
	k := n.NodeCount()
	floor := total / k
	ceil := (total + k - 1) / k
	for _, node := range snap.PerNode {
		count := int(node.Allocated / 4096)
		if count < floor || count > ceil {
			t.Fatalf("node %d got %d allocations, want between %d and %d", node.ID, count, floor, ceil)
		}
	}
}

func TestNumaAllocatorDeallocateRoutesToOrigin(t *testing.T) {
	n, err := NewNumaAllocator(NumaConfig{ChunkSize: 4096, Alignment: 64, Policy: NumaInterleave})
	if err != nil {
		t.Fatalf("NewNumaAllocator: %v", err)
	}
	if n.NodeCount() < 2 {
		t.Skip("need at least 2 nodes")
	}

	r1, err := n.AllocateOnNode(1, Layout{Size: 64, Align: 64})
	if err != nil {
		t.Fatalf("AllocateOnNode(1): %v", err)
	}

	beforeNode0 := n.pools[0].Stats().Snapshot().CurrentAllocated
	beforeNode1 := n.pools[1].Stats().Snapshot().CurrentAllocated

	n.Deallocate(r1, Layout{Size: 64, Align: 64})

	afterNode0 := n.pools[0].Stats().Snapshot().CurrentAllocated
	afterNode1 := n.pools[1].Stats().Snapshot().CurrentAllocated

	if afterNode0 != beforeNode0 {
		t.Fatalf("deallocate touched node 0's pool: %d -> %d", beforeNode0, afterNode0)
	}
	if afterNode1 >= beforeNode1 {
		t.Fatalf("deallocate did not return chunk to origin node 1: %d -> %d", beforeNode1, afterNode1)
	}
}

func TestNumaAllocatorReallocatePreservesBytes(t *testing.T) {
	n, err := NewNumaAllocator(NumaConfig{ChunkSize: 4096, Alignment: 64, Policy: NumaFixedZero})
	if err != nil {
		t.Fatalf("NewNumaAllocator: %v", err)
	}

	oldLayout := Layout{Size: 64, Align: 64}
	region, err := n.Allocate(oldLayout)
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	src := unsafe.Slice((*byte)(region.Ptr), oldLayout.Size)
	for i := range src {
		src[i] = byte(i + 1)
	}

	newLayout := Layout{Size: 256, Align: 64}
	newRegion, err := n.Reallocate(region, oldLayout, newLayout)
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

func TestNumaAllocatorNodeUnavailable(t *testing.T) {
	n, err := NewNumaAllocator(DefaultNumaConfig())
	if err != nil {
		t.Fatalf("NewNumaAllocator: %v", err)
	}
	_, err = n.AllocateOnNode(999, Layout{Size: 64, Align: 64})
	var target ErrNumaNodeUnavailable
	if !errors.As(err, &target) {
		t.Fatalf("error = %v, want ErrNumaNodeUnavailable", err)
	}
	if target.ID != 999 {
		t.Fatalf("ID = %d, want 999", target.ID)
	}
}

func TestNumaAllocatorDistance(t *testing.T) {
	n, err := NewNumaAllocator(DefaultNumaConfig())
	if err != nil {
		t.Fatalf("NewNumaAllocator: %v", err)
	}
	d, ok := n.GetNodeDistance(0, 0)
	if !ok || d != 10 {
		t.Fatalf("self distance = %d, %v, want 10, true", d, ok)
	}
	if n.NodeCount() > 1 {
		d, ok = n.GetNodeDistance(0, 1)
		if !ok || d != 20 {
			t.Fatalf("remote distance = %d, %v, want 20, true", d, ok)
		}
	}
	if _, ok := n.GetNodeDistance(0, 999); ok {
		t.Fatal("expected false for out-of-range node")
	}
}
