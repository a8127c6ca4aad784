package memory

import (
	"errors"
	"testing"
)

func TestSafePoolScenarioS1(t *testing.T) {
	p, err := NewSafePool(SafePoolConfig{
		ChunkSize:     4096,
		InitialChunks: 4,
		MaxChunks:     4,
		ZeroOnDealloc: true,
	})
	if err != nil {
		t.Fatalf("NewSafePool: %v", err)
	}

	var handles []Handle
	for i := 0; i < 4; i++ {
		h, err := p.Acquire()
		if err != nil {
			t.Fatalf("Acquire %d: %v", i, err)
		}
		handles = append(handles, h)
	}

	if _, err := p.Acquire(); !errors.As(err, &ErrPoolExhausted{}) {
		t.Fatalf("fifth Acquire error = %v, want ErrPoolExhausted", err)
	}

	p.Release(handles[0])
	if _, err := p.Acquire(); err != nil {
		t.Fatalf("Acquire after release: %v", err)
	}

	for _, h := range handles[1:] {
		p.Release(h)
	}
	// Re-acquire one released buffer and confirm its leading byte is zero
	// after the zero_on_dealloc release.
	h, err := p.Acquire()
	if err != nil {
		t.Fatalf("final Acquire: %v", err)
	}
	h.Lock(func(data []byte) {
		if data[0] != 0 {
			t.Fatalf("first byte = %d, want 0 after zero_on_dealloc release", data[0])
		}
	})
}

func TestSafePoolInvalidChunkSize(t *testing.T) {
	if _, err := NewSafePool(SafePoolConfig{ChunkSize: 0}); err == nil {
		t.Fatal("expected error for zero chunk size")
	}
}

func TestSafePoolLiveBytesReturnsToZero(t *testing.T) {
	p, err := NewSafePool(DefaultSafePoolConfig())
	if err != nil {
		t.Fatalf("NewSafePool: %v", err)
	}
	for i := 0; i < 50; i++ {
		h, err := p.Acquire()
		if err != nil {
			t.Fatalf("Acquire: %v", err)
		}
		p.Release(h)
	}
	snap := p.Stats().Snapshot()
	if snap.CurrentAllocated != 0 {
		t.Fatalf("live bytes = %d, want 0", snap.CurrentAllocated)
	}
}
