//go:build unsafe_fast

package memory

// NewBackend constructs an Allocator for kind. Building with
// -tags unsafe_fast makes NewBackend accept the lock-free pool, the slab
// allocator, and the NUMA allocator alongside the safe pool; the types
// themselves are compiled in either build.
func NewBackend(kind BackendKind, cfg BackendConfig) (Allocator, error) {
	switch kind {
	case BackendSafe:
		return NewSafePool(cfg.Safe)
	case BackendLockFree:
		return NewLockFreePool(cfg.LockFree)
	case BackendSlab:
		return NewSlabAllocator(cfg.Slab)
	case BackendNuma:
		return NewNumaAllocator(cfg.Numa)
	default:
		return nil, ErrInvalidLayout{Reason: "unknown backend kind"}
	}
}
