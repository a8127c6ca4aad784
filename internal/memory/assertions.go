package memory

var (
	_ Allocator = (*SafePool)(nil)
	_ Allocator = (*LockFreePool)(nil)
	_ Allocator = (*SlabAllocator)(nil)
	_ Allocator = (*NumaAllocator)(nil)

	_ error = ErrOutOfMemory{}
	_ error = ErrInvalidLayout{}
	_ error = ErrNumaNodeUnavailable{}
	_ error = ErrSizeExceeded{}
	_ error = ErrPoolExhausted{}
	_ error = ErrAlignmentNotSupported{}
	_ error = ErrAlreadyInitialized{}
	_ error = ErrNotInitialized{}
	_ error = ErrUnsupportedOperation{}
)
