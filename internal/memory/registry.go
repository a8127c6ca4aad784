package memory

import "sync"

// BackendKind selects which allocator implementation Init constructs.
// Which values NewBackend accepts depends on the unsafe_fast build tag:
// see backend_safeonly.go and backend_unsafefast.go.
type BackendKind int

const (
	BackendSafe BackendKind = iota
	BackendLockFree
	BackendSlab
	BackendNuma
)

// BackendConfig bundles every backend's configuration so Init can take a
// single argument regardless of which kind is requested.
type BackendConfig struct {
	Safe     SafePoolConfig
	LockFree PoolConfig
	Slab     SlabConfig
	Numa     NumaConfig
}

// DefaultBackendConfig returns the default configuration for every
// backend kind at once.
func DefaultBackendConfig() BackendConfig {
	return BackendConfig{
		Safe:     DefaultSafePoolConfig(),
		LockFree: DefaultPoolConfig(),
		Slab:     DefaultSlabConfig(),
		Numa:     DefaultNumaConfig(),
	}
}

var (
	registryMu          sync.Mutex
	registryBackend     Allocator
	registryInitialized bool
)

// Init constructs the chosen backend and installs it as the process-wide
// allocator. It is idempotent-on-failure: a failed Init leaves the
// registry uninitialized so a later call can retry, but a call after a
// successful Init always returns ErrAlreadyInitialized — there is no
// lazy re-initialization inside any allocation fast path.
func Init(kind BackendKind, cfg BackendConfig) error {
	registryMu.Lock()
	defer registryMu.Unlock()

	if registryInitialized {
		return ErrAlreadyInitialized{}
	}

	backend, err := NewBackend(kind, cfg)
	if err != nil {
		return err
	}

	registryBackend = backend
	registryInitialized = true
	return nil
}

// Get returns the process-wide allocator, or ErrNotInitialized if Init
// has not yet succeeded.
func Get() (Allocator, error) {
	registryMu.Lock()
	defer registryMu.Unlock()

	if !registryInitialized {
		return nil, ErrNotInitialized{}
	}
	return registryBackend, nil
}

// resetRegistryForTest clears registry state between test cases. It is
// only ever called from this package's own tests.
func resetRegistryForTest() {
	registryMu.Lock()
	defer registryMu.Unlock()
	registryBackend = nil
	registryInitialized = false
}
