// Package memconfig loads, validates, and hot-reloads the configuration
// that selects and sizes a memcore backend. None of this touches the
// allocator fast path: the hot path only ever reads the memory.BackendConfig
// values this package produces at startup or on a watched reload.
package memconfig

import (
	"fmt"

	"github.com/BurntSushi/toml"
	"github.com/Masterminds/semver/v3"

	"github.com/vectorlane/memcore/internal/memory"
)

// CompatibleEngineVersions is the range of schema versions this build of
// memcore understands. A config file stamped with an incompatible
// engine_version is rejected at load time instead of silently
// misinterpreted.
const CompatibleEngineVersions = ">=1.0.0, <2.0.0"

// SlabSection mirrors memory.SlabConfig for TOML decoding.
type SlabSection struct {
	MinObjectSize    uint64 `toml:"min_object_size"`
	MaxObjectSize    uint64 `toml:"max_object_size"`
	ObjectsPerSlab   int    `toml:"objects_per_slab"`
	PreallocateSlabs int    `toml:"preallocate_slabs"`
	CacheAlign       bool   `toml:"cache_align"`
}

// NumaSection mirrors memory.NumaConfig for TOML decoding.
type NumaSection struct {
	Policy string `toml:"policy"` // "interleave" | "local-preference" | "fixed-zero"
}

// Config is the on-disk schema for selecting and sizing a memcore
// backend.
type Config struct {
	EngineVersion string `toml:"engine_version"`
	Backend       string `toml:"backend"` // "safe" | "lockfree" | "slab" | "numa"
	ChunkSize     uint64 `toml:"chunk_size"`
	InitialChunks int    `toml:"initial_chunks"`
	MaxChunks     int    `toml:"max_chunks"`
	Alignment     uint64 `toml:"alignment"`
	ZeroOnDealloc bool   `toml:"zero_on_dealloc"`
	Slab          SlabSection `toml:"slab"`
	Numa          NumaSection `toml:"numa"`
}

// Default returns the default configuration, stamped with the current
// engine version, targeting the safe backend.
func Default() Config {
	return Config{
		EngineVersion: "1.0.0",
		Backend:       "safe",
		ChunkSize:     memory.DefaultChunkSize,
		InitialChunks: memory.DefaultInitialChunks,
		MaxChunks:     memory.DefaultMaxChunksSafe,
		Alignment:     memory.DefaultAlignment,
		ZeroOnDealloc: memory.DefaultZeroOnDealloc,
		Slab: SlabSection{
			MinObjectSize:    memory.DefaultSlabMin,
			MaxObjectSize:    memory.DefaultSlabMax,
			ObjectsPerSlab:   memory.DefaultObjectsPerSlab,
			PreallocateSlabs: memory.DefaultPreallocSlabs,
			CacheAlign:       memory.DefaultCacheAlign,
		},
		Numa: NumaSection{Policy: "interleave"},
	}
}

// Load decodes a TOML file at path into a Config, filling unset fields
// from Default, and validates the result.
func Load(path string) (Config, error) {
	cfg := Default()
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return Config{}, fmt.Errorf("memconfig: decode %s: %w", path, err)
	}
	if err := Validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks that EngineVersion is a valid semver version
// compatible with CompatibleEngineVersions, and that Backend names a
// known kind.
func Validate(cfg Config) error {
	constraint, err := semver.NewConstraint(CompatibleEngineVersions)
	if err != nil {
		return fmt.Errorf("memconfig: invalid compatibility constraint: %w", err)
	}
	version, err := semver.NewVersion(cfg.EngineVersion)
	if err != nil {
		return fmt.Errorf("memconfig: invalid engine_version %q: %w", cfg.EngineVersion, err)
	}
	if !constraint.Check(version) {
		return fmt.Errorf("memconfig: engine_version %s is incompatible with %s", version, CompatibleEngineVersions)
	}

	switch cfg.Backend {
	case "safe", "lockfree", "slab", "numa":
	default:
		return fmt.Errorf("memconfig: unknown backend %q", cfg.Backend)
	}
	return nil
}

// Kind maps the config's Backend name to a memory.BackendKind.
func (c Config) Kind() (memory.BackendKind, error) {
	switch c.Backend {
	case "safe":
		return memory.BackendSafe, nil
	case "lockfree":
		return memory.BackendLockFree, nil
	case "slab":
		return memory.BackendSlab, nil
	case "numa":
		return memory.BackendNuma, nil
	default:
		return 0, fmt.Errorf("memconfig: unknown backend %q", c.Backend)
	}
}

// ToBackendConfig builds the memory.BackendConfig this Config describes.
func (c Config) ToBackendConfig() memory.BackendConfig {
	policy := memory.NumaInterleave
	switch c.Numa.Policy {
	case "local-preference":
		policy = memory.NumaLocalPreference
	case "fixed-zero":
		policy = memory.NumaFixedZero
	}

	return memory.BackendConfig{
		Safe: memory.SafePoolConfig{
			ChunkSize:     uintptr(c.ChunkSize),
			InitialChunks: c.InitialChunks,
			MaxChunks:     c.MaxChunks,
			ZeroOnDealloc: c.ZeroOnDealloc,
		},
		LockFree: memory.PoolConfig{
			ChunkSize:     uintptr(c.ChunkSize),
			InitialChunks: c.InitialChunks,
			MaxChunks:     c.MaxChunks,
			Alignment:     uintptr(c.Alignment),
		},
		Slab: memory.SlabConfig{
			MinObjectSize:    uintptr(c.Slab.MinObjectSize),
			MaxObjectSize:    uintptr(c.Slab.MaxObjectSize),
			ObjectsPerSlab:   c.Slab.ObjectsPerSlab,
			PreallocateSlabs: c.Slab.PreallocateSlabs,
			CacheAlign:       c.Slab.CacheAlign,
		},
		Numa: memory.NumaConfig{
			ChunkSize: uintptr(c.ChunkSize),
			Alignment: uintptr(c.Alignment),
			Policy:    policy,
		},
	}
}
