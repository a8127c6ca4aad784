package memconfig

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/vectorlane/memcore/internal/memory"
)

func TestDefaultConfigValidates(t *testing.T) {
	if err := Validate(Default()); err != nil {
		t.Fatalf("Validate(Default()): %v", err)
	}
}

func TestValidateRejectsIncompatibleVersion(t *testing.T) {
	cfg := Default()
	cfg.EngineVersion = "2.5.0"
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for incompatible engine_version")
	}
}

func TestValidateRejectsUnknownBackend(t *testing.T) {
	cfg := Default()
	cfg.Backend = "quantum"
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for unknown backend")
	}
}

func TestLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "memcore.toml")
	contents := `
engine_version = "1.2.0"
backend = "slab"
chunk_size = 4096
initial_chunks = 16
max_chunks = 32
alignment = 64

[slab]
min_object_size = 64
max_object_size = 1024
objects_per_slab = 8
preallocate_slabs = 4
cache_align = true

[numa]
policy = "local-preference"
`
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Backend != "slab" {
		t.Fatalf("backend = %q, want slab", cfg.Backend)
	}

	kind, err := cfg.Kind()
	if err != nil {
		t.Fatalf("Kind: %v", err)
	}
	if kind != memory.BackendSlab {
		t.Fatalf("kind = %v, want BackendSlab", kind)
	}

	backendCfg := cfg.ToBackendConfig()
	if backendCfg.Slab.MinObjectSize != 64 || backendCfg.Slab.MaxObjectSize != 1024 {
		t.Fatalf("slab config = %+v", backendCfg.Slab)
	}
	if backendCfg.Numa.Policy != memory.NumaLocalPreference {
		t.Fatalf("numa policy = %v, want NumaLocalPreference", backendCfg.Numa.Policy)
	}
}

func TestLoadRejectsUnparsableFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.toml")
	if err := os.WriteFile(path, []byte("not = [valid toml"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected decode error")
	}
}
