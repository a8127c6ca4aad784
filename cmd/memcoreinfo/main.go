// Command memcoreinfo is glue around the memcore registry: it is not
// part of the allocator contract itself, only a thin CLI that
// initializes a backend from a config file (or defaults) and reports on
// it. Real applications are expected to call memory.Init/Get directly.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"golang.org/x/sync/errgroup"

	"github.com/vectorlane/memcore/internal/memconfig"
	"github.com/vectorlane/memcore/internal/memory"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	sub := os.Args[1]
	args := os.Args[2:]

	switch sub {
	case "help", "-h", "--help":
		usage()
	case "info":
		must(runInfo(args))
	case "validate":
		must(runValidate(args))
	case "bench":
		must(runBench(args))
	default:
		fmt.Fprintf(os.Stderr, "memcoreinfo: unknown command %q\n", sub)
		usage()
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `memcoreinfo - inspect and exercise a memcore backend

Usage:
  memcoreinfo info --config PATH
  memcoreinfo validate --config PATH
  memcoreinfo bench --config PATH --iterations N`)
}

func must(err error) {
	if err != nil {
		fmt.Fprintln(os.Stderr, "memcoreinfo:", err)
		os.Exit(1)
	}
}

func loadConfig(fs *flag.FlagSet, args []string) (memconfig.Config, error) {
	path := fs.String("config", "", "path to a memcore TOML config file")
	if err := fs.Parse(args); err != nil {
		return memconfig.Config{}, err
	}
	if *path == "" {
		return memconfig.Default(), nil
	}
	return memconfig.Load(*path)
}

func runInfo(args []string) error {
	fs := flag.NewFlagSet("info", flag.ContinueOnError)
	cfg, err := loadConfig(fs, args)
	if err != nil {
		return err
	}

	kind, err := cfg.Kind()
	if err != nil {
		return err
	}
	if err := memory.Init(kind, cfg.ToBackendConfig()); err != nil {
		return err
	}
	alloc, err := memory.Get()
	if err != nil {
		return err
	}

	fmt.Printf("backend:           %s\n", cfg.Backend)
	fmt.Printf("engine_version:    %s\n", cfg.EngineVersion)
	fmt.Printf("max_alignment:     %d\n", alloc.MaxAlignment())
	fmt.Printf("total_memory:      %d bytes\n", alloc.TotalMemory())
	fmt.Printf("available_memory:  %d bytes\n", alloc.AvailableMemory())
	return nil
}

func runValidate(args []string) error {
	fs := flag.NewFlagSet("validate", flag.ContinueOnError)
	cfg, err := loadConfig(fs, args)
	if err != nil {
		return err
	}
	if err := memconfig.Validate(cfg); err != nil {
		return err
	}
	fmt.Println("config OK")
	return nil
}

func runBench(args []string) error {
	fs := flag.NewFlagSet("bench", flag.ContinueOnError)
	iterations := fs.Int("iterations", 10000, "number of allocate/deallocate cycles per worker")
	workers := fs.Int("workers", 4, "number of concurrent workers")
	cfg, err := loadConfig(fs, args)
	if err != nil {
		return err
	}

	kind, err := cfg.Kind()
	if err != nil {
		return err
	}
	if err := memory.Init(kind, cfg.ToBackendConfig()); err != nil {
		return err
	}
	alloc, err := memory.Get()
	if err != nil {
		return err
	}

	layout := memory.Layout{Size: uintptr(cfg.ChunkSize), Align: uintptr(cfg.Alignment)}

	g, _ := errgroup.WithContext(context.Background())
	for w := 0; w < *workers; w++ {
		g.Go(func() error {
			for i := 0; i < *iterations; i++ {
				region, err := alloc.Allocate(layout)
				if err != nil {
					return fmt.Errorf("allocate %d: %w", i, err)
				}
				alloc.Deallocate(region, layout)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	fmt.Printf("completed %d allocate/deallocate cycles across %d workers\n", *iterations**workers, *workers)
	return nil
}
