package main

import (
	"fmt"
	"io"
	"os"

	"github.com/gvanrossum/pyco/cache"
	"github.com/gvanrossum/pyco/config"
)

// handleCacheCommand processes the `pyco cache` subcommand.
// Usage:
//
//	pyco cache          # same as stats
//	pyco cache stats    # entry counts and sizes
//	pyco cache clear    # drop every cached container
func handleCacheCommand(args []string) {
	action := "stats"
	if len(args) > 0 {
		action = args[0]
	}

	cfg, err := config.FindAndLoad(".")
	if err != nil {
		fatalf("loading configuration: %v", err)
	}
	if cfg == nil {
		cfg = config.Default(".")
	}

	switch action {
	case "stats":
		if err := runCacheStats(cfg, os.Stdout); err != nil {
			fatalf("%v", err)
		}
	case "clear":
		if err := runCacheClear(cfg, os.Stdout); err != nil {
			fatalf("%v", err)
		}
	default:
		fmt.Fprintf(os.Stderr, "Unknown cache action: %s\n", action)
		fmt.Fprintln(os.Stderr, "Usage: pyco cache [stats|clear]")
		os.Exit(1)
	}
}

// runCacheStats prints entry counts and sizes for the cache cfg points
// at.
func runCacheStats(cfg *config.Config, w io.Writer) error {
	store, err := cache.Open(cfg.CacheDir())
	if err != nil {
		return fmt.Errorf("opening cache at %s: %w", cfg.CacheDir(), err)
	}
	defer store.Close()

	st, err := store.Stats()
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "Cache at %s:\n", cfg.CacheDir())
	fmt.Fprintf(w, "  Containers: %d\n", st.Entries)
	fmt.Fprintf(w, "  Units:      %d\n", st.Units)
	fmt.Fprintf(w, "  Built size: %d bytes\n", st.TotalBytes)
	fmt.Fprintf(w, "  On disk:    %d bytes\n", st.DiskBytes)
	return nil
}

// runCacheClear drops every container from the cache cfg points at.
func runCacheClear(cfg *config.Config, w io.Writer) error {
	store, err := cache.Open(cfg.CacheDir())
	if err != nil {
		return fmt.Errorf("opening cache at %s: %w", cfg.CacheDir(), err)
	}
	defer store.Close()

	if err := store.Clear(); err != nil {
		return err
	}
	fmt.Fprintln(w, "Cache cleared")
	return nil
}
