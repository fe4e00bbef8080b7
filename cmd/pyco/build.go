package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/tliron/commonlog"

	"github.com/gvanrossum/pyco/cache"
	"github.com/gvanrossum/pyco/config"
	"github.com/gvanrossum/pyco/container"
	"github.com/gvanrossum/pyco/program"
)

// handleBuildCommand processes the `pyco build` subcommand.
// Usage:
//
//	pyco build prog.cbor             # ./prog.pyc
//	pyco build -o out.pyc prog.cbor  # custom output
func handleBuildCommand(args []string) {
	var outputPath string
	var inputPath string
	report := false
	noCache := false
	immediates := false

	// Parse flags
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "-o", "--output":
			if i+1 < len(args) {
				outputPath = args[i+1]
				i++
			} else {
				fmt.Fprintln(os.Stderr, "Error: -o requires an output path")
				os.Exit(1)
			}
		case "-report":
			report = true
		case "-no-cache":
			noCache = true
		case "-immediates":
			immediates = true
		default:
			if strings.HasPrefix(args[i], "-") {
				fmt.Fprintf(os.Stderr, "Error: unknown build flag: %s\n", args[i])
				os.Exit(1)
			}
			if inputPath != "" {
				fmt.Fprintf(os.Stderr, "Error: build takes one program record, got %s and %s\n", inputPath, args[i])
				os.Exit(1)
			}
			inputPath = args[i]
		}
	}

	if inputPath == "" {
		fmt.Fprintln(os.Stderr, "Error: build requires a program record file")
		fmt.Fprintln(os.Stderr, "Usage: pyco build [-o out.pyc] [-report] [-no-cache] [-immediates] prog.cbor")
		os.Exit(1)
	}

	// Load configuration
	cfg, err := config.FindAndLoad(".")
	if err != nil {
		fatalf("loading configuration: %v", err)
	}
	if cfg == nil {
		cfg = config.Default(".")
	}
	if immediates {
		cfg.Build.Immediates = true
	}
	if report {
		cfg.Output.Report = true
	}
	if noCache {
		off := false
		cfg.Cache.Enabled = &off
	}

	if outputPath == "" {
		stem := strings.TrimSuffix(filepath.Base(inputPath), filepath.Ext(inputPath))
		outputPath = filepath.Join(cfg.OutputDir(), stem+".pyc")
	}

	if err := runBuild(inputPath, outputPath, cfg, os.Stdout); err != nil {
		fatalf("%v", err)
	}
}

// runBuild turns the program record at inputPath into a container at
// outputPath, consulting the compile cache when cfg enables it. The
// progress line and the optional pool report go to w.
func runBuild(inputPath, outputPath string, cfg *config.Config, w io.Writer) error {
	log := commonlog.GetLogger("pyco.build")

	data, err := os.ReadFile(inputPath)
	if err != nil {
		return fmt.Errorf("reading %s: %w", inputPath, err)
	}
	prog, err := program.Unmarshal(data)
	if err != nil {
		return fmt.Errorf("decoding %s: %w", inputPath, err)
	}
	digest, err := prog.Digest()
	if err != nil {
		return fmt.Errorf("fingerprinting %s: %w", inputPath, err)
	}

	// The same record built with different settings yields different
	// containers, so the options join the digest in the cache key.
	opts := cache.Options{Immediates: cfg.Build.Immediates}

	var store *cache.Store
	if cfg.CacheEnabled() {
		store, err = cache.Open(cfg.CacheDir())
		if err != nil {
			// A broken cache must not block the build.
			log.Warningf("cache unavailable: %s", err.Error())
			store = nil
		} else {
			defer store.Close()
		}
	}

	if store != nil {
		blob, err := store.Get(digest, opts)
		if err == nil {
			log.Infof("cache hit for %x", digest[:8])
			return writeContainer(w, outputPath, blob, cfg.Output.Report)
		}
		if !errors.Is(err, cache.ErrMiss) {
			log.Warningf("cache read failed: %s", err.Error())
		}
	}

	b := container.NewBuilder(nil)
	b.SetImmediates(cfg.Build.Immediates)
	if _, err := b.AddProgram(prog); err != nil {
		return fmt.Errorf("building %s: %w", inputPath, err)
	}
	b.Lock()
	blob, err := b.Bytes()
	if err != nil {
		return fmt.Errorf("encoding container: %w", err)
	}

	units, consts, strs, blobCount := b.Counts()
	log.Infof("built %d units, %d constants, %d strings, %d blobs (%d bytes)",
		units, consts, strs, blobCount, len(blob))

	if store != nil {
		if err := store.Put(digest, opts, blob, units); err != nil {
			log.Warningf("cache write failed: %s", err.Error())
		}
	}

	return writeContainer(w, outputPath, blob, cfg.Output.Report)
}

// writeContainer stores the finished container and optionally dumps a
// pool report to w.
func writeContainer(w io.Writer, path string, blob []byte, report bool) error {
	if err := os.WriteFile(path, blob, 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	fmt.Fprintf(w, "Wrote %s (%d bytes)\n", path, len(blob))

	if report {
		r, err := container.NewReader(blob)
		if err != nil {
			return fmt.Errorf("re-reading container: %w", err)
		}
		if err := r.WriteReport(w, nil); err != nil {
			return fmt.Errorf("writing report: %w", err)
		}
	}
	return nil
}
