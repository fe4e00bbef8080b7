package main

import (
	"fmt"
	"io"
	"os"

	"github.com/gvanrossum/pyco/container"
)

// handleInspectCommand processes the `pyco inspect` subcommand: it
// validates a container file and prints its pools and bootstrap code.
func handleInspectCommand(args []string) {
	if len(args) != 1 || args[0] == "-h" || args[0] == "--help" {
		fmt.Fprintln(os.Stderr, "Usage: pyco inspect file.pyc")
		os.Exit(1)
	}

	if err := runInspect(args[0], os.Stdout); err != nil {
		fatalf("%v", err)
	}
}

// runInspect writes a human-readable dump of the container at path
// to w.
func runInspect(path string, w io.Writer) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading %s: %w", path, err)
	}

	r, err := container.NewReader(data)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	if err := r.WriteReport(w, nil); err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	return nil
}
