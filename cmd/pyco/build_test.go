package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gvanrossum/pyco/config"
	"github.com/gvanrossum/pyco/container"
	"github.com/gvanrossum/pyco/program"
)

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

// sampleProgram returns a module that loads two immediate-eligible
// constants. Built with immediate rewriting both constants leave the
// pool, so the plain and immediates containers differ byte for byte.
func sampleProgram() *program.Program {
	return &program.Program{Units: []program.Unit{{
		Name:     "<module>",
		Filename: "sample.py",
		Code: []byte{
			100, 0, // LOAD_CONST None
			1, 0, // POP_TOP
			100, 1, // LOAD_CONST 7
			83, 0, // RETURN_VALUE
		},
		Constants: []program.Constant{program.None(), program.Int(7)},
		StackSize: 1,
	}}}
}

// writeRecord marshals prog into a program record file under dir and
// returns its absolute path.
func writeRecord(t *testing.T, dir, name string, prog *program.Program) string {
	t.Helper()
	data, err := program.Marshal(prog)
	if err != nil {
		t.Fatalf("marshaling record: %v", err)
	}
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, data, 0644); err != nil {
		t.Fatalf("writing %s: %v", p, err)
	}
	return p
}

// noCacheConfig returns a default configuration rooted in dir with the
// compile cache disabled.
func noCacheConfig(dir string) *config.Config {
	cfg := config.Default(dir)
	off := false
	cfg.Cache.Enabled = &off
	return cfg
}

// ---------------------------------------------------------------------------
// build: output and error paths
// ---------------------------------------------------------------------------

func TestRunBuild_WritesReadableContainer(t *testing.T) {
	dir := t.TempDir()
	record := writeRecord(t, dir, "sample.cbor", sampleProgram())
	out := filepath.Join(dir, "sample.pyc")

	var buf bytes.Buffer
	if err := runBuild(record, out, config.Default(dir), &buf); err != nil {
		t.Fatalf("runBuild failed: %v", err)
	}

	blob, err := os.ReadFile(out)
	if err != nil {
		t.Fatalf("container not written: %v", err)
	}
	r, err := container.NewReader(blob)
	if err != nil {
		t.Fatalf("container does not parse: %v", err)
	}
	units, _, _, _ := r.Counts()
	if units != 1 {
		t.Errorf("units = %d, want 1", units)
	}
	if !strings.Contains(buf.String(), "Wrote "+out) {
		t.Errorf("progress line missing from output: %q", buf.String())
	}
}

func TestRunBuild_ReportGoesToWriter(t *testing.T) {
	dir := t.TempDir()
	record := writeRecord(t, dir, "sample.cbor", sampleProgram())
	cfg := noCacheConfig(dir)
	cfg.Output.Report = true

	var buf bytes.Buffer
	if err := runBuild(record, filepath.Join(dir, "out.pyc"), cfg, &buf); err != nil {
		t.Fatalf("runBuild failed: %v", err)
	}
	for _, want := range []string{"units: 1", "unit 0 @"} {
		if !strings.Contains(buf.String(), want) {
			t.Errorf("report missing %q", want)
		}
	}
}

func TestRunBuild_MissingInput(t *testing.T) {
	dir := t.TempDir()
	var buf bytes.Buffer
	err := runBuild(filepath.Join(dir, "absent.cbor"), filepath.Join(dir, "out.pyc"), config.Default(dir), &buf)
	if err == nil || !strings.Contains(err.Error(), "reading") {
		t.Errorf("runBuild = %v, want reading error", err)
	}
}

func TestRunBuild_RejectsGarbageRecord(t *testing.T) {
	dir := t.TempDir()
	record := filepath.Join(dir, "garbage.cbor")
	if err := os.WriteFile(record, []byte("not a record"), 0644); err != nil {
		t.Fatal(err)
	}
	var buf bytes.Buffer
	err := runBuild(record, filepath.Join(dir, "out.pyc"), config.Default(dir), &buf)
	if err == nil || !strings.Contains(err.Error(), "decoding") {
		t.Errorf("runBuild = %v, want decoding error", err)
	}
}

// ---------------------------------------------------------------------------
// build: cache behavior
// ---------------------------------------------------------------------------

func TestRunBuild_CacheHitServesIdenticalBytes(t *testing.T) {
	dir := t.TempDir()
	record := writeRecord(t, dir, "sample.cbor", sampleProgram())
	cfg := config.Default(dir)

	first := filepath.Join(dir, "first.pyc")
	var buf bytes.Buffer
	if err := runBuild(record, first, cfg, &buf); err != nil {
		t.Fatalf("cold build failed: %v", err)
	}
	second := filepath.Join(dir, "second.pyc")
	if err := runBuild(record, second, cfg, &buf); err != nil {
		t.Fatalf("warm build failed: %v", err)
	}

	a, err := os.ReadFile(first)
	if err != nil {
		t.Fatal(err)
	}
	b, err := os.ReadFile(second)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(a, b) {
		t.Error("warm build bytes differ from cold build")
	}
}

// A warm cache primed by a plain build must not satisfy an immediates
// build of the same record: the settings change the container bytes,
// so each combination gets its own entry.
func TestRunBuild_CacheKeyCoversImmediates(t *testing.T) {
	dir := t.TempDir()
	record := writeRecord(t, dir, "sample.cbor", sampleProgram())
	var buf bytes.Buffer

	// Plain build primes the cache.
	plainOut := filepath.Join(dir, "plain.pyc")
	if err := runBuild(record, plainOut, config.Default(dir), &buf); err != nil {
		t.Fatalf("plain build failed: %v", err)
	}
	plain, err := os.ReadFile(plainOut)
	if err != nil {
		t.Fatal(err)
	}

	// Immediates build against the warm cache.
	immCfg := config.Default(dir)
	immCfg.Build.Immediates = true
	warmOut := filepath.Join(dir, "warm.pyc")
	if err := runBuild(record, warmOut, immCfg, &buf); err != nil {
		t.Fatalf("immediates build failed: %v", err)
	}
	got, err := os.ReadFile(warmOut)
	if err != nil {
		t.Fatal(err)
	}

	// The same build with the cache disabled is the reference.
	refCfg := noCacheConfig(dir)
	refCfg.Build.Immediates = true
	refOut := filepath.Join(dir, "ref.pyc")
	if err := runBuild(record, refOut, refCfg, &buf); err != nil {
		t.Fatalf("uncached immediates build failed: %v", err)
	}
	want, err := os.ReadFile(refOut)
	if err != nil {
		t.Fatal(err)
	}

	if bytes.Equal(got, plain) {
		t.Error("immediates build served the plain container")
	}
	if !bytes.Equal(got, want) {
		t.Errorf("immediates build = %d bytes, want %d", len(got), len(want))
	}
}
