package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// ---------------------------------------------------------------------------
// inspect
// ---------------------------------------------------------------------------

func TestRunInspect_DumpsContainer(t *testing.T) {
	dir := t.TempDir()
	record := writeRecord(t, dir, "sample.cbor", sampleProgram())
	out := filepath.Join(dir, "sample.pyc")
	var build bytes.Buffer
	if err := runBuild(record, out, noCacheConfig(dir), &build); err != nil {
		t.Fatalf("building fixture: %v", err)
	}

	var buf bytes.Buffer
	if err := runInspect(out, &buf); err != nil {
		t.Fatalf("runInspect failed: %v", err)
	}
	report := buf.String()
	for _, want := range []string{"units: 1", "unit 0 @", "LAZY_LOAD_CONSTANT"} {
		if !strings.Contains(report, want) {
			t.Errorf("report missing %q:\n%s", want, report)
		}
	}
}

func TestRunInspect_RejectsGarbage(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "garbage.pyc")
	if err := os.WriteFile(p, []byte("not a container"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := runInspect(p, &bytes.Buffer{}); err == nil {
		t.Error("runInspect accepted a non-container file")
	}
}

func TestRunInspect_MissingFile(t *testing.T) {
	err := runInspect(filepath.Join(t.TempDir(), "absent.pyc"), &bytes.Buffer{})
	if err == nil || !strings.Contains(err.Error(), "reading") {
		t.Errorf("runInspect = %v, want reading error", err)
	}
}
