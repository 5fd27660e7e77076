package main

import (
	"bytes"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writePNG(t *testing.T, path string, w, h int) {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewGray(image.Rect(0, 0, w, h))); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		t.Fatal(err)
	}
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func TestCLI(t *testing.T) {
	t.Setenv("IMAGELOADER_ENVIRONMENT", "test")
	dir := t.TempDir()
	writePNG(t, filepath.Join(dir, "a.png"), 4, 3)
	if err := os.WriteFile(filepath.Join(dir, "junk.png"), []byte("nope"), 0o644); err != nil {
		t.Fatal(err)
	}

	out, err := run(t, "--root-dir", dir, "info", "a.png")
	if err != nil {
		t.Fatalf("info: %v\n%s", err, out)
	}
	if !strings.Contains(out, "a.png") || !strings.Contains(out, "4x3") || !strings.Contains(out, "png") {
		t.Fatalf("info output:\n%s", out)
	}

	out, err = run(t, "--root-dir", dir, "info", "a.png", "junk.png", "missing.png")
	if err == nil || !strings.Contains(err.Error(), "2 of 3") {
		t.Fatalf("info with failures: %v\n%s", err, out)
	}

	raw := filepath.Join(t.TempDir(), "a.raw")
	if out, err := run(t, "--root-dir", dir, "raw", "a.png", "-o", raw); err != nil {
		t.Fatalf("raw: %v\n%s", err, out)
	}
	b, err := os.ReadFile(raw)
	if err != nil {
		t.Fatal(err)
	}
	if len(b) != 4*3*3 {
		t.Fatalf("raw output: %d bytes", len(b))
	}
}
