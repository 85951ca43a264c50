package wasm

import (
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"testing"
)

func writeManifest(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir failed: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	return path
}

func TestLoadManifest(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, "solver.wasm", "\x00asm")
	path := writeManifest(t, dir, "manifest.yaml", `
name: hubbard-ed
version: 1.2.0
description: Exact diagonalization for Hubbard-model fragments
entrypoint: solver.wasm
methods: [fci]
limits:
  timeout_seconds: 60
  memory_pages: 512
`)

	manifest, err := LoadManifest(path)
	if err != nil {
		t.Fatalf("LoadManifest failed: %v", err)
	}
	if manifest.Name != "hubbard-ed" || manifest.Version != "1.2.0" {
		t.Errorf("identity = %s@%s", manifest.Name, manifest.Version)
	}
	if manifest.ModulePath != filepath.Join(dir, "solver.wasm") {
		t.Errorf("module path = %s", manifest.ModulePath)
	}
	if len(manifest.Methods) != 1 || manifest.Methods[0] != "fci" {
		t.Errorf("methods = %v", manifest.Methods)
	}
	if manifest.Limits.TimeoutSeconds != 60 || manifest.Limits.MemoryPages != 512 {
		t.Errorf("limits = %+v", manifest.Limits)
	}
}

func TestLoadManifestRejects(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, "solver.wasm", "\x00asm")

	tests := []struct {
		name    string
		content string
	}{
		{name: "missing name", content: "version: 1.0.0\nentrypoint: solver.wasm\n"},
		{name: "missing version", content: "name: x\nentrypoint: solver.wasm\n"},
		{name: "missing entrypoint", content: "name: x\nversion: 1.0.0\n"},
		{name: "missing module", content: "name: x\nversion: 1.0.0\nentrypoint: nope.wasm\n"},
		{name: "bad yaml", content: "name: [\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeManifest(t, dir, filepath.Join("case", tt.name, "m.yaml"), tt.content)
			if _, err := LoadManifest(path); err == nil {
				t.Error("expected an error")
			}
		})
	}
}

func TestManifestVerifyChecksum(t *testing.T) {
	module := []byte("\x00asm fake module")
	hash := sha256.Sum256(module)

	m := &PluginManifest{Checksum: hex.EncodeToString(hash[:])}
	if err := m.VerifyChecksum(module); err != nil {
		t.Errorf("matching checksum rejected: %v", err)
	}
	if err := m.VerifyChecksum([]byte("tampered")); err == nil {
		t.Error("tampered module accepted")
	}

	// No checksum means no verification.
	if err := (&PluginManifest{}).VerifyChecksum(module); err != nil {
		t.Errorf("checksum-free manifest rejected: %v", err)
	}
}

func TestRegistryDiscover(t *testing.T) {
	dir := t.TempDir()

	writeManifest(t, dir, "hubbard/solver.wasm", "\x00asm")
	writeManifest(t, dir, "hubbard/manifest.yaml",
		"name: hubbard-ed\nversion: 1.0.0\nentrypoint: solver.wasm\n")

	writeManifest(t, dir, "pair.wasm", "\x00asm")
	writeManifest(t, dir, "pair.yaml",
		"name: pair-ccd\nversion: 0.3.0\nentrypoint: pair.wasm\n")

	// Not a manifest; must be ignored.
	writeManifest(t, dir, "README.md", "plugins live here")

	registry := NewRegistry()
	if err := registry.Discover(dir); err != nil {
		t.Fatalf("discover failed: %v", err)
	}

	list := registry.List()
	if len(list) != 2 {
		t.Fatalf("discovered %d plugins, want 2", len(list))
	}
	if list[0].Name != "hubbard-ed" || list[1].Name != "pair-ccd" {
		t.Errorf("list = [%s %s], want sorted [hubbard-ed pair-ccd]", list[0].Name, list[1].Name)
	}

	if _, err := registry.Lookup("hubbard-ed"); err != nil {
		t.Errorf("lookup failed: %v", err)
	}
	if _, err := registry.Lookup("missing"); err == nil {
		t.Error("lookup of an unregistered plugin succeeded")
	}
}

func TestRegistryRejectsDuplicates(t *testing.T) {
	registry := NewRegistry()
	if err := registry.Register(&PluginManifest{Name: "x", Version: "1"}); err != nil {
		t.Fatalf("first register failed: %v", err)
	}
	if err := registry.Register(&PluginManifest{Name: "x", Version: "2"}); err == nil {
		t.Error("duplicate name accepted")
	}
}
