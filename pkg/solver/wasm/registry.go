package wasm

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// PluginManifest describes an installed solver plugin. Manifests are YAML
// files next to the module they describe:
//
//	name: hubbard-ed
//	version: 1.2.0
//	description: Exact diagonalization for Hubbard-model fragments
//	entrypoint: hubbard_ed.wasm
//	checksum: 9f86d08...
//	methods: [fci, ccsd]
//	limits:
//	  timeout_seconds: 60
//	  memory_pages: 512
type PluginManifest struct {
	Name        string   `yaml:"name"`
	Version     string   `yaml:"version"`
	Description string   `yaml:"description,omitempty"`
	Entrypoint  string   `yaml:"entrypoint"`
	Checksum    string   `yaml:"checksum,omitempty"`
	Methods     []string `yaml:"methods,omitempty"`
	Limits      struct {
		TimeoutSeconds int    `yaml:"timeout_seconds,omitempty"`
		MemoryPages    uint32 `yaml:"memory_pages,omitempty"`
	} `yaml:"limits,omitempty"`

	// Path is where the manifest was loaded from; ModulePath is the
	// resolved WASM module location.
	Path       string `yaml:"-"`
	ModulePath string `yaml:"-"`
}

// LoadManifest reads and validates a plugin manifest, resolving the module
// path relative to the manifest file.
func LoadManifest(path string) (*PluginManifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}

	var manifest PluginManifest
	if err := yaml.Unmarshal(data, &manifest); err != nil {
		return nil, fmt.Errorf("failed to parse manifest YAML: %w", err)
	}
	if manifest.Name == "" {
		return nil, fmt.Errorf("%s: plugin name is required", path)
	}
	if manifest.Version == "" {
		return nil, fmt.Errorf("%s: plugin version is required", path)
	}
	if manifest.Entrypoint == "" {
		return nil, fmt.Errorf("%s: entrypoint is required", path)
	}

	manifest.Path = path
	if filepath.IsAbs(manifest.Entrypoint) {
		manifest.ModulePath = manifest.Entrypoint
	} else {
		manifest.ModulePath = filepath.Join(filepath.Dir(path), manifest.Entrypoint)
	}
	if _, err := os.Stat(manifest.ModulePath); err != nil {
		return nil, fmt.Errorf("%s: module not found at %s: %w", path, manifest.ModulePath, err)
	}

	return &manifest, nil
}

// VerifyChecksum checks the module bytes against the manifest checksum.
func (m *PluginManifest) VerifyChecksum(wasmBytes []byte) error {
	if m.Checksum == "" {
		return nil
	}
	hash := sha256.Sum256(wasmBytes)
	computed := hex.EncodeToString(hash[:])
	if computed != m.Checksum {
		return fmt.Errorf("module checksum mismatch: manifest says %s, module is %s", m.Checksum, computed)
	}
	return nil
}

// Registry tracks installed solver plugins by name and opens them on
// demand. Safe for concurrent use.
type Registry struct {
	mu        sync.RWMutex
	manifests map[string]*PluginManifest
}

// NewRegistry creates an empty plugin registry.
func NewRegistry() *Registry {
	return &Registry{manifests: make(map[string]*PluginManifest)}
}

// Register adds a manifest to the registry. Re-registering a name is an
// error; uninstall first.
func (r *Registry) Register(manifest *PluginManifest) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.manifests[manifest.Name]; exists {
		return fmt.Errorf("plugin %s already registered", manifest.Name)
	}
	r.manifests[manifest.Name] = manifest
	return nil
}

// Discover scans a directory for plugin manifests: any manifest.yaml one
// level down, plus *.yaml files directly in the directory. Invalid
// manifests are skipped and reported together after the scan.
func (r *Registry) Discover(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("failed to read plugin directory: %w", err)
	}

	var firstErr error
	for _, entry := range entries {
		var manifestPath string
		if entry.IsDir() {
			manifestPath = filepath.Join(dir, entry.Name(), "manifest.yaml")
			if _, err := os.Stat(manifestPath); err != nil {
				continue
			}
		} else if filepath.Ext(entry.Name()) == ".yaml" {
			manifestPath = filepath.Join(dir, entry.Name())
		} else {
			continue
		}

		manifest, err := LoadManifest(manifestPath)
		if err == nil {
			err = r.Register(manifest)
		}
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// List returns the registered manifests sorted by name.
func (r *Registry) List() []*PluginManifest {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*PluginManifest, 0, len(r.manifests))
	for _, m := range r.manifests {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Lookup returns the manifest registered under name.
func (r *Registry) Lookup(name string) (*PluginManifest, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	manifest, ok := r.manifests[name]
	if !ok {
		return nil, fmt.Errorf("plugin %s not registered", name)
	}
	return manifest, nil
}

// Open loads the named plugin: reads its module, verifies the checksum,
// and instantiates it with the manifest's limits. The caller owns the
// returned plugin and must Close it.
func (r *Registry) Open(ctx context.Context, name string) (*Plugin, error) {
	manifest, err := r.Lookup(name)
	if err != nil {
		return nil, err
	}

	wasmBytes, err := os.ReadFile(manifest.ModulePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read plugin module: %w", err)
	}
	if err := manifest.VerifyChecksum(wasmBytes); err != nil {
		return nil, err
	}

	cfg := Config{MemoryLimitPages: manifest.Limits.MemoryPages}
	if manifest.Limits.TimeoutSeconds > 0 {
		cfg.Timeout = time.Duration(manifest.Limits.TimeoutSeconds) * time.Second
	}
	return Load(ctx, wasmBytes, cfg)
}
