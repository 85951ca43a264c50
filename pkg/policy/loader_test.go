package policy

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
)

func TestLoadFromFile_Rego(t *testing.T) {
	logger := zerolog.New(nil).Level(zerolog.Disabled)
	loader := NewLoader(logger)

	tmpDir := t.TempDir()
	policyFile := filepath.Join(tmpDir, "shots-limit.rego")

	regoContent := `package site.policies.shots

# Caps the shot budget for this site

import rego.v1

deny contains violation if {
	input.request.shots > 65536
	violation := {
		"message": "shot budget exceeds the site limit",
		"severity": "error",
	}
}`

	err := os.WriteFile(policyFile, []byte(regoContent), 0644)
	if err != nil {
		t.Fatalf("Failed to write test file: %v", err)
	}

	policy, err := loader.loadFromFile(context.Background(), policyFile)
	if err != nil {
		t.Fatalf("Failed to load policy: %v", err)
	}

	if policy.Name != "shots-limit" {
		t.Errorf("Expected name 'shots-limit', got '%s'", policy.Name)
	}
	if policy.Rego != regoContent {
		t.Error("Rego content doesn't match")
	}
	if !policy.Enabled {
		t.Error("Policy should be enabled by default")
	}
	if policy.Description == "" {
		t.Error("Description not extracted from comments")
	}
}

func TestLoadFromFile_JSON(t *testing.T) {
	logger := zerolog.New(nil).Level(zerolog.Disabled)
	loader := NewLoader(logger)

	tmpDir := t.TempDir()
	policyFile := filepath.Join(tmpDir, "custom.json")

	policy := Policy{
		Name:     "custom-limits",
		Severity: SeverityCritical,
		Enabled:  true,
		Rego:     "package custom.limits\n\nimport rego.v1\n",
	}
	data, err := json.Marshal(policy)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(policyFile, data, 0644); err != nil {
		t.Fatal(err)
	}

	loaded, err := loader.loadFromFile(context.Background(), policyFile)
	if err != nil {
		t.Fatalf("Failed to load policy: %v", err)
	}
	if loaded.Name != "custom-limits" || loaded.Severity != SeverityCritical {
		t.Errorf("Loaded policy = %+v", loaded)
	}
}

func TestLoadFromPaths_Directory(t *testing.T) {
	logger := zerolog.New(nil).Level(zerolog.Disabled)
	loader := NewLoader(logger)

	tmpDir := t.TempDir()
	for _, name := range []string{"one.rego", "two.rego"} {
		content := "package site.policies." + name[:3] + "\n\nimport rego.v1\n"
		if err := os.WriteFile(filepath.Join(tmpDir, name), []byte(content), 0644); err != nil {
			t.Fatal(err)
		}
	}
	// Non-policy files are skipped.
	if err := os.WriteFile(filepath.Join(tmpDir, "README.md"), []byte("docs"), 0644); err != nil {
		t.Fatal(err)
	}

	policies, err := loader.LoadFromPaths(context.Background(), []string{tmpDir})
	if err != nil {
		t.Fatalf("Failed to load directory: %v", err)
	}
	if len(policies) != 2 {
		t.Errorf("Loaded %d policies, want 2", len(policies))
	}
}

func TestLoadFromPaths_MissingPath(t *testing.T) {
	logger := zerolog.New(nil).Level(zerolog.Disabled)
	loader := NewLoader(logger)

	_, err := loader.LoadFromPaths(context.Background(), []string{"/nonexistent/policies"})
	if err == nil {
		t.Error("Expected an error for a missing path")
	}
}

func TestLoaderCache(t *testing.T) {
	logger := zerolog.New(nil).Level(zerolog.Disabled)
	loader := NewLoader(logger)

	tmpDir := t.TempDir()
	policyFile := filepath.Join(tmpDir, "cached.rego")
	if err := os.WriteFile(policyFile, []byte("package a.b\n\nimport rego.v1\n"), 0644); err != nil {
		t.Fatal(err)
	}

	first, err := loader.loadFromFile(context.Background(), policyFile)
	if err != nil {
		t.Fatal(err)
	}

	// A second load returns the cached policy even if the file changed.
	if err := os.WriteFile(policyFile, []byte("package a.c\n\nimport rego.v1\n"), 0644); err != nil {
		t.Fatal(err)
	}
	second, err := loader.loadFromFile(context.Background(), policyFile)
	if err != nil {
		t.Fatal(err)
	}
	if first.Rego != second.Rego {
		t.Error("Cache miss on unchanged path")
	}

	loader.ClearCache()
	third, err := loader.loadFromFile(context.Background(), policyFile)
	if err != nil {
		t.Fatal(err)
	}
	if third.Rego == first.Rego {
		t.Error("ClearCache did not evict the cached policy")
	}
}
