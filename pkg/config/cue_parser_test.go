package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const h2RunCUE = `
run: {
	name: "h2-classical"
	system: {
		library: "H2"
		basis:   "sto-3g"
	}
	decompose: {
		method:        "atom-partition"
		fragment_size: 1
	}
	solver: {
		backend: "classical"
	}
	loop: {
		max_iterations: 25
		tolerance:      1e-7
	}
	store: path: "runs.db"
}
`

func TestParseInlineRun(t *testing.T) {
	parser := NewCUEParser()

	parsed, err := parser.ParseInline(context.Background(), h2RunCUE)
	if err != nil {
		t.Fatalf("ParseInline failed: %v", err)
	}
	if len(parsed.Errors) > 0 {
		t.Fatalf("Unexpected validation errors: %+v", parsed.Errors)
	}

	run := parsed.Run
	if run.Name != "h2-classical" {
		t.Errorf("Name = %q", run.Name)
	}
	if run.System.Library != "H2" || run.System.Basis != "sto-3g" {
		t.Errorf("System = %+v", run.System)
	}
	if run.Decompose.Method != "atom-partition" || run.Decompose.FragmentSize != 1 {
		t.Errorf("Decompose = %+v", run.Decompose)
	}
	if run.Solver.Backend != "classical" {
		t.Errorf("Solver = %+v", run.Solver)
	}
	if run.Loop.MaxIterations != 25 || run.Loop.Tolerance != 1e-7 {
		t.Errorf("Loop = %+v", run.Loop)
	}
	if run.Store == nil || run.Store.Path != "runs.db" {
		t.Errorf("Store = %+v", run.Store)
	}

	model, err := run.System.ToModel()
	if err != nil {
		t.Fatalf("ToModel failed: %v", err)
	}
	if model.Formula() != "H2" {
		t.Errorf("Formula = %q", model.Formula())
	}
}

func TestParseRemoteSolverOverSSH(t *testing.T) {
	parser := NewCUEParser()

	parsed, err := parser.ParseInline(context.Background(), `
run: {
	system: library: "H2"
	decompose: {
		method:        "atom-partition"
		fragment_size: 1
	}
	solver: {
		backend:  "remote"
		command: ["qembed-runner", "-backend", "classical"]
		host:     "node-17.cluster"
		user:     "qops"
		key_path: "/home/qops/.ssh/id_ed25519"
	}
	loop: tolerate_failures: true
}
`)
	if err != nil {
		t.Fatalf("ParseInline failed: %v", err)
	}
	if len(parsed.Errors) > 0 {
		t.Fatalf("Unexpected validation errors: %+v", parsed.Errors)
	}

	sc := parsed.Run.Solver
	if sc.Backend != "remote" || sc.Host != "node-17.cluster" || sc.User != "qops" {
		t.Errorf("Solver = %+v", sc)
	}
	if sc.KeyPath != "/home/qops/.ssh/id_ed25519" {
		t.Errorf("KeyPath = %q", sc.KeyPath)
	}
	if len(sc.Command) != 3 || sc.Command[0] != "qembed-runner" {
		t.Errorf("Command = %v", sc.Command)
	}
	if !parsed.Run.Loop.TolerateFailures {
		t.Error("tolerate_failures not carried into the loop config")
	}
}

func TestParseTopLevelRun(t *testing.T) {
	parser := NewCUEParser()

	// Without a "run" wrapper the document root is the run.
	content := `
system: {
	library: "H2O"
	basis:   "sto-3g"
}
decompose: method: "single"
solver: backend: "classical"
`
	parsed, err := parser.ParseInline(context.Background(), content)
	if err != nil {
		t.Fatalf("ParseInline failed: %v", err)
	}
	if len(parsed.Errors) > 0 {
		t.Fatalf("Unexpected validation errors: %+v", parsed.Errors)
	}
	if parsed.Run.System.Library != "H2O" {
		t.Errorf("System = %+v", parsed.Run.System)
	}
}

func TestParseSyntaxError(t *testing.T) {
	parser := NewCUEParser()

	parsed, err := parser.ParseInline(context.Background(), `run: { system: `)
	if err != nil {
		t.Fatalf("ParseInline failed: %v", err)
	}
	if len(parsed.Errors) == 0 {
		t.Fatal("Expected parse errors for malformed CUE")
	}
	if parsed.Errors[0].Severity != "error" {
		t.Errorf("Severity = %q", parsed.Errors[0].Severity)
	}
}

func TestParseValidationErrors(t *testing.T) {
	parser := NewCUEParser()

	// Basis is required; the validator error must point into the document.
	content := `
run: {
	system: atoms: [{symbol: "H", position: [0.0, 0.0, 0.0]}]
	decompose: method: "atom-partition"
	solver: backend: "classical"
}
`
	parsed, err := parser.ParseInline(context.Background(), content)
	if err != nil {
		t.Fatalf("ParseInline failed: %v", err)
	}
	if len(parsed.Errors) == 0 {
		t.Fatal("Expected a validation error for the missing basis")
	}
	found := false
	for _, e := range parsed.Errors {
		if strings.Contains(e.Path, "system.basis") {
			found = true
		}
	}
	if !found {
		t.Errorf("No error pointing at system.basis: %+v", parsed.Errors)
	}
}

func TestParseGeometryScript(t *testing.T) {
	parser := NewCUEParser()

	content := `
run: {
	system: {
		basis: "sto-3g"
		geometry: {
			script: "atoms = [{\"symbol\": \"H\", \"position\": [0.0, 0.0, 0.75 * i]} for i in range(n)]"
			input: n: 4
		}
	}
	decompose: {
		method:        "atom-partition"
		fragment_size: 2
	}
	solver: backend: "classical"
}
`
	parsed, err := parser.ParseInline(context.Background(), content)
	if err != nil {
		t.Fatalf("ParseInline failed: %v", err)
	}
	if len(parsed.Errors) > 0 {
		t.Fatalf("Unexpected validation errors: %+v", parsed.Errors)
	}

	sys := parsed.Run.System
	if sys.Geometry != nil {
		t.Error("Geometry script not consumed during expansion")
	}
	if len(sys.Atoms) != 4 {
		t.Fatalf("Expanded %d atoms, want 4", len(sys.Atoms))
	}
	if sys.Atoms[3].Position[2] != 2.25 {
		t.Errorf("Atom 3 z = %v, want 2.25", sys.Atoms[3].Position[2])
	}

	model, err := sys.ToModel()
	if err != nil {
		t.Fatalf("ToModel failed: %v", err)
	}
	if model.Formula() != "H4" {
		t.Errorf("Formula = %q", model.Formula())
	}
}

func TestParseGeometryExcludesLiteralAtoms(t *testing.T) {
	parser := NewCUEParser()

	content := `
run: {
	system: {
		basis: "sto-3g"
		atoms: [{symbol: "H", position: [0.0, 0.0, 0.0]}]
		geometry: script: "atoms = []"
	}
	decompose: method: "single"
	solver: backend: "classical"
}
`
	parsed, err := parser.ParseInline(context.Background(), content)
	if err != nil {
		t.Fatalf("ParseInline failed: %v", err)
	}
	if len(parsed.Errors) == 0 {
		t.Fatal("Expected an error for atoms alongside a geometry script")
	}
}

func TestParseFiles(t *testing.T) {
	parser := NewCUEParser()

	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "run.cue")
	if err := os.WriteFile(path, []byte(h2RunCUE), 0644); err != nil {
		t.Fatal(err)
	}

	parsed, err := parser.Parse(context.Background(), []string{path})
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if len(parsed.Errors) > 0 {
		t.Fatalf("Unexpected errors: %+v", parsed.Errors)
	}
	if len(parsed.SourceFiles) != 1 || parsed.SourceFiles[0] != path {
		t.Errorf("SourceFiles = %v", parsed.SourceFiles)
	}
}

func TestParseUnifiesSources(t *testing.T) {
	parser := NewCUEParser()

	tmpDir := t.TempDir()
	base := filepath.Join(tmpDir, "base.cue")
	site := filepath.Join(tmpDir, "site.cue")
	if err := os.WriteFile(base, []byte(`
run: {
	system: {library: "H2", basis: "sto-3g"}
	decompose: method: "single"
	solver: backend: "classical"
}
`), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(site, []byte(`
run: loop: max_iterations: 10
`), 0644); err != nil {
		t.Fatal(err)
	}

	parsed, err := parser.Parse(context.Background(), []string{base, site})
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if len(parsed.Errors) > 0 {
		t.Fatalf("Unexpected errors: %+v", parsed.Errors)
	}
	if parsed.Run.Loop.MaxIterations != 10 {
		t.Errorf("Loop.MaxIterations = %d, want 10 from the site overlay", parsed.Run.Loop.MaxIterations)
	}
	if parsed.Run.System.Library != "H2" {
		t.Errorf("System = %+v", parsed.Run.System)
	}
}

func TestParseMissingSource(t *testing.T) {
	parser := NewCUEParser()

	if _, err := parser.Parse(context.Background(), []string{"/nonexistent/run.cue"}); err == nil {
		t.Error("Expected an error for a missing source")
	}
	if _, err := parser.Parse(context.Background(), nil); err == nil {
		t.Error("Expected an error for an empty source list")
	}
}

func TestLoad(t *testing.T) {
	parser := NewCUEParser()

	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "run.cue")
	if err := os.WriteFile(path, []byte(h2RunCUE), 0644); err != nil {
		t.Fatal(err)
	}

	run, err := parser.Load(context.Background(), []string{path})
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if run.Name != "h2-classical" {
		t.Errorf("Name = %q", run.Name)
	}

	bad := filepath.Join(tmpDir, "bad.cue")
	if err := os.WriteFile(bad, []byte(`run: solver: backend: "abacus"`), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := parser.Load(context.Background(), []string{bad}); err == nil {
		t.Error("Load accepted an invalid configuration")
	}
}

func TestWorkflowConfig(t *testing.T) {
	run := RunConfig{
		Screening: 0.5,
	}
	run.Decompose.Method = "atom-partition"
	run.Loop.MaxIterations = 7

	wf := run.WorkflowConfig()
	if wf.Decompose.Method != "atom-partition" || wf.Loop.MaxIterations != 7 || wf.Screening != 0.5 {
		t.Errorf("WorkflowConfig = %+v", wf)
	}
}
