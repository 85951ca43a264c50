package config

import (
	"fmt"
	"time"

	"github.com/openqembed/openqembed/pkg/dispatch"
	"github.com/openqembed/openqembed/pkg/embedding"
	"github.com/openqembed/openqembed/pkg/fragment"
	"github.com/openqembed/openqembed/pkg/solver"
	"github.com/openqembed/openqembed/pkg/system"
)

// AtomConfig is one atomic site in a run configuration.
type AtomConfig struct {
	// Symbol is the element symbol (e.g. "H", "O").
	Symbol string `json:"symbol" validate:"required"`

	// Position is the Cartesian position in angstroms.
	Position [3]float64 `json:"position"`
}

// GeometryScript generates the atom list programmatically. The Starlark
// script must assign a global named "atoms": a list of dicts with "symbol"
// and "position" keys.
type GeometryScript struct {
	// Script is the Starlark source.
	Script string `json:"script" validate:"required"`

	// Input is optional data exposed to the script as globals.
	Input map[string]interface{} `json:"input,omitempty"`
}

// SystemConfig describes the molecular system for a run. Atoms may be given
// literally, generated by a Starlark geometry script, or pulled from the
// built-in library by name; exactly one source must be set.
type SystemConfig struct {
	// Library names a molecule from the built-in library (e.g. "H2", "H2O").
	Library string `json:"library,omitempty"`

	// Atoms is the literal atom list.
	Atoms []AtomConfig `json:"atoms,omitempty" validate:"omitempty,min=1,dive"`

	// Geometry generates the atom list with Starlark.
	Geometry *GeometryScript `json:"geometry,omitempty"`

	// Charge is the total charge.
	Charge int `json:"charge,omitempty"`

	// Multiplicity is the spin multiplicity (2S+1). Zero selects 1.
	Multiplicity int `json:"multiplicity,omitempty" validate:"omitempty,min=1"`

	// Basis is the basis set identifier.
	Basis string `json:"basis" validate:"required"`
}

// SolverConfig selects and parameterizes the solver backend.
type SolverConfig struct {
	// Backend is the backend family: classical, vqe, wasm, or remote.
	Backend string `json:"backend" validate:"required,oneof=classical vqe wasm remote"`

	// Ansatz selects the variational circuit family (vqe only).
	Ansatz string `json:"ansatz,omitempty" validate:"omitempty,oneof=uccsd ucc1 ucc3"`

	// Module is the path to the WASM plugin (wasm only).
	Module string `json:"module,omitempty"`

	// Command launches the remote runner process (remote only). With Host
	// set it runs on the remote host; otherwise as a local subprocess.
	Command []string `json:"command,omitempty"`

	// Host runs Command over SSH on the named host (remote only).
	Host string `json:"host,omitempty"`

	// User is the SSH user for Host. Empty selects the local username.
	User string `json:"user,omitempty"`

	// KeyPath is the SSH private key for Host. Empty tries the default
	// key locations.
	KeyPath string `json:"key_path,omitempty"`

	// Options are the per-solve options forwarded on every adapter call.
	Options solver.Options `json:"options,omitempty"`
}

// PolicyConfig configures admission-policy loading.
type PolicyConfig struct {
	// Enabled turns custom policy loading on. Built-in policies always run.
	Enabled bool `json:"enabled"`

	// Paths lists policy files or directories.
	Paths []string `json:"paths,omitempty"`

	// Watch enables hot reload of the policy paths.
	Watch bool `json:"watch,omitempty"`
}

// StoreConfig configures run persistence.
type StoreConfig struct {
	// Path is the SQLite database path. Empty disables persistence.
	Path string `json:"path,omitempty"`
}

// RunConfig is a complete run description parsed from CUE.
type RunConfig struct {
	// Name labels the run in logs and the store.
	Name string `json:"name,omitempty"`

	// System is the molecular system.
	System SystemConfig `json:"system" validate:"required"`

	// Decompose selects and parameterizes the decomposition method.
	Decompose fragment.Config `json:"decompose" validate:"required"`

	// Loop parameterizes the self-consistency loop.
	Loop embedding.Config `json:"loop,omitempty"`

	// Screening damps the initial mean-field potentials.
	Screening float64 `json:"screening,omitempty" validate:"omitempty,gte=0"`

	// Solver selects the backend.
	Solver SolverConfig `json:"solver" validate:"required"`

	// Dispatch parameterizes the concurrent dispatcher.
	Dispatch dispatch.Config `json:"dispatch,omitempty"`

	// Rule names the aggregation rule. Zero selects additive.
	Rule string `json:"rule,omitempty" validate:"omitempty,oneof=additive double-counting-corrected"`

	// Policy configures admission-policy loading.
	Policy *PolicyConfig `json:"policy,omitempty"`

	// Store configures run persistence.
	Store *StoreConfig `json:"store,omitempty"`
}

// ParsedConfig is the result of parsing one or more CUE sources.
type ParsedConfig struct {
	// Run is the run configuration.
	Run RunConfig `json:"run"`

	// SourceFiles are the CUE files that were parsed.
	SourceFiles []string `json:"source_files"`

	// ParsedAt is when the configuration was parsed.
	ParsedAt time.Time `json:"parsed_at"`

	// Errors lists any validation errors.
	Errors []ValidationError `json:"errors,omitempty"`
}

// ValidationError is a validation error with source location information.
type ValidationError struct {
	// File is the source file path.
	File string `json:"file,omitempty"`

	// Line is the line number (1-indexed).
	Line int `json:"line,omitempty"`

	// Column is the column number (1-indexed).
	Column int `json:"column,omitempty"`

	// Path is the CUE path to the error (e.g. "run.system.basis").
	Path string `json:"path,omitempty"`

	// Message is the error message.
	Message string `json:"message"`

	// Severity is the error severity (error, warning, info).
	Severity string `json:"severity" validate:"required,oneof=error warning info"`
}

func (e ValidationError) Error() string {
	if e.File != "" {
		return fmt.Sprintf("%s:%d:%d: %s", e.File, e.Line, e.Column, e.Message)
	}
	if e.Path != "" {
		return fmt.Sprintf("%s: %s", e.Path, e.Message)
	}
	return e.Message
}

// StarlarkResult is the result of a Starlark evaluation.
type StarlarkResult struct {
	// Output holds the script's exported globals.
	Output map[string]interface{} `json:"output,omitempty"`

	// ExecutionTime is how long the script took to execute.
	ExecutionTime time.Duration `json:"execution_time"`

	// Error is any error that occurred.
	Error string `json:"error,omitempty"`
}

// ToModel builds the system model from the configuration. Geometry scripts
// must already have been expanded into Atoms by the parser.
func (sc *SystemConfig) ToModel() (*system.Model, error) {
	mult := sc.Multiplicity
	if mult == 0 {
		mult = 1
	}
	if sc.Library != "" {
		if len(sc.Atoms) > 0 || sc.Geometry != nil {
			return nil, fmt.Errorf("system: library excludes atoms and geometry")
		}
		return system.FromLibrary(sc.Library, sc.Basis)
	}
	if len(sc.Atoms) == 0 {
		return nil, fmt.Errorf("system: no atoms (set library, atoms, or geometry)")
	}
	atoms := make([]system.Atom, len(sc.Atoms))
	for i, a := range sc.Atoms {
		atoms[i] = system.Atom{Symbol: a.Symbol, Position: a.Position}
	}
	return system.New(atoms, sc.Charge, mult, sc.Basis)
}

// WorkflowConfig converts the run configuration into the workflow's shape.
func (rc *RunConfig) WorkflowConfig() embedding.WorkflowConfig {
	return embedding.WorkflowConfig{
		Decompose: rc.Decompose,
		Loop:      rc.Loop,
		Screening: rc.Screening,
	}
}
