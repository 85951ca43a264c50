package config

import (
	"context"
	"fmt"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
)

// SchemaRegistry manages CUE schemas for validation.
type SchemaRegistry struct {
	ctx     *cue.Context
	schemas map[string]cue.Value
	mu      sync.RWMutex
}

// NewSchemaRegistry creates a new schema registry with built-in schemas.
func NewSchemaRegistry() *SchemaRegistry {
	ctx := cuecontext.New()
	sr := &SchemaRegistry{
		ctx:     ctx,
		schemas: make(map[string]cue.Value),
	}

	sr.registerBuiltInSchemas()

	return sr
}

// registerBuiltInSchemas registers all built-in schemas.
func (sr *SchemaRegistry) registerBuiltInSchemas() {
	sr.RegisterSchema("system", builtinSystemSchema)
	sr.RegisterSchema("decompose", builtinDecomposeSchema)
	sr.RegisterSchema("solver", builtinSolverSchema)
	sr.RegisterSchema("run", builtinRunSchema)
}

// RegisterSchema registers a CUE schema with the given name.
func (sr *SchemaRegistry) RegisterSchema(name, schema string) error {
	sr.mu.Lock()
	defer sr.mu.Unlock()

	val := sr.ctx.CompileString(schema)
	if err := val.Err(); err != nil {
		return fmt.Errorf("failed to compile schema %s: %w", name, err)
	}

	sr.schemas[name] = val
	return nil
}

// GetSchema retrieves a schema by name.
func (sr *SchemaRegistry) GetSchema(name string) (cue.Value, bool) {
	sr.mu.RLock()
	defer sr.mu.RUnlock()

	val, ok := sr.schemas[name]
	return val, ok
}

// ValidateAgainstSchema validates data against a named schema.
func (sr *SchemaRegistry) ValidateAgainstSchema(ctx context.Context, schemaName string, data interface{}) error {
	schema, ok := sr.GetSchema(schemaName)
	if !ok {
		return fmt.Errorf("schema %s not found", schemaName)
	}

	dataVal := sr.ctx.Encode(data)
	if err := dataVal.Err(); err != nil {
		return fmt.Errorf("failed to encode data: %w", err)
	}

	// Unify with schema (validates)
	unified := schema.Unify(dataVal)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	return nil
}

// ListSchemas returns all registered schema names.
func (sr *SchemaRegistry) ListSchemas() []string {
	sr.mu.RLock()
	defer sr.mu.RUnlock()

	names := make([]string, 0, len(sr.schemas))
	for name := range sr.schemas {
		names = append(names, name)
	}
	return names
}

// Built-in schema definitions

const builtinSystemSchema = `
// System schema for molecular system definitions
#System: {
	// Library names a molecule from the built-in library
	library?: string

	// Atoms is the literal atom list
	atoms?: [...#Atom]

	// Geometry generates the atom list with Starlark
	geometry?: {
		script: string
		input?: {...}
	}

	// Charge is the total charge
	charge?: int

	// Multiplicity is the spin multiplicity (2S+1)
	multiplicity?: int & >=1

	// Basis is the basis set identifier
	basis: string & !=""
}

#Atom: {
	// Symbol is the element symbol
	symbol: string & =~"^[A-Z][a-z]?$"

	// Position is the Cartesian position in angstroms
	position: [number, number, number]
}
`

const builtinDecomposeSchema = `
// Decompose schema for fragment decomposition configuration
#Decompose: {
	// Method is the decomposition method name
	method: "atom-partition" | "single"

	// FragmentSize is the number of atoms per fragment
	fragment_size?: int & >=1

	// ActiveElectrons caps the per-fragment active electrons
	active_electrons?: int & >=0

	// ActiveOrbitals caps the per-fragment active orbitals
	active_orbitals?: int & >=0
}
`

const builtinSolverSchema = `
// Solver schema for backend selection
#Solver: {
	// Backend is the backend family
	backend: "classical" | "vqe" | "wasm" | "remote"

	// Ansatz selects the variational circuit family (vqe only)
	ansatz?: "uccsd" | "ucc1" | "ucc3"

	// Module is the path to the WASM plugin (wasm only)
	module?: string

	// Command launches the remote runner process (remote only)
	command?: [...string]

	// Host runs the command over SSH on the named host (remote only)
	host?: string

	// User is the SSH user for host
	user?: string

	// KeyPath is the SSH private key for host
	key_path?: string

	// Options are forwarded on every solve
	options?: {
		tolerance?:  number & >0
		max_cycles?: int & >=1
		shots?:      int & >=0
	}

	if backend == "wasm" {
		module: string & !=""
	}
	if backend == "remote" {
		command: [string, ...string]
	}
}
`

const builtinRunSchema = `
// Run schema for complete run descriptions
#Run: {
	// Name labels the run
	name?: string & =~"^[a-zA-Z0-9_-]+$"

	system: {...}
	decompose: {...}
	solver: {...}

	// Loop parameterizes the self-consistency loop
	loop?: {
		max_iterations?:    int & >=1
		tolerance?:         number & >0
		tolerate_failures?: bool
		solve?: {...}
	}

	// Screening damps the initial mean-field potentials
	screening?: number & >=0

	// Dispatch parameterizes the concurrent dispatcher
	dispatch?: {
		max_parallel?: int & >=1
		max_retries?:  int & >=0
	}

	// Rule names the aggregation rule
	rule?: "additive" | "double-counting-corrected"

	// Policy configures admission-policy loading
	policy?: {
		enabled: bool
		paths?: [...string]
		watch?: bool
	}

	// Store configures run persistence
	store?: {
		path?: string
	}
}
`

// ValidateSystem validates a system configuration against the system schema.
func (sr *SchemaRegistry) ValidateSystem(ctx context.Context, sys SystemConfig) error {
	return sr.ValidateAgainstSchema(ctx, "system", sys)
}

// ValidateSolver validates a solver configuration against the solver schema.
func (sr *SchemaRegistry) ValidateSolver(ctx context.Context, sol SolverConfig) error {
	return sr.ValidateAgainstSchema(ctx, "solver", sol)
}
