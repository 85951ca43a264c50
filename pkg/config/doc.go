// Package config provides CUE configuration parsing and Starlark geometry
// evaluation for embedding runs.
//
// # Overview
//
// A run is described declaratively in CUE: the molecular system, the
// decomposition method, the self-consistency loop, the solver backend,
// dispatch limits, admission policies, and persistence. The parser unifies
// one or more CUE sources, decodes the run configuration, expands any
// Starlark geometry script, and validates the result.
//
// # Usage Example
//
//	parser := config.NewCUEParser()
//	run, err := parser.Load(ctx, []string{"h2.cue"})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	model, err := run.System.ToModel()
//
// # Configuration Structure
//
// A typical run configuration:
//
//	run: {
//	    name: "h2-vqe"
//	    system: {
//	        library: "H2"
//	        basis:   "sto-3g"
//	    }
//	    decompose: {
//	        method:        "atom-partition"
//	        fragment_size: 1
//	    }
//	    solver: {
//	        backend: "vqe"
//	        ansatz:  "uccsd"
//	        options: shots: 4096
//	    }
//	    loop: {
//	        max_iterations: 50
//	        tolerance:      1e-6
//	    }
//	    store: path: "runs.db"
//	}
//
// # Starlark Geometry
//
// The atom list can be generated programmatically. The script assigns an
// "atoms" global:
//
//	system: {
//	    basis: "sto-3g"
//	    geometry: {
//	        script: """
//	            atoms = [{"symbol": "H", "position": [0.0, 0.0, 0.75 * i]}
//	                     for i in range(n)]
//	            """
//	        input: n: 4
//	    }
//	}
//
// Starlark execution is sandboxed: no filesystem or network access, a
// default 30 second timeout, and print suppressed.
//
// # Error Handling
//
// Parsing and validation errors carry source locations:
//
//	ValidationError{
//	    File:     "h2.cue",
//	    Line:     12,
//	    Column:   5,
//	    Message:  "field not allowed",
//	    Severity: "error",
//	}
//
// # Thread Safety
//
// All types in this package are safe for concurrent use.
package config
