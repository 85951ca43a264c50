package solver

import (
	"context"

	"github.com/openqembed/openqembed/pkg/fragment"
)

// Options are per-call solve options shared by all adapters. Adapter
// construction fixes the backend-specific configuration; Options carries
// only what the workflow may vary between calls.
type Options struct {
	// Iteration is the embedding-loop iteration the solve belongs to;
	// stamped onto the FragmentResult.
	Iteration int `json:"iteration"`

	// Tolerance is the solver convergence threshold. Zero selects the
	// adapter default.
	Tolerance float64 `json:"tolerance,omitempty"`

	// MaxCycles bounds the solver's internal iteration count. Zero selects
	// the adapter default.
	MaxCycles int `json:"max_cycles,omitempty"`

	// Shots overrides the measurement shot count for sampling backends.
	// Zero selects the adapter default (exact expectation values where the
	// backend supports them).
	Shots int `json:"shots,omitempty"`
}

// Adapter solves one embedded fragment. Implementations must be safe for
// concurrent calls with different fragments, must classify every failure as
// a *SolverError, and must never return non-finite energies.
type Adapter interface {
	// Name returns the backend name used in provenance and logging.
	Name() string

	// Solve computes the fragment property under the given environment.
	Solve(ctx context.Context, frag fragment.Fragment, env fragment.Environment, opts Options) (*FragmentResult, error)
}

// validateInput performs the shared fragment/environment checks all built-in
// adapters apply before touching their backend.
func validateInput(backend string, frag fragment.Fragment, env fragment.Environment) *SolverError {
	if len(frag.OrbitalIndices) == 0 {
		return NewInvalidInput(backend, "fragment "+frag.ID+" has no orbitals", nil)
	}
	if frag.ActiveSpace.Orbitals <= 0 || frag.ActiveSpace.Electrons < 0 {
		return NewInvalidInput(backend, "fragment "+frag.ID+" has an empty active space", nil)
	}
	if env.FragmentID != frag.ID {
		return NewInvalidInput(backend, "environment belongs to "+env.FragmentID+", not "+frag.ID, nil)
	}
	if env.Potential == nil {
		return NewInvalidInput(backend, "environment for "+frag.ID+" has no potential", nil)
	}
	if env.Potential.SymmetricDim() != frag.NOrbitals() {
		return NewInvalidInput(backend, "embedding potential dimension does not match fragment orbitals", nil)
	}
	return nil
}
