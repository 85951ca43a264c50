package solver

import (
	"context"
	"fmt"
	"time"

	"gonum.org/v1/gonum/mat"

	"github.com/openqembed/openqembed/pkg/fragment"
)

// ActiveSpaceSpec is the input handed to an external correlated-wavefunction
// routine: the embedded active-space problem, stripped of any knowledge of
// how the fragment was carved out.
type ActiveSpaceSpec struct {
	// Electrons and Orbitals size the active space.
	Electrons int
	Orbitals  int

	// Potential is the embedding potential over the active orbitals.
	Potential *mat.SymDense

	// ChemicalPotential is the global electron-count balancing term.
	ChemicalPotential float64

	// Method selects the correlated method (e.g. "ccsd", "fci").
	Method string

	// Tolerance and MaxCycles bound the routine's own iteration.
	Tolerance float64
	MaxCycles int
}

// ClassicalOutput is what a correlated-wavefunction routine returns.
type ClassicalOutput struct {
	// Energy is the active-space energy in hartree.
	Energy float64

	// Density is the one-particle reduced density matrix, optional.
	Density *mat.SymDense

	// Occupations are the natural-orbital occupations, optional.
	Occupations []float64
}

// CorrelatedSolver is the external classical solver capability. It is
// wrapped unmodified by the Classical adapter.
type CorrelatedSolver interface {
	Name() string
	Compute(ctx context.Context, spec ActiveSpaceSpec) (ClassicalOutput, error)
}

// ClassicalConfig parameterizes the Classical adapter.
type ClassicalConfig struct {
	// Method is the correlated method passed through to the routine.
	Method string `json:"method" validate:"required"`

	// Tolerance is the default convergence threshold.
	Tolerance float64 `json:"tolerance,omitempty" validate:"omitempty,gt=0"`

	// MaxCycles is the default iteration bound.
	MaxCycles int `json:"max_cycles,omitempty" validate:"omitempty,min=1"`
}

// Classical wraps an existing correlated-wavefunction routine as a solver
// adapter. The routine is invoked with the fragment's active-space
// specification; its output is checked for finiteness and shape before it
// is accepted.
type Classical struct {
	engine CorrelatedSolver
	cfg    ClassicalConfig
}

// NewClassical builds a Classical adapter around the given routine.
func NewClassical(engine CorrelatedSolver, cfg ClassicalConfig) (*Classical, error) {
	if engine == nil {
		return nil, fmt.Errorf("classical adapter requires a correlated solver capability")
	}
	if cfg.Method == "" {
		return nil, fmt.Errorf("classical adapter requires a method name")
	}
	if cfg.Tolerance == 0 {
		cfg.Tolerance = 1e-8
	}
	if cfg.MaxCycles == 0 {
		cfg.MaxCycles = 200
	}
	return &Classical{engine: engine, cfg: cfg}, nil
}

// Name implements Adapter.
func (c *Classical) Name() string {
	return "classical/" + c.engine.Name() + "/" + c.cfg.Method
}

// Solve implements Adapter.
func (c *Classical) Solve(ctx context.Context, frag fragment.Fragment, env fragment.Environment, opts Options) (*FragmentResult, error) {
	start := time.Now()
	if serr := validateInput(c.Name(), frag, env); serr != nil {
		return nil, serr
	}

	spec := ActiveSpaceSpec{
		Electrons:         frag.ActiveSpace.Electrons,
		Orbitals:          frag.ActiveSpace.Orbitals,
		Potential:         env.Potential,
		ChemicalPotential: env.ChemicalPotential,
		Method:            c.cfg.Method,
		Tolerance:         c.cfg.Tolerance,
		MaxCycles:         c.cfg.MaxCycles,
	}
	if opts.Tolerance > 0 {
		spec.Tolerance = opts.Tolerance
	}
	if opts.MaxCycles > 0 {
		spec.MaxCycles = opts.MaxCycles
	}

	out, err := c.engine.Compute(ctx, spec)
	if err != nil {
		return nil, Classify(c.Name(), err)
	}
	if !finite(out.Energy) {
		return nil, NewNonConvergence(c.Name(), fmt.Sprintf("non-finite energy %v for %s", out.Energy, frag.ID), nil)
	}
	if out.Density != nil && out.Density.SymmetricDim() != frag.NOrbitals() {
		return nil, NewNonConvergence(c.Name(),
			fmt.Sprintf("density dimension %d does not match %d fragment orbitals", out.Density.SymmetricDim(), frag.NOrbitals()), nil)
	}
	for _, occ := range out.Occupations {
		if !finite(occ) {
			return nil, NewNonConvergence(c.Name(), "non-finite orbital occupation for "+frag.ID, nil)
		}
	}

	return &FragmentResult{
		FragmentID:  frag.ID,
		Iteration:   opts.Iteration,
		Energy:      out.Energy,
		Density:     out.Density,
		Occupations: append([]float64(nil), out.Occupations...),
		Status:      StatusSucceeded,
		Backend:     c.Name(),
		Attempts:    1,
		WallTime:    time.Since(start),
	}, nil
}
