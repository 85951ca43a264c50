package embedding

import (
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/openqembed/openqembed/pkg/fragment"
	"github.com/openqembed/openqembed/pkg/solver"
)

// Updater derives the next iteration's environments from the current ones
// and the fragment results. Implementations must not mutate their inputs;
// they return fresh environments stamped with the next iteration number.
type Updater interface {
	Name() string
	Update(envs []fragment.Environment, results []*solver.FragmentResult, iteration int) ([]fragment.Environment, error)
}

// NoopUpdater returns the environments unchanged (restamped with the new
// iteration). With it the loop converges after the first iteration; this is
// the updater for one-shot calculations.
type NoopUpdater struct{}

// Name implements Updater.
func (NoopUpdater) Name() string { return "noop" }

// Update implements Updater.
func (NoopUpdater) Update(envs []fragment.Environment, results []*solver.FragmentResult, iteration int) ([]fragment.Environment, error) {
	if len(envs) != len(results) {
		return nil, fmt.Errorf("updater: %d environments for %d results", len(envs), len(results))
	}
	next := make([]fragment.Environment, len(envs))
	for i, env := range envs {
		next[i] = env.WithPotential(env.Potential, iteration)
	}
	return next, nil
}

// DensityUpdater mixes each fragment's returned density into its embedding
// potential: orbitals holding more than their reference occupation push the
// potential up, under-occupied ones pull it down. Mixing damps oscillation
// between iterations.
type DensityUpdater struct {
	// Mixing in (0,1] is the fraction of the new potential blended in per
	// iteration. Zero selects 0.5.
	Mixing float64

	// Coupling scales the density-deviation feedback. Zero selects 1.0.
	Coupling float64
}

// Name implements Updater.
func (DensityUpdater) Name() string { return "density-mixing" }

// Update implements Updater.
func (u DensityUpdater) Update(envs []fragment.Environment, results []*solver.FragmentResult, iteration int) ([]fragment.Environment, error) {
	if len(envs) != len(results) {
		return nil, fmt.Errorf("updater: %d environments for %d results", len(envs), len(results))
	}
	mixing := u.Mixing
	if mixing == 0 {
		mixing = 0.5
	}
	if mixing < 0 || mixing > 1 {
		return nil, fmt.Errorf("updater: mixing %v outside (0,1]", mixing)
	}
	coupling := u.Coupling
	if coupling == 0 {
		coupling = 1.0
	}

	next := make([]fragment.Environment, len(envs))
	for i, env := range envs {
		res := results[i]
		if res == nil || !res.Succeeded() {
			return nil, fmt.Errorf("updater: fragment %s has no successful result", env.FragmentID)
		}
		if res.FragmentID != env.FragmentID {
			return nil, fmt.Errorf("updater: result %s misaligned with environment %s", res.FragmentID, env.FragmentID)
		}
		if res.Density == nil {
			// Backends without densities keep their potential frozen.
			next[i] = env.WithPotential(env.Potential, iteration)
			continue
		}

		n := env.Potential.SymmetricDim()
		if res.Density.SymmetricDim() != n {
			return nil, fmt.Errorf("updater: density dimension %d does not match potential dimension %d for %s",
				res.Density.SymmetricDim(), n, env.FragmentID)
		}

		// Reference occupation is the half-filled diagonal: deviation from
		// it drives the potential shift.
		target := mat.NewSymDense(n, nil)
		for r := 0; r < n; r++ {
			for c := r; c < n; c++ {
				shift := coupling * res.Density.At(r, c)
				if r == c {
					shift = coupling * (res.Density.At(r, r) - 1.0)
				}
				mixed := (1-mixing)*env.Potential.At(r, c) + mixing*shift
				target.SetSym(r, c, mixed)
			}
		}
		next[i] = env.WithPotential(target, iteration)
	}
	return next, nil
}
