package solver

import (
	"context"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// Exact is the built-in correlated-solver capability: it diagonalizes the
// embedded one-particle Hamiltonian directly and fills the resulting
// orbitals by aufbau. For the toy systems in the molecule library the
// embedding potential is the whole active-space Hamiltonian, so direct
// diagonalization is exact there. Production runs replace it with an
// external routine behind the same CorrelatedSolver interface.
type Exact struct{}

var _ CorrelatedSolver = Exact{}

// Name implements CorrelatedSolver.
func (Exact) Name() string { return "exact" }

// Compute implements CorrelatedSolver.
func (Exact) Compute(ctx context.Context, spec ActiveSpaceSpec) (ClassicalOutput, error) {
	if err := ctx.Err(); err != nil {
		return ClassicalOutput{}, err
	}
	n := spec.Orbitals
	if n <= 0 {
		return ClassicalOutput{}, fmt.Errorf("active space has no orbitals")
	}
	if spec.Electrons < 0 || spec.Electrons > 2*n {
		return ClassicalOutput{}, fmt.Errorf("%d electrons do not fit %d orbitals", spec.Electrons, n)
	}
	if spec.Potential == nil || spec.Potential.SymmetricDim() != n {
		return ClassicalOutput{}, fmt.Errorf("embedding potential does not match %d active orbitals", n)
	}

	var eig mat.EigenSym
	if !eig.Factorize(spec.Potential, true) {
		return ClassicalOutput{}, fmt.Errorf("diagonalization of the embedded Hamiltonian failed")
	}
	values := eig.Values(nil)
	var vectors mat.Dense
	eig.VectorsTo(&vectors)

	// Eigenvalues come out ascending, so aufbau filling is a single sweep.
	occupations := make([]float64, n)
	remaining := float64(spec.Electrons)
	energy := 0.0
	for i := 0; i < n && remaining > 0; i++ {
		occupations[i] = math.Min(2, remaining)
		remaining -= occupations[i]
		energy += occupations[i] * values[i]
	}

	// The chemical potential shifts the fragment energy by -mu*N to balance
	// electron counts across fragments.
	energy -= spec.ChemicalPotential * float64(spec.Electrons)

	// Back-transform the natural-orbital occupations into the fragment
	// orbital basis: D = C diag(occ) C^T.
	density := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			v := 0.0
			for k := 0; k < n; k++ {
				v += vectors.At(i, k) * occupations[k] * vectors.At(j, k)
			}
			density.SetSym(i, j, v)
		}
	}

	return ClassicalOutput{
		Energy:      energy,
		Density:     density,
		Occupations: occupations,
	}, nil
}
