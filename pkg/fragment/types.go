package fragment

import (
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/openqembed/openqembed/pkg/system"
)

// ActiveSpace bounds the correlated treatment of a fragment.
type ActiveSpace struct {
	// Electrons is the number of electrons treated explicitly.
	Electrons int `json:"electrons"`

	// Orbitals is the number of spatial orbitals treated explicitly.
	Orbitals int `json:"orbitals"`
}

// Fragment is an immutable subset of the system's degrees of freedom.
// Fragments are created by a Decomposer and only ever consumed as inputs
// to solve calls.
type Fragment struct {
	// ID is the deterministic fragment identifier ("frag-0", "frag-1", ...).
	ID string `json:"id"`

	// AtomIndices are the indices into the model's atom list.
	AtomIndices []int `json:"atom_indices"`

	// OrbitalIndices are the indices of the fragment orbitals in the
	// system-wide minimal-basis ordering.
	OrbitalIndices []int `json:"orbital_indices"`

	// ActiveSpace is the correlated active-space specification.
	ActiveSpace ActiveSpace `json:"active_space"`
}

// NOrbitals returns the number of fragment orbitals.
func (f Fragment) NOrbitals() int { return len(f.OrbitalIndices) }

// Clone returns a deep copy. Fragments handed to solvers are value copies
// already; Clone exists for callers that need to retain index slices.
func (f Fragment) Clone() Fragment {
	out := f
	out.AtomIndices = append([]int(nil), f.AtomIndices...)
	out.OrbitalIndices = append([]int(nil), f.OrbitalIndices...)
	return out
}

// Environment captures the approximated effect of the rest of the system on
// one fragment: an embedding potential over the fragment orbitals plus a
// global chemical potential. Exactly one Environment is current per fragment
// per embedding iteration; updates produce new instances.
type Environment struct {
	// FragmentID identifies the fragment this environment embeds.
	FragmentID string `json:"fragment_id"`

	// Iteration is the embedding-loop iteration this environment belongs to.
	Iteration int `json:"iteration"`

	// Potential is the embedding potential over the fragment orbitals.
	Potential *mat.SymDense `json:"-"`

	// ChemicalPotential balances electron counts across fragments.
	ChemicalPotential float64 `json:"chemical_potential"`
}

// NewEnvironment builds a zero-potential environment for a fragment.
func NewEnvironment(fragmentID string, nOrbitals int) Environment {
	return Environment{
		FragmentID: fragmentID,
		Potential:  mat.NewSymDense(nOrbitals, nil),
	}
}

// WithPotential returns a new Environment for the given iteration carrying a
// copy of the supplied potential. The receiver is left untouched.
func (e Environment) WithPotential(p *mat.SymDense, iteration int) Environment {
	out := e
	out.Iteration = iteration
	if p != nil {
		n := p.SymmetricDim()
		cp := mat.NewSymDense(n, nil)
		cp.CopySym(p)
		out.Potential = cp
	}
	return out
}

// Clone returns a deep copy, including the potential matrix.
func (e Environment) Clone() Environment {
	return e.WithPotential(e.Potential, e.Iteration)
}

// PotentialDelta returns the Frobenius-norm difference between this environment's
// potential and another's. It is the convergence observable tracked by the
// embedding loop.
func (e Environment) PotentialDelta(prev Environment) (float64, error) {
	if e.Potential == nil || prev.Potential == nil {
		return 0, fmt.Errorf("environment %s: missing potential", e.FragmentID)
	}
	n := e.Potential.SymmetricDim()
	if prev.Potential.SymmetricDim() != n {
		return 0, fmt.Errorf("environment %s: potential dimension changed between iterations", e.FragmentID)
	}
	var diff mat.Dense
	diff.Sub(e.Potential, prev.Potential)
	return mat.Norm(&diff, 2), nil
}

// OrbitalsForElement returns the number of spatial orbitals the element with
// atomic number z contributes in a minimal basis.
func OrbitalsForElement(z int) int {
	switch {
	case z <= 0:
		return 0
	case z <= 2:
		return 1 // 1s
	case z <= 10:
		return 5 // 1s 2s 2p
	default:
		return 9 // 1s 2s 2p 3s 3p
	}
}

// orbitalsPerAtom is OrbitalsForElement keyed by element symbol.
func orbitalsPerAtom(symbol string) int {
	z, err := system.AtomicNumber(symbol)
	if err != nil {
		return 0
	}
	return OrbitalsForElement(z)
}
