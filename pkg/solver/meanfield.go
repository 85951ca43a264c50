package solver

import (
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/openqembed/openqembed/pkg/fragment"
	"github.com/openqembed/openqembed/pkg/system"
)

// MeanField builds the initial embedding environments from the molecular
// geometry: each fragment orbital feels a screened Coulomb potential from
// the nuclei outside the fragment. This is the zeroth iteration's guess;
// the embedding loop refines it from solver densities afterwards.
type MeanField struct {
	// Screening damps the bare 1/r nuclear attraction. Zero selects the
	// default of 1.0 (no screening).
	Screening float64
}

// bohrPerAngstrom converts the model's Cartesian coordinates to atomic units.
const bohrPerAngstrom = 1.8897259886

// InitialEnvironments returns one zero-iteration environment per fragment,
// with the potential seeded from the environment nuclei.
func (m MeanField) InitialEnvironments(model *system.Model, fragments []fragment.Fragment) ([]fragment.Environment, error) {
	screening := m.Screening
	if screening == 0 {
		screening = 1.0
	}
	atoms := model.Atoms()

	// Per-atom orbital hosts: fragment orbital indices are contiguous per
	// atom, in atom order, matching the decomposer's layout.
	counts := make([]int, len(atoms))
	charges := make([]int, len(atoms))
	for ai, atom := range atoms {
		z, err := system.AtomicNumber(atom.Symbol)
		if err != nil {
			return nil, err
		}
		charges[ai] = z
		counts[ai] = fragment.OrbitalsForElement(z)
	}

	envs := make([]fragment.Environment, 0, len(fragments))
	for _, frag := range fragments {
		inFragment := make(map[int]bool, len(frag.AtomIndices))
		for _, ai := range frag.AtomIndices {
			inFragment[ai] = true
		}

		hosts := make([]int, 0, frag.NOrbitals())
		for _, ai := range frag.AtomIndices {
			for k := 0; k < counts[ai]; k++ {
				hosts = append(hosts, ai)
			}
		}

		n := frag.NOrbitals()
		pot := mat.NewSymDense(n, nil)
		for oi := 0; oi < n && oi < len(hosts); oi++ {
			host := hosts[oi]
			v := 0.0
			for ai, atom := range atoms {
				if inFragment[ai] {
					continue
				}
				r := distance(atoms[host].Position, atom.Position) * bohrPerAngstrom
				if r == 0 {
					continue
				}
				v -= screening * float64(charges[ai]) / r
			}
			pot.SetSym(oi, oi, v)
		}

		env := fragment.NewEnvironment(frag.ID, n)
		envs = append(envs, env.WithPotential(pot, 0))
	}
	return envs, nil
}

func distance(a, b [3]float64) float64 {
	dx := a[0] - b[0]
	dy := a[1] - b[1]
	dz := a[2] - b[2]
	return math.Sqrt(dx*dx + dy*dy + dz*dz)
}
