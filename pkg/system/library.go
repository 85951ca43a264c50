package system

import (
	"fmt"
	"math"
)

// Toy systems used by the test suite and examples. Geometries follow the
// standard gas-phase values used in the quantum-chemistry literature.

// H2 returns dihydrogen at the equilibrium bond length.
func H2(basis string) (*Model, error) {
	return New([]Atom{
		{Symbol: "H", Position: [3]float64{0, 0, 0}},
		{Symbol: "H", Position: [3]float64{0, 0, 0.7414}},
	}, 0, 1, basis)
}

// H4 returns the four-atom hydrogen cluster used as the canonical
// two-fragment decomposition test case.
func H4(basis string) (*Model, error) {
	return New([]Atom{
		{Symbol: "H", Position: [3]float64{0.7071067811865476, 0, 0}},
		{Symbol: "H", Position: [3]float64{0, 0.7071067811865476, 0}},
		{Symbol: "H", Position: [3]float64{-1.0071067811865476, 0, 0}},
		{Symbol: "H", Position: [3]float64{0, -1.0071067811865476, 0}},
	}, 0, 1, basis)
}

// H4Cation returns the singly charged H4 cluster (doublet).
func H4Cation(basis string) (*Model, error) {
	m, err := H4(basis)
	if err != nil {
		return nil, err
	}
	return New(m.Atoms(), 1, 2, basis)
}

// HRing returns n hydrogen atoms evenly spaced on a ring with the given
// nearest-neighbour distance. n must be even for a closed-shell singlet.
func HRing(n int, spacing float64, basis string) (*Model, error) {
	radius := spacing / (2 * math.Sin(math.Pi/float64(n)))
	atoms := make([]Atom, n)
	for i := range atoms {
		theta := 2 * math.Pi * float64(i) / float64(n)
		atoms[i] = Atom{
			Symbol:   "H",
			Position: [3]float64{radius * math.Cos(theta), radius * math.Sin(theta), 0},
		}
	}
	mult := 1
	if n%2 != 0 {
		mult = 2
	}
	return New(atoms, 0, mult, basis)
}

// H10Ring returns the ten-atom hydrogen ring benchmark system.
func H10Ring(basis string) (*Model, error) {
	return HRing(10, 0.6, basis)
}

// Water returns the water molecule at its experimental geometry.
func Water(basis string) (*Model, error) {
	return New([]Atom{
		{Symbol: "O", Position: [3]float64{0, 0, 0.11779}},
		{Symbol: "H", Position: [3]float64{0, 0.75545, -0.47116}},
		{Symbol: "H", Position: [3]float64{0, -0.75545, -0.47116}},
	}, 0, 1, basis)
}

// NaH returns sodium hydride.
func NaH(basis string) (*Model, error) {
	return New([]Atom{
		{Symbol: "Na", Position: [3]float64{0, 0, 0}},
		{Symbol: "H", Position: [3]float64{0, 0, 1.91439}},
	}, 0, 1, basis)
}

// FromLibrary returns the named library system. Names match the molecular
// formula: H2, H4, H4+, H10-ring, H2O, NaH.
func FromLibrary(name, basis string) (*Model, error) {
	switch name {
	case "H2":
		return H2(basis)
	case "H4":
		return H4(basis)
	case "H4+":
		return H4Cation(basis)
	case "H10-ring":
		return H10Ring(basis)
	case "H2O":
		return Water(basis)
	case "NaH":
		return NaH(basis)
	default:
		return nil, fmt.Errorf("unknown library system %q", name)
	}
}
