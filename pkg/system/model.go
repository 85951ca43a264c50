package system

import (
	"fmt"
	"sort"
	"strings"
)

// Atom is a single atomic site: an element symbol and a Cartesian position
// in angstroms.
type Atom struct {
	// Symbol is the element symbol (e.g. "H", "O", "Na").
	Symbol string `json:"symbol"`

	// Position is the Cartesian position in angstroms.
	Position [3]float64 `json:"position"`
}

// Lattice describes optional periodic boundary conditions.
type Lattice struct {
	// Vectors are the three lattice vectors in angstroms.
	Vectors [3][3]float64 `json:"vectors"`

	// Periodic marks which of the three directions are periodic.
	Periodic [3]bool `json:"periodic"`
}

// Model is the immutable description of the full system. All fields are
// private; accessors return copies so callers can never mutate a published
// Model.
type Model struct {
	atoms        []Atom
	charge       int
	multiplicity int
	basis        string
	lattice      *Lattice
}

// New constructs a molecular Model and validates it. The atom slice is
// copied; the caller keeps ownership of its argument.
func New(atoms []Atom, charge, multiplicity int, basis string) (*Model, error) {
	return newModel(atoms, charge, multiplicity, basis, nil)
}

// NewPeriodic constructs a Model with periodic lattice metadata.
func NewPeriodic(atoms []Atom, charge, multiplicity int, basis string, lattice Lattice) (*Model, error) {
	l := lattice
	return newModel(atoms, charge, multiplicity, basis, &l)
}

func newModel(atoms []Atom, charge, multiplicity int, basis string, lattice *Lattice) (*Model, error) {
	m := &Model{
		atoms:        append([]Atom(nil), atoms...),
		charge:       charge,
		multiplicity: multiplicity,
		basis:        basis,
		lattice:      lattice,
	}
	if err := m.validate(); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Model) validate() error {
	if len(m.atoms) == 0 {
		return fmt.Errorf("model has no atoms")
	}
	if m.basis == "" {
		return fmt.Errorf("model has no basis identifier")
	}
	if m.multiplicity < 1 {
		return fmt.Errorf("spin multiplicity must be >= 1, got %d", m.multiplicity)
	}
	for i, a := range m.atoms {
		if !KnownElement(a.Symbol) {
			return fmt.Errorf("atom %d: unknown element symbol %q", i, a.Symbol)
		}
	}
	n, err := m.electronCount()
	if err != nil {
		return err
	}
	if n < 0 {
		return fmt.Errorf("charge %d leaves a negative electron count", m.charge)
	}
	// The number of unpaired electrons is multiplicity-1; it must share
	// parity with the total electron count.
	if n%2 != (m.multiplicity-1)%2 {
		return fmt.Errorf("multiplicity %d is inconsistent with %d electrons", m.multiplicity, n)
	}
	return nil
}

func (m *Model) electronCount() (int, error) {
	n := 0
	for _, a := range m.atoms {
		z, err := AtomicNumber(a.Symbol)
		if err != nil {
			return 0, err
		}
		n += z
	}
	return n - m.charge, nil
}

// Atoms returns a copy of the atom list.
func (m *Model) Atoms() []Atom {
	return append([]Atom(nil), m.atoms...)
}

// Atom returns the atom at index i.
func (m *Model) Atom(i int) Atom {
	return m.atoms[i]
}

// NAtoms returns the number of atomic sites.
func (m *Model) NAtoms() int { return len(m.atoms) }

// Charge returns the total charge.
func (m *Model) Charge() int { return m.charge }

// Multiplicity returns the spin multiplicity (2S+1).
func (m *Model) Multiplicity() int { return m.multiplicity }

// Basis returns the basis set identifier.
func (m *Model) Basis() string { return m.basis }

// NElectrons returns the total electron count.
func (m *Model) NElectrons() int {
	n, _ := m.electronCount() // validated at construction
	return n
}

// Lattice returns a copy of the lattice metadata, if any.
func (m *Model) Lattice() (Lattice, bool) {
	if m.lattice == nil {
		return Lattice{}, false
	}
	return *m.lattice, true
}

// Periodic reports whether the model carries periodic metadata.
func (m *Model) Periodic() bool { return m.lattice != nil }

// Formula returns the Hill-ordered molecular formula (e.g. "H2O").
func (m *Model) Formula() string {
	counts := make(map[string]int)
	for _, a := range m.atoms {
		counts[a.Symbol]++
	}
	symbols := make([]string, 0, len(counts))
	for s := range counts {
		symbols = append(symbols, s)
	}
	sort.Slice(symbols, func(i, j int) bool {
		// Hill order: C first, H second, the rest alphabetical.
		rank := func(s string) int {
			switch s {
			case "C":
				return 0
			case "H":
				return 1
			default:
				return 2
			}
		}
		if rank(symbols[i]) != rank(symbols[j]) {
			return rank(symbols[i]) < rank(symbols[j])
		}
		return symbols[i] < symbols[j]
	})
	var b strings.Builder
	for _, s := range symbols {
		b.WriteString(s)
		if counts[s] > 1 {
			fmt.Fprintf(&b, "%d", counts[s])
		}
	}
	return b.String()
}

// String returns a short human-readable description.
func (m *Model) String() string {
	return fmt.Sprintf("%s charge=%d mult=%d basis=%s", m.Formula(), m.charge, m.multiplicity, m.basis)
}
