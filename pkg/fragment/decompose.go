package fragment

import (
	"fmt"

	"github.com/openqembed/openqembed/pkg/system"
)

// Method names for the built-in decomposers.
const (
	MethodAtomPartition = "atom-partition"
	MethodSingle        = "single"
)

// Config selects and parameterizes a decomposition method.
type Config struct {
	// Method is the decomposition method name.
	Method string `json:"method" validate:"required,oneof=atom-partition single"`

	// FragmentSize is the number of atoms per fragment (atom-partition only).
	FragmentSize int `json:"fragment_size,omitempty" validate:"omitempty,min=1"`

	// ActiveElectrons optionally caps the per-fragment active electrons.
	// Zero means all fragment electrons are active.
	ActiveElectrons int `json:"active_electrons,omitempty" validate:"omitempty,min=0"`

	// ActiveOrbitals optionally caps the per-fragment active orbitals.
	ActiveOrbitals int `json:"active_orbitals,omitempty" validate:"omitempty,min=0"`
}

// Decomposer partitions a system model into fragments and environments.
// Implementations must be deterministic and side-effect free: repeated calls
// with the same inputs yield identical output.
type Decomposer interface {
	// Method returns the method name.
	Method() string

	// Decompose returns index-aligned fragment and environment slices of
	// equal, non-zero length, or a *DecompositionError.
	Decompose(model *system.Model, cfg Config) ([]Fragment, []Environment, error)
}

// ForMethod returns the decomposer registered for the named method.
func ForMethod(method string) (Decomposer, error) {
	switch method {
	case MethodAtomPartition:
		return AtomPartition{}, nil
	case MethodSingle:
		return SingleFragment{}, nil
	default:
		return nil, fmt.Errorf("unknown decomposition method %q", method)
	}
}

// AtomPartition splits the atom list into contiguous non-overlapping blocks
// of cfg.FragmentSize atoms. The final block absorbs any remainder, so the
// blocks cover every atom exactly once.
type AtomPartition struct{}

// Method returns the method name.
func (AtomPartition) Method() string { return MethodAtomPartition }

// Decompose implements Decomposer.
func (d AtomPartition) Decompose(model *system.Model, cfg Config) ([]Fragment, []Environment, error) {
	if model == nil {
		return nil, nil, newDecompositionError(d.Method(), "nil system model")
	}
	n := model.NAtoms()
	size := cfg.FragmentSize
	if size <= 0 {
		return nil, nil, newDecompositionError(d.Method(), "fragment size must be positive, got %d", size)
	}
	if size > n {
		return nil, nil, newDecompositionError(d.Method(), "fragment size %d exceeds system size %d", size, n)
	}

	var fragments []Fragment
	for start := 0; start < n; start += size {
		end := start + size
		if n-end < size {
			// Absorb the remainder into the final fragment rather than
			// leaving a runt block.
			end = n
		}
		atomIdx := make([]int, 0, end-start)
		for i := start; i < end; i++ {
			atomIdx = append(atomIdx, i)
		}
		frag, err := buildFragment(d.Method(), model, len(fragments), atomIdx, cfg)
		if err != nil {
			return nil, nil, err
		}
		fragments = append(fragments, frag)
		if end == n {
			break
		}
	}

	if err := checkCoverage(d.Method(), model, fragments); err != nil {
		return nil, nil, err
	}
	return fragments, buildEnvironments(fragments), nil
}

// SingleFragment treats the whole system as one fragment embedded in an
// empty environment; the embedding loop degenerates to a single pass.
type SingleFragment struct{}

// Method returns the method name.
func (SingleFragment) Method() string { return MethodSingle }

// Decompose implements Decomposer.
func (d SingleFragment) Decompose(model *system.Model, cfg Config) ([]Fragment, []Environment, error) {
	if model == nil {
		return nil, nil, newDecompositionError(d.Method(), "nil system model")
	}
	atomIdx := make([]int, model.NAtoms())
	for i := range atomIdx {
		atomIdx[i] = i
	}
	frag, err := buildFragment(d.Method(), model, 0, atomIdx, cfg)
	if err != nil {
		return nil, nil, err
	}
	fragments := []Fragment{frag}
	return fragments, buildEnvironments(fragments), nil
}

// buildFragment assembles the fragment value object for a validated atom
// index set.
func buildFragment(method string, model *system.Model, ordinal int, atomIdx []int, cfg Config) (Fragment, error) {
	orbitals := make([]int, 0, len(atomIdx))
	electrons := 0
	offset := orbitalOffsets(model)
	for _, ai := range atomIdx {
		if ai < 0 || ai >= model.NAtoms() {
			return Fragment{}, newDecompositionError(method, "atom index %d out of range [0,%d)", ai, model.NAtoms())
		}
		sym := model.Atom(ai).Symbol
		for o := 0; o < orbitalsPerAtom(sym); o++ {
			orbitals = append(orbitals, offset[ai]+o)
		}
		z, err := system.AtomicNumber(sym)
		if err != nil {
			return Fragment{}, &DecompositionError{Method: method, Reason: "unsupported element", Err: err}
		}
		electrons += z
	}

	active := ActiveSpace{Electrons: electrons, Orbitals: len(orbitals)}
	if cfg.ActiveElectrons > 0 && cfg.ActiveElectrons < active.Electrons {
		active.Electrons = cfg.ActiveElectrons
	}
	if cfg.ActiveOrbitals > 0 && cfg.ActiveOrbitals < active.Orbitals {
		active.Orbitals = cfg.ActiveOrbitals
	}
	if active.Electrons > 2*active.Orbitals {
		return Fragment{}, newDecompositionError(method,
			"active space of %d orbitals cannot hold %d electrons", active.Orbitals, active.Electrons)
	}

	return Fragment{
		ID:             fmt.Sprintf("frag-%d", ordinal),
		AtomIndices:    atomIdx,
		OrbitalIndices: orbitals,
		ActiveSpace:    active,
	}, nil
}

// orbitalOffsets returns, per atom, the index of its first orbital in the
// system-wide ordering.
func orbitalOffsets(model *system.Model) []int {
	offsets := make([]int, model.NAtoms())
	next := 0
	for i := 0; i < model.NAtoms(); i++ {
		offsets[i] = next
		next += orbitalsPerAtom(model.Atom(i).Symbol)
	}
	return offsets
}

// checkCoverage verifies that the fragments cover every atom exactly once.
// A decomposer bug must fail loudly here rather than silently dropping
// degrees of freedom.
func checkCoverage(method string, model *system.Model, fragments []Fragment) error {
	seen := make(map[int]string, model.NAtoms())
	for _, f := range fragments {
		for _, ai := range f.AtomIndices {
			if prev, dup := seen[ai]; dup {
				return newDecompositionError(method, "atom %d assigned to both %s and %s", ai, prev, f.ID)
			}
			seen[ai] = f.ID
		}
	}
	if len(seen) != model.NAtoms() {
		return newDecompositionError(method, "fragments cover %d of %d atoms", len(seen), model.NAtoms())
	}
	return nil
}

// buildEnvironments creates the iteration-zero environments, one per
// fragment, index-aligned.
func buildEnvironments(fragments []Fragment) []Environment {
	envs := make([]Environment, len(fragments))
	for i, f := range fragments {
		envs[i] = NewEnvironment(f.ID, f.NOrbitals())
	}
	return envs
}
