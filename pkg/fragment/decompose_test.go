package fragment

import (
	"errors"
	"reflect"
	"testing"

	"gonum.org/v1/gonum/mat"

	"github.com/openqembed/openqembed/pkg/system"
)

func testModel(t *testing.T, n int) *system.Model {
	t.Helper()
	m, err := system.HRing(n, 0.7, "sto-3g")
	if err != nil {
		t.Fatalf("HRing(%d) failed: %v", n, err)
	}
	return m
}

func TestAtomPartitionDeterminism(t *testing.T) {
	model := testModel(t, 10)
	cfg := Config{Method: MethodAtomPartition, FragmentSize: 2}

	f1, e1, err := AtomPartition{}.Decompose(model, cfg)
	if err != nil {
		t.Fatalf("Decompose() failed: %v", err)
	}
	f2, e2, err := AtomPartition{}.Decompose(model, cfg)
	if err != nil {
		t.Fatalf("second Decompose() failed: %v", err)
	}

	if !reflect.DeepEqual(f1, f2) {
		t.Error("repeated decomposition produced different fragments")
	}
	if len(e1) != len(e2) {
		t.Fatalf("environment counts differ: %d vs %d", len(e1), len(e2))
	}
	for i := range e1 {
		if e1[i].FragmentID != e2[i].FragmentID {
			t.Errorf("environment %d fragment ID differs", i)
		}
	}
}

func TestAtomPartitionShapes(t *testing.T) {
	tests := []struct {
		name      string
		atoms     int
		size      int
		wantFrags int
		wantErr   bool
	}{
		{name: "even split", atoms: 10, size: 2, wantFrags: 5},
		{name: "single atom fragments", atoms: 4, size: 1, wantFrags: 4},
		{name: "remainder absorbed", atoms: 10, size: 4, wantFrags: 2},
		{name: "whole system", atoms: 4, size: 4, wantFrags: 1},
		{name: "fragment larger than system", atoms: 4, size: 5, wantErr: true},
		{name: "zero size", atoms: 4, size: 0, wantErr: true},
		{name: "negative size", atoms: 4, size: -1, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			model := testModel(t, tt.atoms)
			frags, envs, err := AtomPartition{}.Decompose(model, Config{
				Method:       MethodAtomPartition,
				FragmentSize: tt.size,
			})
			if tt.wantErr {
				var derr *DecompositionError
				if !errors.As(err, &derr) {
					t.Fatalf("expected DecompositionError, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Decompose() failed: %v", err)
			}
			if len(frags) != tt.wantFrags {
				t.Errorf("got %d fragments, want %d", len(frags), tt.wantFrags)
			}
			if len(envs) != len(frags) {
				t.Errorf("got %d environments for %d fragments", len(envs), len(frags))
			}
			if len(frags) == 0 {
				t.Error("valid decomposition produced zero fragments")
			}

			// Coverage: every atom appears exactly once.
			covered := make(map[int]bool)
			for i, f := range frags {
				if envs[i].FragmentID != f.ID {
					t.Errorf("environment %d is for %s, fragment is %s", i, envs[i].FragmentID, f.ID)
				}
				for _, ai := range f.AtomIndices {
					if covered[ai] {
						t.Errorf("atom %d covered twice", ai)
					}
					covered[ai] = true
				}
			}
			if len(covered) != tt.atoms {
				t.Errorf("covered %d of %d atoms", len(covered), tt.atoms)
			}
		})
	}
}

func TestSingleFragmentDecomposition(t *testing.T) {
	model := testModel(t, 4)
	frags, envs, err := SingleFragment{}.Decompose(model, Config{Method: MethodSingle})
	if err != nil {
		t.Fatalf("Decompose() failed: %v", err)
	}
	if len(frags) != 1 || len(envs) != 1 {
		t.Fatalf("got %d fragments, %d environments; want 1,1", len(frags), len(envs))
	}
	if got := len(frags[0].AtomIndices); got != 4 {
		t.Errorf("single fragment holds %d atoms, want 4", got)
	}
	if frags[0].ActiveSpace.Electrons != 4 {
		t.Errorf("active electrons = %d, want 4", frags[0].ActiveSpace.Electrons)
	}
}

func TestOrbitalIndexing(t *testing.T) {
	water, err := system.Water("sto-3g")
	if err != nil {
		t.Fatalf("Water() failed: %v", err)
	}
	// O contributes 5 minimal-basis orbitals, each H contributes 1.
	frags, _, err := AtomPartition{}.Decompose(water, Config{Method: MethodAtomPartition, FragmentSize: 1})
	if err != nil {
		t.Fatalf("Decompose() failed: %v", err)
	}
	if len(frags) != 3 {
		t.Fatalf("got %d fragments, want 3", len(frags))
	}
	if got := frags[0].NOrbitals(); got != 5 {
		t.Errorf("oxygen fragment has %d orbitals, want 5", got)
	}
	if got := frags[1].OrbitalIndices; !reflect.DeepEqual(got, []int{5}) {
		t.Errorf("first hydrogen orbitals = %v, want [5]", got)
	}
	if got := frags[2].OrbitalIndices; !reflect.DeepEqual(got, []int{6}) {
		t.Errorf("second hydrogen orbitals = %v, want [6]", got)
	}
}

func TestActiveSpaceCaps(t *testing.T) {
	model := testModel(t, 4)
	frags, _, err := AtomPartition{}.Decompose(model, Config{
		Method:          MethodAtomPartition,
		FragmentSize:    2,
		ActiveElectrons: 1,
		ActiveOrbitals:  1,
	})
	if err != nil {
		t.Fatalf("Decompose() failed: %v", err)
	}
	for _, f := range frags {
		if f.ActiveSpace.Electrons != 1 || f.ActiveSpace.Orbitals != 1 {
			t.Errorf("%s active space = %+v, want {1 1}", f.ID, f.ActiveSpace)
		}
	}

	// An active space too small for its electrons is infeasible.
	_, _, err = AtomPartition{}.Decompose(model, Config{
		Method:       MethodAtomPartition,
		FragmentSize: 4,
		// 4 electrons into 1 orbital.
		ActiveOrbitals: 1,
	})
	var derr *DecompositionError
	if !errors.As(err, &derr) {
		t.Fatalf("expected DecompositionError for overfull active space, got %v", err)
	}
}

func TestForMethod(t *testing.T) {
	if _, err := ForMethod("no-such-method"); err == nil {
		t.Error("ForMethod accepted unknown method")
	}
	d, err := ForMethod(MethodAtomPartition)
	if err != nil {
		t.Fatalf("ForMethod failed: %v", err)
	}
	if d.Method() != MethodAtomPartition {
		t.Errorf("Method() = %q", d.Method())
	}
}

func TestEnvironmentCopyOnUpdate(t *testing.T) {
	env := NewEnvironment("frag-0", 2)
	p := mat.NewSymDense(2, []float64{1, 0.5, 0.5, 2})

	next := env.WithPotential(p, 1)
	if next.Iteration != 1 {
		t.Errorf("iteration = %d, want 1", next.Iteration)
	}

	// Mutating the source matrix must not leak into the environment.
	p.SetSym(0, 0, 99)
	if got := next.Potential.At(0, 0); got != 1 {
		t.Errorf("potential shares caller matrix: got %v, want 1", got)
	}

	// The original environment keeps its zero potential.
	if got := env.Potential.At(0, 0); got != 0 {
		t.Errorf("WithPotential mutated receiver: got %v", got)
	}
}

func TestPotentialDelta(t *testing.T) {
	a := NewEnvironment("frag-0", 2)
	b := a.WithPotential(mat.NewSymDense(2, []float64{0.25, 0, 0, 0}), 1)

	delta, err := b.PotentialDelta(a)
	if err != nil {
		t.Fatalf("PotentialDelta failed: %v", err)
	}
	if delta != 0.25 {
		t.Errorf("delta = %v, want 0.25", delta)
	}

	mismatched := NewEnvironment("frag-0", 3)
	if _, err := b.PotentialDelta(mismatched); err == nil {
		t.Error("PotentialDelta accepted mismatched dimensions")
	}
}
