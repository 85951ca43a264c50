package solver

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"testing"

	"gonum.org/v1/gonum/mat"

	"github.com/openqembed/openqembed/pkg/fragment"
	"github.com/openqembed/openqembed/pkg/system"
)

func testFragment(id string, orbitals, electrons int) fragment.Fragment {
	idx := make([]int, orbitals)
	for i := range idx {
		idx[i] = i
	}
	return fragment.Fragment{
		ID:             id,
		AtomIndices:    idx,
		OrbitalIndices: idx,
		ActiveSpace:    fragment.ActiveSpace{Electrons: electrons, Orbitals: orbitals},
	}
}

func testEnvironment(id string, orbitals int) fragment.Environment {
	return fragment.NewEnvironment(id, orbitals)
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorKind
	}{
		{"preserves existing classification", NewInvalidInput("b", "bad", nil), KindInvalidInput},
		{"deadline is backend unavailable", context.DeadlineExceeded, KindBackendUnavailable},
		{"cancellation is backend unavailable", context.Canceled, KindBackendUnavailable},
		{"wrapped deadline", fmt.Errorf("rpc: %w", context.DeadlineExceeded), KindBackendUnavailable},
		{"anything else is non-convergence", errors.New("scf blew up"), KindNonConvergence},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Classify("b", tt.err)
			if got.Kind != tt.want {
				t.Fatalf("Classify() kind = %q, want %q", got.Kind, tt.want)
			}
		})
	}

	if Classify("b", nil) != nil {
		t.Fatal("Classify(nil) should be nil")
	}
}

func TestIsRetryable(t *testing.T) {
	if !IsRetryable(NewBackendUnavailable("b", "down", nil)) {
		t.Error("backend-unavailable must be retryable")
	}
	if IsRetryable(NewNonConvergence("b", "diverged", nil)) {
		t.Error("non-convergence must not be retryable")
	}
	if IsRetryable(NewInvalidInput("b", "bad", nil)) {
		t.Error("invalid-input must not be retryable")
	}
	if IsRetryable(errors.New("unclassified")) {
		t.Error("unclassified errors must not be retryable")
	}
}

func TestValidateInput(t *testing.T) {
	frag := testFragment("frag-0", 2, 2)
	env := testEnvironment("frag-0", 2)

	tests := []struct {
		name   string
		mutate func(*fragment.Fragment, *fragment.Environment)
		detail string
	}{
		{
			name:   "no orbitals",
			mutate: func(f *fragment.Fragment, _ *fragment.Environment) { f.OrbitalIndices = nil },
			detail: "no orbitals",
		},
		{
			name:   "empty active space",
			mutate: func(f *fragment.Fragment, _ *fragment.Environment) { f.ActiveSpace.Orbitals = 0 },
			detail: "empty active space",
		},
		{
			name:   "environment for other fragment",
			mutate: func(_ *fragment.Fragment, e *fragment.Environment) { e.FragmentID = "frag-9" },
			detail: "belongs to frag-9",
		},
		{
			name:   "missing potential",
			mutate: func(_ *fragment.Fragment, e *fragment.Environment) { e.Potential = nil },
			detail: "no potential",
		},
		{
			name: "potential dimension mismatch",
			mutate: func(_ *fragment.Fragment, e *fragment.Environment) {
				e.Potential = mat.NewSymDense(3, nil)
			},
			detail: "dimension",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := frag.Clone()
			e := env.Clone()
			tt.mutate(&f, &e)
			serr := validateInput("b", f, e)
			if serr == nil {
				t.Fatal("expected a validation error")
			}
			if serr.Kind != KindInvalidInput {
				t.Errorf("kind = %q, want %q", serr.Kind, KindInvalidInput)
			}
			if !strings.Contains(serr.Detail, tt.detail) {
				t.Errorf("detail %q does not mention %q", serr.Detail, tt.detail)
			}
		})
	}

	if serr := validateInput("b", frag, env); serr != nil {
		t.Fatalf("valid input rejected: %v", serr)
	}
}

// stubEngine is a hand-written CorrelatedSolver for adapter tests.
type stubEngine struct {
	out   ClassicalOutput
	err   error
	specs []ActiveSpaceSpec
}

func (s *stubEngine) Name() string { return "stub" }

func (s *stubEngine) Compute(_ context.Context, spec ActiveSpaceSpec) (ClassicalOutput, error) {
	s.specs = append(s.specs, spec)
	return s.out, s.err
}

func TestClassicalSolve(t *testing.T) {
	frag := testFragment("frag-0", 2, 2)
	env := testEnvironment("frag-0", 2)

	t.Run("success", func(t *testing.T) {
		eng := &stubEngine{out: ClassicalOutput{Energy: -1.5, Occupations: []float64{2, 0}}}
		c, err := NewClassical(eng, ClassicalConfig{Method: "ccsd"})
		if err != nil {
			t.Fatal(err)
		}
		res, err := c.Solve(context.Background(), frag, env, Options{Iteration: 3})
		if err != nil {
			t.Fatal(err)
		}
		if !res.Succeeded() || res.Energy != -1.5 || res.Iteration != 3 || res.Attempts != 1 {
			t.Fatalf("unexpected result %+v", res)
		}
		if res.Backend != "classical/stub/ccsd" {
			t.Errorf("backend = %q", res.Backend)
		}
		if len(eng.specs) != 1 || eng.specs[0].Method != "ccsd" || eng.specs[0].Tolerance != 1e-8 {
			t.Errorf("unexpected spec %+v", eng.specs)
		}
	})

	t.Run("options override defaults", func(t *testing.T) {
		eng := &stubEngine{out: ClassicalOutput{Energy: -1.0}}
		c, _ := NewClassical(eng, ClassicalConfig{Method: "fci"})
		if _, err := c.Solve(context.Background(), frag, env, Options{Tolerance: 1e-4, MaxCycles: 10}); err != nil {
			t.Fatal(err)
		}
		if eng.specs[0].Tolerance != 1e-4 || eng.specs[0].MaxCycles != 10 {
			t.Errorf("overrides not applied: %+v", eng.specs[0])
		}
	})

	t.Run("non-finite energy", func(t *testing.T) {
		eng := &stubEngine{out: ClassicalOutput{Energy: math.NaN()}}
		c, _ := NewClassical(eng, ClassicalConfig{Method: "ccsd"})
		_, err := c.Solve(context.Background(), frag, env, Options{})
		if !IsNonConvergence(err) {
			t.Fatalf("want non-convergence, got %v", err)
		}
	})

	t.Run("density dimension mismatch", func(t *testing.T) {
		eng := &stubEngine{out: ClassicalOutput{Energy: -1, Density: mat.NewSymDense(5, nil)}}
		c, _ := NewClassical(eng, ClassicalConfig{Method: "ccsd"})
		_, err := c.Solve(context.Background(), frag, env, Options{})
		if !IsNonConvergence(err) {
			t.Fatalf("want non-convergence, got %v", err)
		}
	})

	t.Run("engine error is classified", func(t *testing.T) {
		eng := &stubEngine{err: context.DeadlineExceeded}
		c, _ := NewClassical(eng, ClassicalConfig{Method: "ccsd"})
		_, err := c.Solve(context.Background(), frag, env, Options{})
		if !IsBackendUnavailable(err) {
			t.Fatalf("want backend-unavailable, got %v", err)
		}
	})

	t.Run("nil engine rejected", func(t *testing.T) {
		if _, err := NewClassical(nil, ClassicalConfig{Method: "ccsd"}); err == nil {
			t.Fatal("expected construction error")
		}
	})
}

// quadraticEvaluator is a hand-written CircuitEvaluator whose energy surface
// is a shifted paraboloid over the parameter vector, with its minimum known
// in closed form.
type quadraticEvaluator struct {
	offset float64
	calls  int
	err    error
}

func (q *quadraticEvaluator) Name() string { return "quad" }

func (q *quadraticEvaluator) Evaluate(_ context.Context, c Circuit, _ BackendOptions) (float64, error) {
	q.calls++
	if q.err != nil {
		return 0, q.err
	}
	e := q.offset
	for _, p := range c.Parameters {
		e += (p - 0.2) * (p - 0.2)
	}
	return e, nil
}

func TestQuantumSolve(t *testing.T) {
	frag := testFragment("frag-0", 2, 2)
	env := testEnvironment("frag-0", 2)

	t.Run("converges to the surface minimum", func(t *testing.T) {
		eval := &quadraticEvaluator{offset: -1.1}
		q, err := NewQuantum(eval, QuantumConfig{Ansatz: AnsatzUCCSD})
		if err != nil {
			t.Fatal(err)
		}
		res, err := q.Solve(context.Background(), frag, env, Options{Iteration: 1})
		if err != nil {
			t.Fatal(err)
		}
		if !res.Succeeded() {
			t.Fatalf("status = %q", res.Status)
		}
		if math.Abs(res.Energy-(-1.1)) > 1e-3 {
			t.Errorf("energy = %v, want -1.1 within 1e-3", res.Energy)
		}
		if res.Density == nil || res.Density.SymmetricDim() != 2 {
			t.Errorf("missing or misshapen density")
		}
		var trace float64
		for i, o := range res.Occupations {
			if o < 0 || o > 2 {
				t.Errorf("occupation[%d] = %v out of [0,2]", i, o)
			}
			trace += o
		}
		if math.Abs(trace-2) > 1e-9 {
			t.Errorf("occupation trace = %v, want 2", trace)
		}
	})

	t.Run("deterministic across reruns", func(t *testing.T) {
		run := func() *FragmentResult {
			eval := &quadraticEvaluator{offset: -0.5}
			q, _ := NewQuantum(eval, QuantumConfig{Ansatz: AnsatzUCCSD})
			res, err := q.Solve(context.Background(), frag, env, Options{})
			if err != nil {
				t.Fatal(err)
			}
			return res
		}
		a, b := run(), run()
		if a.Energy != b.Energy {
			t.Errorf("energies differ between reruns: %v vs %v", a.Energy, b.Energy)
		}
	})

	t.Run("chemical potential shifts the energy", func(t *testing.T) {
		eval := &quadraticEvaluator{offset: -1.0}
		q, _ := NewQuantum(eval, QuantumConfig{Ansatz: AnsatzUCCSD})
		shifted := env.Clone()
		shifted.ChemicalPotential = 0.25
		res, err := q.Solve(context.Background(), frag, shifted, Options{})
		if err != nil {
			t.Fatal(err)
		}
		// E = min - mu*N = -1.0 - 0.25*2
		if math.Abs(res.Energy-(-1.5)) > 1e-3 {
			t.Errorf("energy = %v, want -1.5 within 1e-3", res.Energy)
		}
	})

	t.Run("evaluator errors are classified", func(t *testing.T) {
		eval := &quadraticEvaluator{err: context.DeadlineExceeded}
		q, _ := NewQuantum(eval, QuantumConfig{Ansatz: AnsatzUCCSD})
		_, err := q.Solve(context.Background(), frag, env, Options{})
		if !IsBackendUnavailable(err) {
			t.Fatalf("want backend-unavailable, got %v", err)
		}
	})

	t.Run("exhausted budget keeps the best point", func(t *testing.T) {
		eval := &quadraticEvaluator{offset: -1.0}
		q, _ := NewQuantum(eval, QuantumConfig{Ansatz: AnsatzUCCSD})
		res, err := q.Solve(context.Background(), frag, env, Options{MaxCycles: 3})
		if err != nil {
			t.Fatal(err)
		}
		if !res.Succeeded() {
			t.Fatalf("unexpected result %+v", res)
		}
		if math.IsNaN(res.Energy) || math.IsInf(res.Energy, 0) {
			t.Fatal("budget-limited solve must still report a finite energy")
		}
	})
}

func TestQuantumAnsatzConstraints(t *testing.T) {
	homoLumo := testFragment("frag-0", 2, 2) // 4 qubits
	big := testFragment("frag-1", 4, 4)      // 8 qubits

	tests := []struct {
		name string
		cfg  QuantumConfig
		frag fragment.Fragment
		ok   bool
	}{
		{"ucc1 valid", QuantumConfig{Ansatz: AnsatzUCC1, QubitMapping: MappingJordanWigner, UpThenDown: true}, homoLumo, true},
		{"ucc3 valid", QuantumConfig{Ansatz: AnsatzUCC3, QubitMapping: MappingJordanWigner, UpThenDown: true}, homoLumo, true},
		{"ucc1 rejects bk mapping", QuantumConfig{Ansatz: AnsatzUCC1, QubitMapping: MappingBravyiKitaev, UpThenDown: true}, homoLumo, false},
		{"ucc1 rejects alternating order", QuantumConfig{Ansatz: AnsatzUCC1, QubitMapping: MappingJordanWigner, UpThenDown: false}, homoLumo, false},
		{"ucc3 rejects non-homo-lumo problem", QuantumConfig{Ansatz: AnsatzUCC3, QubitMapping: MappingJordanWigner, UpThenDown: true}, big, false},
		{"uccsd unconstrained", QuantumConfig{Ansatz: AnsatzUCCSD}, big, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q, err := NewQuantum(&quadraticEvaluator{}, tt.cfg)
			if err != nil {
				t.Fatal(err)
			}
			env := testEnvironment(tt.frag.ID, tt.frag.NOrbitals())
			_, serr := q.buildAnsatz(tt.frag, env)
			if tt.ok && serr != nil {
				t.Fatalf("unexpected rejection: %v", serr)
			}
			if !tt.ok {
				if serr == nil {
					t.Fatal("expected invalid-input rejection")
				}
				if serr.Kind != KindInvalidInput {
					t.Errorf("kind = %q, want %q", serr.Kind, KindInvalidInput)
				}
			}
		})
	}
}

func TestQuantumResources(t *testing.T) {
	frag := testFragment("frag-0", 2, 2)
	env := testEnvironment("frag-0", 2)

	q, _ := NewQuantum(&quadraticEvaluator{}, QuantumConfig{Ansatz: AnsatzUCC3, QubitMapping: MappingJordanWigner, UpThenDown: true})
	est, err := q.Resources(frag, env)
	if err != nil {
		t.Fatal(err)
	}
	if est.Qubits != 4 {
		t.Errorf("qubits = %d, want 4", est.Qubits)
	}
	if est.VariationalParameters != 3 {
		t.Errorf("parameters = %d, want 3", est.VariationalParameters)
	}
	if est.TwoQubitGates != 6 { // two CNOTs per parameter block
		t.Errorf("two-qubit gates = %d, want 6", est.TwoQubitGates)
	}
	if est.Gates <= est.TwoQubitGates {
		t.Errorf("total gates = %d not greater than entangling count", est.Gates)
	}
}

func TestUCCSDParameterCount(t *testing.T) {
	tests := []struct {
		nOcc, nVirt, want int
	}{
		{2, 2, 5},  // H2 minimal: 4 singles + 1 double
		{2, 0, 0},  // no virtuals
		{0, 4, 0},  // no occupied
		{4, 4, 52}, // 16 singles + 6*6 doubles
	}
	for _, tt := range tests {
		if got := uccsdParameterCount(tt.nOcc, tt.nVirt); got != tt.want {
			t.Errorf("uccsdParameterCount(%d, %d) = %d, want %d", tt.nOcc, tt.nVirt, got, tt.want)
		}
	}
}

func TestMeanFieldInitialEnvironments(t *testing.T) {
	model, err := system.H2("sto-3g")
	if err != nil {
		t.Fatal(err)
	}
	dec, err := fragment.ForMethod(fragment.MethodAtomPartition)
	if err != nil {
		t.Fatal(err)
	}
	frags, _, err := dec.Decompose(model, fragment.Config{
		Method: fragment.MethodAtomPartition, FragmentSize: 1,
	})
	if err != nil {
		t.Fatal(err)
	}

	envs, err := MeanField{}.InitialEnvironments(model, frags)
	if err != nil {
		t.Fatal(err)
	}
	if len(envs) != len(frags) {
		t.Fatalf("got %d environments for %d fragments", len(envs), len(frags))
	}
	for i, env := range envs {
		if env.FragmentID != frags[i].ID {
			t.Errorf("environment %d bound to %q, want %q", i, env.FragmentID, frags[i].ID)
		}
		if env.Iteration != 0 {
			t.Errorf("initial environment iteration = %d, want 0", env.Iteration)
		}
		v := env.Potential.At(0, 0)
		// One hydrogen nucleus at 0.7414 A: v = -1/(0.7414 * bohr/A).
		want := -1.0 / (0.7414 * bohrPerAngstrom)
		if math.Abs(v-want) > 1e-9 {
			t.Errorf("potential = %v, want %v", v, want)
		}
	}
}

func TestEmbeddedDensityRespondsToPotential(t *testing.T) {
	frag := testFragment("frag-0", 2, 2)

	flat := testEnvironment("frag-0", 2)
	dFlat, occFlat := embeddedDensity(frag, flat)
	if dFlat.At(0, 0) != occFlat[0] {
		t.Error("density diagonal must mirror occupations")
	}

	pot := mat.NewSymDense(2, nil)
	pot.SetSym(0, 0, 2.0) // push orbital 0 up
	raised := flat.WithPotential(pot, 1)
	_, occRaised := embeddedDensity(frag, raised)

	if occRaised[0] >= occFlat[0] {
		t.Errorf("raising an orbital should shed occupation: %v -> %v", occFlat[0], occRaised[0])
	}
	var trace float64
	for _, o := range occRaised {
		trace += o
	}
	if math.Abs(trace-2) > 1e-9 {
		t.Errorf("occupation trace = %v, want 2", trace)
	}
}

func TestFailedResult(t *testing.T) {
	serr := NewBackendUnavailable("qpu", "link down", nil)
	res := FailedResult("frag-2", 4, StatusRetriesExhausted, serr, 3, 0)
	if !math.IsNaN(res.Energy) {
		t.Error("failed results must carry NaN energy")
	}
	if res.Status.Terminal() != true || res.Succeeded() {
		t.Error("retries-exhausted must be terminal and not succeeded")
	}
	if res.Attempts != 3 || res.Backend != "qpu" {
		t.Errorf("unexpected result %+v", res)
	}
	if !strings.Contains(res.FailureReason, "link down") {
		t.Errorf("failure reason %q missing cause", res.FailureReason)
	}
}
