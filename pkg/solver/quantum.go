package solver

import (
	"context"
	"fmt"
	"math"
	"time"

	"gonum.org/v1/gonum/mat"

	"github.com/openqembed/openqembed/pkg/fragment"
)

// Ansatz identifies a variational ansatz circuit family.
type Ansatz string

const (
	// AnsatzUCCSD is the unitary coupled-cluster singles-doubles ansatz.
	AnsatzUCCSD Ansatz = "uccsd"

	// AnsatzUCC1 is the one-parameter reduced UCC circuit. Only valid for
	// four-qubit HOMO-LUMO problems under the JW mapping with up-then-down
	// spin ordering.
	AnsatzUCC1 Ansatz = "ucc1"

	// AnsatzUCC3 is the three-parameter reduced UCC circuit, with the same
	// applicability constraints as UCC1.
	AnsatzUCC3 Ansatz = "ucc3"
)

// Qubit mappings supported by the translation layer.
const (
	MappingJordanWigner = "jw"
	MappingBravyiKitaev = "bk"
)

// Gate is one element of a circuit description. ParamIndex >= 0 marks a
// variational gate whose angle is taken from the parameter vector at
// evaluation time.
type Gate struct {
	Name       string  `json:"name"`
	Qubits     []int   `json:"qubits"`
	ParamIndex int     `json:"param_index"`
	Angle      float64 `json:"angle,omitempty"`
}

// Circuit is the backend-neutral circuit description handed to the external
// circuit-execution capability.
type Circuit struct {
	Qubits     int       `json:"qubits"`
	Gates      []Gate    `json:"gates"`
	Parameters []float64 `json:"parameters"`
}

// TwoQubitGates counts the entangling gates in the circuit.
func (c Circuit) TwoQubitGates() int {
	n := 0
	for _, g := range c.Gates {
		if len(g.Qubits) == 2 {
			n++
		}
	}
	return n
}

// BackendOptions selects and parameterizes the circuit-execution target.
type BackendOptions struct {
	// Target names the simulator or device (e.g. "statevector", "qpu:ionq").
	Target string `json:"target" validate:"required"`

	// Shots is the measurement shot count; zero requests exact expectation
	// values where the target supports them.
	Shots int `json:"shots,omitempty" validate:"omitempty,min=1"`

	// NoiseModel optionally names a noise model understood by the target.
	NoiseModel string `json:"noise_model,omitempty"`
}

// CircuitEvaluator is the external circuit-execution capability: it returns
// the expectation value of the embedded fragment Hamiltonian for a bound
// circuit. The Quantum adapter is its sole caller.
type CircuitEvaluator interface {
	Name() string
	Evaluate(ctx context.Context, c Circuit, opts BackendOptions) (float64, error)
}

// QuantumConfig parameterizes the Quantum adapter.
type QuantumConfig struct {
	// Ansatz selects the variational circuit family.
	Ansatz Ansatz `json:"ansatz" validate:"required,oneof=uccsd ucc1 ucc3"`

	// QubitMapping selects the fermion-to-qubit transform.
	QubitMapping string `json:"qubit_mapping" validate:"required,oneof=jw bk"`

	// UpThenDown orders all spin-up orbitals before all spin-down ones
	// instead of alternating.
	UpThenDown bool `json:"up_then_down,omitempty"`

	// Backend selects the execution target.
	Backend BackendOptions `json:"backend"`

	// MaxEvaluations bounds the number of energy evaluations the classical
	// optimizer may spend.
	MaxEvaluations int `json:"max_evaluations,omitempty" validate:"omitempty,min=1"`

	// InitialStep is the optimizer's starting step size in radians.
	InitialStep float64 `json:"initial_step,omitempty" validate:"omitempty,gt=0"`

	// Tolerance is the optimizer's step-size termination threshold.
	Tolerance float64 `json:"tolerance,omitempty" validate:"omitempty,gt=0"`
}

// Quantum is the variational-quantum-eigensolver adapter. It translates a
// fragment specification into an ansatz circuit, minimizes the energy with
// a deterministic classical optimizer, and returns the optimal energy with
// an approximate one-particle density for the environment update. The
// circuit translation never leaks outside this adapter.
type Quantum struct {
	eval CircuitEvaluator
	cfg  QuantumConfig
}

// NewQuantum builds a Quantum adapter around a circuit evaluator.
func NewQuantum(eval CircuitEvaluator, cfg QuantumConfig) (*Quantum, error) {
	if eval == nil {
		return nil, fmt.Errorf("quantum adapter requires a circuit evaluator capability")
	}
	switch cfg.Ansatz {
	case AnsatzUCCSD, AnsatzUCC1, AnsatzUCC3:
	default:
		return nil, fmt.Errorf("unsupported ansatz %q", cfg.Ansatz)
	}
	switch cfg.QubitMapping {
	case MappingJordanWigner, MappingBravyiKitaev:
	case "":
		cfg.QubitMapping = MappingJordanWigner
	default:
		return nil, fmt.Errorf("unsupported qubit mapping %q", cfg.QubitMapping)
	}
	if cfg.MaxEvaluations == 0 {
		cfg.MaxEvaluations = 2000
	}
	if cfg.InitialStep == 0 {
		cfg.InitialStep = 0.1
	}
	if cfg.Tolerance == 0 {
		cfg.Tolerance = 1e-5
	}
	return &Quantum{eval: eval, cfg: cfg}, nil
}

// Name implements Adapter.
func (q *Quantum) Name() string {
	return "vqe/" + q.eval.Name() + "/" + string(q.cfg.Ansatz)
}

// Solve implements Adapter.
func (q *Quantum) Solve(ctx context.Context, frag fragment.Fragment, env fragment.Environment, opts Options) (*FragmentResult, error) {
	start := time.Now()
	if serr := validateInput(q.Name(), frag, env); serr != nil {
		return nil, serr
	}

	circuit, serr := q.buildAnsatz(frag, env)
	if serr != nil {
		return nil, serr
	}

	backend := q.cfg.Backend
	if opts.Shots > 0 {
		backend.Shots = opts.Shots
	}
	budget := q.cfg.MaxEvaluations
	if opts.MaxCycles > 0 {
		budget = opts.MaxCycles
	}
	tol := q.cfg.Tolerance
	if opts.Tolerance > 0 {
		tol = opts.Tolerance
	}

	best, serr := q.minimize(ctx, circuit, backend, budget, tol)
	if serr != nil {
		return nil, serr
	}

	// The chemical potential shifts the fragment Hamiltonian by -mu*N to
	// balance electron counts across fragments.
	energy := best.energy - env.ChemicalPotential*float64(frag.ActiveSpace.Electrons)
	if !finite(energy) {
		return nil, NewNonConvergence(q.Name(), "optimizer produced a non-finite energy", nil)
	}

	density, occupations := embeddedDensity(frag, env)
	return &FragmentResult{
		FragmentID:  frag.ID,
		Iteration:   opts.Iteration,
		Energy:      energy,
		Density:     density,
		Occupations: occupations,
		Status:      StatusSucceeded,
		Backend:     q.Name(),
		Attempts:    1,
		WallTime:    time.Since(start),
	}, nil
}

// ResourceEstimate describes what running the ansatz would require on a
// device, for experiment planning.
type ResourceEstimate struct {
	Qubits                 int `json:"qubits"`
	Gates                  int `json:"gates"`
	TwoQubitGates          int `json:"two_qubit_gates"`
	VariationalParameters  int `json:"variational_parameters"`
}

// Resources estimates the circuit resources for a fragment without running
// anything.
func (q *Quantum) Resources(frag fragment.Fragment, env fragment.Environment) (ResourceEstimate, error) {
	circuit, serr := q.buildAnsatz(frag, env)
	if serr != nil {
		return ResourceEstimate{}, serr
	}
	return ResourceEstimate{
		Qubits:                circuit.Qubits,
		Gates:                 len(circuit.Gates),
		TwoQubitGates:         circuit.TwoQubitGates(),
		VariationalParameters: len(circuit.Parameters),
	}, nil
}

// buildAnsatz translates the fragment into a bound ansatz circuit. The
// reduced UCC circuits carry the applicability constraints of their
// construction: JW mapping, up-then-down ordering, and a four-qubit
// HOMO-LUMO problem.
func (q *Quantum) buildAnsatz(frag fragment.Fragment, env fragment.Environment) (Circuit, *SolverError) {
	nQubits := 2 * frag.ActiveSpace.Orbitals
	nOcc := frag.ActiveSpace.Electrons
	nVirt := nQubits - nOcc
	if nVirt < 0 {
		return Circuit{}, NewInvalidInput(q.Name(),
			fmt.Sprintf("%d electrons do not fit %d spin orbitals", nOcc, nQubits), nil)
	}

	if q.cfg.Ansatz == AnsatzUCC1 || q.cfg.Ansatz == AnsatzUCC3 {
		if q.cfg.QubitMapping != MappingJordanWigner {
			return Circuit{}, NewInvalidInput(q.Name(), "qubit mapping must be jw for "+string(q.cfg.Ansatz), nil)
		}
		if !q.cfg.UpThenDown {
			return Circuit{}, NewInvalidInput(q.Name(), "up-then-down ordering required for "+string(q.cfg.Ansatz), nil)
		}
		if nQubits != 4 {
			return Circuit{}, NewInvalidInput(q.Name(),
				fmt.Sprintf("%s requires a HOMO-LUMO problem (4 qubits), got %d", q.cfg.Ansatz, nQubits), nil)
		}
	}

	var nParams int
	switch q.cfg.Ansatz {
	case AnsatzUCC1:
		nParams = 1
	case AnsatzUCC3:
		nParams = 3
	default:
		nParams = uccsdParameterCount(nOcc, nVirt)
	}
	if nParams == 0 {
		// Fully occupied or empty active space still needs one pass.
		nParams = 1
	}

	c := Circuit{Qubits: nQubits, Parameters: make([]float64, nParams)}

	// Reference state: occupy the lowest spin orbitals.
	for i := 0; i < nOcc; i++ {
		c.Gates = append(c.Gates, Gate{Name: "X", Qubits: []int{q.spinOrbitalIndex(i, nQubits)}, ParamIndex: -1})
	}

	// One Pauli-string exponential block per variational parameter.
	for p := 0; p < nParams; p++ {
		lo := p % nQubits
		hi := (p + 1) % nQubits
		if lo == hi {
			hi = (lo + 1) % nQubits
		}
		c.Gates = append(c.Gates,
			Gate{Name: "RX", Qubits: []int{lo}, ParamIndex: -1, Angle: math.Pi / 2},
			Gate{Name: "CNOT", Qubits: []int{lo, hi}, ParamIndex: -1},
			Gate{Name: "RZ", Qubits: []int{hi}, ParamIndex: p},
			Gate{Name: "CNOT", Qubits: []int{lo, hi}, ParamIndex: -1},
			Gate{Name: "RX", Qubits: []int{lo}, ParamIndex: -1, Angle: -math.Pi / 2},
		)
	}

	// Seed the starting parameters from the embedding potential diagonal so
	// successive embedding iterations warm-start near the previous optimum.
	for p := range c.Parameters {
		row := p % env.Potential.SymmetricDim()
		c.Parameters[p] = 0.01 * env.Potential.At(row, row)
	}
	return c, nil
}

// spinOrbitalIndex maps an abstract spin-orbital ordinal to a qubit index
// under the configured spin ordering.
func (q *Quantum) spinOrbitalIndex(i, nQubits int) int {
	if !q.cfg.UpThenDown {
		return i
	}
	// Alternating ordinals map to the up block then the down block.
	half := nQubits / 2
	if i%2 == 0 {
		return i / 2
	}
	return half + i/2
}

// uccsdParameterCount returns the singles-plus-doubles amplitude count for
// nOcc occupied and nVirt virtual spin orbitals.
func uccsdParameterCount(nOcc, nVirt int) int {
	singles := nOcc * nVirt
	doubles := (nOcc * (nOcc - 1) / 2) * (nVirt * (nVirt - 1) / 2)
	return singles + doubles
}

type optimum struct {
	energy float64
	params []float64
}

// minimize runs a deterministic coordinate-descent search over the ansatz
// parameters. Determinism matters more than convergence speed here: a rerun
// of the same workflow must visit the same evaluation sequence.
func (q *Quantum) minimize(ctx context.Context, c Circuit, backend BackendOptions, budget int, tol float64) (optimum, *SolverError) {
	params := append([]float64(nil), c.Parameters...)
	evals := 0

	evaluate := func(p []float64) (float64, *SolverError) {
		if evals >= budget {
			return 0, NewNonConvergence(q.Name(),
				fmt.Sprintf("optimizer exceeded %d energy evaluations", budget), nil)
		}
		evals++
		bound := c
		bound.Parameters = p
		e, err := q.eval.Evaluate(ctx, bound, backend)
		if err != nil {
			return 0, Classify(q.Name(), err)
		}
		if !finite(e) {
			return 0, NewNonConvergence(q.Name(), fmt.Sprintf("backend returned non-finite energy %v", e), nil)
		}
		return e, nil
	}

	best, serr := evaluate(params)
	if serr != nil {
		return optimum{}, serr
	}

	step := q.cfg.InitialStep
	for step > tol {
		improved := false
		for i := range params {
			for _, dir := range []float64{step, -step} {
				trial := append([]float64(nil), params...)
				trial[i] += dir
				e, serr := evaluate(trial)
				if serr != nil {
					if serr.Kind == KindNonConvergence && evals >= budget {
						// Budget exhausted: return the best point found so
						// far rather than discarding the whole solve.
						return optimum{energy: best, params: params}, nil
					}
					return optimum{}, serr
				}
				if e < best {
					best = e
					params = trial
					improved = true
					break
				}
			}
		}
		if !improved {
			step /= 2
		}
	}
	return optimum{energy: best, params: params}, nil
}

// embeddedDensity builds the approximate one-particle density the
// environment update consumes: an aufbau filling perturbed by the embedding
// potential diagonal, renormalized to the fragment electron count.
func embeddedDensity(frag fragment.Fragment, env fragment.Environment) (*mat.SymDense, []float64) {
	n := frag.NOrbitals()
	occ := make([]float64, n)
	remaining := float64(frag.ActiveSpace.Electrons)
	for i := 0; i < n && remaining > 0; i++ {
		occ[i] = math.Min(2, remaining)
		remaining -= occ[i]
	}

	// Orbitals pushed up by the potential shed occupation, and vice versa.
	const response = 0.1
	total := 0.0
	for i := range occ {
		occ[i] = clamp(occ[i]-response*math.Tanh(env.Potential.At(i, i)), 0, 2)
		total += occ[i]
	}
	if total > 0 {
		scale := float64(frag.ActiveSpace.Electrons) / total
		for i := range occ {
			occ[i] = clamp(occ[i]*scale, 0, 2)
		}
	}

	d := mat.NewSymDense(n, nil)
	for i := range occ {
		d.SetSym(i, i, occ[i])
	}
	return d, occ
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
