package solver

import (
	"context"
	"fmt"
	"math"
	"math/cmplx"
)

// Statevector is the built-in circuit-evaluator capability: a dense
// statevector simulation of the gate set the VQE adapter emits (X, RX, RZ,
// CNOT). The measured observable is the diagonal site-energy Hamiltonian
// H = sum_q eps(q) n_q over the Jordan-Wigner number operators, the same
// one-particle toy model the Exact engine diagonalizes. Shot counts are
// ignored: expectation values are exact.
type Statevector struct {
	// Level spaces the site energies: eps(q) = Offset + Level*q. Zero
	// selects 1.0.
	Level float64

	// Offset shifts every site energy.
	Offset float64

	// MaxQubits bounds the simulated register; the state grows as 2^n.
	// Zero selects 16.
	MaxQubits int
}

var _ CircuitEvaluator = Statevector{}

// Name implements CircuitEvaluator.
func (Statevector) Name() string { return "statevector" }

// Evaluate implements CircuitEvaluator.
func (s Statevector) Evaluate(ctx context.Context, c Circuit, _ BackendOptions) (float64, error) {
	maxQubits := s.MaxQubits
	if maxQubits == 0 {
		maxQubits = 16
	}
	if c.Qubits <= 0 {
		return 0, fmt.Errorf("circuit has no qubits")
	}
	if c.Qubits > maxQubits {
		return 0, fmt.Errorf("circuit needs %d qubits, simulator is bounded at %d", c.Qubits, maxQubits)
	}

	state := make([]complex128, 1<<uint(c.Qubits))
	state[0] = 1

	for gi, g := range c.Gates {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		angle, err := gateAngle(c, g)
		if err != nil {
			return 0, fmt.Errorf("gate %d: %w", gi, err)
		}
		switch g.Name {
		case "X":
			if err := checkQubits(c.Qubits, g, 1); err != nil {
				return 0, fmt.Errorf("gate %d: %w", gi, err)
			}
			applyX(state, g.Qubits[0])
		case "RX":
			if err := checkQubits(c.Qubits, g, 1); err != nil {
				return 0, fmt.Errorf("gate %d: %w", gi, err)
			}
			applyRX(state, g.Qubits[0], angle)
		case "RZ":
			if err := checkQubits(c.Qubits, g, 1); err != nil {
				return 0, fmt.Errorf("gate %d: %w", gi, err)
			}
			applyRZ(state, g.Qubits[0], angle)
		case "CNOT":
			if err := checkQubits(c.Qubits, g, 2); err != nil {
				return 0, fmt.Errorf("gate %d: %w", gi, err)
			}
			applyCNOT(state, g.Qubits[0], g.Qubits[1])
		default:
			return 0, fmt.Errorf("gate %d: unsupported gate %q", gi, g.Name)
		}
	}

	level := s.Level
	if level == 0 {
		level = 1.0
	}
	energy := 0.0
	for idx, amp := range state {
		p := real(amp)*real(amp) + imag(amp)*imag(amp)
		if p == 0 {
			continue
		}
		for q := 0; q < c.Qubits; q++ {
			if idx>>uint(q)&1 == 1 {
				energy += p * (s.Offset + level*float64(q))
			}
		}
	}
	if math.IsNaN(energy) || math.IsInf(energy, 0) {
		return 0, fmt.Errorf("simulation produced a non-finite energy")
	}
	return energy, nil
}

func gateAngle(c Circuit, g Gate) (float64, error) {
	if g.ParamIndex < 0 {
		return g.Angle, nil
	}
	if g.ParamIndex >= len(c.Parameters) {
		return 0, fmt.Errorf("parameter index %d out of range (%d parameters)", g.ParamIndex, len(c.Parameters))
	}
	return c.Parameters[g.ParamIndex], nil
}

func checkQubits(n int, g Gate, want int) error {
	if len(g.Qubits) != want {
		return fmt.Errorf("%s expects %d qubits, got %d", g.Name, want, len(g.Qubits))
	}
	for _, q := range g.Qubits {
		if q < 0 || q >= n {
			return fmt.Errorf("%s addresses qubit %d outside the %d-qubit register", g.Name, q, n)
		}
	}
	if want == 2 && g.Qubits[0] == g.Qubits[1] {
		return fmt.Errorf("%s control and target coincide on qubit %d", g.Name, g.Qubits[0])
	}
	return nil
}

// Qubit q corresponds to bit q of the state index.

func applyX(state []complex128, q int) {
	bit := 1 << uint(q)
	for i := range state {
		if i&bit == 0 {
			state[i], state[i|bit] = state[i|bit], state[i]
		}
	}
}

func applyRX(state []complex128, q int, theta float64) {
	bit := 1 << uint(q)
	cos := complex(math.Cos(theta/2), 0)
	isin := complex(0, -math.Sin(theta/2))
	for i := range state {
		if i&bit == 0 {
			a, b := state[i], state[i|bit]
			state[i] = cos*a + isin*b
			state[i|bit] = isin*a + cos*b
		}
	}
}

func applyRZ(state []complex128, q int, theta float64) {
	bit := 1 << uint(q)
	phase0 := cmplx.Exp(complex(0, -theta/2))
	phase1 := cmplx.Exp(complex(0, theta/2))
	for i := range state {
		if i&bit == 0 {
			state[i] *= phase0
		} else {
			state[i] *= phase1
		}
	}
}

func applyCNOT(state []complex128, control, target int) {
	cbit := 1 << uint(control)
	tbit := 1 << uint(target)
	for i := range state {
		if i&cbit != 0 && i&tbit == 0 {
			state[i], state[i|tbit] = state[i|tbit], state[i]
		}
	}
}
