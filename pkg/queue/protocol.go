package queue

import (
	"encoding/json"
	"fmt"
	"time"

	"gonum.org/v1/gonum/mat"

	"github.com/openqembed/openqembed/pkg/fragment"
	"github.com/openqembed/openqembed/pkg/solver"
)

// MessageType identifies a protocol message.
type MessageType string

const (
	// MessageTypeReady announces a runner ready to accept submissions.
	MessageTypeReady MessageType = "READY"
	// MessageTypeSubmit carries one fragment solve request.
	MessageTypeSubmit MessageType = "SUBMIT"
	// MessageTypeAck confirms a submission was accepted.
	MessageTypeAck MessageType = "ACK"
	// MessageTypeResult carries a completed solve.
	MessageTypeResult MessageType = "RESULT"
	// MessageTypeError reports a failed solve or a protocol fault.
	MessageTypeError MessageType = "ERROR"
	// MessageTypeExit ends the session.
	MessageTypeExit MessageType = "EXIT"
)

// Validate checks that the message type is one the protocol defines.
func (mt MessageType) Validate() error {
	switch mt {
	case MessageTypeReady, MessageTypeSubmit, MessageTypeAck,
		MessageTypeResult, MessageTypeError, MessageTypeExit:
		return nil
	default:
		return fmt.Errorf("invalid message type: %s", mt)
	}
}

// Message is the envelope for every protocol message.
type Message struct {
	Type      MessageType     `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// ReadyMessage is the runner's opening announcement.
type ReadyMessage struct {
	Version  string   `json:"version"`
	Platform string   `json:"platform"`
	Arch     string   `json:"arch"`
	PID      int      `json:"pid"`
	Backend  string   `json:"backend"`
	Methods  []string `json:"methods,omitempty"`
}

// SubmitMessage is one fragment solve request.
type SubmitMessage struct {
	ID          string          `json:"id"`
	Fragment    FragmentWire    `json:"fragment"`
	Environment EnvironmentWire `json:"environment"`
	Options     solver.Options  `json:"options"`
	Timeout     int             `json:"timeout,omitempty"` // seconds
}

// Validate checks the submission for protocol-level completeness.
func (s *SubmitMessage) Validate() error {
	if s.ID == "" {
		return fmt.Errorf("submit ID is required")
	}
	if s.Fragment.ID == "" {
		return fmt.Errorf("submit %s: fragment ID is required", s.ID)
	}
	if s.Environment.FragmentID != s.Fragment.ID {
		return fmt.Errorf("submit %s: environment belongs to %q, not %q",
			s.ID, s.Environment.FragmentID, s.Fragment.ID)
	}
	return nil
}

// AckMessage confirms a submission was accepted for solving.
type AckMessage struct {
	SubmitID string `json:"submit_id"`
}

// ResultMessage carries a completed solve back to the controller.
type ResultMessage struct {
	SubmitID string     `json:"submit_id"`
	Result   ResultWire `json:"result"`
	Duration float64    `json:"duration"` // seconds
}

// ErrorMessage reports a classified solve failure or a protocol fault.
// Code mirrors solver.ErrorKind so the controller can rebuild the
// classification.
type ErrorMessage struct {
	SubmitID  string `json:"submit_id,omitempty"`
	Code      string `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
}

// SolverError rebuilds the classified error the runner reported.
func (e *ErrorMessage) SolverError(backend string) *solver.SolverError {
	switch solver.ErrorKind(e.Code) {
	case solver.KindBackendUnavailable:
		return solver.NewBackendUnavailable(backend, e.Message, nil)
	case solver.KindInvalidInput:
		return solver.NewInvalidInput(backend, e.Message, nil)
	default:
		return solver.NewNonConvergence(backend, e.Message, nil)
	}
}

// ExitMessage is sent before either side terminates the session.
type ExitMessage struct {
	Reason      string `json:"reason"`
	ExitCode    int    `json:"exit_code"`
	SolvesTotal int    `json:"solves_total"`
}

// SymWire is the upper-triangle packing of a symmetric matrix: row-major,
// n*(n+1)/2 elements.
type SymWire struct {
	Dim  int       `json:"dim"`
	Data []float64 `json:"data"`
}

// PackSym packs a symmetric matrix for the wire. Nil maps to nil.
func PackSym(m *mat.SymDense) *SymWire {
	if m == nil {
		return nil
	}
	n := m.SymmetricDim()
	data := make([]float64, 0, n*(n+1)/2)
	for r := 0; r < n; r++ {
		for c := r; c < n; c++ {
			data = append(data, m.At(r, c))
		}
	}
	return &SymWire{Dim: n, Data: data}
}

// Unpack rebuilds the symmetric matrix.
func (w *SymWire) Unpack() (*mat.SymDense, error) {
	if w == nil {
		return nil, nil
	}
	if want := w.Dim * (w.Dim + 1) / 2; len(w.Data) != want {
		return nil, fmt.Errorf("symmetric wire: %d elements for dimension %d, want %d",
			len(w.Data), w.Dim, want)
	}
	m := mat.NewSymDense(w.Dim, nil)
	i := 0
	for r := 0; r < w.Dim; r++ {
		for c := r; c < w.Dim; c++ {
			m.SetSym(r, c, w.Data[i])
			i++
		}
	}
	return m, nil
}

// FragmentWire is the serialized fragment.
type FragmentWire struct {
	ID              string `json:"id"`
	AtomIndices     []int  `json:"atom_indices"`
	OrbitalIndices  []int  `json:"orbital_indices"`
	ActiveElectrons int    `json:"active_electrons"`
	ActiveOrbitals  int    `json:"active_orbitals"`
}

// PackFragment serializes a fragment.
func PackFragment(f fragment.Fragment) FragmentWire {
	return FragmentWire{
		ID:              f.ID,
		AtomIndices:     f.AtomIndices,
		OrbitalIndices:  f.OrbitalIndices,
		ActiveElectrons: f.ActiveSpace.Electrons,
		ActiveOrbitals:  f.ActiveSpace.Orbitals,
	}
}

// Unpack rebuilds the fragment.
func (w FragmentWire) Unpack() fragment.Fragment {
	return fragment.Fragment{
		ID:             w.ID,
		AtomIndices:    w.AtomIndices,
		OrbitalIndices: w.OrbitalIndices,
		ActiveSpace: fragment.ActiveSpace{
			Electrons: w.ActiveElectrons,
			Orbitals:  w.ActiveOrbitals,
		},
	}
}

// EnvironmentWire is the serialized environment.
type EnvironmentWire struct {
	FragmentID        string   `json:"fragment_id"`
	Iteration         int      `json:"iteration"`
	Potential         *SymWire `json:"potential,omitempty"`
	ChemicalPotential float64  `json:"chemical_potential,omitempty"`
}

// PackEnvironment serializes an environment.
func PackEnvironment(e fragment.Environment) EnvironmentWire {
	return EnvironmentWire{
		FragmentID:        e.FragmentID,
		Iteration:         e.Iteration,
		Potential:         PackSym(e.Potential),
		ChemicalPotential: e.ChemicalPotential,
	}
}

// Unpack rebuilds the environment.
func (w EnvironmentWire) Unpack() (fragment.Environment, error) {
	pot, err := w.Potential.Unpack()
	if err != nil {
		return fragment.Environment{}, fmt.Errorf("environment %s: %w", w.FragmentID, err)
	}
	return fragment.Environment{
		FragmentID:        w.FragmentID,
		Iteration:         w.Iteration,
		Potential:         pot,
		ChemicalPotential: w.ChemicalPotential,
	}, nil
}

// ResultWire is the serialized fragment result.
type ResultWire struct {
	FragmentID  string    `json:"fragment_id"`
	Iteration   int       `json:"iteration"`
	Energy      float64   `json:"energy"`
	Density     *SymWire  `json:"density,omitempty"`
	Occupations []float64 `json:"occupations,omitempty"`
	Backend     string    `json:"backend"`
}

// PackResult serializes a successful result.
func PackResult(r *solver.FragmentResult) ResultWire {
	return ResultWire{
		FragmentID:  r.FragmentID,
		Iteration:   r.Iteration,
		Energy:      r.Energy,
		Density:     PackSym(r.Density),
		Occupations: r.Occupations,
		Backend:     r.Backend,
	}
}

// Unpack rebuilds the result with succeeded status.
func (w ResultWire) Unpack() (*solver.FragmentResult, error) {
	density, err := w.Density.Unpack()
	if err != nil {
		return nil, fmt.Errorf("result for %s: %w", w.FragmentID, err)
	}
	return &solver.FragmentResult{
		FragmentID:  w.FragmentID,
		Iteration:   w.Iteration,
		Energy:      w.Energy,
		Density:     density,
		Occupations: w.Occupations,
		Status:      solver.StatusSucceeded,
		Backend:     w.Backend,
	}, nil
}
