package solver

import (
	"math"
	"time"

	"gonum.org/v1/gonum/mat"
)

// Status is the terminal status of one fragment solve.
type Status string

const (
	// StatusSucceeded indicates the solve produced a usable result.
	StatusSucceeded Status = "succeeded"

	// StatusFailed indicates a non-retryable failure.
	StatusFailed Status = "failed"

	// StatusRetriesExhausted indicates a transient failure that persisted
	// through every permitted retry.
	StatusRetriesExhausted Status = "retries-exhausted"
)

// Terminal reports whether the status represents a finished solve.
func (s Status) Terminal() bool {
	return s == StatusSucceeded || s == StatusFailed || s == StatusRetriesExhausted
}

// FragmentResult is the immutable outcome of solving one embedded fragment.
// A new embedding iteration produces new results; existing ones are never
// overwritten.
type FragmentResult struct {
	// FragmentID identifies the fragment that was solved.
	FragmentID string `json:"fragment_id"`

	// Iteration is the embedding-loop iteration the solve belongs to.
	Iteration int `json:"iteration"`

	// Energy is the fragment energy in hartree. Only meaningful when
	// Status is succeeded; always finite in that case.
	Energy float64 `json:"energy"`

	// Density is the one-particle reduced density matrix over the fragment
	// orbitals, when the backend provides it.
	Density *mat.SymDense `json:"-"`

	// Occupations are the fragment orbital occupations, when available.
	Occupations []float64 `json:"occupations,omitempty"`

	// Status is the terminal solve status.
	Status Status `json:"status"`

	// FailureReason carries the classified failure for non-succeeded
	// statuses.
	FailureReason string `json:"failure_reason,omitempty"`

	// Backend names the adapter that produced the result.
	Backend string `json:"backend"`

	// Attempts is the total number of solve attempts, retries included.
	Attempts int `json:"attempts"`

	// WallTime is the total wall-clock time spent, retries included.
	WallTime time.Duration `json:"wall_time"`
}

// Succeeded reports whether the solve produced a usable result.
func (r *FragmentResult) Succeeded() bool { return r.Status == StatusSucceeded }

// Clone returns a deep copy, including the density matrix.
func (r *FragmentResult) Clone() *FragmentResult {
	out := *r
	out.Occupations = append([]float64(nil), r.Occupations...)
	if r.Density != nil {
		n := r.Density.SymmetricDim()
		d := mat.NewSymDense(n, nil)
		d.CopySym(r.Density)
		out.Density = d
	}
	return &out
}

// FailedResult builds the failure record for a fragment whose solve ended
// with the given classified error.
func FailedResult(fragmentID string, iteration int, status Status, serr *SolverError, attempts int, wall time.Duration) *FragmentResult {
	return &FragmentResult{
		FragmentID:    fragmentID,
		Iteration:     iteration,
		Energy:        math.NaN(),
		Status:        status,
		FailureReason: serr.Error(),
		Backend:       serr.Backend,
		Attempts:      attempts,
		WallTime:      wall,
	}
}

// finite reports whether v is a usable double-precision value.
func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
