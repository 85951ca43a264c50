package solver

import (
	"context"
	"errors"
	"fmt"
)

// ErrorKind classifies a per-fragment solve failure for retry logic.
type ErrorKind string

const (
	// KindNonConvergence indicates the solver ran but failed to converge,
	// or produced a non-finite result. Not retryable.
	KindNonConvergence ErrorKind = "non-convergence"

	// KindBackendUnavailable indicates the backend could not be reached or
	// timed out. Retryable.
	KindBackendUnavailable ErrorKind = "backend-unavailable"

	// KindInvalidInput indicates the fragment specification was rejected.
	// Not retryable.
	KindInvalidInput ErrorKind = "invalid-input"
)

// SolverError is a classified per-fragment solve failure.
type SolverError struct {
	// Kind is the failure classification.
	Kind ErrorKind

	// Backend names the adapter or backend that failed.
	Backend string

	// Detail is the human-readable cause.
	Detail string

	// Err is the underlying error, if any.
	Err error
}

// Error implements the error interface.
func (e *SolverError) Error() string {
	msg := fmt.Sprintf("[%s] %s: %s", e.Kind, e.Backend, e.Detail)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying error for error chain inspection.
func (e *SolverError) Unwrap() error { return e.Err }

// NewNonConvergence creates a non-convergence error.
func NewNonConvergence(backend, detail string, err error) *SolverError {
	return &SolverError{Kind: KindNonConvergence, Backend: backend, Detail: detail, Err: err}
}

// NewBackendUnavailable creates a backend-unavailable error.
func NewBackendUnavailable(backend, detail string, err error) *SolverError {
	return &SolverError{Kind: KindBackendUnavailable, Backend: backend, Detail: detail, Err: err}
}

// NewInvalidInput creates an invalid-input error.
func NewInvalidInput(backend, detail string, err error) *SolverError {
	return &SolverError{Kind: KindInvalidInput, Backend: backend, Detail: detail, Err: err}
}

// KindOf returns the classification of err, or "" if err is not a
// *SolverError.
func KindOf(err error) ErrorKind {
	var se *SolverError
	if errors.As(err, &se) {
		return se.Kind
	}
	return ""
}

// IsNonConvergence reports whether err is classified as non-convergence.
func IsNonConvergence(err error) bool { return KindOf(err) == KindNonConvergence }

// IsBackendUnavailable reports whether err is classified as
// backend-unavailable.
func IsBackendUnavailable(err error) bool { return KindOf(err) == KindBackendUnavailable }

// IsInvalidInput reports whether err is classified as invalid-input.
func IsInvalidInput(err error) bool { return KindOf(err) == KindInvalidInput }

// IsRetryable reports whether the dispatcher may retry the failed solve.
// Only backend-unavailable failures are retryable.
func IsRetryable(err error) bool { return IsBackendUnavailable(err) }

// Classify wraps an arbitrary error from a solver capability into a
// *SolverError. Existing classifications are preserved; context
// cancellation and deadline expiry count as backend-unavailable; anything
// else is treated as non-convergence of the wrapped engine.
func Classify(backend string, err error) *SolverError {
	if err == nil {
		return nil
	}
	var se *SolverError
	if errors.As(err, &se) {
		return se
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return NewBackendUnavailable(backend, "solve interrupted", err)
	}
	return NewNonConvergence(backend, "solver capability failed", err)
}
