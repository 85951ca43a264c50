package fragment

import "fmt"

// DecompositionError reports an infeasible partition request.
type DecompositionError struct {
	// Method is the decomposition method that rejected the request.
	Method string

	// Reason is the human-readable cause.
	Reason string

	// Err is the underlying error, if any.
	Err error
}

// Error implements the error interface.
func (e *DecompositionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("decomposition %s: %s: %v", e.Method, e.Reason, e.Err)
	}
	return fmt.Sprintf("decomposition %s: %s", e.Method, e.Reason)
}

// Unwrap returns the underlying error for error chain inspection.
func (e *DecompositionError) Unwrap() error { return e.Err }

func newDecompositionError(method, format string, args ...interface{}) *DecompositionError {
	return &DecompositionError{Method: method, Reason: fmt.Sprintf(format, args...)}
}
