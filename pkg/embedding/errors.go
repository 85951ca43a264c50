package embedding

import (
	"errors"
	"fmt"
)

// ErrLoopSpent is returned when Run is called on a Loop that already ran.
// Loops are single-use so that traces and final states stay immutable.
var ErrLoopSpent = errors.New("embedding loop already ran")

// NonConvergenceError reports that the loop exhausted its iteration budget
// without the environment potentials settling below tolerance.
type NonConvergenceError struct {
	// Iterations is the number of iterations performed.
	Iterations int

	// FinalDelta is the last observed potential delta.
	FinalDelta float64

	// Tolerance is the convergence threshold that was not met.
	Tolerance float64
}

func (e *NonConvergenceError) Error() string {
	return fmt.Sprintf("embedding loop did not converge after %d iterations (delta %g, tolerance %g)",
		e.Iterations, e.FinalDelta, e.Tolerance)
}

// IsNonConvergence reports whether err is a loop non-convergence failure.
func IsNonConvergence(err error) bool {
	var nce *NonConvergenceError
	return errors.As(err, &nce)
}
