// Package embedding drives the self-consistency loop at the heart of a
// fragment-embedding calculation. Each iteration dispatches every fragment
// to its solver backend under the current environments, updates the
// environments from the returned densities, and checks the potential delta
// against the convergence tolerance. The loop is a small state machine:
//
//	Initializing -> Dispatching -> Updating -> Dispatching -> ... -> Converged
//	                                   \-> Failed
//
// A Loop value runs once; Workflow wires decomposition, policy admission,
// the loop, and aggregation into a complete run.
package embedding
