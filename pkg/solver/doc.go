// Package solver defines the backend-agnostic solver adapter capability and
// the concrete adapters that wrap external electronic-structure engines.
//
// An Adapter solves one embedded fragment and returns a FragmentResult. All
// adapters are safe to call concurrently for different fragments. Failures
// are reported as classified *SolverError values, never as panics or raw
// errors, so the dispatcher can decide between retrying (backend
// unavailable) and surfacing immediately (non-convergence, invalid input).
// Non-finite energies are converted to failures and never propagated.
//
// Two adapter families are built in: Classical, wrapping an existing
// correlated-wavefunction routine, and Quantum, a variational
// quantum eigensolver driving an external circuit-execution capability.
// The wasm sub-package loads third-party solver plugins as WASM modules.
package solver
