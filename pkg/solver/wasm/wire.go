// Package wasm hosts sandboxed solver plugins. A plugin is a WASM module
// that exports a small JSON-over-linear-memory ABI:
//
//	malloc(size u32) -> ptr u32
//	free(ptr u32)
//	solver_init(ptr u32, len u32) -> packed u64
//	solver_solve(ptr u32, len u32) -> packed u64
//	solver_metadata(ptr u32, len u32) -> packed u64
//
// Inputs and outputs are JSON documents in linear memory; the packed return
// value is (output_ptr << 32) | output_len, with output memory owned by the
// plugin and freed by the host after reading.
package wasm

import (
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/openqembed/openqembed/pkg/solver"
)

// matrixWire is the JSON representation of a symmetric matrix: the dimension
// plus the row-major full data slice.
type matrixWire struct {
	Dim  int       `json:"dim"`
	Data []float64 `json:"data"`
}

func packMatrix(m *mat.SymDense) *matrixWire {
	if m == nil {
		return nil
	}
	n := m.SymmetricDim()
	data := make([]float64, 0, n*n)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			data = append(data, m.At(i, j))
		}
	}
	return &matrixWire{Dim: n, Data: data}
}

func (w *matrixWire) unpack() (*mat.SymDense, error) {
	if w == nil {
		return nil, nil
	}
	if len(w.Data) != w.Dim*w.Dim {
		return nil, fmt.Errorf("matrix wire: %d values for dimension %d", len(w.Data), w.Dim)
	}
	m := mat.NewSymDense(w.Dim, nil)
	for i := 0; i < w.Dim; i++ {
		for j := i; j < w.Dim; j++ {
			m.SetSym(i, j, w.Data[i*w.Dim+j])
		}
	}
	return m, nil
}

// solveRequest is the JSON document handed to solver_solve.
type solveRequest struct {
	Electrons         int         `json:"electrons"`
	Orbitals          int         `json:"orbitals"`
	Potential         *matrixWire `json:"potential,omitempty"`
	ChemicalPotential float64     `json:"chemical_potential,omitempty"`
	Method            string      `json:"method"`
	Tolerance         float64     `json:"tolerance,omitempty"`
	MaxCycles         int         `json:"max_cycles,omitempty"`
}

// solveResponse is the JSON document solver_solve returns. A non-empty Error
// marks the solve failed; Retryable distinguishes transient plugin failures.
type solveResponse struct {
	Energy      float64     `json:"energy"`
	Density     *matrixWire `json:"density,omitempty"`
	Occupations []float64   `json:"occupations,omitempty"`
	Error       string      `json:"error,omitempty"`
	Retryable   bool        `json:"retryable,omitempty"`
}

// Metadata describes a solver plugin.
type Metadata struct {
	Name    string   `json:"name"`
	Version string   `json:"version"`
	Methods []string `json:"methods,omitempty"`
}

func encodeRequest(spec solver.ActiveSpaceSpec) solveRequest {
	return solveRequest{
		Electrons:         spec.Electrons,
		Orbitals:          spec.Orbitals,
		Potential:         packMatrix(spec.Potential),
		ChemicalPotential: spec.ChemicalPotential,
		Method:            spec.Method,
		Tolerance:         spec.Tolerance,
		MaxCycles:         spec.MaxCycles,
	}
}
