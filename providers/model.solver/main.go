// Package main implements the model.solver plugin: exact diagonalization
// of embedded one-particle model Hamiltonians, compiled to WASM for
// sandboxed execution inside the solver host.
//
// Build with TinyGo:
//
//	tinygo build -o model_ed.wasm -target wasi .
//
// The plugin is deliberately dependency-free so any guest toolchain can
// reproduce it; the wire structures mirror the host's JSON ABI.
package main

import (
	"encoding/json"
	"fmt"
	"math"
	"unsafe"
)

const (
	pluginName    = "model-ed"
	pluginVersion = "1.0.0"
)

// matrixWire carries a symmetric matrix as its dimension plus row-major data.
type matrixWire struct {
	Dim  int       `json:"dim"`
	Data []float64 `json:"data"`
}

type solveRequest struct {
	Electrons         int         `json:"electrons"`
	Orbitals          int         `json:"orbitals"`
	Potential         *matrixWire `json:"potential,omitempty"`
	ChemicalPotential float64     `json:"chemical_potential,omitempty"`
	Method            string      `json:"method"`
	Tolerance         float64     `json:"tolerance,omitempty"`
	MaxCycles         int         `json:"max_cycles,omitempty"`
}

type solveResponse struct {
	Energy      float64     `json:"energy"`
	Density     *matrixWire `json:"density,omitempty"`
	Occupations []float64   `json:"occupations,omitempty"`
	Error       string      `json:"error,omitempty"`
	Retryable   bool        `json:"retryable,omitempty"`
}

type metadata struct {
	Name    string   `json:"name"`
	Version string   `json:"version"`
	Methods []string `json:"methods,omitempty"`
}

type initOptions struct {
	// MaxOrbitals bounds the accepted problem size; Jacobi sweeps scale
	// cubically.
	MaxOrbitals int `json:"max_orbitals,omitempty"`
}

var options = initOptions{MaxOrbitals: 64}

func main() {}

//export solver_init
func solverInit(ptr, length uint32) uint64 {
	if length > 0 {
		var opts initOptions
		if err := json.Unmarshal(readMemory(ptr, length), &opts); err != nil {
			return writeError("invalid init options: " + err.Error())
		}
		if opts.MaxOrbitals > 0 {
			options.MaxOrbitals = opts.MaxOrbitals
		}
	}
	return writeOutput([]byte("{}"))
}

//export solver_metadata
func solverMetadata(_, _ uint32) uint64 {
	out, err := json.Marshal(metadata{
		Name:    pluginName,
		Version: pluginVersion,
		Methods: []string{"fci"},
	})
	if err != nil {
		return writeError("failed to encode metadata")
	}
	return writeOutput(out)
}

//export solver_solve
func solverSolve(ptr, length uint32) uint64 {
	var req solveRequest
	if err := json.Unmarshal(readMemory(ptr, length), &req); err != nil {
		return writeError("invalid solve request: " + err.Error())
	}

	resp := solve(req)
	out, err := json.Marshal(resp)
	if err != nil {
		return writeError("failed to encode response")
	}
	return writeOutput(out)
}

// solve diagonalizes the embedded one-particle Hamiltonian and fills the
// resulting orbitals by aufbau, mirroring what a native exact engine does.
func solve(req solveRequest) solveResponse {
	n := req.Orbitals
	if n <= 0 {
		return solveResponse{Error: "active space has no orbitals"}
	}
	if n > options.MaxOrbitals {
		return solveResponse{Error: fmt.Sprintf("%d orbitals exceed the configured bound of %d", n, options.MaxOrbitals)}
	}
	if req.Electrons < 0 || req.Electrons > 2*n {
		return solveResponse{Error: fmt.Sprintf("%d electrons do not fit %d orbitals", req.Electrons, n)}
	}
	if req.Potential == nil || req.Potential.Dim != n || len(req.Potential.Data) != n*n {
		return solveResponse{Error: "embedding potential does not match the active space"}
	}

	h := make([][]float64, n)
	for i := range h {
		h[i] = append([]float64(nil), req.Potential.Data[i*n:(i+1)*n]...)
	}

	values, vectors := jacobiEigen(h)

	occupations := make([]float64, n)
	remaining := float64(req.Electrons)
	energy := 0.0
	for i := 0; i < n && remaining > 0; i++ {
		occupations[i] = math.Min(2, remaining)
		remaining -= occupations[i]
		energy += occupations[i] * values[i]
	}
	energy -= req.ChemicalPotential * float64(req.Electrons)

	density := &matrixWire{Dim: n, Data: make([]float64, n*n)}
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			v := 0.0
			for k := 0; k < n; k++ {
				v += vectors[i][k] * occupations[k] * vectors[j][k]
			}
			density.Data[i*n+j] = v
		}
	}

	return solveResponse{Energy: energy, Density: density, Occupations: occupations}
}

// jacobiEigen diagonalizes a symmetric matrix with cyclic Jacobi rotations
// and returns ascending eigenvalues with their column eigenvectors.
func jacobiEigen(a [][]float64) ([]float64, [][]float64) {
	n := len(a)
	v := make([][]float64, n)
	for i := range v {
		v[i] = make([]float64, n)
		v[i][i] = 1
	}

	const (
		maxSweeps = 100
		eps       = 1e-12
	)
	for sweep := 0; sweep < maxSweeps; sweep++ {
		off := 0.0
		for i := 0; i < n; i++ {
			for j := i + 1; j < n; j++ {
				off += a[i][j] * a[i][j]
			}
		}
		if off < eps {
			break
		}
		for p := 0; p < n-1; p++ {
			for q := p + 1; q < n; q++ {
				if math.Abs(a[p][q]) < eps {
					continue
				}
				theta := (a[q][q] - a[p][p]) / (2 * a[p][q])
				t := math.Copysign(1, theta) / (math.Abs(theta) + math.Sqrt(theta*theta+1))
				c := 1 / math.Sqrt(t*t+1)
				s := t * c

				for i := 0; i < n; i++ {
					aip, aiq := a[i][p], a[i][q]
					a[i][p] = c*aip - s*aiq
					a[i][q] = s*aip + c*aiq
				}
				for i := 0; i < n; i++ {
					api, aqi := a[p][i], a[q][i]
					a[p][i] = c*api - s*aqi
					a[q][i] = s*api + c*aqi
				}
				for i := 0; i < n; i++ {
					vip, viq := v[i][p], v[i][q]
					v[i][p] = c*vip - s*viq
					v[i][q] = s*vip + c*viq
				}
			}
		}
	}

	values := make([]float64, n)
	for i := 0; i < n; i++ {
		values[i] = a[i][i]
	}

	// Sort ascending, permuting the eigenvector columns along.
	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	for i := 1; i < n; i++ {
		for j := i; j > 0 && values[order[j]] < values[order[j-1]]; j-- {
			order[j], order[j-1] = order[j-1], order[j]
		}
	}
	sortedValues := make([]float64, n)
	sortedVectors := make([][]float64, n)
	for i := range sortedVectors {
		sortedVectors[i] = make([]float64, n)
	}
	for k, idx := range order {
		sortedValues[k] = values[idx]
		for i := 0; i < n; i++ {
			sortedVectors[i][k] = v[i][idx]
		}
	}
	return sortedValues, sortedVectors
}

// Linear-memory plumbing. Buffers handed to the host stay rooted in the
// allocation table until the host frees them.

var allocations = map[uintptr][]byte{}

//export malloc
func guestMalloc(size uint32) uint32 {
	if size == 0 {
		size = 1
	}
	buf := make([]byte, size)
	ptr := uintptr(unsafe.Pointer(&buf[0]))
	allocations[ptr] = buf
	return uint32(ptr)
}

//export free
func guestFree(ptr uint32) {
	delete(allocations, uintptr(ptr))
}

func readMemory(ptr, length uint32) []byte {
	if length == 0 {
		return nil
	}
	return unsafe.Slice((*byte)(unsafe.Pointer(uintptr(ptr))), length)
}

func writeOutput(data []byte) uint64 {
	ptr := guestMalloc(uint32(len(data)))
	copy(allocations[uintptr(ptr)], data)
	return uint64(ptr)<<32 | uint64(len(data))
}

func writeError(msg string) uint64 {
	out, err := json.Marshal(solveResponse{Error: msg})
	if err != nil {
		out = []byte(`{"error":"internal plugin error"}`)
	}
	return writeOutput(out)
}
