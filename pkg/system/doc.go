// Package system defines the immutable description of the full molecular
// or periodic system that the decomposition machinery operates on.
//
// A Model is constructed once from its atoms, total charge, spin
// multiplicity and basis identifier, and is never mutated afterwards.
// Decomposers and solvers hold references to it but always receive copies
// of its slices, so a Model can be shared freely across goroutines.
//
// The package also ships a small library of toy systems (H2, H4, a ten-atom
// hydrogen ring, water, sodium hydride) used throughout the test suite and
// the examples.
package system
