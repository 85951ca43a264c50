// Package fragment turns a full system model into fragments and their
// embedding environments.
//
// A Decomposer is a pure function of its inputs: the same model and config
// always produce the same index-aligned Fragment and Environment slices.
// Fragments are immutable value objects; Environments are replaced, never
// mutated, as the embedding loop iterates.
//
// Two decomposition methods are built in: "atom-partition", which splits
// the atom list into contiguous non-overlapping blocks, and "single", which
// treats the whole system as one fragment for one-shot embedding. Further
// methods plug in through the Decomposer interface.
package fragment
