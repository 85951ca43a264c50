// Package aggregate combines per-fragment solver results into system-level
// observables. Combination rules are pluggable; the built-in rules cover
// plain summation and summation with double-counting correction for
// overlapping embedding schemes.
package aggregate

import (
	"fmt"
	"sort"

	"github.com/openqembed/openqembed/pkg/solver"
)

// AggregationError reports that fragment results could not be combined.
type AggregationError struct {
	Rule   string
	Reason string
}

func (e *AggregationError) Error() string {
	return fmt.Sprintf("aggregation (%s): %s", e.Rule, e.Reason)
}

func newAggregationError(rule, format string, args ...any) *AggregationError {
	return &AggregationError{Rule: rule, Reason: fmt.Sprintf(format, args...)}
}

// Result is the combined system-level observable.
type Result struct {
	// Energy is the total system energy in hartree.
	Energy float64 `json:"energy"`

	// Correction is the double-counting correction already folded into
	// Energy; zero for rules without one.
	Correction float64 `json:"correction,omitempty"`

	// Fragments is the number of fragment results combined.
	Fragments int `json:"fragments"`

	// PerFragment maps fragment IDs to their contributing energies.
	PerFragment map[string]float64 `json:"per_fragment,omitempty"`

	// Rule names the combination rule that produced the result.
	Rule string `json:"rule"`
}

// Rule combines fragment results into a system observable. Implementations
// must reject incomplete batches: aggregation runs only over results from a
// single converged iteration with every fragment accounted for.
type Rule interface {
	Name() string
	Combine(results []*solver.FragmentResult) (*Result, error)
}

// checkBatch applies the shared preconditions: a non-empty batch, all
// results succeeded, no duplicate fragments, and a single iteration.
func checkBatch(rule string, results []*solver.FragmentResult) error {
	if len(results) == 0 {
		return newAggregationError(rule, "no fragment results to combine")
	}
	seen := make(map[string]bool, len(results))
	iteration := 0
	for i, r := range results {
		if r == nil {
			return newAggregationError(rule, "nil fragment result in batch")
		}
		if i == 0 {
			iteration = r.Iteration
		}
		if !r.Succeeded() {
			return newAggregationError(rule, "fragment %s did not succeed (%s)", r.FragmentID, r.Status)
		}
		if seen[r.FragmentID] {
			return newAggregationError(rule, "duplicate result for fragment %s", r.FragmentID)
		}
		seen[r.FragmentID] = true
		if r.Iteration != iteration {
			return newAggregationError(rule, "results span iterations %d and %d", iteration, r.Iteration)
		}
	}
	return nil
}

// Aggregate combines results with rule after checking them against the
// fragment set the decomposition produced: every expected fragment must be
// accounted for exactly once, and no result may belong to a fragment
// outside the set. A missing fragment fails aggregation rather than
// silently shrinking the sum.
func Aggregate(rule Rule, results []*solver.FragmentResult, expected []string) (*Result, error) {
	if rule == nil {
		return nil, newAggregationError("", "no combination rule")
	}
	want := make(map[string]bool, len(expected))
	for _, id := range expected {
		want[id] = true
	}
	for _, r := range results {
		if r == nil {
			return nil, newAggregationError(rule.Name(), "nil fragment result in batch")
		}
		if !want[r.FragmentID] {
			return nil, newAggregationError(rule.Name(), "result for unexpected fragment %s", r.FragmentID)
		}
		delete(want, r.FragmentID)
	}
	for _, id := range expected {
		if want[id] {
			return nil, newAggregationError(rule.Name(), "no result for fragment %s", id)
		}
	}
	return rule.Combine(results)
}

// Additive sums fragment energies with no correction. This is the rule for
// non-overlapping partitions, where each orbital belongs to exactly one
// fragment.
type Additive struct{}

// Name implements Rule.
func (Additive) Name() string { return "additive" }

// Combine implements Rule.
func (a Additive) Combine(results []*solver.FragmentResult) (*Result, error) {
	if err := checkBatch(a.Name(), results); err != nil {
		return nil, err
	}
	per := make(map[string]float64, len(results))
	total := 0.0
	for _, r := range results {
		per[r.FragmentID] = r.Energy
		total += r.Energy
	}
	return &Result{Energy: total, Fragments: len(results), PerFragment: per, Rule: a.Name()}, nil
}

// DoubleCountingCorrected sums fragment energies and subtracts the overlap
// contributions counted more than once. Overlaps maps each shared region to
// its energy; every overlap is subtracted (multiplicity-1) times.
type DoubleCountingCorrected struct {
	// Overlaps holds one entry per shared region: the region's energy and
	// how many fragments include it.
	Overlaps []Overlap
}

// Overlap is one region counted by multiple fragments.
type Overlap struct {
	// Region identifies the shared region, for diagnostics.
	Region string `json:"region"`

	// Energy is the region's energy contribution in hartree.
	Energy float64 `json:"energy"`

	// Multiplicity is how many fragments count the region. Must be >= 2.
	Multiplicity int `json:"multiplicity"`
}

// Name implements Rule.
func (DoubleCountingCorrected) Name() string { return "double-counting-corrected" }

// Combine implements Rule.
func (d DoubleCountingCorrected) Combine(results []*solver.FragmentResult) (*Result, error) {
	if err := checkBatch(d.Name(), results); err != nil {
		return nil, err
	}

	per := make(map[string]float64, len(results))
	total := 0.0
	for _, r := range results {
		per[r.FragmentID] = r.Energy
		total += r.Energy
	}

	correction := 0.0
	for _, ov := range d.Overlaps {
		if ov.Multiplicity < 2 {
			return nil, newAggregationError(d.Name(), "overlap %s has multiplicity %d, want >= 2", ov.Region, ov.Multiplicity)
		}
		correction += float64(ov.Multiplicity-1) * ov.Energy
	}

	return &Result{
		Energy:      total - correction,
		Correction:  correction,
		Fragments:   len(results),
		PerFragment: per,
		Rule:        d.Name(),
	}, nil
}

// ForName returns the built-in rule with the given name. Rules needing
// parameters (overlaps) come back zero-valued.
func ForName(name string) (Rule, error) {
	switch name {
	case Additive{}.Name(), "":
		return Additive{}, nil
	case DoubleCountingCorrected{}.Name():
		return DoubleCountingCorrected{}, nil
	default:
		return nil, fmt.Errorf("unknown aggregation rule %q (have %v)", name, RuleNames())
	}
}

// RuleNames lists the built-in rule names, sorted.
func RuleNames() []string {
	names := []string{Additive{}.Name(), DoubleCountingCorrected{}.Name()}
	sort.Strings(names)
	return names
}
