package aggregate

import (
	"math"
	"strings"
	"testing"

	"github.com/openqembed/openqembed/pkg/solver"
)

func ok(id string, iteration int, energy float64) *solver.FragmentResult {
	return &solver.FragmentResult{
		FragmentID: id,
		Iteration:  iteration,
		Energy:     energy,
		Status:     solver.StatusSucceeded,
	}
}

func TestAdditiveCombine(t *testing.T) {
	res, err := Additive{}.Combine([]*solver.FragmentResult{
		ok("frag-0", 1, -1.0),
		ok("frag-1", 1, -1.5),
	})
	if err != nil {
		t.Fatal(err)
	}
	if res.Energy != -2.5 {
		t.Errorf("energy = %v, want -2.5", res.Energy)
	}
	if res.Correction != 0 || res.Fragments != 2 {
		t.Errorf("result = %+v", res)
	}
	if res.PerFragment["frag-1"] != -1.5 {
		t.Errorf("per-fragment energies = %v", res.PerFragment)
	}
}

func TestCombineRejectsBadBatches(t *testing.T) {
	failed := &solver.FragmentResult{FragmentID: "frag-1", Status: solver.StatusFailed, Energy: math.NaN()}

	tests := []struct {
		name    string
		results []*solver.FragmentResult
	}{
		{"empty batch", nil},
		{"nil result", []*solver.FragmentResult{nil}},
		{"nil result after valid", []*solver.FragmentResult{ok("frag-0", 1, -1), nil}},
		{"failed fragment", []*solver.FragmentResult{ok("frag-0", 1, -1), failed}},
		{"duplicate fragment", []*solver.FragmentResult{ok("frag-0", 1, -1), ok("frag-0", 1, -1)}},
		{"mixed iterations", []*solver.FragmentResult{ok("frag-0", 1, -1), ok("frag-1", 2, -1)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Additive{}.Combine(tt.results)
			var aerr *AggregationError
			if err == nil {
				t.Fatal("expected an aggregation error")
			}
			if !asAggregationError(err, &aerr) {
				t.Fatalf("error %T is not *AggregationError", err)
			}
		})
	}
}

func asAggregationError(err error, target **AggregationError) bool {
	ae, isAgg := err.(*AggregationError)
	if isAgg {
		*target = ae
	}
	return isAgg
}

func TestAggregateRequiresFullFragmentSet(t *testing.T) {
	expected := []string{"frag-0", "frag-1"}

	t.Run("complete batch", func(t *testing.T) {
		res, err := Aggregate(Additive{}, []*solver.FragmentResult{
			ok("frag-0", 1, -1.0),
			ok("frag-1", 1, -1.5),
		}, expected)
		if err != nil {
			t.Fatal(err)
		}
		if res.Energy != -2.5 {
			t.Errorf("energy = %v, want -2.5", res.Energy)
		}
	})

	t.Run("missing fragment", func(t *testing.T) {
		_, err := Aggregate(Additive{}, []*solver.FragmentResult{ok("frag-0", 1, -1.0)}, expected)
		if err == nil {
			t.Fatal("a batch missing frag-1 must not aggregate")
		}
		var aerr *AggregationError
		if !asAggregationError(err, &aerr) {
			t.Fatalf("error %T is not *AggregationError", err)
		}
		if !strings.Contains(err.Error(), "frag-1") {
			t.Errorf("error %q does not name the missing fragment", err)
		}
	})

	t.Run("unknown fragment", func(t *testing.T) {
		_, err := Aggregate(Additive{}, []*solver.FragmentResult{
			ok("frag-0", 1, -1.0),
			ok("frag-9", 1, -1.5),
		}, expected)
		if err == nil || !strings.Contains(err.Error(), "frag-9") {
			t.Fatalf("got %v, want an error naming the stray fragment", err)
		}
	})

	t.Run("nil result", func(t *testing.T) {
		if _, err := Aggregate(Additive{}, []*solver.FragmentResult{ok("frag-0", 1, -1.0), nil}, expected); err == nil {
			t.Fatal("expected an aggregation error")
		}
	})

	t.Run("nil rule", func(t *testing.T) {
		if _, err := Aggregate(nil, []*solver.FragmentResult{ok("frag-0", 1, -1.0)}, expected[:1]); err == nil {
			t.Fatal("expected an aggregation error")
		}
	})
}

func TestDoubleCountingCorrectedCombine(t *testing.T) {
	rule := DoubleCountingCorrected{
		Overlaps: []Overlap{
			{Region: "bond-01", Energy: -0.3, Multiplicity: 2},
			{Region: "bridge", Energy: -0.1, Multiplicity: 3},
		},
	}
	res, err := rule.Combine([]*solver.FragmentResult{
		ok("frag-0", 0, -1.0),
		ok("frag-1", 0, -1.5),
		ok("frag-2", 0, -2.0),
	})
	if err != nil {
		t.Fatal(err)
	}
	// correction = 1*(-0.3) + 2*(-0.1) = -0.5
	if math.Abs(res.Correction-(-0.5)) > 1e-12 {
		t.Errorf("correction = %v, want -0.5", res.Correction)
	}
	if math.Abs(res.Energy-(-4.0)) > 1e-12 {
		t.Errorf("energy = %v, want -4.0", res.Energy)
	}
}

func TestDoubleCountingRejectsBadMultiplicity(t *testing.T) {
	rule := DoubleCountingCorrected{Overlaps: []Overlap{{Region: "x", Energy: 1, Multiplicity: 1}}}
	if _, err := rule.Combine([]*solver.FragmentResult{ok("frag-0", 0, -1)}); err == nil {
		t.Fatal("multiplicity 1 must be rejected")
	}
}

func TestForName(t *testing.T) {
	if r, err := ForName(""); err != nil || r.Name() != "additive" {
		t.Errorf("default rule = %v, %v", r, err)
	}
	if r, err := ForName("double-counting-corrected"); err != nil || r.Name() != "double-counting-corrected" {
		t.Errorf("rule = %v, %v", r, err)
	}
	if _, err := ForName("bogus"); err == nil {
		t.Error("unknown rule must be rejected")
	}
}
