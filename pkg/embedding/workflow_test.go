package embedding

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/openqembed/openqembed/pkg/aggregate"
	"github.com/openqembed/openqembed/pkg/dispatch"
	"github.com/openqembed/openqembed/pkg/fragment"
	"github.com/openqembed/openqembed/pkg/solver"
	"github.com/openqembed/openqembed/pkg/system"
)

type recordingGate struct {
	requests []AdmissionRequest
	reject   error
}

func (g *recordingGate) Admit(_ context.Context, req AdmissionRequest) error {
	g.requests = append(g.requests, req)
	return g.reject
}

type memoryRecorder struct {
	runs       []RunRecord
	iterations []IterationRecord
	failSave   bool
}

func (r *memoryRecorder) SaveRun(_ context.Context, run *RunRecord) error {
	if r.failSave {
		return errors.New("store unavailable")
	}
	r.runs = append(r.runs, *run)
	return nil
}

func (r *memoryRecorder) SaveIteration(_ context.Context, _ string, rec IterationRecord) error {
	r.iterations = append(r.iterations, rec)
	return nil
}

func h2Model(t *testing.T) *system.Model {
	t.Helper()
	model, err := system.H2("sto-3g")
	if err != nil {
		t.Fatal(err)
	}
	return model
}

func h2WorkflowConfig() WorkflowConfig {
	return WorkflowConfig{
		Decompose: fragment.Config{Method: fragment.MethodAtomPartition, FragmentSize: 1},
	}
}

func TestWorkflowRunEndToEnd(t *testing.T) {
	adapter := newTableAdapter(map[string]float64{"frag-0": -1.0, "frag-1": -1.5})
	gate := &recordingGate{}
	recorder := &memoryRecorder{}
	d := dispatch.New(dispatch.Config{BaseBackoff: time.Millisecond}, nil)

	wf, err := NewWorkflow(adapter, NoopUpdater{}, d, aggregate.Additive{}, gate, recorder)
	if err != nil {
		t.Fatal(err)
	}
	report, err := wf.Run(context.Background(), h2Model(t), h2WorkflowConfig())
	if err != nil {
		t.Fatal(err)
	}

	if math.Abs(report.Result.Energy-(-2.5)) > 1e-12 {
		t.Errorf("energy = %v, want -2.5", report.Result.Energy)
	}
	if report.Outcome.State != StateConverged {
		t.Errorf("state = %q, want converged", report.Outcome.State)
	}
	if len(report.Fragments) != 2 {
		t.Errorf("fragments = %d, want 2", len(report.Fragments))
	}
	if report.RunID == "" {
		t.Error("missing run id")
	}

	if len(gate.requests) != 1 {
		t.Fatalf("gate consulted %d times, want 1", len(gate.requests))
	}
	req := gate.requests[0]
	if req.Fragments != 2 || req.MaxQubits != 2 || req.Backend != "table" {
		t.Errorf("admission request = %+v", req)
	}

	if len(recorder.runs) != 2 {
		t.Fatalf("recorder holds %d run records, want running+final", len(recorder.runs))
	}
	if recorder.runs[0].Status != "running" {
		t.Errorf("first record status = %q", recorder.runs[0].Status)
	}
	final := recorder.runs[1]
	if final.Status != "converged" || final.Iterations != 1 || final.Formula != "H2" {
		t.Errorf("final record = %+v", final)
	}
	if math.Abs(final.Energy-(-2.5)) > 1e-12 {
		t.Errorf("recorded energy = %v, want -2.5", final.Energy)
	}
	if len(recorder.iterations) != 1 {
		t.Errorf("recorded %d iterations, want 1", len(recorder.iterations))
	}
}

func TestWorkflowPolicyRejection(t *testing.T) {
	adapter := newTableAdapter(map[string]float64{"frag-0": -1.0, "frag-1": -1.5})
	gate := &recordingGate{reject: fmt.Errorf("quantum backends are drained")}
	recorder := &memoryRecorder{}
	d := dispatch.New(dispatch.Config{BaseBackoff: time.Millisecond}, nil)

	wf, err := NewWorkflow(adapter, NoopUpdater{}, d, nil, gate, recorder)
	if err != nil {
		t.Fatal(err)
	}
	_, err = wf.Run(context.Background(), h2Model(t), h2WorkflowConfig())
	if err == nil || !strings.Contains(err.Error(), "rejected by policy") {
		t.Fatalf("got %v, want a policy rejection", err)
	}
	if adapter.calls["frag-0"] != 0 {
		t.Error("rejected run must not dispatch solves")
	}
	if recorder.runs[len(recorder.runs)-1].Status != "failed" {
		t.Errorf("final record status = %q, want failed", recorder.runs[len(recorder.runs)-1].Status)
	}
}

func TestWorkflowSolverFailureRecorded(t *testing.T) {
	// frag-1 has no scripted energy: permanent invalid-input failure.
	adapter := newTableAdapter(map[string]float64{"frag-0": -1.0})
	recorder := &memoryRecorder{}
	d := dispatch.New(dispatch.Config{BaseBackoff: time.Millisecond}, nil)

	wf, err := NewWorkflow(adapter, NoopUpdater{}, d, nil, nil, recorder)
	if err != nil {
		t.Fatal(err)
	}
	report, err := wf.Run(context.Background(), h2Model(t), h2WorkflowConfig())
	if err == nil {
		t.Fatal("expected the run to fail")
	}
	if report == nil || report.Outcome == nil || report.Outcome.State != StateFailed {
		t.Fatal("failed run must still report the loop outcome")
	}
	final := recorder.runs[len(recorder.runs)-1]
	if final.Status != "failed" || final.Error == "" {
		t.Errorf("final record = %+v", final)
	}
}

func TestWorkflowToleratedFailurePartialAggregate(t *testing.T) {
	// frag-1 has no scripted energy; with tolerated failures the run still
	// completes over the fragments that solved.
	adapter := newTableAdapter(map[string]float64{"frag-0": -1.0})
	d := dispatch.New(dispatch.Config{BaseBackoff: time.Millisecond}, nil)

	wf, err := NewWorkflow(adapter, NoopUpdater{}, d, nil, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	cfg := h2WorkflowConfig()
	cfg.Loop.TolerateFailures = true
	report, err := wf.Run(context.Background(), h2Model(t), cfg)
	if err != nil {
		t.Fatal(err)
	}
	if report.Result.Fragments != 1 {
		t.Errorf("aggregated %d fragments, want 1", report.Result.Fragments)
	}
	if math.Abs(report.Result.Energy-(-1.0)) > 1e-12 {
		t.Errorf("energy = %v, want -1.0", report.Result.Energy)
	}
	if _, held := report.Result.PerFragment["frag-1"]; held {
		t.Error("failed fragment must not contribute to the aggregate")
	}
}

// misattributedAdapter reports every result under a fixed fragment ID,
// whatever fragment it was asked to solve.
type misattributedAdapter struct {
	inner solver.Adapter
	id    string
}

func (a misattributedAdapter) Name() string { return a.inner.Name() }

func (a misattributedAdapter) Solve(ctx context.Context, frag fragment.Fragment, env fragment.Environment, opts solver.Options) (*solver.FragmentResult, error) {
	res, err := a.inner.Solve(ctx, frag, env, opts)
	if res != nil {
		res.FragmentID = a.id
	}
	return res, err
}

func TestWorkflowRejectsIncompleteFragmentSet(t *testing.T) {
	// Both fragments report as frag-0, so frag-1 goes missing from the
	// batch; the run must fail rather than sum what arrived.
	adapter := misattributedAdapter{
		inner: newTableAdapter(map[string]float64{"frag-0": -1.0, "frag-1": -1.5}),
		id:    "frag-0",
	}
	d := dispatch.New(dispatch.Config{BaseBackoff: time.Millisecond}, nil)

	wf, err := NewWorkflow(adapter, NoopUpdater{}, d, nil, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	report, err := wf.Run(context.Background(), h2Model(t), h2WorkflowConfig())
	if err == nil {
		t.Fatal("a batch missing a fragment must not aggregate")
	}
	var aerr *aggregate.AggregationError
	if !errors.As(err, &aerr) {
		t.Fatalf("error %T is not an aggregation error", err)
	}
	if report == nil || report.Result != nil {
		t.Error("no aggregate result may be reported for an incomplete batch")
	}
}

func TestWorkflowUnknownMethod(t *testing.T) {
	adapter := newTableAdapter(map[string]float64{"frag-0": -1.0})
	d := dispatch.New(dispatch.Config{BaseBackoff: time.Millisecond}, nil)
	wf, err := NewWorkflow(adapter, nil, d, nil, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	cfg := WorkflowConfig{Decompose: fragment.Config{Method: "bisection"}}
	if _, err := wf.Run(context.Background(), h2Model(t), cfg); err == nil {
		t.Fatal("unknown decomposition method must fail the run")
	}
}

func TestWorkflowRecorderFailureAborts(t *testing.T) {
	adapter := newTableAdapter(map[string]float64{"frag-0": -1.0, "frag-1": -1.5})
	recorder := &memoryRecorder{failSave: true}
	d := dispatch.New(dispatch.Config{BaseBackoff: time.Millisecond}, nil)

	wf, err := NewWorkflow(adapter, NoopUpdater{}, d, nil, nil, recorder)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := wf.Run(context.Background(), h2Model(t), h2WorkflowConfig()); err == nil {
		t.Fatal("an unusable run store must abort the run")
	}
	if adapter.calls["frag-0"] != 0 {
		t.Error("run must not dispatch after the initial save fails")
	}
}

func TestNewWorkflowValidation(t *testing.T) {
	d := dispatch.New(dispatch.Config{}, nil)
	if _, err := NewWorkflow(nil, nil, d, nil, nil, nil); err == nil {
		t.Error("nil adapter must be rejected")
	}
	adapter := newTableAdapter(nil)
	if _, err := NewWorkflow(adapter, nil, nil, nil, nil, nil); err == nil {
		t.Error("nil dispatcher must be rejected")
	}
}
