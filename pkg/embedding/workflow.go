package embedding

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/openqembed/openqembed/pkg/aggregate"
	"github.com/openqembed/openqembed/pkg/dispatch"
	"github.com/openqembed/openqembed/pkg/fragment"
	"github.com/openqembed/openqembed/pkg/solver"
	"github.com/openqembed/openqembed/pkg/system"
	"github.com/openqembed/openqembed/pkg/telemetry"
)

// AdmissionRequest describes a run to the policy gate before any solve is
// dispatched.
type AdmissionRequest struct {
	RunID     string `json:"run_id"`
	Method    string `json:"method"`
	Backend   string `json:"backend"`
	Fragments int    `json:"fragments"`
	MaxQubits int    `json:"max_qubits"`
	Shots     int    `json:"shots"`
}

// PolicyGate admits or rejects a run before dispatch. A nil gate admits
// everything.
type PolicyGate interface {
	Admit(ctx context.Context, req AdmissionRequest) error
}

// RunRecord is the persisted summary of one run.
type RunRecord struct {
	ID          string     `json:"id"`
	Formula     string     `json:"formula"`
	Method      string     `json:"method"`
	Backend     string     `json:"backend"`
	Rule        string     `json:"rule"`
	Status      string     `json:"status"`
	Energy      float64    `json:"energy"`
	Iterations  int        `json:"iterations"`
	FinalDelta  float64    `json:"final_delta"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Error       string     `json:"error,omitempty"`
}

// RunRecorder persists run records and iteration traces. A nil recorder
// skips persistence.
type RunRecorder interface {
	SaveRun(ctx context.Context, run *RunRecord) error
	SaveIteration(ctx context.Context, runID string, rec IterationRecord) error
}

// WorkflowConfig parameterizes a complete run.
type WorkflowConfig struct {
	// Decompose selects and parameterizes the decomposition strategy.
	Decompose fragment.Config `json:"decompose"`

	// Loop parameterizes the self-consistency loop.
	Loop Config `json:"loop"`

	// Screening parameterizes the initial mean-field potentials.
	Screening float64 `json:"screening,omitempty"`
}

// Workflow wires decomposition, policy admission, the embedding loop, and
// aggregation into one run.
type Workflow struct {
	adapter    solver.Adapter
	updater    Updater
	dispatcher *dispatch.Dispatcher
	rule       aggregate.Rule
	gate       PolicyGate
	recorder   RunRecorder
}

// NewWorkflow builds a Workflow. Gate and recorder may be nil.
func NewWorkflow(adapter solver.Adapter, updater Updater, dispatcher *dispatch.Dispatcher, rule aggregate.Rule, gate PolicyGate, recorder RunRecorder) (*Workflow, error) {
	if adapter == nil {
		return nil, fmt.Errorf("workflow requires a solver adapter")
	}
	if dispatcher == nil {
		return nil, fmt.Errorf("workflow requires a dispatcher")
	}
	if rule == nil {
		rule = aggregate.Additive{}
	}
	return &Workflow{
		adapter:    adapter,
		updater:    updater,
		dispatcher: dispatcher,
		rule:       rule,
		gate:       gate,
		recorder:   recorder,
	}, nil
}

// Report is the complete outcome of one run.
type Report struct {
	RunID     string              `json:"run_id"`
	Result    *aggregate.Result   `json:"result,omitempty"`
	Outcome   *Outcome            `json:"outcome"`
	Fragments []fragment.Fragment `json:"fragments"`
	WallTime  time.Duration       `json:"wall_time"`
}

// Run executes a complete embedding calculation over the model.
func (w *Workflow) Run(ctx context.Context, model *system.Model, cfg WorkflowConfig) (*Report, error) {
	runID := uuid.New().String()
	start := time.Now()

	ctx = telemetry.WithRunContext(ctx, runID, cfg.Decompose.Method)
	log := telemetry.FromContext(ctx).WithRunID(runID)
	tel := telemetry.FromTelemetryContext(ctx)

	record := &RunRecord{
		ID:        runID,
		Formula:   model.Formula(),
		Method:    cfg.Decompose.Method,
		Backend:   w.adapter.Name(),
		Rule:      w.rule.Name(),
		Status:    "running",
		StartedAt: start,
	}
	if err := w.saveRun(ctx, record); err != nil {
		return nil, err
	}

	report, err := w.run(ctx, model, cfg, runID, log, tel)

	completed := time.Now()
	record.CompletedAt = &completed
	if err != nil {
		record.Status = "failed"
		record.Error = err.Error()
	} else {
		record.Status = "converged"
		record.Energy = report.Result.Energy
	}
	if report != nil && report.Outcome != nil {
		record.Iterations = report.Outcome.Iterations
		record.FinalDelta = report.Outcome.FinalDelta
	}
	if saveErr := w.saveRun(ctx, record); saveErr != nil && err == nil {
		err = saveErr
	}

	telemetry.EndRunContext(ctx, runID, record.Status, completed.Sub(start), err)
	return report, err
}

func (w *Workflow) run(ctx context.Context, model *system.Model, cfg WorkflowConfig, runID string, log *telemetry.Logger, tel *telemetry.Telemetry) (*Report, error) {
	dec, err := fragment.ForMethod(cfg.Decompose.Method)
	if err != nil {
		return nil, err
	}
	fragments, _, err := dec.Decompose(model, cfg.Decompose)
	if err != nil {
		return nil, err
	}
	log.Infof("decomposed %s into %d fragments", model.Formula(), len(fragments))

	if w.gate != nil {
		req := AdmissionRequest{
			RunID:     runID,
			Method:    cfg.Decompose.Method,
			Backend:   w.adapter.Name(),
			Fragments: len(fragments),
			MaxQubits: maxQubits(fragments),
			Shots:     cfg.Loop.Solve.Shots,
		}
		if err := w.gate.Admit(ctx, req); err != nil {
			if tel != nil {
				_ = tel.Events.PublishPolicyViolation(runID, "admission", err.Error())
			}
			return nil, fmt.Errorf("run rejected by policy: %w", err)
		}
	}

	envs, err := solver.MeanField{Screening: cfg.Screening}.InitialEnvironments(model, fragments)
	if err != nil {
		return nil, err
	}

	loop, err := NewLoop(cfg.Loop, w.adapter, w.updater, w.dispatcher)
	if err != nil {
		return nil, err
	}
	outcome, loopErr := loop.Run(ctx, fragments, envs)

	report := &Report{RunID: runID, Outcome: outcome, Fragments: fragments}
	if outcome != nil {
		w.recordTrace(ctx, runID, outcome, tel)
		report.WallTime = traceWall(outcome)
	}
	if loopErr != nil {
		return report, loopErr
	}

	expected := make([]string, len(fragments))
	for i, frag := range fragments {
		expected[i] = frag.ID
	}
	results := outcome.Results
	if cfg.Loop.TolerateFailures {
		results, expected = succeededOnly(results)
	}
	result, err := aggregate.Aggregate(w.rule, results, expected)
	if err != nil {
		return report, err
	}
	report.Result = result
	log.Infof("run finished: energy=%.10f over %d fragments", result.Energy, result.Fragments)
	return report, nil
}

func (w *Workflow) saveRun(ctx context.Context, record *RunRecord) error {
	if w.recorder == nil {
		return nil
	}
	return w.recorder.SaveRun(ctx, record)
}

func (w *Workflow) recordTrace(ctx context.Context, runID string, outcome *Outcome, tel *telemetry.Telemetry) {
	for _, rec := range outcome.Trace {
		if w.recorder != nil {
			_ = w.recorder.SaveIteration(ctx, runID, rec)
		}
		if tel != nil {
			status := "progressing"
			if rec.Iteration == outcome.Iterations && outcome.State == StateConverged {
				status = "converged"
			}
			tel.Metrics.RecordIteration(status)
			tel.Metrics.SetConvergenceDelta(runID, rec.Delta)
			_ = tel.Events.PublishIterationCompleted(runID, rec.Iteration, rec.Delta)
		}
	}
}

// succeededOnly narrows a tolerated batch to the fragments that produced
// results, so the aggregate's completeness check runs against what was
// actually solved.
func succeededOnly(results []*solver.FragmentResult) ([]*solver.FragmentResult, []string) {
	kept := make([]*solver.FragmentResult, 0, len(results))
	ids := make([]string, 0, len(results))
	for _, r := range results {
		if r != nil && r.Succeeded() {
			kept = append(kept, r)
			ids = append(ids, r.FragmentID)
		}
	}
	return kept, ids
}

func maxQubits(fragments []fragment.Fragment) int {
	max := 0
	for _, frag := range fragments {
		if q := 2 * frag.ActiveSpace.Orbitals; q > max {
			max = q
		}
	}
	return max
}

func traceWall(outcome *Outcome) time.Duration {
	var total time.Duration
	for _, rec := range outcome.Trace {
		total += rec.WallTime
	}
	return total
}
