package embedding

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/openqembed/openqembed/pkg/dispatch"
	"github.com/openqembed/openqembed/pkg/fragment"
	"github.com/openqembed/openqembed/pkg/solver"
	"github.com/openqembed/openqembed/pkg/telemetry"
)

// State is the embedding loop's current phase.
type State string

const (
	StateInitializing State = "initializing"
	StateDispatching  State = "dispatching"
	StateUpdating     State = "updating"
	StateConverged    State = "converged"
	StateFailed       State = "failed"
)

// Terminal reports whether the state ends the loop.
func (s State) Terminal() bool { return s == StateConverged || s == StateFailed }

// IterationRecord captures one completed loop iteration for the trace.
type IterationRecord struct {
	// Iteration is the 1-based iteration number.
	Iteration int `json:"iteration"`

	// Delta is the largest environment potential change produced by the
	// update step.
	Delta float64 `json:"delta"`

	// Summary is the dispatch batch summary for the iteration.
	Summary dispatch.Summary `json:"summary"`

	// WallTime is the iteration's wall-clock duration.
	WallTime time.Duration `json:"wall_time"`
}

// Outcome is the terminal result of one loop run.
type Outcome struct {
	// State is the terminal state: Converged or Failed.
	State State `json:"state"`

	// Iterations is the number of completed iterations.
	Iterations int `json:"iterations"`

	// FinalDelta is the last potential delta observed.
	FinalDelta float64 `json:"final_delta"`

	// Results are the fragment results from the final iteration, aligned
	// with the fragments the loop ran over.
	Results []*solver.FragmentResult `json:"results"`

	// Environments are the final environments.
	Environments []fragment.Environment `json:"-"`

	// Trace records every iteration in order.
	Trace []IterationRecord `json:"trace"`
}

// Config parameterizes a Loop.
type Config struct {
	// MaxIterations bounds the loop. Zero selects 50.
	MaxIterations int `json:"max_iterations,omitempty" validate:"omitempty,min=1"`

	// Tolerance is the potential-delta convergence threshold. Zero selects
	// 1e-6.
	Tolerance float64 `json:"tolerance,omitempty" validate:"omitempty,gt=0"`

	// TolerateFailures keeps the loop running when individual fragment
	// solves fail: failed fragments keep their environments frozen and
	// stay out of the update step. Off by default, where any failure ends
	// the run.
	TolerateFailures bool `json:"tolerate_failures,omitempty"`

	// Solve carries the per-solve options forwarded to every adapter call;
	// the loop stamps the iteration number itself.
	Solve solver.Options `json:"solve,omitempty"`
}

// Loop is the self-consistency driver. A Loop runs exactly once; construct
// a new one for each run.
type Loop struct {
	cfg        Config
	adapter    solver.Adapter
	updater    Updater
	dispatcher *dispatch.Dispatcher

	mu    sync.Mutex
	spent bool
	state State
}

// NewLoop builds a Loop. The adapter solves every fragment; the updater
// derives the next environments; the dispatcher runs the per-iteration
// batches.
func NewLoop(cfg Config, adapter solver.Adapter, updater Updater, dispatcher *dispatch.Dispatcher) (*Loop, error) {
	if adapter == nil {
		return nil, fmt.Errorf("embedding loop requires a solver adapter")
	}
	if updater == nil {
		updater = NoopUpdater{}
	}
	if dispatcher == nil {
		return nil, fmt.Errorf("embedding loop requires a dispatcher")
	}
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = 50
	}
	if cfg.Tolerance <= 0 {
		cfg.Tolerance = 1e-6
	}
	return &Loop{
		cfg:        cfg,
		adapter:    adapter,
		updater:    updater,
		dispatcher: dispatcher,
		state:      StateInitializing,
	}, nil
}

// State returns the loop's current state.
func (l *Loop) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

func (l *Loop) setState(s State) {
	l.mu.Lock()
	l.state = s
	l.mu.Unlock()
}

// Run iterates until convergence, failure, or the iteration budget. The
// fragments and environments must be index-aligned. On failure the returned
// Outcome still carries the trace up to the failing iteration.
func (l *Loop) Run(ctx context.Context, fragments []fragment.Fragment, envs []fragment.Environment) (*Outcome, error) {
	l.mu.Lock()
	if l.spent {
		l.mu.Unlock()
		return nil, ErrLoopSpent
	}
	l.spent = true
	l.mu.Unlock()

	log := telemetry.FromContext(ctx).NewComponentLogger("embedding")

	if len(fragments) == 0 {
		l.setState(StateFailed)
		return nil, fmt.Errorf("embedding loop: no fragments")
	}
	if len(fragments) != len(envs) {
		l.setState(StateFailed)
		return nil, fmt.Errorf("embedding loop: %d fragments but %d environments", len(fragments), len(envs))
	}
	for i, frag := range fragments {
		if envs[i].FragmentID != frag.ID {
			l.setState(StateFailed)
			return nil, fmt.Errorf("embedding loop: environment %d belongs to %s, not %s", i, envs[i].FragmentID, frag.ID)
		}
	}

	outcome := &Outcome{State: StateFailed, Environments: envs}
	delta := 0.0

	for iteration := 1; iteration <= l.cfg.MaxIterations; iteration++ {
		iterStart := time.Now()
		iterLog := log.WithIteration(iteration)

		l.setState(StateDispatching)
		jobs := make([]dispatch.Job, len(fragments))
		for i, frag := range fragments {
			opts := l.cfg.Solve
			opts.Iteration = iteration
			jobs[i] = dispatch.Job{
				Fragment:    frag,
				Environment: envs[i],
				Adapter:     l.adapter,
				Options:     opts,
			}
		}

		results, summary, err := l.dispatcher.Dispatch(ctx, jobs)
		outcome.Results = results
		if err != nil {
			l.setState(StateFailed)
			outcome.State = StateFailed
			outcome.Iterations = iteration
			return outcome, fmt.Errorf("embedding loop: iteration %d dispatch: %w", iteration, err)
		}
		if !summary.AllSucceeded() {
			if !l.cfg.TolerateFailures {
				l.setState(StateFailed)
				outcome.State = StateFailed
				outcome.Iterations = iteration
				return outcome, fmt.Errorf("embedding loop: iteration %d: %w", iteration, firstFailure(results))
			}
			iterLog.Warnf("tolerating %d failed fragments", summary.Total-summary.Succeeded)
		}

		l.setState(StateUpdating)
		next, err := l.update(envs, results, iteration)
		if err != nil {
			l.setState(StateFailed)
			outcome.State = StateFailed
			outcome.Iterations = iteration
			return outcome, fmt.Errorf("embedding loop: iteration %d update: %w", iteration, err)
		}

		delta = 0
		for i := range next {
			d, err := next[i].PotentialDelta(envs[i])
			if err != nil {
				l.setState(StateFailed)
				outcome.State = StateFailed
				outcome.Iterations = iteration
				return outcome, fmt.Errorf("embedding loop: iteration %d: %w", iteration, err)
			}
			if d > delta {
				delta = d
			}
		}
		envs = next
		outcome.Environments = envs
		outcome.Iterations = iteration
		outcome.FinalDelta = delta
		outcome.Trace = append(outcome.Trace, IterationRecord{
			Iteration: iteration,
			Delta:     delta,
			Summary:   summary,
			WallTime:  time.Since(iterStart),
		})
		iterLog.Debugf("iteration finished: delta=%g attempts=%d", delta, summary.Attempts)

		if delta <= l.cfg.Tolerance {
			l.setState(StateConverged)
			outcome.State = StateConverged
			log.Infof("converged after %d iterations (delta %g)", iteration, delta)
			return outcome, nil
		}
	}

	l.setState(StateFailed)
	outcome.State = StateFailed
	return outcome, &NonConvergenceError{
		Iterations: l.cfg.MaxIterations,
		FinalDelta: delta,
		Tolerance:  l.cfg.Tolerance,
	}
}

// update runs the updater over the fragments that produced results. When a
// tolerated batch carries failures, the failed fragments keep their current
// potential, restamped for the new iteration.
func (l *Loop) update(envs []fragment.Environment, results []*solver.FragmentResult, iteration int) ([]fragment.Environment, error) {
	partial := false
	for _, r := range results {
		if r == nil || !r.Succeeded() {
			partial = true
			break
		}
	}
	if !partial {
		return l.updater.Update(envs, results, iteration)
	}

	solvedEnvs := make([]fragment.Environment, 0, len(envs))
	solvedResults := make([]*solver.FragmentResult, 0, len(results))
	for i, r := range results {
		if r != nil && r.Succeeded() {
			solvedEnvs = append(solvedEnvs, envs[i])
			solvedResults = append(solvedResults, r)
		}
	}
	if len(solvedResults) == 0 {
		return nil, fmt.Errorf("no fragment succeeded")
	}
	updated, err := l.updater.Update(solvedEnvs, solvedResults, iteration)
	if err != nil {
		return nil, err
	}

	next := make([]fragment.Environment, len(envs))
	j := 0
	for i, r := range results {
		if r != nil && r.Succeeded() {
			next[i] = updated[j]
			j++
		} else {
			next[i] = envs[i].WithPotential(envs[i].Potential, iteration)
		}
	}
	return next, nil
}

// firstFailure extracts the first non-succeeded result's reason.
func firstFailure(results []*solver.FragmentResult) error {
	for _, r := range results {
		if r != nil && !r.Succeeded() {
			return fmt.Errorf("fragment %s %s: %s", r.FragmentID, r.Status, r.FailureReason)
		}
	}
	return fmt.Errorf("dispatch reported failures but all results succeeded")
}
