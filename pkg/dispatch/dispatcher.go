package dispatch

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/openqembed/openqembed/pkg/fragment"
	"github.com/openqembed/openqembed/pkg/solver"
)

// Job is one fragment solve to run: the fragment, its current environment,
// and the adapter to run it on.
type Job struct {
	Fragment    fragment.Fragment
	Environment fragment.Environment
	Adapter     solver.Adapter
	Options     solver.Options
}

// Observer receives dispatch lifecycle notifications. All methods may be
// called concurrently.
type Observer interface {
	// JobStarted fires when a worker picks up a job (first attempt only).
	JobStarted(fragmentID, backend string)

	// JobRetrying fires before a backoff sleep, with the attempt that just
	// failed (1-based) and the classified error.
	JobRetrying(fragmentID, backend string, attempt int, err error)

	// JobFinished fires once per job with its terminal result.
	JobFinished(result *solver.FragmentResult)
}

// NopObserver is an Observer that ignores everything.
type NopObserver struct{}

func (NopObserver) JobStarted(string, string)              {}
func (NopObserver) JobRetrying(string, string, int, error) {}
func (NopObserver) JobFinished(*solver.FragmentResult)     {}

// Config parameterizes a Dispatcher.
type Config struct {
	// MaxParallel caps concurrent solves. Zero selects 4.
	MaxParallel int `json:"max_parallel,omitempty" validate:"omitempty,min=1"`

	// MaxRetries is the number of retries after the first attempt for
	// transient failures. Non-transient failures are never retried.
	MaxRetries int `json:"max_retries,omitempty" validate:"omitempty,min=0"`

	// Timeout bounds each individual solve attempt. Zero means no
	// per-attempt timeout.
	Timeout time.Duration `json:"timeout,omitempty"`

	// BaseBackoff is the first retry delay. Zero selects 1s.
	BaseBackoff time.Duration `json:"base_backoff,omitempty"`

	// MaxBackoff caps the exponential retry delay. Zero selects 1m.
	MaxBackoff time.Duration `json:"max_backoff,omitempty"`
}

// Summary aggregates the terminal statuses of one dispatch batch.
type Summary struct {
	Total            int `json:"total"`
	Succeeded        int `json:"succeeded"`
	Failed           int `json:"failed"`
	RetriesExhausted int `json:"retries_exhausted"`

	// Attempts is the total solve attempts across the batch, retries
	// included.
	Attempts int `json:"attempts"`
}

// AllSucceeded reports whether every job in the batch produced a result.
func (s Summary) AllSucceeded() bool { return s.Succeeded == s.Total }

// Dispatcher runs batches of fragment solves on a bounded worker pool.
// A Dispatcher is stateless between batches and safe for concurrent use.
type Dispatcher struct {
	cfg      Config
	observer Observer
}

// New creates a Dispatcher. A nil observer is replaced with NopObserver.
func New(cfg Config, observer Observer) *Dispatcher {
	if cfg.MaxParallel <= 0 {
		cfg.MaxParallel = 4
	}
	if cfg.BaseBackoff <= 0 {
		cfg.BaseBackoff = time.Second
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = time.Minute
	}
	if observer == nil {
		observer = NopObserver{}
	}
	return &Dispatcher{cfg: cfg, observer: observer}
}

// Dispatch runs every job and returns results index-aligned with jobs:
// results[i] always belongs to jobs[i], whatever order the solves finished
// in. Failed jobs yield failure-status results rather than holes; the
// returned error is non-nil only when the batch as a whole could not run
// (empty batch, nil adapter, or context cancellation before completion).
func (d *Dispatcher) Dispatch(ctx context.Context, jobs []Job) ([]*solver.FragmentResult, Summary, error) {
	if len(jobs) == 0 {
		return nil, Summary{}, fmt.Errorf("dispatch: empty job batch")
	}
	for i, job := range jobs {
		if job.Adapter == nil {
			return nil, Summary{}, fmt.Errorf("dispatch: job %d (%s) has no adapter", i, job.Fragment.ID)
		}
	}

	results := make([]*solver.FragmentResult, len(jobs))

	workers := d.cfg.MaxParallel
	if len(jobs) < workers {
		workers = len(jobs)
	}

	indexes := make(chan int, len(jobs))
	for i := range jobs {
		indexes <- i
	}
	close(indexes)

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range indexes {
				if ctx.Err() != nil {
					return
				}
				results[i] = d.runJob(ctx, jobs[i])
				d.observer.JobFinished(results[i])
			}
		}()
	}
	wg.Wait()

	// Cancellation can leave unstarted jobs without results; fill them in
	// so the slice stays index-aligned.
	if err := ctx.Err(); err != nil {
		serr := solver.NewBackendUnavailable("dispatcher", "batch cancelled", err)
		for i, job := range jobs {
			if results[i] == nil {
				results[i] = solver.FailedResult(job.Fragment.ID, job.Options.Iteration, solver.StatusFailed, serr, 0, 0)
			}
		}
		return results, summarize(results), err
	}

	return results, summarize(results), nil
}

// runJob runs one job with retry. Only backend-unavailable failures are
// retried; everything else fails the job on the first occurrence.
func (d *Dispatcher) runJob(ctx context.Context, job Job) *solver.FragmentResult {
	backend := job.Adapter.Name()
	d.observer.JobStarted(job.Fragment.ID, backend)

	start := time.Now()
	var lastErr *solver.SolverError
	attempts := 0

	for attempt := 0; attempt <= d.cfg.MaxRetries; attempt++ {
		attempts = attempt + 1
		attemptCtx := ctx
		cancel := context.CancelFunc(func() {})
		if d.cfg.Timeout > 0 {
			attemptCtx, cancel = context.WithTimeout(ctx, d.cfg.Timeout)
		}
		res, err := job.Adapter.Solve(attemptCtx, job.Fragment, job.Environment, job.Options)
		cancel()

		if err == nil && res != nil {
			res.Attempts = attempt + 1
			res.WallTime = time.Since(start)
			return res
		}
		if err == nil {
			// Adapter contract violation; not a backend fault to retry.
			err = fmt.Errorf("adapter returned neither a result nor an error")
		}

		lastErr = solver.Classify(backend, err)

		// The batch context ending is not a backend fault; stop retrying.
		if ctx.Err() != nil {
			break
		}
		if !solver.IsRetryable(lastErr) {
			return solver.FailedResult(job.Fragment.ID, job.Options.Iteration,
				solver.StatusFailed, lastErr, attempt+1, time.Since(start))
		}
		if attempt >= d.cfg.MaxRetries {
			break
		}

		d.observer.JobRetrying(job.Fragment.ID, backend, attempt+1, lastErr)
		select {
		case <-time.After(d.backoff(attempt)):
		case <-ctx.Done():
			return solver.FailedResult(job.Fragment.ID, job.Options.Iteration,
				solver.StatusFailed, solver.Classify(backend, ctx.Err()), attempt+1, time.Since(start))
		}
	}

	status := solver.StatusRetriesExhausted
	if ctx.Err() != nil {
		status = solver.StatusFailed
	}
	return solver.FailedResult(job.Fragment.ID, job.Options.Iteration,
		status, lastErr, attempts, time.Since(start))
}

// backoff returns the delay before retrying after the given 0-based attempt:
// exponential growth from BaseBackoff, capped at MaxBackoff, stretched by a
// deterministic 12.5% to decorrelate synchronized retries.
func (d *Dispatcher) backoff(attempt int) time.Duration {
	delay := time.Duration(float64(d.cfg.BaseBackoff) * math.Pow(2, float64(attempt)))
	if delay > d.cfg.MaxBackoff {
		delay = d.cfg.MaxBackoff
	}
	return delay + delay/8
}

// summarize tallies terminal statuses over an index-aligned result slice.
func summarize(results []*solver.FragmentResult) Summary {
	s := Summary{Total: len(results)}
	for _, r := range results {
		s.Attempts += r.Attempts
		switch r.Status {
		case solver.StatusSucceeded:
			s.Succeeded++
		case solver.StatusRetriesExhausted:
			s.RetriesExhausted++
		default:
			s.Failed++
		}
	}
	return s
}
