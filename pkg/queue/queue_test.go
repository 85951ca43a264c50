package queue

import (
	"context"
	"io"
	"math"
	"testing"
	"time"

	"gonum.org/v1/gonum/mat"

	"github.com/openqembed/openqembed/pkg/fragment"
	"github.com/openqembed/openqembed/pkg/solver"
)

func TestSymWireRoundTrip(t *testing.T) {
	m := mat.NewSymDense(3, nil)
	m.SetSym(0, 0, 1.5)
	m.SetSym(0, 2, -0.25)
	m.SetSym(1, 1, 2.0)
	m.SetSym(2, 2, -3.0)

	w := PackSym(m)
	if len(w.Data) != 6 {
		t.Fatalf("packed %d elements, want 6", len(w.Data))
	}
	got, err := w.Unpack()
	if err != nil {
		t.Fatal(err)
	}
	if !mat.EqualApprox(m, got, 0) {
		t.Error("round trip changed the matrix")
	}

	if w := PackSym(nil); w != nil {
		t.Error("nil matrix must pack to nil")
	}
	bad := &SymWire{Dim: 3, Data: []float64{1, 2}}
	if _, err := bad.Unpack(); err == nil {
		t.Error("truncated payload must be rejected")
	}
}

func TestSubmitValidation(t *testing.T) {
	sub := &SubmitMessage{
		ID:          "s-1",
		Fragment:    FragmentWire{ID: "frag-0"},
		Environment: EnvironmentWire{FragmentID: "frag-1"},
	}
	if err := sub.Validate(); err == nil {
		t.Error("misaligned environment must be rejected")
	}
	sub.Environment.FragmentID = "frag-0"
	if err := sub.Validate(); err != nil {
		t.Error(err)
	}
	sub.ID = ""
	if err := sub.Validate(); err == nil {
		t.Error("missing submit ID must be rejected")
	}
}

// echoAdapter answers with a scripted energy, or a scripted error when the
// fragment ID carries a failure suffix.
type echoAdapter struct{}

func (echoAdapter) Name() string { return "echo" }

func (echoAdapter) Solve(_ context.Context, frag fragment.Fragment, env fragment.Environment, opts solver.Options) (*solver.FragmentResult, error) {
	switch frag.ID {
	case "frag-transient":
		return nil, solver.NewBackendUnavailable("echo", "qpu queue full", nil)
	case "frag-bad":
		return nil, solver.NewInvalidInput("echo", "rejected spec", nil)
	}
	density := mat.NewSymDense(1, []float64{2.0})
	return &solver.FragmentResult{
		FragmentID: frag.ID,
		Iteration:  opts.Iteration,
		Energy:     -1.25 + env.ChemicalPotential,
		Density:    density,
		Status:     solver.StatusSucceeded,
		Backend:    "echo",
	}, nil
}

// startSession wires a Serve loop and a connected Remote over in-memory
// pipes.
func startSession(t *testing.T) (*Remote, func()) {
	t.Helper()
	toRunnerR, toRunnerW := io.Pipe()
	fromRunnerR, fromRunnerW := io.Pipe()

	serveCtx, stopServe := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = Serve(serveCtx, toRunnerR, fromRunnerW, echoAdapter{}, "test")
	}()

	remote, err := Connect(fromRunnerR, toRunnerW)
	if err != nil {
		stopServe()
		t.Fatal(err)
	}
	cleanup := func() {
		_ = remote.Close()
		// Unblock the runner's final EXIT write on the synchronous pipe.
		_ = fromRunnerR.Close()
		_ = toRunnerW.Close()
		stopServe()
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Error("runner did not shut down")
		}
	}
	return remote, cleanup
}

func wireFragment() (fragment.Fragment, fragment.Environment) {
	frag := fragment.Fragment{
		ID:             "frag-0",
		AtomIndices:    []int{0},
		OrbitalIndices: []int{0},
		ActiveSpace:    fragment.ActiveSpace{Electrons: 2, Orbitals: 1},
	}
	env := fragment.NewEnvironment("frag-0", 1)
	env.ChemicalPotential = -0.25
	return frag, env
}

func TestRemoteSolveRoundTrip(t *testing.T) {
	remote, cleanup := startSession(t)
	defer cleanup()

	if remote.Name() != "remote:echo" {
		t.Errorf("name = %q", remote.Name())
	}
	if remote.Runner().Version != "test" {
		t.Errorf("runner version = %q", remote.Runner().Version)
	}

	frag, env := wireFragment()
	res, err := remote.Solve(context.Background(), frag, env, solver.Options{Iteration: 4})
	if err != nil {
		t.Fatal(err)
	}
	if !res.Succeeded() || res.Iteration != 4 {
		t.Fatalf("result = %+v", res)
	}
	if math.Abs(res.Energy-(-1.5)) > 1e-12 {
		t.Errorf("energy = %v, want -1.5", res.Energy)
	}
	if res.Density == nil || res.Density.At(0, 0) != 2.0 {
		t.Error("density did not survive the wire")
	}
	if res.Backend != "remote:echo" {
		t.Errorf("backend = %q", res.Backend)
	}
}

func TestRemoteSolveSequential(t *testing.T) {
	remote, cleanup := startSession(t)
	defer cleanup()

	frag, env := wireFragment()
	for i := 1; i <= 3; i++ {
		res, err := remote.Solve(context.Background(), frag, env, solver.Options{Iteration: i})
		if err != nil {
			t.Fatalf("solve %d: %v", i, err)
		}
		if res.Iteration != i {
			t.Fatalf("solve %d returned iteration %d", i, res.Iteration)
		}
	}
}

func TestRemoteSolveErrorClassification(t *testing.T) {
	remote, cleanup := startSession(t)
	defer cleanup()

	env := fragment.NewEnvironment("frag-transient", 1)
	frag := fragment.Fragment{ID: "frag-transient", OrbitalIndices: []int{0},
		ActiveSpace: fragment.ActiveSpace{Electrons: 2, Orbitals: 1}}
	_, err := remote.Solve(context.Background(), frag, env, solver.Options{})
	if !solver.IsBackendUnavailable(err) {
		t.Errorf("transient failure classified as %v", solver.KindOf(err))
	}

	env = fragment.NewEnvironment("frag-bad", 1)
	frag.ID = "frag-bad"
	env.FragmentID = "frag-bad"
	_, err = remote.Solve(context.Background(), frag, env, solver.Options{})
	if !solver.IsInvalidInput(err) {
		t.Errorf("rejected spec classified as %v", solver.KindOf(err))
	}

	// Classified failures leave the session usable.
	frag, env = wireFragment()
	if _, err := remote.Solve(context.Background(), frag, env, solver.Options{}); err != nil {
		t.Errorf("session unusable after in-band errors: %v", err)
	}
}

func TestRemoteBrokenAfterCancellation(t *testing.T) {
	toRunnerR, toRunnerW := io.Pipe()
	fromRunnerR, fromRunnerW := io.Pipe()
	defer toRunnerR.Close()
	defer fromRunnerW.Close()

	// Hand-rolled runner: READY, then ACK with no RESULT, stalling the
	// controller until its context expires.
	go func() {
		enc := NewEncoder(fromRunnerW)
		dec := NewDecoder(toRunnerR)
		_ = enc.EncodeReady(&ReadyMessage{Backend: "stall", Version: "test"})
		sub, err := dec.DecodeSubmit()
		if err != nil {
			return
		}
		_ = enc.EncodeAck(&AckMessage{SubmitID: sub.ID})
	}()

	remote, err := Connect(fromRunnerR, toRunnerW)
	if err != nil {
		t.Fatal(err)
	}
	frag, env := wireFragment()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = remote.Solve(ctx, frag, env, solver.Options{})
	if !solver.IsBackendUnavailable(err) {
		t.Fatalf("cancelled solve classified as %v", solver.KindOf(err))
	}

	_, err = remote.Solve(context.Background(), frag, env, solver.Options{})
	if !solver.IsBackendUnavailable(err) {
		t.Fatal("a cancelled exchange must poison the session")
	}
}
