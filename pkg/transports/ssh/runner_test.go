package ssh

import (
	"context"
	"math"
	"testing"

	"gonum.org/v1/gonum/mat"

	"github.com/openqembed/openqembed/pkg/fragment"
	"github.com/openqembed/openqembed/pkg/solver"
)

// stubAdapter is the backend the test server's "stub-runner" exec serves.
type stubAdapter struct{}

func (stubAdapter) Name() string { return "stub" }

func (stubAdapter) Solve(_ context.Context, frag fragment.Fragment, env fragment.Environment, opts solver.Options) (*solver.FragmentResult, error) {
	if frag.ID == "frag-bad" {
		return nil, solver.NewInvalidInput("stub", "rejected spec", nil)
	}
	return &solver.FragmentResult{
		FragmentID: frag.ID,
		Iteration:  opts.Iteration,
		Energy:     -0.5 + env.ChemicalPotential,
		Density:    mat.NewSymDense(1, []float64{1.0}),
		Status:     solver.StatusSucceeded,
		Backend:    "stub",
	}, nil
}

func testFragment(id string) (fragment.Fragment, fragment.Environment) {
	frag := fragment.Fragment{
		ID:             id,
		AtomIndices:    []int{0},
		OrbitalIndices: []int{0},
		ActiveSpace:    fragment.ActiveSpace{Electrons: 1, Orbitals: 1},
	}
	return frag, fragment.NewEnvironment(id, 1)
}

func TestStartRunnerSolve(t *testing.T) {
	server := newTestSSHServer(t)
	defer server.close()

	client := newTestClient(t, server)

	remote, stop, err := client.StartRunner(context.Background(), []string{"stub-runner"})
	if err != nil {
		t.Fatalf("StartRunner failed: %v", err)
	}
	defer stop()

	if remote.Runner().Backend != "stub" {
		t.Errorf("handshake backend = %q", remote.Runner().Backend)
	}
	if remote.Name() != "remote:stub" {
		t.Errorf("adapter name = %q", remote.Name())
	}

	frag, env := testFragment("frag-0")
	result, err := remote.Solve(context.Background(), frag, env, solver.Options{Iteration: 2})
	if err != nil {
		t.Fatalf("Solve failed: %v", err)
	}
	if math.Abs(result.Energy-(-0.5)) > 1e-12 {
		t.Errorf("energy = %v", result.Energy)
	}
	if result.Iteration != 2 {
		t.Errorf("iteration = %d", result.Iteration)
	}
	if result.Backend != "remote:stub" {
		t.Errorf("backend = %q", result.Backend)
	}
}

func TestStartRunnerSolveError(t *testing.T) {
	server := newTestSSHServer(t)
	defer server.close()

	client := newTestClient(t, server)

	remote, stop, err := client.StartRunner(context.Background(), []string{"stub-runner"})
	if err != nil {
		t.Fatalf("StartRunner failed: %v", err)
	}
	defer stop()

	frag, env := testFragment("frag-bad")
	_, err = remote.Solve(context.Background(), frag, env, solver.Options{})
	if !solver.IsInvalidInput(err) {
		t.Errorf("expected an invalid-input classification, got %v", err)
	}

	// In-band solve failures leave the session usable.
	good, genv := testFragment("frag-0")
	if _, err := remote.Solve(context.Background(), good, genv, solver.Options{}); err != nil {
		t.Errorf("session unusable after an in-band error: %v", err)
	}
}

func TestStartRunnerValidation(t *testing.T) {
	server := newTestSSHServer(t)
	defer server.close()

	client := newTestClient(t, server)

	if _, _, err := client.StartRunner(context.Background(), nil); err == nil {
		t.Error("empty runner command must be rejected")
	}
}

func TestShellJoin(t *testing.T) {
	tests := []struct {
		name string
		in   []string
		want string
	}{
		{
			name: "plain args",
			in:   []string{"qembed-runner", "--backend", "classical"},
			want: "qembed-runner --backend classical",
		},
		{
			name: "arg with spaces",
			in:   []string{"run", "my plugin.wasm"},
			want: "run 'my plugin.wasm'",
		},
		{
			name: "arg with single quote",
			in:   []string{"echo", "it's"},
			want: `echo 'it'\''s'`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := shellJoin(tt.in); got != tt.want {
				t.Errorf("shellJoin = %q, want %q", got, tt.want)
			}
		})
	}
}
