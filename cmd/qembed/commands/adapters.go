package commands

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/exec"
	"os/user"

	"github.com/rs/zerolog/log"

	"github.com/openqembed/openqembed/pkg/config"
	"github.com/openqembed/openqembed/pkg/queue"
	"github.com/openqembed/openqembed/pkg/solver"
	"github.com/openqembed/openqembed/pkg/solver/wasm"
	"github.com/openqembed/openqembed/pkg/transports/ssh"
)

// defaultMethod is the correlated method requested from engines that
// support several; the built-in Exact engine solves the embedded
// one-particle model regardless.
const defaultMethod = "fci"

// buildAdapter turns the solver section of a run config into a live
// adapter. The returned cleanup releases whatever the backend holds open
// (WASM runtime, runner process) and is safe to call on a nil-error path
// only.
func buildAdapter(ctx context.Context, sc config.SolverConfig) (solver.Adapter, func(), error) {
	switch sc.Backend {
	case "classical":
		adapter, err := solver.NewClassical(solver.Exact{}, solver.ClassicalConfig{
			Method:    defaultMethod,
			Tolerance: sc.Options.Tolerance,
			MaxCycles: sc.Options.MaxCycles,
		})
		if err != nil {
			return nil, nil, err
		}
		return adapter, func() {}, nil

	case "vqe":
		ansatz := solver.AnsatzUCCSD
		if sc.Ansatz != "" {
			ansatz = solver.Ansatz(sc.Ansatz)
		}
		adapter, err := solver.NewQuantum(solver.Statevector{}, solver.QuantumConfig{
			Ansatz:       ansatz,
			QubitMapping: solver.MappingJordanWigner,
			// The reduced UCC circuits are only defined for up-then-down
			// spin ordering.
			UpThenDown: ansatz == solver.AnsatzUCC1 || ansatz == solver.AnsatzUCC3,
			Backend: solver.BackendOptions{
				Target: "statevector",
				Shots:  sc.Options.Shots,
			},
			MaxEvaluations: sc.Options.MaxCycles,
			Tolerance:      sc.Options.Tolerance,
		})
		if err != nil {
			return nil, nil, err
		}
		return adapter, func() {}, nil

	case "wasm":
		wasmBytes, err := os.ReadFile(sc.Module)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to read solver module: %w", err)
		}
		plugin, err := wasm.Load(ctx, wasmBytes, wasm.Config{})
		if err != nil {
			return nil, nil, err
		}
		method := defaultMethod
		if methods := plugin.Metadata().Methods; len(methods) > 0 {
			method = methods[0]
		}
		adapter, err := solver.NewClassical(plugin, solver.ClassicalConfig{
			Method:    method,
			Tolerance: sc.Options.Tolerance,
			MaxCycles: sc.Options.MaxCycles,
		})
		if err != nil {
			plugin.Close(ctx)
			return nil, nil, err
		}
		return adapter, func() { plugin.Close(context.Background()) }, nil

	case "remote":
		if sc.Host != "" {
			return startSSHRunner(ctx, sc)
		}
		return startRemoteRunner(ctx, sc.Command)

	default:
		return nil, nil, fmt.Errorf("unknown solver backend %q", sc.Backend)
	}
}

// startSSHRunner launches the runner command on the configured host over
// SSH and speaks the job protocol across the session's stdio.
func startSSHRunner(ctx context.Context, sc config.SolverConfig) (solver.Adapter, func(), error) {
	username := sc.User
	if username == "" {
		u, err := user.Current()
		if err != nil {
			return nil, nil, fmt.Errorf("remote backend needs a user and none could be detected: %w", err)
		}
		username = u.Username
	}

	cfg := ssh.DefaultConfig(sc.Host, username)
	if sc.KeyPath != "" {
		cfg.PrivateKeyPath = sc.KeyPath
	}
	client, err := ssh.NewSSHClient(cfg)
	if err != nil {
		return nil, nil, err
	}
	if err := client.Connect(ctx); err != nil {
		return nil, nil, err
	}

	remote, stop, err := client.StartRunner(ctx, sc.Command)
	if err != nil {
		_ = client.Disconnect()
		return nil, nil, err
	}
	cleanup := func() {
		_ = stop()
		_ = client.Disconnect()
	}
	return remote, cleanup, nil
}

// startRemoteRunner launches the runner command as a child process and
// speaks the job protocol over its stdio; the command is trusted to put
// the runner wherever it should run (directly or via a scheduler shim).
func startRemoteRunner(ctx context.Context, command []string) (solver.Adapter, func(), error) {
	if len(command) == 0 {
		return nil, nil, fmt.Errorf("remote backend requires a runner command")
	}

	cmd := exec.CommandContext(ctx, command[0], command[1:]...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open runner stdin: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open runner stdout: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open runner stderr: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, nil, fmt.Errorf("failed to start runner: %w", err)
	}

	go func() {
		scanner := bufio.NewScanner(stderr)
		for scanner.Scan() {
			log.Debug().Str("stream", "runner").Msg(scanner.Text())
		}
	}()

	remote, err := queue.Connect(stdout, stdin)
	if err != nil {
		_ = cmd.Process.Kill()
		_ = cmd.Wait()
		return nil, nil, fmt.Errorf("runner handshake failed: %w", err)
	}
	log.Info().
		Str("backend", remote.Runner().Backend).
		Int("pid", remote.Runner().PID).
		Msg("Remote runner ready")

	cleanup := func() {
		_ = remote.Close()
		_ = cmd.Wait()
	}
	return remote, cleanup, nil
}
