// Package main implements the qembed-runner binary: the remote peer of the
// fragment job protocol. It is staged onto a compute host (directly, over
// ssh, or by a scheduler), announces its backend on stdout, and solves the
// fragment jobs arriving on stdin until the session closes or its TTL
// expires. Logs go to stderr; stdout belongs to the protocol.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/openqembed/openqembed/pkg/queue"
	"github.com/openqembed/openqembed/pkg/solver"
	"github.com/openqembed/openqembed/pkg/solver/wasm"
)

const version = "1.0.0"

func main() {
	var (
		backend  = flag.String("backend", "classical", "solver backend: classical, vqe, or wasm")
		module   = flag.String("module", "", "WASM solver module path (wasm backend)")
		ansatz   = flag.String("ansatz", "uccsd", "variational ansatz (vqe backend)")
		ttl      = flag.Duration("ttl", 0, "exit after this long even if the session is open (0 = no limit)")
		logLevel = flag.String("log-level", "info", "log level: debug, info, warn, error")
	)
	flag.Parse()

	setupLogging(*logLevel)

	ctx := context.Background()
	if *ttl > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, *ttl)
		defer cancel()
	}

	adapter, cleanup, err := buildAdapter(ctx, *backend, *module, *ansatz)
	if err != nil {
		log.Error().Err(err).Msg("Failed to build solver backend")
		os.Exit(1)
	}
	defer cleanup()

	log.Info().Str("backend", adapter.Name()).Msg("Runner ready")
	if err := queue.Serve(ctx, os.Stdin, os.Stdout, adapter, version); err != nil {
		log.Error().Err(err).Msg("Session ended with an error")
		os.Exit(1)
	}
	log.Info().Msg("Session closed")
}

func buildAdapter(ctx context.Context, backend, module, ansatz string) (solver.Adapter, func(), error) {
	switch backend {
	case "classical":
		adapter, err := solver.NewClassical(solver.Exact{}, solver.ClassicalConfig{Method: "fci"})
		if err != nil {
			return nil, nil, err
		}
		return adapter, func() {}, nil

	case "vqe":
		a := solver.Ansatz(ansatz)
		adapter, err := solver.NewQuantum(solver.Statevector{}, solver.QuantumConfig{
			Ansatz:       a,
			QubitMapping: solver.MappingJordanWigner,
			UpThenDown:   a == solver.AnsatzUCC1 || a == solver.AnsatzUCC3,
			Backend:      solver.BackendOptions{Target: "statevector"},
		})
		if err != nil {
			return nil, nil, err
		}
		return adapter, func() {}, nil

	case "wasm":
		if module == "" {
			return nil, nil, fmt.Errorf("wasm backend requires -module")
		}
		wasmBytes, err := os.ReadFile(module)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to read solver module: %w", err)
		}
		plugin, err := wasm.Load(ctx, wasmBytes, wasm.Config{})
		if err != nil {
			return nil, nil, err
		}
		method := "fci"
		if methods := plugin.Metadata().Methods; len(methods) > 0 {
			method = methods[0]
		}
		adapter, err := solver.NewClassical(plugin, solver.ClassicalConfig{Method: method})
		if err != nil {
			plugin.Close(ctx)
			return nil, nil, err
		}
		return adapter, func() { plugin.Close(context.Background()) }, nil

	default:
		return nil, nil, fmt.Errorf("unknown backend %q", backend)
	}
}

func setupLogging(level string) {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr}).With().Str("component", "runner").Logger()

	switch level {
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}
