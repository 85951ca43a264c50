package wasm

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"

	"github.com/openqembed/openqembed/pkg/solver"
)

// Config parameterizes the plugin host.
type Config struct {
	// Timeout bounds each plugin call. Default 30s.
	Timeout time.Duration

	// MemoryLimitPages caps plugin linear memory in 64KB pages. Default 256
	// pages (16MB).
	MemoryLimitPages uint32

	// InitOptions is an opaque JSON document handed to solver_init.
	InitOptions json.RawMessage
}

// Plugin is a sandboxed solver backend loaded from a WASM module. It
// implements solver.CorrelatedSolver, so it slots in wherever a native
// correlated routine would.
type Plugin struct {
	runtime  wazero.Runtime
	module   api.Module
	bridge   *bridge
	metadata Metadata
}

var _ solver.CorrelatedSolver = (*Plugin)(nil)

// Load compiles and instantiates a plugin from WASM bytes, calls
// solver_init, and reads the plugin metadata.
func Load(ctx context.Context, wasmBytes []byte, cfg Config) (*Plugin, error) {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MemoryLimitPages == 0 {
		cfg.MemoryLimitPages = 256
	}

	runtimeConfig := wazero.NewRuntimeConfig().
		WithMemoryLimitPages(cfg.MemoryLimitPages).
		WithCloseOnContextDone(true)
	runtime := wazero.NewRuntimeWithConfig(ctx, runtimeConfig)

	if _, err := wasi_snapshot_preview1.Instantiate(ctx, runtime); err != nil {
		runtime.Close(ctx)
		return nil, fmt.Errorf("failed to instantiate WASI: %w", err)
	}

	module, err := runtime.Instantiate(ctx, wasmBytes)
	if err != nil {
		runtime.Close(ctx)
		return nil, fmt.Errorf("failed to instantiate plugin module: %w", err)
	}

	br, err := newBridge(module, cfg.Timeout)
	if err != nil {
		module.Close(ctx)
		runtime.Close(ctx)
		return nil, err
	}

	p := &Plugin{runtime: runtime, module: module, bridge: br}

	init := cfg.InitOptions
	if init == nil {
		init = json.RawMessage("{}")
	}
	if out, err := br.call(ctx, br.solverInit, init); err != nil {
		p.Close(ctx)
		return nil, fmt.Errorf("solver_init failed: %w", err)
	} else if msg := errorField(out); msg != "" {
		p.Close(ctx)
		return nil, fmt.Errorf("solver_init rejected options: %s", msg)
	}

	metaJSON, err := br.call(ctx, br.solverMetadata, nil)
	if err != nil {
		p.Close(ctx)
		return nil, fmt.Errorf("solver_metadata failed: %w", err)
	}
	if err := json.Unmarshal(metaJSON, &p.metadata); err != nil {
		p.Close(ctx)
		return nil, fmt.Errorf("failed to unmarshal plugin metadata: %w", err)
	}
	if p.metadata.Name == "" {
		p.Close(ctx)
		return nil, fmt.Errorf("plugin metadata has no name")
	}
	return p, nil
}

// Name implements solver.CorrelatedSolver.
func (p *Plugin) Name() string { return "wasm:" + p.metadata.Name }

// Metadata returns the plugin's self-description.
func (p *Plugin) Metadata() Metadata { return p.metadata }

// Supports reports whether the plugin declares the given method.
func (p *Plugin) Supports(method string) bool {
	for _, m := range p.metadata.Methods {
		if m == method {
			return true
		}
	}
	return len(p.metadata.Methods) == 0
}

// Compute implements solver.CorrelatedSolver by delegating to solver_solve.
func (p *Plugin) Compute(ctx context.Context, spec solver.ActiveSpaceSpec) (solver.ClassicalOutput, error) {
	reqJSON, err := json.Marshal(encodeRequest(spec))
	if err != nil {
		return solver.ClassicalOutput{}, fmt.Errorf("failed to marshal solve request: %w", err)
	}

	respJSON, err := p.bridge.call(ctx, p.bridge.solverSolve, reqJSON)
	if err != nil {
		return solver.ClassicalOutput{}, solver.Classify(p.Name(), err)
	}

	var resp solveResponse
	if err := json.Unmarshal(respJSON, &resp); err != nil {
		return solver.ClassicalOutput{}, fmt.Errorf("failed to unmarshal solve response: %w", err)
	}
	if resp.Error != "" {
		if resp.Retryable {
			return solver.ClassicalOutput{}, solver.NewBackendUnavailable(p.Name(), resp.Error, nil)
		}
		return solver.ClassicalOutput{}, solver.NewNonConvergence(p.Name(), resp.Error, nil)
	}

	density, err := resp.Density.unpack()
	if err != nil {
		return solver.ClassicalOutput{}, solver.NewNonConvergence(p.Name(), err.Error(), nil)
	}
	return solver.ClassicalOutput{
		Energy:      resp.Energy,
		Density:     density,
		Occupations: resp.Occupations,
	}, nil
}

// Close releases the plugin's module and runtime.
func (p *Plugin) Close(ctx context.Context) error {
	if p.module != nil {
		if err := p.module.Close(ctx); err != nil {
			return fmt.Errorf("failed to close plugin module: %w", err)
		}
		p.module = nil
	}
	if p.runtime != nil {
		if err := p.runtime.Close(ctx); err != nil {
			return fmt.Errorf("failed to close plugin runtime: %w", err)
		}
		p.runtime = nil
	}
	return nil
}

func errorField(doc []byte) string {
	var resp struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(doc, &resp); err != nil {
		return ""
	}
	return resp.Error
}
