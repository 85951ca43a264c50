package wasm

import (
	"context"
	"fmt"
	"time"

	"github.com/tetratelabs/wazero/api"
)

// bridge wraps the exported functions of an instantiated plugin module and
// handles the JSON-in-linear-memory calling convention.
type bridge struct {
	memory api.Memory
	malloc api.Function
	free   api.Function

	solverInit     api.Function
	solverSolve    api.Function
	solverMetadata api.Function

	timeout time.Duration
}

func newBridge(module api.Module, timeout time.Duration) (*bridge, error) {
	b := &bridge{timeout: timeout}

	b.memory = module.Memory()
	if b.memory == nil {
		return nil, fmt.Errorf("plugin does not export memory")
	}
	for _, exp := range []struct {
		name string
		dst  *api.Function
	}{
		{"malloc", &b.malloc},
		{"free", &b.free},
		{"solver_init", &b.solverInit},
		{"solver_solve", &b.solverSolve},
		{"solver_metadata", &b.solverMetadata},
	} {
		fn := module.ExportedFunction(exp.name)
		if fn == nil {
			return nil, fmt.Errorf("plugin does not export %s", exp.name)
		}
		*exp.dst = fn
	}
	return b, nil
}

// call invokes fn with the JSON input placed in plugin memory and returns
// the plugin's JSON output.
func (b *bridge) call(ctx context.Context, fn api.Function, input []byte) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	var inputPtr, inputLen uint32
	if len(input) > 0 {
		ptr, err := b.allocate(ctx, uint32(len(input)))
		if err != nil {
			return nil, err
		}
		defer b.deallocate(ctx, ptr)

		if !b.memory.Write(ptr, input) {
			return nil, fmt.Errorf("failed to write input to plugin memory")
		}
		inputPtr, inputLen = ptr, uint32(len(input))
	}

	// fn(input_ptr, input_len) -> (output_ptr << 32) | output_len
	results, err := fn.Call(ctx, uint64(inputPtr), uint64(inputLen))
	if err != nil {
		return nil, fmt.Errorf("plugin call failed: %w", err)
	}
	if len(results) == 0 {
		return nil, fmt.Errorf("plugin call returned no results")
	}

	packed := results[0]
	outputPtr := uint32(packed >> 32)
	outputLen := uint32(packed & 0xFFFFFFFF)
	if outputLen == 0 {
		return []byte("{}"), nil
	}

	output, ok := b.memory.Read(outputPtr, outputLen)
	if !ok {
		return nil, fmt.Errorf("failed to read output from plugin memory")
	}
	// The output buffer belongs to the plugin; copy before freeing.
	out := append([]byte(nil), output...)
	_ = b.deallocate(ctx, outputPtr)
	return out, nil
}

func (b *bridge) allocate(ctx context.Context, size uint32) (uint32, error) {
	results, err := b.malloc.Call(ctx, uint64(size))
	if err != nil {
		return 0, fmt.Errorf("plugin malloc failed: %w", err)
	}
	if len(results) == 0 || uint32(results[0]) == 0 {
		return 0, fmt.Errorf("plugin malloc returned no memory")
	}
	return uint32(results[0]), nil
}

func (b *bridge) deallocate(ctx context.Context, ptr uint32) error {
	_, err := b.free.Call(ctx, uint64(ptr))
	return err
}
