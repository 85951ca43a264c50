package queue

import (
	"context"
	"errors"
	"io"
	"os"
	"runtime"
	"time"

	"github.com/openqembed/openqembed/pkg/solver"
	"github.com/openqembed/openqembed/pkg/telemetry"
)

// Serve runs the runner side of the protocol: announce READY, then solve
// submissions with the adapter until the stream ends, an EXIT arrives, or
// the context is cancelled. A clean shutdown sends EXIT and returns nil.
func Serve(ctx context.Context, r io.Reader, w io.Writer, adapter solver.Adapter, version string) error {
	log := telemetry.FromContext(ctx).NewComponentLogger("runner")
	enc := NewEncoder(w)
	dec := NewDecoder(r)

	ready := &ReadyMessage{
		Version:  version,
		Platform: runtime.GOOS,
		Arch:     runtime.GOARCH,
		PID:      os.Getpid(),
		Backend:  adapter.Name(),
	}
	if err := enc.EncodeReady(ready); err != nil {
		return err
	}
	log.Infof("runner ready: backend=%s version=%s", adapter.Name(), version)

	solves := 0
	for {
		if err := ctx.Err(); err != nil {
			_ = enc.EncodeExit(&ExitMessage{Reason: "cancelled", ExitCode: 1, SolvesTotal: solves})
			return err
		}

		sub, err := dec.DecodeSubmit()
		if errors.Is(err, io.EOF) {
			return enc.EncodeExit(&ExitMessage{Reason: "stream closed", SolvesTotal: solves})
		}
		if err != nil {
			// A malformed submission is answerable; a broken stream is not.
			if encErr := enc.EncodeError(&ErrorMessage{
				Code:    string(solver.KindInvalidInput),
				Message: err.Error(),
			}); encErr != nil {
				return encErr
			}
			continue
		}

		if err := enc.EncodeAck(&AckMessage{SubmitID: sub.ID}); err != nil {
			return err
		}
		solves++
		if err := serveOne(ctx, enc, adapter, sub); err != nil {
			return err
		}
	}
}

// serveOne answers one acknowledged submission with RESULT or ERROR. The
// returned error is a stream fault; solve failures travel in-band.
func serveOne(ctx context.Context, enc *Encoder, adapter solver.Adapter, sub *SubmitMessage) error {
	env, err := sub.Environment.Unpack()
	if err != nil {
		return enc.EncodeError(&ErrorMessage{
			SubmitID: sub.ID,
			Code:     string(solver.KindInvalidInput),
			Message:  err.Error(),
		})
	}

	solveCtx := ctx
	if sub.Timeout > 0 {
		var cancel context.CancelFunc
		solveCtx, cancel = context.WithTimeout(ctx, time.Duration(sub.Timeout)*time.Second)
		defer cancel()
	}

	start := time.Now()
	res, err := adapter.Solve(solveCtx, sub.Fragment.Unpack(), env, sub.Options)
	if err != nil {
		serr := solver.Classify(adapter.Name(), err)
		return enc.EncodeError(&ErrorMessage{
			SubmitID:  sub.ID,
			Code:      string(serr.Kind),
			Message:   serr.Detail,
			Retryable: solver.IsRetryable(serr),
		})
	}
	return enc.EncodeResult(&ResultMessage{
		SubmitID: sub.ID,
		Result:   PackResult(res),
		Duration: time.Since(start).Seconds(),
	})
}
