package queue

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/openqembed/openqembed/pkg/fragment"
	"github.com/openqembed/openqembed/pkg/solver"
)

// Remote is a solver.Adapter whose backend lives on the far side of a byte
// stream speaking the runner protocol. The protocol is strictly
// request/response, so solves over one Remote are serialized; run several
// runners for parallel throughput.
type Remote struct {
	name  string
	ready ReadyMessage

	mu     sync.Mutex
	enc    *Encoder
	dec    *Decoder
	broken bool
}

var _ solver.Adapter = (*Remote)(nil)

// Connect performs the READY handshake over the stream and returns the
// connected adapter.
func Connect(r io.Reader, w io.Writer) (*Remote, error) {
	dec := NewDecoder(r)
	msg, err := dec.Decode()
	if err != nil {
		return nil, fmt.Errorf("runner handshake: %w", err)
	}
	if msg.Type != MessageTypeReady {
		return nil, fmt.Errorf("runner handshake: expected READY, got %s", msg.Type)
	}
	var ready ReadyMessage
	if err := ParseData(msg.Data, &ready); err != nil {
		return nil, fmt.Errorf("runner handshake: %w", err)
	}
	if ready.Backend == "" {
		return nil, fmt.Errorf("runner handshake: READY names no backend")
	}
	return &Remote{
		name:  "remote:" + ready.Backend,
		ready: ready,
		enc:   NewEncoder(w),
		dec:   dec,
	}, nil
}

// Name implements solver.Adapter.
func (r *Remote) Name() string { return r.name }

// Runner returns the READY announcement received at connect time.
func (r *Remote) Runner() ReadyMessage { return r.ready }

// Close ends the session with an EXIT message. The underlying stream is the
// caller's to close.
func (r *Remote) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.broken = true
	return r.enc.EncodeExit(&ExitMessage{Reason: "controller closing"})
}

// Solve implements solver.Adapter. A context cancellation mid-exchange
// abandons the stream: the response boundary is lost, so the adapter marks
// itself broken and every later call fails as backend-unavailable.
func (r *Remote) Solve(ctx context.Context, frag fragment.Fragment, env fragment.Environment, opts solver.Options) (*solver.FragmentResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.broken {
		return nil, solver.NewBackendUnavailable(r.name, "runner stream is no longer usable", nil)
	}
	if err := ctx.Err(); err != nil {
		return nil, solver.Classify(r.name, err)
	}

	sub := &SubmitMessage{
		ID:          uuid.New().String(),
		Fragment:    PackFragment(frag),
		Environment: PackEnvironment(env),
		Options:     opts,
	}
	if deadline, ok := ctx.Deadline(); ok {
		if secs := int(time.Until(deadline).Seconds()); secs > 0 {
			sub.Timeout = secs
		}
	}
	if err := r.enc.EncodeSubmit(sub); err != nil {
		r.broken = true
		return nil, solver.NewBackendUnavailable(r.name, "submit failed", err)
	}

	if err := r.expectAck(ctx, sub.ID); err != nil {
		return nil, err
	}
	return r.awaitOutcome(ctx, sub.ID)
}

func (r *Remote) expectAck(ctx context.Context, submitID string) error {
	msg, err := r.receive(ctx)
	if err != nil {
		return err
	}
	switch msg.Type {
	case MessageTypeAck:
		var ack AckMessage
		if err := ParseData(msg.Data, &ack); err != nil {
			r.broken = true
			return solver.NewBackendUnavailable(r.name, "malformed ACK", err)
		}
		if ack.SubmitID != submitID {
			r.broken = true
			return solver.NewBackendUnavailable(r.name,
				fmt.Sprintf("ACK for %s, expected %s", ack.SubmitID, submitID), nil)
		}
		return nil
	case MessageTypeError:
		// Rejected before solving; the stream stays usable.
		var em ErrorMessage
		if err := ParseData(msg.Data, &em); err != nil {
			r.broken = true
			return solver.NewBackendUnavailable(r.name, "malformed ERROR", err)
		}
		return em.SolverError(r.name)
	default:
		r.broken = true
		return solver.NewBackendUnavailable(r.name,
			fmt.Sprintf("expected ACK, got %s", msg.Type), nil)
	}
}

func (r *Remote) awaitOutcome(ctx context.Context, submitID string) (*solver.FragmentResult, error) {
	msg, err := r.receive(ctx)
	if err != nil {
		return nil, err
	}
	switch msg.Type {
	case MessageTypeResult:
		var rm ResultMessage
		if err := ParseData(msg.Data, &rm); err != nil {
			r.broken = true
			return nil, solver.NewBackendUnavailable(r.name, "malformed RESULT", err)
		}
		if rm.SubmitID != submitID {
			r.broken = true
			return nil, solver.NewBackendUnavailable(r.name,
				fmt.Sprintf("RESULT for %s, expected %s", rm.SubmitID, submitID), nil)
		}
		res, err := rm.Result.Unpack()
		if err != nil {
			return nil, solver.NewNonConvergence(r.name, "unusable result payload", err)
		}
		res.Backend = r.name
		res.WallTime = time.Duration(rm.Duration * float64(time.Second))
		return res, nil
	case MessageTypeError:
		var em ErrorMessage
		if err := ParseData(msg.Data, &em); err != nil {
			r.broken = true
			return nil, solver.NewBackendUnavailable(r.name, "malformed ERROR", err)
		}
		return nil, em.SolverError(r.name)
	case MessageTypeExit:
		r.broken = true
		return nil, solver.NewBackendUnavailable(r.name, "runner exited mid-solve", nil)
	default:
		r.broken = true
		return nil, solver.NewBackendUnavailable(r.name,
			fmt.Sprintf("expected RESULT or ERROR, got %s", msg.Type), nil)
	}
}

// receive decodes one message, honoring context cancellation. A cancelled
// wait orphans the in-flight response, so the adapter goes broken.
func (r *Remote) receive(ctx context.Context) (*Message, error) {
	type decoded struct {
		msg *Message
		err error
	}
	ch := make(chan decoded, 1)
	go func() {
		msg, err := r.dec.Decode()
		ch <- decoded{msg, err}
	}()

	select {
	case <-ctx.Done():
		r.broken = true
		return nil, solver.Classify(r.name, ctx.Err())
	case d := <-ch:
		if d.err != nil {
			r.broken = true
			return nil, solver.NewBackendUnavailable(r.name, "runner stream failed", d.err)
		}
		return d.msg, nil
	}
}
