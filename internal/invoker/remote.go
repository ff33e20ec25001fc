package invoker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// RemoteExecutor is the boundary to the AI backend. It is treated as
// opaque: success returns the output payload, anything else is a failure.
// Production wires the Supabase Edge Functions client here; tests use
// StubExecutor.
type RemoteExecutor interface {
	Execute(ctx context.Context, toolName string, input json.RawMessage) (json.RawMessage, error)
}

// StubExecutor is a deterministic RemoteExecutor for tests and local
// development. Each call either returns the canned output, the canned
// error, or sleeps past the invoker timeout.
type StubExecutor struct {
	Output json.RawMessage
	Err    error
	Delay  time.Duration
}

func (s *StubExecutor) Execute(ctx context.Context, toolName string, input json.RawMessage) (json.RawMessage, error) {
	if s.Delay > 0 {
		select {
		case <-time.After(s.Delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if s.Err != nil {
		return nil, s.Err
	}
	if s.Output != nil {
		return s.Output, nil
	}
	out, _ := json.Marshal(map[string]string{"tool": toolName, "result": "ok"})
	return out, nil
}

// ExecutorFunc adapts a plain function to RemoteExecutor.
type ExecutorFunc func(ctx context.Context, toolName string, input json.RawMessage) (json.RawMessage, error)

func (f ExecutorFunc) Execute(ctx context.Context, toolName string, input json.RawMessage) (json.RawMessage, error) {
	return f(ctx, toolName, input)
}

type execResult struct {
	out json.RawMessage
	err error
}

// safeExecute runs the executor with a bounded timeout and converts panics
// into errors, so the refund path after it always runs. The call happens on
// its own goroutine because some executors (the edge-function client among
// them) do not take a context; the deadline here is authoritative either
// way.
func safeExecute(ctx context.Context, exec RemoteExecutor, toolName string, input json.RawMessage, timeout time.Duration) (json.RawMessage, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan execResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- execResult{err: fmt.Errorf("remote executor panic: %v", r)}
			}
		}()
		out, err := exec.Execute(ctx, toolName, input)
		done <- execResult{out: out, err: err}
	}()

	select {
	case res := <-done:
		if res.err != nil && ctx.Err() == context.DeadlineExceeded {
			return nil, true, res.err
		}
		return res.out, false, res.err
	case <-ctx.Done():
		return nil, true, fmt.Errorf("remote call exceeded %s: %w", timeout, ctx.Err())
	}
}
