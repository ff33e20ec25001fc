package invoker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/estatia/backend/internal/circuitbreaker"
)

// BreakerExecutor wraps a RemoteExecutor with a per-tool circuit breaker.
// A backend that keeps failing gets its circuit opened, which surfaces
// here as an immediate execution error — the invoker's refund path makes
// sure the caller is never charged for it.
type BreakerExecutor struct {
	inner    RemoteExecutor
	breakers *circuitbreaker.Manager
}

// NewBreakerExecutor wraps inner. A nil manager gets defaults.
func NewBreakerExecutor(inner RemoteExecutor, breakers *circuitbreaker.Manager) *BreakerExecutor {
	if breakers == nil {
		breakers = circuitbreaker.NewManager(nil)
	}
	return &BreakerExecutor{inner: inner, breakers: breakers}
}

func (be *BreakerExecutor) Execute(ctx context.Context, toolName string, input json.RawMessage) (json.RawMessage, error) {
	cb := be.breakers.Get(toolName)

	out, err := cb.Execute(func() (interface{}, error) {
		return be.inner.Execute(ctx, toolName, input)
	})
	if err != nil {
		if errors.Is(err, circuitbreaker.ErrCircuitOpen) || errors.Is(err, circuitbreaker.ErrTooManyRequests) {
			return nil, fmt.Errorf("backend for %s is unavailable: %w", toolName, err)
		}
		return nil, err
	}

	raw, ok := out.(json.RawMessage)
	if !ok {
		return nil, fmt.Errorf("unexpected executor result type %T", out)
	}
	return raw, nil
}

// States exposes breaker states for the health endpoint.
func (be *BreakerExecutor) States() map[string]string {
	return be.breakers.States()
}

var _ RemoteExecutor = (*BreakerExecutor)(nil)
