package invoker

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/estatia/backend/internal/circuitbreaker"
)

func TestBreakerOpensAfterRepeatedFailures(t *testing.T) {
	cfg := circuitbreaker.DefaultConfig("")
	cfg.ReadyToTrip = func(c circuitbreaker.Counts) bool {
		return c.ConsecutiveFailures >= 3
	}
	be := NewBreakerExecutor(
		&StubExecutor{Err: errors.New("backend down")},
		circuitbreaker.NewManager(cfg),
	)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := be.Execute(ctx, "pricing_suggestion", nil)
		require.Error(t, err)
		assert.NotErrorIs(t, err, circuitbreaker.ErrCircuitOpen)
	}

	// Breaker tripped: rejected without reaching the backend
	_, err := be.Execute(ctx, "pricing_suggestion", nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, circuitbreaker.ErrCircuitOpen)
	assert.Equal(t, "OPEN", be.States()["pricing_suggestion"])
}

func TestBreakersAreIsolatedPerTool(t *testing.T) {
	cfg := circuitbreaker.DefaultConfig("")
	cfg.ReadyToTrip = func(c circuitbreaker.Counts) bool {
		return c.ConsecutiveFailures >= 1
	}

	calls := map[string]error{
		"pricing_suggestion": errors.New("backend down"),
		"photo_caption":      nil,
	}
	inner := ExecutorFunc(func(_ context.Context, tool string, _ json.RawMessage) (json.RawMessage, error) {
		if err := calls[tool]; err != nil {
			return nil, err
		}
		return json.RawMessage(`{}`), nil
	})
	be := NewBreakerExecutor(inner, circuitbreaker.NewManager(cfg))
	ctx := context.Background()

	_, err := be.Execute(ctx, "pricing_suggestion", nil)
	require.Error(t, err)
	_, err = be.Execute(ctx, "pricing_suggestion", nil)
	assert.ErrorIs(t, err, circuitbreaker.ErrCircuitOpen)

	// The other tool still goes through
	out, err := be.Execute(ctx, "photo_caption", nil)
	require.NoError(t, err)
	assert.JSONEq(t, `{}`, string(out))
}

func TestBreakerRecoversThroughHalfOpen(t *testing.T) {
	cfg := circuitbreaker.DefaultConfig("")
	cfg.Timeout = 20 * time.Millisecond
	cfg.MaxRequests = 1
	cfg.ReadyToTrip = func(c circuitbreaker.Counts) bool {
		return c.ConsecutiveFailures >= 1
	}

	failing := true
	inner := ExecutorFunc(func(context.Context, string, json.RawMessage) (json.RawMessage, error) {
		if failing {
			return nil, errors.New("backend down")
		}
		return json.RawMessage(`{}`), nil
	})
	be := NewBreakerExecutor(inner, circuitbreaker.NewManager(cfg))
	ctx := context.Background()

	_, err := be.Execute(ctx, "seo_metadata", nil)
	require.Error(t, err)
	_, err = be.Execute(ctx, "seo_metadata", nil)
	assert.ErrorIs(t, err, circuitbreaker.ErrCircuitOpen)

	// Backend recovers; after the open timeout a probe succeeds and closes
	failing = false
	time.Sleep(30 * time.Millisecond)

	out, err := be.Execute(ctx, "seo_metadata", nil)
	require.NoError(t, err)
	assert.JSONEq(t, `{}`, string(out))
	assert.Equal(t, "CLOSED", be.States()["seo_metadata"])
}
