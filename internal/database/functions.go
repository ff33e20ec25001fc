package database

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/estatia/backend/internal/invoker"
)

// EdgeFunctionExecutor runs AI tools as Supabase Edge Functions. Each tool
// name maps to an edge function of the same name; the function wraps the
// actual model call and returns the output payload.
type EdgeFunctionExecutor struct {
	sc     *SupabaseClient
	logger *log.Logger
}

// NewEdgeFunctionExecutor creates the production RemoteExecutor.
func NewEdgeFunctionExecutor(sc *SupabaseClient) *EdgeFunctionExecutor {
	return &EdgeFunctionExecutor{
		sc:     sc,
		logger: log.New(log.Writer(), "[EDGE-FN] ", log.LstdFlags),
	}
}

// Execute invokes the edge function named after the tool. The invoker
// enforces the deadline; the functions client itself has no context
// plumbing.
func (e *EdgeFunctionExecutor) Execute(ctx context.Context, toolName string, input json.RawMessage) (json.RawMessage, error) {
	var body map[string]interface{}
	if len(input) > 0 {
		if err := json.Unmarshal(input, &body); err != nil {
			return nil, fmt.Errorf("tool input must be a JSON object: %w", err)
		}
	}

	resp, err := e.sc.client.Functions.Invoke(toolName, body)
	if err != nil {
		return nil, fmt.Errorf("invoke edge function %s: %w", toolName, err)
	}

	out, err := json.Marshal(resp)
	if err != nil {
		return nil, fmt.Errorf("marshal edge function output: %w", err)
	}

	e.logger.Printf("Edge function %s returned %d bytes", toolName, len(out))
	return out, nil
}

var _ invoker.RemoteExecutor = (*EdgeFunctionExecutor)(nil)
