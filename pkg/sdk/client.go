// Package sdk provides the Estatia AI tools client for marketplace frontends
// and internal services.
//
// The SDK wraps the credit-gated tool API: check access before rendering a
// tool button, invoke the tool, read the wallet, top up.
//
// Quick Start:
//
//	client := sdk.NewClient(sdk.Config{
//	    BaseURL: "https://api.estatia.example.com",
//	    UserID:  "seller-42",
//	})
//
//	result, err := client.InvokeTool(ctx, "listing_enhancer", map[string]interface{}{
//	    "listing_id": "prop-123",
//	})
package sdk

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Config holds the SDK configuration.
type Config struct {
	// BaseURL is the API endpoint (required)
	// Examples: "https://api.estatia.example.com", "http://localhost:8080"
	BaseURL string

	// UserID identifies the marketplace user on whose behalf tools run (required)
	UserID string

	// AdminKey authenticates admin endpoints (optional)
	AdminKey string

	// Timeout for API calls (default 90s; tool invocations can run long)
	Timeout time.Duration

	// OnDenied is called when a tool call is denied by the credit gate
	OnDenied func(apiErr *APIError)
}

// Client is the Estatia AI tools client.
type Client struct {
	config     Config
	httpClient *http.Client
}

// NewClient creates a new SDK client.
func NewClient(cfg Config) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = 90 * time.Second
	}

	return &Client{
		config: cfg,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
	}
}

func (c *Client) do(ctx context.Context, method, path string, body interface{}, out interface{}) error {
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("sdk: failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.config.BaseURL+path, reader)
	if err != nil {
		return fmt.Errorf("sdk: failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-User-ID", c.config.UserID)
	if c.config.AdminKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.config.AdminKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("sdk: request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("sdk: failed to read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		if err := json.Unmarshal(respBody, apiErr); err != nil {
			apiErr.Message = string(respBody)
		}
		if apiErr.IsDenial() && c.config.OnDenied != nil {
			c.config.OnDenied(apiErr)
		}
		return apiErr
	}

	if out != nil {
		if err := json.Unmarshal(respBody, out); err != nil {
			return fmt.Errorf("sdk: failed to parse response: %w", err)
		}
	}

	return nil
}

// InvokeTool runs a credit-gated tool call. The gate debits the tool's cost
// before execution; a failed execution refunds automatically server-side.
//
// Example:
//
//	result, err := client.InvokeTool(ctx, "pricing_suggestion", map[string]interface{}{
//	    "address": "Keizersgracht 123, Amsterdam",
//	    "sqm":     85,
//	})
//	var apiErr *sdk.APIError
//	if errors.As(err, &apiErr) && apiErr.Kind == sdk.ErrKindInsufficientCredits {
//	    // Show the top-up dialog with apiErr.Shortfall
//	}
func (c *Client) InvokeTool(ctx context.Context, toolName string, input map[string]interface{}) (*InvokeResult, error) {
	var result InvokeResult
	if err := c.do(ctx, "POST", "/api/v1/tools/"+toolName+"/invoke", input, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// CheckAccess asks whether the user could invoke the tool right now, without
// charging anything. Use it to enable or grey out tool buttons.
func (c *Client) CheckAccess(ctx context.Context, toolName string) (*AccessDecision, error) {
	var decision AccessDecision
	if err := c.do(ctx, "GET", "/api/v1/tools/"+toolName+"/access", nil, &decision); err != nil {
		return nil, err
	}
	return &decision, nil
}

// GetWallet returns the user's current balance and wallet status.
func (c *Client) GetWallet(ctx context.Context) (*WalletBalance, error) {
	var bal WalletBalance
	if err := c.do(ctx, "GET", "/api/v1/wallet", nil, &bal); err != nil {
		return nil, err
	}
	return &bal, nil
}

// TopUp credits the user's wallet and returns the new balance.
func (c *Client) TopUp(ctx context.Context, amount int, source string) (int, error) {
	var resp struct {
		Balance int `json:"balance"`
	}
	err := c.do(ctx, "POST", "/api/v1/wallet/topup",
		map[string]interface{}{"amount": amount, "source": source}, &resp)
	if err != nil {
		return 0, err
	}
	return resp.Balance, nil
}

// ListTools returns the tool catalog with costs and enablement flags.
func (c *Client) ListTools(ctx context.Context) ([]ToolInfo, error) {
	var resp struct {
		Tools []ToolInfo `json:"tools"`
	}
	if err := c.do(ctx, "GET", "/api/v1/tools", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Tools, nil
}

// AsAPIError unwraps err into an *APIError if the server produced it.
func AsAPIError(err error) (*APIError, bool) {
	var apiErr *APIError
	ok := errors.As(err, &apiErr)
	return apiErr, ok
}
