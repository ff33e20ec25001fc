package sdk

import (
	"encoding/json"
	"fmt"
)

// Error kinds returned by the credit gate, mirrored from the API's "error"
// field so frontends can switch on them.
const (
	ErrKindToolNotFound        = "tool_not_found"
	ErrKindToolDisabled        = "tool_disabled"
	ErrKindInsufficientCredits = "insufficient_credits"
	ErrKindWalletSuspended     = "wallet_suspended"
	ErrKindDailyLimitReached   = "daily_limit_reached"
	ErrKindRemoteExecution     = "remote_execution_error"
)

// APIError is a structured error response from the API.
type APIError struct {
	StatusCode int    `json:"-"`
	Kind       string `json:"error"`
	Message    string `json:"message"`

	// Set only for insufficient_credits denials
	Required  int `json:"required,omitempty"`
	Balance   int `json:"balance,omitempty"`
	Shortfall int `json:"shortfall,omitempty"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error %d (%s): %s", e.StatusCode, e.Kind, e.Message)
}

// IsDenial reports whether the error is a credit-gate denial as opposed to a
// transport or server failure.
func (e *APIError) IsDenial() bool {
	switch e.Kind {
	case ErrKindToolNotFound, ErrKindToolDisabled, ErrKindInsufficientCredits,
		ErrKindWalletSuspended, ErrKindDailyLimitReached:
		return true
	}
	return false
}

// InvokeResult is a successful tool invocation.
type InvokeResult struct {
	// TransactionID is the audit record for this invocation
	TransactionID string `json:"transaction_id"`

	// ToolName echoes the invoked tool
	ToolName string `json:"tool_name"`

	// Output is the tool's raw JSON result
	Output json.RawMessage `json:"output"`

	// CreditsSpent is what the call cost
	CreditsSpent int `json:"credits_spent"`

	// BalanceAfter is the wallet balance once the debit settled
	BalanceAfter int `json:"balance_after"`
}

// AccessDecision is the read-only pre-flight answer.
type AccessDecision struct {
	CanAccess       bool   `json:"can_access"`
	CreditsRequired int    `json:"credits_required"`
	CurrentBalance  int    `json:"current_balance"`
	Denial          string `json:"denial,omitempty"`
	Reason          string `json:"reason,omitempty"`
}

// WalletBalance is the wallet read model.
type WalletBalance struct {
	UserID  string `json:"user_id"`
	Balance int    `json:"balance"`
	Status  string `json:"status"`
}

// ToolInfo is one catalog entry.
type ToolInfo struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	CreditCost  int    `json:"credit_cost"`
	Enabled     bool   `json:"enabled"`
	DailyLimit  int    `json:"daily_limit"`
}
