package invoker

import (
	"errors"
	"fmt"

	"github.com/estatia/backend/internal/registry"
	"github.com/estatia/backend/internal/wallet"
)

// The caller-facing error taxonomy. Gate and wallet denials surface as
// typed errors so handlers can branch deterministically; only the remote
// call may fail with an arbitrary wrapped cause.
var (
	ErrToolNotFound        = registry.ErrToolNotFound
	ErrToolDisabled        = errors.New("tool disabled")
	ErrInsufficientCredits = wallet.ErrInsufficientBalance
	ErrWalletSuspended     = wallet.ErrWalletSuspended
	ErrDailyLimitReached   = errors.New("daily limit reached")
	ErrRemoteExecution     = errors.New("remote execution failed")
)

// RemoteExecutionError wraps the remote cause. Credits have already been
// refunded by the time the caller sees this; it is safe to retry.
type RemoteExecutionError struct {
	ToolName string
	Timeout  bool
	Err      error
}

func (e *RemoteExecutionError) Error() string {
	if e.Timeout {
		return fmt.Sprintf("remote execution of %s timed out: %v", e.ToolName, e.Err)
	}
	return fmt.Sprintf("remote execution of %s failed: %v", e.ToolName, e.Err)
}

// Unwrap lets errors.Is match ErrRemoteExecution and the underlying cause.
func (e *RemoteExecutionError) Unwrap() error { return ErrRemoteExecution }

// Cause returns the underlying remote error.
func (e *RemoteExecutionError) Cause() error { return e.Err }
