// Package invoker orchestrates a credit-gated AI tool call: check access,
// debit credits, execute the remote function, record the outcome, and
// refund on failure. A user is never charged for an invocation that did not
// produce output — that is the central contract of this package.
package invoker

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/estatia/backend/internal/events"
	"github.com/estatia/backend/internal/gate"
	"github.com/estatia/backend/internal/metrics"
	"github.com/estatia/backend/internal/usagelog"
	"github.com/estatia/backend/internal/wallet"
)

// invocationState names the steps of the orchestration, used for logging.
type invocationState string

const (
	stateRequested invocationState = "requested"
	stateChecked   invocationState = "checked"
	stateDebited   invocationState = "debited"
	stateExecuting invocationState = "executing"
	stateSucceeded invocationState = "succeeded"
	stateFailed    invocationState = "failed"
)

// Result is the successful outcome of an invocation.
type Result struct {
	TransactionID string          `json:"transaction_id"`
	ToolName      string          `json:"tool_name"`
	Output        json.RawMessage `json:"output"`
	CreditsSpent  int             `json:"credits_spent"`
	BalanceAfter  int             `json:"balance_after"`
}

// Config wires the invoker's collaborators. Bus, Metrics and Counter are
// optional; Timeout 0 picks a default.
type Config struct {
	Gate     *gate.CreditGate
	Wallets  *wallet.WalletStore
	TxStore  TransactionStore
	Usage    *usagelog.Logger
	Executor RemoteExecutor
	Counter  gate.UsageCounter
	Bus      events.EventEmitter
	Metrics  *metrics.Metrics
	Timeout  time.Duration
}

// ToolInvoker runs the Requested → Checked → Debited → Executing →
// Succeeded | Failed(Refunded) state machine for each call.
type ToolInvoker struct {
	gate     *gate.CreditGate
	wallets  *wallet.WalletStore
	txStore  TransactionStore
	usage    *usagelog.Logger
	executor RemoteExecutor
	counter  gate.UsageCounter
	bus      events.EventEmitter
	metrics  *metrics.Metrics
	timeout  time.Duration
	logger   *log.Logger
}

// NewToolInvoker creates the orchestrator.
func NewToolInvoker(cfg Config) *ToolInvoker {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	return &ToolInvoker{
		gate:     cfg.Gate,
		wallets:  cfg.Wallets,
		txStore:  cfg.TxStore,
		usage:    cfg.Usage,
		executor: cfg.Executor,
		counter:  cfg.Counter,
		bus:      cfg.Bus,
		metrics:  cfg.Metrics,
		timeout:  cfg.Timeout,
		logger:   log.New(log.Writer(), "[INVOKER] ", log.LstdFlags),
	}
}

// CheckAccess is the read-only pre-flight used by the UI to disable
// buttons. It mutates nothing and writes no usage entry.
func (ti *ToolInvoker) CheckAccess(ctx context.Context, userID, toolName string) (*gate.Decision, error) {
	return ti.gate.CheckAccess(ctx, userID, toolName)
}

// Invoke runs the full flow. Exactly one usage log entry is written per
// attempt, granted or denied. The invocation is detached from the caller's
// cancellation: once the gate grants access the flow runs to completion
// server-side so credits are never silently lost to a client that
// navigated away.
func (ti *ToolInvoker) Invoke(ctx context.Context, userID, toolName string, input json.RawMessage) (*Result, error) {
	// Detach from caller cancellation; the remote timeout below is the
	// only deadline that applies from here on.
	ctx = context.WithoutCancel(ctx)

	started := time.Now()
	ti.logger.Printf("state=%s user=%s tool=%s", stateRequested, userID, toolName)

	decision, err := ti.gate.CheckAccess(ctx, userID, toolName)
	if err != nil {
		return nil, fmt.Errorf("access check: %w", err)
	}

	// Denials are logged too — they feed abuse monitoring.
	ti.usage.Record(&usagelog.Entry{
		ToolName:         toolName,
		UserID:           userID,
		CreditsRequired:  decision.CreditsRequired,
		BalanceAtAttempt: decision.CurrentBalance,
		AccessGranted:    decision.CanAccess,
		Reason:           decision.Reason,
	})
	ti.observeCheck(toolName, decision)

	if !decision.CanAccess {
		ti.emit(events.TypeToolDenied, toolName, map[string]interface{}{
			"user_id": userID,
			"tool":    toolName,
			"denial":  string(decision.Denial),
			"reason":  decision.Reason,
		})
		ti.countInvocation(toolName, "denied")
		return nil, denialError(decision)
	}

	ti.logger.Printf("state=%s user=%s tool=%s cost=%d balance=%d",
		stateChecked, userID, toolName, decision.CreditsRequired, decision.CurrentBalance)

	// Debit. The store-level conditional update closes the race where the
	// balance changed between check and debit; a miss here is surfaced as
	// InsufficientCredits without a second usage entry.
	balanceAfter, err := ti.wallets.Debit(ctx, userID, decision.CreditsRequired)
	if err != nil {
		ti.countInvocation(toolName, "denied")
		return nil, err
	}
	ti.logger.Printf("state=%s user=%s tool=%s balance=%d", stateDebited, userID, toolName, balanceAfter)
	if ti.metrics != nil {
		ti.metrics.CreditsDebited.WithLabelValues(toolName).Add(float64(decision.CreditsRequired))
		ti.metrics.WalletBalance.WithLabelValues(userID).Set(float64(balanceAfter))
	}

	tx := &Transaction{
		ID:           uuid.NewString(),
		UserID:       userID,
		ToolName:     toolName,
		CreditCost:   decision.CreditsRequired,
		Status:       StatusPending,
		InputSummary: summarize(input),
		CreatedAt:    time.Now(),
	}
	if err := ti.txStore.CreateTransaction(ctx, tx); err != nil {
		// Nothing executed; put the credits back and fail.
		ti.refund(ctx, tx)
		return nil, fmt.Errorf("create transaction: %w", err)
	}

	if ti.counter != nil {
		if _, err := ti.counter.IncrToday(ctx, userID, toolName); err != nil {
			ti.logger.Printf("⚠️  Daily counter increment failed for %s/%s: %v", userID, toolName, err)
		}
	}

	ti.logger.Printf("state=%s tx=%s tool=%s", stateExecuting, tx.ID, toolName)
	remoteStart := time.Now()
	output, timedOut, execErr := safeExecute(ctx, ti.executor, toolName, input, ti.timeout)
	if ti.metrics != nil {
		ti.metrics.RemoteDuration.WithLabelValues(toolName).Observe(time.Since(remoteStart).Seconds())
	}

	if execErr != nil {
		return nil, ti.failAndRefund(ctx, tx, timedOut, execErr)
	}

	if err := ti.txStore.ResolveTransaction(ctx, tx.ID, StatusSuccess, summarize(output), ""); err != nil {
		ti.logger.Printf("⚠️  Failed to resolve transaction %s as success: %v", tx.ID, err)
	}
	ti.countInvocation(toolName, "succeeded")
	if ti.metrics != nil {
		ti.metrics.InvocationDuration.WithLabelValues(toolName).Observe(time.Since(started).Seconds())
	}
	ti.emit(events.TypeToolInvoked, toolName, map[string]interface{}{
		"user_id":        userID,
		"tool":           toolName,
		"transaction_id": tx.ID,
		"credits":        tx.CreditCost,
	})
	ti.logger.Printf("state=%s tx=%s tool=%s credits=%d", stateSucceeded, tx.ID, toolName, tx.CreditCost)

	return &Result{
		TransactionID: tx.ID,
		ToolName:      toolName,
		Output:        output,
		CreditsSpent:  tx.CreditCost,
		BalanceAfter:  balanceAfter,
	}, nil
}

// failAndRefund marks the transaction failed, refunds the debit
// unconditionally, and returns the caller-facing RemoteExecutionError.
func (ti *ToolInvoker) failAndRefund(ctx context.Context, tx *Transaction, timedOut bool, execErr error) error {
	if err := ti.txStore.ResolveTransaction(ctx, tx.ID, StatusFailed, "", execErr.Error()); err != nil {
		ti.logger.Printf("⚠️  Failed to resolve transaction %s as failed: %v", tx.ID, err)
	}

	ti.refund(ctx, tx)

	kind := "error"
	if timedOut {
		kind = "timeout"
	}
	ti.countInvocation(tx.ToolName, "failed")
	if ti.metrics != nil {
		ti.metrics.RemoteFailures.WithLabelValues(tx.ToolName, kind).Inc()
	}
	ti.emit(events.TypeToolFailed, tx.ToolName, map[string]interface{}{
		"user_id":        tx.UserID,
		"tool":           tx.ToolName,
		"transaction_id": tx.ID,
		"credits":        tx.CreditCost,
		"timeout":        timedOut,
	})
	ti.logger.Printf("state=%s tx=%s tool=%s refunded=%d err=%v",
		stateFailed, tx.ID, tx.ToolName, tx.CreditCost, execErr)

	return &RemoteExecutionError{ToolName: tx.ToolName, Timeout: timedOut, Err: execErr}
}

// refund restores the debited credits, retrying a few times. A refund that
// still fails is logged at top volume: it means a user was charged for
// nothing and needs operator attention.
func (ti *ToolInvoker) refund(ctx context.Context, tx *Transaction) {
	if tx.CreditCost == 0 {
		return
	}

	var err error
	for attempt := 0; attempt < 3; attempt++ {
		if _, err = ti.wallets.Credit(ctx, tx.UserID, tx.CreditCost); err == nil {
			if ti.metrics != nil {
				ti.metrics.CreditsRefunded.WithLabelValues(tx.ToolName).Add(float64(tx.CreditCost))
			}
			return
		}
		time.Sleep(time.Duration(attempt+1) * 100 * time.Millisecond)
	}
	ti.logger.Printf("❌ REFUND FAILED tx=%s user=%s credits=%d: %v — manual credit required",
		tx.ID, tx.UserID, tx.CreditCost, err)
}

func (ti *ToolInvoker) emit(eventType, subject string, data map[string]interface{}) {
	if ti.bus != nil {
		ti.bus.Emit(eventType, "/api/v1/tools", subject, data)
	}
}

func (ti *ToolInvoker) countInvocation(tool, status string) {
	if ti.metrics != nil {
		ti.metrics.InvocationsTotal.WithLabelValues(tool, status).Inc()
	}
}

func (ti *ToolInvoker) observeCheck(tool string, d *gate.Decision) {
	if ti.metrics == nil {
		return
	}
	outcome := "granted"
	if !d.CanAccess {
		outcome = string(d.Denial)
	}
	ti.metrics.AccessChecksTotal.WithLabelValues(tool, outcome).Inc()
}

// denialError maps a gate decision to the caller-facing error taxonomy.
func denialError(d *gate.Decision) error {
	switch d.Denial {
	case gate.DenialToolNotFound:
		return fmt.Errorf("%w", ErrToolNotFound)
	case gate.DenialToolDisabled:
		return ErrToolDisabled
	case gate.DenialWalletSuspended:
		return ErrWalletSuspended
	case gate.DenialDailyLimitReached:
		return ErrDailyLimitReached
	case gate.DenialInsufficientCredits:
		return &wallet.InsufficientBalanceError{
			Required: d.CreditsRequired,
			Balance:  d.CurrentBalance,
		}
	default:
		return fmt.Errorf("access denied: %s", d.Reason)
	}
}

// summarize truncates a payload for audit storage. Full payloads stay with
// the remote backend; the transaction row only needs enough to identify
// the call.
func summarize(raw json.RawMessage) string {
	const max = 256
	s := string(raw)
	if len(s) > max {
		return s[:max] + "…"
	}
	return s
}
