// Package wallet holds per-user credit balances for AI tool usage.
//
// The balance is the authoritative resource of the credit system: it is
// never observably negative, and every mutation goes through Debit/Credit
// so the non-negative invariant is enforced here, not by callers.
package wallet

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"
)

// Status of a wallet. A suspended wallet rejects all debits.
type Status string

const (
	StatusActive    Status = "active"
	StatusSuspended Status = "suspended"
)

// Errors returned by wallet operations.
var (
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrWalletSuspended     = errors.New("wallet suspended")
	ErrInvalidAmount       = errors.New("amount must be >= 0")
)

// InsufficientBalanceError carries the exact shortfall so the UI can tell
// the user how many credits to purchase.
type InsufficientBalanceError struct {
	Required int
	Balance  int
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient balance: need %d credits, have %d (short %d)",
		e.Required, e.Balance, e.Required-e.Balance)
}

// Unwrap lets errors.Is match against ErrInsufficientBalance.
func (e *InsufficientBalanceError) Unwrap() error { return ErrInsufficientBalance }

// Shortfall is the number of credits missing.
func (e *InsufficientBalanceError) Shortfall() int { return e.Required - e.Balance }

// Balance is one user's credit wallet.
type Balance struct {
	UserID      string    `json:"user_id"`
	Balance     int       `json:"balance"`
	Status      Status    `json:"status"`
	LastUpdated time.Time `json:"last_updated"`
}

// Store is the persistence boundary for wallets. DebitIfSufficient must be
// atomic: a single-row conditional update that decrements only when the
// wallet is active and holds at least amount, so two concurrent debits can
// never both succeed when only one could be afforded.
type Store interface {
	// Get returns the wallet, or nil (not an error) if none exists.
	Get(ctx context.Context, userID string) (*Balance, error)
	// Create inserts a new wallet row; no-op if one already exists.
	Create(ctx context.Context, b *Balance) error
	// DebitIfSufficient decrements atomically. ok=false means the
	// conditional update matched no row (insufficient or suspended).
	DebitIfSufficient(ctx context.Context, userID string, amount int) (newBalance int, ok bool, err error)
	// Credit increments unconditionally (top-ups and refunds).
	Credit(ctx context.Context, userID string, amount int) (newBalance int, err error)
	// SetStatus flips the wallet between active and suspended.
	SetStatus(ctx context.Context, userID string, status Status) error
}

// WalletStore is the service façade over a Store. It owns default-balance
// creation and translates conditional-update misses into typed errors.
type WalletStore struct {
	store          Store
	defaultBalance int
	logger         *log.Logger
}

// NewWalletStore creates the wallet service. New users receive
// defaultBalance credits on first access.
func NewWalletStore(store Store, defaultBalance int) *WalletStore {
	return &WalletStore{
		store:          store,
		defaultBalance: defaultBalance,
		logger:         log.New(log.Writer(), "[WALLET] ", log.LstdFlags),
	}
}

// GetBalance returns the user's wallet, creating a default-balance record
// on first access. First contact is not an error.
func (ws *WalletStore) GetBalance(ctx context.Context, userID string) (*Balance, error) {
	b, err := ws.store.Get(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("get wallet: %w", err)
	}
	if b != nil {
		return b, nil
	}

	b = &Balance{
		UserID:      userID,
		Balance:     ws.defaultBalance,
		Status:      StatusActive,
		LastUpdated: time.Now(),
	}
	if err := ws.store.Create(ctx, b); err != nil {
		return nil, fmt.Errorf("create wallet: %w", err)
	}
	ws.logger.Printf("Created wallet for %s (balance=%d)", userID, ws.defaultBalance)

	// Re-read: a concurrent first access may have won the insert.
	created, err := ws.store.Get(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("get wallet after create: %w", err)
	}
	if created != nil {
		return created, nil
	}
	return b, nil
}

// Debit removes amount credits. Fails with ErrInsufficientBalance (carrying
// the shortfall) or ErrWalletSuspended; the balance is never driven
// negative and a rejected debit mutates nothing.
func (ws *WalletStore) Debit(ctx context.Context, userID string, amount int) (int, error) {
	if amount < 0 {
		return 0, ErrInvalidAmount
	}

	// Ensure the wallet exists so first-ever activity gets the default
	// balance before the conditional update runs.
	b, err := ws.GetBalance(ctx, userID)
	if err != nil {
		return 0, err
	}

	newBalance, ok, err := ws.store.DebitIfSufficient(ctx, userID, amount)
	if err != nil {
		return 0, fmt.Errorf("debit wallet: %w", err)
	}
	if ok {
		return newBalance, nil
	}

	// The conditional update matched nothing: re-read to report why.
	b, err = ws.store.Get(ctx, userID)
	if err != nil || b == nil {
		return 0, &InsufficientBalanceError{Required: amount, Balance: 0}
	}
	if b.Status == StatusSuspended {
		return b.Balance, ErrWalletSuspended
	}
	return b.Balance, &InsufficientBalanceError{Required: amount, Balance: b.Balance}
}

// Credit adds amount credits. Used both for top-ups and for refunds when a
// debited tool invocation fails. Always succeeds for amount >= 0, even on a
// suspended wallet (refunds must land regardless of status).
func (ws *WalletStore) Credit(ctx context.Context, userID string, amount int) (int, error) {
	if amount < 0 {
		return 0, ErrInvalidAmount
	}

	if _, err := ws.GetBalance(ctx, userID); err != nil {
		return 0, err
	}

	newBalance, err := ws.store.Credit(ctx, userID, amount)
	if err != nil {
		return 0, fmt.Errorf("credit wallet: %w", err)
	}
	return newBalance, nil
}

// Suspend blocks all further debits on the wallet.
func (ws *WalletStore) Suspend(ctx context.Context, userID string) error {
	if _, err := ws.GetBalance(ctx, userID); err != nil {
		return err
	}
	if err := ws.store.SetStatus(ctx, userID, StatusSuspended); err != nil {
		return fmt.Errorf("suspend wallet: %w", err)
	}
	ws.logger.Printf("Suspended wallet %s", userID)
	return nil
}

// Reactivate lifts a suspension.
func (ws *WalletStore) Reactivate(ctx context.Context, userID string) error {
	if _, err := ws.GetBalance(ctx, userID); err != nil {
		return err
	}
	if err := ws.store.SetStatus(ctx, userID, StatusActive); err != nil {
		return fmt.Errorf("reactivate wallet: %w", err)
	}
	ws.logger.Printf("Reactivated wallet %s", userID)
	return nil
}
