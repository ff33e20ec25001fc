package wallet

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestWallets(defaultBalance int) *WalletStore {
	return NewWalletStore(NewMemoryStore(), defaultBalance)
}

func TestFirstAccessCreatesDefaultBalance(t *testing.T) {
	ws := newTestWallets(100)
	ctx := context.Background()

	b, err := ws.GetBalance(ctx, "seller-1")
	require.NoError(t, err)
	assert.Equal(t, 100, b.Balance)
	assert.Equal(t, StatusActive, b.Status)

	// Second read returns the same wallet, not another grant
	b, err = ws.GetBalance(ctx, "seller-1")
	require.NoError(t, err)
	assert.Equal(t, 100, b.Balance)
}

func TestDebitAndCredit(t *testing.T) {
	ws := newTestWallets(100)
	ctx := context.Background()

	newBalance, err := ws.Debit(ctx, "seller-1", 30)
	require.NoError(t, err)
	assert.Equal(t, 70, newBalance)

	newBalance, err = ws.Credit(ctx, "seller-1", 50)
	require.NoError(t, err)
	assert.Equal(t, 120, newBalance)
}

func TestDebitInsufficientBalance(t *testing.T) {
	ws := newTestWallets(10)
	ctx := context.Background()

	_, err := ws.Debit(ctx, "seller-1", 30)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInsufficientBalance))

	var ibe *InsufficientBalanceError
	require.True(t, errors.As(err, &ibe))
	assert.Equal(t, 30, ibe.Required)
	assert.Equal(t, 10, ibe.Balance)
	assert.Equal(t, 20, ibe.Shortfall())

	// Rejected debit mutates nothing
	b, err := ws.GetBalance(ctx, "seller-1")
	require.NoError(t, err)
	assert.Equal(t, 10, b.Balance)
}

func TestDebitExactBalance(t *testing.T) {
	ws := newTestWallets(30)
	ctx := context.Background()

	newBalance, err := ws.Debit(ctx, "seller-1", 30)
	require.NoError(t, err)
	assert.Equal(t, 0, newBalance)

	// Balance reached zero, next debit fails
	_, err = ws.Debit(ctx, "seller-1", 1)
	assert.True(t, errors.Is(err, ErrInsufficientBalance))
}

func TestZeroAmountDebit(t *testing.T) {
	ws := newTestWallets(50)
	ctx := context.Background()

	newBalance, err := ws.Debit(ctx, "seller-1", 0)
	require.NoError(t, err)
	assert.Equal(t, 50, newBalance)
}

func TestNegativeAmountsRejected(t *testing.T) {
	ws := newTestWallets(50)
	ctx := context.Background()

	_, err := ws.Debit(ctx, "seller-1", -1)
	assert.ErrorIs(t, err, ErrInvalidAmount)

	_, err = ws.Credit(ctx, "seller-1", -1)
	assert.ErrorIs(t, err, ErrInvalidAmount)
}

func TestSuspendedWalletRejectsDebits(t *testing.T) {
	ws := newTestWallets(100)
	ctx := context.Background()

	require.NoError(t, ws.Suspend(ctx, "seller-1"))

	_, err := ws.Debit(ctx, "seller-1", 10)
	assert.ErrorIs(t, err, ErrWalletSuspended)

	// Reactivation restores debits
	require.NoError(t, ws.Reactivate(ctx, "seller-1"))
	newBalance, err := ws.Debit(ctx, "seller-1", 10)
	require.NoError(t, err)
	assert.Equal(t, 90, newBalance)
}

func TestCreditLandsOnSuspendedWallet(t *testing.T) {
	ws := newTestWallets(100)
	ctx := context.Background()

	require.NoError(t, ws.Suspend(ctx, "seller-1"))

	// Refunds must land regardless of wallet status
	newBalance, err := ws.Credit(ctx, "seller-1", 30)
	require.NoError(t, err)
	assert.Equal(t, 130, newBalance)
}

func TestConcurrentDebitsNoDoubleSpend(t *testing.T) {
	// Balance covers exactly one of the two debits
	ws := newTestWallets(50)
	ctx := context.Background()

	_, err := ws.GetBalance(ctx, "seller-1")
	require.NoError(t, err)

	var wg sync.WaitGroup
	results := make(chan error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := ws.Debit(ctx, "seller-1", 50)
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	var succeeded, denied int
	for err := range results {
		if err == nil {
			succeeded++
		} else {
			assert.True(t, errors.Is(err, ErrInsufficientBalance))
			denied++
		}
	}

	assert.Equal(t, 1, succeeded, "exactly one debit must win")
	assert.Equal(t, 1, denied)

	b, err := ws.GetBalance(ctx, "seller-1")
	require.NoError(t, err)
	assert.Equal(t, 0, b.Balance)
}

func TestBalanceNeverNegativeUnderLoad(t *testing.T) {
	ws := newTestWallets(100)
	ctx := context.Background()

	_, err := ws.GetBalance(ctx, "seller-1")
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ws.Debit(ctx, "seller-1", 7) //nolint:errcheck
		}()
	}
	wg.Wait()

	b, err := ws.GetBalance(ctx, "seller-1")
	require.NoError(t, err)
	assert.GreaterOrEqual(t, b.Balance, 0, "balance must never go negative")
	// 14 debits of 7 fit in 100; the rest must have been rejected
	assert.Equal(t, 100-14*7, b.Balance)
}
