package gate

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/estatia/backend/internal/registry"
	"github.com/estatia/backend/internal/wallet"
)

func newTestGate(t *testing.T, defaultBalance int, counter UsageCounter) (*CreditGate, *registry.ToolRegistry, *wallet.WalletStore) {
	t.Helper()
	reg := registry.NewToolRegistry(nil)
	wallets := wallet.NewWalletStore(wallet.NewMemoryStore(), defaultBalance)
	return NewCreditGate(reg, wallets, counter), reg, wallets
}

func TestAccessGranted(t *testing.T) {
	cg, _, _ := newTestGate(t, 100, nil)

	d, err := cg.CheckAccess(context.Background(), "seller-1", "listing_enhancer")
	require.NoError(t, err)

	assert.True(t, d.CanAccess)
	assert.Equal(t, 20, d.CreditsRequired)
	assert.Equal(t, 100, d.CurrentBalance)
	assert.Equal(t, DenialNone, d.Denial)
	assert.Empty(t, d.Reason)
}

func TestUnknownToolDenied(t *testing.T) {
	cg, _, _ := newTestGate(t, 100, nil)

	d, err := cg.CheckAccess(context.Background(), "seller-1", "time_machine")
	require.NoError(t, err)

	assert.False(t, d.CanAccess)
	assert.Equal(t, DenialToolNotFound, d.Denial)
	assert.Contains(t, d.Reason, "time_machine")
}

func TestDisabledToolDeniedBeforeWalletAccess(t *testing.T) {
	cg, reg, _ := newTestGate(t, 100, nil)
	require.NoError(t, reg.SetEnabled("pricing_suggestion", false))

	d, err := cg.CheckAccess(context.Background(), "seller-new", "pricing_suggestion")
	require.NoError(t, err)

	assert.False(t, d.CanAccess)
	assert.Equal(t, DenialToolDisabled, d.Denial)
	// Short-circuits before the wallet, so no balance is reported
	assert.Equal(t, 0, d.CurrentBalance)
}

func TestInsufficientCreditsDenied(t *testing.T) {
	cg, _, _ := newTestGate(t, 10, nil)

	d, err := cg.CheckAccess(context.Background(), "seller-1", "brochure_parser")
	require.NoError(t, err)

	assert.False(t, d.CanAccess)
	assert.Equal(t, DenialInsufficientCredits, d.Denial)
	assert.Equal(t, 30, d.CreditsRequired)
	assert.Equal(t, 10, d.CurrentBalance)
	assert.Contains(t, d.Reason, "short 20")
}

func TestSuspendedWalletDenied(t *testing.T) {
	cg, _, wallets := newTestGate(t, 100, nil)
	require.NoError(t, wallets.Suspend(context.Background(), "seller-1"))

	d, err := cg.CheckAccess(context.Background(), "seller-1", "listing_enhancer")
	require.NoError(t, err)

	assert.False(t, d.CanAccess)
	assert.Equal(t, DenialWalletSuspended, d.Denial)
}

func TestExactBalanceGranted(t *testing.T) {
	cg, _, _ := newTestGate(t, 30, nil)

	d, err := cg.CheckAccess(context.Background(), "seller-1", "brochure_parser")
	require.NoError(t, err)
	assert.True(t, d.CanAccess, "balance == cost must be granted")
}

func TestZeroCostToolGrantedAtZeroBalance(t *testing.T) {
	cg, reg, _ := newTestGate(t, 0, nil)
	require.NoError(t, reg.SetCreditCost("photo_caption", 0))

	d, err := cg.CheckAccess(context.Background(), "seller-1", "photo_caption")
	require.NoError(t, err)
	assert.True(t, d.CanAccess)
}

func TestDailyLimitDenied(t *testing.T) {
	counter := NewMemoryCounter()
	cg, reg, _ := newTestGate(t, 1000, counter)
	require.NoError(t, reg.SetDailyLimit("seo_metadata", 2))

	ctx := context.Background()

	for i := 0; i < 2; i++ {
		d, err := cg.CheckAccess(ctx, "seller-1", "seo_metadata")
		require.NoError(t, err)
		assert.True(t, d.CanAccess)
		_, err = counter.IncrToday(ctx, "seller-1", "seo_metadata")
		require.NoError(t, err)
	}

	d, err := cg.CheckAccess(ctx, "seller-1", "seo_metadata")
	require.NoError(t, err)
	assert.False(t, d.CanAccess)
	assert.Equal(t, DenialDailyLimitReached, d.Denial)

	// Limits are per user: another seller is unaffected
	d, err = cg.CheckAccess(ctx, "seller-2", "seo_metadata")
	require.NoError(t, err)
	assert.True(t, d.CanAccess)
}

func TestCheckAccessIsPure(t *testing.T) {
	cg, _, wallets := newTestGate(t, 100, NewMemoryCounter())
	ctx := context.Background()

	// Repeated checks return identical decisions and never move the balance
	for i := 0; i < 5; i++ {
		d, err := cg.CheckAccess(ctx, "seller-1", "brochure_parser")
		require.NoError(t, err)
		assert.True(t, d.CanAccess)
		assert.Equal(t, 100, d.CurrentBalance)
	}

	b, err := wallets.GetBalance(ctx, "seller-1")
	require.NoError(t, err)
	assert.Equal(t, 100, b.Balance)
}

func TestMemoryCounterRollsPerDay(t *testing.T) {
	counter := NewMemoryCounter()
	ctx := context.Background()

	n, err := counter.IncrToday(ctx, "seller-1", "seo_metadata")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = counter.IncrToday(ctx, "seller-1", "seo_metadata")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	used, err := counter.CountToday(ctx, "seller-1", "seo_metadata")
	require.NoError(t, err)
	assert.Equal(t, 2, used)

	// Different tool, independent counter
	used, err = counter.CountToday(ctx, "seller-1", "photo_caption")
	require.NoError(t, err)
	assert.Equal(t, 0, used)
}
