// Package gate decides whether a user may invoke a tool. The decision is a
// pure function of current registry/wallet/counter state: checking access
// mutates nothing, so the UI can pre-flight a button without side effects.
package gate

import (
	"context"
	"fmt"

	"github.com/estatia/backend/internal/registry"
	"github.com/estatia/backend/internal/wallet"
)

// Denial classifies why access was refused, so the invoker can branch
// deterministically and the UI can show the specific reason.
type Denial string

const (
	DenialNone                Denial = ""
	DenialToolNotFound        Denial = "tool_not_found"
	DenialToolDisabled        Denial = "tool_disabled"
	DenialWalletSuspended     Denial = "wallet_suspended"
	DenialInsufficientCredits Denial = "insufficient_credits"
	DenialDailyLimitReached   Denial = "daily_limit_reached"
)

// Decision is the result of an access check. Reason is empty when access is
// granted, otherwise precise enough for UI display and test assertions.
type Decision struct {
	CanAccess       bool   `json:"can_access"`
	CreditsRequired int    `json:"credits_required"`
	CurrentBalance  int    `json:"current_balance"`
	Denial          Denial `json:"denial,omitempty"`
	Reason          string `json:"reason,omitempty"`
}

// UsageCounter tracks granted invocations per user/tool/day for the
// daily-limit policy. CountToday is a pure read; the invoker increments
// after a grant.
type UsageCounter interface {
	CountToday(ctx context.Context, userID, toolName string) (int, error)
	IncrToday(ctx context.Context, userID, toolName string) (int, error)
}

// CreditGate evaluates tool access against the registry, the wallet, and
// the per-tool daily limit.
type CreditGate struct {
	registry *registry.ToolRegistry
	wallets  *wallet.WalletStore
	counter  UsageCounter // nil disables daily limits
}

// NewCreditGate wires the gate to its read-only inputs.
func NewCreditGate(reg *registry.ToolRegistry, wallets *wallet.WalletStore, counter UsageCounter) *CreditGate {
	return &CreditGate{registry: reg, wallets: wallets, counter: counter}
}

// CheckAccess evaluates, in order: tool existence, tool enablement, wallet
// status, daily limit, balance vs. cost. Disabled and unknown tools
// short-circuit before any wallet access.
func (cg *CreditGate) CheckAccess(ctx context.Context, userID, toolName string) (*Decision, error) {
	def, err := cg.registry.GetDefinition(toolName)
	if err != nil {
		return &Decision{
			Denial: DenialToolNotFound,
			Reason: fmt.Sprintf("tool %q is not registered", toolName),
		}, nil
	}

	if !def.Enabled {
		return &Decision{
			CreditsRequired: def.CreditCost,
			Denial:          DenialToolDisabled,
			Reason:          fmt.Sprintf("tool %q is currently disabled", toolName),
		}, nil
	}

	b, err := cg.wallets.GetBalance(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("check access: %w", err)
	}

	if b.Status == wallet.StatusSuspended {
		return &Decision{
			CreditsRequired: def.CreditCost,
			CurrentBalance:  b.Balance,
			Denial:          DenialWalletSuspended,
			Reason:          "wallet is suspended; contact support",
		}, nil
	}

	if def.DailyLimit > 0 && cg.counter != nil {
		used, err := cg.counter.CountToday(ctx, userID, toolName)
		if err != nil {
			return nil, fmt.Errorf("daily usage count: %w", err)
		}
		if used >= def.DailyLimit {
			return &Decision{
				CreditsRequired: def.CreditCost,
				CurrentBalance:  b.Balance,
				Denial:          DenialDailyLimitReached,
				Reason: fmt.Sprintf("daily limit of %d uses reached for %q",
					def.DailyLimit, toolName),
			}, nil
		}
	}

	if b.Balance < def.CreditCost {
		return &Decision{
			CreditsRequired: def.CreditCost,
			CurrentBalance:  b.Balance,
			Denial:          DenialInsufficientCredits,
			Reason: fmt.Sprintf("insufficient credits: need %d, have %d (short %d)",
				def.CreditCost, b.Balance, def.CreditCost-b.Balance),
		}, nil
	}

	return &Decision{
		CanAccess:       true,
		CreditsRequired: def.CreditCost,
		CurrentBalance:  b.Balance,
	}, nil
}
