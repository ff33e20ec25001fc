// Package admin is the control surface over the tool catalog and the usage
// audit trail: it flips tools on and off, reprices them, sets daily limits,
// and aggregates usage for the moderation dashboards. It adds no invariants
// of its own — every mutation goes through the registry or the wallet
// service, which own the rules.
package admin

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/estatia/backend/internal/events"
	"github.com/estatia/backend/internal/registry"
	"github.com/estatia/backend/internal/usagelog"
	"github.com/estatia/backend/internal/wallet"
)

// UsageReader is the read side of the usage audit trail.
type UsageReader interface {
	QueryUsage(ctx context.Context, toolName string, from, to time.Time, limit int) ([]*usagelog.Entry, error)
}

// UsageSummary aggregates access decisions for one tool over a date range.
type UsageSummary struct {
	ToolName       string         `json:"tool_name"`
	From           time.Time      `json:"from"`
	To             time.Time      `json:"to"`
	TotalAttempts  int            `json:"total_attempts"`
	Granted        int            `json:"granted"`
	Denied         int            `json:"denied"`
	DeniedByReason map[string]int `json:"denied_by_reason"`
	CreditsSpent   int            `json:"credits_spent"`
	UniqueUsers    int            `json:"unique_users"`
}

// ControlSurface is the admin façade.
type ControlSurface struct {
	registry *registry.ToolRegistry
	wallets  *wallet.WalletStore
	reader   UsageReader
	bus      events.EventEmitter
	alerts   *AlertCenter
	logger   *log.Logger
}

// NewControlSurface wires the admin surface.
func NewControlSurface(reg *registry.ToolRegistry, wallets *wallet.WalletStore, reader UsageReader, bus events.EventEmitter) *ControlSurface {
	return &ControlSurface{
		registry: reg,
		wallets:  wallets,
		reader:   reader,
		bus:      bus,
		alerts:   NewAlertCenter(bus),
		logger:   log.New(log.Writer(), "[ADMIN] ", log.LstdFlags),
	}
}

// Alerts exposes the alert center for the websocket feed and handlers.
func (cs *ControlSurface) Alerts() *AlertCenter { return cs.alerts }

// SetEnabled flips a tool's enablement flag.
func (cs *ControlSurface) SetEnabled(toolName string, enabled bool) error {
	if err := cs.registry.SetEnabled(toolName, enabled); err != nil {
		return err
	}
	cs.emitToolEdit(toolName, map[string]interface{}{"enabled": enabled})
	return nil
}

// SetCreditCost reprices a tool. In-flight invocations keep the cost they
// were checked with.
func (cs *ControlSurface) SetCreditCost(toolName string, cost int) error {
	if err := cs.registry.SetCreditCost(toolName, cost); err != nil {
		return err
	}
	cs.emitToolEdit(toolName, map[string]interface{}{"credit_cost": cost})
	return nil
}

// SetDailyLimit caps per-user daily invocations of a tool.
func (cs *ControlSurface) SetDailyLimit(toolName string, limit int) error {
	if err := cs.registry.SetDailyLimit(toolName, limit); err != nil {
		return err
	}
	cs.emitToolEdit(toolName, map[string]interface{}{"daily_limit": limit})
	return nil
}

// SuspendWallet blocks all debits for a user.
func (cs *ControlSurface) SuspendWallet(ctx context.Context, userID string) error {
	return cs.wallets.Suspend(ctx, userID)
}

// ReactivateWallet lifts a suspension.
func (cs *ControlSurface) ReactivateWallet(ctx context.Context, userID string) error {
	return cs.wallets.Reactivate(ctx, userID)
}

// GetUsageSummary aggregates the usage log for a tool over a date range.
// Pass an empty toolName for all tools.
func (cs *ControlSurface) GetUsageSummary(ctx context.Context, toolName string, from, to time.Time) (*UsageSummary, error) {
	entries, err := cs.reader.QueryUsage(ctx, toolName, from, to, 0)
	if err != nil {
		return nil, fmt.Errorf("usage summary: %w", err)
	}

	summary := &UsageSummary{
		ToolName:       toolName,
		From:           from,
		To:             to,
		DeniedByReason: make(map[string]int),
	}
	users := make(map[string]struct{})

	for _, e := range entries {
		summary.TotalAttempts++
		users[e.UserID] = struct{}{}
		if e.AccessGranted {
			summary.Granted++
			summary.CreditsSpent += e.CreditsRequired
		} else {
			summary.Denied++
			summary.DeniedByReason[e.Reason]++
		}
	}
	summary.UniqueUsers = len(users)

	return summary, nil
}

// RunAlertLoop evaluates alert rules every interval until the context is
// cancelled. Intended to run as a goroutine from main.
func (cs *ControlSurface) RunAlertLoop(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cs.evaluateAlerts(ctx)
		}
	}
}

// evaluateAlerts checks the denial rate per tool over the trailing hour
// and raises alerts through the alert center.
func (cs *ControlSurface) evaluateAlerts(ctx context.Context) {
	to := time.Now()
	from := to.Add(-time.Hour)

	for _, def := range cs.registry.ListAll() {
		summary, err := cs.GetUsageSummary(ctx, def.Name, from, to)
		if err != nil {
			cs.logger.Printf("⚠️  Alert evaluation failed for %s: %v", def.Name, err)
			continue
		}
		cs.alerts.EvaluateTool(def.Name, summary)
	}
}

func (cs *ControlSurface) emitToolEdit(toolName string, change map[string]interface{}) {
	if cs.bus == nil {
		return
	}
	change["tool"] = toolName
	cs.bus.Emit(events.TypeAdminToolEdit, "/api/v1/admin", toolName, change)
}
