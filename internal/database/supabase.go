package database

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	supabase "github.com/supabase-community/supabase-go"

	"github.com/estatia/backend/internal/invoker"
	"github.com/estatia/backend/internal/registry"
	"github.com/estatia/backend/internal/usagelog"
	"github.com/estatia/backend/internal/wallet"
)

// ============================================================================
// SUPABASE CLIENT — persistence for wallets, tools, usage log, transactions
// ============================================================================

// SupabaseClient wraps the Supabase Go client with the credit-system
// tables. It satisfies wallet.Store, registry.Store, usagelog.Sink and
// invoker.TransactionStore, so one client backs the whole pipeline.
type SupabaseClient struct {
	client *supabase.Client
}

// NewSupabaseClient creates a new Supabase client from the environment.
func NewSupabaseClient() (*SupabaseClient, error) {
	url := os.Getenv("SUPABASE_URL")
	key := os.Getenv("SUPABASE_SERVICE_KEY")

	if url == "" || key == "" {
		return nil, fmt.Errorf("SUPABASE_URL and SUPABASE_SERVICE_KEY must be set")
	}

	client, err := supabase.NewClient(url, key, &supabase.ClientOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to create Supabase client: %w", err)
	}

	return &SupabaseClient{client: client}, nil
}

// ============================================================================
// ROW MODELS
// ============================================================================

// WalletRow mirrors the wallets table.
type WalletRow struct {
	UserID      string `json:"user_id"`
	Balance     int    `json:"balance"`
	Status      string `json:"status"`
	LastUpdated string `json:"last_updated,omitempty"` // String to handle Supabase timestamp format
}

// ToolRow mirrors the tool_definitions table.
type ToolRow struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	CreditCost  int    `json:"credit_cost"`
	Enabled     bool   `json:"enabled"`
	DailyLimit  int    `json:"daily_limit"`
	CreatedAt   string `json:"created_at,omitempty"`
	UpdatedAt   string `json:"updated_at,omitempty"`
}

// UsageLogRow mirrors the usage_log table. Append-only; never updated.
type UsageLogRow struct {
	ToolName         string `json:"tool_name"`
	UserID           string `json:"user_id"`
	CreditsRequired  int    `json:"credits_required"`
	BalanceAtAttempt int    `json:"balance_at_attempt"`
	AccessGranted    bool   `json:"access_granted"`
	Reason           string `json:"reason,omitempty"`
	CreatedAt        string `json:"created_at,omitempty"`
}

// TransactionRow mirrors the tool_transactions table.
type TransactionRow struct {
	ID            string `json:"id"`
	UserID        string `json:"user_id"`
	ToolName      string `json:"tool_name"`
	CreditCost    int    `json:"credit_cost"`
	Status        string `json:"status"`
	InputSummary  string `json:"input_summary,omitempty"`
	OutputSummary string `json:"output_summary,omitempty"`
	Error         string `json:"error,omitempty"`
	CreatedAt     string `json:"created_at,omitempty"`
	ResolvedAt    string `json:"resolved_at,omitempty"`
}

func parseTimestamp(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02T15:04:05.999999"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}

// ============================================================================
// WALLET OPERATIONS — wallet.Store
// ============================================================================

// Get retrieves a wallet, returning nil (not an error) when absent.
func (sc *SupabaseClient) Get(ctx context.Context, userID string) (*wallet.Balance, error) {
	var rows []WalletRow
	_, err := sc.client.From("wallets").
		Select("*", "", false).
		Eq("user_id", userID).
		ExecuteTo(&rows)
	if err != nil {
		return nil, fmt.Errorf("failed to get wallet: %w", err)
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return &wallet.Balance{
		UserID:      rows[0].UserID,
		Balance:     rows[0].Balance,
		Status:      wallet.Status(rows[0].Status),
		LastUpdated: parseTimestamp(rows[0].LastUpdated),
	}, nil
}

// Create inserts a wallet row; an existing row wins (upsert, ignore
// duplicates) so concurrent first accesses are safe.
func (sc *SupabaseClient) Create(ctx context.Context, b *wallet.Balance) error {
	row := WalletRow{
		UserID:  b.UserID,
		Balance: b.Balance,
		Status:  string(b.Status),
	}
	_, _, err := sc.client.From("wallets").
		Upsert(row, "user_id", "", "").
		Execute()
	return err
}

// DebitIfSufficient calls the debit_wallet SQL function, which runs the
// single-row conditional update and returns the new balance, or -1 when
// the wallet is missing, suspended, or short (see scripts/schema.sql).
func (sc *SupabaseClient) DebitIfSufficient(ctx context.Context, userID string, amount int) (int, bool, error) {
	resp := sc.client.Rpc("debit_wallet", "", map[string]interface{}{
		"p_user_id": userID,
		"p_amount":  amount,
	})

	var newBalance int
	if err := json.Unmarshal([]byte(resp), &newBalance); err != nil {
		return 0, false, fmt.Errorf("debit_wallet rpc returned %q: %w", resp, err)
	}
	if newBalance < 0 {
		return 0, false, nil
	}
	return newBalance, true, nil
}

// Credit calls the credit_wallet SQL function (unconditional atomic
// increment) and returns the new balance.
func (sc *SupabaseClient) Credit(ctx context.Context, userID string, amount int) (int, error) {
	resp := sc.client.Rpc("credit_wallet", "", map[string]interface{}{
		"p_user_id": userID,
		"p_amount":  amount,
	})

	var newBalance int
	if err := json.Unmarshal([]byte(resp), &newBalance); err != nil {
		return 0, fmt.Errorf("credit_wallet rpc returned %q: %w", resp, err)
	}
	return newBalance, nil
}

// SetStatus flips a wallet between active and suspended.
func (sc *SupabaseClient) SetStatus(ctx context.Context, userID string, status wallet.Status) error {
	update := map[string]interface{}{
		"status":       string(status),
		"last_updated": time.Now().Format(time.RFC3339Nano),
	}
	var result []WalletRow
	_, err := sc.client.From("wallets").
		Update(update, "", "").
		Eq("user_id", userID).
		ExecuteTo(&result)
	return err
}

// ============================================================================
// TOOL CATALOG OPERATIONS — registry.Store
// ============================================================================

// SaveTool upserts a tool definition.
func (sc *SupabaseClient) SaveTool(def *registry.ToolDefinition) error {
	row := ToolRow{
		Name:        def.Name,
		Description: def.Description,
		CreditCost:  def.CreditCost,
		Enabled:     def.Enabled,
		DailyLimit:  def.DailyLimit,
	}
	_, _, err := sc.client.From("tool_definitions").
		Upsert(row, "name", "", "").
		Execute()
	return err
}

// LoadTools returns every tool definition in the catalog table.
func (sc *SupabaseClient) LoadTools() ([]*registry.ToolDefinition, error) {
	var rows []ToolRow
	_, err := sc.client.From("tool_definitions").
		Select("*", "", false).
		ExecuteTo(&rows)
	if err != nil {
		return nil, fmt.Errorf("query tool_definitions: %w", err)
	}

	defs := make([]*registry.ToolDefinition, 0, len(rows))
	for _, r := range rows {
		defs = append(defs, &registry.ToolDefinition{
			Name:        r.Name,
			Description: r.Description,
			CreditCost:  r.CreditCost,
			Enabled:     r.Enabled,
			DailyLimit:  r.DailyLimit,
			CreatedAt:   parseTimestamp(r.CreatedAt),
			UpdatedAt:   parseTimestamp(r.UpdatedAt),
		})
	}
	return defs, nil
}

// ============================================================================
// USAGE LOG OPERATIONS — usagelog.Sink
// ============================================================================

// Append inserts a usage log entry.
func (sc *SupabaseClient) Append(entry *usagelog.Entry) error {
	row := UsageLogRow{
		ToolName:         entry.ToolName,
		UserID:           entry.UserID,
		CreditsRequired:  entry.CreditsRequired,
		BalanceAtAttempt: entry.BalanceAtAttempt,
		AccessGranted:    entry.AccessGranted,
		Reason:           entry.Reason,
		CreatedAt:        entry.Timestamp.Format(time.RFC3339Nano),
	}
	_, _, err := sc.client.From("usage_log").
		Insert(row, false, "", "", "").
		Execute()
	return err
}

// QueryUsage retrieves usage entries for a tool within a date range,
// newest first. Consumed by the admin usage summaries.
func (sc *SupabaseClient) QueryUsage(ctx context.Context, toolName string, from, to time.Time, limit int) ([]*usagelog.Entry, error) {
	if limit <= 0 {
		limit = 1000
	}
	query := sc.client.From("usage_log").
		Select("*", "", false).
		Gte("created_at", from.Format(time.RFC3339Nano)).
		Lte("created_at", to.Format(time.RFC3339Nano)).
		Order("created_at", nil).
		Limit(limit, "")
	if toolName != "" {
		query = query.Eq("tool_name", toolName)
	}

	var rows []UsageLogRow
	_, err := query.ExecuteTo(&rows)
	if err != nil {
		return nil, fmt.Errorf("query usage_log: %w", err)
	}

	entries := make([]*usagelog.Entry, 0, len(rows))
	for _, r := range rows {
		entries = append(entries, &usagelog.Entry{
			ToolName:         r.ToolName,
			UserID:           r.UserID,
			CreditsRequired:  r.CreditsRequired,
			BalanceAtAttempt: r.BalanceAtAttempt,
			AccessGranted:    r.AccessGranted,
			Reason:           r.Reason,
			Timestamp:        parseTimestamp(r.CreatedAt),
		})
	}
	return entries, nil
}

// ============================================================================
// TRANSACTION OPERATIONS — invoker.TransactionStore
// ============================================================================

// CreateTransaction inserts a pending transaction row.
func (sc *SupabaseClient) CreateTransaction(ctx context.Context, tx *invoker.Transaction) error {
	row := TransactionRow{
		ID:           tx.ID,
		UserID:       tx.UserID,
		ToolName:     tx.ToolName,
		CreditCost:   tx.CreditCost,
		Status:       string(tx.Status),
		InputSummary: tx.InputSummary,
		CreatedAt:    tx.CreatedAt.Format(time.RFC3339Nano),
	}
	_, _, err := sc.client.From("tool_transactions").
		Insert(row, false, "", "", "").
		Execute()
	return err
}

// ResolveTransaction moves a pending transaction to its terminal state.
// The status filter keeps resolved rows immutable.
func (sc *SupabaseClient) ResolveTransaction(ctx context.Context, id string, status invoker.TransactionStatus, outputSummary, errMsg string) error {
	update := map[string]interface{}{
		"status":         string(status),
		"output_summary": outputSummary,
		"error":          errMsg,
		"resolved_at":    time.Now().Format(time.RFC3339Nano),
	}
	var result []TransactionRow
	_, err := sc.client.From("tool_transactions").
		Update(update, "", "").
		Eq("id", id).
		Eq("status", string(invoker.StatusPending)).
		ExecuteTo(&result)
	return err
}

// ListTransactions returns a user's transactions, newest first.
func (sc *SupabaseClient) ListTransactions(ctx context.Context, userID string, limit int) ([]TransactionRow, error) {
	if limit <= 0 {
		limit = 50
	}
	var rows []TransactionRow
	_, err := sc.client.From("tool_transactions").
		Select("*", "", false).
		Eq("user_id", userID).
		Order("created_at", nil).
		Limit(limit, "").
		ExecuteTo(&rows)
	return rows, err
}

// ============================================================================
// COMPILE-TIME INTERFACE CHECKS
// ============================================================================

var (
	_ wallet.Store             = (*SupabaseClient)(nil)
	_ registry.Store           = (*SupabaseClient)(nil)
	_ usagelog.Sink            = (*SupabaseClient)(nil)
	_ invoker.TransactionStore = (*SupabaseClient)(nil)
)
