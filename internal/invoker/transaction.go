package invoker

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// TransactionStatus tracks the lifecycle of one tool execution. A
// transaction is created pending once the debit lands, reaches a terminal
// state when the remote call resolves, and is immutable thereafter.
type TransactionStatus string

const (
	StatusPending TransactionStatus = "pending"
	StatusSuccess TransactionStatus = "success"
	StatusFailed  TransactionStatus = "failed"
)

// Transaction is one debited tool execution. If Status is failed, the
// debited credits have been refunded — no credits are consumed for an
// execution that produced no output.
type Transaction struct {
	ID            string            `json:"id"`
	UserID        string            `json:"user_id"`
	ToolName      string            `json:"tool_name"`
	CreditCost    int               `json:"credit_cost"`
	Status        TransactionStatus `json:"status"`
	InputSummary  string            `json:"input_summary,omitempty"`
	OutputSummary string            `json:"output_summary,omitempty"`
	Error         string            `json:"error,omitempty"`
	CreatedAt     time.Time         `json:"created_at"`
	ResolvedAt    *time.Time        `json:"resolved_at,omitempty"`
}

// TransactionStore persists transactions. Production: the Supabase
// tool_transactions table; tests: MemoryTransactionStore.
type TransactionStore interface {
	CreateTransaction(ctx context.Context, tx *Transaction) error
	ResolveTransaction(ctx context.Context, id string, status TransactionStatus, outputSummary, errMsg string) error
}

// MemoryTransactionStore keeps transactions in memory.
type MemoryTransactionStore struct {
	mu  sync.Mutex
	txs map[string]*Transaction
}

// NewMemoryTransactionStore creates an empty store.
func NewMemoryTransactionStore() *MemoryTransactionStore {
	return &MemoryTransactionStore{txs: make(map[string]*Transaction)}
}

func (ms *MemoryTransactionStore) CreateTransaction(_ context.Context, tx *Transaction) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	if _, exists := ms.txs[tx.ID]; exists {
		return fmt.Errorf("transaction %s already exists", tx.ID)
	}
	cp := *tx
	ms.txs[tx.ID] = &cp
	return nil
}

func (ms *MemoryTransactionStore) ResolveTransaction(_ context.Context, id string, status TransactionStatus, outputSummary, errMsg string) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	tx, ok := ms.txs[id]
	if !ok {
		return fmt.Errorf("transaction %s not found", id)
	}
	if tx.Status != StatusPending {
		return fmt.Errorf("transaction %s already %s", id, tx.Status)
	}

	now := time.Now()
	tx.Status = status
	tx.OutputSummary = outputSummary
	tx.Error = errMsg
	tx.ResolvedAt = &now
	return nil
}

// Get returns a transaction by id.
func (ms *MemoryTransactionStore) Get(id string) (*Transaction, bool) {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	tx, ok := ms.txs[id]
	if !ok {
		return nil, false
	}
	cp := *tx
	return &cp, true
}

// List returns all transactions, unordered.
func (ms *MemoryTransactionStore) List() []*Transaction {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	out := make([]*Transaction, 0, len(ms.txs))
	for _, tx := range ms.txs {
		cp := *tx
		out = append(out, &cp)
	}
	return out
}
