package wallet

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-process Store used in development and tests. The
// single mutex gives the same atomicity the SQL conditional update gives in
// production: a debit checks and decrements under one critical section.
type MemoryStore struct {
	mu      sync.Mutex
	wallets map[string]*Balance
}

// NewMemoryStore creates an empty in-memory wallet store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{wallets: make(map[string]*Balance)}
}

func (ms *MemoryStore) Get(_ context.Context, userID string) (*Balance, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	b, ok := ms.wallets[userID]
	if !ok {
		return nil, nil
	}
	cp := *b
	return &cp, nil
}

func (ms *MemoryStore) Create(_ context.Context, b *Balance) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	if _, exists := ms.wallets[b.UserID]; exists {
		return nil
	}
	cp := *b
	ms.wallets[b.UserID] = &cp
	return nil
}

func (ms *MemoryStore) DebitIfSufficient(_ context.Context, userID string, amount int) (int, bool, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	b, ok := ms.wallets[userID]
	if !ok || b.Status != StatusActive || b.Balance < amount {
		return 0, false, nil
	}
	b.Balance -= amount
	b.LastUpdated = time.Now()
	return b.Balance, true, nil
}

func (ms *MemoryStore) Credit(_ context.Context, userID string, amount int) (int, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	b, ok := ms.wallets[userID]
	if !ok {
		b = &Balance{UserID: userID, Status: StatusActive}
		ms.wallets[userID] = b
	}
	b.Balance += amount
	b.LastUpdated = time.Now()
	return b.Balance, nil
}

func (ms *MemoryStore) SetStatus(_ context.Context, userID string, status Status) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	if b, ok := ms.wallets[userID]; ok {
		b.Status = status
		b.LastUpdated = time.Now()
	}
	return nil
}
