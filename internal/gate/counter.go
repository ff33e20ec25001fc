package gate

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// RedisClient is the minimal interface the daily counter needs. The gate
// doesn't import a specific driver — cmd/api creates the concrete go-redis
// client and injects an adapter.
type RedisClient interface {
	IncrWithTTL(ctx context.Context, key string, ttl time.Duration) (int64, error)
	GetInt(ctx context.Context, key string) (int64, error)
}

// RedisCounter shares per-user per-tool daily counters across pods via
// Redis. Keys roll over at UTC midnight; the TTL just garbage-collects
// yesterday's keys.
type RedisCounter struct {
	client    RedisClient
	keyPrefix string
}

// NewRedisCounter creates a counter with the given key namespace.
func NewRedisCounter(client RedisClient, keyPrefix string) *RedisCounter {
	if keyPrefix == "" {
		keyPrefix = "estatia:usage:"
	}
	return &RedisCounter{client: client, keyPrefix: keyPrefix}
}

func (rc *RedisCounter) key(userID, toolName string) string {
	return fmt.Sprintf("%s%s:%s:%s", rc.keyPrefix, toolName, userID,
		time.Now().UTC().Format("2006-01-02"))
}

func (rc *RedisCounter) CountToday(ctx context.Context, userID, toolName string) (int, error) {
	n, err := rc.client.GetInt(ctx, rc.key(userID, toolName))
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

func (rc *RedisCounter) IncrToday(ctx context.Context, userID, toolName string) (int, error) {
	n, err := rc.client.IncrWithTTL(ctx, rc.key(userID, toolName), 48*time.Hour)
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

// MemoryCounter is the single-process fallback used in tests and local
// development.
type MemoryCounter struct {
	mu     sync.Mutex
	counts map[string]int
}

// NewMemoryCounter creates an empty counter.
func NewMemoryCounter() *MemoryCounter {
	return &MemoryCounter{counts: make(map[string]int)}
}

func (mc *MemoryCounter) key(userID, toolName string) string {
	return fmt.Sprintf("%s:%s:%s", toolName, userID, time.Now().UTC().Format("2006-01-02"))
}

func (mc *MemoryCounter) CountToday(_ context.Context, userID, toolName string) (int, error) {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	return mc.counts[mc.key(userID, toolName)], nil
}

func (mc *MemoryCounter) IncrToday(_ context.Context, userID, toolName string) (int, error) {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	k := mc.key(userID, toolName)
	mc.counts[k]++
	return mc.counts[k], nil
}
