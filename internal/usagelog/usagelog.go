// Package usagelog is the append-only audit trail of every tool access
// decision, granted or denied. It exists for abuse and rate monitoring, so
// it must never block or fail a tool invocation: writes are fire-and-forget
// from the caller's point of view.
package usagelog

import (
	"context"
	"log"
	"sync"
	"time"
)

// Entry is one immutable access-decision record. Balance and cost are the
// snapshot taken at decision time, not the post-debit values.
type Entry struct {
	ToolName         string    `json:"tool_name"`
	UserID           string    `json:"user_id"`
	CreditsRequired  int       `json:"credits_required"`
	BalanceAtAttempt int       `json:"balance_at_attempt"`
	AccessGranted    bool      `json:"access_granted"`
	Reason           string    `json:"reason,omitempty"`
	Timestamp        time.Time `json:"timestamp"`
}

// Sink persists entries. Implementations: the Supabase usage_log table in
// production, an in-memory slice in tests.
type Sink interface {
	Append(entry *Entry) error
}

// Logger buffers entries on a channel and drains them to the sink on a
// background goroutine. A full buffer drops the entry (counted) rather than
// blocking the invocation path; a failed append is retried a bounded number
// of times and then dropped.
type Logger struct {
	sink    Sink
	queue   chan *Entry
	retries int

	mu      sync.Mutex
	dropped int64

	wg     sync.WaitGroup
	once   sync.Once
	logger *log.Logger
}

// NewLogger starts the drain goroutine. bufferSize 0 picks a default.
func NewLogger(sink Sink, bufferSize int) *Logger {
	if bufferSize <= 0 {
		bufferSize = 1024
	}
	l := &Logger{
		sink:    sink,
		queue:   make(chan *Entry, bufferSize),
		retries: 3,
		logger:  log.New(log.Writer(), "[USAGE-LOG] ", log.LstdFlags),
	}

	l.wg.Add(1)
	go l.drain()
	return l
}

// Record enqueues an entry. It never blocks and never returns an error:
// logging failures must not roll back a debit or fail a response.
func (l *Logger) Record(entry *Entry) {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now()
	}

	select {
	case l.queue <- entry:
	default:
		l.mu.Lock()
		l.dropped++
		n := l.dropped
		l.mu.Unlock()
		l.logger.Printf("⚠️  Buffer full, dropped usage entry (total dropped=%d)", n)
	}
}

// Dropped returns how many entries were lost to a full buffer or exhausted
// retries.
func (l *Logger) Dropped() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.dropped
}

// Close stops the drain goroutine after flushing queued entries.
func (l *Logger) Close() {
	l.once.Do(func() {
		close(l.queue)
		l.wg.Wait()
	})
}

func (l *Logger) drain() {
	defer l.wg.Done()

	for entry := range l.queue {
		var err error
		for attempt := 0; attempt <= l.retries; attempt++ {
			if err = l.sink.Append(entry); err == nil {
				break
			}
			time.Sleep(time.Duration(attempt+1) * 50 * time.Millisecond)
		}
		if err != nil {
			l.mu.Lock()
			l.dropped++
			l.mu.Unlock()
			l.logger.Printf("❌ Failed to persist usage entry after retries: %v", err)
		}
	}
}

// MemorySink collects entries in memory. Used by tests and local runs.
type MemorySink struct {
	mu      sync.Mutex
	entries []*Entry
}

// NewMemorySink creates an empty sink.
func NewMemorySink() *MemorySink { return &MemorySink{} }

func (ms *MemorySink) Append(entry *Entry) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	cp := *entry
	ms.entries = append(ms.entries, &cp)
	return nil
}

// Entries returns a snapshot of everything appended so far.
func (ms *MemorySink) Entries() []*Entry {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	out := make([]*Entry, len(ms.entries))
	copy(out, ms.entries)
	return out
}

// QueryUsage filters entries by tool and time range. Mirrors the store
// query used in production so the admin surface works against either.
func (ms *MemorySink) QueryUsage(_ context.Context, toolName string, from, to time.Time, limit int) ([]*Entry, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	if limit <= 0 {
		limit = 1000
	}
	out := make([]*Entry, 0)
	for _, e := range ms.entries {
		if toolName != "" && e.ToolName != toolName {
			continue
		}
		if e.Timestamp.Before(from) || e.Timestamp.After(to) {
			continue
		}
		cp := *e
		out = append(out, &cp)
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}
