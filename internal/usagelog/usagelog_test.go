package usagelog

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type failingSink struct{}

func (failingSink) Append(*Entry) error { return errors.New("sink down") }

func TestEntriesDeliveredAsync(t *testing.T) {
	sink := NewMemorySink()
	l := NewLogger(sink, 16)

	for i := 0; i < 5; i++ {
		l.Record(&Entry{
			ToolName:        "listing_enhancer",
			UserID:          "seller-1",
			CreditsRequired: 20,
			AccessGranted:   true,
		})
	}

	// Close flushes the queue before returning
	l.Close()

	entries := sink.Entries()
	require.Len(t, entries, 5)
	assert.Equal(t, "listing_enhancer", entries[0].ToolName)
	assert.True(t, entries[0].AccessGranted)
	assert.False(t, entries[0].Timestamp.IsZero(), "Record stamps missing timestamps")
	assert.Equal(t, int64(0), l.Dropped())
}

func TestDenialsAreLoggedToo(t *testing.T) {
	sink := NewMemorySink()
	l := NewLogger(sink, 16)

	l.Record(&Entry{
		ToolName:         "pricing_suggestion",
		UserID:           "seller-1",
		CreditsRequired:  50,
		BalanceAtAttempt: 10,
		AccessGranted:    false,
		Reason:           "insufficient credits: need 50, have 10 (short 40)",
	})
	l.Close()

	entries := sink.Entries()
	require.Len(t, entries, 1)
	assert.False(t, entries[0].AccessGranted)
	assert.Contains(t, entries[0].Reason, "short 40")
}

func TestSinkFailureCountsDrops(t *testing.T) {
	l := NewLogger(failingSink{}, 16)

	l.Record(&Entry{ToolName: "listing_enhancer", UserID: "seller-1"})
	l.Close()

	// Retries exhausted, entry dropped and counted; Record itself never errored
	assert.Equal(t, int64(1), l.Dropped())
}

func TestRecordNeverBlocksOnFullBuffer(t *testing.T) {
	// A sink that parks forever would back the queue up
	blocked := make(chan struct{})
	sink := blockingSink{release: blocked}
	l := NewLogger(sink, 1)

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			l.Record(&Entry{ToolName: "seo_metadata", UserID: "seller-1"})
		}
		close(done)
	}()

	select {
	case <-done:
		// All ten calls returned despite the stuck sink
	case <-time.After(2 * time.Second):
		t.Fatal("Record blocked on a full buffer")
	}

	assert.Greater(t, l.Dropped(), int64(0))
	close(blocked)
	l.Close()
}

type blockingSink struct {
	release chan struct{}
}

func (bs blockingSink) Append(*Entry) error {
	<-bs.release
	return nil
}

func TestMemorySinkQueryUsage(t *testing.T) {
	sink := NewMemorySink()
	now := time.Now()

	for i, tool := range []string{"listing_enhancer", "listing_enhancer", "seo_metadata"} {
		require.NoError(t, sink.Append(&Entry{
			ToolName:      tool,
			UserID:        "seller-1",
			AccessGranted: i != 1,
			Timestamp:     now,
		}))
	}

	entries, err := sink.QueryUsage(context.Background(), "listing_enhancer",
		now.Add(-time.Minute), now.Add(time.Minute), 0)
	require.NoError(t, err)
	assert.Len(t, entries, 2)

	// Empty tool name matches everything
	entries, err = sink.QueryUsage(context.Background(), "",
		now.Add(-time.Minute), now.Add(time.Minute), 0)
	require.NoError(t, err)
	assert.Len(t, entries, 3)

	// Out-of-range window matches nothing
	entries, err = sink.QueryUsage(context.Background(), "",
		now.Add(-2*time.Hour), now.Add(-time.Hour), 0)
	require.NoError(t, err)
	assert.Empty(t, entries)
}
