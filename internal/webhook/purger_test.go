package webhook

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/spei-ledger/internal/domain/webhook"
	"github.com/spei-ledger/internal/platform/clock"
	"github.com/spei-ledger/internal/testutil/memstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPurger_PurgeOnce(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	clk := clock.Fake(testNow)
	records := store.Webhooks()

	for i, age := range []time.Duration{31 * 24 * time.Hour, 29 * 24 * time.Hour, time.Hour} {
		_, err := records.Insert(ctx, &webhook.Record{
			Type:        webhook.TypeDepositReceived,
			TrackingKey: string(rune('A' + i)),
			PayloadHash: "h",
			Outcome:     webhook.OutcomeSuccess,
			ProcessedAt: testNow.Add(-age),
		})
		require.NoError(t, err)
	}

	purger := NewPurger(slog.New(slog.NewJSONHandler(io.Discard, nil)), records, 30*24*time.Hour, clk)

	deleted, err := purger.PurgeOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)
	assert.Len(t, store.WebhookRecords(), 2)

	clk.Advance(25 * time.Hour)
	deleted, err = purger.PurgeOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	// A purged key can be claimed again.
	inserted, err := records.Insert(ctx, &webhook.Record{
		Type:        webhook.TypeDepositReceived,
		TrackingKey: "A",
		PayloadHash: "h",
		Outcome:     webhook.OutcomeSuccess,
		ProcessedAt: clk.Now(),
	})
	require.NoError(t, err)
	assert.True(t, inserted)
}

func TestPurger_RunStopsOnCancel(t *testing.T) {
	store := memstore.New()
	purger := NewPurger(slog.New(slog.NewJSONHandler(io.Discard, nil)), store.Webhooks(), time.Hour, clock.Real())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		purger.Run(ctx, 5*time.Millisecond)
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("purger did not stop")
	}
}
