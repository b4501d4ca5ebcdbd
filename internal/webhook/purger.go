package webhook

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/spei-ledger/internal/domain/webhook"
	"github.com/spei-ledger/internal/platform/clock"
)

// Purger deletes processed webhook records older than the retention window.
type Purger struct {
	records   webhook.Repository
	retention time.Duration
	clock     clock.Clock
	logger    *slog.Logger
}

func NewPurger(logger *slog.Logger, records webhook.Repository, retention time.Duration, clk clock.Clock) *Purger {
	return &Purger{
		records:   records,
		retention: retention,
		clock:     clk,
		logger:    logger,
	}
}

// PurgeOnce deletes every record processed before now minus the retention.
func (p *Purger) PurgeOnce(ctx context.Context) (int64, error) {
	cutoff := p.clock.Now().UTC().Add(-p.retention)
	deleted, err := p.records.PurgeOlderThan(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to purge processed webhooks: %w", err)
	}
	p.logger.Info("Purged processed webhooks", "deleted", deleted, "cutoff", cutoff)
	return deleted, nil
}

// Run purges every interval until ctx is canceled.
func (p *Purger) Run(ctx context.Context, interval time.Duration) {
	p.logger.Info("Starting processed webhook purger",
		"interval", interval.String(),
		"retention", p.retention.String(),
	)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("Processed webhook purger stopping due to context cancellation.")
			return
		case <-ticker.C:
			if _, err := p.PurgeOnce(ctx); err != nil {
				p.logger.Error("Error during processed webhook purge", "error", err)
			}
		}
	}
}
