package reconciliation

import (
	"context"
	"errors"
	"time"

	"github.com/spei-ledger/internal/domain/transaction"
)

// Schedule runs the job every interval until ctx is canceled.
func (j *Job) Schedule(ctx context.Context, interval time.Duration) {
	j.logger.Info("Starting reconciliation scheduler", "interval", interval.String())
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			j.logger.Info("Reconciliation scheduler stopping due to context cancellation.")
			return
		case <-ticker.C:
			_, err := j.Run(ctx, Options{RequestedBy: transaction.ActorCron})
			switch {
			case errors.Is(err, ErrRunInProgress):
				j.logger.Warn("Skipping scheduled reconciliation, previous run still in progress")
			case err != nil:
				j.logger.Error("Scheduled reconciliation failed", "error", err)
			}
		}
	}
}
