// Package dispatch hands outgoing transfers to the payment processor once
// their cancellation window has closed.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/panjf2000/ants/v2"
	"github.com/spei-ledger/internal/config"
	"github.com/spei-ledger/internal/domain/order"
	"github.com/spei-ledger/internal/domain/transaction"
	"github.com/spei-ledger/internal/platform/clock"
	"github.com/spei-ledger/internal/platform/metrics"
	"github.com/spei-ledger/internal/platform/opm"
	"github.com/spei-ledger/internal/platform/persistence"
	"github.com/spei-ledger/internal/statemachine"
)

// OrderSubmitter creates orders at the payment processor.
type OrderSubmitter interface {
	CreateOrder(ctx context.Context, o *order.SignedOrder) (*opm.OrderAck, error)
}

// Dispatcher claims transfers whose grace window has passed, moves them to
// pending and submits them through a bounded worker pool.
type Dispatcher struct {
	db      persistence.Transactor
	txns    transaction.Repository
	machine *statemachine.Machine
	signer  *order.Signer
	remote  OrderSubmitter
	pool    *ants.Pool
	clock   clock.Clock
	logger  *slog.Logger

	interval  time.Duration
	batchSize int
}

func NewDispatcher(
	logger *slog.Logger,
	cfg *config.TransferConfig,
	poolSize int,
	db persistence.Transactor,
	txns transaction.Repository,
	machine *statemachine.Machine,
	signer *order.Signer,
	remote OrderSubmitter,
	clk clock.Clock,
) (*Dispatcher, error) {
	if signer == nil {
		return nil, order.ErrSigningKeyMissing
	}
	pool, err := ants.NewPool(poolSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create dispatch worker pool: %w", err)
	}

	return &Dispatcher{
		db:        db,
		txns:      txns,
		machine:   machine,
		signer:    signer,
		remote:    remote,
		pool:      pool,
		clock:     clk,
		logger:    logger,
		interval:  cfg.DispatchInterval,
		batchSize: cfg.DispatchBatchSize,
	}, nil
}

// Start dispatches every interval until ctx is canceled.
func (d *Dispatcher) Start(ctx context.Context) {
	d.logger.Info("Starting transfer dispatcher",
		"interval", d.interval.String(),
		"batch_size", d.batchSize,
		"pool_size", d.pool.Cap(),
	)
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			d.logger.Info("Transfer dispatcher stopping due to context cancellation.")
			return
		case <-ticker.C:
			if _, err := d.DispatchOnce(ctx); err != nil {
				d.logger.Error("Error during transfer dispatch", "error", err)
			}
		}
	}
}

// DispatchOnce claims one batch of due transfers and submits each of them.
// It returns the number of transfers claimed.
func (d *Dispatcher) DispatchOnce(ctx context.Context) (int, error) {
	claimed, err := d.claim(ctx)
	if err != nil {
		return 0, err
	}
	if len(claimed) == 0 {
		return 0, nil
	}

	d.logger.Info("Claimed due transfers", "count", len(claimed))

	var wg sync.WaitGroup
	for _, t := range claimed {
		t := t
		wg.Add(1)
		submitErr := d.pool.Submit(func() {
			defer wg.Done()
			if err := d.Submit(ctx, t); err != nil {
				d.logger.Error("Failed to submit transfer", "transaction_id", t.ID.String(), "error", err)
			}
		})
		if submitErr != nil {
			wg.Done()
			d.logger.Error("Failed to schedule transfer submission", "transaction_id", t.ID.String(), "error", submitErr)
		}
	}
	wg.Wait()

	return len(claimed), nil
}

// claim moves every due transfer to pending in one database transaction.
// Rows locked by a concurrent dispatcher are skipped.
func (d *Dispatcher) claim(ctx context.Context) ([]*transaction.Transaction, error) {
	var claimed []*transaction.Transaction
	from := transaction.StatusPendingConfirmation

	err := d.db.ExecuteTx(ctx, func(tx pgx.Tx) error {
		claimed = claimed[:0]
		due, err := d.txns.WithTx(tx).ListDueForDispatch(ctx, d.clock.Now().UTC(), d.batchSize)
		if err != nil {
			return fmt.Errorf("failed to list due transfers: %w", err)
		}
		for _, t := range due {
			res, err := d.machine.Apply(ctx, tx, statemachine.Request{
				TransactionID: t.ID,
				To:            transaction.StatusPending,
				ExpectedFrom:  &from,
				Actor:         transaction.ActorSystem,
				Source:        transaction.SourceCron,
				Metadata:      map[string]any{"reason": "grace period elapsed"},
			})
			if err != nil {
				return fmt.Errorf("failed to claim transfer %s: %w", t.ID, err)
			}
			claimed = append(claimed, res.Transaction)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

// Submit signs a pending transfer and sends it to the processor. An
// acknowledged order moves to sent with its processor id attached and a
// rejected one moves to failed with the reason. Any other error leaves the
// transfer pending and is returned.
func (d *Dispatcher) Submit(ctx context.Context, t *transaction.Transaction) error {
	logger := d.logger.With("transaction_id", t.ID.String(), "tracking_key", t.TrackingKey)

	signed, err := order.Prepare(*order.FromTransaction(t), d.signer)
	if err != nil {
		logger.Warn("Transfer failed order validation", "error", err)
		return d.fail(ctx, t.ID, "order rejected before submission: "+err.Error())
	}

	ack, err := d.remote.CreateOrder(ctx, signed)
	if err != nil {
		var apiErr *opm.APIError
		if errors.As(err, &apiErr) {
			logger.Warn("Processor rejected transfer", "code", apiErr.Code, "error", err)
			return d.fail(ctx, t.ID, err.Error())
		}
		// The processor may have accepted the order. Reconciliation settles
		// it from the listing, or fails it once it is known to be missing.
		logger.Error("Transfer submission unacknowledged, left pending", "error", err)
		metrics.Dispatched("unacknowledged")
		return fmt.Errorf("transfer %s left pending: %w", t.ID, err)
	}

	from := transaction.StatusPending
	err = d.db.ExecuteTx(ctx, func(tx pgx.Tx) error {
		if err := d.txns.WithTx(tx).SetRemoteOrderID(ctx, t.ID, ack.ID); err != nil {
			return err
		}
		_, err := d.machine.Apply(ctx, tx, statemachine.Request{
			TransactionID: t.ID,
			To:            transaction.StatusSent,
			ExpectedFrom:  &from,
			Actor:         transaction.ActorSystem,
			Source:        transaction.SourceCron,
			Metadata:      map[string]any{"opm_order_id": ack.ID},
		})
		return err
	})
	if err != nil {
		metrics.Dispatched("error")
		return fmt.Errorf("order %s accepted but not recorded: %w", ack.ID, err)
	}

	metrics.Dispatched("sent")
	logger.Info("Transfer submitted to processor", "opm_order_id", ack.ID)
	return nil
}

func (d *Dispatcher) fail(ctx context.Context, id uuid.UUID, detail string) error {
	from := transaction.StatusPending
	_, err := d.machine.Transition(ctx, statemachine.Request{
		TransactionID: id,
		To:            transaction.StatusFailed,
		ExpectedFrom:  &from,
		Actor:         transaction.ActorSystem,
		Source:        transaction.SourceCron,
		Detail:        &detail,
	})
	if err != nil {
		metrics.Dispatched("error")
		return fmt.Errorf("failed to mark transfer %s as failed: %w", id, err)
	}
	metrics.Dispatched("failed")
	return nil
}

// Close releases the worker pool.
func (d *Dispatcher) Close() {
	d.pool.Release()
}
