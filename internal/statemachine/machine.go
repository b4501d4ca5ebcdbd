// Package statemachine is the only writer of transaction status. Every
// accepted change persists the new status, one audit log entry and one
// outbox event in a single database transaction.
package statemachine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/spei-ledger/internal/domain/outbox"
	"github.com/spei-ledger/internal/domain/transaction"
	"github.com/spei-ledger/internal/platform/clock"
	"github.com/spei-ledger/internal/platform/metrics"
	"github.com/spei-ledger/internal/platform/persistence"
)

// Request asks for one transaction to move to To.
type Request struct {
	TransactionID uuid.UUID
	To            transaction.Status

	// ExpectedFrom, when set, rejects the request unless the row is
	// currently in that status.
	ExpectedFrom *transaction.Status

	Actor     string
	Source    transaction.Source
	Detail    *string
	CepURL    *string
	SettledAt *time.Time
	Metadata  map[string]any
}

// Result describes what a request did.
type Result struct {
	Transaction *transaction.Transaction
	From        transaction.Status
	Changed     bool // false for a same-status request
}

// Machine applies status transitions.
type Machine struct {
	db       persistence.Transactor
	txns     transaction.Repository
	stateLog transaction.StateLogRepository
	outbox   outbox.Repository
	clock    clock.Clock
	logger   *slog.Logger
}

func NewMachine(
	logger *slog.Logger,
	db persistence.Transactor,
	txns transaction.Repository,
	stateLog transaction.StateLogRepository,
	outboxRepo outbox.Repository,
	clk clock.Clock,
) *Machine {
	return &Machine{
		db:       db,
		txns:     txns,
		stateLog: stateLog,
		outbox:   outboxRepo,
		clock:    clk,
		logger:   logger,
	}
}

// Transition applies req in its own database transaction.
func (m *Machine) Transition(ctx context.Context, req Request) (*Result, error) {
	var result *Result
	err := m.db.ExecuteTx(ctx, func(tx pgx.Tx) error {
		var err error
		result, err = m.Apply(ctx, tx, req)
		return err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Apply applies req inside the caller's database transaction. The row is
// locked first, so concurrent requests for the same id are serialized.
func (m *Machine) Apply(ctx context.Context, tx pgx.Tx, req Request) (*Result, error) {
	if !req.Source.Valid() {
		return nil, fmt.Errorf("unknown transition source %q", req.Source)
	}

	txns := m.txns.WithTx(tx)

	current, err := txns.LockForUpdate(ctx, req.TransactionID)
	if err != nil {
		return nil, err
	}
	from := current.Status

	if req.ExpectedFrom != nil && from != *req.ExpectedFrom {
		metrics.TransitionRejected("stale", string(req.Source))
		return nil, transaction.ErrConcurrentModification{ID: current.ID, Expected: *req.ExpectedFrom}
	}

	if from == req.To {
		return &Result{Transaction: current, From: from, Changed: false}, nil
	}

	tr, err := transaction.NewTransition(from, req.To)
	if err != nil {
		metrics.TransitionRejected("illegal", string(req.Source))
		m.logger.Warn("Rejected illegal status transition",
			"transaction_id", current.ID.String(),
			"from", string(from),
			"to", string(req.To),
			"source", string(req.Source),
		)
		return nil, err
	}

	now := m.clock.Now().UTC()
	update := transaction.StatusUpdate{
		Detail:    req.Detail,
		CepURL:    req.CepURL,
		SettledAt: req.SettledAt,
		At:        now,
	}
	if err := txns.UpdateStatus(ctx, current.ID, tr, update); err != nil {
		return nil, err
	}

	applyUpdate(current, tr, update)

	entry := transaction.NewStateLogEntry(current.ID, &from, tr.To(), req.Actor, req.Source, req.Metadata, now)
	if err := m.record(ctx, tx, current, entry); err != nil {
		return nil, err
	}

	metrics.TransitionApplied(string(from), string(tr.To()), string(req.Source))
	m.logger.Info("Transaction status changed",
		"transaction_id", current.ID.String(),
		"from", string(from),
		"to", string(tr.To()),
		"actor", req.Actor,
		"source", string(req.Source),
	)

	return &Result{Transaction: current, From: from, Changed: true}, nil
}

// Create inserts a new transaction in its initial status, with its first
// audit entry and outbox event, inside the caller's database transaction.
func (m *Machine) Create(ctx context.Context, tx pgx.Tx, t *transaction.Transaction, actor string, source transaction.Source, metadata map[string]any) error {
	if !t.Status.Valid() {
		return fmt.Errorf("unknown initial status %q", t.Status)
	}
	if (t.Status == transaction.StatusScattered) != (t.SettledAt != nil) {
		return errors.New("settled_at must be set iff the status is scattered")
	}

	if err := m.txns.WithTx(tx).Create(ctx, t); err != nil {
		return err
	}

	entry := transaction.NewStateLogEntry(t.ID, nil, t.Status, actor, source, metadata, t.CreatedAt)
	if err := m.record(ctx, tx, t, entry); err != nil {
		return err
	}

	m.logger.Info("Transaction recorded",
		"transaction_id", t.ID.String(),
		"tracking_key", t.TrackingKey,
		"type", string(t.Type),
		"status", string(t.Status),
		"source", string(source),
	)
	return nil
}

// record appends the audit entry and the outbox event for a status change.
func (m *Machine) record(ctx context.Context, tx pgx.Tx, t *transaction.Transaction, entry *transaction.StateLogEntry) error {
	if err := m.stateLog.WithTx(tx).Append(ctx, entry); err != nil {
		return err
	}

	msg, err := outbox.NewMessage(&transaction.StatusChangedEvent{
		TransactionID:  t.ID,
		TrackingKey:    t.TrackingKey,
		Type:           t.Type,
		PreviousStatus: entry.PreviousStatus,
		NewStatus:      entry.NewStatus,
		Amount:         t.Amount,
		CompanyID:      t.CompanyID,
		Actor:          entry.Actor,
		Source:         entry.Source,
		OccurredAt:     entry.CreatedAt,
	})
	if err != nil {
		return fmt.Errorf("failed to build status event: %w", err)
	}
	return m.outbox.WithTx(tx).Create(ctx, msg)
}

// applyUpdate mirrors the store's write onto the in-memory row.
func applyUpdate(t *transaction.Transaction, tr transaction.Transition, u transaction.StatusUpdate) {
	t.Status = tr.To()
	if u.Detail != nil {
		t.ErrorDetail = u.Detail
	}
	if u.CepURL != nil {
		t.CepURL = u.CepURL
	}
	t.SettledAt = nil
	if tr.To() == transaction.StatusScattered {
		settled := u.At
		if u.SettledAt != nil {
			settled = *u.SettledAt
		}
		t.SettledAt = &settled
	}
	t.UpdatedAt = u.At
}
