// Package reconciliation sweeps the processor's order listing against the
// local ledger, inserting missing rows, advancing stale statuses and comparing
// balances. A run never deletes rows and may be repeated at any time.
package reconciliation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
	"github.com/spei-ledger/internal/config"
	"github.com/spei-ledger/internal/domain/account"
	"github.com/spei-ledger/internal/domain/order"
	"github.com/spei-ledger/internal/domain/reconciliation"
	"github.com/spei-ledger/internal/domain/transaction"
	"github.com/spei-ledger/internal/platform/clock"
	"github.com/spei-ledger/internal/platform/metrics"
	"github.com/spei-ledger/internal/platform/opm"
	"github.com/spei-ledger/internal/platform/persistence"
	"github.com/spei-ledger/internal/statemachine"
)

// ErrRunInProgress is returned when a run is requested while another one is
// still sweeping, in this process or any other sharing the database.
var ErrRunInProgress = errors.New("reconciliation run already in progress")

// runLockKey is the advisory lock key every process takes for a run.
const runLockKey int64 = 0x5045_4952_4543_4f4e

// Processor is the part of the payment processor API a run reads.
type Processor interface {
	ListOrders(ctx context.Context, q opm.ListOrdersQuery) ([]opm.RemoteOrder, error)
	GetBalance(ctx context.Context, account string) (*opm.Balance, error)
}

// Options override the configured defaults for one run.
type Options struct {
	Account     string        // CLABE whose balance is compared; empty means the concentrator
	Window      time.Duration // zero means the configured window
	RequestedBy string
}

type outcome int

const (
	outcomeUnchanged outcome = iota
	outcomeInserted
	outcomeUpdated
)

// Job runs reconciliation sweeps.
type Job struct {
	db       persistence.LockingTransactor
	txns     transaction.Repository
	accounts account.Repository
	machine  *statemachine.Machine
	remote   Processor
	reports  reconciliation.Repository
	clock    clock.Clock
	logger   *slog.Logger
	running  sync.Mutex

	window          time.Duration
	tolerance       decimal.Decimal
	flagUnmatched   bool
	pageSize        int
	defaultAccount  string
	unansweredAfter time.Duration
}

// NewJob builds a job. reports may be nil when run history is not kept.
func NewJob(
	logger *slog.Logger,
	cfg *config.ReconciliationConfig,
	opmCfg *config.OPMConfig,
	db persistence.LockingTransactor,
	txns transaction.Repository,
	accounts account.Repository,
	machine *statemachine.Machine,
	remote Processor,
	reports reconciliation.Repository,
	clk clock.Clock,
) *Job {
	pageSize := opmCfg.PageSize
	if pageSize <= 0 {
		pageSize = 100
	}
	unansweredAfter := cfg.UnansweredAfter
	if unansweredAfter <= 0 {
		unansweredAfter = 15 * time.Minute
	}
	return &Job{
		db:             db,
		txns:           txns,
		accounts:       accounts,
		machine:        machine,
		remote:         remote,
		reports:        reports,
		clock:          clk,
		logger:         logger,
		window:          cfg.Window,
		tolerance:       cfg.Tolerance,
		flagUnmatched:   cfg.FlagUnmatched,
		pageSize:        pageSize,
		defaultAccount:  opmCfg.Account,
		unansweredAfter: unansweredAfter,
	}
}

// Run performs one sweep. Failures on single orders, listing pages or the
// balance query are recorded in the summary; only a context cancellation
// aborts the run.
func (j *Job) Run(ctx context.Context, opts Options) (*reconciliation.Summary, error) {
	if !j.running.TryLock() {
		return nil, ErrRunInProgress
	}
	defer j.running.Unlock()

	unlock, acquired, err := j.db.TryLock(ctx, runLockKey)
	if err != nil {
		return nil, fmt.Errorf("failed to take reconciliation lock: %w", err)
	}
	if !acquired {
		return nil, ErrRunInProgress
	}
	defer unlock()

	window := opts.Window
	if window <= 0 {
		window = j.window
	}
	requestedBy := opts.RequestedBy
	if requestedBy == "" {
		requestedBy = transaction.ActorCron
	}

	now := j.clock.Now().UTC()
	s := &reconciliation.Summary{
		RunID:       uuid.New(),
		RequestedBy: requestedBy,
		Account:     opts.Account,
		WindowStart: now.Add(-window),
		WindowEnd:   now,
		StartedAt:   now,
		Errors:      []reconciliation.ItemError{},
		Unmatched:   []string{},
		Unanswered:  []string{},
	}
	logger := j.logger.With("run_id", s.RunID.String())
	logger.Info("Starting reconciliation run",
		"window_start", s.WindowStart,
		"window_end", s.WindowEnd,
		"account", opts.Account,
		"requested_by", requestedBy,
	)

	listed := make(map[string]bool)
	complete := true
	for _, direction := range []transaction.Type{transaction.TypeIncoming, transaction.TypeOutgoing} {
		ok, err := j.sweep(ctx, logger, direction, s, listed)
		if err != nil {
			return nil, err
		}
		if direction == transaction.TypeOutgoing {
			complete = ok
		}
	}

	if complete {
		if err := j.failUnanswered(ctx, logger, listed, s); err != nil {
			return nil, err
		}
	}

	j.compareBalances(ctx, logger, opts.Account, s)

	s.FinishedAt = j.clock.Now().UTC()
	metrics.ReconciliationFinished(metrics.ReconciliationRun{
		Inserted:    s.Inserted,
		Updated:     s.Updated,
		Unchanged:   s.Unchanged,
		Errored:     s.Errored,
		Discrepancy: s.Discrepancy,
		FinishedAt:  s.FinishedAt,
	})

	if j.reports != nil {
		if err := j.reports.Save(ctx, s); err != nil {
			logger.Error("Failed to save reconciliation report", "error", err)
		}
	}

	logger.Info("Reconciliation run finished",
		"inserted", s.Inserted,
		"updated", s.Updated,
		"unchanged", s.Unchanged,
		"errored", s.Errored,
		"unmatched", len(s.Unmatched),
		"significant_discrepancy", s.Significant,
	)
	return s, nil
}

// sweep pages through one direction until a short page. Outgoing tracking
// keys are added to listed. It reports false when a page could not be read.
func (j *Job) sweep(ctx context.Context, logger *slog.Logger, direction transaction.Type, s *reconciliation.Summary, listed map[string]bool) (bool, error) {
	for page := 1; ; page++ {
		if err := ctx.Err(); err != nil {
			return false, err
		}

		orders, err := j.remote.ListOrders(ctx, opm.ListOrdersQuery{
			Type: direction,
			From: s.WindowStart,
			To:   s.WindowEnd,
			Page: page,
			Size: j.pageSize,
		})
		if err != nil {
			logger.Error("Failed to list remote orders", "direction", string(direction), "page", page, "error", err)
			s.RecordError(direction, "", "", fmt.Sprintf("listing page %d: %v", page, err))
			return false, nil
		}

		for i := range orders {
			if direction == transaction.TypeOutgoing {
				listed[orders[i].TrackingKey] = true
			}
			j.reconcileOrder(ctx, logger, direction, &orders[i], s)
		}

		if len(orders) < j.pageSize {
			return true, nil
		}
	}
}

// failUnanswered fails outgoing transfers that a submission left pending
// without a processor id, once they are older than unansweredAfter and a
// complete outgoing sweep did not list them.
func (j *Job) failUnanswered(ctx context.Context, logger *slog.Logger, listed map[string]bool, s *reconciliation.Summary) error {
	outgoing := transaction.TypeOutgoing
	filter := transaction.Filter{
		Type:     &outgoing,
		Statuses: []transaction.Status{transaction.StatusPending},
		From:     &s.WindowStart,
	}
	cutoff := s.StartedAt.Add(-j.unansweredAfter)

	var stale []*transaction.Transaction
	for page := 1; ; page++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		txns, _, err := j.txns.List(ctx, filter, transaction.Page{Number: page, Size: j.pageSize})
		if err != nil {
			logger.Error("Failed to list pending transfers", "page", page, "error", err)
			s.RecordError(outgoing, "", "", fmt.Sprintf("listing pending transfers: %v", err))
			return nil
		}
		for _, t := range txns {
			if t.RemoteOrderID == nil && !listed[t.TrackingKey] && t.UpdatedAt.Before(cutoff) {
				stale = append(stale, t)
			}
		}
		if len(txns) < j.pageSize {
			break
		}
	}

	from := transaction.StatusPending
	detail := "not received by the payment processor"
	for _, t := range stale {
		_, err := j.machine.Transition(ctx, statemachine.Request{
			TransactionID: t.ID,
			To:            transaction.StatusFailed,
			ExpectedFrom:  &from,
			Actor:         transaction.ActorCron,
			Source:        transaction.SourceCron,
			Detail:        &detail,
			Metadata:      map[string]any{"run_id": s.RunID.String()},
		})
		if err != nil {
			logger.Warn("Failed to fail unanswered transfer", "tracking_key", t.TrackingKey, "error", err)
			s.RecordError(outgoing, "", t.TrackingKey, err.Error())
			continue
		}
		logger.Warn("Transfer never reached the processor, marked failed", "transaction_id", t.ID.String(), "tracking_key", t.TrackingKey)
		s.Updated++
		s.Unanswered = append(s.Unanswered, t.TrackingKey)
	}
	return nil
}

func (j *Job) reconcileOrder(ctx context.Context, logger *slog.Logger, direction transaction.Type, o *opm.RemoteOrder, s *reconciliation.Summary) {
	var (
		result    outcome
		unmatched bool
	)
	err := j.db.ExecuteTx(ctx, func(tx pgx.Tx) error {
		var err error
		result, unmatched, err = j.apply(ctx, tx, direction, o, s.RunID)
		return err
	})
	if err != nil {
		logger.Warn("Failed to reconcile remote order",
			"direction", string(direction),
			"opm_order_id", o.ID,
			"tracking_key", o.TrackingKey,
			"error", err,
		)
		s.RecordError(direction, o.ID, o.TrackingKey, err.Error())
		return
	}

	switch result {
	case outcomeInserted:
		s.Inserted++
	case outcomeUpdated:
		s.Updated++
	default:
		s.Unchanged++
	}

	if unmatched {
		logger.Warn("Remote order has no matching CLABE account",
			"direction", string(direction),
			"opm_order_id", o.ID,
			"tracking_key", o.TrackingKey,
		)
		if j.flagUnmatched {
			s.Unmatched = append(s.Unmatched, o.TrackingKey)
		}
	}
}

func (j *Job) apply(ctx context.Context, tx pgx.Tx, direction transaction.Type, o *opm.RemoteOrder, runID uuid.UUID) (outcome, bool, error) {
	local, err := j.find(ctx, tx, o)
	if err != nil {
		return 0, false, err
	}
	metadata := map[string]any{"run_id": runID.String(), "opm_order_id": o.ID}

	if local == nil {
		unmatched, err := j.insert(ctx, tx, direction, o, metadata)
		if err != nil {
			return 0, false, err
		}
		return outcomeInserted, unmatched, nil
	}

	target := o.Status(direction)
	if local.Status == target {
		return outcomeUnchanged, false, nil
	}

	if _, err := j.machine.Apply(ctx, tx, statemachine.Request{
		TransactionID: local.ID,
		To:            target,
		Actor:         transaction.ActorCron,
		Source:        transaction.SourceCron,
		Detail:        optional(o.ErrorDetail),
		CepURL:        optional(o.CepURL),
		Metadata:      metadata,
	}); err != nil {
		return 0, false, err
	}
	return outcomeUpdated, false, nil
}

// find looks a remote order up by processor id, then by tracking key. A row
// found by tracking key gets the processor id attached.
func (j *Job) find(ctx context.Context, tx pgx.Tx, o *opm.RemoteOrder) (*transaction.Transaction, error) {
	txns := j.txns.WithTx(tx)

	if o.ID != "" {
		t, err := txns.GetByRemoteOrderID(ctx, o.ID)
		if err == nil {
			return t, nil
		}
		if !errors.Is(err, transaction.ErrTransactionNotFound{}) {
			return nil, fmt.Errorf("failed to look up order %s: %w", o.ID, err)
		}
	}

	t, err := txns.GetByTrackingKey(ctx, o.TrackingKey)
	if errors.Is(err, transaction.ErrTransactionNotFound{}) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up tracking key %s: %w", o.TrackingKey, err)
	}

	if o.ID != "" && t.RemoteOrderID == nil {
		if err := txns.SetRemoteOrderID(ctx, t.ID, o.ID); err != nil {
			return nil, err
		}
		id := o.ID
		t.RemoteOrderID = &id
	}
	return t, nil
}

func (j *Job) insert(ctx context.Context, tx pgx.Tx, direction transaction.Type, o *opm.RemoteOrder, metadata map[string]any) (bool, error) {
	if !o.Amount.IsPositive() {
		return false, fmt.Errorf("remote order %s has non-positive amount %s", o.ID, o.Amount)
	}

	now := j.clock.Now().UTC()
	createdAt := o.CreatedAt.UTC()
	if o.CreatedAt.IsZero() {
		createdAt = now
	}

	t := &transaction.Transaction{
		ID:                 uuid.New(),
		RemoteOrderID:      optional(o.ID),
		Type:               direction,
		Status:             o.Status(direction),
		Amount:             o.Amount,
		Concept:            order.Sanitize(o.Concept, order.MaxConceptLength),
		TrackingKey:        o.TrackingKey,
		NumericalReference: o.NumericalReference,
		Payer: transaction.Party{
			Account:  o.PayerAccount,
			BankCode: o.PayerBank,
			Name:     order.Sanitize(o.PayerName, order.MaxNameLength),
			TaxID:    o.PayerUID,
		},
		Beneficiary: transaction.Party{
			Account:  o.BeneficiaryAccount,
			BankCode: o.BeneficiaryBank,
			Name:     order.Sanitize(o.BeneficiaryName, order.MaxNameLength),
			TaxID:    o.BeneficiaryUID,
		},
		CreatedBy:   transaction.ActorCron,
		CreatedAt:   createdAt,
		UpdatedAt:   now,
		ErrorDetail: optional(o.ErrorDetail),
		CepURL:      optional(o.CepURL),
	}
	if t.Status == transaction.StatusScattered {
		settled := createdAt
		t.SettledAt = &settled
	}

	acc, err := j.accounts.WithTx(tx).GetByClabe(ctx, t.Self().Account)
	unmatched := false
	switch {
	case err == nil:
		companyID := acc.CompanyID
		t.ClabeAccountID = &acc.ID
		t.CompanyID = &companyID
	case errors.Is(err, account.ErrAccountNotFound{}):
		unmatched = true
	default:
		return false, fmt.Errorf("failed to resolve account %s: %w", t.Self().Account, err)
	}

	if err := j.machine.Create(ctx, tx, t, transaction.ActorCron, transaction.SourceCron, metadata); err != nil {
		return false, err
	}
	return unmatched, nil
}

// compareBalances fetches the processor's balance and sets the discrepancy.
// When account is set, the local side is limited to that CLABE account.
func (j *Job) compareBalances(ctx context.Context, logger *slog.Logger, clabe string, s *reconciliation.Summary) {
	var scope transaction.BalanceScope
	remoteAccount := j.defaultAccount
	if clabe != "" {
		remoteAccount = clabe
		acc, err := j.accounts.GetByClabe(ctx, clabe)
		if err != nil {
			logger.Error("Failed to resolve reconciliation account", "account", clabe, "error", err)
			s.Errors = append(s.Errors, reconciliation.ItemError{Message: "balance account: " + err.Error()})
			return
		}
		scope.ClabeAccountID = &acc.ID
	}

	totals, err := j.txns.SumBalance(ctx, scope)
	if err != nil {
		logger.Error("Failed to sum local balance", "error", err)
		s.Errors = append(s.Errors, reconciliation.ItemError{Message: "local balance: " + err.Error()})
		return
	}
	local := totals.Net()
	s.LocalBalance = local

	remote, err := j.remote.GetBalance(ctx, remoteAccount)
	if err != nil {
		logger.Error("Failed to fetch remote balance", "account", remoteAccount, "error", err)
		s.Errors = append(s.Errors, reconciliation.ItemError{Message: "remote balance: " + err.Error()})
		return
	}

	s.ApplyBalances(remote.Current, local, j.tolerance)
	if s.Significant {
		logger.Warn("Balance discrepancy beyond tolerance",
			"remote_balance", remote.Current.String(),
			"local_balance", local.String(),
			"discrepancy", s.Discrepancy.String(),
			"tolerance", j.tolerance.String(),
		)
	}
}

func optional(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}
