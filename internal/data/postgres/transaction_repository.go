package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/spei-ledger/internal/domain/transaction"
	"github.com/spei-ledger/internal/platform/persistence"
)

const transactionColumns = `id, opm_order_id, type, status, amount, concept, tracking_key, numerical_reference,
		beneficiary_account, beneficiary_bank, beneficiary_name, beneficiary_uid,
		payer_account, payer_bank, payer_name, payer_uid,
		clabe_account_id, company_id, created_by, created_at, updated_at,
		settled_at, confirmation_deadline, error_detail, cep_url`

const trackingKeyIndex = "idx_transactions_tracking_key"

const (
	createTransactionQuery = `
		INSERT INTO transactions (` + transactionColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13,
			$14, $15, $16, $17, $18, $19, $20, $21, $22, $23, $24, $25)`

	getTransactionByIDQuery = `
		SELECT ` + transactionColumns + `
		FROM transactions
		WHERE id = $1`

	getTransactionByOrderIDQuery = `
		SELECT ` + transactionColumns + `
		FROM transactions
		WHERE opm_order_id = $1`

	getTransactionByTrackingKeyQuery = `
		SELECT ` + transactionColumns + `
		FROM transactions
		WHERE tracking_key = $1`

	lockTransactionQuery = `
		SELECT ` + transactionColumns + `
		FROM transactions
		WHERE id = $1
		FOR UPDATE`

	getForCancelQuery = `
		SELECT ` + transactionColumns + `
		FROM transactions
		WHERE id = $1 AND status = 'pending_confirmation' AND confirmation_deadline > $2
		FOR UPDATE`

	updateTransactionStatusQuery = `
		UPDATE transactions
		SET status = $1,
			error_detail = COALESCE($2, error_detail),
			cep_url = COALESCE($3, cep_url),
			settled_at = $4,
			updated_at = $5
		WHERE id = $6 AND status = $7`

	setRemoteOrderIDQuery = `
		UPDATE transactions
		SET opm_order_id = $1, updated_at = NOW()
		WHERE id = $2`

	listDueForDispatchQuery = `
		SELECT ` + transactionColumns + `
		FROM transactions
		WHERE type = 'outgoing' AND status = 'pending_confirmation' AND confirmation_deadline <= $1
		ORDER BY confirmation_deadline ASC
		LIMIT $2
		FOR UPDATE SKIP LOCKED`

	sumBalanceQuery = `
		SELECT
			COALESCE(SUM(amount) FILTER (WHERE type = 'incoming' AND status = 'scattered'), 0),
			COALESCE(SUM(amount) FILTER (WHERE type = 'outgoing' AND status IN ('sent', 'scattered')), 0),
			COALESCE(SUM(amount) FILTER (WHERE type = 'outgoing' AND status IN ('pending_confirmation', 'pending', 'queued')), 0)
		FROM transactions
		WHERE ($1::uuid IS NULL OR clabe_account_id = $1)
			AND ($2::uuid IS NULL OR company_id = $2)`

	statsSelect = `
		SELECT
			COALESCE(SUM(amount) FILTER (WHERE type = 'incoming' AND status = 'scattered'), 0),
			COALESCE(SUM(amount) FILTER (WHERE type = 'outgoing' AND status IN ('sent', 'scattered')), 0),
			COALESCE(SUM(amount) FILTER (WHERE type = 'outgoing' AND status IN ('pending_confirmation', 'pending', 'queued')), 0),
			COUNT(*)
		FROM transactions`

	countTransactionsSelect = `SELECT COUNT(*) FROM transactions`

	listTransactionsSelect = `SELECT ` + transactionColumns + ` FROM transactions`
)

// TransactionRepository implements transaction.Repository for PostgreSQL.
// It is the ledger store: every status write goes through UpdateStatus.
type TransactionRepository struct {
	querier persistence.Querier
	logger  *slog.Logger
}

// NewTransactionRepository creates a new PostgreSQL ledger store.
func NewTransactionRepository(logger *slog.Logger, db *persistence.PostgresDB) transaction.Repository {
	return &TransactionRepository{
		querier: db.Pool(),
		logger:  logger,
	}
}

// WithTx returns a repository that runs every query on tx.
func (r *TransactionRepository) WithTx(tx pgx.Tx) transaction.Repository {
	return &TransactionRepository{
		querier: tx,
		logger:  r.logger,
	}
}

// Create inserts a transaction. A reused tracking key yields ErrDuplicateTransaction.
func (r *TransactionRepository) Create(ctx context.Context, t *transaction.Transaction) error {
	_, err := r.querier.Exec(ctx, createTransactionQuery,
		t.ID,
		t.RemoteOrderID,
		t.Type,
		t.Status,
		t.Amount,
		t.Concept,
		t.TrackingKey,
		t.NumericalReference,
		t.Beneficiary.Account,
		t.Beneficiary.BankCode,
		t.Beneficiary.Name,
		t.Beneficiary.TaxID,
		t.Payer.Account,
		t.Payer.BankCode,
		t.Payer.Name,
		t.Payer.TaxID,
		t.ClabeAccountID,
		t.CompanyID,
		t.CreatedBy,
		t.CreatedAt,
		t.UpdatedAt,
		t.SettledAt,
		t.ConfirmationDeadline,
		t.ErrorDetail,
		t.CepURL,
	)
	if err != nil {
		if isUniqueViolation(err, trackingKeyIndex) {
			return transaction.ErrDuplicateTransaction{TrackingKey: t.TrackingKey}
		}
		r.logger.Error("Failed to create transaction",
			"transaction_id", t.ID.String(),
			"tracking_key", t.TrackingKey,
			"error", err,
		)
		return fmt.Errorf("failed to create transaction: %w", err)
	}

	return nil
}

// GetByID retrieves a transaction by its ID.
func (r *TransactionRepository) GetByID(ctx context.Context, id uuid.UUID) (*transaction.Transaction, error) {
	t, err := scanTransaction(r.querier.QueryRow(ctx, getTransactionByIDQuery, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, transaction.ErrTransactionNotFound{ID: id}
		}
		r.logger.Error("Failed to get transaction", "transaction_id", id.String(), "error", err)
		return nil, fmt.Errorf("failed to get transaction: %w", err)
	}
	return t, nil
}

// GetByRemoteOrderID retrieves a transaction by the processor's order id.
func (r *TransactionRepository) GetByRemoteOrderID(ctx context.Context, orderID string) (*transaction.Transaction, error) {
	t, err := scanTransaction(r.querier.QueryRow(ctx, getTransactionByOrderIDQuery, orderID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, transaction.ErrTransactionNotFound{Ref: orderID}
		}
		r.logger.Error("Failed to get transaction by order id", "opm_order_id", orderID, "error", err)
		return nil, fmt.Errorf("failed to get transaction by order id: %w", err)
	}
	return t, nil
}

// GetByTrackingKey retrieves a transaction by its SPEI tracking key.
func (r *TransactionRepository) GetByTrackingKey(ctx context.Context, trackingKey string) (*transaction.Transaction, error) {
	t, err := scanTransaction(r.querier.QueryRow(ctx, getTransactionByTrackingKeyQuery, trackingKey))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, transaction.ErrTransactionNotFound{Ref: trackingKey}
		}
		r.logger.Error("Failed to get transaction by tracking key", "tracking_key", trackingKey, "error", err)
		return nil, fmt.Errorf("failed to get transaction by tracking key: %w", err)
	}
	return t, nil
}

// LockForUpdate obtains a row lock on the transaction and returns its current state.
// It must run inside a database transaction.
func (r *TransactionRepository) LockForUpdate(ctx context.Context, id uuid.UUID) (*transaction.Transaction, error) {
	t, err := scanTransaction(r.querier.QueryRow(ctx, lockTransactionQuery, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, transaction.ErrTransactionNotFound{ID: id}
		}
		r.logger.Error("Failed to lock transaction for update", "transaction_id", id.String(), "error", err)
		return nil, fmt.Errorf("failed to lock transaction for update: %w", err)
	}
	return t, nil
}

// GetForCancel locks the row only if it is still inside its grace window.
func (r *TransactionRepository) GetForCancel(ctx context.Context, id uuid.UUID, now time.Time) (*transaction.Transaction, error) {
	t, err := scanTransaction(r.querier.QueryRow(ctx, getForCancelQuery, id, now))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		r.logger.Error("Failed to get transaction for cancel", "transaction_id", id.String(), "error", err)
		return nil, fmt.Errorf("failed to get transaction for cancel: %w", err)
	}
	return t, nil
}

// UpdateStatus writes a checked transition. The write only applies while the
// row is still in the transition's source status; otherwise it returns
// ErrConcurrentModification. settled_at is written iff the destination is scattered.
func (r *TransactionRepository) UpdateStatus(ctx context.Context, id uuid.UUID, tr transaction.Transition, u transaction.StatusUpdate) error {
	if !tr.Valid() {
		return transaction.ErrInvalidTransition
	}

	var settledAt *time.Time
	if tr.To() == transaction.StatusScattered {
		settledAt = u.SettledAt
		if settledAt == nil {
			at := u.At
			settledAt = &at
		}
	}

	result, err := r.querier.Exec(ctx, updateTransactionStatusQuery,
		tr.To(),
		u.Detail,
		u.CepURL,
		settledAt,
		u.At,
		id,
		tr.From(),
	)
	if err != nil {
		r.logger.Error("Failed to update transaction status",
			"transaction_id", id.String(),
			"from", string(tr.From()),
			"to", string(tr.To()),
			"error", err,
		)
		return fmt.Errorf("failed to update transaction status: %w", err)
	}

	if result.RowsAffected() == 0 {
		return transaction.ErrConcurrentModification{ID: id, Expected: tr.From()}
	}

	return nil
}

// SetRemoteOrderID attaches the processor's order id to a transaction.
func (r *TransactionRepository) SetRemoteOrderID(ctx context.Context, id uuid.UUID, orderID string) error {
	result, err := r.querier.Exec(ctx, setRemoteOrderIDQuery, orderID, id)
	if err != nil {
		r.logger.Error("Failed to set order id", "transaction_id", id.String(), "opm_order_id", orderID, "error", err)
		return fmt.Errorf("failed to set order id: %w", err)
	}

	if result.RowsAffected() == 0 {
		return transaction.ErrTransactionNotFound{ID: id}
	}

	return nil
}

// ListDueForDispatch locks up to limit outgoing transfers whose grace window
// has closed. Rows locked by a concurrent dispatcher are skipped.
func (r *TransactionRepository) ListDueForDispatch(ctx context.Context, now time.Time, limit int) ([]*transaction.Transaction, error) {
	rows, err := r.querier.Query(ctx, listDueForDispatchQuery, now, limit)
	if err != nil {
		r.logger.Error("Failed to list transfers due for dispatch", "error", err)
		return nil, fmt.Errorf("failed to list transfers due for dispatch: %w", err)
	}
	return r.collect(rows)
}

// List returns one page of transactions matching f, newest first, and the total match count.
func (r *TransactionRepository) List(ctx context.Context, f transaction.Filter, p transaction.Page) ([]*transaction.Transaction, int64, error) {
	preds := transactionPredicates(f)
	where := preds.where()

	var total int64
	if err := r.querier.QueryRow(ctx, countTransactionsSelect+where, preds.args...).Scan(&total); err != nil {
		r.logger.Error("Failed to count transactions", "error", err)
		return nil, 0, fmt.Errorf("failed to count transactions: %w", err)
	}

	args := append(preds.args, p.Size, p.Offset())
	rows, err := r.querier.Query(ctx, pageQuery(where, len(preds.args)), args...)
	if err != nil {
		r.logger.Error("Failed to list transactions", "error", err)
		return nil, 0, fmt.Errorf("failed to list transactions: %w", err)
	}

	txns, err := r.collect(rows)
	if err != nil {
		return nil, 0, err
	}
	return txns, total, nil
}

// Stats aggregates amounts over every transaction matching f.
func (r *TransactionRepository) Stats(ctx context.Context, f transaction.Filter) (*transaction.Stats, error) {
	preds := transactionPredicates(f)

	var stats transaction.Stats
	err := r.querier.QueryRow(ctx, statsSelect+preds.where(), preds.args...).Scan(
		&stats.TotalIncoming,
		&stats.TotalOutgoing,
		&stats.InTransit,
		&stats.Count,
	)
	if err != nil {
		r.logger.Error("Failed to compute transaction stats", "error", err)
		return nil, fmt.Errorf("failed to compute transaction stats: %w", err)
	}
	return &stats, nil
}

// SumBalance aggregates the balance components for a scope.
func (r *TransactionRepository) SumBalance(ctx context.Context, scope transaction.BalanceScope) (*transaction.BalanceTotals, error) {
	var totals transaction.BalanceTotals
	err := r.querier.QueryRow(ctx, sumBalanceQuery, scope.ClabeAccountID, scope.CompanyID).Scan(
		&totals.IncomingSettled,
		&totals.OutgoingSentOrSettled,
		&totals.OutgoingInTransit,
	)
	if err != nil {
		r.logger.Error("Failed to sum balance", "error", err)
		return nil, fmt.Errorf("failed to sum balance: %w", err)
	}
	return &totals, nil
}

func (r *TransactionRepository) collect(rows pgx.Rows) ([]*transaction.Transaction, error) {
	defer rows.Close()

	txns := make([]*transaction.Transaction, 0)
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			r.logger.Error("Failed to scan transaction", "error", err)
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		txns = append(txns, t)
	}

	if err := rows.Err(); err != nil {
		r.logger.Error("Error iterating over transactions", "error", err)
		return nil, fmt.Errorf("error iterating over transactions: %w", err)
	}

	return txns, nil
}

func scanTransaction(row pgx.Row) (*transaction.Transaction, error) {
	var t transaction.Transaction
	err := row.Scan(
		&t.ID,
		&t.RemoteOrderID,
		&t.Type,
		&t.Status,
		&t.Amount,
		&t.Concept,
		&t.TrackingKey,
		&t.NumericalReference,
		&t.Beneficiary.Account,
		&t.Beneficiary.BankCode,
		&t.Beneficiary.Name,
		&t.Beneficiary.TaxID,
		&t.Payer.Account,
		&t.Payer.BankCode,
		&t.Payer.Name,
		&t.Payer.TaxID,
		&t.ClabeAccountID,
		&t.CompanyID,
		&t.CreatedBy,
		&t.CreatedAt,
		&t.UpdatedAt,
		&t.SettledAt,
		&t.ConfirmationDeadline,
		&t.ErrorDetail,
		&t.CepURL,
	)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// pageQuery appends ordering and pagination placeholders after argc filter arguments.
func pageQuery(where string, argc int) string {
	return listTransactionsSelect + where + " ORDER BY created_at DESC, id DESC LIMIT $" +
		strconv.Itoa(argc+1) + " OFFSET $" + strconv.Itoa(argc+2)
}
