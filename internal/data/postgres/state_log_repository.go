package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/spei-ledger/internal/domain/transaction"
	"github.com/spei-ledger/internal/platform/persistence"
)

const (
	appendStateLogQuery = `
		INSERT INTO transaction_state_log (transaction_id, previous_status, new_status, actor, source, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id`

	listStateLogQuery = `
		SELECT id, transaction_id, previous_status, new_status, actor, source, metadata, created_at
		FROM transaction_state_log
		WHERE transaction_id = $1
		ORDER BY id ASC`
)

// StateLogRepository implements transaction.StateLogRepository for PostgreSQL.
// Entries are only ever inserted.
type StateLogRepository struct {
	querier persistence.Querier
	logger  *slog.Logger
}

// NewStateLogRepository creates a new PostgreSQL state log repository
func NewStateLogRepository(logger *slog.Logger, db *persistence.PostgresDB) transaction.StateLogRepository {
	return &StateLogRepository{
		querier: db.Pool(),
		logger:  logger,
	}
}

func (r *StateLogRepository) WithTx(tx pgx.Tx) transaction.StateLogRepository {
	return &StateLogRepository{
		querier: tx,
		logger:  r.logger,
	}
}

// Append inserts an entry and sets its ID.
func (r *StateLogRepository) Append(ctx context.Context, e *transaction.StateLogEntry) error {
	var metadata []byte
	if len(e.Metadata) > 0 {
		var err error
		if metadata, err = json.Marshal(e.Metadata); err != nil {
			return fmt.Errorf("failed to encode state log metadata: %w", err)
		}
	}

	err := r.querier.QueryRow(ctx, appendStateLogQuery,
		e.TransactionID,
		e.PreviousStatus,
		e.NewStatus,
		e.Actor,
		e.Source,
		metadata,
		e.CreatedAt,
	).Scan(&e.ID)
	if err != nil {
		r.logger.Error("Failed to append state log entry",
			"transaction_id", e.TransactionID.String(),
			"new_status", string(e.NewStatus),
			"error", err,
		)
		return fmt.Errorf("failed to append state log entry: %w", err)
	}

	return nil
}

// ListByTransaction returns a transaction's entries in the order they were written.
func (r *StateLogRepository) ListByTransaction(ctx context.Context, id uuid.UUID) ([]*transaction.StateLogEntry, error) {
	rows, err := r.querier.Query(ctx, listStateLogQuery, id)
	if err != nil {
		r.logger.Error("Failed to list state log", "transaction_id", id.String(), "error", err)
		return nil, fmt.Errorf("failed to list state log: %w", err)
	}
	defer rows.Close()

	entries := make([]*transaction.StateLogEntry, 0)
	for rows.Next() {
		var (
			e        transaction.StateLogEntry
			metadata []byte
		)
		if err := rows.Scan(
			&e.ID,
			&e.TransactionID,
			&e.PreviousStatus,
			&e.NewStatus,
			&e.Actor,
			&e.Source,
			&metadata,
			&e.CreatedAt,
		); err != nil {
			r.logger.Error("Failed to scan state log entry", "error", err)
			return nil, fmt.Errorf("failed to scan state log entry: %w", err)
		}
		if len(metadata) > 0 {
			if err := json.Unmarshal(metadata, &e.Metadata); err != nil {
				return nil, fmt.Errorf("failed to decode state log metadata: %w", err)
			}
		}
		entries = append(entries, &e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating over state log: %w", err)
	}

	return entries, nil
}
