package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/spei-ledger/internal/domain/webhook"
	"github.com/spei-ledger/internal/platform/persistence"
)

const (
	// The partial unique index on (webhook_type, tracking_key) decides which
	// of two concurrent deliveries wins; the loser gets no row back.
	insertWebhookQuery = `
		INSERT INTO processed_webhooks (webhook_type, tracking_key, payload_hash, outcome, error_detail, processed_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (webhook_type, tracking_key) WHERE outcome <> 'duplicate' DO NOTHING
		RETURNING id`

	insertDuplicateWebhookQuery = `
		INSERT INTO processed_webhooks (webhook_type, tracking_key, payload_hash, outcome, error_detail, processed_at)
		VALUES ($1, $2, $3, 'duplicate', $4, $5)
		RETURNING id`

	getOriginalWebhookQuery = `
		SELECT id, webhook_type, tracking_key, payload_hash, outcome, error_detail, processed_at
		FROM processed_webhooks
		WHERE webhook_type = $1 AND tracking_key = $2 AND outcome <> 'duplicate'`

	purgeWebhooksQuery = `
		DELETE FROM processed_webhooks
		WHERE processed_at < $1`
)

// WebhookRepository implements webhook.Repository for PostgreSQL
type WebhookRepository struct {
	querier persistence.Querier
	logger  *slog.Logger
}

// NewWebhookRepository creates a new PostgreSQL processed webhook repository
func NewWebhookRepository(logger *slog.Logger, db *persistence.PostgresDB) webhook.Repository {
	return &WebhookRepository{
		querier: db.Pool(),
		logger:  logger,
	}
}

func (r *WebhookRepository) WithTx(tx pgx.Tx) webhook.Repository {
	return &WebhookRepository{
		querier: tx,
		logger:  r.logger,
	}
}

// Insert claims the idempotency key. It reports false when another delivery
// of the same key already holds it.
func (r *WebhookRepository) Insert(ctx context.Context, rec *webhook.Record) (bool, error) {
	err := r.querier.QueryRow(ctx, insertWebhookQuery,
		rec.Type,
		rec.TrackingKey,
		rec.PayloadHash,
		rec.Outcome,
		rec.ErrorDetail,
		rec.ProcessedAt,
	).Scan(&rec.ID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		r.logger.Error("Failed to insert processed webhook",
			"webhook_type", string(rec.Type),
			"tracking_key", rec.TrackingKey,
			"error", err,
		)
		return false, fmt.Errorf("failed to insert processed webhook: %w", err)
	}

	return true, nil
}

// InsertDuplicate records a redelivery of an already claimed key.
func (r *WebhookRepository) InsertDuplicate(ctx context.Context, rec *webhook.Record) error {
	rec.Outcome = webhook.OutcomeDuplicate
	err := r.querier.QueryRow(ctx, insertDuplicateWebhookQuery,
		rec.Type,
		rec.TrackingKey,
		rec.PayloadHash,
		rec.ErrorDetail,
		rec.ProcessedAt,
	).Scan(&rec.ID)
	if err != nil {
		r.logger.Error("Failed to insert duplicate webhook",
			"webhook_type", string(rec.Type),
			"tracking_key", rec.TrackingKey,
			"error", err,
		)
		return fmt.Errorf("failed to insert duplicate webhook: %w", err)
	}

	return nil
}

// GetOriginal returns the record that claimed (t, trackingKey).
func (r *WebhookRepository) GetOriginal(ctx context.Context, t webhook.Type, trackingKey string) (*webhook.Record, error) {
	var rec webhook.Record
	err := r.querier.QueryRow(ctx, getOriginalWebhookQuery, t, trackingKey).Scan(
		&rec.ID,
		&rec.Type,
		&rec.TrackingKey,
		&rec.PayloadHash,
		&rec.Outcome,
		&rec.ErrorDetail,
		&rec.ProcessedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, webhook.ErrRecordNotFound{Type: t, TrackingKey: trackingKey}
		}
		r.logger.Error("Failed to get original webhook", "webhook_type", string(t), "tracking_key", trackingKey, "error", err)
		return nil, fmt.Errorf("failed to get original webhook: %w", err)
	}

	return &rec, nil
}

// PurgeOlderThan deletes records processed before cutoff and returns how many were removed.
func (r *WebhookRepository) PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := r.querier.Exec(ctx, purgeWebhooksQuery, cutoff)
	if err != nil {
		r.logger.Error("Failed to purge processed webhooks", "cutoff", cutoff, "error", err)
		return 0, fmt.Errorf("failed to purge processed webhooks: %w", err)
	}
	return result.RowsAffected(), nil
}
