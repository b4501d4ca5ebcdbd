package outbox_poller

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spei-ledger/internal/domain/outbox"
	"github.com/spei-ledger/internal/domain/shared"
	"github.com/spei-ledger/internal/platform/messaging/producers"
	"github.com/spei-ledger/internal/platform/metrics"
)

// EventPublisher delivers one outbox message downstream
type EventPublisher interface {
	Publish(ctx context.Context, message *outbox.Message) error
}

// StatusEventPublisher writes status-change events to Kafka keyed by
// transaction id, so every consumer sees one transaction's changes in order.
type StatusEventPublisher struct {
	outboxRepo outbox.Repository
	producer   producers.MessagePublisher
	logger     *slog.Logger
}

// NewStatusEventPublisher creates a new publisher
func NewStatusEventPublisher(
	outboxRepo outbox.Repository,
	producer producers.MessagePublisher,
	logger *slog.Logger,
) *StatusEventPublisher {
	return &StatusEventPublisher{
		outboxRepo: outboxRepo,
		producer:   producer,
		logger:     logger,
	}
}

// Publish sends the event and marks the message PROCESSED. A payload that
// cannot be decoded is marked FAILED_TO_PUBLISH straight away.
func (p *StatusEventPublisher) Publish(ctx context.Context, message *outbox.Message) error {
	event, err := message.Event()
	if err != nil {
		p.logger.Error("Failed to unmarshal status event from outbox payload",
			"outbox_id", message.ID, "transaction_id", message.TransactionID, "error", err,
		)
		if updateErr := p.outboxRepo.UpdateStatus(ctx, message.ID, shared.OutboxStatusFailedToPublish); updateErr != nil {
			p.logger.Error("Also failed to update outbox status to FAILED_TO_PUBLISH after unmarshal error", "outbox_id", message.ID, "update_error", updateErr)
		}
		metrics.OutboxHandled("undecodable")
		return fmt.Errorf("unmarshal payload for outbox %d failed: %w", message.ID, err)
	}

	logger := p.logger.With(
		"outbox_id", message.ID,
		"transaction_id", event.TransactionID,
		"new_status", event.NewStatus,
	)

	if err := p.producer.Publish(ctx, event.TransactionID.String(), event); err != nil {
		return fmt.Errorf("failed to publish status event for outbox %d: %w", message.ID, err)
	}

	if err := p.outboxRepo.UpdateStatus(ctx, message.ID, shared.OutboxStatusProcessed); err != nil {
		logger.Error("Failed to update outbox message status to PROCESSED", "error", err)
		return fmt.Errorf("event for %s published, but failed to mark outbox %d as PROCESSED: %w", message.TransactionID, message.ID, err)
	}

	metrics.OutboxHandled("published")
	logger.Info("Published status event")
	return nil
}
