// Package consumer handles messages the transaction processor reads from Kafka.
package consumer

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/spei-ledger/internal/domain/reconciliation"
	"github.com/spei-ledger/internal/domain/shared"
	"github.com/spei-ledger/internal/platform/messaging/consumers"
	reconjob "github.com/spei-ledger/internal/reconciliation"
)

// ReconciliationRunner runs one reconciliation pass
type ReconciliationRunner interface {
	Run(ctx context.Context, opts reconjob.Options) (*reconciliation.Summary, error)
}

// ReconciliationRequestHandler runs reconciliations requested through the API
type ReconciliationRequestHandler struct {
	runner ReconciliationRunner
	logger *slog.Logger
}

// NewReconciliationRequestHandler creates a new handler
func NewReconciliationRequestHandler(logger *slog.Logger, runner ReconciliationRunner) *ReconciliationRequestHandler {
	return &ReconciliationRequestHandler{
		runner: runner,
		logger: logger,
	}
}

// HandleMessage is a consumers.MessageHandler. Undecodable or invalid requests
// are poison messages and go straight to the dead letter topic; a run that
// fails is returned so the consumer retries it.
func (h *ReconciliationRequestHandler) HandleMessage(ctx context.Context, key []byte, value []byte) error {
	var request shared.ReconciliationRequest
	if err := json.Unmarshal(value, &request); err != nil {
		h.logger.Error("Failed to unmarshal reconciliation request from Kafka message",
			"error", err,
			"message_key", string(key),
		)
		return fmt.Errorf("%w: %v", consumers.ErrPoisonMessage, err)
	}
	if err := request.Validate(); err != nil {
		h.logger.Error("Received invalid reconciliation request", "error", err, "message_key", string(key))
		return fmt.Errorf("%w: %v", consumers.ErrPoisonMessage, err)
	}

	logger := h.logger.With("request_id", request.RequestID.String())
	if request.CorrelationID != "" {
		logger = logger.With("correlation_id", request.CorrelationID)
	}

	logger.Info("Received reconciliation request",
		"account", request.Account,
		"window", request.Window.String(),
		"requested_by", request.RequestedBy,
	)

	summary, err := h.runner.Run(ctx, reconjob.Options{
		Account:     request.Account,
		Window:      request.Window,
		RequestedBy: request.RequestedBy,
	})
	if err != nil {
		logger.Error("Failed to run requested reconciliation", "error", err)
		return fmt.Errorf("reconciliation request %s failed: %w", request.RequestID, err)
	}

	logger.Info("Requested reconciliation completed",
		"run_id", summary.RunID.String(),
		"inserted", summary.Inserted,
		"updated", summary.Updated,
		"errored", summary.Errored,
	)
	return nil
}
