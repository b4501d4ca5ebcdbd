package service

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
	"github.com/spei-ledger/internal/authz"
	"github.com/spei-ledger/internal/domain/reconciliation"
	"github.com/spei-ledger/internal/domain/shared"
	"github.com/spei-ledger/internal/platform/clock"
	"github.com/spei-ledger/internal/platform/messaging/producers"
	reconjob "github.com/spei-ledger/internal/reconciliation"
)

// ReconciliationServiceImpl implements the ReconciliationService interface
type ReconciliationServiceImpl struct {
	runner   ReconciliationRunner
	reports  reconciliation.Repository
	producer producers.MessagePublisher
	clock    clock.Clock
	logger   *slog.Logger
}

// NewReconciliationService creates a new reconciliation service
func NewReconciliationService(
	logger *slog.Logger,
	runner ReconciliationRunner,
	reports reconciliation.Repository,
	producer producers.MessagePublisher,
	clk clock.Clock,
) ReconciliationService {
	return &ReconciliationServiceImpl{
		runner:   runner,
		reports:  reports,
		producer: producer,
		clock:    clk,
		logger:   logger,
	}
}

func (s *ReconciliationServiceImpl) Run(ctx context.Context, actor authz.Actor, in ReconciliationInput) (*reconciliation.Summary, error) {
	if err := authz.Authorize(actor, authz.Resource{}, authz.ActionReconciliationRun).Err(); err != nil {
		return nil, err
	}
	return s.runner.Run(ctx, reconjob.Options{
		Account:     in.Account,
		Window:      in.Window,
		RequestedBy: actor.UserID,
	})
}

// Enqueue publishes a request for the transaction processor. The run
// itself happens asynchronously and lands in the report history.
func (s *ReconciliationServiceImpl) Enqueue(ctx context.Context, actor authz.Actor, in ReconciliationInput, correlationID string) (uuid.UUID, error) {
	if err := authz.Authorize(actor, authz.Resource{}, authz.ActionReconciliationRun).Err(); err != nil {
		return uuid.Nil, err
	}

	req := shared.ReconciliationRequest{
		RequestID:     uuid.New(),
		Account:       in.Account,
		Window:        in.Window,
		RequestedBy:   actor.UserID,
		CorrelationID: correlationID,
		Timestamp:     s.clock.Now().UTC(),
	}
	if err := s.producer.Publish(ctx, req.RequestID.String(), req); err != nil {
		s.logger.Error("Failed to publish reconciliation request",
			"request_id", req.RequestID.String(),
			"error", err,
		)
		return uuid.Nil, err
	}

	s.logger.Info("Reconciliation request published",
		"request_id", req.RequestID.String(),
		"user_id", actor.UserID,
	)
	return req.RequestID, nil
}

func (s *ReconciliationServiceImpl) Reports(ctx context.Context, actor authz.Actor, limit, offset int64) ([]*reconciliation.Summary, error) {
	if err := authz.Authorize(actor, authz.Resource{}, authz.ActionReconciliationRead).Err(); err != nil {
		return nil, err
	}
	return s.reports.List(ctx, limit, offset)
}

func (s *ReconciliationServiceImpl) Report(ctx context.Context, actor authz.Actor, runID uuid.UUID) (*reconciliation.Summary, error) {
	if err := authz.Authorize(actor, authz.Resource{}, authz.ActionReconciliationRead).Err(); err != nil {
		return nil, err
	}
	return s.reports.GetByRunID(ctx, runID)
}
