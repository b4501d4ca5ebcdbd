package service

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
	"github.com/spei-ledger/internal/authz"
	"github.com/spei-ledger/internal/domain/transaction"
)

// TransactionServiceImpl implements the TransactionService interface
type TransactionServiceImpl struct {
	txns     transaction.Repository
	stateLog transaction.StateLogRepository
	logger   *slog.Logger
}

// NewTransactionService creates a new transaction query service
func NewTransactionService(logger *slog.Logger, txns transaction.Repository, stateLog transaction.StateLogRepository) TransactionService {
	return &TransactionServiceImpl{
		txns:     txns,
		stateLog: stateLog,
		logger:   logger,
	}
}

// List scopes the filter to the caller's company unless the caller sees
// every company. Stats cover the whole filter, not just the page.
func (s *TransactionServiceImpl) List(ctx context.Context, actor authz.Actor, f transaction.Filter, p transaction.Page) (*TransactionPage, error) {
	if !actor.IsGlobal() {
		companyID := f.CompanyID
		if companyID == nil {
			companyID = actor.CompanyID
		}
		if err := authz.Authorize(actor, authz.Resource{CompanyID: companyID}, authz.ActionTransactionRead).Err(); err != nil {
			return nil, err
		}
		f.CompanyID = companyID
	} else if err := authz.Authorize(actor, authz.Resource{}, authz.ActionTransactionRead).Err(); err != nil {
		return nil, err
	}

	items, total, err := s.txns.List(ctx, f, p)
	if err != nil {
		s.logger.Error("Failed to list transactions", "error", err)
		return nil, err
	}

	stats, err := s.txns.Stats(ctx, f)
	if err != nil {
		s.logger.Error("Failed to aggregate transactions", "error", err)
		return nil, err
	}

	return &TransactionPage{Items: items, Total: total, Stats: stats}, nil
}

// Get retrieves a transaction by its ID together with every status change it went through
func (s *TransactionServiceImpl) Get(ctx context.Context, actor authz.Actor, id uuid.UUID) (*TransactionDetail, error) {
	t, err := s.txns.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := authz.Authorize(actor, authz.Resource{CompanyID: t.CompanyID}, authz.ActionTransactionRead).Err(); err != nil {
		return nil, err
	}

	entries, err := s.stateLog.ListByTransaction(ctx, id)
	if err != nil {
		s.logger.Error("Failed to get state log", "transaction_id", id.String(), "error", err)
		return nil, err
	}

	return &TransactionDetail{Transaction: t, StateLog: entries}, nil
}
