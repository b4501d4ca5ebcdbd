package service

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
	"github.com/spei-ledger/internal/authz"
	"github.com/spei-ledger/internal/domain/account"
	"github.com/spei-ledger/internal/domain/transaction"
	"github.com/spei-ledger/internal/platform/clock"
)

// AccountServiceImpl implements the AccountService interface
type AccountServiceImpl struct {
	accountRepo account.Repository
	txns        transaction.Repository
	clock       clock.Clock
	logger      *slog.Logger
}

// NewAccountService creates a new account service
func NewAccountService(logger *slog.Logger, accountRepo account.Repository, txns transaction.Repository, clk clock.Clock) AccountService {
	return &AccountServiceImpl{
		accountRepo: accountRepo,
		txns:        txns,
		clock:       clk,
		logger:      logger,
	}
}

// Create registers a CLABE for the caller's company, or for the given
// company when the caller is global.
func (s *AccountServiceImpl) Create(ctx context.Context, actor authz.Actor, in CreateAccountInput) (*account.ClabeAccount, error) {
	companyID := in.CompanyID
	if companyID == nil {
		companyID = actor.CompanyID
	}
	if err := authz.Authorize(actor, authz.Resource{CompanyID: companyID}, authz.ActionAccountManage).Err(); err != nil {
		return nil, err
	}
	if companyID == nil {
		return nil, account.ErrCompanyIDRequired
	}

	acc, err := account.NewClabeAccount(*companyID, in.Clabe, in.BankCode, in.Alias, in.HolderName, in.HolderTaxID, s.clock.Now().UTC())
	if err != nil {
		return nil, err
	}

	if err := s.accountRepo.Create(ctx, acc); err != nil {
		return nil, err
	}

	s.logger.Info("CLABE account created", "account_id", acc.ID.String(), "company_id", acc.CompanyID.String())
	return acc, nil
}

func (s *AccountServiceImpl) List(ctx context.Context, actor authz.Actor, companyID *uuid.UUID) ([]*account.ClabeAccount, error) {
	if companyID == nil && !actor.IsGlobal() {
		companyID = actor.CompanyID
	}
	resource := authz.Resource{CompanyID: companyID}
	if err := authz.Authorize(actor, resource, authz.ActionTransactionRead).Err(); err != nil {
		return nil, err
	}
	return s.accountRepo.ListByCompany(ctx, companyID)
}

// Balance sums the account's ledger rows; it does not ask the processor.
func (s *AccountServiceImpl) Balance(ctx context.Context, actor authz.Actor, id uuid.UUID) (*AccountBalance, error) {
	acc, err := s.accountRepo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := authz.Authorize(actor, authz.Resource{CompanyID: &acc.CompanyID}, authz.ActionTransactionRead).Err(); err != nil {
		return nil, err
	}

	totals, err := s.txns.SumBalance(ctx, transaction.BalanceScope{ClabeAccountID: &acc.ID})
	if err != nil {
		s.logger.Error("Failed to compute account balance", "account_id", id.String(), "error", err)
		return nil, err
	}

	return &AccountBalance{
		AccountID:         acc.ID,
		Clabe:             acc.Clabe,
		Net:               totals.Net(),
		Available:         totals.Available(),
		OutgoingInTransit: totals.OutgoingInTransit,
	}, nil
}

// Deactivate keeps the account and its history but stops it from resolving
// incoming deposits or paying new transfers.
func (s *AccountServiceImpl) Deactivate(ctx context.Context, actor authz.Actor, id uuid.UUID) error {
	acc, err := s.accountRepo.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if err := authz.Authorize(actor, authz.Resource{CompanyID: &acc.CompanyID}, authz.ActionAccountManage).Err(); err != nil {
		return err
	}

	if err := s.accountRepo.Deactivate(ctx, id, s.clock.Now().UTC()); err != nil {
		return err
	}

	s.logger.Info("CLABE account deactivated", "account_id", id.String(), "user_id", actor.UserID)
	return nil
}
