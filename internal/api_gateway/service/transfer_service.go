package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/spei-ledger/internal/authz"
	"github.com/spei-ledger/internal/config"
	"github.com/spei-ledger/internal/domain/account"
	"github.com/spei-ledger/internal/domain/order"
	"github.com/spei-ledger/internal/domain/transaction"
	"github.com/spei-ledger/internal/platform/clock"
	"github.com/spei-ledger/internal/platform/persistence"
	"github.com/spei-ledger/internal/statemachine"
)

// TransferServiceImpl implements the TransferService interface
type TransferServiceImpl struct {
	db          persistence.Transactor
	txns        transaction.Repository
	accounts    account.Repository
	machine     *statemachine.Machine
	submitter   TransferSubmitter
	clock       clock.Clock
	logger      *slog.Logger
	gracePeriod time.Duration
	keyPrefix   string
}

// NewTransferService creates a new transfer service
func NewTransferService(
	logger *slog.Logger,
	cfg *config.TransferConfig,
	db persistence.Transactor,
	txns transaction.Repository,
	accounts account.Repository,
	machine *statemachine.Machine,
	submitter TransferSubmitter,
	clk clock.Clock,
) TransferService {
	return &TransferServiceImpl{
		db:          db,
		txns:        txns,
		accounts:    accounts,
		machine:     machine,
		submitter:   submitter,
		clock:       clk,
		logger:      logger,
		gracePeriod: cfg.GracePeriod,
		keyPrefix:   cfg.TrackingKeyPrefix,
	}
}

// Create validates the transfer against the rail's rules and books it with
// its confirmation deadline fixed at now plus the grace period.
func (s *TransferServiceImpl) Create(ctx context.Context, actor authz.Actor, in CreateTransferInput) (*transaction.Transaction, error) {
	payer, err := s.accounts.GetByID(ctx, in.AccountID)
	if err != nil {
		return nil, err
	}
	if err := authz.Authorize(actor, authz.Resource{CompanyID: &payer.CompanyID}, authz.ActionTransferCreate).Err(); err != nil {
		return nil, err
	}
	if !payer.Active {
		return nil, account.ErrAccountInactive
	}

	if in.TrackingKey == "" {
		if in.TrackingKey, err = order.NewTrackingKey(s.keyPrefix); err != nil {
			return nil, fmt.Errorf("failed to generate tracking key: %w", err)
		}
	}
	if in.NumericalReference == 0 {
		if in.NumericalReference, err = order.NewNumericalReference(); err != nil {
			return nil, fmt.Errorf("failed to generate numerical reference: %w", err)
		}
	}

	o := order.Order{
		TrackingKey:        in.TrackingKey,
		Concept:            in.Concept,
		Amount:             in.Amount,
		NumericalReference: in.NumericalReference,
		PayerAccount:       payer.Clabe,
		PayerBank:          payer.BankCode,
		PayerName:          payer.HolderName,
		PayerUID:           payer.HolderTaxID,
		BeneficiaryAccount: in.Beneficiary.Account,
		BeneficiaryBank:    in.Beneficiary.BankCode,
		BeneficiaryName:    in.Beneficiary.Name,
		BeneficiaryUID:     in.Beneficiary.TaxID,
	}.Sanitized()
	if errs := order.Validate(o); len(errs) > 0 {
		return nil, errs
	}

	now := s.clock.Now().UTC()
	deadline := now.Add(s.gracePeriod)
	companyID := payer.CompanyID
	t := &transaction.Transaction{
		ID:                 uuid.New(),
		Type:               transaction.TypeOutgoing,
		Status:             transaction.StatusPendingConfirmation,
		Amount:             o.Amount,
		Concept:            o.Concept,
		TrackingKey:        o.TrackingKey,
		NumericalReference: o.NumericalReference,
		Payer: transaction.Party{
			Account:  o.PayerAccount,
			BankCode: o.PayerBank,
			Name:     o.PayerName,
			TaxID:    o.PayerUID,
		},
		Beneficiary: transaction.Party{
			Account:  o.BeneficiaryAccount,
			BankCode: o.BeneficiaryBank,
			Name:     o.BeneficiaryName,
			TaxID:    o.BeneficiaryUID,
		},
		ClabeAccountID:       &payer.ID,
		CompanyID:            &companyID,
		CreatedBy:            actor.UserID,
		CreatedAt:            now,
		UpdatedAt:            now,
		ConfirmationDeadline: &deadline,
	}

	err = s.db.ExecuteTx(ctx, func(tx pgx.Tx) error {
		return s.machine.Create(ctx, tx, t, actor.UserID, transaction.SourceAPI, map[string]any{
			"grace_period_seconds": s.gracePeriod.Seconds(),
		})
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Transfer created",
		"transaction_id", t.ID.String(),
		"tracking_key", t.TrackingKey,
		"amount", t.Amount.StringFixed(2),
		"deadline", deadline,
		"user_id", actor.UserID,
	)
	return t, nil
}

// Cancel locks the transfer only while it is still cancelable, so two
// concurrent cancels or a cancel racing the dispatcher cannot both win.
func (s *TransferServiceImpl) Cancel(ctx context.Context, actor authz.Actor, id uuid.UUID) (*transaction.Transaction, error) {
	current, err := s.txns.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.authorize(actor, current, authz.ActionTransferCancel); err != nil {
		return nil, err
	}

	var canceled *transaction.Transaction
	err = s.db.ExecuteTx(ctx, func(tx pgx.Tx) error {
		txns := s.txns.WithTx(tx)
		locked, err := txns.GetForCancel(ctx, id, s.clock.Now().UTC())
		if err != nil {
			return err
		}
		if locked == nil {
			return s.cancelRefusal(ctx, txns, id)
		}

		from := transaction.StatusPendingConfirmation
		res, err := s.machine.Apply(ctx, tx, statemachine.Request{
			TransactionID: id,
			To:            transaction.StatusCanceled,
			ExpectedFrom:  &from,
			Actor:         actor.UserID,
			Source:        transaction.SourceAPI,
		})
		if err != nil {
			return err
		}
		canceled = res.Transaction
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Transfer canceled", "transaction_id", id.String(), "user_id", actor.UserID)
	return canceled, nil
}

// cancelRefusal explains why GetForCancel found nothing.
func (s *TransferServiceImpl) cancelRefusal(ctx context.Context, txns transaction.Repository, id uuid.UUID) error {
	current, err := txns.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if current.Status == transaction.StatusCanceled {
		return transaction.ErrAlreadyCanceled
	}
	return transaction.ErrGracePeriodExpired
}

// Cancelability is evaluated against the current clock on every call.
func (s *TransferServiceImpl) Cancelability(ctx context.Context, actor authz.Actor, id uuid.UUID) (*transaction.Cancelability, error) {
	t, err := s.txns.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.authorize(actor, t, authz.ActionTransactionRead); err != nil {
		return nil, err
	}

	c := t.CancelabilityAt(s.clock.Now().UTC())
	return &c, nil
}

// Retry takes the failed -> pending edge and submits the transfer again. The
// returned transaction reflects the outcome of the submission.
func (s *TransferServiceImpl) Retry(ctx context.Context, actor authz.Actor, id uuid.UUID) (*transaction.Transaction, error) {
	current, err := s.txns.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.authorize(actor, current, authz.ActionTransferRetry); err != nil {
		return nil, err
	}
	if current.Type != transaction.TypeOutgoing {
		return nil, transaction.ErrIllegalTransition{From: current.Status, To: transaction.StatusPending}
	}

	from := transaction.StatusFailed
	res, err := s.machine.Transition(ctx, statemachine.Request{
		TransactionID: id,
		To:            transaction.StatusPending,
		ExpectedFrom:  &from,
		Actor:         actor.UserID,
		Source:        transaction.SourceAPI,
		Metadata:      map[string]any{"reason": "retry"},
	})
	if err != nil {
		var stale transaction.ErrConcurrentModification
		if errors.As(err, &stale) {
			return nil, transaction.ErrIllegalTransition{From: current.Status, To: transaction.StatusPending}
		}
		return nil, err
	}

	s.logger.Info("Retrying failed transfer", "transaction_id", id.String(), "user_id", actor.UserID)
	if err := s.submitter.Submit(ctx, res.Transaction); err != nil {
		return nil, err
	}
	return s.txns.GetByID(ctx, id)
}

func (s *TransferServiceImpl) authorize(actor authz.Actor, t *transaction.Transaction, action authz.Action) error {
	return authz.Authorize(actor, authz.Resource{CompanyID: t.CompanyID, OwnerID: t.CreatedBy}, action).Err()
}
