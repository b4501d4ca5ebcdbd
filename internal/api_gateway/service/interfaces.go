package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/spei-ledger/internal/authz"
	"github.com/spei-ledger/internal/domain/account"
	"github.com/spei-ledger/internal/domain/reconciliation"
	"github.com/spei-ledger/internal/domain/transaction"
	reconjob "github.com/spei-ledger/internal/reconciliation"
	"github.com/spei-ledger/internal/webhook"
)

// TransferService defines the interface for outgoing transfer operations
type TransferService interface {
	// Create books a transfer in pending_confirmation. It is dispatched once
	// the grace period has elapsed unless canceled first.
	// Returns order.ValidationErrors when the transfer would be rejected by the rail
	Create(ctx context.Context, actor authz.Actor, in CreateTransferInput) (*transaction.Transaction, error)
	// Cancel cancels a transfer still inside its grace period.
	// Returns ErrTransactionNotFound, ErrAlreadyCanceled or ErrGracePeriodExpired
	Cancel(ctx context.Context, actor authz.Actor, id uuid.UUID) (*transaction.Transaction, error)
	// Cancelability reports whether a transfer can be canceled right now
	Cancelability(ctx context.Context, actor authz.Actor, id uuid.UUID) (*transaction.Cancelability, error)
	// Retry moves a failed transfer back to pending and resubmits it
	Retry(ctx context.Context, actor authz.Actor, id uuid.UUID) (*transaction.Transaction, error)
}

// TransactionService defines the interface for ledger queries
type TransactionService interface {
	// List returns one page of the caller's transactions with totals over the whole filter
	List(ctx context.Context, actor authz.Actor, f transaction.Filter, p transaction.Page) (*TransactionPage, error)
	// Get returns a transaction with its audit trail
	Get(ctx context.Context, actor authz.Actor, id uuid.UUID) (*TransactionDetail, error)
}

// AccountService defines the interface for CLABE account operations
type AccountService interface {
	// Create registers a CLABE for a company
	// Returns ErrDuplicateClabe if the CLABE is already registered
	Create(ctx context.Context, actor authz.Actor, in CreateAccountInput) (*account.ClabeAccount, error)
	// List returns the accounts of one company, or of every company for a global caller with no company
	List(ctx context.Context, actor authz.Actor, companyID *uuid.UUID) ([]*account.ClabeAccount, error)
	// Balance computes the local balance of one account from the ledger
	Balance(ctx context.Context, actor authz.Actor, id uuid.UUID) (*AccountBalance, error)
	// Deactivate soft-deletes an account
	Deactivate(ctx context.Context, actor authz.Actor, id uuid.UUID) error
}

// ReconciliationService defines the interface for reconciliation runs and their history
type ReconciliationService interface {
	// Run reconciles synchronously and returns the summary
	// Returns reconjob.ErrRunInProgress if another run is sweeping
	Run(ctx context.Context, actor authz.Actor, in ReconciliationInput) (*reconciliation.Summary, error)
	// Enqueue asks the transaction processor to run and returns the request id
	Enqueue(ctx context.Context, actor authz.Actor, in ReconciliationInput, correlationID string) (uuid.UUID, error)
	Reports(ctx context.Context, actor authz.Actor, limit, offset int64) ([]*reconciliation.Summary, error)
	Report(ctx context.Context, actor authz.Actor, runID uuid.UUID) (*reconciliation.Summary, error)
}

// WebhookGate applies processor notifications exactly once
type WebhookGate interface {
	Handle(ctx context.Context, body []byte) (*webhook.Result, error)
}

// TransferSubmitter signs and sends a pending transfer to the processor
type TransferSubmitter interface {
	Submit(ctx context.Context, t *transaction.Transaction) error
}

// ReconciliationRunner runs one reconciliation sweep
type ReconciliationRunner interface {
	Run(ctx context.Context, opts reconjob.Options) (*reconciliation.Summary, error)
}

// CreateTransferInput describes an outgoing transfer. TrackingKey and
// NumericalReference are generated when empty.
type CreateTransferInput struct {
	AccountID          uuid.UUID
	Amount             decimal.Decimal
	Concept            string
	TrackingKey        string
	NumericalReference int32
	Beneficiary        transaction.Party
}

// CreateAccountInput describes a CLABE account. CompanyID defaults to the caller's company.
type CreateAccountInput struct {
	CompanyID   *uuid.UUID
	Clabe       string
	BankCode    string
	Alias       string
	HolderName  string
	HolderTaxID string
}

// ReconciliationInput overrides the configured run defaults.
type ReconciliationInput struct {
	Account string
	Window  time.Duration
}

// TransactionPage is one page of a filtered listing.
type TransactionPage struct {
	Items []*transaction.Transaction
	Total int64
	Stats *transaction.Stats
}

// TransactionDetail is a transaction with its state log, oldest entry first.
type TransactionDetail struct {
	Transaction *transaction.Transaction
	StateLog    []*transaction.StateLogEntry
}

// AccountBalance is the ledger view of one CLABE account.
type AccountBalance struct {
	AccountID         uuid.UUID
	Clabe             string
	Net               decimal.Decimal
	Available         decimal.Decimal
	OutgoingInTransit decimal.Decimal
}
