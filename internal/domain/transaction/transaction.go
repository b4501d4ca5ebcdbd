// Package transaction models SPEI ledger entries, their status lifecycle and
// the audit trail of every status change.
package transaction

import (
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Party is one side of a transfer.
type Party struct {
	Account  string `json:"account"`   // 18-digit CLABE
	BankCode string `json:"bank_code"` // 5-digit participant code
	Name     string `json:"name"`
	TaxID    string `json:"tax_id,omitempty"`
}

// Transaction is a single incoming deposit or outgoing transfer.
type Transaction struct {
	ID                   uuid.UUID       `json:"id"`
	RemoteOrderID        *string         `json:"opm_order_id,omitempty"`
	Type                 Type            `json:"type"`
	Status               Status          `json:"status"`
	Amount               decimal.Decimal `json:"amount"`
	Concept              string          `json:"concept"`
	TrackingKey          string          `json:"tracking_key"`
	NumericalReference   int32           `json:"numerical_reference"`
	Beneficiary          Party           `json:"beneficiary"`
	Payer                Party           `json:"payer"`
	ClabeAccountID       *uuid.UUID      `json:"clabe_account_id,omitempty"`
	CompanyID            *uuid.UUID      `json:"company_id,omitempty"`
	CreatedBy            string          `json:"created_by,omitempty"`
	CreatedAt            time.Time       `json:"created_at"`
	UpdatedAt            time.Time       `json:"updated_at"`
	SettledAt            *time.Time      `json:"settled_at,omitempty"`
	ConfirmationDeadline *time.Time      `json:"confirmation_deadline,omitempty"`
	ErrorDetail          *string         `json:"error_detail,omitempty"`
	CepURL               *string         `json:"cep_url,omitempty"`
}

// Self returns the side of the transaction owned by the local CLABE account.
func (t *Transaction) Self() Party {
	if t.Type == TypeIncoming {
		return t.Beneficiary
	}
	return t.Payer
}

// Counterparty returns the side that is not Self.
func (t *Transaction) Counterparty() Party {
	if t.Type == TypeIncoming {
		return t.Payer
	}
	return t.Beneficiary
}

// CancelableAt reports whether the transaction may still be canceled locally at now.
func (t *Transaction) CancelableAt(now time.Time) bool {
	return t.Status == StatusPendingConfirmation &&
		t.ConfirmationDeadline != nil &&
		now.Before(*t.ConfirmationDeadline)
}

// Cancelability is the derived, time-dependent cancel state of a transaction.
type Cancelability struct {
	TransactionID    uuid.UUID  `json:"transaction_id"`
	CanCancel        bool       `json:"can_cancel"`
	SecondsRemaining int        `json:"seconds_remaining"`
	Deadline         *time.Time `json:"deadline,omitempty"`
	Status           Status     `json:"status"`
}

// CancelabilityAt evaluates Cancelability at now. It is never cached.
func (t *Transaction) CancelabilityAt(now time.Time) Cancelability {
	c := Cancelability{
		TransactionID: t.ID,
		Deadline:      t.ConfirmationDeadline,
		Status:        t.Status,
	}
	if !t.CancelableAt(now) {
		return c
	}
	c.CanCancel = true
	c.SecondsRemaining = int(math.Ceil(t.ConfirmationDeadline.Sub(now).Seconds()))
	return c
}

// StateLogEntry is an immutable audit record of one status change.
type StateLogEntry struct {
	ID             int64          `json:"id"`
	TransactionID  uuid.UUID      `json:"transaction_id"`
	PreviousStatus *Status        `json:"previous_status,omitempty"`
	NewStatus      Status         `json:"new_status"`
	Actor          string         `json:"actor"`
	Source         Source         `json:"source"`
	Metadata       map[string]any `json:"metadata,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
}

// NewStateLogEntry builds a log entry. A nil previous status marks creation.
func NewStateLogEntry(id uuid.UUID, previous *Status, next Status, actor string, source Source, metadata map[string]any, at time.Time) *StateLogEntry {
	return &StateLogEntry{
		TransactionID:  id,
		PreviousStatus: previous,
		NewStatus:      next,
		Actor:          actor,
		Source:         source,
		Metadata:       metadata,
		CreatedAt:      at,
	}
}

// StatusChangedEvent is published for every persisted status change.
type StatusChangedEvent struct {
	TransactionID  uuid.UUID       `json:"transaction_id"`
	TrackingKey    string          `json:"tracking_key"`
	Type           Type            `json:"type"`
	PreviousStatus *Status         `json:"previous_status,omitempty"`
	NewStatus      Status          `json:"new_status"`
	Amount         decimal.Decimal `json:"amount"`
	CompanyID      *uuid.UUID      `json:"company_id,omitempty"`
	Actor          string          `json:"actor"`
	Source         Source          `json:"source"`
	OccurredAt     time.Time       `json:"occurred_at"`
}
