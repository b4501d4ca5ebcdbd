// Package account models companies' CLABE accounts, the multi-tenant
// ownership boundary of every ledger transaction.
package account

import (
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spei-ledger/internal/domain/order"
)

// Common errors
var (
	ErrInvalidClabe      = errors.New("clabe must be 18 digits with a valid check digit")
	ErrInvalidBankCode   = errors.New("bank code must be 5 digits matching the clabe institution")
	ErrEmptyHolderName   = errors.New("holder name cannot be empty")
	ErrAccountInactive   = errors.New("clabe account is inactive")
	ErrCompanyIDRequired = errors.New("company id is required")
)

// ClabeAccount is a CLABE owned by a company. Deletion is a soft deactivation.
type ClabeAccount struct {
	ID          uuid.UUID `json:"id"`
	CompanyID   uuid.UUID `json:"company_id"`
	Clabe       string    `json:"clabe"`
	BankCode    string    `json:"bank_code"`
	Alias       string    `json:"alias"`
	HolderName  string    `json:"holder_name"`
	HolderTaxID string    `json:"holder_tax_id,omitempty"`
	Active      bool      `json:"active"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// NewClabeAccount validates and builds an active account.
func NewClabeAccount(companyID uuid.UUID, clabe, bankCode, alias, holderName, holderTaxID string, now time.Time) (*ClabeAccount, error) {
	if companyID == uuid.Nil {
		return nil, ErrCompanyIDRequired
	}
	clabe = strings.TrimSpace(clabe)
	if !order.ValidateClabe(clabe) {
		return nil, ErrInvalidClabe
	}
	if len(bankCode) != order.BankCodeLength || bankCode[2:] != order.ClabeBankPrefix(clabe) {
		return nil, ErrInvalidBankCode
	}
	holderName = order.Sanitize(holderName, order.MaxNameLength)
	if holderName == "" {
		return nil, ErrEmptyHolderName
	}

	return &ClabeAccount{
		ID:          uuid.New(),
		CompanyID:   companyID,
		Clabe:       clabe,
		BankCode:    bankCode,
		Alias:       strings.TrimSpace(alias),
		HolderName:  holderName,
		HolderTaxID: strings.ToUpper(strings.TrimSpace(holderTaxID)),
		Active:      true,
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}
