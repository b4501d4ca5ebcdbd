package handler

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/spei-ledger/internal/api_gateway/service"
	"github.com/spei-ledger/internal/domain/account"
	"github.com/spei-ledger/internal/domain/transaction"
)

// PartyRequest is the beneficiary of a transfer
type PartyRequest struct {
	Account  string `json:"account" binding:"required,len=18,numeric"`
	BankCode string `json:"bank_code" binding:"required,len=5,numeric"`
	Name     string `json:"name" binding:"required"`
	TaxID    string `json:"tax_id,omitempty"`
}

// CreateTransferRequest represents a request to create an outgoing transfer
type CreateTransferRequest struct {
	AccountID          string          `json:"account_id" binding:"required,uuid"`
	Amount             decimal.Decimal `json:"amount"`
	Concept            string          `json:"concept" binding:"required"`
	TrackingKey        string          `json:"tracking_key,omitempty"`
	NumericalReference int32           `json:"numerical_reference,omitempty" binding:"min=0"`
	Beneficiary        PartyRequest    `json:"beneficiary" binding:"required"`
}

// CreateAccountRequest represents a request to register a CLABE account
type CreateAccountRequest struct {
	CompanyID   string `json:"company_id,omitempty" binding:"omitempty,uuid"`
	Clabe       string `json:"clabe" binding:"required,len=18,numeric"`
	BankCode    string `json:"bank_code" binding:"required,len=5,numeric"`
	Alias       string `json:"alias,omitempty"`
	HolderName  string `json:"holder_name" binding:"required"`
	HolderTaxID string `json:"holder_tax_id,omitempty"`
}

// ReconciliationRequest represents optional overrides for a reconciliation run
type ReconciliationRequest struct {
	Account string `json:"account,omitempty" binding:"omitempty,len=18,numeric"`
	Window  string `json:"window,omitempty"` // Go duration, e.g. "24h"
}

// ListTransactionsQuery represents the filters of the transaction listing
type ListTransactionsQuery struct {
	Type      string `form:"type" binding:"omitempty,oneof=incoming outgoing"`
	Status    string `form:"status"` // comma separated
	AccountID string `form:"account_id" binding:"omitempty,uuid"`
	CompanyID string `form:"company_id" binding:"omitempty,uuid"`
	From      string `form:"from"` // RFC3339
	To        string `form:"to"`   // RFC3339
	MinAmount string `form:"min_amount"`
	MaxAmount string `form:"max_amount"`
	Search    string `form:"search"`
	Page      int    `form:"page,default=1" binding:"min=1"`
	PageSize  int    `form:"page_size,default=20" binding:"min=1,max=100"`
}

// ReportsQuery represents pagination of the reconciliation history
type ReportsQuery struct {
	Limit  int64 `form:"limit,default=20" binding:"min=1,max=100"`
	Offset int64 `form:"offset,default=0" binding:"min=0"`
}

// PartyResponse is one side of a transaction in API responses
type PartyResponse struct {
	Account  string `json:"account"`
	BankCode string `json:"bank_code"`
	Name     string `json:"name"`
	TaxID    string `json:"tax_id,omitempty"`
}

// TransactionResponse represents a transaction in API responses
type TransactionResponse struct {
	ID                   string        `json:"id"`
	OPMOrderID           string        `json:"opm_order_id,omitempty"`
	Type                 string        `json:"type"`
	Status               string        `json:"status"`
	Amount               string        `json:"amount"`
	Concept              string        `json:"concept"`
	TrackingKey          string        `json:"tracking_key"`
	NumericalReference   int32         `json:"numerical_reference"`
	Payer                PartyResponse `json:"payer"`
	Beneficiary          PartyResponse `json:"beneficiary"`
	ClabeAccountID       string        `json:"clabe_account_id,omitempty"`
	CompanyID            string        `json:"company_id,omitempty"`
	CreatedBy            string        `json:"created_by,omitempty"`
	CreatedAt            string        `json:"created_at"`
	UpdatedAt            string        `json:"updated_at"`
	SettledAt            string        `json:"settled_at,omitempty"`
	ConfirmationDeadline string        `json:"confirmation_deadline,omitempty"`
	ErrorDetail          string        `json:"error_detail,omitempty"`
	CepURL               string        `json:"cep_url,omitempty"`
}

// StateLogResponse represents one status change in API responses
type StateLogResponse struct {
	PreviousStatus string         `json:"previous_status,omitempty"`
	NewStatus      string         `json:"new_status"`
	Actor          string         `json:"actor"`
	Source         string         `json:"source"`
	Metadata       map[string]any `json:"metadata,omitempty"`
	CreatedAt      string         `json:"created_at"`
}

// TransactionDetailResponse is a transaction with its audit trail
type TransactionDetailResponse struct {
	TransactionResponse
	StateLog []StateLogResponse `json:"state_log"`
}

// TransactionListResponse is one page of transactions with totals over the whole filter
type TransactionListResponse struct {
	Transactions []TransactionResponse `json:"transactions"`
	Stats        StatsResponse         `json:"stats"`
}

// StatsResponse represents aggregated amounts in API responses
type StatsResponse struct {
	TotalIncoming string `json:"total_incoming"`
	TotalOutgoing string `json:"total_outgoing"`
	InTransit     string `json:"in_transit"`
	Count         int64  `json:"count"`
}

// CancelabilityResponse represents whether a transfer can still be canceled
type CancelabilityResponse struct {
	TransactionID    string `json:"transaction_id"`
	CanCancel        bool   `json:"can_cancel"`
	SecondsRemaining int    `json:"seconds_remaining"`
	Deadline         string `json:"deadline,omitempty"`
	Status           string `json:"status"`
}

// AccountResponse represents a CLABE account in API responses
type AccountResponse struct {
	ID          string `json:"id"`
	CompanyID   string `json:"company_id"`
	Clabe       string `json:"clabe"`
	BankCode    string `json:"bank_code"`
	Alias       string `json:"alias,omitempty"`
	HolderName  string `json:"holder_name"`
	HolderTaxID string `json:"holder_tax_id,omitempty"`
	Active      bool   `json:"active"`
	CreatedAt   string `json:"created_at"`
	UpdatedAt   string `json:"updated_at"`
}

// BalanceResponse represents the ledger balance of an account
type BalanceResponse struct {
	AccountID         string `json:"account_id"`
	Clabe             string `json:"clabe"`
	Net               string `json:"net"`
	Available         string `json:"available"`
	OutgoingInTransit string `json:"outgoing_in_transit"`
}

// WebhookResponse acknowledges a processor notification
type WebhookResponse struct {
	Type            string `json:"type"`
	TrackingKey     string `json:"tracking_key"`
	Outcome         string `json:"outcome"`
	TransactionID   string `json:"transaction_id,omitempty"`
	Detail          string `json:"detail,omitempty"`
	PayloadMismatch bool   `json:"payload_mismatch,omitempty"`
}

func (r CreateTransferRequest) toInput() service.CreateTransferInput {
	return service.CreateTransferInput{
		AccountID:          uuid.MustParse(r.AccountID),
		Amount:             r.Amount,
		Concept:            r.Concept,
		TrackingKey:        strings.TrimSpace(r.TrackingKey),
		NumericalReference: r.NumericalReference,
		Beneficiary: transaction.Party{
			Account:  r.Beneficiary.Account,
			BankCode: r.Beneficiary.BankCode,
			Name:     r.Beneficiary.Name,
			TaxID:    strings.ToUpper(strings.TrimSpace(r.Beneficiary.TaxID)),
		},
	}
}

// toFilter converts the query string into a ledger filter. Binding has
// already checked the uuid and enum fields.
func (q ListTransactionsQuery) toFilter() (transaction.Filter, error) {
	f := transaction.Filter{Search: strings.TrimSpace(q.Search)}

	if q.Type != "" {
		typ := transaction.Type(q.Type)
		f.Type = &typ
	}
	if q.Status != "" {
		for _, raw := range strings.Split(q.Status, ",") {
			status, err := transaction.ParseStatus(strings.TrimSpace(raw))
			if err != nil {
				return f, err
			}
			f.Statuses = append(f.Statuses, status)
		}
	}
	if q.AccountID != "" {
		id := uuid.MustParse(q.AccountID)
		f.ClabeAccountID = &id
	}
	if q.CompanyID != "" {
		id := uuid.MustParse(q.CompanyID)
		f.CompanyID = &id
	}

	var err error
	if f.From, err = parseTime("from", q.From); err != nil {
		return f, err
	}
	if f.To, err = parseTime("to", q.To); err != nil {
		return f, err
	}
	if f.MinAmount, err = parseAmount("min_amount", q.MinAmount); err != nil {
		return f, err
	}
	if f.MaxAmount, err = parseAmount("max_amount", q.MaxAmount); err != nil {
		return f, err
	}
	return f, nil
}

func parseTime(name, raw string) (*time.Time, error) {
	if raw == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil, fmt.Errorf("%s must be an RFC3339 timestamp", name)
	}
	return &t, nil
}

func parseAmount(name, raw string) (*decimal.Decimal, error) {
	if raw == "" {
		return nil, nil
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return nil, fmt.Errorf("%s must be a decimal amount", name)
	}
	return &d, nil
}

func formatTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func mapParty(p transaction.Party) PartyResponse {
	return PartyResponse{Account: p.Account, BankCode: p.BankCode, Name: p.Name, TaxID: p.TaxID}
}

// mapTransactionToResponse maps a ledger transaction to a response DTO
func mapTransactionToResponse(t *transaction.Transaction) TransactionResponse {
	response := TransactionResponse{
		ID:                   t.ID.String(),
		OPMOrderID:           deref(t.RemoteOrderID),
		Type:                 string(t.Type),
		Status:               string(t.Status),
		Amount:               t.Amount.StringFixed(2),
		Concept:              t.Concept,
		TrackingKey:          t.TrackingKey,
		NumericalReference:   t.NumericalReference,
		Payer:                mapParty(t.Payer),
		Beneficiary:          mapParty(t.Beneficiary),
		CreatedBy:            t.CreatedBy,
		CreatedAt:            formatTime(&t.CreatedAt),
		UpdatedAt:            formatTime(&t.UpdatedAt),
		SettledAt:            formatTime(t.SettledAt),
		ConfirmationDeadline: formatTime(t.ConfirmationDeadline),
		ErrorDetail:          deref(t.ErrorDetail),
		CepURL:               deref(t.CepURL),
	}
	if t.ClabeAccountID != nil {
		response.ClabeAccountID = t.ClabeAccountID.String()
	}
	if t.CompanyID != nil {
		response.CompanyID = t.CompanyID.String()
	}
	return response
}

func mapStateLogEntry(e *transaction.StateLogEntry) StateLogResponse {
	response := StateLogResponse{
		NewStatus: string(e.NewStatus),
		Actor:     e.Actor,
		Source:    string(e.Source),
		Metadata:  e.Metadata,
		CreatedAt: formatTime(&e.CreatedAt),
	}
	if e.PreviousStatus != nil {
		response.PreviousStatus = string(*e.PreviousStatus)
	}
	return response
}

func mapStats(s *transaction.Stats) StatsResponse {
	return StatsResponse{
		TotalIncoming: s.TotalIncoming.StringFixed(2),
		TotalOutgoing: s.TotalOutgoing.StringFixed(2),
		InTransit:     s.InTransit.StringFixed(2),
		Count:         s.Count,
	}
}

func mapCancelability(c *transaction.Cancelability) CancelabilityResponse {
	return CancelabilityResponse{
		TransactionID:    c.TransactionID.String(),
		CanCancel:        c.CanCancel,
		SecondsRemaining: c.SecondsRemaining,
		Deadline:         formatTime(c.Deadline),
		Status:           string(c.Status),
	}
}

// mapAccountToResponse maps a CLABE account to a response DTO
func mapAccountToResponse(acc *account.ClabeAccount) AccountResponse {
	return AccountResponse{
		ID:          acc.ID.String(),
		CompanyID:   acc.CompanyID.String(),
		Clabe:       acc.Clabe,
		BankCode:    acc.BankCode,
		Alias:       acc.Alias,
		HolderName:  acc.HolderName,
		HolderTaxID: acc.HolderTaxID,
		Active:      acc.Active,
		CreatedAt:   formatTime(&acc.CreatedAt),
		UpdatedAt:   formatTime(&acc.UpdatedAt),
	}
}

func mapBalance(b *service.AccountBalance) BalanceResponse {
	return BalanceResponse{
		AccountID:         b.AccountID.String(),
		Clabe:             b.Clabe,
		Net:               b.Net.StringFixed(2),
		Available:         b.Available.StringFixed(2),
		OutgoingInTransit: b.OutgoingInTransit.StringFixed(2),
	}
}
