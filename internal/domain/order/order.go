// Package order builds outgoing SPEI orders for the payment processor:
// field sanitization and validation, the canonical signing string, and
// RSA-SHA256 signatures.
package order

import (
	"github.com/shopspring/decimal"
	"github.com/spei-ledger/internal/domain/transaction"
)

// Field limits imposed by the rail.
const (
	MaxTrackingKeyLength  = 30
	MaxConceptLength      = 40
	MaxNameLength         = 40
	MaxTaxIDLength        = 18
	ClabeLength           = 18
	BankCodeLength        = 5
	MaxNumericalReference = 9999999
	AmountDecimalPlaces   = 2
)

// Order is an outgoing transfer instruction as submitted to the processor.
type Order struct {
	TrackingKey        string          `json:"trackingKey"`
	Concept            string          `json:"concept"`
	Amount             decimal.Decimal `json:"amount"`
	NumericalReference int32           `json:"numericalReference"`
	PayerAccount       string          `json:"payerAccount"`
	PayerBank          string          `json:"payerBank"`
	PayerName          string          `json:"payerName"`
	PayerUID           string          `json:"payerUid,omitempty"`
	BeneficiaryAccount string          `json:"beneficiaryAccount"`
	BeneficiaryBank    string          `json:"beneficiaryBank"`
	BeneficiaryName    string          `json:"beneficiaryName"`
	BeneficiaryUID     string          `json:"beneficiaryUid,omitempty"`
}

// SignedOrder is an Order with its canonical string signature.
type SignedOrder struct {
	Order
	Sign string `json:"sign"`
}

// FromTransaction builds the order for an outgoing ledger transaction.
func FromTransaction(t *transaction.Transaction) *Order {
	return &Order{
		TrackingKey:        t.TrackingKey,
		Concept:            t.Concept,
		Amount:             t.Amount,
		NumericalReference: t.NumericalReference,
		PayerAccount:       t.Payer.Account,
		PayerBank:          t.Payer.BankCode,
		PayerName:          t.Payer.Name,
		PayerUID:           t.Payer.TaxID,
		BeneficiaryAccount: t.Beneficiary.Account,
		BeneficiaryBank:    t.Beneficiary.BankCode,
		BeneficiaryName:    t.Beneficiary.Name,
		BeneficiaryUID:     t.Beneficiary.TaxID,
	}
}

// Sanitized returns a copy with free-text fields normalized to the rail's charset.
func (o Order) Sanitized() Order {
	o.Concept = Sanitize(o.Concept, MaxConceptLength)
	o.PayerName = Sanitize(o.PayerName, MaxNameLength)
	o.BeneficiaryName = Sanitize(o.BeneficiaryName, MaxNameLength)
	return o
}

// Prepare sanitizes, validates and signs an order. An invalid order is never signed.
func Prepare(o Order, signer *Signer) (*SignedOrder, error) {
	clean := o.Sanitized()
	if errs := Validate(clean); len(errs) > 0 {
		return nil, errs
	}

	signature, err := signer.Sign(CanonicalString(clean))
	if err != nil {
		return nil, err
	}

	return &SignedOrder{Order: clean, Sign: signature}, nil
}
