package opm

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/spei-ledger/internal/domain/transaction"
)

// Direction codes used by the order listing endpoint.
const (
	directionIncoming = "1"
	directionOutgoing = "0"
)

// envelope wraps every processor response.
type envelope[T any] struct {
	Code  int    `json:"code"`
	Error string `json:"error"`
	Data  T      `json:"data"`
}

// OrderAck is the processor's acknowledgement of a created order.
type OrderAck struct {
	ID          string `json:"id"`
	TrackingKey string `json:"trackingKey"`
}

// RemoteOrder is an order as reported by the processor's listing.
type RemoteOrder struct {
	ID                 string          `json:"id"`
	TrackingKey        string          `json:"trackingKey"`
	Concept            string          `json:"concept"`
	Amount             decimal.Decimal `json:"amount"`
	NumericalReference int32           `json:"numericalReference"`
	PayerAccount       string          `json:"payerAccount"`
	PayerBank          string          `json:"payerBank"`
	PayerName          string          `json:"payerName"`
	PayerUID           string          `json:"payerUid"`
	BeneficiaryAccount string          `json:"beneficiaryAccount"`
	BeneficiaryBank    string          `json:"beneficiaryBank"`
	BeneficiaryName    string          `json:"beneficiaryName"`
	BeneficiaryUID     string          `json:"beneficiaryUid"`
	Sent               bool            `json:"sent"`
	Scattered          bool            `json:"scattered"`
	Returned           bool            `json:"returned"`
	Canceled           bool            `json:"canceled"`
	ErrorDetail        string          `json:"errorDetail"`
	CepURL             string          `json:"cepUrl"`
	CreatedAt          time.Time       `json:"createdAt"`
}

// Flags returns the order's status flags.
func (o RemoteOrder) Flags() transaction.RemoteFlags {
	return transaction.RemoteFlags{
		Sent:      o.Sent,
		Scattered: o.Scattered,
		Returned:  o.Returned,
		Canceled:  o.Canceled,
	}
}

// Status resolves the flags into a ledger status for the listing direction.
func (o RemoteOrder) Status(direction transaction.Type) transaction.Status {
	return transaction.StatusFromFlagsFor(direction, o.Flags())
}

// Balance is an account balance as reported by the processor.
type Balance struct {
	Account   string          `json:"account"`
	Current   decimal.Decimal `json:"balance"`
	Available decimal.Decimal `json:"availableBalance"`
	InTransit decimal.Decimal `json:"inTransit"`
}

// ListOrdersQuery selects one page of orders in one direction.
type ListOrdersQuery struct {
	Type transaction.Type
	From time.Time
	To   time.Time
	Page int // 1-based
	Size int
}
