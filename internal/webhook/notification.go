package webhook

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/shopspring/decimal"
	"github.com/spei-ledger/internal/domain/order"
	"github.com/spei-ledger/internal/domain/transaction"
	"github.com/spei-ledger/internal/domain/webhook"
)

// ErrMalformedPayload is returned for bodies that cannot be decoded.
var ErrMalformedPayload = errors.New("malformed webhook payload")

// Envelope is the outer shape of every processor notification.
type Envelope struct {
	Type webhook.Type    `json:"type"`
	Data json.RawMessage `json:"data"`
}

// DepositNotification reports incoming funds.
type DepositNotification struct {
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
	CepURL             string          `json:"cepUrl"`
	Sign               string          `json:"sign"`
}

// CanonicalString is the signed portion of a deposit notification. It covers
// every field the gate stores or resolves the status from.
func (n *DepositNotification) CanonicalString() string {
	return "||" + strings.Join([]string{
		n.ID,
		n.TrackingKey,
		n.Concept,
		n.Amount.StringFixed(order.AmountDecimalPlaces),
		strconv.Itoa(int(n.NumericalReference)),
		n.PayerAccount,
		n.PayerBank,
		n.PayerName,
		n.PayerUID,
		n.BeneficiaryAccount,
		n.BeneficiaryBank,
		n.BeneficiaryName,
		n.BeneficiaryUID,
		strconv.FormatBool(n.Sent),
		strconv.FormatBool(n.Scattered),
		strconv.FormatBool(n.Returned),
		strconv.FormatBool(n.Canceled),
		n.CepURL,
	}, "|") + "||"
}

// Status resolves the deposit's flags the same way reconciliation resolves
// an incoming order.
func (n *DepositNotification) Status() transaction.Status {
	flags := transaction.RemoteFlags{Sent: n.Sent, Scattered: n.Scattered, Returned: n.Returned, Canceled: n.Canceled}
	return transaction.StatusFromFlagsFor(transaction.TypeIncoming, flags)
}

// StatusNotification reports a terminal update of an outgoing order.
type StatusNotification struct {
	ID          string `json:"id"`
	TrackingKey string `json:"trackingKey"`
	Status      string `json:"status"`
	Detail      string `json:"detail"`
	CepURL      string `json:"cepUrl"`
	Sign        string `json:"sign"`
}

// CanonicalString is the signed portion of a status notification.
func (n *StatusNotification) CanonicalString() string {
	return "||" + strings.Join([]string{n.ID, n.TrackingKey, n.Status, n.Detail, n.CepURL}, "|") + "||"
}

// notification is the part of both shapes the gate needs.
type notification interface {
	CanonicalString() string
	key() string
	signature() string
	validate() error
}

func (n *DepositNotification) key() string       { return n.TrackingKey }
func (n *DepositNotification) signature() string { return n.Sign }
func (n *StatusNotification) key() string        { return n.TrackingKey }
func (n *StatusNotification) signature() string  { return n.Sign }

// maxRemoteIDLength matches the opm_order_id column.
const maxRemoteIDLength = 64

// fieldLimit is an identifier that is stored as received, so it is rejected
// rather than truncated when longer than its column.
type fieldLimit struct {
	name  string
	value string
	max   int
}

func checkLimits(limits ...fieldLimit) error {
	for _, l := range limits {
		if n := utf8.RuneCountInString(l.value); n > l.max {
			return fmt.Errorf("%s exceeds %d characters (got %d)", l.name, l.max, n)
		}
	}
	return nil
}

func (n *DepositNotification) validate() error {
	if !n.Amount.IsPositive() {
		return errors.New("amount must be greater than 0")
	}
	if n.BeneficiaryAccount == "" {
		return errors.New("beneficiaryAccount is required")
	}
	return checkLimits(
		fieldLimit{"id", n.ID, maxRemoteIDLength},
		fieldLimit{"trackingKey", n.TrackingKey, order.MaxTrackingKeyLength},
		fieldLimit{"payerAccount", n.PayerAccount, order.ClabeLength},
		fieldLimit{"payerBank", n.PayerBank, order.BankCodeLength},
		fieldLimit{"payerUid", n.PayerUID, order.MaxTaxIDLength},
		fieldLimit{"beneficiaryAccount", n.BeneficiaryAccount, order.ClabeLength},
		fieldLimit{"beneficiaryBank", n.BeneficiaryBank, order.BankCodeLength},
		fieldLimit{"beneficiaryUid", n.BeneficiaryUID, order.MaxTaxIDLength},
	)
}

func (n *StatusNotification) validate() error {
	if _, err := transaction.ParseStatus(n.Status); err != nil {
		return err
	}
	return checkLimits(
		fieldLimit{"id", n.ID, maxRemoteIDLength},
		fieldLimit{"trackingKey", n.TrackingKey, order.MaxTrackingKeyLength},
	)
}

// decode parses the envelope and its typed payload. It returns the
// compacted data, which is what gets hashed.
func decode(body []byte) (webhook.Type, notification, []byte, error) {
	var env Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return "", nil, nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if !env.Type.Valid() {
		return "", nil, nil, fmt.Errorf("%w: unknown type %q", ErrMalformedPayload, env.Type)
	}

	var compact bytes.Buffer
	if err := json.Compact(&compact, env.Data); err != nil {
		return "", nil, nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}

	var n notification
	switch env.Type {
	case webhook.TypeDepositReceived:
		n = &DepositNotification{}
	case webhook.TypeOrderStatusChanged:
		n = &StatusNotification{}
	}
	if err := json.Unmarshal(env.Data, n); err != nil {
		return "", nil, nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if strings.TrimSpace(n.key()) == "" {
		return "", nil, nil, fmt.Errorf("%w: trackingKey is required", ErrMalformedPayload)
	}
	if err := n.validate(); err != nil {
		return "", nil, nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	return env.Type, n, compact.Bytes(), nil
}
