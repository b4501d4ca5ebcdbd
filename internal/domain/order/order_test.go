package order

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/spei-ledger/internal/domain/transaction"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrepare_SanitizesValidatesAndSigns(t *testing.T) {
	key := newTestKey(t)
	o := validOrder()
	o.BeneficiaryName = "Proveedora Múñoz, S.A."

	signed, err := Prepare(o, NewSigner(key))
	require.NoError(t, err)

	assert.Equal(t, "Proveedora Munoz SA", signed.BeneficiaryName)
	assert.NoError(t, NewVerifier(&key.PublicKey).Verify(CanonicalString(signed.Order), signed.Sign))
}

func TestPrepare_NeverSignsInvalidOrder(t *testing.T) {
	o := validOrder()
	o.Amount = decimal.Zero

	signed, err := Prepare(o, nil)
	assert.Nil(t, signed)

	var verrs ValidationErrors
	require.ErrorAs(t, err, &verrs)
	assert.Equal(t, []string{"amount"}, verrs.Fields())
}

func TestPrepare_MissingKeyFailsLoudly(t *testing.T) {
	signed, err := Prepare(validOrder(), nil)
	assert.Nil(t, signed)
	assert.ErrorIs(t, err, ErrSigningKeyMissing)
}

func TestFromTransaction(t *testing.T) {
	deadline := time.Now().Add(20 * time.Second)
	txn := &transaction.Transaction{
		ID:                   uuid.New(),
		Type:                 transaction.TypeOutgoing,
		Amount:               decimal.RequireFromString("500.00"),
		Concept:              "Renta",
		TrackingKey:          "SL123",
		NumericalReference:   42,
		Payer:                transaction.Party{Account: "646180000000000012", BankCode: "90646", Name: "EMPRESA", TaxID: "EMP010101AAA"},
		Beneficiary:          transaction.Party{Account: "032180000118359719", BankCode: "40032", Name: "PROVEEDOR"},
		ConfirmationDeadline: &deadline,
	}

	o := FromTransaction(txn)
	assert.Equal(t, "SL123", o.TrackingKey)
	assert.Equal(t, int32(42), o.NumericalReference)
	assert.Equal(t, "646180000000000012", o.PayerAccount)
	assert.Equal(t, "EMP010101AAA", o.PayerUID)
	assert.Equal(t, "40032", o.BeneficiaryBank)
	assert.Empty(t, o.BeneficiaryUID)
}
