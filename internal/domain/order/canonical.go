package order

import (
	"strconv"
	"strings"
)

// CanonicalString is the signing input for an order. The field order is part
// of the processor contract and must not change.
func CanonicalString(o Order) string {
	fields := []string{
		o.TrackingKey,
		o.Concept,
		o.Amount.StringFixed(AmountDecimalPlaces),
		strconv.Itoa(int(o.NumericalReference)),
		o.PayerAccount,
		o.PayerBank,
		o.PayerName,
		o.PayerUID,
		o.BeneficiaryAccount,
		o.BeneficiaryBank,
		o.BeneficiaryName,
		o.BeneficiaryUID,
	}
	return "||" + strings.Join(fields, "|") + "||"
}
