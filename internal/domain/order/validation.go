package order

import (
	"fmt"
	"strconv"
	"strings"
)

// ValidationError describes one rejected field.
type ValidationError struct {
	Field        string `json:"field"`
	Message      string `json:"message"`
	MaxLength    int    `json:"maxLength,omitempty"`
	ActualLength int    `json:"actualLength,omitempty"`
}

// ValidationErrors is every violation found in an order.
type ValidationErrors []ValidationError

func (v ValidationErrors) Error() string {
	parts := make([]string, 0, len(v))
	for _, e := range v {
		parts = append(parts, e.Field+": "+e.Message)
	}
	return "invalid order: " + strings.Join(parts, "; ")
}

// Fields returns the names of the rejected fields in report order.
func (v ValidationErrors) Fields() []string {
	fields := make([]string, 0, len(v))
	for _, e := range v {
		fields = append(fields, e.Field)
	}
	return fields
}

type validator struct {
	errs ValidationErrors
}

func (v *validator) add(field, message string) {
	v.errs = append(v.errs, ValidationError{Field: field, Message: message})
}

func (v *validator) text(field, value string, max int, required bool) {
	switch {
	case value == "" && required:
		v.add(field, "is required")
	case len(value) > max:
		v.errs = append(v.errs, ValidationError{
			Field:        field,
			Message:      fmt.Sprintf("must be at most %d characters", max),
			MaxLength:    max,
			ActualLength: len(value),
		})
	}
}

func (v *validator) alphanumeric(field, value string) {
	for _, r := range value {
		if !isAlnum(r) {
			v.add(field, "must contain only letters and digits")
			return
		}
	}
}

func (v *validator) charset(field, value string) {
	for _, r := range value {
		if !isAlnum(r) && r != ' ' {
			v.add(field, "must contain only letters, digits and spaces")
			return
		}
	}
}

func (v *validator) clabe(field, value string) {
	switch {
	case len(value) != ClabeLength || !isDigits(value):
		v.errs = append(v.errs, ValidationError{
			Field:        field,
			Message:      fmt.Sprintf("must be %d digits", ClabeLength),
			MaxLength:    ClabeLength,
			ActualLength: len(value),
		})
	case !ValidateClabe(value):
		v.add(field, "has an invalid check digit")
	}
}

func (v *validator) bank(field, value, clabe string) {
	if len(value) != BankCodeLength || !isDigits(value) {
		v.errs = append(v.errs, ValidationError{
			Field:        field,
			Message:      fmt.Sprintf("must be %d digits", BankCodeLength),
			MaxLength:    BankCodeLength,
			ActualLength: len(value),
		})
		return
	}
	if ValidateClabe(clabe) && value[2:] != ClabeBankPrefix(clabe) {
		v.add(field, "does not match the account's institution")
	}
}

// Validate checks every field of o and returns all violations found.
func Validate(o Order) ValidationErrors {
	v := &validator{}

	v.text("trackingKey", o.TrackingKey, MaxTrackingKeyLength, true)
	v.alphanumeric("trackingKey", o.TrackingKey)

	v.text("concept", o.Concept, MaxConceptLength, true)
	v.charset("concept", o.Concept)

	if o.NumericalReference < 1 || o.NumericalReference > MaxNumericalReference {
		v.errs = append(v.errs, ValidationError{
			Field:        "numericalReference",
			Message:      fmt.Sprintf("must be between 1 and %d", MaxNumericalReference),
			MaxLength:    len(strconv.Itoa(MaxNumericalReference)),
			ActualLength: len(strconv.Itoa(int(o.NumericalReference))),
		})
	}

	switch {
	case !o.Amount.IsPositive():
		v.add("amount", "must be greater than 0")
	case !o.Amount.Equal(o.Amount.Truncate(AmountDecimalPlaces)):
		v.add("amount", fmt.Sprintf("must have at most %d decimal places", AmountDecimalPlaces))
	}

	v.clabe("payerAccount", o.PayerAccount)
	v.bank("payerBank", o.PayerBank, o.PayerAccount)
	v.text("payerName", o.PayerName, MaxNameLength, true)
	v.charset("payerName", o.PayerName)
	v.text("payerUid", o.PayerUID, MaxTaxIDLength, false)
	v.alphanumeric("payerUid", o.PayerUID)

	v.clabe("beneficiaryAccount", o.BeneficiaryAccount)
	v.bank("beneficiaryBank", o.BeneficiaryBank, o.BeneficiaryAccount)
	v.text("beneficiaryName", o.BeneficiaryName, MaxNameLength, true)
	v.charset("beneficiaryName", o.BeneficiaryName)
	v.text("beneficiaryUid", o.BeneficiaryUID, MaxTaxIDLength, false)
	v.alphanumeric("beneficiaryUid", o.BeneficiaryUID)

	return v.errs
}

func isAlnum(r rune) bool {
	return (r >= 'A' && r <= 'Z') || (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9')
}
