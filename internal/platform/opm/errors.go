package opm

import (
	"errors"
	"fmt"
)

// ErrUpstreamUnavailable covers transport failures, timeouts, 5xx responses
// and unreadable bodies: the request may succeed if tried later.
var ErrUpstreamUnavailable = errors.New("payment processor unavailable")

// APIError is a rejection reported by the processor. Retrying the same
// request will not help.
type APIError struct {
	StatusCode int
	Code       int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("payment processor rejected request (http %d, code %d): %s", e.StatusCode, e.Code, e.Message)
}

// IsRejection reports whether err is an APIError.
func IsRejection(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr)
}
