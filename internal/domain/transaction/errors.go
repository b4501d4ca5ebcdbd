package transaction

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

var (
	// ErrAlreadyCanceled is returned when canceling a transfer that is already canceled.
	ErrAlreadyCanceled = errors.New("transaction already canceled")
	// ErrGracePeriodExpired is returned when the cancellation window has closed.
	ErrGracePeriodExpired = errors.New("grace period expired")
	// ErrInvalidTransition is returned by the store when handed an unchecked transition.
	ErrInvalidTransition = errors.New("status update requires a checked transition")
)

// ErrTransactionNotFound indicates a missing transaction.
type ErrTransactionNotFound struct {
	ID  uuid.UUID
	Ref string // remote order id or tracking key for non-id lookups
}

func (e ErrTransactionNotFound) Error() string {
	if e.Ref != "" {
		return "transaction not found: " + e.Ref
	}
	return "transaction not found: " + e.ID.String()
}

// Is matches any ErrTransactionNotFound regardless of the id.
func (e ErrTransactionNotFound) Is(target error) bool {
	_, ok := target.(ErrTransactionNotFound)
	return ok
}

// ErrIllegalTransition indicates a status change outside the transition table.
type ErrIllegalTransition struct {
	From Status
	To   Status
}

func (e ErrIllegalTransition) Error() string {
	return fmt.Sprintf("illegal status transition %s -> %s", e.From, e.To)
}

// Is matches any ErrIllegalTransition.
func (e ErrIllegalTransition) Is(target error) bool {
	_, ok := target.(ErrIllegalTransition)
	return ok
}

// ErrConcurrentModification indicates the row's status changed under the caller.
type ErrConcurrentModification struct {
	ID       uuid.UUID
	Expected Status
}

func (e ErrConcurrentModification) Error() string {
	return fmt.Sprintf("concurrent modification of transaction %s: expected status %s", e.ID, e.Expected)
}

// Is matches any ErrConcurrentModification.
func (e ErrConcurrentModification) Is(target error) bool {
	_, ok := target.(ErrConcurrentModification)
	return ok
}

// ErrDuplicateTransaction indicates a tracking key or remote order id collision.
type ErrDuplicateTransaction struct {
	TrackingKey string
}

func (e ErrDuplicateTransaction) Error() string {
	return "transaction already exists: " + e.TrackingKey
}

// Is matches any ErrDuplicateTransaction.
func (e ErrDuplicateTransaction) Is(target error) bool {
	_, ok := target.(ErrDuplicateTransaction)
	return ok
}
