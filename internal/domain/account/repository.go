package account

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// Repository defines CLABE account persistence operations
type Repository interface {
	Create(ctx context.Context, acc *ClabeAccount) error
	GetByID(ctx context.Context, id uuid.UUID) (*ClabeAccount, error)

	// GetByClabe returns the active account for a CLABE.
	GetByClabe(ctx context.Context, clabe string) (*ClabeAccount, error)

	// ListByCompany lists accounts of one company, or of every company when companyID is nil.
	ListByCompany(ctx context.Context, companyID *uuid.UUID) ([]*ClabeAccount, error)
	Deactivate(ctx context.Context, id uuid.UUID, at time.Time) error
	WithTx(tx pgx.Tx) Repository
}

// ErrAccountNotFound indicates missing account
type ErrAccountNotFound struct {
	AccountID uuid.UUID
	Clabe     string
}

func (e ErrAccountNotFound) Error() string {
	if e.Clabe != "" {
		return "clabe account not found: " + e.Clabe
	}
	return "clabe account not found: " + e.AccountID.String()
}

// Is matches any ErrAccountNotFound.
func (e ErrAccountNotFound) Is(target error) bool {
	_, ok := target.(ErrAccountNotFound)
	return ok
}

// ErrDuplicateClabe indicates CLABE uniqueness violation
type ErrDuplicateClabe struct {
	Clabe string
}

func (e ErrDuplicateClabe) Error() string {
	return "clabe account already exists: " + e.Clabe
}
