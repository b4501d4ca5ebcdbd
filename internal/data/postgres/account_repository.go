// Package postgres provides PostgreSQL implementations of the domain repositories.
// Every repository can be bound to a pgx.Tx so that a service operation spanning
// several tables commits or rolls back as one unit.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/spei-ledger/internal/domain/account"
	"github.com/spei-ledger/internal/platform/persistence"
)

const accountColumns = `id, company_id, clabe, bank_code, alias, holder_name, holder_tax_id, active, created_at, updated_at`

const (
	createAccountQuery = `
		INSERT INTO clabe_accounts (` + accountColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	getAccountByIDQuery = `
		SELECT ` + accountColumns + `
		FROM clabe_accounts
		WHERE id = $1`

	getAccountByClabeQuery = `
		SELECT ` + accountColumns + `
		FROM clabe_accounts
		WHERE clabe = $1 AND active`

	listAccountsQuery = `
		SELECT ` + accountColumns + `
		FROM clabe_accounts
		WHERE ($1::uuid IS NULL OR company_id = $1)
		ORDER BY created_at ASC`

	deactivateAccountQuery = `
		UPDATE clabe_accounts
		SET active = FALSE, updated_at = $1
		WHERE id = $2 AND active`
)

// AccountRepository implements the account.Repository interface for PostgreSQL
type AccountRepository struct {
	querier persistence.Querier // Can be *pgxpool.Pool or pgx.Tx
	logger  *slog.Logger
}

// NewAccountRepository creates a new PostgreSQL account repository.
func NewAccountRepository(logger *slog.Logger, db *persistence.PostgresDB) account.Repository {
	return &AccountRepository{
		querier: db.Pool(),
		logger:  logger,
	}
}

// WithTx returns a repository that runs every query on tx.
func (r *AccountRepository) WithTx(tx pgx.Tx) account.Repository {
	return &AccountRepository{
		querier: tx,
		logger:  r.logger,
	}
}

// Create stores a new CLABE account. A CLABE can only be registered once.
func (r *AccountRepository) Create(ctx context.Context, acc *account.ClabeAccount) error {
	_, err := r.querier.Exec(ctx, createAccountQuery,
		acc.ID,
		acc.CompanyID,
		acc.Clabe,
		acc.BankCode,
		acc.Alias,
		acc.HolderName,
		acc.HolderTaxID,
		acc.Active,
		acc.CreatedAt,
		acc.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err, "") {
			return account.ErrDuplicateClabe{Clabe: acc.Clabe}
		}
		r.logger.Error("Failed to create clabe account", "clabe", acc.Clabe, "error", err)
		return fmt.Errorf("failed to create clabe account: %w", err)
	}

	return nil
}

// GetByID retrieves an account by its ID, active or not.
func (r *AccountRepository) GetByID(ctx context.Context, id uuid.UUID) (*account.ClabeAccount, error) {
	acc, err := scanAccount(r.querier.QueryRow(ctx, getAccountByIDQuery, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, account.ErrAccountNotFound{AccountID: id}
		}
		r.logger.Error("Failed to get clabe account", "id", id.String(), "error", err)
		return nil, fmt.Errorf("failed to get clabe account: %w", err)
	}

	return acc, nil
}

// GetByClabe retrieves the active account registered for a CLABE.
func (r *AccountRepository) GetByClabe(ctx context.Context, clabe string) (*account.ClabeAccount, error) {
	acc, err := scanAccount(r.querier.QueryRow(ctx, getAccountByClabeQuery, clabe))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, account.ErrAccountNotFound{Clabe: clabe}
		}
		r.logger.Error("Failed to get clabe account by clabe", "clabe", clabe, "error", err)
		return nil, fmt.Errorf("failed to get clabe account by clabe: %w", err)
	}

	return acc, nil
}

// ListByCompany lists accounts, including inactive ones, oldest first.
func (r *AccountRepository) ListByCompany(ctx context.Context, companyID *uuid.UUID) ([]*account.ClabeAccount, error) {
	rows, err := r.querier.Query(ctx, listAccountsQuery, companyID)
	if err != nil {
		r.logger.Error("Failed to list clabe accounts", "error", err)
		return nil, fmt.Errorf("failed to list clabe accounts: %w", err)
	}
	defer rows.Close()

	accounts := make([]*account.ClabeAccount, 0)
	for rows.Next() {
		acc, err := scanAccount(rows)
		if err != nil {
			r.logger.Error("Failed to scan clabe account", "error", err)
			return nil, fmt.Errorf("failed to scan clabe account: %w", err)
		}
		accounts = append(accounts, acc)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating over clabe accounts: %w", err)
	}

	return accounts, nil
}

// Deactivate soft-deletes an active account.
func (r *AccountRepository) Deactivate(ctx context.Context, id uuid.UUID, at time.Time) error {
	result, err := r.querier.Exec(ctx, deactivateAccountQuery, at, id)
	if err != nil {
		r.logger.Error("Failed to deactivate clabe account", "id", id.String(), "error", err)
		return fmt.Errorf("failed to deactivate clabe account: %w", err)
	}

	if result.RowsAffected() == 0 {
		return account.ErrAccountNotFound{AccountID: id}
	}

	return nil
}

func scanAccount(row pgx.Row) (*account.ClabeAccount, error) {
	var acc account.ClabeAccount
	err := row.Scan(
		&acc.ID,
		&acc.CompanyID,
		&acc.Clabe,
		&acc.BankCode,
		&acc.Alias,
		&acc.HolderName,
		&acc.HolderTaxID,
		&acc.Active,
		&acc.CreatedAt,
		&acc.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &acc, nil
}
