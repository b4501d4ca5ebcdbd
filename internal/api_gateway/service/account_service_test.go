package service

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
	"github.com/spei-ledger/internal/authz"
	"github.com/spei-ledger/internal/domain/account"
	"github.com/spei-ledger/internal/domain/transaction"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newAccountService(f *fixture) AccountService {
	return NewAccountService(slog.New(slog.NewJSONHandler(io.Discard, nil)), f.store.Accounts(), f.store.Transactions(), f.clock)
}

func TestAccountService_Create(t *testing.T) {
	testCases := []struct {
		name    string
		actor   func(f *fixture) authz.Actor
		input   CreateAccountInput
		wantErr error
	}{
		{
			name:  "CompanyAdmin",
			actor: func(f *fixture) authz.Actor { return f.companyAdmin },
			input: CreateAccountInput{Clabe: "646180000000000025", BankCode: "90646", HolderName: "ACME Nómina"},
		},
		{
			name:    "DuplicateClabe",
			actor:   func(f *fixture) authz.Actor { return f.companyAdmin },
			input:   CreateAccountInput{Clabe: "646180000000000012", BankCode: "90646", HolderName: "ACME"},
			wantErr: account.ErrDuplicateClabe{Clabe: "646180000000000012"},
		},
		{
			name:    "BadCheckDigit",
			actor:   func(f *fixture) authz.Actor { return f.companyAdmin },
			input:   CreateAccountInput{Clabe: "646180000000000026", BankCode: "90646", HolderName: "ACME"},
			wantErr: account.ErrInvalidClabe,
		},
		{
			name:    "OperatorCannotManage",
			actor:   func(f *fixture) authz.Actor { return f.operator },
			input:   CreateAccountInput{Clabe: "646180000000000025", BankCode: "90646", HolderName: "ACME"},
			wantErr: authz.ErrForbidden,
		},
		{
			name:    "SuperAdminNeedsCompany",
			actor:   func(f *fixture) authz.Actor { return f.superAdmin },
			input:   CreateAccountInput{Clabe: "646180000000000025", BankCode: "90646", HolderName: "ACME"},
			wantErr: account.ErrCompanyIDRequired,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			svc := newAccountService(f)

			acc, err := svc.Create(context.Background(), tc.actor(f), tc.input)

			if tc.wantErr != nil {
				assert.ErrorIs(t, err, tc.wantErr)
				assert.Nil(t, acc)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, f.companyID, acc.CompanyID)
			assert.Equal(t, "ACME Nomina", acc.HolderName)
			assert.True(t, acc.Active)
		})
	}
}

func TestAccountService_List(t *testing.T) {
	f := newFixture(t)
	svc := newAccountService(f)
	ctx := context.Background()

	other, err := account.NewClabeAccount(*f.outsider.CompanyID, "646180000000000025", "90646", "", "OTRA SA", "", testNow)
	require.NoError(t, err)
	require.NoError(t, f.store.Accounts().Create(ctx, other))

	mine, err := svc.List(ctx, f.operator, nil)
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.Equal(t, f.account.ID, mine[0].ID)

	all, err := svc.List(ctx, f.superAdmin, nil)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	_, err = svc.List(ctx, f.operator, f.outsider.CompanyID)
	assert.ErrorIs(t, err, authz.ErrForbidden)
}

func TestAccountService_Balance(t *testing.T) {
	f := newFixture(t)
	svc := newAccountService(f)
	ctx := context.Background()

	settledAt := testNow
	incoming := &transaction.Transaction{
		ID:             uuid.New(),
		Type:           transaction.TypeIncoming,
		Status:         transaction.StatusScattered,
		Amount:         decimal.RequireFromString("1000.00"),
		Concept:        "DEPOSITO",
		TrackingKey:    "DEP0001",
		Beneficiary:    transaction.Party{Account: f.account.Clabe},
		ClabeAccountID: &f.account.ID,
		CompanyID:      &f.companyID,
		CreatedAt:      testNow,
		UpdatedAt:      testNow,
		SettledAt:      &settledAt,
	}
	require.NoError(t, f.store.ExecuteTx(ctx, func(tx pgx.Tx) error {
		return f.machine.Create(ctx, tx, incoming, transaction.ActorWebhook, transaction.SourceWebhook, nil)
	}))
	f.create(t)

	balance, err := svc.Balance(ctx, f.operator, f.account.ID)
	require.NoError(t, err)
	assert.True(t, balance.Net.Equal(decimal.RequireFromString("1000.00")), balance.Net.String())
	assert.True(t, balance.OutgoingInTransit.Equal(decimal.RequireFromString("500.00")))
	assert.True(t, balance.Available.Equal(decimal.RequireFromString("500.00")))

	_, err = svc.Balance(ctx, f.outsider, f.account.ID)
	assert.ErrorIs(t, err, authz.ErrForbidden)
}

func TestAccountService_Deactivate(t *testing.T) {
	f := newFixture(t)
	svc := newAccountService(f)
	ctx := context.Background()

	assert.ErrorIs(t, svc.Deactivate(ctx, f.operator, f.account.ID), authz.ErrForbidden)

	require.NoError(t, svc.Deactivate(ctx, f.companyAdmin, f.account.ID))

	stored, err := f.store.Accounts().GetByID(ctx, f.account.ID)
	require.NoError(t, err)
	assert.False(t, stored.Active)

	_, err = f.store.Accounts().GetByClabe(ctx, f.account.Clabe)
	assert.ErrorIs(t, err, account.ErrAccountNotFound{})

	_, err = f.transfers.Create(ctx, f.operator, f.input())
	assert.ErrorIs(t, err, account.ErrAccountInactive)
}
