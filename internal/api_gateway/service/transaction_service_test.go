package service

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/spei-ledger/internal/authz"
	"github.com/spei-ledger/internal/domain/transaction"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTransactionService(f *fixture) TransactionService {
	return NewTransactionService(slog.New(slog.NewJSONHandler(io.Discard, nil)), f.store.Transactions(), f.store.StateLog())
}

func TestTransactionService_List_ScopesToCompany(t *testing.T) {
	f := newFixture(t)
	svc := newTransactionService(f)
	ctx := context.Background()

	mine := f.create(t)
	f.clock.Advance(time.Second)
	f.create(t)

	orphan := &transaction.Transaction{
		ID:          uuid.New(),
		Type:        transaction.TypeIncoming,
		Status:      transaction.StatusPending,
		Amount:      decimal.RequireFromString("42.00"),
		Concept:     "DEPOSITO",
		TrackingKey: "ORPHAN0001",
		CreatedAt:   testNow,
		UpdatedAt:   testNow,
	}
	require.NoError(t, f.store.Transactions().Create(ctx, orphan))

	testCases := []struct {
		name      string
		actor     authz.Actor
		filter    transaction.Filter
		wantTotal int64
		wantErr   error
	}{
		{name: "OperatorSeesOwnCompany", actor: f.operator, wantTotal: 2},
		{name: "SuperAdminSeesEverything", actor: f.superAdmin, wantTotal: 3},
		{name: "OutsiderSeesNothingOfTheirs", actor: f.outsider, wantTotal: 0},
		{name: "OperatorAskingForOtherCompany", actor: f.operator, filter: transaction.Filter{CompanyID: f.outsider.CompanyID}, wantErr: authz.ErrForbidden},
		{name: "NoRole", actor: authz.Actor{UserID: "anon", CompanyID: &f.companyID}, wantErr: authz.ErrForbidden},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			page, err := svc.List(ctx, tc.actor, tc.filter, transaction.Page{Number: 1, Size: 10})
			if tc.wantErr != nil {
				assert.ErrorIs(t, err, tc.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.wantTotal, page.Total)
			assert.Len(t, page.Items, int(tc.wantTotal))
			assert.Equal(t, tc.wantTotal, page.Stats.Count)
		})
	}

	page, err := svc.List(ctx, f.operator, transaction.Filter{}, transaction.Page{Number: 2, Size: 1})
	require.NoError(t, err)
	assert.Equal(t, int64(2), page.Total)
	require.Len(t, page.Items, 1)
	assert.Equal(t, mine.ID, page.Items[0].ID)
	assert.True(t, page.Stats.InTransit.Equal(decimal.RequireFromString("1000.00")))
}

func TestTransactionService_Get(t *testing.T) {
	f := newFixture(t)
	svc := newTransactionService(f)
	ctx := context.Background()
	txn := f.create(t)
	_, err := f.transfers.Cancel(ctx, f.operator, txn.ID)
	require.NoError(t, err)

	detail, err := svc.Get(ctx, f.colleague, txn.ID)
	require.NoError(t, err)
	assert.Equal(t, transaction.StatusCanceled, detail.Transaction.Status)
	require.Len(t, detail.StateLog, 2)
	assert.Nil(t, detail.StateLog[0].PreviousStatus)
	assert.Equal(t, transaction.StatusCanceled, detail.StateLog[1].NewStatus)

	_, err = svc.Get(ctx, f.outsider, txn.ID)
	assert.ErrorIs(t, err, authz.ErrForbidden)

	_, err = svc.Get(ctx, f.operator, uuid.New())
	assert.ErrorIs(t, err, transaction.ErrTransactionNotFound{})
}
