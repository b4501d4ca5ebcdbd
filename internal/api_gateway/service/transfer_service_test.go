package service

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/spei-ledger/internal/authz"
	"github.com/spei-ledger/internal/config"
	"github.com/spei-ledger/internal/domain/account"
	"github.com/spei-ledger/internal/domain/order"
	"github.com/spei-ledger/internal/domain/transaction"
	"github.com/spei-ledger/internal/platform/clock"
	"github.com/spei-ledger/internal/statemachine"
	"github.com/spei-ledger/internal/testutil/memstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2026, 4, 3, 10, 0, 0, 0, time.UTC)

type MockSubmitter struct {
	mock.Mock
}

func (m *MockSubmitter) Submit(ctx context.Context, t *transaction.Transaction) error {
	args := m.Called(ctx, t)
	return args.Error(0)
}

type fixture struct {
	store     *memstore.Store
	clock     *clock.FakeClock
	machine   *statemachine.Machine
	submitter *MockSubmitter
	transfers TransferService
	account   *account.ClabeAccount
	companyID uuid.UUID

	operator     authz.Actor
	colleague    authz.Actor
	companyAdmin authz.Actor
	outsider     authz.Actor
	superAdmin   authz.Actor
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	store := memstore.New()
	clk := clock.Fake(testNow)
	machine := statemachine.NewMachine(logger, store, store.Transactions(), store.StateLog(), store.Outbox(), clk)
	submitter := new(MockSubmitter)

	companyID := uuid.New()
	otherCompany := uuid.New()
	acc, err := account.NewClabeAccount(companyID, "646180000000000012", "90646", "operativa", "ACME SA DE CV", "ACM010101AB1", testNow)
	require.NoError(t, err)
	require.NoError(t, store.Accounts().Create(context.Background(), acc))

	transfers := NewTransferService(logger,
		&config.TransferConfig{GracePeriod: 20 * time.Second, TrackingKeyPrefix: "SL"},
		store, store.Transactions(), store.Accounts(), machine, submitter, clk)

	return &fixture{
		store:        store,
		clock:        clk,
		machine:      machine,
		submitter:    submitter,
		transfers:    transfers,
		account:      acc,
		companyID:    companyID,
		operator:     authz.Actor{UserID: "user-1", Role: authz.RoleOperator, CompanyID: &companyID},
		colleague:    authz.Actor{UserID: "user-2", Role: authz.RoleOperator, CompanyID: &companyID},
		companyAdmin: authz.Actor{UserID: "admin-1", Role: authz.RoleCompanyAdmin, CompanyID: &companyID},
		outsider:     authz.Actor{UserID: "user-9", Role: authz.RoleOperator, CompanyID: &otherCompany},
		superAdmin:   authz.Actor{UserID: "root", Role: authz.RoleSuperAdmin},
	}
}

func (f *fixture) input() CreateTransferInput {
	return CreateTransferInput{
		AccountID: f.account.ID,
		Amount:    decimal.RequireFromString("500.00"),
		Concept:   "Pago factura 100",
		Beneficiary: transaction.Party{
			Account:  "012180000000000028",
			BankCode: "40012",
			Name:     "Proveedor Ñandú SA",
		},
	}
}

func (f *fixture) create(t *testing.T) *transaction.Transaction {
	t.Helper()
	txn, err := f.transfers.Create(context.Background(), f.operator, f.input())
	require.NoError(t, err)
	return txn
}

func TestTransferService_Create(t *testing.T) {
	f := newFixture(t)

	txn := f.create(t)

	assert.Equal(t, transaction.TypeOutgoing, txn.Type)
	assert.Equal(t, transaction.StatusPendingConfirmation, txn.Status)
	assert.True(t, strings.HasPrefix(txn.TrackingKey, "SL"))
	assert.Len(t, txn.TrackingKey, order.MaxTrackingKeyLength-8)
	assert.NotZero(t, txn.NumericalReference)
	assert.Equal(t, "Proveedor Nandu SA", txn.Beneficiary.Name)
	assert.Equal(t, "646180000000000012", txn.Payer.Account)
	assert.Equal(t, f.account.ID, *txn.ClabeAccountID)
	assert.Equal(t, f.companyID, *txn.CompanyID)
	assert.Equal(t, "user-1", txn.CreatedBy)
	require.NotNil(t, txn.ConfirmationDeadline)
	assert.Equal(t, testNow.Add(20*time.Second), *txn.ConfirmationDeadline)

	entries := f.store.StateLogEntries(txn.ID)
	require.Len(t, entries, 1)
	assert.Nil(t, entries[0].PreviousStatus)
	assert.Equal(t, "user-1", entries[0].Actor)
	assert.Equal(t, transaction.SourceAPI, entries[0].Source)
	assert.Len(t, f.store.OutboxMessages(), 1)
}

func TestTransferService_Create_Rejections(t *testing.T) {
	testCases := []struct {
		name       string
		mutate     func(f *fixture, in *CreateTransferInput)
		actor      func(f *fixture) authz.Actor
		wantErr    error
		wantFields []string
	}{
		{
			name:       "BadBeneficiaryCheckDigit",
			mutate:     func(_ *fixture, in *CreateTransferInput) { in.Beneficiary.Account = "012180000000000029" },
			wantFields: []string{"beneficiaryAccount"},
		},
		{
			name: "EmptyConceptAndTooPrecise",
			mutate: func(_ *fixture, in *CreateTransferInput) {
				in.Concept = "***"
				in.Amount = decimal.RequireFromString("10.005")
			},
			wantFields: []string{"concept", "amount"},
		},
		{
			name:    "UnknownAccount",
			mutate:  func(_ *fixture, in *CreateTransferInput) { in.AccountID = uuid.New() },
			wantErr: account.ErrAccountNotFound{},
		},
		{
			name: "InactiveAccount",
			mutate: func(f *fixture, _ *CreateTransferInput) {
				require.NoError(t, f.store.Accounts().Deactivate(context.Background(), f.account.ID, testNow))
			},
			wantErr: account.ErrAccountInactive,
		},
		{
			name:    "OtherCompany",
			actor:   func(f *fixture) authz.Actor { return f.outsider },
			wantErr: authz.ErrForbidden,
		},
		{
			name: "DuplicateTrackingKey",
			mutate: func(f *fixture, in *CreateTransferInput) {
				in.TrackingKey = "SLFIXED0001"
				first := f.input()
				first.TrackingKey = "SLFIXED0001"
				_, err := f.transfers.Create(context.Background(), f.operator, first)
				require.NoError(t, err)
			},
			wantErr: transaction.ErrDuplicateTransaction{},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			in := f.input()
			if tc.mutate != nil {
				tc.mutate(f, &in)
			}
			actor := f.operator
			if tc.actor != nil {
				actor = tc.actor(f)
			}
			before := f.store.TransactionCount()

			txn, err := f.transfers.Create(context.Background(), actor, in)

			require.Error(t, err)
			assert.Nil(t, txn)
			if tc.wantErr != nil {
				assert.ErrorIs(t, err, tc.wantErr)
			}
			if tc.wantFields != nil {
				var verrs order.ValidationErrors
				require.ErrorAs(t, err, &verrs)
				for _, field := range tc.wantFields {
					assert.Contains(t, verrs.Fields(), field)
				}
			}
			assert.Equal(t, before, f.store.TransactionCount())
		})
	}
}

func TestTransferService_CancelWithinGracePeriod(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	txn := f.create(t)

	c, err := f.transfers.Cancelability(ctx, f.operator, txn.ID)
	require.NoError(t, err)
	assert.True(t, c.CanCancel)
	assert.Equal(t, 20, c.SecondsRemaining)

	f.clock.Advance(500 * time.Millisecond)
	c, err = f.transfers.Cancelability(ctx, f.operator, txn.ID)
	require.NoError(t, err)
	assert.Equal(t, 20, c.SecondsRemaining)

	canceled, err := f.transfers.Cancel(ctx, f.operator, txn.ID)
	require.NoError(t, err)
	assert.Equal(t, transaction.StatusCanceled, canceled.Status)

	_, err = f.transfers.Cancel(ctx, f.operator, txn.ID)
	assert.ErrorIs(t, err, transaction.ErrAlreadyCanceled)

	c, err = f.transfers.Cancelability(ctx, f.operator, txn.ID)
	require.NoError(t, err)
	assert.False(t, c.CanCancel)
	assert.Zero(t, c.SecondsRemaining)

	entries := f.store.StateLogEntries(txn.ID)
	require.Len(t, entries, 2)
	assert.Equal(t, transaction.StatusCanceled, entries[1].NewStatus)
	assert.Equal(t, transaction.SourceAPI, entries[1].Source)
}

func TestTransferService_Cancel_DeadlineBoundary(t *testing.T) {
	testCases := []struct {
		name    string
		elapsed time.Duration
		wantErr error
	}{
		{name: "OneMillisecondBefore", elapsed: 20*time.Second - time.Millisecond},
		{name: "AtDeadline", elapsed: 20 * time.Second, wantErr: transaction.ErrGracePeriodExpired},
		{name: "OneMillisecondAfter", elapsed: 20*time.Second + time.Millisecond, wantErr: transaction.ErrGracePeriodExpired},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			txn := f.create(t)
			f.clock.Advance(tc.elapsed)

			res, err := f.transfers.Cancel(context.Background(), f.operator, txn.ID)

			if tc.wantErr != nil {
				assert.ErrorIs(t, err, tc.wantErr)
				stored, getErr := f.store.Transactions().GetByID(context.Background(), txn.ID)
				require.NoError(t, getErr)
				assert.Equal(t, transaction.StatusPendingConfirmation, stored.Status)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, transaction.StatusCanceled, res.Status)
		})
	}
}

func TestTransferService_Cancel_Authorization(t *testing.T) {
	testCases := []struct {
		name    string
		actor   func(f *fixture) authz.Actor
		allowed bool
	}{
		{name: "Creator", actor: func(f *fixture) authz.Actor { return f.operator }, allowed: true},
		{name: "CompanyAdmin", actor: func(f *fixture) authz.Actor { return f.companyAdmin }, allowed: true},
		{name: "SuperAdmin", actor: func(f *fixture) authz.Actor { return f.superAdmin }, allowed: true},
		{name: "OtherOperator", actor: func(f *fixture) authz.Actor { return f.colleague }},
		{name: "OtherCompany", actor: func(f *fixture) authz.Actor { return f.outsider }},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			txn := f.create(t)

			_, err := f.transfers.Cancel(context.Background(), tc.actor(f), txn.ID)

			if tc.allowed {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, authz.ErrForbidden)
			}
		})
	}
}

func TestTransferService_Cancel_NotFound(t *testing.T) {
	f := newFixture(t)
	_, err := f.transfers.Cancel(context.Background(), f.operator, uuid.New())
	assert.ErrorIs(t, err, transaction.ErrTransactionNotFound{})
}

func TestTransferService_Cancel_Concurrent(t *testing.T) {
	f := newFixture(t)
	txn := f.create(t)

	const attempts = 8
	errs := make([]error, attempts)
	var wg sync.WaitGroup
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.transfers.Cancel(context.Background(), f.operator, txn.ID)
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		assert.ErrorIs(t, err, transaction.ErrAlreadyCanceled)
	}
	assert.Equal(t, 1, succeeded)
	assert.Len(t, f.store.StateLogEntries(txn.ID), 2)
}

func TestTransferService_Retry(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	txn := f.create(t)

	detail := "payment processor unavailable"
	_, err := f.machine.Transition(ctx, statemachine.Request{
		TransactionID: txn.ID,
		To:            transaction.StatusFailed,
		Actor:         transaction.ActorSystem,
		Source:        transaction.SourceCron,
		Detail:        &detail,
	})
	require.NoError(t, err)

	f.submitter.On("Submit", mock.Anything, mock.MatchedBy(func(t *transaction.Transaction) bool {
		return t.ID == txn.ID && t.Status == transaction.StatusPending
	})).Return(nil).Once()

	retried, err := f.transfers.Retry(ctx, f.operator, txn.ID)
	require.NoError(t, err)
	assert.Equal(t, transaction.StatusPending, retried.Status)

	entries := f.store.StateLogEntries(txn.ID)
	require.Len(t, entries, 3)
	assert.Equal(t, transaction.StatusFailed, *entries[2].PreviousStatus)
	assert.Equal(t, "user-1", entries[2].Actor)
	f.submitter.AssertExpectations(t)
}

func TestTransferService_Retry_Rejections(t *testing.T) {
	testCases := []struct {
		name    string
		actor   func(f *fixture) authz.Actor
		wantErr error
	}{
		{name: "NotFailed", actor: func(f *fixture) authz.Actor { return f.operator }, wantErr: transaction.ErrIllegalTransition{}},
		{name: "NotOwner", actor: func(f *fixture) authz.Actor { return f.colleague }, wantErr: authz.ErrForbidden},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			txn := f.create(t)

			_, err := f.transfers.Retry(context.Background(), tc.actor(f), txn.ID)

			assert.ErrorIs(t, err, tc.wantErr)
			f.submitter.AssertNotCalled(t, "Submit", mock.Anything, mock.Anything)
		})
	}
}
