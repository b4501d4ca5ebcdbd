package webhook

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
	"github.com/spei-ledger/internal/domain/account"
	"github.com/spei-ledger/internal/domain/order"
	"github.com/spei-ledger/internal/domain/transaction"
	"github.com/spei-ledger/internal/domain/webhook"
	"github.com/spei-ledger/internal/platform/clock"
	"github.com/spei-ledger/internal/statemachine"
	"github.com/spei-ledger/internal/testutil/memstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2026, 4, 3, 10, 0, 0, 0, time.UTC)

const (
	ownClabe     = "646180000000000012"
	foreignClabe = "012180000000000028"
)

var (
	keyOnce sync.Once
	testKey *rsa.PrivateKey
)

func signingKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	keyOnce.Do(func() {
		key, err := rsa.GenerateKey(rand.Reader, 2048)
		if err != nil {
			panic(err)
		}
		testKey = key
	})
	return testKey
}

type fakeDLQ struct {
	mu      sync.Mutex
	keys    []string
	reasons []string
}

func (f *fakeDLQ) PublishToDLQ(_ context.Context, key string, _ []byte, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.keys = append(f.keys, key)
	f.reasons = append(f.reasons, reason)
	return nil
}

func (f *fakeDLQ) Close() error { return nil }

func (f *fakeDLQ) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.keys)
}

type fixture struct {
	store   *memstore.Store
	machine *statemachine.Machine
	gate    *Gate
	dlq     *fakeDLQ
	account *account.ClabeAccount
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	store := memstore.New()
	clk := clock.Fake(testNow)
	machine := statemachine.NewMachine(logger, store, store.Transactions(), store.StateLog(), store.Outbox(), clk)
	dlq := &fakeDLQ{}

	acc, err := account.NewClabeAccount(uuid.New(), ownClabe, "90646", "payroll", "ACME SA DE CV", "", testNow)
	require.NoError(t, err)
	require.NoError(t, store.Accounts().Create(context.Background(), acc))

	gate := NewGate(logger, store, store.Webhooks(), store.Transactions(), store.Accounts(), machine,
		order.NewVerifier(&signingKey(t).PublicKey), dlq, clk)

	return &fixture{store: store, machine: machine, gate: gate, dlq: dlq, account: acc}
}

func deposit(trackingKey, amount string) *DepositNotification {
	return &DepositNotification{
		ID:                 "opm-" + trackingKey,
		TrackingKey:        trackingKey,
		Concept:            "RENTA ABRIL",
		Amount:             decimal.RequireFromString(amount),
		NumericalReference: 1234567,
		PayerAccount:       foreignClabe,
		PayerBank:          "40012",
		PayerName:          "JUAN PEREZ",
		BeneficiaryAccount: ownClabe,
		BeneficiaryBank:    "90646",
		BeneficiaryName:    "ACME SA DE CV",
	}
}

func envelope(t *testing.T, typ webhook.Type, n notification) []byte {
	t.Helper()
	sig, err := order.NewSigner(signingKey(t)).Sign(n.CanonicalString())
	require.NoError(t, err)
	switch v := n.(type) {
	case *DepositNotification:
		v.Sign = sig
	case *StatusNotification:
		v.Sign = sig
	}
	data, err := json.Marshal(n)
	require.NoError(t, err)
	body, err := json.Marshal(Envelope{Type: typ, Data: data})
	require.NoError(t, err)
	return body
}

func (f *fixture) seedOutgoing(t *testing.T, status transaction.Status, remoteID *string) *transaction.Transaction {
	t.Helper()
	txn := &transaction.Transaction{
		ID:            uuid.New(),
		RemoteOrderID: remoteID,
		Type:          transaction.TypeOutgoing,
		Status:        status,
		Amount:        decimal.RequireFromString("500.00"),
		Concept:       "PAGO PROVEEDOR",
		TrackingKey:   "SL" + uuid.NewString()[:8],
		CreatedAt:     testNow,
		UpdatedAt:     testNow,
	}
	if status == transaction.StatusScattered {
		txn.SettledAt = &testNow
	}
	require.NoError(t, f.store.ExecuteTx(context.Background(), func(tx pgx.Tx) error {
		return f.machine.Create(context.Background(), tx, txn, "user-1", transaction.SourceAPI, nil)
	}))
	return txn
}

func TestGate_Deposit_RedeliveryIsDuplicate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	body := envelope(t, webhook.TypeDepositReceived, deposit("NC123", "1500.00"))

	first, err := f.gate.Handle(ctx, body)
	require.NoError(t, err)
	assert.Equal(t, webhook.OutcomeSuccess, first.Outcome)
	require.NotNil(t, first.TransactionID)

	stored, err := f.store.Transactions().GetByTrackingKey(ctx, "NC123")
	require.NoError(t, err)
	assert.Equal(t, transaction.TypeIncoming, stored.Type)
	assert.Equal(t, transaction.StatusScattered, stored.Status)
	assert.NotNil(t, stored.SettledAt)
	assert.Equal(t, "opm-NC123", *stored.RemoteOrderID)
	require.NotNil(t, stored.ClabeAccountID)
	assert.Equal(t, f.account.ID, *stored.ClabeAccountID)
	assert.Equal(t, f.account.CompanyID, *stored.CompanyID)

	second, err := f.gate.Handle(ctx, body)
	require.NoError(t, err)
	assert.Equal(t, webhook.OutcomeDuplicate, second.Outcome)
	assert.False(t, second.PayloadMismatch)
	assert.Nil(t, second.TransactionID)

	assert.Equal(t, 1, f.store.TransactionCount())
	assert.Len(t, f.store.StateLogEntries(stored.ID), 1)

	records := f.store.WebhookRecords()
	require.Len(t, records, 2)
	assert.Equal(t, webhook.OutcomeSuccess, records[0].Outcome)
	assert.Equal(t, webhook.OutcomeDuplicate, records[1].Outcome)
	assert.Equal(t, records[0].PayloadHash, records[1].PayloadHash)
	assert.Zero(t, f.dlq.count())
}

func TestGate_Deposit_RedeliveryWithDifferentPayload(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.gate.Handle(ctx, envelope(t, webhook.TypeDepositReceived, deposit("NC200", "100.00")))
	require.NoError(t, err)

	res, err := f.gate.Handle(ctx, envelope(t, webhook.TypeDepositReceived, deposit("NC200", "999.00")))
	require.NoError(t, err)
	assert.Equal(t, webhook.OutcomeDuplicate, res.Outcome)
	assert.True(t, res.PayloadMismatch)

	stored, err := f.store.Transactions().GetByTrackingKey(ctx, "NC200")
	require.NoError(t, err)
	assert.True(t, decimal.RequireFromString("100.00").Equal(stored.Amount))

	require.Equal(t, 1, f.dlq.count())
	assert.Equal(t, "deposit_received/NC200", f.dlq.keys[0])
}

func TestGate_Deposit_UnknownAccountAndFlags(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	n := deposit("NC300", "42.10")
	n.BeneficiaryAccount = foreignClabe
	n.Sent = true

	res, err := f.gate.Handle(ctx, envelope(t, webhook.TypeDepositReceived, n))
	require.NoError(t, err)
	assert.Equal(t, webhook.OutcomeSuccess, res.Outcome)

	stored, err := f.store.Transactions().GetByID(ctx, *res.TransactionID)
	require.NoError(t, err)
	assert.Equal(t, transaction.StatusSent, stored.Status)
	assert.Nil(t, stored.SettledAt)
	assert.Nil(t, stored.ClabeAccountID)
	assert.Nil(t, stored.CompanyID)
}

func TestGate_StatusChange_SettlesInFlightDeposit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	n := deposit("NC400", "10.00")
	n.Sent = true
	first, err := f.gate.Handle(ctx, envelope(t, webhook.TypeDepositReceived, n))
	require.NoError(t, err)

	res, err := f.gate.Handle(ctx, envelope(t, webhook.TypeOrderStatusChanged, &StatusNotification{
		ID:          "opm-NC400",
		TrackingKey: "NC400",
		Status:      string(transaction.StatusScattered),
		CepURL:      "https://cep.example/NC400",
	}))
	require.NoError(t, err)
	assert.Equal(t, webhook.OutcomeSuccess, res.Outcome)
	assert.Equal(t, *first.TransactionID, *res.TransactionID)

	stored, err := f.store.Transactions().GetByID(ctx, *first.TransactionID)
	require.NoError(t, err)
	assert.Equal(t, transaction.StatusScattered, stored.Status)
	assert.NotNil(t, stored.SettledAt)
	assert.Equal(t, "https://cep.example/NC400", *stored.CepURL)
	assert.Len(t, f.store.StateLogEntries(stored.ID), 2)
}

func TestGate_StatusChange_ByRemoteOrderID(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	remote := "opm-900"
	txn := f.seedOutgoing(t, transaction.StatusSent, &remote)

	res, err := f.gate.Handle(ctx, envelope(t, webhook.TypeOrderStatusChanged, &StatusNotification{
		ID:          remote,
		TrackingKey: txn.TrackingKey,
		Status:      string(transaction.StatusReturned),
		Detail:      "CUENTA INEXISTENTE",
	}))
	require.NoError(t, err)
	assert.Equal(t, webhook.OutcomeSuccess, res.Outcome)
	assert.Equal(t, "sent -> returned", res.Detail)

	stored, err := f.store.Transactions().GetByID(ctx, txn.ID)
	require.NoError(t, err)
	assert.Equal(t, transaction.StatusReturned, stored.Status)
	assert.Equal(t, "CUENTA INEXISTENTE", *stored.ErrorDetail)

	entries := f.store.StateLogEntries(txn.ID)
	require.Len(t, entries, 2)
	assert.Equal(t, transaction.SourceWebhook, entries[1].Source)
	assert.Equal(t, transaction.ActorWebhook, entries[1].Actor)
}

func TestGate_StatusChange_AttachesRemoteOrderID(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	txn := f.seedOutgoing(t, transaction.StatusSent, nil)

	_, err := f.gate.Handle(ctx, envelope(t, webhook.TypeOrderStatusChanged, &StatusNotification{
		ID:          "opm-901",
		TrackingKey: txn.TrackingKey,
		Status:      string(transaction.StatusScattered),
	}))
	require.NoError(t, err)

	stored, err := f.store.Transactions().GetByRemoteOrderID(ctx, "opm-901")
	require.NoError(t, err)
	assert.Equal(t, txn.ID, stored.ID)
	assert.Equal(t, transaction.StatusScattered, stored.Status)
}

func TestGate_StatusChange_PermanentFailures(t *testing.T) {
	testCases := []struct {
		name        string
		seedStatus  transaction.Status
		trackingKey string
		to          transaction.Status
	}{
		{"IllegalTransition", transaction.StatusCanceled, "", transaction.StatusScattered},
		{"UnknownTransaction", "", "NOPE0001", transaction.StatusScattered},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			ctx := context.Background()

			key := tc.trackingKey
			var seeded *transaction.Transaction
			if tc.seedStatus != "" {
				seeded = f.seedOutgoing(t, tc.seedStatus, nil)
				key = seeded.TrackingKey
			}

			res, err := f.gate.Handle(ctx, envelope(t, webhook.TypeOrderStatusChanged, &StatusNotification{
				ID:          "opm-x",
				TrackingKey: key,
				Status:      string(tc.to),
			}))
			require.NoError(t, err)
			assert.Equal(t, webhook.OutcomeFailed, res.Outcome)
			assert.NotEmpty(t, res.Detail)

			records := f.store.WebhookRecords()
			require.Len(t, records, 1)
			assert.Equal(t, webhook.OutcomeFailed, records[0].Outcome)
			require.NotNil(t, records[0].ErrorDetail)
			assert.Equal(t, 1, f.dlq.count())

			if seeded != nil {
				stored, err := f.store.Transactions().GetByID(ctx, seeded.ID)
				require.NoError(t, err)
				assert.Equal(t, tc.seedStatus, stored.Status)
				assert.Nil(t, stored.RemoteOrderID)
				assert.Len(t, f.store.StateLogEntries(seeded.ID), 1)
			}

			again, err := f.gate.Handle(ctx, envelope(t, webhook.TypeOrderStatusChanged, &StatusNotification{
				ID:          "opm-x",
				TrackingKey: key,
				Status:      string(tc.to),
			}))
			require.NoError(t, err)
			assert.Equal(t, webhook.OutcomeDuplicate, again.Outcome)
		})
	}
}

func TestGate_RejectsBeforeTouchingStore(t *testing.T) {
	testCases := []struct {
		name    string
		body    func(t *testing.T) []byte
		wantErr error
	}{
		{
			name: "TamperedAmount",
			body: func(t *testing.T) []byte {
				n := deposit("NC500", "10.00")
				body := envelope(t, webhook.TypeDepositReceived, n)
				var env Envelope
				require.NoError(t, json.Unmarshal(body, &env))
				n.Amount = decimal.RequireFromString("10000.00")
				env.Data, _ = json.Marshal(n)
				out, _ := json.Marshal(env)
				return out
			},
			wantErr: order.ErrInvalidSignature,
		},
		{
			name: "MissingSignature",
			body: func(t *testing.T) []byte {
				data, _ := json.Marshal(deposit("NC501", "10.00"))
				out, _ := json.Marshal(Envelope{Type: webhook.TypeDepositReceived, Data: data})
				return out
			},
			wantErr: order.ErrInvalidSignature,
		},
		{
			name:    "NotJSON",
			body:    func(t *testing.T) []byte { return []byte("<xml/>") },
			wantErr: ErrMalformedPayload,
		},
		{
			name: "UnknownType",
			body: func(t *testing.T) []byte {
				return []byte(`{"type":"refund","data":{"trackingKey":"X"}}`)
			},
			wantErr: ErrMalformedPayload,
		},
		{
			name: "NonPositiveAmount",
			body: func(t *testing.T) []byte {
				return envelope(t, webhook.TypeDepositReceived, deposit("NC502", "0"))
			},
			wantErr: ErrMalformedPayload,
		},
		{
			name: "TrackingKeyTooLong",
			body: func(t *testing.T) []byte {
				return envelope(t, webhook.TypeDepositReceived, deposit(strings.Repeat("N", order.MaxTrackingKeyLength+1), "10.00"))
			},
			wantErr: ErrMalformedPayload,
		},
		{
			name: "RemoteIDTooLong",
			body: func(t *testing.T) []byte {
				n := deposit("NC504", "10.00")
				n.ID = strings.Repeat("9", 65)
				return envelope(t, webhook.TypeDepositReceived, n)
			},
			wantErr: ErrMalformedPayload,
		},
		{
			name: "PayerUIDTooLong",
			body: func(t *testing.T) []byte {
				n := deposit("NC505", "10.00")
				n.PayerUID = strings.Repeat("X", order.MaxTaxIDLength+1)
				return envelope(t, webhook.TypeDepositReceived, n)
			},
			wantErr: ErrMalformedPayload,
		},
		{
			name: "StatusTrackingKeyTooLong",
			body: func(t *testing.T) []byte {
				return envelope(t, webhook.TypeOrderStatusChanged, &StatusNotification{
					ID: "1", TrackingKey: strings.Repeat("S", order.MaxTrackingKeyLength+1), Status: "scattered",
				})
			},
			wantErr: ErrMalformedPayload,
		},
		{
			name: "UnknownStatus",
			body: func(t *testing.T) []byte {
				return envelope(t, webhook.TypeOrderStatusChanged, &StatusNotification{ID: "1", TrackingKey: "NC503", Status: "settled"})
			},
			wantErr: ErrMalformedPayload,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			res, err := f.gate.Handle(context.Background(), tc.body(t))
			require.Error(t, err)
			assert.ErrorIs(t, err, tc.wantErr)
			assert.Nil(t, res)
			assert.Empty(t, f.store.WebhookRecords())
			assert.Zero(t, f.store.TransactionCount())
		})
	}
}

func TestGate_TransientFailureLeavesNoRecord(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	body := envelope(t, webhook.TypeDepositReceived, deposit("NC600", "75.00"))

	f.store.FailNextCommit = errors.New("connection reset")
	_, err := f.gate.Handle(ctx, body)
	require.Error(t, err)
	assert.Empty(t, f.store.WebhookRecords())
	assert.Zero(t, f.store.TransactionCount())

	res, err := f.gate.Handle(ctx, body)
	require.NoError(t, err)
	assert.Equal(t, webhook.OutcomeSuccess, res.Outcome)
	assert.Equal(t, 1, f.store.TransactionCount())
}

func TestGate_ConcurrentDeliveriesApplyOnce(t *testing.T) {
	f := newFixture(t)
	body := envelope(t, webhook.TypeDepositReceived, deposit("NC700", "300.00"))

	const deliveries = 8
	outcomes := make(chan webhook.Outcome, deliveries)
	var wg sync.WaitGroup
	for i := 0; i < deliveries; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := f.gate.Handle(context.Background(), body)
			if err == nil {
				outcomes <- res.Outcome
			}
		}()
	}
	wg.Wait()
	close(outcomes)

	counts := map[webhook.Outcome]int{}
	for o := range outcomes {
		counts[o]++
	}
	assert.Equal(t, 1, counts[webhook.OutcomeSuccess])
	assert.Equal(t, deliveries-1, counts[webhook.OutcomeDuplicate])
	assert.Equal(t, 1, f.store.TransactionCount())
}

func TestGate_NoVerifierRejects(t *testing.T) {
	f := newFixture(t)
	f.gate.verifier = nil

	_, err := f.gate.Handle(context.Background(), envelope(t, webhook.TypeDepositReceived, deposit("NC800", "1.00")))
	assert.ErrorIs(t, err, order.ErrInvalidSignature)
	assert.Empty(t, f.store.WebhookRecords())
}
