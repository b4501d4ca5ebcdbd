// Package webhook applies processor notifications at most once. Every
// notification is verified, then claimed by inserting a processed record
// under the (type, tracking key) uniqueness constraint, then applied
// through the state machine in the same database transaction.
package webhook

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/spei-ledger/internal/domain/account"
	"github.com/spei-ledger/internal/domain/order"
	"github.com/spei-ledger/internal/domain/transaction"
	"github.com/spei-ledger/internal/domain/webhook"
	"github.com/spei-ledger/internal/platform/clock"
	"github.com/spei-ledger/internal/platform/messaging/producers"
	"github.com/spei-ledger/internal/platform/metrics"
	"github.com/spei-ledger/internal/platform/persistence"
	"github.com/spei-ledger/internal/statemachine"
)

// SignatureVerifier checks the processor's signature over a canonical string.
type SignatureVerifier interface {
	Verify(canonical, signature string) error
}

// Result reports what happened to one delivery.
type Result struct {
	Type            webhook.Type
	TrackingKey     string
	Outcome         webhook.Outcome
	TransactionID   *uuid.UUID
	Detail          string
	PayloadMismatch bool
}

// Gate is the webhook idempotency gate.
type Gate struct {
	db       persistence.Transactor
	records  webhook.Repository
	txns     transaction.Repository
	accounts account.Repository
	machine  *statemachine.Machine
	verifier SignatureVerifier
	dlq      producers.DeadLetterPublisher
	clock    clock.Clock
	logger   *slog.Logger
}

// NewGate builds a gate. dlq may be nil, in which case anomalies are only
// logged and counted.
func NewGate(
	logger *slog.Logger,
	db persistence.Transactor,
	records webhook.Repository,
	txns transaction.Repository,
	accounts account.Repository,
	machine *statemachine.Machine,
	verifier SignatureVerifier,
	dlq producers.DeadLetterPublisher,
	clk clock.Clock,
) *Gate {
	return &Gate{
		db:       db,
		records:  records,
		txns:     txns,
		accounts: accounts,
		machine:  machine,
		verifier: verifier,
		dlq:      dlq,
		clock:    clk,
		logger:   logger,
	}
}

// Handle processes one raw notification body. Malformed or badly signed
// bodies return an error wrapping ErrMalformedPayload or
// order.ErrInvalidSignature and touch nothing. Notifications that can never
// apply are recorded as failed and returned with a nil error.
func (g *Gate) Handle(ctx context.Context, body []byte) (*Result, error) {
	typ, n, data, err := decode(body)
	if err != nil {
		metrics.WebhookHandled("unknown", "rejected")
		return nil, err
	}

	logger := g.logger.With("webhook_type", string(typ), "tracking_key", n.key())

	if g.verifier == nil {
		return nil, fmt.Errorf("%w: no verification key configured", order.ErrInvalidSignature)
	}
	if err := g.verifier.Verify(n.CanonicalString(), n.signature()); err != nil {
		logger.Warn("Rejected webhook with invalid signature", "error", err)
		metrics.WebhookHandled(string(typ), "rejected")
		return nil, err
	}

	hash := webhook.HashPayload(data)
	now := g.clock.Now().UTC()
	result := &Result{Type: typ, TrackingKey: n.key()}

	err = g.db.ExecuteTx(ctx, func(tx pgx.Tx) error {
		records := g.records.WithTx(tx)
		inserted, err := records.Insert(ctx, &webhook.Record{
			Type:        typ,
			TrackingKey: n.key(),
			PayloadHash: hash,
			Outcome:     webhook.OutcomeSuccess,
			ProcessedAt: now,
		})
		if err != nil {
			return fmt.Errorf("failed to claim webhook: %w", err)
		}
		if !inserted {
			return g.recordDuplicate(ctx, records, typ, n.key(), hash, now, result)
		}

		id, detail, err := g.apply(ctx, tx, n, now)
		if err != nil {
			return err
		}
		result.Outcome = webhook.OutcomeSuccess
		result.TransactionID = id
		result.Detail = detail
		return nil
	})

	switch {
	case err == nil:
	case permanent(err):
		return g.recordFailure(ctx, logger, typ, n.key(), hash, body, err)
	default:
		logger.Error("Failed to process webhook", "error", err)
		return nil, fmt.Errorf("failed to process webhook: %w", err)
	}

	metrics.WebhookHandled(string(typ), string(result.Outcome))
	if result.Outcome == webhook.OutcomeDuplicate {
		logger.Info("Ignored redelivered webhook", "payload_mismatch", result.PayloadMismatch)
		if result.PayloadMismatch {
			metrics.WebhookPayloadMismatch(string(typ))
			logger.Warn("Redelivered webhook payload differs from the original")
			g.deadLetter(ctx, logger, typ, n.key(), body, "payload mismatch on redelivery")
		}
		return result, nil
	}

	logger.Info("Webhook applied", "transaction_id", result.TransactionID.String())
	return result, nil
}

func (g *Gate) recordDuplicate(ctx context.Context, records webhook.Repository, typ webhook.Type, key, hash string, now time.Time, result *Result) error {
	if err := records.InsertDuplicate(ctx, &webhook.Record{
		Type:        typ,
		TrackingKey: key,
		PayloadHash: hash,
		Outcome:     webhook.OutcomeDuplicate,
		ProcessedAt: now,
	}); err != nil {
		return fmt.Errorf("failed to record duplicate webhook: %w", err)
	}

	original, err := records.GetOriginal(ctx, typ, key)
	if err != nil {
		return fmt.Errorf("failed to load original webhook: %w", err)
	}

	result.Outcome = webhook.OutcomeDuplicate
	result.PayloadMismatch = original.PayloadHash != hash
	return nil
}

// recordFailure claims the key with a failed record after the apply
// transaction rolled back, so redeliveries are not retried forever.
func (g *Gate) recordFailure(ctx context.Context, logger *slog.Logger, typ webhook.Type, key, hash string, body []byte, cause error) (*Result, error) {
	logger.Warn("Webhook cannot be applied", "error", cause)

	detail := cause.Error()
	result := &Result{Type: typ, TrackingKey: key, Outcome: webhook.OutcomeFailed, Detail: detail}

	err := g.db.ExecuteTx(ctx, func(tx pgx.Tx) error {
		inserted, err := g.records.WithTx(tx).Insert(ctx, &webhook.Record{
			Type:        typ,
			TrackingKey: key,
			PayloadHash: hash,
			Outcome:     webhook.OutcomeFailed,
			ErrorDetail: &detail,
			ProcessedAt: g.clock.Now().UTC(),
		})
		if err != nil {
			return err
		}
		if !inserted {
			// A concurrent delivery claimed the key first.
			result.Outcome = webhook.OutcomeDuplicate
			result.Detail = ""
		}
		return nil
	})
	if err != nil {
		logger.Error("Failed to record failed webhook", "error", err)
		return nil, fmt.Errorf("failed to record failed webhook: %w", err)
	}

	metrics.WebhookHandled(string(typ), string(result.Outcome))
	if result.Outcome == webhook.OutcomeFailed {
		g.deadLetter(ctx, logger, typ, key, body, detail)
	}
	return result, nil
}

func (g *Gate) deadLetter(ctx context.Context, logger *slog.Logger, typ webhook.Type, key string, body []byte, reason string) {
	if g.dlq == nil {
		return
	}
	if err := g.dlq.PublishToDLQ(ctx, string(typ)+"/"+key, body, reason); err != nil && !errors.Is(err, producers.ErrDLQDisabled) {
		logger.Error("Failed to publish webhook to dead letter queue", "error", err)
	}
}

func (g *Gate) apply(ctx context.Context, tx pgx.Tx, n notification, now time.Time) (*uuid.UUID, string, error) {
	switch v := n.(type) {
	case *DepositNotification:
		return g.applyDeposit(ctx, tx, v, now)
	case *StatusNotification:
		return g.applyStatus(ctx, tx, v)
	}
	return nil, "", fmt.Errorf("%w: unsupported notification %T", ErrMalformedPayload, n)
}

func (g *Gate) applyDeposit(ctx context.Context, tx pgx.Tx, n *DepositNotification, now time.Time) (*uuid.UUID, string, error) {
	status := n.Status()
	metadata := map[string]any{"webhook_type": string(webhook.TypeDepositReceived), "opm_order_id": n.ID}

	existing, err := g.txns.WithTx(tx).GetByTrackingKey(ctx, n.TrackingKey)
	switch {
	case err == nil:
		res, err := g.machine.Apply(ctx, tx, statemachine.Request{
			TransactionID: existing.ID,
			To:            status,
			Actor:         transaction.ActorWebhook,
			Source:        transaction.SourceWebhook,
			CepURL:        optional(n.CepURL),
			Metadata:      metadata,
		})
		if err != nil {
			return nil, "", err
		}
		return &existing.ID, transitionDetail(res), nil
	case !errors.Is(err, transaction.ErrTransactionNotFound{}):
		return nil, "", fmt.Errorf("failed to look up deposit: %w", err)
	}

	t := &transaction.Transaction{
		ID:                 uuid.New(),
		RemoteOrderID:      optional(n.ID),
		Type:               transaction.TypeIncoming,
		Status:             status,
		Amount:             n.Amount,
		Concept:            order.Sanitize(n.Concept, order.MaxConceptLength),
		TrackingKey:        n.TrackingKey,
		NumericalReference: n.NumericalReference,
		Payer: transaction.Party{
			Account:  n.PayerAccount,
			BankCode: n.PayerBank,
			Name:     order.Sanitize(n.PayerName, order.MaxNameLength),
			TaxID:    n.PayerUID,
		},
		Beneficiary: transaction.Party{
			Account:  n.BeneficiaryAccount,
			BankCode: n.BeneficiaryBank,
			Name:     order.Sanitize(n.BeneficiaryName, order.MaxNameLength),
			TaxID:    n.BeneficiaryUID,
		},
		CreatedBy: transaction.ActorWebhook,
		CreatedAt: now,
		UpdatedAt: now,
		CepURL:    optional(n.CepURL),
	}
	if status == transaction.StatusScattered {
		settled := now
		t.SettledAt = &settled
	}

	acc, err := g.accounts.WithTx(tx).GetByClabe(ctx, n.BeneficiaryAccount)
	switch {
	case err == nil:
		companyID := acc.CompanyID
		t.ClabeAccountID = &acc.ID
		t.CompanyID = &companyID
	case errors.Is(err, account.ErrAccountNotFound{}):
		g.logger.Warn("Deposit to unknown CLABE account recorded without owner",
			"tracking_key", n.TrackingKey, "clabe", n.BeneficiaryAccount)
	default:
		return nil, "", fmt.Errorf("failed to resolve deposit account: %w", err)
	}

	if err := g.machine.Create(ctx, tx, t, transaction.ActorWebhook, transaction.SourceWebhook, metadata); err != nil {
		return nil, "", err
	}
	return &t.ID, "deposit recorded", nil
}

func (g *Gate) applyStatus(ctx context.Context, tx pgx.Tx, n *StatusNotification) (*uuid.UUID, string, error) {
	status, err := transaction.ParseStatus(n.Status)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}

	t, err := g.locate(ctx, tx, n)
	if err != nil {
		return nil, "", err
	}

	res, err := g.machine.Apply(ctx, tx, statemachine.Request{
		TransactionID: t.ID,
		To:            status,
		Actor:         transaction.ActorWebhook,
		Source:        transaction.SourceWebhook,
		Detail:        optional(n.Detail),
		CepURL:        optional(n.CepURL),
		Metadata:      map[string]any{"webhook_type": string(webhook.TypeOrderStatusChanged), "opm_order_id": n.ID},
	})
	if err != nil {
		return nil, "", err
	}
	return &t.ID, transitionDetail(res), nil
}

// locate finds the transaction by processor order id, falling back to the
// tracking key and attaching the order id when the row lacks one.
func (g *Gate) locate(ctx context.Context, tx pgx.Tx, n *StatusNotification) (*transaction.Transaction, error) {
	txns := g.txns.WithTx(tx)

	if n.ID != "" {
		t, err := txns.GetByRemoteOrderID(ctx, n.ID)
		if err == nil {
			return t, nil
		}
		if !errors.Is(err, transaction.ErrTransactionNotFound{}) {
			return nil, fmt.Errorf("failed to look up order %s: %w", n.ID, err)
		}
	}

	t, err := txns.GetByTrackingKey(ctx, n.TrackingKey)
	if err != nil {
		if errors.Is(err, transaction.ErrTransactionNotFound{}) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to look up tracking key %s: %w", n.TrackingKey, err)
	}

	if n.ID != "" && t.RemoteOrderID == nil {
		if err := txns.SetRemoteOrderID(ctx, t.ID, n.ID); err != nil {
			return nil, err
		}
		id := n.ID
		t.RemoteOrderID = &id
	}
	return t, nil
}

// permanent reports errors a redelivery of the same payload cannot fix.
func permanent(err error) bool {
	return errors.Is(err, transaction.ErrIllegalTransition{}) ||
		errors.Is(err, transaction.ErrTransactionNotFound{}) ||
		errors.Is(err, transaction.ErrConcurrentModification{}) ||
		errors.Is(err, transaction.ErrDuplicateTransaction{}) ||
		errors.Is(err, ErrMalformedPayload)
}

func transitionDetail(res *statemachine.Result) string {
	if !res.Changed {
		return "status unchanged: " + string(res.From)
	}
	return string(res.From) + " -> " + string(res.Transaction.Status)
}

func optional(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}
