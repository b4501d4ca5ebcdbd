package memstore

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/spei-ledger/internal/domain/account"
	"github.com/spei-ledger/internal/domain/outbox"
	"github.com/spei-ledger/internal/domain/reconciliation"
	"github.com/spei-ledger/internal/domain/shared"
	"github.com/spei-ledger/internal/domain/transaction"
	"github.com/spei-ledger/internal/domain/webhook"
)

type stateLogRepo struct {
	s *Store
}

func (r *stateLogRepo) WithTx(pgx.Tx) transaction.StateLogRepository { return r }

func (r *stateLogRepo) Append(_ context.Context, e *transaction.StateLogEntry) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, ok := r.s.st.transactions[e.TransactionID]; !ok {
		return transaction.ErrTransactionNotFound{ID: e.TransactionID}
	}
	e.ID = r.s.st.id()
	r.s.st.stateLog = append(r.s.st.stateLog, *e)
	return nil
}

func (r *stateLogRepo) ListByTransaction(_ context.Context, id uuid.UUID) ([]*transaction.StateLogEntry, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	entries := make([]*transaction.StateLogEntry, 0)
	for _, e := range r.s.st.stateLog {
		if e.TransactionID == id {
			entry := e
			entries = append(entries, &entry)
		}
	}
	return entries, nil
}

type webhookRepo struct {
	s *Store
}

func (r *webhookRepo) WithTx(pgx.Tx) webhook.Repository { return r }

func (r *webhookRepo) original(t webhook.Type, trackingKey string) *webhook.Record {
	for _, rec := range r.s.st.webhooks {
		if rec.Type == t && rec.TrackingKey == trackingKey && rec.Outcome != webhook.OutcomeDuplicate {
			found := rec
			return &found
		}
	}
	return nil
}

func (r *webhookRepo) Insert(_ context.Context, rec *webhook.Record) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if r.original(rec.Type, rec.TrackingKey) != nil {
		return false, nil
	}
	rec.ID = r.s.st.id()
	r.s.st.webhooks = append(r.s.st.webhooks, *rec)
	return true, nil
}

func (r *webhookRepo) InsertDuplicate(_ context.Context, rec *webhook.Record) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	rec.Outcome = webhook.OutcomeDuplicate
	rec.ID = r.s.st.id()
	r.s.st.webhooks = append(r.s.st.webhooks, *rec)
	return nil
}

func (r *webhookRepo) GetOriginal(_ context.Context, t webhook.Type, trackingKey string) (*webhook.Record, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	rec := r.original(t, trackingKey)
	if rec == nil {
		return nil, webhook.ErrRecordNotFound{Type: t, TrackingKey: trackingKey}
	}
	return rec, nil
}

func (r *webhookRepo) PurgeOlderThan(_ context.Context, cutoff time.Time) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	kept := r.s.st.webhooks[:0:0]
	var purged int64
	for _, rec := range r.s.st.webhooks {
		if rec.ProcessedAt.Before(cutoff) {
			purged++
			continue
		}
		kept = append(kept, rec)
	}
	r.s.st.webhooks = kept
	return purged, nil
}

type accountRepo struct {
	s *Store
}

func (r *accountRepo) WithTx(pgx.Tx) account.Repository { return r }

func (r *accountRepo) Create(_ context.Context, acc *account.ClabeAccount) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	for _, existing := range r.s.st.accounts {
		if existing.Clabe == acc.Clabe {
			return account.ErrDuplicateClabe{Clabe: acc.Clabe}
		}
	}
	r.s.st.accounts[acc.ID] = *acc
	return nil
}

func (r *accountRepo) GetByID(_ context.Context, id uuid.UUID) (*account.ClabeAccount, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	acc, ok := r.s.st.accounts[id]
	if !ok {
		return nil, account.ErrAccountNotFound{AccountID: id}
	}
	return &acc, nil
}

func (r *accountRepo) GetByClabe(_ context.Context, clabe string) (*account.ClabeAccount, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	for _, acc := range r.s.st.accounts {
		if acc.Clabe == clabe && acc.Active {
			found := acc
			return &found, nil
		}
	}
	return nil, account.ErrAccountNotFound{Clabe: clabe}
}

func (r *accountRepo) ListByCompany(_ context.Context, companyID *uuid.UUID) ([]*account.ClabeAccount, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	accounts := make([]*account.ClabeAccount, 0)
	for _, acc := range r.s.st.accounts {
		if companyID == nil || acc.CompanyID == *companyID {
			found := acc
			accounts = append(accounts, &found)
		}
	}
	sort.Slice(accounts, func(i, j int) bool { return accounts[i].CreatedAt.Before(accounts[j].CreatedAt) })
	return accounts, nil
}

func (r *accountRepo) Deactivate(_ context.Context, id uuid.UUID, at time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	acc, ok := r.s.st.accounts[id]
	if !ok || !acc.Active {
		return account.ErrAccountNotFound{AccountID: id}
	}
	acc.Active = false
	acc.UpdatedAt = at
	r.s.st.accounts[id] = acc
	return nil
}

type outboxRepo struct {
	s *Store
}

func (r *outboxRepo) WithTx(pgx.Tx) outbox.Repository { return r }

func (r *outboxRepo) Create(_ context.Context, m *outbox.Message) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	m.ID = r.s.st.id()
	r.s.st.outbox = append(r.s.st.outbox, *m)
	return nil
}

func (r *outboxRepo) GetPending(_ context.Context, limit int) ([]*outbox.Message, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var pending []*outbox.Message
	for _, m := range r.s.st.outbox {
		if m.Status == shared.OutboxStatusPending && len(pending) < limit {
			msg := m
			pending = append(pending, &msg)
		}
	}
	return pending, nil
}

func (r *outboxRepo) update(id int64, fn func(*outbox.Message)) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	for i := range r.s.st.outbox {
		if r.s.st.outbox[i].ID == id {
			fn(&r.s.st.outbox[i])
			return nil
		}
	}
	return outbox.ErrMessageNotFound{ID: id}
}

func (r *outboxRepo) UpdateStatus(_ context.Context, id int64, status shared.OutboxStatus) error {
	return r.update(id, func(m *outbox.Message) {
		now := time.Now().UTC()
		m.Status = status
		m.LastAttemptAt = &now
	})
}

func (r *outboxRepo) IncrementAttempts(_ context.Context, id int64) error {
	return r.update(id, func(m *outbox.Message) {
		m.IncrementAttempts(time.Now().UTC())
	})
}

type reportRepo struct {
	s *Store
}

func (r *reportRepo) Save(_ context.Context, summary *reconciliation.Summary) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	r.s.st.reports[summary.RunID] = *summary
	return nil
}

func (r *reportRepo) GetByRunID(_ context.Context, runID uuid.UUID) (*reconciliation.Summary, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	summary, ok := r.s.st.reports[runID]
	if !ok {
		return nil, reconciliation.ErrReportNotFound{RunID: runID}
	}
	return &summary, nil
}

func (r *reportRepo) List(_ context.Context, limit, offset int64) ([]*reconciliation.Summary, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	all := make([]*reconciliation.Summary, 0, len(r.s.st.reports))
	for _, summary := range r.s.st.reports {
		s := summary
		all = append(all, &s)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].StartedAt.After(all[j].StartedAt) })

	if offset > int64(len(all)) {
		offset = int64(len(all))
	}
	end := offset + limit
	if limit <= 0 || end > int64(len(all)) {
		end = int64(len(all))
	}
	return all[offset:end], nil
}
