package memstore

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/spei-ledger/internal/domain/transaction"
)

type transactionRepo struct {
	s *Store
}

func (r *transactionRepo) WithTx(pgx.Tx) transaction.Repository { return r }

func (r *transactionRepo) Create(_ context.Context, t *transaction.Transaction) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	for _, existing := range r.s.st.transactions {
		if existing.TrackingKey == t.TrackingKey {
			return transaction.ErrDuplicateTransaction{TrackingKey: t.TrackingKey}
		}
		if t.RemoteOrderID != nil && existing.RemoteOrderID != nil && *existing.RemoteOrderID == *t.RemoteOrderID {
			return transaction.ErrDuplicateTransaction{TrackingKey: t.TrackingKey}
		}
	}
	r.s.st.transactions[t.ID] = *t
	return nil
}

func (r *transactionRepo) GetByID(_ context.Context, id uuid.UUID) (*transaction.Transaction, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	t, ok := r.s.st.transactions[id]
	if !ok {
		return nil, transaction.ErrTransactionNotFound{ID: id}
	}
	return &t, nil
}

func (r *transactionRepo) find(match func(transaction.Transaction) bool) *transaction.Transaction {
	for _, t := range r.s.st.transactions {
		if match(t) {
			found := t
			return &found
		}
	}
	return nil
}

func (r *transactionRepo) GetByRemoteOrderID(_ context.Context, orderID string) (*transaction.Transaction, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	t := r.find(func(t transaction.Transaction) bool {
		return t.RemoteOrderID != nil && *t.RemoteOrderID == orderID
	})
	if t == nil {
		return nil, transaction.ErrTransactionNotFound{Ref: orderID}
	}
	return t, nil
}

func (r *transactionRepo) GetByTrackingKey(_ context.Context, trackingKey string) (*transaction.Transaction, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	t := r.find(func(t transaction.Transaction) bool { return t.TrackingKey == trackingKey })
	if t == nil {
		return nil, transaction.ErrTransactionNotFound{Ref: trackingKey}
	}
	return t, nil
}

func (r *transactionRepo) LockForUpdate(ctx context.Context, id uuid.UUID) (*transaction.Transaction, error) {
	return r.GetByID(ctx, id)
}

func (r *transactionRepo) GetForCancel(_ context.Context, id uuid.UUID, now time.Time) (*transaction.Transaction, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	t, ok := r.s.st.transactions[id]
	if !ok || !t.CancelableAt(now) {
		return nil, nil
	}
	return &t, nil
}

func (r *transactionRepo) UpdateStatus(_ context.Context, id uuid.UUID, tr transaction.Transition, u transaction.StatusUpdate) error {
	if !tr.Valid() {
		return transaction.ErrInvalidTransition
	}

	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	t, ok := r.s.st.transactions[id]
	if !ok || t.Status != tr.From() {
		return transaction.ErrConcurrentModification{ID: id, Expected: tr.From()}
	}

	t.Status = tr.To()
	if u.Detail != nil {
		t.ErrorDetail = u.Detail
	}
	if u.CepURL != nil {
		t.CepURL = u.CepURL
	}
	t.SettledAt = nil
	if tr.To() == transaction.StatusScattered {
		settled := u.At
		if u.SettledAt != nil {
			settled = *u.SettledAt
		}
		t.SettledAt = &settled
	}
	t.UpdatedAt = u.At
	r.s.st.transactions[id] = t
	return nil
}

func (r *transactionRepo) SetRemoteOrderID(_ context.Context, id uuid.UUID, orderID string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	t, ok := r.s.st.transactions[id]
	if !ok {
		return transaction.ErrTransactionNotFound{ID: id}
	}
	t.RemoteOrderID = &orderID
	r.s.st.transactions[id] = t
	return nil
}

func (r *transactionRepo) ListDueForDispatch(_ context.Context, now time.Time, limit int) ([]*transaction.Transaction, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	due := make([]*transaction.Transaction, 0)
	for _, t := range r.s.st.transactions {
		if t.Type == transaction.TypeOutgoing &&
			t.Status == transaction.StatusPendingConfirmation &&
			t.ConfirmationDeadline != nil &&
			!t.ConfirmationDeadline.After(now) {
			found := t
			due = append(due, &found)
		}
	}
	sort.Slice(due, func(i, j int) bool {
		return due[i].ConfirmationDeadline.Before(*due[j].ConfirmationDeadline)
	})
	if len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

func (r *transactionRepo) matching(f transaction.Filter) []*transaction.Transaction {
	out := make([]*transaction.Transaction, 0)
	for _, t := range r.s.st.transactions {
		if matches(f, &t) {
			found := t
			out = append(out, &found)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID.String() > out[j].ID.String()
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

func (r *transactionRepo) List(_ context.Context, f transaction.Filter, p transaction.Page) ([]*transaction.Transaction, int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	all := r.matching(f)
	total := int64(len(all))

	start := p.Offset()
	if start > len(all) {
		start = len(all)
	}
	end := start + p.Size
	if end > len(all) {
		end = len(all)
	}
	return all[start:end], total, nil
}

func (r *transactionRepo) Stats(_ context.Context, f transaction.Filter) (*transaction.Stats, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var stats transaction.Stats
	for _, t := range r.matching(f) {
		stats.Add(t)
	}
	return &stats, nil
}

func (r *transactionRepo) SumBalance(_ context.Context, scope transaction.BalanceScope) (*transaction.BalanceTotals, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var totals transaction.BalanceTotals
	for _, t := range r.s.st.transactions {
		if scope.ClabeAccountID != nil && (t.ClabeAccountID == nil || *t.ClabeAccountID != *scope.ClabeAccountID) {
			continue
		}
		if scope.CompanyID != nil && (t.CompanyID == nil || *t.CompanyID != *scope.CompanyID) {
			continue
		}
		t := t
		totals.Add(&t)
	}
	return &totals, nil
}

// matches mirrors the SQL predicate builder.
func matches(f transaction.Filter, t *transaction.Transaction) bool {
	if f.Type != nil && t.Type != *f.Type {
		return false
	}
	if len(f.Statuses) > 0 {
		found := false
		for _, s := range f.Statuses {
			if s == t.Status {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if f.ClabeAccountID != nil && (t.ClabeAccountID == nil || *t.ClabeAccountID != *f.ClabeAccountID) {
		return false
	}
	if f.CompanyID != nil && (t.CompanyID == nil || *t.CompanyID != *f.CompanyID) {
		return false
	}
	if f.From != nil && t.CreatedAt.Before(*f.From) {
		return false
	}
	if f.To != nil && t.CreatedAt.After(*f.To) {
		return false
	}
	if f.MinAmount != nil && t.Amount.LessThan(*f.MinAmount) {
		return false
	}
	if f.MaxAmount != nil && t.Amount.GreaterThan(*f.MaxAmount) {
		return false
	}
	if term := strings.ToLower(strings.TrimSpace(f.Search)); term != "" {
		fields := []string{t.TrackingKey, t.Concept, t.Beneficiary.Name, t.Payer.Name, t.Beneficiary.Account, t.Payer.Account}
		hit := false
		for _, field := range fields {
			if strings.Contains(strings.ToLower(field), term) {
				hit = true
				break
			}
		}
		if !hit {
			return false
		}
	}
	return true
}
