package transaction

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

// StatusUpdate carries the fields written alongside a status change.
type StatusUpdate struct {
	Detail    *string
	CepURL    *string
	SettledAt *time.Time // set iff the destination is scattered
	At        time.Time
}

// Filter narrows transaction queries. Every field is optional.
type Filter struct {
	Type           *Type
	Statuses       []Status
	ClabeAccountID *uuid.UUID
	CompanyID      *uuid.UUID
	From           *time.Time
	To             *time.Time
	MinAmount      *decimal.Decimal
	MaxAmount      *decimal.Decimal
	Search         string
}

// Page selects a window of results, 1-based.
type Page struct {
	Number int
	Size   int
}

// Offset returns the number of rows to skip.
func (p Page) Offset() int {
	if p.Number < 1 {
		return 0
	}
	return (p.Number - 1) * p.Size
}

// Stats aggregates amounts over a filtered set.
type Stats struct {
	TotalIncoming decimal.Decimal `json:"total_incoming"`
	TotalOutgoing decimal.Decimal `json:"total_outgoing"`
	InTransit     decimal.Decimal `json:"in_transit"`
	Count         int64           `json:"count"`
}

// BalanceScope restricts balance aggregation to an account or a company.
// The zero value covers the whole ledger.
type BalanceScope struct {
	ClabeAccountID *uuid.UUID
	CompanyID      *uuid.UUID
}

// BalanceTotals are the inputs to the local net balance.
type BalanceTotals struct {
	IncomingSettled       decimal.Decimal `json:"incoming_settled"`
	OutgoingSentOrSettled decimal.Decimal `json:"outgoing_sent_or_settled"`
	OutgoingInTransit     decimal.Decimal `json:"outgoing_in_transit"`
}

// Net is incoming settled minus outgoing sent or settled.
func (b BalanceTotals) Net() decimal.Decimal {
	return b.IncomingSettled.Sub(b.OutgoingSentOrSettled)
}

// Available is Net less outgoing transfers not yet handed to the rail.
func (b BalanceTotals) Available() decimal.Decimal {
	return b.Net().Sub(b.OutgoingInTransit)
}

// Add accumulates t into the totals.
func (b *BalanceTotals) Add(t *Transaction) {
	switch {
	case t.Type == TypeIncoming && t.Status == StatusScattered:
		b.IncomingSettled = b.IncomingSettled.Add(t.Amount)
	case t.Type == TypeOutgoing && (t.Status == StatusSent || t.Status == StatusScattered):
		b.OutgoingSentOrSettled = b.OutgoingSentOrSettled.Add(t.Amount)
	case t.Type == TypeOutgoing && t.Status.InTransit():
		b.OutgoingInTransit = b.OutgoingInTransit.Add(t.Amount)
	}
}

// Add accumulates t into the stats.
func (s *Stats) Add(t *Transaction) {
	var totals BalanceTotals
	totals.Add(t)
	s.TotalIncoming = s.TotalIncoming.Add(totals.IncomingSettled)
	s.TotalOutgoing = s.TotalOutgoing.Add(totals.OutgoingSentOrSettled)
	s.InTransit = s.InTransit.Add(totals.OutgoingInTransit)
	s.Count++
}

// Repository is the ledger store.
type Repository interface {
	Create(ctx context.Context, t *Transaction) error
	GetByID(ctx context.Context, id uuid.UUID) (*Transaction, error)
	GetByRemoteOrderID(ctx context.Context, orderID string) (*Transaction, error)
	GetByTrackingKey(ctx context.Context, trackingKey string) (*Transaction, error)

	// LockForUpdate returns the row holding a lock until the surrounding
	// database transaction ends.
	LockForUpdate(ctx context.Context, id uuid.UUID) (*Transaction, error)

	// GetForCancel locks and returns the row only while it is pending_confirmation
	// and now is before its confirmation deadline. It returns nil, nil otherwise.
	GetForCancel(ctx context.Context, id uuid.UUID, now time.Time) (*Transaction, error)

	// UpdateStatus writes a checked transition, conditional on the row still
	// being in the transition's source status.
	UpdateStatus(ctx context.Context, id uuid.UUID, t Transition, u StatusUpdate) error

	SetRemoteOrderID(ctx context.Context, id uuid.UUID, orderID string) error
	ListDueForDispatch(ctx context.Context, now time.Time, limit int) ([]*Transaction, error)
	List(ctx context.Context, f Filter, p Page) ([]*Transaction, int64, error)
	Stats(ctx context.Context, f Filter) (*Stats, error)
	SumBalance(ctx context.Context, scope BalanceScope) (*BalanceTotals, error)
	WithTx(tx pgx.Tx) Repository
}

// StateLogRepository persists the append-only audit trail.
type StateLogRepository interface {
	Append(ctx context.Context, e *StateLogEntry) error
	ListByTransaction(ctx context.Context, id uuid.UUID) ([]*StateLogEntry, error)
	WithTx(tx pgx.Tx) StateLogRepository
}
