// Package reconciliation models the outcome of a ledger-versus-processor sweep.
package reconciliation

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/spei-ledger/internal/domain/transaction"
)

// ItemError records a remote order the sweep could not reconcile.
type ItemError struct {
	Direction   transaction.Type `json:"direction"`
	OrderID     string           `json:"order_id,omitempty"`
	TrackingKey string           `json:"tracking_key,omitempty"`
	Message     string           `json:"message"`
}

// Summary is the result of one reconciliation run.
type Summary struct {
	RunID         uuid.UUID        `json:"run_id"`
	RequestedBy   string           `json:"requested_by"`
	Account       string           `json:"account,omitempty"`
	WindowStart   time.Time        `json:"window_start"`
	WindowEnd     time.Time        `json:"window_end"`
	StartedAt     time.Time        `json:"started_at"`
	FinishedAt    time.Time        `json:"finished_at"`
	Inserted      int              `json:"inserted"`
	Updated       int              `json:"updated"`
	Unchanged     int              `json:"unchanged"`
	Errored       int              `json:"errored"`
	Errors        []ItemError      `json:"errors"`
	Unmatched     []string         `json:"unmatched"` // tracking keys inserted without an owning account
	Unanswered    []string         `json:"unanswered"` // tracking keys of submissions the processor never received
	RemoteBalance *decimal.Decimal `json:"remote_balance,omitempty"`
	LocalBalance  decimal.Decimal  `json:"local_balance"`
	Discrepancy   *decimal.Decimal `json:"discrepancy,omitempty"`
	Significant   bool             `json:"significant"`
}

// RecordError appends a per-order failure.
func (s *Summary) RecordError(direction transaction.Type, orderID, trackingKey, message string) {
	s.Errored++
	s.Errors = append(s.Errors, ItemError{
		Direction:   direction,
		OrderID:     orderID,
		TrackingKey: trackingKey,
		Message:     message,
	})
}

// ApplyBalances sets both balances and flags the discrepancy when it exceeds tolerance.
func (s *Summary) ApplyBalances(remote, local, tolerance decimal.Decimal) {
	s.RemoteBalance = &remote
	s.LocalBalance = local
	d := remote.Sub(local)
	s.Discrepancy = &d
	s.Significant = d.Abs().GreaterThan(tolerance)
}

// Changed reports whether the run wrote anything to the ledger.
func (s *Summary) Changed() bool {
	return s.Inserted > 0 || s.Updated > 0
}

// Repository stores the history of reconciliation runs.
type Repository interface {
	Save(ctx context.Context, s *Summary) error
	GetByRunID(ctx context.Context, runID uuid.UUID) (*Summary, error)
	List(ctx context.Context, limit, offset int64) ([]*Summary, error)
}

// ErrReportNotFound indicates a missing reconciliation report.
type ErrReportNotFound struct {
	RunID uuid.UUID
}

func (e ErrReportNotFound) Error() string {
	return "reconciliation report not found: " + e.RunID.String()
}
