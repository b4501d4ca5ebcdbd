// Package webhook models processed processor notifications, the storage side
// of webhook idempotency.
package webhook

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/jackc/pgx/v5"
)

// Type identifies the notification shape.
type Type string

const (
	TypeDepositReceived    Type = "deposit_received"
	TypeOrderStatusChanged Type = "order_status_changed"
)

// Valid reports whether t is a known notification type.
func (t Type) Valid() bool {
	return t == TypeDepositReceived || t == TypeOrderStatusChanged
}

// Outcome is what happened to a notification.
type Outcome string

const (
	OutcomeSuccess   Outcome = "success"
	OutcomeFailed    Outcome = "failed"
	OutcomeDuplicate Outcome = "duplicate"
)

// Record marks a notification as consumed. Records are never updated.
// Only one non-duplicate record exists per (Type, TrackingKey).
type Record struct {
	ID          int64     `json:"id"`
	Type        Type      `json:"webhook_type"`
	TrackingKey string    `json:"tracking_key"`
	PayloadHash string    `json:"payload_hash"`
	Outcome     Outcome   `json:"outcome"`
	ErrorDetail *string   `json:"error_detail,omitempty"`
	ProcessedAt time.Time `json:"processed_at"`
}

// HashPayload returns the hex sha256 of a raw notification body.
func HashPayload(body []byte) string {
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:])
}

// Repository persists processed webhook records.
type Repository interface {
	// Insert stores the first record for a key. It returns false without error
	// when a non-duplicate record already exists for (Type, TrackingKey).
	Insert(ctx context.Context, r *Record) (bool, error)

	// InsertDuplicate stores an audit record for a redelivery.
	InsertDuplicate(ctx context.Context, r *Record) error

	// GetOriginal returns the non-duplicate record for a key.
	GetOriginal(ctx context.Context, t Type, trackingKey string) (*Record, error)

	// PurgeOlderThan deletes records processed before cutoff.
	PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error)

	WithTx(tx pgx.Tx) Repository
}

// ErrRecordNotFound indicates a missing processed webhook record.
type ErrRecordNotFound struct {
	Type        Type
	TrackingKey string
}

func (e ErrRecordNotFound) Error() string {
	return "processed webhook not found: " + string(e.Type) + "/" + e.TrackingKey
}
