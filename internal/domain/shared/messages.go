// Package shared holds message contracts exchanged between the API gateway
// and the transaction processor.
package shared

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

var ErrInvalidReconciliationRequest = errors.New("invalid reconciliation request")

// OutboxStatus defines message publishing states
type OutboxStatus string

const (
	OutboxStatusPending         OutboxStatus = "PENDING"
	OutboxStatusProcessed       OutboxStatus = "PROCESSED"
	OutboxStatusFailedToPublish OutboxStatus = "FAILED_TO_PUBLISH"
)

// ReconciliationRequest is the Kafka message asking the processor to run a
// reconciliation outside the schedule.
type ReconciliationRequest struct {
	RequestID     uuid.UUID     `json:"request_id"`
	Account       string        `json:"account,omitempty"`
	Window        time.Duration `json:"window,omitempty"`
	RequestedBy   string        `json:"requested_by"`
	CorrelationID string        `json:"correlation_id"`
	Timestamp     time.Time     `json:"timestamp"`
}

// Validate checks the fields a consumer relies on.
func (r *ReconciliationRequest) Validate() error {
	if r.RequestID == uuid.Nil {
		return errors.Join(ErrInvalidReconciliationRequest, errors.New("request_id is required"))
	}
	if r.Window < 0 {
		return errors.Join(ErrInvalidReconciliationRequest, errors.New("window must not be negative"))
	}
	return nil
}
