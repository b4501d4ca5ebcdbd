package outbox

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/spei-ledger/internal/domain/shared"
	"github.com/spei-ledger/internal/domain/transaction"
)

// Message stores a status-change event until it is published to Kafka.
// It is written in the same database transaction as the status change.
type Message struct {
	ID            int64               `json:"id"`
	TransactionID uuid.UUID           `json:"transaction_id"`
	Payload       json.RawMessage     `json:"payload"`
	Status        shared.OutboxStatus `json:"status"`
	Attempts      int                 `json:"attempts"`
	CreatedAt     time.Time           `json:"created_at"`
	LastAttemptAt *time.Time          `json:"last_attempt_at,omitempty"`
}

func NewMessage(event *transaction.StatusChangedEvent) (*Message, error) {
	payload, err := json.Marshal(event)
	if err != nil {
		return nil, err
	}

	return &Message{
		TransactionID: event.TransactionID,
		Payload:       payload,
		Status:        shared.OutboxStatusPending,
		CreatedAt:     event.OccurredAt,
	}, nil
}

func (m *Message) IncrementAttempts(at time.Time) {
	m.Attempts++
	m.LastAttemptAt = &at
}

func (m *Message) MarkAsProcessed(at time.Time) {
	m.Status = shared.OutboxStatusProcessed
	m.LastAttemptAt = &at
}

func (m *Message) MarkAsFailed(at time.Time) {
	m.Status = shared.OutboxStatusFailedToPublish
	m.LastAttemptAt = &at
}

// Event decodes the status-change event carried by the message.
func (m *Message) Event() (*transaction.StatusChangedEvent, error) {
	var event transaction.StatusChangedEvent
	if err := json.Unmarshal(m.Payload, &event); err != nil {
		return nil, err
	}
	return &event, nil
}
