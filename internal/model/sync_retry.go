package model

import "time"

type RetryKind string

const (
	RetryWebhook  RetryKind = "webhook"
	RetryDelivery RetryKind = "delivery"
)

type RetryStatus string

const (
	RetryPending RetryStatus = "pending"
	RetryDone    RetryStatus = "done"
	RetryDropped RetryStatus = "dropped"
)

// SyncRetry is a queued re-attempt of a failed sync or delivery.
type SyncRetry struct {
	ID            string      `db:"id"`
	Kind          RetryKind   `db:"kind"`
	RefID         string      `db:"ref_id"`
	Payload       []byte      `db:"payload"`
	Attempts      int         `db:"attempts"`
	Status        RetryStatus `db:"status"`
	LastError     *string     `db:"last_error"`
	NextAttemptAt time.Time   `db:"next_attempt_at"`
	CreatedAt     time.Time   `db:"created_at"`
	UpdatedAt     time.Time   `db:"updated_at"`
}

// DeliveryRetryPayload is the body of a delivery retry row.
type DeliveryRetryPayload struct {
	MessageID string  `json:"messageId"`
	TrainerID string  `json:"trainerId"`
	Channel   Channel `json:"channel"`
}
