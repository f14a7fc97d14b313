package model

import "time"

// WebhookEvent is the idempotency record for one inbound CRM delivery.
type WebhookEvent struct {
	EventID    string    `db:"event_id"`
	EventType  string    `db:"event_type"`
	Payload    []byte    `db:"payload"`
	ReceivedAt time.Time `db:"received_at"`
}
