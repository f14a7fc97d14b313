package model

import "time"

// OutboxEvent is a pending row in the outbox table, relayed to Kafka in id order.
type OutboxEvent struct {
	ID          int64      `db:"id"`
	Aggregate   string     `db:"aggregate"`    // e.g. "message"
	AggregateID string     `db:"aggregate_id"` // message.ID, insight.ID, ...
	Topic       string     `db:"topic"`
	Payload     []byte     `db:"payload"`
	Attempts    int        `db:"attempts"`
	PublishedAt *time.Time `db:"published_at"`
	CreatedAt   time.Time  `db:"created_at"`
	UpdatedAt   time.Time  `db:"updated_at"`
}
