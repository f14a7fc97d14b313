package model

import "time"

type EventName string

const (
	EventMessageDrafted         EventName = "message_drafted"
	EventMessageApproved        EventName = "message_approved"
	EventMessageSent            EventName = "message_sent"
	EventMessageFailed          EventName = "message_failed"
	EventMessageEdited          EventName = "message_edited"
	EventMessageSnoozed         EventName = "message_snoozed"
	EventMessageDismissed       EventName = "message_dismissed"
	EventInsightCreated         EventName = "insight_created"
	EventWeeklyDigestGenerated  EventName = "weekly_digest_generated"
	EventSyncOK                 EventName = "sync_ok"
	EventSyncRetry              EventName = "sync_retry"
	EventSyncDropped            EventName = "sync_dropped"
	EventReconciliationStarted  EventName = "reconciliation_started"
	EventReconciliationComplete EventName = "reconciliation_completed"
)

// Envelope is the analytics event payload carried through outbox -> Kafka -> ClickHouse.
type Envelope struct {
	ID         string            `json:"id"` // ULID
	Event      EventName         `json:"event"`
	TrainerID  string            `json:"trainer_id,omitempty"`
	MessageID  string            `json:"message_id,omitempty"`
	Properties map[string]string `json:"properties,omitempty"`
	OccurredAt time.Time         `json:"occurred_at"`
}
