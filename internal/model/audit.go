package model

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"
)

type AuditAction string

const (
	AuditCreated   AuditAction = "created"
	AuditEdited    AuditAction = "edited"
	AuditApproved  AuditAction = "approved"
	AuditSent      AuditAction = "sent"
	AuditSnoozed   AuditAction = "snoozed"
	AuditDismissed AuditAction = "dismissed"
	AuditFailed    AuditAction = "failed"
	AuditRejected  AuditAction = "rejected"
	AuditRequeued  AuditAction = "requeued"
)

// Changes is the old/new diff recorded on edits and edited approvals.
type Changes struct {
	OldBody    string `json:"oldBody,omitempty"`
	NewBody    string `json:"newBody,omitempty"`
	OldSubject string `json:"oldSubject,omitempty"`
	NewSubject string `json:"newSubject,omitempty"`
}

func (c *Changes) Value() (driver.Value, error) {
	if c == nil {
		return nil, nil
	}
	b, err := json.Marshal(c)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (c *Changes) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		return nil
	case []byte:
		return json.Unmarshal(v, c)
	case string:
		return json.Unmarshal([]byte(v), c)
	default:
		return errors.New("changes: unsupported scan source")
	}
}

// MessageAudit is an append-only row in message_audit.
type MessageAudit struct {
	ID        string      `db:"id" json:"id"`
	MessageID string      `db:"message_id" json:"messageId"`
	Action    AuditAction `db:"action" json:"action"`
	ActorID   string      `db:"actor_user_id" json:"actorId"`
	Note      *string     `db:"note" json:"note,omitempty"`
	Changes   *Changes    `db:"changes" json:"changes,omitempty"`
	CreatedAt time.Time   `db:"created_at" json:"createdAt"`
}
