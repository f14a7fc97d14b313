package model

import (
	"errors"
	"strings"
	"time"
)

type MessageType string

const (
	TypeBookingConfirmation MessageType = "booking_confirmation"
	TypeBookingReminder     MessageType = "booking_reminder"
	TypeBookingReschedule   MessageType = "booking_reschedule"
	TypeNoShowRecovery      MessageType = "no_show_recovery"
	TypeProgressCelebration MessageType = "progress_celebration"
	TypeWeeklyCheckin       MessageType = "weekly_checkin"
	TypeAtRiskOutreach      MessageType = "at_risk_outreach"
	TypeGeneralReply        MessageType = "general_reply"
	// TypeWeeklyDigest is the self-addressed trainer summary; it is never drafted by the LLM.
	TypeWeeklyDigest MessageType = "weekly_digest"
)

var draftableTypes = []MessageType{
	TypeBookingConfirmation,
	TypeBookingReminder,
	TypeBookingReschedule,
	TypeNoShowRecovery,
	TypeProgressCelebration,
	TypeWeeklyCheckin,
	TypeAtRiskOutreach,
	TypeGeneralReply,
}

// DraftableTypes lists the types the draft generator has prompts for.
func DraftableTypes() []MessageType {
	out := make([]MessageType, len(draftableTypes))
	copy(out, draftableTypes)
	return out
}

func (t MessageType) String() string { return string(t) }

// Valid reports whether t is a draftable message type.
func (t MessageType) Valid() bool {
	for _, d := range draftableTypes {
		if t == d {
			return true
		}
	}
	return false
}

// ParseMessageType normalizes input; returns (value, true) when draftable.
func ParseMessageType(s string) (MessageType, bool) {
	t := MessageType(strings.ToLower(strings.TrimSpace(s)))
	return t, t.Valid()
}

type Channel string

const (
	ChannelSMS   Channel = "sms"
	ChannelEmail Channel = "email"
	ChannelInApp Channel = "in_app"
)

func (c Channel) String() string { return string(c) }

// ParseChannel accepts the outbound channels a trainer may pick ("sms" | "email").
func ParseChannel(s string) (Channel, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "sms":
		return ChannelSMS, true
	case "email":
		return ChannelEmail, true
	default:
		return "", false
	}
}

var ErrRecipient = errors.New("message must have exactly one recipient: user or contact")

// Message is the DB entity persisted in the messages table.
type Message struct {
	ID       string `db:"id"`
	ThreadID string `db:"thread_id"`

	SenderID           string  `db:"sender_user_id"`
	RecipientUserID    *string `db:"recipient_user_id"`
	RecipientContactID *string `db:"recipient_contact_id"`

	Type    MessageType `db:"message_type"`
	Subject string      `db:"subject"`
	Body    string      `db:"body"`
	Status  Status      `db:"status"`

	IsAIGenerated          bool `db:"is_ai_generated"`
	RequiresApproval       bool `db:"requires_approval"`
	SensitiveTopicDetected bool `db:"sensitive_topic_detected"`

	Channel           *Channel `db:"channel"`
	ProviderMessageID *string  `db:"provider_message_id"`
	ErrorMessage      *string  `db:"error_message"`
	ApprovedBy        *string  `db:"approved_by_user_id"`
	ApprovalNote      *string  `db:"approval_note"`

	// Denormalized from Metadata for dedupe lookups and inbox ordering.
	WorkflowType   *WorkflowType `db:"workflow_type"`
	IdempotencyKey *string       `db:"idempotency_key"`
	ImpactScore    int           `db:"impact_score"`

	Metadata Metadata `db:"metadata"`

	SnoozedUntil *time.Time `db:"snoozed_until"`
	CreatedAt    time.Time  `db:"created_at"`
	UpdatedAt    time.Time  `db:"updated_at"`
	ApprovedAt   *time.Time `db:"approved_at"`
	SentAt       *time.Time `db:"sent_at"`
}

// ValidateRecipient enforces that exactly one of user/contact is set.
func (m *Message) ValidateRecipient() error {
	hasUser := m.RecipientUserID != nil && *m.RecipientUserID != ""
	hasContact := m.RecipientContactID != nil && *m.RecipientContactID != ""
	if hasUser == hasContact {
		return ErrRecipient
	}
	return nil
}

// SyncDenormalized copies dedupe and ordering fields out of Metadata.
func (m *Message) SyncDenormalized() {
	m.ImpactScore = m.Metadata.ImpactScore
	if m.Metadata.Provenance == nil {
		m.WorkflowType = nil
		m.IdempotencyKey = nil
		return
	}
	wt := m.Metadata.Provenance.Workflow()
	m.WorkflowType = &wt
	if key := m.Metadata.Provenance.IdempotencyKey(); key != "" {
		m.IdempotencyKey = &key
	} else {
		m.IdempotencyKey = nil
	}
}

// Ptr is a small helper for optional columns.
func Ptr[T any](v T) *T { return &v }
