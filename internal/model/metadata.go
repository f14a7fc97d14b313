package model

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

type WorkflowType string

const (
	WorkflowManual              WorkflowType = "manual"
	WorkflowBookingNudge        WorkflowType = "booking_confirmation_nudge"
	WorkflowNoShowRecovery      WorkflowType = "no_show_recovery"
	WorkflowProgressCelebration WorkflowType = "progress_celebration"
	WorkflowWeeklyCheckin       WorkflowType = "weekly_checkin"
	WorkflowWeeklyDigest        WorkflowType = "weekly_digest"
	WorkflowAtRiskOutreach      WorkflowType = "at_risk_outreach"
)

// Provenance records which trigger produced a message. Each workflow has its
// own variant; IdempotencyKey is empty when the workflow does not dedupe.
type Provenance interface {
	Workflow() WorkflowType
	IdempotencyKey() string
}

type ManualProvenance struct{}

func (ManualProvenance) Workflow() WorkflowType { return WorkflowManual }
func (ManualProvenance) IdempotencyKey() string { return "" }

type BookingNudgeProvenance struct {
	AppointmentID string `json:"appointmentId"`
}

func (BookingNudgeProvenance) Workflow() WorkflowType { return WorkflowBookingNudge }
func (p BookingNudgeProvenance) IdempotencyKey() string {
	return AppointmentIdempotencyKey(p.AppointmentID, WorkflowBookingNudge)
}

type NoShowProvenance struct {
	AppointmentID string `json:"appointmentId"`
}

func (NoShowProvenance) Workflow() WorkflowType { return WorkflowNoShowRecovery }
func (p NoShowProvenance) IdempotencyKey() string {
	return AppointmentIdempotencyKey(p.AppointmentID, WorkflowNoShowRecovery)
}

type AchievementKind string

const (
	AchievementStreak        AchievementKind = "streak"
	AchievementGoalCompleted AchievementKind = "goal_completed"
	AchievementMilestone     AchievementKind = "milestone"
)

type ProgressProvenance struct {
	ClientID    string          `json:"clientId"`
	Achievement AchievementKind `json:"achievementType"`
	Ref         string          `json:"achievementRef,omitempty"`
	Count       int             `json:"count,omitempty"`
	GoalTitle   string          `json:"goalTitle,omitempty"`
	Description string          `json:"description,omitempty"`
}

func (ProgressProvenance) Workflow() WorkflowType { return WorkflowProgressCelebration }
func (p ProgressProvenance) IdempotencyKey() string {
	if p.Ref == "" {
		return ""
	}
	return fmt.Sprintf("%s:%s:%s:%s", WorkflowProgressCelebration, p.ClientID, p.Achievement, p.Ref)
}

type WeeklyCheckinProvenance struct {
	ClientID         string `json:"clientId"`
	Week             string `json:"week"` // ISO year-week, e.g. 2026-W42
	SessionsThisWeek int    `json:"sessionsThisWeek"`
}

func (WeeklyCheckinProvenance) Workflow() WorkflowType { return WorkflowWeeklyCheckin }
func (p WeeklyCheckinProvenance) IdempotencyKey() string {
	return fmt.Sprintf("%s:%s:%s", WorkflowWeeklyCheckin, p.ClientID, p.Week)
}

type WeeklyDigestProvenance struct {
	TrainerID    string `json:"trainerId"`
	Week         string `json:"week"`
	InsightCount int    `json:"insightCount"`
}

func (WeeklyDigestProvenance) Workflow() WorkflowType { return WorkflowWeeklyDigest }
func (p WeeklyDigestProvenance) IdempotencyKey() string {
	return fmt.Sprintf("%s:%s:%s", WorkflowWeeklyDigest, p.TrainerID, p.Week)
}

type AtRiskProvenance struct {
	InsightID string `json:"insightId"`
	RiskScore int    `json:"riskScore"`
}

func (AtRiskProvenance) Workflow() WorkflowType { return WorkflowAtRiskOutreach }
func (p AtRiskProvenance) IdempotencyKey() string {
	if p.InsightID == "" {
		return ""
	}
	return fmt.Sprintf("%s:%s", WorkflowAtRiskOutreach, p.InsightID)
}

// AppointmentIdempotencyKey derives the dedupe key for appointment-bound workflows.
func AppointmentIdempotencyKey(appointmentID string, wf WorkflowType) string {
	return fmt.Sprintf("%s:%s", wf, appointmentID)
}

// ModelUsage records which LLM produced the draft.
type ModelUsage struct {
	Model       string    `json:"model"`
	TotalTokens int       `json:"tokens"`
	GeneratedAt time.Time `json:"generatedAt"`
}

// Metadata is the typed replacement for the free-form metadata bag. Extra
// holds only genuinely unstructured fields.
type Metadata struct {
	MessageType            MessageType
	SensitiveTopicDetected bool
	CorrelationID          string
	ImpactScore            int
	Usage                  *ModelUsage
	Provenance             Provenance
	Extra                  map[string]any
}

type metadataJSON struct {
	MessageType            MessageType     `json:"messageType,omitempty"`
	SensitiveTopicDetected bool            `json:"sensitiveTopicDetected,omitempty"`
	CorrelationID          string          `json:"correlationId,omitempty"`
	ImpactScore            int             `json:"impactScore,omitempty"`
	Usage                  *ModelUsage     `json:"usage,omitempty"`
	WorkflowType           WorkflowType    `json:"workflowType,omitempty"`
	Workflow               json.RawMessage `json:"workflow,omitempty"`
	Extra                  map[string]any  `json:"extra,omitempty"`
}

func (m Metadata) MarshalJSON() ([]byte, error) {
	out := metadataJSON{
		MessageType:            m.MessageType,
		SensitiveTopicDetected: m.SensitiveTopicDetected,
		CorrelationID:          m.CorrelationID,
		ImpactScore:            m.ImpactScore,
		Usage:                  m.Usage,
		Extra:                  m.Extra,
	}
	if m.Provenance != nil {
		out.WorkflowType = m.Provenance.Workflow()
		raw, err := json.Marshal(m.Provenance)
		if err != nil {
			return nil, err
		}
		out.Workflow = raw
	}
	return json.Marshal(out)
}

func (m *Metadata) UnmarshalJSON(b []byte) error {
	var in metadataJSON
	if err := json.Unmarshal(b, &in); err != nil {
		return err
	}
	*m = Metadata{
		MessageType:            in.MessageType,
		SensitiveTopicDetected: in.SensitiveTopicDetected,
		CorrelationID:          in.CorrelationID,
		ImpactScore:            in.ImpactScore,
		Usage:                  in.Usage,
		Extra:                  in.Extra,
	}
	if in.WorkflowType == "" {
		return nil
	}
	p, err := decodeProvenance(in.WorkflowType, in.Workflow)
	if err != nil {
		return err
	}
	m.Provenance = p
	return nil
}

func decodeProvenance(wf WorkflowType, raw json.RawMessage) (Provenance, error) {
	var p Provenance
	switch wf {
	case WorkflowManual:
		return ManualProvenance{}, nil
	case WorkflowBookingNudge:
		p = &BookingNudgeProvenance{}
	case WorkflowNoShowRecovery:
		p = &NoShowProvenance{}
	case WorkflowProgressCelebration:
		p = &ProgressProvenance{}
	case WorkflowWeeklyCheckin:
		p = &WeeklyCheckinProvenance{}
	case WorkflowWeeklyDigest:
		p = &WeeklyDigestProvenance{}
	case WorkflowAtRiskOutreach:
		p = &AtRiskProvenance{}
	default:
		return nil, fmt.Errorf("unknown workflow type %q", wf)
	}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, p); err != nil {
			return nil, fmt.Errorf("decode %s provenance: %w", wf, err)
		}
	}
	// hand back value variants so type switches stay simple
	switch v := p.(type) {
	case *BookingNudgeProvenance:
		return *v, nil
	case *NoShowProvenance:
		return *v, nil
	case *ProgressProvenance:
		return *v, nil
	case *WeeklyCheckinProvenance:
		return *v, nil
	case *WeeklyDigestProvenance:
		return *v, nil
	case *AtRiskProvenance:
		return *v, nil
	}
	return p, nil
}

// Value stores Metadata as a JSON column.
func (m Metadata) Value() (driver.Value, error) {
	b, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan reads Metadata from a JSON column.
func (m *Metadata) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*m = Metadata{}
		return nil
	case []byte:
		if len(v) == 0 {
			*m = Metadata{}
			return nil
		}
		return json.Unmarshal(v, m)
	case string:
		if v == "" {
			*m = Metadata{}
			return nil
		}
		return json.Unmarshal([]byte(v), m)
	default:
		return errors.New("metadata: unsupported scan source")
	}
}
