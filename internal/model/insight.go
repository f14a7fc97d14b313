package model

import "time"

const InsightAtRisk = "at_risk"

type InsightStatus string

const (
	InsightPending  InsightStatus = "pending"
	InsightConsumed InsightStatus = "consumed"
)

// Insight is a scored risk finding for one client of a trainer.
type Insight struct {
	ID              string        `db:"id" json:"id"`
	TrainerID       string        `db:"trainer_user_id" json:"trainerId"`
	ClientID        string        `db:"client_user_id" json:"clientId"`
	Type            string        `db:"type" json:"type"`
	RiskScore       int           `db:"risk_score" json:"riskScore"`
	Reason          string        `db:"reason" json:"reason"`
	SuggestedAction string        `db:"suggested_action" json:"suggestedAction"`
	Status          InsightStatus `db:"status" json:"status"`
	CreatedAt       time.Time     `db:"created_at" json:"createdAt"`
}
