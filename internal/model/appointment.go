package model

import (
	"strings"
	"time"
)

type AppointmentStatus string

const (
	AppointmentScheduled AppointmentStatus = "scheduled"
	AppointmentConfirmed AppointmentStatus = "confirmed"
	AppointmentCancelled AppointmentStatus = "cancelled"
	AppointmentNoShow    AppointmentStatus = "noshow"
	AppointmentCompleted AppointmentStatus = "completed"
)

// ParseAppointmentStatus maps CRM spellings onto the local enum.
func ParseAppointmentStatus(s string) AppointmentStatus {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "confirmed":
		return AppointmentConfirmed
	case "cancelled", "canceled":
		return AppointmentCancelled
	case "noshow", "no_show", "no-show":
		return AppointmentNoShow
	case "completed", "showed":
		return AppointmentCompleted
	default:
		return AppointmentScheduled
	}
}

// Upcoming reports whether a nudge may still be sent for the appointment.
func (s AppointmentStatus) Upcoming() bool {
	return s == AppointmentScheduled || s == AppointmentConfirmed
}

type Appointment struct {
	ID               string            `db:"id" json:"id"`
	CRMAppointmentID string            `db:"crm_appointment_id" json:"crmAppointmentId"`
	TrainerID        string            `db:"trainer_user_id" json:"trainerId"`
	ClientID         *string           `db:"client_user_id" json:"clientId,omitempty"`
	ContactID        *string           `db:"contact_id" json:"contactId,omitempty"`
	Title            string            `db:"title" json:"title"`
	StartsAt         time.Time         `db:"starts_at" json:"startsAt"`
	Status           AppointmentStatus `db:"status" json:"status"`
	CreatedAt        time.Time         `db:"created_at" json:"createdAt"`
	UpdatedAt        time.Time         `db:"updated_at" json:"updatedAt"`
}
