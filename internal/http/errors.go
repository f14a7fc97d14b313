package http

import (
	"errors"
	"net/http"
	"time"

	echo "github.com/labstack/echo/v4"

	"github.com/trainu/coach-inbox/internal/drafting"
	"github.com/trainu/coach-inbox/internal/model"
	"github.com/trainu/coach-inbox/internal/service/inbox"
	"github.com/trainu/coach-inbox/internal/triggers"
)

// writeError maps service errors onto status codes. Anything unrecognized is
// logged and hidden behind a generic 500.
func writeError(c echo.Context, err error) error {
	var ve *inbox.ValidationError
	switch {
	case errors.Is(err, inbox.ErrNotFound):
		return c.JSON(http.StatusNotFound, map[string]string{"error": err.Error()})

	case errors.As(err, &ve) && inbox.Deferred(err):
		return c.JSON(http.StatusConflict, map[string]string{"error": ve.Error(), "field": ve.Field})

	case errors.As(err, &ve):
		return c.JSON(http.StatusBadRequest, map[string]string{"error": ve.Error(), "field": ve.Field})

	case errors.Is(err, model.ErrIllegalTransition), errors.Is(err, triggers.ErrNotNoShow):
		return c.JSON(http.StatusConflict, map[string]string{"error": err.Error()})

	case errors.Is(err, inbox.ErrDuplicate):
		return c.JSON(http.StatusConflict, map[string]string{"error": "already processed"})

	case errors.Is(err, drafting.ErrGeneration):
		return c.JSON(http.StatusBadGateway, map[string]string{"error": "draft generation failed"})
	}

	c.Logger().Errorf("request failed: %v", err)
	return c.JSON(http.StatusInternalServerError, map[string]string{"error": "internal error"})
}

type messageResponse struct {
	ID                     string            `json:"id"`
	ThreadID               string            `json:"threadId"`
	Type                   model.MessageType `json:"messageType"`
	Status                 model.Status      `json:"status"`
	Subject                string            `json:"subject"`
	Body                   string            `json:"body"`
	RecipientUserID        *string           `json:"recipientUserId,omitempty"`
	RecipientContactID     *string           `json:"recipientContactId,omitempty"`
	IsAIGenerated          bool              `json:"isAiGenerated"`
	RequiresApproval       bool              `json:"requiresApproval"`
	SensitiveTopicDetected bool              `json:"sensitiveTopicDetected"`
	Channel                *model.Channel    `json:"channel,omitempty"`
	ErrorMessage           *string           `json:"errorMessage,omitempty"`
	ApprovalNote           *string           `json:"approvalNote,omitempty"`
	ImpactScore            int               `json:"impactScore"`
	Metadata               model.Metadata    `json:"metadata"`
	SnoozedUntil           *time.Time        `json:"snoozedUntil,omitempty"`
	CreatedAt              time.Time         `json:"createdAt"`
	UpdatedAt              time.Time         `json:"updatedAt"`
	ApprovedAt             *time.Time        `json:"approvedAt,omitempty"`
	SentAt                 *time.Time        `json:"sentAt,omitempty"`
}

func toResponse(m *model.Message) messageResponse {
	return messageResponse{
		ID:                     m.ID,
		ThreadID:               m.ThreadID,
		Type:                   m.Type,
		Status:                 m.Status,
		Subject:                m.Subject,
		Body:                   m.Body,
		RecipientUserID:        m.RecipientUserID,
		RecipientContactID:     m.RecipientContactID,
		IsAIGenerated:          m.IsAIGenerated,
		RequiresApproval:       m.RequiresApproval,
		SensitiveTopicDetected: m.SensitiveTopicDetected,
		Channel:                m.Channel,
		ErrorMessage:           m.ErrorMessage,
		ApprovalNote:           m.ApprovalNote,
		ImpactScore:            m.ImpactScore,
		Metadata:               m.Metadata,
		SnoozedUntil:           m.SnoozedUntil,
		CreatedAt:              m.CreatedAt,
		UpdatedAt:              m.UpdatedAt,
		ApprovedAt:             m.ApprovedAt,
		SentAt:                 m.SentAt,
	}
}
