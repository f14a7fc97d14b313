package http

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	echo "github.com/labstack/echo/v4"

	"github.com/trainu/coach-inbox/internal/drafting"
	"github.com/trainu/coach-inbox/internal/http/middleware"
	"github.com/trainu/coach-inbox/internal/model"
	"github.com/trainu/coach-inbox/internal/service/inbox"
)

type createDraftRequest struct {
	MessageType string           `json:"messageType"`
	ClientID    string           `json:"clientId"`
	ContactID   string           `json:"contactId"`
	Context     drafting.Context `json:"context"`
}

func unauthorized(c echo.Context) error {
	return c.JSON(http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
}

func badJSON(c echo.Context) error {
	return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid json"})
}

func createDraftHandler(svc *inbox.Service) echo.HandlerFunc {
	return func(c echo.Context) error {
		trainerID, ok := middleware.TrainerIDFromCtx(c)
		if !ok {
			return unauthorized(c)
		}
		var req createDraftRequest
		if err := c.Bind(&req); err != nil {
			return badJSON(c)
		}
		t, valid := model.ParseMessageType(req.MessageType)
		if !valid {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "unsupported messageType", "field": "messageType"})
		}

		m, err := svc.GenerateDraft(c.Request().Context(), inbox.DraftInput{
			TrainerID: trainerID,
			Type:      t,
			ClientID:  strings.TrimSpace(req.ClientID),
			ContactID: strings.TrimSpace(req.ContactID),
			Context:   req.Context,
		})
		if err != nil {
			return writeError(c, err)
		}
		return c.JSON(http.StatusCreated, map[string]any{
			"messageId":        m.ID,
			"subject":          m.Subject,
			"body":             m.Body,
			"requiresApproval": m.RequiresApproval,
			"status":           m.Status,
		})
	}
}

func listInboxHandler(svc *inbox.Service) echo.HandlerFunc {
	return func(c echo.Context) error {
		trainerID, ok := middleware.TrainerIDFromCtx(c)
		if !ok {
			return unauthorized(c)
		}

		limit := inbox.DefaultListLimit
		if v := c.QueryParam("limit"); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 200 {
				limit = n
			}
		}
		sort := inbox.SortPriority
		if strings.EqualFold(c.QueryParam("sort"), string(inbox.SortNewest)) {
			sort = inbox.SortNewest
		}

		msgs, err := svc.ListInbox(c.Request().Context(), inbox.ListInput{
			TrainerID: trainerID,
			Status:    model.Status(strings.TrimSpace(c.QueryParam("status"))),
			Limit:     limit,
			Sort:      sort,
		})
		if err != nil {
			return writeError(c, err)
		}

		out := make([]messageResponse, 0, len(msgs))
		for i := range msgs {
			out = append(out, toResponse(&msgs[i]))
		}
		return c.JSON(http.StatusOK, map[string]any{
			"count":    len(out),
			"messages": out,
		})
	}
}

func getMessageHandler(svc *inbox.Service) echo.HandlerFunc {
	return func(c echo.Context) error {
		trainerID, ok := middleware.TrainerIDFromCtx(c)
		if !ok {
			return unauthorized(c)
		}
		m, err := svc.Get(c.Request().Context(), c.Param("id"), trainerID)
		if err != nil {
			return writeError(c, err)
		}
		return c.JSON(http.StatusOK, toResponse(m))
	}
}

func auditHandler(svc *inbox.Service) echo.HandlerFunc {
	return func(c echo.Context) error {
		trainerID, ok := middleware.TrainerIDFromCtx(c)
		if !ok {
			return unauthorized(c)
		}
		rows, err := svc.ListAudit(c.Request().Context(), c.Param("id"), trainerID)
		if err != nil {
			return writeError(c, err)
		}
		if rows == nil {
			rows = []model.MessageAudit{}
		}
		return c.JSON(http.StatusOK, map[string]any{"audit": rows})
	}
}

func success(c echo.Context, m *model.Message) error {
	return c.JSON(http.StatusOK, map[string]any{"success": true, "message": toResponse(m)})
}

type editRequest struct {
	Body    string  `json:"body"`
	Subject *string `json:"subject"`
}

func editHandler(svc *inbox.Service) echo.HandlerFunc {
	return func(c echo.Context) error {
		trainerID, ok := middleware.TrainerIDFromCtx(c)
		if !ok {
			return unauthorized(c)
		}
		var req editRequest
		if err := c.Bind(&req); err != nil {
			return badJSON(c)
		}
		m, err := svc.EditDraft(c.Request().Context(), inbox.EditInput{
			MessageID: c.Param("id"),
			TrainerID: trainerID,
			Body:      req.Body,
			Subject:   req.Subject,
		})
		if err != nil {
			return writeError(c, err)
		}
		return success(c, m)
	}
}

type approveRequest struct {
	EditedBody    *string `json:"editedBody"`
	EditedSubject *string `json:"editedSubject"`
	ApprovalNote  string  `json:"approvalNote"`
	Channel       string  `json:"channel"`
}

func approveHandler(svc *inbox.Service) echo.HandlerFunc {
	return func(c echo.Context) error {
		trainerID, ok := middleware.TrainerIDFromCtx(c)
		if !ok {
			return unauthorized(c)
		}
		var req approveRequest
		if err := c.Bind(&req); err != nil {
			return badJSON(c)
		}
		ch, valid := model.ParseChannel(req.Channel)
		if !valid {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "channel must be sms or email", "field": "channel"})
		}

		m, err := svc.ApproveAndSend(c.Request().Context(), inbox.ApproveInput{
			MessageID:     c.Param("id"),
			TrainerID:     trainerID,
			EditedBody:    req.EditedBody,
			EditedSubject: req.EditedSubject,
			ApprovalNote:  req.ApprovalNote,
			Channel:       ch,
		})
		if errors.Is(err, inbox.ErrDeliveryFailed) && m != nil {
			// approval is recorded; the send failed and is queued for retry
			return c.JSON(http.StatusBadGateway, map[string]any{
				"success": false,
				"error":   err.Error(),
				"message": toResponse(m),
			})
		}
		if err != nil {
			return writeError(c, err)
		}
		return success(c, m)
	}
}

type snoozeRequest struct {
	Duration string `json:"duration"`
}

func snoozeHandler(svc *inbox.Service) echo.HandlerFunc {
	return func(c echo.Context) error {
		trainerID, ok := middleware.TrainerIDFromCtx(c)
		if !ok {
			return unauthorized(c)
		}
		var req snoozeRequest
		if err := c.Bind(&req); err != nil {
			return badJSON(c)
		}
		m, err := svc.Snooze(c.Request().Context(), c.Param("id"), trainerID, req.Duration)
		if err != nil {
			return writeError(c, err)
		}
		return success(c, m)
	}
}

type reasonRequest struct {
	Reason string `json:"reason"`
}

func dismissHandler(svc *inbox.Service) echo.HandlerFunc {
	return func(c echo.Context) error {
		trainerID, ok := middleware.TrainerIDFromCtx(c)
		if !ok {
			return unauthorized(c)
		}
		var req reasonRequest
		if err := c.Bind(&req); err != nil {
			return badJSON(c)
		}
		m, err := svc.Dismiss(c.Request().Context(), c.Param("id"), trainerID, req.Reason)
		if err != nil {
			return writeError(c, err)
		}
		return success(c, m)
	}
}

func rejectHandler(svc *inbox.Service) echo.HandlerFunc {
	return func(c echo.Context) error {
		trainerID, ok := middleware.TrainerIDFromCtx(c)
		if !ok {
			return unauthorized(c)
		}
		var req reasonRequest
		if err := c.Bind(&req); err != nil {
			return badJSON(c)
		}
		m, err := svc.Reject(c.Request().Context(), c.Param("id"), trainerID, req.Reason)
		if err != nil {
			return writeError(c, err)
		}
		return success(c, m)
	}
}
