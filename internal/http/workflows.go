package http

import (
	"errors"
	"net/http"

	echo "github.com/labstack/echo/v4"

	"github.com/trainu/coach-inbox/internal/crmsync"
	"github.com/trainu/coach-inbox/internal/http/middleware"
	"github.com/trainu/coach-inbox/internal/model"
	"github.com/trainu/coach-inbox/internal/triggers"
)

type progressRequest struct {
	ClientID        string `json:"clientId"`
	AchievementType string `json:"achievementType"`
	AchievementRef  string `json:"achievementRef"`
	Count           int    `json:"count"`
	GoalTitle       string `json:"goalTitle"`
	Description     string `json:"description"`
}

func outcomeResponse(c echo.Context, o triggers.Outcome, m *model.Message) error {
	out := map[string]any{"ok": true, "outcome": o}
	if m != nil {
		out["messageId"] = m.ID
		out["status"] = m.Status
	}
	return c.JSON(http.StatusOK, out)
}

func progressHandler(runner *triggers.Runner) echo.HandlerFunc {
	return func(c echo.Context) error {
		trainerID, ok := middleware.TrainerIDFromCtx(c)
		if !ok {
			return unauthorized(c)
		}
		var req progressRequest
		if err := c.Bind(&req); err != nil {
			return badJSON(c)
		}
		o, m, err := runner.ProgressCelebration(c.Request().Context(), triggers.ProgressInput{
			TrainerID:   trainerID,
			ClientID:    req.ClientID,
			Achievement: model.AchievementKind(req.AchievementType),
			Ref:         req.AchievementRef,
			Count:       req.Count,
			GoalTitle:   req.GoalTitle,
			Description: req.Description,
		})
		if err != nil && m != nil {
			// drafted but the send failed; the retry queue owns it now
			return c.JSON(http.StatusBadGateway, map[string]any{
				"ok":        false,
				"error":     err.Error(),
				"messageId": m.ID,
				"status":    m.Status,
			})
		}
		if err != nil {
			return writeError(c, err)
		}
		return outcomeResponse(c, o, m)
	}
}

func noShowHandler(runner *triggers.Runner) echo.HandlerFunc {
	return func(c echo.Context) error {
		trainerID, ok := middleware.TrainerIDFromCtx(c)
		if !ok {
			return unauthorized(c)
		}
		o, m, err := runner.NoShowRecovery(c.Request().Context(), trainerID, c.Param("appointmentId"))
		if err != nil {
			return writeError(c, err)
		}
		return outcomeResponse(c, o, m)
	}
}

func outreachHandler(runner *triggers.Runner) echo.HandlerFunc {
	return func(c echo.Context) error {
		trainerID, ok := middleware.TrainerIDFromCtx(c)
		if !ok {
			return unauthorized(c)
		}
		m, err := runner.AtRiskOutreach(c.Request().Context(), trainerID, c.Param("id"))
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

func cronHandler(run func(echo.Context) triggers.Result) echo.HandlerFunc {
	return func(c echo.Context) error {
		res := run(c)
		return c.JSON(http.StatusOK, map[string]any{
			"ok":            true,
			"processed":     res.Processed,
			"skipped":       res.Skipped,
			"errors":        res.Errors,
			"correlationId": res.CorrelationID,
		})
	}
}

func webhookHandler(sync *crmsync.Syncer) echo.HandlerFunc {
	return func(c echo.Context) error {
		res, err := sync.HandleWebhook(c.Request().Context(), middleware.RawBodyFromCtx(c))
		if errors.Is(err, crmsync.ErrBadPayload) {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
		}
		if err != nil {
			c.Logger().Errorf("webhook: %v", err)
			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "webhook processing failed"})
		}
		return c.JSON(http.StatusOK, res)
	}
}

type reconcileRequest struct {
	Since string `json:"since"`
}

func reconcileHandler(sync *crmsync.Syncer) echo.HandlerFunc {
	return func(c echo.Context) error {
		var req reconcileRequest
		if err := c.Bind(&req); err != nil {
			return badJSON(c)
		}
		since, clamped, err := crmsync.ResolveSince(req.Since, sync.Now())
		if err != nil {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error(), "field": "since"})
		}
		res := sync.Reconcile(c.Request().Context(), since, clamped)
		return c.JSON(http.StatusOK, map[string]any{
			"ok":     true,
			"result": res,
		})
	}
}
