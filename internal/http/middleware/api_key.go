package middleware

import (
	"net/http"
	"strings"

	echo "github.com/labstack/echo/v4"

	"github.com/trainu/coach-inbox/internal/repository"
)

const ctxTrainerID = "trainer_id"

// TrainerIDFromCtx extracts the authenticated trainer set by APIKeyMiddleware.
func TrainerIDFromCtx(c echo.Context) (string, bool) {
	id, ok := c.Get(ctxTrainerID).(string)
	return id, ok && id != ""
}

// APIKeyMiddleware authenticates requests using the X-API-Key header.
// On success it stores trainer_id in context; inactive trainers are refused.
func APIKeyMiddleware(trainers repository.TrainersRepository) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			key := strings.TrimSpace(c.Request().Header.Get("X-API-Key"))
			if key == "" {
				return c.JSON(http.StatusUnauthorized, map[string]string{"error": "missing api key"})
			}
			t, err := trainers.GetByAPIKey(c.Request().Context(), key)
			if err != nil {
				return c.JSON(http.StatusInternalServerError, map[string]string{"error": "auth error"})
			}
			if t == nil || !t.Active {
				return c.JSON(http.StatusUnauthorized, map[string]string{"error": "invalid api key"})
			}
			c.Set(ctxTrainerID, t.UserID)
			return next(c)
		}
	}
}
