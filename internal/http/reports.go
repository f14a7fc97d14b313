package http

import (
	"net/http"
	"strconv"
	"time"

	echo "github.com/labstack/echo/v4"

	"github.com/trainu/coach-inbox/internal/http/middleware"
	"github.com/trainu/coach-inbox/internal/repository"
)

// eventReportHandler aggregates the trainer's analytics events from ClickHouse.
func eventReportHandler(chRepo repository.CHEventsRepository) echo.HandlerFunc {
	return func(c echo.Context) error {
		trainerID, ok := middleware.TrainerIDFromCtx(c)
		if !ok {
			return unauthorized(c)
		}
		if chRepo == nil {
			return c.JSON(http.StatusServiceUnavailable, map[string]string{"error": "reports unavailable"})
		}

		days := 7
		if v := c.QueryParam("days"); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 90 {
				days = n
			}
		}
		since := time.Now().UTC().AddDate(0, 0, -days)

		rows, err := chRepo.CountByTrainer(c.Request().Context(), trainerID, since)
		if err != nil {
			c.Logger().Errorf("clickhouse report failed: %v", err)

			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "query failed"})
		}
		if rows == nil {
			rows = []repository.EventCount{}
		}

		return c.JSON(http.StatusOK, map[string]any{
			"days":    days,
			"since":   since,
			"count":   len(rows),
			"results": rows,
		})
	}
}
