package http

import (
	"net/http"
	"strings"

	"github.com/jmehdipour/newsletter-gateway/internal/model"
	"github.com/jmehdipour/newsletter-gateway/internal/repository"
	echo "github.com/labstack/echo/v4"
	"github.com/labstack/gommon/log"
)

func listDeliveryEventsHandler(events repository.DeliveryEventsRepository) echo.HandlerFunc {
	return func(c echo.Context) error {
		limit, offset := pagination(c)

		var outcome model.DeliveryOutcome
		if raw := strings.TrimSpace(c.QueryParam("outcome")); raw != "" {
			outcome = model.DeliveryOutcome(raw)
		}
		issueID := strings.TrimSpace(c.QueryParam("issue_id"))

		rows, err := events.List(c.Request().Context(), issueID, outcome, limit, offset)
		if err != nil {
			log.Errorf("clickhouse list failed: %v", err)

			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "query failed"})
		}

		return c.JSON(http.StatusOK, map[string]any{
			"limit":   limit,
			"offset":  offset,
			"count":   len(rows),
			"results": rows,
		})
	}
}
