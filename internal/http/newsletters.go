package http

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/jmehdipour/newsletter-gateway/internal/http/middleware"
	"github.com/jmehdipour/newsletter-gateway/internal/repository"
	"github.com/jmehdipour/newsletter-gateway/internal/service/publish"
	echo "github.com/labstack/echo/v4"
	"github.com/labstack/gommon/log"
)

const idempotencyKeyHeader = "Idempotency-Key"

func publishNewsletterHandler(pub *publish.Service) echo.HandlerFunc {
	return func(c echo.Context) error {
		var req publish.IssueInput
		if err := c.Bind(&req); err != nil {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "bad request"})
		}

		req.Title = strings.TrimSpace(req.Title)

		adminID, ok := middleware.AdminIDFromCtx(c)
		if !ok || adminID <= 0 {
			return c.JSON(http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		}

		key := strings.TrimSpace(c.Request().Header.Get(idempotencyKeyHeader))

		res, err := pub.Publish(c.Request().Context(), adminID, key, req)
		if err != nil {
			var verrs validation.Errors
			if errors.As(err, &verrs) {
				return c.JSON(http.StatusBadRequest, map[string]any{"error": "invalid input", "fields": verrs})
			}
			if errors.Is(err, publish.ErrInvalidIdempotencyKey) {
				return c.JSON(http.StatusBadRequest, map[string]string{"error": "idempotency key must be a UUID"})
			}

			log.Errorf("publish failed: %v", err)

			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "publish failed"})
		}

		if res.Replayed {
			c.Response().Header().Set("Idempotent-Replayed", "true")
		}
		return c.JSONBlob(res.StatusCode, res.Body)
	}
}

func listNewslettersHandler(issues repository.IssuesRepository) echo.HandlerFunc {
	return func(c echo.Context) error {
		limit, offset := pagination(c)

		rows, err := issues.List(c.Request().Context(), limit, offset)
		if err != nil {
			log.Errorf("list issues failed: %v", err)

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

func getNewsletterHandler(issues repository.IssuesRepository) echo.HandlerFunc {
	return func(c echo.Context) error {
		issue, err := issues.Get(c.Request().Context(), c.Param("id"))
		if err != nil {
			log.Errorf("get issue failed: %v", err)

			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "query failed"})
		}
		if issue == nil {
			return c.JSON(http.StatusNotFound, map[string]string{"error": "not found"})
		}

		return c.JSON(http.StatusOK, issue)
	}
}

func listDeadLetteredHandler(queue repository.DeliveryQueueRepository) echo.HandlerFunc {
	return func(c echo.Context) error {
		limit, offset := pagination(c)

		rows, err := queue.ListDeadLettered(c.Request().Context(), limit, offset)
		if err != nil {
			log.Errorf("list dead-lettered failed: %v", err)

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

func pagination(c echo.Context) (limit, offset int) {
	limit = 50
	offset = 0
	if v := c.QueryParam("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 1000 {
			limit = n
		}
	}
	if v := c.QueryParam("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			offset = n
		}
	}
	return limit, offset
}
