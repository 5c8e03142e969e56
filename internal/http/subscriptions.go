package http

import (
	"errors"
	"net/http"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/jmehdipour/newsletter-gateway/internal/service/subscription"
	echo "github.com/labstack/echo/v4"
	"github.com/labstack/gommon/log"
)

func subscribeHandler(subs *subscription.Service) echo.HandlerFunc {
	return func(c echo.Context) error {
		var req subscription.SubscribeInput
		if err := c.Bind(&req); err != nil {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "bad request"})
		}

		req.Email = strings.TrimSpace(req.Email)
		req.Name = strings.TrimSpace(req.Name)

		err := subs.Subscribe(c.Request().Context(), req)
		if err != nil {
			var verrs validation.Errors
			if errors.As(err, &verrs) {
				return c.JSON(http.StatusBadRequest, map[string]any{"error": "invalid input", "fields": verrs})
			}

			log.Errorf("subscribe failed: %v", err)

			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "subscribe failed"})
		}

		return c.JSON(http.StatusAccepted, map[string]string{
			"status": "pending_confirmation",
		})
	}
}

func confirmHandler(subs *subscription.Service) echo.HandlerFunc {
	return func(c echo.Context) error {
		token := strings.TrimSpace(c.QueryParam("token"))
		if token == "" {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "missing token"})
		}

		err := subs.Confirm(c.Request().Context(), token)
		if errors.Is(err, subscription.ErrUnknownToken) {
			return c.JSON(http.StatusUnauthorized, map[string]string{"error": "unknown token"})
		}
		if err != nil {
			log.Errorf("confirm failed: %v", err)

			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "confirm failed"})
		}

		return c.JSON(http.StatusOK, map[string]string{"status": "confirmed"})
	}
}

func unsubscribeHandler(subs *subscription.Service) echo.HandlerFunc {
	return func(c echo.Context) error {
		token := strings.TrimSpace(c.QueryParam("token"))
		if token == "" {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "missing token"})
		}

		err := subs.Unsubscribe(c.Request().Context(), token)
		if errors.Is(err, subscription.ErrUnknownToken) {
			return c.JSON(http.StatusUnauthorized, map[string]string{"error": "unknown token"})
		}
		if err != nil {
			log.Errorf("unsubscribe failed: %v", err)

			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "unsubscribe failed"})
		}

		return c.JSON(http.StatusOK, map[string]string{"status": "unsubscribed"})
	}
}
