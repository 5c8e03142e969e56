package http

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/jmehdipour/newsletter-gateway/internal/config"
	"github.com/jmehdipour/newsletter-gateway/internal/email"
	"github.com/jmehdipour/newsletter-gateway/internal/http/middleware"
	"github.com/jmehdipour/newsletter-gateway/internal/metrics"
	"github.com/jmehdipour/newsletter-gateway/internal/repository"
	"github.com/jmehdipour/newsletter-gateway/internal/retry"
	"github.com/jmehdipour/newsletter-gateway/internal/service/publish"
	"github.com/jmehdipour/newsletter-gateway/internal/service/subscription"
	"github.com/jmehdipour/newsletter-gateway/internal/template"
	"github.com/jmoiron/sqlx"
	"github.com/labstack/echo/v4"
	echoMid "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

type Server struct{ e *echo.Echo }

func NewServer(cfg config.Config, mysqlDB, clickhouseDB *sqlx.DB, rds *redis.Client, log *zap.Logger) (*Server, error) {
	// repos (MySQL)
	adminsRepo := repository.NewAdminsRepository(mysqlDB)
	subscribersRepo := repository.NewSubscribersRepository(mysqlDB)
	issuesRepo := repository.NewIssuesRepository(mysqlDB)
	idemRepo := repository.NewIdempotencyRepository(mysqlDB)
	queueRepo := repository.NewDeliveryQueueRepository(mysqlDB, retry.Policy{
		MaxRetries: cfg.Delivery.MaxRetries,
		BaseDelay:  cfg.Delivery.BackoffBase,
		MaxDelay:   cfg.Delivery.BackoffMax,
	})

	// repos (ClickHouse)
	eventsRepo := repository.NewDeliveryEventsRepository(clickhouseDB)

	// email transport for confirmation mails
	provs := email.ProvidersFromConfig(cfg.Providers)
	if len(provs) == 0 {
		return nil, fmt.Errorf("no providers enabled in config")
	}
	sender := email.NewDispatcher(provs, cfg.Delivery.SendAttempts)
	renderer := template.NewRenderer(cfg.Application.BaseURL)

	// services
	publishSvc := publish.New(mysqlDB, issuesRepo, subscribersRepo, queueRepo, idemRepo, log)
	subscriptionSvc := subscription.New(subscribersRepo, sender, renderer, log)

	// echo
	e := echo.New()
	e.HideBanner = true
	e.Use(echoMid.Recover(), echoMid.Logger())

	metrics.MustRegister(prometheus.DefaultRegisterer)

	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	// health
	e.GET("/healthz", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })

	// middlewares
	authMW := middleware.APIKeyMiddleware(adminsRepo)
	rlMW := middleware.RateLimitMiddleware(middleware.RateLimitConfig{
		Redis:          rds,
		RPS:            cfg.RateLimit.RPS,
		KeyPrefix:      "rl:ip:",
		Window:         time.Second,
		RetryAfterHint: true,
	})

	// public subscription routes
	sub := e.Group("/subscriptions", rlMW)
	sub.POST("", subscribeHandler(subscriptionSvc))
	sub.GET("/confirm", confirmHandler(subscriptionSvc))
	sub.GET("/unsubscribe", unsubscribeHandler(subscriptionSvc))

	// admin routes
	admin := e.Group("/admin", authMW)
	admin.POST("/newsletters", publishNewsletterHandler(publishSvc))
	admin.GET("/newsletters", listNewslettersHandler(issuesRepo))
	admin.GET("/newsletters/:id", getNewsletterHandler(issuesRepo))
	admin.GET("/deliveries/dead-letter", listDeadLetteredHandler(queueRepo))
	admin.GET("/reports/deliveries", listDeliveryEventsHandler(eventsRepo))

	return &Server{e: e}, nil
}

func (s *Server) Start(addr string) error {
	return s.e.Start(addr)
}
func (s *Server) Shutdown(ctx context.Context) error { return s.e.Shutdown(ctx) }
