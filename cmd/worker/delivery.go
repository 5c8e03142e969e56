package worker

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/jmehdipour/newsletter-gateway/internal/config"
	"github.com/jmehdipour/newsletter-gateway/internal/db"
	"github.com/jmehdipour/newsletter-gateway/internal/email"
	"github.com/jmehdipour/newsletter-gateway/internal/logger"
	"github.com/jmehdipour/newsletter-gateway/internal/metrics"
	"github.com/jmehdipour/newsletter-gateway/internal/repository"
	"github.com/jmehdipour/newsletter-gateway/internal/retry"
	"github.com/jmehdipour/newsletter-gateway/internal/template"
	"github.com/jmehdipour/newsletter-gateway/internal/worker"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var deliveryCmd = &cobra.Command{
	Use:   "delivery",
	Short: "Run the issue delivery worker pool",
	RunE:  runDelivery,
}

func runDelivery(cmd *cobra.Command, args []string) error {
	// 1) load config
	cfgPath, _ := cmd.Root().PersistentFlags().GetString("config")
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log := logger.New(cfg.Log.Level)
	defer func() { _ = log.Sync() }()

	metrics.MustRegister(prometheus.DefaultRegisterer)

	// 2) DB connection (MySQL)
	dbx, err := db.NewMySQL(cfg.MySQL)
	if err != nil {
		return fmt.Errorf("mysql connect: %w", err)
	}
	defer dbx.Close()

	// 3) repositories
	policy := retry.Policy{
		MaxRetries: cfg.Delivery.MaxRetries,
		BaseDelay:  cfg.Delivery.BackoffBase,
		MaxDelay:   cfg.Delivery.BackoffMax,
	}
	queueRepo := repository.NewDeliveryQueueRepository(dbx, policy)
	subscribersRepo := repository.NewSubscribersRepository(dbx)
	issuesRepo := repository.NewIssuesRepository(dbx)

	// ClickHouse reporting is optional for the worker: deliveries proceed
	// without it.
	var eventsRepo repository.DeliveryEventsRepository
	if chDB, err := db.NewClickHouse(cfg.ClickHouse); err != nil {
		log.Warn("clickhouse unavailable, delivery events disabled", zap.Error(err))
	} else {
		defer func() { _ = chDB.Close() }()
		eventsRepo = repository.NewDeliveryEventsRepository(chDB)
	}

	// 4) email providers → dispatcher
	provs := email.ProvidersFromConfig(cfg.Providers)
	if len(provs) == 0 {
		return fmt.Errorf("no providers enabled in config")
	}
	sender := email.NewDispatcher(provs, cfg.Delivery.SendAttempts)

	w := worker.NewDelivery(
		queueRepo,
		subscribersRepo,
		issuesRepo,
		sender,
		template.NewRenderer(cfg.Application.BaseURL),
		log,
	)
	w.Events = eventsRepo

	// tune knobs
	if cfg.Delivery.WorkerCount > 0 {
		w.Workers = cfg.Delivery.WorkerCount
	}
	if cfg.Delivery.IdleInterval > 0 {
		w.IdleInterval = cfg.Delivery.IdleInterval
	}

	// 5) graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info(">> delivery worker started",
		zap.Int("workers", w.Workers),
		zap.Duration("idle_interval", w.IdleInterval),
		zap.Int("max_retries", policy.MaxRetries),
	)

	return w.Run(ctx)
}
