package worker

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/jmehdipour/newsletter-gateway/internal/config"
	"github.com/jmehdipour/newsletter-gateway/internal/db"
	"github.com/jmehdipour/newsletter-gateway/internal/logger"
	"github.com/jmehdipour/newsletter-gateway/internal/repository"
	"github.com/jmehdipour/newsletter-gateway/internal/worker"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Run the idempotency-key cleanup worker",
	RunE:  runCleanup,
}

func runCleanup(cmd *cobra.Command, args []string) error {
	cfgPath, _ := cmd.Root().PersistentFlags().GetString("config")
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log := logger.New(cfg.Log.Level)
	defer func() { _ = log.Sync() }()

	dbx, err := db.NewMySQL(cfg.MySQL)
	if err != nil {
		return fmt.Errorf("mysql connect: %w", err)
	}
	defer dbx.Close()

	c := worker.NewCleanup(repository.NewIdempotencyRepository(dbx), log)
	if cfg.Idempotency.Lifetime > 0 {
		c.Lifetime = cfg.Idempotency.Lifetime
	}
	if cfg.Idempotency.CleanupInterval > 0 {
		c.Interval = cfg.Idempotency.CleanupInterval
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info(">> cleanup worker started",
		zap.Duration("lifetime", c.Lifetime),
		zap.Duration("interval", c.Interval),
	)

	return c.Run(ctx)
}
