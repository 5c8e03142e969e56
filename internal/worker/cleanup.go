package worker

import (
	"context"
	"time"

	"github.com/jmehdipour/newsletter-gateway/internal/repository"
	"go.uber.org/zap"
)

// Cleanup periodically deletes idempotency records older than Lifetime.
// Expired keys just lose replay protection; a very old retry re-executes as a
// fresh publish, which is why Lifetime should comfortably exceed any client
// retry horizon.
type Cleanup struct {
	Idempotency repository.IdempotencyRepository
	Log         *zap.Logger

	Lifetime time.Duration // how long records are kept
	Interval time.Duration // how often to sweep
}

func NewCleanup(idemRepo repository.IdempotencyRepository, log *zap.Logger) *Cleanup {
	return &Cleanup{
		Idempotency: idemRepo,
		Log:         log,
		Lifetime:    48 * time.Hour,
		Interval:    10 * time.Minute,
	}
}

// Run sweeps once immediately, then on every tick until ctx is cancelled.
func (c *Cleanup) Run(ctx context.Context) error {
	if c.Lifetime <= 0 {
		c.Lifetime = 48 * time.Hour
	}
	if c.Interval <= 0 {
		c.Interval = 10 * time.Minute
	}

	c.sweep(ctx)

	tick := time.NewTicker(c.Interval)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-tick.C:
			c.sweep(ctx)
		}
	}
}

func (c *Cleanup) sweep(ctx context.Context) {
	n, err := c.Idempotency.DeleteOutlived(ctx, c.Lifetime)
	if err != nil {
		c.Log.Error("idempotency sweep failed", zap.Error(err))
		return
	}
	if n > 0 {
		c.Log.Info("idempotency keys deleted", zap.Int64("count", n))
	}
}
