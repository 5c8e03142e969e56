package worker

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/jmehdipour/newsletter-gateway/internal/model"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

type sweepRecorder struct {
	mu        sync.Mutex
	lifetimes []time.Duration
}

func (s *sweepRecorder) InsertPlaceholder(context.Context, *sqlx.Tx, int64, string) error {
	return nil
}
func (s *sweepRecorder) SaveResponse(context.Context, *sqlx.Tx, int64, string, int, []byte) error {
	return nil
}
func (s *sweepRecorder) Get(context.Context, int64, string) (*model.IdempotencyRecord, error) {
	return nil, nil
}

func (s *sweepRecorder) DeleteOutlived(_ context.Context, lifetime time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lifetimes = append(s.lifetimes, lifetime)
	return 1, nil
}

func (s *sweepRecorder) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.lifetimes)
}

func TestCleanupSweepsImmediatelyAndOnTicks(t *testing.T) {
	rec := &sweepRecorder{}
	c := NewCleanup(rec, zap.NewNop())
	c.Lifetime = time.Hour
	c.Interval = 20 * time.Millisecond

	ctx, cancel := context.WithTimeout(context.Background(), 110*time.Millisecond)
	defer cancel()

	err := c.Run(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	// one immediate sweep plus at least one tick
	assert.GreaterOrEqual(t, rec.count(), 2)
	for _, lt := range rec.lifetimes {
		assert.Equal(t, time.Hour, lt)
	}
}
