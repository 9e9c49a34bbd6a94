package pipeline

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Purger deletes messages older than a number of days.
type Purger interface {
	PurgeOlderThan(ctx context.Context, days int) (int64, error)
}

// RetentionSweeper purges old history on a fixed interval.
type RetentionSweeper struct {
	store    Purger
	days     int
	interval time.Duration
	logger   *zap.Logger
}

func NewRetentionSweeper(store Purger, days int, interval time.Duration, logger *zap.Logger) *RetentionSweeper {
	if logger == nil {
		logger = zap.NewNop()
	}
	if interval <= 0 {
		interval = 24 * time.Hour
	}
	return &RetentionSweeper{store: store, days: days, interval: interval, logger: logger}
}

// Run sweeps once immediately and then every interval until ctx ends.
// It returns at once when retention is disabled (days == 0). Sweep errors
// are logged and the next tick retries.
func (s *RetentionSweeper) Run(ctx context.Context) error {
	if s.days <= 0 {
		s.logger.Info("retention sweep disabled")
		return nil
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		s.sweep(ctx)
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func (s *RetentionSweeper) sweep(ctx context.Context) {
	deleted, err := s.store.PurgeOlderThan(ctx, s.days)
	if err != nil {
		if ctx.Err() == nil {
			s.logger.Error("retention sweep failed", zap.Int("days", s.days), zap.Error(err))
		}
		return
	}
	s.logger.Info("retention sweep completed", zap.Int("days", s.days), zap.Int64("deleted", deleted))
}
