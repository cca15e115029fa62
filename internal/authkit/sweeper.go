package authkit

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
)

// DefaultSweepInterval is how often expired refresh records are purged.
const DefaultSweepInterval = 10 * time.Minute

// ExpiredTokenSweeper periodically deletes expired refresh records.
// Correctness never depends on it; the session manager checks expiry itself.
type ExpiredTokenSweeper struct {
	purger   ExpiredTokenPurger
	interval time.Duration
	clock    Clock
	logger   *zap.Logger
	metrics  MetricsRecorder
}

// NewExpiredTokenSweeper builds a sweeper; nil collaborators get defaults.
func NewExpiredTokenSweeper(purger ExpiredTokenPurger, interval time.Duration, clock Clock, logger *zap.Logger, metrics MetricsRecorder) *ExpiredTokenSweeper {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	if clock == nil {
		clock = NewSystemClock()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if metrics == nil {
		metrics = noopMetrics{}
	}
	return &ExpiredTokenSweeper{
		purger:   purger,
		interval: interval,
		clock:    clock,
		logger:   logger,
		metrics:  metrics,
	}
}

// SweepOnce purges records that expired before the current time.
func (sweeper *ExpiredTokenSweeper) SweepOnce(ctx context.Context) (int64, error) {
	purged, err := sweeper.purger.PurgeExpired(ctx, sweeper.clock.Now())
	if err != nil {
		return 0, err
	}
	if purged > 0 {
		if adder, ok := sweeper.metrics.(interface{ Add(string, int64) }); ok {
			adder.Add(MetricSweepPurged, purged)
		} else {
			sweeper.metrics.Increment(MetricSweepPurged)
		}
		sweeper.logger.Info("refresh tokens purged", zap.String("code", "refresh_store.sweep"), zap.Int64("purged", purged))
	}
	return purged, nil
}

// Run sweeps on every tick until ctx is cancelled.
func (sweeper *ExpiredTokenSweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(sweeper.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := sweeper.SweepOnce(ctx); err != nil && !errors.Is(err, context.Canceled) {
				sweeper.logger.Warn("refresh token sweep failed", zap.String("code", "refresh_store.sweep_failed"), zap.Error(err))
			}
		}
	}
}
