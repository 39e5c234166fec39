package webhook

import (
	"context"
	"time"

	"github.com/cassiomorais/paygate/internal/infrastructure/observability"
	"github.com/rs/zerolog"
)

// Cleaner is a DedupeStore whose expired claims must be removed explicitly.
type Cleaner interface {
	Cleanup(ctx context.Context) (int64, error)
}

// RunCleanup removes expired claims every interval until ctx is cancelled.
func RunCleanup(ctx context.Context, c Cleaner, interval time.Duration, logger zerolog.Logger, metrics *observability.Metrics) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		start := time.Now()
		n, err := c.Cleanup(ctx)
		metrics.ObserveWorker("dedupe_cleanup", err == nil, time.Since(start))
		if err != nil {
			logger.Error().Err(err).Msg("Dedupe cleanup failed")
			continue
		}
		if n > 0 {
			logger.Info().Int64("removed", n).Msg("Expired webhook claims removed")
		}
	}
}
