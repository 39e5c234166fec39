package completion

import (
	"context"
	"time"

	"github.com/cassiomorais/paygate/internal/domain/outbox"
	"github.com/cassiomorais/paygate/internal/infrastructure/observability"
	"github.com/rs/zerolog"
)

// Publisher delivers outbox entries to the order service.
type Publisher interface {
	PublishCompletion(ctx context.Context, eventID, orderReference, eventType string, data map[string]any) (string, error)
	PublishToDLQ(ctx context.Context, eventID, reason string, data map[string]any) error
}

// TxRunner runs fn in a transaction carried on the context.
type TxRunner interface {
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}

// Relay moves pending outbox entries to the Publisher.
type Relay struct {
	tx        TxRunner
	repo      outbox.Repository
	publisher Publisher
	batchSize int
	logger    zerolog.Logger
	metrics   *observability.Metrics
}

func NewRelay(tx TxRunner, repo outbox.Repository, publisher Publisher, batchSize int, logger zerolog.Logger, metrics *observability.Metrics) *Relay {
	if batchSize <= 0 {
		batchSize = 10
	}
	return &Relay{tx: tx, repo: repo, publisher: publisher, batchSize: batchSize, logger: logger, metrics: metrics}
}

// RunOnce publishes one batch and returns how many entries were published.
func (r *Relay) RunOnce(ctx context.Context) (int, error) {
	published := 0
	err := r.tx.WithTransaction(ctx, func(txCtx context.Context) error {
		entries, err := r.repo.ClaimPending(txCtx, r.batchSize)
		if err != nil {
			return err
		}
		for _, entry := range entries {
			start := time.Now()
			_, err := r.publisher.PublishCompletion(ctx, entry.ID.String(), entry.OrderReference, entry.EventType, entry.Payload)
			r.metrics.ObserveWorker("outbox", err == nil, time.Since(start))
			if err != nil {
				r.logger.Error().Err(err).Str("outbox_id", entry.ID.String()).Msg("Failed to publish outbox event")
				parked := entry.RecordFailure(err)
				if markErr := r.repo.MarkFailed(txCtx, entry); markErr != nil {
					return markErr
				}
				if parked {
					r.deadLetter(ctx, entry, err)
				}
				continue
			}
			if err := r.repo.MarkPublished(txCtx, entry.ID); err != nil {
				return err
			}
			published++
		}
		return nil
	})
	return published, err
}

func (r *Relay) deadLetter(ctx context.Context, entry *outbox.Entry, cause error) {
	if err := r.publisher.PublishToDLQ(ctx, entry.ID.String(), cause.Error(), entry.Payload); err != nil {
		r.logger.Error().Err(err).Str("outbox_id", entry.ID.String()).Msg("Failed to dead-letter outbox event")
		return
	}
	r.logger.Warn().Str("outbox_id", entry.ID.String()).Int("attempts", entry.Attempts).Msg("Outbox event dead-lettered")
}

// Run polls until ctx is cancelled.
func (r *Relay) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
		if _, err := r.RunOnce(ctx); err != nil {
			r.logger.Error().Err(err).Msg("Outbox relay error")
		}
	}
}
