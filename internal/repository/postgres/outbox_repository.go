package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cassiomorais/paygate/internal/domain/outbox"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// OutboxRepository stores completion events until the worker publishes them.
type OutboxRepository struct {
	pool *pgxpool.Pool
}

func NewOutboxRepository(pool *pgxpool.Pool) *OutboxRepository {
	return &OutboxRepository{pool: pool}
}

func (r *OutboxRepository) db(ctx context.Context) DBTX {
	return ConnFromCtx(ctx, r.pool)
}

func (r *OutboxRepository) Insert(ctx context.Context, entry *outbox.Entry) error {
	payload, err := json.Marshal(entry.Payload)
	if err != nil {
		return fmt.Errorf("marshal outbox payload: %w", err)
	}
	_, err = r.db(ctx).Exec(ctx,
		`INSERT INTO outbox (id, order_reference, event_type, payload, status, attempts, max_attempts, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (id) DO NOTHING`,
		entry.ID, entry.OrderReference, entry.EventType, payload,
		string(entry.Status), entry.Attempts, entry.MaxAttempts, entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert outbox entry: %w", err)
	}
	return nil
}

// ClaimPending locks up to limit pending rows for the surrounding transaction.
// Concurrent workers skip each other's rows.
func (r *OutboxRepository) ClaimPending(ctx context.Context, limit int) ([]*outbox.Entry, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := r.db(ctx).Query(ctx,
		`SELECT id, order_reference, event_type, payload, status, attempts, max_attempts, last_error, created_at, published_at
		 FROM outbox WHERE status = 'pending'
		 ORDER BY created_at ASC, id ASC
		 LIMIT $1
		 FOR UPDATE SKIP LOCKED`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("get pending outbox entries: %w", err)
	}

	entries, err := pgx.CollectRows(rows, scanEntry)
	if err != nil {
		return nil, fmt.Errorf("scan outbox entries: %w", err)
	}
	return entries, nil
}

func scanEntry(row pgx.CollectableRow) (*outbox.Entry, error) {
	var (
		e       outbox.Entry
		payload []byte
		status  string
	)
	if err := row.Scan(&e.ID, &e.OrderReference, &e.EventType, &payload, &status,
		&e.Attempts, &e.MaxAttempts, &e.LastError, &e.CreatedAt, &e.PublishedAt); err != nil {
		return nil, err
	}
	e.Status = outbox.Status(status)
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &e.Payload); err != nil {
			return nil, fmt.Errorf("unmarshal outbox payload %s: %w", e.ID, err)
		}
	}
	return &e, nil
}

func (r *OutboxRepository) MarkPublished(ctx context.Context, id uuid.UUID) error {
	_, err := r.db(ctx).Exec(ctx,
		`UPDATE outbox SET status = 'published', published_at = $1 WHERE id = $2`, time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("mark outbox published: %w", err)
	}
	return nil
}

func (r *OutboxRepository) MarkFailed(ctx context.Context, entry *outbox.Entry) error {
	_, err := r.db(ctx).Exec(ctx,
		`UPDATE outbox SET attempts = $1, last_error = $2, status = $3 WHERE id = $4`,
		entry.Attempts, entry.LastError, string(entry.Status), entry.ID,
	)
	if err != nil {
		return fmt.Errorf("mark outbox failed: %w", err)
	}
	return nil
}
