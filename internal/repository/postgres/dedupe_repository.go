package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// DedupeRepository claims webhook deliveries in the webhook_events table. The
// primary key on dedupe_key makes concurrent claims for one delivery race on
// a single row; only the inserting (or expired-row replacing) claim wins.
type DedupeRepository struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

func NewDedupeRepository(pool *pgxpool.Pool) *DedupeRepository {
	return &DedupeRepository{pool: pool, now: time.Now}
}

func (r *DedupeRepository) db(ctx context.Context) DBTX {
	return ConnFromCtx(ctx, r.pool)
}

func (r *DedupeRepository) Claim(ctx context.Context, key string, ttl time.Duration) (string, bool, error) {
	token := uuid.NewString()
	now := r.now().UTC()
	gateway, reference, kind := splitKey(key)

	var claimed string
	err := r.db(ctx).QueryRow(ctx,
		`INSERT INTO webhook_events (dedupe_key, token, gateway, reference, event_kind, claimed_at, expires_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (dedupe_key) DO UPDATE
		   SET token = EXCLUDED.token, claimed_at = EXCLUDED.claimed_at, expires_at = EXCLUDED.expires_at
		   WHERE webhook_events.expires_at < EXCLUDED.claimed_at
		 RETURNING token`,
		key, token, gateway, reference, kind, now, now.Add(ttl),
	).Scan(&claimed)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("claim webhook %s: %w", key, err)
	}
	return claimed, true, nil
}

func (r *DedupeRepository) Release(ctx context.Context, key, token string) error {
	_, err := r.db(ctx).Exec(ctx,
		`DELETE FROM webhook_events WHERE dedupe_key = $1 AND token = $2`, key, token,
	)
	if err != nil {
		return fmt.Errorf("release webhook %s: %w", key, err)
	}
	return nil
}

// Cleanup deletes expired claims.
func (r *DedupeRepository) Cleanup(ctx context.Context) (int64, error) {
	tag, err := r.db(ctx).Exec(ctx, `DELETE FROM webhook_events WHERE expires_at < NOW()`)
	if err != nil {
		return 0, fmt.Errorf("cleanup webhook events: %w", err)
	}
	return tag.RowsAffected(), nil
}

// splitKey breaks gateway:reference:kind apart for the audit columns. Kinds
// may contain colons; references are assumed not to.
func splitKey(key string) (gateway, reference, kind string) {
	parts := strings.SplitN(key, ":", 3)
	if len(parts) < 3 {
		return "", key, ""
	}
	return parts[0], parts[1], parts[2]
}
