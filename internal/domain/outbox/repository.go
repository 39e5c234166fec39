package outbox

import (
	"context"

	"github.com/google/uuid"
)

// Repository persists entries. Implementations pick up a transaction from
// ctx when one is present, so ClaimPending locks rows for the caller's batch.
type Repository interface {
	Insert(ctx context.Context, entry *Entry) error
	ClaimPending(ctx context.Context, limit int) ([]*Entry, error)
	MarkPublished(ctx context.Context, id uuid.UUID) error
	// MarkFailed stores the attempt count and last error of entry, and its
	// status once parked.
	MarkFailed(ctx context.Context, entry *Entry) error
}
