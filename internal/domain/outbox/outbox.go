package outbox

import (
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusPublished Status = "published"
	StatusFailed    Status = "failed"
)

// DefaultMaxAttempts is how many publish attempts an entry gets before it is
// parked and dead-lettered.
const DefaultMaxAttempts = 5

// Entry is a payment completion waiting to be delivered to the order service.
type Entry struct {
	ID             uuid.UUID
	OrderReference string
	EventType      string
	Payload        map[string]any
	Status         Status
	Attempts       int
	MaxAttempts    int
	LastError      string
	CreatedAt      time.Time
	PublishedAt    *time.Time
}

// NewEntry builds a pending entry. A zero id gets a fresh one, so completion
// events can reuse their own id and stay idempotent on insert.
func NewEntry(id uuid.UUID, orderReference, eventType string, payload map[string]any) *Entry {
	if id == uuid.Nil {
		id = uuid.New()
	}
	return &Entry{
		ID:             id,
		OrderReference: orderReference,
		EventType:      eventType,
		Payload:        payload,
		Status:         StatusPending,
		MaxAttempts:    DefaultMaxAttempts,
		CreatedAt:      time.Now().UTC(),
	}
}

// RecordFailure counts a failed publish and reports whether the entry is now
// parked.
func (e *Entry) RecordFailure(cause error) bool {
	e.Attempts++
	if cause != nil {
		e.LastError = cause.Error()
	}
	if e.Exhausted() {
		e.Status = StatusFailed
		return true
	}
	return false
}

func (e *Entry) RecordPublished(at time.Time) {
	e.Status = StatusPublished
	e.PublishedAt = &at
}

func (e *Entry) Exhausted() bool {
	return e.MaxAttempts > 0 && e.Attempts >= e.MaxAttempts
}
