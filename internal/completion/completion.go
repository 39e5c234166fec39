// Package completion hands the outcome of a validated webhook to the order
// collaborator. Handlers are registered once at startup and run in order.
package completion

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cassiomorais/paygate/internal/domain/payment"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

type EventType string

const (
	EventSettled     EventType = "payment.settled"
	EventFailed      EventType = "payment.failed"
	EventDiscrepancy EventType = "payment.discrepancy"
)

// Event is what the order side learns about a payment. Settled carries the
// amount to settle with, which differs from Reported after an auto-correction.
type Event struct {
	ID             uuid.UUID
	Type           EventType
	GatewayID      payment.GatewayID
	OrderReference string
	DedupeKey      string
	Amount         payment.Amount
	Reported       payment.Amount
	Expected       payment.Amount
	Decision       string
	Multiplier     int64
	Ratio          string
	Reason         string
	OccurredAt     time.Time
}

// NewEvent fills in the ID and timestamp.
func NewEvent(t EventType, gatewayID payment.GatewayID, orderReference string) Event {
	return Event{
		ID:             uuid.New(),
		Type:           t,
		GatewayID:      gatewayID,
		OrderReference: orderReference,
		OccurredAt:     time.Now().UTC(),
	}
}

// Payload is the flat form written to the outbox and published on streams.
func (e Event) Payload() map[string]any {
	p := map[string]any{
		"event_id":        e.ID.String(),
		"event_type":      string(e.Type),
		"gateway":         string(e.GatewayID),
		"order_reference": e.OrderReference,
		"occurred_at":     e.OccurredAt.Format(time.RFC3339Nano),
	}
	if e.DedupeKey != "" {
		p["dedupe_key"] = e.DedupeKey
	}
	if e.Amount.Currency != "" {
		p["amount_minor"] = e.Amount.Minor
		p["currency"] = e.Amount.Currency
	}
	if e.Reported.Currency != "" {
		p["reported_minor"] = e.Reported.Minor
		p["reported_currency"] = e.Reported.Currency
	}
	if e.Expected.Currency != "" {
		p["expected_minor"] = e.Expected.Minor
		p["expected_currency"] = e.Expected.Currency
	}
	if e.Decision != "" {
		p["decision"] = e.Decision
	}
	if e.Multiplier != 0 {
		p["multiplier"] = e.Multiplier
	}
	if e.Ratio != "" {
		p["ratio"] = e.Ratio
	}
	if e.Reason != "" {
		p["reason"] = e.Reason
	}
	return p
}

// Handler reacts to a completion event. A returned error aborts the dispatch.
type Handler interface {
	Name() string
	Handle(ctx context.Context, e Event) error
}

// HandlerFunc adapts a function into a Handler.
type HandlerFunc struct {
	HandlerName string
	Fn          func(ctx context.Context, e Event) error
}

func (h HandlerFunc) Name() string { return h.HandlerName }

func (h HandlerFunc) Handle(ctx context.Context, e Event) error { return h.Fn(ctx, e) }

// Dispatcher runs registered handlers in registration order.
type Dispatcher struct {
	mu       sync.RWMutex
	handlers []Handler
	logger   zerolog.Logger
}

func NewDispatcher(logger zerolog.Logger, handlers ...Handler) *Dispatcher {
	return &Dispatcher{handlers: handlers, logger: logger}
}

// Register appends a handler.
func (d *Dispatcher) Register(h Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers = append(d.handlers, h)
}

// Dispatch stops at the first handler error so the caller can release its
// dedupe claim and let the gateway redeliver.
func (d *Dispatcher) Dispatch(ctx context.Context, e Event) error {
	d.mu.RLock()
	handlers := make([]Handler, len(d.handlers))
	copy(handlers, d.handlers)
	d.mu.RUnlock()

	for _, h := range handlers {
		if err := h.Handle(ctx, e); err != nil {
			d.logger.Error().Err(err).
				Str("handler", h.Name()).
				Str("event_type", string(e.Type)).
				Str("order_reference", e.OrderReference).
				Msg("Completion handler failed")
			return fmt.Errorf("completion handler %s: %w", h.Name(), err)
		}
	}
	return nil
}
