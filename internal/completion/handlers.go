package completion

import (
	"context"
	"fmt"

	"github.com/cassiomorais/paygate/internal/domain/outbox"
	"github.com/rs/zerolog"
)

// OutboxWriter records events in the transactional outbox; the worker
// publishes them to Redis Streams.
type OutboxWriter struct {
	repo outbox.Repository
}

func NewOutboxWriter(repo outbox.Repository) *OutboxWriter {
	return &OutboxWriter{repo: repo}
}

func (w *OutboxWriter) Name() string { return "outbox" }

func (w *OutboxWriter) Handle(ctx context.Context, e Event) error {
	entry := outbox.NewEntry(e.ID, e.OrderReference, string(e.Type), e.Payload())
	if err := w.repo.Insert(ctx, entry); err != nil {
		return fmt.Errorf("write outbox: %w", err)
	}
	return nil
}

// AuditLogger writes every completion to the audit log. Auto-corrections log
// both the reported and corrected amounts.
type AuditLogger struct {
	logger zerolog.Logger
}

func NewAuditLogger(logger zerolog.Logger) *AuditLogger {
	return &AuditLogger{logger: logger.With().Str("component", "audit").Logger()}
}

func (a *AuditLogger) Name() string { return "audit" }

func (a *AuditLogger) Handle(_ context.Context, e Event) error {
	var ev *zerolog.Event
	switch {
	case e.Type == EventDiscrepancy:
		ev = a.logger.Error()
	case e.Multiplier != 0:
		ev = a.logger.Warn().
			Int64("original_minor", e.Reported.Minor).
			Int64("corrected_minor", e.Amount.Minor).
			Int64("multiplier", e.Multiplier)
	default:
		ev = a.logger.Info()
	}

	ev = ev.Str("event_id", e.ID.String()).
		Str("event_type", string(e.Type)).
		Str("gateway", string(e.GatewayID)).
		Str("order_reference", e.OrderReference).
		Str("decision", e.Decision)
	if e.Reported.Currency != "" {
		ev = ev.Str("reported", e.Reported.String())
	}
	if e.Expected.Currency != "" {
		ev = ev.Str("expected", e.Expected.String())
	}
	if e.Ratio != "" {
		ev = ev.Str("ratio", e.Ratio)
	}
	if e.Reason != "" {
		ev = ev.Str("reason", e.Reason)
	}
	ev.Msg("Payment completion")
	return nil
}
