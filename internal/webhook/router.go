// Package webhook authenticates inbound gateway webhooks, deduplicates them
// and hands validated outcomes to the completion dispatcher.
package webhook

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/cassiomorais/paygate/internal/completion"
	domainErrors "github.com/cassiomorais/paygate/internal/domain/errors"
	"github.com/cassiomorais/paygate/internal/domain/payment"
	"github.com/cassiomorais/paygate/internal/gateway"
	"github.com/cassiomorais/paygate/internal/infrastructure/observability"
	"github.com/cassiomorais/paygate/internal/validation"
	"github.com/cassiomorais/paygate/pkg/saga"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// DefaultDedupeTTL is how long a processed delivery is remembered. Paystack
// retries unacknowledged deliveries for up to 72 hours.
const DefaultDedupeTTL = 72 * time.Hour

// OrderFinder is the read-only view of the order collaborator.
type OrderFinder interface {
	// FindOrder returns an error wrapping ErrOrderNotFound for unknown references.
	FindOrder(ctx context.Context, reference string) (*payment.Order, error)
}

type Outcome string

const (
	OutcomeProcessed Outcome = "processed"
	OutcomeDuplicate Outcome = "duplicate"
	OutcomeIgnored   Outcome = "ignored"
	OutcomeBlocked   Outcome = "blocked"
	OutcomeRejected  Outcome = "rejected"
	OutcomeError     Outcome = "error"
)

// Result describes what happened to an accepted webhook. Every outcome here
// is acknowledged to the gateway.
type Result struct {
	Outcome   Outcome
	GatewayID payment.GatewayID
	DedupeKey string
	Event     *payment.WebhookEvent
	Decision  validation.Decision
}

var errDuplicate = errors.New("duplicate delivery")

type Router struct {
	registry   *gateway.Registry
	dedupe     DedupeStore
	orders     OrderFinder
	guard      *validation.Guard
	dispatcher *completion.Dispatcher
	tx         completion.TxRunner
	ttl        time.Duration
	logger     zerolog.Logger
	metrics    *observability.Metrics
	tracer     trace.Tracer
}

type Option func(*Router)

func WithDedupeTTL(ttl time.Duration) Option {
	return func(r *Router) { r.ttl = ttl }
}

// WithTransactions runs the dedupe claim and the completion writes in one
// transaction. The dedupe store and outbox must both join the transaction
// carried on the context; a failed delivery then rolls the claim back instead
// of releasing it.
func WithTransactions(tx completion.TxRunner) Option {
	return func(r *Router) { r.tx = tx }
}

func WithLogger(l zerolog.Logger) Option {
	return func(r *Router) { r.logger = l }
}

func WithMetrics(m *observability.Metrics) Option {
	return func(r *Router) { r.metrics = m }
}

func NewRouter(
	registry *gateway.Registry,
	dedupe DedupeStore,
	orders OrderFinder,
	guard *validation.Guard,
	dispatcher *completion.Dispatcher,
	opts ...Option,
) *Router {
	r := &Router{
		registry:   registry,
		dedupe:     dedupe,
		orders:     orders,
		guard:      guard,
		dispatcher: dispatcher,
		ttl:        DefaultDedupeTTL,
		logger:     zerolog.Nop(),
		tracer:     observability.Tracer(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// HandleWebhook authenticates, parses, deduplicates and validates a webhook.
// With a hint only that gateway's verifier is consulted. Without one each
// gateway is tried in priority order and the first that both verifies the
// signature and parses the body wins.
//
// Errors wrapping ErrSignatureVerification or ErrWebhookParse mean the
// delivery was rejected. Any other error means processing failed after the
// claim, which has been released or rolled back so a redelivery can succeed.
func (r *Router) HandleWebhook(ctx context.Context, body []byte, headers http.Header, hint payment.GatewayID) (*Result, error) {
	ctx, span := r.tracer.Start(ctx, "webhook.Handle", trace.WithAttributes(attribute.String("gateway.hint", string(hint))))
	defer span.End()

	event, err := r.authenticate(body, headers, hint)
	if err != nil {
		r.metrics.ObserveWebhook(string(hint), string(OutcomeRejected))
		r.logger.Warn().Err(err).Str("hint", string(hint)).Msg("Webhook rejected")
		span.SetStatus(codes.Error, "rejected")
		return nil, err
	}

	res := &Result{GatewayID: event.GatewayID, DedupeKey: event.DedupeKey(), Event: event}
	span.SetAttributes(
		attribute.String("gateway.id", string(event.GatewayID)),
		attribute.String("webhook.dedupe_key", res.DedupeKey),
	)
	log := r.logger.With().
		Str("gateway", string(event.GatewayID)).
		Str("reference", event.ExternalReference).
		Str("event", event.RawKind).
		Logger()

	if event.Kind == payment.EventOther {
		res.Outcome = OutcomeIgnored
		r.metrics.ObserveWebhook(string(event.GatewayID), string(res.Outcome))
		log.Debug().Msg("Webhook event ignored")
		return res, nil
	}

	var token string
	claim := saga.Step{
		Name: "claim",
		Execute: func(ctx context.Context) error {
			t, claimed, err := r.dedupe.Claim(ctx, res.DedupeKey, r.ttl)
			if err != nil {
				return fmt.Errorf("claim %s: %w", res.DedupeKey, err)
			}
			if !claimed {
				return errDuplicate
			}
			token = t
			return nil
		},
	}
	if r.tx == nil {
		claim.Compensate = func(ctx context.Context) error {
			return r.dedupe.Release(ctx, res.DedupeKey, token)
		}
	}
	s := saga.New("webhook").
		AddStep(claim).
		AddStep(saga.Step{
			Name: "complete",
			Execute: func(ctx context.Context) error {
				return r.complete(ctx, res)
			},
		})

	run := s.Execute
	if r.tx != nil {
		run = func(ctx context.Context) error { return r.tx.WithTransaction(ctx, s.Execute) }
	}
	if err := run(ctx); err != nil {
		if errors.Is(err, errDuplicate) {
			res.Outcome = OutcomeDuplicate
			r.metrics.ObserveWebhook(string(event.GatewayID), string(res.Outcome))
			log.Info().Str("dedupe_key", res.DedupeKey).Msg("Duplicate webhook ignored")
			return res, nil
		}
		r.metrics.ObserveWebhook(string(event.GatewayID), string(OutcomeError))
		log.Error().Err(err).Msg("Webhook processing failed")
		span.RecordError(err)
		span.SetStatus(codes.Error, "processing failed")
		return nil, err
	}

	r.metrics.ObserveWebhook(string(event.GatewayID), string(res.Outcome))
	return res, nil
}

func (r *Router) authenticate(body []byte, headers http.Header, hint payment.GatewayID) (*payment.WebhookEvent, error) {
	if hint != "" {
		a, _, err := r.registry.Get(hint)
		if err != nil {
			return nil, err
		}
		if err := a.VerifySignature(body, headers); err != nil {
			return nil, err
		}
		event, err := a.ParseWebhook(body)
		if err != nil {
			return nil, fmt.Errorf("parse %s webhook: %w", hint, err)
		}
		return event, nil
	}

	for _, a := range r.registry.Ordered() {
		if a.VerifySignature(body, headers) != nil {
			continue
		}
		event, err := a.ParseWebhook(body)
		if err != nil {
			r.logger.Debug().Err(err).Str("gateway", string(gateway.ID(a))).Msg("Signature verified but body did not parse")
			continue
		}
		return event, nil
	}
	return nil, domainErrors.NewSignatureError("", "no gateway accepted the webhook")
}

// complete runs after the claim. Returning an error undoes the claim.
func (r *Router) complete(ctx context.Context, res *Result) error {
	event := res.Event
	ev := completion.NewEvent(completion.EventFailed, event.GatewayID, event.ExternalReference)
	ev.DedupeKey = res.DedupeKey
	ev.Reported = event.Amount

	if event.Kind == payment.EventChargeFailed {
		res.Outcome = OutcomeProcessed
		ev.Decision = "failed"
		return r.dispatcher.Dispatch(ctx, ev)
	}

	order, err := r.orders.FindOrder(ctx, event.ExternalReference)
	switch {
	case errors.Is(err, domainErrors.ErrOrderNotFound):
		res.Decision = validation.Blocked{Reported: event.Amount, Reason: validation.ReasonOrderNotFound}
	case err != nil:
		return fmt.Errorf("find order %s: %w", event.ExternalReference, err)
	default:
		res.Decision = r.guard.Validate(*event, *order)
		ev.Expected = order.Total
	}
	r.metrics.ObserveDecision(string(event.GatewayID), res.Decision.Kind())
	ev.Decision = res.Decision.Kind()

	switch d := res.Decision.(type) {
	case validation.Match:
		res.Outcome = OutcomeProcessed
		ev.Type = completion.EventSettled
		ev.Amount = d.Amount
	case validation.AutoCorrected:
		res.Outcome = OutcomeProcessed
		ev.Type = completion.EventSettled
		ev.Amount = d.Corrected
		ev.Multiplier = d.Multiplier
		r.logger.Warn().
			Str("gateway", string(event.GatewayID)).
			Str("reference", event.ExternalReference).
			Str("original", d.Original.String()).
			Str("corrected", d.Corrected.String()).
			Int64("multiplier", d.Multiplier).
			Msg("Reported amount auto-corrected")
	case validation.Blocked:
		res.Outcome = OutcomeBlocked
		ev.Type = completion.EventDiscrepancy
		ev.Reason = d.Reason
		if !d.Ratio.IsZero() {
			ev.Ratio = d.Ratio.String()
		}
		r.logger.Error().
			Str("gateway", string(event.GatewayID)).
			Str("reference", event.ExternalReference).
			Str("reported", d.Reported.String()).
			Str("reason", d.Reason).
			Msg("Payment blocked for manual review")
	}

	return r.dispatcher.Dispatch(ctx, ev)
}
