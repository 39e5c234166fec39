// Package orchestrator sequences payment initiation and verification across
// the registered gateways.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	domainErrors "github.com/cassiomorais/paygate/internal/domain/errors"
	"github.com/cassiomorais/paygate/internal/domain/payment"
	"github.com/cassiomorais/paygate/internal/gateway"
	"github.com/cassiomorais/paygate/internal/health"
	"github.com/cassiomorais/paygate/internal/infrastructure/observability"
	"github.com/cassiomorais/paygate/pkg/retry"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker/v2"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// DefaultAttemptTimeout bounds a single gateway call.
const DefaultAttemptTimeout = 30 * time.Second

// Config holds orchestrator settings.
type Config struct {
	// EnableFallback lets ProcessPayment move on to the next gateway after a
	// failure. When false only the first ranked gateway is tried.
	EnableFallback bool
	AttemptTimeout time.Duration
	// MaxRetries is the number of extra VerifyPayment calls per gateway on
	// transient failures. Initiate is never retried within a gateway.
	MaxRetries uint
	RetryDelay time.Duration
}

// DefaultConfig returns the orchestrator defaults.
func DefaultConfig() Config {
	return Config{
		EnableFallback: true,
		AttemptTimeout: DefaultAttemptTimeout,
		MaxRetries:     2,
		RetryDelay:     200 * time.Millisecond,
	}
}

// Orchestrator is safe for concurrent use across orders. A single
// ProcessPayment call never talks to two gateways at the same time.
type Orchestrator struct {
	registry *gateway.Registry
	monitor  *health.Monitor
	cfg      Config
	logger   zerolog.Logger
	metrics  *observability.Metrics
	tracer   trace.Tracer
	now      func() time.Time
}

type Option func(*Orchestrator)

func WithLogger(l zerolog.Logger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

func WithMetrics(m *observability.Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

func WithTracer(t trace.Tracer) Option {
	return func(o *Orchestrator) { o.tracer = t }
}

func New(registry *gateway.Registry, monitor *health.Monitor, cfg Config, opts ...Option) *Orchestrator {
	if cfg.AttemptTimeout <= 0 {
		cfg.AttemptTimeout = DefaultAttemptTimeout
	}
	o := &Orchestrator{
		registry: registry,
		monitor:  monitor,
		cfg:      cfg,
		logger:   zerolog.Nop(),
		tracer:   observability.Tracer(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// ProcessPayment tries gateways one at a time, in priority order with
// unhealthy gateways last, until one opens a checkout session. The ordering
// is fixed from the health snapshot taken when the call starts.
func (o *Orchestrator) ProcessPayment(ctx context.Context, order payment.Order) (*payment.PaymentResult, error) {
	if err := order.Validate(); err != nil {
		return nil, err
	}

	ctx, span := o.tracer.Start(ctx, "orchestrator.ProcessPayment",
		trace.WithAttributes(attribute.String("order.reference", order.Reference)))
	defer span.End()

	candidates := health.Ranked(o.registry.Ordered(), o.monitor.Snapshot())
	if !o.cfg.EnableFallback && len(candidates) > 1 {
		candidates = candidates[:1]
	}

	attempts := make([]payment.PaymentAttempt, 0, len(candidates))
	for i, a := range candidates {
		if err := ctx.Err(); err != nil {
			span.SetStatus(codes.Error, "cancelled")
			return nil, fmt.Errorf("process payment %s: %w", order.Reference, err)
		}

		attempt, checkout := o.attempt(ctx, i, a, order)
		attempts = append(attempts, attempt)

		if attempt.Success {
			o.metrics.ObservePayment("success", string(attempt.GatewayID))
			o.logger.Info().
				Str("order_reference", order.Reference).
				Str("gateway", string(attempt.GatewayID)).
				Int("attempts", len(attempts)).
				Msg("Payment initiated")
			return &payment.PaymentResult{
				Success:          true,
				GatewayID:        attempt.GatewayID,
				Attempts:         attempts,
				PaymentURL:       checkout.PaymentURL,
				GatewayReference: checkout.GatewayReference,
			}, nil
		}
	}

	failed := &domainErrors.AllGatewaysFailedError{Failures: make([]domainErrors.AttemptFailure, 0, len(attempts))}
	for _, a := range attempts {
		failed.Failures = append(failed.Failures, domainErrors.AttemptFailure{
			Gateway: string(a.GatewayID),
			Kind:    a.ErrorKind,
			Reason:  a.Error,
		})
	}
	o.metrics.ObservePayment("all_failed", "")
	o.logger.Error().
		Str("order_reference", order.Reference).
		Int("attempts", len(attempts)).
		Msg("All payment gateways failed")
	span.RecordError(failed)
	span.SetStatus(codes.Error, "all gateways failed")
	return nil, failed
}

func (o *Orchestrator) attempt(ctx context.Context, index int, a gateway.Adapter, order payment.Order) (payment.PaymentAttempt, *payment.Checkout) {
	id := gateway.ID(a)
	ctx, span := o.tracer.Start(ctx, "gateway.Initiate", trace.WithAttributes(
		attribute.String("gateway.id", string(id)),
		attribute.Int("attempt.index", index),
	))
	defer span.End()

	attemptCtx, cancel := context.WithTimeout(ctx, o.cfg.AttemptTimeout)
	defer cancel()

	attempt := payment.PaymentAttempt{GatewayID: id, StartedAt: o.now()}

	var checkout *payment.Checkout
	_, breaker, err := o.registry.Get(id)
	if err == nil {
		checkout, err = gateway.Call(breaker, id, func() (*payment.Checkout, error) {
			return a.Initiate(attemptCtx, order)
		})
	}
	if err == nil && (checkout == nil || checkout.PaymentURL == "") {
		err = domainErrors.NewGatewayError(string(id), domainErrors.KindRejected, errors.New("empty checkout"))
	}
	attempt.FinishedAt = o.now()

	if err != nil {
		kind := domainErrors.KindOf(err)
		if errors.Is(attemptCtx.Err(), context.DeadlineExceeded) {
			kind = domainErrors.KindTimeout
		}
		attempt.ErrorKind = kind
		attempt.Error = err.Error()

		o.metrics.ObserveAttempt(string(id), string(kind), attempt.Duration())
		o.logger.Warn().Err(err).
			Str("order_reference", order.Reference).
			Str("gateway", string(id)).
			Str("kind", string(kind)).
			Dur("duration", attempt.Duration()).
			Msg("Gateway attempt failed")
		span.RecordError(err)
		span.SetStatus(codes.Error, string(kind))
		return attempt, nil
	}

	attempt.Success = true
	attempt.GatewayReference = checkout.GatewayReference
	o.metrics.ObserveAttempt(string(id), "success", attempt.Duration())
	return attempt, checkout
}

// NormalizedVerification is a verification result with the amount in major units.
type NormalizedVerification struct {
	GatewayID   payment.GatewayID
	Reference   string
	Status      payment.VerificationStatus
	Amount      decimal.Decimal
	AmountMinor int64
	Currency    string
	PaidAt      *time.Time
}

func normalize(v *payment.Verification) *NormalizedVerification {
	return &NormalizedVerification{
		GatewayID:   v.GatewayID,
		Reference:   v.Reference,
		Status:      v.Status,
		Amount:      v.Amount.Major(),
		AmountMinor: v.Amount.Minor,
		Currency:    v.Amount.Currency,
		PaidAt:      v.PaidAt,
	}
}

// VerifyPayment asks each gateway in priority order whether it recognises the
// reference and returns the first answer. Gateways that do not know the
// reference are skipped; a gateway that fails is skipped too, but its error
// is reported if nobody recognises the reference.
func (o *Orchestrator) VerifyPayment(ctx context.Context, reference string) (*NormalizedVerification, error) {
	if reference == "" {
		return nil, domainErrors.NewValidationError("reference", "cannot be empty")
	}

	ctx, span := o.tracer.Start(ctx, "orchestrator.VerifyPayment",
		trace.WithAttributes(attribute.String("payment.reference", reference)))
	defer span.End()

	var hardErrs []error
	for _, a := range o.registry.Ordered() {
		id := gateway.ID(a)
		v, err := o.verifyWith(ctx, a, reference)
		switch {
		case err == nil:
			o.metrics.ObserveVerification(string(id), string(v.Status))
			return normalize(v), nil
		case errors.Is(err, domainErrors.ErrReferenceNotFound):
			continue
		case ctx.Err() != nil:
			return nil, fmt.Errorf("verify %s: %w", reference, ctx.Err())
		default:
			o.logger.Warn().Err(err).Str("gateway", string(id)).Str("reference", reference).Msg("Gateway verification failed")
			hardErrs = append(hardErrs, err)
		}
	}

	span.SetStatus(codes.Error, "unverified")
	if len(hardErrs) > 0 {
		return nil, fmt.Errorf("verify %s: %w", reference, errors.Join(hardErrs...))
	}
	o.logger.Error().Str("reference", reference).Msg("No gateway recognised reference")
	return nil, fmt.Errorf("verify %s: %w", reference, domainErrors.ErrVerificationFailed)
}

func (o *Orchestrator) verifyWith(ctx context.Context, a gateway.Adapter, reference string) (*payment.Verification, error) {
	id := gateway.ID(a)
	_, breaker, err := o.registry.Get(id)
	if err != nil {
		return nil, err
	}

	cfg := retry.Config{
		MaxAttempts:  o.cfg.MaxRetries + 1,
		InitialDelay: o.cfg.RetryDelay,
		MaxDelay:     5 * o.cfg.RetryDelay,
		RetryIf:      retryable,
		OnRetry: func(n uint, err error) {
			o.logger.Debug().Err(err).Str("gateway", string(id)).Uint("attempt", n+1).Msg("Retrying verification")
		},
	}
	return retry.DoWithResult(ctx, cfg, func() (*payment.Verification, error) {
		callCtx, cancel := context.WithTimeout(ctx, o.cfg.AttemptTimeout)
		defer cancel()
		return gateway.Call(breaker, id, func() (*payment.Verification, error) {
			return a.VerifyPayment(callCtx, reference)
		})
	})
}

// retryable accepts transient gateway failures, except an open breaker.
func retryable(err error) bool {
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return false
	}
	return errors.Is(err, domainErrors.ErrGatewayUnavailable)
}

// GetBestAvailableGateway returns the highest-priority healthy gateway, or nil.
func (o *Orchestrator) GetBestAvailableGateway() *payment.GatewayDescriptor {
	return o.monitor.BestAvailableGateway()
}

// GetGatewayStats returns the operator view of every gateway.
func (o *Orchestrator) GetGatewayStats() []health.GatewayStats {
	return o.monitor.Stats()
}

// GetRecommendedGateway ranks gateways for a customer location hint.
func (o *Orchestrator) GetRecommendedGateway(locationHint string) *payment.GatewayDescriptor {
	return o.monitor.RecommendedGateway(locationHint)
}
