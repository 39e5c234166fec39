package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"net/http"
	"sync/atomic"
	"time"

	domainErrors "github.com/cassiomorais/paygate/internal/domain/errors"
	"github.com/cassiomorais/paygate/internal/domain/payment"
	"github.com/google/uuid"
)

// MockAdapter is an in-process gateway used by the sandbox profile and tests.
// Its webhooks are plain JSON events authenticated by a shared header secret.
type MockAdapter struct {
	descriptor  payment.GatewayDescriptor
	latency     time.Duration
	failureRate float64 // 0.0 to 1.0
	timeoutRate float64 // 0.0 to 1.0
	secret      string

	initiateFn func(ctx context.Context, order payment.Order) (*payment.Checkout, error)
	verifyFn   func(ctx context.Context, reference string) (*payment.Verification, error)
	healthFn   func(ctx context.Context) error

	initiateCalls atomic.Int64
	verifyCalls   atomic.Int64
	healthCalls   atomic.Int64
}

type MockOption func(*MockAdapter)

func WithLatency(d time.Duration) MockOption {
	return func(m *MockAdapter) { m.latency = d }
}

func WithFailureRate(rate float64) MockOption {
	return func(m *MockAdapter) { m.failureRate = rate }
}

func WithTimeoutRate(rate float64) MockOption {
	return func(m *MockAdapter) { m.timeoutRate = rate }
}

func WithWebhookSecret(secret string) MockOption {
	return func(m *MockAdapter) { m.secret = secret }
}

func WithMethods(methods ...payment.Method) MockOption {
	return func(m *MockAdapter) { m.descriptor.SupportedMethods = methods }
}

func WithRegions(regions ...string) MockOption {
	return func(m *MockAdapter) { m.descriptor.Regions = regions }
}

// WithInitiate replaces the simulated Initiate behaviour.
func WithInitiate(fn func(ctx context.Context, order payment.Order) (*payment.Checkout, error)) MockOption {
	return func(m *MockAdapter) { m.initiateFn = fn }
}

// WithVerify replaces the simulated VerifyPayment behaviour.
func WithVerify(fn func(ctx context.Context, reference string) (*payment.Verification, error)) MockOption {
	return func(m *MockAdapter) { m.verifyFn = fn }
}

// WithHealth replaces the simulated HealthCheck behaviour.
func WithHealth(fn func(ctx context.Context) error) MockOption {
	return func(m *MockAdapter) { m.healthFn = fn }
}

// MockHeader carries the shared secret on mock webhook deliveries.
const MockHeader = "X-Mock-Signature"

// NewMockAdapter creates a mock gateway with no latency and no failures.
func NewMockAdapter(id payment.GatewayID, priority int, opts ...MockOption) *MockAdapter {
	m := &MockAdapter{
		descriptor: payment.GatewayDescriptor{
			ID:               id,
			DisplayName:      string(id),
			Priority:         priority,
			SupportedMethods: []payment.Method{payment.MethodCard, payment.MethodBankTransfer},
			Regions:          []string{"NG"},
		},
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

func (m *MockAdapter) Descriptor() payment.GatewayDescriptor { return m.descriptor }

func (m *MockAdapter) Initiate(ctx context.Context, order payment.Order) (*payment.Checkout, error) {
	m.initiateCalls.Add(1)
	if m.initiateFn != nil {
		return m.initiateFn(ctx, order)
	}
	if err := m.simulate(ctx); err != nil {
		return nil, err
	}
	ref := fmt.Sprintf("%s_%s", m.descriptor.ID, uuid.New().String()[:8])
	return &payment.Checkout{
		PaymentURL:       fmt.Sprintf("https://checkout.%s.test/%s", m.descriptor.ID, ref),
		GatewayReference: ref,
	}, nil
}

func (m *MockAdapter) VerifyPayment(ctx context.Context, reference string) (*payment.Verification, error) {
	m.verifyCalls.Add(1)
	if m.verifyFn != nil {
		return m.verifyFn(ctx, reference)
	}
	if err := m.simulate(ctx); err != nil {
		return nil, err
	}
	return nil, domainErrors.NewGatewayError(string(m.descriptor.ID), domainErrors.KindNotFound, domainErrors.ErrReferenceNotFound)
}

func (m *MockAdapter) HealthCheck(ctx context.Context) error {
	m.healthCalls.Add(1)
	if m.healthFn != nil {
		return m.healthFn(ctx)
	}
	return m.simulate(ctx)
}

// MockEvent is the webhook body accepted by MockAdapter.
type MockEvent struct {
	Event     string `json:"event"`
	Reference string `json:"reference"`
	Amount    int64  `json:"amount"`
	Currency  string `json:"currency"`
	Status    string `json:"status"`
}

func (m *MockAdapter) ParseWebhook(body []byte) (*payment.WebhookEvent, error) {
	var ev MockEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		return nil, domainErrors.NewGatewayError(string(m.descriptor.ID), domainErrors.KindParse, err)
	}
	if ev.Reference == "" {
		return nil, domainErrors.NewGatewayError(string(m.descriptor.ID), domainErrors.KindParse,
			fmt.Errorf("missing reference: %w", domainErrors.ErrWebhookParse))
	}

	kind := payment.EventOther
	switch ev.Event {
	case string(payment.EventChargeSuccess):
		kind = payment.EventChargeSuccess
	case string(payment.EventChargeFailed):
		kind = payment.EventChargeFailed
	}

	return &payment.WebhookEvent{
		GatewayID:         m.descriptor.ID,
		Kind:              kind,
		RawKind:           ev.Event,
		ExternalReference: ev.Reference,
		Amount:            payment.NewAmount(ev.Amount, ev.Currency),
		ReportedStatus:    ev.Status,
		RawPayload:        body,
	}, nil
}

func (m *MockAdapter) VerifySignature(_ []byte, headers http.Header) error {
	if m.secret == "" {
		return domainErrors.NewSignatureError(string(m.descriptor.ID), "no webhook secret configured")
	}
	if headers.Get(MockHeader) != m.secret {
		return domainErrors.NewSignatureError(string(m.descriptor.ID), "secret mismatch")
	}
	return nil
}

// InitiateCalls returns how many times Initiate was invoked.
func (m *MockAdapter) InitiateCalls() int64 { return m.initiateCalls.Load() }

// VerifyCalls returns how many times VerifyPayment was invoked.
func (m *MockAdapter) VerifyCalls() int64 { return m.verifyCalls.Load() }

// HealthCalls returns how many times HealthCheck was invoked.
func (m *MockAdapter) HealthCalls() int64 { return m.healthCalls.Load() }

func (m *MockAdapter) simulate(ctx context.Context) error {
	if m.latency > 0 {
		select {
		case <-time.After(m.latency):
		case <-ctx.Done():
			return domainErrors.NewGatewayError(string(m.descriptor.ID), domainErrors.KindTimeout, ctx.Err())
		}
	}
	if m.timeoutRate > 0 && rand.Float64() < m.timeoutRate {
		return domainErrors.NewGatewayError(string(m.descriptor.ID), domainErrors.KindTimeout, domainErrors.ErrGatewayTimeout)
	}
	if m.failureRate > 0 && rand.Float64() < m.failureRate {
		return domainErrors.NewGatewayError(string(m.descriptor.ID), domainErrors.KindUnavailable,
			fmt.Errorf("%s: simulated outage", m.descriptor.ID))
	}
	return nil
}
