package controller

import (
	"strings"
	"time"

	"github.com/cassiomorais/paygate/internal/domain/payment"
	"github.com/cassiomorais/paygate/internal/health"
	"github.com/cassiomorais/paygate/internal/orchestrator"
	"github.com/cassiomorais/paygate/internal/webhook"
)

// --- Request DTOs ---
// Money arrives as a decimal string in major units ("2500.50") and is
// converted to minor units before it reaches the orchestrator.

type CustomerRequest struct {
	Email string `json:"email" validate:"required,email"`
	Name  string `json:"name"`
	Phone string `json:"phone"`
}

// InitiatePaymentRequest holds the input for opening a checkout session.
type InitiatePaymentRequest struct {
	Reference   string          `json:"reference" validate:"required,max=100"`
	Amount      string          `json:"amount" validate:"required,numeric"`
	Currency    string          `json:"currency" validate:"required,len=3"`
	Customer    CustomerRequest `json:"customer" validate:"required"`
	Method      string          `json:"method,omitempty" validate:"omitempty,oneof=card bank_transfer ussd mobile_money bank"`
	CallbackURL string          `json:"callback_url,omitempty" validate:"omitempty,url"`
}

// ToOrder converts the request into the order the orchestrator expects.
func (r InitiatePaymentRequest) ToOrder() (payment.Order, error) {
	currency := strings.ToUpper(r.Currency)
	minor, err := payment.ParseMajor(r.Amount, currency)
	if err != nil {
		return payment.Order{}, err
	}
	return payment.Order{
		Reference: r.Reference,
		Total:     payment.NewAmount(minor, currency),
		Customer: payment.Customer{
			Email: r.Customer.Email,
			Name:  r.Customer.Name,
			Phone: r.Customer.Phone,
		},
		Method:      payment.Method(r.Method),
		CallbackURL: r.CallbackURL,
	}, nil
}

// --- Response DTOs ---

type AttemptResponse struct {
	GatewayID        string `json:"gateway_id"`
	Success          bool   `json:"success"`
	ErrorKind        string `json:"error_kind,omitempty"`
	Error            string `json:"error,omitempty"`
	GatewayReference string `json:"gateway_reference,omitempty"`
	DurationMs       int64  `json:"duration_ms"`
}

type PaymentResultResponse struct {
	Success          bool              `json:"success"`
	GatewayID        string            `json:"gateway_id"`
	PaymentURL       string            `json:"payment_url"`
	GatewayReference string            `json:"gateway_reference"`
	Attempts         []AttemptResponse `json:"attempts"`
}

type VerificationResponse struct {
	GatewayID   string     `json:"gateway_id"`
	Reference   string     `json:"reference"`
	Status      string     `json:"status"`
	Amount      string     `json:"amount"`
	AmountMinor int64      `json:"amount_minor"`
	Currency    string     `json:"currency"`
	PaidAt      *time.Time `json:"paid_at,omitempty"`
}

type GatewayResponse struct {
	ID               string   `json:"id"`
	DisplayName      string   `json:"display_name"`
	Priority         int      `json:"priority"`
	SupportedMethods []string `json:"supported_methods"`
	Regions          []string `json:"regions,omitempty"`
}

type GatewayStatsResponse struct {
	GatewayID        string     `json:"gateway_id"`
	DisplayName      string     `json:"display_name"`
	Priority         int        `json:"priority"`
	SupportedMethods []string   `json:"supported_methods"`
	Healthy          bool       `json:"healthy"`
	LastLatencyMs    int64      `json:"last_latency_ms"`
	LastCheckedAt    *time.Time `json:"last_checked_at,omitempty"`
	LastError        string     `json:"last_error,omitempty"`
	BreakerState     string     `json:"breaker_state"`
}

// WebhookResponse is the acknowledgement body sent back to the gateway.
type WebhookResponse struct {
	Status    string `json:"status"`
	GatewayID string `json:"gateway_id,omitempty"`
	Decision  string `json:"decision,omitempty"`
}

type FailureResponse struct {
	Gateway string `json:"gateway"`
	Kind    string `json:"kind"`
	Reason  string `json:"reason"`
}

// ErrorResponse represents an error response.
type ErrorResponse struct {
	Error    string            `json:"error"`
	Code     string            `json:"code"`
	Failures []FailureResponse `json:"failures,omitempty"`
}

// --- Conversion helpers ---

func FromPaymentResult(r *payment.PaymentResult) *PaymentResultResponse {
	resp := &PaymentResultResponse{
		Success:          r.Success,
		GatewayID:        string(r.GatewayID),
		PaymentURL:       r.PaymentURL,
		GatewayReference: r.GatewayReference,
		Attempts:         make([]AttemptResponse, 0, len(r.Attempts)),
	}
	for _, a := range r.Attempts {
		resp.Attempts = append(resp.Attempts, AttemptResponse{
			GatewayID:        string(a.GatewayID),
			Success:          a.Success,
			ErrorKind:        string(a.ErrorKind),
			Error:            a.Error,
			GatewayReference: a.GatewayReference,
			DurationMs:       a.Duration().Milliseconds(),
		})
	}
	return resp
}

func FromVerification(v *orchestrator.NormalizedVerification) *VerificationResponse {
	return &VerificationResponse{
		GatewayID:   string(v.GatewayID),
		Reference:   v.Reference,
		Status:      string(v.Status),
		Amount:      v.Amount.StringFixed(payment.CurrencyScale(v.Currency)),
		AmountMinor: v.AmountMinor,
		Currency:    v.Currency,
		PaidAt:      v.PaidAt,
	}
}

func FromDescriptor(d *payment.GatewayDescriptor) *GatewayResponse {
	return &GatewayResponse{
		ID:               string(d.ID),
		DisplayName:      d.DisplayName,
		Priority:         d.Priority,
		SupportedMethods: methodStrings(d.SupportedMethods),
		Regions:          d.Regions,
	}
}

func FromStats(s health.GatewayStats) GatewayStatsResponse {
	resp := GatewayStatsResponse{
		GatewayID:        string(s.GatewayID),
		DisplayName:      s.DisplayName,
		Priority:         s.Priority,
		SupportedMethods: methodStrings(s.SupportedMethods),
		Healthy:          s.Healthy,
		LastLatencyMs:    s.LastLatency.Milliseconds(),
		LastError:        s.LastError,
		BreakerState:     s.BreakerState,
	}
	if !s.LastCheckedAt.IsZero() {
		t := s.LastCheckedAt
		resp.LastCheckedAt = &t
	}
	return resp
}

func FromWebhookResult(r *webhook.Result) *WebhookResponse {
	resp := &WebhookResponse{Status: string(r.Outcome), GatewayID: string(r.GatewayID)}
	if r.Decision != nil {
		resp.Decision = r.Decision.Kind()
	}
	return resp
}

func methodStrings(methods []payment.Method) []string {
	out := make([]string, len(methods))
	for i, m := range methods {
		out[i] = string(m)
	}
	return out
}
