// Package paystack integrates the Paystack transaction API. Paystack works in
// kobo end to end and signs webhooks with HMAC-SHA512 of the raw body.
package paystack

import (
	"context"
	"crypto/sha512"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	domainErrors "github.com/cassiomorais/paygate/internal/domain/errors"
	"github.com/cassiomorais/paygate/internal/domain/payment"
	"github.com/cassiomorais/paygate/internal/gateway"
	"github.com/cassiomorais/paygate/internal/signature"
)

const (
	DefaultBaseURL  = "https://api.paystack.co"
	SignatureHeader = "x-paystack-signature"
)

var defaultMethods = []payment.Method{
	payment.MethodCard,
	payment.MethodBankTransfer,
	payment.MethodUSSD,
	payment.MethodBank,
	payment.MethodMobileMoney,
}

// channels maps our payment methods onto Paystack channel names.
var channels = map[payment.Method]string{
	payment.MethodCard:         "card",
	payment.MethodBankTransfer: "bank_transfer",
	payment.MethodUSSD:         "ussd",
	payment.MethodBank:         "bank",
	payment.MethodMobileMoney:  "mobile_money",
}

type Adapter struct {
	cfg        gateway.Config
	descriptor payment.GatewayDescriptor
	client     *gateway.HTTPClient
	verifier   signature.BodyHMAC
}

var _ gateway.Adapter = (*Adapter)(nil)

func New(cfg gateway.Config) *Adapter {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	// Paystack signs webhooks with the account secret key.
	webhookSecret := cfg.WebhookSecret
	if webhookSecret == "" {
		webhookSecret = cfg.SecretKey
	}
	return &Adapter{
		cfg:        cfg,
		descriptor: cfg.Descriptor(payment.GatewayPaystack, "Paystack", defaultMethods),
		client:     gateway.NewHTTPClient(string(payment.GatewayPaystack), cfg.BaseURL, cfg.HTTPTimeout()),
		verifier: signature.BodyHMAC{
			Gateway: string(payment.GatewayPaystack),
			Header:  SignatureHeader,
			Secret:  []byte(webhookSecret),
			NewHash: sha512.New,
		},
	}
}

func (a *Adapter) Descriptor() payment.GatewayDescriptor { return a.descriptor }

type envelope[T any] struct {
	Status  bool   `json:"status"`
	Message string `json:"message"`
	Data    T      `json:"data"`
}

type initializeRequest struct {
	Email       string   `json:"email"`
	Amount      int64    `json:"amount"`
	Currency    string   `json:"currency"`
	Reference   string   `json:"reference"`
	CallbackURL string   `json:"callback_url,omitempty"`
	Channels    []string `json:"channels,omitempty"`
}

type initializeData struct {
	AuthorizationURL string `json:"authorization_url"`
	AccessCode       string `json:"access_code"`
	Reference        string `json:"reference"`
}

func (a *Adapter) Initiate(ctx context.Context, order payment.Order) (*payment.Checkout, error) {
	req := initializeRequest{
		Email:       order.Customer.Email,
		Amount:      order.Total.Minor,
		Currency:    order.Total.Currency,
		Reference:   order.Reference,
		CallbackURL: order.CallbackURL,
	}
	if ch, ok := channels[order.Method]; ok {
		req.Channels = []string{ch}
	}
	body, err := gateway.JSONBody(req)
	if err != nil {
		return nil, domainErrors.NewGatewayError(string(payment.GatewayPaystack), domainErrors.KindRejected, err)
	}

	var resp envelope[initializeData]
	if err := a.client.Do(ctx, gateway.Request{
		Method:  http.MethodPost,
		Path:    "/transaction/initialize",
		Headers: a.authHeaders(),
		Body:    body,
	}, &resp); err != nil {
		return nil, err
	}
	if !resp.Status || resp.Data.AuthorizationURL == "" {
		return nil, domainErrors.NewGatewayError(string(payment.GatewayPaystack), domainErrors.KindRejected,
			fmt.Errorf("initialize: %s", resp.Message))
	}

	ref := resp.Data.Reference
	if ref == "" {
		ref = order.Reference
	}
	return &payment.Checkout{PaymentURL: resp.Data.AuthorizationURL, GatewayReference: ref}, nil
}

type verifyData struct {
	Status    string `json:"status"`
	Reference string `json:"reference"`
	Amount    int64  `json:"amount"`
	Currency  string `json:"currency"`
	PaidAt    string `json:"paid_at"`
}

func (a *Adapter) VerifyPayment(ctx context.Context, reference string) (*payment.Verification, error) {
	var resp envelope[verifyData]
	err := a.client.Do(ctx, gateway.Request{
		Method:  http.MethodGet,
		Path:    "/transaction/verify/" + url.PathEscape(reference),
		Headers: a.authHeaders(),
	}, &resp)
	if err != nil {
		// Paystack answers unknown references with a 400 "Transaction reference not found".
		if domainErrors.KindOf(err) == domainErrors.KindRejected && strings.Contains(strings.ToLower(err.Error()), "not found") {
			return nil, domainErrors.NewGatewayError(string(payment.GatewayPaystack), domainErrors.KindNotFound, domainErrors.ErrReferenceNotFound)
		}
		return nil, err
	}
	if !resp.Status {
		return nil, domainErrors.NewGatewayError(string(payment.GatewayPaystack), domainErrors.KindNotFound,
			fmt.Errorf("%s: %w", resp.Message, domainErrors.ErrReferenceNotFound))
	}

	v := &payment.Verification{
		GatewayID: payment.GatewayPaystack,
		Reference: resp.Data.Reference,
		Status:    verificationStatus(resp.Data.Status),
		Amount:    payment.NewAmount(resp.Data.Amount, resp.Data.Currency),
	}
	if v.Reference == "" {
		v.Reference = reference
	}
	if t, err := time.Parse(time.RFC3339Nano, resp.Data.PaidAt); err == nil {
		v.PaidAt = &t
	}
	return v, nil
}

func verificationStatus(s string) payment.VerificationStatus {
	switch strings.ToLower(s) {
	case "success":
		return payment.VerificationSuccess
	case "failed", "abandoned", "reversed":
		return payment.VerificationFailed
	default:
		return payment.VerificationPending
	}
}

type webhookBody struct {
	Event string `json:"event"`
	Data  struct {
		Reference string `json:"reference"`
		Amount    int64  `json:"amount"`
		Currency  string `json:"currency"`
		Status    string `json:"status"`
	} `json:"data"`
}

func (a *Adapter) ParseWebhook(body []byte) (*payment.WebhookEvent, error) {
	var wb webhookBody
	if err := json.Unmarshal(body, &wb); err != nil {
		return nil, domainErrors.NewGatewayError(string(payment.GatewayPaystack), domainErrors.KindParse, err)
	}
	if wb.Event == "" || wb.Data.Reference == "" {
		return nil, domainErrors.NewGatewayError(string(payment.GatewayPaystack), domainErrors.KindParse,
			fmt.Errorf("missing event or reference: %w", domainErrors.ErrWebhookParse))
	}

	kind := payment.EventOther
	switch wb.Event {
	case "charge.success":
		kind = payment.EventChargeSuccess
	case "charge.failed":
		kind = payment.EventChargeFailed
	}

	return &payment.WebhookEvent{
		GatewayID:         payment.GatewayPaystack,
		Kind:              kind,
		RawKind:           wb.Event,
		ExternalReference: wb.Data.Reference,
		Amount:            payment.NewAmount(wb.Data.Amount, wb.Data.Currency),
		ReportedStatus:    wb.Data.Status,
		RawPayload:        body,
	}, nil
}

func (a *Adapter) VerifySignature(body []byte, headers http.Header) error {
	return a.verifier.Verify(body, headers)
}

// HealthCheck lists a single bank, which is read-only and cheap.
func (a *Adapter) HealthCheck(ctx context.Context) error {
	return a.client.Do(ctx, gateway.Request{
		Method:  http.MethodGet,
		Path:    "/bank?country=nigeria&perPage=1",
		Headers: a.authHeaders(),
	}, nil)
}

func (a *Adapter) authHeaders() map[string]string {
	return map[string]string{"Authorization": "Bearer " + a.cfg.SecretKey}
}
