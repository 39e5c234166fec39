// Package flutterwave integrates the Flutterwave v3 API. Flutterwave quotes
// amounts in major units (naira) and authenticates webhooks with a shared
// secret hash carried in the verif-hash header.
package flutterwave

import (
	"context"
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
	"github.com/shopspring/decimal"
)

const (
	DefaultBaseURL  = "https://api.flutterwave.com"
	SignatureHeader = "verif-hash"
)

var defaultMethods = []payment.Method{
	payment.MethodCard,
	payment.MethodBankTransfer,
	payment.MethodUSSD,
	payment.MethodMobileMoney,
}

var paymentOptions = map[payment.Method]string{
	payment.MethodCard:         "card",
	payment.MethodBankTransfer: "banktransfer",
	payment.MethodUSSD:         "ussd",
	payment.MethodMobileMoney:  "mobilemoneyghana,mobilemoneyuganda,mpesa",
}

type Adapter struct {
	cfg        gateway.Config
	descriptor payment.GatewayDescriptor
	client     *gateway.HTTPClient
	verifier   signature.SharedSecret
}

var _ gateway.Adapter = (*Adapter)(nil)

func New(cfg gateway.Config) *Adapter {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	return &Adapter{
		cfg:        cfg,
		descriptor: cfg.Descriptor(payment.GatewayFlutterwave, "Flutterwave", defaultMethods),
		client:     gateway.NewHTTPClient(string(payment.GatewayFlutterwave), cfg.BaseURL, cfg.HTTPTimeout()),
		verifier: signature.SharedSecret{
			Gateway: string(payment.GatewayFlutterwave),
			Header:  SignatureHeader,
			Secret:  cfg.WebhookSecret,
		},
	}
}

func (a *Adapter) Descriptor() payment.GatewayDescriptor { return a.descriptor }

type envelope[T any] struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	Data    T      `json:"data"`
}

type customer struct {
	Email       string `json:"email"`
	Name        string `json:"name,omitempty"`
	PhoneNumber string `json:"phonenumber,omitempty"`
}

type paymentRequest struct {
	TxRef          string      `json:"tx_ref"`
	Amount         json.Number `json:"amount"`
	Currency       string      `json:"currency"`
	RedirectURL    string      `json:"redirect_url,omitempty"`
	PaymentOptions string      `json:"payment_options,omitempty"`
	Customer       customer    `json:"customer"`
}

type paymentData struct {
	Link string `json:"link"`
}

func (a *Adapter) Initiate(ctx context.Context, order payment.Order) (*payment.Checkout, error) {
	scale := payment.CurrencyScale(order.Total.Currency)
	req := paymentRequest{
		TxRef:       order.Reference,
		Amount:      json.Number(order.Total.Major().StringFixed(scale)),
		Currency:    order.Total.Currency,
		RedirectURL: order.CallbackURL,
		Customer: customer{
			Email:       order.Customer.Email,
			Name:        order.Customer.Name,
			PhoneNumber: order.Customer.Phone,
		},
		PaymentOptions: paymentOptions[order.Method],
	}
	body, err := gateway.JSONBody(req)
	if err != nil {
		return nil, domainErrors.NewGatewayError(string(payment.GatewayFlutterwave), domainErrors.KindRejected, err)
	}

	var resp envelope[paymentData]
	if err := a.client.Do(ctx, gateway.Request{
		Method:  http.MethodPost,
		Path:    "/v3/payments",
		Headers: a.authHeaders(),
		Body:    body,
	}, &resp); err != nil {
		return nil, err
	}
	if resp.Status != "success" || resp.Data.Link == "" {
		return nil, domainErrors.NewGatewayError(string(payment.GatewayFlutterwave), domainErrors.KindRejected,
			fmt.Errorf("create payment: %s", resp.Message))
	}

	// Flutterwave keys transactions by our tx_ref.
	return &payment.Checkout{PaymentURL: resp.Data.Link, GatewayReference: order.Reference}, nil
}

type transactionData struct {
	Status    string          `json:"status"`
	TxRef     string          `json:"tx_ref"`
	Amount    decimal.Decimal `json:"amount"`
	Currency  string          `json:"currency"`
	CreatedAt string          `json:"created_at"`
}

func (a *Adapter) VerifyPayment(ctx context.Context, reference string) (*payment.Verification, error) {
	var resp envelope[transactionData]
	err := a.client.Do(ctx, gateway.Request{
		Method:  http.MethodGet,
		Path:    "/v3/transactions/verify_by_reference?tx_ref=" + url.QueryEscape(reference),
		Headers: a.authHeaders(),
	}, &resp)
	if err != nil {
		// Unknown references come back as a 400 "No transaction was found for this id".
		if domainErrors.KindOf(err) == domainErrors.KindRejected && strings.Contains(strings.ToLower(err.Error()), "no transaction was found") {
			return nil, domainErrors.NewGatewayError(string(payment.GatewayFlutterwave), domainErrors.KindNotFound, domainErrors.ErrReferenceNotFound)
		}
		return nil, err
	}
	if resp.Status != "success" {
		return nil, domainErrors.NewGatewayError(string(payment.GatewayFlutterwave), domainErrors.KindNotFound,
			fmt.Errorf("%s: %w", resp.Message, domainErrors.ErrReferenceNotFound))
	}

	minor, err := payment.MajorToMinor(resp.Data.Amount, resp.Data.Currency)
	if err != nil {
		return nil, domainErrors.NewGatewayError(string(payment.GatewayFlutterwave), domainErrors.KindParse, err)
	}

	v := &payment.Verification{
		GatewayID: payment.GatewayFlutterwave,
		Reference: resp.Data.TxRef,
		Status:    verificationStatus(resp.Data.Status),
		Amount:    payment.NewAmount(minor, resp.Data.Currency),
	}
	if v.Reference == "" {
		v.Reference = reference
	}
	if v.Status == payment.VerificationSuccess {
		if t, err := time.Parse(time.RFC3339Nano, resp.Data.CreatedAt); err == nil {
			v.PaidAt = &t
		}
	}
	return v, nil
}

func verificationStatus(s string) payment.VerificationStatus {
	switch strings.ToLower(s) {
	case "successful":
		return payment.VerificationSuccess
	case "failed", "cancelled":
		return payment.VerificationFailed
	default:
		return payment.VerificationPending
	}
}

type webhookBody struct {
	Event string `json:"event"`
	Data  struct {
		TxRef    string          `json:"tx_ref"`
		Amount   decimal.Decimal `json:"amount"`
		Currency string          `json:"currency"`
		Status   string          `json:"status"`
	} `json:"data"`
}

func (a *Adapter) ParseWebhook(body []byte) (*payment.WebhookEvent, error) {
	var wb webhookBody
	if err := json.Unmarshal(body, &wb); err != nil {
		return nil, domainErrors.NewGatewayError(string(payment.GatewayFlutterwave), domainErrors.KindParse, err)
	}
	if wb.Event == "" || wb.Data.TxRef == "" {
		return nil, domainErrors.NewGatewayError(string(payment.GatewayFlutterwave), domainErrors.KindParse,
			fmt.Errorf("missing event or tx_ref: %w", domainErrors.ErrWebhookParse))
	}

	minor, err := payment.MajorToMinor(wb.Data.Amount, wb.Data.Currency)
	if err != nil {
		return nil, domainErrors.NewGatewayError(string(payment.GatewayFlutterwave), domainErrors.KindParse, err)
	}

	status := strings.ToLower(wb.Data.Status)
	kind := payment.EventOther
	if wb.Event == "charge.completed" {
		switch status {
		case "successful":
			kind = payment.EventChargeSuccess
		case "failed":
			kind = payment.EventChargeFailed
		}
	}

	return &payment.WebhookEvent{
		GatewayID:         payment.GatewayFlutterwave,
		Kind:              kind,
		RawKind:           wb.Event + ":" + status,
		ExternalReference: wb.Data.TxRef,
		Amount:            payment.NewAmount(minor, wb.Data.Currency),
		ReportedStatus:    wb.Data.Status,
		RawPayload:        body,
	}, nil
}

func (a *Adapter) VerifySignature(body []byte, headers http.Header) error {
	return a.verifier.Verify(body, headers)
}

// HealthCheck lists Nigerian banks, a read-only call.
func (a *Adapter) HealthCheck(ctx context.Context) error {
	return a.client.Do(ctx, gateway.Request{
		Method:  http.MethodGet,
		Path:    "/v3/banks/NG",
		Headers: a.authHeaders(),
	}, nil)
}

func (a *Adapter) authHeaders() map[string]string {
	return map[string]string{"Authorization": "Bearer " + a.cfg.SecretKey}
}
