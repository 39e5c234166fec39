// Package opay integrates the OPay international cashier API. OPay amounts are
// kobo, sent as numbers and received as strings in callbacks. Callbacks are
// signed with HMAC-SHA3-512 over a canonical rendering of the payload.
package opay

import (
	"context"
	"crypto/sha512"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	domainErrors "github.com/cassiomorais/paygate/internal/domain/errors"
	"github.com/cassiomorais/paygate/internal/domain/payment"
	"github.com/cassiomorais/paygate/internal/gateway"
	"github.com/cassiomorais/paygate/internal/signature"
	"github.com/shopspring/decimal"
)

const (
	DefaultBaseURL = "https://liveapi.opaycheckout.com"
	// SignatureHeader optionally carries the callback signature; when absent
	// the sha512 field of the body is used.
	SignatureHeader = "sha512"

	codeSuccess     = "00000"
	healthReference = "paygate-healthcheck"
)

var defaultMethods = []payment.Method{
	payment.MethodCard,
	payment.MethodBankTransfer,
	payment.MethodUSSD,
	payment.MethodBank,
}

var payMethods = map[payment.Method]string{
	payment.MethodCard:         "BankCard",
	payment.MethodBankTransfer: "BankTransfer",
	payment.MethodUSSD:         "BankUSSD",
	payment.MethodBank:         "BankAccount",
}

type Adapter struct {
	cfg        gateway.Config
	descriptor payment.GatewayDescriptor
	client     *gateway.HTTPClient
}

var _ gateway.Adapter = (*Adapter)(nil)

func New(cfg gateway.Config) *Adapter {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	return &Adapter{
		cfg:        cfg,
		descriptor: cfg.Descriptor(payment.GatewayOPay, "OPay", defaultMethods),
		client:     gateway.NewHTTPClient(string(payment.GatewayOPay), cfg.BaseURL, cfg.HTTPTimeout()),
	}
}

func (a *Adapter) Descriptor() payment.GatewayDescriptor { return a.descriptor }

type envelope[T any] struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Data    *T     `json:"data"`
}

type money struct {
	Total    int64  `json:"total"`
	Currency string `json:"currency"`
}

// reportedMoney accepts totals sent either as numbers or strings.
type reportedMoney struct {
	Total    decimal.Decimal `json:"total"`
	Currency string          `json:"currency"`
}

type userInfo struct {
	UserEmail  string `json:"userEmail"`
	UserName   string `json:"userName,omitempty"`
	UserMobile string `json:"userMobile,omitempty"`
}

type product struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

type createRequest struct {
	Country     string   `json:"country"`
	Reference   string   `json:"reference"`
	Amount      money    `json:"amount"`
	ReturnURL   string   `json:"returnUrl,omitempty"`
	CallbackURL string   `json:"callbackUrl,omitempty"`
	ExpireAt    int      `json:"expireAt"`
	UserInfo    userInfo `json:"userInfo"`
	Product     product  `json:"product"`
	PayMethod   string   `json:"payMethod,omitempty"`
}

type cashierData struct {
	Reference  string        `json:"reference"`
	OrderNo    string        `json:"orderNo"`
	CashierURL string        `json:"cashierUrl"`
	Status     string        `json:"status"`
	Amount     reportedMoney `json:"amount"`
	CreateTime int64         `json:"createTime"`
}

func (a *Adapter) Initiate(ctx context.Context, order payment.Order) (*payment.Checkout, error) {
	req := createRequest{
		Country:   "NG",
		Reference: order.Reference,
		Amount: money{
			Total:    order.Total.Minor,
			Currency: order.Total.Currency,
		},
		ReturnURL:   order.CallbackURL,
		CallbackURL: order.CallbackURL,
		ExpireAt:    30,
		UserInfo: userInfo{
			UserEmail:  order.Customer.Email,
			UserName:   order.Customer.Name,
			UserMobile: order.Customer.Phone,
		},
		Product:   product{Name: order.Reference, Description: "Order " + order.Reference},
		PayMethod: payMethods[order.Method],
	}
	body, err := gateway.JSONBody(req)
	if err != nil {
		return nil, domainErrors.NewGatewayError(string(payment.GatewayOPay), domainErrors.KindRejected, err)
	}

	var resp envelope[cashierData]
	if err := a.client.Do(ctx, gateway.Request{
		Method: http.MethodPost,
		Path:   "/api/v1/international/cashier/create",
		Headers: map[string]string{
			"Authorization": "Bearer " + a.cfg.PublicKey,
			"MerchantId":    a.cfg.MerchantID,
		},
		Body: body,
	}, &resp); err != nil {
		return nil, err
	}
	if resp.Code != codeSuccess || resp.Data == nil || resp.Data.CashierURL == "" {
		return nil, domainErrors.NewGatewayError(string(payment.GatewayOPay), domainErrors.KindRejected,
			fmt.Errorf("cashier create: %s %s", resp.Code, resp.Message))
	}

	ref := resp.Data.OrderNo
	if ref == "" {
		ref = order.Reference
	}
	return &payment.Checkout{PaymentURL: resp.Data.CashierURL, GatewayReference: ref}, nil
}

type statusRequest struct {
	Country   string `json:"country"`
	Reference string `json:"reference"`
}

func (a *Adapter) status(ctx context.Context, reference string) (*envelope[cashierData], error) {
	body, err := gateway.JSONBody(statusRequest{Country: "NG", Reference: reference})
	if err != nil {
		return nil, domainErrors.NewGatewayError(string(payment.GatewayOPay), domainErrors.KindRejected, err)
	}

	// Status queries are authorised with an HMAC-SHA512 of the request body.
	var resp envelope[cashierData]
	err = a.client.Do(ctx, gateway.Request{
		Method: http.MethodPost,
		Path:   "/api/v1/international/cashier/status",
		Headers: map[string]string{
			"Authorization": "Bearer " + signature.HexHMAC(sha512.New, sha512.BlockSize, []byte(a.cfg.SecretKey), body),
			"MerchantId":    a.cfg.MerchantID,
		},
		Body: body,
	}, &resp)
	if err != nil {
		return nil, err
	}
	return &resp, nil
}

func (a *Adapter) VerifyPayment(ctx context.Context, reference string) (*payment.Verification, error) {
	resp, err := a.status(ctx, reference)
	if err != nil {
		return nil, err
	}
	if resp.Code != codeSuccess || resp.Data == nil {
		if isNotFound(resp.Message) {
			return nil, domainErrors.NewGatewayError(string(payment.GatewayOPay), domainErrors.KindNotFound,
				fmt.Errorf("%s: %w", resp.Message, domainErrors.ErrReferenceNotFound))
		}
		return nil, domainErrors.NewGatewayError(string(payment.GatewayOPay), domainErrors.KindRejected,
			fmt.Errorf("cashier status: %s %s", resp.Code, resp.Message))
	}

	total := resp.Data.Amount.Total
	if !total.Equal(total.Truncate(0)) {
		return nil, domainErrors.NewGatewayError(string(payment.GatewayOPay), domainErrors.KindParse,
			fmt.Errorf("%w: total %s is not in kobo", domainErrors.ErrInvalidAmount, total))
	}

	v := &payment.Verification{
		GatewayID: payment.GatewayOPay,
		Reference: resp.Data.Reference,
		Status:    verificationStatus(resp.Data.Status),
		Amount:    payment.NewAmount(total.IntPart(), resp.Data.Amount.Currency),
	}
	if v.Reference == "" {
		v.Reference = reference
	}
	if v.Status == payment.VerificationSuccess && resp.Data.CreateTime > 0 {
		t := time.UnixMilli(resp.Data.CreateTime).UTC()
		v.PaidAt = &t
	}
	return v, nil
}

func isNotFound(msg string) bool {
	m := strings.ToLower(msg)
	return strings.Contains(m, "not exist") || strings.Contains(m, "not found")
}

func verificationStatus(s string) payment.VerificationStatus {
	switch strings.ToUpper(s) {
	case "SUCCESS":
		return payment.VerificationSuccess
	case "FAIL", "CLOSE":
		return payment.VerificationFailed
	default:
		return payment.VerificationPending
	}
}

func (a *Adapter) ParseWebhook(body []byte) (*payment.WebhookEvent, error) {
	cb, err := parseCallback(body)
	if err != nil {
		return nil, err
	}

	minor, err := payment.ParseMinor(cb.Payload.Amount)
	if err != nil {
		return nil, domainErrors.NewGatewayError(string(payment.GatewayOPay), domainErrors.KindParse, err)
	}

	status := strings.ToUpper(cb.Payload.Status)
	kind := payment.EventOther
	if cb.Type == "transaction-status" && !cb.Payload.Refunded {
		switch status {
		case "SUCCESS":
			kind = payment.EventChargeSuccess
		case "FAIL", "CLOSE":
			kind = payment.EventChargeFailed
		}
	}

	return &payment.WebhookEvent{
		GatewayID:         payment.GatewayOPay,
		Kind:              kind,
		RawKind:           cb.Type + ":" + strings.ToLower(status),
		ExternalReference: cb.Payload.Reference,
		Amount:            payment.NewAmount(minor, cb.Payload.Currency),
		ReportedStatus:    cb.Payload.Status,
		RawPayload:        body,
	}, nil
}

// VerifySignature recomputes HMAC-SHA3-512 over the canonical payload string
// and compares it with the sha512 header, or the body's sha512 field.
func (a *Adapter) VerifySignature(body []byte, headers http.Header) error {
	if a.webhookSecret() == "" {
		return domainErrors.NewSignatureError(string(payment.GatewayOPay), "no webhook secret configured")
	}
	cb, err := parseCallback(body)
	if err != nil {
		return domainErrors.NewSignatureError(string(payment.GatewayOPay), "unparseable callback")
	}

	got := headers.Get(SignatureHeader)
	if got == "" {
		got = cb.SHA512
	}
	if got == "" {
		return domainErrors.NewSignatureError(string(payment.GatewayOPay), "missing sha512 signature")
	}

	if !signature.EqualHex(Sign(a.webhookSecret(), cb.Payload), got) {
		return domainErrors.NewSignatureError(string(payment.GatewayOPay), "digest mismatch")
	}
	return nil
}

// HealthCheck queries the status of a reference that never exists. Any answer
// from OPay, including "not found", means the API is reachable.
func (a *Adapter) HealthCheck(ctx context.Context) error {
	_, err := a.status(ctx, healthReference)
	if err != nil && errors.Is(err, domainErrors.ErrGatewayUnavailable) {
		return err
	}
	return nil
}

func (a *Adapter) webhookSecret() string {
	if a.cfg.WebhookSecret != "" {
		return a.cfg.WebhookSecret
	}
	return a.cfg.SecretKey
}

func parseCallback(body []byte) (*Callback, error) {
	var cb Callback
	if err := json.Unmarshal(body, &cb); err != nil {
		return nil, domainErrors.NewGatewayError(string(payment.GatewayOPay), domainErrors.KindParse, err)
	}
	if cb.Payload.Reference == "" {
		return nil, domainErrors.NewGatewayError(string(payment.GatewayOPay), domainErrors.KindParse,
			fmt.Errorf("missing payload reference: %w", domainErrors.ErrWebhookParse))
	}
	return &cb, nil
}
