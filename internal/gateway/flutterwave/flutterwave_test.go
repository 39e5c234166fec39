package flutterwave

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	domainErrors "github.com/cassiomorais/paygate/internal/domain/errors"
	"github.com/cassiomorais/paygate/internal/domain/payment"
	"github.com/cassiomorais/paygate/internal/gateway"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestAdapter(t *testing.T, handler http.HandlerFunc) *Adapter {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return New(gateway.Config{BaseURL: srv.URL, SecretKey: "FLWSECK_TEST", WebhookSecret: "my-hash", Priority: 2, Timeout: time.Second})
}

func testOrder() payment.Order {
	return payment.Order{
		Reference: "ORD-2",
		Total:     payment.NewAmount(250050, "NGN"),
		Customer:  payment.Customer{Email: "ada@example.com", Name: "Ada", Phone: "08030000000"},
		Method:    payment.MethodBankTransfer,
	}
}

func TestAdapter_Initiate_SendsNaira(t *testing.T) {
	a := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v3/payments", r.URL.Path)
		assert.Equal(t, "Bearer FLWSECK_TEST", r.Header.Get("Authorization"))

		raw, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		// amount must be a JSON number in naira, not kobo
		assert.Contains(t, string(raw), `"amount":2500.50`)

		var req paymentRequest
		require.NoError(t, json.Unmarshal(raw, &req))
		assert.Equal(t, "ORD-2", req.TxRef)
		assert.Equal(t, "banktransfer", req.PaymentOptions)

		w.Write([]byte(`{"status":"success","message":"Hosted Link","data":{"link":"https://checkout.flutterwave.com/v3/hosted/pay/abc"}}`))
	})

	checkout, err := a.Initiate(context.Background(), testOrder())
	require.NoError(t, err)
	assert.Equal(t, "https://checkout.flutterwave.com/v3/hosted/pay/abc", checkout.PaymentURL)
	assert.Equal(t, "ORD-2", checkout.GatewayReference)
}

func TestAdapter_Initiate_ErrorStatusIsRejected(t *testing.T) {
	a := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status":"error","message":"Invalid currency"}`))
	})

	_, err := a.Initiate(context.Background(), testOrder())
	assert.ErrorIs(t, err, domainErrors.ErrGatewayRejected)
}

func TestAdapter_VerifyPayment_ConvertsToKobo(t *testing.T) {
	a := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v3/transactions/verify_by_reference", r.URL.Path)
		assert.Equal(t, "ORD-2", r.URL.Query().Get("tx_ref"))
		w.Write([]byte(`{"status":"success","data":{"status":"successful","tx_ref":"ORD-2","amount":2500.5,"currency":"NGN","created_at":"2024-08-22T09:15:02.000Z"}}`))
	})

	v, err := a.VerifyPayment(context.Background(), "ORD-2")
	require.NoError(t, err)
	assert.Equal(t, payment.VerificationSuccess, v.Status)
	assert.Equal(t, int64(250050), v.Amount.Minor)
	assert.NotNil(t, v.PaidAt)
}

func TestAdapter_VerifyPayment_UnknownReference(t *testing.T) {
	a := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"status":"error","message":"No transaction was found for this id","data":null}`))
	})

	_, err := a.VerifyPayment(context.Background(), "nope")
	assert.Equal(t, domainErrors.KindNotFound, domainErrors.KindOf(err))
}

func TestAdapter_ParseWebhook(t *testing.T) {
	a := New(gateway.Config{WebhookSecret: "my-hash"})

	ev, err := a.ParseWebhook([]byte(`{"event":"charge.completed","data":{"tx_ref":"ORD-2","amount":2500,"currency":"NGN","status":"successful"}}`))
	require.NoError(t, err)
	assert.Equal(t, payment.EventChargeSuccess, ev.Kind)
	assert.Equal(t, int64(250000), ev.Amount.Minor)
	assert.Equal(t, "charge.completed:successful", ev.RawKind)

	failed, err := a.ParseWebhook([]byte(`{"event":"charge.completed","data":{"tx_ref":"ORD-2","amount":2500,"currency":"NGN","status":"failed"}}`))
	require.NoError(t, err)
	assert.Equal(t, payment.EventChargeFailed, failed.Kind)
	assert.NotEqual(t, ev.DedupeKey(), failed.DedupeKey())

	_, err = a.ParseWebhook([]byte(`{"event":"charge.completed","data":{"tx_ref":"ORD-2","amount":10.001,"currency":"NGN"}}`))
	assert.ErrorIs(t, err, domainErrors.ErrWebhookParse)
}

func TestAdapter_VerifySignature(t *testing.T) {
	a := New(gateway.Config{WebhookSecret: "my-hash"})

	headers := http.Header{}
	headers.Set(SignatureHeader, "my-hash")
	assert.NoError(t, a.VerifySignature(nil, headers))

	headers.Set(SignatureHeader, "other")
	assert.ErrorIs(t, a.VerifySignature(nil, headers), domainErrors.ErrSignatureVerification)

	unconfigured := New(gateway.Config{})
	assert.ErrorIs(t, unconfigured.VerifySignature(nil, headers), domainErrors.ErrSignatureVerification)
}

func TestAdapter_HealthCheck(t *testing.T) {
	a := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v3/banks/NG", r.URL.Path)
		w.Write([]byte(`{"status":"success","data":[]}`))
	})

	assert.NoError(t, a.HealthCheck(context.Background()))
}
