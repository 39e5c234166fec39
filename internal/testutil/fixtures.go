package testutil

import (
	"encoding/json"
	"net/http"

	"github.com/cassiomorais/paygate/internal/domain/payment"
	"github.com/cassiomorais/paygate/internal/gateway"
)

// MockSecret is the webhook secret used by mock gateways in tests.
const MockSecret = "whsec_test"

func NewTestOrder(reference string, totalMinor int64) payment.Order {
	return payment.Order{
		Reference: reference,
		Total:     payment.NewAmount(totalMinor, payment.CurrencyNGN),
		Customer:  payment.Customer{Email: "ada@example.com", Name: "Ada Obi"},
	}
}

// NewMockGateway returns a mock adapter that accepts webhooks signed with MockSecret.
func NewMockGateway(id payment.GatewayID, priority int, opts ...gateway.MockOption) *gateway.MockAdapter {
	opts = append([]gateway.MockOption{gateway.WithWebhookSecret(MockSecret)}, opts...)
	return gateway.NewMockAdapter(id, priority, opts...)
}

// MockWebhook builds a mock gateway webhook body and matching headers.
func MockWebhook(event, reference string, amountMinor int64) ([]byte, http.Header) {
	body, _ := json.Marshal(gateway.MockEvent{
		Event:     event,
		Reference: reference,
		Amount:    amountMinor,
		Currency:  payment.CurrencyNGN,
		Status:    "success",
	})
	headers := http.Header{}
	headers.Set(gateway.MockHeader, MockSecret)
	return body, headers
}
