// Package gateway defines the capability every payment gateway integration
// implements and the priority-ordered registry the orchestrator works from.
package gateway

import (
	"context"
	"net/http"

	"github.com/cassiomorais/paygate/internal/domain/payment"
)

// Adapter is one gateway integration: payment calls, webhook parsing and
// webhook signature verification behind a single value.
type Adapter interface {
	// Descriptor returns the static description of the gateway.
	Descriptor() payment.GatewayDescriptor

	// Initiate opens a checkout session for the order. The order total is in
	// minor units; adapters convert to the gateway's unit here and only here.
	Initiate(ctx context.Context, order payment.Order) (*payment.Checkout, error)

	// VerifyPayment asks the gateway for the authoritative state of a reference.
	// A reference the gateway does not know yields errors.ErrReferenceNotFound.
	VerifyPayment(ctx context.Context, reference string) (*payment.Verification, error)

	// ParseWebhook maps a raw webhook body onto the common event shape with
	// the amount in minor units.
	ParseWebhook(body []byte) (*payment.WebhookEvent, error)

	// VerifySignature checks that body was produced by this gateway.
	VerifySignature(body []byte, headers http.Header) error

	// HealthCheck performs a cheap read-only call against the gateway.
	HealthCheck(ctx context.Context) error
}

// ID is a shorthand for the adapter's gateway ID.
func ID(a Adapter) payment.GatewayID {
	return a.Descriptor().ID
}
