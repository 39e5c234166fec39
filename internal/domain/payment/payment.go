package payment

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/cassiomorais/paygate/internal/domain/errors"
)

// GatewayID identifies a payment gateway
type GatewayID string

const (
	GatewayPaystack    GatewayID = "paystack"
	GatewayFlutterwave GatewayID = "flutterwave"
	GatewayOPay        GatewayID = "opay"
)

// Method is a customer-facing payment method
type Method string

const (
	MethodCard         Method = "card"
	MethodBankTransfer Method = "bank_transfer"
	MethodUSSD         Method = "ussd"
	MethodMobileMoney  Method = "mobile_money"
	MethodBank         Method = "bank"
)

// GatewayDescriptor is the static configuration of a gateway. It is built once
// at startup and never mutated.
type GatewayDescriptor struct {
	ID               GatewayID
	DisplayName      string
	Priority         int // lower = preferred
	SupportedMethods []Method
	Regions          []string // location hints the gateway is strongest in
}

// Supports reports whether the gateway accepts the given method.
func (d GatewayDescriptor) Supports(m Method) bool {
	return slices.Contains(d.SupportedMethods, m)
}

// ServesRegion reports whether the location hint matches one of the gateway's regions.
func (d GatewayDescriptor) ServesRegion(hint string) bool {
	hint = strings.ToLower(strings.TrimSpace(hint))
	if hint == "" {
		return false
	}
	for _, r := range d.Regions {
		if strings.ToLower(r) == hint {
			return true
		}
	}
	return false
}

// Customer carries the payer details gateways require for a checkout session.
type Customer struct {
	Email string
	Name  string
	Phone string
}

// Order is the slice of an order this subsystem needs. Orders are owned by the
// order collaborator; nothing here mutates them.
type Order struct {
	Reference   string
	Total       Amount
	Customer    Customer
	Method      Method // optional preferred method
	CallbackURL string
}

// Validate checks that the order can be sent to a gateway.
func (o Order) Validate() error {
	if strings.TrimSpace(o.Reference) == "" {
		return errors.NewValidationError("reference", "cannot be empty")
	}
	if err := o.Total.Validate(); err != nil {
		return err
	}
	if strings.TrimSpace(o.Customer.Email) == "" {
		return errors.NewValidationError("customer.email", "cannot be empty")
	}
	return nil
}

// Checkout is what a gateway returns after opening a payment session.
type Checkout struct {
	PaymentURL       string
	GatewayReference string
}

// PaymentAttempt records one adapter call within a single ProcessPayment invocation.
type PaymentAttempt struct {
	GatewayID        GatewayID
	StartedAt        time.Time
	FinishedAt       time.Time
	Success          bool
	ErrorKind        errors.GatewayErrorKind
	Error            string
	GatewayReference string
}

// Duration returns how long the attempt took.
func (a PaymentAttempt) Duration() time.Duration {
	return a.FinishedAt.Sub(a.StartedAt)
}

// PaymentResult is returned to the checkout caller and never persisted here.
type PaymentResult struct {
	Success          bool
	GatewayID        GatewayID
	Attempts         []PaymentAttempt
	PaymentURL       string
	GatewayReference string
	FailureReason    string
}

// VerificationStatus is the normalised status reported by a gateway's verify endpoint.
type VerificationStatus string

const (
	VerificationSuccess VerificationStatus = "SUCCESS"
	VerificationPending VerificationStatus = "PENDING"
	VerificationFailed  VerificationStatus = "FAILED"
)

// Verification is the authoritative state of a payment as reported by its gateway.
type Verification struct {
	GatewayID GatewayID
	Reference string
	Status    VerificationStatus
	Amount    Amount
	PaidAt    *time.Time
}

// EventKind is the normalised kind of an inbound webhook.
type EventKind string

const (
	EventChargeSuccess EventKind = "charge.success"
	EventChargeFailed  EventKind = "charge.failed"
	EventOther         EventKind = "other"
)

// WebhookEvent is the common shape every adapter parses webhooks into.
// Amounts are always in minor units.
type WebhookEvent struct {
	GatewayID         GatewayID
	Kind              EventKind
	RawKind           string
	ExternalReference string
	Amount            Amount
	ReportedStatus    string
	RawPayload        []byte
}

// DedupeKey identifies a delivery for idempotency purposes.
func (e WebhookEvent) DedupeKey() string {
	kind := e.RawKind
	if kind == "" {
		kind = string(e.Kind)
	}
	return fmt.Sprintf("%s:%s:%s", e.GatewayID, e.ExternalReference, kind)
}
