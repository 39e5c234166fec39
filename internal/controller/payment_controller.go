package controller

import (
	"context"
	"net/http"

	"github.com/cassiomorais/paygate/internal/domain/payment"
	"github.com/cassiomorais/paygate/internal/health"
	"github.com/cassiomorais/paygate/internal/orchestrator"
	"github.com/go-chi/chi/v5"
)

// PaymentOrchestrator is the slice of the orchestrator the HTTP layer uses.
type PaymentOrchestrator interface {
	ProcessPayment(ctx context.Context, order payment.Order) (*payment.PaymentResult, error)
	VerifyPayment(ctx context.Context, reference string) (*orchestrator.NormalizedVerification, error)
	GetBestAvailableGateway() *payment.GatewayDescriptor
	GetGatewayStats() []health.GatewayStats
	GetRecommendedGateway(locationHint string) *payment.GatewayDescriptor
}

type PaymentController struct {
	orchestrator PaymentOrchestrator
}

func NewPaymentController(o PaymentOrchestrator) *PaymentController {
	return &PaymentController{orchestrator: o}
}

// Initiate opens a checkout session with the first gateway that accepts the order.
func (h *PaymentController) Initiate(w http.ResponseWriter, r *http.Request) {
	var req InitiatePaymentRequest
	if err := decodeAndValidate(r, &req); err != nil {
		writeError(w, err)
		return
	}

	order, err := req.ToOrder()
	if err != nil {
		writeError(w, err)
		return
	}

	result, err := h.orchestrator.ProcessPayment(r.Context(), order)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, FromPaymentResult(result))
}

// Verify asks the gateways for the authoritative state of a reference.
func (h *PaymentController) Verify(w http.ResponseWriter, r *http.Request) {
	reference := chi.URLParam(r, "reference")

	v, err := h.orchestrator.VerifyPayment(r.Context(), reference)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, FromVerification(v))
}
