package controller

import (
	"context"
	"io"
	"net/http"

	"github.com/cassiomorais/paygate/internal/domain/payment"
	"github.com/cassiomorais/paygate/internal/webhook"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"
)

// WebhookRouter authenticates and processes one inbound delivery.
type WebhookRouter interface {
	HandleWebhook(ctx context.Context, body []byte, headers http.Header, hint payment.GatewayID) (*webhook.Result, error)
}

type WebhookController struct {
	router WebhookRouter
}

func NewWebhookController(router WebhookRouter) *WebhookController {
	return &WebhookController{router: router}
}

// Receive handles POST /webhooks/{gateway} and POST /webhooks. Any accepted
// delivery is answered 200, including duplicates and blocked amounts, so the
// gateway stops retrying. Authentication and parse failures are 4xx; internal
// failures are 5xx so the gateway redelivers.
func (h *WebhookController) Receive(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, err)
		return
	}

	hint := payment.GatewayID(chi.URLParam(r, "gateway"))
	result, err := h.router.HandleWebhook(r.Context(), body, r.Header, hint)
	if err != nil {
		log.Ctx(r.Context()).Warn().Err(err).Str("gateway_hint", string(hint)).Msg("Webhook not accepted")
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, FromWebhookResult(result))
}
