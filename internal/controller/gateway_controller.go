package controller

import (
	"net/http"
)

type GatewayController struct {
	orchestrator PaymentOrchestrator
}

func NewGatewayController(o PaymentOrchestrator) *GatewayController {
	return &GatewayController{orchestrator: o}
}

func (h *GatewayController) List(w http.ResponseWriter, r *http.Request) {
	stats := h.orchestrator.GetGatewayStats()
	resp := make([]GatewayStatsResponse, 0, len(stats))
	for _, s := range stats {
		resp = append(resp, FromStats(s))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *GatewayController) Best(w http.ResponseWriter, r *http.Request) {
	d := h.orchestrator.GetBestAvailableGateway()
	if d == nil {
		writeJSON(w, http.StatusServiceUnavailable, ErrorResponse{Error: "no healthy gateway", Code: "no_healthy_gateway"})
		return
	}
	writeJSON(w, http.StatusOK, FromDescriptor(d))
}

// Recommended ranks gateways for ?location=, falling back to the best available.
func (h *GatewayController) Recommended(w http.ResponseWriter, r *http.Request) {
	d := h.orchestrator.GetRecommendedGateway(r.URL.Query().Get("location"))
	if d == nil {
		writeJSON(w, http.StatusServiceUnavailable, ErrorResponse{Error: "no healthy gateway", Code: "no_healthy_gateway"})
		return
	}
	writeJSON(w, http.StatusOK, FromDescriptor(d))
}
