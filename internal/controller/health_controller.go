package controller

import (
	"context"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
)

// HealthController reports process and dependency health. Pool and redis may
// be nil when the corresponding backend is not configured.
type HealthController struct {
	pool         *pgxpool.Pool
	redis        *redis.Client
	orchestrator PaymentOrchestrator
}

func NewHealthController(pool *pgxpool.Pool, redis *redis.Client, o PaymentOrchestrator) *HealthController {
	return &HealthController{pool: pool, redis: redis, orchestrator: o}
}

func (h *HealthController) Health(w http.ResponseWriter, r *http.Request) {
	healthy := 0
	stats := h.orchestrator.GetGatewayStats()
	for _, s := range stats {
		if s.Healthy {
			healthy++
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":           "ok",
		"gateways":         len(stats),
		"gateways_healthy": healthy,
	})
}

func (h *HealthController) Liveness(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "alive"})
}

func (h *HealthController) Readiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if h.pool != nil {
		if err := h.pool.Ping(ctx); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status": "not ready",
				"reason": "database unavailable",
			})
			return
		}
	}

	if h.redis != nil {
		if err := h.redis.Ping(ctx).Err(); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status": "not ready",
				"reason": "redis unavailable",
			})
			return
		}
	}

	if h.orchestrator.GetBestAvailableGateway() == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "not ready",
			"reason": "no healthy gateway",
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}
