package controller

import (
	"net/http"
	"time"

	"github.com/cassiomorais/paygate/internal/infrastructure/config"
	"github.com/cassiomorais/paygate/internal/infrastructure/observability"
	customMW "github.com/cassiomorais/paygate/internal/middleware"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
)

type RouterDeps struct {
	Pool             *pgxpool.Pool
	RedisClient      *redis.Client
	Orchestrator     PaymentOrchestrator
	Webhooks         WebhookRouter
	IdempotencyStore customMW.IdempotencyStore
	Metrics          *observability.Metrics
	// Gatherer backs /metrics; nil means the default registry.
	Gatherer   prometheus.Gatherer
	CORSConfig config.CORSConfig
	Webhook    config.WebhookConfig
	JWTSecret  string
}

func NewRouter(deps RouterDeps) *chi.Mux {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(customMW.Tracing())
	r.Use(chimw.Recoverer)
	r.Use(chimw.Timeout(60 * time.Second))
	r.Use(customMW.SecurityHeaders())
	r.Use(customMW.Metrics(deps.Metrics))

	healthH := NewHealthController(deps.Pool, deps.RedisClient, deps.Orchestrator)
	paymentH := NewPaymentController(deps.Orchestrator)
	gatewayH := NewGatewayController(deps.Orchestrator)
	webhookH := NewWebhookController(deps.Webhooks)

	r.Get("/health", healthH.Health)
	r.Get("/health/live", healthH.Liveness)
	r.Get("/health/ready", healthH.Readiness)

	gatherer := deps.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	// Gateways call these server-to-server; no CORS, no auth beyond signatures.
	r.Group(func(r chi.Router) {
		r.Use(customMW.RateLimit(deps.Webhook.RateLimit))
		r.Use(customMW.MaxBody(deps.Webhook.MaxBodyBytes))
		r.Post("/webhooks", webhookH.Receive)
		r.Post("/webhooks/{gateway}", webhookH.Receive)
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   deps.CORSConfig.AllowedOrigins,
			AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Idempotency-Key"},
			ExposedHeaders:   []string{"X-Idempotency-Replayed"},
			AllowCredentials: deps.CORSConfig.AllowCredentials,
			MaxAge:           300,
		}))
		if deps.JWTSecret != "" {
			r.Use(customMW.RequireAuth(deps.JWTSecret))
		}

		r.With(customMW.Idempotency(deps.IdempotencyStore)).Post("/payments", paymentH.Initiate)
		r.Get("/payments/{reference}/verify", paymentH.Verify)

		r.Get("/gateways", gatewayH.List)
		r.Get("/gateways/best", gatewayH.Best)
		r.Get("/gateways/recommended", gatewayH.Recommended)
	})

	return r
}
