package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds all application metrics
type Metrics struct {
	// Orchestration metrics
	PaymentsTotal          *prometheus.CounterVec
	GatewayAttemptsTotal   *prometheus.CounterVec
	GatewayAttemptDuration *prometheus.HistogramVec
	VerificationsTotal     *prometheus.CounterVec

	// Health metrics
	GatewayHealthy *prometheus.GaugeVec
	GatewayLatency *prometheus.GaugeVec

	// Webhook metrics
	WebhooksTotal       *prometheus.CounterVec
	ValidationDecisions *prometheus.CounterVec

	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Circuit breaker metrics
	CircuitBreakerState *prometheus.GaugeVec

	// Worker metrics
	WorkerMessagesProcessed  *prometheus.CounterVec
	WorkerProcessingDuration *prometheus.HistogramVec
}

// NewMetrics creates and registers all metrics against the given registry.
// If reg is nil, prometheus.DefaultRegisterer is used.
func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	m := &Metrics{
		PaymentsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "payments_total",
				Help:      "Total number of ProcessPayment calls by outcome and winning gateway",
			},
			[]string{"status", "gateway"},
		),
		GatewayAttemptsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "gateway_attempts_total",
				Help:      "Total number of gateway initiate attempts by result",
			},
			[]string{"gateway", "result"},
		),
		GatewayAttemptDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "gateway_attempt_duration_seconds",
				Help:      "Gateway initiate attempt duration in seconds",
				Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"gateway"},
		),
		VerificationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "verifications_total",
				Help:      "Total number of payment verifications by gateway and status",
			},
			[]string{"gateway", "status"},
		),
		GatewayHealthy: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "gateway_healthy",
				Help:      "Gateway health from the last check (1=healthy, 0=unhealthy)",
			},
			[]string{"gateway"},
		),
		GatewayLatency: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "gateway_health_latency_seconds",
				Help:      "Latency of the last gateway health check in seconds",
			},
			[]string{"gateway"},
		),
		WebhooksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "webhooks_total",
				Help:      "Total number of webhook deliveries by gateway and outcome",
			},
			[]string{"gateway", "outcome"},
		),
		ValidationDecisions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "amount_validation_decisions_total",
				Help:      "Total number of amount validation decisions",
			},
			[]string{"gateway", "decision"},
		),
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		CircuitBreakerState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "circuit_breaker_state",
				Help:      "Circuit breaker state (0=closed, 1=half-open, 2=open)",
			},
			[]string{"name"},
		),
		WorkerMessagesProcessed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "worker_messages_processed_total",
				Help:      "Total number of worker task runs by status",
			},
			[]string{"task", "status"},
		),
		WorkerProcessingDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "worker_processing_duration_seconds",
				Help:      "Worker task duration in seconds",
				Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5},
			},
			[]string{"task"},
		),
	}

	// Register all collectors
	reg.MustRegister(
		m.PaymentsTotal,
		m.GatewayAttemptsTotal,
		m.GatewayAttemptDuration,
		m.VerificationsTotal,
		m.GatewayHealthy,
		m.GatewayLatency,
		m.WebhooksTotal,
		m.ValidationDecisions,
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.CircuitBreakerState,
		m.WorkerMessagesProcessed,
		m.WorkerProcessingDuration,
	)

	return m
}

// The helpers below are safe to call on a nil *Metrics so components can run
// without a registry in tests.

func (m *Metrics) ObserveAttempt(gateway, result string, d time.Duration) {
	if m == nil {
		return
	}
	m.GatewayAttemptsTotal.WithLabelValues(gateway, result).Inc()
	m.GatewayAttemptDuration.WithLabelValues(gateway).Observe(d.Seconds())
}

func (m *Metrics) ObservePayment(status, gateway string) {
	if m == nil {
		return
	}
	m.PaymentsTotal.WithLabelValues(status, gateway).Inc()
}

func (m *Metrics) ObserveVerification(gateway, status string) {
	if m == nil {
		return
	}
	m.VerificationsTotal.WithLabelValues(gateway, status).Inc()
}

func (m *Metrics) ObserveHealth(gateway string, healthy bool, latency time.Duration) {
	if m == nil {
		return
	}
	v := 0.0
	if healthy {
		v = 1
	}
	m.GatewayHealthy.WithLabelValues(gateway).Set(v)
	m.GatewayLatency.WithLabelValues(gateway).Set(latency.Seconds())
}

func (m *Metrics) ObserveWebhook(gateway, outcome string) {
	if m == nil {
		return
	}
	m.WebhooksTotal.WithLabelValues(gateway, outcome).Inc()
}

func (m *Metrics) ObserveDecision(gateway, decision string) {
	if m == nil {
		return
	}
	m.ValidationDecisions.WithLabelValues(gateway, decision).Inc()
}

func (m *Metrics) SetBreakerState(name string, state int) {
	if m == nil {
		return
	}
	m.CircuitBreakerState.WithLabelValues(name).Set(float64(state))
}

func (m *Metrics) ObserveWorker(task string, ok bool, d time.Duration) {
	if m == nil {
		return
	}
	status := "success"
	if !ok {
		status = "error"
	}
	m.WorkerMessagesProcessed.WithLabelValues(task, status).Inc()
	m.WorkerProcessingDuration.WithLabelValues(task).Observe(d.Seconds())
}
