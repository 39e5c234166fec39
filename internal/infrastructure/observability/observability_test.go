package observability

import (
	"bytes"
	"encoding/json"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		in   string
		want zerolog.Level
	}{
		{"debug", zerolog.DebugLevel},
		{"WARN", zerolog.WarnLevel},
		{"warning", zerolog.WarnLevel},
		{" error ", zerolog.ErrorLevel},
		{"", zerolog.InfoLevel},
		{"verbose", zerolog.InfoLevel},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, parseLogLevel(tt.in), tt.in)
	}
}

func TestInitLogger_JSONCarriesService(t *testing.T) {
	var buf bytes.Buffer
	logger := InitLogger("info", "json", "paygate-api", &buf)

	logger.Debug().Msg("hidden")
	logger.Info().Msg("Starting")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "paygate-api", line["service"])
	assert.Equal(t, "Starting", line["message"])
}

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveAttempt("paystack", "success", time.Second)
		m.ObservePayment("success", "paystack")
		m.ObserveVerification("paystack", "SUCCESS")
		m.ObserveHealth("paystack", true, time.Millisecond)
		m.ObserveWebhook("paystack", "processed")
		m.ObserveDecision("paystack", "match")
		m.SetBreakerState("paystack", 2)
		m.ObserveWorker("outbox", true, time.Millisecond)
	})
}

func TestMetrics_Observe(t *testing.T) {
	m := NewMetrics("test", prometheus.NewRegistry())

	m.ObserveWebhook("paystack", "processed")
	m.ObserveWebhook("paystack", "processed")
	m.ObserveDecision("opay", "auto_corrected")
	m.ObservePayment("all_failed", "")
	m.ObserveWorker("outbox", false, time.Millisecond)
	m.SetBreakerState("flutterwave", 2)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.WebhooksTotal.WithLabelValues("paystack", "processed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ValidationDecisions.WithLabelValues("opay", "auto_corrected")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.PaymentsTotal.WithLabelValues("all_failed", "")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.WorkerMessagesProcessed.WithLabelValues("outbox", "error")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.CircuitBreakerState.WithLabelValues("flutterwave")))
}
