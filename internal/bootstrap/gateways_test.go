package bootstrap

import (
	"testing"
	"time"

	"github.com/cassiomorais/paygate/internal/domain/payment"
	"github.com/cassiomorais/paygate/internal/gateway"
	"github.com/cassiomorais/paygate/internal/infrastructure/config"
	"github.com/cassiomorais/paygate/internal/validation"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildAdapters_OnlyEnabled(t *testing.T) {
	adapters, err := BuildAdapters(config.GatewaysConfig{
		Paystack:    config.GatewayConfig{Enabled: true, Priority: 1, SecretKey: "sk_test"},
		Flutterwave: config.GatewayConfig{Enabled: false, Priority: 2},
		OPay:        config.GatewayConfig{Enabled: true, Priority: 3, SecretKey: "prv", PublicKey: "pub", MerchantID: "256"},
	})

	require.NoError(t, err)
	require.Len(t, adapters, 2)
	assert.Equal(t, payment.GatewayPaystack, gateway.ID(adapters[0]))
	assert.Equal(t, payment.GatewayOPay, gateway.ID(adapters[1]))
	assert.Equal(t, 3, adapters[1].Descriptor().Priority)
}

func TestBuildAdapters_NoneEnabled(t *testing.T) {
	_, err := BuildAdapters(config.GatewaysConfig{})
	assert.Error(t, err)
}

func TestBuildAdapters_Mock(t *testing.T) {
	adapters, err := BuildAdapters(config.GatewaysConfig{
		Mock:     true,
		Paystack: config.GatewayConfig{Priority: 1, SupportedMethods: []string{"card"}},
	})

	require.NoError(t, err)
	require.Len(t, adapters, 3)
	for _, a := range adapters {
		assert.IsType(t, &gateway.MockAdapter{}, a)
	}
	assert.Equal(t, []payment.Method{payment.MethodCard}, adapters[0].Descriptor().SupportedMethods)
}

func TestBreakerSettings_FallsBackToDefaults(t *testing.T) {
	s := BreakerSettings(config.BreakerConfig{FailureRatio: 0.5, OpenTimeout: time.Minute})

	def := gateway.DefaultBreakerSettings()
	assert.Equal(t, 0.5, s.FailureRatio)
	assert.Equal(t, time.Minute, s.OpenTimeout)
	assert.Equal(t, def.MinRequests, s.MinRequests)
	assert.Equal(t, def.HalfOpenMax, s.HalfOpenMax)
}

func TestGuardPolicy(t *testing.T) {
	p := GuardPolicy(config.WebhookConfig{
		ToleranceMinor:         0,
		AutoCorrectMultipliers: []int64{100, 1000},
		AutoCorrectDirection:   "both",
	})

	assert.Equal(t, int64(0), p.ToleranceMinor)
	assert.Equal(t, []int64{100, 1000}, p.Multipliers)
	assert.Equal(t, validation.DirectionBoth, p.Direction)
	assert.NoError(t, p.Validate())
}
