package bootstrap

import (
	"fmt"
	"time"

	"github.com/cassiomorais/paygate/internal/domain/payment"
	"github.com/cassiomorais/paygate/internal/gateway"
	"github.com/cassiomorais/paygate/internal/gateway/flutterwave"
	"github.com/cassiomorais/paygate/internal/gateway/opay"
	"github.com/cassiomorais/paygate/internal/gateway/paystack"
	"github.com/cassiomorais/paygate/internal/infrastructure/config"
	"github.com/cassiomorais/paygate/internal/orchestrator"
	"github.com/cassiomorais/paygate/internal/validation"
)

// mockWebhookSecret signs local mock deliveries when no secret is configured.
const mockWebhookSecret = "whsec_local"

// BuildAdapters creates an adapter for every enabled gateway. With Mock set,
// simulated gateways stand in for all three.
func BuildAdapters(cfg config.GatewaysConfig) ([]gateway.Adapter, error) {
	entries := []struct {
		id  payment.GatewayID
		cfg config.GatewayConfig
		new func(gateway.Config) gateway.Adapter
	}{
		{payment.GatewayPaystack, cfg.Paystack, func(c gateway.Config) gateway.Adapter { return paystack.New(c) }},
		{payment.GatewayFlutterwave, cfg.Flutterwave, func(c gateway.Config) gateway.Adapter { return flutterwave.New(c) }},
		{payment.GatewayOPay, cfg.OPay, func(c gateway.Config) gateway.Adapter { return opay.New(c) }},
	}

	var adapters []gateway.Adapter
	for _, e := range entries {
		if cfg.Mock {
			adapters = append(adapters, mockAdapter(e.id, e.cfg))
			continue
		}
		if !e.cfg.Enabled {
			continue
		}
		adapters = append(adapters, e.new(adapterConfig(e.cfg)))
	}
	if len(adapters) == 0 {
		return nil, fmt.Errorf("no payment gateways enabled")
	}
	return adapters, nil
}

func adapterConfig(c config.GatewayConfig) gateway.Config {
	return gateway.Config{
		BaseURL:       c.BaseURL,
		SecretKey:     c.SecretKey,
		PublicKey:     c.PublicKey,
		WebhookSecret: c.WebhookSecret,
		MerchantID:    c.MerchantID,
		Priority:      c.Priority,
		Methods:       methods(c.SupportedMethods),
		Regions:       c.Regions,
		Timeout:       c.Timeout,
	}
}

func mockAdapter(id payment.GatewayID, c config.GatewayConfig) gateway.Adapter {
	secret := c.WebhookSecret
	if secret == "" {
		secret = mockWebhookSecret
	}
	opts := []gateway.MockOption{
		gateway.WithWebhookSecret(secret),
		gateway.WithLatency(50 * time.Millisecond),
	}
	if m := methods(c.SupportedMethods); len(m) > 0 {
		opts = append(opts, gateway.WithMethods(m...))
	}
	if len(c.Regions) > 0 {
		opts = append(opts, gateway.WithRegions(c.Regions...))
	}
	return gateway.NewMockAdapter(id, c.Priority, opts...)
}

func methods(in []string) []payment.Method {
	out := make([]payment.Method, 0, len(in))
	for _, m := range in {
		out = append(out, payment.Method(m))
	}
	return out
}

func BreakerSettings(c config.BreakerConfig) gateway.BreakerSettings {
	s := gateway.DefaultBreakerSettings()
	if c.MinRequests > 0 {
		s.MinRequests = c.MinRequests
	}
	if c.FailureRatio > 0 {
		s.FailureRatio = c.FailureRatio
	}
	if c.Interval > 0 {
		s.Interval = c.Interval
	}
	if c.OpenTimeout > 0 {
		s.OpenTimeout = c.OpenTimeout
	}
	if c.HalfOpenMax > 0 {
		s.HalfOpenMax = c.HalfOpenMax
	}
	return s
}

func OrchestratorConfig(c config.OrchestratorConfig) orchestrator.Config {
	return orchestrator.Config{
		EnableFallback: c.EnableFallback,
		AttemptTimeout: c.AttemptTimeout,
		MaxRetries:     c.MaxRetries,
		RetryDelay:     c.RetryDelay,
	}
}

func GuardPolicy(c config.WebhookConfig) validation.Policy {
	p := validation.DefaultPolicy()
	p.ToleranceMinor = c.ToleranceMinor
	if len(c.AutoCorrectMultipliers) > 0 {
		p.Multipliers = c.AutoCorrectMultipliers
	}
	if c.AutoCorrectDirection != "" {
		p.Direction = validation.Direction(c.AutoCorrectDirection)
	}
	return p
}
