package gateway

import (
	"time"

	"github.com/cassiomorais/paygate/internal/domain/payment"
)

// Config is the per-gateway configuration shared by all adapters.
type Config struct {
	BaseURL       string
	SecretKey     string
	PublicKey     string
	WebhookSecret string
	MerchantID    string
	Priority      int
	Methods       []payment.Method
	Regions       []string
	Timeout       time.Duration
}

// Descriptor builds the gateway descriptor, falling back to the adapter's
// defaults when methods or regions are not configured.
func (c Config) Descriptor(id payment.GatewayID, name string, defaultMethods []payment.Method) payment.GatewayDescriptor {
	methods := c.Methods
	if len(methods) == 0 {
		methods = defaultMethods
	}
	regions := c.Regions
	if len(regions) == 0 {
		regions = []string{"NG"}
	}
	return payment.GatewayDescriptor{
		ID:               id,
		DisplayName:      name,
		Priority:         c.Priority,
		SupportedMethods: methods,
		Regions:          regions,
	}
}

// HTTPTimeout returns the configured client timeout or a default.
func (c Config) HTTPTimeout() time.Duration {
	if c.Timeout > 0 {
		return c.Timeout
	}
	return 30 * time.Second
}
