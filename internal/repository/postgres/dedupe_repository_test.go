package postgres

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSplitKey(t *testing.T) {
	tests := []struct {
		key, gateway, reference, kind string
	}{
		{"paystack:ORD-1:charge.success", "paystack", "ORD-1", "charge.success"},
		{"opay:ORD-2:transaction-status:success", "opay", "ORD-2", "transaction-status:success"},
		{"malformed", "", "malformed", ""},
		{"one:colon", "", "one:colon", ""},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			g, r, k := splitKey(tt.key)
			assert.Equal(t, tt.gateway, g)
			assert.Equal(t, tt.reference, r)
			assert.Equal(t, tt.kind, k)
		})
	}
}
