package gateway

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	domainErrors "github.com/cassiomorais/paygate/internal/domain/errors"
	"github.com/cassiomorais/paygate/internal/domain/payment"
	"github.com/sony/gobreaker/v2"
)

// BreakerSettings configures the per-gateway circuit breaker.
type BreakerSettings struct {
	MinRequests  uint32
	FailureRatio float64
	Interval     time.Duration
	OpenTimeout  time.Duration
	HalfOpenMax  uint32
}

// DefaultBreakerSettings returns the breaker settings used when none are configured.
func DefaultBreakerSettings() BreakerSettings {
	return BreakerSettings{
		MinRequests:  10,
		FailureRatio: 0.6,
		Interval:     60 * time.Second,
		OpenTimeout:  30 * time.Second,
		HalfOpenMax:  10,
	}
}

// Breaker guards calls to a single gateway.
type Breaker = gobreaker.CircuitBreaker[struct{}]

// Registry holds the configured gateways ordered by ascending priority, each
// with its own circuit breaker.
type Registry struct {
	mu       sync.RWMutex
	ordered  []Adapter
	byID     map[payment.GatewayID]Adapter
	breakers map[payment.GatewayID]*Breaker
	settings BreakerSettings
}

// NewRegistry creates a registry holding the given adapters.
func NewRegistry(settings BreakerSettings, adapters ...Adapter) *Registry {
	r := &Registry{
		byID:     make(map[payment.GatewayID]Adapter),
		breakers: make(map[payment.GatewayID]*Breaker),
		settings: settings,
	}
	for _, a := range adapters {
		r.Register(a)
	}
	return r
}

// Register adds an adapter (replacing one with the same ID) and creates its breaker.
func (r *Registry) Register(a Adapter) {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := ID(a)
	if _, exists := r.byID[id]; exists {
		r.ordered = slicesDeleteID(r.ordered, id)
	}
	r.byID[id] = a
	r.ordered = append(r.ordered, a)
	sort.SliceStable(r.ordered, func(i, j int) bool {
		di, dj := r.ordered[i].Descriptor(), r.ordered[j].Descriptor()
		if di.Priority != dj.Priority {
			return di.Priority < dj.Priority
		}
		return di.ID < dj.ID
	})

	s := r.settings
	r.breakers[id] = gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
		Name:        string(id),
		MaxRequests: s.HalfOpenMax,
		Interval:    s.Interval,
		Timeout:     s.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= s.MinRequests && failureRatio >= s.FailureRatio
		},
		// Only transport-level trouble counts against the gateway; a declined
		// card or an unknown reference means the gateway is working.
		IsSuccessful: func(err error) bool {
			return err == nil || !errors.Is(err, domainErrors.ErrGatewayUnavailable)
		},
	})
}

// Get returns the adapter and its breaker for the given ID.
func (r *Registry) Get(id payment.GatewayID) (Adapter, *Breaker, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	a, ok := r.byID[id]
	if !ok {
		return nil, nil, fmt.Errorf("unknown gateway %q: %w", id, domainErrors.ErrGatewayNotFound)
	}
	return a, r.breakers[id], nil
}

// Ordered returns a copy of the adapters in ascending priority order.
func (r *Registry) Ordered() []Adapter {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Adapter, len(r.ordered))
	copy(out, r.ordered)
	return out
}

// Descriptors returns the descriptors in ascending priority order.
func (r *Registry) Descriptors() []payment.GatewayDescriptor {
	ordered := r.Ordered()
	out := make([]payment.GatewayDescriptor, 0, len(ordered))
	for _, a := range ordered {
		out = append(out, a.Descriptor())
	}
	return out
}

// BreakerState reports the current breaker state for a gateway.
func (r *Registry) BreakerState(id payment.GatewayID) gobreaker.State {
	r.mu.RLock()
	cb, ok := r.breakers[id]
	r.mu.RUnlock()
	if !ok {
		return gobreaker.StateClosed
	}
	return cb.State()
}

// Len returns the number of registered gateways.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.ordered)
}

// Call runs fn through the breaker. An open breaker is reported as an
// unavailable gateway without calling fn.
func Call[T any](cb *Breaker, gatewayID payment.GatewayID, fn func() (T, error)) (T, error) {
	var out T
	_, err := cb.Execute(func() (struct{}, error) {
		v, err := fn()
		out = v
		return struct{}{}, err
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		var zero T
		return zero, domainErrors.NewGatewayError(string(gatewayID), domainErrors.KindUnavailable, err)
	}
	return out, err
}

func slicesDeleteID(adapters []Adapter, id payment.GatewayID) []Adapter {
	out := adapters[:0]
	for _, a := range adapters {
		if ID(a) != id {
			out = append(out, a)
		}
	}
	return out
}
