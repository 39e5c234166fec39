// Package health probes every gateway and publishes an immutable health
// snapshot that the orchestrator reads on each call.
package health

import (
	"context"
	"sort"
	"sync/atomic"
	"time"

	"github.com/cassiomorais/paygate/internal/domain/payment"
	"github.com/cassiomorais/paygate/internal/gateway"
	"github.com/cassiomorais/paygate/internal/infrastructure/observability"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// DefaultTimeout bounds a single HealthCheck call.
const DefaultTimeout = 5 * time.Second

// GatewayHealth is the last known health of one gateway.
type GatewayHealth struct {
	GatewayID     payment.GatewayID
	Healthy       bool
	LastCheckedAt time.Time
	LastLatency   time.Duration
	LastError     string
}

// Snapshot is a complete health table. It is never modified after publication.
type Snapshot struct {
	Gateways map[payment.GatewayID]GatewayHealth
	TakenAt  time.Time
}

// Get returns the health for id. Gateways that have never been probed are
// reported healthy.
func (s *Snapshot) Get(id payment.GatewayID) GatewayHealth {
	if s != nil {
		if h, ok := s.Gateways[id]; ok {
			return h
		}
	}
	return GatewayHealth{GatewayID: id, Healthy: true}
}

// Monitor refreshes gateway health and serves rankings from the latest snapshot.
type Monitor struct {
	registry *gateway.Registry
	timeout  time.Duration
	logger   zerolog.Logger
	metrics  *observability.Metrics
	now      func() time.Time

	current atomic.Pointer[Snapshot]
}

type Option func(*Monitor)

func WithTimeout(d time.Duration) Option {
	return func(m *Monitor) {
		if d > 0 {
			m.timeout = d
		}
	}
}

func WithLogger(l zerolog.Logger) Option {
	return func(m *Monitor) { m.logger = l }
}

func WithMetrics(metrics *observability.Metrics) Option {
	return func(m *Monitor) { m.metrics = metrics }
}

// NewMonitor creates a monitor. Until the first refresh every gateway is
// considered healthy.
func NewMonitor(registry *gateway.Registry, opts ...Option) *Monitor {
	m := &Monitor{
		registry: registry,
		timeout:  DefaultTimeout,
		logger:   zerolog.Nop(),
		now:      time.Now,
	}
	for _, o := range opts {
		o(m)
	}
	m.current.Store(&Snapshot{Gateways: map[payment.GatewayID]GatewayHealth{}})
	return m
}

// Snapshot returns the current health table.
func (m *Monitor) Snapshot() *Snapshot {
	return m.current.Load()
}

// RefreshHealth probes every gateway concurrently, each bounded by the
// monitor timeout, and publishes the results as one new snapshot.
func (m *Monitor) RefreshHealth(ctx context.Context) *Snapshot {
	adapters := m.registry.Ordered()
	results := make([]GatewayHealth, len(adapters))

	// Probe failures are recorded, not returned, so the group never cancels siblings.
	var g errgroup.Group
	for i, a := range adapters {
		g.Go(func() error {
			results[i] = m.probe(ctx, a)
			return nil
		})
	}
	_ = g.Wait()

	snap := &Snapshot{
		Gateways: make(map[payment.GatewayID]GatewayHealth, len(results)),
		TakenAt:  m.now(),
	}
	for _, h := range results {
		snap.Gateways[h.GatewayID] = h
		m.metrics.ObserveHealth(string(h.GatewayID), h.Healthy, h.LastLatency)
	}
	m.current.Store(snap)
	return snap
}

func (m *Monitor) probe(ctx context.Context, a gateway.Adapter) GatewayHealth {
	id := gateway.ID(a)
	callCtx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	start := m.now()
	err := a.HealthCheck(callCtx)
	finished := m.now()
	h := GatewayHealth{
		GatewayID:     id,
		Healthy:       err == nil,
		LastCheckedAt: finished,
		LastLatency:   finished.Sub(start),
	}
	if err != nil {
		h.LastError = err.Error()
		m.logger.Warn().Err(err).Str("gateway", string(id)).Msg("Gateway health check failed")
	}
	return h
}

// Run refreshes health immediately and then every interval until ctx is done.
func (m *Monitor) Run(ctx context.Context, interval time.Duration) {
	m.RefreshHealth(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.RefreshHealth(ctx)
		}
	}
}

// Ranked returns the gateways ordered by priority with unhealthy gateways
// moved after healthy ones, using the given snapshot.
func Ranked(adapters []gateway.Adapter, snap *Snapshot) []gateway.Adapter {
	out := make([]gateway.Adapter, len(adapters))
	copy(out, adapters)
	sort.SliceStable(out, func(i, j int) bool {
		hi := snap.Get(gateway.ID(out[i])).Healthy
		hj := snap.Get(gateway.ID(out[j])).Healthy
		if hi != hj {
			return hi
		}
		return out[i].Descriptor().Priority < out[j].Descriptor().Priority
	})
	return out
}

// BestAvailableGateway returns the highest-priority healthy gateway, or nil.
func (m *Monitor) BestAvailableGateway() *payment.GatewayDescriptor {
	snap := m.Snapshot()
	for _, a := range m.registry.Ordered() {
		if snap.Get(gateway.ID(a)).Healthy {
			d := a.Descriptor()
			return &d
		}
	}
	return nil
}

// RecommendedGateway ranks gateways for a customer location hint without any
// network I/O. Healthy gateways serving the region come first, then any
// healthy gateway, then the rest, each group in priority order. It returns
// nil when no gateways are registered.
func (m *Monitor) RecommendedGateway(locationHint string) *payment.GatewayDescriptor {
	return Recommend(m.registry.Descriptors(), m.Snapshot(), locationHint)
}

// Recommend is the ranking behind RecommendedGateway.
func Recommend(descriptors []payment.GatewayDescriptor, snap *Snapshot, locationHint string) *payment.GatewayDescriptor {
	if len(descriptors) == 0 {
		return nil
	}
	score := func(d payment.GatewayDescriptor) int {
		s := 0
		if snap.Get(d.ID).Healthy {
			s += 2
		}
		if d.ServesRegion(locationHint) {
			s++
		}
		return s
	}

	ranked := make([]payment.GatewayDescriptor, len(descriptors))
	copy(ranked, descriptors)
	sort.SliceStable(ranked, func(i, j int) bool {
		si, sj := score(ranked[i]), score(ranked[j])
		if si != sj {
			return si > sj
		}
		return ranked[i].Priority < ranked[j].Priority
	})
	return &ranked[0]
}

// GatewayStats is the operator view of one gateway.
type GatewayStats struct {
	GatewayID        payment.GatewayID
	DisplayName      string
	Priority         int
	SupportedMethods []payment.Method
	Healthy          bool
	LastLatency      time.Duration
	LastCheckedAt    time.Time
	LastError        string
	BreakerState     string
}

// Stats returns per-gateway stats in priority order.
func (m *Monitor) Stats() []GatewayStats {
	snap := m.Snapshot()
	descriptors := m.registry.Descriptors()
	out := make([]GatewayStats, 0, len(descriptors))
	for _, d := range descriptors {
		h := snap.Get(d.ID)
		state := m.registry.BreakerState(d.ID)
		m.metrics.SetBreakerState(string(d.ID), int(state))
		out = append(out, GatewayStats{
			GatewayID:        d.ID,
			DisplayName:      d.DisplayName,
			Priority:         d.Priority,
			SupportedMethods: d.SupportedMethods,
			Healthy:          h.Healthy,
			LastLatency:      h.LastLatency,
			LastCheckedAt:    h.LastCheckedAt,
			LastError:        h.LastError,
			BreakerState:     state.String(),
		})
	}
	return out
}
