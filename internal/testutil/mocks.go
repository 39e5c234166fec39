package testutil

import (
	"context"
	"fmt"
	"sync"
	"time"

	domainErrors "github.com/cassiomorais/paygate/internal/domain/errors"
	"github.com/cassiomorais/paygate/internal/domain/outbox"
	"github.com/cassiomorais/paygate/internal/domain/payment"
	"github.com/google/uuid"
)

// --- Outbox Repository Mock ---

// MockOutboxRepository is an in-memory outbox.Repository. The Func fields
// override the default behaviour.
type MockOutboxRepository struct {
	mu      sync.Mutex
	entries []*outbox.Entry

	InsertFunc        func(ctx context.Context, entry *outbox.Entry) error
	ClaimPendingFunc  func(ctx context.Context, limit int) ([]*outbox.Entry, error)
	MarkPublishedFunc func(ctx context.Context, id uuid.UUID) error
	MarkFailedFunc    func(ctx context.Context, entry *outbox.Entry) error
}

func NewMockOutboxRepository() *MockOutboxRepository {
	return &MockOutboxRepository{}
}

func (m *MockOutboxRepository) Insert(ctx context.Context, entry *outbox.Entry) error {
	if m.InsertFunc != nil {
		return m.InsertFunc(ctx, entry)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, entry)
	return nil
}

func (m *MockOutboxRepository) ClaimPending(ctx context.Context, limit int) ([]*outbox.Entry, error) {
	if m.ClaimPendingFunc != nil {
		return m.ClaimPendingFunc(ctx, limit)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var pending []*outbox.Entry
	for _, e := range m.entries {
		if e.Status == outbox.StatusPending && (limit <= 0 || len(pending) < limit) {
			pending = append(pending, e)
		}
	}
	return pending, nil
}

func (m *MockOutboxRepository) MarkPublished(ctx context.Context, id uuid.UUID) error {
	if m.MarkPublishedFunc != nil {
		return m.MarkPublishedFunc(ctx, id)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.entries {
		if e.ID == id {
			e.RecordPublished(time.Now().UTC())
		}
	}
	return nil
}

// MarkFailed is a no-op by default: the relay already updated the entry in
// place and the mock shares the same pointer.
func (m *MockOutboxRepository) MarkFailed(ctx context.Context, entry *outbox.Entry) error {
	if m.MarkFailedFunc != nil {
		return m.MarkFailedFunc(ctx, entry)
	}
	return nil
}

// Entries returns a copy of everything inserted so far.
func (m *MockOutboxRepository) Entries() []*outbox.Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*outbox.Entry, len(m.entries))
	copy(out, m.entries)
	return out
}

// --- Order Finder Mock ---

// MockOrderFinder resolves order references from a fixed map.
type MockOrderFinder struct {
	mu     sync.Mutex
	orders map[string]payment.Order

	FindOrderFunc func(ctx context.Context, reference string) (*payment.Order, error)
}

func NewMockOrderFinder(orders ...payment.Order) *MockOrderFinder {
	m := &MockOrderFinder{orders: make(map[string]payment.Order)}
	for _, o := range orders {
		m.orders[o.Reference] = o
	}
	return m
}

func (m *MockOrderFinder) FindOrder(ctx context.Context, reference string) (*payment.Order, error) {
	if m.FindOrderFunc != nil {
		return m.FindOrderFunc(ctx, reference)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[reference]
	if !ok {
		return nil, fmt.Errorf("order %s: %w", reference, domainErrors.ErrOrderNotFound)
	}
	return &o, nil
}
