package webhook

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DedupeStore records which webhook deliveries have been claimed. Claim must
// be atomic: of any number of concurrent claims for the same key exactly one
// succeeds until the claim is released or expires.
type DedupeStore interface {
	// Claim returns an owner token and true if the key was free.
	Claim(ctx context.Context, key string, ttl time.Duration) (token string, claimed bool, err error)
	// Release frees a claim, but only if token still owns it.
	Release(ctx context.Context, key, token string) error
}

type memoryClaim struct {
	token     string
	expiresAt time.Time // zero means no expiry
}

// MemoryDedupe is a process-local DedupeStore. It does not survive restarts
// and is not shared between instances.
type MemoryDedupe struct {
	mu     sync.Mutex
	claims map[string]memoryClaim
	now    func() time.Time
}

func NewMemoryDedupe() *MemoryDedupe {
	return &MemoryDedupe{claims: make(map[string]memoryClaim), now: time.Now}
}

func (m *MemoryDedupe) Claim(_ context.Context, key string, ttl time.Duration) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if c, ok := m.claims[key]; ok && (c.expiresAt.IsZero() || now.Before(c.expiresAt)) {
		return "", false, nil
	}
	c := memoryClaim{token: uuid.NewString()}
	if ttl > 0 {
		c.expiresAt = now.Add(ttl)
	}
	m.claims[key] = c
	return c.token, true, nil
}

func (m *MemoryDedupe) Release(_ context.Context, key, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.claims[key]; ok && c.token == token {
		delete(m.claims, key)
	}
	return nil
}

// Cleanup drops expired claims and returns how many were removed.
func (m *MemoryDedupe) Cleanup(context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	var n int64
	for k, c := range m.claims {
		if !c.expiresAt.IsZero() && !now.Before(c.expiresAt) {
			delete(m.claims, k)
			n++
		}
	}
	return n, nil
}
