package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cassiomorais/paygate/internal/middleware"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	idempotencyPrefix     = "idempotency:"
	idempotencyLockPrefix = "idempotency:lock:"
)

// IdempotencyStore keeps replayable payment-initiation responses in Redis.
type IdempotencyStore struct {
	client redis.UniversalClient
}

func NewIdempotencyStore(client redis.UniversalClient) *IdempotencyStore {
	return &IdempotencyStore{client: client}
}

func (s *IdempotencyStore) Get(ctx context.Context, key string) (*middleware.StoredResponse, error) {
	raw, err := s.client.Get(ctx, idempotencyPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get idempotency key: %w", err)
	}
	var resp middleware.StoredResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("decode idempotency entry: %w", err)
	}
	return &resp, nil
}

// Set stores resp only if no response is stored yet; the first response wins.
func (s *IdempotencyStore) Set(ctx context.Context, key string, resp *middleware.StoredResponse, ttl time.Duration) error {
	raw, err := json.Marshal(resp)
	if err != nil {
		return fmt.Errorf("encode idempotency entry: %w", err)
	}
	if err := s.client.SetNX(ctx, idempotencyPrefix+key, raw, ttl).Err(); err != nil {
		return fmt.Errorf("set idempotency key: %w", err)
	}
	return nil
}

// Lock marks key as in flight for ttl. Every API instance races on the same
// lock key, so only one of them runs the request.
func (s *IdempotencyStore) Lock(ctx context.Context, key string, ttl time.Duration) (string, bool, error) {
	token := uuid.NewString()
	ok, err := s.client.SetNX(ctx, idempotencyLockPrefix+key, token, ttl).Result()
	if err != nil {
		return "", false, fmt.Errorf("lock idempotency key: %w", err)
	}
	if !ok {
		return "", false, nil
	}
	return token, true, nil
}

// Unlock is a no-op when the lock expired or belongs to another request.
func (s *IdempotencyStore) Unlock(ctx context.Context, key, token string) error {
	if err := releaseScript.Run(ctx, s.client, []string{idempotencyLockPrefix + key}, token).Err(); err != nil {
		return fmt.Errorf("unlock idempotency key: %w", err)
	}
	return nil
}
