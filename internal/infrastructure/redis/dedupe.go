package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// DedupeKeyPrefix namespaces webhook claims.
const DedupeKeyPrefix = "webhook:dedupe:"

// releaseScript deletes the claim only if the caller still owns it.
var releaseScript = redis.NewScript(`
	if redis.call("get", KEYS[1]) == ARGV[1] then
		return redis.call("del", KEYS[1])
	else
		return 0
	end
`)

// Dedupe claims webhook deliveries with SET NX, so concurrent duplicates
// across every API instance race on one key.
type Dedupe struct {
	client redis.UniversalClient
}

func NewDedupe(client redis.UniversalClient) *Dedupe {
	return &Dedupe{client: client}
}

func (d *Dedupe) Claim(ctx context.Context, key string, ttl time.Duration) (string, bool, error) {
	token := uuid.NewString()
	ok, err := d.client.SetNX(ctx, DedupeKeyPrefix+key, token, ttl).Result()
	if err != nil {
		return "", false, fmt.Errorf("failed to claim %s: %w", key, err)
	}
	if !ok {
		return "", false, nil
	}
	return token, true, nil
}

// Release is a no-op when the claim expired or belongs to someone else.
func (d *Dedupe) Release(ctx context.Context, key, token string) error {
	if err := releaseScript.Run(ctx, d.client, []string{DedupeKeyPrefix + key}, token).Err(); err != nil {
		return fmt.Errorf("failed to release %s: %w", key, err)
	}
	return nil
}
