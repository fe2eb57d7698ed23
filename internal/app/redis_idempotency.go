/**
 * @description
 * Distributed idempotency guard for gateway confirmations, backed by Redis.
 * The guard is an optimization in front of the database's unique
 * external-reference index: it lets a second delivery of the same
 * confirmation be dropped without opening a transaction. Correctness never
 * depends on it, so a nil or unreachable guard degrades to letting the store
 * reject the duplicate.
 */

package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// IdempotencyGuard reserves an external reference before processing. Reserve
// returns false when the reference was already claimed; Release undoes a
// reservation whose processing failed so a redelivery can retry.
type IdempotencyGuard interface {
	Reserve(ctx context.Context, reference string) (bool, error)
	Release(ctx context.Context, reference string) error
}

// RedisIdempotencyGuard implements IdempotencyGuard with SET NX and a TTL.
// The TTL bounds the window in which a crashed consumer could strand a
// reservation; after it expires the database index is the backstop.
type RedisIdempotencyGuard struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

func NewRedisIdempotencyGuard(client redis.UniversalClient, prefix string, ttl time.Duration) *RedisIdempotencyGuard {
	trimmedPrefix := strings.TrimSpace(prefix)
	if trimmedPrefix == "" {
		trimmedPrefix = "ledger:gateway_ref"
	}
	trimmedPrefix = strings.TrimSuffix(trimmedPrefix, ":")

	if ttl <= 0 {
		ttl = 24 * time.Hour
	}

	return &RedisIdempotencyGuard{
		client: client,
		prefix: trimmedPrefix,
		ttl:    ttl,
	}
}

func (r *RedisIdempotencyGuard) key(reference string) string {
	return fmt.Sprintf("%s:%s", r.prefix, strings.TrimSpace(reference))
}

// Reserve claims the reference. A false return means another consumer already
// processed (or is processing) the same confirmation.
func (r *RedisIdempotencyGuard) Reserve(ctx context.Context, reference string) (bool, error) {
	if r == nil || r.client == nil || strings.TrimSpace(reference) == "" {
		return true, nil
	}
	ok, err := r.client.SetNX(ctx, r.key(reference), "1", r.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("idempotency reserve failed: %w", err)
	}
	return ok, nil
}

// Release frees a reservation after a failed attempt.
func (r *RedisIdempotencyGuard) Release(ctx context.Context, reference string) error {
	if r == nil || r.client == nil || strings.TrimSpace(reference) == "" {
		return nil
	}
	return r.client.Del(ctx, r.key(reference)).Err()
}
