package billing

import (
	"context"
	"fmt"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/redis/go-redis/v9"

	"github.com/ManuelReschke/ReflectCoach/internal/pkg/clock"
)

// IdempotencyCache is an atomic insert-if-absent set of recently applied
// event ids. Entries expire; nothing survives a restart of the memory cache.
type IdempotencyCache interface {
	// Claim returns true when the caller is the first to see key.
	Claim(ctx context.Context, key string) (bool, error)
	// Release forgets key so a redelivery can be applied again.
	Release(ctx context.Context, key string) error
}

// MemoryIdempotency is a bounded in-process cache with a TTL per entry.
type MemoryIdempotency struct {
	mu    sync.Mutex
	cache *lru.Cache[string, time.Time]
	ttl   time.Duration
	clock clock.Clock
}

func NewMemoryIdempotency(size int, ttl time.Duration, clk clock.Clock) (*MemoryIdempotency, error) {
	cache, err := lru.New[string, time.Time](size)
	if err != nil {
		return nil, fmt.Errorf("idempotency cache init: %w", err)
	}
	if clk == nil {
		clk = clock.System{}
	}
	return &MemoryIdempotency{cache: cache, ttl: ttl, clock: clk}, nil
}

func (m *MemoryIdempotency) Claim(_ context.Context, key string) (bool, error) {
	now := m.clock.Now()
	m.mu.Lock()
	defer m.mu.Unlock()

	if seenAt, ok := m.cache.Get(key); ok {
		if now.Sub(seenAt) < m.ttl {
			return false, nil
		}
		m.cache.Remove(key)
	}
	m.cache.Add(key, now)
	return true, nil
}

func (m *MemoryIdempotency) Release(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cache.Remove(key)
	return nil
}

// RedisIdempotency shares the seen-set between instances with SET NX + TTL.
type RedisIdempotency struct {
	client *redis.Client
	ttl    time.Duration
	prefix string
}

func NewRedisIdempotency(client *redis.Client, ttl time.Duration) *RedisIdempotency {
	return &RedisIdempotency{client: client, ttl: ttl, prefix: "billing:webhook:seen:"}
}

func (r *RedisIdempotency) Claim(ctx context.Context, key string) (bool, error) {
	ok, err := r.client.SetNX(ctx, r.prefix+key, "1", r.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("claim idempotency key: %w", err)
	}
	return ok, nil
}

func (r *RedisIdempotency) Release(ctx context.Context, key string) error {
	return r.client.Del(ctx, r.prefix+key).Err()
}
