package billing

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuelReschke/ReflectCoach/internal/pkg/clock"
)

func TestMemoryIdempotencyClaimOnce(t *testing.T) {
	clk := clock.NewFixed(t0)
	cache, err := NewMemoryIdempotency(16, 10*time.Minute, clk)
	require.NoError(t, err)
	ctx := context.Background()

	ok, err := cache.Claim(ctx, "evt_1")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, _ = cache.Claim(ctx, "evt_1")
	assert.False(t, ok)

	clk.Advance(11 * time.Minute)
	ok, _ = cache.Claim(ctx, "evt_1")
	assert.True(t, ok, "entries expire after the TTL")

	require.NoError(t, cache.Release(ctx, "evt_1"))
	ok, _ = cache.Claim(ctx, "evt_1")
	assert.True(t, ok, "released keys can be claimed again")
}

func TestMemoryIdempotencyConcurrentClaims(t *testing.T) {
	cache, err := NewMemoryIdempotency(16, time.Minute, clock.NewFixed(t0))
	require.NoError(t, err)

	var wins int32
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if ok, _ := cache.Claim(context.Background(), "evt_race"); ok {
				atomic.AddInt32(&wins, 1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), wins)
}

func TestRedisIdempotency(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
	defer client.Close()
	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("Redis not available: %v", err)
	}

	cache := NewRedisIdempotency(client, time.Minute)
	key := "test_" + time.Now().Format("150405.000000000")
	defer cache.Release(ctx, key)

	ok, err := cache.Claim(ctx, key)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = cache.Claim(ctx, key)
	require.NoError(t, err)
	assert.False(t, ok)
}
