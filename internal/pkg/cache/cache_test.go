package cache

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testClient(t *testing.T) *redis.Client {
	t.Helper()
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		addr = "localhost:6379"
	}
	c := redis.NewClient(&redis.Options{Addr: addr, DB: 15})
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if !Available(ctx, c) {
		t.Skip("redis not available")
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestAvailableNilClient(t *testing.T) {
	assert.False(t, Available(context.Background(), nil))
}

func TestTryLock(t *testing.T) {
	c := testClient(t)
	ctx := context.Background()
	name := "test-" + t.Name()
	c.Del(ctx, lockPrefix+name)

	first, ok, err := TryLock(ctx, c, name, time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = TryLock(ctx, c, name, time.Minute)
	require.NoError(t, err)
	assert.False(t, ok, "second holder must be refused")

	require.NoError(t, first.Release(ctx))
	again, ok, err := TryLock(ctx, c, name, time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
	require.NoError(t, again.Release(ctx))
}

func TestReleaseKeepsForeignLock(t *testing.T) {
	c := testClient(t)
	ctx := context.Background()
	name := "test-" + t.Name()
	c.Del(ctx, lockPrefix+name)

	stale := &Lock{c: c, key: lockPrefix + name, token: "someone-else"}
	held, ok, err := TryLock(ctx, c, name, time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, stale.Release(ctx))
	exists, err := c.Exists(ctx, lockPrefix+name).Result()
	require.NoError(t, err)
	assert.Equal(t, int64(1), exists)
	require.NoError(t, held.Release(ctx))
}
