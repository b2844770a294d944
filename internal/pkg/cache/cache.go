package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/ManuelReschke/ReflectCoach/internal/pkg/config"
	"github.com/ManuelReschke/ReflectCoach/internal/pkg/logging"
)

// SetupCache initializes the connection to the Redis compatible cache server.
// An unreachable server is logged, not fatal: callers fall back to in-process
// state where they can.
func SetupCache(cfg config.CacheConfig) *redis.Client {
	log := logging.Component("cache")

	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%s", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       0,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if pong, err := client.Ping(ctx).Result(); err != nil {
		log.Warn().Err(err).Msg("Could not connect to cache")
	} else {
		log.Info().Str("reply", pong).Msg("Connected to cache")
	}
	return client
}

// Available reports whether the cache answers a ping.
func Available(ctx context.Context, c *redis.Client) bool {
	if c == nil {
		return false
	}
	return c.Ping(ctx).Err() == nil
}

const lockPrefix = "reflectcoach:lock:"

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

// Lock is a held cross-instance mutex.
type Lock struct {
	c     *redis.Client
	key   string
	token string
}

// TryLock takes the named lock for ttl. ok is false when another holder has it.
func TryLock(ctx context.Context, c *redis.Client, name string, ttl time.Duration) (*Lock, bool, error) {
	token := uuid.NewString()
	key := lockPrefix + name
	ok, err := c.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("acquire lock %s: %w", name, err)
	}
	if !ok {
		return nil, false, nil
	}
	return &Lock{c: c, key: key, token: token}, true, nil
}

// Release frees the lock if this holder still owns it.
func (l *Lock) Release(ctx context.Context) error {
	if l == nil {
		return nil
	}
	return releaseScript.Run(ctx, l.c, []string{l.key}, l.token).Err()
}
