package router

import (
	"net"
	"strconv"

	"github.com/gofiber/fiber/v2"
	redisstorage "github.com/gofiber/storage/redis"
	"github.com/redis/go-redis/v9"
)

const limiterRedisDB = 1

// NewLimiterStorage returns a Redis storage for the rate limiter on the
// cache server, in a separate database from cache keys. A nil client yields
// nil so the limiter falls back to memory.
func NewLimiterStorage(client *redis.Client) fiber.Storage {
	if client == nil {
		return nil
	}
	opts := client.Options()
	host, port := "127.0.0.1", 6379
	if h, p, err := net.SplitHostPort(opts.Addr); err == nil {
		host = h
		if v, err := strconv.Atoi(p); err == nil {
			port = v
		}
	}

	return redisstorage.New(redisstorage.Config{
		Host:     host,
		Port:     port,
		Password: opts.Password,
		Database: limiterRedisDB,
		Reset:    false,
	})
}
