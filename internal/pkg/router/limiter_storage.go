package router

import (
	"net"
	"strconv"

	"github.com/gofiber/fiber/v2"
	redisstorage "github.com/gofiber/storage/redis"
	"github.com/redis/go-redis/v9"
)

// limiterDatabase keeps rate limit counters away from the job queue and
// locks in DB 0.
const limiterDatabase = 1

// NewLimiterStorage points the rate limiter at the same Redis server as the
// cache client so limits hold across instances.
func NewLimiterStorage(client *redis.Client) fiber.Storage {
	if client == nil {
		return nil
	}
	host := "localhost"
	port := 6379
	if h, p, err := net.SplitHostPort(client.Options().Addr); err == nil {
		host = h
		if v, err := strconv.Atoi(p); err == nil {
			port = v
		}
	}
	return redisstorage.New(redisstorage.Config{
		Host:     host,
		Port:     port,
		Password: client.Options().Password,
		Database: limiterDatabase,
		Reset:    false,
	})
}
