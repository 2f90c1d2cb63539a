package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/ManuelReschke/SignalFox/internal/pkg/env"
	"github.com/gofiber/fiber/v2/log"
	"github.com/redis/go-redis/v9"
)

// Config describes the Redis/Dragonfly connection.
type Config struct {
	Host     string
	Port     string
	Password string
	DB       int
}

func ConfigFromEnv() Config {
	return Config{
		Host:     env.GetEnv("CACHE_HOST", "localhost"),
		Port:     env.GetEnv("CACHE_PORT", "6379"),
		Password: env.GetEnv("CACHE_PASSWORD", ""),
		DB:       env.GetEnvInt("CACHE_DB", 0),
	}
}

func (c Config) Addr() string {
	return fmt.Sprintf("%s:%s", c.Host, c.Port)
}

// NewClient creates the client and pings it. An unreachable server is logged,
// not fatal: go-redis reconnects on demand.
func NewClient(ctx context.Context, cfg Config) *redis.Client {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr(),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	pong, err := client.Ping(pingCtx).Result()
	if err != nil {
		log.Warnf("Could not connect to cache at %s: %v", cfg.Addr(), err)
	} else {
		log.Infof("Connected to cache: %s", pong)
	}
	return client
}
