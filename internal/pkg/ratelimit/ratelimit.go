// Package ratelimit builds the fiber limiters for the webhook and API routes. Counters
// live in Redis so every instance shares the same window.
package ratelimit

import (
	"net"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/storage/redis"

	"github.com/ManuelReschke/Entitled/internal/pkg/cache"
	"github.com/ManuelReschke/Entitled/internal/pkg/env"
	"github.com/ManuelReschke/Entitled/internal/pkg/usercontext"
)

// NewStorage returns a fiber storage on the cache server. Limiter keys use their own
// database (RATE_LIMIT_DB, default 1) so they never mix with ledger and queue keys.
func NewStorage() fiber.Storage {
	opts := cache.Options()
	host, port := "localhost", 6379
	if h, p, err := net.SplitHostPort(opts.Addr); err == nil {
		host = h
		if v, err := strconv.Atoi(p); err == nil {
			port = v
		}
	}

	return redis.New(redis.Config{
		Host:     host,
		Port:     port,
		Password: opts.Password,
		Database: env.GetEnvInt("RATE_LIMIT_DB", 1),
		Reset:    false,
	})
}

// Webhooks limits webhook deliveries per client IP. Providers retry on 429.
func Webhooks(storage fiber.Storage) fiber.Handler {
	return limiter.New(limiter.Config{
		Max:        env.GetEnvInt("WEBHOOK_RATE_LIMIT", 300),
		Expiration: time.Minute,
		Storage:    storage,
		KeyGenerator: func(c *fiber.Ctx) string {
			return "webhook:" + c.IP()
		},
		LimitReached: limitReached,
	})
}

// API limits API requests per authenticated user, falling back to the client IP.
// It must run after the API key middleware.
func API(storage fiber.Storage) fiber.Handler {
	return limiter.New(limiter.Config{
		Max:        env.GetEnvInt("API_RATE_LIMIT", 120),
		Expiration: time.Minute,
		Storage:    storage,
		KeyGenerator: func(c *fiber.Ctx) string {
			if id := usercontext.GetUserID(c); id != 0 {
				return "api:user:" + strconv.FormatUint(uint64(id), 10)
			}
			return "api:ip:" + c.IP()
		},
		LimitReached: limitReached,
	})
}

func limitReached(c *fiber.Ctx) error {
	return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
		"error":   "too_many_requests",
		"message": "Rate limit exceeded",
	})
}
