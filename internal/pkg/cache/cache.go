// Package cache owns the shared Redis client behind the Redis ledger, the job queue and
// the rate limiter.
package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/redis/go-redis/v9"

	"github.com/ManuelReschke/Entitled/internal/pkg/env"
)

var client *redis.Client

// Options builds the client options from CACHE_HOST, CACHE_PORT, CACHE_PASSWORD and CACHE_DB.
func Options() *redis.Options {
	return &redis.Options{
		Addr:         fmt.Sprintf("%s:%s", env.GetEnv("CACHE_HOST", "localhost"), env.GetEnv("CACHE_PORT", "6379")),
		Password:     env.GetEnv("CACHE_PASSWORD", ""),
		DB:           env.GetEnvInt("CACHE_DB", 0),
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	}
}

// SetupCache connects the shared client. An unreachable server is logged, not fatal:
// the webhook path reports 503 until Redis comes back.
func SetupCache() {
	opts := Options()
	client = redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), opts.DialTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		log.Warnf("[Cache] Could not connect to Redis at %s: %v", opts.Addr, err)
		return
	}
	log.Infof("[Cache] Connected to Redis at %s (db %d)", opts.Addr, opts.DB)
}

func GetClient() *redis.Client {
	if client == nil {
		SetupCache()
	}
	return client
}

// Ping reports whether Redis is reachable.
func Ping(ctx context.Context) error {
	return GetClient().Ping(ctx).Err()
}
