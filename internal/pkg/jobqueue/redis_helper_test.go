package jobqueue

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/samber/lo"

	"github.com/ManuelReschke/Entitled/internal/pkg/env"
)

// isolatedJobQueueTestRedisDB keeps queue tests away from the ledger and limiter databases.
const isolatedJobQueueTestRedisDB = 14

// testRedisOptions probes the configured cache endpoint first, then the usual local and
// compose names, and skips the test when none answers.
func testRedisOptions(t *testing.T) *redis.Options {
	t.Helper()

	hosts := lo.Compact(lo.Uniq([]string{env.GetEnv("CACHE_HOST", ""), "cache", "entitled-cache", "localhost", "127.0.0.1"}))
	port := env.GetEnv("CACHE_PORT", "6379")
	passwords := lo.Uniq([]string{env.GetEnv("CACHE_PASSWORD", ""), "entitled", ""})

	var lastErr error
	for _, host := range hosts {
		for _, password := range passwords {
			opts := &redis.Options{
				Addr:        net.JoinHostPort(host, port),
				Password:    password,
				DialTimeout: 500 * time.Millisecond,
			}
			client := redis.NewClient(opts)
			ctx, cancel := context.WithTimeout(context.Background(), time.Second)
			lastErr = client.Ping(ctx).Err()
			cancel()
			_ = client.Close()
			if lastErr == nil {
				return opts
			}
		}
	}

	t.Skipf("Skipping Redis-dependent test: no reachable Redis endpoint (%v)", lastErr)
	return nil
}

// newIsolatedRedisClient returns a client on an emptied database that is flushed again
// when the test ends.
func newIsolatedRedisClient(t *testing.T, db int) *redis.Client {
	t.Helper()

	opts := testRedisOptions(t)
	opts.DB = db
	client := redis.NewClient(opts)

	ctx := context.Background()
	if err := client.FlushDB(ctx).Err(); err != nil {
		_ = client.Close()
		t.Skipf("Skipping Redis-dependent test: cannot use db %d (%v)", db, err)
	}
	t.Cleanup(func() {
		_ = client.FlushDB(context.Background()).Err()
		_ = client.Close()
	})
	return client
}
