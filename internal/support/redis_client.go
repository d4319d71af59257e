package support

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/charmbracelet/log"
	"github.com/redis/go-redis/v9"
)

const (
	redisConnectMaxElapsed = 30 * time.Second
	redisPingTimeout       = 3 * time.Second
)

var (
	redisMu     sync.Mutex
	redisClient *redis.Client
)

// GetRedisClient returns the shared client, connecting on first use. The
// initial ping is retried with exponential backoff so the service survives
// redis starting a few seconds after it.
func GetRedisClient() (*redis.Client, error) {
	redisMu.Lock()
	defer redisMu.Unlock()

	if redisClient != nil {
		return redisClient, nil
	}

	redisURL := GetEnv("redisUrl", "redis://localhost:6379")

	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL %q: %w", redisURL, err)
	}

	client := redis.NewClient(opt)

	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = GetEnvDuration("REDIS_CONNECT_TIMEOUT", redisConnectMaxElapsed)

	ping := func() error {
		ctx, cancel := context.WithTimeout(context.Background(), redisPingTimeout)
		defer cancel()
		return client.Ping(ctx).Err()
	}
	notify := func(err error, wait time.Duration) {
		log.Warn("Redis not reachable yet, retrying", "error", err, "wait", wait)
	}

	if err := backoff.RetryNotify(ping, bo, notify); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	redisClient = client
	return redisClient, nil
}

// SetRedisClient replaces the shared client. Used by tests and by callers that
// build their own client.
func SetRedisClient(client *redis.Client) {
	redisMu.Lock()
	defer redisMu.Unlock()
	redisClient = client
}

func CloseRedisClient() error {
	redisMu.Lock()
	defer redisMu.Unlock()

	if redisClient == nil {
		return nil
	}

	err := redisClient.Close()
	redisClient = nil
	return err
}
