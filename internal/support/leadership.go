package support

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
	"github.com/redis/go-redis/v9"
)

const (
	DefaultLeadershipTTL   = 45 * time.Second
	leadershipRetryDelay   = time.Second
	renewalTimeout         = 5 * time.Second
	minRenewalInterval     = time.Second
	defaultRenewalFraction = 3
)

var (
	leaderCounter atomic.Uint64

	renewScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
else
	return 0
end`)

	releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
else
	return 0
end`)
)

// RunWithLeader holds a redis lease on key while run executes. run receives a
// context that is cancelled when the lease is lost or ctx is done; after run
// returns the lease is released and acquisition starts over. A nil client runs
// the function directly without coordination (single instance deployments).
func RunWithLeader(ctx context.Context, client *redis.Client, key string, ttl time.Duration, run func(context.Context)) error {
	if run == nil {
		return errors.New("support: leader run function cannot be nil")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if ttl <= 0 {
		ttl = DefaultLeadershipTTL
	}

	if client == nil {
		log.Debug("leader lock: no redis client, running without coordination", "key", key)
		run(ctx)
		return ctx.Err()
	}

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		lease, err := acquireLease(ctx, client, key, ttl)
		if err != nil {
			return err
		}

		log.Debug("leader lock: acquired", "key", key)
		run(lease.ctx)
		lease.Close()
		log.Debug("leader lock: released", "key", key)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(leadershipRetryDelay):
		}
	}
}

type lease struct {
	client    *redis.Client
	key       string
	value     string
	ttl       time.Duration
	ctx       context.Context
	cancel    context.CancelFunc
	stopRenew chan struct{}
	closeOnce sync.Once
}

// acquireLease blocks until the lock is taken or ctx ends.
func acquireLease(ctx context.Context, client *redis.Client, key string, ttl time.Duration) (*lease, error) {
	value := generateLeaderID()

	for {
		ok, err := client.SetNX(ctx, key, value, ttl).Result()
		if err != nil && ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if err != nil {
			log.Warn("leader lock: setnx failed", "key", key, "error", err)
		}

		if ok {
			leaseCtx, cancel := context.WithCancel(ctx)
			l := &lease{
				client:    client,
				key:       key,
				value:     value,
				ttl:       ttl,
				ctx:       leaseCtx,
				cancel:    cancel,
				stopRenew: make(chan struct{}),
			}
			go l.renewLoop()
			return l, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(leadershipRetryDelay):
		}
	}
}

func (l *lease) Close() {
	l.closeOnce.Do(func() {
		close(l.stopRenew)
		l.cancel()
		if err := l.release(); err != nil {
			log.Warn("leader lock: release failed", "key", l.key, "error", err)
		}
	})
}

func (l *lease) renewLoop() {
	interval := l.ttl / defaultRenewalFraction
	if interval < minRenewalInterval {
		interval = minRenewalInterval
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-l.stopRenew:
			return
		case <-l.ctx.Done():
			return
		case <-ticker.C:
			if err := l.renew(); err != nil {
				log.Warn("leader lock: renewal failed", "key", l.key, "error", err)
				l.cancel()
				return
			}
		}
	}
}

func (l *lease) renew() error {
	ctx, cancel := context.WithTimeout(context.Background(), renewalTimeout)
	defer cancel()

	res, err := renewScript.Run(ctx, l.client, []string{l.key}, l.value, l.ttl.Milliseconds()).Result()
	if err != nil {
		return err
	}
	if updated, ok := res.(int64); ok && updated == 0 {
		return errors.New("lock lost")
	}
	return nil
}

func (l *lease) release() error {
	ctx, cancel := context.WithTimeout(context.Background(), renewalTimeout)
	defer cancel()

	_, err := releaseScript.Run(ctx, l.client, []string{l.key}, l.value).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return err
	}
	return nil
}

func generateLeaderID() string {
	host, _ := os.Hostname()
	counter := leaderCounter.Add(1)
	return fmt.Sprintf("%s-%d-%d-%d", host, os.Getpid(), time.Now().UnixNano(), counter)
}
