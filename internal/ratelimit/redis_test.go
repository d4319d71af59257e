package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func TestRedisLimiterSlidingWindow(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	clock := newTestClock()
	limiter := NewRedisLimiter(client, NewMemoryLimiter())
	limiter.now = clock.Now
	defer limiter.Close()
	ctx := context.Background()

	for i := 1; i <= 5; i++ {
		allowed, err := limiter.Allow(ctx, "ip:9.9.9.9", 5, time.Minute)
		if err != nil || !allowed {
			t.Fatalf("attempt %d rejected: %v", i, err)
		}
		clock.Advance(time.Second)
	}

	allowed, err := limiter.Allow(ctx, "ip:9.9.9.9", 5, time.Minute)
	if err != nil {
		t.Fatalf("Allow: %v", err)
	}
	if allowed {
		t.Fatal("6th attempt admitted")
	}

	if got := limiter.RetryAfter("ip:9.9.9.9", 5, time.Minute); got != 55*time.Second {
		t.Fatalf("RetryAfter = %s, want 55s", got)
	}

	members, err := mr.ZMembers(redisKeyPrefix + "ip:9.9.9.9")
	if err != nil {
		t.Fatalf("ZMembers: %v", err)
	}
	if len(members) != 5 {
		t.Fatalf("stored members = %d, want 5", len(members))
	}

	clock.Advance(time.Minute)
	if allowed, _ := limiter.Allow(ctx, "ip:9.9.9.9", 5, time.Minute); !allowed {
		t.Fatal("attempt after the window was rejected")
	}
}

func TestRedisLimiterFallsBackToMemory(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = client.Close() })

	limiter := NewRedisLimiter(client, NewMemoryLimiter())
	defer limiter.Close()
	mr.Close()

	ctx := context.Background()
	for i := 1; i <= 5; i++ {
		allowed, err := limiter.Allow(ctx, "ip:1.1.1.1", 5, time.Minute)
		if err != nil || !allowed {
			t.Fatalf("attempt %d rejected during fallback: %v", i, err)
		}
	}
	if allowed, _ := limiter.Allow(ctx, "ip:1.1.1.1", 5, time.Minute); allowed {
		t.Fatal("fallback limiter admitted the 6th attempt")
	}
}
