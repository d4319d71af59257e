package ratelimit

import (
	"context"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"iptracker/internal/metrics"
)

const (
	redisKeyPrefix   = "iptracker:rl:"
	redisCallTimeout = 200 * time.Millisecond
)

// slidingLogScript keeps one sorted-set member per admitted event and
// returns 1 when the event was admitted.
var slidingLogScript = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])

redis.call('ZREMRANGEBYSCORE', key, '-inf', now - window)

if redis.call('ZCARD', key) < limit then
    redis.call('ZADD', key, now, ARGV[4])
    redis.call('PEXPIRE', key, window)
    return 1
end
return 0
`)

// RedisLimiter shares counters between instances. When redis cannot be
// reached the decision is taken by an in-process MemoryLimiter instead of
// letting every attempt through.
type RedisLimiter struct {
	client   *redis.Client
	fallback *MemoryLimiter
	now      func() time.Time
}

func NewRedisLimiter(client *redis.Client, fallback *MemoryLimiter) *RedisLimiter {
	if fallback == nil {
		fallback = NewMemoryLimiter()
	}
	return &RedisLimiter{client: client, fallback: fallback, now: time.Now}
}

func (l *RedisLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	if limit <= 0 {
		return false, nil
	}

	callCtx, cancel := context.WithTimeout(ctx, redisCallTimeout)
	defer cancel()

	admitted, err := slidingLogScript.Run(callCtx, l.client,
		[]string{redisKeyPrefix + key},
		l.now().UnixMilli(),
		window.Milliseconds(),
		limit,
		uuid.NewString(),
	).Int64()
	if err != nil {
		log.Warn("Rate limit: redis unavailable, using in-memory limiter", "key", key, "error", err)
		metrics.RateLimitFallbacks.Inc()
		return l.fallback.Allow(ctx, key, limit, window)
	}

	return admitted == 1, nil
}

// RetryAfter reports when the oldest counted event leaves the window.
func (l *RedisLimiter) RetryAfter(key string, limit int, window time.Duration) time.Duration {
	ctx, cancel := context.WithTimeout(context.Background(), redisCallTimeout)
	defer cancel()

	card, err := l.client.ZCard(ctx, redisKeyPrefix+key).Result()
	if err != nil {
		return l.fallback.RetryAfter(key, limit, window)
	}
	if int(card) < limit || limit <= 0 {
		return 0
	}

	res, err := l.client.ZRangeWithScores(ctx, redisKeyPrefix+key, card-int64(limit), card-int64(limit)).Result()
	if err != nil || len(res) == 0 {
		return window
	}
	oldest := time.UnixMilli(int64(res[0].Score))
	return oldest.Add(window).Sub(l.now())
}

func (l *RedisLimiter) Close() {
	l.fallback.Close()
}
