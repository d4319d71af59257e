package geolocation

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/charmbracelet/log"
	"github.com/redis/go-redis/v9"
)

const redisCachePrefix = "iptracker:geo:"

// RedisCache shares resolved locations between instances. Expiry is left to
// redis; a redis failure reads as a miss.
type RedisCache struct {
	client *redis.Client
}

func NewRedisCache(client *redis.Client) *RedisCache {
	return &RedisCache{client: client}
}

func (c *RedisCache) Get(ctx context.Context, ip string) (Location, bool) {
	payload, err := c.client.Get(ctx, redisCachePrefix+ip).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			log.Debug("geo cache: redis get failed", "ip", ip, "error", err)
		}
		return Location{}, false
	}

	var loc Location
	if err := json.Unmarshal(payload, &loc); err != nil {
		log.Debug("geo cache: invalid cached payload", "ip", ip, "error", err)
		return Location{}, false
	}
	return loc, true
}

func (c *RedisCache) Set(ctx context.Context, ip string, loc Location, ttl time.Duration) {
	payload, err := json.Marshal(loc)
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, redisCachePrefix+ip, payload, ttl).Err(); err != nil {
		log.Debug("geo cache: redis set failed", "ip", ip, "error", err)
	}
}
