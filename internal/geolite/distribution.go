package geolite

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/charmbracelet/log"
	"github.com/redis/go-redis/v9"
)

const (
	redisFileKey   = "iptracker:geolite:file:" + cityFileName
	redisChannel   = "iptracker:geolite:updates"
	redisOpTimeout = 30 * time.Second
)

type updatePayload struct {
	Edition   string `json:"edition"`
	UpdatedAt string `json:"updated_at,omitempty"`
}

// Publish uploads the local database to redis and tells the other instances
// to pull it. Without a redis client it does nothing.
func (u *Updater) Publish(ctx context.Context) error {
	if u.redis == nil {
		return nil
	}

	data, err := os.ReadFile(u.path)
	if err != nil {
		return fmt.Errorf("geolite redis sync: read %s: %w", u.path, err)
	}
	if len(data) == 0 {
		return nil
	}

	opCtx, cancel := redisTimeoutCtx(ctx)
	defer cancel()

	if err := u.redis.Set(opCtx, redisFileKey, data, 0).Err(); err != nil {
		return fmt.Errorf("geolite redis sync: store file: %w", err)
	}

	payload, err := json.Marshal(updatePayload{
		Edition:   CityEdition,
		UpdatedAt: time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return fmt.Errorf("geolite redis sync: serialize payload: %w", err)
	}

	return u.redis.Publish(opCtx, redisChannel, payload).Err()
}

// SyncFromRedis writes the copy stored in redis to disk, if there is one,
// and reloads it. It reports whether the local file changed.
func (u *Updater) SyncFromRedis(ctx context.Context) (bool, error) {
	if u.redis == nil {
		return false, errors.New("geolite redis sync: redis client is nil")
	}

	opCtx, cancel := redisTimeoutCtx(ctx)
	data, err := u.redis.Get(opCtx, redisFileKey).Bytes()
	cancel()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return false, nil
		}
		return false, fmt.Errorf("geolite redis sync: fetch file: %w", err)
	}
	if len(data) == 0 {
		return false, nil
	}

	if current, err := os.ReadFile(u.path); err == nil && bytes.Equal(current, data) {
		return false, nil
	}

	if err := writeToFile(u.path, bytes.NewReader(data)); err != nil {
		return false, fmt.Errorf("geolite redis sync: write %s: %w", u.path, err)
	}
	if err := u.reload(); err != nil {
		return false, err
	}
	return true, nil
}

// Subscribe loads the shared copy once and then follows update notifications
// until ctx ends.
func (u *Updater) Subscribe(ctx context.Context) {
	if u.redis == nil {
		log.Warn("GeoLite redis distribution disabled: redis client is nil")
		return
	}

	pubsub := u.redis.Subscribe(ctx, redisChannel)
	defer pubsub.Close()
	// ReceiveMessage does not return on cancellation by itself.
	stop := context.AfterFunc(ctx, func() { _ = pubsub.Close() })
	defer stop()

	if updated, err := u.SyncFromRedis(ctx); err != nil {
		log.Error("geolite redis sync: initial load failed", "error", err)
	} else if updated {
		log.Info("geolite redis sync: loaded database from redis", "path", u.path)
	}

	for {
		msg, err := pubsub.ReceiveMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, redis.ErrClosed) || ctx.Err() != nil {
				return
			}
			log.Error("geolite redis sync: subscription error", "error", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}

		var payload updatePayload
		if err := json.Unmarshal([]byte(msg.Payload), &payload); err != nil {
			log.Error("geolite redis sync: invalid payload", "error", err)
			continue
		}

		if updated, err := u.SyncFromRedis(ctx); err != nil {
			log.Error("geolite redis sync: failed to apply update", "error", err)
		} else if updated {
			log.Info("geolite redis sync: applied update", "edition", payload.Edition, "updated_at", payload.UpdatedAt)
		}
	}
}

func redisTimeoutCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	if deadline, ok := ctx.Deadline(); ok && time.Until(deadline) <= redisOpTimeout {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, redisOpTimeout)
}
