package config

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	settingsKey     = "iptracker:config:settings"
	settingsChannel = "iptracker:config:updates"
	settingsTimeout = 5 * time.Second
)

// settingsEnvelope is what instances exchange. Origin lets an instance skip
// its own broadcasts.
type settingsEnvelope struct {
	Origin   string          `json:"origin"`
	SentAt   time.Time       `json:"sent_at"`
	Settings json.RawMessage `json:"settings"`
}

type settingsSync struct {
	client *redis.Client
	origin string
	cancel context.CancelFunc
	done   chan struct{}
}

var (
	syncMu     sync.Mutex
	activeSync *settingsSync
)

// EnableRedisSynchronization shares settings between instances. A copy
// already stored in redis replaces the local one, otherwise the local copy
// is stored for the next instance. Later changes travel over pub/sub.
func EnableRedisSynchronization(ctx context.Context, client *redis.Client) {
	if client == nil {
		log.Warn("Config synchronization disabled: redis client is nil")
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}

	syncMu.Lock()
	if activeSync != nil {
		syncMu.Unlock()
		return
	}
	runCtx, cancel := context.WithCancel(ctx)
	s := &settingsSync{
		client: client,
		origin: uuid.NewString(),
		cancel: cancel,
		done:   make(chan struct{}),
	}
	activeSync = s
	syncMu.Unlock()

	found, err := s.adoptStored(runCtx)
	if err != nil {
		log.Error("Config sync: failed to load stored settings", "error", err)
	}
	if !found {
		if err := s.publish(runCtx, GetConfig()); err != nil {
			log.Error("Config sync: failed to store local settings", "error", err)
		}
	}

	// Subscribe before returning so no update published after this call is
	// missed.
	pubsub := client.Subscribe(runCtx, settingsChannel)
	go s.follow(runCtx, pubsub)
}

// DisableRedisSynchronization stops following remote changes and waits for
// the subscriber to exit.
func DisableRedisSynchronization() {
	syncMu.Lock()
	s := activeSync
	activeSync = nil
	syncMu.Unlock()

	if s == nil {
		return
	}
	s.cancel()
	<-s.done
}

func (s *settingsSync) adoptStored(ctx context.Context) (bool, error) {
	opCtx, cancel := context.WithTimeout(ctx, settingsTimeout)
	defer cancel()

	raw, err := s.client.Get(opCtx, settingsKey).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	var env settingsEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return true, err
	}
	return true, s.apply(env)
}

func (s *settingsSync) follow(ctx context.Context, pubsub *redis.PubSub) {
	defer close(s.done)
	defer pubsub.Close()

	stop := context.AfterFunc(ctx, func() { _ = pubsub.Close() })
	defer stop()

	for {
		msg, err := pubsub.ReceiveMessage(ctx)
		if err != nil {
			if errors.Is(err, redis.ErrClosed) || ctx.Err() != nil {
				return
			}
			log.Error("Config sync: subscription error", "error", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}

		var env settingsEnvelope
		if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
			log.Error("Config sync: invalid payload", "error", err)
			continue
		}
		if env.Origin == s.origin {
			continue
		}
		if err := s.apply(env); err != nil {
			log.Error("Config sync: failed to apply remote settings", "origin", env.Origin, "error", err)
		}
	}
}

// apply installs remote settings and reports which loop intervals moved.
func (s *settingsSync) apply(env settingsEnvelope) error {
	cfg := Defaults()
	if err := json.Unmarshal(env.Settings, &cfg); err != nil {
		return err
	}

	scan, refresh, geoLite := GetAnomalyScanInterval(), GetBlocklistRefreshInterval(), GetGeoLiteUpdateInterval()
	if err := applyConfigUpdate(cfg, configUpdateOptions{persistToFile: true, source: "redis"}); err != nil {
		return err
	}

	changed := []any{"origin", env.Origin}
	if next := GetAnomalyScanInterval(); next != scan {
		changed = append(changed, "anomaly_scan", next)
	}
	if next := GetBlocklistRefreshInterval(); next != refresh {
		changed = append(changed, "blocklist_refresh", next)
	}
	if next := GetGeoLiteUpdateInterval(); next != geoLite {
		changed = append(changed, "geolite_update", next)
	}
	log.Info("Config sync: applied remote settings", changed...)
	return nil
}

func (s *settingsSync) publish(ctx context.Context, cfg Config) error {
	settings, err := json.Marshal(cfg)
	if err != nil {
		return err
	}
	payload, err := json.Marshal(settingsEnvelope{
		Origin:   s.origin,
		SentAt:   time.Now().UTC(),
		Settings: settings,
	})
	if err != nil {
		return err
	}

	opCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), settingsTimeout)
	defer cancel()

	_, err = s.client.Pipelined(opCtx, func(pipe redis.Pipeliner) error {
		pipe.Set(opCtx, settingsKey, payload, 0)
		pipe.Publish(opCtx, settingsChannel, payload)
		return nil
	})
	return err
}

// publishSettings shares cfg with the other instances when synchronization
// is enabled.
func publishSettings(cfg Config) error {
	syncMu.Lock()
	s := activeSync
	syncMu.Unlock()

	if s == nil {
		return nil
	}
	return s.publish(context.Background(), cfg)
}
