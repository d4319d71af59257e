package runtime

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
	"github.com/redis/go-redis/v9"

	"iptracker/internal/config"
	"iptracker/internal/geolite"
	"iptracker/internal/support"
)

const (
	geoLiteUpdateLockKey       = "iptracker:leader:geolite_update"
	geoLiteUpdateFallbackEvery = 7 * 24 * time.Hour
)

type GeoLiteUpdater interface {
	Update(ctx context.Context) (bool, error)
}

// StartGeoLiteUpdateRoutine refreshes the local GeoLite2-City database while
// auto updates are enabled. It blocks until ctx ends.
func StartGeoLiteUpdateRoutine(ctx context.Context, client *redis.Client, updater GeoLiteUpdater) {
	if ctx == nil {
		ctx = context.Background()
	}

	var intervalValue atomic.Value
	intervalValue.Store(orFallback(config.GetGeoLiteUpdateInterval(), geoLiteUpdateFallbackEvery))

	updateSignal := make(chan struct{}, 1)
	go watchInterval(ctx, config.GeoLiteUpdateIntervalUpdates(), geoLiteUpdateFallbackEvery, &intervalValue, updateSignal)

	err := support.RunWithLeader(ctx, client, geoLiteUpdateLockKey, support.DefaultLeadershipTTL, func(leaderCtx context.Context) {
		runGeoLiteUpdateLoop(leaderCtx, updater, &intervalValue, updateSignal)
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		log.Error("GeoLite update routine stopped", "error", err)
	}
}

func runGeoLiteUpdateLoop(ctx context.Context, updater GeoLiteUpdater, intervalValue *atomic.Value, updateSignal <-chan struct{}) {
	currentInterval := intervalValue.Load().(time.Duration)

	ticker := time.NewTicker(currentInterval)
	defer ticker.Stop()

	if geoLiteStale(config.GetConfig(), currentInterval, time.Now()) {
		RunGeoLiteUpdate(ctx, updater, "startup", false)
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			RunGeoLiteUpdate(ctx, updater, "scheduled", false)
		case <-updateSignal:
			newInterval := intervalValue.Load().(time.Duration)
			if newInterval == currentInterval {
				continue
			}
			drainTicker(ticker)
			currentInterval = newInterval
			ticker.Reset(currentInterval)
		}
	}
}

// RunGeoLiteUpdate runs the updater on demand. Unless force is set the update
// only happens when auto updates are enabled.
func RunGeoLiteUpdate(ctx context.Context, updater GeoLiteUpdater, reason string, force bool) {
	if ctx == nil {
		ctx = context.Background()
	}

	cfg := config.GetConfig()
	if strings.TrimSpace(cfg.GeoLite.LicenseKey) == "" {
		log.Debug("GeoLite update skipped: license key missing", "reason", reason)
		return
	}
	if !force && !cfg.GeoLite.AutoUpdate {
		log.Debug("GeoLite update skipped: auto update disabled", "reason", reason)
		return
	}

	updated, err := updater.Update(ctx)
	switch {
	case errors.Is(err, geolite.ErrNoLicenseKey):
		log.Debug("GeoLite update skipped: license key missing", "reason", reason)
	case err != nil:
		log.Error("GeoLite update failed", "reason", reason, "error", err)
	case updated:
		log.Info("GeoLite database updated", "reason", reason)
	default:
		log.Debug("GeoLite update skipped", "reason", reason)
	}
}

// geoLiteStale reports whether the last recorded download is older than every.
func geoLiteStale(cfg config.Config, every time.Duration, now time.Time) bool {
	raw := strings.TrimSpace(cfg.GeoLite.LastUpdatedAt)
	if raw == "" {
		return true
	}
	last, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return true
	}
	return now.Sub(last) >= every
}
