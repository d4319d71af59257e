package config

import (
	"sync"
	"sync/atomic"
	"time"
)

const (
	defaultAnomalyScanInterval      = time.Hour
	defaultAnomalyWindow            = time.Hour
	defaultBlocklistRefreshInterval = 5 * time.Minute
	defaultGeoLiteUpdateInterval    = 7 * 24 * time.Hour
	defaultGeoCacheTTL              = 24 * time.Hour
	defaultRateLimitWindow          = time.Minute
	defaultGeolocationTimeout       = 2 * time.Second
	defaultLogWriteTimeout          = 5 * time.Second
)

// interval is a duration setting that long running loops can subscribe to.
type interval struct {
	value     atomic.Value
	fallback  time.Duration
	mu        sync.Mutex
	listeners []chan time.Duration
}

func newInterval(fallback time.Duration) *interval {
	iv := &interval{fallback: fallback}
	iv.value.Store(fallback)
	return iv
}

func (iv *interval) get() time.Duration {
	return iv.value.Load().(time.Duration)
}

func (iv *interval) set(d time.Duration) {
	if d <= 0 {
		d = iv.fallback
	}
	if iv.get() == d {
		return
	}
	iv.value.Store(d)

	iv.mu.Lock()
	defer iv.mu.Unlock()
	for _, ch := range iv.listeners {
		select {
		case ch <- d:
		default:
		}
	}
}

// updates returns a channel primed with the current value.
func (iv *interval) updates() <-chan time.Duration {
	ch := make(chan time.Duration, 1)
	iv.mu.Lock()
	iv.listeners = append(iv.listeners, ch)
	iv.mu.Unlock()

	ch <- iv.get()
	return ch
}

var (
	anomalyScanInterval      = newInterval(defaultAnomalyScanInterval)
	blocklistRefreshInterval = newInterval(defaultBlocklistRefreshInterval)
	geoLiteUpdateInterval    = newInterval(defaultGeoLiteUpdateInterval)
)

func SetBetweenTime() {
	cfg := GetConfig()
	anomalyScanInterval.set(durationOr(cfg.Anomaly.ScanTimer, defaultAnomalyScanInterval))
	blocklistRefreshInterval.set(durationOr(cfg.Blocklist.RefreshTimer, defaultBlocklistRefreshInterval))
	geoLiteUpdateInterval.set(durationOr(cfg.GeoLite.UpdateTimer, defaultGeoLiteUpdateInterval))
}

// CalculateBetweenTime converts a timer to a duration of at least one second.
func CalculateBetweenTime(timer Timer) time.Duration {
	intervalMs := CalculateMillisecondsOfCheckingPeriod(timer)

	minInterval := uint64(1000)
	if intervalMs < minInterval {
		intervalMs = minInterval
	}

	return time.Duration(intervalMs) * time.Millisecond
}

func CalculateMillisecondsOfCheckingPeriod(timer Timer) uint64 {
	return uint64(timer.Days)*24*60*60*1000 +
		uint64(timer.Hours)*60*60*1000 +
		uint64(timer.Minutes)*60*1000 +
		uint64(timer.Seconds)*1000
}

func (t Timer) IsZero() bool {
	return t.Days == 0 && t.Hours == 0 && t.Minutes == 0 && t.Seconds == 0
}

func durationOr(timer Timer, fallback time.Duration) time.Duration {
	if timer.IsZero() {
		return fallback
	}
	return CalculateBetweenTime(timer)
}

func millisOr(ms uint32, fallback time.Duration) time.Duration {
	if ms == 0 {
		return fallback
	}
	return time.Duration(ms) * time.Millisecond
}

func GetAnomalyScanInterval() time.Duration {
	return anomalyScanInterval.get()
}

func AnomalyScanIntervalUpdates() <-chan time.Duration {
	return anomalyScanInterval.updates()
}

func GetBlocklistRefreshInterval() time.Duration {
	return blocklistRefreshInterval.get()
}

func BlocklistRefreshIntervalUpdates() <-chan time.Duration {
	return blocklistRefreshInterval.updates()
}

func GetGeoLiteUpdateInterval() time.Duration {
	return geoLiteUpdateInterval.get()
}

func GeoLiteUpdateIntervalUpdates() <-chan time.Duration {
	return geoLiteUpdateInterval.updates()
}

func (c Config) AnomalyWindow() time.Duration {
	return durationOr(c.Anomaly.Window, defaultAnomalyWindow)
}

func (c Config) GeoCacheTTL() time.Duration {
	return durationOr(c.Geolocation.CacheTTL, defaultGeoCacheTTL)
}

func (c Config) RateLimitWindow() time.Duration {
	return durationOr(c.RateLimit.Window, defaultRateLimitWindow)
}

func (c Config) GeolocationTimeout() time.Duration {
	return millisOr(c.Geolocation.TimeoutMs, defaultGeolocationTimeout)
}

func (c Config) LogWriteTimeout() time.Duration {
	return millisOr(c.Tracking.LogWriteTimeoutMs, defaultLogWriteTimeout)
}
