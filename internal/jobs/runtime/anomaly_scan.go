package runtime

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
	"github.com/redis/go-redis/v9"

	"iptracker/internal/anomaly"
	"iptracker/internal/config"
	"iptracker/internal/support"
)

const (
	anomalyScanLockKey       = "iptracker:leader:anomaly_scan"
	anomalyScanFallbackEvery = time.Hour
)

// Scanner is the part of anomaly.Scanner the loop drives.
type Scanner interface {
	Run(ctx context.Context) (anomaly.Result, error)
}

// StartAnomalyScanRoutine runs the scanner on the configured cadence. Only the
// instance holding the redis lease scans; with a nil client it always does.
// It blocks until ctx ends.
func StartAnomalyScanRoutine(ctx context.Context, client *redis.Client, scanner Scanner) {
	if ctx == nil {
		ctx = context.Background()
	}

	var intervalValue atomic.Value
	intervalValue.Store(orFallback(config.GetAnomalyScanInterval(), anomalyScanFallbackEvery))

	updateSignal := make(chan struct{}, 1)
	go watchInterval(ctx, config.AnomalyScanIntervalUpdates(), anomalyScanFallbackEvery, &intervalValue, updateSignal)

	err := support.RunWithLeader(ctx, client, anomalyScanLockKey, support.DefaultLeadershipTTL, func(leaderCtx context.Context) {
		runAnomalyScanLoop(leaderCtx, scanner, &intervalValue, updateSignal)
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		log.Error("Anomaly scan routine stopped", "error", err)
	}
}

func runAnomalyScanLoop(ctx context.Context, scanner Scanner, intervalValue *atomic.Value, updateSignal <-chan struct{}) {
	currentInterval := intervalValue.Load().(time.Duration)

	ticker := time.NewTicker(currentInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_, _ = RunAnomalyScan(ctx, scanner, "scheduled")
		case <-updateSignal:
			newInterval := intervalValue.Load().(time.Duration)
			if newInterval == currentInterval {
				continue
			}
			drainTicker(ticker)
			currentInterval = newInterval
			ticker.Reset(currentInterval)
			log.Info("Anomaly scan interval updated", "interval", currentInterval)
		}
	}
}

// RunAnomalyScan runs one scan and logs its outcome. The admin API uses it for
// on-demand scans.
func RunAnomalyScan(ctx context.Context, scanner Scanner, reason string) (anomaly.Result, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	result, err := scanner.Run(ctx)
	switch {
	case errors.Is(err, anomaly.ErrScanFailed):
		log.Error("Anomaly scan failed", "reason", reason, "error", err)
	case err != nil:
		log.Warn("Anomaly scan finished with errors", "reason", reason, "active_ips", result.ActiveIPs, "flagged", len(result.Flagged), "error", err)
	default:
		log.Info("Anomaly scan completed", "reason", reason, "active_ips", result.ActiveIPs, "flagged", len(result.Flagged))
	}
	return result, err
}

// watchInterval forwards interval changes into value and pokes signal.
func watchInterval(ctx context.Context, updates <-chan time.Duration, fallback time.Duration, value *atomic.Value, signal chan<- struct{}) {
	for {
		select {
		case <-ctx.Done():
			return
		case next := <-updates:
			value.Store(orFallback(next, fallback))
			select {
			case signal <- struct{}{}:
			default:
			}
		}
	}
}

func orFallback(d, fallback time.Duration) time.Duration {
	if d <= 0 {
		return fallback
	}
	return d
}

func drainTicker(ticker *time.Ticker) {
	for {
		select {
		case <-ticker.C:
		default:
			return
		}
	}
}
