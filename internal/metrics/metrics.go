// Package metrics holds the prometheus collectors shared by the tracking
// components. They register on the default registry once at start-up.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "iptracker"

const (
	OutcomeLogged  = "logged"
	OutcomeBlocked = "blocked"
)

var (
	Requests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "requests_total",
		Help:      "Requests seen by the interceptor, by outcome",
	}, []string{"outcome"})

	RequestLogFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "request_log_failures_total",
		Help:      "Request log entries that could not be written",
	})

	GeoLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "geolocation_lookups_total",
		Help:      "Geolocation resolutions by result (hit, miss, failure, rejected, skipped)",
	}, []string{"result"})

	GeoLookupDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "geolocation_lookup_duration_seconds",
		Help:      "Time spent waiting for the geolocation provider",
		Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10),
	})

	RateLimitRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "rate_limit_rejections_total",
		Help:      "Requests rejected by the rate limiter, by actor kind",
	}, []string{"actor"})

	RateLimitFallbacks = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "rate_limit_backend_fallbacks_total",
		Help:      "Decisions taken by the in-memory limiter because redis failed",
	})

	BlockedIPs = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "blocked_ips",
		Help:      "Entries currently in the blocklist cache",
	})

	AnomalyScans = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "anomaly_scans_total",
		Help:      "Anomaly scanner runs by status",
	}, []string{"status"})

	AnomalyFlagged = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "anomaly_flagged_total",
		Help:      "Suspicious IP upserts written by the anomaly scanner",
	})

	AnomalyScanDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "anomaly_scan_duration_seconds",
		Help:      "Duration of anomaly scanner runs",
		Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
	})
)

func Handler() http.Handler {
	return promhttp.Handler()
}
