// Package anomaly flags addresses whose recent traffic looks abusive.
package anomaly

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/singleflight"

	"iptracker/internal/config"
	"iptracker/internal/domain"
	"iptracker/internal/metrics"
)

const (
	DefaultWindow           = time.Hour
	DefaultRequestThreshold = 100
	defaultBatchSize        = 1000
	reasonSeparator         = "; "
)

var (
	ErrScanFailed = errors.New("anomaly: scan failed")

	DefaultSensitivePaths = []string{"/admin", "/login"}
)

type LogSource interface {
	StreamRequestLogsSince(ctx context.Context, since time.Time, batchSize int, fn func([]domain.RequestLog) error) error
}

type FlagSink interface {
	UpsertSuspiciousIP(ctx context.Context, ip, reason string, detectedAt time.Time) error
}

type Store interface {
	LogSource
	FlagSink
}

type Settings struct {
	Window           time.Duration
	RequestThreshold int
	SensitivePaths   []string
	BatchSize        int
}

// SettingsFromConfig maps the anomaly section of the settings file.
func SettingsFromConfig(cfg config.Config) Settings {
	var paths []string
	if cfg.Anomaly.SensitivePaths != nil {
		paths = make([]string, len(cfg.Anomaly.SensitivePaths))
		copy(paths, cfg.Anomaly.SensitivePaths)
	}
	return Settings{
		Window:           cfg.AnomalyWindow(),
		RequestThreshold: cfg.Anomaly.RequestThreshold,
		SensitivePaths:   paths,
	}
}

func (s Settings) normalised() Settings {
	if s.Window <= 0 {
		s.Window = DefaultWindow
	}
	if s.RequestThreshold <= 0 {
		s.RequestThreshold = DefaultRequestThreshold
	}
	if s.SensitivePaths == nil {
		s.SensitivePaths = DefaultSensitivePaths
	}
	if s.BatchSize <= 0 {
		s.BatchSize = defaultBatchSize
	}
	return s
}

type Flag struct {
	IP     string `json:"ip_address"`
	Reason string `json:"reason"`
}

type Result struct {
	// ActiveIPs counts distinct addresses with any request in the window.
	ActiveIPs int           `json:"active_ips"`
	Flagged   []Flag        `json:"flagged"`
	Window    time.Duration `json:"window"`
	StartedAt time.Time     `json:"started_at"`
}

type Scanner struct {
	store    Store
	settings func() Settings
	now      func() time.Time
	runs     singleflight.Group
}

type Option func(*Scanner)

func WithSettings(settings func() Settings) Option {
	return func(s *Scanner) {
		if settings != nil {
			s.settings = settings
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Scanner) {
		if now != nil {
			s.now = now
		}
	}
}

func NewScanner(store Store, opts ...Option) *Scanner {
	s := &Scanner{
		store: store,
		settings: func() Settings {
			return SettingsFromConfig(config.GetConfig())
		},
		now: time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run scans the trailing window once. Calls that overlap an in-flight run
// share its result.
func (s *Scanner) Run(ctx context.Context) (Result, error) {
	res, err, shared := s.runs.Do("scan", func() (any, error) {
		return s.scan(ctx)
	})
	if shared {
		log.Debug("Anomaly scan joined a run already in progress")
	}
	result, _ := res.(Result)
	return result, err
}

type tally struct {
	count int
	paths map[string]struct{}
}

func (s *Scanner) scan(ctx context.Context) (Result, error) {
	settings := s.settings().normalised()
	startedAt := s.now()
	since := startedAt.Add(-settings.Window)
	tokens := sensitiveTokens(settings.SensitivePaths)

	result := Result{Window: settings.Window, StartedAt: startedAt}
	began := time.Now()
	defer func() {
		metrics.AnomalyScanDuration.Observe(time.Since(began).Seconds())
	}()

	tallies := make(map[string]*tally)
	err := s.store.StreamRequestLogsSince(ctx, since, settings.BatchSize, func(batch []domain.RequestLog) error {
		for _, entry := range batch {
			t, ok := tallies[entry.IPAddress]
			if !ok {
				t = &tally{}
				tallies[entry.IPAddress] = t
			}
			t.count++
			if matchesAny(entry.Path, tokens) {
				if t.paths == nil {
					t.paths = make(map[string]struct{})
				}
				t.paths[entry.Path] = struct{}{}
			}
		}
		return ctx.Err()
	})
	if err != nil {
		metrics.AnomalyScans.WithLabelValues("failed").Inc()
		return result, fmt.Errorf("%w: read request logs: %w", ErrScanFailed, err)
	}

	result.ActiveIPs = len(tallies)

	ips := make([]string, 0, len(tallies))
	for ip := range tallies {
		ips = append(ips, ip)
	}
	sort.Strings(ips)

	var errs []error
	for _, ip := range ips {
		reason := verdict(tallies[ip], settings)
		if reason == "" {
			continue
		}
		reason = domain.ClipReason(reason)

		if err := s.store.UpsertSuspiciousIP(ctx, ip, reason, startedAt); err != nil {
			errs = append(errs, fmt.Errorf("flag %s: %w", ip, err))
			continue
		}
		metrics.AnomalyFlagged.Inc()
		result.Flagged = append(result.Flagged, Flag{IP: ip, Reason: reason})
	}

	if len(errs) > 0 {
		metrics.AnomalyScans.WithLabelValues("partial").Inc()
		return result, errors.Join(errs...)
	}
	metrics.AnomalyScans.WithLabelValues("ok").Inc()
	return result, nil
}

// verdict combines every triggered rule into one reason so no rule hides
// another.
func verdict(t *tally, settings Settings) string {
	var reasons []string
	if t.count > settings.RequestThreshold {
		reasons = append(reasons, fmt.Sprintf("Exceeded %d requests/%s (%d requests)",
			settings.RequestThreshold, windowUnit(settings.Window), t.count))
	}
	if len(t.paths) > 0 {
		paths := make([]string, 0, len(t.paths))
		for path := range t.paths {
			paths = append(paths, path)
		}
		sort.Strings(paths)
		reasons = append(reasons, "Accessed sensitive paths: "+strings.Join(paths, ", "))
	}
	return strings.Join(reasons, reasonSeparator)
}

func windowUnit(window time.Duration) string {
	switch window {
	case time.Minute:
		return "minute"
	case time.Hour:
		return "hour"
	case 24 * time.Hour:
		return "day"
	default:
		return window.String()
	}
}

// sensitiveTokens adds the trailing-slash form of every configured path.
func sensitiveTokens(paths []string) []string {
	seen := make(map[string]struct{}, len(paths)*2)
	tokens := make([]string, 0, len(paths)*2)
	add := func(token string) {
		if token == "" {
			return
		}
		if _, ok := seen[token]; ok {
			return
		}
		seen[token] = struct{}{}
		tokens = append(tokens, token)
	}
	for _, path := range paths {
		path = strings.TrimSpace(path)
		trimmed := strings.TrimSuffix(path, "/")
		add(trimmed)
		add(trimmed + "/")
	}
	return tokens
}

func matchesAny(path string, tokens []string) bool {
	for _, token := range tokens {
		if strings.Contains(path, token) {
			return true
		}
	}
	return false
}
