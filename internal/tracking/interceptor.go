package tracking

import (
	"context"
	"net/http"
	"time"

	"github.com/charmbracelet/log"

	"iptracker/internal/domain"
	"iptracker/internal/geolocation"
	"iptracker/internal/metrics"
)

const (
	AccessDeniedMessage    = "Access Denied: Your IP address has been blocked."
	defaultLogWriteTimeout = 5 * time.Second
)

type Blocklist interface {
	Blocked(ctx context.Context, ip string) bool
}

type Resolver interface {
	Resolve(ctx context.Context, ip string) geolocation.Location
}

type LogWriter interface {
	CreateRequestLog(ctx context.Context, entry *domain.RequestLog) error
}

type Config struct {
	ForwardedHeader string
	LogWriteTimeout time.Duration
	Now             func() time.Time
}

// Interceptor runs in front of every handler: blocked callers are turned
// away without a trace, everybody else gets exactly one request log entry.
type Interceptor struct {
	blocklist Blocklist
	resolver  Resolver
	logs      LogWriter
	header    string
	timeout   time.Duration
	now       func() time.Time
}

func NewInterceptor(blocklist Blocklist, resolver Resolver, logs LogWriter, cfg Config) *Interceptor {
	i := &Interceptor{
		blocklist: blocklist,
		resolver:  resolver,
		logs:      logs,
		header:    cfg.ForwardedHeader,
		timeout:   cfg.LogWriteTimeout,
		now:       cfg.Now,
	}
	if i.header == "" {
		i.header = DefaultForwardedHeader
	}
	if i.timeout <= 0 {
		i.timeout = defaultLogWriteTimeout
	}
	if i.now == nil {
		i.now = time.Now
	}
	return i
}

func (i *Interceptor) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := ClientIP(r, i.header)

		if i.blocklist.Blocked(r.Context(), ip) {
			metrics.Requests.WithLabelValues(metrics.OutcomeBlocked).Inc()
			log.Debug("Rejected blocked address", "ip", ip, "path", r.URL.Path)
			http.Error(w, AccessDeniedMessage, http.StatusForbidden)
			return
		}

		loc := i.resolver.Resolve(r.Context(), ip)
		i.record(r.Context(), ip, r.URL.Path, loc)

		metrics.Requests.WithLabelValues(metrics.OutcomeLogged).Inc()
		next.ServeHTTP(w, r.WithContext(WithClientIP(r.Context(), ip)))
	})
}

func (i *Interceptor) record(ctx context.Context, ip, path string, loc geolocation.Location) {
	entry := domain.RequestLog{
		IPAddress: ip,
		Timestamp: i.now(),
		Path:      path,
		Country:   domain.OptionalString(loc.Country),
		City:      domain.OptionalString(loc.City),
	}

	// A client hanging up must not lose the entry.
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), i.timeout)
	defer cancel()

	if err := i.logs.CreateRequestLog(writeCtx, &entry); err != nil {
		metrics.RequestLogFailures.Inc()
		log.Error("Failed to write request log", "ip", ip, "path", path, "error", err)
	}
}
