package ratelimit

import (
	"net/http"
	"strconv"
	"time"

	"iptracker/internal/auth"
	"iptracker/internal/config"
	"iptracker/internal/tracking"
)

const (
	DefaultAnonymousLimit     = 5
	DefaultAuthenticatedLimit = 10
	DefaultWindow             = time.Minute
)

// Rule is the budget that applies to one request.
type Rule struct {
	Key    string
	Limit  int
	Window time.Duration
	Actor  string
}

type Limits struct {
	Anonymous     int
	Authenticated int
	Window        time.Duration
}

// Actor is who a request is counted against.
type Actor interface {
	Rule(limits Limits) Rule
}

type anonymousActor struct {
	ip string
}

func (a anonymousActor) Rule(limits Limits) Rule {
	return Rule{
		Key:    "ip:" + a.ip,
		Limit:  orDefault(limits.Anonymous, DefaultAnonymousLimit),
		Window: windowOrDefault(limits.Window),
		Actor:  "anonymous",
	}
}

type authenticatedActor struct {
	userID uint
}

func (a authenticatedActor) Rule(limits Limits) Rule {
	return Rule{
		Key:    "user:" + strconv.FormatUint(uint64(a.userID), 10),
		Limit:  orDefault(limits.Authenticated, DefaultAuthenticatedLimit),
		Window: windowOrDefault(limits.Window),
		Actor:  "authenticated",
	}
}

// Policy maps a request to its actor and that actor's budget.
type Policy struct {
	limits   func() Limits
	identify func(r *http.Request) (uint, bool)
	clientIP func(r *http.Request) string
}

type PolicyOption func(*Policy)

func WithLimits(limits func() Limits) PolicyOption {
	return func(p *Policy) {
		if limits != nil {
			p.limits = limits
		}
	}
}

func WithIdentity(identify func(r *http.Request) (uint, bool)) PolicyOption {
	return func(p *Policy) {
		if identify != nil {
			p.identify = identify
		}
	}
}

func NewPolicy(opts ...PolicyOption) *Policy {
	p := &Policy{
		limits:   ConfigLimits,
		identify: auth.UserIDFromRequest,
		clientIP: requestIP,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// ConfigLimits reads the current limits from the settings.
func ConfigLimits() Limits {
	cfg := config.GetConfig()
	return Limits{
		Anonymous:     cfg.RateLimit.AnonymousLimit,
		Authenticated: cfg.RateLimit.AuthenticatedLimit,
		Window:        cfg.RateLimitWindow(),
	}
}

func (p *Policy) ActorFor(r *http.Request) Actor {
	if userID, ok := p.identify(r); ok {
		return authenticatedActor{userID: userID}
	}
	return anonymousActor{ip: p.clientIP(r)}
}

func (p *Policy) Rule(r *http.Request) Rule {
	return p.ActorFor(r).Rule(p.limits())
}

func requestIP(r *http.Request) string {
	if ip, ok := tracking.ClientIPFromContext(r.Context()); ok {
		return ip
	}
	return tracking.ClientIP(r, config.GetConfig().Tracking.ForwardedHeader)
}

func orDefault(v, fallback int) int {
	if v <= 0 {
		return fallback
	}
	return v
}

func windowOrDefault(window time.Duration) time.Duration {
	if window <= 0 {
		return DefaultWindow
	}
	return window
}
