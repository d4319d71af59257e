package geolocation

import (
	"context"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/singleflight"

	"iptracker/internal/metrics"
)

const (
	DefaultTimeout  = 2 * time.Second
	DefaultCacheTTL = 24 * time.Hour

	cacheWriteTimeout = time.Second
)

// Resolver puts a Cache in front of a Provider. Resolve never fails: a
// provider failure yields an empty Location which is cached like a real
// answer so a failing provider is asked at most once per TTL and address.
// Calls refused by the throttle or the breaker are not cached.
type Resolver struct {
	cache    Cache
	provider Provider
	timeout  time.Duration
	ttl      time.Duration
	group    singleflight.Group
}

type ResolverOption func(*Resolver)

func WithTimeout(timeout time.Duration) ResolverOption {
	return func(r *Resolver) {
		if timeout > 0 {
			r.timeout = timeout
		}
	}
}

func WithTTL(ttl time.Duration) ResolverOption {
	return func(r *Resolver) {
		if ttl > 0 {
			r.ttl = ttl
		}
	}
}

func NewResolver(cache Cache, provider Provider, opts ...ResolverOption) *Resolver {
	if cache == nil {
		cache = NewMemoryCache(defaultCacheSize)
	}
	if provider == nil {
		provider = ChainProvider(nil)
	}

	r := &Resolver{
		cache:    cache,
		provider: provider,
		timeout:  DefaultTimeout,
		ttl:      DefaultCacheTTL,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Resolver) Resolve(ctx context.Context, ip string) Location {
	if loc, ok := r.cache.Get(ctx, ip); ok {
		metrics.GeoLookups.WithLabelValues("hit").Inc()
		return loc
	}

	if !routable(ip) {
		metrics.GeoLookups.WithLabelValues("skipped").Inc()
		r.store(ctx, ip, Location{})
		return Location{}
	}

	metrics.GeoLookups.WithLabelValues("miss").Inc()

	// The lookup must not be tied to the first caller: other requests for
	// the same address may be waiting on it.
	base := context.WithoutCancel(ctx)
	ch := r.group.DoChan(ip, func() (any, error) {
		return r.lookup(base, ip), nil
	})

	timer := time.NewTimer(r.timeout)
	defer timer.Stop()

	select {
	case res := <-ch:
		return res.Val.(Location)
	case <-timer.C:
		log.Debug("geolocation: lookup abandoned", "ip", ip, "timeout", r.timeout)
		metrics.GeoLookups.WithLabelValues("failure").Inc()
		if _, ok := r.cache.Get(base, ip); !ok {
			r.store(base, ip, Location{})
		}
		return Location{}
	case <-ctx.Done():
		return Location{}
	}
}

func (r *Resolver) lookup(ctx context.Context, ip string) Location {
	lookupCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	started := time.Now()
	loc, err := r.provider.Lookup(lookupCtx, ip)
	metrics.GeoLookupDuration.Observe(time.Since(started).Seconds())

	if err == nil && lookupCtx.Err() != nil {
		err = lookupCtx.Err()
	}
	if err != nil && rejectedLocally(err) {
		log.Debug("geolocation: lookup refused locally", "ip", ip, "error", err)
		metrics.GeoLookups.WithLabelValues("rejected").Inc()
		return Location{}
	}
	if err != nil {
		log.Debug("geolocation: lookup failed", "ip", ip, "error", err)
		metrics.GeoLookups.WithLabelValues("failure").Inc()
		loc = Location{}
	}

	r.store(ctx, ip, loc)
	return loc
}

func (r *Resolver) store(ctx context.Context, ip string, loc Location) {
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cacheWriteTimeout)
	defer cancel()
	r.cache.Set(writeCtx, ip, loc, r.ttl)
}
