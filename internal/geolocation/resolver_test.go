package geolocation

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type countingProvider struct {
	calls atomic.Int32
	fn    func(ctx context.Context, ip string) (Location, error)
}

func (p *countingProvider) Lookup(ctx context.Context, ip string) (Location, error) {
	p.calls.Add(1)
	return p.fn(ctx, ip)
}

func newTestResolver(provider Provider, opts ...ResolverOption) (*Resolver, *fakeClock) {
	clock := &fakeClock{now: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
	cache := NewMemoryCache(128, WithClock(clock.Now))
	return NewResolver(cache, provider, opts...), clock
}

func TestResolveCachesForTTL(t *testing.T) {
	provider := &countingProvider{fn: func(context.Context, string) (Location, error) {
		return Location{Country: "Germany", City: "Berlin"}, nil
	}}
	resolver, clock := newTestResolver(provider)
	ctx := context.Background()

	first := resolver.Resolve(ctx, "8.8.8.8")
	if first.Country != "Germany" || first.City != "Berlin" {
		t.Fatalf("first Resolve = %+v", first)
	}

	clock.Advance(23 * time.Hour)
	second := resolver.Resolve(ctx, "8.8.8.8")
	if second != first {
		t.Fatalf("cached Resolve = %+v, want %+v", second, first)
	}
	if got := provider.calls.Load(); got != 1 {
		t.Fatalf("provider calls within TTL = %d, want 1", got)
	}

	clock.Advance(time.Hour)
	resolver.Resolve(ctx, "8.8.8.8")
	if got := provider.calls.Load(); got != 2 {
		t.Fatalf("provider calls after TTL = %d, want 2", got)
	}
}

func TestResolveCachesFailures(t *testing.T) {
	provider := &countingProvider{fn: func(context.Context, string) (Location, error) {
		return Location{}, ErrProviderStatus
	}}
	resolver, _ := newTestResolver(provider)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if loc := resolver.Resolve(ctx, "1.1.1.1"); !loc.IsEmpty() {
			t.Fatalf("Resolve after failure = %+v, want empty", loc)
		}
	}
	if got := provider.calls.Load(); got != 1 {
		t.Fatalf("provider calls = %d, want 1", got)
	}
}

func TestResolveDoesNotCacheLocalRejections(t *testing.T) {
	for _, refusal := range []error{ErrProviderThrottled, ErrProviderUnavailable} {
		t.Run(refusal.Error(), func(t *testing.T) {
			provider := &countingProvider{}
			provider.fn = func(context.Context, string) (Location, error) {
				if provider.calls.Load() == 1 {
					return Location{}, refusal
				}
				return Location{Country: "France", City: "Paris"}, nil
			}
			resolver, clock := newTestResolver(provider)
			ctx := context.Background()

			if loc := resolver.Resolve(ctx, "9.9.9.9"); !loc.IsEmpty() {
				t.Fatalf("refused Resolve = %+v, want empty", loc)
			}

			clock.Advance(time.Hour)
			loc := resolver.Resolve(ctx, "9.9.9.9")
			if loc.Country != "France" || loc.City != "Paris" {
				t.Fatalf("Resolve after refusal = %+v, want France/Paris", loc)
			}
			if got := provider.calls.Load(); got != 2 {
				t.Fatalf("provider calls = %d, want 2", got)
			}
		})
	}
}

func TestResolveTimeoutIsHardBound(t *testing.T) {
	release := make(chan struct{})
	defer close(release)

	// Ignores ctx on purpose to simulate a hung provider.
	provider := &countingProvider{fn: func(context.Context, string) (Location, error) {
		<-release
		return Location{Country: "Late"}, nil
	}}
	resolver, _ := newTestResolver(provider, WithTimeout(50*time.Millisecond))

	started := time.Now()
	loc := resolver.Resolve(context.Background(), "9.9.9.9")
	elapsed := time.Since(started)

	if !loc.IsEmpty() {
		t.Fatalf("Resolve on hung provider = %+v, want empty", loc)
	}
	if elapsed > 500*time.Millisecond {
		t.Fatalf("Resolve took %s, timeout was 50ms", elapsed)
	}

	cached, ok := resolver.cache.Get(context.Background(), "9.9.9.9")
	if !ok || !cached.IsEmpty() {
		t.Fatalf("timeout result not cached as empty: %+v ok=%v", cached, ok)
	}
}

func TestResolveCollapsesConcurrentMisses(t *testing.T) {
	gate := make(chan struct{})
	provider := &countingProvider{fn: func(context.Context, string) (Location, error) {
		<-gate
		return Location{Country: "France"}, nil
	}}
	resolver, _ := newTestResolver(provider)

	var wg sync.WaitGroup
	results := make([]Location, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = resolver.Resolve(context.Background(), "5.5.5.5")
		}(i)
	}

	time.Sleep(50 * time.Millisecond)
	close(gate)
	wg.Wait()

	if got := provider.calls.Load(); got != 1 {
		t.Fatalf("provider calls = %d, want 1", got)
	}
	for i, loc := range results {
		if loc.Country != "France" {
			t.Fatalf("result %d = %+v", i, loc)
		}
	}
}

func TestResolveSkipsNonRoutableAddresses(t *testing.T) {
	provider := &countingProvider{fn: func(context.Context, string) (Location, error) {
		return Location{Country: "Nowhere"}, nil
	}}
	resolver, _ := newTestResolver(provider)

	for _, ip := range []string{"0.0.0.0", "127.0.0.1", "10.1.2.3", "192.168.0.5", "::1", "not-an-ip"} {
		if loc := resolver.Resolve(context.Background(), ip); !loc.IsEmpty() {
			t.Fatalf("Resolve(%q) = %+v, want empty", ip, loc)
		}
	}
	if got := provider.calls.Load(); got != 0 {
		t.Fatalf("provider called %d times for non-routable addresses", got)
	}
}

func TestChainProviderFirstNonEmptyWins(t *testing.T) {
	failing := ProviderFunc(func(context.Context, string) (Location, error) {
		return Location{}, errors.New("boom")
	})
	empty := ProviderFunc(func(context.Context, string) (Location, error) {
		return Location{}, nil
	})
	good := ProviderFunc(func(context.Context, string) (Location, error) {
		return Location{Country: "Spain", City: "Madrid"}, nil
	})

	loc, err := ChainProvider{failing, empty, good}.Lookup(context.Background(), "8.8.4.4")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if loc.City != "Madrid" {
		t.Fatalf("Lookup = %+v", loc)
	}

	_, err = ChainProvider{failing}.Lookup(context.Background(), "8.8.4.4")
	if err == nil {
		t.Fatal("expected error when every provider failed")
	}

	loc, err = ChainProvider{failing, empty}.Lookup(context.Background(), "8.8.4.4")
	if err != nil || !loc.IsEmpty() {
		t.Fatalf("Lookup with an empty answer = %+v, %v", loc, err)
	}
}

func TestMemoryCacheExpiry(t *testing.T) {
	clock := &fakeClock{now: time.Unix(0, 0)}
	cache := NewMemoryCache(2, WithClock(clock.Now))
	ctx := context.Background()

	cache.Set(ctx, "a", Location{City: "A"}, time.Minute)
	if _, ok := cache.Get(ctx, "a"); !ok {
		t.Fatal("fresh entry missing")
	}

	clock.Advance(time.Minute)
	if _, ok := cache.Get(ctx, "a"); ok {
		t.Fatal("expired entry served")
	}
	if cache.Len() != 0 {
		t.Fatalf("expired entry not evicted, len=%d", cache.Len())
	}
}
