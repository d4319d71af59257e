package geolocation

import (
	"context"
	"errors"
)

var (
	ErrProviderStatus    = errors.New("geolocation: unexpected provider status")
	ErrMalformedResponse = errors.New("geolocation: malformed provider response")
	ErrProviderThrottled = errors.New("geolocation: provider call throttled")
	ErrNoProvider        = errors.New("geolocation: no provider configured")

	// ErrProviderUnavailable marks calls the circuit breaker refused.
	ErrProviderUnavailable = errors.New("geolocation: provider unavailable")
)

// rejectedLocally reports whether err means a provider was never asked.
func rejectedLocally(err error) bool {
	return errors.Is(err, ErrProviderThrottled) || errors.Is(err, ErrProviderUnavailable)
}

// Provider looks an address up at some external source.
type Provider interface {
	Lookup(ctx context.Context, ip string) (Location, error)
}

// ProviderFunc adapts a function to Provider.
type ProviderFunc func(ctx context.Context, ip string) (Location, error)

func (f ProviderFunc) Lookup(ctx context.Context, ip string) (Location, error) {
	return f(ctx, ip)
}

// ChainProvider asks each provider in turn and returns the first non-empty
// location. When every provider failed the joined errors are returned.
type ChainProvider []Provider

func (c ChainProvider) Lookup(ctx context.Context, ip string) (Location, error) {
	if len(c) == 0 {
		return Location{}, ErrNoProvider
	}

	var errs []error
	answered := false
	for _, provider := range c {
		if provider == nil {
			continue
		}
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}

		loc, err := provider.Lookup(ctx, ip)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		answered = true
		if !loc.IsEmpty() {
			return loc, nil
		}
	}

	if answered {
		return Location{}, nil
	}
	return Location{}, errors.Join(errs...)
}
