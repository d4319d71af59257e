package geolocation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"
)

const (
	DefaultProviderURL     = "https://ipapi.co/%s/json/"
	ipGeolocationURL       = "https://api.ipgeolocation.io/ipgeo?apiKey=%s&ip=%s"
	maxProviderBody        = 64 << 10
	defaultRequestsPerSec  = 10
	breakerFailureTrigger  = 5
	breakerOpenTimeout     = 30 * time.Second
	breakerCountingWindow  = time.Minute
	providerUserAgent      = "iptracker/1.0"
	defaultProviderTimeout = 5 * time.Second
)

type HTTPProviderConfig struct {
	// URLTemplate contains a single %s for the address.
	URLTemplate string
	// APIKey switches the provider to ipgeolocation.io.
	APIKey            string
	RequestsPerSecond float64
	Client            *http.Client
}

// HTTPProvider queries a JSON geolocation API that answers with
// country_name and city fields.
type HTTPProvider struct {
	client  *http.Client
	urlFor  func(ip string) string
	breaker *gobreaker.CircuitBreaker[Location]
	limiter *rate.Limiter
}

type providerResponse struct {
	CountryName string `json:"country_name"`
	City        string `json:"city"`
	Error       bool   `json:"error"`
	Reason      string `json:"reason"`
	Message     string `json:"message"`
}

func NewHTTPProvider(cfg HTTPProviderConfig) *HTTPProvider {
	client := cfg.Client
	if client == nil {
		client = &http.Client{Timeout: defaultProviderTimeout}
	}

	rps := cfg.RequestsPerSecond
	if rps <= 0 {
		rps = defaultRequestsPerSec
	}
	burst := int(rps * 2)
	if burst < 1 {
		burst = 1
	}

	p := &HTTPProvider{
		client:  client,
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
	}

	if key := strings.TrimSpace(cfg.APIKey); key != "" {
		p.urlFor = func(ip string) string {
			return fmt.Sprintf(ipGeolocationURL, url.QueryEscape(key), url.QueryEscape(ip))
		}
	} else {
		template := cfg.URLTemplate
		if template == "" {
			template = DefaultProviderURL
		}
		p.urlFor = func(ip string) string {
			return fmt.Sprintf(template, url.PathEscape(ip))
		}
	}

	p.breaker = gobreaker.NewCircuitBreaker[Location](gobreaker.Settings{
		Name:        "geolocation-http",
		MaxRequests: 1,
		Interval:    breakerCountingWindow,
		Timeout:     breakerOpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= breakerFailureTrigger
		},
	})

	return p
}

func (p *HTTPProvider) Lookup(ctx context.Context, ip string) (Location, error) {
	if !p.limiter.Allow() {
		return Location{}, ErrProviderThrottled
	}

	loc, err := p.breaker.Execute(func() (Location, error) {
		return p.fetch(ctx, ip)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return Location{}, fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}
	return loc, err
}

func (p *HTTPProvider) fetch(ctx context.Context, ip string) (Location, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.urlFor(ip), nil)
	if err != nil {
		return Location{}, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", providerUserAgent)

	resp, err := p.client.Do(req)
	if err != nil {
		return Location{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxProviderBody))
		return Location{}, fmt.Errorf("%w: %d", ErrProviderStatus, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxProviderBody+1))
	if err != nil {
		return Location{}, err
	}
	if len(body) > maxProviderBody {
		return Location{}, fmt.Errorf("%w: body exceeds %d bytes", ErrMalformedResponse, maxProviderBody)
	}

	var payload providerResponse
	if err := json.Unmarshal(body, &payload); err != nil {
		return Location{}, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	if payload.Error {
		reason := payload.Reason
		if reason == "" {
			reason = payload.Message
		}
		return Location{}, fmt.Errorf("%w: provider reported %q", ErrMalformedResponse, reason)
	}

	return Location{
		Country: strings.TrimSpace(payload.CountryName),
		City:    strings.TrimSpace(payload.City),
	}, nil
}
