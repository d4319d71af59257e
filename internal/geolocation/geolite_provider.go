package geolocation

import (
	"context"
	"errors"
	"net"
	"sync"

	"github.com/oschwald/geoip2-golang"
)

var ErrGeoLiteUnavailable = errors.New("geolocation: geolite database not loaded")

// GeoLiteProvider resolves addresses against a local MaxMind GeoLite2-City
// database. Reload swaps the reader after the file was replaced on disk.
// Until a file could be loaded every lookup fails with ErrGeoLiteUnavailable.
type GeoLiteProvider struct {
	path   string
	mu     sync.RWMutex
	reader *geoip2.Reader
}

// NewGeoLiteProvider tries to load path and keeps the provider usable even
// when the file does not exist yet.
func NewGeoLiteProvider(path string) (*GeoLiteProvider, error) {
	p := &GeoLiteProvider{path: path}
	return p, p.Reload()
}

func (p *GeoLiteProvider) Loaded() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.reader != nil
}

func (p *GeoLiteProvider) Path() string {
	return p.path
}

func (p *GeoLiteProvider) Reload() error {
	reader, err := geoip2.Open(p.path)
	if err != nil {
		return err
	}

	p.mu.Lock()
	previous := p.reader
	p.reader = reader
	p.mu.Unlock()

	if previous != nil {
		_ = previous.Close()
	}
	return nil
}

func (p *GeoLiteProvider) Lookup(_ context.Context, ip string) (Location, error) {
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return Location{}, ErrMalformedResponse
	}

	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.reader == nil {
		return Location{}, ErrGeoLiteUnavailable
	}

	record, err := p.reader.City(parsed)
	if err != nil {
		return Location{}, err
	}

	return Location{
		Country: record.Country.Names["en"],
		City:    record.City.Names["en"],
	}, nil
}

func (p *GeoLiteProvider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.reader == nil {
		return nil
	}
	err := p.reader.Close()
	p.reader = nil
	return err
}
