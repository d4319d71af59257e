package geolite

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"iptracker/internal/config"
)

const (
	maxMindDownloadURL = "https://download.maxmind.com/app/geoip_download"
	userAgent          = "iptracker-geolite-updater/1.0"

	CityEdition  = "GeoLite2-City"
	cityFileName = CityEdition + ".mmdb"
)

// ErrNoLicenseKey is returned when no MaxMind license key is configured.
var ErrNoLicenseKey = errors.New("geolite: license key is not configured")

// Reloader picks up a database file that was replaced on disk.
type Reloader interface {
	Reload() error
}

// Updater keeps the GeoLite2-City database at path current. Downloads go to
// MaxMind; with a redis client the file is also shared with other instances.
type Updater struct {
	path        string
	downloadURL string
	client      *http.Client
	reloader    Reloader
	redis       *redis.Client
	licenseKey  func() string
	markUpdated func(time.Time) error
	group       singleflight.Group
}

type Option func(*Updater)

func WithDownloadURL(raw string) Option {
	return func(u *Updater) {
		if strings.TrimSpace(raw) != "" {
			u.downloadURL = raw
		}
	}
}

func WithHTTPClient(client *http.Client) Option {
	return func(u *Updater) {
		if client != nil {
			u.client = client
		}
	}
}

// WithReloader is called after every file replacement.
func WithReloader(r Reloader) Option {
	return func(u *Updater) {
		u.reloader = r
	}
}

func WithRedis(client *redis.Client) Option {
	return func(u *Updater) {
		u.redis = client
	}
}

// WithLicenseKey pins the key instead of reading it from the settings.
func WithLicenseKey(key string) Option {
	return func(u *Updater) {
		u.licenseKey = func() string { return key }
	}
}

func NewUpdater(path string, opts ...Option) *Updater {
	u := &Updater{
		path:        path,
		downloadURL: maxMindDownloadURL,
		client:      &http.Client{Timeout: 2 * time.Minute},
		licenseKey: func() string {
			return config.GetConfig().GeoLite.LicenseKey
		},
		markUpdated: config.MarkGeoLiteUpdated,
	}
	for _, opt := range opts {
		opt(u)
	}
	return u
}

func (u *Updater) Path() string {
	return u.path
}

// Update downloads the City edition and swaps it into place. Concurrent calls
// share one download. It returns true when the file was replaced.
func (u *Updater) Update(ctx context.Context) (bool, error) {
	result, err, _ := u.group.Do("update", func() (any, error) {
		key := strings.TrimSpace(u.licenseKey())
		if key == "" {
			return false, ErrNoLicenseKey
		}

		if err := u.download(ctx, key); err != nil {
			return false, err
		}

		if err := u.reload(); err != nil {
			return false, err
		}

		if u.markUpdated != nil {
			if err := u.markUpdated(time.Now().UTC()); err != nil {
				log.Warn("Failed to persist GeoLite updated timestamp", "error", err)
			}
		}

		if err := u.Publish(ctx); err != nil {
			log.Warn("Failed to publish GeoLite database to redis", "error", err)
		}

		return true, nil
	})
	if err != nil {
		return false, err
	}

	updated, _ := result.(bool)
	return updated, nil
}

func (u *Updater) reload() error {
	if u.reloader == nil {
		return nil
	}
	if err := u.reloader.Reload(); err != nil {
		return fmt.Errorf("geolite: reload: %w", err)
	}
	return nil
}

func (u *Updater) download(ctx context.Context, licenseKey string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.buildDownloadURL(licenseKey), nil)
	if err != nil {
		return fmt.Errorf("geolite: create request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := u.client.Do(req)
	if err != nil {
		return fmt.Errorf("geolite: download %s: %w", CityEdition, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("geolite: download %s: unexpected status %d: %s", CityEdition, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	gz, err := gzip.NewReader(resp.Body)
	if err != nil {
		return fmt.Errorf("geolite: open gzip: %w", err)
	}
	defer gz.Close()

	tr := tar.NewReader(gz)
	for {
		header, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("geolite: read tar: %w", err)
		}
		if header.Typeflag != tar.TypeReg || filepath.Base(header.Name) != cityFileName {
			continue
		}
		if err := writeToFile(u.path, tr); err != nil {
			return fmt.Errorf("geolite: write %s: %w", u.path, err)
		}
		return nil
	}

	return fmt.Errorf("geolite: %s not found in archive", cityFileName)
}

func (u *Updater) buildDownloadURL(licenseKey string) string {
	q := url.Values{}
	q.Set("edition_id", CityEdition)
	q.Set("license_key", licenseKey)
	q.Set("suffix", "tar.gz")
	return u.downloadURL + "?" + q.Encode()
}

// writeToFile replaces destPath atomically so readers never see a partial file.
func writeToFile(destPath string, data io.Reader) error {
	dir := filepath.Dir(destPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "geolite-*.mmdb")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer func() {
		_ = os.Remove(tmp.Name())
	}()

	if _, err := io.Copy(tmp, data); err != nil {
		tmp.Close()
		return fmt.Errorf("copy data: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}

	return os.Rename(tmp.Name(), destPath)
}
