package config

import (
	_ "embed"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"

	"iptracker/internal/support"
)

type Config struct {
	Tracking struct {
		ForwardedHeader   string `json:"forwarded_header"`
		LogWriteTimeoutMs uint32 `json:"log_write_timeout_ms"`
	} `json:"tracking"`

	Geolocation struct {
		ProviderURL       string  `json:"provider_url"`
		TimeoutMs         uint32  `json:"timeout_ms"`
		CacheBackend      string  `json:"cache_backend"`
		CacheSize         int     `json:"cache_size"`
		CacheTTL          Timer   `json:"cache_ttl"`
		RequestsPerSecond float64 `json:"requests_per_second"`
		GeoLitePath       string  `json:"geolite_path"`
	} `json:"geolocation"`

	GeoLite struct {
		LicenseKey    string `json:"license_key"`
		AutoUpdate    bool   `json:"auto_update"`
		UpdateTimer   Timer  `json:"update_timer"`
		LastUpdatedAt string `json:"last_updated_at,omitempty"`
	} `json:"geolite"`

	RateLimit struct {
		Backend            string `json:"backend"`
		AnonymousLimit     int    `json:"anonymous_limit"`
		AuthenticatedLimit int    `json:"authenticated_limit"`
		Window             Timer  `json:"window"`
	} `json:"rate_limit"`

	Anomaly struct {
		RequestThreshold int      `json:"request_threshold"`
		Window           Timer    `json:"window"`
		ScanTimer        Timer    `json:"scan_timer"`
		SensitivePaths   []string `json:"sensitive_paths"`
	} `json:"anomaly"`

	Blocklist struct {
		RefreshTimer Timer `json:"refresh_timer"`
	} `json:"blocklist"`
}

type Timer struct {
	Days    uint32 `json:"days"`
	Hours   uint32 `json:"hours"`
	Minutes uint32 `json:"minutes"`
	Seconds uint32 `json:"seconds"`
}

const defaultSettingsFilePath = "data/settings.json"

var (
	//go:embed default_settings.json
	defaultConfig []byte

	configValue atomic.Value
	configMu    sync.Mutex

	InProductionMode bool
)

func init() {
	var cfg Config
	if err := json.Unmarshal(defaultConfig, &cfg); err != nil {
		panic("config: embedded default settings are invalid: " + err.Error())
	}
	configValue.Store(cfg)
}

// Defaults returns a fresh copy of the embedded default configuration.
func Defaults() Config {
	var cfg Config
	_ = json.Unmarshal(defaultConfig, &cfg)
	return cfg
}

func settingsFilePath() string {
	return support.GetEnv("SETTINGS_FILE", defaultSettingsFilePath)
}

func ReadSettings() {
	path := settingsFilePath()

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Error("Error reading settings file", "path", path, "error", err)
			return
		}

		log.Warn("Settings file not found, creating with default configuration", "path", path)

		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			log.Error("Error creating directory for settings file", "error", err)
			return
		}
		if err := os.WriteFile(path, defaultConfig, 0o644); err != nil {
			log.Error("Error writing default settings file", "error", err)
			return
		}
		data = defaultConfig
	}

	// Start from defaults so keys missing in older files keep sane values.
	newConfig := Defaults()
	if err := json.Unmarshal(data, &newConfig); err != nil {
		log.Error("Error unmarshalling settings file", "error", err)
		return
	}

	if err := applyConfigUpdate(newConfig, configUpdateOptions{source: "file"}); err != nil {
		log.Error("Error applying configuration from settings file", "error", err)
		return
	}

	log.Debug("Settings file loaded successfully", "path", path)
}

func SetConfig(newConfig Config) {
	if err := applyConfigUpdate(newConfig, configUpdateOptions{persistToFile: true, broadcast: true, source: "local"}); err != nil {
		log.Error("Error applying configuration update", "error", err)
		return
	}

	log.Debug("Configuration updated and written to file successfully")
}

func MarkGeoLiteUpdated(ts time.Time) error {
	cfg := GetConfig()
	cfg.GeoLite.LastUpdatedAt = ts.UTC().Format(time.RFC3339)
	return applyConfigUpdate(cfg, configUpdateOptions{persistToFile: true, broadcast: true, source: "geolite"})
}

type configUpdateOptions struct {
	persistToFile bool
	broadcast     bool
	source        string
}

func applyConfigUpdate(newConfig Config, opts configUpdateOptions) error {
	configMu.Lock()
	defer configMu.Unlock()

	configValue.Store(newConfig)
	SetBetweenTime()

	var errs []error

	if opts.persistToFile {
		data, err := json.MarshalIndent(newConfig, "", "  ")
		if err != nil {
			errs = append(errs, err)
		} else if err := os.WriteFile(settingsFilePath(), data, 0o644); err != nil {
			errs = append(errs, err)
		}
	}

	if opts.broadcast {
		if err := publishSettings(newConfig); err != nil {
			errs = append(errs, err)
		}
	}

	if opts.source != "" {
		log.Debug("Configuration applied", "source", opts.source)
	} else {
		log.Debug("Configuration applied")
	}

	return errors.Join(errs...)
}

func GetConfig() Config {
	return configValue.Load().(Config)
}

func SetProductionMode(productionMode bool) {
	InProductionMode = productionMode
}
