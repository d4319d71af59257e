package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/charmbracelet/log"

	"iptracker/internal/api/dto"
	"iptracker/internal/config"
	"iptracker/internal/jobs/runtime"
)

const healthCheckTimeout = 2 * time.Second

func (s *Server) index(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"message": "Hello, world!"})
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	report := dto.Health{
		Status:     "ok",
		Database:   "ok",
		Redis:      "disabled",
		BlockedIPs: s.blocklist.Count(),
		Instances:  1,
	}
	status := http.StatusOK

	if err := s.store.Ping(ctx); err != nil {
		log.Warn("Health check: database unreachable", "error", err)
		report.Database = "unreachable"
		report.Status = "degraded"
		status = http.StatusServiceUnavailable
	}

	if s.redis != nil {
		report.Redis = "ok"
		if err := s.redis.Ping(ctx).Err(); err != nil {
			report.Redis = "unreachable"
			report.Status = "degraded"
		} else if n, err := runtime.CountActiveInstances(ctx, s.redis); err == nil && n > 0 {
			report.Instances = n
		}
	}

	if s.geolite != nil {
		report.GeoLiteReady = s.geolite.Loaded()
	}

	writeJSON(w, status, report)
}

func (s *Server) getSettings(w http.ResponseWriter, r *http.Request) {
	cfg := config.GetConfig()
	cfg.GeoLite.LicenseKey = redact(cfg.GeoLite.LicenseKey)
	writeJSON(w, http.StatusOK, cfg)
}

func (s *Server) saveSettings(w http.ResponseWriter, r *http.Request) {
	current := config.GetConfig()

	next := current
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&next); err != nil {
		writeError(w, "Invalid request", http.StatusBadRequest)
		return
	}
	if next.GeoLite.LicenseKey == redact(current.GeoLite.LicenseKey) {
		next.GeoLite.LicenseKey = current.GeoLite.LicenseKey
	}

	config.SetConfig(next)
	log.Info("Settings updated via api")

	next.GeoLite.LicenseKey = redact(next.GeoLite.LicenseKey)
	writeJSON(w, http.StatusOK, next)
}

func redact(secret string) string {
	if secret == "" {
		return ""
	}
	return "********"
}
