package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/charmbracelet/log"

	"iptracker/internal/anomaly"
	"iptracker/internal/api/dto"
	"iptracker/internal/blocklist"
	"iptracker/internal/jobs/runtime"
)

const defaultPageSize = 100

func (s *Server) listBlockedIPs(w http.ResponseWriter, r *http.Request) {
	entries, err := s.store.ListBlockedIPEntries(r.Context())
	if err != nil {
		log.Error("Failed to list blocked ips", "error", err)
		writeError(w, "Failed to query database", http.StatusInternalServerError)
		return
	}

	out := make([]dto.BlockedIPInfo, 0, len(entries))
	for _, entry := range entries {
		out = append(out, dto.BlockedIPInfo{IPAddress: entry.IPAddress, CreatedAt: entry.CreatedAt})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) blockIP(w http.ResponseWriter, r *http.Request) {
	var req dto.BlockIPRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<12)).Decode(&req); err != nil {
		writeError(w, "Invalid request", http.StatusBadRequest)
		return
	}

	created, err := s.blocklist.Add(r.Context(), req.IPAddress)
	switch {
	case errors.Is(err, blocklist.ErrInvalidIP):
		writeError(w, "Invalid IP address", http.StatusBadRequest)
		return
	case err != nil:
		log.Error("Failed to block ip", "ip", req.IPAddress, "error", err)
		writeError(w, "Failed to block ip", http.StatusInternalServerError)
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
		log.Info("IP blocked via api", "ip", req.IPAddress)
	}
	writeJSON(w, status, dto.BlockIPResponse{IPAddress: blocklist.Canonical(req.IPAddress), Created: created})
}

func (s *Server) listSuspiciousIPs(w http.ResponseWriter, r *http.Request) {
	limit := defaultPageSize
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeError(w, "Invalid limit", http.StatusBadRequest)
			return
		}
		limit = parsed
	}

	entries, err := s.store.ListSuspiciousIPs(r.Context(), limit)
	if err != nil {
		log.Error("Failed to list suspicious ips", "error", err)
		writeError(w, "Failed to query database", http.StatusInternalServerError)
		return
	}

	out := make([]dto.SuspiciousIPInfo, 0, len(entries))
	for _, entry := range entries {
		out = append(out, dto.SuspiciousIPInfo{
			IPAddress:  entry.IPAddress,
			Reason:     entry.Reason,
			DetectedAt: entry.DetectedAt,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) runAnomalyScan(w http.ResponseWriter, r *http.Request) {
	if s.scanner == nil {
		writeError(w, "Anomaly scanner is not configured", http.StatusServiceUnavailable)
		return
	}

	result, err := runtime.RunAnomalyScan(r.Context(), s.scanner, "api")
	report := toScanReport(result)

	if err != nil {
		// Upsert failures still carry the flags that were written.
		report.Error = err.Error()
		writeJSON(w, http.StatusInternalServerError, report)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func toScanReport(result anomaly.Result) dto.ScanReport {
	flags := make([]dto.ScanFlag, 0, len(result.Flagged))
	for _, flag := range result.Flagged {
		flags = append(flags, dto.ScanFlag{IPAddress: flag.IP, Reason: flag.Reason})
	}
	return dto.ScanReport{
		ActiveIPs: result.ActiveIPs,
		Flagged:   flags,
		Window:    result.Window.String(),
		StartedAt: result.StartedAt,
	}
}
