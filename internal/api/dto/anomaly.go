package dto

import "time"

type SuspiciousIPInfo struct {
	IPAddress  string    `json:"ip_address"`
	Reason     string    `json:"reason"`
	DetectedAt time.Time `json:"detected_at"`
}

type ScanFlag struct {
	IPAddress string `json:"ip_address"`
	Reason    string `json:"reason"`
}

type ScanReport struct {
	ActiveIPs int        `json:"active_ips"`
	Flagged   []ScanFlag `json:"flagged"`
	Window    string     `json:"window"`
	StartedAt time.Time  `json:"started_at"`
	Error     string     `json:"error,omitempty"`
}
