package dto

type Health struct {
	Status       string `json:"status"`
	Database     string `json:"database"`
	Redis        string `json:"redis"`
	BlockedIPs   int    `json:"blocked_ips"`
	Instances    int    `json:"instances"`
	GeoLiteReady bool   `json:"geolite_ready"`
}
