package dto

import "time"

type BlockIPRequest struct {
	IPAddress string `json:"ip_address"`
}

type BlockIPResponse struct {
	IPAddress string `json:"ip_address"`
	Created   bool   `json:"created"`
}

type BlockedIPInfo struct {
	IPAddress string    `json:"ip_address"`
	CreatedAt time.Time `json:"created_at"`
}
