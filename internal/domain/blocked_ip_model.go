package domain

import "time"

// BlockedIP is an address that is denied access. Rows are created by an
// administrator and never updated.
type BlockedIP struct {
	ID uint64 `gorm:"primaryKey;autoIncrement" json:"-"`

	// IPAddress holds the canonical textual form (net.IP.String()).
	IPAddress string `gorm:"size:45;uniqueIndex;not null" json:"ip_address"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
}
