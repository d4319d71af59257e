package domain

import "time"

const MaxReasonLength = 255

// SuspiciousIP holds the latest verdict of the anomaly scanner for an address.
// There is at most one row per address; later scans overwrite it.
type SuspiciousIP struct {
	ID         uint64    `gorm:"primaryKey;autoIncrement" json:"-"`
	IPAddress  string    `gorm:"size:45;uniqueIndex;not null" json:"ip_address"`
	Reason     string    `gorm:"size:255;not null" json:"reason"`
	DetectedAt time.Time `gorm:"not null;index" json:"detected_at"`
}

// ClipReason bounds a reason to the column size.
func ClipReason(reason string) string {
	return truncateRunes(reason, MaxReasonLength)
}
