package domain

import "time"

const (
	MaxPathLength     = 255
	MaxLocationLength = 100
)

// RequestLog is written once per request that was not blocked.
type RequestLog struct {
	ID        uint64    `gorm:"primaryKey;autoIncrement" json:"-"`
	IPAddress string    `gorm:"size:45;not null;index" json:"ip_address"`
	Timestamp time.Time `gorm:"not null;index" json:"timestamp"`
	Path      string    `gorm:"size:255;not null" json:"path"`
	Country   *string   `gorm:"size:100" json:"country,omitempty"`
	City      *string   `gorm:"size:100" json:"city,omitempty"`
}

func (r *RequestLog) GetCountry() string {
	if r.Country == nil {
		return ""
	}
	return *r.Country
}

func (r *RequestLog) GetCity() string {
	if r.City == nil {
		return ""
	}
	return *r.City
}

// Truncate clips the columns to their storage limits without splitting a
// multi-byte rune.
func (r *RequestLog) Truncate() {
	r.Path = truncateRunes(r.Path, MaxPathLength)
	if r.Country != nil {
		v := truncateRunes(*r.Country, MaxLocationLength)
		r.Country = &v
	}
	if r.City != nil {
		v := truncateRunes(*r.City, MaxLocationLength)
		r.City = &v
	}
}

func truncateRunes(s string, max int) string {
	if len(s) <= max {
		return s
	}
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max])
}

// OptionalString maps "" to nil so empty locations are stored as NULL.
func OptionalString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
