package models

import (
	"time"
)

// Link represents a short link record as stored in PostgreSQL.
type Link struct {
	ID         int64      `json:"id" db:"id"`
	GroupID    string     `json:"gid" db:"gid"`
	ShortURL   string     `json:"short_url" db:"short_url"`
	OriginURL  string     `json:"origin_url" db:"origin_url"`
	CreatedAt  time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at" db:"updated_at"`
	ValidFrom  *time.Time `json:"valid_from,omitempty" db:"valid_from"`
	ValidUntil *time.Time `json:"valid_until,omitempty" db:"valid_until"`
	TotalPV    int64      `json:"total_pv" db:"total_pv"`
	TotalUV    int64      `json:"total_uv" db:"total_uv"`
	TotalUIP   int64      `json:"total_uip" db:"total_uip"`
	Enabled    bool       `json:"enabled" db:"enabled"`
}

// IsValidNow reports whether the link is inside its validity window.
func (l *Link) IsValidNow(now time.Time) bool {
	if !l.Enabled {
		return false
	}
	if l.ValidFrom != nil && now.Before(*l.ValidFrom) {
		return false
	}
	if l.ValidUntil != nil && now.After(*l.ValidUntil) {
		return false
	}
	return true
}

// CreateLinkRequest represents a request to create a short link.
type CreateLinkRequest struct {
	OriginURL  string     `json:"origin_url"`
	GroupID    string     `json:"gid"`
	Domain     string     `json:"domain,omitempty"`
	ValidFrom  *time.Time `json:"valid_from,omitempty"`
	ValidUntil *time.Time `json:"valid_until,omitempty"`
}

// CreateLinkResult is what the service returns after a successful creation.
type CreateLinkResult struct {
	GroupID      string `json:"gid"`
	OriginURL    string `json:"origin_url"`
	FullShortURL string `json:"full_short_url"`
}

// DailyStats is the per (shortUrl, date, hour) pv/uv/uip aggregate delta.
type DailyStats struct {
	ShortURL string
	Date     time.Time
	Hour     int
	Weekday  int
	PV       int64
	UV       int64
	UIP      int64
}

// AccessLog is one row in the access log, carrying the first-visit flag.
type AccessLog struct {
	ID         string
	ShortURL   string
	Visitor    string
	IP         string
	OS         string
	Browser    string
	Device     string
	Network    string
	Locale     string
	FirstVisit bool
	AccessedAt time.Time
}
