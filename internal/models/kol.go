package models

import "time"

// Platform is the closed set of social platforms the service automates.
type Platform string

const (
	PlatformX         Platform = "x"
	PlatformInstagram Platform = "instagram"
)

// ValidPlatform reports whether p is a supported platform.
func ValidPlatform(p Platform) bool {
	return p == PlatformX || p == PlatformInstagram
}

// KOLStatus is the lifecycle status of a target KOL.
type KOLStatus string

const (
	KOLActive   KOLStatus = "active"
	KOLPaused   KOLStatus = "paused"
	KOLArchived KOLStatus = "archived"
)

// TargetKOL is an influencer account whose audience is being mined.
type TargetKOL struct {
	ID            string     `json:"id"`
	TenantID      string     `json:"tenant_id"`
	Platform      Platform   `json:"platform"`
	Username      string     `json:"username"`
	DisplayName   string     `json:"display_name"`
	ProfileURL    string     `json:"profile_url"`
	Bio           string     `json:"bio"`
	FollowerCount int        `json:"follower_count"`
	Niche         string     `json:"niche"`
	Region        string     `json:"region"`
	Status        KOLStatus  `json:"status"`
	LastSyncedAt  *time.Time `json:"last_synced_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// KOLListFilter for listing target KOLs
type KOLListFilter struct {
	TenantID string
	Platform Platform
	Status   KOLStatus
	Limit    int
	Offset   int
}

// KOLStats is the per-KOL rollup returned by GET /target-kols/{id}/stats.
type KOLStats struct {
	SubAccountsTotal   int     `json:"sub_accounts_total"`
	SubAccountsHealthy int     `json:"sub_accounts_healthy"`
	FollowersTotal     int     `json:"followers_total"`
	FollowersConverted int     `json:"followers_converted"`
	ConversionRate     float64 `json:"conversion_rate"`
}
