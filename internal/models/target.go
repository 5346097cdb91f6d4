package models

import "time"

// TargetStatus is a follower target's position in the conversion funnel.
type TargetStatus string

const (
	TargetNew        TargetStatus = "new"
	TargetFollowed   TargetStatus = "followed"
	TargetFollowBack TargetStatus = "follow_back"
	TargetDMSent     TargetStatus = "dm_sent"
	TargetReplied    TargetStatus = "replied"
	TargetConverted  TargetStatus = "converted"
	TargetUnfollowed TargetStatus = "unfollowed"
	TargetBlocked    TargetStatus = "blocked"
)

// TerminalTarget reports whether s is a terminal funnel state.
func TerminalTarget(s TargetStatus) bool {
	return s == TargetConverted || s == TargetUnfollowed || s == TargetBlocked
}

// QualityTier buckets follower targets for prioritization.
type QualityTier string

const (
	TierHigh   QualityTier = "high"
	TierMedium QualityTier = "medium"
	TierLow    QualityTier = "low"
)

// FollowerTarget is a prospect discovered under a TargetKOL, tracked
// through the conversion funnel. Mutated only via the funnel tracker.
type FollowerTarget struct {
	ID             string   `json:"id"`
	TenantID       string   `json:"tenant_id"`
	TargetKOLID    string   `json:"target_kol_id"`
	Platform       Platform `json:"platform"`
	PlatformUserID string   `json:"platform_user_id"`
	Username       string   `json:"username"`
	DisplayName    string   `json:"display_name"`
	Bio            string   `json:"bio"`
	FollowerCount  int      `json:"follower_count"`
	FollowingCount int      `json:"following_count"`
	PostCount      int      `json:"post_count"`
	IsVerified     bool     `json:"is_verified"`
	IsPrivate      bool     `json:"is_private"`

	QualityTier  QualityTier `json:"quality_tier"`
	QualityScore int         `json:"quality_score"`

	Status               TargetStatus `json:"status"`
	AssignedSubAccountID string       `json:"assigned_sub_account_id,omitempty"`

	ScrapedAt       time.Time  `json:"scraped_at"`
	FollowedAt      *time.Time `json:"followed_at,omitempty"`
	FollowBackAt    *time.Time `json:"follow_back_at,omitempty"`
	DMSentAt        *time.Time `json:"dm_sent_at,omitempty"`
	RepliedAt       *time.Time `json:"replied_at,omitempty"`
	ConvertedAt     *time.Time `json:"converted_at,omitempty"`
	UnfollowedAt    *time.Time `json:"unfollowed_at,omitempty"`
	BlockedAt       *time.Time `json:"blocked_at,omitempty"`
	FollowTimeoutAt *time.Time `json:"follow_timeout_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TargetListFilter for listing follower targets
type TargetListFilter struct {
	TenantID    string
	TargetKOLID string
	Status      TargetStatus
	QualityTier QualityTier
	Limit       int
	Offset      int
}

// FunnelStats is the per-stage count rollup across follower targets.
type FunnelStats struct {
	Total          int     `json:"total"`
	Followed       int     `json:"followed"`
	FollowBacks    int     `json:"follow_backs"`
	DMSent         int     `json:"dm_sent"`
	Replied        int     `json:"replied"`
	Converted      int     `json:"converted"`
	FollowBackRate float64 `json:"follow_back_rate"`
	DMResponseRate float64 `json:"dm_response_rate"`
	ConversionRate float64 `json:"conversion_rate"`
}
