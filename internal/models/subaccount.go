package models

import "time"

// AccountStatus is the health status of a sub-account.
type AccountStatus string

const (
	AccountHealthy           AccountStatus = "healthy"
	AccountNeedsVerification AccountStatus = "needs_verification"
	AccountBanned            AccountStatus = "banned"
	AccountCooling           AccountStatus = "cooling"
)

// ActionKind is the quota bucket an action draws from.
type ActionKind string

const (
	ActionFollow ActionKind = "follow"
	ActionDM     ActionKind = "dm"
)

// SubAccount is an automation-controlled platform identity used to
// perform follow/DM actions. Invariants: daily used counters never
// exceed their limits; banned is terminal; status is cooling iff
// cooling_until is set and in the future.
type SubAccount struct {
	ID          string   `json:"id"`
	TenantID    string   `json:"tenant_id"`
	Platform    Platform `json:"platform"`
	Username    string   `json:"username"`
	TargetKOLID string   `json:"target_kol_id,omitempty"`

	Status          AccountStatus `json:"status"`
	BanReason       string        `json:"ban_reason,omitempty"`
	CoolingUntil    *time.Time    `json:"cooling_until,omitempty"`
	LastHealthCheck *time.Time    `json:"last_health_check,omitempty"`

	DailyFollowsUsed  int `json:"daily_follows_used"`
	DailyDMsUsed      int `json:"daily_dms_used"`
	DailyLimitFollows int `json:"daily_limit_follows"`
	DailyLimitDMs     int `json:"daily_limit_dms"`

	TotalFollows     int `json:"total_follows"`
	TotalDMs         int `json:"total_dms"`
	TotalConversions int `json:"total_conversions"`

	// Sealed credential blob from CSV import; never serialized.
	CredentialSealed []byte `json:"-"`

	LastGrantedAt *time.Time `json:"last_granted_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// Remaining returns the remaining daily quota for the given action kind.
func (a *SubAccount) Remaining(kind ActionKind) int {
	switch kind {
	case ActionFollow:
		return a.DailyLimitFollows - a.DailyFollowsUsed
	case ActionDM:
		return a.DailyLimitDMs - a.DailyDMsUsed
	}
	return 0
}

// AccountListFilter for listing sub-accounts
type AccountListFilter struct {
	TenantID    string
	TargetKOLID string
	Platform    Platform
	Status      AccountStatus
	Limit       int
	Offset      int
}

// ImportResult summarizes a CSV import of sub-accounts.
type ImportResult struct {
	TotalRows int      `json:"total_rows"`
	Imported  int      `json:"imported"`
	Skipped   int      `json:"skipped"`
	Errors    []string `json:"errors"`
}

// HealthCheckResult reports a health probe outcome applied to an account.
type HealthCheckResult struct {
	AccountID      string `json:"account_id"`
	PreviousStatus string `json:"previous_status"`
	CurrentStatus  string `json:"current_status"`
	Message        string `json:"message"`
}
