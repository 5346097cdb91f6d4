package repository

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/kolgrow/kolgrow/internal/models"
)

type SubAccountRepository struct {
	db *sql.DB
}

func NewSubAccountRepository(db *sql.DB) *SubAccountRepository {
	return &SubAccountRepository{db: db}
}

const subAccountColumns = `id, tenant_id, platform, username, target_kol_id, status,
	COALESCE(ban_reason, ''), cooling_until, last_health_check,
	daily_follows_used, daily_dms_used, daily_limit_follows, daily_limit_dms,
	total_follows, total_dms, total_conversions, credential_sealed,
	last_granted_at, created_at, updated_at`

func scanSubAccount(row interface {
	Scan(dest ...interface{}) error
}) (*models.SubAccount, error) {
	a := &models.SubAccount{}
	var kolID sql.NullString
	var coolingUntil, lastCheck, lastGranted sql.NullTime

	err := row.Scan(&a.ID, &a.TenantID, &a.Platform, &a.Username, &kolID, &a.Status,
		&a.BanReason, &coolingUntil, &lastCheck,
		&a.DailyFollowsUsed, &a.DailyDMsUsed, &a.DailyLimitFollows, &a.DailyLimitDMs,
		&a.TotalFollows, &a.TotalDMs, &a.TotalConversions, &a.CredentialSealed,
		&lastGranted, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}

	a.TargetKOLID = kolID.String
	a.CoolingUntil = timePtr(coolingUntil)
	a.LastHealthCheck = timePtr(lastCheck)
	a.LastGrantedAt = timePtr(lastGranted)
	return a, nil
}

// Create creates a new sub-account
func (r *SubAccountRepository) Create(a *models.SubAccount) error {
	a.ID = uuid.New().String()
	a.CreatedAt = time.Now()
	a.UpdatedAt = a.CreatedAt
	if a.Status == "" {
		a.Status = models.AccountHealthy
	}

	_, err := r.db.Exec(`
		INSERT INTO sub_accounts (id, tenant_id, platform, username, target_kol_id, status,
			daily_limit_follows, daily_limit_dms, credential_sealed, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.TenantID, a.Platform, a.Username, nullString(a.TargetKOLID), a.Status,
		a.DailyLimitFollows, a.DailyLimitDMs, a.CredentialSealed, a.CreatedAt, a.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create sub-account: %w", err)
	}
	return nil
}

// GetByID returns a sub-account by ID, or nil when not found
func (r *SubAccountRepository) GetByID(id string) (*models.SubAccount, error) {
	a, err := scanSubAccount(r.db.QueryRow(
		"SELECT "+subAccountColumns+" FROM sub_accounts WHERE id = ?", id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return a, err
}

// GetByUsername returns an account by its tenant/platform/username key
func (r *SubAccountRepository) GetByUsername(tenantID string, platform models.Platform, username string) (*models.SubAccount, error) {
	a, err := scanSubAccount(r.db.QueryRow(
		"SELECT "+subAccountColumns+" FROM sub_accounts WHERE tenant_id = ? AND platform = ? AND username = ?",
		tenantID, platform, username))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return a, err
}

// List returns sub-accounts matching the filter plus the unpaginated total
func (r *SubAccountRepository) List(filter models.AccountListFilter) ([]models.SubAccount, int, error) {
	where := " WHERE tenant_id = ?"
	args := []interface{}{filter.TenantID}

	if filter.TargetKOLID != "" {
		where += " AND target_kol_id = ?"
		args = append(args, filter.TargetKOLID)
	}
	if filter.Platform != "" {
		where += " AND platform = ?"
		args = append(args, filter.Platform)
	}
	if filter.Status != "" {
		where += " AND status = ?"
		args = append(args, filter.Status)
	}

	var total int
	if err := r.db.QueryRow("SELECT COUNT(*) FROM sub_accounts"+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := "SELECT " + subAccountColumns + " FROM sub_accounts" + where + " ORDER BY created_at DESC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d OFFSET %d", filter.Limit, filter.Offset)
	}

	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var accounts []models.SubAccount
	for rows.Next() {
		a, err := scanSubAccount(rows)
		if err != nil {
			return nil, 0, err
		}
		accounts = append(accounts, *a)
	}
	return accounts, total, rows.Err()
}

// ListAvailable returns healthy accounts with remaining quota for the
// given action, least recently granted first. When kolID is empty only
// unassigned pool accounts are considered.
func (r *SubAccountRepository) ListAvailable(tenantID string, platform models.Platform, kolID string, kind models.ActionKind, now time.Time) ([]models.SubAccount, error) {
	usedCol, limitCol := "daily_follows_used", "daily_limit_follows"
	if kind == models.ActionDM {
		usedCol, limitCol = "daily_dms_used", "daily_limit_dms"
	}

	query := "SELECT " + subAccountColumns + ` FROM sub_accounts
		WHERE tenant_id = ? AND platform = ? AND status = 'healthy'
		AND (cooling_until IS NULL OR cooling_until <= ?)
		AND ` + usedCol + " < " + limitCol
	args := []interface{}{tenantID, platform, now}

	if kolID != "" {
		query += " AND target_kol_id = ?"
		args = append(args, kolID)
	} else {
		query += " AND target_kol_id IS NULL"
	}
	query += " ORDER BY last_granted_at ASC NULLS FIRST, created_at ASC"

	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var accounts []models.SubAccount
	for rows.Next() {
		a, err := scanSubAccount(rows)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, *a)
	}
	return accounts, rows.Err()
}

// ConsumeQuota atomically draws one unit from the account's daily quota
// for the given action. Returns false when the account is no longer
// healthy or its quota is exhausted.
func (r *SubAccountRepository) ConsumeQuota(id string, kind models.ActionKind, now time.Time) (bool, error) {
	usedCol, limitCol, totalCol := "daily_follows_used", "daily_limit_follows", "total_follows"
	if kind == models.ActionDM {
		usedCol, limitCol, totalCol = "daily_dms_used", "daily_limit_dms", "total_dms"
	}

	result, err := r.db.Exec(`
		UPDATE sub_accounts SET
			`+usedCol+" = "+usedCol+` + 1,
			`+totalCol+" = "+totalCol+` + 1,
			last_granted_at = ?, updated_at = ?
		WHERE id = ? AND status = 'healthy'
		AND (cooling_until IS NULL OR cooling_until <= ?)
		AND `+usedCol+" < "+limitCol,
		now, now, id, now,
	)
	if err != nil {
		return false, err
	}
	affected, _ := result.RowsAffected()
	return affected > 0, nil
}

// ReleaseQuota returns one unconsumed unit to the account's daily quota.
// Used when a granted action never executed.
func (r *SubAccountRepository) ReleaseQuota(id string, kind models.ActionKind) error {
	usedCol, totalCol := "daily_follows_used", "total_follows"
	if kind == models.ActionDM {
		usedCol, totalCol = "daily_dms_used", "total_dms"
	}

	_, err := r.db.Exec(`
		UPDATE sub_accounts SET
			`+usedCol+" = MAX("+usedCol+` - 1, 0),
			`+totalCol+" = MAX("+totalCol+` - 1, 0),
			updated_at = ?
		WHERE id = ?`,
		time.Now(), id,
	)
	return err
}

// SetStatus updates the account health status. Cooling requires until;
// banned stores the reason and is terminal.
func (r *SubAccountRepository) SetStatus(id string, status models.AccountStatus, coolingUntil *time.Time, banReason string) error {
	result, err := r.db.Exec(`
		UPDATE sub_accounts SET status = ?, cooling_until = ?, ban_reason = ?, updated_at = ?
		WHERE id = ? AND status != 'banned'`,
		status, nullTime(coolingUntil), nullString(banReason), time.Now(), id,
	)
	if err != nil {
		return err
	}
	affected, _ := result.RowsAffected()
	if affected == 0 {
		return fmt.Errorf("sub-account not found or banned")
	}
	return nil
}

// RecordHealthCheck stamps a health probe and applies its outcome
func (r *SubAccountRepository) RecordHealthCheck(id string, status models.AccountStatus, coolingUntil *time.Time, at time.Time) error {
	_, err := r.db.Exec(`
		UPDATE sub_accounts SET status = ?, cooling_until = ?, last_health_check = ?, updated_at = ?
		WHERE id = ?`,
		status, nullTime(coolingUntil), at, at, id,
	)
	return err
}

// ListExpiredCooling returns accounts whose cooling window has passed.
// The status is left untouched; a health probe decides whether each
// account rejoins the rotation.
func (r *SubAccountRepository) ListExpiredCooling(now time.Time) ([]string, error) {
	rows, err := r.db.Query(`
		SELECT id FROM sub_accounts
		WHERE status = 'cooling' AND cooling_until IS NOT NULL AND cooling_until <= ?`, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ResetDailyCounters zeroes all daily usage counters for a tenant
func (r *SubAccountRepository) ResetDailyCounters(tenantID string) (int, error) {
	result, err := r.db.Exec(`
		UPDATE sub_accounts SET daily_follows_used = 0, daily_dms_used = 0, updated_at = ?
		WHERE tenant_id = ?`,
		time.Now(), tenantID,
	)
	if err != nil {
		return 0, err
	}
	affected, _ := result.RowsAffected()
	return int(affected), nil
}

// Tenants returns every tenant that owns at least one sub-account
func (r *SubAccountRepository) Tenants() ([]string, error) {
	rows, err := r.db.Query("SELECT DISTINCT tenant_id FROM sub_accounts")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tenants []string
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, err
		}
		tenants = append(tenants, t)
	}
	return tenants, rows.Err()
}

// StatusCounts returns the number of accounts per health status
func (r *SubAccountRepository) StatusCounts() (map[models.AccountStatus]int, error) {
	rows, err := r.db.Query("SELECT status, COUNT(*) FROM sub_accounts GROUP BY status")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[models.AccountStatus]int)
	for rows.Next() {
		var status models.AccountStatus
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

// TenantStatusCounts returns per-status account counts for one tenant
func (r *SubAccountRepository) TenantStatusCounts(tenantID string) (map[models.AccountStatus]int, error) {
	rows, err := r.db.Query(
		"SELECT status, COUNT(*) FROM sub_accounts WHERE tenant_id = ? GROUP BY status", tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[models.AccountStatus]int)
	for rows.Next() {
		var status models.AccountStatus
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

// IncrementConversions bumps the lifetime conversion counter
func (r *SubAccountRepository) IncrementConversions(id string) error {
	_, err := r.db.Exec(`
		UPDATE sub_accounts SET total_conversions = total_conversions + 1, updated_at = ?
		WHERE id = ?`, time.Now(), id)
	return err
}

// Update updates mutable account settings
func (r *SubAccountRepository) Update(a *models.SubAccount) error {
	a.UpdatedAt = time.Now()

	result, err := r.db.Exec(`
		UPDATE sub_accounts SET
			target_kol_id = ?, daily_limit_follows = ?, daily_limit_dms = ?, updated_at = ?
		WHERE id = ?`,
		nullString(a.TargetKOLID), a.DailyLimitFollows, a.DailyLimitDMs, a.UpdatedAt, a.ID,
	)
	if err != nil {
		return err
	}
	affected, _ := result.RowsAffected()
	if affected == 0 {
		return fmt.Errorf("sub-account not found")
	}
	return nil
}

// Delete removes a sub-account
func (r *SubAccountRepository) Delete(id string) error {
	result, err := r.db.Exec("DELETE FROM sub_accounts WHERE id = ?", id)
	if err != nil {
		return err
	}
	affected, _ := result.RowsAffected()
	if affected == 0 {
		return fmt.Errorf("sub-account not found")
	}
	return nil
}
