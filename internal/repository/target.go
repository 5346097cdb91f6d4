package repository

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/kolgrow/kolgrow/internal/models"
)

type TargetRepository struct {
	db *sql.DB
}

func NewTargetRepository(db *sql.DB) *TargetRepository {
	return &TargetRepository{db: db}
}

const targetColumns = `id, tenant_id, target_kol_id, platform, platform_user_id,
	COALESCE(username, ''), COALESCE(display_name, ''), COALESCE(bio, ''),
	follower_count, following_count, post_count, is_verified, is_private,
	quality_tier, quality_score, status, assigned_sub_account_id,
	scraped_at, followed_at, follow_back_at, dm_sent_at, replied_at,
	converted_at, unfollowed_at, blocked_at, follow_timeout_at,
	created_at, updated_at`

func scanTarget(row interface {
	Scan(dest ...interface{}) error
}) (*models.FollowerTarget, error) {
	t := &models.FollowerTarget{}
	var assigned sql.NullString
	var followed, followBack, dmSent, replied, converted, unfollowed, blocked, timeout sql.NullTime

	err := row.Scan(&t.ID, &t.TenantID, &t.TargetKOLID, &t.Platform, &t.PlatformUserID,
		&t.Username, &t.DisplayName, &t.Bio,
		&t.FollowerCount, &t.FollowingCount, &t.PostCount, &t.IsVerified, &t.IsPrivate,
		&t.QualityTier, &t.QualityScore, &t.Status, &assigned,
		&t.ScrapedAt, &followed, &followBack, &dmSent, &replied,
		&converted, &unfollowed, &blocked, &timeout,
		&t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, err
	}

	t.AssignedSubAccountID = assigned.String
	t.FollowedAt = timePtr(followed)
	t.FollowBackAt = timePtr(followBack)
	t.DMSentAt = timePtr(dmSent)
	t.RepliedAt = timePtr(replied)
	t.ConvertedAt = timePtr(converted)
	t.UnfollowedAt = timePtr(unfollowed)
	t.BlockedAt = timePtr(blocked)
	t.FollowTimeoutAt = timePtr(timeout)
	return t, nil
}

// Create creates a new follower target
func (r *TargetRepository) Create(t *models.FollowerTarget) error {
	t.ID = uuid.New().String()
	t.CreatedAt = time.Now()
	t.UpdatedAt = t.CreatedAt
	if t.ScrapedAt.IsZero() {
		t.ScrapedAt = t.CreatedAt
	}
	if t.Status == "" {
		t.Status = models.TargetNew
	}
	if t.QualityTier == "" {
		t.QualityTier = models.TierMedium
	}

	_, err := r.db.Exec(`
		INSERT INTO follower_targets (id, tenant_id, target_kol_id, platform, platform_user_id,
			username, display_name, bio, follower_count, following_count, post_count,
			is_verified, is_private, quality_tier, quality_score, status,
			scraped_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.TenantID, t.TargetKOLID, t.Platform, t.PlatformUserID,
		t.Username, t.DisplayName, t.Bio, t.FollowerCount, t.FollowingCount, t.PostCount,
		t.IsVerified, t.IsPrivate, t.QualityTier, t.QualityScore, t.Status,
		t.ScrapedAt, t.CreatedAt, t.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create follower target: %w", err)
	}
	return nil
}

// Exists reports whether a scraped profile is already tracked under a KOL
func (r *TargetRepository) Exists(kolID, platformUserID string) (bool, error) {
	var n int
	err := r.db.QueryRow(`
		SELECT COUNT(*) FROM follower_targets WHERE target_kol_id = ? AND platform_user_id = ?`,
		kolID, platformUserID).Scan(&n)
	return n > 0, err
}

// GetByID returns a follower target by ID, or nil when not found
func (r *TargetRepository) GetByID(id string) (*models.FollowerTarget, error) {
	t, err := scanTarget(r.db.QueryRow(
		"SELECT "+targetColumns+" FROM follower_targets WHERE id = ?", id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return t, err
}

// List returns follower targets matching the filter plus the unpaginated total
func (r *TargetRepository) List(filter models.TargetListFilter) ([]models.FollowerTarget, int, error) {
	where := " WHERE tenant_id = ?"
	args := []interface{}{filter.TenantID}

	if filter.TargetKOLID != "" {
		where += " AND target_kol_id = ?"
		args = append(args, filter.TargetKOLID)
	}
	if filter.Status != "" {
		where += " AND status = ?"
		args = append(args, filter.Status)
	}
	if filter.QualityTier != "" {
		where += " AND quality_tier = ?"
		args = append(args, filter.QualityTier)
	}

	var total int
	if err := r.db.QueryRow("SELECT COUNT(*) FROM follower_targets"+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := "SELECT " + targetColumns + " FROM follower_targets" + where + " ORDER BY created_at DESC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d OFFSET %d", filter.Limit, filter.Offset)
	}

	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var targets []models.FollowerTarget
	for rows.Next() {
		t, err := scanTarget(rows)
		if err != nil {
			return nil, 0, err
		}
		targets = append(targets, *t)
	}
	return targets, total, rows.Err()
}

// ListEligible returns targets in the given statuses under a KOL,
// highest quality first, capped at limit.
func (r *TargetRepository) ListEligible(kolID string, statuses []models.TargetStatus, limit int) ([]models.FollowerTarget, error) {
	if len(statuses) == 0 {
		return nil, nil
	}

	query := "SELECT " + targetColumns + " FROM follower_targets WHERE target_kol_id = ? AND status IN ("
	args := []interface{}{kolID}
	for i, s := range statuses {
		if i > 0 {
			query += ", "
		}
		query += "?"
		args = append(args, s)
	}
	query += ") ORDER BY quality_score DESC, created_at ASC"
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}

	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var targets []models.FollowerTarget
	for rows.Next() {
		t, err := scanTarget(rows)
		if err != nil {
			return nil, err
		}
		targets = append(targets, *t)
	}
	return targets, rows.Err()
}

// ListFollowTimeouts returns targets still in followed state whose
// follow-back window has expired.
func (r *TargetRepository) ListFollowTimeouts(now time.Time, limit int) ([]models.FollowerTarget, error) {
	query := "SELECT " + targetColumns + ` FROM follower_targets
		WHERE status = 'followed' AND follow_timeout_at IS NOT NULL AND follow_timeout_at <= ?
		ORDER BY follow_timeout_at ASC`
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}

	rows, err := r.db.Query(query, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var targets []models.FollowerTarget
	for rows.Next() {
		t, err := scanTarget(rows)
		if err != nil {
			return nil, err
		}
		targets = append(targets, *t)
	}
	return targets, rows.Err()
}

// ListAwaitingFollowBack returns followed targets whose follow-back
// window is still open and that have an acting account to check with,
// oldest follow first.
func (r *TargetRepository) ListAwaitingFollowBack(now time.Time, limit int) ([]models.FollowerTarget, error) {
	query := "SELECT " + targetColumns + ` FROM follower_targets
		WHERE status = 'followed' AND assigned_sub_account_id IS NOT NULL
		AND (follow_timeout_at IS NULL OR follow_timeout_at > ?)
		ORDER BY followed_at ASC`
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}

	rows, err := r.db.Query(query, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var targets []models.FollowerTarget
	for rows.Next() {
		t, err := scanTarget(rows)
		if err != nil {
			return nil, err
		}
		targets = append(targets, *t)
	}
	return targets, rows.Err()
}

// StageTimes carries the stage timestamps written alongside a status change.
type StageTimes struct {
	FollowedAt      *time.Time
	FollowBackAt    *time.Time
	DMSentAt        *time.Time
	RepliedAt       *time.Time
	ConvertedAt     *time.Time
	UnfollowedAt    *time.Time
	BlockedAt       *time.Time
	FollowTimeoutAt *time.Time
}

// TransitionStatus moves a target from one funnel status to another,
// conditional on the current status still matching from. Returns false
// when the row was not in the expected state, leaving a concurrent
// winner's write intact.
func (r *TargetRepository) TransitionStatus(id string, from, to models.TargetStatus, stamps StageTimes) (bool, error) {
	query := "UPDATE follower_targets SET status = ?, updated_at = ?"
	args := []interface{}{to, time.Now()}

	set := func(col string, t *time.Time) {
		if t != nil {
			query += ", " + col + " = ?"
			args = append(args, *t)
		}
	}
	set("followed_at", stamps.FollowedAt)
	set("follow_back_at", stamps.FollowBackAt)
	set("dm_sent_at", stamps.DMSentAt)
	set("replied_at", stamps.RepliedAt)
	set("converted_at", stamps.ConvertedAt)
	set("unfollowed_at", stamps.UnfollowedAt)
	set("blocked_at", stamps.BlockedAt)
	set("follow_timeout_at", stamps.FollowTimeoutAt)

	query += " WHERE id = ? AND status = ?"
	args = append(args, id, from)

	result, err := r.db.Exec(query, args...)
	if err != nil {
		return false, err
	}
	affected, _ := result.RowsAffected()
	return affected > 0, nil
}

// AssignSubAccount records which account performed outreach on a target
func (r *TargetRepository) AssignSubAccount(id, subAccountID string) error {
	_, err := r.db.Exec(`
		UPDATE follower_targets SET assigned_sub_account_id = ?, updated_at = ?
		WHERE id = ?`, subAccountID, time.Now(), id)
	return err
}

// Update rewrites a target's profile and quality fields. Status and the
// stage timestamps are owned by the funnel tracker and left alone.
func (r *TargetRepository) Update(t *models.FollowerTarget) error {
	t.UpdatedAt = time.Now()

	result, err := r.db.Exec(`
		UPDATE follower_targets SET
			username = ?, display_name = ?, bio = ?, follower_count = ?, following_count = ?,
			post_count = ?, is_verified = ?, is_private = ?, quality_tier = ?, quality_score = ?,
			updated_at = ?
		WHERE id = ?`,
		t.Username, t.DisplayName, t.Bio, t.FollowerCount, t.FollowingCount,
		t.PostCount, t.IsVerified, t.IsPrivate, t.QualityTier, t.QualityScore,
		t.UpdatedAt, t.ID,
	)
	if err != nil {
		return err
	}
	affected, _ := result.RowsAffected()
	if affected == 0 {
		return fmt.Errorf("follower target not found")
	}
	return nil
}

// Delete removes a follower target
func (r *TargetRepository) Delete(id string) error {
	result, err := r.db.Exec("DELETE FROM follower_targets WHERE id = ?", id)
	if err != nil {
		return err
	}
	affected, _ := result.RowsAffected()
	if affected == 0 {
		return fmt.Errorf("follower target not found")
	}
	return nil
}

// FunnelStats aggregates per-stage counts. A stage counts every target
// that reached it, including those that moved further down the funnel.
func (r *TargetRepository) FunnelStats(tenantID, kolID string) (*models.FunnelStats, error) {
	where := " WHERE tenant_id = ?"
	args := []interface{}{tenantID}
	if kolID != "" {
		where += " AND target_kol_id = ?"
		args = append(args, kolID)
	}

	stats := &models.FunnelStats{}
	err := r.db.QueryRow(`
		SELECT COUNT(*),
			SUM(CASE WHEN followed_at IS NOT NULL THEN 1 ELSE 0 END),
			SUM(CASE WHEN follow_back_at IS NOT NULL THEN 1 ELSE 0 END),
			SUM(CASE WHEN dm_sent_at IS NOT NULL THEN 1 ELSE 0 END),
			SUM(CASE WHEN replied_at IS NOT NULL THEN 1 ELSE 0 END),
			SUM(CASE WHEN converted_at IS NOT NULL THEN 1 ELSE 0 END)
		FROM follower_targets`+where, args...,
	).Scan(&stats.Total, &nullInt{&stats.Followed}, &nullInt{&stats.FollowBacks},
		&nullInt{&stats.DMSent}, &nullInt{&stats.Replied}, &nullInt{&stats.Converted})
	if err != nil {
		return nil, err
	}

	if stats.Followed > 0 {
		stats.FollowBackRate = float64(stats.FollowBacks) / float64(stats.Followed) * 100
	}
	if stats.DMSent > 0 {
		stats.DMResponseRate = float64(stats.Replied) / float64(stats.DMSent) * 100
	}
	if stats.Total > 0 {
		stats.ConversionRate = float64(stats.Converted) / float64(stats.Total) * 100
	}
	return stats, nil
}
