package repository

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mattn/go-sqlite3"

	"github.com/kolgrow/kolgrow/internal/models"
	"github.com/kolgrow/kolgrow/internal/oerr"
)

type KOLRepository struct {
	db *sql.DB
}

func NewKOLRepository(db *sql.DB) *KOLRepository {
	return &KOLRepository{db: db}
}

// Create creates a new target KOL
func (r *KOLRepository) Create(kol *models.TargetKOL) error {
	kol.ID = uuid.New().String()
	kol.CreatedAt = time.Now()
	kol.UpdatedAt = kol.CreatedAt
	if kol.Status == "" {
		kol.Status = models.KOLActive
	}

	_, err := r.db.Exec(`
		INSERT INTO target_kols (id, tenant_id, platform, username, display_name, profile_url, bio,
			follower_count, niche, region, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		kol.ID, kol.TenantID, kol.Platform, kol.Username, kol.DisplayName, kol.ProfileURL, kol.Bio,
		kol.FollowerCount, kol.Niche, kol.Region, kol.Status, kol.CreatedAt, kol.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create target kol: %w", err)
	}
	return nil
}

// GetByID returns a target KOL by ID, or nil when not found
func (r *KOLRepository) GetByID(id string) (*models.TargetKOL, error) {
	kol := &models.TargetKOL{}
	var lastSynced sql.NullTime

	err := r.db.QueryRow(`
		SELECT id, tenant_id, platform, username, COALESCE(display_name, ''), COALESCE(profile_url, ''),
			COALESCE(bio, ''), follower_count, COALESCE(niche, ''), COALESCE(region, ''), status,
			last_synced_at, created_at, updated_at
		FROM target_kols WHERE id = ?`, id,
	).Scan(&kol.ID, &kol.TenantID, &kol.Platform, &kol.Username, &kol.DisplayName, &kol.ProfileURL,
		&kol.Bio, &kol.FollowerCount, &kol.Niche, &kol.Region, &kol.Status,
		&lastSynced, &kol.CreatedAt, &kol.UpdatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	kol.LastSyncedAt = timePtr(lastSynced)
	return kol, nil
}

// GetByUsername returns a KOL by its tenant/platform/username key
func (r *KOLRepository) GetByUsername(tenantID string, platform models.Platform, username string) (*models.TargetKOL, error) {
	var id string
	err := r.db.QueryRow(`
		SELECT id FROM target_kols WHERE tenant_id = ? AND platform = ? AND username = ?`,
		tenantID, platform, username,
	).Scan(&id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return r.GetByID(id)
}

// List returns KOLs matching the filter plus the unpaginated total
func (r *KOLRepository) List(filter models.KOLListFilter) ([]models.TargetKOL, int, error) {
	where := " WHERE tenant_id = ?"
	args := []interface{}{filter.TenantID}

	if filter.Platform != "" {
		where += " AND platform = ?"
		args = append(args, filter.Platform)
	}
	if filter.Status != "" {
		where += " AND status = ?"
		args = append(args, filter.Status)
	}

	var total int
	if err := r.db.QueryRow("SELECT COUNT(*) FROM target_kols"+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `
		SELECT id, tenant_id, platform, username, COALESCE(display_name, ''), COALESCE(profile_url, ''),
			COALESCE(bio, ''), follower_count, COALESCE(niche, ''), COALESCE(region, ''), status,
			last_synced_at, created_at, updated_at
		FROM target_kols` + where + " ORDER BY created_at DESC"

	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d OFFSET %d", filter.Limit, filter.Offset)
	}

	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var kols []models.TargetKOL
	for rows.Next() {
		var kol models.TargetKOL
		var lastSynced sql.NullTime
		if err := rows.Scan(&kol.ID, &kol.TenantID, &kol.Platform, &kol.Username, &kol.DisplayName,
			&kol.ProfileURL, &kol.Bio, &kol.FollowerCount, &kol.Niche, &kol.Region, &kol.Status,
			&lastSynced, &kol.CreatedAt, &kol.UpdatedAt); err != nil {
			return nil, 0, err
		}
		kol.LastSyncedAt = timePtr(lastSynced)
		kols = append(kols, kol)
	}
	return kols, total, rows.Err()
}

// Update updates mutable KOL fields
func (r *KOLRepository) Update(kol *models.TargetKOL) error {
	kol.UpdatedAt = time.Now()

	result, err := r.db.Exec(`
		UPDATE target_kols SET
			display_name = ?, profile_url = ?, bio = ?, follower_count = ?,
			niche = ?, region = ?, status = ?, last_synced_at = ?, updated_at = ?
		WHERE id = ?`,
		kol.DisplayName, kol.ProfileURL, kol.Bio, kol.FollowerCount,
		kol.Niche, kol.Region, kol.Status, nullTime(kol.LastSyncedAt), kol.UpdatedAt, kol.ID,
	)
	if err != nil {
		return err
	}

	affected, _ := result.RowsAffected()
	if affected == 0 {
		return fmt.Errorf("target kol not found")
	}
	return nil
}

// MarkSynced stamps a completed follower scrape
func (r *KOLRepository) MarkSynced(id string, at time.Time) error {
	_, err := r.db.Exec(`
		UPDATE target_kols SET last_synced_at = ?, updated_at = ? WHERE id = ?`,
		at, time.Now(), id)
	return err
}

// Delete removes a KOL. A KOL still referenced by sub-accounts,
// follower targets, or tasks cannot be deleted.
func (r *KOLRepository) Delete(id string) error {
	result, err := r.db.Exec("DELETE FROM target_kols WHERE id = ?", id)
	if err != nil {
		var se sqlite3.Error
		if errors.As(err, &se) && se.ExtendedCode == sqlite3.ErrConstraintForeignKey {
			return oerr.Wrap(oerr.KindConflict, err,
				"target kol is still referenced by sub-accounts, follower targets, or tasks")
		}
		return err
	}
	affected, _ := result.RowsAffected()
	if affected == 0 {
		return fmt.Errorf("target kol not found")
	}
	return nil
}

// Stats returns the per-KOL rollup across sub-accounts and follower targets
func (r *KOLRepository) Stats(id string) (*models.KOLStats, error) {
	stats := &models.KOLStats{}

	err := r.db.QueryRow(`
		SELECT COUNT(*), SUM(CASE WHEN status = 'healthy' THEN 1 ELSE 0 END)
		FROM sub_accounts WHERE target_kol_id = ?`, id,
	).Scan(&stats.SubAccountsTotal, &nullInt{&stats.SubAccountsHealthy})
	if err != nil {
		return nil, err
	}

	err = r.db.QueryRow(`
		SELECT COUNT(*), SUM(CASE WHEN status = 'converted' THEN 1 ELSE 0 END)
		FROM follower_targets WHERE target_kol_id = ?`, id,
	).Scan(&stats.FollowersTotal, &nullInt{&stats.FollowersConverted})
	if err != nil {
		return nil, err
	}

	if stats.FollowersTotal > 0 {
		stats.ConversionRate = float64(stats.FollowersConverted) / float64(stats.FollowersTotal) * 100
	}
	return stats, nil
}

// Counts returns total and active KOL counts for a tenant
func (r *KOLRepository) Counts(tenantID string) (total, active int, err error) {
	err = r.db.QueryRow(`
		SELECT COUNT(*), SUM(CASE WHEN status = 'active' THEN 1 ELSE 0 END)
		FROM target_kols WHERE tenant_id = ?`, tenantID,
	).Scan(&total, &nullInt{&active})
	return total, active, err
}

// nullInt scans a nullable SUM() result into an int, treating NULL as 0.
type nullInt struct {
	dst *int
}

func (n *nullInt) Scan(src interface{}) error {
	if src == nil {
		*n.dst = 0
		return nil
	}
	switch v := src.(type) {
	case int64:
		*n.dst = int(v)
	case float64:
		*n.dst = int(v)
	}
	return nil
}
