package repository

import (
	"database/sql"
	"testing"

	"github.com/kolgrow/kolgrow/internal/db"
	"github.com/kolgrow/kolgrow/internal/models"
)

// setupTestDB creates an in-memory SQLite database with all migrations applied
func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()

	d, err := db.New(":memory:")
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	t.Cleanup(func() { d.Close() })

	if err := d.Migrate(); err != nil {
		t.Fatalf("failed to migrate test database: %v", err)
	}
	return d.DB
}

// seedKOL inserts a KOL and returns it
func seedKOL(t *testing.T, d *sql.DB, tenantID, username string) *models.TargetKOL {
	t.Helper()

	repo := NewKOLRepository(d)
	kol := &models.TargetKOL{
		TenantID: tenantID,
		Platform: models.PlatformX,
		Username: username,
		Niche:    "crypto",
	}
	if err := repo.Create(kol); err != nil {
		t.Fatalf("failed to seed kol: %v", err)
	}
	return kol
}

// seedSubAccount inserts a healthy sub-account under a KOL
func seedSubAccount(t *testing.T, d *sql.DB, tenantID, kolID, username string) *models.SubAccount {
	t.Helper()

	repo := NewSubAccountRepository(d)
	a := &models.SubAccount{
		TenantID:          tenantID,
		Platform:          models.PlatformX,
		Username:          username,
		TargetKOLID:       kolID,
		DailyLimitFollows: 50,
		DailyLimitDMs:     30,
	}
	if err := repo.Create(a); err != nil {
		t.Fatalf("failed to seed sub-account: %v", err)
	}
	return a
}

// seedTarget inserts a follower target under a KOL
func seedTarget(t *testing.T, d *sql.DB, tenantID, kolID, platformUserID string) *models.FollowerTarget {
	t.Helper()

	repo := NewTargetRepository(d)
	ft := &models.FollowerTarget{
		TenantID:       tenantID,
		TargetKOLID:    kolID,
		Platform:       models.PlatformX,
		PlatformUserID: platformUserID,
		Username:       "user_" + platformUserID,
		QualityScore:   50,
	}
	if err := repo.Create(ft); err != nil {
		t.Fatalf("failed to seed follower target: %v", err)
	}
	return ft
}
