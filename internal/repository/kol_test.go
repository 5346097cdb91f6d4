package repository

import (
	"testing"
	"time"

	"github.com/kolgrow/kolgrow/internal/models"
)

func TestKOLCreateAndGet(t *testing.T) {
	d := setupTestDB(t)
	repo := NewKOLRepository(d)

	kol := &models.TargetKOL{
		TenantID:      "t1",
		Platform:      models.PlatformInstagram,
		Username:      "cryptoqueen",
		DisplayName:   "Crypto Queen",
		FollowerCount: 120000,
		Niche:         "crypto",
	}
	if err := repo.Create(kol); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if kol.ID == "" {
		t.Fatal("expected ID to be assigned")
	}
	if kol.Status != models.KOLActive {
		t.Errorf("expected default status active, got %s", kol.Status)
	}

	got, err := repo.GetByID(kol.ID)
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if got == nil {
		t.Fatal("expected kol, got nil")
	}
	if got.Username != "cryptoqueen" || got.FollowerCount != 120000 {
		t.Errorf("unexpected kol: %+v", got)
	}
	if got.LastSyncedAt != nil {
		t.Error("expected nil LastSyncedAt")
	}
}

func TestKOLGetNotFound(t *testing.T) {
	d := setupTestDB(t)
	repo := NewKOLRepository(d)

	got, err := repo.GetByID("missing")
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if got != nil {
		t.Errorf("expected nil, got %+v", got)
	}
}

func TestKOLUniquePerTenant(t *testing.T) {
	d := setupTestDB(t)
	repo := NewKOLRepository(d)

	first := &models.TargetKOL{TenantID: "t1", Platform: models.PlatformX, Username: "dup"}
	if err := repo.Create(first); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	second := &models.TargetKOL{TenantID: "t1", Platform: models.PlatformX, Username: "dup"}
	if err := repo.Create(second); err == nil {
		t.Error("expected unique constraint violation")
	}

	// Same username is fine for another tenant
	other := &models.TargetKOL{TenantID: "t2", Platform: models.PlatformX, Username: "dup"}
	if err := repo.Create(other); err != nil {
		t.Errorf("cross-tenant create failed: %v", err)
	}
}

func TestKOLListPagination(t *testing.T) {
	d := setupTestDB(t)
	repo := NewKOLRepository(d)

	for i := 0; i < 5; i++ {
		seedKOL(t, d, "t1", "kol"+string(rune('a'+i)))
	}
	seedKOL(t, d, "t2", "other")

	kols, total, err := repo.List(models.KOLListFilter{TenantID: "t1", Limit: 2, Offset: 0})
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if total != 5 {
		t.Errorf("expected total 5, got %d", total)
	}
	if len(kols) != 2 {
		t.Errorf("expected 2 kols, got %d", len(kols))
	}

	kols, total, err = repo.List(models.KOLListFilter{TenantID: "t1", Limit: 2, Offset: 4})
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if total != 5 || len(kols) != 1 {
		t.Errorf("expected total 5 with 1 row, got %d with %d", total, len(kols))
	}
}

func TestKOLUpdateAndDelete(t *testing.T) {
	d := setupTestDB(t)
	repo := NewKOLRepository(d)

	kol := seedKOL(t, d, "t1", "updateme")
	kol.Status = models.KOLPaused
	kol.FollowerCount = 999
	if err := repo.Update(kol); err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	got, _ := repo.GetByID(kol.ID)
	if got.Status != models.KOLPaused || got.FollowerCount != 999 {
		t.Errorf("update not applied: %+v", got)
	}

	if err := repo.Delete(kol.ID); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if err := repo.Delete(kol.ID); err == nil {
		t.Error("expected error deleting missing kol")
	}
}

func TestKOLMarkSynced(t *testing.T) {
	d := setupTestDB(t)
	repo := NewKOLRepository(d)

	kol := seedKOL(t, d, "t1", "synced")
	at := time.Now().Truncate(time.Second)
	if err := repo.MarkSynced(kol.ID, at); err != nil {
		t.Fatalf("MarkSynced failed: %v", err)
	}

	got, _ := repo.GetByID(kol.ID)
	if got.LastSyncedAt == nil {
		t.Fatal("expected LastSyncedAt to be set")
	}
}

func TestKOLStats(t *testing.T) {
	d := setupTestDB(t)
	repo := NewKOLRepository(d)
	targetRepo := NewTargetRepository(d)

	kol := seedKOL(t, d, "t1", "statskol")
	seedSubAccount(t, d, "t1", kol.ID, "acc1")
	seedSubAccount(t, d, "t1", kol.ID, "acc2")

	for i := 0; i < 4; i++ {
		seedTarget(t, d, "t1", kol.ID, "u"+string(rune('0'+i)))
	}
	targets, _, _ := targetRepo.List(models.TargetListFilter{TenantID: "t1", TargetKOLID: kol.ID})
	now := time.Now()
	if _, err := targetRepo.TransitionStatus(targets[0].ID, models.TargetNew, models.TargetConverted, StageTimes{ConvertedAt: &now}); err != nil {
		t.Fatalf("transition failed: %v", err)
	}

	stats, err := repo.Stats(kol.ID)
	if err != nil {
		t.Fatalf("Stats failed: %v", err)
	}
	if stats.SubAccountsTotal != 2 || stats.SubAccountsHealthy != 2 {
		t.Errorf("unexpected account stats: %+v", stats)
	}
	if stats.FollowersTotal != 4 || stats.FollowersConverted != 1 {
		t.Errorf("unexpected follower stats: %+v", stats)
	}
	if stats.ConversionRate != 25 {
		t.Errorf("expected conversion rate 25, got %f", stats.ConversionRate)
	}
}
