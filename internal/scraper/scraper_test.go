package scraper

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/kolgrow/kolgrow/internal/models"
)

func TestFetchFollowers(t *testing.T) {
	var gotReq scrapeRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&gotReq)
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(scrapeResponse{
			Followers: []Profile{
				{PlatformUserID: "u1", Username: "alpha", FollowerCount: 500},
				{PlatformUserID: "u2", Username: "beta", FollowerCount: 20},
			},
		})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "key", 5*time.Second)
	kol := &models.TargetKOL{Platform: models.PlatformInstagram, Username: "bigshot"}

	profiles, err := c.FetchFollowers(context.Background(), kol, 100)
	if err != nil {
		t.Fatalf("FetchFollowers failed: %v", err)
	}
	if len(profiles) != 2 {
		t.Fatalf("expected 2 profiles, got %d", len(profiles))
	}
	if profiles[0].Username != "alpha" {
		t.Errorf("unexpected profile: %+v", profiles[0])
	}
	if gotReq.Platform != "instagram" || gotReq.Username != "bigshot" || gotReq.Limit != 100 {
		t.Errorf("unexpected request: %+v", gotReq)
	}
}

func TestFetchFollowersActorError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		json.NewEncoder(w).Encode(scrapeResponse{Error: "profile is private"})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "", 5*time.Second)
	kol := &models.TargetKOL{Platform: models.PlatformX, Username: "hidden"}

	if _, err := c.FetchFollowers(context.Background(), kol, 10); err == nil {
		t.Error("expected error from actor failure")
	}
}

func TestScore(t *testing.T) {
	tests := []struct {
		name     string
		profile  Profile
		want     int
		wantTier models.QualityTier
	}{
		{
			name:     "solid mid-size account",
			profile:  Profile{FollowerCount: 2000, FollowingCount: 500, PostCount: 40, Bio: "coffee and code"},
			want:     90,
			wantTier: models.TierHigh,
		},
		{
			name:     "empty profile",
			profile:  Profile{FollowerCount: 10, FollowingCount: 200, PostCount: 0},
			want:     5,
			wantTier: models.TierLow,
		},
		{
			name:     "spam bio",
			profile:  Profile{FollowerCount: 2000, FollowingCount: 500, PostCount: 40, Bio: "follow4follow DM me"},
			want:     65,
			wantTier: models.TierMedium,
		},
		{
			name:     "big account",
			profile:  Profile{FollowerCount: 50000, FollowingCount: 100, PostCount: 500, Bio: "official"},
			want:     85,
			wantTier: models.TierHigh,
		},
		{
			name:     "no bio no posts",
			profile:  Profile{FollowerCount: 500, FollowingCount: 3000, PostCount: 0},
			want:     30,
			wantTier: models.TierLow,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, tier := Score(tt.profile)
			if got != tt.want {
				t.Errorf("Score = %d, want %d", got, tt.want)
			}
			if tier != tt.wantTier {
				t.Errorf("tier = %s, want %s", tier, tt.wantTier)
			}
		})
	}
}

func TestScoreClamped(t *testing.T) {
	// Tiny follow-farm profile bottoms out at 0
	score, tier := Score(Profile{FollowerCount: 5, FollowingCount: 5000, PostCount: 0, Bio: "spam bot f4f"})
	if score != 0 {
		t.Errorf("expected clamp to 0, got %d", score)
	}
	if tier != models.TierLow {
		t.Errorf("expected low tier, got %s", tier)
	}
}
