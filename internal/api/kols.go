package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	v "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"

	"github.com/kolgrow/kolgrow/internal/models"
	"github.com/kolgrow/kolgrow/internal/scraper"
)

// CreateKOLRequest is the request body for POST /target-kols
type CreateKOLRequest struct {
	Platform      string `json:"platform"`
	Username      string `json:"username"`
	DisplayName   string `json:"display_name"`
	ProfileURL    string `json:"profile_url"`
	Bio           string `json:"bio"`
	FollowerCount int    `json:"follower_count"`
	Niche         string `json:"niche"`
	Region        string `json:"region"`
}

func (b CreateKOLRequest) Validate() error {
	return v.ValidateStruct(&b,
		v.Field(&b.Platform, v.Required, v.In("x", "instagram")),
		v.Field(&b.Username, v.Required, v.Length(1, 128)),
		v.Field(&b.ProfileURL, is.URL),
		v.Field(&b.FollowerCount, v.Min(0)),
	)
}

// UpdateKOLRequest is the request body for PUT /target-kols/{id}
type UpdateKOLRequest struct {
	DisplayName   *string `json:"display_name"`
	ProfileURL    *string `json:"profile_url"`
	Bio           *string `json:"bio"`
	FollowerCount *int    `json:"follower_count"`
	Niche         *string `json:"niche"`
	Region        *string `json:"region"`
	Status        *string `json:"status"`
}

func (b UpdateKOLRequest) Validate() error {
	return v.ValidateStruct(&b,
		v.Field(&b.Status, v.In("active", "paused", "archived")),
		v.Field(&b.FollowerCount, v.Min(0)),
	)
}

func (s *Server) handleListKOLs(w http.ResponseWriter, r *http.Request) {
	page, limit := pageParams(r)
	filter := models.KOLListFilter{
		TenantID: s.tenantID(r),
		Platform: models.Platform(r.URL.Query().Get("platform")),
		Status:   models.KOLStatus(r.URL.Query().Get("status")),
		Limit:    limit,
		Offset:   (page - 1) * limit,
	}

	kols, total, err := s.deps.KOLs.List(filter)
	if err != nil {
		s.sendErr(w, err)
		return
	}
	s.sendList(w, kols, total, page, limit)
}

func (s *Server) handleCreateKOL(w http.ResponseWriter, r *http.Request) {
	var req CreateKOLRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := req.Validate(); err != nil {
		s.sendError(w, http.StatusBadRequest, err.Error())
		return
	}

	tenant := s.tenantID(r)
	existing, err := s.deps.KOLs.GetByUsername(tenant, models.Platform(req.Platform), req.Username)
	if err != nil {
		s.sendErr(w, err)
		return
	}
	if existing != nil {
		s.sendError(w, http.StatusConflict, "target kol already exists for this platform")
		return
	}

	kol := &models.TargetKOL{
		TenantID:      tenant,
		Platform:      models.Platform(req.Platform),
		Username:      req.Username,
		DisplayName:   req.DisplayName,
		ProfileURL:    req.ProfileURL,
		Bio:           req.Bio,
		FollowerCount: req.FollowerCount,
		Niche:         req.Niche,
		Region:        req.Region,
	}
	if err := s.deps.KOLs.Create(kol); err != nil {
		s.sendErr(w, err)
		return
	}
	s.sendJSON(w, http.StatusCreated, kol)
}

// getKOL loads a tenant-scoped KOL or writes the error response.
func (s *Server) getKOL(w http.ResponseWriter, r *http.Request) *models.TargetKOL {
	kol, err := s.deps.KOLs.GetByID(chi.URLParam(r, "id"))
	if err != nil {
		s.sendErr(w, err)
		return nil
	}
	if kol == nil || kol.TenantID != s.tenantID(r) {
		s.sendError(w, http.StatusNotFound, "target kol not found")
		return nil
	}
	return kol
}

func (s *Server) handleGetKOL(w http.ResponseWriter, r *http.Request) {
	if kol := s.getKOL(w, r); kol != nil {
		s.sendJSON(w, http.StatusOK, kol)
	}
}

func (s *Server) handleUpdateKOL(w http.ResponseWriter, r *http.Request) {
	kol := s.getKOL(w, r)
	if kol == nil {
		return
	}

	var req UpdateKOLRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := req.Validate(); err != nil {
		s.sendError(w, http.StatusBadRequest, err.Error())
		return
	}

	if req.DisplayName != nil {
		kol.DisplayName = *req.DisplayName
	}
	if req.ProfileURL != nil {
		kol.ProfileURL = *req.ProfileURL
	}
	if req.Bio != nil {
		kol.Bio = *req.Bio
	}
	if req.FollowerCount != nil {
		kol.FollowerCount = *req.FollowerCount
	}
	if req.Niche != nil {
		kol.Niche = *req.Niche
	}
	if req.Region != nil {
		kol.Region = *req.Region
	}
	if req.Status != nil {
		kol.Status = models.KOLStatus(*req.Status)
	}

	if err := s.deps.KOLs.Update(kol); err != nil {
		s.sendErr(w, err)
		return
	}
	s.sendJSON(w, http.StatusOK, kol)
}

func (s *Server) handleDeleteKOL(w http.ResponseWriter, r *http.Request) {
	kol := s.getKOL(w, r)
	if kol == nil {
		return
	}
	if err := s.deps.KOLs.Delete(kol.ID); err != nil {
		s.sendErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ScrapeFollowersRequest is the request body for POST /target-kols/{id}/scrape-followers
type ScrapeFollowersRequest struct {
	MaxFollowers int `json:"max_followers"`
}

func (b ScrapeFollowersRequest) Validate() error {
	return v.ValidateStruct(&b,
		v.Field(&b.MaxFollowers, v.Min(0), v.Max(10000)),
	)
}

// ScrapeFollowersResponse reports a completed follower scrape.
type ScrapeFollowersResponse struct {
	Result       string `json:"result"`
	CreatedCount int    `json:"created_count"`
	Message      string `json:"message"`
}

func (s *Server) handleScrapeFollowers(w http.ResponseWriter, r *http.Request) {
	kol := s.getKOL(w, r)
	if kol == nil {
		return
	}

	var req ScrapeFollowersRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.sendError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if err := req.Validate(); err != nil {
			s.sendError(w, http.StatusBadRequest, err.Error())
			return
		}
	}
	if req.MaxFollowers == 0 {
		req.MaxFollowers = 200
	}

	profiles, err := s.deps.Scraper.FetchFollowers(r.Context(), kol, req.MaxFollowers)
	if err != nil {
		s.sendError(w, http.StatusBadGateway, fmt.Sprintf("follower scrape failed: %v", err))
		return
	}

	created := 0
	for _, p := range profiles {
		exists, err := s.deps.Targets.Exists(kol.ID, p.PlatformUserID)
		if err != nil {
			s.sendErr(w, err)
			return
		}
		if exists {
			continue
		}

		score, tier := scraper.Score(p)
		target := &models.FollowerTarget{
			TenantID:       kol.TenantID,
			TargetKOLID:    kol.ID,
			Platform:       kol.Platform,
			PlatformUserID: p.PlatformUserID,
			Username:       p.Username,
			DisplayName:    p.DisplayName,
			Bio:            p.Bio,
			FollowerCount:  p.FollowerCount,
			FollowingCount: p.FollowingCount,
			PostCount:      p.PostCount,
			IsVerified:     p.IsVerified,
			IsPrivate:      p.IsPrivate,
			QualityScore:   score,
			QualityTier:    tier,
		}
		if err := s.deps.Targets.Create(target); err != nil {
			s.sendErr(w, err)
			return
		}
		created++
	}

	if err := s.deps.KOLs.MarkSynced(kol.ID, time.Now()); err != nil {
		s.sendErr(w, err)
		return
	}

	s.sendJSON(w, http.StatusOK, ScrapeFollowersResponse{
		Result:       "completed",
		CreatedCount: created,
		Message:      fmt.Sprintf("scraped %d profiles, created %d new targets", len(profiles), created),
	})
}

func (s *Server) handleKOLStats(w http.ResponseWriter, r *http.Request) {
	kol := s.getKOL(w, r)
	if kol == nil {
		return
	}
	stats, err := s.deps.KOLs.Stats(kol.ID)
	if err != nil {
		s.sendErr(w, err)
		return
	}
	s.sendJSON(w, http.StatusOK, stats)
}
