package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	v "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/kolgrow/kolgrow/internal/models"
	"github.com/kolgrow/kolgrow/internal/scraper"
)

// CreateTargetRequest is the request body for POST /follower-targets.
// Manual creation covers prospects found outside the scrape flow.
type CreateTargetRequest struct {
	TargetKOLID    string `json:"target_kol_id"`
	PlatformUserID string `json:"platform_user_id"`
	Username       string `json:"username"`
	DisplayName    string `json:"display_name"`
	Bio            string `json:"bio"`
	FollowerCount  int    `json:"follower_count"`
	FollowingCount int    `json:"following_count"`
	PostCount      int    `json:"post_count"`
	IsVerified     bool   `json:"is_verified"`
	IsPrivate      bool   `json:"is_private"`
}

func (b CreateTargetRequest) Validate() error {
	return v.ValidateStruct(&b,
		v.Field(&b.TargetKOLID, v.Required),
		v.Field(&b.PlatformUserID, v.Required),
		v.Field(&b.Username, v.Required, v.Length(1, 128)),
		v.Field(&b.FollowerCount, v.Min(0)),
		v.Field(&b.FollowingCount, v.Min(0)),
		v.Field(&b.PostCount, v.Min(0)),
	)
}

// UpdateTargetRequest is the request body for PUT /follower-targets/{id}.
// Funnel status is not editable here; the tracker owns it.
type UpdateTargetRequest struct {
	Username      *string `json:"username"`
	DisplayName   *string `json:"display_name"`
	Bio           *string `json:"bio"`
	FollowerCount *int    `json:"follower_count"`
	QualityTier   *string `json:"quality_tier"`
	QualityScore  *int    `json:"quality_score"`
}

func (b UpdateTargetRequest) Validate() error {
	return v.ValidateStruct(&b,
		v.Field(&b.QualityTier, v.In("high", "medium", "low")),
		v.Field(&b.QualityScore, v.Min(0), v.Max(100)),
		v.Field(&b.FollowerCount, v.Min(0)),
	)
}

func (s *Server) handleListTargets(w http.ResponseWriter, r *http.Request) {
	page, limit := pageParams(r)
	filter := models.TargetListFilter{
		TenantID:    s.tenantID(r),
		TargetKOLID: r.URL.Query().Get("target_kol_id"),
		Status:      models.TargetStatus(r.URL.Query().Get("status")),
		QualityTier: models.QualityTier(r.URL.Query().Get("quality_tier")),
		Limit:       limit,
		Offset:      (page - 1) * limit,
	}

	targets, total, err := s.deps.Targets.List(filter)
	if err != nil {
		s.sendErr(w, err)
		return
	}
	s.sendList(w, targets, total, page, limit)
}

func (s *Server) handleCreateTarget(w http.ResponseWriter, r *http.Request) {
	var req CreateTargetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := req.Validate(); err != nil {
		s.sendError(w, http.StatusBadRequest, err.Error())
		return
	}

	kol, err := s.deps.KOLs.GetByID(req.TargetKOLID)
	if err != nil {
		s.sendErr(w, err)
		return
	}
	if kol == nil || kol.TenantID != s.tenantID(r) {
		s.sendError(w, http.StatusNotFound, "target kol not found")
		return
	}

	exists, err := s.deps.Targets.Exists(kol.ID, req.PlatformUserID)
	if err != nil {
		s.sendErr(w, err)
		return
	}
	if exists {
		s.sendError(w, http.StatusConflict, "follower target already tracked for this kol")
		return
	}

	score, tier := scraper.Score(scraper.Profile{
		PlatformUserID: req.PlatformUserID,
		Username:       req.Username,
		Bio:            req.Bio,
		FollowerCount:  req.FollowerCount,
		FollowingCount: req.FollowingCount,
		PostCount:      req.PostCount,
		IsVerified:     req.IsVerified,
		IsPrivate:      req.IsPrivate,
	})
	target := &models.FollowerTarget{
		TenantID:       kol.TenantID,
		TargetKOLID:    kol.ID,
		Platform:       kol.Platform,
		PlatformUserID: req.PlatformUserID,
		Username:       req.Username,
		DisplayName:    req.DisplayName,
		Bio:            req.Bio,
		FollowerCount:  req.FollowerCount,
		FollowingCount: req.FollowingCount,
		PostCount:      req.PostCount,
		IsVerified:     req.IsVerified,
		IsPrivate:      req.IsPrivate,
		QualityScore:   score,
		QualityTier:    tier,
	}
	if err := s.deps.Targets.Create(target); err != nil {
		s.sendErr(w, err)
		return
	}
	s.sendJSON(w, http.StatusCreated, target)
}

func (s *Server) getTarget(w http.ResponseWriter, r *http.Request) *models.FollowerTarget {
	target, err := s.deps.Targets.GetByID(chi.URLParam(r, "id"))
	if err != nil {
		s.sendErr(w, err)
		return nil
	}
	if target == nil || target.TenantID != s.tenantID(r) {
		s.sendError(w, http.StatusNotFound, "follower target not found")
		return nil
	}
	return target
}

func (s *Server) handleGetTarget(w http.ResponseWriter, r *http.Request) {
	if target := s.getTarget(w, r); target != nil {
		s.sendJSON(w, http.StatusOK, target)
	}
}

func (s *Server) handleUpdateTarget(w http.ResponseWriter, r *http.Request) {
	target := s.getTarget(w, r)
	if target == nil {
		return
	}

	var req UpdateTargetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := req.Validate(); err != nil {
		s.sendError(w, http.StatusBadRequest, err.Error())
		return
	}

	if req.Username != nil {
		target.Username = *req.Username
	}
	if req.DisplayName != nil {
		target.DisplayName = *req.DisplayName
	}
	if req.Bio != nil {
		target.Bio = *req.Bio
	}
	if req.FollowerCount != nil {
		target.FollowerCount = *req.FollowerCount
	}
	if req.QualityTier != nil {
		target.QualityTier = models.QualityTier(*req.QualityTier)
	}
	if req.QualityScore != nil {
		target.QualityScore = *req.QualityScore
	}

	if err := s.deps.Targets.Update(target); err != nil {
		s.sendErr(w, err)
		return
	}
	s.sendJSON(w, http.StatusOK, target)
}

func (s *Server) handleDeleteTarget(w http.ResponseWriter, r *http.Request) {
	target := s.getTarget(w, r)
	if target == nil {
		return
	}
	if err := s.deps.Targets.Delete(target.ID); err != nil {
		s.sendErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleFunnelStats serves GET /follower-targets/funnel-stats, optionally
// scoped to one KOL via ?target_kol_id=.
func (s *Server) handleFunnelStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.deps.Targets.FunnelStats(s.tenantID(r), r.URL.Query().Get("target_kol_id"))
	if err != nil {
		s.sendErr(w, err)
		return
	}
	s.sendJSON(w, http.StatusOK, stats)
}
