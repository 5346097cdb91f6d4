package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	v "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/kolgrow/kolgrow/internal/models"
	"github.com/kolgrow/kolgrow/internal/responder"
)

func (s *Server) handleListConversations(w http.ResponseWriter, r *http.Request) {
	page, limit := pageParams(r)
	filter := models.ConversationListFilter{
		TenantID:     s.tenantID(r),
		SubAccountID: r.URL.Query().Get("sub_account_id"),
		Status:       models.ConversationStatus(r.URL.Query().Get("status")),
		Limit:        limit,
		Offset:       (page - 1) * limit,
	}

	convos, total, err := s.deps.Convos.List(filter)
	if err != nil {
		s.sendErr(w, err)
		return
	}
	s.sendList(w, convos, total, page, limit)
}

// OpenConversationRequest is the request body for POST /conversations.
// Opening is idempotent per (sub_account, follower_target) pair.
type OpenConversationRequest struct {
	SubAccountID     string `json:"sub_account_id"`
	FollowerTargetID string `json:"follower_target_id"`
	Platform         string `json:"platform"`
}

func (b OpenConversationRequest) Validate() error {
	return v.ValidateStruct(&b,
		v.Field(&b.SubAccountID, v.Required),
		v.Field(&b.FollowerTargetID, v.Required),
		v.Field(&b.Platform, v.Required, v.In("x", "instagram")),
	)
}

func (s *Server) handleOpenConversation(w http.ResponseWriter, r *http.Request) {
	var req OpenConversationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := req.Validate(); err != nil {
		s.sendError(w, http.StatusBadRequest, err.Error())
		return
	}

	conv, err := s.deps.Router.Open(s.tenantID(r), req.SubAccountID, req.FollowerTargetID,
		models.Platform(req.Platform))
	if err != nil {
		s.sendErr(w, err)
		return
	}
	s.sendJSON(w, http.StatusCreated, conv)
}

func (s *Server) handleDeleteConversation(w http.ResponseWriter, r *http.Request) {
	conv := s.getConversation(w, r)
	if conv == nil {
		return
	}
	if err := s.deps.Convos.Delete(conv.ID); err != nil {
		s.sendErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) getConversation(w http.ResponseWriter, r *http.Request) *models.OutreachConversation {
	conv, err := s.deps.Convos.GetByID(chi.URLParam(r, "id"))
	if err != nil {
		s.sendErr(w, err)
		return nil
	}
	if conv == nil || conv.TenantID != s.tenantID(r) {
		s.sendError(w, http.StatusNotFound, "conversation not found")
		return nil
	}
	return conv
}

func (s *Server) handleGetConversation(w http.ResponseWriter, r *http.Request) {
	if conv := s.getConversation(w, r); conv != nil {
		s.sendJSON(w, http.StatusOK, conv)
	}
}

func (s *Server) handleListMessages(w http.ResponseWriter, r *http.Request) {
	conv := s.getConversation(w, r)
	if conv == nil {
		return
	}
	messages, err := s.deps.Convos.Messages(conv.ID)
	if err != nil {
		s.sendErr(w, err)
		return
	}
	s.sendJSON(w, http.StatusOK, messages)
}

// SendMessageRequest is the request body for POST /conversations/{id}/messages.
// sender_type selects the ingest path: follower messages run through the
// automated router, human messages require a prior claim, ai messages
// append operator-approved copy on the automated track.
type SendMessageRequest struct {
	Content    string `json:"content"`
	SenderType string `json:"sender_type"`
}

func (b SendMessageRequest) Validate() error {
	return v.ValidateStruct(&b,
		v.Field(&b.Content, v.Required, v.Length(1, 4000)),
		v.Field(&b.SenderType, v.Required, v.In("follower", "human", "ai")),
	)
}

// SendMessageResponse carries the stored message and, for follower
// messages, the automated reply verdict.
type SendMessageResponse struct {
	Conversation *models.OutreachConversation `json:"conversation"`
	Message      *models.OutreachMessage      `json:"message,omitempty"`
	Reply        *responder.Reply             `json:"reply,omitempty"`
}

func (s *Server) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	conv := s.getConversation(w, r)
	if conv == nil {
		return
	}

	var req SendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := req.Validate(); err != nil {
		s.sendError(w, http.StatusBadRequest, err.Error())
		return
	}

	var (
		reply *responder.Reply
		msg   *models.OutreachMessage
		err   error
	)
	switch models.SenderType(req.SenderType) {
	case models.SenderFollower:
		reply, err = s.deps.Router.HandleInbound(r.Context(), conv.ID, req.Content)
	case models.SenderHuman:
		msg, err = s.deps.Router.SendHuman(conv.ID, req.Content)
	case models.SenderAI:
		msg, err = s.deps.Router.SendAI(conv.ID, req.Content)
	}
	if err != nil {
		s.sendErr(w, err)
		return
	}

	updated, err := s.deps.Convos.GetByID(conv.ID)
	if err != nil {
		s.sendErr(w, err)
		return
	}
	s.sendJSON(w, http.StatusOK, SendMessageResponse{
		Conversation: updated,
		Message:      msg,
		Reply:        reply,
	})
}

// AIReplyRequest is the request body for POST /conversations/{id}/ai-reply.
// Content is optional; when empty the last inbound message is replayed.
type AIReplyRequest struct {
	Content string `json:"content"`
}

// AIReplyResponse is a dry-run reply preview. Nothing is committed.
type AIReplyResponse struct {
	Content         string  `json:"content"`
	Intent          string  `json:"intent"`
	Confidence      float64 `json:"confidence"`
	NeedsHuman      bool    `json:"needs_human"`
	ConversionScore int     `json:"conversion_score"`
}

func (s *Server) handleAIReply(w http.ResponseWriter, r *http.Request) {
	conv := s.getConversation(w, r)
	if conv == nil {
		return
	}

	var req AIReplyRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.sendError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}

	reply, score, err := s.deps.Router.Preview(r.Context(), conv.ID, req.Content)
	if err != nil {
		s.sendErr(w, err)
		return
	}
	s.sendJSON(w, http.StatusOK, AIReplyResponse{
		Content:         reply.Text,
		Intent:          string(reply.Intent),
		Confidence:      reply.Confidence,
		NeedsHuman:      reply.RequiresHuman,
		ConversionScore: score,
	})
}

// ConversationStatusRequest is the request body for PATCH /conversations/{id}/status
type ConversationStatusRequest struct {
	Status string `json:"status"`
	Reason string `json:"reason"`
}

func (b ConversationStatusRequest) Validate() error {
	return v.ValidateStruct(&b,
		v.Field(&b.Status, v.Required,
			v.In("ai_handling", "human_handling", "paused", "converted", "closed")),
	)
}

func (s *Server) handleConversationStatus(w http.ResponseWriter, r *http.Request) {
	conv := s.getConversation(w, r)
	if conv == nil {
		return
	}

	var req ConversationStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := req.Validate(); err != nil {
		s.sendError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := s.deps.Router.SetStatus(conv.ID, models.ConversationStatus(req.Status)); err != nil {
		s.sendErr(w, err)
		return
	}
	if req.Reason != "" {
		s.logger.Info("conversation status changed",
			"conversation_id", conv.ID, "status", req.Status, "reason", req.Reason)
	}

	updated, err := s.deps.Convos.GetByID(conv.ID)
	if err != nil {
		s.sendErr(w, err)
		return
	}
	s.sendJSON(w, http.StatusOK, updated)
}

// ClaimConversationRequest is the request body for POST /conversations/{id}/claim
type ClaimConversationRequest struct {
	OperatorID string `json:"operator_id"`
}

func (b ClaimConversationRequest) Validate() error {
	return v.ValidateStruct(&b,
		v.Field(&b.OperatorID, v.Required),
	)
}

func (s *Server) handleClaimConversation(w http.ResponseWriter, r *http.Request) {
	conv := s.getConversation(w, r)
	if conv == nil {
		return
	}

	var req ClaimConversationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := req.Validate(); err != nil {
		s.sendError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := s.deps.Router.Claim(conv.ID, req.OperatorID); err != nil {
		s.sendErr(w, err)
		return
	}

	updated, err := s.deps.Convos.GetByID(conv.ID)
	if err != nil {
		s.sendErr(w, err)
		return
	}
	s.sendJSON(w, http.StatusOK, updated)
}
