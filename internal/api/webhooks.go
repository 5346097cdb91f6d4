package api

import (
	"encoding/json"
	"net/http"

	v "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/kolgrow/kolgrow/internal/actionlog"
	"github.com/kolgrow/kolgrow/internal/models"
	"github.com/kolgrow/kolgrow/internal/responder"
)

// IncomingMessageRequest is the request body for POST /webhooks/incoming-message.
// Platform collectors deliver follower replies here; the conversation is
// opened on first contact.
type IncomingMessageRequest struct {
	Platform         string `json:"platform"`
	SubAccountID     string `json:"sub_account_id"`
	FollowerTargetID string `json:"follower_target_id"`
	Content          string `json:"content"`
}

func (b IncomingMessageRequest) Validate() error {
	return v.ValidateStruct(&b,
		v.Field(&b.Platform, v.Required, v.In("x", "instagram")),
		v.Field(&b.SubAccountID, v.Required),
		v.Field(&b.FollowerTargetID, v.Required),
		v.Field(&b.Content, v.Required, v.Length(1, 4000)),
	)
}

// IncomingMessageResponse reports how the webhook message was routed.
type IncomingMessageResponse struct {
	ConversationID string           `json:"conversation_id"`
	Status         string           `json:"status"`
	Reply          *responder.Reply `json:"reply,omitempty"`
}

func (s *Server) handleIncomingWebhook(w http.ResponseWriter, r *http.Request) {
	var req IncomingMessageRequest
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

	reply, err := s.deps.Router.HandleInbound(r.Context(), conv.ID, req.Content)
	if err != nil {
		s.sendErr(w, err)
		return
	}

	updated, err := s.deps.Convos.GetByID(conv.ID)
	if err != nil {
		s.sendErr(w, err)
		return
	}
	s.sendJSON(w, http.StatusOK, IncomingMessageResponse{
		ConversationID: conv.ID,
		Status:         string(updated.Status),
		Reply:          reply,
	})
}

// handleListActions serves GET /actions from the append-only journal.
func (s *Server) handleListActions(w http.ResponseWriter, r *http.Request) {
	if s.deps.Journal == nil {
		s.sendError(w, http.StatusNotFound, "action journal not enabled")
		return
	}

	page, limit := pageParams(r)
	entries, err := s.deps.Journal.List(actionlog.ListFilter{
		TenantID:     s.tenantID(r),
		SubAccountID: r.URL.Query().Get("sub_account_id"),
		Action:       r.URL.Query().Get("action"),
		Limit:        limit,
		Offset:       (page - 1) * limit,
	})
	if err != nil {
		s.sendErr(w, err)
		return
	}
	s.sendJSON(w, http.StatusOK, entries)
}
