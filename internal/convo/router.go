// Package convo routes inbound follower replies between the automated
// responder and human operators, and owns the conversation state
// machine.
package convo

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/kolgrow/kolgrow/internal/config"
	"github.com/kolgrow/kolgrow/internal/funnel"
	"github.com/kolgrow/kolgrow/internal/metrics"
	"github.com/kolgrow/kolgrow/internal/models"
	"github.com/kolgrow/kolgrow/internal/oerr"
	"github.com/kolgrow/kolgrow/internal/repository"
	"github.com/kolgrow/kolgrow/internal/responder"
)

const (
	historyWindow = 20
	sweepEvery    = time.Minute
)

type Router struct {
	convos   *repository.ConversationRepository
	accounts *repository.SubAccountRepository
	targets  *repository.TargetRepository
	kols     *repository.KOLRepository
	tracker  *funnel.Tracker
	resp     responder.Responder
	cfg      config.ConversationConfig
	logger   *slog.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewRouter(
	convos *repository.ConversationRepository,
	accounts *repository.SubAccountRepository,
	targets *repository.TargetRepository,
	kols *repository.KOLRepository,
	tracker *funnel.Tracker,
	resp responder.Responder,
	cfg config.ConversationConfig,
	logger *slog.Logger,
) *Router {
	return &Router{
		convos:   convos,
		accounts: accounts,
		targets:  targets,
		kols:     kols,
		tracker:  tracker,
		resp:     resp,
		cfg:      cfg,
		logger:   logger.With("component", "convo"),
	}
}

// Open returns the conversation between a sub-account and a follower
// target, creating it in ai_handling if it does not exist yet.
func (r *Router) Open(tenantID, subAccountID, targetID string, p models.Platform) (*models.OutreachConversation, error) {
	conv, err := r.convos.GetByPair(subAccountID, targetID)
	if err != nil {
		return nil, err
	}
	if conv != nil {
		return conv, nil
	}

	conv = &models.OutreachConversation{
		TenantID:         tenantID,
		SubAccountID:     subAccountID,
		FollowerTargetID: targetID,
		Platform:         p,
		Status:           models.ConvAIHandling,
	}
	if err := r.convos.Create(conv); err != nil {
		return nil, err
	}
	return conv, nil
}

// HandleInbound processes one follower message. While the conversation
// is ai_handling, the automated responder produces the reply; in every
// other non-terminal state the message is stored for the operator.
// The returned reply is nil when no automated response was sent.
func (r *Router) HandleInbound(ctx context.Context, conversationID, content string) (*responder.Reply, error) {
	conv, err := r.convos.GetByID(conversationID)
	if err != nil {
		return nil, err
	}
	if conv == nil {
		return nil, oerr.New(oerr.KindNotFound, "conversation %s not found", conversationID)
	}
	if models.TerminalConversation(conv.Status) {
		return nil, oerr.New(oerr.KindInvalidTransition,
			"conversation %s is %s and accepts no further messages", conversationID, conv.Status)
	}

	// A reply means the target reached at least the replied stage.
	r.syncFunnel(conv.FollowerTargetID, models.TargetReplied)

	if conv.Status != models.ConvAIHandling {
		intent, confidence := responder.DetectIntent(content)
		if err := r.appendInbound(conv.ID, content, string(intent), confidence); err != nil {
			return nil, err
		}
		metrics.IncMessageRouted(string(intent))
		return nil, nil
	}

	history, err := r.convos.RecentMessages(conv.ID, historyWindow)
	if err != nil {
		return nil, err
	}

	reply, err := r.respond(ctx, &responder.Request{
		Conversation: conv,
		History:      history,
		Incoming:     content,
		Vars:         r.templateVars(conv),
	})
	if err != nil {
		// Store the message and park the conversation for a human
		// rather than dropping the follower's reply.
		if aErr := r.appendInbound(conv.ID, content, "", 0); aErr != nil {
			return nil, aErr
		}
		if hErr := r.convos.MarkNeedsHuman(conv.ID, "automated responder unavailable"); hErr != nil {
			return nil, hErr
		}
		metrics.IncHumanHandoff("responder_failure")
		r.logger.Error("responder failed, conversation handed off",
			"conversation_id", conv.ID, "error", err)
		return nil, nil
	}

	if err := r.appendInbound(conv.ID, content, string(reply.Intent), reply.Confidence); err != nil {
		return nil, err
	}
	metrics.IncMessageRouted(string(reply.Intent))

	// A handoff never commits an automated reply; the suggested text
	// rides back to the caller for the operator to use or discard.
	if reply.ShouldRespond && reply.Text != "" && !reply.RequiresHuman {
		if err := r.convos.AppendMessage(&models.OutreachMessage{
			ConversationID: conv.ID,
			Direction:      models.DirectionOutbound,
			SenderType:     models.SenderAI,
			Content:        reply.Text,
			AIIntent:       string(reply.Intent),
			AIConfidence:   reply.Confidence,
		}); err != nil {
			return nil, err
		}
	}

	score := clampScore(conv.ConversionScore + reply.ScoreDelta)
	if score != conv.ConversionScore {
		if err := r.convos.SetConversionScore(conv.ID, score); err != nil {
			return nil, err
		}
	}

	if reply.RequiresHuman {
		if err := r.convos.MarkNeedsHuman(conv.ID, reply.HandoffReason); err != nil {
			return nil, err
		}
		metrics.IncHumanHandoff(reply.HandoffReason)
		r.logger.Info("conversation handed off",
			"conversation_id", conv.ID, "reason", reply.HandoffReason)
		return reply, nil
	}

	if score >= r.cfg.ConversionThreshold {
		if err := r.convert(conv); err != nil {
			return nil, err
		}
	}
	return reply, nil
}

func (r *Router) respond(ctx context.Context, req *responder.Request) (*responder.Reply, error) {
	attempts := r.cfg.ResponderRetries
	if attempts < 1 {
		attempts = 1
	}
	var lastErr error
	for i := 0; i < attempts; i++ {
		reply, err := r.resp.Respond(ctx, req)
		if err == nil {
			return reply, nil
		}
		lastErr = err
	}
	return nil, oerr.Wrap(oerr.KindCollaboratorFailure, lastErr, "responder failed after %d attempts", attempts)
}

// Preview runs the responder against the conversation without
// committing a message or touching any state. When content is empty
// the last inbound message is replayed. The returned score is what the
// conversion score would become.
func (r *Router) Preview(ctx context.Context, conversationID, content string) (*responder.Reply, int, error) {
	conv, err := r.convos.GetByID(conversationID)
	if err != nil {
		return nil, 0, err
	}
	if conv == nil {
		return nil, 0, oerr.New(oerr.KindNotFound, "conversation %s not found", conversationID)
	}

	history, err := r.convos.RecentMessages(conv.ID, historyWindow)
	if err != nil {
		return nil, 0, err
	}
	if content == "" {
		for i := len(history) - 1; i >= 0; i-- {
			if history[i].Direction == models.DirectionInbound {
				content = history[i].Content
				// The replayed message must not count toward its own
				// history.
				history = history[:i]
				break
			}
		}
	}
	if content == "" {
		return nil, 0, oerr.New(oerr.KindValidation, "conversation %s has no inbound message to reply to", conversationID)
	}

	reply, err := r.respond(ctx, &responder.Request{
		Conversation: conv,
		History:      history,
		Incoming:     content,
		Vars:         r.templateVars(conv),
	})
	if err != nil {
		return nil, 0, err
	}
	return reply, clampScore(conv.ConversionScore + reply.ScoreDelta), nil
}

// SendAI appends an AI-authored outbound message without running the
// responder, for operator-triggered sends of reviewed copy.
func (r *Router) SendAI(conversationID, content string) (*models.OutreachMessage, error) {
	conv, err := r.convos.GetByID(conversationID)
	if err != nil {
		return nil, err
	}
	if conv == nil {
		return nil, oerr.New(oerr.KindNotFound, "conversation %s not found", conversationID)
	}
	if conv.Status != models.ConvAIHandling {
		return nil, oerr.New(oerr.KindInvalidTransition,
			"conversation %s is %s, automated sends need ai_handling", conversationID, conv.Status)
	}

	m := &models.OutreachMessage{
		ConversationID: conv.ID,
		Direction:      models.DirectionOutbound,
		SenderType:     models.SenderAI,
		Content:        content,
	}
	if err := r.convos.AppendMessage(m); err != nil {
		return nil, err
	}
	return m, nil
}

// Claim moves a needs_human conversation to the claiming operator.
func (r *Router) Claim(conversationID, operatorID string) error {
	ok, err := r.convos.ClaimHuman(conversationID, operatorID, time.Now())
	if err != nil {
		return err
	}
	if !ok {
		conv, gErr := r.convos.GetByID(conversationID)
		if gErr != nil {
			return gErr
		}
		if conv == nil {
			return oerr.New(oerr.KindNotFound, "conversation %s not found", conversationID)
		}
		return oerr.New(oerr.KindInvalidTransition,
			"conversation %s is %s, only needs_human can be claimed", conversationID, conv.Status)
	}
	return nil
}

// SendHuman appends an operator-authored outbound message.
func (r *Router) SendHuman(conversationID, content string) (*models.OutreachMessage, error) {
	conv, err := r.convos.GetByID(conversationID)
	if err != nil {
		return nil, err
	}
	if conv == nil {
		return nil, oerr.New(oerr.KindNotFound, "conversation %s not found", conversationID)
	}
	if conv.Status != models.ConvHumanHandling {
		return nil, oerr.New(oerr.KindInvalidTransition,
			"conversation %s is %s, claim it before sending", conversationID, conv.Status)
	}

	m := &models.OutreachMessage{
		ConversationID: conv.ID,
		Direction:      models.DirectionOutbound,
		SenderType:     models.SenderHuman,
		Content:        content,
	}
	if err := r.convos.AppendMessage(m); err != nil {
		return nil, err
	}
	return m, nil
}

// SetStatus applies a manual status change, validated against the
// conversation state machine. Converting goes through the full
// conversion flow so the funnel stays in sync.
func (r *Router) SetStatus(conversationID string, to models.ConversationStatus) error {
	conv, err := r.convos.GetByID(conversationID)
	if err != nil {
		return err
	}
	if conv == nil {
		return oerr.New(oerr.KindNotFound, "conversation %s not found", conversationID)
	}
	if conv.Status == to {
		return nil
	}
	if !validManual(conv.Status, to) {
		return oerr.New(oerr.KindInvalidTransition,
			"conversation %s cannot move from %s to %s", conversationID, conv.Status, to)
	}
	if to == models.ConvConverted {
		return r.convert(conv)
	}
	return r.convos.SetStatus(conversationID, to)
}

// validManual lists the operator-reachable edges. closed and converted
// are reachable from any live state; paused and ai_handling swap back
// and forth; queued or claimed conversations can be returned to the AI.
func validManual(from, to models.ConversationStatus) bool {
	if models.TerminalConversation(from) {
		return false
	}
	switch to {
	case models.ConvClosed, models.ConvConverted:
		return true
	case models.ConvPaused:
		return from == models.ConvAIHandling
	case models.ConvAIHandling:
		return from == models.ConvPaused || from == models.ConvNeedsHuman || from == models.ConvHumanHandling
	case models.ConvHumanHandling:
		return from == models.ConvNeedsHuman
	}
	return false
}

// convert finalizes the conversation and pushes the linked target to
// converted. A failed funnel write leaves the conversation converted
// with the sync flagged pending for the retry sweep.
func (r *Router) convert(conv *models.OutreachConversation) error {
	// Pull a dm_sent target through replied first so the converted
	// edge is reachable.
	r.syncFunnel(conv.FollowerTargetID, models.TargetReplied)

	synced := true
	if err := r.tracker.Apply(conv.FollowerTargetID, models.TargetConverted, funnel.Options{}); err != nil {
		synced = false
		r.logger.Warn("funnel conversion pending retry",
			"conversation_id", conv.ID,
			"target_id", conv.FollowerTargetID,
			"error", err)
	}
	if err := r.convos.MarkConverted(conv.ID, synced); err != nil {
		return err
	}
	if err := r.accounts.IncrementConversions(conv.SubAccountID); err != nil {
		r.logger.Error("failed to bump account conversions",
			"sub_account_id", conv.SubAccountID, "error", err)
	}
	metrics.IncConversions()
	r.logger.Info("conversation converted", "conversation_id", conv.ID, "funnel_synced", synced)
	return nil
}

// syncFunnel applies a best-effort funnel transition. A target already
// past the stage makes the edge invalid, which is fine here.
func (r *Router) syncFunnel(targetID string, to models.TargetStatus) {
	err := r.tracker.Apply(targetID, to, funnel.Options{})
	if err != nil && !oerr.IsKind(err, oerr.KindInvalidTransition) {
		r.logger.Warn("funnel sync failed", "target_id", targetID, "to", to, "error", err)
	}
}

// templateVars fills the reply-copy placeholders from the linked target
// and its KOL. Missing rows just leave placeholders empty.
func (r *Router) templateVars(conv *models.OutreachConversation) map[string]string {
	vars := map[string]string{}
	if r.cfg.InviteLink != "" {
		vars["invite_link"] = r.cfg.InviteLink
	}

	target, err := r.targets.GetByID(conv.FollowerTargetID)
	if err != nil || target == nil {
		return vars
	}
	name := target.DisplayName
	if name == "" {
		name = target.Username
	}
	vars["username"] = name

	kol, err := r.kols.GetByID(target.TargetKOLID)
	if err != nil || kol == nil {
		return vars
	}
	kolName := kol.DisplayName
	if kolName == "" {
		kolName = kol.Username
	}
	vars["kol_name"] = kolName
	vars["niche"] = kol.Niche
	return vars
}

func (r *Router) appendInbound(conversationID, content, intent string, confidence float64) error {
	return r.convos.AppendMessage(&models.OutreachMessage{
		ConversationID: conversationID,
		Direction:      models.DirectionInbound,
		SenderType:     models.SenderFollower,
		Content:        content,
		AIIntent:       intent,
		AIConfidence:   confidence,
	})
}

// Start launches the background sweeps: closing conversations idle past
// the configured window and retrying pending funnel conversions.
func (r *Router) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	r.cancel = cancel

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ticker := time.NewTicker(sweepEvery)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				r.CloseInactive()
				r.RetryFunnelSync()
			}
		}
	}()
	r.logger.Info("conversation router started", "inactivity_close", r.cfg.InactivityClose)
}

func (r *Router) Stop() {
	if r.cancel != nil {
		r.cancel()
	}
	r.wg.Wait()
}

// CloseInactive closes live conversations whose last message is older
// than the configured inactivity window. Returns how many were closed.
func (r *Router) CloseInactive() int {
	if r.cfg.InactivityClose <= 0 {
		return 0
	}
	stale, err := r.convos.ListInactive(time.Now().Add(-r.cfg.InactivityClose))
	if err != nil {
		r.logger.Error("inactivity sweep failed", "error", err)
		return 0
	}

	closed := 0
	for i := range stale {
		if err := r.convos.SetStatus(stale[i].ID, models.ConvClosed); err != nil {
			r.logger.Warn("failed to close inactive conversation",
				"conversation_id", stale[i].ID, "error", err)
			continue
		}
		closed++
	}
	if closed > 0 {
		r.logger.Info("inactive conversations closed", "count", closed)
	}
	return closed
}

// RetryFunnelSync re-applies funnel conversions that failed when their
// conversation converted. Returns how many landed.
func (r *Router) RetryFunnelSync() int {
	pending, err := r.convos.ListFunnelSyncPending()
	if err != nil {
		r.logger.Error("funnel sync sweep failed", "error", err)
		return 0
	}

	synced := 0
	for i := range pending {
		conv := pending[i]
		r.syncFunnel(conv.FollowerTargetID, models.TargetReplied)
		err := r.tracker.Apply(conv.FollowerTargetID, models.TargetConverted, funnel.Options{})
		if err != nil {
			if !oerr.IsKind(err, oerr.KindInvalidTransition) {
				r.logger.Warn("funnel conversion retry failed",
					"conversation_id", conv.ID, "error", err)
				continue
			}
			// Invalid can mean the target got there some other way, or
			// that converted is unreachable from its stage. Settle the
			// sync only when the target actually reads converted.
			target, gErr := r.targets.GetByID(conv.FollowerTargetID)
			if gErr != nil || target == nil || target.Status != models.TargetConverted {
				r.logger.Warn("funnel conversion still out of sync",
					"conversation_id", conv.ID,
					"target_id", conv.FollowerTargetID)
				continue
			}
		}
		if err := r.convos.ClearFunnelSyncPending(conv.ID); err != nil {
			r.logger.Warn("failed to clear sync flag", "conversation_id", conv.ID, "error", err)
			continue
		}
		synced++
	}
	return synced
}

func clampScore(s int) int {
	if s < 0 {
		return 0
	}
	if s > 100 {
		return 100
	}
	return s
}
