package convo

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/kolgrow/kolgrow/internal/config"
	"github.com/kolgrow/kolgrow/internal/db"
	"github.com/kolgrow/kolgrow/internal/funnel"
	"github.com/kolgrow/kolgrow/internal/models"
	"github.com/kolgrow/kolgrow/internal/oerr"
	"github.com/kolgrow/kolgrow/internal/repository"
	"github.com/kolgrow/kolgrow/internal/responder"
)

// scriptedResponder returns canned replies in order, or a fixed error.
type scriptedResponder struct {
	replies  []*responder.Reply
	err      error
	calls    int
	lastVars map[string]string
}

func (s *scriptedResponder) Respond(ctx context.Context, req *responder.Request) (*responder.Reply, error) {
	s.calls++
	s.lastVars = req.Vars
	if s.err != nil {
		return nil, s.err
	}
	if len(s.replies) == 0 {
		return &responder.Reply{ShouldRespond: false, Intent: responder.IntentUnknown}, nil
	}
	reply := s.replies[0]
	if len(s.replies) > 1 {
		s.replies = s.replies[1:]
	}
	return reply, nil
}

type fixture struct {
	router   *Router
	convos   *repository.ConversationRepository
	targets  *repository.TargetRepository
	accounts *repository.SubAccountRepository
	resp     *scriptedResponder
	db       *sql.DB
}

func setupRouter(t *testing.T, cfg config.ConversationConfig) *fixture {
	t.Helper()

	d, err := db.New(":memory:")
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	t.Cleanup(func() { d.Close() })
	if err := d.Migrate(); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	convos := repository.NewConversationRepository(d.DB)
	targets := repository.NewTargetRepository(d.DB)
	accounts := repository.NewSubAccountRepository(d.DB)
	kols := repository.NewKOLRepository(d.DB)
	tracker := funnel.NewTracker(targets, 7*24*time.Hour, logger)

	resp := &scriptedResponder{}
	router := NewRouter(convos, accounts, targets, kols, tracker, resp, cfg, logger)

	return &fixture{
		router:   router,
		convos:   convos,
		targets:  targets,
		accounts: accounts,
		resp:     resp,
		db:       d.DB,
	}
}

// seedConversation creates the KOL, account, target and conversation
// fixture rows. The target starts at dm_sent so inbound replies are a
// valid funnel move.
func (f *fixture) seedConversation(t *testing.T, name string) (*models.OutreachConversation, *models.FollowerTarget) {
	t.Helper()

	if _, err := f.db.Exec(`INSERT OR IGNORE INTO target_kols (id, tenant_id, platform, username)
		VALUES ('k1', 't1', 'x', 'kol')`); err != nil {
		t.Fatal(err)
	}

	acc, err := f.accounts.GetByUsername("t1", models.PlatformX, "worker")
	if err != nil {
		t.Fatal(err)
	}
	if acc == nil {
		acc = &models.SubAccount{
			TenantID:          "t1",
			Platform:          models.PlatformX,
			Username:          "worker",
			TargetKOLID:       "k1",
			DailyLimitFollows: 10,
			DailyLimitDMs:     10,
		}
		if err := f.accounts.Create(acc); err != nil {
			t.Fatal(err)
		}
	}

	target := &models.FollowerTarget{
		TenantID:       "t1",
		TargetKOLID:    "k1",
		Platform:       models.PlatformX,
		PlatformUserID: "pu_" + name,
		Username:       name,
		Status:         models.TargetDMSent,
	}
	if err := f.targets.Create(target); err != nil {
		t.Fatal(err)
	}

	conv, err := f.router.Open("t1", acc.ID, target.ID, models.PlatformX)
	if err != nil {
		t.Fatalf("failed to open conversation: %v", err)
	}
	return conv, target
}

func TestOpenIsIdempotent(t *testing.T) {
	f := setupRouter(t, config.ConversationConfig{ConversionThreshold: 80})
	conv, target := f.seedConversation(t, "alice")

	again, err := f.router.Open("t1", conv.SubAccountID, target.ID, models.PlatformX)
	if err != nil {
		t.Fatal(err)
	}
	if again.ID != conv.ID {
		t.Error("expected the existing conversation back")
	}
}

func TestHandleInboundAIReply(t *testing.T) {
	f := setupRouter(t, config.ConversationConfig{ConversionThreshold: 80})
	conv, target := f.seedConversation(t, "alice")

	f.resp.replies = []*responder.Reply{{
		ShouldRespond: true,
		Text:          "glad you asked!",
		Intent:        responder.IntentInterest,
		Confidence:    0.8,
		ScoreDelta:    25,
	}}

	reply, err := f.router.HandleInbound(context.Background(), conv.ID, "tell me more")
	if err != nil {
		t.Fatalf("HandleInbound failed: %v", err)
	}
	if reply == nil || reply.Text != "glad you asked!" {
		t.Fatalf("expected the AI reply, got %+v", reply)
	}

	msgs, err := f.convos.Messages(conv.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 2 {
		t.Fatalf("expected inbound + outbound, got %d", len(msgs))
	}
	if msgs[0].SenderType != models.SenderFollower || msgs[0].AIIntent != "interest" {
		t.Errorf("inbound message not recorded with intent: %+v", msgs[0])
	}
	if msgs[1].SenderType != models.SenderAI {
		t.Errorf("outbound message not AI-authored: %+v", msgs[1])
	}

	got, _ := f.convos.GetByID(conv.ID)
	if got.ConversionScore != 25 {
		t.Errorf("expected score 25, got %d", got.ConversionScore)
	}
	if got.AITurns != 1 || got.TotalMessages != 2 {
		t.Errorf("unexpected counters: ai=%d total=%d", got.AITurns, got.TotalMessages)
	}

	// The inbound reply advanced the funnel
	gotTarget, _ := f.targets.GetByID(target.ID)
	if gotTarget.Status != models.TargetReplied {
		t.Errorf("expected replied, got %s", gotTarget.Status)
	}
}

func TestHandleInboundFillsReplyVars(t *testing.T) {
	f := setupRouter(t, config.ConversationConfig{
		ConversionThreshold: 80,
		InviteLink:          "https://chat.example/join",
	})
	conv, _ := f.seedConversation(t, "nina")

	if _, err := f.router.HandleInbound(context.Background(), conv.ID, "hello"); err != nil {
		t.Fatal(err)
	}

	vars := f.resp.lastVars
	if vars["username"] != "nina" || vars["kol_name"] != "kol" {
		t.Errorf("unexpected vars: %v", vars)
	}
	if vars["invite_link"] != "https://chat.example/join" {
		t.Errorf("expected invite link, got %q", vars["invite_link"])
	}
}

func TestHandleInboundConversionThreshold(t *testing.T) {
	f := setupRouter(t, config.ConversationConfig{ConversionThreshold: 40})
	conv, target := f.seedConversation(t, "bob")

	f.resp.replies = []*responder.Reply{{
		ShouldRespond: true,
		Text:          "here is the invite",
		Intent:        responder.IntentPositive,
		Confidence:    0.8,
		ScoreDelta:    45,
	}}

	if _, err := f.router.HandleInbound(context.Background(), conv.ID, "sign me up"); err != nil {
		t.Fatal(err)
	}

	got, _ := f.convos.GetByID(conv.ID)
	if got.Status != models.ConvConverted {
		t.Fatalf("expected converted, got %s", got.Status)
	}
	if got.FunnelSyncPending {
		t.Error("funnel write should have landed")
	}

	gotTarget, _ := f.targets.GetByID(target.ID)
	if gotTarget.Status != models.TargetConverted {
		t.Errorf("expected target converted, got %s", gotTarget.Status)
	}

	acc, _ := f.accounts.GetByID(conv.SubAccountID)
	if acc.TotalConversions != 1 {
		t.Errorf("expected account conversion counter bump, got %d", acc.TotalConversions)
	}

	// Converted is terminal: further messages are rejected
	_, err := f.router.HandleInbound(context.Background(), conv.ID, "hello?")
	if !oerr.IsKind(err, oerr.KindInvalidTransition) {
		t.Errorf("expected rejection after conversion, got %v", err)
	}
}

func TestHandleInboundHandoff(t *testing.T) {
	f := setupRouter(t, config.ConversationConfig{ConversionThreshold: 80})
	conv, _ := f.seedConversation(t, "carol")

	f.resp.replies = []*responder.Reply{{
		ShouldRespond: true,
		Text:          "connecting you with the team",
		Intent:        responder.IntentRequestHuman,
		Confidence:    1,
		RequiresHuman: true,
		HandoffReason: "follower asked for a human",
	}}

	if _, err := f.router.HandleInbound(context.Background(), conv.ID, "can I talk to a real person"); err != nil {
		t.Fatal(err)
	}

	got, _ := f.convos.GetByID(conv.ID)
	if got.Status != models.ConvNeedsHuman {
		t.Fatalf("expected needs_human, got %s", got.Status)
	}
	if got.HumanReason != "follower asked for a human" {
		t.Errorf("unexpected reason %q", got.HumanReason)
	}

	// No automated reply is committed on handoff
	msgs, _ := f.convos.Messages(conv.ID)
	if len(msgs) != 1 || msgs[0].SenderType != models.SenderFollower {
		t.Fatalf("expected only the inbound message, got %d", len(msgs))
	}

	// Queued conversations store inbound messages without AI replies
	if _, err := f.router.HandleInbound(context.Background(), conv.ID, "anyone there?"); err != nil {
		t.Fatal(err)
	}
	if f.resp.calls != 1 {
		t.Errorf("responder must not run while queued, calls=%d", f.resp.calls)
	}

	msgs, _ = f.convos.Messages(conv.ID)
	if len(msgs) != 2 {
		t.Errorf("expected 2 messages, got %d", len(msgs))
	}
}

func TestResponderFailureParksConversation(t *testing.T) {
	f := setupRouter(t, config.ConversationConfig{ConversionThreshold: 80, ResponderRetries: 2})
	conv, _ := f.seedConversation(t, "dave")

	f.resp.err = errors.New("model endpoint down")

	reply, err := f.router.HandleInbound(context.Background(), conv.ID, "hi")
	if err != nil {
		t.Fatalf("failure should park, not error: %v", err)
	}
	if reply != nil {
		t.Error("no reply expected")
	}
	if f.resp.calls != 2 {
		t.Errorf("expected 2 attempts, got %d", f.resp.calls)
	}

	got, _ := f.convos.GetByID(conv.ID)
	if got.Status != models.ConvNeedsHuman {
		t.Errorf("expected needs_human, got %s", got.Status)
	}

	msgs, _ := f.convos.Messages(conv.ID)
	if len(msgs) != 1 {
		t.Errorf("the follower message must still be stored, got %d", len(msgs))
	}
}

func TestClaimAndSendHuman(t *testing.T) {
	f := setupRouter(t, config.ConversationConfig{ConversionThreshold: 80})
	conv, _ := f.seedConversation(t, "erin")

	// Claiming an ai_handling conversation is rejected
	if err := f.router.Claim(conv.ID, "op1"); !oerr.IsKind(err, oerr.KindInvalidTransition) {
		t.Errorf("expected invalid transition, got %v", err)
	}
	if _, err := f.router.SendHuman(conv.ID, "hello"); !oerr.IsKind(err, oerr.KindInvalidTransition) {
		t.Errorf("sending before claim should fail, got %v", err)
	}

	if err := f.convos.MarkNeedsHuman(conv.ID, "test"); err != nil {
		t.Fatal(err)
	}
	if err := f.router.Claim(conv.ID, "op1"); err != nil {
		t.Fatalf("claim failed: %v", err)
	}

	// Second claim loses
	if err := f.router.Claim(conv.ID, "op2"); !oerr.IsKind(err, oerr.KindInvalidTransition) {
		t.Errorf("double claim should fail, got %v", err)
	}

	msg, err := f.router.SendHuman(conv.ID, "hi, operator here")
	if err != nil {
		t.Fatalf("SendHuman failed: %v", err)
	}
	if msg.SenderType != models.SenderHuman || msg.Direction != models.DirectionOutbound {
		t.Errorf("unexpected message attributes: %+v", msg)
	}

	got, _ := f.convos.GetByID(conv.ID)
	if got.Status != models.ConvHumanHandling || got.HumanOperatorID != "op1" {
		t.Errorf("unexpected conversation state: %+v", got)
	}
	if got.HumanMessages != 1 {
		t.Errorf("expected one human message, got %d", got.HumanMessages)
	}
}

func TestSetStatusStateMachine(t *testing.T) {
	f := setupRouter(t, config.ConversationConfig{ConversionThreshold: 80})
	conv, _ := f.seedConversation(t, "frank")

	if err := f.router.SetStatus(conv.ID, models.ConvPaused); err != nil {
		t.Fatalf("pause failed: %v", err)
	}
	if err := f.router.SetStatus(conv.ID, models.ConvHumanHandling); !oerr.IsKind(err, oerr.KindInvalidTransition) {
		t.Errorf("paused cannot jump to human_handling, got %v", err)
	}
	if err := f.router.SetStatus(conv.ID, models.ConvAIHandling); err != nil {
		t.Fatalf("resume failed: %v", err)
	}
	if err := f.router.SetStatus(conv.ID, models.ConvClosed); err != nil {
		t.Fatalf("close failed: %v", err)
	}
	if err := f.router.SetStatus(conv.ID, models.ConvAIHandling); !oerr.IsKind(err, oerr.KindInvalidTransition) {
		t.Errorf("closed is terminal, got %v", err)
	}
}

func TestSetStatusConvertedSyncsFunnel(t *testing.T) {
	f := setupRouter(t, config.ConversationConfig{ConversionThreshold: 80})
	conv, target := f.seedConversation(t, "grace")

	if err := f.router.SetStatus(conv.ID, models.ConvConverted); err != nil {
		t.Fatalf("manual conversion failed: %v", err)
	}

	gotTarget, _ := f.targets.GetByID(target.ID)
	if gotTarget.Status != models.TargetConverted {
		t.Errorf("expected target converted, got %s", gotTarget.Status)
	}
}

func TestPreviewDoesNotCommit(t *testing.T) {
	f := setupRouter(t, config.ConversationConfig{ConversionThreshold: 80})
	conv, _ := f.seedConversation(t, "kim")

	f.resp.replies = []*responder.Reply{{
		ShouldRespond: true,
		Text:          "would reply with this",
		Intent:        responder.IntentInterest,
		Confidence:    0.8,
		ScoreDelta:    25,
	}}

	reply, projected, err := f.router.Preview(context.Background(), conv.ID, "what is this about?")
	if err != nil {
		t.Fatalf("Preview failed: %v", err)
	}
	if reply.Text != "would reply with this" || projected != 25 {
		t.Errorf("unexpected preview: %+v score=%d", reply, projected)
	}

	msgs, _ := f.convos.Messages(conv.ID)
	if len(msgs) != 0 {
		t.Errorf("preview must not store messages, got %d", len(msgs))
	}
	got, _ := f.convos.GetByID(conv.ID)
	if got.ConversionScore != 0 {
		t.Errorf("preview must not change the score, got %d", got.ConversionScore)
	}
}

func TestPreviewNeedsInbound(t *testing.T) {
	f := setupRouter(t, config.ConversationConfig{ConversionThreshold: 80})
	conv, _ := f.seedConversation(t, "leo")

	_, _, err := f.router.Preview(context.Background(), conv.ID, "")
	if !oerr.IsKind(err, oerr.KindValidation) {
		t.Errorf("expected validation error, got %v", err)
	}
}

func TestSendAI(t *testing.T) {
	f := setupRouter(t, config.ConversationConfig{ConversionThreshold: 80})
	conv, _ := f.seedConversation(t, "mia")

	msg, err := f.router.SendAI(conv.ID, "reviewed copy")
	if err != nil {
		t.Fatalf("SendAI failed: %v", err)
	}
	if msg.SenderType != models.SenderAI {
		t.Errorf("unexpected sender: %s", msg.SenderType)
	}

	got, _ := f.convos.GetByID(conv.ID)
	if got.AITurns != 1 {
		t.Errorf("expected ai_turns 1, got %d", got.AITurns)
	}

	// Not allowed once a human holds the conversation
	if err := f.convos.MarkNeedsHuman(conv.ID, "test"); err != nil {
		t.Fatal(err)
	}
	if _, err := f.router.SendAI(conv.ID, "more copy"); !oerr.IsKind(err, oerr.KindInvalidTransition) {
		t.Errorf("expected invalid transition, got %v", err)
	}
}

func TestCloseInactive(t *testing.T) {
	f := setupRouter(t, config.ConversationConfig{ConversionThreshold: 80, InactivityClose: 24 * time.Hour})
	conv, _ := f.seedConversation(t, "heidi")
	fresh, _ := f.seedConversation(t, "ivan")

	stale := time.Now().Add(-48 * time.Hour)
	if _, err := f.db.Exec("UPDATE outreach_conversations SET last_message_at = ? WHERE id = ?", stale, conv.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := f.db.Exec("UPDATE outreach_conversations SET last_message_at = ? WHERE id = ?", time.Now(), fresh.ID); err != nil {
		t.Fatal(err)
	}

	if closed := f.router.CloseInactive(); closed != 1 {
		t.Fatalf("expected 1 closed, got %d", closed)
	}

	got, _ := f.convos.GetByID(conv.ID)
	if got.Status != models.ConvClosed {
		t.Errorf("expected closed, got %s", got.Status)
	}
	gotFresh, _ := f.convos.GetByID(fresh.ID)
	if gotFresh.Status != models.ConvAIHandling {
		t.Errorf("fresh conversation must stay open, got %s", gotFresh.Status)
	}
}

func TestRetryFunnelSync(t *testing.T) {
	f := setupRouter(t, config.ConversationConfig{ConversionThreshold: 80})
	conv, target := f.seedConversation(t, "judy")

	if err := f.convos.MarkConverted(conv.ID, false); err != nil {
		t.Fatal(err)
	}

	if synced := f.router.RetryFunnelSync(); synced != 1 {
		t.Fatalf("expected 1 synced, got %d", synced)
	}

	gotTarget, _ := f.targets.GetByID(target.ID)
	if gotTarget.Status != models.TargetConverted {
		t.Errorf("expected converted, got %s", gotTarget.Status)
	}
	got, _ := f.convos.GetByID(conv.ID)
	if got.FunnelSyncPending {
		t.Error("sync flag should be cleared")
	}
}

func TestRetryFunnelSyncLeavesUnreachableTarget(t *testing.T) {
	f := setupRouter(t, config.ConversationConfig{ConversionThreshold: 80})
	conv, target := f.seedConversation(t, "oscar")

	// Force the target to a stage converted cannot be reached from
	if _, err := f.db.Exec("UPDATE follower_targets SET status = 'followed' WHERE id = ?", target.ID); err != nil {
		t.Fatal(err)
	}
	if err := f.convos.MarkConverted(conv.ID, false); err != nil {
		t.Fatal(err)
	}

	if synced := f.router.RetryFunnelSync(); synced != 0 {
		t.Fatalf("expected 0 synced, got %d", synced)
	}

	// The discrepancy stays visible until the funnel actually agrees
	got, _ := f.convos.GetByID(conv.ID)
	if !got.FunnelSyncPending {
		t.Error("sync flag must stay pending")
	}
	gotTarget, _ := f.targets.GetByID(target.ID)
	if gotTarget.Status != models.TargetFollowed {
		t.Errorf("target must be left at its stage, got %s", gotTarget.Status)
	}
}
