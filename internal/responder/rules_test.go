package responder

import (
	"context"
	"strings"
	"testing"

	"github.com/kolgrow/kolgrow/internal/models"
)

func TestDetectIntent(t *testing.T) {
	tests := []struct {
		message string
		want    Intent
	}{
		{"hey there", IntentGreeting},
		{"Hello!", IntentGreeting},
		{"sounds interesting, tell me more", IntentInterest},
		{"yes please", IntentInterest},
		{"thanks a lot", IntentPositive},
		{"not interested, leave me alone", IntentNegative},
		{"is this legit", IntentObjection},
		{"too good to be true", IntentObjection},
		{"when does it start?", IntentQuestion},
		{"could you explain", IntentQuestion},
		{"I want a real person", IntentRequestHuman},
		{"buy followers cheap", IntentSpam},
		{"check bit.ly/xyz", IntentSpam},
		{"qwerty asdf", IntentUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.message, func(t *testing.T) {
			got, _ := DetectIntent(tt.message)
			if got != tt.want {
				t.Errorf("DetectIntent(%q) = %s, want %s", tt.message, got, tt.want)
			}
		})
	}
}

func TestDetectIntentEscalationKeywords(t *testing.T) {
	// Escalation outranks every other pattern
	for _, msg := range []string{
		"this is a scam",
		"I will report you to the police",
		"stop messaging me or lawsuit",
	} {
		got, conf := DetectIntent(msg)
		if got != IntentRequestHuman {
			t.Errorf("DetectIntent(%q) = %s, want request_human", msg, got)
		}
		if conf != 1.0 {
			t.Errorf("expected confidence 1.0, got %f", conf)
		}
	}
}

func testRequest(incoming string, history ...models.OutreachMessage) *Request {
	return &Request{
		Conversation: &models.OutreachConversation{ID: "c1", Status: models.ConvAIHandling},
		History:      history,
		Incoming:     incoming,
		Vars: map[string]string{
			"username":    "alpha",
			"kol_name":    "Big Shot",
			"niche":       "defi",
			"invite_link": "https://chat.example/join",
		},
	}
}

func TestRespondInterest(t *testing.T) {
	r := NewRules(3)

	reply, err := r.Respond(context.Background(), testRequest("tell me more"))
	if err != nil {
		t.Fatalf("Respond failed: %v", err)
	}
	if !reply.ShouldRespond {
		t.Fatal("expected a reply")
	}
	if reply.Intent != IntentInterest {
		t.Errorf("expected interest, got %s", reply.Intent)
	}
	if reply.ScoreDelta != 25 {
		t.Errorf("expected score delta 25, got %d", reply.ScoreDelta)
	}
	if reply.RequiresHuman {
		t.Error("interest should not require a human")
	}
}

func TestRespondRendersVars(t *testing.T) {
	r := NewRules(3)

	reply, err := r.Respond(context.Background(), testRequest("awesome thanks"))
	if err != nil {
		t.Fatalf("Respond failed: %v", err)
	}
	if reply.Text == "" {
		t.Fatal("expected reply text")
	}
	if want := "https://chat.example/join"; reply.Intent == IntentPositive && !strings.Contains(reply.Text, want) {
		t.Errorf("expected invite link in reply, got %q", reply.Text)
	}
}

func TestRespondRequestHuman(t *testing.T) {
	r := NewRules(3)

	reply, err := r.Respond(context.Background(), testRequest("can I talk to a human"))
	if err != nil {
		t.Fatalf("Respond failed: %v", err)
	}
	if !reply.RequiresHuman {
		t.Error("expected human handoff")
	}
	if !reply.ShouldRespond || reply.Text == "" {
		t.Error("handoff should still acknowledge the follower")
	}
}

func TestRespondSpamSilent(t *testing.T) {
	r := NewRules(3)

	reply, err := r.Respond(context.Background(), testRequest("crypto giveaway click bit.ly/x"))
	if err != nil {
		t.Fatalf("Respond failed: %v", err)
	}
	if reply.ShouldRespond {
		t.Error("spam should get no reply")
	}
	if reply.ScoreDelta >= 0 {
		t.Errorf("spam should lower the score, got %d", reply.ScoreDelta)
	}
}

func TestRespondUnknownStreakHandoff(t *testing.T) {
	r := NewRules(3)

	unknownMsg := func() models.OutreachMessage {
		return models.OutreachMessage{
			Direction: models.DirectionInbound,
			AIIntent:  string(IntentUnknown),
		}
	}

	// First two unknowns stay silent
	reply, err := r.Respond(context.Background(), testRequest("zxcvb"))
	if err != nil {
		t.Fatal(err)
	}
	if reply.RequiresHuman {
		t.Error("first unknown should not hand off")
	}

	reply, err = r.Respond(context.Background(), testRequest("zxcvb", unknownMsg()))
	if err != nil {
		t.Fatal(err)
	}
	if reply.RequiresHuman {
		t.Error("second unknown should not hand off")
	}

	// Third consecutive unknown hands off
	reply, err = r.Respond(context.Background(), testRequest("zxcvb", unknownMsg(), unknownMsg()))
	if err != nil {
		t.Fatal(err)
	}
	if !reply.RequiresHuman {
		t.Error("third unknown should hand off")
	}

	// A classified message in between resets the streak
	classified := models.OutreachMessage{Direction: models.DirectionInbound, AIIntent: string(IntentPositive)}
	reply, err = r.Respond(context.Background(), testRequest("zxcvb", unknownMsg(), unknownMsg(), classified))
	if err != nil {
		t.Fatal(err)
	}
	if reply.RequiresHuman {
		t.Error("streak should reset after a classified message")
	}
}
