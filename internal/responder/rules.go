package responder

import (
	"context"
	"regexp"
	"strings"

	"github.com/kolgrow/kolgrow/internal/models"
	"github.com/kolgrow/kolgrow/internal/template"
)

// escalationKeywords trigger an immediate human handoff regardless of
// any other pattern match.
var escalationKeywords = []string{
	"scam", "fraud", "report", "block", "lawsuit",
	"police", "complaint", "harassment", "stop messaging",
}

type intentPatterns struct {
	intent   Intent
	patterns []*regexp.Regexp
}

// Detection order matters: earlier intents win on overlapping matches.
var orderedPatterns = []intentPatterns{
	{IntentGreeting, compileAll(
		`\b(hi|hello|hey|hola|sup|what'?s up)\b`,
		`^(hi|hello|hey)\s*[!.?]*$`,
	)},
	{IntentNegative, compileAll(
		`\b(no|nope|not interested|no thanks|stop|leave me alone)\b`,
		`\b(unsubscribe|remove|block)\b`,
	)},
	{IntentInterest, compileAll(
		`\b(interested|tell me more|sounds good|sounds interesting)\b`,
		`\b(want to know|curious|learn more)\b`,
		`\b(yes please|sure|definitely|absolutely)\b`,
	)},
	{IntentPositive, compileAll(
		`\b(yes|yeah|yep|yup|ok|okay|sure|great|cool|nice|awesome)\b`,
		`\b(thanks|thank you|appreciate)\b`,
	)},
	{IntentObjection, compileAll(
		`\b(why|how|what if|but|however|fake)\b`,
		`\b(is this legit|are you real|prove it)\b`,
		`\b(too good to be true|sounds fishy)\b`,
	)},
	{IntentQuestion, compileAll(
		`\?$`,
		`\b(what|who|where|when|how|why|which)\b.*\?`,
		`\b(can you|could you|would you)\b`,
	)},
	{IntentRequestHuman, compileAll(
		`\b(real person|human|agent|representative|manager)\b`,
		`\b(speak to someone|talk to|connect me)\b`,
	)},
	{IntentSpam, compileAll(
		`\b(buy followers|make money fast|crypto giveaway)\b`,
		`bit\.ly|tinyurl\.com`,
	)},
}

func compileAll(exprs ...string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, len(exprs))
	for i, e := range exprs {
		out[i] = regexp.MustCompile(e)
	}
	return out
}

// DetectIntent classifies an inbound message. Escalation keywords take
// priority over every pattern and force a human request.
func DetectIntent(message string) (Intent, float64) {
	msg := strings.ToLower(strings.TrimSpace(message))

	for _, kw := range escalationKeywords {
		if strings.Contains(msg, kw) {
			return IntentRequestHuman, 1.0
		}
	}

	for _, group := range orderedPatterns {
		for _, p := range group.patterns {
			if p.MatchString(msg) {
				return group.intent, 0.8
			}
		}
	}

	return IntentUnknown, 0
}

// scoreDeltas adjust the conversion score per detected intent
var scoreDeltas = map[Intent]int{
	IntentGreeting:  5,
	IntentInterest:  25,
	IntentPositive:  15,
	IntentQuestion:  5,
	IntentObjection: -5,
	IntentNegative:  -25,
	IntentSpam:      -40,
}

// defaultReplies is the canned copy per intent. Placeholders use
// template syntax and are filled from the request vars.
var defaultReplies = map[Intent]string{
	IntentGreeting:  "Hey {{.username}}! Great to connect. {{.kol_name}} shares {{.niche}} picks here that don't make the public feed. Want a peek?",
	IntentInterest:  "Love that! The group is free to join and {{.kol_name}} drops exclusive {{.niche}} insights daily. Want me to send you the invite link?",
	IntentPositive:  "Awesome! Here's your invite: {{.invite_link}} (see you inside!)",
	IntentQuestion:  "That's a great question! {{.kol_name}} shares insights on {{.niche}} that you won't find anywhere else. Would you like to learn more?",
	IntentObjection: "Totally fair to ask. It's a free community, no strings, and you can leave anytime. Happy to send the link if you want to check it out.",
	IntentNegative:  "No problem at all! Thanks for your time. Take care!",
}

const handoffReply = "I'll connect you with someone who can help better. One moment!"
const unknownStreakReply = "I want to make sure I give you the best answer. Let me connect you with someone who can help!"

// Rules is the default keyword-driven responder.
type Rules struct {
	engine *template.Engine
	// maxUnknownStreak is the number of consecutive unclassified
	// messages tolerated before handing off.
	maxUnknownStreak int
}

// NewRules creates the rule-based responder
func NewRules(maxUnknownStreak int) *Rules {
	if maxUnknownStreak <= 0 {
		maxUnknownStreak = 3
	}
	return &Rules{engine: template.NewEngine(), maxUnknownStreak: maxUnknownStreak}
}

// Respond classifies the inbound message and produces a reply.
func (r *Rules) Respond(ctx context.Context, req *Request) (*Reply, error) {
	intent, confidence := DetectIntent(req.Incoming)

	reply := &Reply{
		Intent:     intent,
		Confidence: confidence,
		ScoreDelta: scoreDeltas[intent],
	}

	switch intent {
	case IntentRequestHuman:
		reply.ShouldRespond = true
		reply.Text = handoffReply
		reply.RequiresHuman = true
		reply.HandoffReason = "requested by follower"
		return reply, nil

	case IntentSpam:
		// Spam gets no reply; engaging only invites more.
		return reply, nil

	case IntentUnknown:
		if r.unknownStreak(req)+1 >= r.maxUnknownStreak {
			reply.ShouldRespond = true
			reply.Text = unknownStreakReply
			reply.RequiresHuman = true
			reply.HandoffReason = "repeated unclassified messages"
		}
		return reply, nil
	}

	text, err := r.engine.Render(defaultReplies[intent], req.Vars)
	if err != nil {
		return nil, err
	}
	reply.ShouldRespond = true
	reply.Text = text
	return reply, nil
}

// unknownStreak counts the trailing run of unclassified inbound
// messages in the conversation history.
func (r *Rules) unknownStreak(req *Request) int {
	streak := 0
	for i := len(req.History) - 1; i >= 0; i-- {
		m := req.History[i]
		if m.Direction != models.DirectionInbound {
			continue
		}
		if m.AIIntent != string(IntentUnknown) {
			break
		}
		streak++
	}
	return streak
}
