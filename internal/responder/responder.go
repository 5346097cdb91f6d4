// Package responder generates automated replies to inbound follower
// messages using keyword intent detection.
package responder

import (
	"context"

	"github.com/kolgrow/kolgrow/internal/models"
)

// Intent classifies an inbound message
type Intent string

const (
	IntentGreeting     Intent = "greeting"
	IntentInterest     Intent = "interest"
	IntentPositive     Intent = "positive"
	IntentNegative     Intent = "negative"
	IntentObjection    Intent = "objection"
	IntentQuestion     Intent = "question"
	IntentRequestHuman Intent = "request_human"
	IntentSpam         Intent = "spam"
	IntentUnknown      Intent = "unknown"
)

// Request carries one inbound message and its conversation context
type Request struct {
	Conversation *models.OutreachConversation
	History      []models.OutreachMessage
	Incoming     string
	// Vars feed template placeholders in the reply copy.
	Vars map[string]string
}

// Reply is the responder's verdict on one inbound message.
type Reply struct {
	ShouldRespond bool
	Text          string
	Intent        Intent
	Confidence    float64
	// RequiresHuman asks the router to queue the conversation for an
	// operator instead of continuing automatically.
	RequiresHuman bool
	HandoffReason string
	// ScoreDelta adjusts the conversation's running conversion score.
	ScoreDelta int
}

// Responder produces a reply for one inbound message.
type Responder interface {
	Respond(ctx context.Context, req *Request) (*Reply, error)
}
