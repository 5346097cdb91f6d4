package models

import "time"

// ConversationStatus is the reply-handling state of a conversation.
type ConversationStatus string

const (
	ConvAIHandling    ConversationStatus = "ai_handling"
	ConvNeedsHuman    ConversationStatus = "needs_human"
	ConvHumanHandling ConversationStatus = "human_handling"
	ConvPaused        ConversationStatus = "paused"
	ConvConverted     ConversationStatus = "converted"
	ConvClosed        ConversationStatus = "closed"
)

// TerminalConversation reports whether s accepts no further messages.
func TerminalConversation(s ConversationStatus) bool {
	return s == ConvClosed || s == ConvConverted
}

// OutreachConversation is the reply thread between one sub-account and
// one follower target. Owned by the conversation router.
type OutreachConversation struct {
	ID               string   `json:"id"`
	TenantID         string   `json:"tenant_id"`
	SubAccountID     string   `json:"sub_account_id"`
	FollowerTargetID string   `json:"follower_target_id"`
	Platform         Platform `json:"platform"`

	Status ConversationStatus `json:"status"`

	AITurns       int `json:"ai_turns"`
	HumanMessages int `json:"human_messages"`
	TotalMessages int `json:"total_messages"`

	ConversionScore int `json:"conversion_score"`

	HumanOperatorID   string     `json:"human_operator_id,omitempty"`
	HumanReason       string     `json:"human_reason,omitempty"`
	HumanTakeoverAt   *time.Time `json:"human_takeover_at,omitempty"`
	LastMessageAt     *time.Time `json:"last_message_at,omitempty"`
	FunnelSyncPending bool       `json:"funnel_sync_pending,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Direction of a message relative to the sub-account.
type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
)

// SenderType identifies who authored a message.
type SenderType string

const (
	SenderAI       SenderType = "ai"
	SenderHuman    SenderType = "human"
	SenderFollower SenderType = "follower"
)

// OutreachMessage is an immutable, append-only record of one message.
// Ordering is creation-timestamp order, ties broken by Seq.
type OutreachMessage struct {
	ID             string     `json:"id"`
	ConversationID string     `json:"conversation_id"`
	Seq            int64      `json:"seq"`
	Direction      Direction  `json:"direction"`
	SenderType     SenderType `json:"sender_type"`
	Content        string     `json:"content"`
	AIIntent       string     `json:"ai_intent,omitempty"`
	AIConfidence   float64    `json:"ai_confidence,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}

// ConversationListFilter for listing conversations
type ConversationListFilter struct {
	TenantID     string
	SubAccountID string
	Status       ConversationStatus
	Limit        int
	Offset       int
}
