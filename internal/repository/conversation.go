package repository

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/kolgrow/kolgrow/internal/models"
)

type ConversationRepository struct {
	db *sql.DB
}

func NewConversationRepository(db *sql.DB) *ConversationRepository {
	return &ConversationRepository{db: db}
}

const conversationColumns = `id, tenant_id, sub_account_id, follower_target_id, platform, status,
	ai_turns, human_messages, total_messages, conversion_score,
	COALESCE(human_operator_id, ''), COALESCE(human_reason, ''), human_takeover_at,
	last_message_at, funnel_sync_pending, created_at, updated_at`

func scanConversation(row interface {
	Scan(dest ...interface{}) error
}) (*models.OutreachConversation, error) {
	c := &models.OutreachConversation{}
	var takeover, lastMsg sql.NullTime

	err := row.Scan(&c.ID, &c.TenantID, &c.SubAccountID, &c.FollowerTargetID, &c.Platform, &c.Status,
		&c.AITurns, &c.HumanMessages, &c.TotalMessages, &c.ConversionScore,
		&c.HumanOperatorID, &c.HumanReason, &takeover,
		&lastMsg, &c.FunnelSyncPending, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}

	c.HumanTakeoverAt = timePtr(takeover)
	c.LastMessageAt = timePtr(lastMsg)
	return c, nil
}

// Create creates a new conversation
func (r *ConversationRepository) Create(c *models.OutreachConversation) error {
	c.ID = uuid.New().String()
	c.CreatedAt = time.Now()
	c.UpdatedAt = c.CreatedAt
	if c.Status == "" {
		c.Status = models.ConvAIHandling
	}

	_, err := r.db.Exec(`
		INSERT INTO outreach_conversations (id, tenant_id, sub_account_id, follower_target_id,
			platform, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.TenantID, c.SubAccountID, c.FollowerTargetID,
		c.Platform, c.Status, c.CreatedAt, c.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create conversation: %w", err)
	}
	return nil
}

// GetByID returns a conversation by ID, or nil when not found
func (r *ConversationRepository) GetByID(id string) (*models.OutreachConversation, error) {
	c, err := scanConversation(r.db.QueryRow(
		"SELECT "+conversationColumns+" FROM outreach_conversations WHERE id = ?", id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return c, err
}

// GetByPair returns the conversation between a sub-account and a target
func (r *ConversationRepository) GetByPair(subAccountID, followerTargetID string) (*models.OutreachConversation, error) {
	c, err := scanConversation(r.db.QueryRow(
		"SELECT "+conversationColumns+" FROM outreach_conversations WHERE sub_account_id = ? AND follower_target_id = ?",
		subAccountID, followerTargetID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return c, err
}

// List returns conversations matching the filter plus the unpaginated total
func (r *ConversationRepository) List(filter models.ConversationListFilter) ([]models.OutreachConversation, int, error) {
	where := " WHERE tenant_id = ?"
	args := []interface{}{filter.TenantID}

	if filter.SubAccountID != "" {
		where += " AND sub_account_id = ?"
		args = append(args, filter.SubAccountID)
	}
	if filter.Status != "" {
		where += " AND status = ?"
		args = append(args, filter.Status)
	}

	var total int
	if err := r.db.QueryRow("SELECT COUNT(*) FROM outreach_conversations"+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := "SELECT " + conversationColumns + " FROM outreach_conversations" + where +
		" ORDER BY last_message_at DESC, created_at DESC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d OFFSET %d", filter.Limit, filter.Offset)
	}

	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var convos []models.OutreachConversation
	for rows.Next() {
		c, err := scanConversation(rows)
		if err != nil {
			return nil, 0, err
		}
		convos = append(convos, *c)
	}
	return convos, total, rows.Err()
}

// ListInactive returns non-terminal conversations idle since before cutoff
func (r *ConversationRepository) ListInactive(cutoff time.Time) ([]models.OutreachConversation, error) {
	rows, err := r.db.Query(
		"SELECT "+conversationColumns+` FROM outreach_conversations
		WHERE status NOT IN ('closed', 'converted')
		AND last_message_at IS NOT NULL AND last_message_at <= ?`, cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var convos []models.OutreachConversation
	for rows.Next() {
		c, err := scanConversation(rows)
		if err != nil {
			return nil, err
		}
		convos = append(convos, *c)
	}
	return convos, rows.Err()
}

// AppendMessage inserts a message and updates the conversation's
// counters in one transaction. Seq is assigned from the conversation's
// running message count so ties on created_at order deterministically.
func (r *ConversationRepository) AppendMessage(m *models.OutreachMessage) error {
	m.ID = uuid.New().String()
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now()
	}

	tx, err := r.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	err = tx.QueryRow(`
		SELECT COALESCE(MAX(seq), 0) + 1 FROM outreach_messages WHERE conversation_id = ?`,
		m.ConversationID).Scan(&m.Seq)
	if err != nil {
		return err
	}

	_, err = tx.Exec(`
		INSERT INTO outreach_messages (id, conversation_id, seq, direction, sender_type,
			content, ai_intent, ai_confidence, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.ConversationID, m.Seq, m.Direction, m.SenderType,
		m.Content, nullString(m.AIIntent), m.AIConfidence, m.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to append message: %w", err)
	}

	aiInc, humanInc := 0, 0
	if m.SenderType == models.SenderAI {
		aiInc = 1
	}
	if m.SenderType == models.SenderHuman {
		humanInc = 1
	}

	_, err = tx.Exec(`
		UPDATE outreach_conversations SET
			total_messages = total_messages + 1,
			ai_turns = ai_turns + ?,
			human_messages = human_messages + ?,
			last_message_at = ?, updated_at = ?
		WHERE id = ?`,
		aiInc, humanInc, m.CreatedAt, m.CreatedAt, m.ConversationID,
	)
	if err != nil {
		return err
	}

	return tx.Commit()
}

// Messages returns a conversation's messages in chronological order
func (r *ConversationRepository) Messages(conversationID string) ([]models.OutreachMessage, error) {
	rows, err := r.db.Query(`
		SELECT id, conversation_id, seq, direction, sender_type, content,
			COALESCE(ai_intent, ''), COALESCE(ai_confidence, 0), created_at
		FROM outreach_messages WHERE conversation_id = ?
		ORDER BY created_at ASC, seq ASC`, conversationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var msgs []models.OutreachMessage
	for rows.Next() {
		var m models.OutreachMessage
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.Seq, &m.Direction, &m.SenderType,
			&m.Content, &m.AIIntent, &m.AIConfidence, &m.CreatedAt); err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// RecentMessages returns up to limit of the newest messages, oldest first
func (r *ConversationRepository) RecentMessages(conversationID string, limit int) ([]models.OutreachMessage, error) {
	rows, err := r.db.Query(fmt.Sprintf(`
		SELECT id, conversation_id, seq, direction, sender_type, content,
			COALESCE(ai_intent, ''), COALESCE(ai_confidence, 0), created_at
		FROM (
			SELECT * FROM outreach_messages WHERE conversation_id = ?
			ORDER BY created_at DESC, seq DESC LIMIT %d
		) ORDER BY created_at ASC, seq ASC`, limit), conversationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var msgs []models.OutreachMessage
	for rows.Next() {
		var m models.OutreachMessage
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.Seq, &m.Direction, &m.SenderType,
			&m.Content, &m.AIIntent, &m.AIConfidence, &m.CreatedAt); err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// SetStatus moves a conversation to a new status. Terminal statuses
// are never overwritten.
func (r *ConversationRepository) SetStatus(id string, status models.ConversationStatus) error {
	result, err := r.db.Exec(`
		UPDATE outreach_conversations SET status = ?, updated_at = ?
		WHERE id = ? AND status NOT IN ('closed', 'converted')`,
		status, time.Now(), id,
	)
	if err != nil {
		return err
	}
	affected, _ := result.RowsAffected()
	if affected == 0 {
		return fmt.Errorf("conversation not found or terminal")
	}
	return nil
}

// MarkNeedsHuman flags a conversation for operator attention
func (r *ConversationRepository) MarkNeedsHuman(id, reason string) error {
	_, err := r.db.Exec(`
		UPDATE outreach_conversations SET status = 'needs_human', human_reason = ?, updated_at = ?
		WHERE id = ? AND status = 'ai_handling'`,
		reason, time.Now(), id,
	)
	return err
}

// ClaimHuman assigns an operator, moving needs_human to human_handling.
// Returns false when the conversation was already claimed or not flagged.
func (r *ConversationRepository) ClaimHuman(id, operatorID string, at time.Time) (bool, error) {
	result, err := r.db.Exec(`
		UPDATE outreach_conversations SET status = 'human_handling',
			human_operator_id = ?, human_takeover_at = ?, updated_at = ?
		WHERE id = ? AND status = 'needs_human'`,
		operatorID, at, at, id,
	)
	if err != nil {
		return false, err
	}
	affected, _ := result.RowsAffected()
	return affected > 0, nil
}

// SetConversionScore updates the running conversion score
func (r *ConversationRepository) SetConversionScore(id string, score int) error {
	_, err := r.db.Exec(`
		UPDATE outreach_conversations SET conversion_score = ?, updated_at = ?
		WHERE id = ?`, score, time.Now(), id)
	return err
}

// MarkConverted finalizes a conversation as converted. funnelSynced
// records whether the matching funnel write also landed.
func (r *ConversationRepository) MarkConverted(id string, funnelSynced bool) error {
	_, err := r.db.Exec(`
		UPDATE outreach_conversations SET status = 'converted', funnel_sync_pending = ?, updated_at = ?
		WHERE id = ?`, !funnelSynced, time.Now(), id)
	return err
}

// ListFunnelSyncPending returns converted conversations whose funnel
// write has not landed yet.
func (r *ConversationRepository) ListFunnelSyncPending() ([]models.OutreachConversation, error) {
	rows, err := r.db.Query(
		"SELECT " + conversationColumns + " FROM outreach_conversations WHERE funnel_sync_pending = 1")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var convos []models.OutreachConversation
	for rows.Next() {
		c, err := scanConversation(rows)
		if err != nil {
			return nil, err
		}
		convos = append(convos, *c)
	}
	return convos, rows.Err()
}

// StatusCounts returns per-status conversation counts for one tenant
func (r *ConversationRepository) StatusCounts(tenantID string) (map[models.ConversationStatus]int, error) {
	rows, err := r.db.Query(
		"SELECT status, COUNT(*) FROM outreach_conversations WHERE tenant_id = ? GROUP BY status", tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[models.ConversationStatus]int)
	for rows.Next() {
		var status models.ConversationStatus
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

// Delete removes a conversation and its messages.
func (r *ConversationRepository) Delete(id string) error {
	tx, err := r.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec("DELETE FROM outreach_messages WHERE conversation_id = ?", id); err != nil {
		return err
	}
	result, err := tx.Exec("DELETE FROM outreach_conversations WHERE id = ?", id)
	if err != nil {
		return err
	}
	affected, _ := result.RowsAffected()
	if affected == 0 {
		return fmt.Errorf("conversation not found")
	}
	return tx.Commit()
}

// ClearFunnelSyncPending marks the funnel write as landed.
func (r *ConversationRepository) ClearFunnelSyncPending(id string) error {
	_, err := r.db.Exec(`
		UPDATE outreach_conversations SET funnel_sync_pending = 0, updated_at = ?
		WHERE id = ?`, time.Now(), id)
	return err
}
