package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
)

type DB struct {
	*sql.DB
}

// New opens (creating if needed) the SQLite database at path.
func New(path string) (*DB, error) {
	if path != ":memory:" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
		path += "?_journal_mode=WAL&_busy_timeout=5000"
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Each new connection to :memory: would get its own database.
	if path == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	return &DB{db}, nil
}

// Migrate applies all schema migrations. Safe to run repeatedly.
func (db *DB) Migrate() error {
	migrations := []string{
		migrationTargetKOLs,
		migrationSubAccounts,
		migrationFollowerTargets,
		migrationOutreachTasks,
		migrationConversations,
		migrationMessages,
	}

	for _, m := range migrations {
		if _, err := db.Exec(m); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}

	return nil
}

const migrationTargetKOLs = `
CREATE TABLE IF NOT EXISTS target_kols (
    id TEXT PRIMARY KEY,
    tenant_id TEXT NOT NULL,
    platform TEXT NOT NULL,
    username TEXT NOT NULL,
    display_name TEXT,
    profile_url TEXT,
    bio TEXT,
    follower_count INTEGER DEFAULT 0,
    niche TEXT,
    region TEXT,
    status TEXT DEFAULT 'active',
    last_synced_at TIMESTAMP,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    UNIQUE(tenant_id, platform, username)
);
CREATE INDEX IF NOT EXISTS idx_target_kols_tenant ON target_kols(tenant_id);
CREATE INDEX IF NOT EXISTS idx_target_kols_status ON target_kols(status);
`

const migrationSubAccounts = `
CREATE TABLE IF NOT EXISTS sub_accounts (
    id TEXT PRIMARY KEY,
    tenant_id TEXT NOT NULL,
    platform TEXT NOT NULL,
    username TEXT NOT NULL,
    target_kol_id TEXT REFERENCES target_kols(id),
    status TEXT DEFAULT 'healthy',
    ban_reason TEXT,
    cooling_until TIMESTAMP,
    last_health_check TIMESTAMP,
    daily_follows_used INTEGER DEFAULT 0,
    daily_dms_used INTEGER DEFAULT 0,
    daily_limit_follows INTEGER DEFAULT 50,
    daily_limit_dms INTEGER DEFAULT 30,
    total_follows INTEGER DEFAULT 0,
    total_dms INTEGER DEFAULT 0,
    total_conversions INTEGER DEFAULT 0,
    credential_sealed BLOB,
    last_granted_at TIMESTAMP,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    UNIQUE(tenant_id, platform, username)
);
CREATE INDEX IF NOT EXISTS idx_sub_accounts_tenant ON sub_accounts(tenant_id);
CREATE INDEX IF NOT EXISTS idx_sub_accounts_kol ON sub_accounts(target_kol_id);
CREATE INDEX IF NOT EXISTS idx_sub_accounts_status ON sub_accounts(status);
`

const migrationFollowerTargets = `
CREATE TABLE IF NOT EXISTS follower_targets (
    id TEXT PRIMARY KEY,
    tenant_id TEXT NOT NULL,
    target_kol_id TEXT NOT NULL REFERENCES target_kols(id),
    platform TEXT NOT NULL,
    platform_user_id TEXT NOT NULL,
    username TEXT,
    display_name TEXT,
    bio TEXT,
    follower_count INTEGER DEFAULT 0,
    following_count INTEGER DEFAULT 0,
    post_count INTEGER DEFAULT 0,
    is_verified INTEGER DEFAULT 0,
    is_private INTEGER DEFAULT 0,
    quality_tier TEXT DEFAULT 'medium',
    quality_score INTEGER DEFAULT 50,
    status TEXT DEFAULT 'new',
    assigned_sub_account_id TEXT,
    scraped_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    followed_at TIMESTAMP,
    follow_back_at TIMESTAMP,
    dm_sent_at TIMESTAMP,
    replied_at TIMESTAMP,
    converted_at TIMESTAMP,
    unfollowed_at TIMESTAMP,
    blocked_at TIMESTAMP,
    follow_timeout_at TIMESTAMP,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    UNIQUE(target_kol_id, platform_user_id)
);
CREATE INDEX IF NOT EXISTS idx_follower_targets_tenant ON follower_targets(tenant_id);
CREATE INDEX IF NOT EXISTS idx_follower_targets_kol ON follower_targets(target_kol_id);
CREATE INDEX IF NOT EXISTS idx_follower_targets_status ON follower_targets(status);
`

const migrationOutreachTasks = `
CREATE TABLE IF NOT EXISTS outreach_tasks (
    id TEXT PRIMARY KEY,
    tenant_id TEXT NOT NULL,
    target_kol_id TEXT NOT NULL REFERENCES target_kols(id),
    name TEXT NOT NULL,
    task_type TEXT NOT NULL,
    platform TEXT NOT NULL,
    dm_without_follow_back INTEGER DEFAULT 0,
    pool_wide INTEGER DEFAULT 0,
    message_templates JSON,
    target_count INTEGER DEFAULT 0,
    processed_count INTEGER DEFAULT 0,
    success_count INTEGER DEFAULT 0,
    failed_count INTEGER DEFAULT 0,
    status TEXT DEFAULT 'pending',
    error_message TEXT,
    started_at TIMESTAMP,
    completed_at TIMESTAMP,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_outreach_tasks_tenant ON outreach_tasks(tenant_id);
CREATE INDEX IF NOT EXISTS idx_outreach_tasks_kol ON outreach_tasks(target_kol_id);
CREATE INDEX IF NOT EXISTS idx_outreach_tasks_status ON outreach_tasks(status);
`

const migrationConversations = `
CREATE TABLE IF NOT EXISTS outreach_conversations (
    id TEXT PRIMARY KEY,
    tenant_id TEXT NOT NULL,
    sub_account_id TEXT NOT NULL REFERENCES sub_accounts(id),
    follower_target_id TEXT NOT NULL REFERENCES follower_targets(id),
    platform TEXT NOT NULL,
    status TEXT DEFAULT 'ai_handling',
    ai_turns INTEGER DEFAULT 0,
    human_messages INTEGER DEFAULT 0,
    total_messages INTEGER DEFAULT 0,
    conversion_score INTEGER DEFAULT 0,
    human_operator_id TEXT,
    human_reason TEXT,
    human_takeover_at TIMESTAMP,
    last_message_at TIMESTAMP,
    funnel_sync_pending INTEGER DEFAULT 0,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    UNIQUE(sub_account_id, follower_target_id)
);
CREATE INDEX IF NOT EXISTS idx_conversations_tenant ON outreach_conversations(tenant_id);
CREATE INDEX IF NOT EXISTS idx_conversations_status ON outreach_conversations(status);
`

const migrationMessages = `
CREATE TABLE IF NOT EXISTS outreach_messages (
    id TEXT PRIMARY KEY,
    conversation_id TEXT NOT NULL REFERENCES outreach_conversations(id),
    seq INTEGER,
    direction TEXT NOT NULL,
    sender_type TEXT NOT NULL,
    content TEXT NOT NULL,
    ai_intent TEXT,
    ai_confidence REAL,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_messages_conversation ON outreach_messages(conversation_id);
CREATE INDEX IF NOT EXISTS idx_messages_created ON outreach_messages(created_at);
`
