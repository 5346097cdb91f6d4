package dashboard

import (
	"database/sql"
	"testing"

	"github.com/kolgrow/kolgrow/internal/db"
	"github.com/kolgrow/kolgrow/internal/repository"
)

func setupAggregator(t *testing.T) (*Aggregator, *sql.DB) {
	t.Helper()

	d, err := db.New(":memory:")
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	t.Cleanup(func() { d.Close() })
	if err := d.Migrate(); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}

	agg := New(
		repository.NewKOLRepository(d.DB),
		repository.NewSubAccountRepository(d.DB),
		repository.NewTargetRepository(d.DB),
		repository.NewTaskRepository(d.DB),
		repository.NewConversationRepository(d.DB),
	)
	return agg, d.DB
}

func mustExec(t *testing.T, d *sql.DB, query string, args ...interface{}) {
	t.Helper()
	if _, err := d.Exec(query, args...); err != nil {
		t.Fatalf("exec failed: %v", err)
	}
}

func seedWorld(t *testing.T, d *sql.DB) {
	t.Helper()

	mustExec(t, d, `INSERT INTO target_kols (id, tenant_id, platform, username, display_name, status)
		VALUES ('k1', 't1', 'x', 'kol_one', 'One', 'active'),
		       ('k2', 't1', 'x', 'kol_two', 'Two', 'archived')`)

	mustExec(t, d, `INSERT INTO sub_accounts (id, tenant_id, platform, username, target_kol_id, status, daily_limit_follows, daily_limit_dms)
		VALUES ('a1', 't1', 'x', 'acc1', 'k1', 'healthy', 50, 30),
		       ('a2', 't1', 'x', 'acc2', 'k1', 'cooling', 50, 30),
		       ('a3', 't1', 'x', 'acc3', 'k1', 'banned', 50, 30),
		       ('a4', 't1', 'x', 'acc4', 'k1', 'healthy', 50, 30)`)

	// 4 targets: all followed, 2 follow-backs, 2 DMs, 1 replied, 1 converted
	mustExec(t, d, `INSERT INTO follower_targets (id, tenant_id, target_kol_id, platform, platform_user_id, username, status,
		followed_at, follow_back_at, dm_sent_at, replied_at, converted_at)
		VALUES ('f1', 't1', 'k1', 'x', 'p1', 'u1', 'followed', CURRENT_TIMESTAMP, NULL, NULL, NULL, NULL),
		       ('f2', 't1', 'k1', 'x', 'p2', 'u2', 'followed', CURRENT_TIMESTAMP, NULL, NULL, NULL, NULL),
		       ('f3', 't1', 'k1', 'x', 'p3', 'u3', 'dm_sent', CURRENT_TIMESTAMP, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP, NULL, NULL),
		       ('f4', 't1', 'k1', 'x', 'p4', 'u4', 'converted', CURRENT_TIMESTAMP, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)`)

	mustExec(t, d, `INSERT INTO outreach_tasks (id, tenant_id, target_kol_id, name, task_type, platform, status, processed_count, success_count, failed_count)
		VALUES ('tk1', 't1', 'k1', 'one', 'follow', 'x', 'completed', 10, 8, 2),
		       ('tk2', 't1', 'k1', 'two', 'dm', 'x', 'running', 5, 4, 1)`)

	mustExec(t, d, `INSERT INTO outreach_conversations (id, tenant_id, sub_account_id, follower_target_id, platform, status)
		VALUES ('c1', 't1', 'a1', 'f3', 'x', 'ai_handling'),
		       ('c2', 't1', 'a1', 'f4', 'x', 'converted'),
		       ('c3', 't1', 'a4', 'f1', 'x', 'needs_human')`)
}

func TestOverview(t *testing.T) {
	agg, d := setupAggregator(t)
	seedWorld(t, d)

	o, err := agg.Overview("t1")
	if err != nil {
		t.Fatalf("Overview failed: %v", err)
	}

	if o.KOLs.Total != 2 || o.KOLs.Active != 1 {
		t.Errorf("unexpected KOL counts: %+v", o.KOLs)
	}
	if o.Accounts.Total != 4 || o.Accounts.Healthy != 2 {
		t.Errorf("unexpected account counts: %+v", o.Accounts)
	}
	if o.Accounts.HealthRate != 50 {
		t.Errorf("expected health rate 50, got %v", o.Accounts.HealthRate)
	}
	if o.Conversations.Total != 3 || o.Conversations.Active != 2 || o.Conversations.NeedsHuman != 1 {
		t.Errorf("unexpected conversation counts: %+v", o.Conversations)
	}
	if o.Funnel.Total != 4 || o.Funnel.Followed != 4 || o.Funnel.Converted != 1 {
		t.Errorf("unexpected funnel rollup: %+v", o.Funnel)
	}
}

func TestOverviewEmptyTenant(t *testing.T) {
	agg, _ := setupAggregator(t)

	o, err := agg.Overview("empty")
	if err != nil {
		t.Fatalf("Overview failed: %v", err)
	}
	if o.KOLs.Total != 0 || o.Accounts.Total != 0 || o.Conversations.Total != 0 {
		t.Errorf("expected all-zero overview: %+v", o)
	}
	if o.Accounts.HealthRate != 0 || o.Funnel.ConversionRate != 0 {
		t.Error("zero denominators must yield zero rates")
	}
}

func TestFunnelScopedToKOL(t *testing.T) {
	agg, d := setupAggregator(t)
	seedWorld(t, d)

	// Another KOL's target must not leak into k1's rollup
	mustExec(t, d, `INSERT INTO follower_targets (id, tenant_id, target_kol_id, platform, platform_user_id, username, status, followed_at)
		VALUES ('f9', 't1', 'k2', 'x', 'p9', 'u9', 'followed', CURRENT_TIMESTAMP)`)

	all, err := agg.Funnel("t1", "")
	if err != nil {
		t.Fatal(err)
	}
	scoped, err := agg.Funnel("t1", "k1")
	if err != nil {
		t.Fatal(err)
	}
	if all.Total != 5 || scoped.Total != 4 {
		t.Errorf("expected totals 5/4, got %d/%d", all.Total, scoped.Total)
	}

	// follow_back_rate = follow_backs / followed
	if scoped.FollowBackRate != 50 {
		t.Errorf("expected follow back rate 50, got %v", scoped.FollowBackRate)
	}
	// dm_response_rate = replied / dm_sent
	if scoped.DMResponseRate != 50 {
		t.Errorf("expected dm response rate 50, got %v", scoped.DMResponseRate)
	}
	if scoped.ConversionRate != 25 {
		t.Errorf("expected conversion rate 25, got %v", scoped.ConversionRate)
	}
}

func TestKOLPerformance(t *testing.T) {
	agg, d := setupAggregator(t)
	seedWorld(t, d)

	rows, err := agg.KOLPerformance("t1")
	if err != nil {
		t.Fatalf("KOLPerformance failed: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(rows))
	}

	byID := map[string]KOLPerformance{}
	for _, row := range rows {
		byID[row.KOLID] = row
	}
	k1 := byID["k1"]
	if k1.SubAccountsTotal != 4 || k1.SubAccountsHealthy != 2 {
		t.Errorf("unexpected k1 accounts: %+v", k1)
	}
	if k1.FollowersTotal != 4 || k1.FollowersConverted != 1 || k1.ConversionRate != 25 {
		t.Errorf("unexpected k1 funnel: %+v", k1)
	}
	k2 := byID["k2"]
	if k2.FollowersTotal != 0 || k2.ConversionRate != 0 {
		t.Errorf("unexpected k2 stats: %+v", k2)
	}
}

func TestAccountHealthBreakdown(t *testing.T) {
	agg, d := setupAggregator(t)
	seedWorld(t, d)

	h, err := agg.AccountHealth("t1")
	if err != nil {
		t.Fatalf("AccountHealth failed: %v", err)
	}
	want := AccountHealth{Total: 4, Healthy: 2, Cooling: 1, Banned: 1, HealthRate: 50}
	if *h != want {
		t.Errorf("got %+v, want %+v", *h, want)
	}
}

func TestTaskSummary(t *testing.T) {
	agg, d := setupAggregator(t)
	seedWorld(t, d)

	s, err := agg.TaskSummary("t1")
	if err != nil {
		t.Fatalf("TaskSummary failed: %v", err)
	}
	if s.TotalTasks != 2 || s.Completed != 1 || s.Running != 1 {
		t.Errorf("unexpected summary: %+v", s)
	}
	if s.TotalProcessed != 15 || s.TotalSuccess != 12 {
		t.Errorf("unexpected totals: %+v", s)
	}
	if s.SuccessRate != 80 {
		t.Errorf("expected success rate 80, got %v", s.SuccessRate)
	}
}

func TestConversationCountsExcludeOtherTenants(t *testing.T) {
	agg, d := setupAggregator(t)
	seedWorld(t, d)

	mustExec(t, d, `INSERT INTO target_kols (id, tenant_id, platform, username) VALUES ('xk', 't2', 'x', 'other')`)
	mustExec(t, d, `INSERT INTO sub_accounts (id, tenant_id, platform, username, status, daily_limit_follows, daily_limit_dms)
		VALUES ('xa', 't2', 'x', 'other_acc', 'healthy', 10, 10)`)
	mustExec(t, d, `INSERT INTO follower_targets (id, tenant_id, target_kol_id, platform, platform_user_id, username, status)
		VALUES ('xf', 't2', 'xk', 'x', 'xp', 'xu', 'new')`)
	mustExec(t, d, `INSERT INTO outreach_conversations (id, tenant_id, sub_account_id, follower_target_id, platform, status)
		VALUES ('xc', 't2', 'xa', 'xf', 'x', 'ai_handling')`)

	o, err := agg.Overview("t1")
	if err != nil {
		t.Fatal(err)
	}
	if o.Conversations.Total != 3 || o.KOLs.Total != 2 {
		t.Errorf("tenant t2 rows leaked into t1 overview: %+v", o)
	}
}
