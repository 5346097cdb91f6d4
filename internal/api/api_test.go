package api

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/kolgrow/kolgrow/internal/actionlog"
	"github.com/kolgrow/kolgrow/internal/config"
	"github.com/kolgrow/kolgrow/internal/convo"
	"github.com/kolgrow/kolgrow/internal/dashboard"
	"github.com/kolgrow/kolgrow/internal/db"
	"github.com/kolgrow/kolgrow/internal/funnel"
	"github.com/kolgrow/kolgrow/internal/metrics"
	"github.com/kolgrow/kolgrow/internal/models"
	"github.com/kolgrow/kolgrow/internal/platform"
	"github.com/kolgrow/kolgrow/internal/pool"
	"github.com/kolgrow/kolgrow/internal/repository"
	"github.com/kolgrow/kolgrow/internal/responder"
	"github.com/kolgrow/kolgrow/internal/scheduler"
	"github.com/kolgrow/kolgrow/internal/scraper"
	"github.com/kolgrow/kolgrow/internal/secrets"
)

// fakeAdapter records platform calls and always succeeds.
type fakeAdapter struct {
	mu      sync.Mutex
	follows int
}

func (f *fakeAdapter) Follow(ctx context.Context, account *models.SubAccount, target *models.FollowerTarget) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.follows++
	return nil
}

func (f *fakeAdapter) Unfollow(ctx context.Context, account *models.SubAccount, target *models.FollowerTarget) error {
	return nil
}

func (f *fakeAdapter) SendDM(ctx context.Context, account *models.SubAccount, target *models.FollowerTarget, message string) error {
	return nil
}

func (f *fakeAdapter) CheckFollowBack(ctx context.Context, account *models.SubAccount, target *models.FollowerTarget) (bool, error) {
	return false, nil
}

func (f *fakeAdapter) ProbeHealth(ctx context.Context, account *models.SubAccount) (*platform.HealthStatus, error) {
	return &platform.HealthStatus{Status: models.AccountHealthy, Message: "ok"}, nil
}

// fakeSource serves canned follower profiles.
type fakeSource struct {
	profiles []scraper.Profile
	err      error
}

func (f *fakeSource) FetchFollowers(ctx context.Context, kol *models.TargetKOL, limit int) ([]scraper.Profile, error) {
	if f.err != nil {
		return nil, f.err
	}
	if limit < len(f.profiles) {
		return f.profiles[:limit], nil
	}
	return f.profiles, nil
}

// scriptedResponder returns one canned reply for every inbound message.
type scriptedResponder struct {
	reply *responder.Reply
}

func (s *scriptedResponder) Respond(ctx context.Context, req *responder.Request) (*responder.Reply, error) {
	if s.reply != nil {
		return s.reply, nil
	}
	return &responder.Reply{
		ShouldRespond: true,
		Text:          "thanks for reaching out",
		Intent:        responder.IntentGreeting,
		Confidence:    0.9,
		ScoreDelta:    10,
	}, nil
}

type fixture struct {
	srv      *httptest.Server
	server   *Server
	db       *sql.DB
	accounts *repository.SubAccountRepository
	targets  *repository.TargetRepository
	tasks    *repository.TaskRepository
	convos   *repository.ConversationRepository
	adapter  *fakeAdapter
	source   *fakeSource
	resp     *scriptedResponder
}

func setupAPI(t *testing.T) *fixture {
	t.Helper()

	d, err := db.New(":memory:")
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	t.Cleanup(func() { d.Close() })
	if err := d.Migrate(); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}

	cfg := &config.Config{}
	config.SetDefaults(cfg)
	cfg.Tenant.DefaultID = "t1"
	cfg.Pool.DefaultDailyFollows = 10
	cfg.Pool.DefaultDailyDMs = 10
	cfg.Pool.DefaultCooling = time.Hour
	cfg.Scheduler.Workers = 2
	cfg.Scheduler.MaxRetries = 1
	cfg.Scheduler.RetryInterval = time.Millisecond
	cfg.Scheduler.ActionTimeout = time.Second
	cfg.Conversation.ConversionThreshold = 80
	cfg.Conversation.ResponderRetries = 1

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	kols := repository.NewKOLRepository(d.DB)
	accounts := repository.NewSubAccountRepository(d.DB)
	targets := repository.NewTargetRepository(d.DB)
	tasks := repository.NewTaskRepository(d.DB)
	convos := repository.NewConversationRepository(d.DB)

	adapter := &fakeAdapter{}
	registry := platform.NewRegistry()
	registry.Register(models.PlatformX, adapter)

	journal, err := actionlog.Open(filepath.Join(t.TempDir(), "actions.db"))
	if err != nil {
		t.Fatalf("failed to open journal: %v", err)
	}
	t.Cleanup(func() { journal.Close() })

	poolMgr := pool.NewManager(accounts, registry, cfg.Pool, time.UTC, logger)
	tracker := funnel.NewTracker(targets, 7*24*time.Hour, logger)
	sched := scheduler.New(tasks, targets, kols, poolMgr, tracker, registry, journal, cfg.Scheduler, logger)
	t.Cleanup(sched.Shutdown)

	resp := &scriptedResponder{}
	router := convo.NewRouter(convos, accounts, targets, kols, tracker, resp, cfg.Conversation, logger)

	sealer, err := secrets.NewSealer(strings.Repeat("k", 32))
	if err != nil {
		t.Fatalf("failed to build sealer: %v", err)
	}

	source := &fakeSource{}

	server := NewServer(Deps{
		KOLs:      kols,
		Accounts:  accounts,
		Targets:   targets,
		Tasks:     tasks,
		Convos:    convos,
		Pool:      poolMgr,
		Scheduler: sched,
		Router:    router,
		Dashboard: dashboard.New(kols, accounts, targets, tasks, convos),
		Scraper:   source,
		Sealer:    sealer,
		Journal:   journal,
		Metrics:   metrics.New(),
	}, cfg, logger)

	srv := httptest.NewServer(server.Handler())
	t.Cleanup(srv.Close)

	return &fixture{
		srv:      srv,
		server:   server,
		db:       d.DB,
		accounts: accounts,
		targets:  targets,
		tasks:    tasks,
		convos:   convos,
		adapter:  adapter,
		source:   source,
		resp:     resp,
	}
}

// do issues a JSON request and decodes the response body into out (when
// out is non-nil). Returns the status code.
func (f *fixture) do(t *testing.T, method, path string, body, out interface{}) int {
	t.Helper()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("failed to marshal body: %v", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, f.srv.URL+path, reader)
	if err != nil {
		t.Fatalf("failed to build request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("failed to decode response: %v", err)
		}
	}
	return resp.StatusCode
}

// createKOL creates a KOL over the API and returns it.
func (f *fixture) createKOL(t *testing.T, username string) *models.TargetKOL {
	t.Helper()

	var kol models.TargetKOL
	status := f.do(t, http.MethodPost, "/api/v1/target-kols", CreateKOLRequest{
		Platform:    "x",
		Username:    username,
		DisplayName: "Kay",
		Niche:       "fitness",
	}, &kol)
	if status != http.StatusCreated {
		t.Fatalf("expected 201 creating kol, got %d", status)
	}
	return &kol
}

// createAccount creates a sub-account over the API and returns it.
func (f *fixture) createAccount(t *testing.T, username, kolID string) *models.SubAccount {
	t.Helper()

	var account models.SubAccount
	status := f.do(t, http.MethodPost, "/api/v1/sub-accounts", CreateAccountRequest{
		Platform:    "x",
		Username:    username,
		TargetKOLID: kolID,
	}, &account)
	if status != http.StatusCreated {
		t.Fatalf("expected 201 creating account, got %d", status)
	}
	return &account
}

// seedTarget inserts a follower target directly.
func (f *fixture) seedTarget(t *testing.T, kolID, platformUserID string, status models.TargetStatus) *models.FollowerTarget {
	t.Helper()

	target := &models.FollowerTarget{
		TenantID:       "t1",
		TargetKOLID:    kolID,
		Platform:       models.PlatformX,
		PlatformUserID: platformUserID,
		Username:       "u_" + platformUserID,
		Status:         status,
	}
	if err := f.targets.Create(target); err != nil {
		t.Fatalf("failed to seed target: %v", err)
	}
	return target
}

// waitTask polls until the task leaves pending/running.
func (f *fixture) waitTask(t *testing.T, id string) *models.OutreachTask {
	t.Helper()

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		task, err := f.tasks.GetByID(id)
		if err != nil {
			t.Fatalf("failed to load task: %v", err)
		}
		if task.Status == models.TaskCompleted || task.Status == models.TaskFailed {
			return task
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("task never reached a terminal status")
	return nil
}
