// Package pool manages the shared sub-account pool: quota grants,
// health transitions, cooldown sweeps and daily counter resets.
package pool

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/kolgrow/kolgrow/internal/config"
	"github.com/kolgrow/kolgrow/internal/metrics"
	"github.com/kolgrow/kolgrow/internal/models"
	"github.com/kolgrow/kolgrow/internal/oerr"
	"github.com/kolgrow/kolgrow/internal/platform"
	"github.com/kolgrow/kolgrow/internal/repository"
)

// Manager coordinates sub-account usage across concurrent outreach
// workers. Quota accounting happens in the database so concurrent
// grants never oversubscribe an account.
type Manager struct {
	repo     *repository.SubAccountRepository
	adapters *platform.Registry
	cfg      config.PoolConfig
	tz       *time.Location
	logger   *slog.Logger

	cron   *cron.Cron
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewManager creates a pool manager
func NewManager(repo *repository.SubAccountRepository, adapters *platform.Registry, cfg config.PoolConfig, tz *time.Location, logger *slog.Logger) *Manager {
	return &Manager{
		repo:     repo,
		adapters: adapters,
		cfg:      cfg,
		tz:       tz,
		logger:   logger.With("component", "pool"),
	}
}

// RequestGrant reserves one action unit on the best available account
// for the KOL. When poolWide is set and the KOL's own accounts are
// exhausted, unassigned accounts from the shared pool are tried too.
func (m *Manager) RequestGrant(ctx context.Context, tenantID string, p models.Platform, kolID string, kind models.ActionKind, poolWide bool) (*Grant, error) {
	now := time.Now()

	grant, sawAccounts, err := m.tryGrant(tenantID, p, kolID, kind, now)
	if err != nil {
		return nil, err
	}
	if grant != nil {
		return grant, nil
	}

	if poolWide {
		poolGrant, sawPool, err := m.tryGrant(tenantID, p, "", kind, now)
		if err != nil {
			return nil, err
		}
		if poolGrant != nil {
			return poolGrant, nil
		}
		sawAccounts = sawAccounts || sawPool
	}

	if sawAccounts {
		metrics.IncGrantDenied("quota_exceeded")
		return nil, oerr.New(oerr.KindQuotaExceeded, "no remaining %s quota for kol %s", kind, kolID)
	}
	metrics.IncGrantDenied("no_account")
	return nil, oerr.New(oerr.KindAccountUnavailable, "no usable account for kol %s on %s", kolID, p)
}

// tryGrant walks the least-recently-granted candidates and reserves a
// unit on the first account whose conditional update wins.
func (m *Manager) tryGrant(tenantID string, p models.Platform, kolID string, kind models.ActionKind, now time.Time) (*Grant, bool, error) {
	candidates, err := m.repo.ListAvailable(tenantID, p, kolID, kind, now)
	if err != nil {
		return nil, false, fmt.Errorf("failed to list available accounts: %w", err)
	}
	if len(candidates) == 0 {
		return nil, false, nil
	}

	for i := range candidates {
		acc := &candidates[i]
		ok, err := m.repo.ConsumeQuota(acc.ID, kind, now)
		if err != nil {
			return nil, true, fmt.Errorf("failed to consume quota: %w", err)
		}
		if !ok {
			// Lost the race to a concurrent grant; try the next one.
			continue
		}
		return &Grant{Account: acc, Kind: kind, repo: m.repo}, true, nil
	}
	return nil, true, nil
}

// GrantFor reserves a unit on one specific account.
func (m *Manager) GrantFor(ctx context.Context, accountID string, kind models.ActionKind) (*Grant, error) {
	acc, err := m.repo.GetByID(accountID)
	if err != nil {
		return nil, err
	}
	if acc == nil {
		return nil, oerr.New(oerr.KindNotFound, "sub-account %s not found", accountID)
	}

	ok, err := m.repo.ConsumeQuota(accountID, kind, time.Now())
	if err != nil {
		return nil, fmt.Errorf("failed to consume quota: %w", err)
	}
	if !ok {
		if acc.Status != models.AccountHealthy {
			metrics.IncGrantDenied("no_account")
			return nil, oerr.New(oerr.KindAccountUnavailable, "account %s is %s", acc.Username, acc.Status)
		}
		metrics.IncGrantDenied("quota_exceeded")
		return nil, oerr.New(oerr.KindQuotaExceeded, "account %s has no remaining %s quota", acc.Username, kind)
	}
	return &Grant{Account: acc, Kind: kind, repo: m.repo}, nil
}

// MarkCooling moves an account into cooling until the given time
func (m *Manager) MarkCooling(id string, until time.Time) error {
	if err := m.repo.SetStatus(id, models.AccountCooling, &until, ""); err != nil {
		return err
	}
	m.logger.Info("account cooling", "account_id", id, "until", until)
	return nil
}

// AccountByID returns a sub-account or a not-found error.
func (m *Manager) AccountByID(id string) (*models.SubAccount, error) {
	acc, err := m.repo.GetByID(id)
	if err != nil {
		return nil, err
	}
	if acc == nil {
		return nil, oerr.New(oerr.KindNotFound, "sub-account %s not found", id)
	}
	return acc, nil
}

// CoolDown applies the configured default cooldown window to an account.
func (m *Manager) CoolDown(id string) error {
	return m.MarkCooling(id, time.Now().Add(m.cfg.DefaultCooling))
}

// MarkBanned permanently retires an account
func (m *Manager) MarkBanned(id, reason string) error {
	if err := m.repo.SetStatus(id, models.AccountBanned, nil, reason); err != nil {
		return err
	}
	m.logger.Warn("account banned", "account_id", id, "reason", reason)
	return nil
}

// HealthCheck probes an account on its platform and applies the result.
func (m *Manager) HealthCheck(ctx context.Context, id string) (*models.HealthCheckResult, error) {
	acc, err := m.repo.GetByID(id)
	if err != nil {
		return nil, err
	}
	if acc == nil {
		return nil, oerr.New(oerr.KindNotFound, "sub-account %s not found", id)
	}
	if acc.Status == models.AccountBanned {
		return &models.HealthCheckResult{
			AccountID:      id,
			PreviousStatus: string(acc.Status),
			CurrentStatus:  string(acc.Status),
			Message:        "banned accounts are not probed",
		}, nil
	}

	adapter, err := m.adapters.Get(acc.Platform)
	if err != nil {
		return nil, oerr.Wrap(oerr.KindCollaboratorFailure, err, "health probe unavailable")
	}

	hs, err := adapter.ProbeHealth(ctx, acc)
	if err != nil {
		return nil, oerr.Wrap(oerr.KindCollaboratorFailure, err, "health probe failed for %s", acc.Username)
	}

	now := time.Now()
	var coolingUntil *time.Time
	newStatus := hs.Status

	switch newStatus {
	case models.AccountCooling:
		until := now.Add(m.cfg.DefaultCooling)
		coolingUntil = &until
	case models.AccountHealthy:
		// A healthy probe also clears an expired cooldown.
	}

	if err := m.repo.RecordHealthCheck(id, newStatus, coolingUntil, now); err != nil {
		return nil, err
	}

	m.logger.Info("health check",
		"account_id", id,
		"previous", acc.Status,
		"current", newStatus,
		"message", hs.Message)

	return &models.HealthCheckResult{
		AccountID:      id,
		PreviousStatus: string(acc.Status),
		CurrentStatus:  string(newStatus),
		Message:        hs.Message,
	}, nil
}

// Start launches the daily reset cron and the cooldown sweep loop.
func (m *Manager) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	m.cancel = cancel

	m.cron = cron.New(cron.WithLocation(m.tz))
	if _, err := m.cron.AddFunc(m.cfg.ResetSchedule, m.resetDailyCounters); err != nil {
		cancel()
		return fmt.Errorf("invalid reset schedule %q: %w", m.cfg.ResetSchedule, err)
	}
	m.cron.Start()

	m.wg.Add(1)
	go m.sweepLoop(ctx)

	m.logger.Info("pool manager started",
		"reset_schedule", m.cfg.ResetSchedule,
		"timezone", m.tz.String(),
		"sweep_every", m.cfg.CoolingSweepEvery)
	return nil
}

// Stop halts the cron and sweep loop and waits for them to finish.
func (m *Manager) Stop() {
	if m.cancel != nil {
		m.cancel()
	}
	if m.cron != nil {
		<-m.cron.Stop().Done()
	}
	m.wg.Wait()
	m.logger.Info("pool manager stopped")
}

// resetDailyCounters zeroes daily usage for every tenant at the
// tenant-local day boundary.
func (m *Manager) resetDailyCounters() {
	tenants, err := m.repo.Tenants()
	if err != nil {
		m.logger.Error("failed to list tenants for reset", "error", err)
		return
	}

	for _, tenant := range tenants {
		n, err := m.repo.ResetDailyCounters(tenant)
		if err != nil {
			m.logger.Error("daily reset failed", "tenant", tenant, "error", err)
			continue
		}
		m.logger.Info("daily counters reset", "tenant", tenant, "accounts", n)
	}
	metrics.IncQuotaResets()
}

func (m *Manager) sweepLoop(ctx context.Context) {
	defer m.wg.Done()

	ticker := time.NewTicker(m.cfg.CoolingSweepEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.sweep(ctx)
		}
	}
}

// sweep probes accounts whose cooling window expired. Only a healthy
// probe result clears the cooldown; an account whose probe fails stays
// cooling and is retried next sweep.
func (m *Manager) sweep(ctx context.Context) {
	ids, err := m.repo.ListExpiredCooling(time.Now())
	if err != nil {
		m.logger.Error("cooldown sweep failed", "error", err)
		return
	}

	cleared := 0
	for _, id := range ids {
		res, err := m.HealthCheck(ctx, id)
		if err != nil {
			m.logger.Warn("cooldown probe failed, account stays cooling", "account_id", id, "error", err)
			continue
		}
		if res.CurrentStatus == string(models.AccountHealthy) {
			cleared++
		}
	}
	if cleared > 0 {
		m.logger.Info("cooldowns cleared", "accounts", cleared)
	}

	m.updateGauges()
}

func (m *Manager) updateGauges() {
	counts, err := m.repo.StatusCounts()
	if err != nil {
		m.logger.Error("failed to count account statuses", "error", err)
		return
	}

	if g := metrics.Global(); g != nil {
		g.AccountsHealthy.Set(float64(counts[models.AccountHealthy]))
		g.AccountsCooling.Set(float64(counts[models.AccountCooling]))
		g.AccountsBanned.Set(float64(counts[models.AccountBanned]))
	}
}
