// Package scheduler drives outreach campaigns: it pulls eligible
// follower targets, reserves quota grants from the pool, executes
// platform actions through a bounded worker pool and records the
// outcome on the task and in the funnel.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/kolgrow/kolgrow/internal/actionlog"
	"github.com/kolgrow/kolgrow/internal/config"
	"github.com/kolgrow/kolgrow/internal/funnel"
	"github.com/kolgrow/kolgrow/internal/metrics"
	"github.com/kolgrow/kolgrow/internal/models"
	"github.com/kolgrow/kolgrow/internal/oerr"
	"github.com/kolgrow/kolgrow/internal/platform"
	"github.com/kolgrow/kolgrow/internal/pool"
	"github.com/kolgrow/kolgrow/internal/repository"
	"github.com/kolgrow/kolgrow/internal/template"
)

type Scheduler struct {
	tasks    *repository.TaskRepository
	targets  *repository.TargetRepository
	kols     *repository.KOLRepository
	pool     *pool.Manager
	tracker  *funnel.Tracker
	adapters *platform.Registry
	journal  *actionlog.Journal
	engine   *template.Engine
	limiter  *rate.Limiter
	cfg      config.SchedulerConfig
	logger   *slog.Logger

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
	wg      sync.WaitGroup
}

func New(
	tasks *repository.TaskRepository,
	targets *repository.TargetRepository,
	kols *repository.KOLRepository,
	poolMgr *pool.Manager,
	tracker *funnel.Tracker,
	adapters *platform.Registry,
	journal *actionlog.Journal,
	cfg config.SchedulerConfig,
	logger *slog.Logger,
) *Scheduler {
	return &Scheduler{
		tasks:    tasks,
		targets:  targets,
		kols:     kols,
		pool:     poolMgr,
		tracker:  tracker,
		adapters: adapters,
		journal:  journal,
		engine:   template.NewEngine(),
		limiter:  newLimiter(cfg),
		cfg:      cfg,
		logger:   logger.With("component", "scheduler"),
		cancels:  make(map[string]context.CancelFunc),
	}
}

// newLimiter builds the global platform-action ceiling. An unset rate
// means unlimited.
func newLimiter(cfg config.SchedulerConfig) *rate.Limiter {
	if cfg.ActionsPerSec <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	burst := cfg.ActionBurst
	if burst < 1 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(cfg.ActionsPerSec), burst)
}

// eligibleStatuses maps a task's type to the funnel stages it may pull
// targets from.
func eligibleStatuses(t *models.OutreachTask) []models.TargetStatus {
	switch t.TaskType {
	case models.TaskDM:
		statuses := []models.TargetStatus{models.TargetFollowBack}
		if t.DMWithoutFollowBack {
			statuses = append(statuses, models.TargetFollowed)
		}
		return statuses
	default: // follow, follow_dm
		return []models.TargetStatus{models.TargetNew}
	}
}

// Start moves a pending task to running and launches its run in the
// background. Starting a task that is not pending is rejected.
func (s *Scheduler) Start(ctx context.Context, taskID string) error {
	task, err := s.tasks.GetByID(taskID)
	if err != nil {
		return err
	}
	if task == nil {
		return oerr.New(oerr.KindNotFound, "outreach task %s not found", taskID)
	}

	batch, err := s.targets.ListEligible(task.TargetKOLID, eligibleStatuses(task), task.TargetCount)
	if err != nil {
		return fmt.Errorf("failed to list eligible targets: %w", err)
	}

	now := time.Now()
	ok, err := s.tasks.MarkRunning(taskID, len(batch), now)
	if err != nil {
		return err
	}
	if !ok {
		return oerr.New(oerr.KindInvalidTransition, "task %s is not pending", taskID)
	}
	task.TargetCount = len(batch)

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.mu.Lock()
	s.cancels[taskID] = cancel
	s.mu.Unlock()

	metrics.IncTaskStarted()
	s.logger.Info("task started",
		"task_id", taskID,
		"type", task.TaskType,
		"targets", len(batch))

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			s.mu.Lock()
			delete(s.cancels, taskID)
			s.mu.Unlock()
			cancel()
		}()
		s.run(runCtx, task, batch)
	}()
	return nil
}

// Cancel stops a running task. In-flight actions drain before the task
// is finished; no new grants are issued after the call.
func (s *Scheduler) Cancel(taskID string) bool {
	s.mu.Lock()
	cancel, ok := s.cancels[taskID]
	s.mu.Unlock()
	if ok {
		cancel()
	}
	return ok
}

// Shutdown cancels every running task and waits for workers to drain.
func (s *Scheduler) Shutdown() {
	s.mu.Lock()
	for _, cancel := range s.cancels {
		cancel()
	}
	s.mu.Unlock()
	s.wg.Wait()
}

func (s *Scheduler) run(ctx context.Context, task *models.OutreachTask, batch []models.FollowerTarget) {
	vars := s.templateVars(task)

	sem := make(chan struct{}, s.workers())
	var wg sync.WaitGroup
	var mu sync.Mutex
	successes, noAccount := 0, false

	for i := range batch {
		if ctx.Err() != nil {
			break
		}
		target := batch[i]

		sem <- struct{}{}
		wg.Add(1)
		metrics.AddActiveWorkers(1)
		go func() {
			defer func() {
				metrics.AddActiveWorkers(-1)
				<-sem
				wg.Done()
			}()

			err := s.processTarget(ctx, task, &target, vars)
			success := err == nil
			if recErr := s.tasks.RecordResult(task.ID, success); recErr != nil {
				s.logger.Error("failed to record task result", "task_id", task.ID, "error", recErr)
			}
			if success {
				metrics.IncTargetProcessed("success")
				mu.Lock()
				successes++
				mu.Unlock()
				return
			}
			metrics.IncTargetProcessed("failed")
			if oerr.IsKind(err, oerr.KindAccountUnavailable) {
				mu.Lock()
				noAccount = true
				mu.Unlock()
			}
			s.logger.Warn("target failed",
				"task_id", task.ID,
				"target_id", target.ID,
				"error", err)
		}()
	}
	wg.Wait()

	status := models.TaskCompleted
	errMsg := ""
	if noAccount && successes == 0 {
		status = models.TaskFailed
		errMsg = "no usable sub-account for the task's whole run"
	}
	if err := s.tasks.Finish(task.ID, status, errMsg, time.Now()); err != nil {
		s.logger.Error("failed to finish task", "task_id", task.ID, "error", err)
		return
	}
	metrics.IncTaskCompleted(string(status))
	s.logger.Info("task finished",
		"task_id", task.ID,
		"status", status,
		"successes", successes,
		"targets", len(batch))
}

// processTarget runs every action the task type requires against one
// target. A failed action leaves the target at its last good stage.
func (s *Scheduler) processTarget(ctx context.Context, task *models.OutreachTask, target *models.FollowerTarget, vars map[string]string) error {
	kinds := []models.ActionKind{models.ActionFollow}
	switch task.TaskType {
	case models.TaskDM:
		kinds = []models.ActionKind{models.ActionDM}
	case models.TaskFollowDM:
		if task.DMWithoutFollowBack {
			kinds = append(kinds, models.ActionDM)
		}
	}

	for _, kind := range kinds {
		if err := s.executeAction(ctx, task, target, kind, vars); err != nil {
			return err
		}
	}
	return nil
}

// executeAction performs one platform action with bounded retries and
// exponential backoff. Each attempt draws a fresh grant so a flagged
// account never serves the retry.
func (s *Scheduler) executeAction(ctx context.Context, task *models.OutreachTask, target *models.FollowerTarget, kind models.ActionKind, vars map[string]string) error {
	adapter, err := s.adapters.Get(task.Platform)
	if err != nil {
		return oerr.Wrap(oerr.KindCollaboratorFailure, err, "no adapter for %s", task.Platform)
	}

	var lastErr error
	for attempt := 1; attempt <= s.retries(); attempt++ {
		if attempt > 1 {
			if err := s.backoff(ctx, attempt); err != nil {
				return err
			}
		}
		if err := s.limiter.Wait(ctx); err != nil {
			return err
		}

		grant, err := s.pool.RequestGrant(ctx, task.TenantID, task.Platform, task.TargetKOLID, kind, task.PoolWide)
		if err != nil {
			// Aggregate denials are not retried against the same
			// empty pool; the caller decides how to count them.
			return err
		}

		err = s.perform(ctx, adapter, grant.Account, target, kind, task, vars)
		if err == nil {
			grant.Consume()
			metrics.IncAction(string(task.Platform), string(kind))
			s.record(task, target, grant.Account, kind, true, "")
			if aErr := s.targets.AssignSubAccount(target.ID, grant.Account.ID); aErr != nil {
				s.logger.Error("failed to assign sub-account", "target_id", target.ID, "error", aErr)
			}
			return s.advanceFunnel(task, target, kind)
		}

		if rErr := grant.Release(); rErr != nil {
			s.logger.Error("failed to release grant", "account_id", grant.Account.ID, "error", rErr)
		}
		metrics.IncActionFailed(string(task.Platform), string(kind))
		s.record(task, target, grant.Account, kind, false, err.Error())
		s.penalizeAccount(grant.Account.ID, err)

		if !retryable(err) {
			return err
		}
		lastErr = err
	}
	return fmt.Errorf("action %s exhausted retries: %w", kind, lastErr)
}

func (s *Scheduler) perform(ctx context.Context, adapter platform.Adapter, account *models.SubAccount, target *models.FollowerTarget, kind models.ActionKind, task *models.OutreachTask, vars map[string]string) error {
	actionCtx, cancel := context.WithTimeout(ctx, s.actionTimeout())
	defer cancel()

	if kind == models.ActionFollow {
		return adapter.Follow(actionCtx, account, target)
	}

	message, err := s.composeDM(task, target, vars)
	if err != nil {
		return err
	}
	return adapter.SendDM(actionCtx, account, target, message)
}

// composeDM renders one of the task's message templates with the
// target's and KOL's variables.
func (s *Scheduler) composeDM(task *models.OutreachTask, target *models.FollowerTarget, vars map[string]string) (string, error) {
	tmpl := s.engine.Pick(task.MessageTemplates)
	if tmpl == "" {
		return "", oerr.New(oerr.KindValidation, "dm task %s has no message templates", task.ID)
	}

	data := make(map[string]string, len(vars)+1)
	for k, v := range vars {
		data[k] = v
	}
	name := target.DisplayName
	if name == "" {
		name = target.Username
	}
	data["username"] = name

	return s.engine.Render(tmpl, data)
}

func (s *Scheduler) advanceFunnel(task *models.OutreachTask, target *models.FollowerTarget, kind models.ActionKind) error {
	to := models.TargetFollowed
	if kind == models.ActionDM {
		to = models.TargetDMSent
	}
	err := s.tracker.Apply(target.ID, to, funnel.Options{DMWithoutFollowBack: task.DMWithoutFollowBack})
	if err != nil {
		return fmt.Errorf("action succeeded but funnel update failed: %w", err)
	}
	target.Status = to
	return nil
}

// penalizeAccount applies pool status transitions for platform verdicts.
func (s *Scheduler) penalizeAccount(accountID string, err error) {
	switch {
	case errors.Is(err, platform.ErrAccountBanned):
		if mErr := s.pool.MarkBanned(accountID, err.Error()); mErr != nil {
			s.logger.Error("failed to ban account", "account_id", accountID, "error", mErr)
		}
	case errors.Is(err, platform.ErrAccountFlagged):
		if mErr := s.pool.CoolDown(accountID); mErr != nil {
			s.logger.Error("failed to cool account", "account_id", accountID, "error", mErr)
		}
	}
}

// retryable reports whether another attempt (with a different account)
// can reasonably succeed.
func retryable(err error) bool {
	return platform.IsTemporary(err) ||
		errors.Is(err, platform.ErrAccountFlagged) ||
		errors.Is(err, platform.ErrAccountBanned)
}

// backoff sleeps for retry_interval * 2^(attempt-2), honoring
// cancellation.
func (s *Scheduler) backoff(ctx context.Context, attempt int) error {
	delay := s.cfg.RetryInterval * time.Duration(1<<(attempt-2))
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (s *Scheduler) record(task *models.OutreachTask, target *models.FollowerTarget, account *models.SubAccount, kind models.ActionKind, success bool, errMsg string) {
	if s.journal == nil {
		return
	}
	entry := &actionlog.Entry{
		TenantID:     task.TenantID,
		SubAccountID: account.ID,
		TargetID:     target.ID,
		TaskID:       task.ID,
		Action:       string(kind),
		Success:      success,
		Error:        errMsg,
		At:           time.Now(),
	}
	if err := s.journal.Record(entry); err != nil {
		s.logger.Error("failed to journal action", "error", err)
	}
}

func (s *Scheduler) templateVars(task *models.OutreachTask) map[string]string {
	vars := map[string]string{}
	kol, err := s.kols.GetByID(task.TargetKOLID)
	if err != nil || kol == nil {
		return vars
	}
	name := kol.DisplayName
	if name == "" {
		name = kol.Username
	}
	vars["kol_name"] = name
	vars["niche"] = kol.Niche
	return vars
}

// SweepFollowBacks probes followed targets for a reciprocal follow,
// using the account that followed them, and advances detections to
// follow_back so DM campaigns can pick them up. The check is read-only
// and draws no quota. Returns how many follow-backs were detected.
func (s *Scheduler) SweepFollowBacks(ctx context.Context, limit int) (int, error) {
	waiting, err := s.tracker.AwaitingFollowBack(time.Now(), limit)
	if err != nil {
		return 0, err
	}

	detected := 0
	for i := range waiting {
		if ctx.Err() != nil {
			return detected, ctx.Err()
		}
		target := waiting[i]
		back, err := s.checkFollowBack(ctx, &target)
		if err != nil {
			s.logger.Warn("follow-back check failed", "target_id", target.ID, "error", err)
			continue
		}
		if !back {
			continue
		}
		if err := s.tracker.Apply(target.ID, models.TargetFollowBack, funnel.Options{}); err != nil {
			s.logger.Warn("failed to record follow-back", "target_id", target.ID, "error", err)
			continue
		}
		detected++
	}
	return detected, nil
}

func (s *Scheduler) checkFollowBack(ctx context.Context, target *models.FollowerTarget) (bool, error) {
	account, err := s.pool.AccountByID(target.AssignedSubAccountID)
	if err != nil {
		return false, err
	}
	adapter, err := s.adapters.Get(target.Platform)
	if err != nil {
		return false, oerr.Wrap(oerr.KindCollaboratorFailure, err, "no adapter for %s", target.Platform)
	}

	actionCtx, cancel := context.WithTimeout(ctx, s.actionTimeout())
	defer cancel()
	return adapter.CheckFollowBack(actionCtx, account, target)
}

// SweepFollowTimeouts unfollows targets whose follow-back window has
// expired, using the account that originally followed them. Unfollow
// is cleanup and does not draw quota.
func (s *Scheduler) SweepFollowTimeouts(ctx context.Context, limit int) (int, error) {
	expired, err := s.tracker.FollowTimeouts(time.Now(), limit)
	if err != nil {
		return 0, err
	}

	swept := 0
	for i := range expired {
		if ctx.Err() != nil {
			return swept, ctx.Err()
		}
		target := expired[i]
		if err := s.unfollow(ctx, &target); err != nil {
			s.logger.Warn("timeout unfollow failed", "target_id", target.ID, "error", err)
			continue
		}
		swept++
	}
	return swept, nil
}

func (s *Scheduler) unfollow(ctx context.Context, target *models.FollowerTarget) error {
	if target.AssignedSubAccountID == "" {
		// Nobody to unfollow with; just retire the target.
		return s.tracker.Apply(target.ID, models.TargetUnfollowed, funnel.Options{})
	}

	account, err := s.pool.AccountByID(target.AssignedSubAccountID)
	if err != nil {
		return err
	}
	adapter, err := s.adapters.Get(target.Platform)
	if err != nil {
		return oerr.Wrap(oerr.KindCollaboratorFailure, err, "no adapter for %s", target.Platform)
	}

	actionCtx, cancel := context.WithTimeout(ctx, s.actionTimeout())
	defer cancel()
	if err := adapter.Unfollow(actionCtx, account, target); err != nil {
		s.penalizeAccount(account.ID, err)
		return err
	}
	return s.tracker.Apply(target.ID, models.TargetUnfollowed, funnel.Options{})
}

func (s *Scheduler) workers() int {
	if s.cfg.Workers > 0 {
		return s.cfg.Workers
	}
	return 1
}

func (s *Scheduler) retries() int {
	if s.cfg.MaxRetries > 0 {
		return s.cfg.MaxRetries
	}
	return 1
}

func (s *Scheduler) actionTimeout() time.Duration {
	if s.cfg.ActionTimeout > 0 {
		return s.cfg.ActionTimeout
	}
	return 30 * time.Second
}
