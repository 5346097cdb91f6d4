// Package app wires the service components together and owns their
// lifecycle.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/kolgrow/kolgrow/internal/actionlog"
	"github.com/kolgrow/kolgrow/internal/api"
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

// followSweepEvery paces the follow-back detection and unfollow sweeps.
const followSweepEvery = 10 * time.Minute

// App holds every long-lived component of the service.
type App struct {
	cfg    *config.Config
	logger *slog.Logger

	db        *db.DB
	journal   *actionlog.Journal
	pool      *pool.Manager
	scheduler *scheduler.Scheduler
	router    *convo.Router
	server    *api.Server
}

// New builds the full component graph from configuration.
func New(cfg *config.Config, logger *slog.Logger) (*App, error) {
	database, err := db.New(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := database.Migrate(); err != nil {
		database.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	tz := time.UTC
	if cfg.Tenant.Timezone != "" {
		tz, err = time.LoadLocation(cfg.Tenant.Timezone)
		if err != nil {
			database.Close()
			return nil, fmt.Errorf("invalid tenant timezone %q: %w", cfg.Tenant.Timezone, err)
		}
	}

	m := metrics.New()
	metrics.SetGlobal(m)

	kols := repository.NewKOLRepository(database.DB)
	accounts := repository.NewSubAccountRepository(database.DB)
	targets := repository.NewTargetRepository(database.DB)
	tasks := repository.NewTaskRepository(database.DB)
	convos := repository.NewConversationRepository(database.DB)

	registry := platform.NewRegistry()
	for _, p := range []models.Platform{models.PlatformX, models.PlatformInstagram} {
		registry.Register(p, platform.NewGatewayAdapter(
			p, cfg.Gateway.BaseURL, cfg.Gateway.APIKey, cfg.Gateway.Timeout))
	}

	var journal *actionlog.Journal
	if cfg.ActionLog.Path != "" {
		journal, err = actionlog.Open(cfg.ActionLog.Path)
		if err != nil {
			database.Close()
			return nil, fmt.Errorf("failed to open action journal: %w", err)
		}
	}

	var sealer *secrets.Sealer
	if cfg.Secrets.Key != "" {
		sealer, err = secrets.NewSealer(cfg.Secrets.Key)
		if err != nil {
			database.Close()
			return nil, err
		}
	}

	poolMgr := pool.NewManager(accounts, registry, cfg.Pool, tz, logger)
	tracker := funnel.NewTracker(targets, cfg.Scheduler.FollowTimeout, logger)
	sched := scheduler.New(tasks, targets, kols, poolMgr, tracker, registry, journal, cfg.Scheduler, logger)
	router := convo.NewRouter(convos, accounts, targets, kols, tracker,
		responder.NewRules(cfg.Conversation.MaxUnknownStreak), cfg.Conversation, logger)

	server := api.NewServer(api.Deps{
		KOLs:      kols,
		Accounts:  accounts,
		Targets:   targets,
		Tasks:     tasks,
		Convos:    convos,
		Pool:      poolMgr,
		Scheduler: sched,
		Router:    router,
		Dashboard: dashboard.New(kols, accounts, targets, tasks, convos),
		Scraper:   scraper.NewClient(cfg.Scraper.BaseURL, cfg.Scraper.APIKey, cfg.Scraper.Timeout),
		Sealer:    sealer,
		Journal:   journal,
		Metrics:   m,
	}, cfg, logger)

	return &App{
		cfg:       cfg,
		logger:    logger,
		db:        database,
		journal:   journal,
		pool:      poolMgr,
		scheduler: sched,
		router:    router,
		server:    server,
	}, nil
}

// Run starts all background loops and the HTTP server, then blocks
// until ctx is cancelled and everything has drained.
func (a *App) Run(ctx context.Context) error {
	if err := a.pool.Start(ctx); err != nil {
		return fmt.Errorf("failed to start pool manager: %w", err)
	}
	a.router.Start(ctx)

	go a.followSweepLoop(ctx)

	errCh := make(chan error, 1)
	go func() {
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		a.shutdown()
		return err
	case <-ctx.Done():
	}

	a.shutdown()
	return nil
}

// followSweepLoop periodically checks followed targets for reciprocal
// follows and retires those whose window expired unreciprocated.
func (a *App) followSweepLoop(ctx context.Context) {
	ticker := time.NewTicker(followSweepEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			detected, err := a.scheduler.SweepFollowBacks(ctx, 100)
			if err != nil {
				a.logger.Error("follow-back sweep failed", "error", err)
			} else if detected > 0 {
				a.logger.Info("detected follow-backs", "count", detected)
			}

			swept, err := a.scheduler.SweepFollowTimeouts(ctx, 100)
			if err != nil {
				a.logger.Error("follow timeout sweep failed", "error", err)
				continue
			}
			if swept > 0 {
				a.logger.Info("swept timed-out follows", "count", swept)
			}
		}
	}
}

func (a *App) shutdown() {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := a.server.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown failed", "error", err)
	}
	a.scheduler.Shutdown()
	a.router.Stop()
	a.pool.Stop()

	if a.journal != nil {
		if err := a.journal.Close(); err != nil {
			a.logger.Error("journal close failed", "error", err)
		}
	}
	if err := a.db.Close(); err != nil {
		a.logger.Error("database close failed", "error", err)
	}
	a.logger.Info("shutdown complete")
}
