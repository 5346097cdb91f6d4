package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kolgrow/kolgrow/internal/actionlog"
	"github.com/kolgrow/kolgrow/internal/config"
	"github.com/kolgrow/kolgrow/internal/convo"
	"github.com/kolgrow/kolgrow/internal/dashboard"
	"github.com/kolgrow/kolgrow/internal/metrics"
	"github.com/kolgrow/kolgrow/internal/pool"
	"github.com/kolgrow/kolgrow/internal/repository"
	"github.com/kolgrow/kolgrow/internal/scheduler"
	"github.com/kolgrow/kolgrow/internal/scraper"
	"github.com/kolgrow/kolgrow/internal/secrets"
)

// Deps bundles everything the HTTP layer calls into.
type Deps struct {
	KOLs      *repository.KOLRepository
	Accounts  *repository.SubAccountRepository
	Targets   *repository.TargetRepository
	Tasks     *repository.TaskRepository
	Convos    *repository.ConversationRepository
	Pool      *pool.Manager
	Scheduler *scheduler.Scheduler
	Router    *convo.Router
	Dashboard *dashboard.Aggregator
	Scraper   scraper.Source
	Sealer    *secrets.Sealer
	Journal   *actionlog.Journal
	Metrics   *metrics.Metrics
}

// Server is the HTTP API server
type Server struct {
	router     *chi.Mux
	httpServer *http.Server
	deps       Deps
	config     *config.Config
	logger     *slog.Logger
	startTime  time.Time
}

// NewServer creates a new API server
func NewServer(deps Deps, cfg *config.Config, logger *slog.Logger) *Server {
	s := &Server{
		router:    chi.NewRouter(),
		deps:      deps,
		config:    cfg,
		logger:    logger,
		startTime: time.Now(),
	}

	s.setupRoutes()
	return s
}

// setupRoutes configures the HTTP routes
func (s *Server) setupRoutes() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.loggingMiddleware)
	s.router.Use(middleware.Recoverer)

	s.router.Get("/health", s.handleHealth)

	if s.config.Metrics.Enabled && s.deps.Metrics != nil {
		s.router.Method(http.MethodGet, s.config.Metrics.Path,
			promhttp.HandlerFor(s.deps.Metrics.Registry(), promhttp.HandlerOpts{}))
	}

	s.router.Route("/api/v1", func(r chi.Router) {
		r.Use(s.tenantMiddleware)

		r.Route("/target-kols", func(r chi.Router) {
			r.Get("/", s.handleListKOLs)
			r.Post("/", s.handleCreateKOL)
			r.Get("/{id}", s.handleGetKOL)
			r.Put("/{id}", s.handleUpdateKOL)
			r.Delete("/{id}", s.handleDeleteKOL)
			r.Post("/{id}/scrape-followers", s.handleScrapeFollowers)
			r.Get("/{id}/stats", s.handleKOLStats)
		})

		r.Route("/sub-accounts", func(r chi.Router) {
			r.Get("/", s.handleListAccounts)
			r.Post("/", s.handleCreateAccount)
			r.Post("/import", s.handleImportAccounts)
			r.Get("/{id}", s.handleGetAccount)
			r.Put("/{id}", s.handleUpdateAccount)
			r.Delete("/{id}", s.handleDeleteAccount)
			r.Post("/{id}/health-check", s.handleHealthCheck)
			r.Post("/{id}/cooling", s.handleCooling)
		})

		r.Route("/follower-targets", func(r chi.Router) {
			r.Get("/", s.handleListTargets)
			r.Post("/", s.handleCreateTarget)
			r.Get("/funnel-stats", s.handleFunnelStats)
			r.Get("/{id}", s.handleGetTarget)
			r.Put("/{id}", s.handleUpdateTarget)
			r.Delete("/{id}", s.handleDeleteTarget)
		})

		r.Route("/outreach-tasks", func(r chi.Router) {
			r.Get("/", s.handleListTasks)
			r.Post("/", s.handleCreateTask)
			r.Get("/{id}", s.handleGetTask)
			r.Put("/{id}", s.handleUpdateTask)
			r.Delete("/{id}", s.handleDeleteTask)
			r.Post("/{id}/start", s.handleStartTask)
			r.Post("/{id}/cancel", s.handleCancelTask)
		})

		r.Route("/conversations", func(r chi.Router) {
			r.Get("/", s.handleListConversations)
			r.Post("/", s.handleOpenConversation)
			r.Get("/{id}", s.handleGetConversation)
			r.Delete("/{id}", s.handleDeleteConversation)
			r.Get("/{id}/messages", s.handleListMessages)
			r.Post("/{id}/messages", s.handleSendMessage)
			r.Post("/{id}/ai-reply", s.handleAIReply)
			r.Patch("/{id}/status", s.handleConversationStatus)
			r.Post("/{id}/claim", s.handleClaimConversation)
		})

		r.Route("/dashboard", func(r chi.Router) {
			r.Get("/overview", s.handleDashboardOverview)
			r.Get("/funnel", s.handleDashboardFunnel)
			r.Get("/kol-performance", s.handleDashboardKOLPerformance)
			r.Get("/account-health", s.handleDashboardAccountHealth)
			r.Get("/task-summary", s.handleDashboardTaskSummary)
		})

		r.Get("/actions", s.handleListActions)
		r.Post("/webhooks/incoming-message", s.handleIncomingWebhook)
	})
}

// HealthResponse is the response for GET /health
type HealthResponse struct {
	Status string `json:"status"`
	Uptime string `json:"uptime"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.sendJSON(w, http.StatusOK, HealthResponse{
		Status: "ok",
		Uptime: time.Since(s.startTime).Round(time.Second).String(),
	})
}

// Handler exposes the router for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe starts the HTTP server
func (s *Server) ListenAndServe() error {
	s.httpServer = &http.Server{
		Addr:         s.config.Server.ListenAddr,
		Handler:      s.router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("starting HTTP API server", "addr", s.config.Server.ListenAddr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP API server")
	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}
