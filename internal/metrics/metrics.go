package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	globalMetrics *Metrics
	globalMu      sync.RWMutex
)

// Metrics holds all Prometheus metrics for the outreach service
type Metrics struct {
	// Action counters
	ActionsTotal       *prometheus.CounterVec
	ActionsFailedTotal *prometheus.CounterVec

	// Pool gauges and counters
	GrantsDeniedTotal *prometheus.CounterVec
	AccountsHealthy   prometheus.Gauge
	AccountsCooling   prometheus.Gauge
	AccountsBanned    prometheus.Gauge
	QuotaResetsTotal  prometheus.Counter

	// Scheduler metrics
	TasksStartedTotal   prometheus.Counter
	TasksCompletedTotal *prometheus.CounterVec
	TargetsProcessed    *prometheus.CounterVec
	ActiveWorkers       prometheus.Gauge

	// Funnel counters
	FunnelTransitionsTotal *prometheus.CounterVec

	// Conversation counters
	MessagesRoutedTotal *prometheus.CounterVec
	HumanHandoffsTotal  *prometheus.CounterVec
	ConversionsTotal    prometheus.Counter

	// API metrics
	APIRequestsTotal          *prometheus.CounterVec
	APIRequestDurationSeconds *prometheus.HistogramVec

	registry *prometheus.Registry
}

// New creates a new Metrics instance with all metrics registered
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		ActionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kolgrow_actions_total",
				Help: "Total number of platform actions performed",
			},
			[]string{"platform", "action"},
		),
		ActionsFailedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kolgrow_actions_failed_total",
				Help: "Total number of failed platform actions",
			},
			[]string{"platform", "action"},
		),

		GrantsDeniedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kolgrow_grants_denied_total",
				Help: "Total number of denied quota grant requests",
			},
			[]string{"reason"},
		),
		AccountsHealthy: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "kolgrow_accounts_healthy",
				Help: "Number of healthy sub-accounts",
			},
		),
		AccountsCooling: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "kolgrow_accounts_cooling",
				Help: "Number of sub-accounts in cooling",
			},
		),
		AccountsBanned: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "kolgrow_accounts_banned",
				Help: "Number of banned sub-accounts",
			},
		),
		QuotaResetsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "kolgrow_quota_resets_total",
				Help: "Total number of daily quota reset runs",
			},
		),

		TasksStartedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "kolgrow_tasks_started_total",
				Help: "Total number of outreach tasks started",
			},
		),
		TasksCompletedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kolgrow_tasks_completed_total",
				Help: "Total number of outreach tasks finished",
			},
			[]string{"status"},
		),
		TargetsProcessed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kolgrow_targets_processed_total",
				Help: "Total number of targets processed by the scheduler",
			},
			[]string{"result"},
		),
		ActiveWorkers: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "kolgrow_active_workers",
				Help: "Number of scheduler workers currently executing",
			},
		),

		FunnelTransitionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kolgrow_funnel_transitions_total",
				Help: "Total number of funnel status transitions",
			},
			[]string{"from", "to"},
		),

		MessagesRoutedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kolgrow_messages_routed_total",
				Help: "Total number of inbound messages routed",
			},
			[]string{"intent"},
		),
		HumanHandoffsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kolgrow_human_handoffs_total",
				Help: "Total number of AI to human handoffs",
			},
			[]string{"reason"},
		),
		ConversionsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "kolgrow_conversions_total",
				Help: "Total number of converted follower targets",
			},
		),

		APIRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kolgrow_api_requests_total",
				Help: "Total number of API requests",
			},
			[]string{"method", "path", "status"},
		),
		APIRequestDurationSeconds: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "kolgrow_api_request_duration_seconds",
				Help:    "API request duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"method", "path"},
		),

		registry: reg,
	}

	reg.MustRegister(
		m.ActionsTotal,
		m.ActionsFailedTotal,
		m.GrantsDeniedTotal,
		m.AccountsHealthy,
		m.AccountsCooling,
		m.AccountsBanned,
		m.QuotaResetsTotal,
		m.TasksStartedTotal,
		m.TasksCompletedTotal,
		m.TargetsProcessed,
		m.ActiveWorkers,
		m.FunnelTransitionsTotal,
		m.MessagesRoutedTotal,
		m.HumanHandoffsTotal,
		m.ConversionsTotal,
		m.APIRequestsTotal,
		m.APIRequestDurationSeconds,
	)

	return m
}

// Registry returns the Prometheus registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// SetGlobal sets the global metrics instance
func SetGlobal(m *Metrics) {
	globalMu.Lock()
	defer globalMu.Unlock()
	globalMetrics = m
}

// Global returns the global metrics instance
func Global() *Metrics {
	globalMu.RLock()
	defer globalMu.RUnlock()
	return globalMetrics
}

// IncAction increments the action counter
func IncAction(platform, action string) {
	m := Global()
	if m != nil {
		m.ActionsTotal.WithLabelValues(platform, action).Inc()
	}
}

// IncActionFailed increments the failed action counter
func IncActionFailed(platform, action string) {
	m := Global()
	if m != nil {
		m.ActionsFailedTotal.WithLabelValues(platform, action).Inc()
	}
}

// IncGrantDenied increments the denied grant counter
func IncGrantDenied(reason string) {
	m := Global()
	if m != nil {
		m.GrantsDeniedTotal.WithLabelValues(reason).Inc()
	}
}

// IncQuotaResets increments the quota reset counter
func IncQuotaResets() {
	m := Global()
	if m != nil {
		m.QuotaResetsTotal.Inc()
	}
}

// IncTaskStarted increments the started task counter
func IncTaskStarted() {
	m := Global()
	if m != nil {
		m.TasksStartedTotal.Inc()
	}
}

// IncTaskCompleted increments the finished task counter
func IncTaskCompleted(status string) {
	m := Global()
	if m != nil {
		m.TasksCompletedTotal.WithLabelValues(status).Inc()
	}
}

// IncTargetProcessed increments the processed target counter
func IncTargetProcessed(result string) {
	m := Global()
	if m != nil {
		m.TargetsProcessed.WithLabelValues(result).Inc()
	}
}

// AddActiveWorkers adjusts the in-flight worker gauge
func AddActiveWorkers(delta float64) {
	m := Global()
	if m != nil {
		m.ActiveWorkers.Add(delta)
	}
}

// IncFunnelTransition increments the funnel transition counter
func IncFunnelTransition(from, to string) {
	m := Global()
	if m != nil {
		m.FunnelTransitionsTotal.WithLabelValues(from, to).Inc()
	}
}

// IncMessageRouted increments the routed message counter
func IncMessageRouted(intent string) {
	m := Global()
	if m != nil {
		m.MessagesRoutedTotal.WithLabelValues(intent).Inc()
	}
}

// IncHumanHandoff increments the handoff counter
func IncHumanHandoff(reason string) {
	m := Global()
	if m != nil {
		m.HumanHandoffsTotal.WithLabelValues(reason).Inc()
	}
}

// IncConversions increments the conversion counter
func IncConversions() {
	m := Global()
	if m != nil {
		m.ConversionsTotal.Inc()
	}
}
