// Package dashboard derives read-only rollups from the state owned by
// the pool, funnel, scheduler and conversation components. It holds no
// state of its own; every view is rebuilt on demand.
package dashboard

import (
	"github.com/kolgrow/kolgrow/internal/models"
	"github.com/kolgrow/kolgrow/internal/repository"
)

type Aggregator struct {
	kols     *repository.KOLRepository
	accounts *repository.SubAccountRepository
	targets  *repository.TargetRepository
	tasks    *repository.TaskRepository
	convos   *repository.ConversationRepository
}

func New(
	kols *repository.KOLRepository,
	accounts *repository.SubAccountRepository,
	targets *repository.TargetRepository,
	tasks *repository.TaskRepository,
	convos *repository.ConversationRepository,
) *Aggregator {
	return &Aggregator{
		kols:     kols,
		accounts: accounts,
		targets:  targets,
		tasks:    tasks,
		convos:   convos,
	}
}

type KOLCounts struct {
	Total  int `json:"total"`
	Active int `json:"active"`
}

type AccountCounts struct {
	Total      int     `json:"total"`
	Healthy    int     `json:"healthy"`
	HealthRate float64 `json:"health_rate"`
}

type ConversationCounts struct {
	Total      int `json:"total"`
	Active     int `json:"active"`
	NeedsHuman int `json:"needs_human"`
}

// Overview is the top-level dashboard card set.
type Overview struct {
	KOLs          KOLCounts          `json:"kols"`
	Accounts      AccountCounts      `json:"accounts"`
	Conversations ConversationCounts `json:"conversations"`
	Funnel        models.FunnelStats `json:"funnel"`
}

func (a *Aggregator) Overview(tenantID string) (*Overview, error) {
	total, active, err := a.kols.Counts(tenantID)
	if err != nil {
		return nil, err
	}

	accounts, err := a.accountHealth(tenantID)
	if err != nil {
		return nil, err
	}

	convCounts, err := a.convos.StatusCounts(tenantID)
	if err != nil {
		return nil, err
	}
	conversations := ConversationCounts{NeedsHuman: convCounts[models.ConvNeedsHuman]}
	for status, n := range convCounts {
		conversations.Total += n
		if !models.TerminalConversation(status) {
			conversations.Active += n
		}
	}

	funnel, err := a.targets.FunnelStats(tenantID, "")
	if err != nil {
		return nil, err
	}

	return &Overview{
		KOLs:          KOLCounts{Total: total, Active: active},
		Accounts:      accounts,
		Conversations: conversations,
		Funnel:        *funnel,
	}, nil
}

// Funnel returns the stage rollup, optionally scoped to one KOL.
func (a *Aggregator) Funnel(tenantID, kolID string) (*models.FunnelStats, error) {
	return a.targets.FunnelStats(tenantID, kolID)
}

// KOLPerformance is one row of the per-KOL comparison table.
type KOLPerformance struct {
	KOLID       string          `json:"kol_id"`
	Username    string          `json:"username"`
	DisplayName string          `json:"display_name"`
	Platform    models.Platform `json:"platform"`
	models.KOLStats
}

func (a *Aggregator) KOLPerformance(tenantID string) ([]KOLPerformance, error) {
	kols, _, err := a.kols.List(models.KOLListFilter{TenantID: tenantID})
	if err != nil {
		return nil, err
	}

	rows := make([]KOLPerformance, 0, len(kols))
	for i := range kols {
		stats, err := a.kols.Stats(kols[i].ID)
		if err != nil {
			return nil, err
		}
		rows = append(rows, KOLPerformance{
			KOLID:       kols[i].ID,
			Username:    kols[i].Username,
			DisplayName: kols[i].DisplayName,
			Platform:    kols[i].Platform,
			KOLStats:    *stats,
		})
	}
	return rows, nil
}

// AccountHealth is the per-status account breakdown.
type AccountHealth struct {
	Total             int     `json:"total"`
	Healthy           int     `json:"healthy"`
	NeedsVerification int     `json:"needs_verification"`
	Cooling           int     `json:"cooling"`
	Banned            int     `json:"banned"`
	HealthRate        float64 `json:"health_rate"`
}

func (a *Aggregator) AccountHealth(tenantID string) (*AccountHealth, error) {
	counts, err := a.accounts.TenantStatusCounts(tenantID)
	if err != nil {
		return nil, err
	}

	h := &AccountHealth{
		Healthy:           counts[models.AccountHealthy],
		NeedsVerification: counts[models.AccountNeedsVerification],
		Cooling:           counts[models.AccountCooling],
		Banned:            counts[models.AccountBanned],
	}
	for _, n := range counts {
		h.Total += n
	}
	if h.Total > 0 {
		h.HealthRate = float64(h.Healthy) / float64(h.Total) * 100
	}
	return h, nil
}

func (a *Aggregator) TaskSummary(tenantID string) (*models.TaskSummary, error) {
	return a.tasks.Summary(tenantID)
}

func (a *Aggregator) accountHealth(tenantID string) (AccountCounts, error) {
	h, err := a.AccountHealth(tenantID)
	if err != nil {
		return AccountCounts{}, err
	}
	return AccountCounts{Total: h.Total, Healthy: h.Healthy, HealthRate: h.HealthRate}, nil
}
