package pool

import (
	"sync"

	"github.com/kolgrow/kolgrow/internal/models"
	"github.com/kolgrow/kolgrow/internal/repository"
)

// Grant is a single reserved action unit on one sub-account. The quota
// is drawn when the grant is issued; callers must either Consume it
// after the action executes or Release it so the unit returns to the
// account. A grant settles exactly once.
type Grant struct {
	Account *models.SubAccount
	Kind    models.ActionKind

	repo *repository.SubAccountRepository

	mu      sync.Mutex
	settled bool
}

// Consume finalizes the grant after a successful action
func (g *Grant) Consume() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.settled = true
}

// Release returns the unused unit to the account's daily quota. Calling
// Release after Consume is a no-op.
func (g *Grant) Release() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.settled {
		return nil
	}
	g.settled = true
	return g.repo.ReleaseQuota(g.Account.ID, g.Kind)
}
