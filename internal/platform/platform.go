// Package platform executes follow/DM actions against social platforms
// through a browser automation gateway.
package platform

import (
	"context"
	"errors"
	"fmt"

	"github.com/kolgrow/kolgrow/internal/models"
)

// Action is the result-free outcome of a platform call; failures are
// classified so the scheduler can decide between retry and giveup.
var (
	// ErrTemporary wraps transient failures worth retrying.
	ErrTemporary = errors.New("temporary platform error")
	// ErrAccountFlagged signals the acting account tripped platform
	// defenses and should be cooled or verified.
	ErrAccountFlagged = errors.New("account flagged by platform")
	// ErrAccountBanned signals the acting account is gone for good.
	ErrAccountBanned = errors.New("account banned by platform")
)

// IsTemporary reports whether err is worth retrying
func IsTemporary(err error) bool {
	return errors.Is(err, ErrTemporary)
}

// HealthStatus is the outcome of a health probe
type HealthStatus struct {
	Status  models.AccountStatus
	Message string
}

// Adapter performs actions on one platform on behalf of a sub-account.
type Adapter interface {
	Follow(ctx context.Context, account *models.SubAccount, target *models.FollowerTarget) error
	Unfollow(ctx context.Context, account *models.SubAccount, target *models.FollowerTarget) error
	SendDM(ctx context.Context, account *models.SubAccount, target *models.FollowerTarget, message string) error
	// CheckFollowBack reports whether the target now follows the
	// account back. Read-only, draws no quota.
	CheckFollowBack(ctx context.Context, account *models.SubAccount, target *models.FollowerTarget) (bool, error)
	ProbeHealth(ctx context.Context, account *models.SubAccount) (*HealthStatus, error)
}

// Registry maps platforms to their adapters
type Registry struct {
	adapters map[models.Platform]Adapter
}

func NewRegistry() *Registry {
	return &Registry{adapters: make(map[models.Platform]Adapter)}
}

// Register installs an adapter for a platform
func (r *Registry) Register(p models.Platform, a Adapter) {
	r.adapters[p] = a
}

// Get returns the adapter for a platform
func (r *Registry) Get(p models.Platform) (Adapter, error) {
	a, ok := r.adapters[p]
	if !ok {
		return nil, fmt.Errorf("no adapter registered for platform %q", p)
	}
	return a, nil
}
