// Package funnel owns the follower-target conversion state machine.
// All status changes go through the Tracker so concurrent callers are
// ordered by the database's conditional update instead of racing.
package funnel

import (
	"log/slog"
	"time"

	"github.com/kolgrow/kolgrow/internal/metrics"
	"github.com/kolgrow/kolgrow/internal/models"
	"github.com/kolgrow/kolgrow/internal/oerr"
	"github.com/kolgrow/kolgrow/internal/repository"
)

// forwardEdges is the happy path. Exit edges to unfollowed and blocked
// are allowed from any non-terminal status and handled separately.
var forwardEdges = map[models.TargetStatus]models.TargetStatus{
	models.TargetNew:        models.TargetFollowed,
	models.TargetFollowed:   models.TargetFollowBack,
	models.TargetFollowBack: models.TargetDMSent,
	models.TargetDMSent:     models.TargetReplied,
	models.TargetReplied:    models.TargetConverted,
}

type Tracker struct {
	repo          *repository.TargetRepository
	followTimeout time.Duration
	logger        *slog.Logger
}

func NewTracker(repo *repository.TargetRepository, followTimeout time.Duration, logger *slog.Logger) *Tracker {
	return &Tracker{
		repo:          repo,
		followTimeout: followTimeout,
		logger:        logger.With("component", "funnel"),
	}
}

// Options tune a single transition request.
type Options struct {
	// DMWithoutFollowBack lets a campaign move followed -> dm_sent
	// without waiting for the follow-back confirmation event.
	DMWithoutFollowBack bool
}

// Valid reports whether the edge from -> to is part of the state
// machine under the given options.
func Valid(from, to models.TargetStatus, opts Options) bool {
	if from == to {
		return true
	}
	if to == models.TargetUnfollowed || to == models.TargetBlocked {
		return !models.TerminalTarget(from)
	}
	if forwardEdges[from] == to {
		return true
	}
	if opts.DMWithoutFollowBack && from == models.TargetFollowed && to == models.TargetDMSent {
		return true
	}
	return false
}

// Apply moves a target to the given status, recording the stage
// timestamp. Re-applying the target's current status is a no-op.
// An edge not in the state machine, or a concurrent transition that
// moved the target first, yields an invalid-transition error.
func (t *Tracker) Apply(id string, to models.TargetStatus, opts Options) error {
	target, err := t.repo.GetByID(id)
	if err != nil {
		return err
	}
	if target == nil {
		return oerr.New(oerr.KindNotFound, "follower target %s not found", id)
	}

	from := target.Status
	if from == to {
		return nil
	}
	if !Valid(from, to, opts) {
		return oerr.New(oerr.KindInvalidTransition,
			"target %s cannot move from %s to %s", id, from, to)
	}

	ok, err := t.repo.TransitionStatus(id, from, to, t.stamps(to, time.Now()))
	if err != nil {
		return err
	}
	if !ok {
		// Someone else moved the target between our read and write.
		current, err := t.repo.GetByID(id)
		if err != nil {
			return err
		}
		if current != nil && current.Status == to {
			return nil
		}
		return oerr.New(oerr.KindInvalidTransition,
			"target %s moved concurrently, cannot apply %s", id, to)
	}

	metrics.IncFunnelTransition(string(from), string(to))
	t.logger.Info("funnel transition", "target_id", id, "from", from, "to", to)
	return nil
}

// stamps records the timestamp for the stage being entered. Entering
// followed also arms the follow-back timeout.
func (t *Tracker) stamps(to models.TargetStatus, now time.Time) repository.StageTimes {
	var s repository.StageTimes
	switch to {
	case models.TargetFollowed:
		s.FollowedAt = &now
		timeout := now.Add(t.followTimeout)
		s.FollowTimeoutAt = &timeout
	case models.TargetFollowBack:
		s.FollowBackAt = &now
	case models.TargetDMSent:
		s.DMSentAt = &now
	case models.TargetReplied:
		s.RepliedAt = &now
	case models.TargetConverted:
		s.ConvertedAt = &now
	case models.TargetUnfollowed:
		s.UnfollowedAt = &now
	case models.TargetBlocked:
		s.BlockedAt = &now
	}
	return s
}

// FollowTimeouts lists followed targets whose follow-back window has
// expired, for unfollow cleanup.
func (t *Tracker) FollowTimeouts(now time.Time, limit int) ([]models.FollowerTarget, error) {
	return t.repo.ListFollowTimeouts(now, limit)
}

// AwaitingFollowBack lists followed targets whose window is still open,
// for the follow-back detection sweep.
func (t *Tracker) AwaitingFollowBack(now time.Time, limit int) ([]models.FollowerTarget, error) {
	return t.repo.ListAwaitingFollowBack(now, limit)
}
