package tasks

import (
	"context"
	"errors"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/likesync/internal/shared"
	"golang.org/x/sync/errgroup"
)

// DefaultWorkers bounds how many users [LibraryEngine.SyncAll] reconciles at once when unset.
const DefaultWorkers = 4

// SyncOutcome is the per-user result of [LibraryEngine.SyncAll].
type SyncOutcome struct {
	UserID string
	Result *SyncResult
	Err    error
}

// SyncAll reconciles every user in userIDs with at most workers running concurrently.
//
// A failure for one user never stops the others; each outcome carries its own error.
// Outcomes are returned in the order of userIDs.
func (e *LibraryEngine) SyncAll(ctx context.Context, userIDs []string, workers int) []SyncOutcome {
	if workers <= 0 {
		workers = DefaultWorkers
	}

	outcomes := make([]SyncOutcome, len(userIDs))
	var g errgroup.Group
	g.SetLimit(workers)

	for i, userID := range userIDs {
		g.Go(func() error {
			res, err := e.Sync(ctx, userID, nil)
			outcomes[i] = SyncOutcome{UserID: userID, Result: res, Err: err}
			return nil
		})
	}
	_ = g.Wait()
	return outcomes
}

// UserLister enumerates linked users; see repositories.TokenRepository.
type UserLister interface {
	ListUserIDs(ctx context.Context) ([]string, error)
}

// Scheduler periodically reconciles every linked user.
type Scheduler struct {
	engine   *LibraryEngine
	users    UserLister
	interval time.Duration
	workers  int
	logger   *log.Logger
}

// NewScheduler creates a [Scheduler] running every interval with the given worker bound.
func NewScheduler(engine *LibraryEngine, users UserLister, interval time.Duration, workers int, logger *log.Logger) *Scheduler {
	if interval <= 0 {
		interval = 30 * time.Minute
	}
	if logger == nil {
		logger = shared.NewLogger(nil)
	}
	return &Scheduler{engine: engine, users: users, interval: interval, workers: workers, logger: logger}
}

// RunOnce reconciles every linked user once.
func (s *Scheduler) RunOnce(ctx context.Context) ([]SyncOutcome, error) {
	userIDs, err := s.users.ListUserIDs(ctx)
	if err != nil {
		return nil, err
	}

	outcomes := s.engine.SyncAll(ctx, userIDs, s.workers)
	failed := 0
	for _, o := range outcomes {
		switch {
		case o.Err == nil:
		case errors.Is(o.Err, shared.ErrSyncInProgress):
			s.logger.Info("sync skipped, already running", "user", o.UserID)
		default:
			failed++
			s.logger.Warn("scheduled sync failed", "user", o.UserID, "error", o.Err)
		}
	}
	s.logger.Infof("scheduled sync finished: %d users, %d failed", len(outcomes), failed)
	return outcomes, nil
}

// Run reconciles immediately and then on every tick until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		if _, err := s.RunOnce(ctx); err != nil {
			s.logger.Error("failed to list linked users", "error", err)
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}
