// package tasks implements the sync engine's long-running operations: reconciliation, real-time updates,
// legacy migration and periodic scheduling.
//
// Operations emit progress updates via channels for non-blocking status reporting to CLI/UI layers.
package tasks

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/likesync/internal/models"
	"github.com/desertthunder/likesync/internal/repositories"
	"github.com/desertthunder/likesync/internal/services"
	"github.com/desertthunder/likesync/internal/shared"
)

// Tokens hands out valid access tokens; see services.TokenStore.
type Tokens interface {
	Get(ctx context.Context, userID string) (*models.TokenRecord, error)
	Refresh(ctx context.Context, userID string) (*models.TokenRecord, error)
}

// Mirror is the local library store; see repositories.LibraryRepository.
type Mirror interface {
	List(ctx context.Context, userID string) ([]*models.LibraryItem, error)
	TrackIDs(ctx context.Context, userID string) (map[string]struct{}, error)
	Upsert(ctx context.Context, userID string, item *models.LibraryItem) error
	Delete(ctx context.Context, userID, trackID string) error
	CommitBatch(ctx context.Context, userID string, ops []repositories.Op) error
}

// Metadata is the per-user sync bookkeeping; see repositories.SyncMetadataRepository.
type Metadata interface {
	Begin(ctx context.Context, userID string, staleAfter time.Duration) error
	Finish(ctx context.Context, userID string, counts models.SyncCounts, runErr error) error
	RecordAction(ctx context.Context, userID string, action models.Action, trackID string) error
}

// SyncResult describes one completed reconciliation.
type SyncResult struct {
	UserID   string
	Counts   models.SyncCounts
	Batches  int
	Duration time.Duration
}

// EngineOptions tunes a [LibraryEngine]. Zero values select defaults.
type EngineOptions struct {
	BatchLimit int           // Operations per atomic commit, at most repositories.MaxBatchSize
	StaleAfter time.Duration // Age after which another process's in_progress claim is taken over
	Clock      func() time.Time
	Logger     *log.Logger
}

// LibraryEngine reconciles a user's local mirror against the remote liked collection.
//
// At most one reconciliation per user runs at a time: a second call for the same user in this process joins
// the running one, and a run held by another process is rejected with shared.ErrSyncInProgress.
type LibraryEngine struct {
	tokens     Tokens
	library    services.LibraryService
	mirror     Mirror
	meta       Metadata
	batchLimit int
	staleAfter time.Duration
	now        func() time.Time
	logger     *log.Logger

	mu      sync.Mutex
	flights map[string]*flight
}

// flight is one in-process reconciliation shared by every caller that asked for it while it ran.
type flight struct {
	done    chan struct{}
	result  *SyncResult
	err     error
	cancel  context.CancelFunc
	waiters int
	subs    map[chan<- ProgressUpdate]struct{}
}

// NewLibraryEngine creates a new [LibraryEngine] with the provided collaborators.
func NewLibraryEngine(tokens Tokens, library services.LibraryService, mirror Mirror, meta Metadata, opts EngineOptions) *LibraryEngine {
	e := &LibraryEngine{
		tokens:     tokens,
		library:    library,
		mirror:     mirror,
		meta:       meta,
		batchLimit: opts.BatchLimit,
		staleAfter: opts.StaleAfter,
		now:        opts.Clock,
		logger:     opts.Logger,
		flights:    make(map[string]*flight),
	}
	if e.batchLimit <= 0 || e.batchLimit > repositories.MaxBatchSize {
		e.batchLimit = repositories.MaxBatchSize
	}
	if e.now == nil {
		e.now = func() time.Time { return time.Now().UTC() }
	}
	if e.logger == nil {
		e.logger = shared.NewLogger(nil)
	}
	return e
}

// Sync runs one reconciliation for userID and records its outcome in the user's metadata.
//
// The remote collection is fetched in full before the mirror is touched; a fetch failure leaves the mirror
// unchanged. Changes are then committed batch by batch, upserts first. A failure between batches leaves the
// mirror partially updated, which the next run repairs.
//
// A call made while the user's reconciliation is already running here joins it: every caller receives the
// shared result and its progress updates. Cancelling ctx only detaches this caller; the run itself is
// cancelled once no caller is left waiting for it.
func (e *LibraryEngine) Sync(ctx context.Context, userID string, progress chan<- ProgressUpdate) (*SyncResult, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: user id is required", shared.ErrMissingArgument)
	}

	f := e.join(ctx, userID, progress)

	select {
	case <-f.done:
		return f.result, f.err
	case <-ctx.Done():
		e.leave(f, progress)
		return nil, ctx.Err()
	}
}

// join registers the caller on the user's running flight, starting one if there is none.
func (e *LibraryEngine) join(ctx context.Context, userID string, progress chan<- ProgressUpdate) *flight {
	e.mu.Lock()
	defer e.mu.Unlock()

	f, ok := e.flights[userID]
	if ok {
		e.logger.Debug("joined in-flight sync", "user", userID)
	} else {
		runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		f = &flight{done: make(chan struct{}), cancel: cancel, subs: make(map[chan<- ProgressUpdate]struct{})}
		e.flights[userID] = f
		go e.fly(runCtx, userID, f)
	}

	f.waiters++
	if progress != nil {
		f.subs[progress] = struct{}{}
	}
	return f
}

// leave detaches a caller that stopped waiting; the last one out cancels the run.
func (e *LibraryEngine) leave(f *flight, progress chan<- ProgressUpdate) {
	e.mu.Lock()
	defer e.mu.Unlock()

	delete(f.subs, progress)
	f.waiters--
	if f.waiters == 0 {
		f.cancel()
	}
}

// fly runs the reconciliation, fanning progress out to the current subscribers, and publishes the result.
// No update is sent to a subscriber after done is closed or after it has left.
func (e *LibraryEngine) fly(ctx context.Context, userID string, f *flight) {
	defer f.cancel()

	updates := make(chan ProgressUpdate, 64)
	forwarded := make(chan struct{})
	go func() {
		defer close(forwarded)
		for u := range updates {
			e.mu.Lock()
			for sub := range f.subs {
				sendProgress(sub, u)
			}
			e.mu.Unlock()
		}
	}()

	result, err := e.run(ctx, userID, updates)
	close(updates)
	<-forwarded

	e.mu.Lock()
	delete(e.flights, userID)
	f.result, f.err = result, err
	e.mu.Unlock()
	close(f.done)
}

func (e *LibraryEngine) run(ctx context.Context, userID string, progress chan<- ProgressUpdate) (*SyncResult, error) {
	logger := shared.WithLogger(e.logger, "user", userID)

	if err := e.meta.Begin(ctx, userID, e.staleAfter); err != nil {
		return nil, err
	}

	started := e.now()
	result, err := e.reconcile(ctx, userID, progress)

	var counts models.SyncCounts
	if result != nil {
		counts = result.Counts
	}
	// Record the outcome even when ctx was cancelled mid-run.
	if ferr := e.meta.Finish(context.WithoutCancel(ctx), userID, counts, err); ferr != nil {
		logger.Error("failed to record sync outcome", "error", ferr)
	}

	if err != nil {
		logger.Warn("sync failed", "error", err)
		return nil, err
	}

	result.Duration = e.now().Sub(started)
	logger.Info("sync completed", "added", counts.Added, "updated", counts.Updated, "removed", counts.Removed, "total", counts.Total)
	sendProgress(progress, finishedUpdate(userID, result))
	return result, nil
}

func (e *LibraryEngine) reconcile(ctx context.Context, userID string, progress chan<- ProgressUpdate) (*SyncResult, error) {
	sendProgress(progress, acquireTokenUpdate(userID))

	remote, err := withToken(ctx, e.tokens, userID, func(ctx context.Context, accessToken string) ([]models.LibraryItem, error) {
		return e.fetchRemote(ctx, userID, accessToken, progress)
	})
	if err != nil {
		return nil, fmt.Errorf("fetch remote library: %w", err)
	}

	sendProgress(progress, loadMirrorUpdate(userID, len(remote)))
	local, err := e.mirror.List(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load local library: %w", err)
	}

	diff := ComputeDiff(local, remote, e.now())
	counts := diff.Counts()
	sendProgress(progress, computeChangesUpdate(userID, counts))

	batches := Partition(diff.Ops(), e.batchLimit)
	for i, batch := range batches {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := e.mirror.CommitBatch(ctx, userID, batch); err != nil {
			return nil, fmt.Errorf("commit batch %d/%d: %w", i+1, len(batches), err)
		}
		sendProgress(progress, commitBatchUpdate(userID, i+1, len(batches), len(batch)))
	}

	return &SyncResult{UserID: userID, Counts: counts, Batches: len(batches)}, nil
}

// fetchRemote drains the remote sequence into mirror items, resolving duplicate ids with the later value.
// A missing AddedAt stays zero here; [ComputeDiff] fills it.
func (e *LibraryEngine) fetchRemote(ctx context.Context, userID, accessToken string, progress chan<- ProgressUpdate) ([]models.LibraryItem, error) {
	var items []models.LibraryItem
	for r, err := range e.library.FetchAllLiked(ctx, accessToken) {
		if err != nil {
			return nil, err
		}
		item := models.FromRemote(r, time.Time{})
		if item.TrackID == "" {
			continue
		}
		items = append(items, item)
		if len(items)%100 == 0 {
			sendProgress(progress, fetchRemoteUpdate(userID, len(items)))
		}
	}
	return dedupe(items), nil
}

// withToken runs op with the user's access token. When the provider rejects the token, it refreshes once
// and retries; a second rejection is returned to the caller.
func withToken[T any](ctx context.Context, tokens Tokens, userID string, op func(ctx context.Context, accessToken string) (T, error)) (T, error) {
	var zero T

	tok, err := tokens.Get(ctx, userID)
	if err != nil {
		return zero, err
	}

	v, err := op(ctx, tok.AccessToken)
	if !errors.Is(err, shared.ErrUnauthorized) {
		return v, err
	}

	tok, err = tokens.Refresh(ctx, userID)
	if err != nil {
		return zero, fmt.Errorf("refresh after unauthorized response: %w", err)
	}
	return op(ctx, tok.AccessToken)
}
