package repositories

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/desertthunder/likesync/internal/models"
	"github.com/desertthunder/likesync/internal/shared"
)

// SyncMetadataRepository persists per-user sync bookkeeping and arbitrates who may reconcile a user.
//
// The in_progress claim is taken with a single conditional UPDATE so two processes sharing a database
// cannot both start a sync for the same user. A claim older than the stale threshold is treated as abandoned.
type SyncMetadataRepository struct {
	db  *sql.DB
	now Clock
}

// NewSyncMetadataRepository creates a new [SyncMetadataRepository] with the given database connection
func NewSyncMetadataRepository(db *sql.DB) *SyncMetadataRepository {
	return &SyncMetadataRepository{db: db, now: utcNow}
}

// SetClock replaces the clock used for started_at, last_sync_at and updated_at.
func (r *SyncMetadataRepository) SetClock(c Clock) { r.now = c }

// Get returns the user's metadata, or a fresh "never" record if the user has none.
func (r *SyncMetadataRepository) Get(ctx context.Context, userID string) (*models.SyncMetadata, error) {
	query := `
		SELECT status, last_sync_at, started_at, added, updated, removed, total,
			last_error, last_action, last_track_id, updated_at
		FROM sync_metadata
		WHERE user_id = ?
	`

	var (
		m                              = models.SyncMetadata{UserID: userID}
		status                         string
		lastSync, started              sql.NullTime
		lastErr, lastAction, lastTrack sql.NullString
	)
	err := r.db.QueryRowContext(ctx, query, userID).Scan(
		&status, &lastSync, &started,
		&m.Counts.Added, &m.Counts.Updated, &m.Counts.Removed, &m.Counts.Total,
		&lastErr, &lastAction, &lastTrack, &m.UpdatedAt,
	)
	if isNoRows(err) {
		return models.NewSyncMetadata(userID), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query sync metadata: %w", err)
	}

	m.Status = models.SyncStatus(status)
	m.LastSyncAt = timePtr(lastSync)
	m.StartedAt = timePtr(started)
	m.LastError = lastErr.String
	m.LastAction = models.Action(lastAction.String)
	m.LastTrackID = lastTrack.String
	m.UpdatedAt = m.UpdatedAt.UTC()
	return &m, nil
}

// Begin claims the user for a reconciliation run, moving status to in_progress.
//
// It fails with shared.ErrSyncInProgress when another run holds a claim younger than staleAfter.
// A non-positive staleAfter disables stale recovery.
func (r *SyncMetadataRepository) Begin(ctx context.Context, userID string, staleAfter time.Duration) error {
	now := r.now()

	if _, err := r.db.ExecContext(ctx,
		`INSERT INTO sync_metadata (user_id, status, updated_at) VALUES (?, ?, ?) ON CONFLICT(user_id) DO NOTHING`,
		userID, models.StatusNever, now,
	); err != nil {
		return fmt.Errorf("failed to initialize sync metadata: %w", err)
	}

	query := `
		UPDATE sync_metadata
		SET status = ?, started_at = ?, updated_at = ?
		WHERE user_id = ?
			AND (status != ? OR (? AND (started_at IS NULL OR started_at < ?)))
	`
	stale := staleAfter > 0
	res, err := r.db.ExecContext(ctx, query,
		models.StatusInProgress, now, now,
		userID,
		models.StatusInProgress, stale, now.Add(-staleAfter),
	)
	if err != nil {
		return fmt.Errorf("failed to claim sync: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to claim sync: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: user %s", shared.ErrSyncInProgress, userID)
	}
	return nil
}

// Finish releases the claim taken by [SyncMetadataRepository.Begin].
//
// A nil runErr records completed with counts and last_sync_at; otherwise the run is recorded as failed
// with the error message and the previous counts and last_sync_at are kept.
// Finishing a user that is not in_progress is a no-op.
func (r *SyncMetadataRepository) Finish(ctx context.Context, userID string, counts models.SyncCounts, runErr error) error {
	now := r.now()

	var err error
	if runErr == nil {
		_, err = r.db.ExecContext(ctx, `
			UPDATE sync_metadata
			SET status = ?, last_sync_at = ?, added = ?, updated = ?, removed = ?, total = ?,
				last_error = NULL, started_at = NULL, updated_at = ?
			WHERE user_id = ? AND status = ?
		`, models.StatusCompleted, now, counts.Added, counts.Updated, counts.Removed, counts.Total,
			now, userID, models.StatusInProgress)
	} else {
		_, err = r.db.ExecContext(ctx, `
			UPDATE sync_metadata
			SET status = ?, last_error = ?, started_at = NULL, updated_at = ?
			WHERE user_id = ? AND status = ?
		`, models.StatusFailed, runErr.Error(), now, userID, models.StatusInProgress)
	}
	if err != nil {
		return fmt.Errorf("failed to finish sync: %w", err)
	}

	return nil
}

// RecordAction notes a single-track like/unlike for the user.
//
// The status becomes completed and last_error is cleared, unless a reconciliation currently holds the
// user, in which case only the action fields change. Sync counters are never touched.
func (r *SyncMetadataRepository) RecordAction(ctx context.Context, userID string, action models.Action, trackID string) error {
	now := r.now()

	query := `
		INSERT INTO sync_metadata (user_id, status, last_action, last_track_id, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			status = CASE WHEN sync_metadata.status = ? THEN sync_metadata.status ELSE excluded.status END,
			last_error = CASE WHEN sync_metadata.status = ? THEN sync_metadata.last_error ELSE NULL END,
			last_action = excluded.last_action,
			last_track_id = excluded.last_track_id,
			updated_at = excluded.updated_at
	`
	_, err := r.db.ExecContext(ctx, query,
		userID, models.StatusCompleted, string(action), trackID, now,
		models.StatusInProgress, models.StatusInProgress,
	)
	if err != nil {
		return fmt.Errorf("failed to record action: %w", err)
	}
	return nil
}

// Delete drops the user's metadata.
func (r *SyncMetadataRepository) Delete(ctx context.Context, userID string) error {
	if _, err := r.db.ExecContext(ctx, "DELETE FROM sync_metadata WHERE user_id = ?", userID); err != nil {
		return fmt.Errorf("failed to delete sync metadata: %w", err)
	}
	return nil
}
