package repositories

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/desertthunder/likesync/internal/models"
	"github.com/desertthunder/likesync/internal/shared"
)

const libraryColumns = `track_id, title, artist, album, cover_url, duration_seconds, added_at, synced_at`

const upsertLibraryItem = `
	INSERT INTO library_items (user_id, track_id, title, artist, album, cover_url, duration_seconds, added_at, synced_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(user_id, track_id) DO UPDATE SET
		title = excluded.title,
		artist = excluded.artist,
		album = excluded.album,
		cover_url = excluded.cover_url,
		duration_seconds = excluded.duration_seconds,
		added_at = excluded.added_at,
		synced_at = excluded.synced_at
`

const insertLibraryItemIfAbsent = `
	INSERT INTO library_items (user_id, track_id, title, artist, album, cover_url, duration_seconds, added_at, synced_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(user_id, track_id) DO NOTHING
`

// execer is satisfied by [sql.DB] and [sql.Tx].
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// LibraryRepository stores each user's mirror of liked tracks, one row per (user, track id).
//
// Every write is keyed by track id, so replaying a write is harmless.
type LibraryRepository struct {
	db         *sql.DB
	now        Clock
	batchLimit int
}

// NewLibraryRepository creates a new [LibraryRepository] with the given database connection
func NewLibraryRepository(db *sql.DB) *LibraryRepository {
	return &LibraryRepository{db: db, now: utcNow, batchLimit: MaxBatchSize}
}

// SetClock replaces the clock used for SyncedAt.
func (r *LibraryRepository) SetClock(c Clock) { r.now = c }

// BatchLimit is the maximum number of operations [LibraryRepository.CommitBatch] accepts.
func (r *LibraryRepository) BatchLimit() int { return r.batchLimit }

// Get retrieves one mirrored track.
func (r *LibraryRepository) Get(ctx context.Context, userID, trackID string) (*models.LibraryItem, error) {
	query := `SELECT ` + libraryColumns + ` FROM library_items WHERE user_id = ? AND track_id = ?`

	item, err := scanLibraryItem(r.db.QueryRowContext(ctx, query, userID, trackID))
	if isNoRows(err) {
		return nil, notFound("library item", trackID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query library item: %w", err)
	}
	return item, nil
}

// Upsert writes item for userID, stamping SyncedAt with the store clock.
func (r *LibraryRepository) Upsert(ctx context.Context, userID string, item *models.LibraryItem) error {
	if err := item.Validate(); err != nil {
		return fmt.Errorf("%w: %w", shared.ErrInvalidInput, err)
	}

	item.SyncedAt = r.now()
	if err := writeItem(ctx, r.db, upsertLibraryItem, userID, item); err != nil {
		return fmt.Errorf("failed to upsert library item: %w", err)
	}
	return nil
}

// Delete removes one track from the mirror. Deleting a missing track is not an error.
func (r *LibraryRepository) Delete(ctx context.Context, userID, trackID string) error {
	if _, err := r.db.ExecContext(ctx, "DELETE FROM library_items WHERE user_id = ? AND track_id = ?", userID, trackID); err != nil {
		return fmt.Errorf("failed to delete library item: %w", err)
	}
	return nil
}

// List returns the user's complete mirror, most recently added first.
func (r *LibraryRepository) List(ctx context.Context, userID string) ([]*models.LibraryItem, error) {
	query := `SELECT ` + libraryColumns + ` FROM library_items WHERE user_id = ? ORDER BY added_at DESC, track_id ASC`

	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query library: %w", err)
	}
	defer rows.Close()

	var items []*models.LibraryItem
	for rows.Next() {
		item, err := scanLibraryItem(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan library item: %w", err)
		}
		items = append(items, item)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return items, nil
}

// TrackIDs returns the set of track ids currently mirrored for userID.
func (r *LibraryRepository) TrackIDs(ctx context.Context, userID string) (map[string]struct{}, error) {
	rows, err := r.db.QueryContext(ctx, "SELECT track_id FROM library_items WHERE user_id = ?", userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query track ids: %w", err)
	}
	defer rows.Close()

	ids := make(map[string]struct{})
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan track id: %w", err)
		}
		ids[id] = struct{}{}
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return ids, nil
}

// Count returns the number of mirrored tracks for userID.
func (r *LibraryRepository) Count(ctx context.Context, userID string) (int, error) {
	var n int
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM library_items WHERE user_id = ?", userID).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count library items: %w", err)
	}
	return n, nil
}

// CommitBatch applies ops for userID in a single transaction: either every operation is applied or none is.
//
// Batches larger than [LibraryRepository.BatchLimit] are rejected with shared.ErrBatchTooLarge before touching the store.
// Any failure inside the transaction is reported as shared.ErrBatchWrite.
func (r *LibraryRepository) CommitBatch(ctx context.Context, userID string, ops []Op) error {
	if len(ops) == 0 {
		return nil
	}
	if len(ops) > r.batchLimit {
		return fmt.Errorf("%w: %d operations, limit %d", shared.ErrBatchTooLarge, len(ops), r.batchLimit)
	}

	syncedAt := r.now()
	err := inTx(ctx, r.db, func(tx *sql.Tx) error {
		for _, op := range ops {
			switch op.Kind {
			case OpUpsert:
				if op.Item == nil {
					return fmt.Errorf("upsert %s: missing item", op.TrackID)
				}
				if err := op.Item.Validate(); err != nil {
					return err
				}
				item := *op.Item
				item.SyncedAt = syncedAt
				if err := writeItem(ctx, tx, upsertLibraryItem, userID, &item); err != nil {
					return fmt.Errorf("upsert %s: %w", op.TrackID, err)
				}
			case OpDelete:
				if _, err := tx.ExecContext(ctx, "DELETE FROM library_items WHERE user_id = ? AND track_id = ?", userID, op.TrackID); err != nil {
					return fmt.Errorf("delete %s: %w", op.TrackID, err)
				}
			default:
				return fmt.Errorf("unknown operation %v for %s", op.Kind, op.TrackID)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", shared.ErrBatchWrite, err)
	}
	return nil
}

func writeItem(ctx context.Context, ex execer, query, userID string, item *models.LibraryItem) error {
	_, err := ex.ExecContext(ctx, query,
		userID,
		item.TrackID,
		item.Title,
		item.Artist,
		item.Album,
		item.CoverURL,
		item.DurationSeconds,
		item.AddedAt.UTC(),
		item.SyncedAt.UTC(),
	)
	return err
}

func scanLibraryItem(row scanner) (*models.LibraryItem, error) {
	var item models.LibraryItem
	err := row.Scan(
		&item.TrackID,
		&item.Title,
		&item.Artist,
		&item.Album,
		&item.CoverURL,
		&item.DurationSeconds,
		&item.AddedAt,
		&item.SyncedAt,
	)
	if err != nil {
		return nil, err
	}

	item.AddedAt = item.AddedAt.UTC()
	item.SyncedAt = item.SyncedAt.UTC()
	return &item, nil
}
