package repositories

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/desertthunder/likesync/internal/models"
	"github.com/desertthunder/likesync/internal/shared"
)

// LegacyRepository reads and drains the pre-mirror liked songs collection.
type LegacyRepository struct {
	db  *sql.DB
	now Clock
}

// NewLegacyRepository creates a new [LegacyRepository] with the given database connection
func NewLegacyRepository(db *sql.DB) *LegacyRepository {
	return &LegacyRepository{db: db, now: utcNow}
}

// SetClock replaces the clock used for SyncedAt on transferred items.
func (r *LegacyRepository) SetClock(c Clock) { r.now = c }

// Create inserts a legacy row, assigning an ID when it has none.
func (r *LegacyRepository) Create(ctx context.Context, t *models.LegacyTrack) error {
	if t.UserID == "" || t.SongID == "" {
		return fmt.Errorf("%w: legacy track needs a user id and a song id", shared.ErrInvalidInput)
	}
	if t.ID == "" {
		t.ID = shared.GenerateID()
	}

	var duration, likedAt any
	if t.DurationMS != nil {
		duration = *t.DurationMS
	}
	likedAt = nullTime(t.LikedAt)

	query := `
		INSERT INTO legacy_liked_songs (id, user_id, song_id, name, artist, album, image_url, duration_ms, liked_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := r.db.ExecContext(ctx, query,
		t.ID, t.UserID, t.SongID,
		t.Name, t.Artist, t.Album, t.ImageURL,
		duration, likedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create legacy track: %w", err)
	}
	return nil
}

// ListByUser returns every legacy row owned by userID in insertion order.
func (r *LegacyRepository) ListByUser(ctx context.Context, userID string) ([]*models.LegacyTrack, error) {
	query := `
		SELECT id, user_id, song_id, name, artist, album, image_url, duration_ms, liked_at
		FROM legacy_liked_songs
		WHERE user_id = ?
		ORDER BY rowid
	`

	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query legacy tracks: %w", err)
	}
	defer rows.Close()

	var tracks []*models.LegacyTrack
	for rows.Next() {
		var (
			t                             models.LegacyTrack
			name, artist, album, imageURL sql.NullString
			duration                      sql.NullInt64
			likedAt                       sql.NullTime
		)
		if err := rows.Scan(&t.ID, &t.UserID, &t.SongID, &name, &artist, &album, &imageURL, &duration, &likedAt); err != nil {
			return nil, fmt.Errorf("failed to scan legacy track: %w", err)
		}

		t.Name = stringPtr(name)
		t.Artist = stringPtr(artist)
		t.Album = stringPtr(album)
		t.ImageURL = stringPtr(imageURL)
		if duration.Valid {
			d := int(duration.Int64)
			t.DurationMS = &d
		}
		t.LikedAt = timePtr(likedAt)
		tracks = append(tracks, &t)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return tracks, nil
}

// Count returns how many legacy rows userID still owns.
func (r *LegacyRepository) Count(ctx context.Context, userID string) (int, error) {
	var n int
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM legacy_liked_songs WHERE user_id = ?", userID).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count legacy tracks: %w", err)
	}
	return n, nil
}

// Transfer writes items into userID's mirror and deletes the legacy rows named by legacyIDs, atomically.
//
// Items whose track id is already mirrored are left untouched. The returned count is the number of
// items actually inserted. The combined number of writes is bounded by [MaxBatchSize].
func (r *LegacyRepository) Transfer(ctx context.Context, userID string, items []models.LibraryItem, legacyIDs []string) (int, error) {
	if n := len(items) + len(legacyIDs); n > MaxBatchSize {
		return 0, fmt.Errorf("%w: %d operations, limit %d", shared.ErrBatchTooLarge, n, MaxBatchSize)
	}

	syncedAt := r.now()
	inserted := 0
	err := inTx(ctx, r.db, func(tx *sql.Tx) error {
		for i := range items {
			item := items[i]
			if err := item.Validate(); err != nil {
				return err
			}
			item.SyncedAt = syncedAt

			res, err := tx.ExecContext(ctx, insertLibraryItemIfAbsent,
				userID, item.TrackID, item.Title, item.Artist, item.Album, item.CoverURL,
				item.DurationSeconds, item.AddedAt.UTC(), item.SyncedAt,
			)
			if err != nil {
				return fmt.Errorf("insert %s: %w", item.TrackID, err)
			}
			if n, err := res.RowsAffected(); err == nil && n > 0 {
				inserted++
			}
		}

		for _, id := range legacyIDs {
			if _, err := tx.ExecContext(ctx, "DELETE FROM legacy_liked_songs WHERE id = ? AND user_id = ?", id, userID); err != nil {
				return fmt.Errorf("delete legacy %s: %w", id, err)
			}
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("%w: %v", shared.ErrBatchWrite, err)
	}
	return inserted, nil
}

func stringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}
