package repositories

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/desertthunder/likesync/internal/models"
	"github.com/desertthunder/likesync/internal/shared"
)

// TokenRepository persists one [models.TokenRecord] per user.
type TokenRepository struct {
	db  *sql.DB
	now Clock
}

// NewTokenRepository creates a new [TokenRepository] with the given database connection
func NewTokenRepository(db *sql.DB) *TokenRepository {
	return &TokenRepository{db: db, now: utcNow}
}

// SetClock replaces the clock used for UpdatedAt.
func (r *TokenRepository) SetClock(c Clock) { r.now = c }

// Get retrieves the token record for userID, wrapping shared.ErrNotFound when the user has none.
func (r *TokenRepository) Get(ctx context.Context, userID string) (*models.TokenRecord, error) {
	query := `
		SELECT user_id, access_token, refresh_token, expires_at, updated_at
		FROM oauth_tokens
		WHERE user_id = ?
	`

	var rec models.TokenRecord
	err := r.db.QueryRowContext(ctx, query, userID).Scan(
		&rec.UserID, &rec.AccessToken, &rec.RefreshToken, &rec.ExpiresAt, &rec.UpdatedAt,
	)
	if isNoRows(err) {
		return nil, notFound("token for user", userID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query token: %w", err)
	}

	rec.ExpiresAt = rec.ExpiresAt.UTC()
	rec.UpdatedAt = rec.UpdatedAt.UTC()
	return &rec, nil
}

// Save replaces the user's token record wholesale.
func (r *TokenRepository) Save(ctx context.Context, rec *models.TokenRecord) error {
	if err := rec.Validate(); err != nil {
		return fmt.Errorf("%w: %w", shared.ErrInvalidInput, err)
	}

	rec.UpdatedAt = r.now()

	query := `
		INSERT INTO oauth_tokens (user_id, access_token, refresh_token, expires_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			access_token = excluded.access_token,
			refresh_token = excluded.refresh_token,
			expires_at = excluded.expires_at,
			updated_at = excluded.updated_at
	`

	_, err := r.db.ExecContext(ctx, query, rec.UserID, rec.AccessToken, rec.RefreshToken, rec.ExpiresAt.UTC(), rec.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to save token: %w", err)
	}
	return nil
}

// Delete removes the user's token record. Deleting a missing record is not an error.
func (r *TokenRepository) Delete(ctx context.Context, userID string) error {
	if _, err := r.db.ExecContext(ctx, "DELETE FROM oauth_tokens WHERE user_id = ?", userID); err != nil {
		return fmt.Errorf("failed to delete token: %w", err)
	}
	return nil
}

// ListUserIDs returns every user with a stored token, in stable order.
func (r *TokenRepository) ListUserIDs(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, "SELECT user_id FROM oauth_tokens ORDER BY user_id")
	if err != nil {
		return nil, fmt.Errorf("failed to query linked users: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan user id: %w", err)
		}
		ids = append(ids, id)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return ids, nil
}
