// package services defines the provider-facing interfaces used by the sync engine
//
// Spotify is the only provider.
package services

import (
	"context"
	"iter"

	"github.com/desertthunder/likesync/internal/models"
)

// LibraryService is read and write access to a user's remote liked-tracks collection.
//
// Every call takes the caller's access token explicitly; implementations hold no per-user token state.
// A rejected token surfaces as an error wrapping shared.ErrUnauthorized.
type LibraryService interface {
	// FetchAllLiked pages through the whole liked collection. The sequence is lazy and can be ranged over again
	// to restart from the first page. An error is yielded at most once and ends the sequence.
	FetchAllLiked(ctx context.Context, accessToken string) iter.Seq2[models.RemoteItem, error]

	// AddItem saves trackID to the liked collection.
	AddItem(ctx context.Context, accessToken, trackID string) error

	// RemoveItem removes trackID from the liked collection.
	RemoveItem(ctx context.Context, accessToken, trackID string) error

	// LookupTrack returns display details for a single track.
	LookupTrack(ctx context.Context, accessToken, trackID string) (models.RemoteItem, error)
}

// TokenProvider exchanges a refresh token for a new token pair.
//
// A refresh token the provider no longer accepts surfaces as an error wrapping shared.ErrInvalidGrant.
type TokenProvider interface {
	ExchangeRefreshToken(ctx context.Context, refreshToken string) (models.TokenPair, error)
}

// TokenRecords is the persistence [TokenStore] needs.
type TokenRecords interface {
	Get(ctx context.Context, userID string) (*models.TokenRecord, error)
	Save(ctx context.Context, rec *models.TokenRecord) error
	Delete(ctx context.Context, userID string) error
}
