package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/likesync/internal/models"
	"github.com/desertthunder/likesync/internal/shared"
	"golang.org/x/sync/singleflight"
)

// DefaultRefreshMargin is how close to expiry a token may be before [TokenStore.Get] refreshes it.
const DefaultRefreshMargin = time.Minute

// TokenStoreOptions tunes a [TokenStore]. Zero values select defaults.
type TokenStoreOptions struct {
	Margin time.Duration
	Clock  func() time.Time
	Logger *log.Logger
}

// TokenStore hands out per-user access tokens that are valid for at least the refresh margin.
//
// Refreshes for the same user are collapsed: concurrent callers that find an expiring token share one call
// to the token endpoint.
type TokenStore struct {
	records  TokenRecords
	provider TokenProvider
	margin   time.Duration
	now      func() time.Time
	logger   *log.Logger
	group    singleflight.Group
}

// NewTokenStore creates a [TokenStore] persisting to records and refreshing through provider.
func NewTokenStore(records TokenRecords, provider TokenProvider, opts TokenStoreOptions) *TokenStore {
	s := &TokenStore{
		records:  records,
		provider: provider,
		margin:   opts.Margin,
		now:      opts.Clock,
		logger:   opts.Logger,
	}
	if s.margin <= 0 {
		s.margin = DefaultRefreshMargin
	}
	if s.now == nil {
		s.now = func() time.Time { return time.Now().UTC() }
	}
	if s.logger == nil {
		s.logger = shared.NewLogger(nil)
	}
	return s
}

// Get returns the user's token, refreshing it first when it is expired or about to be.
//
// A user without a stored token gets shared.ErrNoToken.
func (s *TokenStore) Get(ctx context.Context, userID string) (*models.TokenRecord, error) {
	rec, err := s.load(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !rec.ExpiresWithin(s.now(), s.margin) {
		return rec, nil
	}
	return s.refresh(ctx, userID, false)
}

// Store saves a freshly issued token pair for the user, replacing any previous record.
func (s *TokenStore) Store(ctx context.Context, userID string, pair models.TokenPair) (*models.TokenRecord, error) {
	rec := models.NewTokenRecord(userID, pair, s.now())
	if err := s.records.Save(ctx, rec); err != nil {
		return nil, fmt.Errorf("failed to store token: %w", err)
	}
	return rec, nil
}

// Refresh exchanges the stored refresh token regardless of the access token's expiry.
//
// When the provider rejects the refresh grant the record is deleted and the error wraps both
// shared.ErrTokenRefreshFailed and shared.ErrInvalidGrant. Any other failure leaves the record in place.
func (s *TokenStore) Refresh(ctx context.Context, userID string) (*models.TokenRecord, error) {
	return s.refresh(ctx, userID, true)
}

// Remove deletes the user's token. Removing an absent token is not an error.
func (s *TokenStore) Remove(ctx context.Context, userID string) error {
	if err := s.records.Delete(ctx, userID); err != nil {
		return fmt.Errorf("failed to remove token: %w", err)
	}
	return nil
}

func (s *TokenStore) load(ctx context.Context, userID string) (*models.TokenRecord, error) {
	rec, err := s.records.Get(ctx, userID)
	if errors.Is(err, shared.ErrNotFound) {
		return nil, fmt.Errorf("%w: user %s", shared.ErrNoToken, userID)
	}
	if err != nil {
		return nil, err
	}
	return rec, nil
}

func (s *TokenStore) refresh(ctx context.Context, userID string, force bool) (*models.TokenRecord, error) {
	v, err, joined := s.group.Do(userID, func() (any, error) {
		rec, err := s.load(ctx, userID)
		if err != nil {
			return nil, err
		}
		// Another caller may have refreshed between our read and entering the group.
		if !force && !rec.ExpiresWithin(s.now(), s.margin) {
			return rec, nil
		}

		pair, err := s.provider.ExchangeRefreshToken(ctx, rec.RefreshToken)
		if errors.Is(err, shared.ErrInvalidGrant) {
			if derr := s.records.Delete(ctx, userID); derr != nil {
				s.logger.Error("failed to delete revoked token", "user", userID, "error", derr)
			}
			s.logger.Warn("refresh grant rejected, user disconnected", "user", userID)
			return nil, fmt.Errorf("%w: %w", shared.ErrTokenRefreshFailed, err)
		}
		if err != nil {
			return nil, fmt.Errorf("refresh token for %s: %w", userID, err)
		}

		if pair.RefreshToken == "" {
			pair.RefreshToken = rec.RefreshToken
		}
		next := models.NewTokenRecord(userID, pair, s.now())
		if err := s.records.Save(ctx, next); err != nil {
			return nil, fmt.Errorf("failed to store refreshed token: %w", err)
		}

		s.logger.Debug("token refreshed", "user", userID, "expires_at", next.ExpiresAt)
		return next, nil
	})
	if err != nil {
		return nil, err
	}
	if joined {
		s.logger.Debug("joined in-flight refresh", "user", userID)
	}

	rec := *v.(*models.TokenRecord)
	return &rec, nil
}
