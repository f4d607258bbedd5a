package tasks

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/likesync/internal/models"
	"github.com/desertthunder/likesync/internal/services"
	"github.com/desertthunder/likesync/internal/shared"
)

// UpdateResult reports what a single like/unlike changed.
type UpdateResult struct {
	UserID    string
	TrackID   string
	Action    models.Action
	Item      *models.LibraryItem // mirrored item after a like
	MirrorErr error               // set when the remote change succeeded but the mirror write did not
}

// Mirrored reports whether the local mirror reflects the action.
func (r *UpdateResult) Mirrored() bool { return r.MirrorErr == nil }

// UpdateOptions tunes an [UpdateHandler].
type UpdateOptions struct {
	LookupDetails bool // Fetch title/artist/album for liked tracks instead of writing placeholders
	Clock         func() time.Time
	Logger        *log.Logger
}

// UpdateHandler applies single-track likes and unlikes to the remote library and then the mirror.
//
// It does not take the per-user reconciliation guard. Both paths write by track id, so a like or unlike
// interleaved with a reconciliation ends in the state of one of their serial orders.
type UpdateHandler struct {
	tokens  Tokens
	library services.LibraryService
	mirror  Mirror
	meta    Metadata
	lookup  bool
	now     func() time.Time
	logger  *log.Logger
}

// NewUpdateHandler creates an [UpdateHandler] with the provided collaborators.
func NewUpdateHandler(tokens Tokens, library services.LibraryService, mirror Mirror, meta Metadata, opts UpdateOptions) *UpdateHandler {
	h := &UpdateHandler{
		tokens:  tokens,
		library: library,
		mirror:  mirror,
		meta:    meta,
		lookup:  opts.LookupDetails,
		now:     opts.Clock,
		logger:  opts.Logger,
	}
	if h.now == nil {
		h.now = func() time.Time { return time.Now().UTC() }
	}
	if h.logger == nil {
		h.logger = shared.NewLogger(nil)
	}
	return h
}

// Apply performs action for trackID on the remote library, then mirrors it locally, then notes it in the
// user's metadata.
//
// A remote failure is returned and nothing local changes. A mirror failure after the remote change is
// logged and reported in [UpdateResult.MirrorErr]; the next reconciliation repairs it.
func (h *UpdateHandler) Apply(ctx context.Context, userID, trackID string, action models.Action) (*UpdateResult, error) {
	trackID = strings.TrimSpace(trackID)
	switch {
	case userID == "":
		return nil, fmt.Errorf("%w: user id is required", shared.ErrMissingArgument)
	case trackID == "":
		return nil, fmt.Errorf("%w: track id is required", shared.ErrMissingArgument)
	case action != models.ActionLike && action != models.ActionUnlike:
		return nil, fmt.Errorf("%w: action %q", shared.ErrInvalidArgument, action)
	}

	logger := shared.WithLogger(h.logger, "user", userID, "track", trackID, "action", action)
	result := &UpdateResult{UserID: userID, TrackID: trackID, Action: action}

	mutate := h.library.AddItem
	if action == models.ActionUnlike {
		mutate = h.library.RemoveItem
	}
	_, err := withToken(ctx, h.tokens, userID, func(ctx context.Context, accessToken string) (struct{}, error) {
		return struct{}{}, mutate(ctx, accessToken, trackID)
	})
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", action, trackID, err)
	}

	switch action {
	case models.ActionLike:
		item := h.likedItem(ctx, userID, trackID, logger)
		if err := h.mirror.Upsert(ctx, userID, &item); err != nil {
			result.MirrorErr = err
		} else {
			result.Item = &item
		}
	case models.ActionUnlike:
		result.MirrorErr = h.mirror.Delete(ctx, userID, trackID)
	}
	if result.MirrorErr != nil {
		logger.Warn("remote updated but mirror write failed", "error", result.MirrorErr)
	}

	if err := h.meta.RecordAction(ctx, userID, action, trackID); err != nil {
		logger.Warn("failed to record action", "error", err)
	}

	logger.Debug("applied")
	return result, nil
}

// likedItem builds the mirror record for a new like: placeholders, or full details when lookup is enabled
// and succeeds.
func (h *UpdateHandler) likedItem(ctx context.Context, userID, trackID string, logger *log.Logger) models.LibraryItem {
	now := h.now()
	remote := models.RemoteItem{TrackID: trackID, AddedAt: now}

	if h.lookup {
		details, err := withToken(ctx, h.tokens, userID, func(ctx context.Context, accessToken string) (models.RemoteItem, error) {
			return h.library.LookupTrack(ctx, accessToken, trackID)
		})
		if err != nil {
			logger.Debug("track lookup failed, using placeholders", "error", err)
		} else {
			details.TrackID = trackID
			details.AddedAt = now
			remote = details
		}
	}
	return models.FromRemote(remote, now)
}
