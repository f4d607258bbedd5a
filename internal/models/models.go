// package models defines the data model for the liked-tracks synchronization engine
package models

import (
	"fmt"
	"strings"
	"time"
)

// Defaults substituted when an external representation omits a display field.
const (
	UnknownTitle  = "Unknown Title"
	UnknownArtist = "Unknown Artist"
)

// TokenPair is a token grant as returned by the provider's token endpoint.
//
// RefreshToken may be empty when the provider keeps the previous one valid.
type TokenPair struct {
	AccessToken  string
	RefreshToken string
	ExpiresIn    time.Duration
}

// TokenRecord is the stored OAuth credential for one user. There is at most one per user.
type TokenRecord struct {
	UserID       string
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
	UpdatedAt    time.Time
}

// NewTokenRecord builds a record for userID from pair, computing ExpiresAt relative to now.
func NewTokenRecord(userID string, pair TokenPair, now time.Time) *TokenRecord {
	return &TokenRecord{
		UserID:       userID,
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
		ExpiresAt:    now.Add(pair.ExpiresIn).UTC(),
		UpdatedAt:    now.UTC(),
	}
}

// ExpiresWithin reports whether the access token is expired at now or will be within margin.
func (t *TokenRecord) ExpiresWithin(now time.Time, margin time.Duration) bool {
	return !now.Add(margin).Before(t.ExpiresAt)
}

// Validate checks that the record identifies a user and carries both tokens.
func (t *TokenRecord) Validate() error {
	switch {
	case strings.TrimSpace(t.UserID) == "":
		return fmt.Errorf("token record: user id is required")
	case t.AccessToken == "":
		return fmt.Errorf("token record: access token is required")
	case t.RefreshToken == "":
		return fmt.Errorf("token record: refresh token is required")
	case t.ExpiresAt.IsZero():
		return fmt.Errorf("token record: expiry is required")
	}
	return nil
}

// RemoteItem is one liked track as reported by the remote library.
type RemoteItem struct {
	TrackID    string
	Title      string
	Artists    []string
	Album      string
	CoverURL   string
	DurationMS int
	AddedAt    time.Time
}

// LibraryItem is one track in a user's local mirror.
type LibraryItem struct {
	TrackID         string
	Title           string
	Artist          string
	Album           string
	CoverURL        string
	DurationSeconds int
	AddedAt         time.Time // reported by the remote service; ordering only
	SyncedAt        time.Time // assigned by the store on every write
}

// Validate checks the fields the store requires.
func (i *LibraryItem) Validate() error {
	switch {
	case strings.TrimSpace(i.TrackID) == "":
		return fmt.Errorf("library item: track id is required")
	case i.Title == "":
		return fmt.Errorf("library item %s: title is required", i.TrackID)
	case i.Artist == "":
		return fmt.Errorf("library item %s: artist is required", i.TrackID)
	case i.DurationSeconds < 0:
		return fmt.Errorf("library item %s: negative duration", i.TrackID)
	}
	return nil
}

// SameContent reports whether two items carry identical display fields and AddedAt, ignoring SyncedAt.
func (i *LibraryItem) SameContent(o *LibraryItem) bool {
	return i.TrackID == o.TrackID &&
		i.Title == o.Title &&
		i.Artist == o.Artist &&
		i.Album == o.Album &&
		i.CoverURL == o.CoverURL &&
		i.DurationSeconds == o.DurationSeconds &&
		i.AddedAt.Equal(o.AddedAt)
}

// FromRemote maps a remote liked track into the mirror schema.
//
// Multiple artists are joined with ", ". Missing title or artist become [UnknownTitle] / [UnknownArtist],
// a missing AddedAt becomes fallbackAddedAt, and negative durations become zero.
func FromRemote(r RemoteItem, fallbackAddedAt time.Time) LibraryItem {
	artists := make([]string, 0, len(r.Artists))
	for _, a := range r.Artists {
		if a = strings.TrimSpace(a); a != "" {
			artists = append(artists, a)
		}
	}

	item := LibraryItem{
		TrackID:         strings.TrimSpace(r.TrackID),
		Title:           orDefault(r.Title, UnknownTitle),
		Artist:          orDefault(strings.Join(artists, ", "), UnknownArtist),
		Album:           strings.TrimSpace(r.Album),
		CoverURL:        strings.TrimSpace(r.CoverURL),
		DurationSeconds: max(r.DurationMS, 0) / 1000,
		AddedAt:         r.AddedAt.UTC(),
	}
	if r.AddedAt.IsZero() {
		item.AddedAt = fallbackAddedAt.UTC()
	}
	return item
}

// LegacyTrack is a liked song stored in the pre-mirror layout: one flat collection tagged with the owner's id.
//
// Nullable columns are pointers; older writers left them unset.
type LegacyTrack struct {
	ID         string
	UserID     string
	SongID     string
	Name       *string
	Artist     *string
	Album      *string
	ImageURL   *string
	DurationMS *int
	LikedAt    *time.Time
}

// FromLegacy maps a legacy row into the mirror schema with the same defaults as [FromRemote].
func FromLegacy(l LegacyTrack, fallbackAddedAt time.Time) LibraryItem {
	r := RemoteItem{TrackID: l.SongID, AddedAt: fallbackAddedAt}
	if l.Name != nil {
		r.Title = *l.Name
	}
	if l.Artist != nil {
		r.Artists = []string{*l.Artist}
	}
	if l.Album != nil {
		r.Album = *l.Album
	}
	if l.ImageURL != nil {
		r.CoverURL = *l.ImageURL
	}
	if l.DurationMS != nil {
		r.DurationMS = *l.DurationMS
	}
	if l.LikedAt != nil && !l.LikedAt.IsZero() {
		r.AddedAt = *l.LikedAt
	}
	return FromRemote(r, fallbackAddedAt)
}

// SyncStatus is the lifecycle state of a user's reconciliation.
//
// Reconciliation moves never|completed|failed → in_progress → completed|failed; the metadata store
// enforces this with guarded updates. A real-time like or unlike is the one other writer: it moves any
// status except in_progress to completed, since the mirror reflects the user's latest action.
type SyncStatus string

const (
	StatusNever      SyncStatus = "never"
	StatusInProgress SyncStatus = "in_progress"
	StatusCompleted  SyncStatus = "completed"
	StatusFailed     SyncStatus = "failed"
)

// Action is a single-track library mutation requested by the user.
type Action string

const (
	ActionLike   Action = "like"
	ActionUnlike Action = "unlike"
)

// ParseAction validates s as an [Action].
func ParseAction(s string) (Action, error) {
	switch a := Action(strings.ToLower(strings.TrimSpace(s))); a {
	case ActionLike, ActionUnlike:
		return a, nil
	default:
		return "", fmt.Errorf("unknown action %q", s)
	}
}

// SyncCounts are the per-run diff sizes recorded after a reconciliation.
type SyncCounts struct {
	Added   int
	Updated int
	Removed int
	Total   int
}

// SyncMetadata is the per-user sync bookkeeping record.
type SyncMetadata struct {
	UserID      string
	Status      SyncStatus
	LastSyncAt  *time.Time
	StartedAt   *time.Time
	Counts      SyncCounts
	LastError   string // set only when Status is failed
	LastAction  Action
	LastTrackID string
	UpdatedAt   time.Time
}

// NewSyncMetadata returns the metadata of a user that has never been synced.
func NewSyncMetadata(userID string) *SyncMetadata {
	return &SyncMetadata{UserID: userID, Status: StatusNever}
}

func orDefault(s, def string) string {
	if s = strings.TrimSpace(s); s == "" {
		return def
	}
	return s
}
