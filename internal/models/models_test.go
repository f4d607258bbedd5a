package models

import (
	"testing"
	"time"
)

var epoch = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func ptr[T any](v T) *T { return &v }

func TestTokenRecord(t *testing.T) {
	t.Run("NewTokenRecord computes expiry", func(t *testing.T) {
		rec := NewTokenRecord("u1", TokenPair{AccessToken: "a", RefreshToken: "r", ExpiresIn: time.Hour}, epoch)
		if !rec.ExpiresAt.Equal(epoch.Add(time.Hour)) {
			t.Errorf("expected expiry %v, got %v", epoch.Add(time.Hour), rec.ExpiresAt)
		}
		if err := rec.Validate(); err != nil {
			t.Errorf("expected valid record, got %v", err)
		}
	})

	t.Run("ExpiresWithin", func(t *testing.T) {
		rec := &TokenRecord{ExpiresAt: epoch}
		tt := []struct {
			name   string
			now    time.Time
			margin time.Duration
			want   bool
		}{
			{name: "well before expiry", now: epoch.Add(-time.Hour), margin: time.Minute, want: false},
			{name: "inside margin", now: epoch.Add(-30 * time.Second), margin: time.Minute, want: true},
			{name: "exactly at expiry", now: epoch, margin: 0, want: true},
			{name: "past expiry", now: epoch.Add(time.Second), margin: 0, want: true},
		}
		for _, tc := range tt {
			t.Run(tc.name, func(t *testing.T) {
				if got := rec.ExpiresWithin(tc.now, tc.margin); got != tc.want {
					t.Errorf("ExpiresWithin() = %v, want %v", got, tc.want)
				}
			})
		}
	})

	t.Run("Validate", func(t *testing.T) {
		tt := []struct {
			name string
			rec  TokenRecord
		}{
			{name: "missing user", rec: TokenRecord{AccessToken: "a", RefreshToken: "r", ExpiresAt: epoch}},
			{name: "missing access", rec: TokenRecord{UserID: "u", RefreshToken: "r", ExpiresAt: epoch}},
			{name: "missing refresh", rec: TokenRecord{UserID: "u", AccessToken: "a", ExpiresAt: epoch}},
			{name: "missing expiry", rec: TokenRecord{UserID: "u", AccessToken: "a", RefreshToken: "r"}},
		}
		for _, tc := range tt {
			t.Run(tc.name, func(t *testing.T) {
				if err := tc.rec.Validate(); err == nil {
					t.Error("expected validation error")
				}
			})
		}
	})
}

func TestFromRemote(t *testing.T) {
	t.Run("maps all fields", func(t *testing.T) {
		item := FromRemote(RemoteItem{
			TrackID:    "t1",
			Title:      "Song",
			Artists:    []string{"A", " B "},
			Album:      "Album",
			CoverURL:   "https://i.scdn.co/image/1",
			DurationMS: 215999,
			AddedAt:    epoch,
		}, time.Time{})

		want := LibraryItem{
			TrackID:         "t1",
			Title:           "Song",
			Artist:          "A, B",
			Album:           "Album",
			CoverURL:        "https://i.scdn.co/image/1",
			DurationSeconds: 215,
			AddedAt:         epoch,
		}
		if !item.SameContent(&want) {
			t.Errorf("FromRemote() = %+v, want %+v", item, want)
		}
	})

	t.Run("applies defaults", func(t *testing.T) {
		fallback := epoch.Add(time.Hour)
		item := FromRemote(RemoteItem{TrackID: "t2", Artists: []string{" "}, DurationMS: -5}, fallback)

		if item.Title != UnknownTitle {
			t.Errorf("expected default title, got %q", item.Title)
		}
		if item.Artist != UnknownArtist {
			t.Errorf("expected default artist, got %q", item.Artist)
		}
		if item.DurationSeconds != 0 {
			t.Errorf("expected zero duration, got %d", item.DurationSeconds)
		}
		if !item.AddedAt.Equal(fallback) {
			t.Errorf("expected fallback added at, got %v", item.AddedAt)
		}
		if err := item.Validate(); err != nil {
			t.Errorf("defaulted item should validate, got %v", err)
		}
	})
}

func TestFromLegacy(t *testing.T) {
	t.Run("full row", func(t *testing.T) {
		item := FromLegacy(LegacyTrack{
			ID:         "l1",
			UserID:     "u1",
			SongID:     "t1",
			Name:       ptr("Song"),
			Artist:     ptr("Artist"),
			Album:      ptr("Album"),
			ImageURL:   ptr("https://img"),
			DurationMS: ptr(180000),
			LikedAt:    ptr(epoch),
		}, time.Time{})

		if item.TrackID != "t1" || item.Title != "Song" || item.Artist != "Artist" {
			t.Errorf("unexpected mapping: %+v", item)
		}
		if item.DurationSeconds != 180 {
			t.Errorf("expected 180s, got %d", item.DurationSeconds)
		}
		if !item.AddedAt.Equal(epoch) {
			t.Errorf("expected liked at to become added at, got %v", item.AddedAt)
		}
	})

	t.Run("sparse row", func(t *testing.T) {
		item := FromLegacy(LegacyTrack{ID: "l2", UserID: "u1", SongID: "t2"}, epoch)
		if item.Title != UnknownTitle || item.Artist != UnknownArtist {
			t.Errorf("expected defaults, got %+v", item)
		}
		if !item.AddedAt.Equal(epoch) {
			t.Errorf("expected fallback added at, got %v", item.AddedAt)
		}
	})
}

func TestLibraryItem(t *testing.T) {
	base := LibraryItem{TrackID: "t1", Title: "S", Artist: "A", AddedAt: epoch, SyncedAt: epoch}

	t.Run("SameContent ignores SyncedAt", func(t *testing.T) {
		other := base
		other.SyncedAt = epoch.Add(time.Hour)
		if !base.SameContent(&other) {
			t.Error("expected same content")
		}
	})

	t.Run("SameContent detects field change", func(t *testing.T) {
		other := base
		other.Title = "Remastered"
		if base.SameContent(&other) {
			t.Error("expected different content")
		}
	})

	t.Run("Validate requires track id", func(t *testing.T) {
		item := base
		item.TrackID = " "
		if err := item.Validate(); err == nil {
			t.Error("expected validation error")
		}
	})
}

func TestParseAction(t *testing.T) {
	if a, err := ParseAction(" Like "); err != nil || a != ActionLike {
		t.Errorf("ParseAction(Like) = %v, %v", a, err)
	}
	if a, err := ParseAction("unlike"); err != nil || a != ActionUnlike {
		t.Errorf("ParseAction(unlike) = %v, %v", a, err)
	}
	if _, err := ParseAction("share"); err == nil {
		t.Error("expected error for unknown action")
	}
}
