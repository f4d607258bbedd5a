package tasks

import (
	"context"
	"errors"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/desertthunder/likesync/internal/models"
	"github.com/desertthunder/likesync/internal/shared"
)

func newHandler(f *fixture, mirror Mirror, lookup bool) *UpdateHandler {
	return NewUpdateHandler(f.tokens, f.remote, mirror, f.meta, UpdateOptions{
		LookupDetails: lookup,
		Clock:         func() time.Time { return testNow },
		Logger:        shared.NewLogger(io.Discard),
	})
}

func TestUpdateHandler_Apply(t *testing.T) {
	ctx := context.Background()

	t.Run("like mirrors a placeholder item", func(t *testing.T) {
		f := newFixture(t)
		h := newHandler(f, f.library, false)

		res, err := h.Apply(ctx, "u1", "t1", models.ActionLike)
		if err != nil {
			t.Fatalf("apply failed: %v", err)
		}
		if !res.Mirrored() {
			t.Errorf("expected mirror write, got %v", res.MirrorErr)
		}

		item, err := f.library.Get(ctx, "u1", "t1")
		if err != nil {
			t.Fatalf("expected mirrored item: %v", err)
		}
		if item.Title != models.UnknownTitle || item.Artist != models.UnknownArtist {
			t.Errorf("expected placeholders, got %+v", item)
		}
		if len(f.remote.added) != 1 {
			t.Errorf("expected one remote add, got %v", f.remote.added)
		}
	})

	t.Run("like with lookup stores details", func(t *testing.T) {
		f := newFixture(t)
		h := newHandler(f, f.library, true)

		if _, err := h.Apply(ctx, "u1", "t1", models.ActionLike); err != nil {
			t.Fatalf("apply failed: %v", err)
		}
		item, _ := f.library.Get(ctx, "u1", "t1")
		if item.Title != "Looked Up" {
			t.Errorf("expected looked up title, got %s", item.Title)
		}
	})

	t.Run("unlike deletes from mirror", func(t *testing.T) {
		f := newFixture(t, "t1")
		f.seedLocal(t, "t1")
		h := newHandler(f, f.library, false)

		if _, err := h.Apply(ctx, "u1", "t1", models.ActionUnlike); err != nil {
			t.Fatalf("apply failed: %v", err)
		}
		if _, err := f.library.Get(ctx, "u1", "t1"); !errors.Is(err, shared.ErrNotFound) {
			t.Errorf("expected item removed, got %v", err)
		}
	})

	t.Run("remote failure leaves mirror untouched", func(t *testing.T) {
		f := newFixture(t)
		f.remote.mutateErr = fmt.Errorf("%w: status 500", shared.ErrTransient)
		h := newHandler(f, f.library, false)

		if _, err := h.Apply(ctx, "u1", "t1", models.ActionLike); !errors.Is(err, shared.ErrTransient) {
			t.Fatalf("expected ErrTransient, got %v", err)
		}
		if _, err := f.library.Get(ctx, "u1", "t1"); !errors.Is(err, shared.ErrNotFound) {
			t.Errorf("expected no local change, got %v", err)
		}
		meta, _ := f.meta.Get(ctx, "u1")
		if meta.LastAction != "" {
			t.Errorf("expected no recorded action, got %s", meta.LastAction)
		}
	})

	t.Run("mirror failure is reported, not returned", func(t *testing.T) {
		f := newFixture(t)
		h := newHandler(f, failingMirror{Mirror: f.library}, false)

		res, err := h.Apply(ctx, "u1", "t1", models.ActionLike)
		if err != nil {
			t.Fatalf("expected success after remote change, got %v", err)
		}
		if res.Mirrored() {
			t.Error("expected mirror error to be reported")
		}
		if len(f.remote.added) != 1 {
			t.Error("remote change must not be rolled back")
		}
	})

	t.Run("records action without touching counters", func(t *testing.T) {
		f := newFixture(t, "a", "b")
		if _, err := f.engine.Sync(ctx, "u1", nil); err != nil {
			t.Fatalf("sync failed: %v", err)
		}
		h := newHandler(f, f.library, false)

		if _, err := h.Apply(ctx, "u1", "c", models.ActionLike); err != nil {
			t.Fatalf("apply failed: %v", err)
		}

		meta, _ := f.meta.Get(ctx, "u1")
		if meta.LastAction != models.ActionLike || meta.LastTrackID != "c" {
			t.Errorf("unexpected action fields: %+v", meta)
		}
		if meta.Counts.Total != 2 || meta.Counts.Added != 2 {
			t.Errorf("expected counters from the sync, got %+v", meta.Counts)
		}
		if meta.Status != models.StatusCompleted {
			t.Errorf("expected completed, got %s", meta.Status)
		}
	})

	t.Run("unauthorized refreshes once", func(t *testing.T) {
		f := newFixture(t)
		f.tokens.token = "stale"
		h := newHandler(f, f.library, false)

		if _, err := h.Apply(ctx, "u1", "t1", models.ActionLike); err != nil {
			t.Fatalf("apply failed: %v", err)
		}
		if f.tokens.refreshes != 1 {
			t.Errorf("expected one refresh, got %d", f.tokens.refreshes)
		}
	})

	t.Run("rejects bad input", func(t *testing.T) {
		f := newFixture(t)
		h := newHandler(f, f.library, false)

		tests := []struct {
			user, track string
			action      models.Action
		}{
			{"", "t1", models.ActionLike},
			{"u1", "  ", models.ActionLike},
			{"u1", "t1", models.Action("star")},
		}
		for _, tt := range tests {
			if _, err := h.Apply(ctx, tt.user, tt.track, tt.action); err == nil {
				t.Errorf("expected error for %+v", tt)
			}
		}
		if len(f.remote.added) != 0 {
			t.Error("expected no remote calls for invalid input")
		}
	})
}

func TestLikeThenReconcile(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "a")
	h := newHandler(f, f.library, false)

	if _, err := f.engine.Sync(ctx, "u1", nil); err != nil {
		t.Fatalf("sync failed: %v", err)
	}
	if _, err := h.Apply(ctx, "u1", "liked", models.ActionLike); err != nil {
		t.Fatalf("apply failed: %v", err)
	}
	if _, err := f.engine.Sync(ctx, "u1", nil); err != nil {
		t.Fatalf("sync failed: %v", err)
	}

	var count int
	if err := f.db.QueryRow("SELECT COUNT(*) FROM library_items WHERE user_id = ? AND track_id = ?", "u1", "liked").Scan(&count); err != nil {
		t.Fatalf("count failed: %v", err)
	}
	if count != 1 {
		t.Errorf("expected exactly one record for the liked track, got %d", count)
	}

	item, _ := f.library.Get(ctx, "u1", "liked")
	if item.Title != "Title liked" {
		t.Errorf("expected reconciliation to replace placeholders, got %s", item.Title)
	}
}

func TestUnlikeThenReconcile(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "a", "b")
	h := newHandler(f, f.library, false)

	if _, err := f.engine.Sync(ctx, "u1", nil); err != nil {
		t.Fatalf("sync failed: %v", err)
	}
	if _, err := h.Apply(ctx, "u1", "b", models.ActionUnlike); err != nil {
		t.Fatalf("apply failed: %v", err)
	}
	res, err := f.engine.Sync(ctx, "u1", nil)
	if err != nil {
		t.Fatalf("sync failed: %v", err)
	}

	if res.Counts.Removed != 0 || res.Counts.Added != 0 {
		t.Errorf("expected the unlike to already be consistent, got %+v", res.Counts)
	}
	if ids := f.localIDs(t); len(ids) != 1 {
		t.Errorf("expected one item, got %v", ids)
	}
}
