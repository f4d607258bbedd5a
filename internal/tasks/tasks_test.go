package tasks

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/desertthunder/likesync/internal/models"
	"github.com/desertthunder/likesync/internal/repositories"
	"github.com/desertthunder/likesync/internal/services"
	"github.com/desertthunder/likesync/internal/shared"
)

func ids(items []models.LibraryItem) []string {
	out := make([]string, len(items))
	for i, item := range items {
		out[i] = item.TrackID
	}
	return out
}

func mirrorItems(idList ...string) []*models.LibraryItem {
	out := make([]*models.LibraryItem, len(idList))
	for i, id := range idList {
		item := models.FromRemote(remoteItem(id, "Title "+id), testNow)
		out[i] = &item
	}
	return out
}

func remoteItems(idList ...string) []models.LibraryItem {
	out := make([]models.LibraryItem, len(idList))
	for i, id := range idList {
		out[i] = models.FromRemote(remoteItem(id, "Title "+id), testNow)
	}
	return out
}

func TestComputeDiff(t *testing.T) {
	tests := []struct {
		name       string
		local      []*models.LibraryItem
		remote     []models.LibraryItem
		wantAdd    []string
		wantUpdate []string
		wantRemove []string
	}{
		{
			name:       "overlapping sets",
			local:      mirrorItems("a", "b", "c"),
			remote:     remoteItems("b", "c", "d"),
			wantAdd:    []string{"d"},
			wantUpdate: []string{"b", "c"},
			wantRemove: []string{"a"},
		},
		{
			name:    "empty mirror",
			remote:  remoteItems("x", "y"),
			wantAdd: []string{"x", "y"},
		},
		{
			name:       "empty remote",
			local:      mirrorItems("z", "a"),
			wantRemove: []string{"a", "z"},
		},
		{
			name:       "identical",
			local:      mirrorItems("a", "b"),
			remote:     remoteItems("a", "b"),
			wantUpdate: []string{"a", "b"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := ComputeDiff(tt.local, tt.remote, testNow)

			if got := ids(d.ToAdd); !slices.Equal(got, tt.wantAdd) && len(got)+len(tt.wantAdd) > 0 {
				t.Errorf("ToAdd = %v, want %v", got, tt.wantAdd)
			}
			if got := ids(d.ToUpdate); !slices.Equal(got, tt.wantUpdate) && len(got)+len(tt.wantUpdate) > 0 {
				t.Errorf("ToUpdate = %v, want %v", got, tt.wantUpdate)
			}
			if !slices.Equal(d.ToRemove, tt.wantRemove) && len(d.ToRemove)+len(tt.wantRemove) > 0 {
				t.Errorf("ToRemove = %v, want %v", d.ToRemove, tt.wantRemove)
			}
		})
	}

	t.Run("counts only changed content as updated", func(t *testing.T) {
		remote := remoteItems("a", "b")
		remote[1].Title = "Renamed"

		c := ComputeDiff(mirrorItems("a", "b"), remote, testNow).Counts()
		if c.Updated != 1 || c.Added != 0 || c.Removed != 0 || c.Total != 2 {
			t.Errorf("unexpected counts: %+v", c)
		}
	})

	t.Run("missing added_at keeps the mirrored value", func(t *testing.T) {
		local := mirrorItems("a")
		local[0].AddedAt = testNow.Add(-48 * time.Hour)

		remote := remoteItems("a", "n")
		remote[0].AddedAt = time.Time{}
		remote[1].AddedAt = time.Time{}

		later := testNow.Add(time.Hour)
		d := ComputeDiff(local, remote, later)

		if c := d.Counts(); c.Updated != 0 || c.Added != 1 {
			t.Errorf("unexpected counts: %+v", c)
		}
		if got := d.ToUpdate[0].AddedAt; !got.Equal(local[0].AddedAt) {
			t.Errorf("expected mirrored added_at %v, got %v", local[0].AddedAt, got)
		}
		if got := d.ToAdd[0].AddedAt; !got.Equal(later) {
			t.Errorf("expected new item added_at %v, got %v", later, got)
		}
	})

	t.Run("ops put upserts in remote order before sorted deletes", func(t *testing.T) {
		ops := ComputeDiff(mirrorItems("q", "b", "m"), remoteItems("z", "b", "a"), testNow).Ops()

		var got []string
		for _, op := range ops {
			got = append(got, op.Kind.String()+":"+op.TrackID)
		}
		want := []string{"upsert:z", "upsert:b", "upsert:a", "delete:m", "delete:q"}
		if !slices.Equal(got, want) {
			t.Errorf("ops = %v, want %v", got, want)
		}
	})
}

func TestPartition(t *testing.T) {
	tests := []struct {
		ops, limit  int
		wantBatches int
	}{
		{ops: 1200, limit: 500, wantBatches: 3},
		{ops: 1200, limit: 100, wantBatches: 12},
		{ops: 500, limit: 500, wantBatches: 1},
		{ops: 501, limit: 500, wantBatches: 2},
		{ops: 0, limit: 500, wantBatches: 0},
		{ops: 1200, limit: 0, wantBatches: 3},
		{ops: 1200, limit: 5000, wantBatches: 3},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("%d ops limit %d", tt.ops, tt.limit), func(t *testing.T) {
			ops := make([]repositories.Op, tt.ops)
			for i := range ops {
				ops[i] = repositories.DeleteOp(fmt.Sprintf("t%d", i))
			}

			batches := Partition(ops, tt.limit)
			if len(batches) != tt.wantBatches {
				t.Fatalf("expected %d batches, got %d", tt.wantBatches, len(batches))
			}

			total := 0
			for _, b := range batches {
				if len(b) > repositories.MaxBatchSize || (tt.limit > 0 && len(b) > tt.limit) {
					t.Errorf("batch of %d exceeds limit", len(b))
				}
				total += len(b)
			}
			if total != tt.ops {
				t.Errorf("expected %d ops across batches, got %d", tt.ops, total)
			}
		})
	}
}

func TestDedupeLastWins(t *testing.T) {
	items := remoteItems("a", "b", "a")
	items[2].Title = "Later"

	out := dedupe(items)
	if len(out) != 2 {
		t.Fatalf("expected 2 items, got %d", len(out))
	}
	if out[0].TrackID != "a" || out[0].Title != "Later" {
		t.Errorf("expected later value at first position, got %+v", out[0])
	}
}

func TestLibraryEngine_Sync(t *testing.T) {
	ctx := context.Background()

	t.Run("diff is applied and recorded", func(t *testing.T) {
		f := newFixture(t, "b", "c", "d")
		f.seedLocal(t, "a", "b", "c")

		res, err := f.engine.Sync(ctx, "u1", nil)
		if err != nil {
			t.Fatalf("sync failed: %v", err)
		}

		want := models.SyncCounts{Added: 1, Updated: 2, Removed: 1, Total: 3}
		if res.Counts != want {
			t.Errorf("counts = %+v, want %+v", res.Counts, want)
		}

		local := f.localIDs(t)
		for _, id := range []string{"b", "c", "d"} {
			if _, ok := local[id]; !ok {
				t.Errorf("expected %s in mirror", id)
			}
		}
		if _, ok := local["a"]; ok {
			t.Error("expected a to be removed")
		}

		meta, _ := f.meta.Get(ctx, "u1")
		if meta.Status != models.StatusCompleted || meta.Counts != want {
			t.Errorf("unexpected metadata: %+v", meta)
		}
	})

	t.Run("second run is idempotent", func(t *testing.T) {
		f := newFixture(t, "a", "b", "c")

		if _, err := f.engine.Sync(ctx, "u1", nil); err != nil {
			t.Fatalf("first sync failed: %v", err)
		}
		res, err := f.engine.Sync(ctx, "u1", nil)
		if err != nil {
			t.Fatalf("second sync failed: %v", err)
		}

		if res.Counts.Added != 0 || res.Counts.Updated != 0 || res.Counts.Removed != 0 {
			t.Errorf("expected no changes on second run, got %+v", res.Counts)
		}
		if res.Counts.Total != 3 {
			t.Errorf("expected total 3, got %d", res.Counts.Total)
		}
	})

	t.Run("second run is idempotent without remote added_at", func(t *testing.T) {
		f := newFixture(t)
		undated := remoteItem("a", "Song")
		undated.AddedAt = time.Time{}
		f.remote.set(undated)

		clock := testNow
		f.engine = NewLibraryEngine(f.tokens, f.remote, f.mirror, f.meta, EngineOptions{
			Clock: func() time.Time {
				clock = clock.Add(time.Minute)
				return clock
			},
			Logger: shared.NewLogger(io.Discard),
		})

		if _, err := f.engine.Sync(ctx, "u1", nil); err != nil {
			t.Fatalf("first sync failed: %v", err)
		}
		first, err := f.library.Get(ctx, "u1", "a")
		if err != nil {
			t.Fatal(err)
		}

		res, err := f.engine.Sync(ctx, "u1", nil)
		if err != nil {
			t.Fatalf("second sync failed: %v", err)
		}
		if want := (models.SyncCounts{Total: 1}); res.Counts != want {
			t.Errorf("counts = %+v, want %+v", res.Counts, want)
		}

		second, err := f.library.Get(ctx, "u1", "a")
		if err != nil {
			t.Fatal(err)
		}
		if !second.AddedAt.Equal(first.AddedAt) {
			t.Errorf("added_at moved from %v to %v", first.AddedAt, second.AddedAt)
		}
	})

	t.Run("converges to remote regardless of mirror", func(t *testing.T) {
		f := newFixture(t)
		f.remote.set(remoteItem("r1", "One"), remoteItem("r2", "Two"))
		f.seedLocal(t, "r1", "x", "y")

		if _, err := f.engine.Sync(ctx, "u1", nil); err != nil {
			t.Fatalf("sync failed: %v", err)
		}

		items, _ := f.library.List(ctx, "u1")
		if len(items) != 2 {
			t.Fatalf("expected 2 items, got %d", len(items))
		}
		for _, item := range items {
			want := models.FromRemote(remoteItem(item.TrackID, map[string]string{"r1": "One", "r2": "Two"}[item.TrackID]), testNow)
			if !item.SameContent(&want) {
				t.Errorf("item %s = %+v, want %+v", item.TrackID, item, want)
			}
		}
	})

	t.Run("commits 1200 changes in bounded batches", func(t *testing.T) {
		f := newFixture(t)
		var remote []models.RemoteItem
		for i := range 1200 {
			remote = append(remote, remoteItem(fmt.Sprintf("t%04d", i), "T"))
		}
		f.remote.set(remote...)

		res, err := f.engine.Sync(ctx, "u1", nil)
		if err != nil {
			t.Fatalf("sync failed: %v", err)
		}
		if res.Batches != 3 || len(f.mirror.batches) != 3 {
			t.Fatalf("expected 3 batches, got %d (%v)", res.Batches, f.mirror.batches)
		}
		for _, n := range f.mirror.batches {
			if n > repositories.MaxBatchSize {
				t.Errorf("batch of %d exceeds limit", n)
			}
		}
		if n, _ := f.library.Count(ctx, "u1"); n != 1200 {
			t.Errorf("expected 1200 mirrored items, got %d", n)
		}
	})

	t.Run("fetch failure leaves mirror untouched", func(t *testing.T) {
		f := newFixture(t, "b", "c", "d", "e")
		f.seedLocal(t, "a")
		f.remote.fetchErr = fmt.Errorf("%w: status 503", shared.ErrTransient)

		if _, err := f.engine.Sync(ctx, "u1", nil); !errors.Is(err, shared.ErrTransient) {
			t.Fatalf("expected ErrTransient, got %v", err)
		}
		if len(f.mirror.batches) != 0 {
			t.Errorf("expected no commits, got %v", f.mirror.batches)
		}
		local := f.localIDs(t)
		if _, ok := local["a"]; !ok || len(local) != 1 {
			t.Errorf("expected mirror unchanged, got %v", local)
		}

		meta, _ := f.meta.Get(ctx, "u1")
		if meta.Status != models.StatusFailed || meta.LastError == "" {
			t.Errorf("expected failed metadata, got %+v", meta)
		}
	})

	t.Run("batch failure is recorded and next run converges", func(t *testing.T) {
		f := newFixture(t)
		f.engine.batchLimit = 2
		f.remote.set(remoteItem("a", "A"), remoteItem("b", "B"), remoteItem("c", "C"), remoteItem("d", "D"))
		f.mirror.failAt = 2

		if _, err := f.engine.Sync(ctx, "u1", nil); !errors.Is(err, shared.ErrBatchWrite) {
			t.Fatalf("expected ErrBatchWrite, got %v", err)
		}
		if n := len(f.localIDs(t)); n != 2 {
			t.Errorf("expected first batch to stay committed, got %d items", n)
		}

		f.mirror.failAt = 0
		if _, err := f.engine.Sync(ctx, "u1", nil); err != nil {
			t.Fatalf("retry failed: %v", err)
		}
		if n := len(f.localIDs(t)); n != 4 {
			t.Errorf("expected convergence to 4 items, got %d", n)
		}
	})

	t.Run("no token fails fast", func(t *testing.T) {
		f := newFixture(t, "a")
		f.tokens.getErr = fmt.Errorf("%w: user u1", shared.ErrNoToken)

		if _, err := f.engine.Sync(ctx, "u1", nil); !errors.Is(err, shared.ErrNoToken) {
			t.Fatalf("expected ErrNoToken, got %v", err)
		}
		if f.remote.fetchCalls != 0 {
			t.Errorf("expected no remote calls, got %d", f.remote.fetchCalls)
		}
	})

	t.Run("unauthorized triggers one refresh and retry", func(t *testing.T) {
		f := newFixture(t, "a", "b")
		f.tokens.token = "stale"

		if _, err := f.engine.Sync(ctx, "u1", nil); err != nil {
			t.Fatalf("sync failed: %v", err)
		}
		if f.tokens.refreshes != 1 || f.remote.fetchCalls != 2 {
			t.Errorf("expected 1 refresh and 2 fetches, got %d and %d", f.tokens.refreshes, f.remote.fetchCalls)
		}
	})

	t.Run("repeated unauthorized is fatal", func(t *testing.T) {
		f := newFixture(t, "a")
		f.tokens.token = "stale"
		f.tokens.refreshed = "still-stale"

		if _, err := f.engine.Sync(ctx, "u1", nil); !errors.Is(err, shared.ErrUnauthorized) {
			t.Fatalf("expected ErrUnauthorized, got %v", err)
		}
		if f.tokens.refreshes != 1 {
			t.Errorf("expected a single refresh, got %d", f.tokens.refreshes)
		}
	})

	t.Run("claim held elsewhere is rejected", func(t *testing.T) {
		f := newFixture(t, "a")
		f.engine.staleAfter = time.Hour
		if err := f.meta.Begin(ctx, "u1", time.Hour); err != nil {
			t.Fatalf("failed to take claim: %v", err)
		}

		if _, err := f.engine.Sync(ctx, "u1", nil); !errors.Is(err, shared.ErrSyncInProgress) {
			t.Fatalf("expected ErrSyncInProgress, got %v", err)
		}
		if f.remote.fetchCalls != 0 {
			t.Error("expected no fetch while another run holds the claim")
		}
	})

	t.Run("concurrent triggers run once", func(t *testing.T) {
		f := newFixture(t, "a", "b", "c")
		gate := make(chan struct{})
		f.engine.library = &gatedLibrary{LibraryService: f.remote, gate: gate}

		var wg sync.WaitGroup
		errs := make([]error, 4)
		for i := range errs {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, errs[i] = f.engine.Sync(ctx, "u1", nil)
			}()
		}
		time.Sleep(20 * time.Millisecond)
		close(gate)
		wg.Wait()

		for _, err := range errs {
			if err != nil && !errors.Is(err, shared.ErrSyncInProgress) {
				t.Errorf("unexpected error: %v", err)
			}
		}
		if f.remote.fetchCalls > 2 {
			t.Errorf("expected concurrent triggers to share a run, got %d fetches", f.remote.fetchCalls)
		}
		if n := len(f.localIDs(t)); n != 3 {
			t.Errorf("expected 3 items, got %d", n)
		}
	})

	t.Run("joined caller outlives the caller that started the run", func(t *testing.T) {
		f := newFixture(t, "a", "b")
		gate, entered := make(chan struct{}), make(chan struct{}, 4)
		f.engine.library = &gatedLibrary{LibraryService: f.remote, gate: gate, entered: entered}

		firstCtx, cancelFirst := context.WithCancel(ctx)
		defer cancelFirst()
		firstErr := make(chan error, 1)
		go func() {
			_, err := f.engine.Sync(firstCtx, "u1", nil)
			firstErr <- err
		}()
		<-entered

		progress := make(chan ProgressUpdate, 32)
		type outcome struct {
			res *SyncResult
			err error
		}
		second := make(chan outcome, 1)
		go func() {
			res, err := f.engine.Sync(ctx, "u1", progress)
			second <- outcome{res, err}
		}()
		eventually(t, "second caller to join", func() bool { return f.engine.waiters("u1") == 2 })

		cancelFirst()
		if err := <-firstErr; !errors.Is(err, context.Canceled) {
			t.Errorf("expected first caller to see context.Canceled, got %v", err)
		}

		close(gate)
		got := <-second
		if got.err != nil {
			t.Fatalf("joined caller failed: %v", got.err)
		}
		if got.res.Counts.Total != 2 || f.remote.fetchCalls != 1 {
			t.Errorf("expected one shared run of 2 tracks, got %+v after %d fetches", got.res.Counts, f.remote.fetchCalls)
		}

		close(progress)
		var last Phase
		for u := range progress {
			last = u.Phase
		}
		if last != Finished {
			t.Errorf("expected joined caller to receive progress ending in %s, got %s", Finished, last)
		}
	})

	t.Run("run stops once every caller has left", func(t *testing.T) {
		f := newFixture(t, "a")
		gate, entered := make(chan struct{}), make(chan struct{}, 4)
		defer close(gate)
		f.engine.library = &gatedLibrary{LibraryService: f.remote, gate: gate, entered: entered}

		callCtx, cancel := context.WithCancel(ctx)
		errs := make(chan error, 1)
		go func() {
			_, err := f.engine.Sync(callCtx, "u1", nil)
			errs <- err
		}()
		<-entered

		cancel()
		if err := <-errs; !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled, got %v", err)
		}

		eventually(t, "abandoned run to be recorded", func() bool {
			meta, err := f.meta.Get(ctx, "u1")
			return err == nil && meta.Status == models.StatusFailed
		})
		if n := len(f.localIDs(t)); n != 0 {
			t.Errorf("expected mirror untouched, got %d items", n)
		}
	})

	t.Run("progress is reported", func(t *testing.T) {
		f := newFixture(t, "a")
		progress := make(chan ProgressUpdate, 32)

		if _, err := f.engine.Sync(ctx, "u1", progress); err != nil {
			t.Fatalf("sync failed: %v", err)
		}
		close(progress)

		var phases []Phase
		for u := range progress {
			phases = append(phases, u.Phase)
		}
		if len(phases) == 0 || phases[len(phases)-1] != Finished {
			t.Errorf("expected updates ending in %s, got %v", Finished, phases)
		}
	})
}

func TestLibraryEngine_SyncAll(t *testing.T) {
	f := newFixture(t, "a", "b")

	outcomes := f.engine.SyncAll(context.Background(), []string{"u1", "u2", "u3"}, 2)
	if len(outcomes) != 3 {
		t.Fatalf("expected 3 outcomes, got %d", len(outcomes))
	}
	for _, o := range outcomes {
		if o.Err != nil {
			t.Errorf("user %s: %v", o.UserID, o.Err)
		}
		if o.Result == nil || o.Result.Counts.Total != 2 {
			t.Errorf("user %s: unexpected result %+v", o.UserID, o.Result)
		}
	}
}

func TestScheduler(t *testing.T) {
	f := newFixture(t, "a")
	s := NewScheduler(f.engine, staticUsers{"u1", "u2"}, time.Hour, 2, shared.NewLogger(io.Discard))

	outcomes, err := s.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if len(outcomes) != 2 {
		t.Errorf("expected 2 outcomes, got %d", len(outcomes))
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := s.Run(ctx); err != nil {
		t.Errorf("expected clean shutdown, got %v", err)
	}
}

type staticUsers []string

func (s staticUsers) ListUserIDs(context.Context) ([]string, error) { return s, nil }

// gatedLibrary blocks fetches until gate is closed or the fetch's context ends.
type gatedLibrary struct {
	services.LibraryService
	gate    chan struct{}
	entered chan struct{} // signalled as each fetch starts, when set
}

func (g *gatedLibrary) FetchAllLiked(ctx context.Context, accessToken string) iter.Seq2[models.RemoteItem, error] {
	return func(yield func(models.RemoteItem, error) bool) {
		if g.entered != nil {
			g.entered <- struct{}{}
		}
		select {
		case <-g.gate:
		case <-ctx.Done():
			yield(models.RemoteItem{}, ctx.Err())
			return
		}
		for item, err := range g.LibraryService.FetchAllLiked(ctx, accessToken) {
			if !yield(item, err) {
				return
			}
		}
	}
}

// eventually polls cond until it holds or a second passes.
func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

func (e *LibraryEngine) waiters(userID string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	if f, ok := e.flights[userID]; ok {
		return f.waiters
	}
	return 0
}
