package tasks

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"iter"
	"sync"
	"testing"
	"time"

	"github.com/desertthunder/likesync/internal/models"
	"github.com/desertthunder/likesync/internal/repositories"
	"github.com/desertthunder/likesync/internal/shared"
)

var testNow = time.Date(2025, 7, 1, 8, 0, 0, 0, time.UTC)

// mockLibrary is an in-memory remote liked collection.
type mockLibrary struct {
	mu          sync.Mutex
	items       []models.RemoteItem
	validToken  string
	fetchErr    error
	mutateErr   error
	fetchCalls  int
	added       []string
	removed     []string
	lookupCalls int
}

func newMockLibrary(ids ...string) *mockLibrary {
	m := &mockLibrary{validToken: "valid"}
	for _, id := range ids {
		m.items = append(m.items, remoteItem(id, "Title "+id))
	}
	return m
}

func remoteItem(id, title string) models.RemoteItem {
	return models.RemoteItem{TrackID: id, Title: title, Artists: []string{"Artist"}, DurationMS: 200000, AddedAt: testNow}
}

func (m *mockLibrary) set(items ...models.RemoteItem) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items = items
}

func (m *mockLibrary) FetchAllLiked(ctx context.Context, accessToken string) iter.Seq2[models.RemoteItem, error] {
	return func(yield func(models.RemoteItem, error) bool) {
		m.mu.Lock()
		m.fetchCalls++
		items := append([]models.RemoteItem(nil), m.items...)
		fetchErr, valid := m.fetchErr, m.validToken
		m.mu.Unlock()

		if accessToken != valid {
			yield(models.RemoteItem{}, &shared.RemoteError{StatusCode: 401, Endpoint: "GET /me/tracks"})
			return
		}
		for i, item := range items {
			if fetchErr != nil && i == len(items)/2 {
				yield(models.RemoteItem{}, fetchErr)
				return
			}
			if !yield(item, nil) {
				return
			}
		}
	}
}

func (m *mockLibrary) AddItem(ctx context.Context, accessToken, trackID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if accessToken != m.validToken {
		return &shared.RemoteError{StatusCode: 401}
	}
	if m.mutateErr != nil {
		return m.mutateErr
	}
	m.added = append(m.added, trackID)
	m.items = append(m.items, remoteItem(trackID, "Title "+trackID))
	return nil
}

func (m *mockLibrary) RemoveItem(ctx context.Context, accessToken, trackID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if accessToken != m.validToken {
		return &shared.RemoteError{StatusCode: 401}
	}
	if m.mutateErr != nil {
		return m.mutateErr
	}
	m.removed = append(m.removed, trackID)
	for i, item := range m.items {
		if item.TrackID == trackID {
			m.items = append(m.items[:i], m.items[i+1:]...)
			break
		}
	}
	return nil
}

func (m *mockLibrary) LookupTrack(ctx context.Context, accessToken, trackID string) (models.RemoteItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lookupCalls++
	return models.RemoteItem{TrackID: trackID, Title: "Looked Up", Artists: []string{"Someone"}}, nil
}

// mockTokens hands out a fixed token and counts refreshes.
type mockTokens struct {
	mu         sync.Mutex
	token      string
	refreshed  string
	refreshes  int
	getErr     error
	refreshErr error
}

func (m *mockTokens) Get(ctx context.Context, userID string) (*models.TokenRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getErr != nil {
		return nil, m.getErr
	}
	return &models.TokenRecord{UserID: userID, AccessToken: m.token, RefreshToken: "r", ExpiresAt: testNow.Add(time.Hour)}, nil
}

func (m *mockTokens) Refresh(ctx context.Context, userID string) (*models.TokenRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.refreshes++
	if m.refreshErr != nil {
		return nil, m.refreshErr
	}
	m.token = m.refreshed
	return &models.TokenRecord{UserID: userID, AccessToken: m.token, RefreshToken: "r", ExpiresAt: testNow.Add(time.Hour)}, nil
}

// countingMirror records the size of every committed batch and can fail a chosen batch.
type countingMirror struct {
	Mirror
	mu      sync.Mutex
	batches []int
	failAt  int // 1-based batch number to fail, 0 for never
}

func (c *countingMirror) CommitBatch(ctx context.Context, userID string, ops []repositories.Op) error {
	c.mu.Lock()
	c.batches = append(c.batches, len(ops))
	n := len(c.batches)
	c.mu.Unlock()

	if c.failAt == n {
		return fmt.Errorf("%w: injected", shared.ErrBatchWrite)
	}
	return c.Mirror.CommitBatch(ctx, userID, ops)
}

// failingMirror fails every single-item write.
type failingMirror struct {
	Mirror
}

func (failingMirror) Upsert(context.Context, string, *models.LibraryItem) error {
	return errors.New("disk full")
}

func (failingMirror) Delete(context.Context, string, string) error {
	return errors.New("disk full")
}

type fixture struct {
	db      *sql.DB
	library *repositories.LibraryRepository
	meta    *repositories.SyncMetadataRepository
	legacy  *repositories.LegacyRepository
	remote  *mockLibrary
	tokens  *mockTokens
	mirror  *countingMirror
	engine  *LibraryEngine
}

func newFixture(t *testing.T, remoteIDs ...string) *fixture {
	t.Helper()

	db, err := shared.NewDatabase(":memory:")
	if err != nil {
		t.Fatalf("failed to create test database: %v", err)
	}
	if err := shared.RunMigrations(db); err != nil {
		db.Close()
		t.Fatalf("failed to run migrations: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	f := &fixture{
		db:      db,
		library: repositories.NewLibraryRepository(db),
		meta:    repositories.NewSyncMetadataRepository(db),
		legacy:  repositories.NewLegacyRepository(db),
		remote:  newMockLibrary(remoteIDs...),
		tokens:  &mockTokens{token: "valid", refreshed: "valid"},
	}
	f.mirror = &countingMirror{Mirror: f.library}
	f.engine = NewLibraryEngine(f.tokens, f.remote, f.mirror, f.meta, EngineOptions{
		Clock:  func() time.Time { return testNow },
		Logger: shared.NewLogger(io.Discard),
	})
	return f
}

func (f *fixture) seedLocal(t *testing.T, ids ...string) {
	t.Helper()
	for _, id := range ids {
		item := models.FromRemote(remoteItem(id, "Local "+id), testNow)
		if err := f.library.Upsert(context.Background(), "u1", &item); err != nil {
			t.Fatalf("failed to seed mirror: %v", err)
		}
	}
}

func (f *fixture) localIDs(t *testing.T) map[string]struct{} {
	t.Helper()
	ids, err := f.library.TrackIDs(context.Background(), "u1")
	if err != nil {
		t.Fatalf("failed to read mirror: %v", err)
	}
	return ids
}
