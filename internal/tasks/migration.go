package tasks

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/likesync/internal/models"
	"github.com/desertthunder/likesync/internal/repositories"
	"github.com/desertthunder/likesync/internal/shared"
)

// Legacy is the pre-mirror liked songs collection; see repositories.LegacyRepository.
type Legacy interface {
	ListByUser(ctx context.Context, userID string) ([]*models.LegacyTrack, error)
	Transfer(ctx context.Context, userID string, items []models.LibraryItem, legacyIDs []string) (int, error)
}

// MigrationResult summarizes one [MigrationManager.Migrate] call.
type MigrationResult struct {
	MigratedCount int // legacy rows copied into the mirror
	Skipped       int // legacy rows whose track id was already mirrored; deleted without copying
	Invalid       int // legacy rows without a track id; left in place
	Message       string
}

// MigrationManager moves a user's legacy liked songs into the mirror.
type MigrationManager struct {
	legacy     Legacy
	mirror     Mirror
	batchLimit int
	now        func() time.Time
	logger     *log.Logger
}

// NewMigrationManager creates a [MigrationManager]. A nil logger uses the default.
func NewMigrationManager(legacy Legacy, mirror Mirror, logger *log.Logger) *MigrationManager {
	if logger == nil {
		logger = shared.NewLogger(nil)
	}
	return &MigrationManager{
		legacy:     legacy,
		mirror:     mirror,
		batchLimit: repositories.MaxBatchSize,
		now:        func() time.Time { return time.Now().UTC() },
		logger:     logger,
	}
}

// Migrate copies the user's legacy rows whose track id is not yet mirrored and deletes every processed
// legacy row in the same atomic batch.
//
// The mirror's key set is re-read right before each batch and inserts never overwrite, so concurrent
// or repeated calls cannot duplicate a track. Running it with nothing left returns a zero count.
func (m *MigrationManager) Migrate(ctx context.Context, userID string) (*MigrationResult, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: user id is required", shared.ErrMissingArgument)
	}
	logger := shared.WithLogger(m.logger, "user", userID)

	rows, err := m.legacy.ListByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load legacy library: %w", err)
	}

	result := &MigrationResult{}
	var valid []*models.LegacyTrack
	for _, row := range rows {
		if row.SongID == "" {
			result.Invalid++
			continue
		}
		valid = append(valid, row)
	}

	if len(valid) == 0 {
		result.Message = migrationMessage(result)
		return result, nil
	}

	// Each row costs at most one insert and one delete.
	batch := 0
	for rows := range slices.Chunk(valid, m.batchLimit/2) {
		batch++
		if err := m.migrateChunk(ctx, userID, rows, result); err != nil {
			return result, fmt.Errorf("migrate batch %d: %w", batch, err)
		}
		logger.Debug("legacy batch transferred", "batch", batch, "rows", len(rows))
	}

	result.Message = migrationMessage(result)
	logger.Info("legacy migration finished", "migrated", result.MigratedCount, "skipped", result.Skipped, "invalid", result.Invalid)
	return result, nil
}

func (m *MigrationManager) migrateChunk(ctx context.Context, userID string, rows []*models.LegacyTrack, result *MigrationResult) error {
	present, err := m.mirror.TrackIDs(ctx, userID)
	if err != nil {
		return fmt.Errorf("load mirror snapshot: %w", err)
	}

	now := m.now()
	items := make([]models.LibraryItem, 0, len(rows))
	ids := make([]string, 0, len(rows))
	for _, row := range rows {
		ids = append(ids, row.ID)
		if _, ok := present[row.SongID]; ok {
			continue
		}
		present[row.SongID] = struct{}{}
		items = append(items, models.FromLegacy(*row, now))
	}

	inserted, err := m.legacy.Transfer(ctx, userID, items, ids)
	if err != nil {
		return err
	}

	result.MigratedCount += inserted
	result.Skipped += len(rows) - inserted
	return nil
}

func migrationMessage(r *MigrationResult) string {
	switch {
	case r.MigratedCount == 0 && r.Skipped == 0:
		return "nothing to migrate"
	case r.MigratedCount == 0:
		return fmt.Sprintf("no new tracks; removed %d legacy duplicates", r.Skipped)
	default:
		return fmt.Sprintf("migrated %d liked tracks (%d already present)", r.MigratedCount, r.Skipped)
	}
}
