package tasks

import (
	"slices"
	"time"

	"github.com/desertthunder/likesync/internal/models"
	"github.com/desertthunder/likesync/internal/repositories"
)

// Diff is the three-way split of a remote snapshot against the local mirror, keyed by track id.
type Diff struct {
	ToAdd    []models.LibraryItem // remote only
	ToUpdate []models.LibraryItem // present on both sides; always rewritten with remote values
	ToRemove []string             // local only, sorted
	Changed  int                  // entries of ToUpdate whose content differs from the mirror

	upserts []models.LibraryItem // ToAdd and ToUpdate interleaved in remote order
}

// ComputeDiff compares remote (already deduplicated, in remote order) with the local mirror.
//
// A remote item without AddedAt keeps the mirrored AddedAt of the same track, or gets now when it is new,
// so a missing like time never reads as a change on later runs.
func ComputeDiff(local []*models.LibraryItem, remote []models.LibraryItem, now time.Time) Diff {
	byID := make(map[string]*models.LibraryItem, len(local))
	for _, item := range local {
		byID[item.TrackID] = item
	}

	var d Diff
	seen := make(map[string]struct{}, len(remote))
	for _, r := range remote {
		seen[r.TrackID] = struct{}{}

		existing, ok := byID[r.TrackID]
		if r.AddedAt.IsZero() {
			r.AddedAt = now.UTC()
			if ok {
				r.AddedAt = existing.AddedAt
			}
		}
		d.upserts = append(d.upserts, r)

		if !ok {
			d.ToAdd = append(d.ToAdd, r)
			continue
		}

		d.ToUpdate = append(d.ToUpdate, r)
		if !existing.SameContent(&r) {
			d.Changed++
		}
	}

	for id := range byID {
		if _, ok := seen[id]; !ok {
			d.ToRemove = append(d.ToRemove, id)
		}
	}
	slices.Sort(d.ToRemove)
	return d
}

// Counts summarizes the diff for SyncMetadata. Updated counts only content changes.
func (d Diff) Counts() models.SyncCounts {
	return models.SyncCounts{
		Added:   len(d.ToAdd),
		Updated: d.Changed,
		Removed: len(d.ToRemove),
		Total:   len(d.upserts),
	}
}

// Ops flattens the diff into store operations: every upsert in remote order, then deletes in track id order.
func (d Diff) Ops() []repositories.Op {
	ops := make([]repositories.Op, 0, len(d.upserts)+len(d.ToRemove))
	for _, item := range d.upserts {
		ops = append(ops, repositories.UpsertOp(item))
	}
	for _, id := range d.ToRemove {
		ops = append(ops, repositories.DeleteOp(id))
	}
	return ops
}

// Partition splits ops into consecutive batches of at most limit operations, preserving order.
// A non-positive limit falls back to [repositories.MaxBatchSize].
func Partition(ops []repositories.Op, limit int) [][]repositories.Op {
	if limit <= 0 || limit > repositories.MaxBatchSize {
		limit = repositories.MaxBatchSize
	}
	return slices.Collect(slices.Chunk(ops, limit))
}

// dedupe keeps one item per track id. The last occurrence supplies the values; the first fixes the position.
func dedupe(items []models.LibraryItem) []models.LibraryItem {
	index := make(map[string]int, len(items))
	out := make([]models.LibraryItem, 0, len(items))
	for _, item := range items {
		if i, ok := index[item.TrackID]; ok {
			out[i] = item
			continue
		}
		index[item.TrackID] = len(out)
		out = append(out, item)
	}
	return out
}
