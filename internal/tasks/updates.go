package tasks

import (
	"fmt"
	"time"

	"github.com/desertthunder/likesync/internal/models"
)

// ProgressUpdate represents a progress event during a long-running operation.
//
// Used to send real-time updates to the CLI or UI layer for display.
type ProgressUpdate struct {
	UserID  string // User the operation runs for
	Phase   Phase  // Operation phase
	Step    int    // Current step number within phase
	Total   int    // Total steps in this phase, 0 when unknown
	Message string // Human-readable message for display
	Data    any    // Optional phase-specific data for advanced UIs
}

// Operation phase enumeration
type Phase int

const (
	AcquireToken Phase = iota
	FetchRemote
	LoadMirror
	ComputeChanges
	CommitBatches
	Finished
)

func (p Phase) String() string {
	switch p {
	case AcquireToken:
		return "acquire_token"
	case FetchRemote:
		return "fetch_remote"
	case LoadMirror:
		return "load_mirror"
	case ComputeChanges:
		return "compute_changes"
	case CommitBatches:
		return "commit_batches"
	case Finished:
		return "finished"
	default:
		return ""
	}
}

// sendProgress sends a progress update through the channel without blocking.
// Uses select with default to ensure progress reporting never blocks execution.
func sendProgress(progress chan<- ProgressUpdate, update ProgressUpdate) {
	if progress == nil {
		return
	}
	select {
	case progress <- update:
	default:
		// Channel full, skip this update
	}
}

func acquireTokenUpdate(userID string) ProgressUpdate {
	return ProgressUpdate{
		UserID:  userID,
		Phase:   AcquireToken,
		Step:    1,
		Total:   1,
		Message: "Checking linked account...",
	}
}

func fetchRemoteUpdate(userID string, fetched int) ProgressUpdate {
	return ProgressUpdate{
		UserID:  userID,
		Phase:   FetchRemote,
		Step:    fetched,
		Message: fmt.Sprintf("Fetched %d liked tracks...", fetched),
	}
}

func loadMirrorUpdate(userID string, remote int) ProgressUpdate {
	return ProgressUpdate{
		UserID:  userID,
		Phase:   LoadMirror,
		Step:    1,
		Total:   1,
		Message: fmt.Sprintf("Fetched %d liked tracks, loading local library...", remote),
	}
}

func computeChangesUpdate(userID string, counts models.SyncCounts) ProgressUpdate {
	return ProgressUpdate{
		UserID:  userID,
		Phase:   ComputeChanges,
		Step:    1,
		Total:   1,
		Message: fmt.Sprintf("%d to add, %d changed, %d to remove", counts.Added, counts.Updated, counts.Removed),
		Data:    counts,
	}
}

func commitBatchUpdate(userID string, step, total, size int) ProgressUpdate {
	return ProgressUpdate{
		UserID:  userID,
		Phase:   CommitBatches,
		Step:    step,
		Total:   total,
		Message: fmt.Sprintf("[%d/%d] Committed %d operations", step, total, size),
	}
}

func finishedUpdate(userID string, result *SyncResult) ProgressUpdate {
	c := result.Counts
	return ProgressUpdate{
		UserID:  userID,
		Phase:   Finished,
		Step:    1,
		Total:   1,
		Message: fmt.Sprintf("✓ %d tracks (+%d ~%d -%d) in %s", c.Total, c.Added, c.Updated, c.Removed, result.Duration.Round(time.Millisecond)),
		Data:    result,
	}
}
