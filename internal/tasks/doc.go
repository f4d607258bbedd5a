// Package tasks drives the sync engine's operations against the provider and the local store.
//
// # Reconciliation
//
// [LibraryEngine.Sync] reconciles one user:
//
//  1. Acquire a valid token (shared.ErrNoToken when the user never linked)
//  2. Fetch the complete remote collection; any error aborts before the mirror is touched
//  3. Load the complete mirror
//  4. [ComputeDiff] by track id: add remote-only, rewrite shared, remove local-only
//  5. Commit [Diff.Ops] in batches from [Partition], upserts first, each batch atomic
//  6. Record completed or failed in the user's sync metadata
//
// Runs are single-flight per user. Within a process a second caller joins the running sync; across
// processes the metadata's in_progress claim rejects it with shared.ErrSyncInProgress.
//
// # Real-time Updates
//
// [UpdateHandler.Apply] performs a like or unlike remotely first and only then locally. It bypasses the
// reconciliation guard; both paths write by track id and converge.
//
// # Migration
//
// [MigrationManager.Migrate] drains the legacy collection into the mirror, skipping track ids already
// present and deleting processed legacy rows in the same transaction.
//
// # Scheduling
//
// [Scheduler] reconciles every linked user on an interval through [LibraryEngine.SyncAll], which bounds
// concurrency with an errgroup.
//
// # Progress Reporting
//
// Operations accept an optional channel of [ProgressUpdate]. Sends use select with default so a slow or
// absent reader never blocks a sync.
package tasks
