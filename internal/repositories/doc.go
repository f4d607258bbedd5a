// Package repositories implements SQLite persistence for the synchronization engine.
//
// Each repository owns one collection and is safe for concurrent use; SQLite serializes writers.
//
// Key Implementations:
//   - [TokenRepository] : one OAuth token pair per user
//   - [LibraryRepository] : the per-user liked-tracks mirror, keyed by track id, with atomic bounded batches
//   - [SyncMetadataRepository] : per-user sync status, run counters and the in-progress claim
//   - [LegacyRepository] : the flat pre-mirror layout, drained into the mirror by migration
//
// Writes stamp records with the repository's clock rather than a caller-supplied time,
// so SyncedAt always reflects when the store accepted the write.
package repositories
