// Package models defines the domain entities of the liked-tracks synchronization engine.
//
// The package contains three groups of types:
//
// 1. Credentials
//   - [TokenRecord] : the OAuth token pair stored for one linked user
//   - [TokenPair] : a freshly issued pair as reported by the provider, before an expiry is computed
//
// 2. Library data
//   - [RemoteItem] : a liked track as reported by the remote service
//   - [LibraryItem] : a row of the local mirror, keyed by TrackID within a user
//   - [LegacyTrack] : a row of the pre-mirror storage layout, drained by migration
//
// 3. Sync bookkeeping
//   - [SyncMetadata] : per-user status, last-run counters and last real-time action
//
// Every external representation enters the mirror through a pure mapping function ([FromRemote], [FromLegacy])
// that substitutes explicit defaults for missing fields.
package models
