// Package services implements the provider side of the sync engine: the Spotify Web API client and the
// per-user [TokenStore].
//
// # Library Access
//
// [SpotifyService] implements [LibraryService]. It never caches a token; each call carries the caller's
// access token. [SpotifyService.FetchAllLiked] returns an [iter.Seq2] that pages /me/tracks at a fixed
// page size, sends Cache-Control: no-cache on every page and spaces pages with a [rate.Limiter].
//
// # Tokens
//
// [TokenStore] owns the token lifecycle: storing the pair issued at link time, refreshing before expiry,
// deleting the record when the provider rejects the refresh grant and removing it on disconnect.
// Refreshes are de-duplicated per user with a [singleflight.Group].
//
// # Error Handling
//
// Provider failures are reported as [shared.RemoteError], which unwraps to a sentinel:
//   - [shared.ErrUnauthorized] : 401, the caller should refresh once and retry
//   - [shared.ErrTransient] : 429 and 5xx, retried by [shared.Retry]
//   - [shared.ErrAPIRequest] : any other non-2xx response
//
// The token endpoint additionally reports [shared.ErrInvalidGrant].
package services
