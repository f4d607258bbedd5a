// Package server provides HTTP routing, middleware, the OAuth callback handler and the JSON triggering API.
//
// # Router Infrastructure
//
// The [Router] interface defines HTTP routing with middleware support.
//
// [Middleware] wraps handlers in reverse order (last added executes first), following the standard Go pattern.
//
// The [BasicRouter] implementation uses [http.ServeMux] method patterns, so handlers read path wildcards
// with [http.Request.PathValue].
//
// # OAuth Callback Handler
//
// [OAuthHandler] serves the single callback of the `likesync link` authorization-code flow.
// It validates the state parameter (CSRF protection), exchanges the code through a [CodeExchanger],
// and sends the resulting token pair through a channel. Only one callback is processed.
//
// # Triggering API
//
// [API] exposes the engine to other processes:
//
//	POST   /link/{user}                    store a token pair and run the first sync
//	DELETE /link/{user}                    remove the user's token
//	POST   /sync/{user}                    run a reconciliation
//	POST   /library/{user}/{track}/like    like a single track
//	POST   /library/{user}/{track}/unlike  unlike a single track
//	POST   /migrate/{user}                 move legacy rows into the mirror
//	GET    /status/{user}                  read sync bookkeeping
//
// Errors are JSON bodies of the form {"error": code, "error_description": text}.
package server
