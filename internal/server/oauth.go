package server

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/desertthunder/likesync/internal/models"
	"github.com/desertthunder/likesync/internal/shared"
)

// CodeExchanger trades an authorization code for a token pair; see services.SpotifyService.Exchange.
type CodeExchanger interface {
	Exchange(ctx context.Context, code string) (models.TokenPair, error)
}

// OAuthResult is the outcome of the link callback: a token pair, or why there is none.
type OAuthResult struct {
	Pair models.TokenPair
	err  error
}

// Err reports why the callback did not produce a token pair.
func (o OAuthResult) Err() error { return o.err }

const linkedPage = `<!DOCTYPE html>
<html>
<head><title>likesync</title></head>
<body style="font-family: sans-serif; text-align: center; margin-top: 20vh">
<h1 style="color: #1DB954">Spotify account linked</h1>
<p>likesync is fetching your liked tracks. Return to the terminal.</p>
</body>
</html>
`

// OAuthHandler accepts exactly one authorization-code callback and publishes its [OAuthResult].
// Implements the Handler interface for registration with a Router.
type OAuthHandler struct {
	exchanger CodeExchanger
	state     string

	mu      sync.Mutex
	claimed bool
	results chan OAuthResult
}

// NewOAuthHandler creates an OAuthHandler expecting state, which should be random per link attempt.
func NewOAuthHandler(exchanger CodeExchanger, state string) *OAuthHandler {
	return &OAuthHandler{
		exchanger: exchanger,
		state:     state,
		results:   make(chan OAuthResult, 1),
	}
}

// Routes returns the HTTP routes this handler serves.
func (h *OAuthHandler) Routes() []string {
	return []string{"/callback"}
}

// claim marks the callback as used, reporting false if an earlier request already did.
func (h *OAuthHandler) claim() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.claimed {
		return false
	}
	h.claimed = true
	return true
}

// finish publishes the single result and closes the channel.
func (h *OAuthHandler) finish(result OAuthResult) {
	h.results <- result
	close(h.results)
}

func (h *OAuthHandler) fail(w http.ResponseWriter, status int, msg string, err error) {
	h.finish(OAuthResult{err: fmt.Errorf("%w: %w", shared.ErrAuthFailed, err)})
	http.Error(w, msg, status)
}

// ServeHTTP checks state, exchanges the code and publishes the outcome. Later callbacks get 400.
func (h *OAuthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !h.claim() {
		http.Error(w, "Callback already processed", http.StatusBadRequest)
		return
	}

	q := r.URL.Query()
	if q.Get("state") != h.state {
		h.fail(w, http.StatusBadRequest, "Invalid state parameter", fmt.Errorf("state mismatch"))
		return
	}

	code := q.Get("code")
	if code == "" {
		h.fail(w, http.StatusBadRequest, "Authorization failed",
			fmt.Errorf("provider returned %s %s", q.Get("error"), q.Get("error_description")))
		return
	}

	pair, err := h.exchanger.Exchange(r.Context(), code)
	if err != nil {
		h.fail(w, http.StatusInternalServerError, "Token exchange failed", fmt.Errorf("token exchange: %w", err))
		return
	}

	h.finish(OAuthResult{Pair: pair})
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprint(w, linkedPage)
}

// Result delivers exactly one [OAuthResult] and is then closed.
func (h *OAuthHandler) Result() <-chan OAuthResult {
	return h.results
}
