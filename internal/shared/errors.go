package shared

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// Configuration errors
	ErrInvalidConfig      = fmt.Errorf("invalid configuration")
	ErrMissingCredentials = fmt.Errorf("missing credentials")

	// Authentication errors
	ErrAuthFailed         = fmt.Errorf("authentication failed")
	ErrNoToken            = fmt.Errorf("no linked account")
	ErrUnauthorized       = fmt.Errorf("access token rejected")
	ErrInvalidGrant       = fmt.Errorf("refresh grant is invalid")
	ErrTokenRefreshFailed = fmt.Errorf("token refresh failed")
	ErrTimeout            = fmt.Errorf("operation timed out")

	// API and service errors
	ErrAPIRequest    = fmt.Errorf("API request failed")
	ErrTransient     = fmt.Errorf("transient remote error")
	ErrTrackNotFound = fmt.Errorf("track not found")

	// Storage errors
	ErrNotFound       = fmt.Errorf("record not found")
	ErrBatchWrite     = fmt.Errorf("batch write failed")
	ErrBatchTooLarge  = fmt.Errorf("batch exceeds size limit")
	ErrSyncInProgress = fmt.Errorf("sync already in progress")

	// Input validation errors
	ErrInvalidInput    = fmt.Errorf("invalid input")
	ErrMissingArgument = fmt.Errorf("missing required argument")
	ErrInvalidArgument = fmt.Errorf("invalid argument")
)

// RemoteError describes a non-2xx response from a provider endpoint.
//
// It unwraps to [ErrUnauthorized] for 401, [ErrTransient] for 429 and 5xx, and [ErrAPIRequest] otherwise,
// so callers can branch with [errors.Is] without inspecting status codes.
type RemoteError struct {
	StatusCode int
	Endpoint   string
	Body       string
}

func (e *RemoteError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s: status %d", e.Endpoint, e.StatusCode)
	}
	return fmt.Sprintf("%s: status %d: %s", e.Endpoint, e.StatusCode, e.Body)
}

func (e *RemoteError) Unwrap() error {
	switch {
	case e.StatusCode == http.StatusUnauthorized:
		return ErrUnauthorized
	case e.StatusCode == http.StatusTooManyRequests, e.StatusCode >= 500:
		return ErrTransient
	default:
		return ErrAPIRequest
	}
}

// StatusCode extracts the HTTP status carried by a [RemoteError] in err's chain, or 0.
func StatusCode(err error) int {
	var re *RemoteError
	if errors.As(err, &re) {
		return re.StatusCode
	}
	return 0
}
