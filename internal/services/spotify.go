// Spotify Web API implementation of [LibraryService] and [TokenProvider]
//
// Spotify API response types based on https://developer.spotify.com/documentation/web-api/reference/
package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/likesync/internal/models"
	"github.com/desertthunder/likesync/internal/shared"
	"golang.org/x/oauth2"
	"golang.org/x/time/rate"
)

const (
	spotifyAuthURL  = "https://accounts.spotify.com/authorize"
	spotifyTokenURL = "https://accounts.spotify.com/api/token"
	spotifyBaseURL  = "https://api.spotify.com/v1"

	// DefaultPageSize is the largest page the saved-tracks endpoint serves.
	DefaultPageSize = 50

	maxErrorBody = 512
)

type followers struct {
	Total int `json:"total"`
}

// SpotifyUser represents a Spotify user profile.
type SpotifyUser struct {
	ID          string         `json:"id"`
	DisplayName string         `json:"display_name"`
	Email       string         `json:"email"`
	Country     string         `json:"country"`
	Product     string         `json:"product"` // premium, free, etc.
	Followers   followers      `json:"followers"`
	Images      []SpotifyImage `json:"images"`
}

// SpotifyImage represents an image resource.
type SpotifyImage struct {
	URL    string `json:"url"`
	Height int    `json:"height"`
	Width  int    `json:"width"`
}

// SpotifyTrack represents a Spotify track.
type SpotifyTrack struct {
	ID         string          `json:"id"`
	Name       string          `json:"name"`
	Artists    []SpotifyArtist `json:"artists"`
	Album      SpotifyAlbum    `json:"album"`
	DurationMS int             `json:"duration_ms"`
	URI        string          `json:"uri"`
}

// SpotifyArtist represents a simplified Spotify artist.
type SpotifyArtist struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// SpotifyAlbum represents a simplified Spotify album.
type SpotifyAlbum struct {
	ID     string         `json:"id"`
	Name   string         `json:"name"`
	Images []SpotifyImage `json:"images"`
}

// SpotifyPaginatedTracks represents a paginated response of saved tracks.
type SpotifyPaginatedTracks struct {
	Items    []SpotifySavedTrack `json:"items"`
	Total    int                 `json:"total"`
	Limit    int                 `json:"limit"`
	Offset   int                 `json:"offset"`
	Next     *string             `json:"next"`
	Previous *string             `json:"previous"`
}

// SpotifySavedTrack represents a track saved in the user's library.
type SpotifySavedTrack struct {
	AddedAt string       `json:"added_at"`
	Track   SpotifyTrack `json:"track"`
}

// RemoteItem maps the saved track into the provider-neutral shape. An unparseable added_at becomes the zero time.
func (s SpotifySavedTrack) RemoteItem() models.RemoteItem {
	item := s.Track.RemoteItem()
	if t, err := time.Parse(time.RFC3339, s.AddedAt); err == nil {
		item.AddedAt = t.UTC()
	}
	return item
}

// RemoteItem maps the track into the provider-neutral shape. The first album image is Spotify's widest.
func (t SpotifyTrack) RemoteItem() models.RemoteItem {
	item := models.RemoteItem{
		TrackID:    t.ID,
		Title:      t.Name,
		Album:      t.Album.Name,
		DurationMS: t.DurationMS,
	}
	for _, a := range t.Artists {
		item.Artists = append(item.Artists, a.Name)
	}
	if len(t.Album.Images) > 0 {
		item.CoverURL = t.Album.Images[0].URL
	}
	return item
}

// SpotifyOptions tunes a [SpotifyService]. Zero values select production defaults.
type SpotifyOptions struct {
	BaseURL    string // Web API root, e.g. an httptest server in tests
	AuthURL    string
	TokenURL   string
	HTTPClient *http.Client
	PageSize   int           // Saved-tracks page size, at most [DefaultPageSize]
	PageDelay  time.Duration // Minimum spacing between page requests
	Retry      shared.RetryPolicy
	Logger     *log.Logger
}

// SpotifyService talks to the Spotify Web API and accounts service.
// Uses [oauth2] for the authorization-code and refresh-token grants.
type SpotifyService struct {
	config     *oauth2.Config
	httpClient *http.Client
	baseURL    string
	pageSize   int
	pageDelay  time.Duration
	retry      shared.RetryPolicy
	logger     *log.Logger
}

// NewSpotifyService creates a new Spotify service with the given OAuth2 credentials.
func NewSpotifyService(credentials map[string]string, opts SpotifyOptions) (*SpotifyService, error) {
	clientID, ok := credentials["client_id"]
	if !ok || clientID == "" {
		return nil, fmt.Errorf("%w: missing client_id", shared.ErrMissingCredentials)
	}

	clientSecret, ok := credentials["client_secret"]
	if !ok || clientSecret == "" {
		return nil, fmt.Errorf("%w: missing client_secret", shared.ErrMissingCredentials)
	}

	redirectURI, ok := credentials["redirect_uri"]
	if !ok || redirectURI == "" {
		redirectURI = "http://127.0.0.1:3000/callback"
	}

	authURL, tokenURL, baseURL := spotifyAuthURL, spotifyTokenURL, spotifyBaseURL
	if opts.AuthURL != "" {
		authURL = opts.AuthURL
	}
	if opts.TokenURL != "" {
		tokenURL = opts.TokenURL
	}
	if opts.BaseURL != "" {
		baseURL = strings.TrimRight(opts.BaseURL, "/")
	}

	config := &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		RedirectURL:  redirectURI,
		Scopes: []string{
			"user-read-private",
			"user-read-email",
			"user-library-read",
			"user-library-modify",
		},
		Endpoint: oauth2.Endpoint{
			AuthURL:   authURL,
			TokenURL:  tokenURL,
			AuthStyle: oauth2.AuthStyleInHeader,
		},
	}

	s := &SpotifyService{
		config:     config,
		httpClient: opts.HTTPClient,
		baseURL:    baseURL,
		pageSize:   opts.PageSize,
		pageDelay:  opts.PageDelay,
		retry:      opts.Retry,
		logger:     opts.Logger,
	}
	if s.httpClient == nil {
		s.httpClient = http.DefaultClient
	}
	if s.pageSize <= 0 || s.pageSize > DefaultPageSize {
		s.pageSize = DefaultPageSize
	}
	if s.retry.MaxAttempts == 0 {
		s.retry = shared.DefaultRetryPolicy()
	}
	if s.logger == nil {
		s.logger = shared.NewLogger(nil)
	}
	return s, nil
}

func (s *SpotifyService) Name() string {
	return "Spotify"
}

// GetAuthURL returns the OAuth2 authorization URL for user login.
func (s *SpotifyService) GetAuthURL(state string) string {
	return s.config.AuthCodeURL(state, oauth2.AccessTypeOffline)
}

// GetOAuthConfig exposes the OAuth2 configuration used for the callback server.
func (s *SpotifyService) GetOAuthConfig() *oauth2.Config {
	return s.config
}

func (s *SpotifyService) oauthContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, s.httpClient)
}

// Exchange trades an authorization code for the user's first token pair.
func (s *SpotifyService) Exchange(ctx context.Context, code string) (models.TokenPair, error) {
	tok, err := s.config.Exchange(s.oauthContext(ctx), code)
	if err != nil {
		return models.TokenPair{}, fmt.Errorf("failed to exchange auth code: %w", classifyTokenError(err))
	}
	return tokenPair(tok), nil
}

// ExchangeRefreshToken implements [TokenProvider] using the refresh-token grant.
//
// Timeouts, 429 and 5xx responses from the token endpoint are retried. An invalid_grant response is not.
func (s *SpotifyService) ExchangeRefreshToken(ctx context.Context, refreshToken string) (models.TokenPair, error) {
	if refreshToken == "" {
		return models.TokenPair{}, fmt.Errorf("%w: empty refresh token", shared.ErrInvalidGrant)
	}

	return shared.Retry(ctx, s.retry, nil, func(ctx context.Context) (models.TokenPair, error) {
		src := s.config.TokenSource(s.oauthContext(ctx), &oauth2.Token{RefreshToken: refreshToken})
		tok, err := src.Token()
		if err != nil {
			return models.TokenPair{}, classifyTokenError(err)
		}
		return tokenPair(tok), nil
	})
}

func tokenPair(tok *oauth2.Token) models.TokenPair {
	pair := models.TokenPair{AccessToken: tok.AccessToken, RefreshToken: tok.RefreshToken}
	switch {
	case tok.ExpiresIn > 0:
		pair.ExpiresIn = time.Duration(tok.ExpiresIn) * time.Second
	case !tok.Expiry.IsZero():
		pair.ExpiresIn = time.Until(tok.Expiry)
	default:
		pair.ExpiresIn = time.Hour
	}
	return pair
}

// classifyTokenError maps token endpoint failures onto the shared taxonomy.
func classifyTokenError(err error) error {
	var re *oauth2.RetrieveError
	if !errors.As(err, &re) {
		var ne interface{ Timeout() bool }
		if errors.As(err, &ne) && ne.Timeout() {
			return fmt.Errorf("%w: %w", shared.ErrTimeout, err)
		}
		return fmt.Errorf("%w: %w", shared.ErrTransient, err)
	}

	if re.ErrorCode == "invalid_grant" {
		return fmt.Errorf("%w: %s", shared.ErrInvalidGrant, re.ErrorDescription)
	}
	if re.Response != nil {
		return &shared.RemoteError{StatusCode: re.Response.StatusCode, Endpoint: "token", Body: truncate(string(re.Body))}
	}
	return fmt.Errorf("%w: %w", shared.ErrAPIRequest, err)
}

// send performs one authenticated request against the Web API, decoding a JSON body into result when non-nil.
func (s *SpotifyService) send(ctx context.Context, method, endpoint, accessToken string, result any) error {
	req, err := http.NewRequestWithContext(ctx, method, s.baseURL+endpoint, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("request failed: %w", err)
		}
		return fmt.Errorf("%w: request failed: %w", shared.ErrTransient, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &shared.RemoteError{StatusCode: resp.StatusCode, Endpoint: method + " " + endpoint, Body: truncate(string(body))}
	}

	if result != nil && resp.StatusCode != http.StatusNoContent {
		if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
			return fmt.Errorf("%w: failed to decode response: %w", shared.ErrAPIRequest, err)
		}
	}
	return nil
}

// doRequest is [SpotifyService.send] under the service's retry policy.
func (s *SpotifyService) doRequest(ctx context.Context, method, endpoint, accessToken string, result any) error {
	attempt := 0
	_, err := shared.Retry(ctx, s.retry, nil, func(ctx context.Context) (struct{}, error) {
		attempt++
		if attempt > 1 {
			s.logger.Debug("retrying request", "method", method, "endpoint", endpoint, "attempt", attempt)
		}
		return struct{}{}, s.send(ctx, method, endpoint, accessToken, result)
	})
	return err
}

// UserProfile retrieves the profile of the token's owner.
func (s *SpotifyService) UserProfile(ctx context.Context, accessToken string) (*SpotifyUser, error) {
	var user SpotifyUser
	if err := s.doRequest(ctx, http.MethodGet, "/me", accessToken, &user); err != nil {
		return nil, err
	}
	if user.ID == "" {
		return nil, fmt.Errorf("%w: profile has no id", shared.ErrAPIRequest)
	}
	return &user, nil
}

// Track retrieves a single track by ID.
func (s *SpotifyService) Track(ctx context.Context, accessToken, trackID string) (*SpotifyTrack, error) {
	var track SpotifyTrack
	endpoint := "/tracks/" + url.PathEscape(trackID)
	if err := s.doRequest(ctx, http.MethodGet, endpoint, accessToken, &track); err != nil {
		if shared.StatusCode(err) == http.StatusNotFound {
			return nil, fmt.Errorf("%w: %s", shared.ErrTrackNotFound, trackID)
		}
		return nil, err
	}
	return &track, nil
}

// LookupTrack implements [LibraryService].
func (s *SpotifyService) LookupTrack(ctx context.Context, accessToken, trackID string) (models.RemoteItem, error) {
	track, err := s.Track(ctx, accessToken, trackID)
	if err != nil {
		return models.RemoteItem{}, err
	}
	return track.RemoteItem(), nil
}

// SavedTracks retrieves one page of the user's saved tracks.
func (s *SpotifyService) SavedTracks(ctx context.Context, accessToken string, limit, offset int) (*SpotifyPaginatedTracks, error) {
	if limit <= 0 {
		limit = 20
	}
	if limit > DefaultPageSize {
		limit = DefaultPageSize
	}

	endpoint := fmt.Sprintf("/me/tracks?limit=%d&offset=%d", limit, offset)

	var response SpotifyPaginatedTracks
	if err := s.doRequest(ctx, http.MethodGet, endpoint, accessToken, &response); err != nil {
		return nil, err
	}
	return &response, nil
}

// FetchAllLiked implements [LibraryService].
//
// Pages are requested at the configured page size and spaced by the page delay; the sequence ends after
// the first short page. Entries without a track id (local files, removed tracks) are skipped.
func (s *SpotifyService) FetchAllLiked(ctx context.Context, accessToken string) iter.Seq2[models.RemoteItem, error] {
	return func(yield func(models.RemoteItem, error) bool) {
		limiter := rate.NewLimiter(rate.Inf, 1)
		if s.pageDelay > 0 {
			limiter = rate.NewLimiter(rate.Every(s.pageDelay), 1)
		}

		for offset := 0; ; offset += s.pageSize {
			if err := limiter.Wait(ctx); err != nil {
				yield(models.RemoteItem{}, fmt.Errorf("page at offset %d: %w", offset, err))
				return
			}

			page, err := s.SavedTracks(ctx, accessToken, s.pageSize, offset)
			if err != nil {
				yield(models.RemoteItem{}, fmt.Errorf("page at offset %d: %w", offset, err))
				return
			}

			for _, saved := range page.Items {
				if saved.Track.ID == "" {
					continue
				}
				if !yield(saved.RemoteItem(), nil) {
					return
				}
			}

			if len(page.Items) < s.pageSize {
				return
			}
		}
	}
}

// AddItem implements [LibraryService].
func (s *SpotifyService) AddItem(ctx context.Context, accessToken, trackID string) error {
	return s.doRequest(ctx, http.MethodPut, "/me/tracks?ids="+url.QueryEscape(trackID), accessToken, nil)
}

// RemoveItem implements [LibraryService].
func (s *SpotifyService) RemoveItem(ctx context.Context, accessToken, trackID string) error {
	return s.doRequest(ctx, http.MethodDelete, "/me/tracks?ids="+url.QueryEscape(trackID), accessToken, nil)
}

func truncate(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > maxErrorBody {
		return s[:maxErrorBody]
	}
	return s
}
