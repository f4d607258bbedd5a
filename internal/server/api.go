package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/likesync/internal/models"
	"github.com/desertthunder/likesync/internal/shared"
	"github.com/desertthunder/likesync/internal/tasks"
)

// Syncer runs a full reconciliation for one user; see tasks.LibraryEngine.
type Syncer interface {
	Sync(ctx context.Context, userID string, progress chan<- tasks.ProgressUpdate) (*tasks.SyncResult, error)
}

// Updater applies a single like or unlike; see tasks.UpdateHandler.
type Updater interface {
	Apply(ctx context.Context, userID, trackID string, action models.Action) (*tasks.UpdateResult, error)
}

// Migrator moves legacy rows into the mirror; see tasks.MigrationManager.
type Migrator interface {
	Migrate(ctx context.Context, userID string) (*tasks.MigrationResult, error)
}

// Credentials stores and removes a user's linked token pair; see services.TokenStore.
type Credentials interface {
	Store(ctx context.Context, userID string, pair models.TokenPair) (*models.TokenRecord, error)
	Remove(ctx context.Context, userID string) error
}

// StatusReader returns a user's sync bookkeeping; see repositories.SyncMetadataRepository.
type StatusReader interface {
	Get(ctx context.Context, userID string) (*models.SyncMetadata, error)
}

// API is the triggering surface of the sync engine: link, sync, like/unlike, disconnect, migrate and status.
type API struct {
	syncer   Syncer
	updater  Updater
	migrator Migrator
	creds    Credentials
	status   StatusReader
	logger   *log.Logger
}

// NewAPI creates an [API] over the engine's components.
func NewAPI(syncer Syncer, updater Updater, migrator Migrator, creds Credentials, status StatusReader, logger *log.Logger) *API {
	if logger == nil {
		logger = shared.NewLogger(nil)
	}
	return &API{
		syncer:   syncer,
		updater:  updater,
		migrator: migrator,
		creds:    creds,
		status:   status,
		logger:   logger,
	}
}

// Register adds the API routes to r.
func (a *API) Register(r Router) {
	r.Handle(http.MethodPost, "/link/{user}", http.HandlerFunc(a.link))
	r.Handle(http.MethodDelete, "/link/{user}", http.HandlerFunc(a.disconnect))
	r.Handle(http.MethodPost, "/sync/{user}", http.HandlerFunc(a.sync))
	r.Handle(http.MethodPost, "/library/{user}/{track}/{action}", http.HandlerFunc(a.update))
	r.Handle(http.MethodPost, "/migrate/{user}", http.HandlerFunc(a.migrate))
	r.Handle(http.MethodGet, "/status/{user}", http.HandlerFunc(a.getStatus))
}

type linkRequest struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int    `json:"expires_in"`
}

type syncResponse struct {
	UserID     string `json:"user_id"`
	Added      int    `json:"added"`
	Updated    int    `json:"updated"`
	Removed    int    `json:"removed"`
	Total      int    `json:"total"`
	Batches    int    `json:"batches"`
	DurationMS int64  `json:"duration_ms"`
}

type updateResponse struct {
	UserID      string `json:"user_id"`
	TrackID     string `json:"track_id"`
	Action      string `json:"action"`
	Mirrored    bool   `json:"mirrored"`
	MirrorError string `json:"mirror_error,omitempty"`
}

type migrateResponse struct {
	MigratedCount int    `json:"migrated_count"`
	Skipped       int    `json:"skipped"`
	Invalid       int    `json:"invalid"`
	Message       string `json:"message"`
}

type statusResponse struct {
	UserID      string     `json:"user_id"`
	Status      string     `json:"status"`
	LastSyncAt  *time.Time `json:"last_sync_at,omitempty"`
	Added       int        `json:"added"`
	Updated     int        `json:"updated"`
	Removed     int        `json:"removed"`
	Total       int        `json:"total"`
	LastError   string     `json:"last_error,omitempty"`
	LastAction  string     `json:"last_action,omitempty"`
	LastTrackID string     `json:"last_track_id,omitempty"`
}

// link stores a token pair obtained elsewhere and runs the first reconciliation.
func (a *API) link(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("user")

	var req linkRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "body must be a JSON token pair")
		return
	}
	if req.AccessToken == "" || req.RefreshToken == "" || req.ExpiresIn <= 0 {
		writeError(w, http.StatusBadRequest, "invalid_request", "access_token, refresh_token and a positive expires_in are required")
		return
	}

	pair := models.TokenPair{
		AccessToken:  req.AccessToken,
		RefreshToken: req.RefreshToken,
		ExpiresIn:    time.Duration(req.ExpiresIn) * time.Second,
	}
	if _, err := a.creds.Store(r.Context(), userID, pair); err != nil {
		a.fail(w, r, err)
		return
	}

	result, err := a.syncer.Sync(r.Context(), userID, nil)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, newSyncResponse(result))
}

func (a *API) disconnect(w http.ResponseWriter, r *http.Request) {
	if err := a.creds.Remove(r.Context(), r.PathValue("user")); err != nil {
		a.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) sync(w http.ResponseWriter, r *http.Request) {
	result, err := a.syncer.Sync(r.Context(), r.PathValue("user"), nil)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newSyncResponse(result))
}

func (a *API) update(w http.ResponseWriter, r *http.Request) {
	action, err := models.ParseAction(r.PathValue("action"))
	if err != nil {
		writeError(w, http.StatusNotFound, "not_found", err.Error())
		return
	}

	result, err := a.updater.Apply(r.Context(), r.PathValue("user"), r.PathValue("track"), action)
	if err != nil {
		a.fail(w, r, err)
		return
	}

	resp := updateResponse{
		UserID:   result.UserID,
		TrackID:  result.TrackID,
		Action:   string(result.Action),
		Mirrored: result.Mirrored(),
	}
	if result.MirrorErr != nil {
		resp.MirrorError = result.MirrorErr.Error()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) migrate(w http.ResponseWriter, r *http.Request) {
	result, err := a.migrator.Migrate(r.Context(), r.PathValue("user"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, migrateResponse{
		MigratedCount: result.MigratedCount,
		Skipped:       result.Skipped,
		Invalid:       result.Invalid,
		Message:       result.Message,
	})
}

func (a *API) getStatus(w http.ResponseWriter, r *http.Request) {
	meta, err := a.status.Get(r.Context(), r.PathValue("user"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, statusResponse{
		UserID:      meta.UserID,
		Status:      string(meta.Status),
		LastSyncAt:  meta.LastSyncAt,
		Added:       meta.Counts.Added,
		Updated:     meta.Counts.Updated,
		Removed:     meta.Counts.Removed,
		Total:       meta.Counts.Total,
		LastError:   meta.LastError,
		LastAction:  string(meta.LastAction),
		LastTrackID: meta.LastTrackID,
	})
}

func (a *API) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, code := errorStatus(err)
	if status >= http.StatusInternalServerError {
		a.logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
	} else {
		a.logger.Debug("request rejected", "method", r.Method, "path", r.URL.Path, "error", err)
	}
	writeError(w, status, code, err.Error())
}

// errorStatus maps engine errors onto HTTP statuses and stable error codes.
func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, shared.ErrInvalidInput), errors.Is(err, shared.ErrInvalidArgument), errors.Is(err, shared.ErrMissingArgument):
		return http.StatusBadRequest, "invalid_request"
	case errors.Is(err, shared.ErrNoToken):
		return http.StatusNotFound, "not_linked"
	case errors.Is(err, shared.ErrTokenRefreshFailed), errors.Is(err, shared.ErrUnauthorized):
		return http.StatusUnauthorized, "relink_required"
	case errors.Is(err, shared.ErrSyncInProgress):
		return http.StatusConflict, "sync_in_progress"
	case errors.Is(err, shared.ErrTrackNotFound):
		return http.StatusNotFound, "track_not_found"
	case errors.Is(err, shared.ErrTransient), errors.Is(err, shared.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable, "remote_unavailable"
	case errors.Is(err, shared.ErrAPIRequest):
		return http.StatusBadGateway, "remote_error"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

func newSyncResponse(r *tasks.SyncResult) syncResponse {
	return syncResponse{
		UserID:     r.UserID,
		Added:      r.Counts.Added,
		Updated:    r.Counts.Updated,
		Removed:    r.Counts.Removed,
		Total:      r.Counts.Total,
		Batches:    r.Batches,
		DurationMS: r.Duration.Milliseconds(),
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error body with a machine-readable code and a description.
func writeError(w http.ResponseWriter, status int, code, description string) {
	writeJSON(w, status, map[string]string{
		"error":             code,
		"error_description": description,
	})
}
