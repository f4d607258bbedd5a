package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/desertthunder/likesync/internal/formatter"
	"github.com/desertthunder/likesync/internal/models"
	"github.com/desertthunder/likesync/internal/shared"
	"github.com/desertthunder/likesync/internal/ui"
	"github.com/urfave/cli/v3"
)

// statusJSON is the --json shape of `likesync status`.
type statusJSON struct {
	UserID      string     `json:"user_id"`
	Linked      bool       `json:"linked"`
	ExpiresAt   *time.Time `json:"token_expires_at,omitempty"`
	Mirrored    int        `json:"mirrored"`
	Status      string     `json:"status"`
	LastSyncAt  *time.Time `json:"last_sync_at,omitempty"`
	Counts      countsJSON `json:"counts"`
	LastError   string     `json:"last_error,omitempty"`
	LastAction  string     `json:"last_action,omitempty"`
	LastTrackID string     `json:"last_track_id,omitempty"`
}

type countsJSON struct {
	Added   int `json:"added"`
	Updated int `json:"updated"`
	Removed int `json:"removed"`
	Total   int `json:"total"`
}

// Status shows whether a user is linked, how many tracks are mirrored and how the last sync went.
//
// It reads the stored token without refreshing it.
func (r *Runner) Status(ctx context.Context, cmd *cli.Command) error {
	userID, err := requireArg(cmd, "user")
	if err != nil {
		return err
	}
	if err := r.openStore(); err != nil {
		return err
	}

	report := ui.StatusReport{UserID: userID}

	tok, err := r.tokenDB.Get(ctx, userID)
	switch {
	case err == nil:
		report.Linked, report.ExpiresAt = true, tok.ExpiresAt
	case !errors.Is(err, shared.ErrNotFound):
		return err
	}

	if report.Mirrored, err = r.library.Count(ctx, userID); err != nil {
		return err
	}
	if report.Meta, err = r.meta.Get(ctx, userID); err != nil {
		return err
	}

	if cmd.Bool("json") {
		return r.writeJSON(newStatusJSON(report), true)
	}
	return r.writePlain("%s", ui.RenderStatus(report))
}

func newStatusJSON(report ui.StatusReport) statusJSON {
	m := report.Meta
	out := statusJSON{
		UserID:      report.UserID,
		Linked:      report.Linked,
		Mirrored:    report.Mirrored,
		Status:      string(m.Status),
		LastSyncAt:  m.LastSyncAt,
		Counts:      countsJSON{m.Counts.Added, m.Counts.Updated, m.Counts.Removed, m.Counts.Total},
		LastError:   m.LastError,
		LastAction:  string(m.LastAction),
		LastTrackID: m.LastTrackID,
	}
	if report.Linked {
		out.ExpiresAt = &report.ExpiresAt
	}
	return out
}

// LibraryList prints or exports a user's mirror in the requested format.
func (r *Runner) LibraryList(ctx context.Context, cmd *cli.Command) error {
	userID, err := requireArg(cmd, "user")
	if err != nil {
		return err
	}
	format, err := formatter.ParseFormat(cmd.String("format"))
	if err != nil {
		return err
	}
	if err := r.openStore(); err != nil {
		return err
	}

	items, err := r.library.List(ctx, userID)
	if err != nil {
		return err
	}
	meta, err := r.meta.Get(ctx, userID)
	if err != nil {
		return err
	}

	export := &formatter.LibraryExport{UserID: userID, Items: items, Status: meta}

	if out := cmd.String("output"); out != "" {
		if out == "-" {
			out = ""
		}
		path, err := formatter.WriteExport(export, format, out)
		if err != nil {
			return err
		}
		r.logger.Info("library exported", "user", userID, "tracks", len(items), "file", path)
		return r.writePlain("✓ Exported %d tracks to %s\n", len(items), path)
	}

	data, err := formatter.Export(export, format)
	if err != nil {
		return err
	}
	if _, err := r.output.Write(data); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	return nil
}

// legacyRow is one element of a `likesync legacy import` dump.
type legacyRow struct {
	UserID     string     `json:"user_id"`
	SongID     string     `json:"song_id"`
	Name       *string    `json:"name"`
	Artist     *string    `json:"artist"`
	Album      *string    `json:"album"`
	ImageURL   *string    `json:"image_url"`
	DurationMS *int       `json:"duration_ms"`
	LikedAt    *time.Time `json:"liked_at"`
}

// LegacyImport loads a JSON array of legacy liked songs into the legacy layout.
//
// Rows the legacy store rejects (no user id or song id) are reported and skipped.
func (r *Runner) LegacyImport(ctx context.Context, cmd *cli.Command) error {
	path, err := requireArg(cmd, "path")
	if err != nil {
		return err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", path, err)
	}

	var rows []legacyRow
	if err := json.Unmarshal(data, &rows); err != nil {
		return fmt.Errorf("%w: %s is not a JSON array of legacy rows: %v", shared.ErrInvalidInput, path, err)
	}

	if err := r.openStore(); err != nil {
		return err
	}

	imported, rejected := 0, 0
	for i, row := range rows {
		track := &models.LegacyTrack{
			UserID:     row.UserID,
			SongID:     row.SongID,
			Name:       row.Name,
			Artist:     row.Artist,
			Album:      row.Album,
			ImageURL:   row.ImageURL,
			DurationMS: row.DurationMS,
			LikedAt:    row.LikedAt,
		}
		if err := r.legacy.Create(ctx, track); err != nil {
			if errors.Is(err, shared.ErrInvalidInput) {
				rejected++
				r.logger.Warn("skipping legacy row", "index", i, "error", err)
				continue
			}
			return err
		}
		imported++
	}

	r.writePlain("✓ Imported %d legacy rows from %s\n", imported, path)
	if rejected > 0 {
		r.writePlain("⚠ Skipped %d rows without a user id or song id\n", rejected)
	}
	return nil
}
