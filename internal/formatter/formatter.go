// package formatter exports a user's mirrored liked tracks to various formats (JSON, CSV, Markdown, plain text)
package formatter

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/desertthunder/likesync/internal/models"
	"github.com/desertthunder/likesync/internal/shared"
)

// Format names an export encoding.
type Format string

const (
	FormatJSON     Format = "json"
	FormatCSV      Format = "csv"
	FormatMarkdown Format = "markdown"
	FormatText     Format = "txt"
)

// Formats lists every supported [Format], in the order shown in help text.
var Formats = []Format{FormatJSON, FormatCSV, FormatMarkdown, FormatText}

// ParseFormat validates s as a [Format]. "md" and "text" are accepted as aliases.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "json":
		return FormatJSON, nil
	case "csv":
		return FormatCSV, nil
	case "markdown", "md":
		return FormatMarkdown, nil
	case "txt", "text":
		return FormatText, nil
	}
	return "", fmt.Errorf("%w: unknown format %q", shared.ErrInvalidArgument, s)
}

// Extension returns the file extension written for f.
func (f Format) Extension() string {
	if f == FormatMarkdown {
		return "md"
	}
	return string(f)
}

// LibraryExport is a snapshot of one user's mirror. Status is optional.
type LibraryExport struct {
	UserID string
	Items  []*models.LibraryItem
	Status *models.SyncMetadata
}

type itemJSON struct {
	TrackID         string    `json:"track_id"`
	Title           string    `json:"title"`
	Artist          string    `json:"artist"`
	Album           string    `json:"album,omitempty"`
	CoverURL        string    `json:"cover_url,omitempty"`
	DurationSeconds int       `json:"duration_seconds"`
	AddedAt         time.Time `json:"added_at"`
	SyncedAt        time.Time `json:"synced_at"`
}

type exportJSON struct {
	UserID     string     `json:"user_id"`
	Status     string     `json:"status,omitempty"`
	LastSyncAt *time.Time `json:"last_sync_at,omitempty"`
	Count      int        `json:"count"`
	Items      []itemJSON `json:"items"`
}

// Export encodes export in format f.
func Export(export *LibraryExport, f Format) ([]byte, error) {
	switch f {
	case FormatJSON:
		return ExportToJSON(export)
	case FormatCSV:
		return ExportToCSV(export)
	case FormatMarkdown:
		return ExportToMarkdown(export)
	case FormatText:
		return ExportToText(export)
	}
	return nil, fmt.Errorf("%w: unknown format %q", shared.ErrInvalidArgument, f)
}

// ExportToJSON converts a LibraryExport to indented JSON with snake_case keys
func ExportToJSON(export *LibraryExport) ([]byte, error) {
	out := exportJSON{UserID: export.UserID, Count: len(export.Items), Items: make([]itemJSON, 0, len(export.Items))}
	if export.Status != nil {
		out.Status = string(export.Status.Status)
		out.LastSyncAt = export.Status.LastSyncAt
	}

	for _, item := range export.Items {
		out.Items = append(out.Items, itemJSON{
			TrackID:         item.TrackID,
			Title:           item.Title,
			Artist:          item.Artist,
			Album:           item.Album,
			CoverURL:        item.CoverURL,
			DurationSeconds: item.DurationSeconds,
			AddedAt:         item.AddedAt,
			SyncedAt:        item.SyncedAt,
		})
	}

	return shared.MarshalJSON(out, true)
}

// ExportToCSV converts a LibraryExport to CSV format with columns: Track ID, Title, Artist, Album, Duration, Added At
func ExportToCSV(export *LibraryExport) ([]byte, error) {
	var buf bytes.Buffer
	writer := csv.NewWriter(&buf)

	headers := []string{"Track ID", "Title", "Artist", "Album", "Duration", "Added At"}
	if err := writer.Write(headers); err != nil {
		return nil, fmt.Errorf("failed to write CSV headers: %w", err)
	}

	for _, item := range export.Items {
		record := []string{
			item.TrackID,
			item.Title,
			item.Artist,
			item.Album,
			strconv.Itoa(item.DurationSeconds),
			item.AddedAt.UTC().Format(time.RFC3339),
		}
		if err := writer.Write(record); err != nil {
			return nil, fmt.Errorf("failed to write CSV record: %w", err)
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, fmt.Errorf("CSV writer error: %w", err)
	}

	return buf.Bytes(), nil
}

// ExportToMarkdown converts a LibraryExport to Markdown, with the sync status when present
func ExportToMarkdown(export *LibraryExport) ([]byte, error) {
	var buf bytes.Buffer

	fmt.Fprintf(&buf, "# Liked tracks: %s\n\n", export.UserID)
	fmt.Fprintf(&buf, "**Tracks**: %d\n", len(export.Items))

	if s := export.Status; s != nil {
		fmt.Fprintf(&buf, "**Status**: %s\n", s.Status)
		if s.LastSyncAt != nil {
			fmt.Fprintf(&buf, "**Last sync**: %s\n", s.LastSyncAt.UTC().Format(time.RFC3339))
		}
	}
	buf.WriteString("\n## Tracks\n\n")

	for i, item := range export.Items {
		albumPart := ""
		if item.Album != "" {
			albumPart = fmt.Sprintf(" (%s)", item.Album)
		}
		fmt.Fprintf(&buf, "%d. %s - %s%s [%s]\n", i+1, item.Artist, item.Title, albumPart, shared.FormatDuration(item.DurationSeconds))
	}

	return buf.Bytes(), nil
}

// ExportToText converts a LibraryExport to plain text format
func ExportToText(export *LibraryExport) ([]byte, error) {
	var buf bytes.Buffer

	fmt.Fprintf(&buf, "User: %s\n", export.UserID)
	fmt.Fprintf(&buf, "Tracks: %d\n\n", len(export.Items))

	for i, item := range export.Items {
		fmt.Fprintf(&buf, "%d. %s - %s\n", i+1, item.Artist, item.Title)
	}

	return buf.Bytes(), nil
}

// WriteExport encodes export in format f and writes it to path.
//
// Defaults to {user}_likes.{ext} as the filename.
func WriteExport(export *LibraryExport, f Format, path string) (string, error) {
	if path == "" {
		path = fmt.Sprintf("%s_likes.%s", export.UserID, f.Extension())
	}

	data, err := Export(export, f)
	if err != nil {
		return "", fmt.Errorf("failed to generate %s: %w", f, err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("failed to write export file: %w", err)
	}

	return path, nil
}
