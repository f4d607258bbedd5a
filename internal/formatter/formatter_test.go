package formatter

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/desertthunder/likesync/internal/models"
	"github.com/desertthunder/likesync/internal/shared"
	th "github.com/desertthunder/likesync/internal/testing"
)

func testExport() *LibraryExport {
	last := time.Date(2024, 3, 2, 10, 0, 0, 0, time.UTC)
	items := th.Items("t", 2)
	items[1].Album = ""
	return &LibraryExport{
		UserID: "user-1",
		Items:  items,
		Status: &models.SyncMetadata{UserID: "user-1", Status: models.StatusCompleted, LastSyncAt: &last},
	}
}

func TestParseFormat(t *testing.T) {
	tests := []struct {
		in   string
		want Format
	}{
		{"json", FormatJSON},
		{"CSV", FormatCSV},
		{"md", FormatMarkdown},
		{"markdown", FormatMarkdown},
		{"text", FormatText},
		{" txt ", FormatText},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseFormat(tt.in)
			if err != nil {
				t.Fatalf("ParseFormat(%q) error = %v", tt.in, err)
			}
			if got != tt.want {
				t.Errorf("ParseFormat(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}

	t.Run("Unknown", func(t *testing.T) {
		if _, err := ParseFormat("yaml"); !errors.Is(err, shared.ErrInvalidArgument) {
			t.Errorf("expected ErrInvalidArgument, got %v", err)
		}
	})
}

func TestExporters(t *testing.T) {
	t.Run("ExportToJSON", func(t *testing.T) {
		data, err := ExportToJSON(testExport())
		if err != nil {
			t.Fatalf("ExportToJSON failed: %v", err)
		}

		var out struct {
			UserID string `json:"user_id"`
			Status string `json:"status"`
			Count  int    `json:"count"`
			Items  []struct {
				TrackID string    `json:"track_id"`
				AddedAt time.Time `json:"added_at"`
			} `json:"items"`
		}
		if err := json.Unmarshal(data, &out); err != nil {
			t.Fatalf("invalid JSON: %v", err)
		}

		if out.UserID != "user-1" || out.Status != "completed" || out.Count != 2 {
			t.Errorf("unexpected header fields: %+v", out)
		}
		if len(out.Items) != 2 || out.Items[0].TrackID != "t1" {
			t.Fatalf("unexpected items: %+v", out.Items)
		}
		if !out.Items[0].AddedAt.Equal(th.Epoch.Add(-time.Hour)) {
			t.Errorf("unexpected added_at %v", out.Items[0].AddedAt)
		}
	})

	t.Run("ExportToJSON Empty", func(t *testing.T) {
		data, err := ExportToJSON(&LibraryExport{UserID: "u"})
		if err != nil {
			t.Fatalf("ExportToJSON failed: %v", err)
		}
		if !strings.Contains(string(data), `"items": []`) {
			t.Errorf("expected empty items array, got %s", data)
		}
	})

	t.Run("ExportToCSV", func(t *testing.T) {
		data, err := ExportToCSV(testExport())
		if err != nil {
			t.Fatalf("ExportToCSV failed: %v", err)
		}

		lines := strings.Split(strings.TrimSpace(string(data)), "\n")
		if len(lines) != 3 {
			t.Fatalf("expected header and 2 rows, got %d lines", len(lines))
		}
		if lines[0] != "Track ID,Title,Artist,Album,Duration,Added At" {
			t.Errorf("CSV missing headers, got: %s", lines[0])
		}
		if lines[1] != "t1,Song 1,Artist 1,Album 1,181,2023-12-31T23:00:00Z" {
			t.Errorf("unexpected first row: %s", lines[1])
		}
	})

	t.Run("ExportToCSV Quotes Commas", func(t *testing.T) {
		export := testExport()
		export.Items[0].Artist = "A, B"

		data, err := ExportToCSV(export)
		if err != nil {
			t.Fatalf("ExportToCSV failed: %v", err)
		}
		if !strings.Contains(string(data), `"A, B"`) {
			t.Errorf("expected quoted artist, got %s", data)
		}
	})

	t.Run("ExportToMarkdown", func(t *testing.T) {
		data, err := ExportToMarkdown(testExport())
		if err != nil {
			t.Fatalf("ExportToMarkdown failed: %v", err)
		}

		output := string(data)
		for _, want := range []string{
			"# Liked tracks: user-1",
			"**Tracks**: 2",
			"**Status**: completed",
			"**Last sync**: 2024-03-02T10:00:00Z",
			"1. Artist 1 - Song 1 (Album 1) [3:01]",
			"2. Artist 2 - Song 2 [3:02]",
		} {
			if !strings.Contains(output, want) {
				t.Errorf("Markdown missing %q, got:\n%s", want, output)
			}
		}
	})

	t.Run("ExportToText", func(t *testing.T) {
		data, err := ExportToText(testExport())
		if err != nil {
			t.Fatalf("ExportToText failed: %v", err)
		}

		output := string(data)
		if !strings.Contains(output, "User: user-1") || !strings.Contains(output, "Tracks: 2") {
			t.Errorf("Text missing header, got: %s", output)
		}
		if !strings.Contains(output, "2. Artist 2 - Song 2") {
			t.Errorf("Text missing track line, got: %s", output)
		}
	})

	t.Run("Export Unknown Format", func(t *testing.T) {
		if _, err := Export(testExport(), Format("yaml")); !errors.Is(err, shared.ErrInvalidArgument) {
			t.Errorf("expected ErrInvalidArgument, got %v", err)
		}
	})
}

func TestWriteExport(t *testing.T) {
	t.Run("WithDefaultPath", func(t *testing.T) {
		tempDir := t.TempDir()
		originalDir := th.MustGetwd(t)
		th.MustChdir(t, tempDir)
		defer th.MustChdir(t, originalDir)

		path, err := WriteExport(testExport(), FormatMarkdown, "")
		if err != nil {
			t.Fatalf("WriteExport failed: %v", err)
		}
		if path != "user-1_likes.md" {
			t.Errorf("expected 'user-1_likes.md', got '%s'", path)
		}

		th.AssertFileExists(t, path)
		if content := th.MustReadFile(t, path); !strings.Contains(content, "# Liked tracks") {
			t.Errorf("unexpected content: %s", content)
		}
	})

	t.Run("WithCustomPath", func(t *testing.T) {
		path := t.TempDir() + "/likes.csv"

		got, err := WriteExport(testExport(), FormatCSV, path)
		if err != nil {
			t.Fatalf("WriteExport failed: %v", err)
		}
		if got != path {
			t.Errorf("expected %s, got %s", path, got)
		}
		th.AssertFileExists(t, path)
	})

	t.Run("Unwritable Path", func(t *testing.T) {
		if _, err := WriteExport(testExport(), FormatText, t.TempDir()+"/missing/dir/out.txt"); err == nil {
			t.Error("expected error for missing directory")
		}
	})
}
