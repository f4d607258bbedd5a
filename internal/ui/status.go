package ui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/desertthunder/likesync/internal/models"
)

// StatusReport is what `likesync status` shows for one user.
type StatusReport struct {
	UserID    string
	Linked    bool
	ExpiresAt time.Time
	Mirrored  int
	Meta      *models.SyncMetadata
}

// RenderStatus formats r as a labelled block styled with the TUI palette.
func RenderStatus(r StatusReport) string {
	var b strings.Builder

	b.WriteString(styles.title.Render("likesync: " + r.UserID))
	b.WriteString("\n")

	account := styles.err.Render("not linked")
	if r.Linked {
		account = styles.ok.Render("linked") + styles.help.Render(fmt.Sprintf(" (token expires %s)", r.ExpiresAt.Local().Format(time.DateTime)))
	}
	row(&b, "Account", account)
	row(&b, "Mirrored", fmt.Sprintf("%d tracks", r.Mirrored))

	meta := r.Meta
	if meta == nil {
		meta = models.NewSyncMetadata(r.UserID)
	}
	row(&b, "Status", statusStyle(meta.Status).Render(string(meta.Status)))

	if meta.LastSyncAt != nil {
		row(&b, "Last sync", meta.LastSyncAt.Local().Format(time.DateTime))
	}
	if meta.Status != models.StatusNever {
		c := meta.Counts
		row(&b, "Changes", fmt.Sprintf("+%d ~%d -%d of %d", c.Added, c.Updated, c.Removed, c.Total))
	}
	if meta.LastError != "" {
		row(&b, "Error", styles.err.Render(meta.LastError))
	}
	if meta.LastAction != "" {
		row(&b, "Last action", fmt.Sprintf("%s %s", meta.LastAction, meta.LastTrackID))
	}

	return b.String()
}

func row(b *strings.Builder, label, value string) {
	b.WriteString(lipgloss.JoinHorizontal(lipgloss.Top, styles.label.Render(label), value))
	b.WriteString("\n")
}

func statusStyle(s models.SyncStatus) lipgloss.Style {
	switch s {
	case models.StatusCompleted:
		return styles.ok
	case models.StatusFailed:
		return styles.err
	case models.StatusInProgress:
		return styles.warn
	default:
		return styles.help
	}
}
