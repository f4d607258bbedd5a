package main

import (
	"context"
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/desertthunder/likesync/internal/shared"
	"github.com/desertthunder/likesync/internal/ui"
)

// TUI syncs userID with live progress in a terminal UI and then shows the mirrored tracks.
func (r *Runner) TUI(ctx context.Context, userID string) error {
	// Redirect logs to file to avoid interfering with TUI rendering
	fileLogger, err := shared.NewFileLogger("./tmp/likesync-tui.log")
	if err != nil {
		return fmt.Errorf("failed to create file logger: %w", err)
	}
	r.SetLogger(fileLogger)

	if err := r.openEngine(); err != nil {
		return err
	}

	model := ui.NewModel(ctx, userID, r.engine, r.library)
	p := tea.NewProgram(model, tea.WithContext(ctx))

	if _, err := p.Run(); err != nil {
		return fmt.Errorf("error running TUI: %w", err)
	}

	return nil
}
