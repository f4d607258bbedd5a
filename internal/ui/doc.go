// Package ui implements the terminal interface of `likesync sync --tui` using bubbletea's Elm architecture.
//
// The TUI has two views:
//  1. [SyncView] : A spinner and the current phase while a reconciliation runs
//  2. [LibraryView] : The counts of the finished run and a filterable list of the mirrored tracks
//
// The (view) [Model] implements bubbletea/Elm's standard Init/Update/View pattern, receiving messages via the Msg union type.
// Progress updates flow through a channel from the LibraryEngine; the engine never blocks on a slow renderer.
//
// [RenderStatus] renders the non-interactive `likesync status` block with the same palette.
package ui
