package ui

import (
	"context"
	"fmt"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/desertthunder/likesync/internal/models"
	"github.com/desertthunder/likesync/internal/tasks"
)

// Syncer runs a reconciliation and reports progress; see tasks.LibraryEngine.
type Syncer interface {
	Sync(ctx context.Context, userID string, progress chan<- tasks.ProgressUpdate) (*tasks.SyncResult, error)
}

// Lister reads the mirrored library; see repositories.LibraryRepository.
type Lister interface {
	List(ctx context.Context, userID string) ([]*models.LibraryItem, error)
}

// ViewState represents the current view in the TUI.
type ViewState int

const (
	SyncView ViewState = iota
	LibraryView
)

// Model represents the TUI application state.
type Model struct {
	ctx          context.Context
	userID       string
	syncer       Syncer
	lister       Lister
	view         ViewState
	width        int
	height       int
	spinner      spinner.Model
	running      bool
	progressChan chan tasks.ProgressUpdate
	done         chan syncOutcome
	progress     tasks.ProgressUpdate
	result       *tasks.SyncResult
	err          error
	library      list.Model
	loaded       bool
	help         help.Model
	keys         keyMap
}

// NewModel creates a new TUI model that syncs userID's library and then lets the user browse the mirror.
func NewModel(ctx context.Context, userID string, syncer Syncer, lister Lister) *Model {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = styles.title.UnsetMarginBottom()

	return &Model{
		ctx:     ctx,
		userID:  userID,
		syncer:  syncer,
		lister:  lister,
		view:    SyncView,
		spinner: s,
		help:    help.New(),
		keys:    newKeyMap(),
	}
}

// Init starts the first sync.
func (m *Model) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.startSync())
}

// Update handles incoming messages and updates the model state.
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		if m.loaded {
			m.library.SetSize(msg.Width-4, msg.Height-8)
		}
		return m, nil

	case tea.KeyMsg:
		return m.handleKeys(msg)

	case spinner.TickMsg:
		if !m.running {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case Msg:
		return m.handleMsg(msg)
	}

	if m.view == LibraryView {
		var cmd tea.Cmd
		m.library, cmd = m.library.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m *Model) handleMsg(msg Msg) (tea.Model, tea.Cmd) {
	switch msg.kind {
	case MsgProgressUpdate:
		m.progress = msg.data.(tasks.ProgressUpdate)
		return m, m.waitForProgress()

	case MsgSyncComplete:
		outcome := msg.data.(syncOutcome)
		m.running = false
		m.result, m.err = outcome.result, outcome.err
		m.progressChan, m.done = nil, nil
		if m.err != nil {
			return m, nil
		}
		return m, m.loadLibrary()

	case MsgLibraryLoaded:
		loaded := msg.data.(libraryLoaded)
		if loaded.err != nil {
			m.err = loaded.err
			return m, nil
		}
		m.library = list.New(toListItems(loaded.items), list.NewDefaultDelegate(), 0, 0)
		m.library.Title = fmt.Sprintf("Liked tracks (%d)", len(loaded.items))
		m.library.SetSize(m.width-4, m.height-8)
		m.loaded = true
		m.view = LibraryView
	}
	return m, nil
}

func (m *Model) handleKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	filtering := m.view == LibraryView && m.library.FilterState() == list.Filtering

	switch {
	case msg.String() == "ctrl+c":
		return m, tea.Quit
	case filtering:
	case key.Matches(msg, m.keys.quit):
		return m, tea.Quit
	case key.Matches(msg, m.keys.resync) && !m.running:
		m.view = SyncView
		return m, tea.Batch(m.spinner.Tick, m.startSync())
	}

	if m.view == LibraryView {
		var cmd tea.Cmd
		m.library, cmd = m.library.Update(msg)
		return m, cmd
	}
	return m, nil
}

// View renders the UI based on the current view state.
func (m *Model) View() string {
	switch m.view {
	case SyncView:
		return m.renderSync()
	case LibraryView:
		return m.renderLibrary()
	default:
		return ""
	}
}

func (m *Model) startSync() tea.Cmd {
	progress := make(chan tasks.ProgressUpdate, 64)
	done := make(chan syncOutcome, 1)

	m.progressChan, m.done = progress, done
	m.running = true
	m.progress = tasks.ProgressUpdate{}
	m.result, m.err = nil, nil

	ctx, syncer, userID := m.ctx, m.syncer, m.userID
	go func() {
		result, err := syncer.Sync(ctx, userID, progress)
		done <- syncOutcome{result, err}
		close(progress)
	}()

	return m.waitForProgress()
}

func (m *Model) waitForProgress() tea.Cmd {
	progress, done := m.progressChan, m.done
	if progress == nil {
		return nil
	}

	return func() tea.Msg {
		update, ok := <-progress
		if !ok {
			outcome := <-done
			return syncCompleteMsg(outcome.result, outcome.err)
		}
		return progressUpdateMsg(update)
	}
}

func (m *Model) loadLibrary() tea.Cmd {
	ctx, lister, userID := m.ctx, m.lister, m.userID
	return func() tea.Msg {
		items, err := lister.List(ctx, userID)
		return libraryLoadedMsg(items, err)
	}
}

func (m *Model) renderSync() string {
	title := styles.title.Render(fmt.Sprintf("Syncing liked tracks for %s", m.userID))

	if m.err != nil {
		helpView := m.help.ShortHelpView([]key.Binding{m.keys.resync, m.keys.quit})
		return fmt.Sprintf("%s\n\n%s\n\n%s", title, styles.err.Render(fmt.Sprintf("Sync failed: %v", m.err)), helpView)
	}

	phase := phaseLabel(m.progress.Phase)
	if m.progress.Total > 1 {
		phase = fmt.Sprintf("%s (%d/%d)", phase, m.progress.Step, m.progress.Total)
	}

	helpView := m.help.ShortHelpView([]key.Binding{m.keys.quit})
	return fmt.Sprintf("%s\n\n%s %s\n%s\n\n%s", title, m.spinner.View(), phase, styles.help.Render(m.progress.Message), helpView)
}

func (m *Model) renderLibrary() string {
	summary := ""
	if m.result != nil {
		c := m.result.Counts
		summary = styles.ok.Render(fmt.Sprintf("✓ Synced %d tracks (+%d ~%d -%d)", c.Total, c.Added, c.Updated, c.Removed))
	}
	if m.err != nil {
		summary = styles.err.Render(fmt.Sprintf("Error: %v", m.err))
	}

	helpView := m.help.ShortHelpView([]key.Binding{m.keys.filter, m.keys.resync, m.keys.quit})
	return fmt.Sprintf("%s\n\n%s\n\n%s", summary, m.library.View(), helpView)
}

func phaseLabel(p tasks.Phase) string {
	switch p {
	case tasks.AcquireToken:
		return "Checking linked account..."
	case tasks.FetchRemote:
		return "Fetching liked tracks..."
	case tasks.LoadMirror:
		return "Loading local library..."
	case tasks.ComputeChanges:
		return "Computing changes..."
	case tasks.CommitBatches:
		return "Writing changes"
	case tasks.Finished:
		return "Done"
	default:
		return "Processing..."
	}
}
