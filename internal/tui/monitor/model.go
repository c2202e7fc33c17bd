// Package monitor implements the live sync monitor TUI: queue, conflicts and
// recent flush history refreshed on a timer while the coordinator runs.
package monitor

import (
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/spoolworks/tally/internal/db"
	"github.com/spoolworks/tally/internal/models"
	syncpkg "github.com/spoolworks/tally/internal/sync"
)

// Panel represents which panel is active
type Panel int

const (
	PanelQueue Panel = iota
	PanelConflicts
	PanelHistory
)

// StatusFunc returns the coordinator's current status.
type StatusFunc func() (syncpkg.Status, error)

// KickFunc requests an immediate flush.
type KickFunc func()

// Model is the main Bubble Tea model for the monitor TUI
type Model struct {
	DB     *db.DB
	Status StatusFunc
	Kick   KickFunc

	// Window dimensions
	Width  int
	Height int

	// Panel data
	SyncStatus syncpkg.Status
	Queue      []models.MutationEntry
	Conflicts  []models.Conflict
	History    []db.SyncHistoryEntry

	// UI state
	ActivePanel  Panel
	ScrollOffset map[Panel]int
	ShowHelp     bool
	LastRefresh  time.Time
	Spinner      spinner.Model
	Err          error

	// Configuration
	RefreshInterval time.Duration
}

// MinWidth is the minimum terminal width for proper display
const MinWidth = 40

// MinHeight is the minimum terminal height for proper display
const MinHeight = 12

// TickMsg triggers a data refresh
type TickMsg time.Time

// RefreshDataMsg carries refreshed data
type RefreshDataMsg struct {
	SyncStatus syncpkg.Status
	Queue      []models.MutationEntry
	Conflicts  []models.Conflict
	History    []db.SyncHistoryEntry
	Err        error
	Timestamp  time.Time
}

// NewModel creates a new monitor model
func NewModel(database *db.DB, status StatusFunc, kick KickFunc, interval time.Duration) Model {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = spinnerStyle
	return Model{
		DB:              database,
		Status:          status,
		Kick:            kick,
		RefreshInterval: interval,
		ScrollOffset:    make(map[Panel]int),
		ActivePanel:     PanelQueue,
		Spinner:         sp,
	}
}

// Init implements tea.Model
func (m Model) Init() tea.Cmd {
	return tea.Batch(
		m.fetchData(),
		m.scheduleTick(),
		m.Spinner.Tick,
	)
}

// Update implements tea.Model
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)

	case tea.WindowSizeMsg:
		m.Width = msg.Width
		m.Height = msg.Height
		return m, nil

	case TickMsg:
		return m, tea.Batch(m.fetchData(), m.scheduleTick())

	case RefreshDataMsg:
		m.SyncStatus = msg.SyncStatus
		m.Queue = msg.Queue
		m.Conflicts = msg.Conflicts
		m.History = msg.History
		m.Err = msg.Err
		m.LastRefresh = msg.Timestamp
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.Spinner, cmd = m.Spinner.Update(msg)
		return m, cmd
	}

	return m, nil
}

// handleKey processes key input
func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c":
		return m, tea.Quit

	case "tab":
		m.ActivePanel = (m.ActivePanel + 1) % 3
		return m, nil

	case "shift+tab":
		m.ActivePanel = (m.ActivePanel + 2) % 3
		return m, nil

	case "1":
		m.ActivePanel = PanelQueue
		return m, nil

	case "2":
		m.ActivePanel = PanelConflicts
		return m, nil

	case "3":
		m.ActivePanel = PanelHistory
		return m, nil

	case "j", "down":
		m.ScrollOffset[m.ActivePanel]++
		return m, nil

	case "k", "up":
		if m.ScrollOffset[m.ActivePanel] > 0 {
			m.ScrollOffset[m.ActivePanel]--
		}
		return m, nil

	case "s":
		if m.Kick != nil {
			m.Kick()
		}
		return m, m.fetchData()

	case "r":
		return m, m.fetchData()

	case "?":
		m.ShowHelp = !m.ShowHelp
		return m, nil
	}

	return m, nil
}

// View implements tea.Model
func (m Model) View() string {
	return m.renderView()
}

// scheduleTick returns a command that sends a TickMsg after the refresh interval
func (m Model) scheduleTick() tea.Cmd {
	return tea.Tick(m.RefreshInterval, func(t time.Time) tea.Msg {
		return TickMsg(t)
	})
}

// fetchData returns a command that fetches all data and sends a RefreshDataMsg
func (m Model) fetchData() tea.Cmd {
	return func() tea.Msg {
		return FetchData(m.DB, m.Status)
	}
}
