package monitor

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/spoolworks/tally/internal/db"
	"github.com/spoolworks/tally/internal/models"
	syncpkg "github.com/spoolworks/tally/internal/sync"
)

// renderView renders the complete TUI view
func (m Model) renderView() string {
	if m.Width == 0 || m.Height == 0 {
		return "Loading..."
	}

	// Handle small terminal sizes gracefully
	if m.Width < MinWidth || m.Height < MinHeight {
		return m.renderCompact()
	}

	if m.Err != nil {
		return m.renderError()
	}

	if m.ShowHelp {
		return m.renderHelp()
	}

	header := m.renderHeader()

	// Calculate panel heights (3 panels + header + footer)
	availableHeight := m.Height - 4
	panelHeight := availableHeight / 3

	queue := m.renderQueuePanel(panelHeight)
	conflicts := m.renderConflictsPanel(panelHeight)
	history := m.renderHistoryPanel(panelHeight)

	footer := m.renderFooter()

	return lipgloss.JoinVertical(lipgloss.Left, header, queue, conflicts, history, footer)
}

// renderCompact renders a minimal view for small terminals
func (m Model) renderCompact() string {
	var s strings.Builder

	s.WriteString("tally monitor (resize for full view)\n\n")
	s.WriteString(fmt.Sprintf("State: %s\n", m.SyncStatus.State))
	s.WriteString(fmt.Sprintf("Pending: %d | Conflicts: %d\n",
		m.SyncStatus.PendingCount, m.SyncStatus.ConflictCount))
	s.WriteString("\nq:quit s:sync r:refresh ?:help")

	return s.String()
}

// renderError renders an error message
func (m Model) renderError() string {
	return fmt.Sprintf("Error: %v\n\nPress r to retry, q to quit", m.Err)
}

// renderHeader renders the one-line sync state summary
func (m Model) renderHeader() string {
	var parts []string

	state := formatState(m.SyncStatus.State)
	if m.SyncStatus.State == syncpkg.StateDraining {
		state = m.Spinner.View() + state
	}
	parts = append(parts, state)

	if m.SyncStatus.Online {
		parts = append(parts, lipgloss.NewStyle().Foreground(successColor).Render("● online"))
	} else {
		parts = append(parts, subtleStyle.Render("○ offline"))
	}

	parts = append(parts, fmt.Sprintf("pending: %d", m.SyncStatus.PendingCount))
	if m.SyncStatus.ConflictCount > 0 {
		parts = append(parts, lipgloss.NewStyle().Foreground(warningColor).
			Render(fmt.Sprintf("conflicts: %d", m.SyncStatus.ConflictCount)))
	}

	if m.SyncStatus.LastSyncAt != nil {
		parts = append(parts, timestampStyle.Render(
			"last sync "+m.SyncStatus.LastSyncAt.Format("15:04:05")))
	}
	if m.SyncStatus.LastError != "" {
		parts = append(parts, errorStyle.Render(truncateString(m.SyncStatus.LastError, m.Width/3)))
	}

	return " " + strings.Join(parts, "  ")
}

// renderQueuePanel renders the outbound queue panel (Panel 1)
func (m Model) renderQueuePanel(height int) string {
	var content strings.Builder

	if len(m.Queue) == 0 {
		content.WriteString(subtleStyle.Render("Queue empty, all changes synced"))
	} else {
		offset := m.ScrollOffset[PanelQueue]
		visible := m.visibleItems(len(m.Queue), offset, height-2)

		for i := offset; i < offset+visible && i < len(m.Queue); i++ {
			content.WriteString(m.formatQueueEntry(&m.Queue[i]))
			content.WriteString("\n")
		}
	}

	title := fmt.Sprintf("QUEUE (%d)", len(m.Queue))
	return m.wrapPanel(title, content.String(), height, PanelQueue)
}

// renderConflictsPanel renders the conflicts panel (Panel 2)
func (m Model) renderConflictsPanel(height int) string {
	var content strings.Builder

	if len(m.Conflicts) == 0 {
		content.WriteString(subtleStyle.Render("No conflicts"))
	} else {
		offset := m.ScrollOffset[PanelConflicts]
		visible := m.visibleItems(len(m.Conflicts), offset, height-2)

		for i := offset; i < offset+visible && i < len(m.Conflicts); i++ {
			content.WriteString(m.formatConflict(&m.Conflicts[i]))
			content.WriteString("\n")
		}
	}

	title := fmt.Sprintf("CONFLICTS (%d)", len(m.Conflicts))
	return m.wrapPanel(title, content.String(), height, PanelConflicts)
}

// renderHistoryPanel renders the sync history panel (Panel 3)
func (m Model) renderHistoryPanel(height int) string {
	var content strings.Builder

	if len(m.History) == 0 {
		content.WriteString(subtleStyle.Render("No sync activity yet"))
	} else {
		offset := m.ScrollOffset[PanelHistory]
		// Newest first for the feed
		items := make([]db.SyncHistoryEntry, len(m.History))
		for i, h := range m.History {
			items[len(m.History)-1-i] = h
		}
		visible := m.visibleItems(len(items), offset, height-2)

		for i := offset; i < offset+visible && i < len(items); i++ {
			content.WriteString(m.formatHistoryItem(items[i]))
			content.WriteString("\n")
		}
	}

	return m.wrapPanel("SYNC HISTORY", content.String(), height, PanelHistory)
}

// formatQueueEntry formats a mutation entry in a compact single-line format
func (m Model) formatQueueEntry(e *models.MutationEntry) string {
	parts := []string{
		subtleStyle.Render(fmt.Sprintf("#%-4d", e.Seq)),
		formatEntryStatus(e.Status),
		titleStyle.Render(e.EntityType + "/" + e.EntityID),
		string(e.Operation),
	}
	if e.FailureReason != "" {
		parts = append(parts, errorStyle.Render(truncateString(e.FailureReason, m.Width/3)))
	}
	return strings.Join(parts, " ")
}

// formatConflict formats a surfaced conflict in a single line
func (m Model) formatConflict(c *models.Conflict) string {
	var server map[string]any
	_ = json.Unmarshal(c.ServerState, &server)

	detail := ""
	if len(c.Fields) > 0 {
		f := c.Fields[0]
		detail = fmt.Sprintf("%s: local %v vs server %v", f, c.LocalPatch[f], server[f])
		if len(c.Fields) > 1 {
			detail += fmt.Sprintf(" (+%d more)", len(c.Fields)-1)
		}
	}

	return fmt.Sprintf("%s %s %s",
		titleStyle.Render(c.EntityType+"/"+c.EntityID),
		subtleStyle.Render(fmt.Sprintf("v%d", c.ServerVersion)),
		truncateString(detail, m.Width-30))
}

// formatHistoryItem formats a single sync history row
func (m Model) formatHistoryItem(h db.SyncHistoryEntry) string {
	timestamp := timestampStyle.Render(h.Timestamp.Format("15:04:05"))
	badge := formatOutcomeBadge(h.Outcome)
	entity := titleStyle.Render(h.EntityType + "/" + h.EntityID)

	detail := h.Detail
	if detail == "" && h.ServerVersion > 0 {
		detail = fmt.Sprintf("v%d", h.ServerVersion)
	}

	return fmt.Sprintf("%s %s %s %s %s", timestamp, badge, entity,
		subtleStyle.Render(h.Operation), truncateString(detail, m.Width-45))
}

// renderFooter renders the footer with key bindings and refresh time
func (m Model) renderFooter() string {
	keys := helpStyle.Render("q:quit  tab:switch  j/k:scroll  s:sync now  r:refresh  ?:help")

	refresh := timestampStyle.Render(fmt.Sprintf("Last: %s", m.LastRefresh.Format("15:04:05")))

	padding := m.Width - lipgloss.Width(keys) - lipgloss.Width(refresh) - 2
	if padding < 0 {
		padding = 0
	}

	return fmt.Sprintf(" %s%s%s", keys, strings.Repeat(" ", padding), refresh)
}

// renderHelp renders the help overlay
func (m Model) renderHelp() string {
	help := `
SYNC MONITOR - Key Bindings

NAVIGATION:
  Tab / Shift+Tab   Switch between panels
  1 / 2 / 3         Jump to panel
  j / k, ↑ / ↓      Scroll active panel

ACTIONS:
  s                 Flush pending mutations now
  r                 Force refresh
  q / Ctrl+C        Quit

Press ? to close help
`
	return helpStyle.Render(help)
}

// wrapPanel wraps content in a panel with title and border
func (m Model) wrapPanel(title, content string, height int, panel Panel) string {
	style := panelStyle
	if m.ActivePanel == panel {
		style = activePanelStyle
	}

	titleStr := panelTitleStyle.Render(title)

	contentWidth := m.Width - 4

	lines := strings.Split(content, "\n")
	contentHeight := height - 3

	for len(lines) < contentHeight {
		lines = append(lines, "")
	}
	if len(lines) > contentHeight {
		lines = lines[:contentHeight]
	}

	for i, line := range lines {
		if lipgloss.Width(line) > contentWidth {
			lines[i] = truncateString(line, contentWidth)
		}
	}

	body := strings.Join(lines, "\n")

	inner := lipgloss.JoinVertical(lipgloss.Left, titleStr, body)

	return style.Width(m.Width - 2).Render(inner)
}

// visibleItems calculates how many items can be shown given scroll offset and height
func (m Model) visibleItems(total, offset, height int) int {
	remaining := total - offset
	if remaining > height {
		return height
	}
	return remaining
}

// truncateString truncates a string to maxLen with ellipsis
func truncateString(s string, maxLen int) string {
	if maxLen <= 3 {
		return s
	}
	if lipgloss.Width(s) <= maxLen {
		return s
	}
	if len(s) > maxLen-3 {
		return s[:maxLen-3] + "..."
	}
	return s
}

var errorStyle = lipgloss.NewStyle().Foreground(errorColor)
