package monitor

import (
	"github.com/charmbracelet/lipgloss"
	"github.com/spoolworks/tally/internal/models"
	syncpkg "github.com/spoolworks/tally/internal/sync"
)

var (
	// Base colors
	primaryColor   = lipgloss.Color("212")
	secondaryColor = lipgloss.Color("141")
	mutedColor     = lipgloss.Color("241")
	successColor   = lipgloss.Color("42")
	warningColor   = lipgloss.Color("214")
	errorColor     = lipgloss.Color("196")

	// Panel styles
	panelStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("240")).
			Padding(0, 1)

	activePanelStyle = lipgloss.NewStyle().
				Border(lipgloss.RoundedBorder()).
				BorderForeground(primaryColor).
				Padding(0, 1)

	panelTitleStyle = lipgloss.NewStyle().
			Bold(true).
			Background(lipgloss.Color("237")).
			Foreground(lipgloss.Color("255")).
			Padding(0, 1)

	// Text styles
	titleStyle     = lipgloss.NewStyle().Bold(true)
	subtleStyle    = lipgloss.NewStyle().Foreground(mutedColor)
	helpStyle      = lipgloss.NewStyle().Foreground(mutedColor)
	timestampStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("244"))
	spinnerStyle   = lipgloss.NewStyle().Foreground(primaryColor)

	// Entry status styles
	statusStyles = map[models.EntryStatus]lipgloss.Style{
		models.StatusPending:    lipgloss.NewStyle().Foreground(lipgloss.Color("45")),
		models.StatusInFlight:   lipgloss.NewStyle().Foreground(warningColor),
		models.StatusApplied:    lipgloss.NewStyle().Foreground(successColor),
		models.StatusFailed:     lipgloss.NewStyle().Foreground(errorColor),
		models.StatusConflicted: lipgloss.NewStyle().Foreground(secondaryColor),
	}

	// Coordinator state styles
	stateStyles = map[syncpkg.State]lipgloss.Style{
		syncpkg.StateIdle:     lipgloss.NewStyle().Foreground(mutedColor),
		syncpkg.StateDraining: lipgloss.NewStyle().Foreground(successColor),
		syncpkg.StateBackoff:  lipgloss.NewStyle().Foreground(warningColor),
	}

	// Outcome badges
	appliedBadge    = lipgloss.NewStyle().Foreground(successColor)
	mergedBadge     = lipgloss.NewStyle().Foreground(lipgloss.Color("45"))
	conflictedBadge = lipgloss.NewStyle().Foreground(secondaryColor)
	failedBadge     = lipgloss.NewStyle().Foreground(errorColor)
)

// formatEntryStatus renders an entry status with color
func formatEntryStatus(s models.EntryStatus) string {
	style, ok := statusStyles[s]
	if !ok {
		return string(s)
	}
	return style.Render(string(s))
}

// formatState renders a coordinator state with color
func formatState(s syncpkg.State) string {
	style, ok := stateStyles[s]
	if !ok {
		return string(s)
	}
	return style.Render(string(s))
}

// formatOutcomeBadge renders a sync history outcome badge
func formatOutcomeBadge(outcome string) string {
	switch outcome {
	case "applied":
		return appliedBadge.Render("[OK ]")
	case "merged":
		return mergedBadge.Render("[MRG]")
	case "conflicted":
		return conflictedBadge.Render("[CON]")
	case "failed":
		return failedBadge.Render("[ERR]")
	default:
		return subtleStyle.Render("[???]")
	}
}
