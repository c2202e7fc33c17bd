// Package output provides styled terminal output helpers (success, error,
// warning, entity and mutation formatting) using lipgloss.
package output

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/spoolworks/tally/internal/models"
)

var (
	// Styles
	titleStyle   = lipgloss.NewStyle().Bold(true)
	subtleStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	warningStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	pendingStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("45"))
	statusStyles = map[models.EntryStatus]lipgloss.Style{
		models.StatusPending:    lipgloss.NewStyle().Foreground(lipgloss.Color("45")),
		models.StatusInFlight:   lipgloss.NewStyle().Foreground(lipgloss.Color("214")),
		models.StatusApplied:    lipgloss.NewStyle().Foreground(lipgloss.Color("42")),
		models.StatusFailed:     lipgloss.NewStyle().Foreground(lipgloss.Color("196")),
		models.StatusConflicted: lipgloss.NewStyle().Foreground(lipgloss.Color("141")),
	}
)

// Success prints a success message
func Success(format string, args ...interface{}) {
	fmt.Println(successStyle.Render(fmt.Sprintf(format, args...)))
}

// Error prints an error message
func Error(format string, args ...interface{}) {
	fmt.Println(errorStyle.Render("ERROR: " + fmt.Sprintf(format, args...)))
}

// Warning prints a warning message
func Warning(format string, args ...interface{}) {
	fmt.Println(warningStyle.Render("Warning: " + fmt.Sprintf(format, args...)))
}

// Info prints an info message
func Info(format string, args ...interface{}) {
	fmt.Println(fmt.Sprintf(format, args...))
}

// JSON outputs data as JSON
func JSON(v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}

// Error codes for structured JSON output
const (
	ErrCodeNotFound      = "not_found"
	ErrCodeInvalidInput  = "invalid_input"
	ErrCodeConflict      = "conflict"
	ErrCodeOffline       = "offline"
	ErrCodeDatabaseError = "database_error"
	ErrCodeSyncError     = "sync_error"
)

// JSONError outputs an error as JSON
func JSONError(code, message string) {
	fmt.Printf(`{"error":{"code":"%s","message":"%s"}}`, code, message)
	fmt.Println()
}

// FormatEntryStatus formats a mutation entry status with color
func FormatEntryStatus(s models.EntryStatus) string {
	style, ok := statusStyles[s]
	if !ok {
		return string(s)
	}
	return style.Render(fmt.Sprintf("[%s]", s))
}

// StatusBadge returns a status indicator with symbol
// e.g., "○ pending", "▶ in_flight", "✓ applied", "✗ failed", "◎ conflicted"
func StatusBadge(status models.EntryStatus) string {
	symbols := map[models.EntryStatus]string{
		models.StatusPending:    "○",
		models.StatusInFlight:   "▶",
		models.StatusApplied:    "✓",
		models.StatusFailed:     "✗",
		models.StatusConflicted: "◎",
	}
	symbol, ok := symbols[status]
	if !ok {
		symbol = "?"
	}
	style, hasStyle := statusStyles[status]
	if hasStyle {
		return style.Render(fmt.Sprintf("%s %s", symbol, status))
	}
	return fmt.Sprintf("%s %s", symbol, status)
}

// ShortID shortens a mutation entry id to 8 characters for display
func ShortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// FormatEntryShort formats a mutation log entry in short format
func FormatEntryShort(e *models.MutationEntry) string {
	var parts []string
	parts = append(parts, subtleStyle.Render(fmt.Sprintf("#%d", e.Seq)))
	parts = append(parts, titleStyle.Render(e.EntityType+"/"+e.EntityID))
	parts = append(parts, string(e.Operation))
	if len(e.Payload) > 0 {
		parts = append(parts, subtleStyle.Render(summarizePatch(e.Payload)))
	}
	parts = append(parts, FormatEntryStatus(e.Status))
	if e.FailureReason != "" {
		parts = append(parts, errorStyle.Render(e.FailureReason))
	}
	return strings.Join(parts, "  ")
}

// summarizePatch renders a patch as "field=value field=value" sorted by field
func summarizePatch(p models.Patch) string {
	fields := p.Fields()
	sort.Strings(fields)
	pairs := make([]string, 0, len(fields))
	for _, f := range fields {
		pairs = append(pairs, fmt.Sprintf("%s=%v", f, p[f]))
	}
	return strings.Join(pairs, " ")
}

// FormatEntityShort formats a projected entity in short format.
// Pending entities carry a "~" marker, conflicted ones "!".
func FormatEntityShort(entityType, entityID string, view *models.EntityView) string {
	var parts []string
	parts = append(parts, titleStyle.Render(entityType+"/"+entityID))

	switch {
	case view.Deleted:
		parts = append(parts, errorStyle.Render("[deleted]"))
	case view.Conflicted:
		parts = append(parts, warningStyle.Render("! conflicted"))
	case view.Pending > 0:
		parts = append(parts, pendingStyle.Render(fmt.Sprintf("~ %d pending", view.Pending)))
	default:
		parts = append(parts, successStyle.Render("✓ synced"))
	}

	parts = append(parts, subtleStyle.Render(fmt.Sprintf("v%d", view.Version)))
	return strings.Join(parts, "  ")
}

// FormatEntityLong formats a projected entity with all fields, one per line.
func FormatEntityLong(entityType, entityID string, view *models.EntityView) string {
	var sb strings.Builder
	sb.WriteString(FormatEntityShort(entityType, entityID, view))
	sb.WriteString("\n")

	if view.Deleted {
		return sb.String()
	}

	fields := make([]string, 0, len(view.Fields))
	for f := range view.Fields {
		fields = append(fields, f)
	}
	sort.Strings(fields)
	for _, f := range fields {
		sb.WriteString(fmt.Sprintf("  %s: %v\n", f, view.Fields[f]))
	}
	return sb.String()
}

// FormatConflict formats a surfaced conflict with both sides of each
// contested field.
func FormatConflict(c *models.Conflict) string {
	var sb strings.Builder
	sb.WriteString(titleStyle.Render(fmt.Sprintf("%s/%s", c.EntityType, c.EntityID)))
	sb.WriteString(warningStyle.Render("  conflicted"))
	sb.WriteString(subtleStyle.Render(fmt.Sprintf("  (entry %s, server v%d, %s)",
		ShortID(c.EntryID), c.ServerVersion, FormatTimeAgo(c.DetectedAt))))
	sb.WriteString("\n")

	var server map[string]any
	_ = json.Unmarshal(c.ServerState, &server)

	for _, f := range c.Fields {
		sb.WriteString(fmt.Sprintf("  %s:\n", f))
		sb.WriteString(fmt.Sprintf("    local:  %v\n", c.LocalPatch[f]))
		sb.WriteString(fmt.Sprintf("    server: %v\n", server[f]))
	}
	return sb.String()
}

// FormatTimeAgo formats a time as a human-readable "ago" string
func FormatTimeAgo(t time.Time) string {
	diff := time.Since(t)

	switch {
	case diff < time.Minute:
		return "just now"
	case diff < time.Hour:
		mins := int(diff.Minutes())
		if mins == 1 {
			return "1m ago"
		}
		return fmt.Sprintf("%dm ago", mins)
	case diff < 24*time.Hour:
		hours := int(diff.Hours())
		if hours == 1 {
			return "1h ago"
		}
		return fmt.Sprintf("%dh ago", hours)
	case diff < 7*24*time.Hour:
		days := int(diff.Hours() / 24)
		if days == 1 {
			return "1d ago"
		}
		return fmt.Sprintf("%dd ago", days)
	default:
		return t.Format("2006-01-02")
	}
}

// ConnectivityBadge renders the online/offline indicator.
func ConnectivityBadge(online bool) string {
	if online {
		return successStyle.Render("● online")
	}
	return subtleStyle.Render("○ offline")
}

// SectionHeader returns a formatted section header for CLI output
// e.g., "\nCONFLICTS:\n"
func SectionHeader(title string) string {
	return fmt.Sprintf("\n%s:\n", strings.ToUpper(title))
}

// IndentString indents each line in a string by the specified number of spaces
func IndentString(s string, spaces int) string {
	if s == "" {
		return ""
	}
	indent := strings.Repeat(" ", spaces)
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		lines[i] = indent + line
	}
	return strings.Join(lines, "\n")
}
