package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
	"github.com/spoolworks/tally/internal/db"
	"github.com/spoolworks/tally/internal/output"
)

var (
	okMark       = lipgloss.NewStyle().Foreground(lipgloss.Color("42")).Render("✓")
	mergeMark    = lipgloss.NewStyle().Foreground(lipgloss.Color("45")).Render("±")
	conflictMark = lipgloss.NewStyle().Foreground(lipgloss.Color("141")).Render("◎")
	failMark     = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Render("✗")
	dimStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
)

var logCmd = &cobra.Command{
	Use:   "log",
	Short: "Show recent sync outcomes",
	Long: `Show the outcome of recent flushes. Use -f to follow in real-time.

Examples:
  tally log          # Show last 20 sync outcomes
  tally log -f       # Follow new outcomes in real-time
  tally log -n 50    # Show last 50 outcomes
  tally log -f -n 0  # Follow only new outcomes, skip history`,
	GroupID: "sync",
	RunE: func(cmd *cobra.Command, args []string) error {
		follow, _ := cmd.Flags().GetBool("follow")
		lines, _ := cmd.Flags().GetInt("lines")

		database, err := db.Open(getBaseDir())
		if err != nil {
			output.Error("open database: %v", err)
			return err
		}
		defer database.Close()

		var entries []db.SyncHistoryEntry
		if lines > 0 {
			entries, err = database.GetSyncHistoryTail(lines)
			if err != nil {
				output.Error("query sync history: %v", err)
				return err
			}
		}

		var maxID int64
		for _, e := range entries {
			printSyncEntry(e)
			if e.ID > maxID {
				maxID = e.ID
			}
		}

		if !follow {
			if len(entries) == 0 {
				fmt.Println("No sync activity recorded.")
			}
			return nil
		}

		// Following without history: start after the newest existing row.
		if maxID == 0 && lines == 0 {
			tail, _ := database.GetSyncHistoryTail(1)
			if len(tail) > 0 {
				maxID = tail[0].ID
			}
		}

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

		ticker := time.NewTicker(1 * time.Second)
		defer ticker.Stop()

		for {
			select {
			case <-sigCh:
				fmt.Println()
				return nil
			case <-ticker.C:
				newEntries, err := database.GetSyncHistory(maxID, 100)
				if err != nil {
					slog.Debug("log: poll", "err", err)
					continue
				}
				for _, e := range newEntries {
					printSyncEntry(e)
					if e.ID > maxID {
						maxID = e.ID
					}
				}
			}
		}
	},
}

func printSyncEntry(e db.SyncHistoryEntry) {
	mark := okMark
	switch e.Outcome {
	case db.OutcomeMerged:
		mark = mergeMark
	case db.OutcomeConflicted:
		mark = conflictMark
	case db.OutcomeFailed:
		mark = failMark
	}

	ts := dimStyle.Render(e.Timestamp.Format("15:04:05"))

	line := fmt.Sprintf("%s %s %s %s/%s (%s)", ts, mark, e.Outcome, e.EntityType, e.EntityID, e.Operation)
	if e.ServerVersion > 0 {
		line += dimStyle.Render(fmt.Sprintf(" v%d", e.ServerVersion))
	}
	if e.Detail != "" {
		line += " " + dimStyle.Render(e.Detail)
	}
	fmt.Println(line)
}

func init() {
	rootCmd.AddCommand(logCmd)
	logCmd.Flags().BoolP("follow", "f", false, "Follow new sync activity")
	logCmd.Flags().IntP("lines", "n", 20, "Number of history lines to show")
}
