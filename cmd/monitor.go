package cmd

import (
	"context"
	"fmt"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
	"github.com/spoolworks/tally/internal/db"
	"github.com/spoolworks/tally/internal/netmon"
	"github.com/spoolworks/tally/internal/output"
	"github.com/spoolworks/tally/internal/projection"
	tallysync "github.com/spoolworks/tally/internal/sync"
	"github.com/spoolworks/tally/internal/syncconfig"
	"github.com/spoolworks/tally/internal/tui/monitor"
)

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Live TUI dashboard for the sync engine",
	Long: `Launch a live-updating dashboard showing:
- Queue: pending and failed mutations in flush order
- Conflicts: entries awaiting resolution
- Sync history: recent flush outcomes

The sync loop runs alongside the dashboard, so edits made in other terminals
flush while you watch.

Key bindings:
  Tab/Shift+Tab  Switch panels
  1/2/3          Jump to panel
  j/k            Scroll active panel
  s              Flush now
  r              Force refresh
  ?              Toggle help
  q              Quit`,
	GroupID: "sync",
	RunE: func(cmd *cobra.Command, args []string) error {
		database, err := db.Open(getBaseDir())
		if err != nil {
			output.Error("%v", err)
			return err
		}
		defer database.Close()

		client, err := newSyncClient()
		if err != nil {
			output.Error("%v", err)
			return err
		}

		netMonitor := netmon.New(func(ctx context.Context) bool {
			_, err := client.HealthCheck()
			return err == nil
		}, netmon.Options{PollInterval: syncconfig.GetPollInterval()})
		netMonitor.Start()
		defer netMonitor.Close()

		clientID, err := syncconfig.GetClientID()
		if err != nil {
			output.Error("%v", err)
			return err
		}

		coord := tallysync.NewCoordinator(tallysync.Config{
			DB:          database,
			Projection:  projection.New(database),
			Client:      client,
			Monitor:     netMonitor,
			ClientID:    clientID,
			MaxAttempts: syncconfig.GetMaxAttempts(),
		})

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		go coord.Run(ctx)

		interval, _ := cmd.Flags().GetDuration("interval")
		if interval < 500*time.Millisecond {
			interval = 2 * time.Second
		}

		model := monitor.NewModel(database, coord.Status, coord.Kick, interval)

		p := tea.NewProgram(model, tea.WithAltScreen())
		if _, err := p.Run(); err != nil {
			return fmt.Errorf("error running monitor: %w", err)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(monitorCmd)
	monitorCmd.Flags().Duration("interval", 2*time.Second, "Refresh interval")
}
