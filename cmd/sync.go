package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/spoolworks/tally/internal/db"
	"github.com/spoolworks/tally/internal/output"
	"github.com/spoolworks/tally/internal/projection"
	tallysync "github.com/spoolworks/tally/internal/sync"
	"github.com/spoolworks/tally/internal/syncconfig"
)

var syncCmd = &cobra.Command{
	Use:     "sync",
	Aliases: []string{"flush", "push"},
	Short:   "Flush pending mutations to the server now",
	Long: `Run one drain pass: coalesce pending edits per entity and send them,
oldest entity first. Conflicts are surfaced, not auto-resolved.`,
	GroupID: "sync",
	RunE: func(cmd *cobra.Command, args []string) error {
		if !syncconfig.IsAuthenticated() {
			output.Error("not authenticated - run 'tally auth login' or set TALLY_AUTH_KEY")
			return fmt.Errorf("not authenticated")
		}

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

		if _, err := client.HealthCheck(); err != nil {
			output.Error("server unreachable: %v", err)
			return err
		}

		clientID, err := syncconfig.GetClientID()
		if err != nil {
			output.Error("%v", err)
			return err
		}

		coord := tallysync.NewCoordinator(tallysync.Config{
			DB:          database,
			Projection:  projection.New(database),
			Client:      client,
			Monitor:     staticConn(true),
			ClientID:    clientID,
			MaxAttempts: syncconfig.GetMaxAttempts(),
		})

		timeout, _ := cmd.Flags().GetDuration("timeout")
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		report, err := coord.DrainOnce(ctx)
		if err != nil {
			output.Error("%v", err)
			return err
		}

		switch {
		case report.Empty() && !report.Transient:
			output.Success("Nothing to sync.")
		default:
			if report.Applied > 0 {
				output.Success("Applied %d", report.Applied)
			}
			if report.Merged > 0 {
				output.Success("Auto-merged %d", report.Merged)
			}
			if report.Conflicted > 0 {
				output.Warning("%d conflicted - run 'tally conflicts' to resolve", report.Conflicted)
			}
			if report.Failed > 0 {
				output.Error("%d rejected - run 'tally pending' for details", report.Failed)
			}
			if report.Transient {
				output.Warning("network trouble mid-sync; remaining entries stay queued")
			}
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(syncCmd)
	syncCmd.Flags().Duration("timeout", 60*time.Second, "Overall sync deadline")
}
