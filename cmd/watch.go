package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spoolworks/tally/internal/db"
	"github.com/spoolworks/tally/internal/netmon"
	"github.com/spoolworks/tally/internal/output"
	"github.com/spoolworks/tally/internal/projection"
	tallysync "github.com/spoolworks/tally/internal/sync"
	"github.com/spoolworks/tally/internal/syncconfig"
)

var watchCmd = &cobra.Command{
	Use:     "watch",
	Aliases: []string{"daemon"},
	Short:   "Keep syncing in the background until interrupted",
	Long: `Run the sync loop: watch connectivity, flush pending mutations whenever
the server is reachable, and back off on network trouble. Ctrl+C stops it;
nothing is lost, the queue survives in the local log.`,
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

		monitor := netmon.New(func(ctx context.Context) bool {
			_, err := client.HealthCheck()
			return err == nil
		}, netmon.Options{PollInterval: syncconfig.GetPollInterval()})
		monitor.Start()
		defer monitor.Close()

		clientID, err := syncconfig.GetClientID()
		if err != nil {
			output.Error("%v", err)
			return err
		}

		coord := tallysync.NewCoordinator(tallysync.Config{
			DB:          database,
			Projection:  projection.New(database),
			Client:      client,
			Monitor:     monitor,
			ClientID:    clientID,
			MaxAttempts: syncconfig.GetMaxAttempts(),
		})

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		fmt.Printf("Watching %s (Ctrl+C to stop)\n", syncconfig.GetServerURL())
		return coord.Run(ctx)
	},
}

func init() {
	rootCmd.AddCommand(watchCmd)
}
