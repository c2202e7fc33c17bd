package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spoolworks/tally/internal/db"
	"github.com/spoolworks/tally/internal/output"
	"github.com/spoolworks/tally/internal/syncconfig"
)

var statusCmd = &cobra.Command{
	Use:     "status",
	Short:   "Show sync state: connectivity, queue depth, conflicts",
	GroupID: "sync",
	RunE: func(cmd *cobra.Command, args []string) error {
		database, err := db.Open(getBaseDir())
		if err != nil {
			output.Error("%v", err)
			return err
		}
		defer database.Close()

		pending, err := database.CountPending()
		if err != nil {
			output.Error("%v", err)
			return err
		}
		conflicted, err := database.CountConflicted()
		if err != nil {
			output.Error("%v", err)
			return err
		}

		online := false
		authenticated := syncconfig.IsAuthenticated()
		if authenticated {
			if client, err := newSyncClient(); err == nil {
				_, probeErr := client.HealthCheck()
				online = probeErr == nil
			}
		}

		if jsonOut, _ := cmd.Flags().GetBool("json"); jsonOut {
			return output.JSON(map[string]any{
				"online":              online,
				"authenticated":       authenticated,
				"server_url":          syncconfig.GetServerURL(),
				"pending_count":       pending,
				"conflict_count":      conflicted,
				"has_pending_changes": pending > 0,
			})
		}

		fmt.Printf("%s  %s\n", output.ConnectivityBadge(online), syncconfig.GetServerURL())
		if !authenticated {
			output.Warning("not authenticated - run 'tally auth login'")
		}

		switch {
		case pending == 0 && conflicted == 0:
			output.Success("All changes synced.")
		default:
			fmt.Printf("Pending mutations: %d\n", pending)
			if conflicted > 0 {
				output.Warning("%d conflicted - run 'tally conflicts' to resolve", conflicted)
			}
		}

		history, err := database.GetSyncHistoryTail(5)
		if err == nil && len(history) > 0 {
			fmt.Print(output.SectionHeader("recent sync activity"))
			for _, h := range history {
				fmt.Printf("  %s  %s  %s/%s %s\n",
					h.Timestamp.Format("15:04:05"), h.Outcome,
					h.EntityType, h.EntityID, h.Detail)
			}
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
	addJSONFlag(statusCmd.Flags())
}
