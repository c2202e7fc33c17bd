package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spoolworks/tally/internal/db"
	"github.com/spoolworks/tally/internal/output"
)

var pendingCmd = &cobra.Command{
	Use:     "pending",
	Aliases: []string{"queue"},
	Short:   "Show mutations not yet confirmed by the server",
	GroupID: "sync",
	RunE: func(cmd *cobra.Command, args []string) error {
		database, err := db.Open(getBaseDir())
		if err != nil {
			output.Error("%v", err)
			return err
		}
		defer database.Close()

		pending, err := database.ListPending("", "")
		if err != nil {
			output.Error("%v", err)
			return err
		}
		failed, err := database.ListFailed()
		if err != nil {
			output.Error("%v", err)
			return err
		}

		if jsonOut, _ := cmd.Flags().GetBool("json"); jsonOut {
			return output.JSON(map[string]any{
				"pending": pending,
				"failed":  failed,
			})
		}

		if len(pending) == 0 && len(failed) == 0 {
			fmt.Println("Queue empty, all changes synced.")
			return nil
		}

		if len(pending) > 0 {
			fmt.Printf("PENDING (%d):\n", len(pending))
			for i := range pending {
				fmt.Println("  " + output.FormatEntryShort(&pending[i]))
			}
		}

		if len(failed) > 0 {
			fmt.Printf("\nFAILED (%d):\n", len(failed))
			for i := range failed {
				fmt.Println("  " + output.FormatEntryShort(&failed[i]))
			}
			fmt.Println("\nUse 'tally retry <entry-id>' to re-queue or 'tally discard <entry-id>' to drop.")
		}

		return nil
	},
}

var retryCmd = &cobra.Command{
	Use:     "retry <entry-id>",
	Short:   "Re-queue a failed or conflicted mutation",
	GroupID: "sync",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		database, err := db.Open(getBaseDir())
		if err != nil {
			output.Error("%v", err)
			return err
		}
		defer database.Close()

		if err := database.Requeue(args[0]); err != nil {
			output.Error("%v", err)
			return err
		}
		output.Success("Re-queued %s", output.ShortID(args[0]))

		autoFlushAfterMutation(database)
		return nil
	},
}

var discardCmd = &cobra.Command{
	Use:     "discard <entry-id>",
	Short:   "Drop a failed or conflicted mutation without sending it",
	GroupID: "sync",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		database, err := db.Open(getBaseDir())
		if err != nil {
			output.Error("%v", err)
			return err
		}
		defer database.Close()

		if err := database.Discard(args[0]); err != nil {
			output.Error("%v", err)
			return err
		}
		output.Success("Discarded %s", output.ShortID(args[0]))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(pendingCmd)
	rootCmd.AddCommand(retryCmd)
	rootCmd.AddCommand(discardCmd)
	addJSONFlag(pendingCmd.Flags())
}
