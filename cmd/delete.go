package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spoolworks/tally/internal/db"
	"github.com/spoolworks/tally/internal/models"
	"github.com/spoolworks/tally/internal/output"
	"github.com/spoolworks/tally/internal/projection"
)

var deleteCmd = &cobra.Command{
	Use:     "delete <type> <id>",
	Aliases: []string{"rm"},
	Short:   "Delete an entity",
	Long: `Queue a delete. The entity disappears from reads immediately; earlier
unflushed edits to it are superseded by the delete.`,
	GroupID: "core",
	Args:    cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		entityType, err := resolveEntity(args[0])
		if err != nil {
			output.Error("%v", err)
			return err
		}
		entityID := args[1]

		database, err := db.Open(getBaseDir())
		if err != nil {
			output.Error("%v", err)
			return err
		}
		defer database.Close()

		view, err := projection.New(database).Read(entityType, entityID)
		if err != nil {
			output.Error("%v", err)
			return err
		}
		if view == nil || view.Deleted {
			output.Error("%s/%s not found", entityType, entityID)
			return fmt.Errorf("entity not found")
		}

		if _, err := appendMutation(database, models.OpDelete, entityType, entityID, nil); err != nil {
			output.Error("%v", err)
			return err
		}

		fmt.Printf("DELETED %s/%s\n", entityType, entityID)

		autoFlushAfterMutation(database)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(deleteCmd)
}
