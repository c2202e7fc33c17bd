package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spoolworks/tally/internal/db"
	"github.com/spoolworks/tally/internal/models"
	"github.com/spoolworks/tally/internal/output"
	"github.com/spoolworks/tally/internal/projection"
)

var setCmd = &cobra.Command{
	Use:     "set <type> <id> field=value [field=value...]",
	Aliases: []string{"update", "edit"},
	Short:   "Update entity fields",
	Long: `Record a field-level update. Only the named fields change; the patch is
queued durably and flushed to the server when connectivity allows.`,
	Example: `  tally set spool s-0042 weight_grams=740
  tally set order o-1881 status=shipped carrier=ups`,
	GroupID: "core",
	Args:    cobra.MinimumNArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		entityType, err := resolveEntity(args[0])
		if err != nil {
			output.Error("%v", err)
			return err
		}
		entityID := args[1]

		patch, err := parseFields(args[2:])
		if err != nil {
			output.Error("%v", err)
			return err
		}

		database, err := db.Open(getBaseDir())
		if err != nil {
			output.Error("%v", err)
			return err
		}
		defer database.Close()

		// The entity must be visible locally, confirmed or optimistic.
		view, err := projection.New(database).Read(entityType, entityID)
		if err != nil {
			output.Error("%v", err)
			return err
		}
		if view == nil || view.Deleted {
			output.Error("%s/%s not found", entityType, entityID)
			return fmt.Errorf("entity not found")
		}

		updated, err := appendMutation(database, models.OpUpdate, entityType, entityID, patch)
		if err != nil {
			output.Error("%v", err)
			return err
		}

		fmt.Printf("UPDATED %s/%s\n", entityType, entityID)
		if updated != nil {
			output.Info("%s", output.FormatEntityShort(entityType, entityID, updated))
		}

		autoFlushAfterMutation(database)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(setCmd)
}
