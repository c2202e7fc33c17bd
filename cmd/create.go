package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spoolworks/tally/internal/db"
	"github.com/spoolworks/tally/internal/models"
	"github.com/spoolworks/tally/internal/output"
)

var createCmd = &cobra.Command{
	Use:     "create <type> <id> [field=value...]",
	Aliases: []string{"add", "new"},
	Short:   "Create an entity",
	Long: `Create a spool, product, production run or order. The entity appears in
reads immediately; the write syncs to the server in the background.`,
	Example: `  tally create spool s-0042 material=PLA color=black weight_grams=1000
  tally create order o-1881 customer=acme quantity=12 status=open`,
	GroupID: "core",
	Args:    cobra.MinimumNArgs(2),
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
		if len(patch) == 0 {
			output.Error("at least one field=value is required")
			return fmt.Errorf("empty create")
		}

		database, err := db.Open(getBaseDir())
		if err != nil {
			output.Error("%v", err)
			return err
		}
		defer database.Close()

		// Refuse to create over something that already exists locally.
		existing, err := database.GetServerState(entityType, entityID)
		if err != nil {
			output.Error("%v", err)
			return err
		}
		if existing != nil && !existing.Deleted() {
			output.Error("%s/%s already exists", entityType, entityID)
			return fmt.Errorf("entity exists")
		}

		view, err := appendMutation(database, models.OpCreate, entityType, entityID, patch)
		if err != nil {
			output.Error("%v", err)
			return err
		}

		fmt.Printf("CREATED %s/%s\n", entityType, entityID)
		if view != nil && view.Pending > 0 {
			output.Info("%s", output.FormatEntityShort(entityType, entityID, view))
		}

		autoFlushAfterMutation(database)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(createCmd)
}
