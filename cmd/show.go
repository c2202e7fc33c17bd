package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spoolworks/tally/internal/db"
	"github.com/spoolworks/tally/internal/output"
	"github.com/spoolworks/tally/internal/projection"
)

var showCmd = &cobra.Command{
	Use:     "show <type> <id>",
	Aliases: []string{"get"},
	Short:   "Show an entity's current local view",
	Long: `Show the optimistic view of one entity: the last confirmed server state
with your unflushed edits folded in. A "notes" field is rendered as markdown.`,
	GroupID: "query",
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
		if view == nil {
			output.Error("%s/%s not found", entityType, entityID)
			return fmt.Errorf("entity not found")
		}

		if jsonOut, _ := cmd.Flags().GetBool("json"); jsonOut {
			return output.JSON(map[string]any{
				"entity_type": entityType,
				"entity_id":   entityID,
				"fields":      view.Fields,
				"version":     view.Version,
				"pending":     view.Pending,
				"deleted":     view.Deleted,
				"conflicted":  view.Conflicted,
			})
		}

		fmt.Print(output.FormatEntityLong(entityType, entityID, view))

		if notes, ok := view.Fields["notes"].(string); ok && notes != "" {
			if rendered, err := output.RenderMarkdown(notes); err == nil && rendered != "" {
				fmt.Println(output.SectionHeader("notes"))
				fmt.Println(output.IndentString(rendered, 2))
			}
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(showCmd)
	addJSONFlag(showCmd.Flags())
}
