package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spoolworks/tally/internal/db"
	"github.com/spoolworks/tally/internal/models"
	"github.com/spoolworks/tally/internal/output"
	"github.com/spoolworks/tally/internal/projection"
)

var listCmd = &cobra.Command{
	Use:     "list [type]",
	Aliases: []string{"ls"},
	Short:   "List entities",
	Long: `List entities of one type, or every type when none is given. Each row is
the optimistic local view; entities with unflushed edits are marked.`,
	GroupID: "query",
	Args:    cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		types := models.EntityTypeNames()
		if len(args) == 1 {
			t, err := resolveEntity(args[0])
			if err != nil {
				output.Error("%v", err)
				return err
			}
			types = []string{t}
		}

		database, err := db.Open(getBaseDir())
		if err != nil {
			output.Error("%v", err)
			return err
		}
		defer database.Close()

		store := projection.New(database)
		jsonOut, _ := cmd.Flags().GetBool("json")

		var jsonRows []map[string]any
		shown := 0
		for _, entityType := range types {
			ids, err := database.ListEntityIDs(entityType)
			if err != nil {
				output.Error("%v", err)
				return err
			}

			printedHeader := false
			for _, id := range ids {
				view, err := store.Read(entityType, id)
				if err != nil {
					output.Error("%v", err)
					return err
				}
				if view == nil || view.Deleted {
					continue
				}

				if jsonOut {
					jsonRows = append(jsonRows, map[string]any{
						"entity_type": entityType,
						"entity_id":   id,
						"fields":      view.Fields,
						"version":     view.Version,
						"pending":     view.Pending,
						"conflicted":  view.Conflicted,
					})
					continue
				}

				if len(types) > 1 && !printedHeader {
					fmt.Print(output.SectionHeader(entityType))
					printedHeader = true
				}
				fmt.Println(output.FormatEntityShort(entityType, id, view))
				shown++
			}
		}

		if jsonOut {
			return output.JSON(jsonRows)
		}
		if shown == 0 {
			fmt.Println("No entities. Run 'tally create' to add one.")
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(listCmd)
	addJSONFlag(listCmd.Flags())
}
