package cmd

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"
	"github.com/spoolworks/tally/internal/db"
	"github.com/spoolworks/tally/internal/models"
	"github.com/spoolworks/tally/internal/output"
	"github.com/spoolworks/tally/internal/projection"
)

var conflictsCmd = &cobra.Command{
	Use:     "conflicts",
	Short:   "List version conflicts awaiting resolution",
	GroupID: "sync",
	RunE: func(cmd *cobra.Command, args []string) error {
		database, err := db.Open(getBaseDir())
		if err != nil {
			output.Error("%v", err)
			return err
		}
		defer database.Close()

		conflicts, err := projection.New(database).SurfaceConflicts()
		if err != nil {
			output.Error("%v", err)
			return err
		}

		if jsonOut, _ := cmd.Flags().GetBool("json"); jsonOut {
			return output.JSON(conflicts)
		}

		if len(conflicts) == 0 {
			output.Success("No conflicts.")
			return nil
		}

		for i := range conflicts {
			fmt.Println(output.FormatConflict(&conflicts[i]))
		}
		fmt.Println("Run 'tally conflicts resolve' to pick a side for each.")
		return nil
	},
}

var conflictsResolveCmd = &cobra.Command{
	Use:   "resolve [entry-id]",
	Short: "Resolve conflicts interactively",
	Long: `Walk through each conflict and pick a side. Keep-local re-queues your
patch against the server's current version; accept-server keeps the server's
state and drops your edit. Nothing is discarded without an explicit choice.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		database, err := db.Open(getBaseDir())
		if err != nil {
			output.Error("%v", err)
			return err
		}
		defer database.Close()

		conflicts, err := projection.New(database).SurfaceConflicts()
		if err != nil {
			output.Error("%v", err)
			return err
		}
		if len(args) == 1 {
			conflicts = filterConflicts(conflicts, args[0])
			if len(conflicts) == 0 {
				output.Error("no conflict with entry id %s", args[0])
				return fmt.Errorf("conflict not found")
			}
		}
		if len(conflicts) == 0 {
			output.Success("No conflicts.")
			return nil
		}

		resolved := 0
		for i := range conflicts {
			done, err := resolveOne(database, &conflicts[i])
			if err != nil {
				output.Error("%v", err)
				return err
			}
			if done {
				resolved++
			}
		}

		if resolved > 0 {
			output.Success("Resolved %d conflict(s)", resolved)
			autoFlushAfterMutation(database)
		}
		return nil
	},
}

func filterConflicts(conflicts []models.Conflict, entryID string) []models.Conflict {
	for i := range conflicts {
		if conflicts[i].EntryID == entryID {
			return conflicts[i : i+1]
		}
	}
	return nil
}

// resolveOne shows one conflict and applies the chosen resolution. Returns
// false when the user skips.
func resolveOne(database *db.DB, c *models.Conflict) (bool, error) {
	fmt.Println(output.FormatConflict(c))

	const (
		keepLocal    = "keep-local"
		acceptServer = "accept-server"
		skip         = "skip"
	)

	choice := skip
	form := huh.NewForm(huh.NewGroup(
		huh.NewSelect[string]().
			Title(fmt.Sprintf("Resolve %s/%s", c.EntityType, c.EntityID)).
			Options(
				huh.NewOption("Keep my edit (retry against server version)", keepLocal),
				huh.NewOption("Accept server state (drop my edit)", acceptServer),
				huh.NewOption("Skip for now", skip),
			).
			Value(&choice),
	))
	if err := form.Run(); err != nil {
		return false, err
	}

	switch choice {
	case keepLocal:
		// The patch stays; it is retried as an edit of the state the user
		// just reviewed.
		if err := database.Rebase(c.EntryID, c.ServerState, c.ServerVersion); err != nil {
			return false, err
		}
		if err := acceptServerState(database, c); err != nil {
			return false, err
		}
		output.Success("Re-queued %s against v%d", output.ShortID(c.EntryID), c.ServerVersion)
		return true, nil

	case acceptServer:
		if err := acceptServerState(database, c); err != nil {
			return false, err
		}
		if err := database.Discard(c.EntryID); err != nil {
			return false, err
		}
		output.Success("Kept server state for %s/%s", c.EntityType, c.EntityID)
		return true, nil
	}

	return false, nil
}

// acceptServerState records the conflict's server snapshot as the confirmed
// local cache so reads stop showing stale state.
func acceptServerState(database *db.DB, c *models.Conflict) error {
	snap := &models.Snapshot{
		EntityType: c.EntityType,
		EntityID:   c.EntityID,
		Version:    c.ServerVersion,
		FetchedAt:  time.Now().UTC(),
	}
	if len(c.ServerState) > 0 {
		if err := json.Unmarshal(c.ServerState, &snap.Fields); err != nil {
			return fmt.Errorf("unmarshal server state: %w", err)
		}
	}
	return database.PutServerState(snap)
}

func init() {
	rootCmd.AddCommand(conflictsCmd)
	conflictsCmd.AddCommand(conflictsResolveCmd)
	addJSONFlag(conflictsCmd.Flags())
}
