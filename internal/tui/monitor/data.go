package monitor

import (
	"time"

	"github.com/spoolworks/tally/internal/db"
	"github.com/spoolworks/tally/internal/models"
	"github.com/spoolworks/tally/internal/projection"
)

const historyRows = 50

// FetchData retrieves all data needed for the monitor display
func FetchData(database *db.DB, status StatusFunc) RefreshDataMsg {
	msg := RefreshDataMsg{
		Timestamp: time.Now(),
	}

	st, err := status()
	if err != nil {
		msg.Err = err
		return msg
	}
	msg.SyncStatus = st

	msg.Queue = fetchQueue(database)
	msg.Conflicts, _ = projection.New(database).SurfaceConflicts()
	msg.History, _ = database.GetSyncHistoryTail(historyRows)

	return msg
}

// fetchQueue returns everything still owed to the server: pending entries
// first in flush order, then failed ones awaiting a retry or discard.
func fetchQueue(database *db.DB) []models.MutationEntry {
	pending, _ := database.ListPending("", "")
	failed, _ := database.ListFailed()
	return append(pending, failed...)
}
