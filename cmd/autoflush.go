package cmd

import (
	"context"
	"log/slog"
	"time"

	"github.com/spoolworks/tally/internal/db"
	"github.com/spoolworks/tally/internal/projection"
	tallysync "github.com/spoolworks/tally/internal/sync"
	"github.com/spoolworks/tally/internal/syncconfig"
)

// autoFlushAfterMutation runs a quick drain after a mutating command
// completes. Runs synchronously with a short timeout. Errors are logged, not
// returned; the mutation itself is already durable.
func autoFlushAfterMutation(database *db.DB) {
	if !syncconfig.GetAutoFlushEnabled() {
		return
	}
	if !syncconfig.IsAuthenticated() {
		return
	}

	client, err := newSyncClient()
	if err != nil {
		slog.Debug("autoflush: client", "err", err)
		return
	}
	client.HTTP.Timeout = 5 * time.Second // keep mutating commands snappy

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// One upfront reachability check stands in for the monitor here.
	if _, err := client.HealthCheck(); err != nil {
		return
	}

	clientID, err := syncconfig.GetClientID()
	if err != nil {
		return
	}

	coord := tallysync.NewCoordinator(tallysync.Config{
		DB:          database,
		Projection:  projection.New(database),
		Client:      client,
		Monitor:     staticConn(true),
		ClientID:    clientID,
		MaxAttempts: syncconfig.GetMaxAttempts(),
	})

	report, err := coord.DrainOnce(ctx)
	if err != nil {
		slog.Debug("autoflush: drain", "err", err)
		return
	}
	if !report.Empty() {
		slog.Debug("autoflush: drained",
			"applied", report.Applied, "merged", report.Merged,
			"conflicted", report.Conflicted, "failed", report.Failed)
	}
}
