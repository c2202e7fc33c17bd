package cmd

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/pflag"

	"github.com/spoolworks/tally/internal/db"
	"github.com/spoolworks/tally/internal/models"
	"github.com/spoolworks/tally/internal/projection"
	"github.com/spoolworks/tally/internal/syncclient"
	"github.com/spoolworks/tally/internal/syncconfig"
)

// addJSONFlag registers the machine-readable output flag shared by the
// query commands.
func addJSONFlag(flags *pflag.FlagSet) {
	flags.Bool("json", false, "JSON output")
}

// resolveEntity normalizes and validates a user-supplied entity type.
func resolveEntity(arg string) (string, error) {
	t := models.NormalizeEntityType(arg)
	if t == "" {
		return "", fmt.Errorf("unknown entity type %q (valid: %s)",
			arg, strings.Join(models.EntityTypeNames(), ", "))
	}
	return t, nil
}

// parseFields turns "field=value" args into a patch. Values that parse as
// numbers, booleans or null become typed; everything else stays a string.
func parseFields(args []string) (models.Patch, error) {
	patch := make(models.Patch, len(args))
	for _, arg := range args {
		idx := strings.Index(arg, "=")
		if idx <= 0 {
			return nil, fmt.Errorf("expected field=value, got %q", arg)
		}
		field := strings.TrimSpace(arg[:idx])
		patch[field] = parseValue(arg[idx+1:])
	}
	return patch, nil
}

func parseValue(s string) any {
	switch s {
	case "true":
		return true
	case "false":
		return false
	case "null":
		return nil
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	return s
}

// appendMutation records a local edit: captures the entity's last confirmed
// server state as the entry's base, appends to the durable log, and returns
// the refreshed optimistic view.
func appendMutation(database *db.DB, op models.Operation, entityType, entityID string, patch models.Patch) (*models.EntityView, error) {
	entry := &models.MutationEntry{
		ID:         uuid.NewString(),
		EntityType: entityType,
		EntityID:   entityID,
		Operation:  op,
		Payload:    patch,
	}

	if snap, err := database.GetServerState(entityType, entityID); err != nil {
		return nil, err
	} else if snap != nil {
		entry.BaseVersion = snap.Version
		if snap.Fields != nil {
			base, err := json.Marshal(snap.Fields)
			if err != nil {
				return nil, fmt.Errorf("marshal base snapshot: %w", err)
			}
			entry.BaseSnapshot = base
		}
	}

	if err := database.Append(entry); err != nil {
		return nil, err
	}

	return projection.New(database).ApplyLocal(entry)
}

// staticConn is a fixed connectivity reading for one-shot drains, where a
// single upfront reachability probe replaces the long-lived monitor.
type staticConn bool

func (s staticConn) IsOnline() bool { return bool(s) }

func (s staticConn) Subscribe(func(online bool)) func() { return func() {} }

// newSyncClient builds the remote API client from global config.
func newSyncClient() (*syncclient.Client, error) {
	clientID, err := syncconfig.GetClientID()
	if err != nil {
		return nil, fmt.Errorf("client id: %w", err)
	}
	return syncclient.New(syncconfig.GetServerURL(), syncconfig.GetAPIKey(), clientID), nil
}
