package db

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spoolworks/tally/internal/models"
)

// GetServerState returns the last confirmed snapshot for an entity, or nil
// if the entity has never been seen from the server.
func (db *DB) GetServerState(entityType, entityID string) (*models.Snapshot, error) {
	var (
		snapshotStr sql.NullString
		version     int64
		fetchedAt   string
	)
	err := db.conn.QueryRow(`
		SELECT snapshot, version, fetched_at FROM server_state
		WHERE entity_type = ? AND entity_id = ?`, entityType, entityID,
	).Scan(&snapshotStr, &version, &fetchedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get server state %s/%s: %w", entityType, entityID, err)
	}

	snap := &models.Snapshot{
		EntityType: entityType,
		EntityID:   entityID,
		Version:    version,
	}
	if snapshotStr.Valid && snapshotStr.String != "" {
		if err := json.Unmarshal([]byte(snapshotStr.String), &snap.Fields); err != nil {
			return nil, fmt.Errorf("unmarshal snapshot %s/%s: %w", entityType, entityID, err)
		}
	}
	if ts, err := parseTimestamp(fetchedAt); err == nil {
		snap.FetchedAt = ts
	}
	return snap, nil
}

// PutServerState stores a confirmed snapshot, refusing to move backwards:
// a write with a version lower than the stored one is dropped so readers
// never observe state older than one they have already seen.
func (db *DB) PutServerState(snap *models.Snapshot) error {
	var fieldsJSON any
	if snap.Fields != nil {
		data, err := json.Marshal(snap.Fields)
		if err != nil {
			return fmt.Errorf("marshal snapshot: %w", err)
		}
		fieldsJSON = string(data)
	}

	return db.withWriteLock(func() error {
		_, err := db.conn.Exec(`
			INSERT INTO server_state (entity_type, entity_id, snapshot, version, fetched_at)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT (entity_type, entity_id) DO UPDATE SET
				snapshot = excluded.snapshot,
				version = excluded.version,
				fetched_at = excluded.fetched_at
			WHERE excluded.version >= server_state.version`,
			snap.EntityType, snap.EntityID, fieldsJSON, snap.Version, time.Now().UTC())
		if err != nil {
			return fmt.Errorf("put server state %s/%s: %w", snap.EntityType, snap.EntityID, err)
		}
		return nil
	})
}

// ListEntityIDs returns every known id for one entity type: confirmed
// entities plus ones that so far exist only as unflushed local creates.
func (db *DB) ListEntityIDs(entityType string) ([]string, error) {
	rows, err := db.conn.Query(`
		SELECT entity_id FROM server_state WHERE entity_type = ?
		UNION
		SELECT entity_id FROM mutation_log
		WHERE entity_type = ? AND status IN ('pending', 'in_flight', 'conflicted')
		ORDER BY entity_id`, entityType, entityType)
	if err != nil {
		return nil, fmt.Errorf("list %s ids: %w", entityType, err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// DeleteServerState removes the cached snapshot for an entity (confirmed
// server-side delete).
func (db *DB) DeleteServerState(entityType, entityID string) error {
	return db.withWriteLock(func() error {
		_, err := db.conn.Exec(`DELETE FROM server_state WHERE entity_type = ? AND entity_id = ?`,
			entityType, entityID)
		return err
	})
}
