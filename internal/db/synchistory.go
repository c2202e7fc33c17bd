package db

import (
	"time"
)

// SyncHistoryEntry represents a row from the sync_history table.
type SyncHistoryEntry struct {
	ID            int64
	EntryID       string
	EntityType    string
	EntityID      string
	Operation     string // "create", "update", "delete"
	Outcome       string // "applied", "merged", "conflicted", "failed"
	Detail        string
	ServerVersion int64
	Timestamp     time.Time
}

// Drain outcome names recorded in sync_history.
const (
	OutcomeApplied    = "applied"
	OutcomeMerged     = "merged"
	OutcomeConflicted = "conflicted"
	OutcomeFailed     = "failed"
)

const syncHistoryMaxRows = 500

// RecordSyncHistory batch-inserts drain outcomes and prunes old rows.
// Returns nil if entries is empty.
func (db *DB) RecordSyncHistory(entries []SyncHistoryEntry) error {
	if len(entries) == 0 {
		return nil
	}

	return db.withWriteLock(func() error {
		tx, err := db.conn.Begin()
		if err != nil {
			return err
		}
		defer tx.Rollback()

		stmt, err := tx.Prepare(`
			INSERT INTO sync_history (entry_id, entity_type, entity_id, operation, outcome, detail, server_version, timestamp)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		now := time.Now().UTC()
		for _, e := range entries {
			ts := e.Timestamp
			if ts.IsZero() {
				ts = now
			}
			if _, err := stmt.Exec(e.EntryID, e.EntityType, e.EntityID, e.Operation, e.Outcome, e.Detail, e.ServerVersion, ts); err != nil {
				return err
			}
		}

		_, err = tx.Exec(`
			DELETE FROM sync_history WHERE id NOT IN (
				SELECT id FROM sync_history ORDER BY id DESC LIMIT ?
			)`, syncHistoryMaxRows)
		if err != nil {
			return err
		}

		return tx.Commit()
	})
}

// GetSyncHistoryTail returns the last N entries in chronological order (oldest first).
func (db *DB) GetSyncHistoryTail(limit int) ([]SyncHistoryEntry, error) {
	entries, err := db.queryHistory(`
		SELECT id, entry_id, entity_type, entity_id, operation, outcome, detail, server_version, timestamp
		FROM sync_history ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}

	// Reverse to chronological order
	for i, j := 0, len(entries)-1; i < j; i, j = i+1, j-1 {
		entries[i], entries[j] = entries[j], entries[i]
	}
	return entries, nil
}

// GetSyncHistory returns entries with id > afterID, ordered by id ASC.
// Used for follow-mode polling.
func (db *DB) GetSyncHistory(afterID int64, limit int) ([]SyncHistoryEntry, error) {
	return db.queryHistory(`
		SELECT id, entry_id, entity_type, entity_id, operation, outcome, detail, server_version, timestamp
		FROM sync_history WHERE id > ? ORDER BY id ASC LIMIT ?`, afterID, limit)
}

func (db *DB) queryHistory(query string, args ...any) ([]SyncHistoryEntry, error) {
	rows, err := db.conn.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []SyncHistoryEntry
	for rows.Next() {
		var e SyncHistoryEntry
		var ts string
		if err := rows.Scan(&e.ID, &e.EntryID, &e.EntityType, &e.EntityID, &e.Operation, &e.Outcome, &e.Detail, &e.ServerVersion, &ts); err != nil {
			return nil, err
		}
		parsed, parseErr := parseTimestamp(ts)
		if parseErr != nil {
			return nil, parseErr
		}
		e.Timestamp = parsed
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
