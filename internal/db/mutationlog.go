package db

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/spoolworks/tally/internal/models"
)

// ErrValidation is returned by Append when a mutation is malformed. It is the
// only synchronous caller-visible error class: it indicates a programming
// error at the call site, so the entry never enters the log.
var ErrValidation = errors.New("invalid mutation")

var validColumnName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// validateEntry checks an entry before it is allowed into the log.
func validateEntry(e *models.MutationEntry) error {
	if e.EntityType == "" {
		return fmt.Errorf("%w: missing entity type", ErrValidation)
	}
	if e.EntityID == "" {
		return fmt.Errorf("%w: missing entity id", ErrValidation)
	}
	if !models.ValidOperation(e.Operation) {
		return fmt.Errorf("%w: unknown operation %q", ErrValidation, e.Operation)
	}
	if e.Operation != models.OpDelete && len(e.Payload) == 0 {
		return fmt.Errorf("%w: empty patch for %s", ErrValidation, e.Operation)
	}
	for field := range e.Payload {
		if !validColumnName.MatchString(field) {
			return fmt.Errorf("%w: bad field name %q", ErrValidation, field)
		}
	}
	return nil
}

// Append validates and persists a mutation entry, assigning its sequence
// number from the per-client logical clock in the same transaction. The entry
// is durable before Append returns; e.Seq and e.CreatedAt are filled in.
func (db *DB) Append(e *models.MutationEntry) error {
	if err := validateEntry(e); err != nil {
		return err
	}
	if e.ID == "" {
		return fmt.Errorf("%w: missing entry id", ErrValidation)
	}

	payload, err := json.Marshal(e.Payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	return db.withWriteLock(func() error {
		tx, err := db.conn.Begin()
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback()

		var seq int64
		if err := tx.QueryRow(`SELECT next_seq FROM seq_counter WHERE id = 1`).Scan(&seq); err != nil {
			return fmt.Errorf("read seq counter: %w", err)
		}

		now := time.Now().UTC()
		_, err = tx.Exec(`
			INSERT INTO mutation_log (id, entity_type, entity_id, operation, payload, base_version, base_snapshot, seq, status, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			e.ID, e.EntityType, e.EntityID, string(e.Operation), string(payload),
			e.BaseVersion, nullableJSON(e.BaseSnapshot), seq, string(models.StatusPending), now,
		)
		if err != nil {
			return fmt.Errorf("insert entry %s: %w", e.ID, err)
		}

		if _, err := tx.Exec(`UPDATE seq_counter SET next_seq = ? WHERE id = 1`, seq+1); err != nil {
			return fmt.Errorf("advance seq counter: %w", err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit: %w", err)
		}

		e.Seq = seq
		e.Status = models.StatusPending
		e.CreatedAt = now
		return nil
	})
}

const entryColumns = `id, entity_type, entity_id, operation, payload, base_version,
	COALESCE(base_snapshot, ''), seq, status, failure_reason,
	COALESCE(server_state, ''), server_version, created_at, last_attempt_at, attempt_count`

// ListPending returns pending entries in seq order. When entityType and
// entityID are non-empty the result is filtered to that entity.
func (db *DB) ListPending(entityType, entityID string) ([]models.MutationEntry, error) {
	query := `SELECT ` + entryColumns + ` FROM mutation_log WHERE status = 'pending'`
	args := []any{}
	if entityType != "" && entityID != "" {
		query += ` AND entity_type = ? AND entity_id = ?`
		args = append(args, entityType, entityID)
	}
	query += ` ORDER BY seq ASC`

	return db.queryEntries(query, args...)
}

// ListUnflushed returns entries still layered on reads: pending, in-flight,
// and conflicted, in seq order for one entity. The projection overlay is
// built from these.
func (db *DB) ListUnflushed(entityType, entityID string) ([]models.MutationEntry, error) {
	return db.queryEntries(`SELECT `+entryColumns+` FROM mutation_log
		WHERE status IN ('pending', 'in_flight', 'conflicted') AND entity_type = ? AND entity_id = ?
		ORDER BY seq ASC`, entityType, entityID)
}

// ListConflicted returns all conflicted entries in seq order.
func (db *DB) ListConflicted() ([]models.MutationEntry, error) {
	return db.queryEntries(`SELECT ` + entryColumns + ` FROM mutation_log
		WHERE status = 'conflicted' ORDER BY seq ASC`)
}

// ListFailed returns all failed entries in seq order.
func (db *DB) ListFailed() ([]models.MutationEntry, error) {
	return db.queryEntries(`SELECT ` + entryColumns + ` FROM mutation_log
		WHERE status = 'failed' ORDER BY seq ASC`)
}

// GetEntry returns one entry by id, or nil if it does not exist.
func (db *DB) GetEntry(id string) (*models.MutationEntry, error) {
	entries, err := db.queryEntries(`SELECT `+entryColumns+` FROM mutation_log WHERE id = ?`, id)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, nil
	}
	return &entries[0], nil
}

func (db *DB) queryEntries(query string, args ...any) ([]models.MutationEntry, error) {
	rows, err := db.conn.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query entries: %w", err)
	}
	defer rows.Close()

	var entries []models.MutationEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func scanEntry(rows *sql.Rows) (models.MutationEntry, error) {
	var (
		e                         models.MutationEntry
		op, status                string
		payloadStr, baseSnapStr   string
		serverStateStr, createdAt string
		lastAttempt               sql.NullString
	)
	err := rows.Scan(&e.ID, &e.EntityType, &e.EntityID, &op, &payloadStr, &e.BaseVersion,
		&baseSnapStr, &e.Seq, &status, &e.FailureReason,
		&serverStateStr, &e.ServerVersion, &createdAt, &lastAttempt, &e.AttemptCount)
	if err != nil {
		return e, fmt.Errorf("scan entry: %w", err)
	}

	e.Operation = models.Operation(op)
	e.Status = models.EntryStatus(status)

	if payloadStr != "" {
		if err := json.Unmarshal([]byte(payloadStr), &e.Payload); err != nil {
			return e, fmt.Errorf("unmarshal payload %s: %w", e.ID, err)
		}
	}
	if baseSnapStr != "" {
		e.BaseSnapshot = json.RawMessage(baseSnapStr)
	}
	if serverStateStr != "" {
		e.ServerState = json.RawMessage(serverStateStr)
	}

	e.CreatedAt, err = parseTimestamp(createdAt)
	if err != nil {
		return e, fmt.Errorf("parse created_at %s: %w", e.ID, err)
	}
	if lastAttempt.Valid && lastAttempt.String != "" {
		if ts, err := parseTimestamp(lastAttempt.String); err == nil {
			e.LastAttemptAt = &ts
		}
	}
	return e, nil
}

// MarkInFlight transitions pending entries to in-flight and bumps their
// attempt counters. Entries not currently pending are left untouched; the
// returned count says how many actually transitioned.
func (db *DB) MarkInFlight(ids []string) (int64, error) {
	return db.transition(ids,
		`UPDATE mutation_log SET status = 'in_flight', last_attempt_at = CURRENT_TIMESTAMP,
		 attempt_count = attempt_count + 1 WHERE id = ? AND status = 'pending'`)
}

// MarkApplied transitions in-flight entries to applied. Already-terminal
// entries are no-ops, not errors.
func (db *DB) MarkApplied(ids []string) (int64, error) {
	return db.transition(ids,
		`UPDATE mutation_log SET status = 'applied' WHERE id = ? AND status = 'in_flight'`)
}

// MarkFailed records a failure reason on an in-flight entry.
func (db *DB) MarkFailed(id, reason string) error {
	_, err := db.transition([]string{id},
		`UPDATE mutation_log SET status = 'failed', failure_reason = ? WHERE id = ? AND status = 'in_flight'`,
		reason)
	return err
}

// MarkConflicted attaches the server's current snapshot and version to
// in-flight entries and parks them as conflicted.
func (db *DB) MarkConflicted(ids []string, serverState json.RawMessage, serverVersion int64) error {
	_, err := db.transition(ids,
		`UPDATE mutation_log SET status = 'conflicted', server_state = ?, server_version = ?
		 WHERE id = ? AND status = 'in_flight'`,
		nullableJSON(serverState), serverVersion)
	return err
}

// transition applies a guarded status update per id under the write lock.
// Extra parameters are bound before the id.
// Updates that match zero rows (already terminal, or wrong source state) are
// silently skipped; at-most-one transition wins per id.
func (db *DB) transition(ids []string, query string, extra ...any) (int64, error) {
	var changed int64
	err := db.withWriteLock(func() error {
		tx, err := db.conn.Begin()
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback()

		for _, id := range ids {
			args := append(append([]any{}, extra...), id)
			res, err := tx.Exec(query, args...)
			if err != nil {
				return fmt.Errorf("transition %s: %w", id, err)
			}
			n, _ := res.RowsAffected()
			changed += n
		}
		return tx.Commit()
	})
	return changed, err
}

// Requeue returns a failed or conflicted entry to pending so it is retried
// on the next drain, reusing the same id. In-flight entries are not touched.
func (db *DB) Requeue(id string) error {
	var n int64
	err := db.withWriteLock(func() error {
		res, err := db.conn.Exec(`
			UPDATE mutation_log SET status = 'pending', failure_reason = '', server_state = NULL, server_version = 0
			WHERE id = ? AND status IN ('failed', 'conflicted')`, id)
		if err != nil {
			return err
		}
		n, _ = res.RowsAffected()
		return nil
	})
	if err != nil {
		return fmt.Errorf("requeue %s: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("entry %s is not failed or conflicted", id)
	}
	return nil
}

// Rebase repoints a conflicted entry at a newer server state and returns it
// to pending. Used by keep-local resolution: the patch is retried as an edit
// of the server's current version rather than the stale one.
func (db *DB) Rebase(id string, baseSnapshot json.RawMessage, baseVersion int64) error {
	var n int64
	err := db.withWriteLock(func() error {
		res, err := db.conn.Exec(`
			UPDATE mutation_log SET status = 'pending', failure_reason = '',
				base_snapshot = ?, base_version = ?, server_state = NULL, server_version = 0
			WHERE id = ? AND status = 'conflicted'`,
			nullableJSON(baseSnapshot), baseVersion, id)
		if err != nil {
			return err
		}
		n, _ = res.RowsAffected()
		return nil
	})
	if err != nil {
		return fmt.Errorf("rebase %s: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("entry %s is not conflicted", id)
	}
	return nil
}

// RequeueTransient returns every transiently-failed entry to pending. The
// coordinator calls this when a backoff delay elapses; reasons written by
// permanent rejections don't match the prefix and stay parked.
func (db *DB) RequeueTransient(reasonPrefix string) (int64, error) {
	var n int64
	err := db.withWriteLock(func() error {
		res, err := db.conn.Exec(`
			UPDATE mutation_log SET status = 'pending', failure_reason = ''
			WHERE status = 'failed' AND failure_reason LIKE ? || '%'`, reasonPrefix)
		if err != nil {
			return err
		}
		n, _ = res.RowsAffected()
		return nil
	})
	return n, err
}

// Discard removes an entry from the log. Only failed and conflicted entries
// may be discarded; pending and in-flight ones must drain or resolve first.
func (db *DB) Discard(id string) error {
	var n int64
	err := db.withWriteLock(func() error {
		res, err := db.conn.Exec(`DELETE FROM mutation_log WHERE id = ? AND status IN ('failed', 'conflicted')`, id)
		if err != nil {
			return err
		}
		n, _ = res.RowsAffected()
		return nil
	})
	if err != nil {
		return fmt.Errorf("discard %s: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("entry %s is not failed or conflicted", id)
	}
	return nil
}

// PruneApplied deletes applied entries. The audit trail for a mutation ends
// once it is confirmed server-side; sync_history keeps the summary.
func (db *DB) PruneApplied(ids []string) error {
	return db.withWriteLock(func() error {
		for _, id := range ids {
			if _, err := db.conn.Exec(`DELETE FROM mutation_log WHERE id = ? AND status = 'applied'`, id); err != nil {
				return fmt.Errorf("prune %s: %w", id, err)
			}
		}
		return nil
	})
}

// RecoverInFlight demotes in-flight entries back to pending. Called on open:
// an in-flight row at startup means a previous drain died mid-request. The
// retry reuses the same entry id, so a request that did land server-side is
// deduplicated there.
func (db *DB) RecoverInFlight() (int64, error) {
	var n int64
	err := db.withWriteLock(func() error {
		res, err := db.conn.Exec(`UPDATE mutation_log SET status = 'pending' WHERE status = 'in_flight'`)
		if err != nil {
			return err
		}
		n, _ = res.RowsAffected()
		return nil
	})
	return n, err
}

// CountPending returns the number of entries still waiting to drain.
func (db *DB) CountPending() (int64, error) {
	var count int64
	err := db.conn.QueryRow(`SELECT COUNT(*) FROM mutation_log WHERE status IN ('pending', 'in_flight')`).Scan(&count)
	return count, err
}

// CountConflicted returns the number of conflicted entries.
func (db *DB) CountConflicted() (int64, error) {
	var count int64
	err := db.conn.QueryRow(`SELECT COUNT(*) FROM mutation_log WHERE status = 'conflicted'`).Scan(&count)
	return count, err
}

// PendingEntities returns distinct entities with pending entries, ordered by
// each entity's oldest pending seq. This is the coordinator's drain order:
// global FIFO fairness across entities.
func (db *DB) PendingEntities() ([][2]string, error) {
	rows, err := db.conn.Query(`
		SELECT entity_type, entity_id, MIN(seq) AS oldest
		FROM mutation_log WHERE status = 'pending'
		GROUP BY entity_type, entity_id
		ORDER BY oldest ASC`)
	if err != nil {
		return nil, fmt.Errorf("query pending entities: %w", err)
	}
	defer rows.Close()

	var out [][2]string
	for rows.Next() {
		var et, eid string
		var oldest int64
		if err := rows.Scan(&et, &eid, &oldest); err != nil {
			return nil, err
		}
		out = append(out, [2]string{et, eid})
	}
	return out, rows.Err()
}

// nullableJSON maps empty raw JSON to NULL for storage.
func nullableJSON(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}

// parseTimestamp tries common SQLite timestamp formats.
func parseTimestamp(s string) (time.Time, error) {
	formats := []string{
		time.RFC3339Nano,
		time.RFC3339,
		"2006-01-02 15:04:05.999999999-07:00",
		"2006-01-02 15:04:05.999999999Z07:00",
		"2006-01-02 15:04:05.999999999",
		"2006-01-02 15:04:05",
		"2006-01-02 15:04:05 -0700 -0700", // Go time.Time.String() with numeric tz
		"2006-01-02 15:04:05 -0700 MST",   // Go time.Time.String() standard
	}
	for _, f := range formats {
		if t, err := time.Parse(f, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp format: %q", s)
}
