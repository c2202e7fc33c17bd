package db

// SchemaVersion is the current database schema version
const SchemaVersion = 2

const schema = `
-- Durable mutation log: one row per buffered write intent.
-- Rows survive process crashes; they are removed only once applied
-- or explicitly discarded after conflict resolution.
CREATE TABLE IF NOT EXISTS mutation_log (
    id TEXT PRIMARY KEY,
    entity_type TEXT NOT NULL,
    entity_id TEXT NOT NULL,
    operation TEXT NOT NULL,
    payload JSON NOT NULL DEFAULT '{}',
    base_version INTEGER NOT NULL DEFAULT 0,
    base_snapshot JSON,
    seq INTEGER NOT NULL UNIQUE,
    status TEXT NOT NULL DEFAULT 'pending',
    failure_reason TEXT NOT NULL DEFAULT '',
    server_state JSON,
    server_version INTEGER NOT NULL DEFAULT 0,
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    last_attempt_at DATETIME,
    attempt_count INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_mutation_log_status ON mutation_log(status, seq);
CREATE INDEX IF NOT EXISTS idx_mutation_log_entity ON mutation_log(entity_type, entity_id, seq);

-- Single-row logical clock for mutation sequencing. Updated in the same
-- transaction as each append so seq stays gap-free across restarts.
CREATE TABLE IF NOT EXISTS seq_counter (
    id INTEGER PRIMARY KEY CHECK (id = 1),
    next_seq INTEGER NOT NULL
);

-- Last confirmed server snapshot per entity. Never overwritten with an
-- older version (monotonic read consistency).
CREATE TABLE IF NOT EXISTS server_state (
    entity_type TEXT NOT NULL,
    entity_id TEXT NOT NULL,
    snapshot JSON,
    version INTEGER NOT NULL DEFAULT 0,
    fetched_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    PRIMARY KEY (entity_type, entity_id)
);

-- Drain outcome history, pruned to the newest rows.
CREATE TABLE IF NOT EXISTS sync_history (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    entry_id TEXT NOT NULL,
    entity_type TEXT NOT NULL,
    entity_id TEXT NOT NULL,
    operation TEXT NOT NULL,
    outcome TEXT NOT NULL,
    detail TEXT NOT NULL DEFAULT '',
    server_version INTEGER NOT NULL DEFAULT 0,
    timestamp DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

-- Schema metadata
CREATE TABLE IF NOT EXISTS schema_info (
    key TEXT PRIMARY KEY,
    value TEXT NOT NULL
);

INSERT OR IGNORE INTO seq_counter (id, next_seq) VALUES (1, 1);
`
