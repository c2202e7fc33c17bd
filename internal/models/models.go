// Package models defines the core data types shared across the tally engine:
// buffered mutations, entity snapshots, and surfaced conflicts.
package models

import (
	"encoding/json"
	"time"
)

// Operation is the kind of write a mutation entry represents.
type Operation string

const (
	OpCreate Operation = "create"
	OpUpdate Operation = "update"
	OpDelete Operation = "delete"
)

// ValidOperation reports whether op is a known operation.
func ValidOperation(op Operation) bool {
	switch op {
	case OpCreate, OpUpdate, OpDelete:
		return true
	}
	return false
}

// EntryStatus is the lifecycle state of a mutation entry.
type EntryStatus string

const (
	StatusPending    EntryStatus = "pending"
	StatusInFlight   EntryStatus = "in_flight"
	StatusApplied    EntryStatus = "applied"
	StatusFailed     EntryStatus = "failed"
	StatusConflicted EntryStatus = "conflicted"
)

// Terminal reports whether a status ends the normal drain path.
// Failed and conflicted entries can return to pending via explicit retry.
func (s EntryStatus) Terminal() bool {
	return s == StatusApplied || s == StatusFailed || s == StatusConflicted
}

// Patch is a partial field-level change. Update patches never carry a full
// snapshot; only the fields the user touched.
type Patch map[string]any

// Fields returns the patch's field names.
func (p Patch) Fields() []string {
	keys := make([]string, 0, len(p))
	for k := range p {
		keys = append(keys, k)
	}
	return keys
}

// Clone returns a shallow copy of the patch.
func (p Patch) Clone() Patch {
	out := make(Patch, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

// MutationEntry is one buffered write intent in the durable log.
type MutationEntry struct {
	ID            string // client-generated idempotency key, stable across retries
	EntityType    string // e.g. "spools", "orders"
	EntityID      string
	Operation     Operation
	Payload       Patch           // field changes; empty for delete
	BaseVersion   int64           // last server-known version observed before the edit; 0 for create
	BaseSnapshot  json.RawMessage // server snapshot at BaseVersion, captured at append
	Seq           int64           // per-client logical counter, strictly increasing, gap-free
	Status        EntryStatus
	FailureReason string          // set for failed entries
	ServerState   json.RawMessage // server snapshot attached when conflicted
	ServerVersion int64           // server version attached when conflicted
	CreatedAt     time.Time
	LastAttemptAt *time.Time
	AttemptCount  int
}

// Snapshot is a confirmed server-side entity state.
type Snapshot struct {
	EntityType string
	EntityID   string
	Fields     map[string]any
	Version    int64
	FetchedAt  time.Time
}

// Deleted reports whether the snapshot represents a deleted entity.
func (s *Snapshot) Deleted() bool {
	return s != nil && s.Fields == nil && s.Version > 0
}

// EntityView is what readers get from the projection store: the last
// confirmed server state with any pending local edits folded in.
type EntityView struct {
	EntityType string
	EntityID   string
	Fields     map[string]any
	Version    int64 // version of the underlying server state
	Pending    int   // number of unflushed entries folded into Fields
	Deleted    bool  // a pending delete shadows the entity
	Conflicted bool  // at least one conflicted entry targets this entity
}

// Conflict is a surfaced version conflict awaiting user resolution.
// Both sides are retained; nothing is discarded silently.
type Conflict struct {
	EntryID       string
	EntityType    string
	EntityID      string
	Fields        []string        // intersecting field names
	LocalPatch    Patch           // what the user intended
	ServerState   json.RawMessage // the server's current snapshot
	ServerVersion int64
	DetectedAt    time.Time
}
