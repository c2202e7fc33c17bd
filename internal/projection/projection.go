// Package projection is the optimistic read side of the sync engine. Reads
// fold the last confirmed server state with the entity's still-unflushed
// mutation log entries, so local edits are visible immediately and readers
// never block on the network.
//
// The projection is never ground truth: it is rebuilt from server_state plus
// the pending log at any time. The only state held here is a per-entity
// high-water version mark enforcing monotonic reads within the process.
package projection

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/spoolworks/tally/internal/db"
	"github.com/spoolworks/tally/internal/models"
)

// Store serves entity views and reconciles confirmed flush results.
type Store struct {
	db *db.DB

	mu   sync.Mutex
	high map[string]int64 // entity key -> highest version served
}

// New creates a projection store over the given database.
func New(database *db.DB) *Store {
	return &Store{
		db:   database,
		high: make(map[string]int64),
	}
}

func key(entityType, entityID string) string {
	return entityType + "/" + entityID
}

// Read returns the entity view: server state with pending overlay folded in
// seq order. A nil view means the entity is unknown both locally and
// server-side.
func (s *Store) Read(entityType, entityID string) (*models.EntityView, error) {
	snap, err := s.db.GetServerState(entityType, entityID)
	if err != nil {
		return nil, err
	}
	overlay, err := s.db.ListUnflushed(entityType, entityID)
	if err != nil {
		return nil, err
	}
	if snap == nil && len(overlay) == 0 {
		return nil, nil
	}

	view := &models.EntityView{
		EntityType: entityType,
		EntityID:   entityID,
		Fields:     map[string]any{},
	}
	if snap != nil {
		for k, v := range snap.Fields {
			view.Fields[k] = v
		}
		view.Version = snap.Version
	}

	for _, e := range overlay {
		switch e.Operation {
		case models.OpDelete:
			view.Deleted = true
			view.Fields = map[string]any{}
		case models.OpCreate, models.OpUpdate:
			view.Deleted = false
			for k, v := range e.Payload {
				view.Fields[k] = v
			}
		}
		if e.Status == models.StatusConflicted {
			view.Conflicted = true
		}
		view.Pending++
	}

	s.markSeen(entityType, entityID, view.Version)
	return view, nil
}

// ApplyLocal folds a freshly appended entry into the entity's view and
// returns the result. The entry is already durable in the log, which is what
// reads fold over, so the returned view reflects the edit synchronously.
func (s *Store) ApplyLocal(e *models.MutationEntry) (*models.EntityView, error) {
	return s.Read(e.EntityType, e.EntityID)
}

// Reconcile replaces the server state for an entity after a successful flush
// and removes the consumed entries from the overlay (by pruning them from
// the log). Newer still-pending entries stay layered on top. Snapshots older
// than one already served are rejected: readers never move backwards.
func (s *Store) Reconcile(snap *models.Snapshot, consumedIDs []string) error {
	if snap == nil {
		return fmt.Errorf("reconcile: nil snapshot")
	}

	s.mu.Lock()
	served := s.high[key(snap.EntityType, snap.EntityID)]
	s.mu.Unlock()
	if snap.Version < served {
		return fmt.Errorf("reconcile %s/%s: version %d older than served %d",
			snap.EntityType, snap.EntityID, snap.Version, served)
	}

	if snap.Deleted() {
		if err := s.db.DeleteServerState(snap.EntityType, snap.EntityID); err != nil {
			return err
		}
	} else {
		if err := s.db.PutServerState(snap); err != nil {
			return err
		}
	}

	if err := s.db.PruneApplied(consumedIDs); err != nil {
		return err
	}

	s.markSeen(snap.EntityType, snap.EntityID, snap.Version)
	return nil
}

// SurfaceConflicts returns all conflicted entries as user-facing conflict
// records, local intent and server state side by side.
func (s *Store) SurfaceConflicts() ([]models.Conflict, error) {
	entries, err := s.db.ListConflicted()
	if err != nil {
		return nil, err
	}

	conflicts := make([]models.Conflict, 0, len(entries))
	for _, e := range entries {
		c := models.Conflict{
			EntryID:       e.ID,
			EntityType:    e.EntityType,
			EntityID:      e.EntityID,
			LocalPatch:    e.Payload,
			ServerState:   e.ServerState,
			ServerVersion: e.ServerVersion,
			DetectedAt:    e.CreatedAt,
		}
		if e.LastAttemptAt != nil {
			c.DetectedAt = *e.LastAttemptAt
		}
		c.Fields = conflictFields(e)
		conflicts = append(conflicts, c)
	}
	return conflicts, nil
}

// conflictFields computes the intersecting field names for display: patch
// fields whose server value differs from the local intent.
func conflictFields(e models.MutationEntry) []string {
	var server map[string]any
	if len(e.ServerState) > 0 {
		if err := json.Unmarshal(e.ServerState, &server); err != nil {
			server = nil
		}
	}

	var fields []string
	for f, local := range e.Payload {
		if server == nil {
			fields = append(fields, f)
			continue
		}
		if remote, ok := server[f]; !ok || fmt.Sprint(remote) != fmt.Sprint(local) {
			fields = append(fields, f)
		}
	}
	return fields
}

func (s *Store) markSeen(entityType, entityID string, version int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := key(entityType, entityID)
	if version > s.high[k] {
		s.high[k] = version
	}
}
