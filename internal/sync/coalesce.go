package sync

import (
	"encoding/json"
	"fmt"

	"github.com/spoolworks/tally/internal/models"
)

// Flush is the single effective mutation produced by coalescing one entity's
// pending entries. Every original entry stays individually trackable via
// EntryIDs; the log rows are untouched until the flush resolves.
type Flush struct {
	EntityType   string
	EntityID     string
	Operation    models.Operation
	Patch        models.Patch
	BaseVersion  int64           // base of the oldest coalesced entry
	BaseSnapshot json.RawMessage // server snapshot captured at that base
	EntryIDs     []string        // seq order, oldest first
	KeyID        string          // idempotency key: the newest entry's id,
	// deterministic across retries because coalescing the same set always
	// picks the same entry

	// LocalOnly marks a net no-op: the entity was created and then deleted
	// without its creation ever reaching the server. The entries are
	// consumed locally; nothing is sent.
	LocalOnly bool
}

// CoalesceForFlush merges one entity's pending entries, given in seq order,
// into a single outgoing mutation. Later field values win. A delete moots
// everything before it: the flush becomes a delete consuming all entries.
// A create followed by updates stays a create with the updates folded in.
func CoalesceForFlush(entries []models.MutationEntry) (*Flush, error) {
	if len(entries) == 0 {
		return nil, fmt.Errorf("coalesce: no entries")
	}

	first := entries[0]
	flush := &Flush{
		EntityType:   first.EntityType,
		EntityID:     first.EntityID,
		Operation:    first.Operation,
		Patch:        models.Patch{},
		BaseVersion:  first.BaseVersion,
		BaseSnapshot: first.BaseSnapshot,
	}

	for i, e := range entries {
		if e.EntityType != flush.EntityType || e.EntityID != flush.EntityID {
			return nil, fmt.Errorf("coalesce: mixed entities %s/%s and %s/%s",
				flush.EntityType, flush.EntityID, e.EntityType, e.EntityID)
		}
		if i > 0 && e.Seq <= entries[i-1].Seq {
			return nil, fmt.Errorf("coalesce: entries out of seq order")
		}

		flush.EntryIDs = append(flush.EntryIDs, e.ID)
		flush.KeyID = e.ID

		switch e.Operation {
		case models.OpDelete:
			// Deleting an entity whose pending create is part of this same
			// flush cancels out: the server never saw either side.
			if flush.Operation == models.OpCreate {
				flush.LocalOnly = true
			}
			flush.Operation = models.OpDelete
			flush.Patch = models.Patch{}
		case models.OpCreate:
			flush.Operation = models.OpCreate
			flush.LocalOnly = false
			for k, v := range e.Payload {
				flush.Patch[k] = v
			}
		case models.OpUpdate:
			// An update after a delete resurrects nothing; the log never
			// produces that order for one entity, so treat it as corrupt.
			if flush.Operation == models.OpDelete {
				return nil, fmt.Errorf("coalesce: update after delete for %s/%s", e.EntityType, e.EntityID)
			}
			for k, v := range e.Payload {
				flush.Patch[k] = v
			}
		default:
			return nil, fmt.Errorf("coalesce: unknown operation %q", e.Operation)
		}
	}

	return flush, nil
}
