// Package sync implements the drain side of the tally engine: coalescing
// pending mutations, the coordinator state machine that flushes them against
// the remote API, and the conflict resolution policy.
package sync

import (
	"errors"
	"time"
)

// State is the coordinator's current mode.
type State string

const (
	StateIdle     State = "idle"
	StateDraining State = "draining"
	StateBackoff  State = "backoff"
)

// ErrSyncStalled is surfaced when an entry exhausts its transient retry
// budget. The entry stays in the log, parked as failed, until requeued or
// discarded.
var ErrSyncStalled = errors.New("sync stalled: retry budget exhausted")

// transientReasonPrefix tags failure reasons that automatic retry may
// requeue; permanent rejections carry the server's reason verbatim.
const transientReasonPrefix = "transient: "

// DrainReport summarises one drain pass.
type DrainReport struct {
	Applied    int  // entries confirmed by the server
	Merged     int  // entries applied after automatic conflict merge
	Conflicted int  // entries parked for user resolution
	Failed     int  // entries rejected permanently or stalled
	Transient  bool // the pass aborted on a transient failure (backoff next)
	Aborted    bool // the pass stopped early on an offline transition
}

// Empty reports whether the pass did nothing at all.
func (r *DrainReport) Empty() bool {
	return r.Applied == 0 && r.Merged == 0 && r.Conflicted == 0 && r.Failed == 0
}

// Status is the query surface consumed by the presentation layer.
type Status struct {
	State             State
	Online            bool
	PendingCount      int64
	ConflictCount     int64
	HasPendingChanges bool
	LastSyncAt        *time.Time
	LastError         string
}
