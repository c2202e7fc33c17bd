package sync

import (
	"encoding/json"
	"fmt"

	"github.com/spoolworks/tally/internal/models"
)

// Verdict is the resolver's decision for a version conflict.
type Verdict int

const (
	// VerdictApply: the server version still matches the base — not actually
	// a conflict, resend as-is.
	VerdictApply Verdict = iota
	// VerdictMerge: server-side changes don't touch the patched fields;
	// apply the patch on top of the newer snapshot.
	VerdictMerge
	// VerdictConflict: the same fields changed on both sides. Park the
	// entries and surface both values; never overwrite silently.
	VerdictConflict
)

// Resolution is the resolver's output.
type Resolution struct {
	Verdict        Verdict
	Patch          models.Patch // the patch to resend for Apply/Merge
	ConflictFields []string     // intersecting fields for Conflict
}

// ChangedFieldsFunc computes which top-level fields differ between the base
// snapshot the client edited against and the server's current snapshot. The
// conflict boundary is policy, not law: swap this to change it.
type ChangedFieldsFunc func(base, current json.RawMessage) []string

// Resolver decides what happens when the server reports a version conflict.
type Resolver struct {
	ChangedFields ChangedFieldsFunc
}

// NewResolver returns a resolver with the default changed-field policy.
func NewResolver() Resolver {
	return Resolver{ChangedFields: DiffTopLevelFields}
}

// Resolve applies the conflict policy to a flush that got a 409.
func (r Resolver) Resolve(flush *Flush, currentSnapshot json.RawMessage, currentVersion int64) Resolution {
	if currentVersion == flush.BaseVersion {
		// Benign race: nothing actually moved under us.
		return Resolution{Verdict: VerdictApply, Patch: flush.Patch}
	}

	changed := r.ChangedFields(flush.BaseSnapshot, currentSnapshot)

	// Deletes and creates have no per-field granularity to merge on: a
	// delete of an entity someone else just edited, or a create colliding
	// with an existing entity, needs a human.
	if flush.Operation != models.OpUpdate {
		if len(changed) == 0 {
			return Resolution{Verdict: VerdictMerge, Patch: flush.Patch}
		}
		return Resolution{Verdict: VerdictConflict, ConflictFields: changed}
	}

	var intersect []string
	for _, f := range changed {
		if _, ok := flush.Patch[f]; ok {
			intersect = append(intersect, f)
		}
	}
	if len(intersect) == 0 {
		return Resolution{Verdict: VerdictMerge, Patch: flush.Patch}
	}
	return Resolution{Verdict: VerdictConflict, ConflictFields: intersect}
}

// DiffTopLevelFields is the default changed-field policy: the fields whose
// values differ between base and current, compared by their JSON encoding.
// A missing or unparseable base biases to "everything changed" — the
// conservative reading that surfaces a conflict rather than merging blind.
func DiffTopLevelFields(base, current json.RawMessage) []string {
	var curFields map[string]json.RawMessage
	if len(current) == 0 || json.Unmarshal(current, &curFields) != nil {
		return nil
	}

	var baseFields map[string]json.RawMessage
	if len(base) == 0 || json.Unmarshal(base, &baseFields) != nil {
		fields := make([]string, 0, len(curFields))
		for f := range curFields {
			fields = append(fields, f)
		}
		return fields
	}

	var changed []string
	for f, cur := range curFields {
		prev, ok := baseFields[f]
		if !ok || !jsonEqual(prev, cur) {
			changed = append(changed, f)
		}
	}
	for f := range baseFields {
		if _, ok := curFields[f]; !ok {
			changed = append(changed, f) // field removed server-side
		}
	}
	return changed
}

// jsonEqual compares two raw values by normalized encoding.
func jsonEqual(a, b json.RawMessage) bool {
	var av, bv any
	if err := json.Unmarshal(a, &av); err != nil {
		return false
	}
	if err := json.Unmarshal(b, &bv); err != nil {
		return false
	}
	return fmt.Sprint(av) == fmt.Sprint(bv)
}
