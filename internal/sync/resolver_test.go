package sync

import (
	"encoding/json"
	"sort"
	"testing"

	"github.com/spoolworks/tally/internal/models"
)

func updateFlush(patch models.Patch, baseVersion int64, baseSnapshot string) *Flush {
	return &Flush{
		EntityType:   "spools",
		EntityID:     "s1",
		Operation:    models.OpUpdate,
		Patch:        patch,
		BaseVersion:  baseVersion,
		BaseSnapshot: json.RawMessage(baseSnapshot),
		EntryIDs:     []string{"e1"},
		KeyID:        "e1",
	}
}

func TestResolveBaseStillCurrent(t *testing.T) {
	r := NewResolver()
	flush := updateFlush(models.Patch{"weight_g": float64(80)}, 3, `{"weight_g":100}`)

	res := r.Resolve(flush, json.RawMessage(`{"weight_g":100}`), 3)
	if res.Verdict != VerdictApply {
		t.Errorf("Verdict = %v, want Apply", res.Verdict)
	}
	if res.Patch["weight_g"] != float64(80) {
		t.Errorf("Patch = %v", res.Patch)
	}
}

func TestResolveDisjointFieldsMerge(t *testing.T) {
	r := NewResolver()
	// Local edit changes weight; the server moved the spool meanwhile.
	flush := updateFlush(models.Patch{"weight_g": float64(80)}, 3,
		`{"weight_g":100,"location":"shelf-a"}`)

	res := r.Resolve(flush, json.RawMessage(`{"weight_g":100,"location":"shelf-b"}`), 4)
	if res.Verdict != VerdictMerge {
		t.Errorf("Verdict = %v, want Merge", res.Verdict)
	}
	if res.Patch["weight_g"] != float64(80) {
		t.Errorf("Patch = %v", res.Patch)
	}
}

func TestResolveSameFieldConflicts(t *testing.T) {
	r := NewResolver()
	flush := updateFlush(models.Patch{"weight_g": float64(80)}, 3,
		`{"weight_g":100,"location":"shelf-a"}`)

	// Both sides changed weight_g.
	res := r.Resolve(flush, json.RawMessage(`{"weight_g":95,"location":"shelf-a"}`), 4)
	if res.Verdict != VerdictConflict {
		t.Errorf("Verdict = %v, want Conflict", res.Verdict)
	}
	if len(res.ConflictFields) != 1 || res.ConflictFields[0] != "weight_g" {
		t.Errorf("ConflictFields = %v, want [weight_g]", res.ConflictFields)
	}
}

func TestResolveMissingBaseIsConservative(t *testing.T) {
	r := NewResolver()
	// No captured base: every server field counts as changed, so a patch
	// touching any of them conflicts rather than merging blind.
	flush := updateFlush(models.Patch{"weight_g": float64(80)}, 3, "")

	res := r.Resolve(flush, json.RawMessage(`{"weight_g":95,"location":"shelf-a"}`), 4)
	if res.Verdict != VerdictConflict {
		t.Errorf("Verdict = %v, want Conflict", res.Verdict)
	}
}

func TestResolveDeleteAgainstServerEdit(t *testing.T) {
	r := NewResolver()
	flush := &Flush{
		EntityType:   "spools",
		EntityID:     "s1",
		Operation:    models.OpDelete,
		Patch:        models.Patch{},
		BaseVersion:  3,
		BaseSnapshot: json.RawMessage(`{"weight_g":100}`),
	}

	// Server edited the entity since: a delete has no field granularity,
	// so it conflicts.
	res := r.Resolve(flush, json.RawMessage(`{"weight_g":95}`), 4)
	if res.Verdict != VerdictConflict {
		t.Errorf("Verdict = %v, want Conflict", res.Verdict)
	}

	// Version bumped but nothing visible changed (e.g. a touch): merge.
	res = r.Resolve(flush, json.RawMessage(`{"weight_g":100}`), 4)
	if res.Verdict != VerdictMerge {
		t.Errorf("Verdict = %v, want Merge", res.Verdict)
	}
}

func TestDiffTopLevelFields(t *testing.T) {
	tests := []struct {
		name    string
		base    string
		current string
		want    []string
	}{
		{"no change", `{"a":1,"b":"x"}`, `{"a":1,"b":"x"}`, nil},
		{"value changed", `{"a":1,"b":"x"}`, `{"a":2,"b":"x"}`, []string{"a"}},
		{"field added", `{"a":1}`, `{"a":1,"b":"x"}`, []string{"b"}},
		{"field removed", `{"a":1,"b":"x"}`, `{"a":1}`, []string{"b"}},
		{"empty base", ``, `{"a":1,"b":"x"}`, []string{"a", "b"}},
		{"empty current", `{"a":1}`, ``, nil},
		{"nested change", `{"a":{"x":1}}`, `{"a":{"x":2}}`, []string{"a"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := DiffTopLevelFields(json.RawMessage(tt.base), json.RawMessage(tt.current))
			sort.Strings(got)
			if len(got) != len(tt.want) {
				t.Fatalf("got %v, want %v", got, tt.want)
			}
			for i := range tt.want {
				if got[i] != tt.want[i] {
					t.Errorf("got %v, want %v", got, tt.want)
				}
			}
		})
	}
}
