package sync

import (
	"strings"
	"testing"

	"github.com/spoolworks/tally/internal/models"
)

func entry(id string, seq int64, op models.Operation, patch models.Patch) models.MutationEntry {
	return models.MutationEntry{
		ID:         id,
		EntityType: "spools",
		EntityID:   "s1",
		Operation:  op,
		Payload:    patch,
		Seq:        seq,
	}
}

func TestCoalesceLaterFieldsWin(t *testing.T) {
	flush, err := CoalesceForFlush([]models.MutationEntry{
		entry("e1", 1, models.OpUpdate, models.Patch{"weight_g": float64(800), "location": "shelf-a"}),
		entry("e2", 2, models.OpUpdate, models.Patch{"weight_g": float64(750)}),
		entry("e3", 3, models.OpUpdate, models.Patch{"location": "shelf-b"}),
	})
	if err != nil {
		t.Fatalf("CoalesceForFlush failed: %v", err)
	}

	if flush.Operation != models.OpUpdate {
		t.Errorf("Operation = %s, want update", flush.Operation)
	}
	if flush.Patch["weight_g"] != float64(750) {
		t.Errorf("weight_g = %v, want 750", flush.Patch["weight_g"])
	}
	if flush.Patch["location"] != "shelf-b" {
		t.Errorf("location = %v, want shelf-b", flush.Patch["location"])
	}
	if len(flush.EntryIDs) != 3 || flush.EntryIDs[0] != "e1" {
		t.Errorf("EntryIDs = %v", flush.EntryIDs)
	}
	if flush.KeyID != "e3" {
		t.Errorf("KeyID = %s, want the newest entry e3", flush.KeyID)
	}
}

func TestCoalesceDeleteMootsEdits(t *testing.T) {
	flush, err := CoalesceForFlush([]models.MutationEntry{
		entry("e1", 1, models.OpUpdate, models.Patch{"weight_g": float64(800)}),
		entry("e2", 2, models.OpUpdate, models.Patch{"location": "shelf-b"}),
		entry("e3", 3, models.OpDelete, nil),
	})
	if err != nil {
		t.Fatalf("CoalesceForFlush failed: %v", err)
	}

	if flush.Operation != models.OpDelete {
		t.Errorf("Operation = %s, want delete", flush.Operation)
	}
	if len(flush.Patch) != 0 {
		t.Errorf("delete flush should carry no patch, got %v", flush.Patch)
	}
	// All mooted entries are still consumed by the flush.
	if len(flush.EntryIDs) != 3 {
		t.Errorf("EntryIDs = %v, want all three", flush.EntryIDs)
	}
}

func TestCoalesceCreateThenDeleteCancelsOut(t *testing.T) {
	flush, err := CoalesceForFlush([]models.MutationEntry{
		entry("e1", 1, models.OpCreate, models.Patch{"material": "PLA"}),
		entry("e2", 2, models.OpUpdate, models.Patch{"weight_g": float64(900)}),
		entry("e3", 3, models.OpDelete, nil),
	})
	if err != nil {
		t.Fatalf("CoalesceForFlush failed: %v", err)
	}

	// The creation never left this client, so there is nothing to tell the
	// server; the flush consumes the entries locally.
	if !flush.LocalOnly {
		t.Error("delete of an unflushed create should be local-only")
	}
	if flush.Operation != models.OpDelete {
		t.Errorf("Operation = %s, want delete", flush.Operation)
	}
	if len(flush.EntryIDs) != 3 {
		t.Errorf("EntryIDs = %v, want all three", flush.EntryIDs)
	}
}

func TestCoalesceRecreateAfterLocalDelete(t *testing.T) {
	flush, err := CoalesceForFlush([]models.MutationEntry{
		entry("e1", 1, models.OpCreate, models.Patch{"material": "PLA"}),
		entry("e2", 2, models.OpDelete, nil),
		entry("e3", 3, models.OpCreate, models.Patch{"material": "PETG"}),
	})
	if err != nil {
		t.Fatalf("CoalesceForFlush failed: %v", err)
	}

	// A re-create after the cancelled pair must still reach the server.
	if flush.LocalOnly {
		t.Error("re-created entity is not local-only")
	}
	if flush.Operation != models.OpCreate || flush.Patch["material"] != "PETG" {
		t.Errorf("flush = %s %v", flush.Operation, flush.Patch)
	}
}

func TestCoalesceDeleteOfFlushedEntityIsSent(t *testing.T) {
	e1 := entry("e1", 1, models.OpUpdate, models.Patch{"weight_g": float64(900)})
	e1.BaseVersion = 3
	e2 := entry("e2", 2, models.OpDelete, nil)
	e2.BaseVersion = 3

	flush, err := CoalesceForFlush([]models.MutationEntry{e1, e2})
	if err != nil {
		t.Fatalf("CoalesceForFlush failed: %v", err)
	}

	// The server knows this entity; the delete has to travel.
	if flush.LocalOnly {
		t.Error("delete of a confirmed entity is not local-only")
	}
	if flush.Operation != models.OpDelete {
		t.Errorf("Operation = %s, want delete", flush.Operation)
	}
}

func TestCoalesceCreateThenUpdates(t *testing.T) {
	flush, err := CoalesceForFlush([]models.MutationEntry{
		entry("e1", 1, models.OpCreate, models.Patch{"material": "PLA", "weight_g": float64(1000)}),
		entry("e2", 2, models.OpUpdate, models.Patch{"weight_g": float64(900)}),
	})
	if err != nil {
		t.Fatalf("CoalesceForFlush failed: %v", err)
	}

	if flush.Operation != models.OpCreate {
		t.Errorf("Operation = %s, want create", flush.Operation)
	}
	if flush.Patch["material"] != "PLA" || flush.Patch["weight_g"] != float64(900) {
		t.Errorf("Patch = %v", flush.Patch)
	}
}

func TestCoalesceBaseFromOldestEntry(t *testing.T) {
	e1 := entry("e1", 1, models.OpUpdate, models.Patch{"weight_g": float64(800)})
	e1.BaseVersion = 4
	e1.BaseSnapshot = []byte(`{"weight_g":1000}`)
	e2 := entry("e2", 2, models.OpUpdate, models.Patch{"weight_g": float64(700)})
	e2.BaseVersion = 4

	flush, err := CoalesceForFlush([]models.MutationEntry{e1, e2})
	if err != nil {
		t.Fatalf("CoalesceForFlush failed: %v", err)
	}
	if flush.BaseVersion != 4 {
		t.Errorf("BaseVersion = %d, want 4", flush.BaseVersion)
	}
	if string(flush.BaseSnapshot) != `{"weight_g":1000}` {
		t.Errorf("BaseSnapshot = %s", flush.BaseSnapshot)
	}
}

func TestCoalesceRejectsBadInput(t *testing.T) {
	if _, err := CoalesceForFlush(nil); err == nil {
		t.Error("expected error for empty input")
	}

	other := entry("e2", 2, models.OpUpdate, models.Patch{"x": 1})
	other.EntityID = "s2"
	if _, err := CoalesceForFlush([]models.MutationEntry{
		entry("e1", 1, models.OpUpdate, models.Patch{"x": 1}),
		other,
	}); err == nil || !strings.Contains(err.Error(), "mixed entities") {
		t.Errorf("expected mixed entities error, got %v", err)
	}

	if _, err := CoalesceForFlush([]models.MutationEntry{
		entry("e1", 2, models.OpUpdate, models.Patch{"x": 1}),
		entry("e2", 1, models.OpUpdate, models.Patch{"x": 2}),
	}); err == nil || !strings.Contains(err.Error(), "out of seq order") {
		t.Errorf("expected seq order error, got %v", err)
	}

	if _, err := CoalesceForFlush([]models.MutationEntry{
		entry("e1", 1, models.OpDelete, nil),
		entry("e2", 2, models.OpUpdate, models.Patch{"x": 1}),
	}); err == nil || !strings.Contains(err.Error(), "update after delete") {
		t.Errorf("expected update-after-delete error, got %v", err)
	}
}
