package db

import (
	"fmt"
	"testing"
)

func TestRecordSyncHistory(t *testing.T) {
	db := newTestDB(t)

	if err := db.RecordSyncHistory(nil); err != nil {
		t.Fatalf("RecordSyncHistory(nil) failed: %v", err)
	}

	batch := []SyncHistoryEntry{
		{EntryID: "e1", EntityType: "spools", EntityID: "s1", Operation: "create", Outcome: OutcomeApplied, ServerVersion: 1},
		{EntryID: "e2", EntityType: "spools", EntityID: "s1", Operation: "update", Outcome: OutcomeMerged, Detail: "rebased onto v2", ServerVersion: 3},
		{EntryID: "e3", EntityType: "orders", EntityID: "o1", Operation: "delete", Outcome: OutcomeFailed, Detail: "validation: unknown entity"},
	}
	if err := db.RecordSyncHistory(batch); err != nil {
		t.Fatalf("RecordSyncHistory failed: %v", err)
	}

	entries, err := db.GetSyncHistoryTail(10)
	if err != nil {
		t.Fatalf("GetSyncHistoryTail failed: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(entries))
	}
	// Tail is chronological: oldest first.
	if entries[0].EntryID != "e1" || entries[2].EntryID != "e3" {
		t.Errorf("wrong order: %s, %s, %s", entries[0].EntryID, entries[1].EntryID, entries[2].EntryID)
	}
	if entries[1].Outcome != OutcomeMerged || entries[1].Detail != "rebased onto v2" {
		t.Errorf("entry e2 = %+v", entries[1])
	}
	if entries[0].Timestamp.IsZero() {
		t.Error("timestamp should be backfilled when zero")
	}
}

func TestGetSyncHistoryAfterID(t *testing.T) {
	db := newTestDB(t)

	for i := 1; i <= 5; i++ {
		err := db.RecordSyncHistory([]SyncHistoryEntry{{
			EntryID: fmt.Sprintf("e%d", i), EntityType: "spools", EntityID: "s1",
			Operation: "update", Outcome: OutcomeApplied, ServerVersion: int64(i),
		}})
		if err != nil {
			t.Fatalf("RecordSyncHistory failed: %v", err)
		}
	}

	all, err := db.GetSyncHistory(0, 100)
	if err != nil {
		t.Fatalf("GetSyncHistory failed: %v", err)
	}
	if len(all) != 5 {
		t.Fatalf("expected 5 entries, got %d", len(all))
	}

	rest, err := db.GetSyncHistory(all[2].ID, 100)
	if err != nil {
		t.Fatalf("GetSyncHistory failed: %v", err)
	}
	if len(rest) != 2 {
		t.Fatalf("expected 2 entries after id %d, got %d", all[2].ID, len(rest))
	}
	if rest[0].EntryID != "e4" || rest[1].EntryID != "e5" {
		t.Errorf("got %s, %s", rest[0].EntryID, rest[1].EntryID)
	}
}

func TestSyncHistoryPruned(t *testing.T) {
	db := newTestDB(t)

	batch := make([]SyncHistoryEntry, 0, 120)
	for i := 0; i < 120; i++ {
		batch = append(batch, SyncHistoryEntry{
			EntryID: fmt.Sprintf("e%d", i), EntityType: "spools", EntityID: "s1",
			Operation: "update", Outcome: OutcomeApplied,
		})
	}
	// Five batches of 120 overflow the 500-row cap.
	for i := 0; i < 5; i++ {
		if err := db.RecordSyncHistory(batch); err != nil {
			t.Fatalf("RecordSyncHistory failed: %v", err)
		}
	}

	entries, err := db.GetSyncHistory(0, 1000)
	if err != nil {
		t.Fatalf("GetSyncHistory failed: %v", err)
	}
	if len(entries) != syncHistoryMaxRows {
		t.Errorf("expected %d entries after prune, got %d", syncHistoryMaxRows, len(entries))
	}
	// The survivors are the newest rows.
	if entries[len(entries)-1].EntryID != "e119" {
		t.Errorf("last entry = %s, want e119", entries[len(entries)-1].EntryID)
	}
}
