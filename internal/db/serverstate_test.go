package db

import (
	"testing"

	"github.com/spoolworks/tally/internal/models"
)

func TestServerStateRoundTrip(t *testing.T) {
	db := newTestDB(t)

	got, err := db.GetServerState("spools", "s1")
	if err != nil {
		t.Fatalf("GetServerState failed: %v", err)
	}
	if got != nil {
		t.Fatalf("expected nil for unknown entity, got %+v", got)
	}

	snap := &models.Snapshot{
		EntityType: "spools",
		EntityID:   "s1",
		Fields:     map[string]any{"material": "PLA", "weight_g": float64(1000)},
		Version:    3,
	}
	if err := db.PutServerState(snap); err != nil {
		t.Fatalf("PutServerState failed: %v", err)
	}

	got, err = db.GetServerState("spools", "s1")
	if err != nil {
		t.Fatalf("GetServerState failed: %v", err)
	}
	if got == nil {
		t.Fatal("expected snapshot, got nil")
	}
	if got.Version != 3 {
		t.Errorf("Version = %d, want 3", got.Version)
	}
	if got.Fields["material"] != "PLA" {
		t.Errorf("material = %v, want PLA", got.Fields["material"])
	}
	if got.FetchedAt.IsZero() {
		t.Error("FetchedAt should be set")
	}
}

func TestPutServerStateRefusesOlderVersion(t *testing.T) {
	db := newTestDB(t)

	if err := db.PutServerState(&models.Snapshot{
		EntityType: "spools", EntityID: "s1",
		Fields:  map[string]any{"location": "shelf-b"},
		Version: 5,
	}); err != nil {
		t.Fatalf("PutServerState failed: %v", err)
	}

	// A stale write must be dropped, not applied.
	if err := db.PutServerState(&models.Snapshot{
		EntityType: "spools", EntityID: "s1",
		Fields:  map[string]any{"location": "shelf-a"},
		Version: 4,
	}); err != nil {
		t.Fatalf("PutServerState failed: %v", err)
	}

	got, err := db.GetServerState("spools", "s1")
	if err != nil {
		t.Fatalf("GetServerState failed: %v", err)
	}
	if got.Version != 5 {
		t.Errorf("Version = %d, want 5 (stale write should be dropped)", got.Version)
	}
	if got.Fields["location"] != "shelf-b" {
		t.Errorf("location = %v, want shelf-b", got.Fields["location"])
	}

	// Same version overwrites (re-fetch of current state).
	if err := db.PutServerState(&models.Snapshot{
		EntityType: "spools", EntityID: "s1",
		Fields:  map[string]any{"location": "shelf-c"},
		Version: 5,
	}); err != nil {
		t.Fatalf("PutServerState failed: %v", err)
	}
	got, _ = db.GetServerState("spools", "s1")
	if got.Fields["location"] != "shelf-c" {
		t.Errorf("location = %v, want shelf-c", got.Fields["location"])
	}
}

func TestPutServerStateTombstone(t *testing.T) {
	db := newTestDB(t)

	// A confirmed delete stores a versioned snapshot with no fields.
	if err := db.PutServerState(&models.Snapshot{
		EntityType: "spools", EntityID: "s1", Version: 7,
	}); err != nil {
		t.Fatalf("PutServerState failed: %v", err)
	}

	got, err := db.GetServerState("spools", "s1")
	if err != nil {
		t.Fatalf("GetServerState failed: %v", err)
	}
	if !got.Deleted() {
		t.Errorf("expected tombstone to report Deleted, got %+v", got)
	}
}

func TestDeleteServerState(t *testing.T) {
	db := newTestDB(t)

	if err := db.PutServerState(&models.Snapshot{
		EntityType: "spools", EntityID: "s1",
		Fields: map[string]any{"material": "PETG"}, Version: 1,
	}); err != nil {
		t.Fatalf("PutServerState failed: %v", err)
	}
	if err := db.DeleteServerState("spools", "s1"); err != nil {
		t.Fatalf("DeleteServerState failed: %v", err)
	}

	got, err := db.GetServerState("spools", "s1")
	if err != nil {
		t.Fatalf("GetServerState failed: %v", err)
	}
	if got != nil {
		t.Fatalf("expected nil after delete, got %+v", got)
	}
}

func TestListEntityIDs(t *testing.T) {
	db := newTestDB(t)

	// Confirmed entities.
	for _, id := range []string{"s2", "s1"} {
		if err := db.PutServerState(&models.Snapshot{
			EntityType: "spools", EntityID: id,
			Fields: map[string]any{"material": "PLA"}, Version: 1,
		}); err != nil {
			t.Fatalf("PutServerState failed: %v", err)
		}
	}
	// An unflushed local create with no server state yet.
	if err := db.Append(testEntry("spools", "s3", models.OpCreate, models.Patch{"material": "ABS"})); err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	// Different type and applied entries must not leak in.
	if err := db.PutServerState(&models.Snapshot{
		EntityType: "orders", EntityID: "o1",
		Fields: map[string]any{"qty": float64(2)}, Version: 1,
	}); err != nil {
		t.Fatalf("PutServerState failed: %v", err)
	}

	ids, err := db.ListEntityIDs("spools")
	if err != nil {
		t.Fatalf("ListEntityIDs failed: %v", err)
	}
	want := []string{"s1", "s2", "s3"}
	if len(ids) != len(want) {
		t.Fatalf("got %v, want %v", ids, want)
	}
	for i := range want {
		if ids[i] != want[i] {
			t.Errorf("ids[%d] = %s, want %s", i, ids[i], want[i])
		}
	}
}
