package db

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spoolworks/tally/internal/models"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Initialize(t.TempDir())
	if err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func testEntry(entityType, entityID string, op models.Operation, patch models.Patch) *models.MutationEntry {
	return &models.MutationEntry{
		ID:         entityType + "-" + entityID + "-" + string(op),
		EntityType: entityType,
		EntityID:   entityID,
		Operation:  op,
		Payload:    patch,
	}
}

func TestInitialize(t *testing.T) {
	dir := t.TempDir()

	db, err := Initialize(dir)
	if err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	defer db.Close()

	dbPath := filepath.Join(dir, ".tally", "tally.db")
	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		t.Error("Database file not created")
	}

	version, err := db.GetSchemaVersion()
	if err != nil {
		t.Fatalf("GetSchemaVersion failed: %v", err)
	}
	if version != SchemaVersion {
		t.Errorf("schema version = %d, want %d", version, SchemaVersion)
	}
}

func TestOpenRequiresInit(t *testing.T) {
	_, err := Open(t.TempDir())
	if err == nil {
		t.Fatal("Open succeeded without init")
	}
}

func TestOpenRecoversInFlight(t *testing.T) {
	dir := t.TempDir()
	db, err := Initialize(dir)
	if err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}

	e := testEntry("spools", "s-1", models.OpCreate, models.Patch{"material": "PLA"})
	if err := db.Append(e); err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	if _, err := db.MarkInFlight([]string{e.ID}); err != nil {
		t.Fatalf("MarkInFlight failed: %v", err)
	}
	db.Close()

	// Reopening after a "crash" must demote in-flight back to pending.
	db2, err := Open(dir)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer db2.Close()

	got, err := db2.GetEntry(e.ID)
	if err != nil {
		t.Fatalf("GetEntry failed: %v", err)
	}
	if got.Status != models.StatusPending {
		t.Errorf("status after reopen = %s, want pending", got.Status)
	}
}

func TestMigrationsIdempotent(t *testing.T) {
	db := newTestDB(t)
	if err := db.RunMigrations(); err != nil {
		t.Fatalf("second RunMigrations failed: %v", err)
	}
}
