package syncharness

import (
	"testing"

	"github.com/spoolworks/tally/internal/models"
)

// seedShared creates an entity through client-A and pulls it into every
// other client, so all clients start from the same confirmed version.
func seedShared(t *testing.T, h *Harness, fields models.Patch) {
	t.Helper()
	h.Mutate("client-A", models.OpCreate, "spools", "sp-001", fields)
	h.Drain("client-A")
	for id := range h.Clients {
		if id != "client-A" {
			h.Pull(id, "spools", "sp-001")
		}
	}
}

func TestDisjointFieldsAutoMerge(t *testing.T) {
	h := NewHarness(t, 2)
	seedShared(t, h, models.Patch{"weight_g": float64(1000), "location": "shelf-a"})

	// A updates the weight, B moves the spool. Neither edit touches the
	// other's field.
	h.Mutate("client-A", models.OpUpdate, "spools", "sp-001", models.Patch{"weight_g": float64(800)})
	h.Mutate("client-B", models.OpUpdate, "spools", "sp-001", models.Patch{"location": "dry-box"})

	if report := h.Drain("client-A"); report.Applied != 1 {
		t.Fatalf("A report = %+v, want 1 applied", report)
	}

	// B's base is stale now; the engine merges automatically because the
	// fields are disjoint.
	report := h.Drain("client-B")
	if report.Merged != 1 || report.Conflicted != 0 {
		t.Fatalf("B report = %+v, want 1 merged", report)
	}

	h.AssertServerEntity("spools", "sp-001", 3, "weight_g", 800)
	h.AssertServerEntity("spools", "sp-001", 3, "location", "dry-box")
	h.AssertDrained("client-B")
}

func TestSameFieldParksConflict(t *testing.T) {
	h := NewHarness(t, 2)
	seedShared(t, h, models.Patch{"weight_g": float64(1000)})

	h.Mutate("client-A", models.OpUpdate, "spools", "sp-001", models.Patch{"weight_g": float64(800)})
	h.Mutate("client-B", models.OpUpdate, "spools", "sp-001", models.Patch{"weight_g": float64(750)})

	h.Drain("client-A")
	report := h.Drain("client-B")
	if report.Conflicted != 1 {
		t.Fatalf("B report = %+v, want 1 conflicted", report)
	}

	// B's edit is parked, not lost, and not on the server.
	h.AssertServerEntity("spools", "sp-001", 2, "weight_g", 800)

	conflicts, err := h.Clients["client-B"].Proj.SurfaceConflicts()
	if err != nil {
		t.Fatalf("surface conflicts: %v", err)
	}
	if len(conflicts) != 1 {
		t.Fatalf("expected 1 conflict, got %d", len(conflicts))
	}
	c := conflicts[0]
	if c.LocalPatch["weight_g"] != float64(750) || c.ServerVersion != 2 {
		t.Fatalf("conflict = %+v", c)
	}
	if len(c.Fields) != 1 || c.Fields[0] != "weight_g" {
		t.Fatalf("contested fields = %v, want [weight_g]", c.Fields)
	}

	// B's local view keeps showing its own intent, flagged.
	view := h.Read("client-B", "spools", "sp-001")
	if !view.Conflicted || view.Fields["weight_g"] != float64(750) {
		t.Fatalf("B view = %+v", view)
	}
}

func TestConflictResolutionKeepLocal(t *testing.T) {
	h := NewHarness(t, 2)
	seedShared(t, h, models.Patch{"weight_g": float64(1000)})

	h.Mutate("client-A", models.OpUpdate, "spools", "sp-001", models.Patch{"weight_g": float64(800)})
	h.Mutate("client-B", models.OpUpdate, "spools", "sp-001", models.Patch{"weight_g": float64(750)})
	h.Drain("client-A")
	h.Drain("client-B")

	b := h.Clients["client-B"]
	conflicts, err := b.Proj.SurfaceConflicts()
	if err != nil || len(conflicts) != 1 {
		t.Fatalf("conflicts = %v, %v", conflicts, err)
	}
	c := conflicts[0]

	// Keep-local: repoint the entry at the reviewed server version and
	// accept that version as the new baseline.
	if err := b.DB.Rebase(c.EntryID, c.ServerState, c.ServerVersion); err != nil {
		t.Fatalf("rebase: %v", err)
	}
	if err := b.DB.PutServerState(&models.Snapshot{
		EntityType: c.EntityType,
		EntityID:   c.EntityID,
		Fields:     map[string]any{"weight_g": float64(800)},
		Version:    c.ServerVersion,
	}); err != nil {
		t.Fatalf("put server state: %v", err)
	}

	report := h.Drain("client-B")
	if report.Applied != 1 {
		t.Fatalf("B report after rebase = %+v, want 1 applied", report)
	}
	h.AssertServerEntity("spools", "sp-001", 3, "weight_g", 750)
	h.AssertDrained("client-B")
}

func TestConflictResolutionAcceptServer(t *testing.T) {
	h := NewHarness(t, 2)
	seedShared(t, h, models.Patch{"weight_g": float64(1000)})

	h.Mutate("client-A", models.OpUpdate, "spools", "sp-001", models.Patch{"weight_g": float64(800)})
	h.Mutate("client-B", models.OpUpdate, "spools", "sp-001", models.Patch{"weight_g": float64(750)})
	h.Drain("client-A")
	h.Drain("client-B")

	b := h.Clients["client-B"]
	conflicts, _ := b.Proj.SurfaceConflicts()
	c := conflicts[0]

	// Accept-server: adopt the server's state and drop the local intent.
	if err := b.DB.PutServerState(&models.Snapshot{
		EntityType: c.EntityType,
		EntityID:   c.EntityID,
		Fields:     map[string]any{"weight_g": float64(800)},
		Version:    c.ServerVersion,
	}); err != nil {
		t.Fatalf("put server state: %v", err)
	}
	if err := b.DB.Discard(c.EntryID); err != nil {
		t.Fatalf("discard: %v", err)
	}

	view := h.Read("client-B", "spools", "sp-001")
	if view.Conflicted || view.Pending != 0 {
		t.Fatalf("B view = %+v, want clean", view)
	}
	if view.Fields["weight_g"] != float64(800) {
		t.Fatalf("weight_g = %v, want the server's 800", view.Fields["weight_g"])
	}
	h.AssertServerEntity("spools", "sp-001", 2, "weight_g", 800)
}

func TestDeleteAgainstRemoteEditConflicts(t *testing.T) {
	h := NewHarness(t, 2)
	seedShared(t, h, models.Patch{"weight_g": float64(1000)})

	// A edits, B deletes against the old version.
	h.Mutate("client-A", models.OpUpdate, "spools", "sp-001", models.Patch{"weight_g": float64(900)})
	h.Mutate("client-B", models.OpDelete, "spools", "sp-001", nil)
	h.Drain("client-A")

	report := h.Drain("client-B")
	if report.Conflicted != 1 {
		t.Fatalf("B report = %+v, want 1 conflicted", report)
	}

	// The delete did not win silently; the edited entity survives.
	h.AssertServerEntity("spools", "sp-001", 2, "weight_g", 900)
}
