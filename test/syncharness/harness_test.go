package syncharness

import (
	"testing"

	"github.com/spoolworks/tally/internal/models"
	"github.com/spoolworks/tally/internal/syncclient"
)

func TestSingleClientCreate(t *testing.T) {
	h := NewHarness(t, 1)

	h.Mutate("client-A", models.OpCreate, "spools", "sp-001", models.Patch{
		"material": "PLA",
		"color":    "galaxy black",
		"weight_g": float64(1000),
	})

	// Visible locally before any network traffic.
	view := h.Read("client-A", "spools", "sp-001")
	if view == nil || view.Fields["material"] != "PLA" {
		t.Fatalf("local view = %+v", view)
	}
	if view.Pending != 1 {
		t.Fatalf("Pending = %d, want 1", view.Pending)
	}

	report := h.Drain("client-A")
	if report.Applied != 1 {
		t.Fatalf("report = %+v, want 1 applied", report)
	}

	h.AssertServerEntity("spools", "sp-001", 1, "material", "PLA")
	h.AssertDrained("client-A")

	// After the flush the view is served from confirmed state.
	view = h.Read("client-A", "spools", "sp-001")
	if view.Pending != 0 || view.Version != 1 {
		t.Fatalf("view after drain = %+v", view)
	}
}

func TestUpdateCoalescedAcrossEdits(t *testing.T) {
	h := NewHarness(t, 1)

	h.Mutate("client-A", models.OpCreate, "spools", "sp-001", models.Patch{
		"material": "PETG", "weight_g": float64(1000),
	})
	h.Drain("client-A")

	// Three successive edits drain as one server mutation.
	h.Mutate("client-A", models.OpUpdate, "spools", "sp-001", models.Patch{"weight_g": float64(900)})
	h.Mutate("client-A", models.OpUpdate, "spools", "sp-001", models.Patch{"weight_g": float64(850)})
	h.Mutate("client-A", models.OpUpdate, "spools", "sp-001", models.Patch{"location": "dry-box"})

	report := h.Drain("client-A")
	if report.Applied != 3 {
		t.Fatalf("report = %+v, want 3 applied", report)
	}

	// One version bump for the whole batch.
	h.AssertServerEntity("spools", "sp-001", 2, "weight_g", 850)
	h.AssertServerEntity("spools", "sp-001", 2, "location", "dry-box")
}

func TestDeletePropagates(t *testing.T) {
	h := NewHarness(t, 1)

	h.Mutate("client-A", models.OpCreate, "spools", "sp-001", models.Patch{"material": "PLA"})
	h.Drain("client-A")

	h.Mutate("client-A", models.OpDelete, "spools", "sp-001", nil)
	h.Drain("client-A")

	_, version, deleted := h.Server.Entity("spools", "sp-001")
	if !deleted || version != 2 {
		t.Fatalf("server: deleted = %v version = %d, want deleted at v2", deleted, version)
	}
	if view := h.Read("client-A", "spools", "sp-001"); view != nil {
		t.Fatalf("view after confirmed delete = %+v, want nil", view)
	}
}

func TestIdempotentReplay(t *testing.T) {
	h := NewHarness(t, 1)
	api := h.Clients["client-A"].API

	req := &syncclient.MutationRequest{
		EntryID:  "replay-entry-1",
		ClientID: "client-A",
		Patch:    models.Patch{"material": "PLA"},
	}

	first, err := api.Apply(models.OpCreate, "spools", "sp-001", req)
	if err != nil {
		t.Fatalf("first delivery: %v", err)
	}

	// The same entry delivered again (e.g. response lost, client retried)
	// must not bump the version.
	second, err := api.Apply(models.OpCreate, "spools", "sp-001", req)
	if err != nil {
		t.Fatalf("second delivery: %v", err)
	}
	if second.Version != first.Version {
		t.Fatalf("replayed version = %d, want %d", second.Version, first.Version)
	}

	_, version, _ := h.Server.Entity("spools", "sp-001")
	if version != 1 {
		t.Fatalf("server version = %d, want 1 after replay", version)
	}
}

func TestTwoClientsSeparateEntities(t *testing.T) {
	h := NewHarness(t, 2)

	h.Mutate("client-A", models.OpCreate, "spools", "sp-A", models.Patch{"material": "PLA"})
	h.Mutate("client-B", models.OpCreate, "spools", "sp-B", models.Patch{"material": "ABS"})

	h.Drain("client-A")
	h.Drain("client-B")

	h.AssertServerEntity("spools", "sp-A", 1, "material", "PLA")
	h.AssertServerEntity("spools", "sp-B", 1, "material", "ABS")

	// Each client can pull the other's entity.
	h.Pull("client-A", "spools", "sp-B")
	view := h.Read("client-A", "spools", "sp-B")
	if view == nil || view.Fields["material"] != "ABS" {
		t.Fatalf("pulled view = %+v", view)
	}
}

func TestCreateThenDeleteNeverReachesServer(t *testing.T) {
	h := NewHarness(t, 1)

	// Both edits queue before any drain, so the creation the delete undoes
	// was never flushed. The pair cancels out locally with no request.
	h.Mutate("client-A", models.OpCreate, "spools", "sp-001", models.Patch{"material": "PLA"})
	h.Mutate("client-A", models.OpDelete, "spools", "sp-001", nil)

	report := h.Drain("client-A")
	if report.Applied != 2 || report.Conflicted != 0 || report.Failed != 0 {
		t.Fatalf("report = %+v, want both entries applied with no conflicts", report)
	}
	h.AssertDrained("client-A")

	if _, version, _ := h.Server.Entity("spools", "sp-001"); version != 0 {
		t.Fatalf("server version = %d, want no record of the cancelled entity", version)
	}
	if view := h.Read("client-A", "spools", "sp-001"); view != nil {
		t.Fatalf("view = %+v, want gone", view)
	}
}
