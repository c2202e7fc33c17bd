package syncharness

import (
	"strings"
	"testing"

	"github.com/spoolworks/tally/internal/models"
)

func TestOutageQueuesThenRecovers(t *testing.T) {
	h := NewHarness(t, 1)

	h.Server.SetUnavailable(true)
	h.Mutate("client-A", models.OpCreate, "spools", "sp-001", models.Patch{"material": "PLA"})

	report := h.Drain("client-A")
	if !report.Transient {
		t.Fatalf("report = %+v, want transient", report)
	}

	// The edit is parked retriable, and still visible locally.
	failed, err := h.Clients["client-A"].DB.ListFailed()
	if err != nil || len(failed) != 1 {
		t.Fatalf("failed entries = %v, %v", failed, err)
	}
	if !strings.HasPrefix(failed[0].FailureReason, "transient: ") {
		t.Fatalf("reason = %q, want transient prefix", failed[0].FailureReason)
	}

	// Server comes back. The next drain picks the parked entry up by
	// itself; a blip never needs per-entry intervention.
	h.Server.SetUnavailable(false)
	report = h.Drain("client-A")
	if report.Applied != 1 {
		t.Fatalf("report after recovery = %+v, want 1 applied", report)
	}
	h.AssertServerEntity("spools", "sp-001", 1, "material", "PLA")
	if view := h.Read("client-A", "spools", "sp-001"); view == nil || view.Version != 1 {
		t.Fatalf("view after recovery = %+v", view)
	}
}

func TestOutageRetryReplaysSameKey(t *testing.T) {
	h := NewHarness(t, 1)

	h.Mutate("client-A", models.OpCreate, "spools", "sp-001", models.Patch{"material": "PLA"})
	h.Drain("client-A")

	// Queue two edits, lose the link mid-queue, then recover. The retried
	// flush reuses the original idempotency key, so the server applies it
	// exactly once no matter how many deliveries it took.
	h.Mutate("client-A", models.OpUpdate, "spools", "sp-001", models.Patch{"weight_g": float64(900)})
	h.Server.SetUnavailable(true)
	h.Drain("client-A")
	h.Server.SetUnavailable(false)
	h.Drain("client-A")
	h.AssertServerEntity("spools", "sp-001", 2, "weight_g", 900)
	h.AssertDrained("client-A")
}

func TestPermanentRejectionParksEntry(t *testing.T) {
	h := NewHarness(t, 1)

	h.Mutate("client-A", models.OpCreate, "spools", "sp-001", models.Patch{"material": "PLA"})
	h.Drain("client-A")

	// The fake server rejects negative weights as a business rule.
	h.Mutate("client-A", models.OpUpdate, "spools", "sp-001", models.Patch{"weight_g": float64(-50)})

	report := h.Drain("client-A")
	if report.Failed != 1 {
		t.Fatalf("report = %+v, want 1 failed", report)
	}

	failed, err := h.Clients["client-A"].DB.ListFailed()
	if err != nil || len(failed) != 1 {
		t.Fatalf("failed entries = %v, %v", failed, err)
	}
	if !strings.Contains(failed[0].FailureReason, "weight_g must not be negative") {
		t.Fatalf("reason = %q, want the server's message", failed[0].FailureReason)
	}
	if strings.HasPrefix(failed[0].FailureReason, "transient: ") {
		t.Fatal("a business rejection must not be auto-retried")
	}

	// The server never saw the bad value.
	h.AssertServerEntity("spools", "sp-001", 1, "material", "PLA")

	// A later drain leaves the parked entry alone.
	report = h.Drain("client-A")
	if !report.Empty() {
		t.Fatalf("second drain report = %+v, want empty", report)
	}
}
