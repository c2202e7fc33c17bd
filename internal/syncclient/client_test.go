package syncclient

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/spoolworks/tally/internal/models"
)

func TestApplySuccess(t *testing.T) {
	var gotReq *http.Request
	var gotBody MutationRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotReq = r.Clone(r.Context())
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("decode body: %v", err)
		}
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]any{
			"snapshot": map[string]any{"weight_g": 900},
			"version":  5,
		})
	}))
	defer server.Close()

	c := New(server.URL, "key-123", "client-1")
	res, err := c.Apply(models.OpUpdate, "spools", "s1", &MutationRequest{
		EntryID:     "e1",
		ClientID:    "client-1",
		BaseVersion: 4,
		Patch:       models.Patch{"weight_g": float64(900)},
	})
	if err != nil {
		t.Fatalf("Apply failed: %v", err)
	}

	if res.Conflict {
		t.Error("unexpected conflict")
	}
	if res.Version != 5 {
		t.Errorf("Version = %d, want 5", res.Version)
	}

	if gotReq.Method != "PATCH" {
		t.Errorf("method = %s, want PATCH", gotReq.Method)
	}
	if gotReq.URL.Path != "/v1/entities/spools/s1" {
		t.Errorf("path = %s", gotReq.URL.Path)
	}
	if got := gotReq.Header.Get("Idempotency-Key"); got != "e1" {
		t.Errorf("Idempotency-Key = %q, want e1", got)
	}
	if got := gotReq.Header.Get("Authorization"); got != "Bearer key-123" {
		t.Errorf("Authorization = %q", got)
	}
	if gotBody.BaseVersion != 4 || gotBody.ClientID != "client-1" {
		t.Errorf("body = %+v", gotBody)
	}
}

func TestApplyMethodPerOperation(t *testing.T) {
	var methods []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		methods = append(methods, r.Method)
		json.NewEncoder(w).Encode(map[string]any{"version": 1})
	}))
	defer server.Close()

	c := New(server.URL, "", "client-1")
	for _, op := range []models.Operation{models.OpCreate, models.OpUpdate, models.OpDelete} {
		if _, err := c.Apply(op, "spools", "s1", &MutationRequest{EntryID: "e1"}); err != nil {
			t.Fatalf("Apply(%s) failed: %v", op, err)
		}
	}

	want := []string{"POST", "PATCH", "DELETE"}
	for i := range want {
		if methods[i] != want[i] {
			t.Errorf("methods = %v, want %v", methods, want)
		}
	}

	if _, err := c.Apply("bogus", "spools", "s1", &MutationRequest{}); err == nil {
		t.Error("expected error for unknown operation")
	}
}

func TestApplyConflict(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		json.NewEncoder(w).Encode(map[string]any{
			"current_snapshot": map[string]any{"weight_g": 950},
			"current_version":  7,
		})
	}))
	defer server.Close()

	c := New(server.URL, "", "client-1")
	res, err := c.Apply(models.OpUpdate, "spools", "s1", &MutationRequest{EntryID: "e1", BaseVersion: 4})
	if err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	if !res.Conflict {
		t.Fatal("expected conflict result")
	}
	if res.Version != 7 {
		t.Errorf("Version = %d, want 7", res.Version)
	}
	var fields map[string]any
	if err := json.Unmarshal(res.Snapshot, &fields); err != nil || fields["weight_g"] != float64(950) {
		t.Errorf("Snapshot = %s", res.Snapshot)
	}
}

func TestApplyErrorClassification(t *testing.T) {
	status := http.StatusInternalServerError
	body := ""
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
		w.Write([]byte(body))
	}))
	defer server.Close()

	c := New(server.URL, "", "client-1")
	apply := func() error {
		_, err := c.Apply(models.OpUpdate, "spools", "s1", &MutationRequest{EntryID: "e1"})
		return err
	}

	// 5xx is transient: the coordinator backs off and retries.
	if err := apply(); !errors.Is(err, ErrTransient) {
		t.Errorf("500 error = %v, want ErrTransient", err)
	}

	status = http.StatusUnauthorized
	if err := apply(); !errors.Is(err, ErrUnauthorized) {
		t.Errorf("401 error = %v, want ErrUnauthorized", err)
	}

	status = http.StatusNotFound
	if err := apply(); !errors.Is(err, ErrNotFound) {
		t.Errorf("404 error = %v, want ErrNotFound", err)
	}

	status = http.StatusUnprocessableEntity
	body = `{"code":"invalid_field","message":"weight must be positive"}`
	err := apply()
	var perm *PermanentError
	if !errors.As(err, &perm) {
		t.Fatalf("422 error = %v, want PermanentError", err)
	}
	if perm.Code != "invalid_field" || perm.Message != "weight must be positive" {
		t.Errorf("PermanentError = %+v", perm)
	}
	if errors.Is(err, ErrTransient) {
		t.Error("a 4xx rejection must not be transient")
	}
}

func TestApplyConnectionErrorIsTransient(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	server.Close() // nothing listening anymore

	c := New(server.URL, "", "client-1")
	_, err := c.Apply(models.OpUpdate, "spools", "s1", &MutationRequest{EntryID: "e1"})
	if !errors.Is(err, ErrTransient) {
		t.Errorf("connection error = %v, want ErrTransient", err)
	}
}

func TestHealthCheck(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/healthz" {
			t.Errorf("path = %s, want /healthz", r.URL.Path)
		}
		json.NewEncoder(w).Encode(HealthResponse{Status: "ok"})
	}))
	defer server.Close()

	c := New(server.URL, "", "client-1")
	res, err := c.HealthCheck()
	if err != nil {
		t.Fatalf("HealthCheck failed: %v", err)
	}
	if res.Status != "ok" {
		t.Errorf("Status = %q, want ok", res.Status)
	}
}

func TestHealthCheckUnreachable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	server.Close()

	c := New(server.URL, "", "client-1")
	if _, err := c.HealthCheck(); !errors.Is(err, ErrTransient) {
		t.Errorf("error = %v, want ErrTransient", err)
	}
}
