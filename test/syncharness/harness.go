// Package syncharness runs the full client stack against a fake
// authoritative server: the durable log, the projection store, the HTTP
// client, and the coordinator, end to end over real sockets. The server
// keeps its state in SQLite so idempotent replay and version arithmetic are
// tested against a real store, not a map that forgives sloppy transactions.
package syncharness

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	_ "modernc.org/sqlite"

	"github.com/spoolworks/tally/internal/db"
	"github.com/spoolworks/tally/internal/models"
	"github.com/spoolworks/tally/internal/projection"
	tallysync "github.com/spoolworks/tally/internal/sync"
	"github.com/spoolworks/tally/internal/syncclient"
)

const harnessAPIKey = "harness-key"

// serverSchema is the authoritative store: one row per entity plus an
// idempotency ledger so a replayed delivery returns the recorded response
// instead of bumping the version again.
const serverSchema = `
CREATE TABLE entities (
    entity_type TEXT NOT NULL,
    entity_id   TEXT NOT NULL,
    snapshot    TEXT,
    version     INTEGER NOT NULL,
    deleted     INTEGER NOT NULL DEFAULT 0,
    PRIMARY KEY (entity_type, entity_id)
);

CREATE TABLE idempotency (
    key      TEXT PRIMARY KEY,
    status   INTEGER NOT NULL,
    response TEXT NOT NULL
);
`

// FakeServer is an in-memory authoritative business API.
type FakeServer struct {
	t  *testing.T
	db *sql.DB
	// serializes handler writes; SQLite is single-writer
	mu sync.Mutex

	// Unavailable makes every request answer 503, simulating an outage
	// without tearing the listener down.
	Unavailable bool

	HTTP *httptest.Server
}

// NewFakeServer starts an authoritative server on a real socket.
func NewFakeServer(t *testing.T) *FakeServer {
	t.Helper()

	conn, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open server db: %v", err)
	}
	conn.SetMaxOpenConns(1)
	if _, err := conn.Exec(serverSchema); err != nil {
		t.Fatalf("server schema: %v", err)
	}

	s := &FakeServer{t: t, db: conn}
	s.HTTP = httptest.NewServer(http.HandlerFunc(s.handle))
	t.Cleanup(func() {
		s.HTTP.Close()
		conn.Close()
	})
	return s
}

// SetUnavailable toggles outage mode.
func (s *FakeServer) SetUnavailable(down bool) {
	s.mu.Lock()
	s.Unavailable = down
	s.mu.Unlock()
}

// Entity returns the server's current state for an entity, or nil fields and
// version 0 when unknown.
func (s *FakeServer) Entity(entityType, entityID string) (map[string]any, int64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var snapshot sql.NullString
	var version int64
	var deleted bool
	err := s.db.QueryRow(`SELECT snapshot, version, deleted FROM entities
		WHERE entity_type = ? AND entity_id = ?`, entityType, entityID,
	).Scan(&snapshot, &version, &deleted)
	if err == sql.ErrNoRows {
		return nil, 0, false
	}
	if err != nil {
		s.t.Fatalf("query entity: %v", err)
	}

	var fields map[string]any
	if snapshot.Valid && !deleted {
		if err := json.Unmarshal([]byte(snapshot.String), &fields); err != nil {
			s.t.Fatalf("unmarshal server snapshot: %v", err)
		}
	}
	return fields, version, deleted
}

// Seed installs entity state directly, bypassing the mutation path. Used to
// simulate edits made by other clients or surfaces.
func (s *FakeServer) Seed(entityType, entityID string, fields map[string]any, version int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.Marshal(fields)
	if err != nil {
		s.t.Fatalf("marshal seed: %v", err)
	}
	_, err = s.db.Exec(`INSERT INTO entities (entity_type, entity_id, snapshot, version, deleted)
		VALUES (?, ?, ?, ?, 0)
		ON CONFLICT (entity_type, entity_id) DO UPDATE SET
			snapshot = excluded.snapshot, version = excluded.version, deleted = 0`,
		entityType, entityID, string(data), version)
	if err != nil {
		s.t.Fatalf("seed entity: %v", err)
	}
}

func (s *FakeServer) handle(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.Unavailable {
		http.Error(w, "down", http.StatusServiceUnavailable)
		return
	}

	if r.URL.Path == "/healthz" {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		return
	}

	if r.Header.Get("Authorization") != "Bearer "+harnessAPIKey {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"code": "unauthorized", "message": "bad key"})
		return
	}

	parts := strings.Split(strings.TrimPrefix(r.URL.Path, "/v1/entities/"), "/")
	if len(parts) != 2 {
		writeJSON(w, http.StatusNotFound, map[string]string{"code": "not_found", "message": "no such route"})
		return
	}
	entityType, entityID := parts[0], parts[1]

	var req syncclient.MutationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"code": "bad_request", "message": err.Error()})
		return
	}

	// Idempotent replay: a key we have seen returns the recorded response.
	key := r.Header.Get("Idempotency-Key")
	var status int
	var recorded string
	err := s.db.QueryRow(`SELECT status, response FROM idempotency WHERE key = ?`, key).Scan(&status, &recorded)
	if err == nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		w.Write([]byte(recorded))
		return
	}
	if err != sql.ErrNoRows {
		s.t.Errorf("idempotency lookup: %v", err)
	}

	var snapshot sql.NullString
	var version int64
	var deleted bool
	exists := true
	err = s.db.QueryRow(`SELECT snapshot, version, deleted FROM entities
		WHERE entity_type = ? AND entity_id = ?`, entityType, entityID,
	).Scan(&snapshot, &version, &deleted)
	if err == sql.ErrNoRows {
		exists = false
	} else if err != nil {
		s.t.Errorf("entity lookup: %v", err)
	}

	// Version gate.
	switch r.Method {
	case "POST":
		if exists && !deleted {
			s.conflict(w, snapshot, version)
			return
		}
	case "PATCH", "DELETE":
		if !exists || deleted || req.BaseVersion != version {
			s.conflict(w, snapshot, version)
			return
		}
	default:
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"code": "bad_method"})
		return
	}

	// Validation hook: negative weights are the harness's stand-in for a
	// server-side business rule.
	if wg, ok := req.Patch["weight_g"].(float64); ok && wg < 0 {
		writeJSON(w, http.StatusUnprocessableEntity,
			map[string]string{"code": "invalid_field", "message": "weight_g must not be negative"})
		return
	}

	// Apply.
	fields := map[string]any{}
	if exists && snapshot.Valid && !deleted {
		json.Unmarshal([]byte(snapshot.String), &fields)
	}
	newVersion := version + 1
	isDelete := r.Method == "DELETE"
	if isDelete {
		fields = nil
	} else {
		for k, v := range req.Patch {
			fields[k] = v
		}
	}

	var snapJSON any
	if fields != nil {
		data, _ := json.Marshal(fields)
		snapJSON = string(data)
	}
	_, err = s.db.Exec(`INSERT INTO entities (entity_type, entity_id, snapshot, version, deleted)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (entity_type, entity_id) DO UPDATE SET
			snapshot = excluded.snapshot, version = excluded.version, deleted = excluded.deleted`,
		entityType, entityID, snapJSON, newVersion, isDelete)
	if err != nil {
		s.t.Errorf("store entity: %v", err)
	}

	body := map[string]any{"version": newVersion}
	if !isDelete {
		body["snapshot"] = fields
	}
	s.record(w, key, http.StatusOK, body)
}

// conflict answers 409 with the server's current view. Conflicts are not
// recorded in the idempotency ledger: the client's resend carries a new base
// and must be evaluated fresh.
func (s *FakeServer) conflict(w http.ResponseWriter, snapshot sql.NullString, version int64) {
	body := map[string]any{"current_version": version}
	if snapshot.Valid {
		body["current_snapshot"] = json.RawMessage(snapshot.String)
	}
	writeJSON(w, http.StatusConflict, body)
}

// record stores the response under the idempotency key, then sends it.
func (s *FakeServer) record(w http.ResponseWriter, key string, status int, body map[string]any) {
	data, err := json.Marshal(body)
	if err != nil {
		s.t.Errorf("marshal response: %v", err)
	}
	if key != "" {
		if _, err := s.db.Exec(`INSERT INTO idempotency (key, status, response) VALUES (?, ?, ?)`,
			key, status, string(data)); err != nil {
			s.t.Errorf("record idempotency: %v", err)
		}
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(data)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

type alwaysOnline struct{}

func (alwaysOnline) IsOnline() bool { return true }

func (alwaysOnline) Subscribe(func(online bool)) func() { return func() {} }

// SimClient is one full client stack: durable log, projection, HTTP client
// and coordinator, with its own workspace directory.
type SimClient struct {
	ID    string
	DB    *db.DB
	Proj  *projection.Store
	API   *syncclient.Client
	Coord *tallysync.Coordinator

	seq int
}

// Harness wires a fake server and N full client stacks.
type Harness struct {
	t       *testing.T
	Server  *FakeServer
	Clients map[string]*SimClient
}

// NewHarness builds the server and numClients clients named client-A,
// client-B, ...
func NewHarness(t *testing.T, numClients int) *Harness {
	t.Helper()

	h := &Harness{
		t:       t,
		Server:  NewFakeServer(t),
		Clients: make(map[string]*SimClient),
	}

	for i := 0; i < numClients; i++ {
		clientID := "client-" + string(rune('A'+i))

		database, err := db.Initialize(t.TempDir())
		if err != nil {
			t.Fatalf("init client %s db: %v", clientID, err)
		}
		t.Cleanup(func() { database.Close() })

		proj := projection.New(database)
		api := syncclient.New(h.Server.HTTP.URL, harnessAPIKey, clientID)
		coord := tallysync.NewCoordinator(tallysync.Config{
			DB:         database,
			Projection: proj,
			Client:     api,
			Monitor:    alwaysOnline{},
			ClientID:   clientID,
		})

		h.Clients[clientID] = &SimClient{
			ID:    clientID,
			DB:    database,
			Proj:  proj,
			API:   api,
			Coord: coord,
		}
	}

	return h
}

// Mutate appends one local edit on a client, capturing the base the same way
// the edit surface does.
func (h *Harness) Mutate(clientID string, op models.Operation, entityType, entityID string, patch models.Patch) {
	h.t.Helper()
	c := h.client(clientID)

	c.seq++
	entry := &models.MutationEntry{
		ID:         fmt.Sprintf("%s-entry-%03d", clientID, c.seq),
		EntityType: entityType,
		EntityID:   entityID,
		Operation:  op,
		Payload:    patch,
	}
	if snap, err := c.DB.GetServerState(entityType, entityID); err != nil {
		h.t.Fatalf("%s: get server state: %v", clientID, err)
	} else if snap != nil {
		entry.BaseVersion = snap.Version
		if snap.Fields != nil {
			data, err := json.Marshal(snap.Fields)
			if err != nil {
				h.t.Fatalf("%s: marshal base: %v", clientID, err)
			}
			entry.BaseSnapshot = data
		}
	}

	if err := c.DB.Append(entry); err != nil {
		h.t.Fatalf("%s: append: %v", clientID, err)
	}
}

// Drain runs one full drain pass on a client and returns the report.
func (h *Harness) Drain(clientID string) *tallysync.DrainReport {
	h.t.Helper()
	report, err := h.client(clientID).Coord.DrainOnce(h.t.Context())
	if err != nil {
		h.t.Fatalf("%s: drain: %v", clientID, err)
	}
	return report
}

// Read returns a client's projected view of an entity.
func (h *Harness) Read(clientID, entityType, entityID string) *models.EntityView {
	h.t.Helper()
	view, err := h.client(clientID).Proj.Read(entityType, entityID)
	if err != nil {
		h.t.Fatalf("%s: read %s/%s: %v", clientID, entityType, entityID, err)
	}
	return view
}

// Pull copies the server's current state for an entity into a client's
// server_state cache, standing in for the read-sync path.
func (h *Harness) Pull(clientID, entityType, entityID string) {
	h.t.Helper()
	c := h.client(clientID)

	fields, version, deleted := h.Server.Entity(entityType, entityID)
	if version == 0 {
		return
	}
	if deleted {
		if err := c.DB.DeleteServerState(entityType, entityID); err != nil {
			h.t.Fatalf("%s: delete server state: %v", clientID, err)
		}
		return
	}
	if err := c.DB.PutServerState(&models.Snapshot{
		EntityType: entityType,
		EntityID:   entityID,
		Fields:     fields,
		Version:    version,
	}); err != nil {
		h.t.Fatalf("%s: put server state: %v", clientID, err)
	}
}

// AssertServerEntity checks one field of the server's authoritative state.
func (h *Harness) AssertServerEntity(entityType, entityID string, wantVersion int64, field string, want any) {
	h.t.Helper()
	fields, version, deleted := h.Server.Entity(entityType, entityID)
	if deleted {
		h.t.Fatalf("server: %s/%s unexpectedly deleted", entityType, entityID)
	}
	if version != wantVersion {
		h.t.Fatalf("server: %s/%s version = %d, want %d", entityType, entityID, version, wantVersion)
	}
	if got := fields[field]; fmt.Sprint(got) != fmt.Sprint(want) {
		h.t.Fatalf("server: %s/%s %s = %v, want %v", entityType, entityID, field, got, want)
	}
}

// AssertDrained checks that a client's log has no pending work left.
func (h *Harness) AssertDrained(clientID string) {
	h.t.Helper()
	pending, err := h.client(clientID).DB.CountPending()
	if err != nil {
		h.t.Fatalf("%s: count pending: %v", clientID, err)
	}
	if pending != 0 {
		h.t.Fatalf("%s: %d entries still pending", clientID, pending)
	}
}

func (h *Harness) client(clientID string) *SimClient {
	c, ok := h.Clients[clientID]
	if !ok {
		h.t.Fatalf("unknown client %q", clientID)
	}
	return c
}
