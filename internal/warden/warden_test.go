package warden

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"

	"github.com/talgya/territory/internal/engine"
)

// fakeAPI serves the endpoints the warden uses. Entity "a" repairs cleanly,
// every other entity is refused.
type fakeAPI struct {
	mu          sync.Mutex
	quarantined map[string]string
	broken      map[string]string // Found and quarantined by the next audit
	audits      int
	snapshots   int
	dbOK        bool
}

func (f *fakeAPI) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	admin := func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("Authorization") != "Bearer secret" {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			next(w, r)
		}
	}
	mux.HandleFunc("GET /api/v1/status", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		json.NewEncoder(w).Encode(map[string]any{
			"name":     "territory",
			"engine":   engine.Stats{Battles: 1, Quarantined: len(f.quarantined)},
			"database": map[string]any{"driver": "sqlite", "ok": f.dbOK},
		})
	})
	mux.HandleFunc("GET /api/v1/quarantine", admin(func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		json.NewEncoder(w).Encode(map[string]any{"quarantined": f.quarantined})
	}))
	mux.HandleFunc("POST /api/v1/audit", admin(func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.audits++
		found := []string{}
		for id, detail := range f.broken {
			f.quarantined[id] = detail
			found = append(found, id)
		}
		f.broken = nil
		json.NewEncoder(w).Encode(map[string]any{"quarantined": found})
	}))
	mux.HandleFunc("GET /api/v1/battles/hot", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode([]engine.BattleSnapshot{{EntityID: "x", Progress: 65}})
	})
	mux.HandleFunc("POST /api/v1/repair", admin(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			EntityID string `json:"entity_id"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("repair body: %v", err)
		}
		f.mu.Lock()
		defer f.mu.Unlock()
		if req.EntityID != "a" {
			w.WriteHeader(http.StatusConflict)
			json.NewEncoder(w).Encode(map[string]string{"error": "still inconsistent"})
			return
		}
		delete(f.quarantined, req.EntityID)
		json.NewEncoder(w).Encode(map[string]string{"message": "repaired"})
	}))
	mux.HandleFunc("POST /api/v1/snapshot", admin(func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.snapshots++
		json.NewEncoder(w).Encode(map[string]any{"snapshot": map[string]any{"path": "data/snapshots/abc.json.lz4"}})
	}))
	return mux
}

func TestTriageLevels(t *testing.T) {
	obs := &Observation{}
	if h := Triage(obs); h.Level != LevelHealthy {
		t.Errorf("empty: %s", h.Level)
	}
	obs.Quarantine.Quarantined = map[string]string{"b": "x", "a": "y"}
	h := Triage(obs)
	if h.Level != LevelWarning || h.Quarantined[0] != "a" {
		t.Errorf("quarantined: %+v", h)
	}
	obs.AuditFindings = []string{"c"}
	if h := Triage(obs); h.Level != LevelCritical {
		t.Errorf("audit findings: %s", h.Level)
	}
}

func TestDecide(t *testing.T) {
	mem := &CycleMemory{FailedAt: map[string]int{"b": 4}}
	p := Policy{MaxRepairs: 2, RetryCycles: 3, SnapshotEvery: 10}
	h := &Health{Quarantined: []string{"a", "b", "c", "d"}}

	d := Decide(h, mem, 5, p)
	want := []Action{{Type: ActionSnapshot}, {Type: ActionRepair, EntityID: "a"}, {Type: ActionRepair, EntityID: "c"}}
	if len(d.Actions) != len(want) {
		t.Fatalf("actions = %+v", d.Actions)
	}
	for i := range want {
		if d.Actions[i] != want[i] {
			t.Errorf("action %d = %+v, want %+v", i, d.Actions[i], want[i])
		}
	}

	if d := Decide(&Health{}, mem, 10, p); len(d.Actions) != 1 || d.Actions[0].Type != ActionSnapshot {
		t.Errorf("routine cycle: %+v", d.Actions)
	}
	if d := Decide(&Health{Quarantined: []string{"a"}, DatabaseDown: true}, mem, 5, p); len(d.Actions) != 0 {
		t.Errorf("database down: %+v", d.Actions)
	}
}

func TestRunCycle(t *testing.T) {
	api := &fakeAPI{quarantined: map[string]string{"a": "defender mismatch", "b": "attacker holds no cells"}, dbOK: true}
	srv := httptest.NewServer(api.handler(t))
	defer srv.Close()

	o := NewObserver(srv.URL, "secret")
	a := NewActor(srv.URL, "secret")
	mem := &CycleMemory{FailedAt: map[string]int{}}
	p := Policy{MaxRepairs: 5, RetryCycles: 3}
	ctx := context.Background()

	rec, err := RunCycle(ctx, o, a, mem, p)
	if err != nil {
		t.Fatalf("cycle 1: %v", err)
	}
	if rec.Level != LevelWarning || rec.Snapshot == "" {
		t.Errorf("cycle 1 record = %+v", rec)
	}
	if len(rec.Repaired) != 1 || rec.Repaired[0] != "a" || len(rec.Failed) != 1 || rec.Failed[0] != "b" {
		t.Errorf("cycle 1 repaired=%v failed=%v", rec.Repaired, rec.Failed)
	}
	if mem.FailedAt["b"] != 1 {
		t.Errorf("failed index = %v", mem.FailedAt)
	}

	rec, err = RunCycle(ctx, o, a, mem, p)
	if err != nil {
		t.Fatalf("cycle 2: %v", err)
	}
	if len(rec.Repaired)+len(rec.Failed) != 0 || rec.Snapshot != "" {
		t.Errorf("cycle 2 should wait out the retry delay: %+v", rec)
	}
	if api.snapshots != 1 {
		t.Errorf("snapshots = %d, want 1", api.snapshots)
	}
	if api.audits != 2 {
		t.Errorf("audits = %d, want one per cycle", api.audits)
	}
}

func TestRunCycleAuditsBeforeObserving(t *testing.T) {
	api := &fakeAPI{
		quarantined: map[string]string{},
		broken:      map[string]string{"c": "record references a missing entity"},
		dbOK:        true,
	}
	srv := httptest.NewServer(api.handler(t))
	defer srv.Close()

	o := NewObserver(srv.URL, "secret")
	a := NewActor(srv.URL, "secret")
	mem := &CycleMemory{FailedAt: map[string]int{}}
	rec, err := RunCycle(context.Background(), o, a, mem, Policy{MaxRepairs: 5, RetryCycles: 3})
	if err != nil {
		t.Fatal(err)
	}
	if rec.Level != LevelCritical || rec.Quarantined != 1 {
		t.Errorf("record = %+v, want CRITICAL with the audited entity quarantined", rec)
	}

	rec, err = RunCycle(context.Background(), o, a, mem, Policy{MaxRepairs: 5, RetryCycles: 3})
	if err != nil {
		t.Fatal(err)
	}
	if rec.Level == LevelCritical {
		t.Errorf("second cycle level = %s with nothing new found", rec.Level)
	}
}

func TestObserveNeedsAdminKey(t *testing.T) {
	api := &fakeAPI{quarantined: map[string]string{}, dbOK: true}
	srv := httptest.NewServer(api.handler(t))
	defer srv.Close()

	if _, err := NewObserver(srv.URL, "wrong").Observe(context.Background()); err == nil {
		t.Error("observe with wrong key succeeded")
	}
}

func TestMemoryRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "warden.json")
	mem := LoadMemory(path)
	mem.Record(CycleRecord{Cycle: 1, Level: LevelWarning, Failed: []string{"b"}})
	mem.Record(CycleRecord{Cycle: 2, Level: LevelHealthy, Repaired: []string{"b"}})
	mem.Save(path)

	got := LoadMemory(path)
	if got.Cycle != 2 || len(got.Records) != 2 || len(got.FailedAt) != 0 {
		t.Errorf("loaded memory = %+v", got)
	}
}
