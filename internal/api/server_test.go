package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/talgya/territory/internal/allocation"
	"github.com/talgya/territory/internal/engine"
	"github.com/talgya/territory/internal/territory"
	"github.com/talgya/territory/internal/world"
)

var red = territory.Actor{Kind: territory.ActorTeam, ID: "red"}

func square(lat0, lng0, side float64) []territory.LatLng {
	return []territory.LatLng{
		{Lat: lat0, Lng: lng0},
		{Lat: lat0, Lng: lng0 + side},
		{Lat: lat0 + side, Lng: lng0 + side},
		{Lat: lat0 + side, Lng: lng0},
	}
}

type memCache struct {
	mu sync.Mutex
	m  map[string][]byte
}

func (c *memCache) Get(_ context.Context, key string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	b, ok := c.m[key]
	return b, ok
}

func (c *memCache) Set(_ context.Context, key string, body []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.m[key] = body
}

func newTestServer(t *testing.T) (*Server, *allocation.MemoryLedger) {
	t.Helper()
	tree, err := world.NewTree([]*territory.Entity{
		{ID: "c1", Name: "Country", Kind: territory.KindCountry, Boundary: square(0, 0, 2)},
		{ID: "c1/d1", Name: "District", Kind: territory.KindDistrict, ParentID: "c1", ProductionRate: 2, Boundary: square(0, 0, 1)},
	})
	if err != nil {
		t.Fatal(err)
	}
	budget := allocation.NewMemoryLedger()
	clock := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	eng, err := engine.New(tree, engine.Options{
		Allocator: budget,
		Now: func() time.Time {
			clock = clock.Add(time.Second)
			return clock
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	return &Server{Eng: eng, AdminKey: "admin", RelayKey: "relay", SnapshotDir: t.TempDir(), MoveRate: 100}, budget
}

func do(t *testing.T, h http.Handler, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func contribution(activity string, km float64) map[string]any {
	return map[string]any{
		"actor":       red,
		"activity_id": activity,
		"lat":         0.5,
		"lng":         0.5,
		"distance_km": km,
	}
}

func TestContributionThenTerritory(t *testing.T) {
	s, _ := newTestServer(t)
	h := s.Handler()

	rec := do(t, h, http.MethodPost, "/api/v1/contributions", "", contribution("run-1", 4))
	if rec.Code != http.StatusOK {
		t.Fatalf("contribution: %d %s", rec.Code, rec.Body)
	}
	var out struct {
		Affected []engine.AffectedEntity `json:"affected"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatal(err)
	}
	if len(out.Affected) != 3 || out.Affected[0].Kind != territory.KindCell || !out.Affected[0].Created {
		t.Fatalf("affected = %+v", out.Affected)
	}

	rec = do(t, h, http.MethodGet, "/api/v1/territory/c1/d1", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("territory: %d %s", rec.Code, rec.Body)
	}
	if !strings.Contains(rec.Body.String(), `"id": "red"`) {
		t.Errorf("territory body lacks controller: %s", rec.Body)
	}

	rec = do(t, h, http.MethodGet, "/api/v1/map?zoom=world", "", nil)
	if rec.Code != http.StatusOK {
		t.Errorf("map: %d", rec.Code)
	}
	rec = do(t, h, http.MethodGet, "/api/v1/rankings", "", nil)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"rank": 1`) {
		t.Errorf("rankings: %d %s", rec.Code, rec.Body)
	}
}

func TestErrorStatuses(t *testing.T) {
	s, _ := newTestServer(t)
	h := s.Handler()

	bad := contribution("run-1", -1)
	rec := do(t, h, http.MethodPost, "/api/v1/contributions", "", bad)
	if rec.Code != http.StatusBadRequest || !strings.Contains(rec.Body.String(), `"field"`) {
		t.Errorf("negative distance: %d %s", rec.Code, rec.Body)
	}

	rec = do(t, h, http.MethodGet, "/api/v1/territory/nowhere", "", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown territory: %d", rec.Code)
	}

	rec = do(t, h, http.MethodGet, "/api/v1/map?zoom=galaxy", "", nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("unknown zoom: %d", rec.Code)
	}

	rec = do(t, h, http.MethodGet, "/api/v1/moves?actor=bogus", "", nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("malformed actor: %d", rec.Code)
	}

	move := engine.MoveRequest{Actor: red, ActivityID: "unfunded", Type: territory.MoveDefend, ToEntityID: "c1", Units: 1, DistanceKm: 5}
	rec = do(t, h, http.MethodPost, "/api/v1/moves", "", move)
	if rec.Code != http.StatusPaymentRequired {
		t.Errorf("unfunded move: %d %s", rec.Code, rec.Body)
	}

	rec = do(t, h, http.MethodPost, "/api/v1/moves", "", map[string]any{"nonsense": true})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("unknown field: %d", rec.Code)
	}
}

func TestMoveSpendsFundedActivity(t *testing.T) {
	s, budget := newTestServer(t)
	h := s.Handler()

	if rec := do(t, h, http.MethodPost, "/api/v1/contributions", "", contribution("run-1", 4)); rec.Code != http.StatusOK {
		t.Fatalf("contribution: %d", rec.Code)
	}
	move := engine.MoveRequest{Actor: red, ActivityID: "run-1", Type: territory.MoveDefend, ToEntityID: "c1", Units: 2, DistanceKm: 3}
	rec := do(t, h, http.MethodPost, "/api/v1/moves", "", move)
	if rec.Code != http.StatusOK {
		t.Fatalf("move: %d %s", rec.Code, rec.Body)
	}
	var res engine.MoveResult
	if err := json.Unmarshal(rec.Body.Bytes(), &res); err != nil {
		t.Fatal(err)
	}
	if res.MoveID == "" || !res.Success {
		t.Errorf("result = %+v", res)
	}
	left, _ := budget.Available(context.Background(), red, "run-1")
	if left != 1 {
		t.Errorf("available = %v, want 1", left)
	}

	rec = do(t, h, http.MethodGet, "/api/v1/moves?actor=team:red", "", nil)
	var moves []territory.TacticalMove
	if err := json.Unmarshal(rec.Body.Bytes(), &moves); err != nil {
		t.Fatal(err)
	}
	if len(moves) != 1 || moves[0].ID != res.MoveID {
		t.Errorf("move log = %+v", moves)
	}

	rec = do(t, h, http.MethodGet, "/api/v1/actors/team/red/impact", "", nil)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"total_moves": 1`) {
		t.Errorf("impact: %d %s", rec.Code, rec.Body)
	}
}

func TestAdminEndpoints(t *testing.T) {
	s, _ := newTestServer(t)
	h := s.Handler()

	if rec := do(t, h, http.MethodPost, "/api/v1/tick", "", nil); rec.Code != http.StatusUnauthorized {
		t.Errorf("tick without token: %d", rec.Code)
	}
	if rec := do(t, h, http.MethodPost, "/api/v1/tick", "wrong", nil); rec.Code != http.StatusUnauthorized {
		t.Errorf("tick with wrong token: %d", rec.Code)
	}

	do(t, h, http.MethodPost, "/api/v1/contributions", "", contribution("run-1", 4))
	rec := do(t, h, http.MethodPost, "/api/v1/tick", "admin", map[string]any{"now": "2025-06-02T00:00:00Z"})
	if rec.Code != http.StatusOK {
		t.Fatalf("tick: %d %s", rec.Code, rec.Body)
	}
	var rep engine.TickReport
	if err := json.Unmarshal(rec.Body.Bytes(), &rep); err != nil {
		t.Fatal(err)
	}
	if rep.Day != "2025-06-02" || rep.Produced == 0 {
		t.Errorf("tick report = %+v", rep)
	}

	rec = do(t, h, http.MethodPost, "/api/v1/snapshot", "admin", nil)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), ".json.lz4") {
		t.Errorf("snapshot: %d %s", rec.Code, rec.Body)
	}

	rec = do(t, h, http.MethodPost, "/api/v1/repair", "admin", map[string]any{"entity_id": "c1"})
	if rec.Code != http.StatusNotFound {
		t.Errorf("repair of healthy entity: %d", rec.Code)
	}

	version := s.Eng.Version()
	rec = do(t, h, http.MethodGet, "/api/v1/quarantine", "admin", nil)
	if rec.Code != http.StatusOK || strings.Contains(rec.Body.String(), "audit") {
		t.Errorf("quarantine: %d %s", rec.Code, rec.Body)
	}
	if s.Eng.Version() != version {
		t.Error("reading the quarantine changed engine state")
	}
	if rec := do(t, h, http.MethodPost, "/api/v1/audit", "", nil); rec.Code != http.StatusUnauthorized {
		t.Errorf("audit without token: %d", rec.Code)
	}
	rec = do(t, h, http.MethodPost, "/api/v1/audit", "admin", nil)
	var audit struct {
		Quarantined []string `json:"quarantined"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &audit); err != nil || rec.Code != http.StatusOK || audit.Quarantined == nil || len(audit.Quarantined) != 0 {
		t.Errorf("audit of a healthy engine: %d %s", rec.Code, rec.Body)
	}

	s.AdminKey = ""
	if rec := do(t, h, http.MethodPost, "/api/v1/tick", "admin", nil); rec.Code != http.StatusForbidden {
		t.Errorf("tick with admin disabled: %d", rec.Code)
	}
}

type nameStore map[territory.Actor]string

func (n nameStore) SetDisplayName(_ context.Context, a territory.Actor, name string) error {
	if err := a.Validate(); err != nil {
		return err
	}
	n[a] = name
	return nil
}

func TestActorNames(t *testing.T) {
	s, _ := newTestServer(t)
	h := s.Handler()

	if rec := do(t, h, http.MethodPut, "/api/v1/actors/team/red", "admin", map[string]any{"name": "Red"}); rec.Code != http.StatusServiceUnavailable {
		t.Errorf("without store: %d", rec.Code)
	}

	names := nameStore{}
	s.Names = names
	if rec := do(t, h, http.MethodPut, "/api/v1/actors/team/red", "", map[string]any{"name": "Red"}); rec.Code != http.StatusUnauthorized {
		t.Errorf("without token: %d", rec.Code)
	}
	if rec := do(t, h, http.MethodPut, "/api/v1/actors/team/red", "admin", map[string]any{"name": "Red"}); rec.Code != http.StatusOK {
		t.Fatalf("set name: %d %s", rec.Code, rec.Body)
	}
	if names[red] != "Red" {
		t.Errorf("stored names = %v", names)
	}
	if rec := do(t, h, http.MethodPut, "/api/v1/actors/alien/x", "admin", map[string]any{"name": "X"}); rec.Code != http.StatusBadRequest {
		t.Errorf("bad kind: %d", rec.Code)
	}
}

func TestRateLimit(t *testing.T) {
	s, _ := newTestServer(t)
	s.MoveRate = 1
	h := s.Handler()

	if rec := do(t, h, http.MethodPost, "/api/v1/contributions", "", contribution("run-1", 1)); rec.Code != http.StatusOK {
		t.Fatalf("first: %d", rec.Code)
	}
	rec := do(t, h, http.MethodPost, "/api/v1/contributions", "", contribution("run-2", 1))
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("second: %d", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Error("missing Retry-After")
	}
	// Reads are not limited.
	if rec := do(t, h, http.MethodGet, "/api/v1/battles", "", nil); rec.Code != http.StatusOK {
		t.Errorf("read after limit: %d", rec.Code)
	}
}

func TestReadCacheKeyedByVersion(t *testing.T) {
	s, _ := newTestServer(t)
	s.Cache = &memCache{m: map[string][]byte{}}
	h := s.Handler()

	if rec := do(t, h, http.MethodGet, "/api/v1/rankings", "", nil); rec.Header().Get("X-Cache") != "miss" {
		t.Errorf("first read: X-Cache=%q", rec.Header().Get("X-Cache"))
	}
	if rec := do(t, h, http.MethodGet, "/api/v1/rankings", "", nil); rec.Header().Get("X-Cache") != "hit" {
		t.Errorf("second read: X-Cache=%q", rec.Header().Get("X-Cache"))
	}

	do(t, h, http.MethodPost, "/api/v1/contributions", "", contribution("run-1", 2))
	rec := do(t, h, http.MethodGet, "/api/v1/rankings", "", nil)
	if rec.Header().Get("X-Cache") != "miss" {
		t.Errorf("read after write: X-Cache=%q", rec.Header().Get("X-Cache"))
	}
	if !strings.Contains(rec.Body.String(), `"red"`) {
		t.Errorf("stale rankings served: %s", rec.Body)
	}
}

func TestStreamRequiresRelayKey(t *testing.T) {
	s, _ := newTestServer(t)
	h := s.Handler()
	if rec := do(t, h, http.MethodGet, "/api/v1/stream", "", nil); rec.Code != http.StatusUnauthorized {
		t.Errorf("no token: %d", rec.Code)
	}
	s.RelayKey = ""
	if rec := do(t, h, http.MethodGet, "/api/v1/stream", "relay", nil); rec.Code != http.StatusForbidden {
		t.Errorf("disabled: %d", rec.Code)
	}
}

func TestWebSocketCatchUp(t *testing.T) {
	s, _ := newTestServer(t)
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	do(t, s.Handler(), http.MethodPost, "/api/v1/contributions", "", contribution("run-1", 2))

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var msg wsMessage
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read: %v", err)
	}
	if msg.Type != "event" || msg.Event == nil || msg.Event.Kind != engine.EventControlChanged {
		t.Errorf("first message = %+v", msg)
	}
}

func TestPublicEventsHidesInvariants(t *testing.T) {
	evs := []engine.Event{
		{Kind: engine.EventMove},
		{Kind: engine.EventInvariant},
		{Kind: engine.EventConquest},
		{Kind: engine.EventBattleStarted},
	}
	got := publicEvents(evs, 2)
	if len(got) != 2 || got[0].Kind != engine.EventConquest || got[1].Kind != engine.EventBattleStarted {
		t.Errorf("publicEvents = %+v", got)
	}
}

func TestClientIP(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = "10.0.0.5:4242"
	if ip := clientIP(r); ip != "10.0.0.5" {
		t.Errorf("remote addr: %q", ip)
	}
	r.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")
	if ip := clientIP(r); ip != "203.0.113.9" {
		t.Errorf("forwarded: %q", ip)
	}
}

func TestInsightEndpoints(t *testing.T) {
	s, _ := newTestServer(t)
	h := s.Handler()
	blue := territory.Actor{Kind: territory.ActorTeam, ID: "blue"}

	do(t, h, http.MethodPost, "/api/v1/contributions", "", contribution("run-1", 2))
	rec := do(t, h, http.MethodPost, "/api/v1/contributions", "", map[string]any{
		"actor": blue, "activity_id": "run-2", "lat": 0.5, "lng": 0.5, "distance_km": 5,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("blue contribution: %d %s", rec.Code, rec.Body)
	}

	var battles []engine.BattleSnapshot
	if err := json.Unmarshal(do(t, h, http.MethodGet, "/api/v1/battles", "", nil).Body.Bytes(), &battles); err != nil {
		t.Fatal(err)
	}
	if len(battles) == 0 {
		t.Fatal("no battle after blue took red's only cell")
	}
	rec = do(t, h, http.MethodGet, "/api/v1/battles/"+battles[0].ID, "", nil)
	var detail engine.BattleDetail
	if err := json.Unmarshal(rec.Body.Bytes(), &detail); err != nil || rec.Code != http.StatusOK {
		t.Fatalf("battle detail: %d %s", rec.Code, rec.Body)
	}
	if detail.Battle.ID != battles[0].ID || len(detail.Contested) != 1 {
		t.Errorf("battle detail = %+v, want blue's one cell contested", detail)
	}
	if rec := do(t, h, http.MethodGet, "/api/v1/battles/no-such-battle", "", nil); rec.Code != http.StatusNotFound {
		t.Errorf("unknown battle: %d", rec.Code)
	}

	rec = do(t, h, http.MethodGet, "/api/v1/preview/attack/c1/d1?actor="+blue.Key()+"&units=5", "", nil)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"recommendation"`) {
		t.Errorf("preview: %d %s", rec.Code, rec.Body)
	}
	if rec := do(t, h, http.MethodGet, "/api/v1/preview/attack/c1/d1?actor="+blue.Key(), "", nil); rec.Code != http.StatusBadRequest {
		t.Errorf("preview without units: %d", rec.Code)
	}

	rec = do(t, h, http.MethodGet, "/api/v1/actors/team/red/suggestions", "", nil)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "defend_territory") {
		t.Errorf("suggestions for red: %d %s", rec.Code, rec.Body)
	}

	var stats engine.GlobalStats
	rec = do(t, h, http.MethodGet, "/api/v1/stats", "", nil)
	if err := json.Unmarshal(rec.Body.Bytes(), &stats); err != nil {
		t.Fatal(err)
	}
	if stats.Territories != 2 || stats.Held != 2 || stats.ActiveBattles != len(battles) {
		t.Errorf("stats = %+v", stats)
	}
}
