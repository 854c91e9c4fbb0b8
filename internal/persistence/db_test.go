package persistence

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"testing"
	"time"

	"github.com/lib/pq"

	"github.com/talgya/territory/internal/allocation"
	"github.com/talgya/territory/internal/engine"
	"github.com/talgya/territory/internal/territory"
	"github.com/talgya/territory/internal/world"
)

func square(lat0, lng0, side float64) []territory.LatLng {
	return []territory.LatLng{
		{Lat: lat0, Lng: lng0},
		{Lat: lat0, Lng: lng0 + side},
		{Lat: lat0 + side, Lng: lng0 + side},
		{Lat: lat0 + side, Lng: lng0},
	}
}

func testEntities() []*territory.Entity {
	return []*territory.Entity{
		{ID: "c1", Name: "Country", Kind: territory.KindCountry, Special: territory.SpecialStandard, Boundary: square(0, 0, 2)},
		{ID: "c1/d1", Name: "District", Kind: territory.KindDistrict, ParentID: "c1", Special: territory.SpecialFortress,
			DefenseBonus: 0.25, ProductionRate: 2, IsCapital: true, Boundary: square(0, 0, 1)},
	}
}

func openTest(t *testing.T) *DB {
	t.Helper()
	db, err := Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func newEngine(t *testing.T, db *DB, entities []*territory.Entity, budget engine.Allocator) *engine.Engine {
	t.Helper()
	tree, err := world.NewTree(entities)
	if err != nil {
		t.Fatalf("NewTree: %v", err)
	}
	clock := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	e, err := engine.New(tree, engine.Options{
		Store:     db,
		Allocator: budget,
		Now: func() time.Time {
			clock = clock.Add(time.Second)
			return clock
		},
	})
	if err != nil {
		t.Fatalf("engine.New: %v", err)
	}
	return e
}

func TestEntitiesRoundTrip(t *testing.T) {
	db := openTest(t)
	ctx := context.Background()
	want := testEntities()
	if err := db.SaveEntities(ctx, want); err != nil {
		t.Fatalf("SaveEntities: %v", err)
	}
	// Saving again keeps the existing rows.
	if err := db.SaveEntities(ctx, want); err != nil {
		t.Fatalf("second SaveEntities: %v", err)
	}
	got, err := db.LoadEntities(ctx)
	if err != nil {
		t.Fatalf("LoadEntities: %v", err)
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("entities differ:\n got %+v\nwant %+v", got, want)
	}
}

func TestEngineStateSurvivesRestart(t *testing.T) {
	db := openTest(t)
	ctx := context.Background()
	if err := db.SaveEntities(ctx, testEntities()); err != nil {
		t.Fatal(err)
	}

	alice := territory.Actor{Kind: territory.ActorTeam, ID: "red"}
	bob := territory.Actor{Kind: territory.ActorTeam, ID: "blue"}
	budget := allocation.NewMemoryLedger()
	e := newEngine(t, db, testEntities(), budget)

	var cells []string
	for i := 0; i < 5; i++ {
		out, err := e.SubmitActivityContribution(ctx, engine.Contribution{
			Actor: alice, Lat: 0.1 + 0.15*float64(i), Lng: 0.5, DistanceKm: 1,
		})
		if err != nil {
			t.Fatalf("contribution %d: %v", i, err)
		}
		cells = append(cells, out[0].EntityID)
	}
	for i := 0; i < 2; i++ {
		if _, err := e.SubmitActivityContribution(ctx, engine.Contribution{
			Actor: bob, ActivityID: fmt.Sprintf("ride-%d", i), Lat: 0.1 + 0.15*float64(i), Lng: 0.5, DistanceKm: 3,
		}); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := e.SubmitTacticalMove(ctx, engine.MoveRequest{
		Actor: bob, ActivityID: "ride-0", Type: territory.MoveAttack, ToEntityID: cells[2], Units: 3, DistanceKm: 3,
	}); err != nil {
		t.Fatalf("attack: %v", err)
	}
	if _, err := e.RunDailyTick(ctx, time.Time{}); err != nil {
		t.Fatal(err)
	}
	before := e.Snapshot()
	if len(before.Battles) == 0 || len(before.Moves) != 1 {
		t.Fatalf("setup produced %d battles and %d moves", len(before.Battles), len(before.Moves))
	}

	entities, err := db.LoadEntities(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(entities) != 2+len(cells) {
		t.Fatalf("stored %d entities, want %d", len(entities), 2+len(cells))
	}
	st, err := db.LoadState(ctx)
	if err != nil {
		t.Fatalf("LoadState: %v", err)
	}
	restored := newEngine(t, db, entities, allocation.NewMemoryLedger())
	restored.Restore(st)
	after := restored.Snapshot()

	if !reflect.DeepEqual(before.Records, after.Records) {
		t.Errorf("records differ after restart")
	}
	if !reflect.DeepEqual(before.Contributions, after.Contributions) {
		t.Errorf("contributions differ after restart")
	}
	if !reflect.DeepEqual(before.Battles, after.Battles) {
		t.Errorf("battles differ after restart:\n got %+v\nwant %+v", after.Battles, before.Battles)
	}
	if !reflect.DeepEqual(before.Moves, after.Moves) {
		t.Errorf("moves differ after restart")
	}
	if !reflect.DeepEqual(before.Bonuses, after.Bonuses) {
		t.Errorf("bonuses differ after restart")
	}
	if q := restored.Quarantined(); len(q) != 0 {
		t.Errorf("restored state quarantined %v", q)
	}
	if day, _ := db.GetMeta(MetaLastTickDay); day != "2025-06-01" || restored.LastTickDay() != day {
		t.Errorf("tick day stored %q, restored %q; want 2025-06-01", day, restored.LastTickDay())
	}
}

func TestMeta(t *testing.T) {
	db := openTest(t)
	if v, err := db.GetMeta("last_tick_day"); err != nil || v != "" {
		t.Fatalf("missing key = %q, %v", v, err)
	}
	if err := db.SaveMeta("last_tick_day", "2025-06-01"); err != nil {
		t.Fatal(err)
	}
	if err := db.SaveMeta("last_tick_day", "2025-06-02"); err != nil {
		t.Fatal(err)
	}
	if v, _ := db.GetMeta("last_tick_day"); v != "2025-06-02" {
		t.Errorf("got %q, want 2025-06-02", v)
	}
}

func TestClassify(t *testing.T) {
	cases := []struct {
		err      error
		conflict bool
	}{
		{&pq.Error{Code: "40001"}, true},
		{fmt.Errorf("wrapped: %w", &pq.Error{Code: "40P01"}), true},
		{&pq.Error{Code: "23505"}, false},
		{errors.New("database is locked (5) (SQLITE_BUSY)"), true},
		{errors.New("no such table"), false},
	}
	for _, c := range cases {
		if got := errors.Is(classify(c.err), territory.ErrConflict); got != c.conflict {
			t.Errorf("classify(%v) conflict = %v, want %v", c.err, got, c.conflict)
		}
	}
	if classify(nil) != nil {
		t.Error("classify(nil) != nil")
	}
}

func TestDirectory(t *testing.T) {
	db := openTest(t)
	ctx := context.Background()
	red := territory.Actor{Kind: territory.ActorTeam, ID: "red"}

	dir, err := db.Directory(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if got := dir.DisplayName(red); got != "" {
		t.Errorf("unnamed actor = %q", got)
	}
	if err := dir.SetDisplayName(ctx, red, "  Red Runners "); err != nil {
		t.Fatal(err)
	}
	if err := dir.SetDisplayName(ctx, territory.Actor{Kind: "alien", ID: "x"}, "nope"); !errors.Is(err, territory.ErrValidation) {
		t.Errorf("bad actor: got %v", err)
	}

	reloaded, err := db.Directory(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if got := reloaded.DisplayName(red); got != "Red Runners" {
		t.Errorf("reloaded name = %q", got)
	}

	if err := reloaded.SetDisplayName(ctx, red, ""); err != nil {
		t.Fatal(err)
	}
	if got := reloaded.DisplayName(red); got != "" {
		t.Errorf("cleared name = %q", got)
	}
}
