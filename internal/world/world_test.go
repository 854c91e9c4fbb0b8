package world

import (
	"errors"
	"math"
	"testing"

	"github.com/talgya/territory/internal/territory"
)

func TestPointToCellRoundTrip(t *testing.T) {
	g := NewHexGrid()
	points := []territory.LatLng{{Lat: 40.4168, Lng: -3.7038}, {Lat: -33.86, Lng: 151.2}, {Lat: 0, Lng: 0}}
	for _, p := range points {
		id, err := g.PointToCell(p.Lat, p.Lng, 9)
		if err != nil {
			t.Fatalf("PointToCell(%v): %v", p, err)
		}
		c, err := g.CellCenter(id)
		if err != nil {
			t.Fatalf("CellCenter(%s): %v", id, err)
		}
		back, _ := g.PointToCell(c.Lat, c.Lng, 9)
		if back != id {
			t.Errorf("center of %s maps to %s", id, back)
		}
		size := g.size(9)
		if math.Abs(c.Lat-p.Lat) > size || math.Abs(c.Lng-p.Lng) > size {
			t.Errorf("center %v too far from %v", c, p)
		}
	}
}

func TestPointToCellRejectsBadInput(t *testing.T) {
	g := NewHexGrid()
	bad := [][2]float64{{91, 0}, {0, 181}, {math.NaN(), 0}}
	for _, b := range bad {
		_, err := g.PointToCell(b[0], b[1], 9)
		if !errors.Is(err, territory.ErrValidation) {
			t.Errorf("PointToCell(%v) err = %v, want validation error", b, err)
		}
	}
	if _, err := g.PointToCell(0, 0, MaxResolution+1); err == nil {
		t.Error("expected resolution out of range to fail")
	}
}

func TestCellNeighborsAndBoundary(t *testing.T) {
	g := NewHexGrid()
	id := CellID(9, HexCoord{Q: 3, R: -2})
	ns, err := g.CellNeighbors(id)
	if err != nil {
		t.Fatalf("CellNeighbors: %v", err)
	}
	if len(ns) != 6 {
		t.Fatalf("got %d neighbors, want 6", len(ns))
	}
	for _, n := range ns {
		_, h, err := ParseCellID(n)
		if err != nil {
			t.Fatalf("ParseCellID(%s): %v", n, err)
		}
		if d := Distance(HexCoord{Q: 3, R: -2}, h); d != 1 {
			t.Errorf("neighbor %s at distance %d", n, d)
		}
	}
	b, err := g.CellBoundary(id)
	if err != nil || len(b) != 6 {
		t.Fatalf("CellBoundary = %d vertices, %v", len(b), err)
	}
	if _, _, err := ParseCellID("nonsense"); err == nil {
		t.Error("expected malformed id to fail")
	}
}

func testEntities() []*territory.Entity {
	return []*territory.Entity{
		{ID: "eu", Kind: territory.KindContinent},
		{ID: "es", Kind: territory.KindCountry, ParentID: "eu"},
		{ID: "mad", Kind: territory.KindCity, ParentID: "es", Boundary: []territory.LatLng{
			{Lat: 40, Lng: -4}, {Lat: 40, Lng: -3}, {Lat: 41, Lng: -3}, {Lat: 41, Lng: -4},
		}},
		{ID: "sol", Kind: territory.KindDistrict, ParentID: "mad", Boundary: []territory.LatLng{
			{Lat: 40.4, Lng: -3.8}, {Lat: 40.4, Lng: -3.6}, {Lat: 40.5, Lng: -3.6}, {Lat: 40.5, Lng: -3.8},
		}},
	}
}

func TestTreeNavigation(t *testing.T) {
	tr, err := NewTree(testEntities())
	if err != nil {
		t.Fatalf("NewTree: %v", err)
	}
	if err := tr.Add(&territory.Entity{ID: "h9:1:1", Kind: territory.KindCell, ParentID: "sol"}); err != nil {
		t.Fatalf("Add: %v", err)
	}
	got := tr.Ancestors("h9:1:1")
	want := []string{"sol", "mad", "es", "eu"}
	if len(got) != len(want) {
		t.Fatalf("ancestors = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("ancestors[%d] = %s, want %s", i, got[i], want[i])
		}
	}
	if cells := tr.DescendantCells("eu"); len(cells) != 1 || cells[0] != "h9:1:1" {
		t.Errorf("descendant cells = %v", cells)
	}
	if roots := tr.Roots(); len(roots) != 1 || roots[0] != "eu" {
		t.Errorf("roots = %v", roots)
	}
}

func TestTreeRejectsBadTopology(t *testing.T) {
	_, err := NewTree([]*territory.Entity{
		{ID: "a", Kind: territory.KindCity, ParentID: "b"},
		{ID: "b", Kind: territory.KindDistrict},
	})
	if err == nil {
		t.Fatal("expected a city under a district to fail")
	}
	_, err = NewTree([]*territory.Entity{{ID: "a", Kind: territory.KindCity, ParentID: "missing"}})
	if err == nil {
		t.Fatal("expected unknown parent to fail")
	}
}

func TestLocatorPrefersDeepestEntity(t *testing.T) {
	tr, _ := NewTree(testEntities())
	l := NewLocator(tr)
	if id, ok := l.Locate(40.45, -3.7); !ok || id != "sol" {
		t.Errorf("Locate(inside district) = %q, %v", id, ok)
	}
	if id, ok := l.Locate(40.9, -3.1); !ok || id != "mad" {
		t.Errorf("Locate(inside city only) = %q, %v", id, ok)
	}
	if _, ok := l.Locate(10, 10); ok {
		t.Error("expected point outside every boundary to miss")
	}
}

func TestGenerateIsDeterministic(t *testing.T) {
	cfg := SmallTestConfig()
	a := Generate(cfg)
	b := Generate(cfg)
	if len(a) != len(b) {
		t.Fatalf("entity counts differ: %d vs %d", len(a), len(b))
	}
	for i := range a {
		if a[i].ID != b[i].ID || a[i].Name != b[i].Name || a[i].ProductionRate != b[i].ProductionRate {
			t.Fatalf("entity %d differs: %+v vs %+v", i, a[i], b[i])
		}
	}
	// 1 continent, 2 countries, 4 regions, 4 cities, 8 districts.
	if len(a) != 19 {
		t.Errorf("got %d entities, want 19", len(a))
	}
	tr, err := NewTree(a)
	if err != nil {
		t.Fatalf("generated world is not a valid tree: %v", err)
	}
	capitals := 0
	for _, e := range tr.OfKind(territory.KindCity) {
		if e.IsCapital {
			capitals++
		}
	}
	if capitals != 2 {
		t.Errorf("got %d capitals, want one per country (2)", capitals)
	}
	l := NewLocator(tr)
	c := cfg.Origin
	if id, ok := l.Locate(c.Lat+0.01, c.Lng+0.01); !ok || tr.Get(id).Kind != territory.KindDistrict {
		t.Errorf("corner point located in %q, want a district", id)
	}
}
