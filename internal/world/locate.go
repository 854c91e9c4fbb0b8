package world

import (
	"sort"

	"github.com/talgya/territory/internal/territory"
)

// Locator finds the enclosing entity for a newly created cell.
type Locator struct {
	areas []area
}

type area struct {
	id   string
	kind territory.Kind
	ring []territory.LatLng
	bbox [4]float64 // minLng, minLat, maxLng, maxLat
}

// NewLocator indexes every non-cell entity that has a boundary.
func NewLocator(t *Tree) *Locator {
	l := &Locator{}
	for _, e := range t.All() {
		if e.Kind == territory.KindCell || len(e.Boundary) < 3 {
			continue
		}
		l.areas = append(l.areas, area{id: e.ID, kind: e.Kind, ring: e.Boundary, bbox: bbox(e.Boundary)})
	}
	// Finest kinds first so the first hit is the deepest enclosing entity.
	sort.SliceStable(l.areas, func(i, j int) bool { return l.areas[i].kind < l.areas[j].kind })
	return l
}

// Locate returns the id of the smallest entity containing the point.
func (l *Locator) Locate(lat, lng float64) (string, bool) {
	pt := territory.LatLng{Lat: lat, Lng: lng}
	for _, a := range l.areas {
		if !inBBox(pt, a.bbox) {
			continue
		}
		if pointInRing(pt, a.ring) {
			return a.id, true
		}
	}
	return "", false
}

func bbox(ring []territory.LatLng) [4]float64 {
	b := [4]float64{ring[0].Lng, ring[0].Lat, ring[0].Lng, ring[0].Lat}
	for _, p := range ring[1:] {
		b[0] = min(b[0], p.Lng)
		b[1] = min(b[1], p.Lat)
		b[2] = max(b[2], p.Lng)
		b[3] = max(b[3], p.Lat)
	}
	return b
}

func inBBox(pt territory.LatLng, b [4]float64) bool {
	return pt.Lng >= b[0] && pt.Lng <= b[2] && pt.Lat >= b[1] && pt.Lat <= b[3]
}

// pointInRing is the even-odd ray casting test. Points on the lower/left
// edge count as inside, upper/right as outside, so adjacent rectangles
// never both claim a shared border point.
func pointInRing(pt territory.LatLng, ring []territory.LatLng) bool {
	n := len(ring)
	if n < 3 {
		return false
	}
	inside := false
	x, y := pt.Lng, pt.Lat
	for i, j := 0, n-1; i < n; j, i = i, i+1 {
		xi, yi := ring[i].Lng, ring[i].Lat
		xj, yj := ring[j].Lng, ring[j].Lat
		if (yi > y) != (yj > y) && x < (xj-xi)*(y-yi)/(yj-yi)+xi {
			inside = !inside
		}
	}
	return inside
}
