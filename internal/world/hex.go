// Package world provides the hex grid, the geographic containment tree and
// the world generator. Cells use axial coordinates (q, r) laid over an
// equirectangular projection of latitude/longitude.
package world

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/talgya/territory/internal/territory"
)

// HexCoord represents a position on the hex grid using axial coordinates.
// The third cube coordinate s is derived: s = -q - r.
type HexCoord struct {
	Q int `json:"q"`
	R int `json:"r"`
}

// S returns the implicit third cube coordinate.
func (h HexCoord) S() int {
	return -h.Q - h.R
}

// HexNeighborDirections defines the six neighbor offsets in axial coordinates.
var HexNeighborDirections = [6]HexCoord{
	{Q: 1, R: 0},
	{Q: 1, R: -1},
	{Q: 0, R: -1},
	{Q: -1, R: 0},
	{Q: -1, R: 1},
	{Q: 0, R: 1},
}

// Neighbors returns the six adjacent hex coordinates.
func (h HexCoord) Neighbors() [6]HexCoord {
	var result [6]HexCoord
	for i, dir := range HexNeighborDirections {
		result[i] = HexCoord{Q: h.Q + dir.Q, R: h.R + dir.R}
	}
	return result
}

// Distance returns the hex distance between two coordinates.
func Distance(a, b HexCoord) int {
	dq := abs(a.Q - b.Q)
	dr := abs(a.R - b.R)
	ds := abs(a.S() - b.S())
	// Max of the three absolute differences in cube coordinates.
	return max(dq, dr, ds)
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}

// HexGrid maps coordinates to grid cells. It is stateless and safe for
// concurrent use.
type HexGrid struct {
	BaseSizeDeg float64 // Hex circumradius in degrees at resolution 0
}

// NewHexGrid returns a grid where resolution 9 cells are roughly 2 km across.
func NewHexGrid() HexGrid {
	return HexGrid{BaseSizeDeg: 10}
}

// MaxResolution bounds the accepted grid resolution.
const MaxResolution = 15

func (g HexGrid) size(res int) float64 {
	return g.BaseSizeDeg / math.Pow(2, float64(res))
}

// ValidCoordinate rejects NaN and out-of-range latitude/longitude.
func ValidCoordinate(lat, lng float64) error {
	if math.IsNaN(lat) || lat < -90 || lat > 90 {
		return &territory.ValidationError{Field: "lat", Reason: fmt.Sprintf("%v outside [-90, 90]", lat)}
	}
	if math.IsNaN(lng) || lng < -180 || lng > 180 {
		return &territory.ValidationError{Field: "lng", Reason: fmt.Sprintf("%v outside [-180, 180]", lng)}
	}
	return nil
}

// PointToCell returns the id of the cell containing the coordinate.
func (g HexGrid) PointToCell(lat, lng float64, res int) (string, error) {
	if err := ValidCoordinate(lat, lng); err != nil {
		return "", err
	}
	if res < 0 || res > MaxResolution {
		return "", &territory.ValidationError{Field: "resolution", Reason: fmt.Sprintf("%d outside [0, %d]", res, MaxResolution)}
	}
	size := g.size(res)
	fq := (math.Sqrt(3)/3*lng - lat/3) / size
	fr := (2.0 / 3 * lat) / size
	return CellID(res, hexRound(fq, fr)), nil
}

// CellCenter returns the centre coordinate of a cell.
func (g HexGrid) CellCenter(id string) (territory.LatLng, error) {
	res, h, err := ParseCellID(id)
	if err != nil {
		return territory.LatLng{}, err
	}
	return g.center(res, h), nil
}

func (g HexGrid) center(res int, h HexCoord) territory.LatLng {
	size := g.size(res)
	return territory.LatLng{
		Lng: size * (math.Sqrt(3)*float64(h.Q) + math.Sqrt(3)/2*float64(h.R)),
		Lat: size * (1.5 * float64(h.R)),
	}
}

// CellBoundary returns the six vertices of a cell, counter-clockwise.
func (g HexGrid) CellBoundary(id string) ([]territory.LatLng, error) {
	res, h, err := ParseCellID(id)
	if err != nil {
		return nil, err
	}
	c := g.center(res, h)
	size := g.size(res)
	out := make([]territory.LatLng, 6)
	for i := range out {
		angle := math.Pi / 180 * float64(60*i-30)
		out[i] = territory.LatLng{
			Lat: c.Lat + size*math.Sin(angle),
			Lng: c.Lng + size*math.Cos(angle),
		}
	}
	return out, nil
}

// CellNeighbors returns the ids of the six adjacent cells.
func (g HexGrid) CellNeighbors(id string) ([]string, error) {
	res, h, err := ParseCellID(id)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, 6)
	for _, n := range h.Neighbors() {
		out = append(out, CellID(res, n))
	}
	return out, nil
}

// CellID formats a cell as "h<res>:<q>:<r>".
func CellID(res int, h HexCoord) string {
	return fmt.Sprintf("h%d:%d:%d", res, h.Q, h.R)
}

// ParseCellID reverses CellID.
func ParseCellID(id string) (int, HexCoord, error) {
	parts := strings.Split(id, ":")
	if len(parts) != 3 || !strings.HasPrefix(parts[0], "h") {
		return 0, HexCoord{}, &territory.ValidationError{Field: "cell", Reason: fmt.Sprintf("malformed cell id %q", id)}
	}
	res, err1 := strconv.Atoi(parts[0][1:])
	q, err2 := strconv.Atoi(parts[1])
	r, err3 := strconv.Atoi(parts[2])
	if err1 != nil || err2 != nil || err3 != nil || res < 0 || res > MaxResolution {
		return 0, HexCoord{}, &territory.ValidationError{Field: "cell", Reason: fmt.Sprintf("malformed cell id %q", id)}
	}
	return res, HexCoord{Q: q, R: r}, nil
}

// hexRound snaps fractional axial coordinates to the nearest hex.
func hexRound(fq, fr float64) HexCoord {
	fs := -fq - fr
	q, r, s := math.Round(fq), math.Round(fr), math.Round(fs)
	dq, dr, ds := math.Abs(q-fq), math.Abs(r-fr), math.Abs(s-fs)
	if dq > dr && dq > ds {
		q = -r - s
	} else if dr > ds {
		r = -q - s
	}
	return HexCoord{Q: int(q), R: int(r)}
}
