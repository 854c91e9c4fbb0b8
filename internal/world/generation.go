// World generation: a deterministic containment tree laid over a
// latitude/longitude rectangle, with simplex noise shaping production
// rates and special territories.
package world

import (
	"fmt"
	"math/rand"

	opensimplex "github.com/ojrac/opensimplex-go"

	"github.com/talgya/territory/internal/territory"
)

// GenConfig holds world generation parameters.
type GenConfig struct {
	Seed        int64            // Random seed (0 = random)
	Origin      territory.LatLng // South-west corner of the world
	SpanLat     float64          // Degrees of latitude covered
	SpanLng     float64          // Degrees of longitude covered
	Continents  int
	Countries   int // Per continent
	Regions     int // Per country
	Cities      int // Per region
	Districts   int // Per city
	FortressLvl float64 // Noise level above which a region becomes a fortress
}

// DefaultGenConfig returns a small but complete world.
func DefaultGenConfig() GenConfig {
	return GenConfig{
		Origin:      territory.LatLng{Lat: 36, Lng: -10},
		SpanLat:     24,
		SpanLng:     40,
		Continents:  2,
		Countries:   3,
		Regions:     3,
		Cities:      2,
		Districts:   4,
		FortressLvl: 0.82,
	}
}

// SmallTestConfig returns a tiny world for rapid iteration.
func SmallTestConfig() GenConfig {
	cfg := DefaultGenConfig()
	cfg.Seed = 42
	cfg.Continents = 1
	cfg.Countries = 2
	cfg.Regions = 2
	cfg.Cities = 1
	cfg.Districts = 2
	return cfg
}

type rect struct {
	minLat, minLng, maxLat, maxLng float64
}

func (r rect) ring() []territory.LatLng {
	return []territory.LatLng{
		{Lat: r.minLat, Lng: r.minLng},
		{Lat: r.minLat, Lng: r.maxLng},
		{Lat: r.maxLat, Lng: r.maxLng},
		{Lat: r.maxLat, Lng: r.minLng},
	}
}

// split divides the rectangle into n strips, alternating direction by depth.
func (r rect) split(n, depth int) []rect {
	out := make([]rect, n)
	for i := range out {
		f0, f1 := float64(i)/float64(n), float64(i+1)/float64(n)
		if depth%2 == 0 {
			w := r.maxLng - r.minLng
			out[i] = rect{r.minLat, r.minLng + w*f0, r.maxLat, r.minLng + w*f1}
		} else {
			h := r.maxLat - r.minLat
			out[i] = rect{r.minLat + h*f0, r.minLng, r.minLat + h*f1, r.maxLng}
		}
	}
	return out
}

// Generate creates the non-cell part of the world. Cells are created
// lazily when the first contribution lands in them.
func Generate(cfg GenConfig) []*territory.Entity {
	seed := cfg.Seed
	if seed == 0 {
		seed = rand.Int63()
	}
	prodNoise := opensimplex.NewNormalized(seed)
	specialNoise := opensimplex.NewNormalized(seed + 1)
	rng := rand.New(rand.NewSource(seed + 400))

	g := &generator{cfg: cfg, prod: prodNoise, special: specialNoise, rng: rng}
	world := rect{cfg.Origin.Lat, cfg.Origin.Lng, cfg.Origin.Lat + cfg.SpanLat, cfg.Origin.Lng + cfg.SpanLng}

	levels := []struct {
		kind  territory.Kind
		count int
	}{
		{territory.KindContinent, cfg.Continents},
		{territory.KindCountry, cfg.Countries},
		{territory.KindRegion, cfg.Regions},
		{territory.KindCity, cfg.Cities},
		{territory.KindDistrict, cfg.Districts},
	}

	type pending struct {
		parent string
		area   rect
	}
	frontier := []pending{{area: world}}
	for depth, lvl := range levels {
		var next []pending
		for _, p := range frontier {
			for i, sub := range p.area.split(max(lvl.count, 1), depth) {
				e := g.entity(lvl.kind, p.parent, i, sub)
				next = append(next, pending{parent: e.ID, area: sub})
			}
		}
		frontier = next
	}
	g.markCapitals()
	return g.out
}

type generator struct {
	cfg     GenConfig
	prod    opensimplex.Noise
	special opensimplex.Noise
	rng     *rand.Rand
	out     []*territory.Entity
}

func (g *generator) entity(kind territory.Kind, parent string, idx int, r rect) *territory.Entity {
	id := fmt.Sprintf("%s-%d", kind, idx+1)
	if parent != "" {
		id = parent + "/" + id
	}
	cLat, cLng := (r.minLat+r.maxLat)/2, (r.minLng+r.maxLng)/2

	// Production grows with the size of the territory: continents produce
	// more per uncontested day than a single district.
	n := g.prod.Eval2(cLng*0.15, cLat*0.15)
	e := &territory.Entity{
		ID:             id,
		Name:           g.name(kind),
		Kind:           kind,
		ParentID:       parent,
		Special:        territory.SpecialStandard,
		ProductionRate: int64(kind) + int64(n*3),
		Boundary:       r.ring(),
	}

	s := g.special.Eval2(cLng*0.3, cLat*0.3)
	switch {
	case kind == territory.KindRegion && s > g.cfg.FortressLvl:
		e.Special = territory.SpecialFortress
		e.DefenseBonus = 0.25
	case kind == territory.KindCity && s > g.cfg.FortressLvl-0.1:
		e.Special = territory.SpecialStrategicPoint
		e.DefenseBonus = 0.10
	case kind == territory.KindDistrict && s < 0.1:
		e.Special = territory.SpecialNeutral
		e.ProductionRate = 0
	}
	g.out = append(g.out, e)
	return e
}

// markCapitals flags the most productive city of each country.
func (g *generator) markCapitals() {
	byID := make(map[string]*territory.Entity, len(g.out))
	for _, e := range g.out {
		byID[e.ID] = e
	}
	best := make(map[string]*territory.Entity) // country id → capital
	for _, e := range g.out {
		if e.Kind != territory.KindCity {
			continue
		}
		region := byID[e.ParentID]
		if region == nil {
			continue
		}
		country := region.ParentID
		if cur, ok := best[country]; !ok || e.ProductionRate > cur.ProductionRate {
			best[country] = e
		}
	}
	for _, e := range best {
		e.IsCapital = true
		e.ProductionRate++
	}
}

var (
	nameHeads = []string{"Al", "Bel", "Cor", "Dun", "Esk", "Fal", "Gar", "Hal", "Ist", "Kor", "Lun", "Mar", "Nor", "Ost", "Par", "Riv", "Sal", "Tor", "Val", "Wen"}
	nameTails = []string{"ora", "heim", "mont", "vale", "ford", "gard", "ania", "stead", "wick", "burg", "moor", "port", "ridge", "field"}
)

func (g *generator) name(kind territory.Kind) string {
	n := nameHeads[g.rng.Intn(len(nameHeads))] + nameTails[g.rng.Intn(len(nameTails))]
	if kind == territory.KindDistrict {
		return n + " Quarter"
	}
	return n
}
