package engine

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/talgya/territory/internal/territory"
)

// ActorView is an actor with its display name.
type ActorView struct {
	Kind territory.ActorKind `json:"kind"`
	ID   string              `json:"id"`
	Name string              `json:"name"`
}

func (e *Engine) view(a territory.Actor) *ActorView {
	if a.IsZero() {
		return nil
	}
	name := a.ID
	if e.dir != nil {
		if n := e.dir.DisplayName(a); n != "" {
			name = n
		}
	}
	return &ActorView{Kind: a.Kind, ID: a.ID, Name: name}
}

// TerritorySnapshot is the map view of one entity.
type TerritorySnapshot struct {
	ID             string                `json:"id"`
	Name           string                `json:"name"`
	Kind           territory.Kind        `json:"kind"`
	ParentID       string                `json:"parent_id,omitempty"`
	Special        territory.SpecialType `json:"special_type"`
	DefenseBonus   float64               `json:"defense_bonus"`
	IsCapital      bool                  `json:"is_capital"`
	Controller     *ActorView            `json:"controller"`
	UnitStrength   int64                 `json:"unit_strength"`
	DaysControlled int                   `json:"days_controlled"`
	UnderAttack    bool                  `json:"is_under_attack"`
	BattleProgress float64               `json:"battle_progress"`
	Quarantined    bool                  `json:"quarantined,omitempty"`
	Boundary       []territory.LatLng    `json:"boundary,omitempty"`
}

func (e *Engine) snapshotOf(ent *territory.Entity) TerritorySnapshot {
	s := TerritorySnapshot{
		ID:           ent.ID,
		Name:         ent.Name,
		Kind:         ent.Kind,
		ParentID:     ent.ParentID,
		Special:      ent.Special,
		DefenseBonus: ent.DefenseBonus,
		IsCapital:    ent.IsCapital,
		Quarantined:  e.isQuarantined(ent.ID),
		Boundary:     ent.Boundary,
	}
	if rec := e.records[ent.ID]; rec != nil {
		s.Controller = e.view(rec.Controller)
		s.UnitStrength = rec.UnitStrength
		s.DaysControlled = rec.DaysControlled
		s.UnderAttack = rec.IsUnderAttack
	}
	if b := e.battles[ent.ID]; b != nil {
		s.BattleProgress = b.Progress
	}
	return s
}

// zoomKinds maps a map zoom level to the kind of entity it shows.
var zoomKinds = map[string]territory.Kind{
	"world":     territory.KindCountry,
	"continent": territory.KindCountry,
	"country":   territory.KindRegion,
	"region":    territory.KindCity,
	"city":      territory.KindDistrict,
	"district":  territory.KindCell,
}

// Map returns every entity shown at a zoom level.
func (e *Engine) Map(zoom string) ([]TerritorySnapshot, error) {
	if zoom == "" {
		zoom = "world"
	}
	kind, ok := zoomKinds[zoom]
	if !ok {
		return nil, &territory.ValidationError{Field: "zoom", Reason: "one of world, continent, country, region, city, district"}
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	ents := e.tree.OfKind(kind)
	out := make([]TerritorySnapshot, 0, len(ents))
	for _, ent := range ents {
		out = append(out, e.snapshotOf(ent))
	}
	return out, nil
}

// DistributionEntry is one controller's share of an entity's cells.
type DistributionEntry struct {
	Controller *ActorView `json:"controller"`
	Cells      int        `json:"cells"`
	Percentage float64    `json:"percentage"`
}

// ContributorView is one actor's cumulative distance in an entity.
type ContributorView struct {
	Actor      *ActorView `json:"actor"`
	DistanceKm float64    `json:"distance_km"`
	FirstAt    time.Time  `json:"first_at"`
	LastAt     time.Time  `json:"last_at"`
}

// TerritoryDetail is the full view of one entity.
type TerritoryDetail struct {
	Territory      TerritorySnapshot           `json:"territory"`
	Control        *territory.ControlRecord    `json:"control,omitempty"`
	Battle         *BattleSnapshot             `json:"battle,omitempty"`
	TotalCells     int                         `json:"total_cells"`
	Distribution   []DistributionEntry         `json:"distribution"`
	Connected      []TerritorySnapshot         `json:"connected"`
	NeighborCells  []string                    `json:"neighbor_cells,omitempty"`
	Contributors   []ContributorView           `json:"top_contributors"`
	StrategicValue int                         `json:"strategic_value"`
	Bonus          *territory.ContinentalBonus `json:"continental_bonus,omitempty"`
}

const topContributors = 10

// Territory returns the detail view of an entity.
func (e *Engine) Territory(id string) (TerritoryDetail, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	ent := e.tree.Get(id)
	if ent == nil {
		return TerritoryDetail{}, fmt.Errorf("entity %q: %w", id, territory.ErrNotFound)
	}
	d := TerritoryDetail{Territory: e.snapshotOf(ent)}
	if rec := e.records[id]; rec != nil {
		cp := *rec
		d.Control = &cp
	}
	if b := e.battles[id]; b != nil {
		bs := e.battleSnapshot(b)
		d.Battle = &bs
	}
	if bonus := e.bonuses[id]; bonus != nil {
		cp := *bonus
		d.Bonus = &cp
	}

	counts := e.countCells(id, nil)
	d.TotalCells = counts.Total
	for a, n := range counts.ByController {
		d.Distribution = append(d.Distribution, DistributionEntry{
			Controller: e.view(a),
			Cells:      n,
			Percentage: pct(n, counts.Total),
		})
	}
	sort.Slice(d.Distribution, func(i, j int) bool {
		if d.Distribution[i].Cells != d.Distribution[j].Cells {
			return d.Distribution[i].Cells > d.Distribution[j].Cells
		}
		return viewKey(d.Distribution[i].Controller) < viewKey(d.Distribution[j].Controller)
	})

	if ent.Kind == territory.KindCell {
		// Cells connect to the grid neighbours somebody has already claimed.
		nbrs, err := e.geo.CellNeighbors(id)
		if err != nil {
			return TerritoryDetail{}, fmt.Errorf("neighbours of %s: %w", id, err)
		}
		d.NeighborCells = nbrs
		for _, n := range nbrs {
			if c := e.tree.Get(n); c != nil {
				d.Connected = append(d.Connected, e.snapshotOf(c))
			}
		}
	} else if ent.ParentID != "" {
		for _, sib := range e.tree.Children(ent.ParentID) {
			if sib == id {
				continue
			}
			d.Connected = append(d.Connected, e.snapshotOf(e.tree.Get(sib)))
		}
	}
	d.StrategicValue = strategicValue(ent, len(d.Connected))

	book := e.books[id]
	for _, a := range book.Actors() {
		c := book[a]
		d.Contributors = append(d.Contributors, ContributorView{
			Actor:      e.view(a),
			DistanceKm: c.Distance,
			FirstAt:    c.FirstAt,
			LastAt:     c.LastAt,
		})
	}
	sort.SliceStable(d.Contributors, func(i, j int) bool {
		return d.Contributors[i].DistanceKm > d.Contributors[j].DistanceKm
	})
	if len(d.Contributors) > topContributors {
		d.Contributors = d.Contributors[:topContributors]
	}
	return d, nil
}

func strategicValue(ent *territory.Entity, connections int) int {
	v := 10
	if ent.IsCapital {
		v += 20
	}
	switch ent.Special {
	case territory.SpecialFortress:
		v += 15
	case territory.SpecialStrategicPoint:
		v += 10
	}
	v += 2 * connections
	v += 5 * int(ent.ProductionRate)
	return v
}

func pct(n, total int) float64 {
	if total == 0 {
		return 0
	}
	return math.Round(float64(n)*10000/float64(total)) / 100
}

func viewKey(v *ActorView) string {
	if v == nil {
		return ""
	}
	return string(v.Kind) + ":" + v.ID
}

// BattleSnapshot is the public view of an active battle.
type BattleSnapshot struct {
	ID             string                 `json:"id"`
	EntityID       string                 `json:"entity_id"`
	EntityName     string                 `json:"entity_name"`
	EntityKind     territory.Kind         `json:"entity_kind"`
	Defender       *ActorView             `json:"defender"`
	Attacker       *ActorView             `json:"attacker"`
	TotalCells     int                    `json:"total_cells"`
	DefenderCells  int                    `json:"defender_cells"`
	AttackerCells  int                    `json:"attacker_cells"`
	ContestedCells int                    `json:"contested_cells"`
	Progress       float64                `json:"conquest_progress"`
	Status         territory.BattleStatus `json:"status"`
	StartedAt      time.Time              `json:"started_at"`
	LastActivityAt time.Time              `json:"last_activity_at"`
}

func (e *Engine) battleSnapshot(b *territory.Battle) BattleSnapshot {
	s := BattleSnapshot{
		ID:             b.ID,
		EntityID:       b.EntityID,
		Defender:       e.view(b.Defender),
		Attacker:       e.view(b.Attacker),
		TotalCells:     b.TotalCells,
		DefenderCells:  b.DefenderCells,
		AttackerCells:  b.AttackerCells,
		ContestedCells: b.ContestedCells,
		Progress:       b.Progress,
		Status:         b.Status,
		StartedAt:      b.StartedAt,
		LastActivityAt: b.LastActivityAt,
	}
	if ent := e.tree.Get(b.EntityID); ent != nil {
		s.EntityName = ent.Name
		s.EntityKind = ent.Kind
	}
	return s
}

// Battles lists the active battles, most recently active first.
func (e *Engine) Battles() []BattleSnapshot {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]BattleSnapshot, 0, len(e.battles))
	for _, id := range sortedKeys(e.battles) {
		out = append(out, e.battleSnapshot(e.battles[id]))
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].LastActivityAt.After(out[j].LastActivityAt)
	})
	return out
}

// HotBattles returns the most balanced battles, closest to 50% first.
func (e *Engine) HotBattles(limit int) []BattleSnapshot {
	out := e.Battles()
	sort.SliceStable(out, func(i, j int) bool {
		return math.Abs(out[i].Progress-50) < math.Abs(out[j].Progress-50)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// Ranking is one controller's standing.
type Ranking struct {
	Rank            int        `json:"rank"`
	Controller      *ActorView `json:"controller"`
	TerritoriesHeld int        `json:"territories_held"`
	CellsHeld       int        `json:"cells_held"`
	TotalUnits      int64      `json:"total_units"`
	CapitalsHeld    int        `json:"capitals_held"`
	FortressesHeld  int        `json:"fortresses_held"`
	UnderAttack     int        `json:"under_attack"`
	ConquestsWon    int        `json:"conquests_won"`
}

// Rankings orders controllers by territories held (cells excluded), then
// total units, then cells held.
func (e *Engine) Rankings() []Ranking {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.rankings()
}

func (e *Engine) rankings() []Ranking {
	byActor := make(map[territory.Actor]*Ranking)
	get := func(a territory.Actor) *Ranking {
		r, ok := byActor[a]
		if !ok {
			r = &Ranking{Controller: e.view(a)}
			byActor[a] = r
		}
		return r
	}
	for id, rec := range e.records {
		if rec.Controller.IsZero() {
			continue
		}
		ent := e.tree.Get(id)
		if ent == nil {
			continue
		}
		r := get(rec.Controller)
		if ent.Kind == territory.KindCell {
			r.CellsHeld++
			continue
		}
		r.TerritoriesHeld++
		r.TotalUnits += rec.UnitStrength
		if ent.IsCapital {
			r.CapitalsHeld++
		}
		if ent.Special == territory.SpecialFortress {
			r.FortressesHeld++
		}
		if rec.IsUnderAttack {
			r.UnderAttack++
		}
	}
	for _, c := range e.conquests {
		if r, ok := byActor[c.New]; ok {
			r.ConquestsWon++
		}
	}
	out := make([]Ranking, 0, len(byActor))
	for _, r := range byActor {
		out = append(out, *r)
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.TerritoriesHeld != b.TerritoriesHeld {
			return a.TerritoriesHeld > b.TerritoriesHeld
		}
		if a.TotalUnits != b.TotalUnits {
			return a.TotalUnits > b.TotalUnits
		}
		if a.CellsHeld != b.CellsHeld {
			return a.CellsHeld > b.CellsHeld
		}
		return viewKey(a.Controller) < viewKey(b.Controller)
	})
	for i := range out {
		out[i].Rank = i + 1
	}
	return out
}

// MaxHistory bounds history and move log queries.
const MaxHistory = 200

func clampLimit(limit int) int {
	if limit <= 0 {
		return 50
	}
	return min(limit, MaxHistory)
}

// ConquestHistory returns conquests newest first, optionally for one entity.
func (e *Engine) ConquestHistory(entityID string, limit int) []territory.ConquestRecord {
	limit = clampLimit(limit)
	e.mu.RLock()
	defer e.mu.RUnlock()
	var out []territory.ConquestRecord
	for i := len(e.conquests) - 1; i >= 0 && len(out) < limit; i-- {
		if entityID == "" || e.conquests[i].EntityID == entityID {
			out = append(out, e.conquests[i])
		}
	}
	return out
}

// MoveFilter narrows the move log.
type MoveFilter struct {
	Actor    territory.Actor
	EntityID string
	Limit    int
}

// Moves returns the move log newest first.
func (e *Engine) Moves(f MoveFilter) []territory.TacticalMove {
	limit := clampLimit(f.Limit)
	e.mu.RLock()
	defer e.mu.RUnlock()
	var out []territory.TacticalMove
	for i := len(e.moves) - 1; i >= 0 && len(out) < limit; i-- {
		m := e.moves[i]
		if !f.Actor.IsZero() && m.Actor != f.Actor {
			continue
		}
		if f.EntityID != "" && m.ToEntityID != f.EntityID && m.FromEntityID != f.EntityID {
			continue
		}
		out = append(out, m)
	}
	return out
}

// ActorImpact summarises what one actor's moves achieved.
type ActorImpact struct {
	Actor                 *ActorView `json:"actor"`
	TotalMoves            int        `json:"total_moves"`
	SuccessfulMoves       int        `json:"successful_moves"`
	CriticalMoves         int        `json:"critical_moves"`
	ConquestsParticipated int        `json:"conquests_participated"`
	TerritoriesImpacted   int        `json:"territories_impacted"`
	HexagonsConquered     int        `json:"hexagons_conquered"`
	UnitsDeployed         int64      `json:"units_deployed"`
	DistanceAllocatedKm   float64    `json:"distance_allocated_km"`
	AverageUnitsPerMove   float64    `json:"average_units_per_move"`
}

// Impact builds the impact summary of an actor.
func (e *Engine) Impact(a territory.Actor) ActorImpact {
	e.mu.RLock()
	defer e.mu.RUnlock()
	imp := ActorImpact{Actor: e.view(a)}
	touched := make(map[string]bool)
	decisive := make(map[string]bool)
	for _, m := range e.moves {
		if m.Actor != a {
			continue
		}
		imp.TotalMoves++
		if m.Success {
			imp.SuccessfulMoves++
		}
		if m.WasCritical {
			imp.CriticalMoves++
		}
		imp.HexagonsConquered += m.HexagonsConquered
		imp.UnitsDeployed += m.UnitsMoved
		imp.DistanceAllocatedKm += m.DistanceAllocated
		touched[m.ToEntityID] = true
		if m.FromEntityID != "" {
			touched[m.FromEntityID] = true
		}
		decisive[m.ID] = true
	}
	for _, c := range e.conquests {
		if c.New == a || c.Previous == a || decisive[c.DecisiveMoveID] {
			imp.ConquestsParticipated++
		}
	}
	imp.TerritoriesImpacted = len(touched)
	if imp.TotalMoves > 0 {
		imp.AverageUnitsPerMove = math.Round(float64(imp.UnitsDeployed)*100/float64(imp.TotalMoves)) / 100
	}
	return imp
}

// Bonuses returns the latest continental bonus rows.
func (e *Engine) Bonuses() []territory.ContinentalBonus {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]territory.ContinentalBonus, 0, len(e.bonuses))
	for _, id := range sortedKeys(e.bonuses) {
		out = append(out, *e.bonuses[id])
	}
	return out
}

// Record returns a copy of an entity's control record.
func (e *Engine) Record(id string) (territory.ControlRecord, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	rec, ok := e.records[id]
	if !ok {
		return territory.ControlRecord{}, false
	}
	return *rec, true
}

// Battle returns a copy of the active battle of an entity.
func (e *Engine) Battle(id string) (territory.Battle, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	b, ok := e.battles[id]
	if !ok {
		return territory.Battle{}, false
	}
	return *b, true
}

// Stats is a small summary for status endpoints.
type Stats struct {
	Version     uint64 `json:"version"`
	Entities    int    `json:"entities"`
	Held        int    `json:"held"`
	Battles     int    `json:"active_battles"`
	Moves       int    `json:"moves"`
	Conquests   int    `json:"conquests"`
	Quarantined int    `json:"quarantined"`
}

// Stats returns counters over the current state.
func (e *Engine) Stats() Stats {
	e.mu.RLock()
	defer e.mu.RUnlock()
	held := 0
	for _, r := range e.records {
		if !r.Controller.IsZero() {
			held++
		}
	}
	e.qmu.RLock()
	q := len(e.quarantine)
	e.qmu.RUnlock()
	return Stats{
		Version:     e.versionLocked(),
		Entities:    e.tree.Len(),
		Held:        held,
		Battles:     len(e.battles),
		Moves:       len(e.moves),
		Conquests:   len(e.conquests),
		Quarantined: q,
	}
}
