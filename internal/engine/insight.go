package engine

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/talgya/territory/internal/control"
	"github.com/talgya/territory/internal/territory"
)

// recentBattleMoves bounds the move list of a battle detail.
const recentBattleMoves = 20

// BattleParticipant is one actor's stake in a battle.
type BattleParticipant struct {
	Actor         *ActorView `json:"actor"`
	Side          string     `json:"side"` // defender, attacker or other
	Cells         int        `json:"cells"`
	Moves         int        `json:"moves"`
	UnitsDeployed int64      `json:"units_deployed"`
}

// CellControl is the state of one cell on a battle map.
type CellControl struct {
	ID           string             `json:"id"`
	Controller   *ActorView         `json:"controller"`
	UnitStrength int64              `json:"unit_strength"`
	Boundary     []territory.LatLng `json:"boundary,omitempty"`
}

// BattleDetail is the full view of one active battle.
type BattleDetail struct {
	Battle       BattleSnapshot           `json:"battle"`
	RecentMoves  []territory.TacticalMove `json:"recent_moves"`
	Participants []BattleParticipant      `json:"participants"`
	Contested    []CellControl            `json:"contested_cells"`
}

// within reports whether target is id or lies below it.
func (e *Engine) within(id, target string) bool {
	if target == id {
		return true
	}
	for _, a := range e.tree.Ancestors(target) {
		if a == id {
			return true
		}
	}
	return false
}

// BattleDetail returns an active battle by its id with the moves made
// inside the entity, the actors involved and the cells not held by the
// defender.
func (e *Engine) BattleDetail(battleID string) (BattleDetail, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	var b *territory.Battle
	for _, cand := range e.battles {
		if cand.ID == battleID {
			b = cand
			break
		}
	}
	if b == nil {
		return BattleDetail{}, fmt.Errorf("battle %q: %w", battleID, territory.ErrNotFound)
	}
	d := BattleDetail{Battle: e.battleSnapshot(b)}

	parts := make(map[territory.Actor]*BattleParticipant)
	part := func(a territory.Actor) *BattleParticipant {
		p, ok := parts[a]
		if !ok {
			side := "other"
			switch a {
			case b.Defender:
				side = "defender"
			case b.Attacker:
				side = "attacker"
			}
			p = &BattleParticipant{Actor: e.view(a), Side: side}
			parts[a] = p
		}
		return p
	}

	for i := len(e.moves) - 1; i >= 0; i-- {
		m := e.moves[i]
		if !e.within(b.EntityID, m.ToEntityID) {
			continue
		}
		if len(d.RecentMoves) < recentBattleMoves {
			d.RecentMoves = append(d.RecentMoves, m)
		}
		p := part(m.Actor)
		p.Moves++
		p.UnitsDeployed += m.UnitsMoved
	}

	for _, cid := range e.tree.DescendantCells(b.EntityID) {
		rec := e.records[cid]
		if rec == nil || rec.Controller.IsZero() {
			continue
		}
		part(rec.Controller).Cells++
		if rec.Controller == b.Defender {
			continue
		}
		cc := CellControl{ID: cid, Controller: e.view(rec.Controller), UnitStrength: rec.UnitStrength}
		if ent := e.tree.Get(cid); ent != nil {
			cc.Boundary = ent.Boundary
		}
		d.Contested = append(d.Contested, cc)
	}
	sort.Slice(d.Contested, func(i, j int) bool { return d.Contested[i].ID < d.Contested[j].ID })

	for _, p := range parts {
		d.Participants = append(d.Participants, *p)
	}
	sort.Slice(d.Participants, func(i, j int) bool {
		a, c := d.Participants[i], d.Participants[j]
		if a.Cells != c.Cells {
			return a.Cells > c.Cells
		}
		if a.Moves != c.Moves {
			return a.Moves > c.Moves
		}
		return viewKey(a.Actor) < viewKey(c.Actor)
	})
	return d, nil
}

// AttackPreview estimates an attack without applying it.
type AttackPreview struct {
	EntityID           string  `json:"entity_id"`
	EntityName         string  `json:"entity_name"`
	Held               bool    `json:"already_held"`
	DefenderUnits      int64   `json:"defender_units"`
	DefenseBonus       float64 `json:"defense_bonus"`
	AttackUnits        int64   `json:"attack_units"`
	SuccessProbability float64 `json:"success_probability"`
	TotalCells         int     `json:"total_cells"`
	CellsHeld          int     `json:"cells_held"`
	CellsToConquer     int     `json:"cells_to_conquer"`
	EstimatedCells     int     `json:"estimated_cells_gained"`
	CurrentProgress    float64 `json:"current_progress"`
	ProjectedProgress  float64 `json:"projected_progress"`
	Recommendation     string  `json:"recommendation"` // GO, RISKY, AVOID or HELD
}

// PreviewAttack weighs units against the defender's strength scaled by
// the entity's defense bonus. The estimate assumes half the odds turn
// into cells.
func (e *Engine) PreviewAttack(actor territory.Actor, entityID string, units int64) (AttackPreview, error) {
	if err := actor.Validate(); err != nil {
		return AttackPreview{}, err
	}
	if units <= 0 {
		return AttackPreview{}, &territory.ValidationError{Field: "units", Reason: "must be positive"}
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	ent := e.tree.Get(entityID)
	if ent == nil {
		return AttackPreview{}, fmt.Errorf("entity %q: %w", entityID, territory.ErrNotFound)
	}
	p := AttackPreview{
		EntityID:     entityID,
		EntityName:   ent.Name,
		DefenseBonus: ent.DefenseBonus,
		AttackUnits:  units,
	}
	rec := e.records[entityID]
	if rec != nil {
		p.DefenderUnits = rec.UnitStrength
		p.Held = rec.Controller == actor
	}

	defense := float64(p.DefenderUnits) * (1 + ent.DefenseBonus)
	p.SuccessProbability = 100
	if defense > 0 {
		p.SuccessProbability = math.Round(math.Min(100, float64(units)/defense*100)*100) / 100
	}

	counts := e.countCells(entityID, nil)
	p.TotalCells = counts.Total
	p.CellsHeld = counts.ByController[actor]
	p.CellsToConquer = cellsToConquer(e.policy, p.CellsHeld, counts.Total)
	p.EstimatedCells = min(int(float64(counts.Total)*p.SuccessProbability/200), counts.Total-p.CellsHeld)
	p.CurrentProgress = control.Progress(p.CellsHeld, counts.Total)
	p.ProjectedProgress = control.Progress(p.CellsHeld+p.EstimatedCells, counts.Total)

	switch {
	case p.Held:
		p.Recommendation = "HELD"
	case p.SuccessProbability > 60:
		p.Recommendation = "GO"
	case p.SuccessProbability > 40:
		p.Recommendation = "RISKY"
	default:
		p.Recommendation = "AVOID"
	}
	return p, nil
}

// cellsToConquer is how many more cells reach the conquest threshold.
func cellsToConquer(p control.Policy, held, total int) int {
	for n := held; n <= total; n++ {
		if p.Conquers(n, total) {
			return n - held
		}
	}
	return total - held
}

// Suggestion is one recommended target for an actor.
type Suggestion struct {
	Type             string          `json:"type"`
	Priority         string          `json:"priority"`
	EntityID         string          `json:"entity_id"`
	EntityName       string          `json:"entity_name"`
	Reason           string          `json:"reason"`
	RecommendedUnits int64           `json:"recommended_units"`
	Battle           *BattleSnapshot `json:"battle,omitempty"`
}

var priorityRank = map[string]int{"CRITICAL": 0, "HIGH": 1, "MEDIUM": 2, "LOW": 3}

const weakTargets = 3

// Suggestions ranks targets for an actor: its territories about to fall,
// its other defended territories, its own attacks past halfway and the
// weakest uncontested entities where it already holds cells.
func (e *Engine) Suggestions(actor territory.Actor) ([]Suggestion, error) {
	if err := actor.Validate(); err != nil {
		return nil, err
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	var out []Suggestion
	for _, id := range sortedKeys(e.battles) {
		b := e.battles[id]
		bs := e.battleSnapshot(b)
		s := Suggestion{EntityID: id, EntityName: bs.EntityName, Battle: &bs}
		switch {
		case b.Defender == actor && b.Progress > 50:
			s.Type, s.Priority, s.RecommendedUnits = "defend_territory", "CRITICAL", 15
			s.Reason = fmt.Sprintf("%s is about to fall (%.2f%%)", bs.EntityName, b.Progress)
		case b.Defender == actor:
			s.Type, s.Priority, s.RecommendedUnits = "defend_border", "HIGH", 10
			s.Reason = fmt.Sprintf("%s is contested by %s", bs.EntityName, b.Attacker)
		case b.Attacker == actor && b.Progress >= 50:
			s.Type, s.Priority, s.RecommendedUnits = "press_attack", "MEDIUM", 10
			s.Reason = fmt.Sprintf("%d more cells take %s",
				cellsToConquer(e.policy, b.AttackerCells, b.TotalCells), bs.EntityName)
		default:
			continue
		}
		out = append(out, s)
	}

	var weak []Suggestion
	for id, rec := range e.records {
		ent := e.tree.Get(id)
		if ent == nil || ent.Kind == territory.KindCell || rec.Controller.IsZero() ||
			rec.Controller == actor || rec.IsUnderAttack {
			continue
		}
		if e.countCells(id, nil).ByController[actor] == 0 {
			continue
		}
		weak = append(weak, Suggestion{
			Type:             "attack_weak",
			Priority:         "LOW",
			EntityID:         id,
			EntityName:       ent.Name,
			Reason:           fmt.Sprintf("%s is held by %s with %d units", ent.Name, rec.Controller, rec.UnitStrength),
			RecommendedUnits: rec.UnitStrength + 1,
		})
	}
	sort.Slice(weak, func(i, j int) bool {
		if weak[i].RecommendedUnits != weak[j].RecommendedUnits {
			return weak[i].RecommendedUnits < weak[j].RecommendedUnits
		}
		return weak[i].EntityID < weak[j].EntityID
	})
	if len(weak) > weakTargets {
		weak = weak[:weakTargets]
	}
	out = append(out, weak...)

	sort.SliceStable(out, func(i, j int) bool {
		return priorityRank[out[i].Priority] < priorityRank[out[j].Priority]
	})
	return out, nil
}

// GlobalStats summarises the whole map.
type GlobalStats struct {
	Territories    int       `json:"total_territories"`
	Held           int       `json:"territories_held"`
	UnderAttack    int       `json:"territories_under_attack"`
	ActiveBattles  int       `json:"active_battles"`
	ConquestsToday int       `json:"conquests_today"`
	ConquestsWeek  int       `json:"conquests_week"`
	TopControllers []Ranking `json:"top_controllers"`
	At             time.Time `json:"at"`
}

const topControllers = 5

// GlobalStats counts named territories (cells excluded) and the conquests
// of the current UTC day and the last seven days.
func (e *Engine) GlobalStats() GlobalStats {
	now := e.now().UTC()
	today := now.Truncate(24 * time.Hour)
	week := now.Add(-7 * 24 * time.Hour)

	e.mu.RLock()
	defer e.mu.RUnlock()
	s := GlobalStats{ActiveBattles: len(e.battles), At: now}
	for _, ent := range e.tree.All() {
		if ent.Kind == territory.KindCell {
			continue
		}
		s.Territories++
		rec := e.records[ent.ID]
		if rec == nil || rec.Controller.IsZero() {
			continue
		}
		s.Held++
		if rec.IsUnderAttack {
			s.UnderAttack++
		}
	}
	for _, c := range e.conquests {
		if !c.ConqueredAt.Before(today) {
			s.ConquestsToday++
		}
		if c.ConqueredAt.After(week) {
			s.ConquestsWeek++
		}
	}
	s.TopControllers = e.rankings()
	if len(s.TopControllers) > topControllers {
		s.TopControllers = s.TopControllers[:topControllers]
	}
	return s
}
