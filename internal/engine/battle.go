package engine

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/talgya/territory/internal/control"
	"github.com/talgya/territory/internal/metrics"
	"github.com/talgya/territory/internal/territory"
)

// detect opens, updates or closes the battle of a non-cell entity from a
// full recount of its cells.
func (t *txn) detect(id string) {
	if t.e.isQuarantined(id) {
		return
	}
	rec := t.recordView(id)
	existing := t.battleView(id)
	counts := t.e.countCells(id, t)
	if rec == nil || rec.Controller.IsZero() {
		rec = t.seed(id, counts)
	}
	if rec == nil {
		if existing != nil {
			t.closeBattle(existing, "no_record")
		}
		return
	}

	var current territory.Actor
	if existing != nil {
		current = existing.Attacker
	}
	p := t.e.policy
	challenger, cells := p.PickChallenger(counts.ByController, rec.Controller, current, t.bookView(id))

	if rec.Controller.IsZero() || challenger.IsZero() || !p.Contested(cells, counts.Total) {
		if existing != nil {
			t.closeBattle(existing, "below_threshold")
		}
		if rec.IsUnderAttack || rec.AttackStrength != 0 {
			w := t.record(id)
			w.IsUnderAttack = false
			w.AttackStrength = 0
		}
		return
	}

	var b territory.Battle
	opened := existing == nil
	if opened {
		b = territory.Battle{ID: uuid.NewString(), EntityID: id, StartedAt: t.now}
	} else {
		b = *existing
	}
	b.Defender = rec.Controller
	b.Attacker = challenger
	b.TotalCells = counts.Total
	b.DefenderCells = counts.ByController[rec.Controller]
	b.AttackerCells = cells
	b.ContestedCells = counts.Total - b.DefenderCells - b.AttackerCells
	b.Progress = control.Progress(cells, counts.Total)
	b.Status = t.status(b.Progress)
	b.LastActivityAt = t.now

	t.putBattle(&b)

	w := t.record(id)
	w.IsUnderAttack = true
	w.AttackStrength = counts.Strength[challenger]

	if opened {
		metrics.BattlesOpened.Inc()
		t.emit(Event{
			Kind:     EventBattleStarted,
			EntityID: id,
			Actor:    challenger,
			Description: fmt.Sprintf("%s challenges %s for %s (%d of %d cells)",
				challenger, rec.Controller, id, cells, counts.Total),
		})
		return
	}
	t.emit(Event{
		Kind:        EventBattleUpdated,
		EntityID:    id,
		Actor:       challenger,
		Description: fmt.Sprintf("battle for %s at %.2f%% (%s)", id, b.Progress, b.Status),
	})
}

// seed gives an entity nobody has contributed to directly the holder of
// most of its cells as incumbent. Returns nil when no cell is held.
func (t *txn) seed(id string, counts cellCounts) *territory.ControlRecord {
	holder, _ := t.e.policy.PickChallenger(counts.ByController, territory.Actor{}, territory.Actor{}, t.bookView(id))
	if holder.IsZero() {
		return nil
	}
	w := t.record(id)
	w.Controller = holder
	w.ControlledSince = t.now
	w.DaysControlled = 0
	t.e.ledger.SetStrength(w, counts.Strength[holder])
	t.emit(Event{
		Kind:        EventControlChanged,
		EntityID:    id,
		Actor:       holder,
		Description: fmt.Sprintf("%s %s held by %s through its cells", t.entity(id).Kind, id, holder),
	})
	return w
}

func (t *txn) status(progress float64) territory.BattleStatus {
	p := t.e.policy
	switch {
	case progress > p.AttackerWinning:
		return territory.BattleAttackerWinning
	case progress < p.DefenderWinning:
		return territory.BattleDefenderWinning
	}
	return territory.BattleOngoing
}

func (t *txn) closeBattle(b *territory.Battle, reason string) {
	t.dropBattle(b.EntityID)
	if w := t.recordView(b.EntityID); w != nil && (w.IsUnderAttack || w.AttackStrength != 0) {
		rec := t.record(b.EntityID)
		rec.IsUnderAttack = false
		rec.AttackStrength = 0
	}
	metrics.BattlesClosed.WithLabelValues(reason).Inc()
	t.emit(Event{
		Kind:        EventBattleClosed,
		EntityID:    b.EntityID,
		Actor:       b.Attacker,
		Description: fmt.Sprintf("battle for %s closed (%s)", b.EntityID, reason),
	})
}
