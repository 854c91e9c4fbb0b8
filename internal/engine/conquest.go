package engine

import (
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/talgya/territory/internal/metrics"
	"github.com/talgya/territory/internal/territory"
)

// resolve transfers an entity to its attacker once the attacker's cell
// share reaches the conquest threshold. decisiveMove is the id of the move
// that triggered the check, empty for plain contributions.
func (t *txn) resolve(id, decisiveMove string) bool {
	if t.e.isQuarantined(id) {
		return false
	}
	b := t.battleView(id)
	if b == nil {
		return false
	}
	rec := t.recordView(id)
	if rec == nil || rec.Controller != b.Defender {
		t.violation(id, "battle defender is not the current controller")
		return false
	}
	counts := t.e.countCells(id, t)
	held := counts.ByController[b.Attacker]
	if held == 0 {
		t.violation(id, fmt.Sprintf("attacker %s holds no cells", b.Attacker))
		return false
	}
	if !t.e.policy.Conquers(held, counts.Total) {
		return false
	}

	attackerUnits := counts.Strength[b.Attacker]
	defenderUnits := counts.Strength[b.Defender]
	history := territory.ConquestRecord{
		ID:             uuid.NewString(),
		EntityID:       id,
		Previous:       b.Defender,
		New:            b.Attacker,
		BattleID:       b.ID,
		DecisiveMoveID: decisiveMove,
		BattleDuration: t.now.Sub(b.StartedAt),
		Participants:   participants(counts, t.bookView(id)),
		UnitsExchanged: attackerUnits + defenderUnits,
		ConqueredAt:    t.now,
	}

	w := t.record(id)
	w.Controller = b.Attacker
	t.e.ledger.SetStrength(w, attackerUnits)
	w.ControlledSince = t.now
	w.DaysControlled = 0
	w.IsUnderAttack = false
	w.AttackStrength = 0

	t.dropBattle(id)
	t.conquests = append(t.conquests, history)
	t.conquered = append(t.conquered, id)

	metrics.ConquestsTotal.Inc()
	metrics.BattlesClosed.WithLabelValues("conquered").Inc()
	slog.Info("territory conquered",
		"entity", id,
		"from", b.Defender.String(),
		"to", b.Attacker.String(),
		"cells", held,
		"total", counts.Total,
	)
	t.emit(Event{
		Kind:        EventConquest,
		EntityID:    id,
		Actor:       b.Attacker,
		Description: fmt.Sprintf("%s conquered %s from %s", b.Attacker, id, b.Defender),
	})
	return true
}
