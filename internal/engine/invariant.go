package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/talgya/territory/internal/metrics"
	"github.com/talgya/territory/internal/territory"
)

func (e *Engine) isQuarantined(id string) bool {
	e.qmu.RLock()
	defer e.qmu.RUnlock()
	_, ok := e.quarantine[id]
	return ok
}

// quarantineLocked records a violation. It only takes the quarantine lock
// and is safe to call while the state lock is held.
func (e *Engine) quarantineLocked(id, detail string) {
	e.qmu.Lock()
	_, already := e.quarantine[id]
	e.quarantine[id] = detail
	if !already {
		e.qversion++
	}
	e.qmu.Unlock()
	if already {
		return
	}
	metrics.InvariantViolations.Inc()
	slog.Error("invariant violation, entity quarantined", "entity", id, "detail", detail)
}

// violation quarantines an entity found broken while applying an event.
// The quarantine holds even if the event is later discarded.
func (t *txn) violation(id, detail string) {
	t.e.quarantineLocked(id, detail)
	t.emit(Event{
		Kind:        EventInvariant,
		EntityID:    id,
		Description: (&territory.InvariantError{EntityID: id, Detail: detail}).Error(),
	})
}

// Quarantined lists the entities excluded from processing with the reason.
func (e *Engine) Quarantined() map[string]string {
	e.qmu.RLock()
	defer e.qmu.RUnlock()
	out := make(map[string]string, len(e.quarantine))
	for id, d := range e.quarantine {
		out[id] = d
	}
	return out
}

// Repair re-derives the battle state of a quarantined entity from a full
// recount and lifts the quarantine.
func (e *Engine) Repair(ctx context.Context, id string) error {
	e.qmu.RLock()
	detail, ok := e.quarantine[id]
	e.qmu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s is not quarantined", territory.ErrNotFound, id)
	}

	_, err := e.runExclusive(ctx, "repair", func(t *txn) error {
		ent := t.entity(id)
		if ent == nil {
			// Nothing to recount against; drop the orphaned state.
			if t.recordView(id) != nil {
				return fmt.Errorf("%w: record for missing entity %s must be removed from the store", territory.ErrInvariant, id)
			}
			if b := t.battleView(id); b != nil {
				t.closeBattle(b, "repair")
			}
			return nil
		}
		rec := t.recordView(id)
		if b := t.battleView(id); b != nil && (rec == nil || rec.Controller != b.Defender) {
			t.closeBattle(b, "repair")
		}
		e.unquarantine(id)
		t.detect(id)
		return nil
	})
	if err != nil {
		e.quarantineLocked(id, detail)
		return err
	}
	slog.Info("entity repaired", "entity", id, "was", detail)
	return nil
}

func (e *Engine) unquarantine(id string) {
	e.qmu.Lock()
	defer e.qmu.Unlock()
	if _, ok := e.quarantine[id]; ok {
		delete(e.quarantine, id)
		e.qversion++
	}
}

// Audit checks every entity with state against the control invariants and
// returns the ids newly quarantined.
func (e *Engine) Audit() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	var found []string
	ids := sortedKeys(e.records)
	for _, id := range ids {
		if e.isQuarantined(id) {
			continue
		}
		if e.tree.Get(id) == nil {
			e.quarantineLocked(id, "control record references a missing entity")
			found = append(found, id)
		}
	}
	for _, id := range sortedKeys(e.battles) {
		if e.isQuarantined(id) {
			continue
		}
		b := e.battles[id]
		rec := e.records[id]
		if rec == nil || rec.Controller != b.Defender {
			e.quarantineLocked(id, "battle defender is not the current controller")
			found = append(found, id)
			continue
		}
		counts := e.countCells(id, nil)
		if !e.policy.Contested(counts.ByController[b.Attacker], counts.Total) {
			e.quarantineLocked(id, "battle without a contested fraction")
			found = append(found, id)
		}
	}
	sort.Strings(found)
	return found
}
