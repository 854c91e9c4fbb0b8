package engine

import (
	"fmt"

	"github.com/talgya/territory/internal/territory"
)

// cellCounts is a full recount of the cells under one entity.
type cellCounts struct {
	Total        int
	ByController map[territory.Actor]int
	Strength     map[territory.Actor]int64
}

// countCells recounts every cell under id. With a txn the staged overlay is
// read; without one the committed state is. Uncontrolled cells count under
// the zero actor.
func (e *Engine) countCells(id string, t *txn) cellCounts {
	var cells []string
	if t != nil {
		cells = t.cellsUnder(id)
	} else {
		cells = e.tree.DescendantCells(id)
	}
	c := cellCounts{
		Total:        len(cells),
		ByController: make(map[territory.Actor]int),
		Strength:     make(map[territory.Actor]int64),
	}
	for _, cid := range cells {
		var rec *territory.ControlRecord
		if t != nil {
			rec = t.recordView(cid)
		} else {
			rec = e.records[cid]
		}
		var holder territory.Actor
		var units int64
		if rec != nil {
			holder, units = rec.Controller, rec.UnitStrength
		}
		c.ByController[holder]++
		c.Strength[holder] += units
	}
	return c
}

// Recount returns the number of cells under id and how many each actor
// controls, from the committed state. Uncontrolled cells are counted
// under the zero actor.
func (e *Engine) Recount(id string) (int, map[territory.Actor]int, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.tree.Get(id) == nil {
		return 0, nil, fmt.Errorf("entity %q: %w", id, territory.ErrNotFound)
	}
	c := e.countCells(id, nil)
	return c.Total, c.ByController, nil
}

// participants counts the distinct actors involved in an entity: cell
// holders below it plus everyone in its own ledger.
func participants(c cellCounts, book map[territory.Actor]*territory.Contribution) int {
	seen := make(map[territory.Actor]bool)
	for a, n := range c.ByController {
		if !a.IsZero() && n > 0 {
			seen[a] = true
		}
	}
	for a, contrib := range book {
		if contrib.Distance > 0 {
			seen[a] = true
		}
	}
	return len(seen)
}

// propagate re-evaluates every ancestor of a cell whose holder may have
// changed, finest first.
func (t *txn) propagate(chain []string) {
	for _, id := range chain {
		ent := t.entity(id)
		if ent == nil || ent.Kind == territory.KindCell {
			continue
		}
		t.detect(id)
	}
}
