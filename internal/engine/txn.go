package engine

import (
	"sort"
	"time"

	"github.com/talgya/territory/internal/control"
	"github.com/talgya/territory/internal/territory"
)

// ChangeSet is everything one event writes. It is persisted as a unit
// before being installed in memory.
type ChangeSet struct {
	Entities      []*territory.Entity
	Records       []*territory.ControlRecord
	Contributions []territory.Contribution
	Battles       []*territory.Battle
	ClosedBattles []string
	Moves         []territory.TacticalMove
	Conquests     []territory.ConquestRecord
	Bonuses       []*territory.ContinentalBonus
	TickDay       string // Day completed by a daily tick, empty for other events
}

// Empty reports whether the change set writes nothing.
func (cs *ChangeSet) Empty() bool {
	return len(cs.Entities) == 0 && len(cs.Records) == 0 && len(cs.Contributions) == 0 &&
		len(cs.Battles) == 0 && len(cs.ClosedBattles) == 0 && len(cs.Moves) == 0 &&
		len(cs.Conquests) == 0 && len(cs.Bonuses) == 0 && cs.TickDay == ""
}

// txn is the copy-on-write overlay an event computes against. Nothing in
// the engine changes until the overlay has been persisted.
type txn struct {
	e   *Engine
	now time.Time

	entities  map[string]*territory.Entity // cells created by this event
	order     []string
	records   map[string]*territory.ControlRecord
	books     map[string]control.Book
	touched   map[string]map[territory.Actor]bool
	battles   map[string]*territory.Battle
	closed    map[string]bool
	moves     []territory.TacticalMove
	conquests []territory.ConquestRecord
	bonuses   map[string]*territory.ContinentalBonus
	events    []Event
	conquered []string
	tickDay   string
}

func (e *Engine) begin() *txn {
	return &txn{
		e:        e,
		now:      e.now().UTC(),
		entities: make(map[string]*territory.Entity),
		records:  make(map[string]*territory.ControlRecord),
		books:    make(map[string]control.Book),
		touched:  make(map[string]map[territory.Actor]bool),
		battles:  make(map[string]*territory.Battle),
		closed:   make(map[string]bool),
		bonuses:  make(map[string]*territory.ContinentalBonus),
	}
}

func (t *txn) entity(id string) *territory.Entity {
	if ent, ok := t.entities[id]; ok {
		return ent
	}
	return t.e.tree.Get(id)
}

func (t *txn) addCell(ent *territory.Entity) {
	t.entities[ent.ID] = ent
	t.order = append(t.order, ent.ID)
}

// ancestors walks parent links through both staged and committed entities.
func (t *txn) ancestors(id string) []string {
	var out []string
	ent := t.entity(id)
	for ent != nil && ent.ParentID != "" {
		out = append(out, ent.ParentID)
		ent = t.entity(ent.ParentID)
	}
	return out
}

// cellsUnder lists committed and staged cells at or below id.
func (t *txn) cellsUnder(id string) []string {
	cells := t.e.tree.DescendantCells(id)
	for _, cid := range t.order {
		if cid == id {
			cells = append(cells, cid)
			continue
		}
		for _, a := range t.ancestors(cid) {
			if a == id {
				cells = append(cells, cid)
				break
			}
		}
	}
	return cells
}

// recordView returns the current record without copying it. Callers must
// not modify the result.
func (t *txn) recordView(id string) *territory.ControlRecord {
	if r, ok := t.records[id]; ok {
		return r
	}
	return t.e.records[id]
}

// record returns a staged, writable record, creating an empty one if needed.
func (t *txn) record(id string) *territory.ControlRecord {
	if r, ok := t.records[id]; ok {
		return r
	}
	var r territory.ControlRecord
	if base, ok := t.e.records[id]; ok {
		r = *base
	} else {
		r.EntityID = id
	}
	t.records[id] = &r
	return &r
}

func (t *txn) bookView(id string) control.Book {
	if b, ok := t.books[id]; ok {
		return b
	}
	return t.e.books[id]
}

func (t *txn) book(id string) control.Book {
	if b, ok := t.books[id]; ok {
		return b
	}
	var b control.Book
	if base, ok := t.e.books[id]; ok {
		b = base.Clone()
	} else {
		b = make(control.Book)
	}
	t.books[id] = b
	return b
}

func (t *txn) touch(id string, a territory.Actor) {
	m := t.touched[id]
	if m == nil {
		m = make(map[territory.Actor]bool)
		t.touched[id] = m
	}
	m[a] = true
}

// battleView returns the active battle of an entity, or nil.
func (t *txn) battleView(id string) *territory.Battle {
	if t.closed[id] {
		return nil
	}
	if b, ok := t.battles[id]; ok {
		return b
	}
	return t.e.battles[id]
}

func (t *txn) putBattle(b *territory.Battle) {
	delete(t.closed, b.EntityID)
	t.battles[b.EntityID] = b
}

func (t *txn) dropBattle(id string) {
	delete(t.battles, id)
	t.closed[id] = true
}

func (t *txn) emit(ev Event) {
	ev.Time = t.now
	t.events = append(t.events, ev)
}

func (t *txn) changeSet() *ChangeSet {
	cs := &ChangeSet{Moves: t.moves, Conquests: t.conquests, TickDay: t.tickDay}
	for _, id := range t.order {
		cs.Entities = append(cs.Entities, t.entities[id])
	}
	for _, id := range sortedKeys(t.records) {
		cs.Records = append(cs.Records, t.records[id])
	}
	for _, id := range sortedKeys(t.touched) {
		book := t.books[id]
		for _, a := range book.Actors() {
			if t.touched[id][a] {
				cs.Contributions = append(cs.Contributions, *book[a])
			}
		}
	}
	for _, id := range sortedKeys(t.battles) {
		cs.Battles = append(cs.Battles, t.battles[id])
	}
	for _, id := range sortedKeys(t.closed) {
		if _, existed := t.e.battles[id]; existed {
			cs.ClosedBattles = append(cs.ClosedBattles, id)
		}
	}
	for _, id := range sortedKeys(t.bonuses) {
		cs.Bonuses = append(cs.Bonuses, t.bonuses[id])
	}
	return cs
}

func sortedKeys[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
