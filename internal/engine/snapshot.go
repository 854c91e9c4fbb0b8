package engine

import (
	"github.com/talgya/territory/internal/territory"
)

// WorldSnapshot is a consistent copy of the whole control state.
type WorldSnapshot struct {
	Version       uint64                       `json:"version"`
	Entities      []*territory.Entity          `json:"entities"`
	Records       []territory.ControlRecord    `json:"records"`
	Contributions []territory.Contribution     `json:"contributions"`
	Battles       []territory.Battle           `json:"battles"`
	Moves         []territory.TacticalMove     `json:"moves"`
	Conquests     []territory.ConquestRecord   `json:"conquests"`
	Bonuses       []territory.ContinentalBonus `json:"bonuses"`
}

// Snapshot copies the committed state under a single read lock, so it
// never observes half of an event.
func (e *Engine) Snapshot() WorldSnapshot {
	e.mu.RLock()
	defer e.mu.RUnlock()
	s := WorldSnapshot{Version: e.versionLocked()}
	for _, ent := range e.tree.All() {
		cp := *ent
		cp.Boundary = append([]territory.LatLng(nil), ent.Boundary...)
		s.Entities = append(s.Entities, &cp)
	}
	for _, id := range sortedKeys(e.records) {
		s.Records = append(s.Records, *e.records[id])
	}
	for _, id := range sortedKeys(e.books) {
		book := e.books[id]
		for _, a := range book.Actors() {
			s.Contributions = append(s.Contributions, *book[a])
		}
	}
	for _, id := range sortedKeys(e.battles) {
		s.Battles = append(s.Battles, *e.battles[id])
	}
	s.Moves = append([]territory.TacticalMove(nil), e.moves...)
	s.Conquests = append([]territory.ConquestRecord(nil), e.conquests...)
	for _, id := range sortedKeys(e.bonuses) {
		s.Bonuses = append(s.Bonuses, *e.bonuses[id])
	}
	return s
}

// State converts a snapshot back into restorable state.
func (s WorldSnapshot) State() State {
	st := State{
		Contributions: s.Contributions,
		Moves:         s.Moves,
		Conquests:     s.Conquests,
	}
	for i := range s.Records {
		st.Records = append(st.Records, &s.Records[i])
	}
	for i := range s.Battles {
		st.Battles = append(st.Battles, &s.Battles[i])
	}
	for i := range s.Bonuses {
		st.Bonuses = append(st.Bonuses, &s.Bonuses[i])
	}
	return st
}
