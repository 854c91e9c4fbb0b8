package control

import (
	"math"
	"sort"
	"time"

	"github.com/talgya/territory/internal/territory"
)

// Book is the ledger page of a single entity: cumulative distance per actor.
type Book map[territory.Actor]*territory.Contribution

// Clone deep-copies the book so a pending event can mutate it freely.
func (b Book) Clone() Book {
	out := make(Book, len(b))
	for a, c := range b {
		cp := *c
		out[a] = &cp
	}
	return out
}

// Total is the distance contributed by everyone.
func (b Book) Total() float64 {
	total := 0.0
	for _, c := range b {
		total += c.Distance
	}
	return total
}

// Distance returns what a single actor has put in.
func (b Book) Distance(a territory.Actor) float64 {
	if c, ok := b[a]; ok {
		return c.Distance
	}
	return 0
}

// FirstAt returns the actor's first contribution time, zero if none.
func (b Book) FirstAt(a territory.Actor) time.Time {
	if c, ok := b[a]; ok {
		return c.FirstAt
	}
	return time.Time{}
}

// Leader returns the actor with the greatest distance. Equal distances are
// ordered by earliest first contribution, then by actor key.
func (b Book) Leader() (territory.Actor, float64) {
	var best *territory.Contribution
	for _, c := range b {
		if c.Distance <= 0 {
			continue
		}
		if best == nil || c.Distance > best.Distance ||
			(c.Distance == best.Distance && earlier(c, best)) {
			best = c
		}
	}
	if best == nil {
		return territory.Actor{}, 0
	}
	return best.Actor, best.Distance
}

// Actors lists contributors in key order.
func (b Book) Actors() []territory.Actor {
	out := make([]territory.Actor, 0, len(b))
	for a := range b {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key() < out[j].Key() })
	return out
}

func earlier(a, b *territory.Contribution) bool {
	if !a.FirstAt.Equal(b.FirstAt) {
		return a.FirstAt.Before(b.FirstAt)
	}
	return a.Actor.Key() < b.Actor.Key()
}

// Ledger applies contributions to control records under a Policy.
type Ledger struct {
	Policy Policy
}

// Apply adds delta kilometres from actor to the entity and recomputes the
// record. mayFlip allows the strongest contributor to take control from the
// incumbent; an uncontrolled entity is always claimed by its leader.
// Returns whether the controller changed.
func (l Ledger) Apply(rec *territory.ControlRecord, book Book, actor territory.Actor, delta float64, at time.Time, mayFlip bool) (bool, error) {
	if math.IsNaN(delta) || math.IsInf(delta, 0) || delta == 0 {
		return false, &territory.ValidationError{Field: "distance", Reason: "must be a non-zero finite number"}
	}
	c, ok := book[actor]
	if !ok {
		if delta < 0 {
			return false, &territory.ValidationError{Field: "distance", Reason: "actor has no distance recorded here"}
		}
		c = &territory.Contribution{EntityID: rec.EntityID, Actor: actor, FirstAt: at}
		book[actor] = c
	}
	if c.Distance+delta < -1e-9 {
		return false, &territory.ValidationError{Field: "distance", Reason: "cannot withdraw more than was contributed"}
	}
	c.Distance = math.Max(0, c.Distance+delta)
	c.LastAt = at

	rec.TotalDistance = book.Total()
	l.Restrength(rec)

	leader, lead := book.Leader()
	if leader.IsZero() {
		return false, nil
	}
	if rec.Controller.IsZero() {
		l.transfer(rec, leader, at)
		return true, nil
	}
	if !mayFlip || leader == rec.Controller {
		return false, nil
	}
	incumbent := book.Distance(rec.Controller)
	if l.Policy.FlipOnTie && actor != rec.Controller && book.Distance(actor) >= lead {
		l.transfer(rec, actor, at)
		return true, nil
	}
	if lead > incumbent {
		l.transfer(rec, leader, at)
		return true, nil
	}
	return false, nil
}

// Restrength recomputes unit strength from distance plus bonus units.
func (l Ledger) Restrength(rec *territory.ControlRecord) {
	units := l.Policy.UnitsFor(rec.TotalDistance) + rec.BonusUnits
	if units < 0 {
		units = 0
	}
	rec.UnitStrength = units
}

// SetStrength pins the record's unit strength by adjusting bonus units.
func (l Ledger) SetStrength(rec *territory.ControlRecord, units int64) {
	if units < 0 {
		units = 0
	}
	rec.BonusUnits = units - l.Policy.UnitsFor(rec.TotalDistance)
	rec.UnitStrength = units
}

func (l Ledger) transfer(rec *territory.ControlRecord, to territory.Actor, at time.Time) {
	rec.Controller = to
	rec.ControlledSince = at
	rec.DaysControlled = 0
}
