package control

import (
	"github.com/talgya/territory/internal/territory"
)

// PickChallenger returns the non-incumbent holding the most cells, with
// equal counts settled by the policy's tie-break. book is the entity's own
// ledger page, current the attacker of an existing battle (zero if none).
func (p Policy) PickChallenger(counts map[territory.Actor]int, incumbent, current territory.Actor, book Book) (territory.Actor, int) {
	var best territory.Actor
	bestCells := 0
	for a, n := range counts {
		if a.IsZero() || a == incumbent || n <= 0 {
			continue
		}
		if n > bestCells || (n == bestCells && p.prefer(a, best, current, book)) {
			best, bestCells = a, n
		}
	}
	return best, bestCells
}

// prefer reports whether a should win a tie against b.
func (p Policy) prefer(a, b, current territory.Actor, book Book) bool {
	if p.TieBreak == TieBreakSticky && !current.IsZero() {
		if a == current {
			return true
		}
		if b == current {
			return false
		}
	}
	if p.TieBreak != TieBreakLexical {
		fa, fb := book.FirstAt(a), book.FirstAt(b)
		switch {
		case !fa.IsZero() && fb.IsZero():
			return true
		case fa.IsZero() && !fb.IsZero():
			return false
		case !fa.Equal(fb):
			return fa.Before(fb)
		}
	}
	return a.Key() < b.Key()
}
