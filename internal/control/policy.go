// Package control holds the per-entity distance ledger and the business
// policy that decides who controls what: thresholds, flip rule, tie-break.
package control

import (
	"fmt"
	"math"
)

// TieBreak selects the attacker when several challengers hold the same
// number of cells in a contested entity.
type TieBreak string

const (
	TieBreakEarliest TieBreak = "earliest" // Earliest first contribution to the entity wins
	TieBreakLexical  TieBreak = "lexical"  // Smallest actor key wins
	TieBreakSticky   TieBreak = "sticky"   // Current attacker keeps the battle, else earliest
)

// FlipMode controls how a non-cell entity changes hands.
type FlipMode string

const (
	FlipByConquest FlipMode = "conquest" // Only the conquest resolver transfers ancestors
	FlipByLedger   FlipMode = "ledger"   // Ancestors follow their own distance ledger too
)

// Policy is the injectable rule set of the game.
type Policy struct {
	UnitScaleKm           float64  // Kilometres per unit of strength
	BattleThreshold       float64  // Challenger cell share that opens a battle (exclusive)
	ConquestThreshold     float64  // Attacker cell share that conquers (inclusive)
	AttackerWinning       float64  // Progress above which the attacker is winning
	DefenderWinning       float64  // Progress below which the defender is winning
	ReinforceAncestors    bool     // Contributions also reinforce every enclosing entity
	FlipOnTie             bool     // When true an equal challenger takes control
	AncestorFlip          FlipMode
	TieBreak              TieBreak
	ResolveOnContribution bool  // Also run conquest resolution after plain contributions
	ContinentalBonusRate  int64 // Daily bonus for holding every child of a top-level entity
}

// DefaultPolicy returns the standard game rules.
func DefaultPolicy() Policy {
	return Policy{
		UnitScaleKm:          1.0,
		BattleThreshold:      0.20,
		ConquestThreshold:    0.70,
		AttackerWinning:      70,
		DefenderWinning:      30,
		ReinforceAncestors:   true,
		AncestorFlip:         FlipByConquest,
		TieBreak:             TieBreakEarliest,
		ContinentalBonusRate: 5,
	}
}

// Validate rejects rule sets the engine cannot run with.
func (p Policy) Validate() error {
	if !(p.UnitScaleKm > 0) || math.IsInf(p.UnitScaleKm, 0) {
		return fmt.Errorf("unit scale must be positive, got %v", p.UnitScaleKm)
	}
	if p.BattleThreshold < 0 || p.BattleThreshold >= 1 {
		return fmt.Errorf("battle threshold must be in [0,1), got %v", p.BattleThreshold)
	}
	if p.ConquestThreshold <= p.BattleThreshold || p.ConquestThreshold > 1 {
		return fmt.Errorf("conquest threshold must be in (battle threshold,1], got %v", p.ConquestThreshold)
	}
	switch p.AncestorFlip {
	case FlipByConquest, FlipByLedger:
	default:
		return fmt.Errorf("unknown ancestor flip mode %q", p.AncestorFlip)
	}
	switch p.TieBreak {
	case TieBreakEarliest, TieBreakLexical, TieBreakSticky:
	default:
		return fmt.Errorf("unknown tie-break %q", p.TieBreak)
	}
	return nil
}

// UnitsFor converts cumulative distance into unit strength.
func (p Policy) UnitsFor(distanceKm float64) int64 {
	if distanceKm <= 0 {
		return 0
	}
	return int64(math.Floor(distanceKm/p.UnitScaleKm + 1e-9))
}

// Contested reports whether a challenger share strictly exceeds the
// battle threshold. Shares are compared in basis points so that 20.00%
// and 20.01% land on the right side of the boundary.
func (p Policy) Contested(cells, total int) bool {
	if total <= 0 || cells <= 0 {
		return false
	}
	return int64(cells)*10000 > basisPoints(p.BattleThreshold)*int64(total)
}

// Conquers reports whether an attacker share reaches the conquest threshold.
func (p Policy) Conquers(cells, total int) bool {
	if total <= 0 || cells <= 0 {
		return false
	}
	return int64(cells)*10000 >= basisPoints(p.ConquestThreshold)*int64(total)
}

// Progress returns the attacker share as a percentage rounded to 0.01.
func Progress(cells, total int) float64 {
	if total <= 0 {
		return 0
	}
	return math.Round(float64(cells)*10000/float64(total)) / 100
}

func basisPoints(share float64) int64 {
	return int64(math.Round(share * 10000))
}
