package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/talgya/territory/internal/territory"
)

// TickReport summarises one daily production pass.
type TickReport struct {
	Day        string `json:"day"`
	Produced   int    `json:"produced"`  // Entities that gained units
	Contested  int    `json:"contested"` // Held entities skipped because they are under attack
	UnitsAdded int64  `json:"units_added"`
	Bonuses    int    `json:"bonuses"` // Top-level entities paying a full-control bonus
}

// RunDailyTick grants each held, uncontested entity its production rate
// and one more day of control, then recomputes the continental bonuses.
// The whole pass is one event. Not idempotent: the caller runs it once
// per day. The day is persisted with the tick's changes. A zero now uses
// the engine clock.
func (e *Engine) RunDailyTick(ctx context.Context, now time.Time) (TickReport, error) {
	var report TickReport
	_, err := e.runExclusive(ctx, "daily_tick", func(t *txn) error {
		if !now.IsZero() {
			t.now = now.UTC()
		}
		report = TickReport{Day: t.now.Format(time.DateOnly)}
		t.tickDay = report.Day
		bonus := t.recomputeBonuses()

		for _, id := range sortedKeys(t.e.records) {
			if t.e.isQuarantined(id) {
				continue
			}
			rec := t.recordView(id)
			if rec.Controller.IsZero() {
				continue
			}
			if rec.IsUnderAttack {
				report.Contested++
				continue
			}
			ent := t.entity(id)
			if ent == nil {
				continue
			}
			rate := ent.ProductionRate
			if b, ok := bonus[id]; ok && b.Leader == rec.Controller {
				rate += b.BonusRate
			}
			w := t.record(id)
			w.BonusUnits += rate
			t.e.ledger.Restrength(w)
			w.DaysControlled++
			if rate > 0 {
				report.Produced++
				report.UnitsAdded += rate
			}
		}
		for _, b := range bonus {
			if b.BonusRate > 0 {
				report.Bonuses++
			}
		}
		t.emit(Event{
			Kind: EventDailyTick,
			Description: fmt.Sprintf("day %s: %d entities produced %d units, %d contested",
				report.Day, report.Produced, report.UnitsAdded, report.Contested),
		})
		return nil
	})
	if err != nil {
		return TickReport{}, err
	}
	slog.Info("daily tick complete",
		"day", report.Day,
		"produced", report.Produced,
		"units", report.UnitsAdded,
		"contested", report.Contested,
		"bonuses", report.Bonuses,
	)
	return report, nil
}

// recomputeBonuses refreshes the control summary of every top-level
// entity and returns the new rows keyed by entity.
func (t *txn) recomputeBonuses() map[string]*territory.ContinentalBonus {
	out := make(map[string]*territory.ContinentalBonus)
	for _, root := range t.e.tree.Roots() {
		kids := t.e.tree.Children(root)
		counts := make(map[territory.Actor]int)
		for _, k := range kids {
			if rec := t.recordView(k); rec != nil && !rec.Controller.IsZero() {
				counts[rec.Controller]++
			}
		}
		var leader territory.Actor
		best := 0
		for a, n := range counts {
			if n > best || (n == best && a.Key() < leader.Key()) {
				leader, best = a, n
			}
		}
		b := &territory.ContinentalBonus{
			EntityID:        root,
			ChildCount:      len(kids),
			ControlledCount: best,
			Leader:          leader,
			ComputedAt:      t.now,
		}
		if len(kids) > 0 {
			b.ControlPercentage = float64(int64(float64(best)*10000/float64(len(kids))+0.5)) / 100
		}
		if prev, ok := t.e.bonuses[root]; ok {
			b.LastFullControlBy = prev.LastFullControlBy
			b.LastFullControlAt = prev.LastFullControlAt
		}
		if len(kids) > 0 && best == len(kids) {
			b.BonusRate = t.e.policy.ContinentalBonusRate
			b.LastFullControlBy = leader
			b.LastFullControlAt = t.now
		}
		t.bonuses[root] = b
		out[root] = b
	}
	return out
}
