package control

import (
	"testing"
	"time"

	"github.com/talgya/territory/internal/territory"
)

var (
	alice = territory.Actor{Kind: territory.ActorIndividual, ID: "alice"}
	bob   = territory.Actor{Kind: territory.ActorIndividual, ID: "bob"}
	carol = territory.Actor{Kind: territory.ActorTeam, ID: "carol"}
)

func TestApplyClaimsUncontrolledEntity(t *testing.T) {
	l := Ledger{Policy: DefaultPolicy()}
	rec := &territory.ControlRecord{EntityID: "c1"}
	book := Book{}
	now := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)

	changed, err := l.Apply(rec, book, alice, 2.5, now, true)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if !changed {
		t.Fatal("expected first contribution to claim the entity")
	}
	if rec.Controller != alice {
		t.Errorf("controller = %v, want %v", rec.Controller, alice)
	}
	if rec.UnitStrength != 2 {
		t.Errorf("unit strength = %d, want 2", rec.UnitStrength)
	}
	if !rec.ControlledSince.Equal(now) {
		t.Errorf("controlled since = %v, want %v", rec.ControlledSince, now)
	}
}

func TestApplyExactTieKeepsIncumbent(t *testing.T) {
	l := Ledger{Policy: DefaultPolicy()}
	rec := &territory.ControlRecord{EntityID: "c1"}
	book := Book{}
	now := time.Now()

	l.Apply(rec, book, alice, 5, now, true)
	changed, err := l.Apply(rec, book, bob, 5, now.Add(time.Minute), true)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if changed || rec.Controller != alice {
		t.Fatalf("tie flipped control to %v", rec.Controller)
	}

	changed, _ = l.Apply(rec, book, bob, 0.001, now.Add(2*time.Minute), true)
	if !changed || rec.Controller != bob {
		t.Fatalf("strictly greater challenger did not take control, controller = %v", rec.Controller)
	}
	if rec.DaysControlled != 0 {
		t.Errorf("days controlled = %d, want 0 after flip", rec.DaysControlled)
	}
}

func TestApplyFlipOnTiePolicy(t *testing.T) {
	p := DefaultPolicy()
	p.FlipOnTie = true
	l := Ledger{Policy: p}
	rec := &territory.ControlRecord{EntityID: "c1"}
	book := Book{}
	now := time.Now()

	l.Apply(rec, book, alice, 3, now, true)
	changed, _ := l.Apply(rec, book, bob, 3, now, true)
	if !changed || rec.Controller != bob {
		t.Fatalf("controller = %v, want %v with flip-on-tie", rec.Controller, bob)
	}
}

func TestApplyWithoutFlipOnlyAccumulates(t *testing.T) {
	l := Ledger{Policy: DefaultPolicy()}
	rec := &territory.ControlRecord{EntityID: "region"}
	book := Book{}
	now := time.Now()

	l.Apply(rec, book, alice, 1, now, false)
	changed, _ := l.Apply(rec, book, bob, 10, now, false)
	if changed {
		t.Fatal("expected no flip when flipping is disabled")
	}
	if rec.Controller != alice {
		t.Errorf("controller = %v, want %v", rec.Controller, alice)
	}
	if rec.TotalDistance != 11 || rec.UnitStrength != 11 {
		t.Errorf("total = %v units = %d, want 11 and 11", rec.TotalDistance, rec.UnitStrength)
	}
}

func TestApplyRejectsOverdraw(t *testing.T) {
	l := Ledger{Policy: DefaultPolicy()}
	rec := &territory.ControlRecord{EntityID: "c1"}
	book := Book{}
	l.Apply(rec, book, alice, 2, time.Now(), true)

	if _, err := l.Apply(rec, book, alice, -3, time.Now(), true); err == nil {
		t.Fatal("expected overdraw to fail")
	}
	if _, err := l.Apply(rec, book, bob, -1, time.Now(), true); err == nil {
		t.Fatal("expected withdrawal by non-contributor to fail")
	}
}

func TestUnitStrengthNeverNegative(t *testing.T) {
	l := Ledger{Policy: DefaultPolicy()}
	rec := &territory.ControlRecord{TotalDistance: 2, BonusUnits: -10}
	l.Restrength(rec)
	if rec.UnitStrength != 0 {
		t.Errorf("unit strength = %d, want 0", rec.UnitStrength)
	}
	l.SetStrength(rec, 7)
	if rec.UnitStrength != 7 || rec.BonusUnits != 5 {
		t.Errorf("strength = %d bonus = %d, want 7 and 5", rec.UnitStrength, rec.BonusUnits)
	}
}
