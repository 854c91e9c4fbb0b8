package control

import (
	"testing"
	"time"

	"github.com/talgya/territory/internal/territory"
)

func TestContestedBoundary(t *testing.T) {
	p := DefaultPolicy()
	cases := []struct {
		cells, total int
		want         bool
	}{
		{2000, 10000, false}, // exactly 20.00%
		{2001, 10000, true},  // 20.01%
		{2, 10, false},
		{3, 10, true},
		{0, 10, false},
		{1, 0, false},
	}
	for _, c := range cases {
		if got := p.Contested(c.cells, c.total); got != c.want {
			t.Errorf("Contested(%d, %d) = %v, want %v", c.cells, c.total, got, c.want)
		}
	}
}

func TestConquersBoundary(t *testing.T) {
	p := DefaultPolicy()
	cases := []struct {
		cells, total int
		want         bool
	}{
		{6999, 10000, false}, // 69.99%
		{7000, 10000, true},  // 70.00%
		{7001, 10000, true},  // 70.01%
		{7, 10, true},
		{6, 10, false},
	}
	for _, c := range cases {
		if got := p.Conquers(c.cells, c.total); got != c.want {
			t.Errorf("Conquers(%d, %d) = %v, want %v", c.cells, c.total, got, c.want)
		}
	}
}

func TestProgress(t *testing.T) {
	if got := Progress(3, 10); got != 30 {
		t.Errorf("Progress(3, 10) = %v, want 30", got)
	}
	if got := Progress(1, 3); got != 33.33 {
		t.Errorf("Progress(1, 3) = %v, want 33.33", got)
	}
	if got := Progress(1, 0); got != 0 {
		t.Errorf("Progress(1, 0) = %v, want 0", got)
	}
}

func TestValidate(t *testing.T) {
	if err := DefaultPolicy().Validate(); err != nil {
		t.Fatalf("default policy invalid: %v", err)
	}
	p := DefaultPolicy()
	p.ConquestThreshold = 0.1
	if err := p.Validate(); err == nil {
		t.Error("expected conquest threshold below battle threshold to fail")
	}
	p = DefaultPolicy()
	p.TieBreak = "coin"
	if err := p.Validate(); err == nil {
		t.Error("expected unknown tie-break to fail")
	}
}

func TestPickChallengerTieBreaks(t *testing.T) {
	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	book := Book{
		bob:   {Actor: bob, Distance: 1, FirstAt: t0.Add(time.Hour)},
		carol: {Actor: carol, Distance: 1, FirstAt: t0},
	}
	counts := map[territory.Actor]int{alice: 4, bob: 3, carol: 3}

	p := DefaultPolicy()
	got, n := p.PickChallenger(counts, alice, territory.Actor{}, book)
	if got != carol || n != 3 {
		t.Errorf("earliest: got %v (%d), want %v (3)", got, n, carol)
	}

	p.TieBreak = TieBreakLexical
	if got, _ := p.PickChallenger(counts, alice, territory.Actor{}, book); got != bob {
		t.Errorf("lexical: got %v, want %v", got, bob)
	}

	p.TieBreak = TieBreakSticky
	if got, _ := p.PickChallenger(counts, alice, bob, book); got != bob {
		t.Errorf("sticky: got %v, want %v", got, bob)
	}

	counts[bob] = 5
	if got, _ := p.PickChallenger(counts, alice, carol, book); got != bob {
		t.Errorf("larger share must beat sticky attacker, got %v", got)
	}
}

func TestPickChallengerIgnoresIncumbentAndNeutral(t *testing.T) {
	counts := map[territory.Actor]int{alice: 9, {}: 1}
	got, n := DefaultPolicy().PickChallenger(counts, alice, territory.Actor{}, Book{})
	if !got.IsZero() || n != 0 {
		t.Errorf("got %v (%d), want no challenger", got, n)
	}
}
