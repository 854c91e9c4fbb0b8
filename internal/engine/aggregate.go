package engine

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/talgya/territory/internal/control"
	"github.com/talgya/territory/internal/metrics"
	"github.com/talgya/territory/internal/territory"
	"github.com/talgya/territory/internal/world"
)

// Contribution is a recorded activity attributed to one location.
type Contribution struct {
	Actor      territory.Actor
	ActivityID string
	Lat, Lng   float64
	DistanceKm float64
	At         time.Time
}

// AffectedEntity reports the state of one entity after a contribution.
type AffectedEntity struct {
	EntityID          string          `json:"entity_id"`
	Kind              territory.Kind  `json:"kind"`
	Controller        territory.Actor `json:"controller"`
	ControllerChanged bool            `json:"controller_changed"`
	UnitStrength      int64           `json:"unit_strength"`
	TotalDistance     float64         `json:"total_distance"`
	UnderAttack       bool            `json:"is_under_attack"`
	Created           bool            `json:"created,omitempty"`
}

func validateContribution(c Contribution) error {
	if err := c.Actor.Validate(); err != nil {
		return err
	}
	if err := world.ValidCoordinate(c.Lat, c.Lng); err != nil {
		return &territory.ValidationError{Field: "location", Reason: err.Error()}
	}
	if math.IsNaN(c.DistanceKm) || math.IsInf(c.DistanceKm, 0) || c.DistanceKm <= 0 {
		return &territory.ValidationError{Field: "distance", Reason: "must be a positive finite number"}
	}
	return nil
}

// SubmitActivityContribution attributes an activity's distance to the cell
// containing its location and, by policy, to every enclosing entity. The
// cell is created on first use. Returns the affected chain, cell first.
func (e *Engine) SubmitActivityContribution(ctx context.Context, c Contribution) ([]AffectedEntity, error) {
	if err := validateContribution(c); err != nil {
		return nil, err
	}
	if c.At.IsZero() {
		c.At = e.now()
	}
	c.At = c.At.UTC()

	cellID, err := e.geo.PointToCell(c.Lat, c.Lng, e.res)
	if err != nil {
		return nil, &territory.ValidationError{Field: "location", Reason: err.Error()}
	}
	parent, err := e.parentOf(cellID, c.Lat, c.Lng)
	if err != nil {
		return nil, err
	}
	boundary, err := e.geo.CellBoundary(cellID)
	if err != nil {
		return nil, fmt.Errorf("boundary of %s: %w", cellID, err)
	}
	ids := append([]string{cellID, parent}, e.chain(parent)...)

	var affected []AffectedEntity
	_, err = e.run(ctx, "contribution", ids, func(t *txn) error {
		affected = affected[:0]
		created := false
		if t.entity(cellID) == nil {
			t.addCell(&territory.Entity{
				ID:       cellID,
				Name:     cellID,
				Kind:     territory.KindCell,
				ParentID: parent,
				Special:  territory.SpecialStandard,
				Boundary: boundary,
			})
			created = true
		}
		chain := append([]string{cellID}, t.ancestors(cellID)...)
		targets := chain
		if !e.policy.ReinforceAncestors {
			targets = chain[:1]
		}
		anyChange := false
		for _, id := range targets {
			changed, err := t.contribute(id, c.Actor, c.DistanceKm, c.At)
			if err != nil {
				return err
			}
			anyChange = anyChange || changed
			affected = append(affected, AffectedEntity{EntityID: id, ControllerChanged: changed, Created: created && id == cellID})
		}
		if anyChange || t.battleOnChain(chain) {
			t.propagate(chain[1:])
		}
		if e.policy.ResolveOnContribution {
			for _, id := range chain[1:] {
				t.resolve(id, "")
			}
		}
		for i := range affected {
			a := &affected[i]
			rec := t.recordView(a.EntityID)
			a.Kind = t.entity(a.EntityID).Kind
			a.Controller = rec.Controller
			a.UnitStrength = rec.UnitStrength
			a.TotalDistance = rec.TotalDistance
			a.UnderAttack = rec.IsUnderAttack
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	metrics.ContributionsTotal.Inc()
	metrics.ContributedKm.Add(c.DistanceKm)

	if c.ActivityID != "" {
		if f, ok := e.alloc.(Funder); ok {
			if err := f.Credit(ctx, c.Actor, c.ActivityID, c.DistanceKm); err != nil {
				slog.Error("activity budget credit failed",
					"actor", c.Actor.String(), "activity", c.ActivityID, "error", err)
			}
		}
	}
	return affected, nil
}

// parentOf finds the entity a cell belongs to: the committed parent if the
// cell exists, else the deepest entity containing the point.
func (e *Engine) parentOf(cellID string, lat, lng float64) (string, error) {
	e.mu.RLock()
	cell := e.tree.Get(cellID)
	e.mu.RUnlock()
	if cell != nil {
		return cell.ParentID, nil
	}
	parent, ok := e.locator.Locate(lat, lng)
	if !ok {
		return "", &territory.ValidationError{
			Field:  "location",
			Reason: fmt.Sprintf("(%.5f, %.5f) lies outside every known territory", lat, lng),
		}
	}
	return parent, nil
}

// contribute applies distance to one entity's ledger. Cells always follow
// their ledger; other entities only when the policy flips them by ledger.
func (t *txn) contribute(id string, actor territory.Actor, km float64, at time.Time) (bool, error) {
	ent := t.entity(id)
	if ent == nil {
		return false, fmt.Errorf("%w: entity %s", territory.ErrNotFound, id)
	}
	mayFlip := ent.Kind == territory.KindCell || t.e.policy.AncestorFlip == control.FlipByLedger
	rec := t.record(id)
	before := rec.Controller
	changed, err := t.e.ledger.Apply(rec, t.book(id), actor, km, at, mayFlip)
	if err != nil {
		return false, err
	}
	t.touch(id, actor)
	if changed {
		t.emit(Event{
			Kind:        EventControlChanged,
			EntityID:    id,
			Actor:       rec.Controller,
			Description: fmt.Sprintf("%s %s passed from %s to %s", ent.Kind, id, before, rec.Controller),
		})
	}
	return changed, nil
}

func (t *txn) battleOnChain(chain []string) bool {
	for _, id := range chain {
		if t.battleView(id) != nil {
			return true
		}
	}
	return false
}
