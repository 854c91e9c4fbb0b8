package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"

	"github.com/google/uuid"

	"github.com/talgya/territory/internal/metrics"
	"github.com/talgya/territory/internal/territory"
)

// MoveRequest is a tactical command spending an activity's distance.
type MoveRequest struct {
	Actor        territory.Actor    `json:"actor"`
	ActivityID   string             `json:"activity_id"`
	Type         territory.MoveType `json:"move_type"`
	FromEntityID string             `json:"from_entity_id,omitempty"`
	ToEntityID   string             `json:"to_entity_id"`
	Units        int64              `json:"units"`
	DistanceKm   float64            `json:"distance_km"`
}

// MoveResult is the outcome of an accepted move.
type MoveResult struct {
	MoveID            string   `json:"move_id"`
	Success           bool     `json:"success"`
	ConquestHappened  bool     `json:"conquest_happened"`
	Conquered         []string `json:"conquered,omitempty"`
	HexagonsConquered int      `json:"hexagons_conquered"`
	WasCritical       bool     `json:"was_critical"`
	TurnedTide        bool     `json:"turned_tide"`
}

func (e *Engine) validateMove(req MoveRequest) error {
	if err := req.Actor.Validate(); err != nil {
		return err
	}
	if _, err := territory.ParseMoveType(string(req.Type)); err != nil {
		return err
	}
	if req.Units <= 0 {
		return &territory.ValidationError{Field: "units", Reason: "must be positive"}
	}
	if math.IsNaN(req.DistanceKm) || math.IsInf(req.DistanceKm, 0) || req.DistanceKm <= 0 {
		return &territory.ValidationError{Field: "distance", Reason: "must be a positive finite number"}
	}
	if req.Type != territory.MoveTransfer && req.ActivityID == "" {
		return &territory.ValidationError{Field: "activity_id", Reason: "required"}
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.tree.Get(req.ToEntityID) == nil {
		return &territory.ValidationError{Field: "to_entity_id", Reason: fmt.Sprintf("unknown entity %q", req.ToEntityID)}
	}
	if req.Type == territory.MoveTransfer {
		if req.FromEntityID == "" || req.FromEntityID == req.ToEntityID {
			return &territory.ValidationError{Field: "from_entity_id", Reason: "transfer needs a distinct source"}
		}
		if e.tree.Get(req.FromEntityID) == nil {
			return &territory.ValidationError{Field: "from_entity_id", Reason: fmt.Sprintf("unknown entity %q", req.FromEntityID)}
		}
	}
	return nil
}

// SubmitTacticalMove validates a move, spends its budget and applies it as
// one atomic event. Rejected moves change nothing and are not logged.
func (e *Engine) SubmitTacticalMove(ctx context.Context, req MoveRequest) (MoveResult, error) {
	if err := e.validateMove(req); err != nil {
		metrics.MovesTotal.WithLabelValues(string(req.Type), "invalid").Inc()
		return MoveResult{}, err
	}

	spends := req.Type != territory.MoveTransfer
	if spends {
		if err := e.alloc.Reserve(ctx, req.Actor, req.ActivityID, req.DistanceKm); err != nil {
			outcome := "error"
			if errors.Is(err, territory.ErrInsufficientBudget) {
				outcome = "insufficient_budget"
			}
			metrics.MovesTotal.WithLabelValues(string(req.Type), outcome).Inc()
			return MoveResult{}, err
		}
		// The reservation is held; finish the move even if the caller goes away.
		ctx = context.WithoutCancel(ctx)
	}

	ids := e.chain(req.ToEntityID)
	if req.Type == territory.MoveTransfer {
		ids = append(ids, e.chain(req.FromEntityID)...)
	}

	var res MoveResult
	_, err := e.run(ctx, "move", ids, func(t *txn) error {
		res = MoveResult{}
		return t.applyMove(req, &res)
	})
	if err != nil {
		if spends {
			if rerr := e.alloc.Release(ctx, req.Actor, req.ActivityID, req.DistanceKm); rerr != nil {
				slog.Error("budget release failed", "actor", req.Actor.String(), "activity", req.ActivityID, "error", rerr)
			}
		}
		metrics.MovesTotal.WithLabelValues(string(req.Type), "rejected").Inc()
		return MoveResult{}, err
	}
	if spends {
		if cerr := e.alloc.Commit(ctx, req.Actor, req.ActivityID, req.DistanceKm); cerr != nil {
			slog.Error("budget commit failed", "actor", req.Actor.String(), "activity", req.ActivityID, "error", cerr)
		}
	}
	metrics.MovesTotal.WithLabelValues(string(req.Type), "accepted").Inc()
	return res, nil
}

func (t *txn) applyMove(req MoveRequest, res *MoveResult) error {
	to := t.entity(req.ToEntityID)
	before := t.recordView(req.ToEntityID)
	var prev territory.Actor
	wasCritical := false
	if before != nil {
		prev = before.Controller
		wasCritical = before.IsUnderAttack
	}
	if req.Type == territory.MoveReinforce && prev != req.Actor {
		return &territory.ValidationError{Field: "to_entity_id", Reason: "reinforce requires holding the target"}
	}

	chain := append([]string{req.ToEntityID}, t.ancestors(req.ToEntityID)...)
	var fromChain []string
	if req.Type == territory.MoveTransfer {
		if t.bookView(req.FromEntityID).Distance(req.Actor)+1e-9 < req.DistanceKm {
			return &territory.ValidationError{Field: "distance", Reason: "source holds less distance than requested"}
		}
		if _, err := t.contribute(req.FromEntityID, req.Actor, -req.DistanceKm, t.now); err != nil {
			return err
		}
		fromChain = append([]string{req.FromEntityID}, t.ancestors(req.FromEntityID)...)
	}
	if _, err := t.contribute(req.ToEntityID, req.Actor, req.DistanceKm, t.now); err != nil {
		return err
	}

	t.propagate(chain)
	t.propagate(fromChain)

	move := territory.TacticalMove{
		ID:                uuid.NewString(),
		Actor:             req.Actor,
		ActivityID:        req.ActivityID,
		Type:              req.Type,
		FromEntityID:      req.FromEntityID,
		ToEntityID:        req.ToEntityID,
		UnitsMoved:        req.Units,
		DistanceAllocated: req.DistanceKm,
		WasCritical:       wasCritical,
		CreatedAt:         t.now,
	}

	if req.Type == territory.MoveAttack {
		for _, id := range chain {
			if t.entity(id).Kind == territory.KindCell {
				continue
			}
			if t.resolve(id, move.ID) {
				res.Conquered = append(res.Conquered, id)
			}
		}
	}

	after := t.recordView(req.ToEntityID)
	gained := prev != req.Actor && after.Controller == req.Actor
	if gained && to.Kind == territory.KindCell {
		move.HexagonsConquered = 1
	}
	move.Success = after.Controller == req.Actor
	move.TurnedTide = gained || len(res.Conquered) > 0
	t.moves = append(t.moves, move)

	t.emit(Event{
		Kind:        EventMove,
		EntityID:    req.ToEntityID,
		Actor:       req.Actor,
		Description: fmt.Sprintf("%s %s %s with %d units", req.Actor, req.Type, req.ToEntityID, req.Units),
	})

	res.MoveID = move.ID
	res.Success = move.Success
	res.ConquestHappened = len(res.Conquered) > 0
	res.HexagonsConquered = move.HexagonsConquered
	res.WasCritical = move.WasCritical
	res.TurnedTide = move.TurnedTide
	return nil
}
