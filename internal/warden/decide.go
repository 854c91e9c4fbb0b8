package warden

import "log/slog"

// Action types.
const (
	ActionRepair   = "repair"
	ActionSnapshot = "snapshot"
)

// Action is one admin call the warden will make.
type Action struct {
	Type     string `json:"type"`
	EntityID string `json:"entity_id,omitempty"`
}

// Decision is the plan for one cycle.
type Decision struct {
	Actions   []Action `json:"actions"`
	Rationale string   `json:"rationale"`
}

// Policy bounds what a single cycle may do.
type Policy struct {
	MaxRepairs    int // Repairs attempted per cycle
	RetryCycles   int // Cycles to wait before retrying a failed repair
	SnapshotEvery int // Cycles between routine snapshots; 0 disables them
}

// DefaultPolicy returns conservative bounds.
func DefaultPolicy() Policy {
	return Policy{MaxRepairs: 5, RetryCycles: 3, SnapshotEvery: 12}
}

// Decide plans repairs for quarantined entities and snapshots. A snapshot
// is taken before any repair so an operator can inspect the broken state.
func Decide(h *Health, mem *CycleMemory, cycle int, p Policy) *Decision {
	d := &Decision{}

	if h.DatabaseDown {
		d.Rationale = "database unreachable, holding all actions"
		return d
	}

	var repairs []Action
	for _, id := range h.Quarantined {
		if len(repairs) >= p.MaxRepairs {
			slog.Warn("warden repairs capped", "quarantined", len(h.Quarantined), "cap", p.MaxRepairs)
			break
		}
		if last, ok := mem.FailedAt[id]; ok && cycle-last < p.RetryCycles {
			continue
		}
		repairs = append(repairs, Action{Type: ActionRepair, EntityID: id})
	}

	routine := p.SnapshotEvery > 0 && cycle%p.SnapshotEvery == 0
	switch {
	case len(repairs) > 0:
		d.Actions = append(d.Actions, Action{Type: ActionSnapshot})
		d.Actions = append(d.Actions, repairs...)
		d.Rationale = "quarantined entities eligible for repair"
	case routine:
		d.Actions = append(d.Actions, Action{Type: ActionSnapshot})
		d.Rationale = "routine snapshot"
	case len(h.Quarantined) > 0:
		d.Rationale = "quarantined entities waiting out their retry delay"
	default:
		d.Rationale = "nothing to do"
	}
	return d
}
