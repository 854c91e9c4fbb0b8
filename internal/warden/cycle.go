package warden

import (
	"context"
	"log/slog"
	"time"
)

// RunCycle executes one audit → observe → triage → decide → act cycle and
// records it in mem.
func RunCycle(ctx context.Context, o *Observer, a *Actor, mem *CycleMemory, p Policy) (CycleRecord, error) {
	cycle := mem.Cycle + 1
	rec := CycleRecord{Cycle: cycle, At: time.Now().UTC()}

	found, err := a.Audit(ctx)
	if err != nil {
		slog.Warn("audit failed", "error", err)
	}
	obs, err := o.Observe(ctx)
	if err != nil {
		return rec, err
	}
	obs.AuditFindings = found
	h := Triage(obs)
	rec.Level = h.Level
	rec.Quarantined = len(h.Quarantined)
	slog.Info("observation complete",
		"level", h.Level,
		"quarantined", len(h.Quarantined),
		"audit_findings", h.AuditFindings,
		"active_battles", obs.Status.Engine.Battles,
		"close_battles", h.CloseBattles,
	)

	d := Decide(h, mem, cycle, p)
	slog.Info("decision made", "actions", len(d.Actions), "rationale", d.Rationale)

	for _, act := range d.Actions {
		res, err := a.Act(ctx, act)
		if err != nil {
			slog.Error("warden action failed", "type", act.Type, "entity", act.EntityID, "error", err)
			if act.Type == ActionSnapshot {
				// Never repair without a snapshot of the broken state.
				break
			}
			rec.Failed = append(rec.Failed, act.EntityID)
			continue
		}
		switch {
		case act.Type == ActionSnapshot:
			rec.Snapshot = res.Details
		case res.Success:
			rec.Repaired = append(rec.Repaired, act.EntityID)
		default:
			rec.Failed = append(rec.Failed, act.EntityID)
			slog.Warn("repair refused", "entity", act.EntityID, "details", res.Details)
		}
	}

	mem.Record(rec)
	return rec, nil
}
