package warden

import "sort"

// Health levels, most severe first.
const (
	LevelCritical = "CRITICAL"
	LevelWarning  = "WARNING"
	LevelHealthy  = "HEALTHY"
)

// Health holds diagnostic signals derived from an Observation.
type Health struct {
	Level         string
	Quarantined   []string // Entity ids, sorted
	AuditFindings int      // Entities the cycle's audit newly quarantined
	DatabaseDown  bool
	CloseBattles  int // Hot battles within ten points of the conquest line
}

// Triage computes a Health from the observation. Deterministic.
func Triage(obs *Observation) *Health {
	h := &Health{AuditFindings: len(obs.AuditFindings)}

	for id := range obs.Quarantine.Quarantined {
		h.Quarantined = append(h.Quarantined, id)
	}
	sort.Strings(h.Quarantined)

	if obs.Status.Database != nil && !obs.Status.Database.OK {
		h.DatabaseDown = true
	}
	for _, b := range obs.HotBattles {
		if b.Progress >= 60 {
			h.CloseBattles++
		}
	}

	switch {
	case h.DatabaseDown || h.AuditFindings > 0:
		h.Level = LevelCritical
	case len(h.Quarantined) > 0:
		h.Level = LevelWarning
	default:
		h.Level = LevelHealthy
	}
	return h
}
