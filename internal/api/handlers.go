package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v3/process"

	"github.com/talgya/territory/internal/engine"
	"github.com/talgya/territory/internal/snapshot"
	"github.com/talgya/territory/internal/territory"
)

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	status := map[string]any{
		"name":       "territory",
		"uptime_sec": int64(time.Since(s.started).Seconds()),
		"engine":     s.Eng.Stats(),
		"goroutines": runtime.NumGoroutine(),
		"policy":     s.Eng.Policy(),
	}

	if p, err := process.NewProcessWithContext(r.Context(), int32(os.Getpid())); err == nil {
		proc := map[string]any{}
		if mem, err := p.MemoryInfoWithContext(r.Context()); err == nil {
			proc["rss_bytes"] = mem.RSS
		}
		if cpu, err := p.CPUPercentWithContext(r.Context()); err == nil {
			proc["cpu_percent"] = cpu
		}
		status["process"] = proc
	}

	if s.DB != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		db := map[string]any{"driver": s.DB.Driver(), "ok": true}
		if err := s.DB.Ping(ctx); err != nil {
			db["ok"] = false
			slog.Warn("status: database ping failed", "error", err)
		}
		status["database"] = db
	}
	writeJSON(w, status)
}

func (s *Server) handleMap(r *http.Request) (any, error) {
	zoom := r.URL.Query().Get("zoom")
	if zoom == "" {
		zoom = "world"
	}
	return s.Eng.Map(zoom)
}

func (s *Server) handleTerritory(r *http.Request) (any, error) {
	return s.Eng.Territory(r.PathValue("id"))
}

func (s *Server) handleBattles(r *http.Request) (any, error) {
	return s.Eng.Battles(), nil
}

func (s *Server) handleHotBattles(r *http.Request) (any, error) {
	limit, err := queryInt(r, "limit")
	if err != nil {
		return nil, err
	}
	if limit == 0 {
		limit = 10
	}
	return s.Eng.HotBattles(limit), nil
}

func (s *Server) handleRankings(r *http.Request) (any, error) {
	return s.Eng.Rankings(), nil
}

func (s *Server) handleConquests(r *http.Request) (any, error) {
	limit, err := queryInt(r, "limit")
	if err != nil {
		return nil, err
	}
	return s.Eng.ConquestHistory(r.URL.Query().Get("entity"), limit), nil
}

func (s *Server) handleMoveLog(r *http.Request) (any, error) {
	q := r.URL.Query()
	limit, err := queryInt(r, "limit")
	if err != nil {
		return nil, err
	}
	actor, err := territory.ParseActor(q.Get("actor"))
	if err != nil {
		return nil, err
	}
	return s.Eng.Moves(engine.MoveFilter{Actor: actor, EntityID: q.Get("entity"), Limit: limit}), nil
}

func (s *Server) handleImpact(r *http.Request) (any, error) {
	a := territory.Actor{Kind: territory.ActorKind(r.PathValue("kind")), ID: r.PathValue("id")}
	if err := a.Validate(); err != nil {
		return nil, err
	}
	return s.Eng.Impact(a), nil
}

func (s *Server) handleBonuses(r *http.Request) (any, error) {
	return s.Eng.Bonuses(), nil
}

func (s *Server) handleBattleDetail(r *http.Request) (any, error) {
	return s.Eng.BattleDetail(r.PathValue("id"))
}

func (s *Server) handlePreview(r *http.Request) (any, error) {
	actor, err := territory.ParseActor(r.URL.Query().Get("actor"))
	if err != nil {
		return nil, err
	}
	units, err := queryInt(r, "units")
	if err != nil {
		return nil, err
	}
	return s.Eng.PreviewAttack(actor, r.PathValue("id"), int64(units))
}

func (s *Server) handleSuggestions(r *http.Request) (any, error) {
	a := territory.Actor{Kind: territory.ActorKind(r.PathValue("kind")), ID: r.PathValue("id")}
	list, err := s.Eng.Suggestions(a)
	if err != nil {
		return nil, err
	}
	return map[string]any{"total": len(list), "suggestions": list}, nil
}

func (s *Server) handleGlobalStats(r *http.Request) (any, error) {
	return s.Eng.GlobalStats(), nil
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit")
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, publicEvents(s.Eng.RecentEvents(0), limit))
}

// publicEvents drops operator-only events and keeps the newest limit.
func publicEvents(evs []engine.Event, limit int) []engine.Event {
	out := make([]engine.Event, 0, len(evs))
	for _, e := range evs {
		if e.Kind != engine.EventInvariant {
			out = append(out, e)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out
}

// contributionRequest is the body of POST /api/v1/contributions.
type contributionRequest struct {
	Actor      territory.Actor `json:"actor"`
	ActivityID string          `json:"activity_id"`
	Lat        float64         `json:"lat"`
	Lng        float64         `json:"lng"`
	DistanceKm float64         `json:"distance_km"`
	At         time.Time       `json:"at"`
}

func (s *Server) handleContribution(w http.ResponseWriter, r *http.Request) {
	var req contributionRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	affected, err := s.Eng.SubmitActivityContribution(r.Context(), engine.Contribution{
		Actor:      req.Actor,
		ActivityID: req.ActivityID,
		Lat:        req.Lat,
		Lng:        req.Lng,
		DistanceKm: req.DistanceKm,
		At:         req.At,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, map[string]any{"affected": affected})
}

func (s *Server) handleMove(w http.ResponseWriter, r *http.Request) {
	var req engine.MoveRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	res, err := s.Eng.SubmitTacticalMove(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, res)
}

func (s *Server) handleTick(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Now time.Time `json:"now"`
	}
	if r.ContentLength > 0 {
		if err := decodeBody(w, r, &req); err != nil {
			writeError(w, err)
			return
		}
	}
	rep, err := s.Eng.RunDailyTick(r.Context(), req.Now)
	if err != nil {
		writeError(w, err)
		return
	}
	slog.Info("manual daily tick", "day", rep.Day, "produced", rep.Produced)
	writeJSON(w, rep)
}

func (s *Server) handleRepair(w http.ResponseWriter, r *http.Request) {
	var req struct {
		EntityID string `json:"entity_id"`
	}
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.EntityID == "" {
		writeError(w, &territory.ValidationError{Field: "entity_id", Reason: "required"})
		return
	}
	if err := s.Eng.Repair(r.Context(), req.EntityID); err != nil {
		if errors.Is(err, territory.ErrNotFound) {
			writeError(w, err)
			return
		}
		// Repair failures carry invariant detail, which only operators see.
		writeJSONStatus(w, http.StatusConflict, map[string]any{"error": err.Error()})
		return
	}
	writeJSON(w, map[string]any{"entity_id": req.EntityID, "message": "repaired"})
}

func (s *Server) handleQuarantine(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]any{"quarantined": s.Eng.Quarantined()})
}

// handleAudit checks every entity against the control invariants and
// reports the ones it quarantined.
func (s *Server) handleAudit(w http.ResponseWriter, r *http.Request) {
	found := s.Eng.Audit()
	if found == nil {
		found = []string{}
	}
	writeJSON(w, map[string]any{"quarantined": found})
}

func (s *Server) handleActorName(w http.ResponseWriter, r *http.Request) {
	if s.Names == nil {
		http.Error(w, "actor names not available", http.StatusServiceUnavailable)
		return
	}
	a := territory.Actor{Kind: territory.ActorKind(r.PathValue("kind")), ID: r.PathValue("id")}
	var req struct {
		Name string `json:"name"`
	}
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := s.Names.SetDisplayName(r.Context(), a, req.Name); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, map[string]any{"actor": a, "name": req.Name})
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	if s.SnapshotDir == "" {
		http.Error(w, "snapshots disabled (no SNAPSHOT_DIR)", http.StatusServiceUnavailable)
		return
	}

	info, err := snapshot.WriteFile(s.SnapshotDir, s.Eng.Snapshot())
	if err != nil {
		slog.Error("snapshot save failed", "error", err)
		http.Error(w, "snapshot failed", http.StatusInternalServerError)
		return
	}
	if s.DB != nil {
		if err := s.DB.SaveMeta("last_snapshot", info.Path); err != nil {
			slog.Warn("snapshot meta not saved", "error", err)
		}
	}
	slog.Info("snapshot written", "path", info.Path, "digest", info.Digest, "bytes", info.Bytes)

	writeJSON(w, map[string]any{
		"snapshot": info,
		"message":  "snapshot saved",
	})
}
