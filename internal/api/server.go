// Package api provides the HTTP API for the territory engine.
// GET endpoints are public (read-only observation).
// Contribution and move POSTs are rate limited per client.
// Operator POSTs (tick, repair, snapshot) require the admin bearer token.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/talgya/territory/internal/engine"
	"github.com/talgya/territory/internal/logger"
	"github.com/talgya/territory/internal/metrics"
	"github.com/talgya/territory/internal/persistence"
	"github.com/talgya/territory/internal/territory"
)

const (
	maxSSEConns = 4
	maxWSConns  = 64
	maxBodySize = 1 << 16
)

// NameStore persists actor display names.
type NameStore interface {
	SetDisplayName(ctx context.Context, a territory.Actor, name string) error
}

// Server serves the engine over HTTP.
type Server struct {
	Eng         *engine.Engine
	DB          *persistence.DB // Optional; status reports its health.
	Cache       Cache           // Optional read-model cache.
	Names       NameStore       // Optional; enables PUT on actor names.
	Port        int
	AdminKey    string // Bearer token for operator POSTs. Empty = disabled.
	RelayKey    string // Bearer token for the SSE stream. Empty = streaming disabled.
	SnapshotDir string
	MoveRate    int // Write requests per client per minute.

	sseConns int32
	wsConns  int32
	started  time.Time
	limiter  *RateLimiter
	srv      *http.Server
}

// Handler builds the routed, CORS-wrapped handler.
func (s *Server) Handler() http.Handler {
	if s.started.IsZero() {
		s.started = time.Now()
	}
	if s.limiter == nil {
		s.limiter = NewRateLimiter(s.MoveRate)
	}

	mux := http.NewServeMux()

	// Public read models.
	mux.HandleFunc("GET /api/v1/status", timed("status", s.handleStatus))
	mux.HandleFunc("GET /api/v1/map", timed("map", s.cached(s.handleMap)))
	mux.HandleFunc("GET /api/v1/territory/{id...}", timed("territory", s.cached(s.handleTerritory)))
	mux.HandleFunc("GET /api/v1/battles", timed("battles", s.cached(s.handleBattles)))
	mux.HandleFunc("GET /api/v1/battles/hot", timed("battles_hot", s.cached(s.handleHotBattles)))
	mux.HandleFunc("GET /api/v1/battles/{id}", timed("battle", s.cached(s.handleBattleDetail)))
	mux.HandleFunc("GET /api/v1/preview/attack/{id...}", timed("preview", s.cached(s.handlePreview)))
	mux.HandleFunc("GET /api/v1/rankings", timed("rankings", s.cached(s.handleRankings)))
	mux.HandleFunc("GET /api/v1/history/conquests", timed("conquests", s.cached(s.handleConquests)))
	mux.HandleFunc("GET /api/v1/moves", timed("moves", s.cached(s.handleMoveLog)))
	mux.HandleFunc("GET /api/v1/actors/{kind}/{id}/impact", timed("impact", s.cached(s.handleImpact)))
	mux.HandleFunc("GET /api/v1/actors/{kind}/{id}/suggestions", timed("suggestions", s.cached(s.handleSuggestions)))
	mux.HandleFunc("GET /api/v1/bonuses", timed("bonuses", s.cached(s.handleBonuses)))
	mux.HandleFunc("GET /api/v1/stats", timed("stats", s.cached(s.handleGlobalStats)))
	mux.HandleFunc("GET /api/v1/events", timed("events", s.handleEvents))
	mux.Handle("GET /metrics", metrics.Handler())

	// Live feeds.
	mux.HandleFunc("GET /api/v1/stream", s.handleStream)
	mux.HandleFunc("GET /api/v1/ws", s.handleWebSocket)

	// Player commands.
	mux.HandleFunc("POST /api/v1/contributions", timed("contribute", RateLimitMiddleware(s.limiter, s.handleContribution)))
	mux.HandleFunc("POST /api/v1/moves", timed("move", RateLimitMiddleware(s.limiter, s.handleMove)))

	// Operator endpoints.
	mux.HandleFunc("POST /api/v1/tick", s.adminOnly(s.handleTick))
	mux.HandleFunc("POST /api/v1/repair", s.adminOnly(s.handleRepair))
	mux.HandleFunc("POST /api/v1/snapshot", s.adminOnly(s.handleSnapshot))
	mux.HandleFunc("GET /api/v1/quarantine", s.adminOnly(s.handleQuarantine))
	mux.HandleFunc("POST /api/v1/audit", s.adminOnly(s.handleAudit))
	mux.HandleFunc("PUT /api/v1/actors/{kind}/{id}", s.adminOnly(s.handleActorName))

	return corsMiddleware(logger.AccessMiddleware(slog.Default())(mux))
}

// Start begins serving the HTTP API in a goroutine.
func (s *Server) Start() {
	addr := fmt.Sprintf(":%d", s.Port)
	s.srv = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	slog.Info("HTTP API starting", "addr", addr,
		"admin_auth", s.AdminKey != "", "relay_auth", s.RelayKey != "", "read_cache", s.Cache != nil)

	go func() {
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("HTTP server error", "error", err)
		}
	}()

	// Periodic cleanup of idle rate limit entries.
	go func() {
		for {
			time.Sleep(10 * time.Minute)
			s.limiter.Cleanup()
		}
	}()
}

// Shutdown stops accepting requests and waits for in-flight ones.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}

// corsMiddleware adds CORS headers for allowed frontend origins.
// Set CORS_ORIGINS env var to a comma-separated list of allowed origins.
// Localhost dev servers are always allowed.
func corsMiddleware(next http.Handler) http.Handler {
	allowedOrigins := map[string]bool{
		"http://localhost:5173": true,
		"http://localhost:4173": true,
		"http://localhost:3000": true,
	}
	if env := os.Getenv("CORS_ORIGINS"); env != "" {
		for _, origin := range strings.Split(env, ",") {
			origin = strings.TrimSpace(origin)
			if origin != "" {
				allowedOrigins[origin] = true
			}
		}
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if allowedOrigins[origin] {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func bearer(r *http.Request) (string, bool) {
	auth := r.Header.Get("Authorization")
	if !strings.HasPrefix(auth, "Bearer ") {
		return "", false
	}
	return strings.TrimPrefix(auth, "Bearer "), true
}

// adminOnly wraps a handler to require the admin bearer token.
func (s *Server) adminOnly(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.AdminKey == "" {
			http.Error(w, "admin endpoints disabled (no ADMIN_KEY set)", http.StatusForbidden)
			return
		}
		if tok, ok := bearer(r); !ok || tok != s.AdminKey {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next(w, r)
	}
}

// timed records the handler latency under route.
func timed(route string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next(w, r)
		metrics.RequestDurationMs.WithLabelValues(route).Observe(float64(time.Since(start).Microseconds()) / 1000)
	}
}

// readHandler builds a read-model response. Returned errors go through
// writeError.
type readHandler func(r *http.Request) (any, error)

// cached serves a read model, through the cache when one is configured.
func (s *Server) cached(build readHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.Cache == nil {
			data, err := build(r)
			if err != nil {
				writeError(w, err)
				return
			}
			writeJSON(w, data)
			return
		}

		key := strconv.FormatUint(s.Eng.Version(), 10) + ":" + r.URL.Path + "?" + r.URL.RawQuery
		if body, ok := s.Cache.Get(r.Context(), key); ok {
			metrics.CacheHits.Inc()
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("X-Cache", "hit")
			w.Write(body)
			return
		}
		metrics.CacheMisses.Inc()

		data, err := build(r)
		if err != nil {
			writeError(w, err)
			return
		}
		body, err := encodeJSON(data)
		if err != nil {
			writeError(w, err)
			return
		}
		s.Cache.Set(r.Context(), key, body)
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("X-Cache", "miss")
		w.Write(body)
	}
}

// writeError maps engine errors to status codes. Invariant details stay in
// the logs.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	msg := err.Error()
	switch {
	case errors.Is(err, territory.ErrValidation):
		status = http.StatusBadRequest
	case errors.Is(err, territory.ErrInsufficientBudget):
		status = http.StatusPaymentRequired
	case errors.Is(err, territory.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, territory.ErrTransient), errors.Is(err, territory.ErrConflict):
		status = http.StatusServiceUnavailable
		w.Header().Set("Retry-After", "1")
	default:
		slog.Error("request failed", "error", err)
		msg = "internal error"
	}

	body := map[string]any{"error": msg}
	var ve *territory.ValidationError
	if errors.As(err, &ve) {
		body["field"] = ve.Field
	}
	writeJSONStatus(w, status, body)
}

func encodeJSON(data any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetIndent("", "  ")
	if err := enc.Encode(data); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func writeJSON(w http.ResponseWriter, data any) {
	writeJSONStatus(w, http.StatusOK, data)
}

func writeJSONStatus(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.Encode(data)
}

// decodeBody reads a bounded JSON request body.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodySize))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return &territory.ValidationError{Field: "body", Reason: err.Error()}
	}
	return nil
}

func queryInt(r *http.Request, name string) (int, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, &territory.ValidationError{Field: name, Reason: "must be a non-negative integer"}
	}
	return n, nil
}
