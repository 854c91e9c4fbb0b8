// Command territoryd runs the territorial control engine and its HTTP API.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/talgya/territory/internal/allocation"
	"github.com/talgya/territory/internal/api"
	"github.com/talgya/territory/internal/config"
	"github.com/talgya/territory/internal/engine"
	"github.com/talgya/territory/internal/logger"
	"github.com/talgya/territory/internal/persistence"
	"github.com/talgya/territory/internal/territory"
	"github.com/talgya/territory/internal/world"
)

func main() {
	cfg := config.Load()
	logger.Setup()

	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Database ──────────────────────────────────────────────────────
	if cfg.DBDriver == "sqlite" {
		os.MkdirAll(filepath.Dir(cfg.DBPath), 0755)
	}
	db, err := persistence.Open(cfg.DBDriver, cfg.DatabaseDSN())
	if err != nil {
		slog.Error("failed to open database", "driver", cfg.DBDriver, "error", err)
		os.Exit(1)
	}
	defer db.Close()
	slog.Info("database opened", "driver", cfg.DBDriver)

	// ── World ─────────────────────────────────────────────────────────
	entities, err := loadWorld(ctx, db, cfg)
	if err != nil {
		slog.Error("failed to load world", "error", err)
		os.Exit(1)
	}
	tree, err := world.NewTree(entities)
	if err != nil {
		slog.Error("invalid world", "error", err)
		os.Exit(1)
	}
	for _, k := range []territory.Kind{territory.KindContinent, territory.KindCountry, territory.KindRegion, territory.KindCity, territory.KindDistrict, territory.KindCell} {
		slog.Info("world", "kind", k.String(), "count", len(tree.OfKind(k)))
	}

	// ── Allocation ledger and read cache ──────────────────────────────
	var alloc engine.Allocator = allocation.NewMemoryLedger()
	var cache api.Cache
	if cfg.RedisEnabled {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPass, DB: cfg.RedisDB})
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := rdb.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			slog.Error("redis unreachable", "addr", cfg.RedisAddr, "error", err)
			os.Exit(1)
		}
		defer rdb.Close()
		alloc = allocation.NewRedisLedger(rdb, "")
		cache = api.NewRedisCache(rdb, "", 0)
		slog.Info("redis connected", "addr", cfg.RedisAddr, "db", cfg.RedisDB)
	} else {
		slog.Warn("REDIS_ENABLED not set, activity budgets are kept in process memory")
	}

	// ── Engine ────────────────────────────────────────────────────────
	dir, err := db.Directory(ctx)
	if err != nil {
		slog.Error("failed to load actor names", "error", err)
		os.Exit(1)
	}
	eng, err := engine.New(tree, engine.Options{
		Policy:     cfg.Policy,
		Resolution: cfg.GridResolution,
		Allocator:  alloc,
		Store:      db,
		Directory:  dir,
	})
	if err != nil {
		slog.Error("failed to create engine", "error", err)
		os.Exit(1)
	}
	state, err := db.LoadState(ctx)
	if err != nil {
		slog.Error("failed to load state", "error", err)
		os.Exit(1)
	}
	eng.Restore(state)
	stats := eng.Stats()
	slog.Info("engine state restored",
		"entities", stats.Entities,
		"held", stats.Held,
		"battles", stats.Battles,
		"moves", stats.Moves,
		"quarantined", stats.Quarantined,
	)
	for id, detail := range eng.Quarantined() {
		slog.Warn("entity quarantined at startup", "entity", id, "detail", detail)
	}

	// ── Daily production clock ────────────────────────────────────────
	clock := engine.NewClock(eng.LastTickDay())
	clock.Interval = cfg.TickInterval
	clock.OnDay = func(ctx context.Context, now time.Time) error {
		if day := now.UTC().Format(time.DateOnly); day <= eng.LastTickDay() {
			slog.Info("day already ticked by an operator", "day", day)
			return nil
		}
		rep, err := eng.RunDailyTick(ctx, now)
		if err != nil {
			return err
		}
		slog.Info("daily tick",
			"day", rep.Day,
			"produced", rep.Produced,
			"contested", rep.Contested,
			"units_added", rep.UnitsAdded,
			"bonuses", rep.Bonuses,
		)
		return nil
	}
	go clock.Run(ctx)

	// ── API ───────────────────────────────────────────────────────────
	if cfg.AdminKey == "" {
		slog.Warn("ADMIN_KEY not set, operator endpoints will be disabled")
	}
	apiServer := &api.Server{
		Eng:         eng,
		DB:          db,
		Cache:       cache,
		Names:       dir,
		Port:        cfg.APIPort,
		AdminKey:    cfg.AdminKey,
		RelayKey:    cfg.RelayKey,
		SnapshotDir: cfg.SnapshotDir,
		MoveRate:    cfg.MoveRatePerMin,
	}
	apiServer.Start()

	fmt.Printf("\nTerritory engine is up: %d entities, %d held, %d active battles.\n",
		stats.Entities, stats.Held, stats.Battles)
	fmt.Printf("API: http://localhost:%d/api/v1/status\n", cfg.APIPort)

	<-ctx.Done()
	slog.Info("shutting down")
	clock.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP shutdown failed", "error", err)
	}
}

// loadWorld returns the stored world, seeding the database on first run
// from WORLD_FILE or the procedural generator.
func loadWorld(ctx context.Context, db *persistence.DB, cfg config.Config) ([]*territory.Entity, error) {
	stored, err := db.LoadEntities(ctx)
	if err != nil {
		return nil, err
	}
	if len(stored) > 0 {
		slog.Info("world loaded from database", "entities", len(stored))
		return stored, nil
	}

	var entities []*territory.Entity
	if cfg.WorldFile != "" {
		slog.Info("no stored world, loading world file", "path", cfg.WorldFile)
		entities, err = world.LoadFile(cfg.WorldFile)
		if err != nil {
			return nil, err
		}
	} else {
		slog.Info("no stored world, generating", "seed", cfg.WorldSeed)
		gen := world.DefaultGenConfig()
		gen.Seed = cfg.WorldSeed
		entities = world.Generate(gen)
	}
	if err := db.SaveEntities(ctx, entities); err != nil {
		return nil, fmt.Errorf("save world: %w", err)
	}
	return entities, nil
}
