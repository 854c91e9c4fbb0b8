// Package config reads process configuration from .env files and the
// environment.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/talgya/territory/internal/control"
)

// Config is the full process configuration.
type Config struct {
	DBDriver string // sqlite | postgres
	DBPath   string
	PG       PG

	RedisEnabled bool
	RedisAddr    string
	RedisPass    string
	RedisDB      int

	APIPort  int
	AdminKey string
	RelayKey string

	WorldSeed      int64
	WorldFile      string
	GridResolution int

	Policy control.Policy

	TickInterval   time.Duration
	MoveRatePerMin int
	SnapshotDir    string
}

// PG holds the PostgreSQL connection parts.
type PG struct {
	Host, Port, User, Password, DB, SSLMode string
}

// DSN builds a postgres:// connection URL.
func (p PG) DSN() string {
	dsn := "postgres://" + p.User
	if p.Password != "" {
		dsn += ":" + p.Password
	}
	return dsn + "@" + p.Host + ":" + p.Port + "/" + p.DB + "?sslmode=" + p.SSLMode
}

// Load reads .env and data/env/.env if present, then the environment.
func Load() Config {
	_ = godotenv.Load(".env")
	_ = godotenv.Load(filepath.Join("data", "env", ".env"))
	return FromEnv(os.Getenv)
}

// FromEnv builds a Config from a lookup function. Unset or invalid values
// fall back to defaults with a warning.
func FromEnv(getenv func(string) string) Config {
	r := reader{getenv: getenv}
	def := control.DefaultPolicy()

	c := Config{
		DBDriver: r.str("DB_DRIVER", "sqlite"),
		DBPath:   r.str("DB_PATH", "data/territory.db"),
		PG: PG{
			Host:     r.str("PG_HOST", "localhost"),
			Port:     r.str("PG_PORT", "5432"),
			User:     r.str("PG_USER", "postgres"),
			Password: r.str("PG_PASSWORD", ""),
			DB:       r.str("PG_DB", "territory"),
			SSLMode:  r.str("PG_SSLMODE", "disable"),
		},
		RedisEnabled: r.boolean("REDIS_ENABLED", false),
		RedisAddr:    r.str("REDIS_HOST", "127.0.0.1") + ":" + r.str("REDIS_PORT", "6379"),
		RedisPass:    r.str("REDIS_PASS", ""),
		RedisDB:      r.integer("REDIS_DB", 0),

		APIPort:  r.integer("API_PORT", 8080),
		AdminKey: r.str("ADMIN_KEY", ""),
		RelayKey: r.str("RELAY_KEY", ""),

		WorldSeed:      int64(r.integer("WORLD_SEED", 42)),
		WorldFile:      r.str("WORLD_FILE", ""),
		GridResolution: r.integer("GRID_RESOLUTION", 9),

		Policy: control.Policy{
			UnitScaleKm:           r.float("UNIT_SCALE_KM", def.UnitScaleKm),
			BattleThreshold:       r.float("BATTLE_THRESHOLD", def.BattleThreshold),
			ConquestThreshold:     r.float("CONQUEST_THRESHOLD", def.ConquestThreshold),
			AttackerWinning:       def.AttackerWinning,
			DefenderWinning:       def.DefenderWinning,
			ReinforceAncestors:    r.boolean("REINFORCE_ANCESTORS", def.ReinforceAncestors),
			FlipOnTie:             def.FlipOnTie,
			AncestorFlip:          control.FlipMode(r.str("ANCESTOR_FLIP", string(def.AncestorFlip))),
			TieBreak:              control.TieBreak(r.str("TIE_BREAK", string(def.TieBreak))),
			ResolveOnContribution: r.boolean("RESOLVE_ON_CONTRIBUTION", def.ResolveOnContribution),
			ContinentalBonusRate:  int64(r.integer("CONTINENTAL_BONUS_RATE", int(def.ContinentalBonusRate))),
		},

		TickInterval:   r.duration("TICK_INTERVAL", time.Minute),
		MoveRatePerMin: r.integer("MOVE_RATE_PER_MIN", 30),
		SnapshotDir:    r.str("SNAPSHOT_DIR", "data/snapshots"),
	}
	return c
}

// Validate checks settings that have no safe fallback.
func (c Config) Validate() error {
	switch c.DBDriver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("DB_DRIVER must be sqlite or postgres, got %q", c.DBDriver)
	}
	if c.GridResolution < 0 || c.GridResolution > 15 {
		return fmt.Errorf("GRID_RESOLUTION must be in [0,15], got %d", c.GridResolution)
	}
	if c.APIPort <= 0 || c.APIPort > 65535 {
		return fmt.Errorf("API_PORT out of range: %d", c.APIPort)
	}
	return c.Policy.Validate()
}

// DatabaseDSN returns the dsn for the configured driver.
func (c Config) DatabaseDSN() string {
	if c.DBDriver == "postgres" {
		return c.PG.DSN()
	}
	return c.DBPath
}

type reader struct {
	getenv func(string) string
}

func (r reader) str(key, def string) string {
	if v := strings.TrimSpace(r.getenv(key)); v != "" {
		return v
	}
	return def
}

func (r reader) integer(key string, def int) int {
	v := strings.TrimSpace(r.getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		slog.Warn("invalid integer setting, using default", "key", key, "value", v, "default", def)
		return def
	}
	return n
}

func (r reader) float(key string, def float64) float64 {
	v := strings.TrimSpace(r.getenv(key))
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		slog.Warn("invalid number setting, using default", "key", key, "value", v, "default", def)
		return def
	}
	return f
}

func (r reader) boolean(key string, def bool) bool {
	v := strings.TrimSpace(r.getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		slog.Warn("invalid boolean setting, using default", "key", key, "value", v, "default", def)
		return def
	}
	return b
}

func (r reader) duration(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(r.getenv(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		slog.Warn("invalid duration setting, using default", "key", key, "value", v, "default", def)
		return def
	}
	return d
}
