package config

import (
	"testing"
	"time"

	"github.com/talgya/territory/internal/control"
)

func env(m map[string]string) func(string) string {
	return func(k string) string { return m[k] }
}

func TestDefaults(t *testing.T) {
	c := FromEnv(env(nil))
	if c.DBDriver != "sqlite" || c.APIPort != 8080 || c.GridResolution != 9 {
		t.Errorf("defaults = %+v", c)
	}
	if c.Policy != control.DefaultPolicy() {
		t.Errorf("policy = %+v, want defaults", c.Policy)
	}
	if err := c.Validate(); err != nil {
		t.Errorf("default config invalid: %v", err)
	}
}

func TestOverridesAndFallbacks(t *testing.T) {
	c := FromEnv(env(map[string]string{
		"DB_DRIVER":           "postgres",
		"PG_USER":             "game",
		"PG_PASSWORD":         "secret",
		"PG_HOST":             "db",
		"CONQUEST_THRESHOLD":  "0.75",
		"TIE_BREAK":           "sticky",
		"REINFORCE_ANCESTORS": "false",
		"TICK_INTERVAL":       "30s",
		"API_PORT":            "not-a-port",
		"UNIT_SCALE_KM":       "2.5",
	}))
	if got := c.DatabaseDSN(); got != "postgres://game:secret@db:5432/territory?sslmode=disable" {
		t.Errorf("dsn = %q", got)
	}
	if c.Policy.ConquestThreshold != 0.75 || c.Policy.TieBreak != control.TieBreakSticky || c.Policy.ReinforceAncestors {
		t.Errorf("policy = %+v", c.Policy)
	}
	if c.Policy.UnitScaleKm != 2.5 {
		t.Errorf("unit scale = %v, want 2.5", c.Policy.UnitScaleKm)
	}
	if c.TickInterval != 30*time.Second {
		t.Errorf("tick interval = %v", c.TickInterval)
	}
	if c.APIPort != 8080 {
		t.Errorf("invalid port should fall back, got %d", c.APIPort)
	}
}

func TestValidateRejects(t *testing.T) {
	c := FromEnv(env(map[string]string{"DB_DRIVER": "mysql"}))
	if c.Validate() == nil {
		t.Error("mysql accepted")
	}
	c = FromEnv(env(map[string]string{"BATTLE_THRESHOLD": "0.8"}))
	if c.Validate() == nil {
		t.Error("battle threshold above conquest threshold accepted")
	}
}
