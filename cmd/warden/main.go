// Command warden runs the operator sidecar for territoryd. It observes the
// engine, repairs quarantined entities and takes routine snapshots via the
// admin API.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/talgya/territory/internal/logger"
	"github.com/talgya/territory/internal/warden"
)

func main() {
	_ = godotenv.Load(".env")
	logger.Setup()

	// Configuration from environment.
	apiURL := envOrDefault("TERRITORY_API_URL", "http://localhost:8080")
	adminKey := os.Getenv("ADMIN_KEY")
	intervalMin := envIntOrDefault("WARDEN_INTERVAL", 10)
	memoryPath := envOrDefault("WARDEN_MEMORY", "data/warden_memory.json")

	if adminKey == "" {
		slog.Error("ADMIN_KEY is required")
		os.Exit(1)
	}

	policy := warden.DefaultPolicy()
	policy.MaxRepairs = envIntOrDefault("WARDEN_MAX_REPAIRS", policy.MaxRepairs)
	policy.SnapshotEvery = envIntOrDefault("WARDEN_SNAPSHOT_EVERY", policy.SnapshotEvery)
	interval := time.Duration(intervalMin) * time.Minute

	slog.Info("warden starting",
		"api_url", apiURL,
		"interval", interval,
		"max_repairs", policy.MaxRepairs,
		"snapshot_every", policy.SnapshotEvery,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	observer := warden.NewObserver(apiURL, adminKey)
	actor := warden.NewActor(apiURL, adminKey)
	mem := warden.LoadMemory(memoryPath)

	// Wait for territoryd to be ready before the first cycle.
	slog.Info("waiting for territory API...")
	if !waitForAPI(ctx, apiURL) {
		os.Exit(1)
	}

	runCycle(ctx, observer, actor, mem, policy, memoryPath)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			runCycle(ctx, observer, actor, mem, policy, memoryPath)
		case <-ctx.Done():
			slog.Info("shutting down")
			fmt.Println("Warden stopped.")
			return
		}
	}
}

func runCycle(ctx context.Context, o *warden.Observer, a *warden.Actor, mem *warden.CycleMemory, p warden.Policy, memoryPath string) {
	slog.Info("warden cycle starting", "cycle", mem.Cycle+1)
	rec, err := warden.RunCycle(ctx, o, a, mem, p)
	if err != nil {
		slog.Error("warden cycle failed", "error", err)
		return
	}
	mem.Save(memoryPath)
	slog.Info("warden cycle complete",
		"cycle", rec.Cycle,
		"level", rec.Level,
		"repaired", len(rec.Repaired),
		"failed", len(rec.Failed),
		"snapshot", rec.Snapshot,
	)
}

func envOrDefault(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envIntOrDefault(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return defaultVal
}

// waitForAPI polls the status endpoint with exponential backoff until it
// responds. Gives up after 5 minutes or when ctx ends.
func waitForAPI(ctx context.Context, apiURL string) bool {
	backoff := 2 * time.Second
	maxBackoff := 30 * time.Second
	deadline := time.Now().Add(5 * time.Minute)

	for {
		resp, err := http.Get(apiURL + "/api/v1/status")
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				slog.Info("territory API is ready")
				return true
			}
		}
		if time.Now().After(deadline) {
			slog.Error("territory API did not become ready within 5 minutes")
			return false
		}
		slog.Info("territory API not ready, retrying...", "backoff", backoff)
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return false
		}
		backoff = min(backoff*2, maxBackoff)
	}
}
